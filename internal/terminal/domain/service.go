package domain

import (
	"context"
	"errors"

	donationdomain "github.com/givebox/givebox/internal/donation/domain"
)

// ProcessPaymentRequest asks the reader to collect a card for a held
// authorization.
type ProcessPaymentRequest struct {
	PaymentIntentID string `json:"payment_intent_id"`
}

type CaptureRequest struct {
	PaymentIntentID string `json:"payment_intent_id"`
}

type CancelActionRequest struct {
	PaymentIntentID string `json:"payment_intent_id"`
}

type ProcessResult struct {
	Status string `json:"status"`
}

type CaptureResult struct {
	Status         donationdomain.Status `json:"status"`
	AmountReceived int64                 `json:"amount_received"`
	SubscriptionID *string               `json:"subscription_id,omitempty"`
	// SubscriptionError is set when capture succeeded but recurring billing
	// could not be started. The donation itself stays succeeded.
	SubscriptionError string `json:"subscription_error,omitempty"`
}

type CancelResult struct {
	Message string                `json:"message"`
	Status  donationdomain.Status `json:"status,omitempty"`
}

// Service reconciles local donation records with the payment provider as an
// attempt moves through authorize, reader processing and capture.
type Service interface {
	ProcessPayment(ctx context.Context, intentID string) (ProcessResult, error)
	Capture(ctx context.Context, intentID string) (CaptureResult, error)
	CancelAction(ctx context.Context, intentID string) (CancelResult, error)
}

var (
	ErrReaderNotConfigured    = errors.New("reader_not_configured")
	ErrReaderActionFailed     = errors.New("reader_action_failed")
	ErrReaderActionInProgress = errors.New("reader_action_in_progress")
	ErrCaptureFailed          = errors.New("capture_failed")
	ErrNoReusableCard         = errors.New("no_reusable_card")
	ErrRecurringNotConfigured = errors.New("recurring_not_configured")
)
