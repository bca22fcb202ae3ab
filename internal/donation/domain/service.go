package domain

import (
	"context"
	"errors"
)

// CreateDonationRequest carries donor input from the kiosk. Amount is in
// dollars as entered; the service converts to cents. ID and PaymentIntentID
// are set on retry so the existing record and authorization are reused.
type CreateDonationRequest struct {
	ID              string  `json:"id"`
	FirstName       string  `json:"first_name" validate:"required"`
	LastName        string  `json:"last_name" validate:"required"`
	Email           string  `json:"email" validate:"required,email"`
	ZipCode         string  `json:"zip_code"`
	Newsletter      bool    `json:"newsletter"`
	Amount          float64 `json:"amount" validate:"required,gt=0"`
	IsRecurring     bool    `json:"is_recurring"`
	CoverFee        bool    `json:"cover_fee"`
	PaymentIntentID string  `json:"payment_intent_id"`
}

type Service interface {
	// Create opens (or reuses) a payment authorization and persists the
	// donation record in pending state.
	Create(ctx context.Context, req CreateDonationRequest) (Donation, error)
	GetByID(ctx context.Context, id string) (Donation, error)
	GetByPaymentIntentID(ctx context.Context, intentID string) (Donation, error)
	List(ctx context.Context) ([]Donation, error)
}

var (
	ErrMissingFields = errors.New("missing_required_fields")
	ErrInvalidEmail  = errors.New("invalid_email")
	ErrInvalidAmount = errors.New("invalid_amount")
	ErrInvalidID     = errors.New("invalid_id")
	ErrNotFound      = errors.New("donation_not_found")
	ErrMissingIntent = errors.New("missing_payment_intent")
)
