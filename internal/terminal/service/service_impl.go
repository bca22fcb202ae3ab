package service

import (
	"context"
	"strings"
	"time"

	auditdomain "github.com/givebox/givebox/internal/audit/domain"
	"github.com/givebox/givebox/internal/clock"
	"github.com/givebox/givebox/internal/config"
	donationdomain "github.com/givebox/givebox/internal/donation/domain"
	"github.com/givebox/givebox/internal/stripe"
	"github.com/givebox/givebox/internal/terminal/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	Cfg     config.Config
	Kiosk   *config.KioskConfigHolder
	Clock   clock.Clock
	Gateway stripe.Gateway
	Repo    donationdomain.Repository
	Audit   auditdomain.Service
	Metrics *Metrics
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	cfg     config.Config
	kiosk   *config.KioskConfigHolder
	clock   clock.Clock
	gateway stripe.Gateway
	repo    donationdomain.Repository
	audit   auditdomain.Service
	metrics *Metrics
}

func NewService(p Params) domain.Service {
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("terminal.service"),
		cfg:     p.Cfg,
		kiosk:   p.Kiosk,
		clock:   p.Clock,
		gateway: p.Gateway,
		repo:    p.Repo,
		audit:   p.Audit,
		metrics: p.Metrics,
	}
}

// ProcessPayment instructs the physical reader to collect a card for the held
// authorization. Reader timeouts are retried up to the configured bound;
// every other provider error ends the attempt. Whatever status the attempt
// determines is written back before returning, including on error paths, so
// a record never silently rests in pending.
func (s *Service) ProcessPayment(ctx context.Context, intentID string) (domain.ProcessResult, error) {
	intentID = strings.TrimSpace(intentID)
	if intentID == "" {
		return domain.ProcessResult{}, donationdomain.ErrMissingIntent
	}
	readerID := s.cfg.StripeTerminalReaderID
	if readerID == "" {
		return domain.ProcessResult{}, domain.ErrReaderNotConfigured
	}

	record, err := s.repo.FindByPaymentIntentID(ctx, s.db, intentID)
	if err != nil {
		return domain.ProcessResult{}, err
	}
	if record == nil {
		return domain.ProcessResult{}, donationdomain.ErrNotFound
	}

	status := record.Status
	defer func() {
		s.writeStatus(ctx, record, status)
	}()

	log := s.log.With(
		zap.String("donation_id", record.ID.String()),
		zap.String("payment_intent_id", intentID),
	)

	retryLimit := s.kiosk.Get().ReaderRetryLimit
	for attempt := 1; ; attempt++ {
		reader, err := s.gateway.ProcessReaderPaymentIntent(ctx, readerID, intentID)
		if err != nil {
			if stripe.IsReaderTimeout(err) && attempt < retryLimit {
				s.metrics.ObserveReaderRetry()
				log.Warn("reader timed out, retrying",
					zap.Int("attempt", attempt),
					zap.Int("retry_limit", retryLimit),
				)
				continue
			}
			if stripe.IsIntentInvalidState(err) {
				// The authorization resolved out of band. Adopt provider
				// truth instead of retrying.
				intent, ferr := s.gateway.RetrievePaymentIntent(ctx, intentID)
				if ferr == nil && intent.Status == stripe.PaymentIntentStatusSucceeded {
					status = donationdomain.StatusSucceeded
					record.AmountReceived = intent.AmountReceived
					s.metrics.ObserveProcess("already_succeeded")
					log.Info("authorization already processed by reader")
					return domain.ProcessResult{Status: stripe.PaymentIntentStatusSucceeded}, nil
				}
				status = donationdomain.StatusFailed
				s.metrics.ObserveProcess("invalid_state")
				log.Error("authorization in unexpected state", zap.Error(err))
				return domain.ProcessResult{}, err
			}
			status = donationdomain.StatusFailed
			s.metrics.ObserveProcess("error")
			log.Error("reader processing failed", zap.Int("attempt", attempt), zap.Error(err))
			s.auditTransition(ctx, "donation.reader_failed", record, map[string]any{
				"attempt": attempt,
				"error":   err.Error(),
			})
			return domain.ProcessResult{}, err
		}

		if reader.Action != nil && reader.Action.Status == stripe.ReaderActionStatusFailed {
			status = donationdomain.StatusFailed
			s.metrics.ObserveProcess("action_failed")
			log.Error("reader reported failed action")
			s.auditTransition(ctx, "donation.reader_failed", record, map[string]any{
				"action_status": reader.Action.Status,
			})
			return domain.ProcessResult{}, domain.ErrReaderActionFailed
		}

		s.metrics.ObserveProcess("accepted")
		log.Info("reader accepted authorization", zap.Int("attempt", attempt))
		return domain.ProcessResult{Status: actionStatus(reader)}, nil
	}
}

// Capture finalizes the held authorization. Calling it again after the record
// succeeded is a no-op returning the recorded outcome, which makes the
// capture endpoint safe under the client poll racing a manual capture click.
// A failed record is not short-circuited: a retry opens a fresh attempt on
// the same record. On success of a recurring donation the reusable card token
// from the captured charge seeds a customer and a subscription anchored one
// month out; a subscription failure is reported but does not demote the
// donation, since funds were already taken.
func (s *Service) Capture(ctx context.Context, intentID string) (domain.CaptureResult, error) {
	intentID = strings.TrimSpace(intentID)
	if intentID == "" {
		return domain.CaptureResult{}, donationdomain.ErrMissingIntent
	}

	record, err := s.repo.FindByPaymentIntentID(ctx, s.db, intentID)
	if err != nil {
		return domain.CaptureResult{}, err
	}
	if record == nil {
		return domain.CaptureResult{}, donationdomain.ErrNotFound
	}

	if record.Status == donationdomain.StatusSucceeded {
		return domain.CaptureResult{
			Status:         record.Status,
			AmountReceived: record.AmountReceived,
			SubscriptionID: record.StripeSubscriptionID,
		}, nil
	}

	log := s.log.With(
		zap.String("donation_id", record.ID.String()),
		zap.String("payment_intent_id", intentID),
	)

	status := donationdomain.StatusFailed
	defer func() {
		s.writeStatus(ctx, record, status)
		s.metrics.ObserveCapture(string(status))
	}()

	intent, err := s.gateway.CapturePaymentIntent(ctx, intentID)
	if err != nil && stripe.IsIntentInvalidState(err) {
		// The reader may have confirmed and captured out of band; adopt
		// provider truth before giving up.
		if fetched, ferr := s.gateway.RetrievePaymentIntent(ctx, intentID); ferr == nil && fetched.Status == stripe.PaymentIntentStatusSucceeded {
			intent, err = fetched, nil
		}
	}
	if err != nil {
		log.Error("capture rejected", zap.Error(err))
		s.auditTransition(ctx, "donation.capture_failed", record, map[string]any{
			"error": err.Error(),
		})
		return domain.CaptureResult{Status: donationdomain.StatusFailed}, err
	}
	if intent.Status != stripe.PaymentIntentStatusSucceeded {
		log.Error("capture did not succeed", zap.String("intent_status", intent.Status))
		s.auditTransition(ctx, "donation.capture_failed", record, map[string]any{
			"intent_status": intent.Status,
		})
		return domain.CaptureResult{Status: donationdomain.StatusFailed}, domain.ErrCaptureFailed
	}

	status = donationdomain.StatusSucceeded
	record.AmountReceived = intent.AmountReceived

	result := domain.CaptureResult{
		Status:         donationdomain.StatusSucceeded,
		AmountReceived: intent.AmountReceived,
	}

	if record.IsRecurring {
		if err := s.startSubscription(ctx, record, intent); err != nil {
			log.Error("subscription creation failed after capture", zap.Error(err))
			s.auditTransition(ctx, "donation.subscription_failed", record, map[string]any{
				"error": err.Error(),
			})
			result.SubscriptionError = err.Error()
		} else {
			result.SubscriptionID = record.StripeSubscriptionID
		}
	}

	log.Info("donation captured",
		zap.Int64("amount_received", intent.AmountReceived),
		zap.Bool("is_recurring", record.IsRecurring),
	)
	s.auditTransition(ctx, "donation.captured", record, map[string]any{
		"amount_received": intent.AmountReceived,
	})

	return result, nil
}

// CancelAction aborts whatever the reader is doing. When the reader confirms
// nothing remains in flight and the donation has not already succeeded, the
// attempt is closed out as failed. A reader still reporting an in-progress
// action means the cancel did not take, which surfaces as an error.
func (s *Service) CancelAction(ctx context.Context, intentID string) (domain.CancelResult, error) {
	readerID := s.cfg.StripeTerminalReaderID
	if readerID == "" {
		return domain.CancelResult{}, domain.ErrReaderNotConfigured
	}

	reader, err := s.gateway.CancelReaderAction(ctx, readerID)
	if err != nil {
		return domain.CancelResult{}, err
	}

	if reader.Action != nil && reader.Action.Status == stripe.ReaderActionStatusInProgress {
		// The cancel did not take; the attempt is still live and the record
		// must not be closed out yet.
		return domain.CancelResult{}, domain.ErrReaderActionInProgress
	}

	result := domain.CancelResult{Message: "reader action canceled"}

	intentID = strings.TrimSpace(intentID)
	if intentID == "" {
		return result, nil
	}
	record, err := s.repo.FindByPaymentIntentID(ctx, s.db, intentID)
	if err != nil {
		return domain.CancelResult{}, err
	}
	if record == nil || record.Status == donationdomain.StatusSucceeded {
		if record != nil {
			result.Status = record.Status
		}
		return result, nil
	}

	s.writeStatus(ctx, record, donationdomain.StatusFailed)
	result.Status = donationdomain.StatusFailed
	s.auditTransition(ctx, "donation.canceled", record, nil)
	s.log.Info("donation canceled at reader",
		zap.String("donation_id", record.ID.String()),
		zap.String("payment_intent_id", intentID),
	)
	return result, nil
}

func (s *Service) startSubscription(ctx context.Context, record *donationdomain.Donation, intent *stripe.PaymentIntent) error {
	if s.cfg.StripeRecurringProductID == "" {
		return domain.ErrRecurringNotConfigured
	}
	if intent.LatestCharge == "" {
		return domain.ErrNoReusableCard
	}

	charge, err := s.gateway.RetrieveCharge(ctx, intent.LatestCharge)
	if err != nil {
		return err
	}
	card := charge.GeneratedCard()
	if card == "" {
		return domain.ErrNoReusableCard
	}

	customerID, err := s.resolveCustomer(ctx, record, card)
	if err != nil {
		return err
	}

	// First recurring charge lands one month after the capture moment; the
	// capture itself already covered the current period.
	anchor := s.clock.Now().AddDate(0, 1, 0).Unix()
	sub, err := s.gateway.CreateSubscription(ctx, stripe.CreateSubscriptionParams{
		CustomerID:         customerID,
		Currency:           s.kiosk.Get().Currency,
		ProductID:          s.cfg.StripeRecurringProductID,
		UnitAmount:         record.FinalAmount,
		BillingCycleAnchor: anchor,
	})
	if err != nil {
		return err
	}

	record.StripeCustomerID = &customerID
	record.StripeSubscriptionID = &sub.ID
	return nil
}

// resolveCustomer finds the donor by email or creates a new customer, and in
// either case leaves the reusable card attached as the default payment method.
func (s *Service) resolveCustomer(ctx context.Context, record *donationdomain.Donation, card string) (string, error) {
	customers, err := s.gateway.ListCustomersByEmail(ctx, record.Email, 1)
	if err != nil {
		return "", err
	}
	if len(customers) > 0 {
		customerID := customers[0].ID
		if err := s.gateway.AttachPaymentMethod(ctx, card, customerID); err != nil {
			return "", err
		}
		if err := s.gateway.SetDefaultPaymentMethod(ctx, customerID, card); err != nil {
			return "", err
		}
		return customerID, nil
	}

	customer, err := s.gateway.CreateCustomer(ctx, stripe.CreateCustomerParams{
		Email:                record.Email,
		Name:                 record.FullName(),
		PaymentMethod:        card,
		DefaultPaymentMethod: card,
	})
	if err != nil {
		return "", err
	}
	return customer.ID, nil
}

// writeStatus persists the donation with its determined status. It runs on
// every exit path and survives request cancellation so the record is never
// left pending once an attempt ran.
func (s *Service) writeStatus(ctx context.Context, record *donationdomain.Donation, status donationdomain.Status) {
	if record.Status == status && status != donationdomain.StatusSucceeded {
		return
	}
	record.Status = status
	record.UpdatedAt = time.Now().UTC()
	if err := s.repo.Update(context.WithoutCancel(ctx), s.db, record); err != nil {
		s.log.Error("failed to persist donation status",
			zap.String("donation_id", record.ID.String()),
			zap.String("status", string(status)),
			zap.Error(err),
		)
	}
}

func (s *Service) auditTransition(ctx context.Context, action string, record *donationdomain.Donation, metadata map[string]any) {
	if s.audit == nil {
		return
	}
	id := record.ID.String()
	if metadata == nil {
		metadata = map[string]any{}
	}
	if record.StripePaymentIntentID != nil {
		metadata["payment_intent_id"] = *record.StripePaymentIntentID
	}
	_ = s.audit.AuditLog(ctx, action, "donation", &id, metadata)
}

func actionStatus(reader *stripe.Reader) string {
	if reader.Action == nil {
		return stripe.ReaderActionStatusSucceeded
	}
	return reader.Action.Status
}
