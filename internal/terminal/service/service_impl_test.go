package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/givebox/givebox/internal/clock"
	"github.com/givebox/givebox/internal/config"
	donationdomain "github.com/givebox/givebox/internal/donation/domain"
	donationrepository "github.com/givebox/givebox/internal/donation/repository"
	"github.com/givebox/givebox/internal/stripe"
	"github.com/givebox/givebox/internal/stripe/stripetest"
	"github.com/givebox/givebox/internal/terminal/domain"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fixture struct {
	svc   *Service
	db    *gorm.DB
	clock *clock.FakeClock
	node  *snowflake.Node
}

func newFixture(t *testing.T, gateway *stripetest.Gateway) *fixture {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&donationdomain.Donation{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake: %v", err)
	}

	fakeClock := clock.NewFakeClock(time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC))
	svc := NewService(Params{
		DB:  db,
		Log: zap.NewNop(),
		Cfg: config.Config{
			StripeTerminalReaderID:   "tmr_test",
			StripeRecurringProductID: "prod_test",
		},
		Kiosk:   config.NewStaticKioskHolder(config.DefaultKioskConfig()),
		Clock:   fakeClock,
		Gateway: gateway,
		Repo:    donationrepository.Provide(),
		Metrics: NewMetrics(prometheus.NewRegistry()),
	})
	return &fixture{svc: svc.(*Service), db: db, clock: fakeClock, node: node}
}

func (f *fixture) seedDonation(t *testing.T, intentID string, mutate func(*donationdomain.Donation)) *donationdomain.Donation {
	t.Helper()

	now := time.Now().UTC()
	donation := &donationdomain.Donation{
		ID:                    f.node.Generate(),
		FirstName:             "Ada",
		LastName:              "Lovelace",
		Email:                 "ada@example.com",
		Amount:                1000,
		FeeAmount:             60,
		FinalAmount:           1060,
		StripePaymentIntentID: &intentID,
		Status:                donationdomain.StatusPending,
		CreatedAt:             now,
		UpdatedAt:             now,
	}
	if mutate != nil {
		mutate(donation)
	}
	if err := donationrepository.Provide().Insert(context.Background(), f.db, donation); err != nil {
		t.Fatalf("seed donation: %v", err)
	}
	return donation
}

func (f *fixture) reload(t *testing.T, id snowflake.ID) donationdomain.Donation {
	t.Helper()

	var donation donationdomain.Donation
	if err := f.db.Raw(`SELECT * FROM donations WHERE id = ?`, id).Scan(&donation).Error; err != nil {
		t.Fatalf("reload donation: %v", err)
	}
	return donation
}

func readerTimeout() error {
	return &stripe.Error{Type: "invalid_request_error", Code: stripe.ErrCodeReaderTimeout, Message: "reader timed out"}
}

func TestProcessPaymentRetriesTimeoutsUpToBound(t *testing.T) {
	gateway := &stripetest.Gateway{
		ProcessReaderPaymentIntentFunc: func(_ context.Context, readerID, intentID string) (*stripe.Reader, error) {
			return nil, readerTimeout()
		},
	}
	f := newFixture(t, gateway)
	donation := f.seedDonation(t, "pi_timeout", nil)

	_, err := f.svc.ProcessPayment(context.Background(), "pi_timeout")
	if !stripe.IsReaderTimeout(err) {
		t.Fatalf("error = %v, want reader timeout", err)
	}
	if gateway.ProcessReaderCalls != 3 {
		t.Fatalf("reader called %d times, want 3", gateway.ProcessReaderCalls)
	}
	if got := f.reload(t, donation.ID); got.Status != donationdomain.StatusFailed {
		t.Fatalf("status = %s, want failed", got.Status)
	}
}

func TestProcessPaymentRecoversWithinRetryBudget(t *testing.T) {
	calls := 0
	gateway := &stripetest.Gateway{
		ProcessReaderPaymentIntentFunc: func(_ context.Context, readerID, intentID string) (*stripe.Reader, error) {
			calls++
			if calls < 3 {
				return nil, readerTimeout()
			}
			return &stripe.Reader{ID: readerID, Action: &stripe.ReaderAction{Type: "process_payment_intent", Status: stripe.ReaderActionStatusInProgress}}, nil
		},
	}
	f := newFixture(t, gateway)
	donation := f.seedDonation(t, "pi_recover", nil)

	res, err := f.svc.ProcessPayment(context.Background(), "pi_recover")
	if err != nil {
		t.Fatalf("ProcessPayment: %v", err)
	}
	if res.Status != stripe.ReaderActionStatusInProgress {
		t.Fatalf("status = %s, want in_progress", res.Status)
	}
	if got := f.reload(t, donation.ID); got.Status != donationdomain.StatusPending {
		t.Fatalf("status = %s, want pending", got.Status)
	}
}

func TestProcessPaymentFailedActionNeverCaptures(t *testing.T) {
	gateway := &stripetest.Gateway{
		ProcessReaderPaymentIntentFunc: func(_ context.Context, readerID, intentID string) (*stripe.Reader, error) {
			return &stripe.Reader{ID: readerID, Action: &stripe.ReaderAction{Type: "process_payment_intent", Status: stripe.ReaderActionStatusFailed}}, nil
		},
	}
	f := newFixture(t, gateway)
	donation := f.seedDonation(t, "pi_action_failed", nil)

	_, err := f.svc.ProcessPayment(context.Background(), "pi_action_failed")
	if !errors.Is(err, domain.ErrReaderActionFailed) {
		t.Fatalf("error = %v, want ErrReaderActionFailed", err)
	}
	if got := f.reload(t, donation.ID); got.Status != donationdomain.StatusFailed {
		t.Fatalf("status = %s, want failed", got.Status)
	}
	if gateway.CaptureCalls != 0 {
		t.Fatal("capture must never run after a failed reader action")
	}
}

func TestProcessPaymentAdoptsOutOfBandSuccess(t *testing.T) {
	gateway := &stripetest.Gateway{
		ProcessReaderPaymentIntentFunc: func(_ context.Context, readerID, intentID string) (*stripe.Reader, error) {
			return nil, &stripe.Error{Type: "invalid_request_error", Code: stripe.ErrCodeIntentInvalidState, Message: "already processed"}
		},
		RetrievePaymentIntentFunc: func(_ context.Context, id string) (*stripe.PaymentIntent, error) {
			return &stripe.PaymentIntent{ID: id, Status: stripe.PaymentIntentStatusSucceeded, AmountReceived: 1060}, nil
		},
	}
	f := newFixture(t, gateway)
	donation := f.seedDonation(t, "pi_oob", nil)

	res, err := f.svc.ProcessPayment(context.Background(), "pi_oob")
	if err != nil {
		t.Fatalf("ProcessPayment: %v", err)
	}
	if res.Status != stripe.PaymentIntentStatusSucceeded {
		t.Fatalf("status = %s, want succeeded", res.Status)
	}
	if gateway.ProcessReaderCalls != 1 {
		t.Fatalf("reader called %d times, want 1 (no retry on invalid state)", gateway.ProcessReaderCalls)
	}

	// Provider truth is adopted into the record, not left for capture.
	got := f.reload(t, donation.ID)
	if got.Status != donationdomain.StatusSucceeded {
		t.Fatalf("status = %s, want succeeded", got.Status)
	}
	if got.AmountReceived != 1060 {
		t.Fatalf("amount_received = %d, want 1060", got.AmountReceived)
	}

	// The next capture poll sees the recorded outcome and never asks the
	// provider to capture again.
	capRes, err := f.svc.Capture(context.Background(), "pi_oob")
	if err != nil {
		t.Fatalf("Capture after adoption: %v", err)
	}
	if capRes.Status != donationdomain.StatusSucceeded || capRes.AmountReceived != 1060 {
		t.Fatalf("capture result = %+v, want succeeded/1060", capRes)
	}
	if gateway.CaptureCalls != 0 {
		t.Fatalf("provider capture called %d times, want 0", gateway.CaptureCalls)
	}
}

func TestProcessPaymentUnknownDonation(t *testing.T) {
	f := newFixture(t, &stripetest.Gateway{})

	if _, err := f.svc.ProcessPayment(context.Background(), "pi_ghost"); !errors.Is(err, donationdomain.ErrNotFound) {
		t.Fatalf("error = %v, want ErrNotFound", err)
	}
}

func TestCaptureSucceeds(t *testing.T) {
	gateway := &stripetest.Gateway{
		CapturePaymentIntentFunc: func(_ context.Context, id string) (*stripe.PaymentIntent, error) {
			return &stripe.PaymentIntent{ID: id, Status: stripe.PaymentIntentStatusSucceeded, AmountReceived: 1060}, nil
		},
	}
	f := newFixture(t, gateway)
	donation := f.seedDonation(t, "pi_cap", nil)

	res, err := f.svc.Capture(context.Background(), "pi_cap")
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}
	if res.Status != donationdomain.StatusSucceeded || res.AmountReceived != 1060 {
		t.Fatalf("result = %+v, want succeeded/1060", res)
	}

	got := f.reload(t, donation.ID)
	if got.Status != donationdomain.StatusSucceeded {
		t.Fatalf("status = %s, want succeeded", got.Status)
	}
	if got.AmountReceived != 1060 {
		t.Fatalf("amount_received = %d, want 1060", got.AmountReceived)
	}
}

func TestCaptureRejectedMarksFailed(t *testing.T) {
	gateway := &stripetest.Gateway{
		CapturePaymentIntentFunc: func(_ context.Context, id string) (*stripe.PaymentIntent, error) {
			return nil, &stripe.Error{Type: "invalid_request_error", Code: "payment_intent_unexpected_state", Message: "cannot capture"}
		},
	}
	f := newFixture(t, gateway)
	donation := f.seedDonation(t, "pi_reject", nil)

	if _, err := f.svc.Capture(context.Background(), "pi_reject"); err == nil {
		t.Fatal("expected capture error")
	}
	if got := f.reload(t, donation.ID); got.Status != donationdomain.StatusFailed {
		t.Fatalf("status = %s, want failed", got.Status)
	}
}

func TestCaptureIsIdempotentOnceSucceeded(t *testing.T) {
	gateway := &stripetest.Gateway{
		CapturePaymentIntentFunc: func(_ context.Context, id string) (*stripe.PaymentIntent, error) {
			return &stripe.PaymentIntent{ID: id, Status: stripe.PaymentIntentStatusSucceeded, AmountReceived: 1060}, nil
		},
	}
	f := newFixture(t, gateway)
	f.seedDonation(t, "pi_idem", nil)

	if _, err := f.svc.Capture(context.Background(), "pi_idem"); err != nil {
		t.Fatalf("first Capture: %v", err)
	}
	res, err := f.svc.Capture(context.Background(), "pi_idem")
	if err != nil {
		t.Fatalf("second Capture: %v", err)
	}
	if res.Status != donationdomain.StatusSucceeded || res.AmountReceived != 1060 {
		t.Fatalf("second capture result = %+v", res)
	}
	if gateway.CaptureCalls != 1 {
		t.Fatalf("provider capture called %d times, want 1", gateway.CaptureCalls)
	}
	if gateway.CreateSubscriptionCalls != 0 {
		t.Fatal("no subscription expected for a one-time donation")
	}
}

func TestCaptureRetriesAfterFailedAttempt(t *testing.T) {
	gateway := &stripetest.Gateway{
		CapturePaymentIntentFunc: func(_ context.Context, id string) (*stripe.PaymentIntent, error) {
			return &stripe.PaymentIntent{ID: id, Status: stripe.PaymentIntentStatusSucceeded, AmountReceived: 1060}, nil
		},
	}
	f := newFixture(t, gateway)
	donation := f.seedDonation(t, "pi_retry", func(d *donationdomain.Donation) {
		d.Status = donationdomain.StatusFailed
	})

	// A failed record must not short-circuit: the retry reaches the provider.
	res, err := f.svc.Capture(context.Background(), "pi_retry")
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}
	if res.Status != donationdomain.StatusSucceeded || res.AmountReceived != 1060 {
		t.Fatalf("result = %+v, want succeeded/1060", res)
	}
	if gateway.CaptureCalls != 1 {
		t.Fatalf("provider capture called %d times, want 1", gateway.CaptureCalls)
	}
	if got := f.reload(t, donation.ID); got.Status != donationdomain.StatusSucceeded {
		t.Fatalf("status = %s, want succeeded", got.Status)
	}
}

func TestCaptureAdoptsOutOfBandSuccess(t *testing.T) {
	gateway := &stripetest.Gateway{
		CapturePaymentIntentFunc: func(_ context.Context, id string) (*stripe.PaymentIntent, error) {
			return nil, &stripe.Error{Type: "invalid_request_error", Code: stripe.ErrCodeIntentInvalidState, Message: "already captured"}
		},
		RetrievePaymentIntentFunc: func(_ context.Context, id string) (*stripe.PaymentIntent, error) {
			return &stripe.PaymentIntent{ID: id, Status: stripe.PaymentIntentStatusSucceeded, AmountReceived: 1060}, nil
		},
	}
	f := newFixture(t, gateway)
	donation := f.seedDonation(t, "pi_cap_oob", nil)

	res, err := f.svc.Capture(context.Background(), "pi_cap_oob")
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}
	if res.Status != donationdomain.StatusSucceeded || res.AmountReceived != 1060 {
		t.Fatalf("result = %+v, want succeeded/1060", res)
	}
	if got := f.reload(t, donation.ID); got.Status != donationdomain.StatusSucceeded {
		t.Fatalf("status = %s, want succeeded", got.Status)
	}
}

func TestCaptureRecurringCreatesAnchoredSubscription(t *testing.T) {
	var subParams stripe.CreateSubscriptionParams
	gateway := &stripetest.Gateway{
		CapturePaymentIntentFunc: func(_ context.Context, id string) (*stripe.PaymentIntent, error) {
			return &stripe.PaymentIntent{ID: id, Status: stripe.PaymentIntentStatusSucceeded, AmountReceived: 1060, LatestCharge: "ch_1"}, nil
		},
		RetrieveChargeFunc: func(_ context.Context, id string) (*stripe.Charge, error) {
			return &stripe.Charge{
				ID: id,
				PaymentMethodDetails: &stripe.PaymentMethodDetails{
					CardPresent: &stripe.CardPresentDetails{GeneratedCard: "pm_generated"},
				},
			}, nil
		},
		ListCustomersByEmailFunc: func(_ context.Context, email string, limit int) ([]stripe.Customer, error) {
			return nil, nil
		},
		CreateCustomerFunc: func(_ context.Context, params stripe.CreateCustomerParams) (*stripe.Customer, error) {
			if params.PaymentMethod != "pm_generated" {
				t.Fatalf("customer payment method = %q, want pm_generated", params.PaymentMethod)
			}
			return &stripe.Customer{ID: "cus_1", Email: params.Email}, nil
		},
		CreateSubscriptionFunc: func(_ context.Context, params stripe.CreateSubscriptionParams) (*stripe.Subscription, error) {
			subParams = params
			return &stripe.Subscription{ID: "sub_1", Status: "active"}, nil
		},
	}
	f := newFixture(t, gateway)
	donation := f.seedDonation(t, "pi_rec", func(d *donationdomain.Donation) {
		d.IsRecurring = true
	})

	res, err := f.svc.Capture(context.Background(), "pi_rec")
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}
	if res.SubscriptionError != "" {
		t.Fatalf("unexpected subscription error: %s", res.SubscriptionError)
	}
	if res.SubscriptionID == nil || *res.SubscriptionID != "sub_1" {
		t.Fatal("subscription id missing from result")
	}

	wantAnchor := f.clock.Now().AddDate(0, 1, 0).Unix()
	if subParams.BillingCycleAnchor != wantAnchor {
		t.Fatalf("billing anchor = %d, want %d (one month ahead)", subParams.BillingCycleAnchor, wantAnchor)
	}
	if subParams.UnitAmount != 1060 {
		t.Fatalf("subscription amount = %d, want 1060", subParams.UnitAmount)
	}

	got := f.reload(t, donation.ID)
	if got.StripeSubscriptionID == nil || *got.StripeSubscriptionID != "sub_1" {
		t.Fatal("subscription id not persisted")
	}
	if got.StripeCustomerID == nil || *got.StripeCustomerID != "cus_1" {
		t.Fatal("customer id not persisted")
	}
}

func TestCaptureRecurringReusesExistingCustomer(t *testing.T) {
	attached := false
	madeDefault := false
	gateway := &stripetest.Gateway{
		CapturePaymentIntentFunc: func(_ context.Context, id string) (*stripe.PaymentIntent, error) {
			return &stripe.PaymentIntent{ID: id, Status: stripe.PaymentIntentStatusSucceeded, AmountReceived: 1060, LatestCharge: "ch_1"}, nil
		},
		RetrieveChargeFunc: func(_ context.Context, id string) (*stripe.Charge, error) {
			return &stripe.Charge{
				ID: id,
				PaymentMethodDetails: &stripe.PaymentMethodDetails{
					CardPresent: &stripe.CardPresentDetails{GeneratedCard: "pm_generated"},
				},
			}, nil
		},
		ListCustomersByEmailFunc: func(_ context.Context, email string, limit int) ([]stripe.Customer, error) {
			return []stripe.Customer{{ID: "cus_existing", Email: email}}, nil
		},
		AttachPaymentMethodFunc: func(_ context.Context, paymentMethodID, customerID string) error {
			attached = true
			return nil
		},
		SetDefaultPaymentMethodFunc: func(_ context.Context, customerID, paymentMethodID string) error {
			madeDefault = true
			return nil
		},
		CreateSubscriptionFunc: func(_ context.Context, params stripe.CreateSubscriptionParams) (*stripe.Subscription, error) {
			if params.CustomerID != "cus_existing" {
				t.Fatalf("customer = %q, want cus_existing", params.CustomerID)
			}
			return &stripe.Subscription{ID: "sub_2", Status: "active"}, nil
		},
	}
	f := newFixture(t, gateway)
	f.seedDonation(t, "pi_reuse_cus", func(d *donationdomain.Donation) {
		d.IsRecurring = true
	})

	if _, err := f.svc.Capture(context.Background(), "pi_reuse_cus"); err != nil {
		t.Fatalf("Capture: %v", err)
	}
	if !attached || !madeDefault {
		t.Fatal("reusable card must be attached and made default on the existing customer")
	}
}

func TestCaptureRecurringWithoutReusableCardStaysSucceeded(t *testing.T) {
	gateway := &stripetest.Gateway{
		CapturePaymentIntentFunc: func(_ context.Context, id string) (*stripe.PaymentIntent, error) {
			return &stripe.PaymentIntent{ID: id, Status: stripe.PaymentIntentStatusSucceeded, AmountReceived: 1060, LatestCharge: "ch_1"}, nil
		},
		RetrieveChargeFunc: func(_ context.Context, id string) (*stripe.Charge, error) {
			return &stripe.Charge{ID: id}, nil
		},
	}
	f := newFixture(t, gateway)
	donation := f.seedDonation(t, "pi_nocard", func(d *donationdomain.Donation) {
		d.IsRecurring = true
	})

	res, err := f.svc.Capture(context.Background(), "pi_nocard")
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}
	if res.Status != donationdomain.StatusSucceeded {
		t.Fatalf("status = %s, want succeeded (funds were taken)", res.Status)
	}
	if res.SubscriptionError == "" {
		t.Fatal("subscription error must be surfaced")
	}
	if got := f.reload(t, donation.ID); got.Status != donationdomain.StatusSucceeded {
		t.Fatalf("persisted status = %s, want succeeded", got.Status)
	}
	if gateway.CreateSubscriptionCalls != 0 {
		t.Fatal("subscription must not be created without a reusable card")
	}
}

func TestCancelActionClosesPendingAttempt(t *testing.T) {
	gateway := &stripetest.Gateway{
		CancelReaderActionFunc: func(_ context.Context, readerID string) (*stripe.Reader, error) {
			return &stripe.Reader{ID: readerID, Action: nil}, nil
		},
	}
	f := newFixture(t, gateway)
	donation := f.seedDonation(t, "pi_cancel", nil)

	res, err := f.svc.CancelAction(context.Background(), "pi_cancel")
	if err != nil {
		t.Fatalf("CancelAction: %v", err)
	}
	if res.Status != donationdomain.StatusFailed {
		t.Fatalf("status = %s, want failed", res.Status)
	}
	if got := f.reload(t, donation.ID); got.Status != donationdomain.StatusFailed {
		t.Fatalf("persisted status = %s, want failed", got.Status)
	}
}

func TestCancelActionStillInProgressIsAnError(t *testing.T) {
	gateway := &stripetest.Gateway{
		CancelReaderActionFunc: func(_ context.Context, readerID string) (*stripe.Reader, error) {
			return &stripe.Reader{ID: readerID, Action: &stripe.ReaderAction{Type: "process_payment_intent", Status: stripe.ReaderActionStatusInProgress}}, nil
		},
	}
	f := newFixture(t, gateway)
	donation := f.seedDonation(t, "pi_stuck", nil)

	_, err := f.svc.CancelAction(context.Background(), "pi_stuck")
	if !errors.Is(err, domain.ErrReaderActionInProgress) {
		t.Fatalf("error = %v, want ErrReaderActionInProgress", err)
	}
	if got := f.reload(t, donation.ID); got.Status != donationdomain.StatusPending {
		t.Fatalf("status = %s, want pending (attempt still live)", got.Status)
	}
}

func TestCancelActionKeepsSucceededDonation(t *testing.T) {
	gateway := &stripetest.Gateway{
		CancelReaderActionFunc: func(_ context.Context, readerID string) (*stripe.Reader, error) {
			return &stripe.Reader{ID: readerID, Action: nil}, nil
		},
	}
	f := newFixture(t, gateway)
	donation := f.seedDonation(t, "pi_done", func(d *donationdomain.Donation) {
		d.Status = donationdomain.StatusSucceeded
		d.AmountReceived = 1060
	})

	res, err := f.svc.CancelAction(context.Background(), "pi_done")
	if err != nil {
		t.Fatalf("CancelAction: %v", err)
	}
	if res.Status != donationdomain.StatusSucceeded {
		t.Fatalf("status = %s, want succeeded", res.Status)
	}
	if got := f.reload(t, donation.ID); got.Status != donationdomain.StatusSucceeded {
		t.Fatal("a succeeded donation must not be demoted by cancel")
	}
}
