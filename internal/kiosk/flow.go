package kiosk

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/givebox/givebox/internal/config"
	donationdomain "github.com/givebox/givebox/internal/donation/domain"
	terminaldomain "github.com/givebox/givebox/internal/terminal/domain"
	"github.com/go-playground/validator/v10"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Step is the kiosk wizard position.
type Step string

const (
	StepUserInfo       Step = "user_info"
	StepDonationAmount Step = "donation_amount"
	StepConfirmation   Step = "confirmation"
	StepProcessing     Step = "processing"
	StepResult         Step = "result"
)

// Result is what the donor sees at the end of an attempt.
type Result struct {
	Status            donationdomain.Status `json:"status"`
	SubscriptionError string                `json:"subscription_error,omitempty"`
	Error             string                `json:"error,omitempty"`
}

// Snapshot is a point-in-time view of the flow for the kiosk UI.
type Snapshot struct {
	Step            Step    `json:"step"`
	DonationID      string  `json:"donation_id,omitempty"`
	PaymentIntentID string  `json:"payment_intent_id,omitempty"`
	Busy            bool    `json:"busy"`
	Result          *Result `json:"result,omitempty"`
}

type Params struct {
	fx.In

	Lifecycle fx.Lifecycle
	Log       *zap.Logger
	Kiosk     *config.KioskConfigHolder
	Donations donationdomain.Service
	Terminal  terminaldomain.Service
}

// Flow is the kiosk's finite-state controller. All transitions are guarded
// under one mutex so a donor tapping capture cannot race the background poll.
// The busy flag is advisory for the UI; correctness comes from the step
// guards and the server-side idempotency of create and capture.
type Flow struct {
	log       *zap.Logger
	kiosk     *config.KioskConfigHolder
	donations donationdomain.Service
	terminal  terminaldomain.Service
	validate  *validator.Validate

	mu     sync.Mutex
	step   Step
	draft  donationdomain.CreateDonationRequest
	result *Result
	busy   bool

	baseCtx    context.Context
	baseCancel context.CancelFunc
	attemptCtx context.CancelFunc
	wg         sync.WaitGroup
}

func NewFlow(p Params) *Flow {
	ctx, cancel := context.WithCancel(context.Background())
	f := &Flow{
		log:        p.Log.Named("kiosk.flow"),
		kiosk:      p.Kiosk,
		donations:  p.Donations,
		terminal:   p.Terminal,
		validate:   validator.New(),
		step:       StepUserInfo,
		baseCtx:    ctx,
		baseCancel: cancel,
	}
	if p.Lifecycle != nil {
		p.Lifecycle.Append(fx.Hook{
			OnStop: func(context.Context) error {
				f.Close()
				return nil
			},
		})
	}
	return f
}

// Close stops any in-flight poll or reset timer and waits for them to exit.
func (f *Flow) Close() {
	f.baseCancel()
	f.wg.Wait()
}

// ErrInvalidTransition is returned when an action does not apply to the
// flow's current step, including double-submission while busy.
var ErrInvalidTransition = errors.New("invalid_flow_transition")

// SubmitDonorInfo validates and records donor details, moving the wizard to
// amount selection.
func (f *Flow) SubmitDonorInfo(firstName, lastName, email, zipCode string, newsletter bool) error {
	firstName = strings.TrimSpace(firstName)
	lastName = strings.TrimSpace(lastName)
	email = strings.TrimSpace(email)

	if firstName == "" || lastName == "" {
		return donationdomain.ErrMissingFields
	}
	if err := f.validate.Var(email, "required,email"); err != nil {
		return donationdomain.ErrInvalidEmail
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.step != StepUserInfo {
		return ErrInvalidTransition
	}
	f.draft.FirstName = firstName
	f.draft.LastName = lastName
	f.draft.Email = email
	f.draft.ZipCode = strings.TrimSpace(zipCode)
	f.draft.Newsletter = newsletter
	f.step = StepDonationAmount
	return nil
}

// SelectAmount records the chosen amount and options and moves to the
// confirmation step.
func (f *Flow) SelectAmount(amount float64, isRecurring, coverFee bool) error {
	if amount <= 0 {
		return donationdomain.ErrInvalidAmount
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.step != StepDonationAmount {
		return ErrInvalidTransition
	}
	f.draft.Amount = amount
	f.draft.IsRecurring = isRecurring
	f.draft.CoverFee = coverFee
	f.step = StepConfirmation
	return nil
}

// Confirm creates (or reuses) the donation record and authorization, drives
// the reader, and on acceptance starts the capture poll. Try-again lands back
// here with the record id already in the draft, so the server reuses the
// existing record and any live authorization.
func (f *Flow) Confirm(ctx context.Context) error {
	f.mu.Lock()
	if f.step != StepConfirmation || f.busy {
		f.mu.Unlock()
		return ErrInvalidTransition
	}
	f.busy = true
	req := f.draft
	f.mu.Unlock()

	record, err := f.donations.Create(ctx, req)
	if err != nil {
		f.finishAttempt(donationdomain.StatusFailed, "", err)
		return err
	}

	f.mu.Lock()
	f.draft.ID = record.ID.String()
	if record.StripePaymentIntentID != nil {
		f.draft.PaymentIntentID = *record.StripePaymentIntentID
	}
	intentID := f.draft.PaymentIntentID
	f.mu.Unlock()

	if _, err := f.terminal.ProcessPayment(ctx, intentID); err != nil {
		f.finishAttempt(donationdomain.StatusFailed, "", err)
		return err
	}

	attemptCtx, cancel := context.WithCancel(f.baseCtx)

	f.mu.Lock()
	f.step = StepProcessing
	f.busy = false
	f.result = nil
	f.attemptCtx = cancel
	f.mu.Unlock()

	f.wg.Add(1)
	go f.pollCapture(attemptCtx, intentID)

	f.log.Info("donation confirmed, reader engaged",
		zap.String("donation_id", record.ID.String()),
		zap.String("payment_intent_id", intentID),
	)
	return nil
}

// Capture runs one immediate capture attempt, the donor-triggered counterpart
// of the background poll tick. Both funnel into the same terminal service
// call, which tolerates repeat invocation.
func (f *Flow) Capture(ctx context.Context) error {
	f.mu.Lock()
	if f.step != StepProcessing || f.busy {
		f.mu.Unlock()
		return ErrInvalidTransition
	}
	f.busy = true
	intentID := f.draft.PaymentIntentID
	f.mu.Unlock()

	res, err := f.terminal.Capture(ctx, intentID)
	f.mu.Lock()
	f.busy = false
	f.mu.Unlock()
	if err != nil {
		f.finishAttempt(donationdomain.StatusFailed, "", err)
		return err
	}
	if res.Status.Terminal() {
		f.finishAttempt(res.Status, res.SubscriptionError, nil)
	}
	return nil
}

// Cancel aborts the in-flight reader action and closes the attempt as failed
// unless it already succeeded.
func (f *Flow) Cancel(ctx context.Context) error {
	f.mu.Lock()
	if f.step != StepProcessing {
		f.mu.Unlock()
		return ErrInvalidTransition
	}
	intentID := f.draft.PaymentIntentID
	f.mu.Unlock()

	res, err := f.terminal.CancelAction(ctx, intentID)
	if errors.Is(err, terminaldomain.ErrReaderActionInProgress) {
		// The reader refused to let go; the attempt keeps running.
		return err
	}
	if err != nil {
		f.finishAttempt(donationdomain.StatusFailed, "", err)
		return err
	}
	status := res.Status
	if !status.Terminal() {
		status = donationdomain.StatusFailed
	}
	f.finishAttempt(status, "", nil)
	return nil
}

// TryAgain re-enters confirmation keeping the donor fields and record id, so
// the next confirm reuses the same record and a still-live authorization.
func (f *Flow) TryAgain() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.step != StepResult {
		return ErrInvalidTransition
	}
	f.result = nil
	f.step = StepConfirmation
	return nil
}

// Reset returns the kiosk to the first step for the next donor.
func (f *Flow) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reset()
}

func (f *Flow) reset() {
	if f.attemptCtx != nil {
		f.attemptCtx()
		f.attemptCtx = nil
	}
	f.step = StepUserInfo
	f.draft = donationdomain.CreateDonationRequest{}
	f.result = nil
	f.busy = false
}

func (f *Flow) Snapshot() Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	snap := Snapshot{
		Step:            f.step,
		DonationID:      f.draft.ID,
		PaymentIntentID: f.draft.PaymentIntentID,
		Busy:            f.busy,
	}
	if f.result != nil {
		r := *f.result
		snap.Result = &r
	}
	return snap
}

// pollCapture drives the capture endpoint on a fixed period until a terminal
// status lands or the attempt context is canceled. The ticker always stops
// with the goroutine; nothing dangles after reset or shutdown.
func (f *Flow) pollCapture(ctx context.Context, intentID string) {
	defer f.wg.Done()

	period := f.kiosk.Get().CapturePollPeriod
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		f.mu.Lock()
		skip := f.busy || f.step != StepProcessing
		f.mu.Unlock()
		if skip {
			// A donor-triggered capture is in flight or the attempt already
			// resolved.
			continue
		}

		res, err := f.terminal.Capture(ctx, intentID)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			f.finishAttempt(donationdomain.StatusFailed, "", err)
			return
		}
		if res.Status.Terminal() {
			f.finishAttempt(res.Status, res.SubscriptionError, nil)
			return
		}
	}
}

// finishAttempt lands the flow on the result step exactly once per attempt
// and, on success, schedules the automatic return to the first step.
func (f *Flow) finishAttempt(status donationdomain.Status, subscriptionError string, cause error) {
	f.mu.Lock()
	if f.step == StepResult || f.step == StepUserInfo {
		f.mu.Unlock()
		return
	}
	if f.attemptCtx != nil {
		f.attemptCtx()
		f.attemptCtx = nil
	}
	result := &Result{Status: status, SubscriptionError: subscriptionError}
	if cause != nil {
		result.Error = cause.Error()
	}
	f.result = result
	f.step = StepResult
	f.busy = false
	succeeded := status == donationdomain.StatusSucceeded
	f.mu.Unlock()

	f.log.Info("donation attempt finished",
		zap.String("status", string(status)),
		zap.Error(cause),
	)

	if succeeded {
		f.scheduleReset()
	}
}

// scheduleReset readies the kiosk for the next donor after the configured
// delay, unless the flow moved on (reset or shutdown) in the meantime.
func (f *Flow) scheduleReset() {
	delay := f.kiosk.Get().ResetDelay
	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-f.baseCtx.Done():
			return
		case <-timer.C:
		}
		f.mu.Lock()
		if f.step == StepResult {
			f.reset()
		}
		f.mu.Unlock()
	}()
}
