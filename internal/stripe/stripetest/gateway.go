// Package stripetest provides a scriptable payment gateway for tests.
package stripetest

import (
	"context"
	"fmt"

	"github.com/givebox/givebox/internal/stripe"
)

// Gateway implements stripe.Gateway with per-call hooks and call counters.
// Hooks left nil fail the test path loudly rather than silently succeeding.
type Gateway struct {
	CreatePaymentIntentFunc        func(ctx context.Context, params stripe.CreatePaymentIntentParams) (*stripe.PaymentIntent, error)
	RetrievePaymentIntentFunc      func(ctx context.Context, id string) (*stripe.PaymentIntent, error)
	CapturePaymentIntentFunc       func(ctx context.Context, id string) (*stripe.PaymentIntent, error)
	RetrieveChargeFunc             func(ctx context.Context, id string) (*stripe.Charge, error)
	ProcessReaderPaymentIntentFunc func(ctx context.Context, readerID, intentID string) (*stripe.Reader, error)
	CancelReaderActionFunc         func(ctx context.Context, readerID string) (*stripe.Reader, error)
	ListCustomersByEmailFunc       func(ctx context.Context, email string, limit int) ([]stripe.Customer, error)
	CreateCustomerFunc             func(ctx context.Context, params stripe.CreateCustomerParams) (*stripe.Customer, error)
	AttachPaymentMethodFunc        func(ctx context.Context, paymentMethodID, customerID string) error
	SetDefaultPaymentMethodFunc    func(ctx context.Context, customerID, paymentMethodID string) error
	CreateSubscriptionFunc         func(ctx context.Context, params stripe.CreateSubscriptionParams) (*stripe.Subscription, error)

	CreatePaymentIntentCalls int
	ProcessReaderCalls       int
	CaptureCalls             int
	CreateSubscriptionCalls  int
}

var _ stripe.Gateway = (*Gateway)(nil)

func (g *Gateway) CreatePaymentIntent(ctx context.Context, params stripe.CreatePaymentIntentParams) (*stripe.PaymentIntent, error) {
	g.CreatePaymentIntentCalls++
	if g.CreatePaymentIntentFunc == nil {
		return nil, unexpected("CreatePaymentIntent")
	}
	return g.CreatePaymentIntentFunc(ctx, params)
}

func (g *Gateway) RetrievePaymentIntent(ctx context.Context, id string) (*stripe.PaymentIntent, error) {
	if g.RetrievePaymentIntentFunc == nil {
		return nil, unexpected("RetrievePaymentIntent")
	}
	return g.RetrievePaymentIntentFunc(ctx, id)
}

func (g *Gateway) CapturePaymentIntent(ctx context.Context, id string) (*stripe.PaymentIntent, error) {
	g.CaptureCalls++
	if g.CapturePaymentIntentFunc == nil {
		return nil, unexpected("CapturePaymentIntent")
	}
	return g.CapturePaymentIntentFunc(ctx, id)
}

func (g *Gateway) RetrieveCharge(ctx context.Context, id string) (*stripe.Charge, error) {
	if g.RetrieveChargeFunc == nil {
		return nil, unexpected("RetrieveCharge")
	}
	return g.RetrieveChargeFunc(ctx, id)
}

func (g *Gateway) ProcessReaderPaymentIntent(ctx context.Context, readerID, intentID string) (*stripe.Reader, error) {
	g.ProcessReaderCalls++
	if g.ProcessReaderPaymentIntentFunc == nil {
		return nil, unexpected("ProcessReaderPaymentIntent")
	}
	return g.ProcessReaderPaymentIntentFunc(ctx, readerID, intentID)
}

func (g *Gateway) CancelReaderAction(ctx context.Context, readerID string) (*stripe.Reader, error) {
	if g.CancelReaderActionFunc == nil {
		return nil, unexpected("CancelReaderAction")
	}
	return g.CancelReaderActionFunc(ctx, readerID)
}

func (g *Gateway) ListCustomersByEmail(ctx context.Context, email string, limit int) ([]stripe.Customer, error) {
	if g.ListCustomersByEmailFunc == nil {
		return nil, unexpected("ListCustomersByEmail")
	}
	return g.ListCustomersByEmailFunc(ctx, email, limit)
}

func (g *Gateway) CreateCustomer(ctx context.Context, params stripe.CreateCustomerParams) (*stripe.Customer, error) {
	if g.CreateCustomerFunc == nil {
		return nil, unexpected("CreateCustomer")
	}
	return g.CreateCustomerFunc(ctx, params)
}

func (g *Gateway) AttachPaymentMethod(ctx context.Context, paymentMethodID, customerID string) error {
	if g.AttachPaymentMethodFunc == nil {
		return unexpected("AttachPaymentMethod")
	}
	return g.AttachPaymentMethodFunc(ctx, paymentMethodID, customerID)
}

func (g *Gateway) SetDefaultPaymentMethod(ctx context.Context, customerID, paymentMethodID string) error {
	if g.SetDefaultPaymentMethodFunc == nil {
		return unexpected("SetDefaultPaymentMethod")
	}
	return g.SetDefaultPaymentMethodFunc(ctx, customerID, paymentMethodID)
}

func (g *Gateway) CreateSubscription(ctx context.Context, params stripe.CreateSubscriptionParams) (*stripe.Subscription, error) {
	g.CreateSubscriptionCalls++
	if g.CreateSubscriptionFunc == nil {
		return nil, unexpected("CreateSubscription")
	}
	return g.CreateSubscriptionFunc(ctx, params)
}

func unexpected(method string) error {
	return fmt.Errorf("stripetest: unexpected call to %s", method)
}
