package stripe

import "context"

const (
	PaymentIntentStatusSucceeded = "succeeded"
	PaymentIntentStatusCanceled  = "canceled"
)

const (
	ReaderActionStatusFailed     = "failed"
	ReaderActionStatusInProgress = "in_progress"
	ReaderActionStatusSucceeded  = "succeeded"
)

// SetupFutureUsageOffSession flags the payment method for off-session reuse,
// required for recurring billing from a card-present charge.
const SetupFutureUsageOffSession = "off_session"

type PaymentIntent struct {
	ID             string `json:"id"`
	Status         string `json:"status"`
	Amount         int64  `json:"amount"`
	AmountReceived int64  `json:"amount_received"`
	Currency       string `json:"currency"`
	LatestCharge   string `json:"latest_charge"`
}

type Charge struct {
	ID                   string                `json:"id"`
	PaymentMethodDetails *PaymentMethodDetails `json:"payment_method_details"`
}

func (c *Charge) GeneratedCard() string {
	if c == nil || c.PaymentMethodDetails == nil || c.PaymentMethodDetails.CardPresent == nil {
		return ""
	}
	return c.PaymentMethodDetails.CardPresent.GeneratedCard
}

type PaymentMethodDetails struct {
	CardPresent *CardPresentDetails `json:"card_present"`
}

type CardPresentDetails struct {
	GeneratedCard string `json:"generated_card"`
}

type Reader struct {
	ID     string        `json:"id"`
	Action *ReaderAction `json:"action"`
}

type ReaderAction struct {
	Type   string `json:"type"`
	Status string `json:"status"`
}

type Customer struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

type Subscription struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

type CreatePaymentIntentParams struct {
	Amount           int64
	Currency         string
	CaptureManual    bool
	CardPresent      bool
	SetupFutureUsage string
	ReceiptEmail     string
	Description      string
}

type CreateCustomerParams struct {
	Email                string
	Name                 string
	PaymentMethod        string
	DefaultPaymentMethod string
}

type CreateSubscriptionParams struct {
	CustomerID         string
	Currency           string
	ProductID          string
	UnitAmount         int64
	BillingCycleAnchor int64
}

// Gateway is the payment provider boundary. The remote network, retries on
// its side and idempotency of captures are the provider's concern.
type Gateway interface {
	CreatePaymentIntent(ctx context.Context, params CreatePaymentIntentParams) (*PaymentIntent, error)
	RetrievePaymentIntent(ctx context.Context, id string) (*PaymentIntent, error)
	CapturePaymentIntent(ctx context.Context, id string) (*PaymentIntent, error)
	RetrieveCharge(ctx context.Context, id string) (*Charge, error)
	ProcessReaderPaymentIntent(ctx context.Context, readerID, intentID string) (*Reader, error)
	CancelReaderAction(ctx context.Context, readerID string) (*Reader, error)
	ListCustomersByEmail(ctx context.Context, email string, limit int) ([]Customer, error)
	CreateCustomer(ctx context.Context, params CreateCustomerParams) (*Customer, error)
	AttachPaymentMethod(ctx context.Context, paymentMethodID, customerID string) error
	SetDefaultPaymentMethod(ctx context.Context, customerID, paymentMethodID string) error
	CreateSubscription(ctx context.Context, params CreateSubscriptionParams) (*Subscription, error)
}
