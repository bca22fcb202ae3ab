package stripe

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/givebox/givebox/internal/config"
	"github.com/google/uuid"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Client talks to the Stripe REST API with form-encoded requests. Capture and
// subscription POSTs carry an idempotency key so provider-side retries cannot
// double-apply funds.
type Client struct {
	baseURL    string
	secretKey  string
	httpClient *http.Client
	log        *zap.Logger
}

type Params struct {
	fx.In

	Cfg config.Config
	Log *zap.Logger
}

func NewClient(p Params) Gateway {
	return &Client{
		baseURL:   strings.TrimRight(p.Cfg.StripeAPIBaseURL, "/"),
		secretKey: p.Cfg.StripeSecretKey,
		httpClient: &http.Client{
			Timeout: 70 * time.Second, // reader processing can block up to a minute
		},
		log: p.Log.Named("stripe.client"),
	}
}

var Module = fx.Module("stripe.client",
	fx.Provide(NewClient),
)

func (c *Client) CreatePaymentIntent(ctx context.Context, params CreatePaymentIntentParams) (*PaymentIntent, error) {
	form := url.Values{}
	form.Set("amount", strconv.FormatInt(params.Amount, 10))
	form.Set("currency", params.Currency)
	if params.CardPresent {
		form.Set("payment_method_types[]", "card_present")
	}
	if params.CaptureManual {
		form.Set("capture_method", "manual")
	}
	if params.SetupFutureUsage != "" {
		form.Set("setup_future_usage", params.SetupFutureUsage)
	}
	if params.ReceiptEmail != "" {
		form.Set("receipt_email", params.ReceiptEmail)
	}
	if params.Description != "" {
		form.Set("description", params.Description)
	}

	var intent PaymentIntent
	if err := c.post(ctx, "/v1/payment_intents", form, &intent); err != nil {
		return nil, err
	}
	return &intent, nil
}

func (c *Client) RetrievePaymentIntent(ctx context.Context, id string) (*PaymentIntent, error) {
	var intent PaymentIntent
	if err := c.get(ctx, "/v1/payment_intents/"+url.PathEscape(id), nil, &intent); err != nil {
		return nil, err
	}
	return &intent, nil
}

func (c *Client) CapturePaymentIntent(ctx context.Context, id string) (*PaymentIntent, error) {
	var intent PaymentIntent
	if err := c.post(ctx, "/v1/payment_intents/"+url.PathEscape(id)+"/capture", url.Values{}, &intent); err != nil {
		return nil, err
	}
	return &intent, nil
}

func (c *Client) RetrieveCharge(ctx context.Context, id string) (*Charge, error) {
	var charge Charge
	if err := c.get(ctx, "/v1/charges/"+url.PathEscape(id), nil, &charge); err != nil {
		return nil, err
	}
	return &charge, nil
}

func (c *Client) ProcessReaderPaymentIntent(ctx context.Context, readerID, intentID string) (*Reader, error) {
	form := url.Values{}
	form.Set("payment_intent", intentID)
	form.Set("process_config[allow_redisplay]", "always")

	var reader Reader
	if err := c.post(ctx, "/v1/terminal/readers/"+url.PathEscape(readerID)+"/process_payment_intent", form, &reader); err != nil {
		return nil, err
	}
	return &reader, nil
}

func (c *Client) CancelReaderAction(ctx context.Context, readerID string) (*Reader, error) {
	var reader Reader
	if err := c.post(ctx, "/v1/terminal/readers/"+url.PathEscape(readerID)+"/cancel_action", url.Values{}, &reader); err != nil {
		return nil, err
	}
	return &reader, nil
}

func (c *Client) ListCustomersByEmail(ctx context.Context, email string, limit int) ([]Customer, error) {
	if limit <= 0 {
		limit = 1
	}
	query := url.Values{}
	query.Set("email", email)
	query.Set("limit", strconv.Itoa(limit))

	var list struct {
		Data []Customer `json:"data"`
	}
	if err := c.get(ctx, "/v1/customers", query, &list); err != nil {
		return nil, err
	}
	return list.Data, nil
}

func (c *Client) CreateCustomer(ctx context.Context, params CreateCustomerParams) (*Customer, error) {
	form := url.Values{}
	form.Set("email", params.Email)
	if params.Name != "" {
		form.Set("name", params.Name)
	}
	if params.PaymentMethod != "" {
		form.Set("payment_method", params.PaymentMethod)
	}
	if params.DefaultPaymentMethod != "" {
		form.Set("invoice_settings[default_payment_method]", params.DefaultPaymentMethod)
	}

	var customer Customer
	if err := c.post(ctx, "/v1/customers", form, &customer); err != nil {
		return nil, err
	}
	return &customer, nil
}

func (c *Client) AttachPaymentMethod(ctx context.Context, paymentMethodID, customerID string) error {
	form := url.Values{}
	form.Set("customer", customerID)
	return c.post(ctx, "/v1/payment_methods/"+url.PathEscape(paymentMethodID)+"/attach", form, &struct{}{})
}

func (c *Client) SetDefaultPaymentMethod(ctx context.Context, customerID, paymentMethodID string) error {
	form := url.Values{}
	form.Set("invoice_settings[default_payment_method]", paymentMethodID)
	return c.post(ctx, "/v1/customers/"+url.PathEscape(customerID), form, &struct{}{})
}

func (c *Client) CreateSubscription(ctx context.Context, params CreateSubscriptionParams) (*Subscription, error) {
	form := url.Values{}
	form.Set("customer", params.CustomerID)
	form.Set("items[0][price_data][currency]", params.Currency)
	form.Set("items[0][price_data][product]", params.ProductID)
	form.Set("items[0][price_data][unit_amount]", strconv.FormatInt(params.UnitAmount, 10))
	form.Set("items[0][price_data][recurring][interval]", "month")
	form.Set("items[0][quantity]", "1")
	form.Set("billing_cycle_anchor", strconv.FormatInt(params.BillingCycleAnchor, 10))
	form.Set("proration_behavior", "none")

	var subscription Subscription
	if err := c.post(ctx, "/v1/subscriptions", form, &subscription); err != nil {
		return nil, err
	}
	return &subscription, nil
}

func (c *Client) post(ctx context.Context, path string, form url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Idempotency-Key", uuid.NewString())
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	req.Header.Set("Authorization", "Bearer "+c.secretKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("stripe request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("stripe response: %w", err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		apiErr := parseAPIError(body, resp.StatusCode)
		c.log.Warn("stripe api error",
			zap.String("path", req.URL.Path),
			zap.Int("status", resp.StatusCode),
			zap.String("code", apiErr.Code),
		)
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("stripe decode: %w", err)
	}
	return nil
}

func parseAPIError(body []byte, status int) *Error {
	var wrapper struct {
		Error Error `json:"error"`
	}
	if err := json.Unmarshal(body, &wrapper); err != nil || wrapper.Error.Message == "" && wrapper.Error.Code == "" {
		return &Error{
			Type:       "api_error",
			Message:    strings.TrimSpace(string(body)),
			HTTPStatus: status,
		}
	}
	apiErr := wrapper.Error
	apiErr.HTTPStatus = status
	return &apiErr
}
