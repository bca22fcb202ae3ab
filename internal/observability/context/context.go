package obscontext

import "context"

type contextKey string

const (
	requestIDKey contextKey = "request_id"
	donationIDKey contextKey = "donation_id"
)

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	value, _ := ctx.Value(requestIDKey).(string)
	return value
}

func WithDonationID(ctx context.Context, donationID string) context.Context {
	return context.WithValue(ctx, donationIDKey, donationID)
}

func DonationIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	value, _ := ctx.Value(donationIDKey).(string)
	return value
}
