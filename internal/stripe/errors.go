package stripe

import (
	"errors"
	"fmt"
)

const (
	ErrCodeReaderTimeout      = "terminal_reader_timeout"
	ErrCodeIntentInvalidState = "intent_invalid_state"
)

// Error is an API error reported by the payment provider.
type Error struct {
	Type       string `json:"type"`
	Code       string `json:"code"`
	Message    string `json:"message"`
	HTTPStatus int    `json:"-"`
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("stripe: %s (%s)", e.Message, e.Code)
	}
	return fmt.Sprintf("stripe: %s", e.Message)
}

// IsReaderTimeout reports the transient reader class: the only error the
// reconciler retries.
func IsReaderTimeout(err error) bool {
	return errorCode(err) == ErrCodeReaderTimeout
}

// IsIntentInvalidState reports that the intent already resolved out of band;
// the caller must re-fetch the intent and adopt its true status.
func IsIntentInvalidState(err error) bool {
	return errorCode(err) == ErrCodeIntentInvalidState
}

func errorCode(err error) string {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	return ""
}
