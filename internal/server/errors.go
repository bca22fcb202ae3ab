package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	donationdomain "github.com/givebox/givebox/internal/donation/domain"
	"github.com/givebox/givebox/internal/kiosk"
	"github.com/givebox/givebox/internal/stripe"
	terminaldomain "github.com/givebox/givebox/internal/terminal/domain"
	"gorm.io/gorm"
)

type errorPayload struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrInvalidRequest = errors.New("invalid_request")
	ErrInternal       = errors.New("internal_error")
)

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func mapError(err error) (int, errorPayload) {
	switch {
	case err == nil:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	case isValidationError(err):
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: err.Error(),
		}
	case isIntegrityError(err):
		// A correlation id that resolves to nothing is a client mistake,
		// not a missing resource.
		return http.StatusBadRequest, errorPayload{
			Type:    "integrity_error",
			Message: err.Error(),
		}
	case errors.Is(err, kiosk.ErrInvalidTransition):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Message: err.Error(),
		}
	case isProviderError(err):
		return http.StatusInternalServerError, errorPayload{
			Type:    "provider_error",
			Message: err.Error(),
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

func isValidationError(err error) bool {
	switch {
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, donationdomain.ErrMissingFields),
		errors.Is(err, donationdomain.ErrInvalidEmail),
		errors.Is(err, donationdomain.ErrInvalidAmount),
		errors.Is(err, donationdomain.ErrInvalidID),
		errors.Is(err, donationdomain.ErrMissingIntent):
		return true
	default:
		return false
	}
}

func isIntegrityError(err error) bool {
	switch {
	case errors.Is(err, donationdomain.ErrNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return true
	default:
		return false
	}
}

func isProviderError(err error) bool {
	var apiErr *stripe.Error
	if errors.As(err, &apiErr) {
		return true
	}
	switch {
	case errors.Is(err, terminaldomain.ErrReaderNotConfigured),
		errors.Is(err, terminaldomain.ErrReaderActionFailed),
		errors.Is(err, terminaldomain.ErrReaderActionInProgress),
		errors.Is(err, terminaldomain.ErrCaptureFailed):
		return true
	default:
		return false
	}
}

func classifyErrorForLog(err error) (string, string) {
	status, payload := mapError(err)
	switch {
	case status >= http.StatusInternalServerError:
		return payload.Type, "server_error"
	case status >= http.StatusBadRequest:
		return payload.Type, "client_error"
	default:
		return payload.Type, "ok"
	}
}
