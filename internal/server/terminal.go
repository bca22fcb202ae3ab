package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type processPaymentRequest struct {
	PaymentIntentID string `json:"payment_intent_id"`
}

func (s *Server) ProcessPayment(c *gin.Context) {
	var req processPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	resp, err := s.terminalSvc.ProcessPayment(c.Request.Context(), req.PaymentIntentID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

type cancelActionRequest struct {
	PaymentIntentID string `json:"payment_intent_id"`
}

func (s *Server) CancelReaderAction(c *gin.Context) {
	var req cancelActionRequest
	// Body is optional; cancel without an intent only aborts the reader.
	_ = c.ShouldBindJSON(&req)

	resp, err := s.terminalSvc.CancelAction(c.Request.Context(), req.PaymentIntentID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}
