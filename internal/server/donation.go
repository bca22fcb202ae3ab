package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	donationdomain "github.com/givebox/givebox/internal/donation/domain"
)

type createDonationRequest struct {
	ID              string  `json:"id"`
	FirstName       string  `json:"first_name"`
	LastName        string  `json:"last_name"`
	Email           string  `json:"email"`
	ZipCode         string  `json:"zip_code"`
	Newsletter      bool    `json:"newsletter"`
	Amount          float64 `json:"amount"`
	IsRecurring     bool    `json:"is_recurring"`
	CoverFee        bool    `json:"cover_fee"`
	PaymentIntentID string  `json:"payment_intent_id"`
}

func (s *Server) CreateDonation(c *gin.Context) {
	var req createDonationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	ctx := c.Request.Context()
	resp, err := s.donationSvc.Create(ctx, donationdomain.CreateDonationRequest{
		ID:              strings.TrimSpace(req.ID),
		FirstName:       req.FirstName,
		LastName:        req.LastName,
		Email:           req.Email,
		ZipCode:         req.ZipCode,
		Newsletter:      req.Newsletter,
		Amount:          req.Amount,
		IsRecurring:     req.IsRecurring,
		CoverFee:        req.CoverFee,
		PaymentIntentID: strings.TrimSpace(req.PaymentIntentID),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if s.auditSvc != nil {
		targetID := resp.ID.String()
		_ = s.auditSvc.AuditLog(ctx, "donation.create", "donation", &targetID, map[string]any{
			"final_amount": resp.FinalAmount,
			"is_recurring": resp.IsRecurring,
		})
	}

	c.JSON(http.StatusCreated, gin.H{"data": resp})
}

type captureDonationRequest struct {
	PaymentIntentID string `json:"payment_intent_id"`
}

func (s *Server) CaptureDonation(c *gin.Context) {
	var req captureDonationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	resp, err := s.terminalSvc.Capture(c.Request.Context(), req.PaymentIntentID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ListDonations(c *gin.Context) {
	resp, err := s.donationSvc.List(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}
