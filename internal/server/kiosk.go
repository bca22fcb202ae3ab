package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func (s *Server) KioskState(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"data": s.flow.Snapshot()})
}

type kioskDonorRequest struct {
	FirstName  string `json:"first_name"`
	LastName   string `json:"last_name"`
	Email      string `json:"email"`
	ZipCode    string `json:"zip_code"`
	Newsletter bool   `json:"newsletter"`
}

func (s *Server) KioskSubmitDonor(c *gin.Context) {
	var req kioskDonorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	if err := s.flow.SubmitDonorInfo(req.FirstName, req.LastName, req.Email, req.ZipCode, req.Newsletter); err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": s.flow.Snapshot()})
}

type kioskAmountRequest struct {
	Amount      float64 `json:"amount"`
	IsRecurring bool    `json:"is_recurring"`
	CoverFee    bool    `json:"cover_fee"`
}

func (s *Server) KioskSelectAmount(c *gin.Context) {
	var req kioskAmountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	if err := s.flow.SelectAmount(req.Amount, req.IsRecurring, req.CoverFee); err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": s.flow.Snapshot()})
}

func (s *Server) KioskConfirm(c *gin.Context) {
	if err := s.flow.Confirm(c.Request.Context()); err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": s.flow.Snapshot()})
}

func (s *Server) KioskCapture(c *gin.Context) {
	if err := s.flow.Capture(c.Request.Context()); err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": s.flow.Snapshot()})
}

func (s *Server) KioskCancel(c *gin.Context) {
	if err := s.flow.Cancel(c.Request.Context()); err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": s.flow.Snapshot()})
}

func (s *Server) KioskTryAgain(c *gin.Context) {
	if err := s.flow.TryAgain(); err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": s.flow.Snapshot()})
}

func (s *Server) KioskReset(c *gin.Context) {
	s.flow.Reset()
	c.JSON(http.StatusOK, gin.H{"data": s.flow.Snapshot()})
}
