package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/givebox/givebox/internal/config"
	"github.com/givebox/givebox/internal/donation/domain"
	"github.com/givebox/givebox/internal/stripe"
	"github.com/givebox/givebox/pkg/db"
	"github.com/go-playground/validator/v10"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	Cfg     config.Config
	Kiosk   *config.KioskConfigHolder
	Gateway stripe.Gateway
	Repo    domain.Repository
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	cfg      config.Config
	kiosk    *config.KioskConfigHolder
	gateway  stripe.Gateway
	repo     domain.Repository
	validate *validator.Validate
}

func NewService(p Params) domain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("donation.service"),
		genID:    p.GenID,
		cfg:      p.Cfg,
		kiosk:    p.Kiosk,
		gateway:  p.Gateway,
		repo:     p.Repo,
		validate: validator.New(),
	}
}

// Create opens a manual-capture card-present authorization for the final
// amount and persists the donation in pending state. When the request names
// an existing record and its authorization is still live, both are reused so
// a kiosk retry never double-charges.
func (s *Service) Create(ctx context.Context, req domain.CreateDonationRequest) (domain.Donation, error) {
	req.FirstName = strings.TrimSpace(req.FirstName)
	req.LastName = strings.TrimSpace(req.LastName)
	req.Email = strings.TrimSpace(req.Email)

	if err := s.validate.Struct(req); err != nil {
		return domain.Donation{}, classifyValidation(err)
	}

	kiosk := s.kiosk.Get()
	base, fee, final := domain.ComputeAmounts(req.Amount, req.CoverFee, kiosk.FeeRate)

	intent, err := s.resolveIntent(ctx, req, final, kiosk.Currency)
	if err != nil {
		return domain.Donation{}, err
	}

	if req.ID != "" {
		existing, err := s.findExisting(ctx, req.ID)
		if err != nil {
			return domain.Donation{}, err
		}
		if existing != nil {
			dirty := false
			// A fresh intent replaces a canceled one on the same record.
			if existing.StripePaymentIntentID == nil || *existing.StripePaymentIntentID != intent.ID {
				existing.StripePaymentIntentID = &intent.ID
				dirty = true
			}
			// A retry after a failed attempt reopens the record; only a
			// captured donation stays closed.
			if existing.Status == domain.StatusFailed {
				existing.Status = domain.StatusPending
				dirty = true
			}
			if dirty {
				existing.UpdatedAt = time.Now().UTC()
				if err := s.repo.Update(ctx, s.db, existing); err != nil {
					return domain.Donation{}, err
				}
			}
			return *existing, nil
		}
	}

	now := time.Now().UTC()
	donation := domain.Donation{
		ID:                    s.genID.Generate(),
		FirstName:             req.FirstName,
		LastName:              req.LastName,
		Email:                 req.Email,
		Newsletter:            req.Newsletter,
		Amount:                base,
		FeeAmount:             fee,
		FinalAmount:           final,
		AmountReceived:        0, // unset until capture
		IsRecurring:           req.IsRecurring,
		CoverFee:              req.CoverFee,
		StripePaymentIntentID: &intent.ID,
		Status:                domain.StatusPending,
		CreatedAt:             now,
		UpdatedAt:             now,
	}
	if zip := strings.TrimSpace(req.ZipCode); zip != "" {
		donation.ZipCode = &zip
	}

	if err := s.repo.Insert(ctx, s.db, &donation); err != nil {
		// Two confirms racing on the same draft can both reach the insert;
		// the slower one adopts the stored record.
		if db.IsDuplicateKeyErr(err) {
			existing, findErr := s.repo.FindByID(ctx, s.db, donation.ID)
			if findErr == nil && existing != nil {
				return *existing, nil
			}
		}
		return domain.Donation{}, err
	}

	s.log.Info("donation created",
		zap.String("donation_id", donation.ID.String()),
		zap.String("payment_intent_id", intent.ID),
		zap.Int64("final_amount", final),
		zap.Bool("is_recurring", donation.IsRecurring),
	)

	return donation, nil
}

// resolveIntent reuses a referenced authorization unless it was canceled;
// otherwise it opens a new one holding the final amount.
func (s *Service) resolveIntent(ctx context.Context, req domain.CreateDonationRequest, finalAmount int64, currency string) (*stripe.PaymentIntent, error) {
	if req.PaymentIntentID != "" {
		intent, err := s.gateway.RetrievePaymentIntent(ctx, req.PaymentIntentID)
		if err != nil {
			return nil, err
		}
		if intent.Status != stripe.PaymentIntentStatusCanceled {
			return intent, nil
		}
	}

	setupFutureUsage := ""
	if req.IsRecurring {
		setupFutureUsage = stripe.SetupFutureUsageOffSession
	}

	return s.gateway.CreatePaymentIntent(ctx, stripe.CreatePaymentIntentParams{
		Amount:           finalAmount,
		Currency:         currency,
		CaptureManual:    true,
		CardPresent:      true,
		SetupFutureUsage: setupFutureUsage,
		ReceiptEmail:     req.Email,
		Description:      fmt.Sprintf("Donation to %s - %s %s", s.cfg.FoundationName, req.FirstName, req.LastName),
	})
}

func (s *Service) findExisting(ctx context.Context, rawID string) (*domain.Donation, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(rawID))
	if err != nil || id == 0 {
		return nil, domain.ErrInvalidID
	}
	return s.repo.FindByID(ctx, s.db, id)
}

func (s *Service) GetByID(ctx context.Context, rawID string) (domain.Donation, error) {
	donation, err := s.findExisting(ctx, rawID)
	if err != nil {
		return domain.Donation{}, err
	}
	if donation == nil {
		return domain.Donation{}, domain.ErrNotFound
	}
	return *donation, nil
}

func (s *Service) GetByPaymentIntentID(ctx context.Context, intentID string) (domain.Donation, error) {
	intentID = strings.TrimSpace(intentID)
	if intentID == "" {
		return domain.Donation{}, domain.ErrMissingIntent
	}
	donation, err := s.repo.FindByPaymentIntentID(ctx, s.db, intentID)
	if err != nil {
		return domain.Donation{}, err
	}
	if donation == nil {
		return domain.Donation{}, domain.ErrNotFound
	}
	return *donation, nil
}

func (s *Service) List(ctx context.Context) ([]domain.Donation, error) {
	return s.repo.List(ctx, s.db)
}

func classifyValidation(err error) error {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return domain.ErrMissingFields
	}
	for _, fieldErr := range fieldErrs {
		switch fieldErr.Field() {
		case "Email":
			if fieldErr.Tag() == "email" {
				return domain.ErrInvalidEmail
			}
			return domain.ErrMissingFields
		case "Amount":
			return domain.ErrInvalidAmount
		default:
			return domain.ErrMissingFields
		}
	}
	return domain.ErrMissingFields
}
