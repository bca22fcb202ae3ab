package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/givebox/givebox/internal/donation/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, donation *domain.Donation) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO donations (
			id, first_name, last_name, email, zip_code, newsletter,
			amount, fee_amount, final_amount, amount_received,
			is_recurring, cover_fee,
			stripe_payment_intent_id, stripe_subscription_id, stripe_customer_id,
			status, created_at, updated_at
		 ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		donation.ID,
		donation.FirstName,
		donation.LastName,
		donation.Email,
		donation.ZipCode,
		donation.Newsletter,
		donation.Amount,
		donation.FeeAmount,
		donation.FinalAmount,
		donation.AmountReceived,
		donation.IsRecurring,
		donation.CoverFee,
		donation.StripePaymentIntentID,
		donation.StripeSubscriptionID,
		donation.StripeCustomerID,
		donation.Status,
		donation.CreatedAt,
		donation.UpdatedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Donation, error) {
	var donation domain.Donation
	err := db.WithContext(ctx).Raw(
		`SELECT * FROM donations WHERE id = ?`,
		id,
	).Scan(&donation).Error
	if err != nil {
		return nil, err
	}
	if donation.ID == 0 {
		return nil, nil
	}
	return &donation, nil
}

func (r *repo) FindByPaymentIntentID(ctx context.Context, db *gorm.DB, intentID string) (*domain.Donation, error) {
	var donation domain.Donation
	err := db.WithContext(ctx).Raw(
		`SELECT * FROM donations WHERE stripe_payment_intent_id = ?`,
		intentID,
	).Scan(&donation).Error
	if err != nil {
		return nil, err
	}
	if donation.ID == 0 {
		return nil, nil
	}
	return &donation, nil
}

func (r *repo) Update(ctx context.Context, db *gorm.DB, donation *domain.Donation) error {
	donation.UpdatedAt = time.Now().UTC()
	return db.WithContext(ctx).Exec(
		`UPDATE donations SET
			amount_received = ?,
			stripe_payment_intent_id = ?,
			stripe_subscription_id = ?,
			stripe_customer_id = ?,
			status = ?,
			updated_at = ?
		 WHERE id = ?`,
		donation.AmountReceived,
		donation.StripePaymentIntentID,
		donation.StripeSubscriptionID,
		donation.StripeCustomerID,
		donation.Status,
		donation.UpdatedAt,
		donation.ID,
	).Error
}

func (r *repo) List(ctx context.Context, db *gorm.DB) ([]domain.Donation, error) {
	var donations []domain.Donation
	err := db.WithContext(ctx).
		Model(&domain.Donation{}).
		Order("created_at desc, id desc").
		Find(&donations).Error
	if err != nil {
		return nil, err
	}
	return donations, nil
}
