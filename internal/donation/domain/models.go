package domain

import (
	"math"
	"time"

	"github.com/bwmarrin/snowflake"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed
}

// Donation is a single kiosk donation attempt. All monetary fields are in
// cents to avoid floating-point error.
type Donation struct {
	ID                    snowflake.ID `json:"id" gorm:"primaryKey"`
	FirstName             string       `json:"first_name" gorm:"not null"`
	LastName              string       `json:"last_name" gorm:"not null"`
	Email                 string       `json:"email" gorm:"not null"`
	ZipCode               *string      `json:"zip_code,omitempty"`
	Newsletter            bool         `json:"newsletter" gorm:"not null"`
	Amount                int64        `json:"amount" gorm:"not null"`
	FeeAmount             int64        `json:"fee_amount" gorm:"not null"`
	FinalAmount           int64        `json:"final_amount" gorm:"not null"`
	AmountReceived        int64        `json:"amount_received" gorm:"not null"`
	IsRecurring           bool         `json:"is_recurring" gorm:"not null"`
	CoverFee              bool         `json:"cover_fee" gorm:"not null"`
	StripePaymentIntentID *string      `json:"stripe_payment_intent_id"`
	StripeSubscriptionID  *string      `json:"stripe_subscription_id"`
	StripeCustomerID      *string      `json:"stripe_customer_id"`
	Status                Status       `json:"status" gorm:"type:text;not null"`
	CreatedAt             time.Time    `json:"created_at" gorm:"not null"`
	UpdatedAt             time.Time    `json:"updated_at" gorm:"not null"`
}

func (Donation) TableName() string { return "donations" }

func (d *Donation) FullName() string {
	return d.FirstName + " " + d.LastName
}

// ComputeAmounts converts a dollar amount into base, fee and final cents.
// The fee, when covered, is a fixed percentage of the base amount.
func ComputeAmounts(dollars float64, coverFee bool, feeRate float64) (base, fee, final int64) {
	base = int64(math.Round(dollars * 100))
	if coverFee {
		fee = int64(math.Round(float64(base) * feeRate))
	}
	final = base + fee
	return base, fee, final
}
