package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, donation *Donation) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Donation, error)
	FindByPaymentIntentID(ctx context.Context, db *gorm.DB, intentID string) (*Donation, error)
	Update(ctx context.Context, db *gorm.DB, donation *Donation) error
	List(ctx context.Context, db *gorm.DB) ([]Donation, error)
}
