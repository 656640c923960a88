package repository

import (
	"context"
	"errors"

	"fee-reconciliation-backend/internal/models"
	"fee-reconciliation-backend/internal/services/reconciliation"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type ClaimRepository struct {
	db *gorm.DB
}

func NewClaimRepository(db *gorm.DB) *ClaimRepository {
	return &ClaimRepository{db: db}
}

// ClaimPayment relies on the payment_id primary key: of two concurrent
// claims only one insert affects a row. Re-claiming for the same
// transaction is accepted.
func (r *ClaimRepository) ClaimPayment(ctx context.Context, claim *models.PaymentClaim) error {
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(claim)
	if result.Error != nil {
		return wrapErr("claim payment", result.Error)
	}
	if result.RowsAffected == 1 {
		return nil
	}

	var existing models.PaymentClaim
	err := r.db.WithContext(ctx).First(&existing, "payment_id = ?", claim.PaymentID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return reconciliation.ErrClaimConflict
	}
	if err != nil {
		return wrapErr("load payment claim", err)
	}
	if existing.ExternalTransactionID == claim.ExternalTransactionID {
		return nil
	}
	return reconciliation.ErrClaimConflict
}
