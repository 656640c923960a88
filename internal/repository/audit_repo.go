package repository

import (
	"context"

	"fee-reconciliation-backend/internal/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// AuditRepository is append-only.
type AuditRepository struct {
	db *gorm.DB
}

func NewAuditRepository(db *gorm.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

func (r *AuditRepository) AppendAudit(ctx context.Context, entry *models.MatchAuditLog) error {
	return wrapErr("append audit", r.db.WithContext(ctx).Create(entry).Error)
}

func (r *AuditRepository) ListAudit(ctx context.Context, transactionID uuid.UUID) ([]models.MatchAuditLog, error) {
	var entries []models.MatchAuditLog
	err := r.db.WithContext(ctx).
		Where("transaction_id = ?", transactionID).
		Order("created_at ASC").
		Order("id ASC").
		Find(&entries).Error
	if err != nil {
		return nil, wrapErr("list audit", err)
	}
	return entries, nil
}
