package repository

import (
	"context"

	"fee-reconciliation-backend/internal/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type ImportBatchRepository struct {
	db *gorm.DB
}

func NewImportBatchRepository(db *gorm.DB) *ImportBatchRepository {
	return &ImportBatchRepository{db: db}
}

func (r *ImportBatchRepository) CreateImportBatch(ctx context.Context, batch *models.ImportBatch) error {
	return wrapErr("create import batch", r.db.WithContext(ctx).Create(batch).Error)
}

// CompleteImportBatch stores the final counts of a batch.
func (r *ImportBatchRepository) CompleteImportBatch(ctx context.Context, batch *models.ImportBatch) error {
	err := r.db.WithContext(ctx).
		Model(&models.ImportBatch{}).
		Where("id = ?", batch.ID).
		Updates(map[string]interface{}{
			"matched_count":      batch.MatchedCount,
			"needs_review_count": batch.NeedsReviewCount,
			"unmatched_count":    batch.UnmatchedCount,
			"duplicate_count":    batch.DuplicateCount,
			"status":             batch.Status,
			"completed_at":       batch.CompletedAt,
		}).Error
	return wrapErr("complete import batch", err)
}

func (r *ImportBatchRepository) GetImportBatch(ctx context.Context, id uuid.UUID) (*models.ImportBatch, error) {
	var batch models.ImportBatch
	if err := r.db.WithContext(ctx).First(&batch, "id = ?", id).Error; err != nil {
		return nil, wrapErr("get import batch", err)
	}
	return &batch, nil
}
