package repository

import (
	"context"
	"time"

	"fee-reconciliation-backend/internal/models"
	"fee-reconciliation-backend/internal/services/reconciliation"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type QueueRepository struct {
	db *gorm.DB
}

func NewQueueRepository(db *gorm.DB) *QueueRepository {
	return &QueueRepository{db: db}
}

func (r *QueueRepository) CreateQueueItem(ctx context.Context, item *models.ProcessingQueueItem) error {
	return wrapErr("create queue item", r.db.WithContext(ctx).Create(item).Error)
}

func (r *QueueRepository) GetQueueItemByTransaction(ctx context.Context, externalTransactionID uuid.UUID) (*models.ProcessingQueueItem, error) {
	var item models.ProcessingQueueItem
	err := r.db.WithContext(ctx).
		First(&item, "external_transaction_id = ?", externalTransactionID).Error
	if err != nil {
		return nil, wrapErr("get queue item", err)
	}
	return &item, nil
}

// DueQueueItems returns schedulable items whose retry time has passed,
// oldest first.
func (r *QueueRepository) DueQueueItems(ctx context.Context, q reconciliation.DueQuery) ([]models.ProcessingQueueItem, error) {
	var items []models.ProcessingQueueItem
	query := r.db.WithContext(ctx).
		Where("match_status IN ?", models.SchedulableStatuses).
		Where("retry_count < max_retries").
		Where("(next_retry_at IS NULL OR next_retry_at <= ?)", q.Now).
		Order("COALESCE(next_retry_at, created_at) ASC").
		Order("id ASC").
		Limit(q.Limit)

	if q.TenantID != nil {
		query = query.Where("tenant_id = ?", *q.TenantID)
	}

	if err := query.Find(&items).Error; err != nil {
		return nil, wrapErr("select due queue items", err)
	}
	return items, nil
}

func (r *QueueRepository) UpdateQueueItem(ctx context.Context, item *models.ProcessingQueueItem, expectedRetryCount int) error {
	now := time.Now().UTC()
	result := r.db.WithContext(ctx).
		Model(&models.ProcessingQueueItem{}).
		Where("id = ? AND retry_count = ?", item.ID, expectedRetryCount).
		Updates(map[string]interface{}{
			"match_status":  item.MatchStatus,
			"retry_count":   item.RetryCount,
			"next_retry_at": item.NextRetryAt,
			"processed_at":  item.ProcessedAt,
			"confidence":    item.Confidence,
			"last_error":    item.LastError,
			"updated_at":    now,
		})
	if result.Error != nil {
		return wrapErr("update queue item", result.Error)
	}
	if result.RowsAffected == 0 {
		return reconciliation.ErrStaleState
	}
	item.UpdatedAt = now
	return nil
}
