package repository

import (
	"context"
	"time"

	"fee-reconciliation-backend/internal/models"
	"fee-reconciliation-backend/internal/services/reconciliation"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type ExternalTransactionRepository struct {
	db *gorm.DB
}

func NewExternalTransactionRepository(db *gorm.DB) *ExternalTransactionRepository {
	return &ExternalTransactionRepository{db: db}
}

func (r *ExternalTransactionRepository) CreateExternalTransaction(ctx context.Context, tx *models.ExternalTransaction) error {
	return wrapErr("create external transaction", r.db.WithContext(ctx).Create(tx).Error)
}

func (r *ExternalTransactionRepository) GetExternalTransaction(ctx context.Context, id uuid.UUID) (*models.ExternalTransaction, error) {
	var tx models.ExternalTransaction
	if err := r.db.WithContext(ctx).First(&tx, "id = ?", id).Error; err != nil {
		return nil, wrapErr("get external transaction", err)
	}
	return &tx, nil
}

// FindDuplicate looks for the oldest live transaction of the same tenant and
// source carrying the same dedupe key and amount.
func (r *ExternalTransactionRepository) FindDuplicate(ctx context.Context, tx *models.ExternalTransaction) (*models.ExternalTransaction, error) {
	if tx.DedupeKey == "" {
		return nil, reconciliation.ErrNotFound
	}

	var dup models.ExternalTransaction
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND source = ? AND amount = ? AND id <> ?", tx.TenantID, tx.Source, tx.Amount, tx.ID).
		Where("status NOT IN ?", []models.TransactionStatus{models.StatusDuplicate, models.StatusIgnored}).
		Where("dedupe_key = ?", tx.DedupeKey).
		Order("created_at ASC").
		First(&dup).Error
	if err != nil {
		return nil, wrapErr("find duplicate", err)
	}
	return &dup, nil
}

func (r *ExternalTransactionRepository) TransitionExternalTransaction(
	ctx context.Context,
	tx *models.ExternalTransaction,
	from []models.TransactionStatus,
) error {
	if len(from) == 0 {
		return reconciliation.ErrInvalidTransition
	}
	now := time.Now().UTC()
	result := r.db.WithContext(ctx).
		Model(&models.ExternalTransaction{}).
		Where("id = ? AND status IN ?", tx.ID, from).
		Updates(map[string]interface{}{
			"status":             tx.Status,
			"matched_payment_id": tx.MatchedPaymentID,
			"confidence":         tx.Confidence,
			"match_type":         tx.MatchType,
			"last_error":         tx.LastError,
			"updated_at":         now,
		})
	if result.Error != nil {
		return wrapErr("transition external transaction", result.Error)
	}
	if result.RowsAffected == 0 {
		return reconciliation.ErrStaleState
	}
	tx.UpdatedAt = now
	return nil
}

// ListExternalTransactions pages by id, filtering by status.
func (r *ExternalTransactionRepository) ListExternalTransactions(ctx context.Context, q reconciliation.ListQuery) (reconciliation.Page, error) {
	var txs []models.ExternalTransaction
	query := r.db.WithContext(ctx).
		Where("tenant_id = ?", q.TenantID).
		Order("id ASC").
		Limit(q.Limit + 1)

	if len(q.Statuses) > 0 {
		query = query.Where("status IN ?", q.Statuses)
	}
	if q.Cursor != "" {
		cursor, err := uuid.Parse(q.Cursor)
		if err != nil {
			return reconciliation.Page{}, &reconciliation.ValidationError{Field: "cursor", Reason: "invalid cursor"}
		}
		query = query.Where("id > ?", cursor)
	}

	if err := query.Find(&txs).Error; err != nil {
		return reconciliation.Page{}, wrapErr("list external transactions", err)
	}

	page := reconciliation.Page{Items: txs}
	if len(txs) > q.Limit {
		page.HasMore = true
		page.NextCursor = txs[q.Limit-1].ID.String()
		page.Items = txs[:q.Limit]
	}
	return page, nil
}
