package reconciliation

import (
	"context"
	"time"

	"fee-reconciliation-backend/internal/models"

	"github.com/google/uuid"
)

// Store is the persistence boundary of the reconciliation engine. Every
// component receives it explicitly; nothing reaches for a global handle.
type Store interface {
	CreateExternalTransaction(ctx context.Context, tx *models.ExternalTransaction) error
	GetExternalTransaction(ctx context.Context, id uuid.UUID) (*models.ExternalTransaction, error)
	// FindDuplicate returns an earlier live transaction with the same
	// tenant, source, amount and DedupeKey, or ErrNotFound.
	FindDuplicate(ctx context.Context, tx *models.ExternalTransaction) (*models.ExternalTransaction, error)
	// TransitionExternalTransaction persists status, match and error fields
	// of tx only if the stored status is one of from; otherwise ErrStaleState.
	TransitionExternalTransaction(ctx context.Context, tx *models.ExternalTransaction, from []models.TransactionStatus) error
	ListExternalTransactions(ctx context.Context, q ListQuery) (Page, error)

	// ClaimPayment inserts the claim or fails with ErrClaimConflict.
	ClaimPayment(ctx context.Context, claim *models.PaymentClaim) error

	CreateQueueItem(ctx context.Context, item *models.ProcessingQueueItem) error
	GetQueueItemByTransaction(ctx context.Context, externalTransactionID uuid.UUID) (*models.ProcessingQueueItem, error)
	DueQueueItems(ctx context.Context, q DueQuery) ([]models.ProcessingQueueItem, error)
	// UpdateQueueItem writes item only if its stored retry count still equals
	// expectedRetryCount; otherwise ErrStaleState.
	UpdateQueueItem(ctx context.Context, item *models.ProcessingQueueItem, expectedRetryCount int) error

	AppendAudit(ctx context.Context, entry *models.MatchAuditLog) error
	ListAudit(ctx context.Context, transactionID uuid.UUID) ([]models.MatchAuditLog, error)

	CreateImportBatch(ctx context.Context, batch *models.ImportBatch) error
	CompleteImportBatch(ctx context.Context, batch *models.ImportBatch) error
	GetImportBatch(ctx context.Context, id uuid.UUID) (*models.ImportBatch, error)

	// Atomic runs fn in one persistence transaction. The Store and Ledger
	// handed to fn are bound to it; an error from fn rolls everything back.
	Atomic(ctx context.Context, fn func(Store, Ledger) error) error
}

// Ledger is the invoice/payment ledger collaborator.
type Ledger interface {
	// ListUnclaimedPayments returns confirmed payments no external
	// transaction has claimed, in a stable order.
	ListUnclaimedPayments(ctx context.Context, tenantID uuid.UUID, filter PaymentFilter) ([]models.CandidatePayment, error)
	GetPayment(ctx context.Context, tenantID, paymentID uuid.UUID) (*models.CandidatePayment, error)
	// CreatePayment is idempotent on sourceRef.
	CreatePayment(ctx context.Context, tenantID uuid.UUID, accountRef string, amount int64, sourceRef string) (uuid.UUID, error)
	RecomputeBalance(ctx context.Context, tenantID uuid.UUID, accountRef string) error
	// ResolveAccount returns the account reference for hint or ErrAccountNotFound.
	ResolveAccount(ctx context.Context, tenantID uuid.UUID, hint AccountHint) (string, error)
}

type PaymentFilter struct {
	Since *time.Time
	Until *time.Time
}

type AccountHint struct {
	Reference string
	Phone     string
	Name      string
}

func (h AccountHint) Empty() bool {
	return h.Reference == "" && h.Phone == "" && h.Name == ""
}

type DueQuery struct {
	Now      time.Time
	Limit    int
	TenantID *uuid.UUID
}

type ListQuery struct {
	TenantID uuid.UUID
	Statuses []models.TransactionStatus
	Cursor   string
	Limit    int
}

type Page struct {
	Items      []models.ExternalTransaction `json:"items"`
	NextCursor string                       `json:"next_cursor"`
	HasMore    bool                         `json:"has_more"`
}
