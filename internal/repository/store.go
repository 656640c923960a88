package repository

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"strings"

	"fee-reconciliation-backend/internal/models"
	"fee-reconciliation-backend/internal/services/reconciliation"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

// Store is the gorm-backed reconciliation.Store. Each embedded repository
// owns one table.
type Store struct {
	*ExternalTransactionRepository
	*QueueRepository
	*ClaimRepository
	*AuditRepository
	*ImportBatchRepository
	db *gorm.DB
}

var _ reconciliation.Store = (*Store)(nil)

func NewStore(db *gorm.DB) *Store {
	return &Store{
		ExternalTransactionRepository: NewExternalTransactionRepository(db),
		QueueRepository:               NewQueueRepository(db),
		ClaimRepository:               NewClaimRepository(db),
		AuditRepository:               NewAuditRepository(db),
		ImportBatchRepository:         NewImportBatchRepository(db),
		db:                            db,
	}
}

func (s *Store) DB() *gorm.DB {
	return s.db
}

func (s *Store) Atomic(ctx context.Context, fn func(reconciliation.Store, reconciliation.Ledger) error) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(NewStore(tx), NewLedgerRepository(tx))
	})
	if err != nil && !errors.Is(err, reconciliation.ErrTransient) && isTransient(err) {
		return fmt.Errorf("%w: %w", reconciliation.ErrTransient, err)
	}
	return err
}

// AutoMigrate creates or updates every table the service owns, the ledger
// tables included.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.ExternalTransaction{},
		&models.ProcessingQueueItem{},
		&models.PaymentClaim{},
		&models.MatchAuditLog{},
		&models.ImportBatch{},
		&models.Account{},
		&models.Invoice{},
		&models.Payment{},
	)
}

// wrapErr translates driver errors into the engine's taxonomy.
func wrapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%s: %w", op, reconciliation.ErrNotFound)
	}
	if isTransient(err) {
		return fmt.Errorf("%s: %w: %w", op, reconciliation.ErrTransient, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func isTransient(err error) bool {
	if errors.Is(err, driver.ErrBadConn) ||
		errors.Is(err, sql.ErrConnDone) ||
		errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if pgconn.Timeout(err) || pgconn.SafeToRetry(err) {
		return true
	}
	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// connection exceptions, serialization failures, deadlocks, admin shutdown
		return strings.HasPrefix(pgErr.Code, "08") ||
			pgErr.Code == "40001" ||
			pgErr.Code == "40P01" ||
			pgErr.Code == "57P01"
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
