package reconciliation_test

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"fee-reconciliation-backend/internal/models"
	"fee-reconciliation-backend/internal/repository/memstore"
	"fee-reconciliation-backend/internal/services/reconciliation"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

var tenantID = uuid.MustParse("5f0c3a52-9a4e-4c8e-8d0e-2b7f1a6c9d01")

// testClock is a settable clock shared by the service and scheduler.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	store *memstore.Store
	svc   *reconciliation.Service
	sched *reconciliation.Scheduler
	clock *testClock
	cfg   reconciliation.Config
}

func newFixture(t *testing.T, cfg reconciliation.Config) *fixture {
	t.Helper()
	clock := &testClock{now: march(20).Add(9 * time.Hour)}
	store := memstore.New()
	opts := testOptions(clock)
	return &fixture{
		store: store,
		svc:   reconciliation.NewService(store, store, cfg, opts...),
		sched: reconciliation.NewScheduler(store, store, cfg, opts...),
		clock: clock,
		cfg:   cfg,
	}
}

func testOptions(clock *testClock) []reconciliation.Option {
	return []reconciliation.Option{
		reconciliation.WithClock(clock.Now),
		reconciliation.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	}
}

// schedulerWithLedger builds a scheduler reading candidates and accounts
// through ledger instead of the fixture's store.
func (f *fixture) schedulerWithLedger(ledger reconciliation.Ledger) *reconciliation.Scheduler {
	return reconciliation.NewScheduler(f.store, ledger, f.cfg, testOptions(f.clock)...)
}

// hookedLedger runs beforeList ahead of every candidate pool read.
type hookedLedger struct {
	reconciliation.Ledger
	beforeList func()
}

func (l *hookedLedger) ListUnclaimedPayments(ctx context.Context, tenantID uuid.UUID, filter reconciliation.PaymentFilter) ([]models.CandidatePayment, error) {
	if l.beforeList != nil {
		l.beforeList()
	}
	return l.Ledger.ListUnclaimedPayments(ctx, tenantID, filter)
}

func march(d int) time.Time {
	return time.Date(2024, time.March, d, 10, 0, 0, 0, time.UTC)
}

func datePtr(t time.Time) *time.Time { return &t }

func (f *fixture) transaction(t *testing.T, id uuid.UUID) models.ExternalTransaction {
	t.Helper()
	for _, tx := range f.store.Transactions() {
		if tx.ID == id {
			return tx
		}
	}
	require.Failf(t, "transaction not found", "id %s", id)
	return models.ExternalTransaction{}
}

func (f *fixture) queueItem(t *testing.T, txID uuid.UUID) models.ProcessingQueueItem {
	t.Helper()
	for _, item := range f.store.QueueItems() {
		if item.ExternalTransactionID == txID {
			return item
		}
	}
	require.Failf(t, "queue item not found", "transaction %s", txID)
	return models.ProcessingQueueItem{}
}

func (f *fixture) auditActions(txID uuid.UUID) []models.AuditAction {
	var actions []models.AuditAction
	for _, e := range f.store.AuditLog() {
		if e.TransactionID == txID {
			actions = append(actions, e.Action)
		}
	}
	return actions
}

func (f *fixture) notify(t *testing.T, n reconciliation.Notification) *reconciliation.IntakeAck {
	t.Helper()
	if n.TenantID == uuid.Nil {
		n.TenantID = tenantID
	}
	if n.Currency == "" {
		n.Currency = "KES"
	}
	ack, err := f.svc.Intake(t.Context(), n)
	require.NoError(t, err)
	return ack
}
