// Package memstore is an in-memory reconciliation.Store and
// reconciliation.Ledger. It serializes every call, so Atomic is trivially
// isolated, and rolls back the whole state when the function passed to
// Atomic fails. Failures can be injected per operation.
package memstore

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"fee-reconciliation-backend/internal/models"
	"fee-reconciliation-backend/internal/services/reconciliation"

	"github.com/google/uuid"
)

// Failure makes Op fail with Err. ID restricts it to one record (for the
// ledger operations, one tenant); Times limits how often it fires, zero
// meaning until cleared.
type Failure struct {
	Op    string
	ID    uuid.UUID
	Err   error
	Times int
}

type Store struct {
	mu       sync.Mutex
	st       *state
	failures []*Failure
}

var (
	_ reconciliation.Store  = (*Store)(nil)
	_ reconciliation.Ledger = (*Store)(nil)
)

func New() *Store {
	return &Store{st: newState()}
}

// Inject registers a failure.
func (s *Store) Inject(f Failure) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = append(s.failures, &f)
}

func (s *Store) ClearFailures() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = nil
}

func (s *Store) Atomic(ctx context.Context, fn func(reconciliation.Store, reconciliation.Ledger) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	snapshot := s.st.clone()
	v := &view{s: s}
	if err := fn(v, v); err != nil {
		s.st = snapshot
		return err
	}
	return nil
}

// locked runs fn against the current state outside of Atomic.
func locked[T any](s *Store, fn func(v *view) (T, error)) (T, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(&view{s: s})
}

func lockedErr(s *Store, fn func(v *view) error) error {
	_, err := locked(s, func(v *view) (struct{}, error) { return struct{}{}, fn(v) })
	return err
}

func (s *Store) CreateExternalTransaction(ctx context.Context, tx *models.ExternalTransaction) error {
	return lockedErr(s, func(v *view) error { return v.CreateExternalTransaction(ctx, tx) })
}

func (s *Store) GetExternalTransaction(ctx context.Context, id uuid.UUID) (*models.ExternalTransaction, error) {
	return locked(s, func(v *view) (*models.ExternalTransaction, error) { return v.GetExternalTransaction(ctx, id) })
}

func (s *Store) FindDuplicate(ctx context.Context, tx *models.ExternalTransaction) (*models.ExternalTransaction, error) {
	return locked(s, func(v *view) (*models.ExternalTransaction, error) { return v.FindDuplicate(ctx, tx) })
}

func (s *Store) TransitionExternalTransaction(ctx context.Context, tx *models.ExternalTransaction, from []models.TransactionStatus) error {
	return lockedErr(s, func(v *view) error { return v.TransitionExternalTransaction(ctx, tx, from) })
}

func (s *Store) ListExternalTransactions(ctx context.Context, q reconciliation.ListQuery) (reconciliation.Page, error) {
	return locked(s, func(v *view) (reconciliation.Page, error) { return v.ListExternalTransactions(ctx, q) })
}

func (s *Store) ClaimPayment(ctx context.Context, claim *models.PaymentClaim) error {
	return lockedErr(s, func(v *view) error { return v.ClaimPayment(ctx, claim) })
}

func (s *Store) CreateQueueItem(ctx context.Context, item *models.ProcessingQueueItem) error {
	return lockedErr(s, func(v *view) error { return v.CreateQueueItem(ctx, item) })
}

func (s *Store) GetQueueItemByTransaction(ctx context.Context, id uuid.UUID) (*models.ProcessingQueueItem, error) {
	return locked(s, func(v *view) (*models.ProcessingQueueItem, error) { return v.GetQueueItemByTransaction(ctx, id) })
}

func (s *Store) DueQueueItems(ctx context.Context, q reconciliation.DueQuery) ([]models.ProcessingQueueItem, error) {
	return locked(s, func(v *view) ([]models.ProcessingQueueItem, error) { return v.DueQueueItems(ctx, q) })
}

func (s *Store) UpdateQueueItem(ctx context.Context, item *models.ProcessingQueueItem, expectedRetryCount int) error {
	return lockedErr(s, func(v *view) error { return v.UpdateQueueItem(ctx, item, expectedRetryCount) })
}

func (s *Store) AppendAudit(ctx context.Context, entry *models.MatchAuditLog) error {
	return lockedErr(s, func(v *view) error { return v.AppendAudit(ctx, entry) })
}

func (s *Store) ListAudit(ctx context.Context, id uuid.UUID) ([]models.MatchAuditLog, error) {
	return locked(s, func(v *view) ([]models.MatchAuditLog, error) { return v.ListAudit(ctx, id) })
}

func (s *Store) CreateImportBatch(ctx context.Context, batch *models.ImportBatch) error {
	return lockedErr(s, func(v *view) error { return v.CreateImportBatch(ctx, batch) })
}

func (s *Store) CompleteImportBatch(ctx context.Context, batch *models.ImportBatch) error {
	return lockedErr(s, func(v *view) error { return v.CompleteImportBatch(ctx, batch) })
}

func (s *Store) GetImportBatch(ctx context.Context, id uuid.UUID) (*models.ImportBatch, error) {
	return locked(s, func(v *view) (*models.ImportBatch, error) { return v.GetImportBatch(ctx, id) })
}

func (s *Store) ListUnclaimedPayments(ctx context.Context, tenantID uuid.UUID, f reconciliation.PaymentFilter) ([]models.CandidatePayment, error) {
	return locked(s, func(v *view) ([]models.CandidatePayment, error) { return v.ListUnclaimedPayments(ctx, tenantID, f) })
}

func (s *Store) GetPayment(ctx context.Context, tenantID, paymentID uuid.UUID) (*models.CandidatePayment, error) {
	return locked(s, func(v *view) (*models.CandidatePayment, error) { return v.GetPayment(ctx, tenantID, paymentID) })
}

func (s *Store) CreatePayment(ctx context.Context, tenantID uuid.UUID, accountRef string, amount int64, sourceRef string) (uuid.UUID, error) {
	return locked(s, func(v *view) (uuid.UUID, error) {
		return v.CreatePayment(ctx, tenantID, accountRef, amount, sourceRef)
	})
}

func (s *Store) RecomputeBalance(ctx context.Context, tenantID uuid.UUID, accountRef string) error {
	return lockedErr(s, func(v *view) error { return v.RecomputeBalance(ctx, tenantID, accountRef) })
}

func (s *Store) ResolveAccount(ctx context.Context, tenantID uuid.UUID, hint reconciliation.AccountHint) (string, error) {
	return locked(s, func(v *view) (string, error) { return v.ResolveAccount(ctx, tenantID, hint) })
}

// view operates on the state with the store lock already held.
type view struct {
	s *Store
}

func (v *view) Atomic(_ context.Context, fn func(reconciliation.Store, reconciliation.Ledger) error) error {
	return fn(v, v)
}

func (v *view) check(op string, id uuid.UUID) error {
	for i, f := range v.s.failures {
		if f.Op != op || (f.ID != uuid.Nil && f.ID != id) {
			continue
		}
		if f.Times > 0 {
			f.Times--
			if f.Times == 0 {
				v.s.failures = slices.Delete(v.s.failures, i, i+1)
			}
		}
		return f.Err
	}
	return nil
}

func (v *view) CreateExternalTransaction(_ context.Context, tx *models.ExternalTransaction) error {
	if err := v.check("CreateExternalTransaction", tx.ID); err != nil {
		return err
	}
	if _, ok := v.s.st.txs[tx.ID]; ok {
		return fmt.Errorf("external transaction %s already exists", tx.ID)
	}
	v.s.st.txs[tx.ID] = *tx
	v.s.st.txOrder = append(v.s.st.txOrder, tx.ID)
	return nil
}

func (v *view) GetExternalTransaction(_ context.Context, id uuid.UUID) (*models.ExternalTransaction, error) {
	if err := v.check("GetExternalTransaction", id); err != nil {
		return nil, err
	}
	tx, ok := v.s.st.txs[id]
	if !ok {
		return nil, fmt.Errorf("external transaction %s: %w", id, reconciliation.ErrNotFound)
	}
	return &tx, nil
}

func (v *view) FindDuplicate(_ context.Context, tx *models.ExternalTransaction) (*models.ExternalTransaction, error) {
	if err := v.check("FindDuplicate", tx.ID); err != nil {
		return nil, err
	}
	if tx.DedupeKey == "" {
		return nil, reconciliation.ErrNotFound
	}
	for _, id := range v.s.st.txOrder {
		e := v.s.st.txs[id]
		if e.ID == tx.ID || e.TenantID != tx.TenantID || e.Source != tx.Source || e.Amount != tx.Amount {
			continue
		}
		if e.Status == models.StatusDuplicate || e.Status == models.StatusIgnored {
			continue
		}
		if e.DedupeKey == tx.DedupeKey {
			return &e, nil
		}
	}
	return nil, reconciliation.ErrNotFound
}

func (v *view) TransitionExternalTransaction(_ context.Context, tx *models.ExternalTransaction, from []models.TransactionStatus) error {
	if err := v.check("TransitionExternalTransaction", tx.ID); err != nil {
		return err
	}
	stored, ok := v.s.st.txs[tx.ID]
	if !ok {
		return reconciliation.ErrNotFound
	}
	if !slices.Contains(from, stored.Status) {
		return reconciliation.ErrStaleState
	}
	stored.Status = tx.Status
	stored.MatchedPaymentID = tx.MatchedPaymentID
	stored.Confidence = tx.Confidence
	stored.MatchType = tx.MatchType
	stored.LastError = tx.LastError
	stored.UpdatedAt = time.Now().UTC()
	v.s.st.txs[tx.ID] = stored
	tx.UpdatedAt = stored.UpdatedAt
	return nil
}

func (v *view) ListExternalTransactions(_ context.Context, q reconciliation.ListQuery) (reconciliation.Page, error) {
	if err := v.check("ListExternalTransactions", q.TenantID); err != nil {
		return reconciliation.Page{}, err
	}
	var all []models.ExternalTransaction
	for _, tx := range v.s.st.txs {
		if tx.TenantID != q.TenantID {
			continue
		}
		if len(q.Statuses) > 0 && !slices.Contains(q.Statuses, tx.Status) {
			continue
		}
		if q.Cursor != "" && tx.ID.String() <= q.Cursor {
			continue
		}
		all = append(all, tx)
	}
	slices.SortFunc(all, func(a, b models.ExternalTransaction) int {
		return strings.Compare(a.ID.String(), b.ID.String())
	})
	page := reconciliation.Page{Items: all}
	if len(all) > q.Limit {
		page.Items = all[:q.Limit]
		page.HasMore = true
		page.NextCursor = all[q.Limit-1].ID.String()
	}
	return page, nil
}

func (v *view) ClaimPayment(_ context.Context, claim *models.PaymentClaim) error {
	if err := v.check("ClaimPayment", claim.PaymentID); err != nil {
		return err
	}
	if existing, ok := v.s.st.claims[claim.PaymentID]; ok {
		if existing.ExternalTransactionID == claim.ExternalTransactionID {
			return nil
		}
		return reconciliation.ErrClaimConflict
	}
	v.s.st.claims[claim.PaymentID] = *claim
	return nil
}

func (v *view) CreateQueueItem(_ context.Context, item *models.ProcessingQueueItem) error {
	if err := v.check("CreateQueueItem", item.ExternalTransactionID); err != nil {
		return err
	}
	for _, q := range v.s.st.queue {
		if q.ExternalTransactionID == item.ExternalTransactionID {
			return fmt.Errorf("queue item for %s already exists", item.ExternalTransactionID)
		}
	}
	v.s.st.queue[item.ID] = *item
	return nil
}

func (v *view) GetQueueItemByTransaction(_ context.Context, id uuid.UUID) (*models.ProcessingQueueItem, error) {
	if err := v.check("GetQueueItemByTransaction", id); err != nil {
		return nil, err
	}
	for _, q := range v.s.st.queue {
		if q.ExternalTransactionID == id {
			return &q, nil
		}
	}
	return nil, fmt.Errorf("queue item for %s: %w", id, reconciliation.ErrNotFound)
}

func (v *view) DueQueueItems(_ context.Context, q reconciliation.DueQuery) ([]models.ProcessingQueueItem, error) {
	if err := v.check("DueQueueItems", uuid.Nil); err != nil {
		return nil, err
	}
	var due []models.ProcessingQueueItem
	for _, item := range v.s.st.queue {
		if !slices.Contains(models.SchedulableStatuses, item.MatchStatus) || item.RetryCount >= item.MaxRetries {
			continue
		}
		if item.NextRetryAt != nil && item.NextRetryAt.After(q.Now) {
			continue
		}
		if q.TenantID != nil && item.TenantID != *q.TenantID {
			continue
		}
		due = append(due, item)
	}
	slices.SortFunc(due, func(a, b models.ProcessingQueueItem) int {
		if c := dueAt(a).Compare(dueAt(b)); c != 0 {
			return c
		}
		return strings.Compare(a.ID.String(), b.ID.String())
	})
	if q.Limit > 0 && len(due) > q.Limit {
		due = due[:q.Limit]
	}
	return due, nil
}

func dueAt(item models.ProcessingQueueItem) time.Time {
	if item.NextRetryAt != nil {
		return *item.NextRetryAt
	}
	return item.CreatedAt
}

func (v *view) UpdateQueueItem(_ context.Context, item *models.ProcessingQueueItem, expectedRetryCount int) error {
	if err := v.check("UpdateQueueItem", item.ID); err != nil {
		return err
	}
	stored, ok := v.s.st.queue[item.ID]
	if !ok {
		return reconciliation.ErrNotFound
	}
	if stored.RetryCount != expectedRetryCount {
		return reconciliation.ErrStaleState
	}
	item.UpdatedAt = time.Now().UTC()
	v.s.st.queue[item.ID] = *item
	return nil
}

func (v *view) AppendAudit(_ context.Context, entry *models.MatchAuditLog) error {
	if err := v.check("AppendAudit", entry.TransactionID); err != nil {
		return err
	}
	v.s.st.audit = append(v.s.st.audit, *entry)
	return nil
}

func (v *view) ListAudit(_ context.Context, id uuid.UUID) ([]models.MatchAuditLog, error) {
	if err := v.check("ListAudit", id); err != nil {
		return nil, err
	}
	var out []models.MatchAuditLog
	for _, e := range v.s.st.audit {
		if e.TransactionID == id {
			out = append(out, e)
		}
	}
	return out, nil
}

func (v *view) CreateImportBatch(_ context.Context, batch *models.ImportBatch) error {
	if err := v.check("CreateImportBatch", batch.ID); err != nil {
		return err
	}
	v.s.st.batches[batch.ID] = *batch
	return nil
}

func (v *view) CompleteImportBatch(_ context.Context, batch *models.ImportBatch) error {
	if err := v.check("CompleteImportBatch", batch.ID); err != nil {
		return err
	}
	if _, ok := v.s.st.batches[batch.ID]; !ok {
		return reconciliation.ErrNotFound
	}
	v.s.st.batches[batch.ID] = *batch
	return nil
}

func (v *view) GetImportBatch(_ context.Context, id uuid.UUID) (*models.ImportBatch, error) {
	if err := v.check("GetImportBatch", id); err != nil {
		return nil, err
	}
	b, ok := v.s.st.batches[id]
	if !ok {
		return nil, fmt.Errorf("import batch %s: %w", id, reconciliation.ErrNotFound)
	}
	return &b, nil
}

func (v *view) ListUnclaimedPayments(_ context.Context, tenantID uuid.UUID, f reconciliation.PaymentFilter) ([]models.CandidatePayment, error) {
	if err := v.check("ListUnclaimedPayments", tenantID); err != nil {
		return nil, err
	}
	var payments []models.Payment
	for _, p := range v.s.st.payments {
		if p.TenantID != tenantID || p.Status != models.PaymentConfirmed {
			continue
		}
		if _, claimed := v.s.st.claims[p.ID]; claimed {
			continue
		}
		if f.Since != nil && p.PaidAt.Before(*f.Since) {
			continue
		}
		if f.Until != nil && p.PaidAt.After(*f.Until) {
			continue
		}
		payments = append(payments, p)
	}
	slices.SortStableFunc(payments, func(a, b models.Payment) int {
		if c := a.PaidAt.Compare(b.PaidAt); c != 0 {
			return c
		}
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID.String(), b.ID.String())
	})
	out := make([]models.CandidatePayment, 0, len(payments))
	for _, p := range payments {
		out = append(out, p.Candidate())
	}
	return out, nil
}

func (v *view) GetPayment(_ context.Context, tenantID, paymentID uuid.UUID) (*models.CandidatePayment, error) {
	if err := v.check("GetPayment", paymentID); err != nil {
		return nil, err
	}
	for _, p := range v.s.st.payments {
		if p.ID == paymentID && p.TenantID == tenantID && p.Status == models.PaymentConfirmed {
			c := p.Candidate()
			return &c, nil
		}
	}
	return nil, fmt.Errorf("payment %s: %w", paymentID, reconciliation.ErrNotFound)
}

func (v *view) CreatePayment(_ context.Context, tenantID uuid.UUID, accountRef string, amount int64, sourceRef string) (uuid.UUID, error) {
	if err := v.check("CreatePayment", tenantID); err != nil {
		return uuid.Nil, err
	}
	if v.account(tenantID, accountRef) < 0 {
		return uuid.Nil, reconciliation.ErrAccountNotFound
	}
	for _, p := range v.s.st.payments {
		if p.SourceRef != nil && *p.SourceRef == sourceRef {
			return p.ID, nil
		}
	}
	now := time.Now().UTC()
	p := models.Payment{
		ID:         uuid.New(),
		TenantID:   tenantID,
		AccountRef: accountRef,
		Amount:     amount,
		PaidAt:     now,
		SourceRef:  &sourceRef,
		Status:     models.PaymentConfirmed,
		CreatedAt:  now,
	}
	v.s.st.payments = append(v.s.st.payments, p)
	return p.ID, nil
}

func (v *view) RecomputeBalance(_ context.Context, tenantID uuid.UUID, accountRef string) error {
	if err := v.check("RecomputeBalance", tenantID); err != nil {
		return err
	}
	i := v.account(tenantID, accountRef)
	if i < 0 {
		return reconciliation.ErrAccountNotFound
	}
	var balance int64
	for _, inv := range v.s.st.invoices {
		if inv.TenantID == tenantID && inv.AccountRef == accountRef && inv.Status != models.InvoiceVoid {
			balance += inv.Amount
		}
	}
	for _, p := range v.s.st.payments {
		if p.TenantID == tenantID && p.AccountRef == accountRef && p.Status == models.PaymentConfirmed {
			balance -= p.Amount
		}
	}
	v.s.st.accounts[i].Balance = balance
	v.s.st.accounts[i].UpdatedAt = time.Now().UTC()
	return nil
}

// ResolveAccount matches the reference case-insensitively, then the exact
// phone, then the exact name; phone and name must be unique.
func (v *view) ResolveAccount(_ context.Context, tenantID uuid.UUID, hint reconciliation.AccountHint) (string, error) {
	if err := v.check("ResolveAccount", tenantID); err != nil {
		return "", err
	}
	var byPhone, byName []string
	for _, a := range v.s.st.accounts {
		if a.TenantID != tenantID {
			continue
		}
		if hint.Reference != "" && strings.EqualFold(a.AccountRef, strings.TrimSpace(hint.Reference)) {
			return a.AccountRef, nil
		}
		if hint.Phone != "" && a.Phone == hint.Phone {
			byPhone = append(byPhone, a.AccountRef)
		}
		if hint.Name != "" && strings.EqualFold(a.HolderName, strings.TrimSpace(hint.Name)) {
			byName = append(byName, a.AccountRef)
		}
	}
	if len(byPhone) == 1 {
		return byPhone[0], nil
	}
	if len(byName) == 1 {
		return byName[0], nil
	}
	return "", reconciliation.ErrAccountNotFound
}

func (v *view) account(tenantID uuid.UUID, ref string) int {
	for i, a := range v.s.st.accounts {
		if a.TenantID == tenantID && a.AccountRef == ref {
			return i
		}
	}
	return -1
}
