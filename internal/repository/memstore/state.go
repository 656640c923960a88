package memstore

import (
	"maps"
	"slices"
	"strings"
	"time"

	"fee-reconciliation-backend/internal/models"

	"github.com/google/uuid"
)

type state struct {
	txs      map[uuid.UUID]models.ExternalTransaction
	txOrder  []uuid.UUID
	queue    map[uuid.UUID]models.ProcessingQueueItem
	claims   map[uuid.UUID]models.PaymentClaim
	audit    []models.MatchAuditLog
	batches  map[uuid.UUID]models.ImportBatch
	accounts []models.Account
	invoices []models.Invoice
	payments []models.Payment
}

func newState() *state {
	return &state{
		txs:     map[uuid.UUID]models.ExternalTransaction{},
		queue:   map[uuid.UUID]models.ProcessingQueueItem{},
		claims:  map[uuid.UUID]models.PaymentClaim{},
		batches: map[uuid.UUID]models.ImportBatch{},
	}
}

// clone copies every collection. Records are stored by value and pointer
// fields are only ever replaced, so a shallow copy per record suffices.
func (s *state) clone() *state {
	return &state{
		txs:      maps.Clone(s.txs),
		txOrder:  slices.Clone(s.txOrder),
		queue:    maps.Clone(s.queue),
		claims:   maps.Clone(s.claims),
		audit:    slices.Clone(s.audit),
		batches:  maps.Clone(s.batches),
		accounts: slices.Clone(s.accounts),
		invoices: slices.Clone(s.invoices),
		payments: slices.Clone(s.payments),
	}
}

// AddAccount seeds a ledger account.
func (s *Store) AddAccount(a models.Account) models.Account {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	s.st.accounts = append(s.st.accounts, a)
	return a
}

func (s *Store) AddInvoice(inv models.Invoice) models.Invoice {
	s.mu.Lock()
	defer s.mu.Unlock()
	if inv.ID == uuid.Nil {
		inv.ID = uuid.New()
	}
	s.st.invoices = append(s.st.invoices, inv)
	return inv
}

// AddPayment seeds a ledger payment, confirmed unless a status is given.
func (s *Store) AddPayment(p models.Payment) models.Payment {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	if p.Status == "" {
		p.Status = models.PaymentConfirmed
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = p.PaidAt
	}
	s.st.payments = append(s.st.payments, p)
	return p
}

// SeedPayment is AddPayment for the common case.
func (s *Store) SeedPayment(tenantID uuid.UUID, amount int64, paidAt time.Time, reference string) uuid.UUID {
	p := models.Payment{TenantID: tenantID, Amount: amount, PaidAt: paidAt}
	if reference != "" {
		p.ExternalReference = &reference
	}
	return s.AddPayment(p).ID
}

// Transactions returns every external transaction in insertion order.
func (s *Store) Transactions() []models.ExternalTransaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.ExternalTransaction, 0, len(s.st.txOrder))
	for _, id := range s.st.txOrder {
		out = append(out, s.st.txs[id])
	}
	return out
}

func (s *Store) QueueItems() []models.ProcessingQueueItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := slices.Collect(maps.Values(s.st.queue))
	slices.SortFunc(out, func(a, b models.ProcessingQueueItem) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID.String(), b.ID.String())
	})
	return out
}

func (s *Store) Claims() map[uuid.UUID]models.PaymentClaim {
	s.mu.Lock()
	defer s.mu.Unlock()
	return maps.Clone(s.st.claims)
}

func (s *Store) AuditLog() []models.MatchAuditLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.st.audit)
}

func (s *Store) Payments() []models.Payment {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.st.payments)
}

func (s *Store) Account(tenantID uuid.UUID, ref string) (models.Account, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.st.accounts {
		if a.TenantID == tenantID && a.AccountRef == ref {
			return a, true
		}
	}
	return models.Account{}, false
}
