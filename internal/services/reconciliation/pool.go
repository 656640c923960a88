package reconciliation

import (
	"context"
	"fmt"
	"time"

	"fee-reconciliation-backend/internal/models"

	"github.com/google/uuid"
)

// CandidatePool fetches the payments a transaction may be matched against.
// Claimed payments are never returned, so a payment held by a different
// transaction cannot be proposed twice.
type CandidatePool struct {
	ledger   Ledger
	lookback time.Duration
}

func NewCandidatePool(ledger Ledger, lookback time.Duration) *CandidatePool {
	return &CandidatePool{ledger: ledger, lookback: lookback}
}

// ForTransaction is recomputed for every item of a scheduler pass.
func (p *CandidatePool) ForTransaction(ctx context.Context, tx *models.ExternalTransaction) ([]models.CandidatePayment, error) {
	var filter PaymentFilter
	if p.lookback > 0 {
		since := tx.ReportedDate.Add(-p.lookback)
		until := tx.ReportedDate.Add(p.lookback)
		filter.Since = &since
		filter.Until = &until
	}
	pool, err := p.ledger.ListUnclaimedPayments(ctx, tx.TenantID, filter)
	if err != nil {
		return nil, fmt.Errorf("load candidate pool: %w", err)
	}
	return pool, nil
}

// ForTenant returns the whole unclaimed pool of a tenant.
func (p *CandidatePool) ForTenant(ctx context.Context, tenantID uuid.UUID) ([]models.CandidatePayment, error) {
	pool, err := p.ledger.ListUnclaimedPayments(ctx, tenantID, PaymentFilter{})
	if err != nil {
		return nil, fmt.Errorf("load candidate pool: %w", err)
	}
	return pool, nil
}

func withoutCandidate(pool []models.CandidatePayment, id uuid.UUID) []models.CandidatePayment {
	out := pool[:0:0]
	for _, c := range pool {
		if c.ID != id {
			out = append(out, c)
		}
	}
	return out
}
