package reconciliation

import (
	"context"
	"fmt"
	"time"

	"fee-reconciliation-backend/internal/models"

	"github.com/google/uuid"
)

// AuditRecorder appends one immutable record per state transition. It has
// no update or delete counterpart.
type AuditRecorder struct {
	now func() time.Time
}

func NewAuditRecorder(now func() time.Time) *AuditRecorder {
	return &AuditRecorder{now: now}
}

// Transition records before -> after. before may be nil for records created
// directly in a non-initial state.
func (a *AuditRecorder) Transition(
	ctx context.Context,
	store Store,
	action models.AuditAction,
	before, after *models.ExternalTransaction,
	actor, reason string,
) error {
	entry := models.MatchAuditLog{
		ID:            uuid.New(),
		TenantID:      after.TenantID,
		TransactionID: after.ID,
		Action:        action,
		NewStatus:     after.Status,
		NewPayment:    after.MatchedPaymentID,
		Confidence:    after.Confidence,
		MatchType:     after.MatchType,
		PerformedBy:   actor,
		Reason:        reason,
		CreatedAt:     a.now(),
	}
	if before != nil {
		entry.PreviousStatus = before.Status
		entry.PreviousPayment = before.MatchedPaymentID
	}
	if err := store.AppendAudit(ctx, &entry); err != nil {
		return fmt.Errorf("append audit %s for %s: %w", action, after.ID, err)
	}
	return nil
}
