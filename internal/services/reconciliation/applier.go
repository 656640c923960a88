package reconciliation

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"fee-reconciliation-backend/internal/models"
	"fee-reconciliation-backend/internal/services/matching"

	"github.com/google/uuid"
)

// autoMatchFrom lists the statuses an automatic match may start from.
var autoMatchFrom = []models.TransactionStatus{models.StatusUnmatched, models.StatusPartialMatch}

// manualMatchFrom additionally lets an operator resolve exceptions.
var manualMatchFrom = []models.TransactionStatus{models.StatusUnmatched, models.StatusPartialMatch, models.StatusException}

// Application describes one confirmed match to write to the ledger.
type Application struct {
	TransactionID uuid.UUID
	Result        matching.Result
	// AccountRef is used when Result has no candidate: a new payment is
	// created against this account.
	AccountRef string
	From       []models.TransactionStatus
	Action     models.AuditAction
	Actor      string
	Reason     string
}

// Applier performs the ledger side of a match. Each call is a single
// persistence transaction and is idempotent per external transaction: the
// status is re-read inside the transaction and nothing is written unless it
// is still claimable.
type Applier struct {
	store Store
	audit *AuditRecorder
	now   func() time.Time
}

func NewApplier(store Store, audit *AuditRecorder, now func() time.Time) *Applier {
	return &Applier{store: store, audit: audit, now: now}
}

func (a *Applier) Apply(ctx context.Context, app Application) (*models.ExternalTransaction, error) {
	if app.Result.CandidateID == nil && app.AccountRef == "" {
		return nil, errors.New("apply: neither candidate nor account given")
	}
	from := app.From
	if len(from) == 0 {
		from = autoMatchFrom
	}

	var applied *models.ExternalTransaction
	err := a.store.Atomic(ctx, func(tx Store, ledger Ledger) error {
		current, err := tx.GetExternalTransaction(ctx, app.TransactionID)
		if err != nil {
			return err
		}
		if current.Status == models.StatusMatched {
			return ErrAlreadyApplied
		}
		if !slices.Contains(from, current.Status) {
			return fmt.Errorf("%w: %s is %s", ErrInvalidTransition, current.ID, current.Status)
		}

		result := app.Result
		if result.CandidateID == nil {
			paymentID, err := a.credit(ctx, ledger, current, app.AccountRef)
			if err != nil {
				return err
			}
			result = matching.Result{CandidateID: &paymentID, Confidence: matching.ReferenceConfidence, MatchType: models.MatchTypeAccount}
		}

		now := a.now()
		claim := &models.PaymentClaim{
			PaymentID:             *result.CandidateID,
			ExternalTransactionID: current.ID,
			TenantID:              current.TenantID,
			ClaimedAt:             now,
		}
		if err := tx.ClaimPayment(ctx, claim); err != nil {
			return err
		}

		updated := *current
		updated.Status = models.StatusMatched
		updated.MatchedPaymentID = result.CandidateID
		updated.Confidence = result.Confidence
		updated.MatchType = result.MatchType
		updated.LastError = ""
		if err := tx.TransitionExternalTransaction(ctx, &updated, []models.TransactionStatus{current.Status}); err != nil {
			return err
		}

		if err := settleQueueItem(ctx, tx, current.ID, models.QueueMatched, result.Confidence, "", now); err != nil {
			return err
		}
		if err := a.audit.Transition(ctx, tx, app.Action, current, &updated, app.Actor, app.Reason); err != nil {
			return err
		}
		applied = &updated
		return nil
	})
	if err != nil {
		return nil, err
	}
	return applied, nil
}

// credit records new inbound money that has no ledger payment yet.
func (a *Applier) credit(ctx context.Context, ledger Ledger, tx *models.ExternalTransaction, accountRef string) (uuid.UUID, error) {
	paymentID, err := ledger.CreatePayment(ctx, tx.TenantID, accountRef, tx.Amount, tx.ID.String())
	if err != nil {
		return uuid.Nil, fmt.Errorf("create payment for %s: %w", tx.ID, err)
	}
	if err := ledger.RecomputeBalance(ctx, tx.TenantID, accountRef); err != nil {
		return uuid.Nil, fmt.Errorf("recompute balance of %s: %w", accountRef, err)
	}
	return paymentID, nil
}

// settleQueueItem finalizes the queue item of an external transaction, if it
// has one. Bulk-imported transactions have none.
func settleQueueItem(
	ctx context.Context,
	store Store,
	transactionID uuid.UUID,
	status models.QueueStatus,
	confidence int,
	lastErr string,
	now time.Time,
) error {
	item, err := store.GetQueueItemByTransaction(ctx, transactionID)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if item.MatchStatus == status && item.ProcessedAt != nil {
		return nil
	}
	item.MatchStatus = status
	item.Confidence = confidence
	item.LastError = lastErr
	item.NextRetryAt = nil
	item.ProcessedAt = &now
	return store.UpdateQueueItem(ctx, item, item.RetryCount)
}
