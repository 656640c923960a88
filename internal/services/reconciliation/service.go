package reconciliation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"fee-reconciliation-backend/internal/models"
	"fee-reconciliation-backend/internal/services/matching"

	"github.com/google/uuid"
)

// Service exposes the synchronous entry points: bulk import, real-time
// intake and the manual review actions.
type Service struct {
	store   Store
	ledger  Ledger
	pool    *CandidatePool
	applier *Applier
	audit   *AuditRecorder
	cfg     Config
	now     func() time.Time
	log     *slog.Logger
}

func NewService(store Store, ledger Ledger, cfg Config, opts ...Option) *Service {
	o := buildOptions(opts)
	cfg = cfg.withDefaults()
	audit := NewAuditRecorder(o.now)
	return &Service{
		store:   store,
		ledger:  ledger,
		pool:    NewCandidatePool(ledger, cfg.CandidateLookback),
		applier: NewApplier(store, audit, o.now),
		audit:   audit,
		cfg:     cfg,
		now:     o.now,
		log:     o.logger,
	}
}

// ManualMatch forces a match between an external transaction and a ledger
// payment, bypassing the confidence threshold. A payment already claimed by
// another transaction yields ErrManualMatchConflict and changes nothing.
func (s *Service) ManualMatch(ctx context.Context, transactionID, paymentID uuid.UUID, actor string) (*models.ExternalTransaction, error) {
	current, err := s.store.GetExternalTransaction(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if current.Status == models.StatusMatched {
		if current.MatchedPaymentID != nil && *current.MatchedPaymentID == paymentID {
			return current, nil
		}
		return nil, fmt.Errorf("%w: %s already matched to another payment", ErrInvalidTransition, transactionID)
	}
	if _, err := s.ledger.GetPayment(ctx, current.TenantID, paymentID); err != nil {
		return nil, fmt.Errorf("payment %s: %w", paymentID, err)
	}

	applied, err := s.applier.Apply(ctx, Application{
		TransactionID: transactionID,
		Result:        matching.Result{CandidateID: &paymentID, Confidence: matching.ReferenceConfidence, MatchType: models.MatchTypeManual},
		From:          manualMatchFrom,
		Action:        models.ActionManualMatch,
		Actor:         actor,
	})
	switch {
	case errors.Is(err, ErrClaimConflict):
		return nil, fmt.Errorf("%w: payment %s is claimed by another transaction", ErrManualMatchConflict, paymentID)
	case errors.Is(err, ErrAlreadyApplied):
		return nil, fmt.Errorf("%w: %s was matched concurrently", ErrInvalidTransition, transactionID)
	case err != nil:
		return nil, err
	}

	s.log.Info("manual match applied",
		"tenant_id", applied.TenantID,
		"transaction_id", applied.ID,
		"payment_id", paymentID,
		"performed_by", actor)
	return applied, nil
}

var ignorableFrom = []models.TransactionStatus{models.StatusUnmatched, models.StatusPartialMatch, models.StatusException}

// Ignore takes an unresolved transaction out of reconciliation for good.
func (s *Service) Ignore(ctx context.Context, transactionID uuid.UUID, actor, reason string) (*models.ExternalTransaction, error) {
	var out *models.ExternalTransaction
	err := s.store.Atomic(ctx, func(tx Store, _ Ledger) error {
		current, err := tx.GetExternalTransaction(ctx, transactionID)
		if err != nil {
			return err
		}
		if current.Status == models.StatusIgnored {
			out = current
			return nil
		}
		if !slices.Contains(ignorableFrom, current.Status) {
			return fmt.Errorf("%w: cannot ignore a %s transaction", ErrInvalidTransition, current.Status)
		}

		updated := *current
		updated.Status = models.StatusIgnored
		updated.MatchedPaymentID = nil
		if err := tx.TransitionExternalTransaction(ctx, &updated, []models.TransactionStatus{current.Status}); err != nil {
			return err
		}
		now := s.now()
		if err := settleQueueItem(ctx, tx, current.ID, models.QueueIgnored, current.Confidence, "", now); err != nil {
			return err
		}
		if err := s.audit.Transition(ctx, tx, models.ActionIgnored, current, &updated, actor, reason); err != nil {
			return err
		}
		out = &updated
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Suggestions ranks the open candidates for manual review.
func (s *Service) Suggestions(ctx context.Context, transactionID uuid.UUID, limit int) ([]matching.Result, error) {
	tx, err := s.store.GetExternalTransaction(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	pool, err := s.pool.ForTransaction(ctx, tx)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = s.cfg.SuggestionLimit
	}
	return topN(matching.Rank(*tx, pool), limit), nil
}

func (s *Service) ListTransactions(ctx context.Context, q ListQuery) (Page, error) {
	if q.TenantID == uuid.Nil {
		return Page{}, &ValidationError{Field: "tenant_id", Reason: "required"}
	}
	if q.Limit <= 0 || q.Limit > 200 {
		q.Limit = 50
	}
	return s.store.ListExternalTransactions(ctx, q)
}

func (s *Service) GetTransaction(ctx context.Context, id uuid.UUID) (*models.ExternalTransaction, error) {
	return s.store.GetExternalTransaction(ctx, id)
}

func (s *Service) AuditTrail(ctx context.Context, transactionID uuid.UUID) ([]models.MatchAuditLog, error) {
	return s.store.ListAudit(ctx, transactionID)
}

func (s *Service) GetImportBatch(ctx context.Context, id uuid.UUID) (*models.ImportBatch, error) {
	return s.store.GetImportBatch(ctx, id)
}

func topN(results []matching.Result, n int) []matching.Result {
	if len(results) > n {
		return results[:n]
	}
	return results
}
