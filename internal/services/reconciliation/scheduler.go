package reconciliation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"fee-reconciliation-backend/internal/models"
	"fee-reconciliation-backend/internal/services/matching"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Scheduler drains the processing queue. It is invoked periodically by an
// external trigger and processes one bounded batch per call; a crashed pass
// leaves every item in its last written state for the next one.
type Scheduler struct {
	store   Store
	ledger  Ledger
	pool    *CandidatePool
	applier *Applier
	audit   *AuditRecorder
	cfg     Config
	now     func() time.Time
	log     *slog.Logger
}

func NewScheduler(store Store, ledger Ledger, cfg Config, opts ...Option) *Scheduler {
	o := buildOptions(opts)
	cfg = cfg.withDefaults()
	audit := NewAuditRecorder(o.now)
	return &Scheduler{
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

type PassOptions struct {
	BatchSize int
	TenantID  *uuid.UUID
}

type PassResult struct {
	Processed int `json:"processed"`
	Matched   int `json:"matched"`
	Failed    int `json:"failed"`
	Exhausted int `json:"exhausted"`
}

type outcome int

const (
	outcomeRetry outcome = iota
	outcomeMatched
	outcomeExhausted
	outcomeSettled
	outcomeSkipped
)

// RunPass processes up to one batch of due queue items. Failures are
// isolated per item.
func (s *Scheduler) RunPass(ctx context.Context, opts PassOptions) (PassResult, error) {
	limit := opts.BatchSize
	if limit <= 0 {
		limit = s.cfg.BatchSize
	}
	items, err := s.store.DueQueueItems(ctx, DueQuery{Now: s.now(), Limit: limit, TenantID: opts.TenantID})
	if err != nil {
		return PassResult{}, fmt.Errorf("select due queue items: %w", err)
	}

	var matched, failed, exhausted atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)
	for _, item := range items {
		g.Go(func() error {
			out, err := s.processItem(gctx, item)
			if err != nil {
				failed.Add(1)
				s.fail(gctx, item, err)
				return nil
			}
			switch out {
			case outcomeMatched:
				matched.Add(1)
			case outcomeExhausted:
				exhausted.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	res := PassResult{
		Processed: len(items),
		Matched:   int(matched.Load()),
		Failed:    int(failed.Load()),
		Exhausted: int(exhausted.Load()),
	}
	if res.Processed > 0 {
		s.log.Info("scheduler pass finished",
			"processed", res.Processed,
			"matched", res.Matched,
			"failed", res.Failed,
			"exhausted", res.Exhausted)
	}
	return res, nil
}

func (s *Scheduler) processItem(ctx context.Context, item models.ProcessingQueueItem) (outcome, error) {
	tx, err := s.store.GetExternalTransaction(ctx, item.ExternalTransactionID)
	if err != nil {
		return outcomeRetry, fmt.Errorf("load external transaction: %w", err)
	}
	if tx.Status.Resolved() {
		// resolved elsewhere, e.g. by a manual match
		return outcomeSettled, s.settle(ctx, item, tx)
	}

	pool, err := s.pool.ForTransaction(ctx, tx)
	if err != nil {
		return outcomeRetry, err
	}
	match := matching.Match(*tx, pool)

	switch matching.Decide(match) {
	case matching.DecisionAutoMatch:
		_, err := s.applier.Apply(ctx, Application{
			TransactionID: tx.ID,
			Result:        match,
			Action:        models.ActionAutoMatch,
			Actor:         ActorScheduler,
		})
		switch {
		case err == nil:
			return outcomeMatched, nil
		case errors.Is(err, ErrClaimConflict):
			s.log.Debug("candidate claimed concurrently, retrying later",
				"transaction_id", tx.ID,
				"payment_id", match.CandidateID)
			return s.scheduleRetry(ctx, item, tx, matching.NoMatch())
		case errors.Is(err, ErrAlreadyApplied), errors.Is(err, ErrStaleState), errors.Is(err, ErrInvalidTransition):
			// resolved since it was read; the next pass settles the item
			return outcomeSkipped, nil
		default:
			return outcomeRetry, err
		}

	case matching.DecisionNone:
		// only money with no candidate at all is credited directly
		applied, err := s.directCredit(ctx, tx)
		if err != nil {
			return outcomeRetry, err
		}
		if applied {
			return outcomeMatched, nil
		}
	}

	return s.scheduleRetry(ctx, item, tx, match)
}

// directCredit applies money that has no ledger payment yet when the
// notification names exactly one account. It reports whether it applied.
func (s *Scheduler) directCredit(ctx context.Context, tx *models.ExternalTransaction) (bool, error) {
	meta := tx.Metadata.Data()
	hint := AccountHint{Reference: meta.AccountReference, Phone: meta.SenderPhone, Name: meta.SenderName}
	if hint.Empty() {
		return false, nil
	}
	accountRef, err := s.ledger.ResolveAccount(ctx, tx.TenantID, hint)
	if errors.Is(err, ErrAccountNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("resolve account: %w", err)
	}

	_, err = s.applier.Apply(ctx, Application{
		TransactionID: tx.ID,
		AccountRef:    accountRef,
		Action:        models.ActionDirectCredit,
		Actor:         ActorScheduler,
		Reason:        "credited to account " + accountRef,
	})
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ErrAlreadyApplied), errors.Is(err, ErrStaleState):
		return true, nil
	case errors.Is(err, ErrClaimConflict):
		return false, nil
	default:
		return false, err
	}
}

// scheduleRetry books one unsuccessful attempt. The attempt that brings
// retry_count to max_retries makes the item terminal unmatched.
func (s *Scheduler) scheduleRetry(ctx context.Context, item models.ProcessingQueueItem, tx *models.ExternalTransaction, match matching.Result) (outcome, error) {
	now := s.now()
	next := item
	next.RetryCount++
	next.Confidence = match.Confidence
	next.LastError = ""

	updated := *tx
	updated.Confidence = match.Confidence
	updated.MatchType = match.MatchType
	updated.MatchedPaymentID = nil

	out := outcomeRetry
	action := models.ActionReview
	if next.RetryCount >= next.MaxRetries {
		out = outcomeExhausted
		action = models.ActionRetriesExhausted
		next.MatchStatus = models.QueueUnmatched
		next.NextRetryAt = nil
		next.ProcessedAt = &now
		updated.Status = models.StatusUnmatched
	} else {
		retryAt := now.Add(s.cfg.RetryDelay)
		next.NextRetryAt = &retryAt
		next.MatchStatus = models.QueuePending
		updated.Status = models.StatusUnmatched
		if matching.Decide(match) == matching.DecisionReview {
			next.MatchStatus = models.QueuePartialMatch
			updated.Status = models.StatusPartialMatch
		}
	}

	err := s.store.Atomic(ctx, func(store Store, _ Ledger) error {
		if err := store.UpdateQueueItem(ctx, &next, item.RetryCount); err != nil {
			return err
		}
		if updated.Status == tx.Status && updated.Confidence == tx.Confidence && out != outcomeExhausted {
			return nil
		}
		if err := store.TransitionExternalTransaction(ctx, &updated, autoMatchFrom); err != nil {
			return err
		}
		if updated.Status == tx.Status && out != outcomeExhausted {
			return nil
		}
		reason := ""
		if out == outcomeExhausted {
			reason = fmt.Sprintf("no match after %d attempts", next.RetryCount)
		}
		return s.audit.Transition(ctx, store, action, tx, &updated, ActorScheduler, reason)
	})
	if errors.Is(err, ErrStaleState) {
		return outcomeSkipped, nil
	}
	if err != nil {
		return outcomeRetry, err
	}
	return out, nil
}

// settle mirrors an already resolved transaction onto its queue item
// without touching the ledger or the audit trail.
func (s *Scheduler) settle(ctx context.Context, item models.ProcessingQueueItem, tx *models.ExternalTransaction) error {
	err := s.store.Atomic(ctx, func(store Store, _ Ledger) error {
		return settleQueueItem(ctx, store, item.ExternalTransactionID, models.QueueStatus(tx.Status), tx.Confidence, tx.LastError, s.now())
	})
	if errors.Is(err, ErrStaleState) {
		return nil
	}
	return err
}

// fail handles an item whose processing returned an error. Transient
// persistence errors leave the item as it is for the next pass. A
// transaction resolved in the meantime is mirrored onto its item; anything
// else parks it in exception for an operator.
func (s *Scheduler) fail(ctx context.Context, item models.ProcessingQueueItem, cause error) {
	logger := s.log.With(
		"tenant_id", item.TenantID,
		"queue_item_id", item.ID,
		"transaction_id", item.ExternalTransactionID)

	if IsTransient(cause) {
		logger.Warn("transient failure, item left for next pass", "error", cause)
		return
	}
	logger.Error("queue item failed", "error", cause)

	err := s.store.Atomic(ctx, func(store Store, _ Ledger) error {
		now := s.now()
		tx, err := store.GetExternalTransaction(ctx, item.ExternalTransactionID)
		switch {
		case errors.Is(err, ErrNotFound):
		case err != nil:
			return err
		case tx.Status.Resolved():
			return settleQueueItem(ctx, store, item.ExternalTransactionID, models.QueueStatus(tx.Status), tx.Confidence, tx.LastError, now)
		default:
			updated := *tx
			updated.Status = models.StatusException
			updated.MatchedPaymentID = nil
			updated.LastError = cause.Error()
			if err := store.TransitionExternalTransaction(ctx, &updated, autoMatchFrom); err != nil {
				return err
			}
			if err := s.audit.Transition(ctx, store, models.ActionException, tx, &updated, ActorScheduler, cause.Error()); err != nil {
				return err
			}
		}

		next := item
		next.MatchStatus = models.QueueException
		next.LastError = cause.Error()
		next.NextRetryAt = nil
		next.ProcessedAt = &now
		return store.UpdateQueueItem(ctx, &next, item.RetryCount)
	})
	if err != nil {
		logger.Error("failed to record queue item exception", "error", err)
	}
}
