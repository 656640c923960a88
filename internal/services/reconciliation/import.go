package reconciliation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"fee-reconciliation-backend/internal/models"
	"fee-reconciliation-backend/internal/services/matching"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// ImportLine is one externally reported statement line. Amount is in minor
// units. BankTransactionID is the provider's own unique id for the line
// (OFX FITID) and is used only for duplicate detection.
type ImportLine struct {
	Source            models.Source `json:"source"`
	ExternalReference string        `json:"external_reference,omitempty"`
	BankTransactionID string        `json:"bank_transaction_id,omitempty"`
	Amount            int64         `json:"amount"`
	ReportedDate      *time.Time    `json:"reported_date,omitempty"`
	Description       string        `json:"description,omitempty"`
}

type ImportRequest struct {
	TenantID uuid.UUID
	Filename string
	Lines    []ImportLine
}

// LineResult is returned for every input line, matched or not, so the
// caller can present the remainder for manual matching.
type LineResult struct {
	Line                  int                      `json:"line"`
	ExternalTransactionID uuid.UUID                `json:"external_transaction_id"`
	Status                models.TransactionStatus `json:"status"`
	Match                 matching.Result          `json:"match"`
	Suggestions           []matching.Result        `json:"suggestions,omitempty"`
	DuplicateOf           *uuid.UUID               `json:"duplicate_of,omitempty"`
	Error                 string                   `json:"error,omitempty"`
}

type ImportSummary struct {
	BatchID    uuid.UUID    `json:"batch_id"`
	Total      int          `json:"total"`
	Matched    int          `json:"matched"`
	Unmatched  int          `json:"unmatched"`
	Duplicates int          `json:"duplicates"`
	Results    []LineResult `json:"results"`
}

func (r ImportRequest) Validate() error {
	if r.TenantID == uuid.Nil {
		return &ValidationError{Field: "tenant_id", Reason: "required"}
	}
	if len(r.Lines) == 0 {
		return &ValidationError{Field: "lines", Reason: "at least one line is required"}
	}
	for i, l := range r.Lines {
		if !l.Source.Valid() {
			return &ValidationError{Line: i + 1, Field: "source", Reason: fmt.Sprintf("unknown source %q", l.Source)}
		}
		if l.Amount <= 0 {
			return &ValidationError{Line: i + 1, Field: "amount", Reason: "must be positive"}
		}
	}
	return nil
}

// Import stores a statement as unmatched external transactions and makes a
// single matching sweep over it. Lines scoring at or above the auto-match
// threshold are applied; the rest are left for review. There is no retry on
// this path.
func (s *Service) Import(ctx context.Context, req ImportRequest) (*ImportSummary, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	now := s.now()
	batch := &models.ImportBatch{
		ID:                uuid.New(),
		TenantID:          req.TenantID,
		Filename:          req.Filename,
		TotalTransactions: len(req.Lines),
		Status:            models.BatchProcessing,
		StartedAt:         now,
		CreatedAt:         now,
	}

	txs := make([]*models.ExternalTransaction, len(req.Lines))
	for i, l := range req.Lines {
		txs[i] = newImportedTransaction(req.TenantID, batch.ID, l, now)
	}

	err := s.store.Atomic(ctx, func(store Store, _ Ledger) error {
		if err := store.CreateImportBatch(ctx, batch); err != nil {
			return err
		}
		for i, tx := range txs {
			if err := s.markIfDuplicate(ctx, store, tx, txs[:i]); err != nil {
				return err
			}
			if err := store.CreateExternalTransaction(ctx, tx); err != nil {
				return fmt.Errorf("insert line %d: %w", i+1, err)
			}
			if tx.Status == models.StatusDuplicate {
				if err := s.audit.Transition(ctx, store, models.ActionDuplicateDetected, nil, tx, ActorImport, "duplicate of "+tx.DuplicateOfID.String()); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("store import batch: %w", err)
	}

	// The lines are committed; a failed pool read leaves them unmatched for
	// review rather than failing the import.
	pool, poolErr := s.pool.ForTenant(ctx, req.TenantID)
	if poolErr != nil {
		s.log.Error("failed to load candidate pool, import left unswept",
			"tenant_id", req.TenantID,
			"batch_id", batch.ID,
			"error", poolErr)
	}

	summary := &ImportSummary{BatchID: batch.ID, Total: len(txs), Results: make([]LineResult, len(txs))}
	for i, tx := range txs {
		res := LineResult{Line: i + 1, ExternalTransactionID: tx.ID, Status: tx.Status, Match: matching.NoMatch()}
		if tx.Status == models.StatusDuplicate {
			res.DuplicateOf = tx.DuplicateOfID
			summary.Duplicates++
			summary.Results[i] = res
			continue
		}
		if poolErr != nil {
			res.Error = poolErr.Error()
			summary.Results[i] = res
			continue
		}
		pool = s.sweepLine(ctx, tx, pool, &res)
		if res.Status == models.StatusMatched {
			summary.Matched++
		}
		summary.Results[i] = res
	}
	summary.Unmatched = summary.Total - summary.Matched

	batch.MatchedCount = summary.Matched
	batch.DuplicateCount = summary.Duplicates
	for _, r := range summary.Results {
		switch r.Status {
		case models.StatusPartialMatch:
			batch.NeedsReviewCount++
		case models.StatusUnmatched, models.StatusException:
			batch.UnmatchedCount++
		}
	}
	completed := s.now()
	batch.Status = models.BatchCompleted
	batch.CompletedAt = &completed
	if err := s.store.CompleteImportBatch(ctx, batch); err != nil {
		s.log.Warn("failed to complete import batch", "batch_id", batch.ID, "error", err)
	}

	s.log.Info("statement imported",
		"tenant_id", req.TenantID,
		"batch_id", batch.ID,
		"total", summary.Total,
		"matched", summary.Matched,
		"duplicates", summary.Duplicates)
	return summary, nil
}

// sweepLine scores one line and applies the decision. It returns the pool
// with any newly claimed candidate removed.
func (s *Service) sweepLine(ctx context.Context, tx *models.ExternalTransaction, pool []models.CandidatePayment, res *LineResult) []models.CandidatePayment {
	match := matching.Match(*tx, pool)
	res.Match = match

	switch matching.Decide(match) {
	case matching.DecisionAutoMatch:
		applied, err := s.applier.Apply(ctx, Application{
			TransactionID: tx.ID,
			Result:        match,
			Action:        models.ActionAutoMatch,
			Actor:         ActorImport,
		})
		if err == nil {
			res.Status = applied.Status
			return withoutCandidate(pool, *match.CandidateID)
		}
		if errors.Is(err, ErrClaimConflict) {
			// claimed by a concurrent writer since the pool was loaded
			pool = withoutCandidate(pool, *match.CandidateID)
			res.Suggestions = topN(matching.Rank(*tx, pool), s.cfg.SuggestionLimit)
			res.Error = err.Error()
			return pool
		}
		s.log.Error("auto-match failed during import",
			"tenant_id", tx.TenantID,
			"transaction_id", tx.ID,
			"error", err)
		res.Error = err.Error()
		return pool

	case matching.DecisionReview:
		res.Suggestions = topN(matching.Rank(*tx, pool), s.cfg.SuggestionLimit)
		if err := s.markForReview(ctx, tx, match); err != nil {
			s.log.Error("failed to flag line for review",
				"tenant_id", tx.TenantID,
				"transaction_id", tx.ID,
				"error", err)
			res.Error = err.Error()
			return pool
		}
		res.Status = models.StatusPartialMatch
	}
	return pool
}

func (s *Service) markForReview(ctx context.Context, tx *models.ExternalTransaction, match matching.Result) error {
	return s.store.Atomic(ctx, func(store Store, _ Ledger) error {
		updated := *tx
		updated.Status = models.StatusPartialMatch
		updated.Confidence = match.Confidence
		updated.MatchType = match.MatchType
		if err := store.TransitionExternalTransaction(ctx, &updated, []models.TransactionStatus{models.StatusUnmatched}); err != nil {
			return err
		}
		return s.audit.Transition(ctx, store, models.ActionReview, tx, &updated, ActorImport, "")
	})
}

// DedupeKey derives the duplicate-detection key of a transaction. A provider
// transaction id identifies the movement on its own. A payer reference only
// does so within one calendar day, since instalments repeat it. Neither
// gives an empty key.
func DedupeKey(providerID, reference string, reported time.Time) string {
	if id := matching.NormalizeReference(providerID); id != "" {
		return "id:" + id
	}
	if ref := matching.NormalizeReference(reference); ref != "" {
		return "ref:" + ref + ":" + reported.Format(time.DateOnly)
	}
	return ""
}

// markIfDuplicate flags tx when an earlier live transaction, stored or
// earlier in the same request, has the same source, amount and dedupe key.
// Lines without a key are never duplicates: two equal payments on the same
// day are ordinary.
func (s *Service) markIfDuplicate(ctx context.Context, store Store, tx *models.ExternalTransaction, earlier []*models.ExternalTransaction) error {
	if tx.DedupeKey == "" {
		return nil
	}
	for _, e := range earlier {
		if e.Status != models.StatusDuplicate && e.Source == tx.Source && e.Amount == tx.Amount &&
			e.DedupeKey == tx.DedupeKey {
			markDuplicate(tx, e.ID)
			return nil
		}
	}
	dup, err := store.FindDuplicate(ctx, tx)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	markDuplicate(tx, dup.ID)
	return nil
}

func markDuplicate(tx *models.ExternalTransaction, of uuid.UUID) {
	tx.Status = models.StatusDuplicate
	tx.DuplicateOfID = &of
}

func newImportedTransaction(tenantID, batchID uuid.UUID, l ImportLine, now time.Time) *models.ExternalTransaction {
	reported := now
	if l.ReportedDate != nil {
		reported = *l.ReportedDate
	}
	tx := &models.ExternalTransaction{
		ID:            uuid.New(),
		TenantID:      tenantID,
		ImportBatchID: &batchID,
		Source:        l.Source,
		Amount:        l.Amount,
		ReportedDate:  reported,
		Description:   l.Description,
		Status:        models.StatusUnmatched,
		MatchType:     models.MatchTypeNone,
		Metadata:      datatypes.NewJSONType(models.EventMetadata{Version: models.EventMetadataVersion}),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	ref := strings.TrimSpace(l.ExternalReference)
	if ref != "" {
		tx.ExternalReference = &ref
	}
	tx.DedupeKey = DedupeKey(l.BankTransactionID, ref, reported)
	return tx
}
