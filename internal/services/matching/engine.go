// Package matching scores one external transaction against a pool of
// candidate ledger payments. It performs no I/O.
package matching

import (
	"sort"
	"strings"
	"time"
	"unicode"

	"fee-reconciliation-backend/internal/models"

	"github.com/google/uuid"
)

const (
	ReferenceConfidence    = 100
	SameDayConfidence      = 95
	NearDateBaseConfidence = 80
	NearDateStep           = 5
	MaxDateDistanceDays    = 3

	// AmountTolerance is in minor units and is the same for every currency.
	AmountTolerance = 1

	AutoMatchThreshold = 95
)

// Result is the outcome of scoring. CandidateID is nil when nothing scored.
type Result struct {
	CandidateID *uuid.UUID       `json:"candidate_id"`
	Confidence  int              `json:"confidence"`
	MatchType   models.MatchType `json:"match_type"`
}

func NoMatch() Result {
	return Result{MatchType: models.MatchTypeNone}
}

type Decision int

const (
	DecisionNone Decision = iota
	DecisionReview
	DecisionAutoMatch
)

func (d Decision) String() string {
	switch d {
	case DecisionAutoMatch:
		return "auto_match"
	case DecisionReview:
		return "review"
	default:
		return "none"
	}
}

// Decide applies the auto-match threshold.
func Decide(r Result) Decision {
	switch {
	case r.CandidateID != nil && r.Confidence >= AutoMatchThreshold:
		return DecisionAutoMatch
	case r.CandidateID != nil && r.Confidence > 0:
		return DecisionReview
	default:
		return DecisionNone
	}
}

// Match returns the single best candidate for tx. A reference hit ends the
// scan; otherwise the highest amount/date score wins and ties keep the
// earliest candidate in pool order.
func Match(tx models.ExternalTransaction, pool []models.CandidatePayment) Result {
	ref := NormalizeReference(tx.Reference())

	best := NoMatch()
	for i := range pool {
		c := &pool[i]
		if referencesMatch(ref, c.ExternalReference) {
			return result(c.ID, ReferenceConfidence, models.MatchTypeReference)
		}
		if score := amountDateScore(tx, c); score > best.Confidence {
			best = result(c.ID, score, models.MatchTypeAmountDate)
		}
	}
	return best
}

// Rank scores every candidate and returns those with a positive score,
// highest first. Equal scores keep pool order.
func Rank(tx models.ExternalTransaction, pool []models.CandidatePayment) []Result {
	ref := NormalizeReference(tx.Reference())

	var out []Result
	for i := range pool {
		c := &pool[i]
		if referencesMatch(ref, c.ExternalReference) {
			out = append(out, result(c.ID, ReferenceConfidence, models.MatchTypeReference))
			continue
		}
		if score := amountDateScore(tx, c); score > 0 {
			out = append(out, result(c.ID, score, models.MatchTypeAmountDate))
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Confidence > out[j].Confidence
	})
	return out
}

// NormalizeReference drops all whitespace and upper-cases.
func NormalizeReference(s string) string {
	return strings.ToUpper(strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s))
}

// referencesMatch keeps the loose containment rule: a short reference such
// as "1" matches "1042". Empty references never match.
func referencesMatch(normalized string, candidate *string) bool {
	if normalized == "" || candidate == nil {
		return false
	}
	other := NormalizeReference(*candidate)
	if other == "" {
		return false
	}
	return normalized == other ||
		strings.Contains(normalized, other) ||
		strings.Contains(other, normalized)
}

func amountDateScore(tx models.ExternalTransaction, c *models.CandidatePayment) int {
	diff := tx.Amount - c.Amount
	if diff < 0 {
		diff = -diff
	}
	if diff > AmountTolerance {
		return 0
	}

	days := DaysBetween(tx.ReportedDate, c.Date)
	switch {
	case days == 0:
		return SameDayConfidence
	case days <= MaxDateDistanceDays:
		return NearDateBaseConfidence - NearDateStep*days
	default:
		return 0
	}
}

// DaysBetween is the absolute number of calendar days between a and b, each
// read in its own location.
func DaysBetween(a, b time.Time) int {
	da := civilDay(a)
	db := civilDay(b)
	d := int(da.Sub(db).Hours() / 24)
	if d < 0 {
		d = -d
	}
	return d
}

func civilDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func result(id uuid.UUID, confidence int, mt models.MatchType) Result {
	return Result{CandidateID: &id, Confidence: confidence, MatchType: mt}
}
