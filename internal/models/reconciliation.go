package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	BatchProcessing = "processing"
	BatchCompleted  = "completed"
)

// ImportBatch records one bulk statement import and its outcome counts.
type ImportBatch struct {
	ID                uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	TenantID          uuid.UUID  `gorm:"type:uuid;index" json:"tenant_id"`
	Filename          string     `json:"filename,omitempty"`
	TotalTransactions int        `json:"total_transactions"`
	MatchedCount      int        `json:"matched_count"`
	NeedsReviewCount  int        `json:"needs_review_count"`
	UnmatchedCount    int        `json:"unmatched_count"`
	DuplicateCount    int        `json:"duplicate_count"`
	Status            string     `gorm:"size:20" json:"status"`
	StartedAt         time.Time  `json:"started_at"`
	CompletedAt       *time.Time `json:"completed_at,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
}
