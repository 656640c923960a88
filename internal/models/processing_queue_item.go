package models

import (
	"time"

	"github.com/google/uuid"
)

type QueueStatus string

const (
	QueuePending      QueueStatus = "pending"
	QueuePartialMatch QueueStatus = QueueStatus(StatusPartialMatch)
	QueueMatched      QueueStatus = QueueStatus(StatusMatched)
	QueueUnmatched    QueueStatus = QueueStatus(StatusUnmatched)
	QueueException    QueueStatus = QueueStatus(StatusException)
	QueueIgnored      QueueStatus = QueueStatus(StatusIgnored)
)

// SchedulableStatuses are the only queue states picked up by a scheduler pass.
var SchedulableStatuses = []QueueStatus{QueuePending, QueuePartialMatch}

const DefaultMaxRetries = 5

type ProcessingQueueItem struct {
	ID                    uuid.UUID   `gorm:"type:uuid;primaryKey" json:"id"`
	ExternalTransactionID uuid.UUID   `gorm:"type:uuid;uniqueIndex" json:"external_transaction_id"`
	TenantID              uuid.UUID   `gorm:"type:uuid;index" json:"tenant_id"`
	MatchStatus           QueueStatus `gorm:"size:20;index" json:"match_status"`
	RetryCount            int         `json:"retry_count"`
	MaxRetries            int         `json:"max_retries"`
	NextRetryAt           *time.Time  `gorm:"index" json:"next_retry_at,omitempty"`
	ProcessedAt           *time.Time  `json:"processed_at,omitempty"`
	Confidence            int         `json:"confidence"`
	LastError             string      `json:"last_error,omitempty"`
	CreatedAt             time.Time   `json:"created_at"`
	UpdatedAt             time.Time   `json:"updated_at"`
}
