package models

import (
	"time"

	"github.com/google/uuid"
)

type AuditAction string

const (
	ActionReceived          AuditAction = "received"
	ActionDuplicateDetected AuditAction = "duplicate_detected"
	ActionAutoMatch         AuditAction = "auto_match"
	ActionDirectCredit      AuditAction = "direct_credit"
	ActionManualMatch       AuditAction = "manual_match"
	ActionReview            AuditAction = "review"
	ActionRetriesExhausted  AuditAction = "retries_exhausted"
	ActionException         AuditAction = "exception"
	ActionIgnored           AuditAction = "ignored"
)

type MatchAuditLog struct {
	ID              uuid.UUID         `gorm:"type:uuid;primaryKey" json:"id"`
	TenantID        uuid.UUID         `gorm:"type:uuid;index" json:"tenant_id"`
	TransactionID   uuid.UUID         `gorm:"type:uuid;index" json:"transaction_id"`
	Action          AuditAction       `gorm:"size:32" json:"action"`
	PreviousStatus  TransactionStatus `gorm:"size:20" json:"previous_status,omitempty"`
	NewStatus       TransactionStatus `gorm:"size:20" json:"new_status"`
	PreviousPayment *uuid.UUID        `gorm:"type:uuid" json:"previous_payment,omitempty"`
	NewPayment      *uuid.UUID        `gorm:"type:uuid" json:"new_payment,omitempty"`
	Confidence      int               `json:"confidence"`
	MatchType       MatchType         `gorm:"size:20" json:"match_type,omitempty"`
	PerformedBy     string            `json:"performed_by"`
	Reason          string            `json:"reason,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
}
