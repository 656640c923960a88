package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type Source string

const (
	SourceBank        Source = "bank"
	SourceMobileMoney Source = "mobile_money"
	SourceCash        Source = "cash"
	SourceCheque      Source = "cheque"
	SourceOther       Source = "other"
)

func (s Source) Valid() bool {
	switch s {
	case SourceBank, SourceMobileMoney, SourceCash, SourceCheque, SourceOther:
		return true
	}
	return false
}

type TransactionStatus string

const (
	StatusUnmatched    TransactionStatus = "unmatched"
	StatusMatched      TransactionStatus = "matched"
	StatusPartialMatch TransactionStatus = "partial_match"
	StatusException    TransactionStatus = "exception"
	StatusDuplicate    TransactionStatus = "duplicate"
	StatusIgnored      TransactionStatus = "ignored"
)

// Resolved reports whether no automatic transition leaves this status.
func (s TransactionStatus) Resolved() bool {
	switch s {
	case StatusMatched, StatusException, StatusDuplicate, StatusIgnored:
		return true
	}
	return false
}

type MatchType string

const (
	MatchTypeReference  MatchType = "reference"
	MatchTypeAmountDate MatchType = "amount_date"
	MatchTypeAccount    MatchType = "account"
	MatchTypeManual     MatchType = "manual"
	MatchTypeNone       MatchType = "none"
)

// EventMetadata carries the sender details of a real-time notification.
// Bump Version when fields change meaning.
type EventMetadata struct {
	Version          int    `json:"version"`
	Currency         string `json:"currency,omitempty"`
	SenderPhone      string `json:"sender_phone,omitempty"`
	SenderName       string `json:"sender_name,omitempty"`
	BankReference    string `json:"bank_reference,omitempty"`
	AccountReference string `json:"account_reference,omitempty"`
}

const EventMetadataVersion = 1

// ExternalTransaction is one externally reported money movement. Amount is in
// minor currency units.
type ExternalTransaction struct {
	ID                uuid.UUID                         `gorm:"type:uuid;primaryKey" json:"id"`
	TenantID          uuid.UUID                         `gorm:"type:uuid;index:idx_ext_tenant_status,priority:1;index:idx_ext_tenant_ref,priority:1;index:idx_ext_tenant_dedupe,priority:1" json:"tenant_id"`
	ImportBatchID     *uuid.UUID                        `gorm:"type:uuid;index" json:"import_batch_id,omitempty"`
	Source            Source                            `gorm:"size:20" json:"source"`
	ExternalReference *string                           `gorm:"size:255;index:idx_ext_tenant_ref,priority:2" json:"external_reference,omitempty"`
	Amount            int64                             `json:"amount"`
	ReportedDate      time.Time                         `json:"reported_date"`
	Description       string                            `json:"description"`
	// DedupeKey is derived once at insert; empty keys never collide.
	DedupeKey         string                            `gorm:"size:300;index:idx_ext_tenant_dedupe,priority:2" json:"-"`
	Status            TransactionStatus                 `gorm:"size:20;index:idx_ext_tenant_status,priority:2" json:"status"`
	MatchedPaymentID  *uuid.UUID                        `gorm:"type:uuid;index" json:"matched_payment_id,omitempty"`
	DuplicateOfID     *uuid.UUID                        `gorm:"type:uuid" json:"duplicate_of_id,omitempty"`
	Confidence        int                               `json:"confidence"`
	MatchType         MatchType                         `gorm:"size:20" json:"match_type"`
	Metadata          datatypes.JSONType[EventMetadata] `json:"metadata"`
	LastError         string                            `json:"last_error,omitempty"`
	CreatedAt         time.Time                         `json:"created_at"`
	UpdatedAt         time.Time                         `json:"updated_at"`
}

// Reference returns the external reference or "".
func (t *ExternalTransaction) Reference() string {
	if t.ExternalReference == nil {
		return ""
	}
	return *t.ExternalReference
}
