package models

import (
	"time"

	"github.com/google/uuid"
)

// Ledger-side records. The reconciliation engine reads payments and writes
// new ones only through the ledger repository.

const (
	InvoiceVoid      = "void"
	PaymentConfirmed = "confirmed"
	PaymentVoid      = "void"
)

type Account struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	TenantID   uuid.UUID `gorm:"type:uuid;uniqueIndex:idx_account_tenant_ref,priority:1" json:"tenant_id"`
	AccountRef string    `gorm:"size:64;uniqueIndex:idx_account_tenant_ref,priority:2" json:"account_ref"`
	HolderName string    `gorm:"index" json:"holder_name"`
	Phone      string    `gorm:"size:32;index" json:"phone,omitempty"`
	Balance    int64     `json:"balance"`
	UpdatedAt  time.Time `json:"updated_at"`
}

type Invoice struct {
	ID            uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	TenantID      uuid.UUID `gorm:"type:uuid;index" json:"tenant_id"`
	AccountRef    string    `gorm:"size:64;index" json:"account_ref"`
	InvoiceNumber string    `gorm:"uniqueIndex" json:"invoice_number"`
	Amount        int64     `json:"amount"`
	Status        string    `gorm:"index" json:"status"`
	DueDate       time.Time `json:"due_date"`
	CreatedAt     time.Time `json:"created_at"`
}

type Payment struct {
	ID                uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	TenantID          uuid.UUID `gorm:"type:uuid;index" json:"tenant_id"`
	AccountRef        string    `gorm:"size:64;index" json:"account_ref"`
	Amount            int64     `json:"amount"`
	PaidAt            time.Time `gorm:"index" json:"paid_at"`
	ExternalReference *string   `gorm:"size:255" json:"external_reference,omitempty"`
	// SourceRef is set when the payment was created from an external
	// transaction; unique so a retried apply cannot create a second row.
	SourceRef *string   `gorm:"size:64;uniqueIndex" json:"source_ref,omitempty"`
	Status    string    `gorm:"size:20;index" json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// CandidatePayment is the read-only view of a ledger payment that the
// matching engine scores.
type CandidatePayment struct {
	ID                uuid.UUID `json:"id"`
	Amount            int64     `json:"amount"`
	Date              time.Time `json:"date"`
	ExternalReference *string   `json:"external_reference,omitempty"`
}

func (p Payment) Candidate() CandidatePayment {
	return CandidatePayment{
		ID:                p.ID,
		Amount:            p.Amount,
		Date:              p.PaidAt,
		ExternalReference: p.ExternalReference,
	}
}
