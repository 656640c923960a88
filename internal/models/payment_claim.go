package models

import (
	"time"

	"github.com/google/uuid"
)

// PaymentClaim ties one ledger payment to the external transaction that
// accounts for it. The primary key makes a second claim impossible.
type PaymentClaim struct {
	PaymentID             uuid.UUID `gorm:"type:uuid;primaryKey"`
	ExternalTransactionID uuid.UUID `gorm:"type:uuid;uniqueIndex"`
	TenantID              uuid.UUID `gorm:"type:uuid;index"`
	ClaimedAt             time.Time
}
