package reconciliation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"fee-reconciliation-backend/internal/models"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Notification is one real-time payment notification. Amount is in minor
// units.
type Notification struct {
	TenantID          uuid.UUID
	Amount            int64
	Currency          string
	// ExternalReference is the gateway's own transaction id.
	ExternalReference string
	SenderPhone       string
	SenderName        string
	BankReference     string
	// AccountReference is the bill reference the payer typed, usually the
	// student's admission number.
	AccountReference string
	ReceivedAt       time.Time
}

// IntakeAck acknowledges acceptance only; matching happens on a later
// scheduler pass.
type IntakeAck struct {
	ExternalTransactionID uuid.UUID                `json:"external_transaction_id"`
	QueueItemID           *uuid.UUID               `json:"queue_item_id,omitempty"`
	Status                models.TransactionStatus `json:"status"`
	Duplicate             bool                     `json:"duplicate"`
	AcceptedAt            time.Time                `json:"accepted_at"`
}

func (n Notification) Validate() error {
	if n.TenantID == uuid.Nil {
		return &ValidationError{Field: "tenant_id", Reason: "required"}
	}
	if n.Amount <= 0 {
		return &ValidationError{Field: "amount", Reason: "must be positive"}
	}
	if strings.TrimSpace(n.Currency) == "" {
		return &ValidationError{Field: "currency", Reason: "required"}
	}
	return nil
}

func (n Notification) source() models.Source {
	if n.SenderPhone == "" && n.BankReference != "" {
		return models.SourceBank
	}
	return models.SourceMobileMoney
}

func (n Notification) reference() string {
	if ref := strings.TrimSpace(n.ExternalReference); ref != "" {
		return ref
	}
	return strings.TrimSpace(n.BankReference)
}

// Intake records a notification and enqueues it for matching. Gateways
// resend notifications, so a repeat of a known reference is stored as a
// duplicate without a queue item.
func (s *Service) Intake(ctx context.Context, n Notification) (*IntakeAck, error) {
	if err := n.Validate(); err != nil {
		return nil, err
	}

	now := s.now()
	reported := n.ReceivedAt
	if reported.IsZero() {
		reported = now
	}
	tx := &models.ExternalTransaction{
		ID:           uuid.New(),
		TenantID:     n.TenantID,
		Source:       n.source(),
		Amount:       n.Amount,
		ReportedDate: reported,
		Description:  strings.TrimSpace(n.SenderName),
		Status:       models.StatusUnmatched,
		MatchType:    models.MatchTypeNone,
		Metadata: datatypes.NewJSONType(models.EventMetadata{
			Version:          models.EventMetadataVersion,
			Currency:         strings.ToUpper(strings.TrimSpace(n.Currency)),
			SenderPhone:      strings.TrimSpace(n.SenderPhone),
			SenderName:       strings.TrimSpace(n.SenderName),
			BankReference:    strings.TrimSpace(n.BankReference),
			AccountReference: strings.TrimSpace(n.AccountReference),
		}),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if ref := n.reference(); ref != "" {
		tx.ExternalReference = &ref
	}
	tx.DedupeKey = DedupeKey(n.ExternalReference, n.BankReference, reported)

	ack := &IntakeAck{ExternalTransactionID: tx.ID, AcceptedAt: now}
	err := s.store.Atomic(ctx, func(store Store, _ Ledger) error {
		if tx.DedupeKey != "" {
			dup, err := store.FindDuplicate(ctx, tx)
			switch {
			case err == nil:
				markDuplicate(tx, dup.ID)
			case !errors.Is(err, ErrNotFound):
				return err
			}
		}

		if err := store.CreateExternalTransaction(ctx, tx); err != nil {
			return err
		}
		if tx.Status == models.StatusDuplicate {
			ack.Duplicate = true
			return s.audit.Transition(ctx, store, models.ActionDuplicateDetected, nil, tx, ActorIntake, "duplicate of "+tx.DuplicateOfID.String())
		}

		item := &models.ProcessingQueueItem{
			ID:                    uuid.New(),
			ExternalTransactionID: tx.ID,
			TenantID:              tx.TenantID,
			MatchStatus:           models.QueuePending,
			MaxRetries:            s.cfg.MaxRetries,
			CreatedAt:             now,
			UpdatedAt:             now,
		}
		if err := store.CreateQueueItem(ctx, item); err != nil {
			return err
		}
		ack.QueueItemID = &item.ID
		return s.audit.Transition(ctx, store, models.ActionReceived, nil, tx, ActorIntake, "")
	})
	if err != nil {
		return nil, fmt.Errorf("record notification: %w", err)
	}
	ack.Status = tx.Status

	if ack.Duplicate {
		s.log.Info("duplicate notification recorded",
			"tenant_id", tx.TenantID,
			"transaction_id", tx.ID,
			"duplicate_of", tx.DuplicateOfID)
	}
	return ack, nil
}
