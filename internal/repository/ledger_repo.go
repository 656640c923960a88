package repository

import (
	"context"
	"errors"
	"slices"
	"strings"
	"time"
	"unicode"

	"fee-reconciliation-backend/internal/models"
	"fee-reconciliation-backend/internal/services/reconciliation"

	"github.com/agnivade/levenshtein"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// NameMatchThreshold is the minimum similarity for a sender name to resolve
// an account on its own.
const NameMatchThreshold = 0.9

// phoneSuffixDigits is how many trailing digits identify a subscriber
// regardless of country prefix.
const phoneSuffixDigits = 9

// LedgerRepository reads and writes the invoice/payment ledger.
type LedgerRepository struct {
	db *gorm.DB
}

var _ reconciliation.Ledger = (*LedgerRepository)(nil)

func NewLedgerRepository(db *gorm.DB) *LedgerRepository {
	return &LedgerRepository{db: db}
}

// Expose DB if needed
func (r *LedgerRepository) DB() *gorm.DB {
	return r.db
}

func (r *LedgerRepository) ListUnclaimedPayments(
	ctx context.Context,
	tenantID uuid.UUID,
	filter reconciliation.PaymentFilter,
) ([]models.CandidatePayment, error) {
	var payments []models.Payment

	query := r.db.WithContext(ctx).
		Model(&models.Payment{}).
		Where("payments.tenant_id = ? AND payments.status = ?", tenantID, models.PaymentConfirmed).
		Where("NOT EXISTS (SELECT 1 FROM payment_claims pc WHERE pc.payment_id = payments.id)")

	if filter.Since != nil {
		query = query.Where("payments.paid_at >= ?", *filter.Since)
	}
	if filter.Until != nil {
		query = query.Where("payments.paid_at <= ?", *filter.Until)
	}

	err := query.
		Order("payments.paid_at ASC").
		Order("payments.created_at ASC").
		Order("payments.id ASC").
		Find(&payments).Error
	if err != nil {
		return nil, wrapErr("list unclaimed payments", err)
	}

	candidates := make([]models.CandidatePayment, 0, len(payments))
	for _, p := range payments {
		candidates = append(candidates, p.Candidate())
	}
	return candidates, nil
}

func (r *LedgerRepository) GetPayment(ctx context.Context, tenantID, paymentID uuid.UUID) (*models.CandidatePayment, error) {
	var payment models.Payment
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND id = ? AND status = ?", tenantID, paymentID, models.PaymentConfirmed).
		First(&payment).Error
	if err != nil {
		return nil, wrapErr("get payment", err)
	}
	c := payment.Candidate()
	return &c, nil
}

// CreatePayment records money received against an account. A second call
// with the same sourceRef returns the first payment's id.
func (r *LedgerRepository) CreatePayment(
	ctx context.Context,
	tenantID uuid.UUID,
	accountRef string,
	amount int64,
	sourceRef string,
) (uuid.UUID, error) {
	db := r.db.WithContext(ctx)

	var account models.Account
	err := db.Where("tenant_id = ? AND account_ref = ?", tenantID, accountRef).First(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return uuid.Nil, reconciliation.ErrAccountNotFound
	}
	if err != nil {
		return uuid.Nil, wrapErr("load account", err)
	}

	now := time.Now().UTC()
	payment := models.Payment{
		ID:         uuid.New(),
		TenantID:   tenantID,
		AccountRef: account.AccountRef,
		Amount:     amount,
		PaidAt:     now,
		SourceRef:  &sourceRef,
		Status:     models.PaymentConfirmed,
		CreatedAt:  now,
	}
	result := db.
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "source_ref"}}, DoNothing: true}).
		Create(&payment)
	if result.Error != nil {
		return uuid.Nil, wrapErr("create payment", result.Error)
	}
	if result.RowsAffected == 1 {
		return payment.ID, nil
	}

	var existing models.Payment
	if err := db.First(&existing, "source_ref = ?", sourceRef).Error; err != nil {
		return uuid.Nil, wrapErr("load payment by source", err)
	}
	return existing.ID, nil
}

// RecomputeBalance sets the account balance to outstanding invoices minus
// confirmed payments.
func (r *LedgerRepository) RecomputeBalance(ctx context.Context, tenantID uuid.UUID, accountRef string) error {
	db := r.db.WithContext(ctx)

	var invoiced, paid int64
	err := db.Model(&models.Invoice{}).
		Where("tenant_id = ? AND account_ref = ? AND status <> ?", tenantID, accountRef, models.InvoiceVoid).
		Select("CAST(COALESCE(SUM(amount), 0) AS BIGINT)").
		Scan(&invoiced).Error
	if err != nil {
		return wrapErr("sum invoices", err)
	}
	err = db.Model(&models.Payment{}).
		Where("tenant_id = ? AND account_ref = ? AND status = ?", tenantID, accountRef, models.PaymentConfirmed).
		Select("CAST(COALESCE(SUM(amount), 0) AS BIGINT)").
		Scan(&paid).Error
	if err != nil {
		return wrapErr("sum payments", err)
	}

	result := db.Model(&models.Account{}).
		Where("tenant_id = ? AND account_ref = ?", tenantID, accountRef).
		Updates(map[string]interface{}{
			"balance":    invoiced - paid,
			"updated_at": time.Now().UTC(),
		})
	if result.Error != nil {
		return wrapErr("update balance", result.Error)
	}
	if result.RowsAffected == 0 {
		return reconciliation.ErrAccountNotFound
	}
	return nil
}

// ResolveAccount tries the account reference, then the sender phone, then
// the sender name. Phone and name only resolve when exactly one account fits.
func (r *LedgerRepository) ResolveAccount(ctx context.Context, tenantID uuid.UUID, hint reconciliation.AccountHint) (string, error) {
	db := r.db.WithContext(ctx)

	if ref := strings.TrimSpace(hint.Reference); ref != "" {
		var account models.Account
		err := db.Where("tenant_id = ? AND UPPER(account_ref) = ?", tenantID, strings.ToUpper(ref)).First(&account).Error
		if err == nil {
			return account.AccountRef, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return "", wrapErr("resolve account by reference", err)
		}
	}

	if hint.Phone == "" && hint.Name == "" {
		return "", reconciliation.ErrAccountNotFound
	}

	var accounts []models.Account
	if err := db.Where("tenant_id = ?", tenantID).Order("account_ref ASC").Find(&accounts).Error; err != nil {
		return "", wrapErr("list accounts", err)
	}

	if phone := phoneKey(hint.Phone); phone != "" {
		var found []string
		for _, a := range accounts {
			if phoneKey(a.Phone) == phone {
				found = append(found, a.AccountRef)
			}
		}
		if len(found) == 1 {
			return found[0], nil
		}
	}

	if hint.Name != "" {
		best, bestScore, tie := "", 0.0, false
		for _, a := range accounts {
			score := nameSimilarity(hint.Name, a.HolderName)
			switch {
			case score > bestScore:
				best, bestScore, tie = a.AccountRef, score, false
			case score == bestScore && score > 0:
				tie = true
			}
		}
		if bestScore >= NameMatchThreshold && !tie {
			return best, nil
		}
	}

	return "", reconciliation.ErrAccountNotFound
}

// CreateAccount, CreateInvoice and RecordPayment maintain the ledger side
// for seeding and tests; in production the ledger is written by billing.
func (r *LedgerRepository) CreateAccount(ctx context.Context, account *models.Account) error {
	return wrapErr("create account", r.db.WithContext(ctx).Create(account).Error)
}

func (r *LedgerRepository) CreateInvoice(ctx context.Context, invoice *models.Invoice) error {
	return wrapErr("create invoice", r.db.WithContext(ctx).Create(invoice).Error)
}

func (r *LedgerRepository) RecordPayment(ctx context.Context, payment *models.Payment) error {
	return wrapErr("record payment", r.db.WithContext(ctx).Create(payment).Error)
}

func phoneKey(phone string) string {
	digits := strings.Map(func(r rune) rune {
		if unicode.IsDigit(r) {
			return r
		}
		return -1
	}, phone)
	if len(digits) > phoneSuffixDigits {
		digits = digits[len(digits)-phoneSuffixDigits:]
	}
	return digits
}

// nameSimilarity is 1 minus the normalized edit distance of the two names
// with their words sorted, so "OTIENO JANE" equals "Jane Otieno".
func nameSimilarity(a, b string) float64 {
	x, y := normalizeName(a), normalizeName(b)
	if x == "" || y == "" {
		return 0
	}
	longest := max(len([]rune(x)), len([]rune(y)))
	return 1 - float64(levenshtein.ComputeDistance(x, y))/float64(longest)
}

func normalizeName(name string) string {
	n := strings.ToUpper(name)
	n = strings.ReplaceAll(n, ".", "")
	n = strings.ReplaceAll(n, ",", "")
	words := strings.Fields(n)
	slices.Sort(words)
	return strings.Join(words, " ")
}
