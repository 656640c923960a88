package repository

import (
	"context"
	"database/sql/driver"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"fee-reconciliation-backend/internal/models"
	"fee-reconciliation-backend/internal/services/reconciliation"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var tenantID = uuid.MustParse("9a1f4c2e-7b3d-4e8a-b6c5-1d2e3f4a5b6c")

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "reconciliation.db") + "?_busy_timeout=5000&_foreign_keys=on"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:  logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, AutoMigrate(db))
	return db
}

func at(day, hour int) time.Time {
	return time.Date(2024, time.March, day, hour, 0, 0, 0, time.UTC)
}

func strPtr(s string) *string { return &s }

func newTransaction(ref string, amount int64) *models.ExternalTransaction {
	now := at(1, 9)
	tx := &models.ExternalTransaction{
		ID:           uuid.New(),
		TenantID:     tenantID,
		Source:       models.SourceBank,
		Amount:       amount,
		ReportedDate: now,
		Status:       models.StatusUnmatched,
		MatchType:    models.MatchTypeNone,
		Metadata:     datatypes.NewJSONType(models.EventMetadata{Version: models.EventMetadataVersion, Currency: "KES"}),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if ref != "" {
		tx.ExternalReference = strPtr(ref)
	}
	tx.DedupeKey = reconciliation.DedupeKey("", ref, now)
	return tx
}

func TestExternalTransaction_GetNotFound(t *testing.T) {
	store := NewStore(newTestDB(t))
	_, err := store.GetExternalTransaction(t.Context(), uuid.New())
	assert.ErrorIs(t, err, reconciliation.ErrNotFound)
}

func TestExternalTransaction_RoundTripsMetadata(t *testing.T) {
	store := NewStore(newTestDB(t))
	tx := newTransaction("MP001", 5000)
	tx.Metadata = datatypes.NewJSONType(models.EventMetadata{
		Version:          models.EventMetadataVersion,
		Currency:         "KES",
		SenderPhone:      "254712345678",
		AccountReference: "ADM-001",
	})
	require.NoError(t, store.CreateExternalTransaction(t.Context(), tx))

	got, err := store.GetExternalTransaction(t.Context(), tx.ID)
	require.NoError(t, err)
	assert.Equal(t, "MP001", *got.ExternalReference)
	assert.Equal(t, "254712345678", got.Metadata.Data().SenderPhone)
	assert.Equal(t, "ADM-001", got.Metadata.Data().AccountReference)
}

func TestFindDuplicate(t *testing.T) {
	store := NewStore(newTestDB(t))
	ctx := t.Context()

	original := newTransaction("MP 001", 5000)
	require.NoError(t, store.CreateExternalTransaction(ctx, original))

	dup, err := store.FindDuplicate(ctx, newTransaction("mp001", 5000))
	require.NoError(t, err)
	assert.Equal(t, original.ID, dup.ID)

	_, err = store.FindDuplicate(ctx, newTransaction("MP001", 5001))
	assert.ErrorIs(t, err, reconciliation.ErrNotFound)

	_, err = store.FindDuplicate(ctx, newTransaction("", 5000))
	assert.ErrorIs(t, err, reconciliation.ErrNotFound)

	// the original never matches itself
	_, err = store.FindDuplicate(ctx, original)
	assert.ErrorIs(t, err, reconciliation.ErrNotFound)
}

func TestFindDuplicate_KeyIgnoresAllWhitespace(t *testing.T) {
	store := NewStore(newTestDB(t))
	ctx := t.Context()

	original := newTransaction("MP\t001\u00a0", 5000)
	require.NoError(t, store.CreateExternalTransaction(ctx, original))

	dup, err := store.FindDuplicate(ctx, newTransaction("mp001", 5000))
	require.NoError(t, err)
	assert.Equal(t, original.ID, dup.ID)
}

func TestFindDuplicate_OtherDayIsNotDuplicate(t *testing.T) {
	store := NewStore(newTestDB(t))
	ctx := t.Context()
	require.NoError(t, store.CreateExternalTransaction(ctx, newTransaction("INV-1042", 5000)))

	later := newTransaction("INV-1042", 5000)
	later.ReportedDate = at(1, 9).AddDate(0, 1, 0)
	later.DedupeKey = reconciliation.DedupeKey("", "INV-1042", later.ReportedDate)
	_, err := store.FindDuplicate(ctx, later)
	assert.ErrorIs(t, err, reconciliation.ErrNotFound)
}

func TestTransition_ConditionalOnStatus(t *testing.T) {
	store := NewStore(newTestDB(t))
	ctx := t.Context()
	tx := newTransaction("MP001", 5000)
	require.NoError(t, store.CreateExternalTransaction(ctx, tx))

	paymentID := uuid.New()
	updated := *tx
	updated.Status = models.StatusMatched
	updated.MatchedPaymentID = &paymentID
	updated.Confidence = 100
	updated.MatchType = models.MatchTypeReference
	require.NoError(t, store.TransitionExternalTransaction(ctx, &updated, []models.TransactionStatus{models.StatusUnmatched}))

	again := updated
	again.Status = models.StatusPartialMatch
	err := store.TransitionExternalTransaction(ctx, &again, []models.TransactionStatus{models.StatusUnmatched})
	assert.ErrorIs(t, err, reconciliation.ErrStaleState)

	got, err := store.GetExternalTransaction(ctx, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusMatched, got.Status)
	assert.Equal(t, paymentID, *got.MatchedPaymentID)
	assert.Equal(t, 100, got.Confidence)

	assert.ErrorIs(t, store.TransitionExternalTransaction(ctx, &again, nil), reconciliation.ErrInvalidTransition)
}

func TestListExternalTransactions(t *testing.T) {
	store := NewStore(newTestDB(t))
	ctx := t.Context()
	for i := range 5 {
		tx := newTransaction("", int64(100+i))
		if i == 4 {
			tx.Status = models.StatusIgnored
		}
		require.NoError(t, store.CreateExternalTransaction(ctx, tx))
	}

	q := reconciliation.ListQuery{TenantID: tenantID, Statuses: []models.TransactionStatus{models.StatusUnmatched}, Limit: 3}
	first, err := store.ListExternalTransactions(ctx, q)
	require.NoError(t, err)
	require.Len(t, first.Items, 3)
	assert.True(t, first.HasMore)

	q.Cursor = first.NextCursor
	second, err := store.ListExternalTransactions(ctx, q)
	require.NoError(t, err)
	require.Len(t, second.Items, 1)
	assert.False(t, second.HasMore)
	assert.Greater(t, second.Items[0].ID.String(), first.Items[2].ID.String())

	q.Cursor = "not-a-uuid"
	_, err = store.ListExternalTransactions(ctx, q)
	var verr *reconciliation.ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestClaimPayment(t *testing.T) {
	store := NewStore(newTestDB(t))
	ctx := t.Context()
	paymentID, txA, txB := uuid.New(), uuid.New(), uuid.New()

	claim := func(txID uuid.UUID) error {
		return store.ClaimPayment(ctx, &models.PaymentClaim{
			PaymentID:             paymentID,
			ExternalTransactionID: txID,
			TenantID:              tenantID,
			ClaimedAt:             at(1, 9),
		})
	}

	require.NoError(t, claim(txA))
	assert.NoError(t, claim(txA), "re-claim by the same transaction")
	assert.ErrorIs(t, claim(txB), reconciliation.ErrClaimConflict)

	var count int64
	require.NoError(t, store.DB().Model(&models.PaymentClaim{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestDueQueueItems(t *testing.T) {
	store := NewStore(newTestDB(t))
	ctx := t.Context()
	now := at(10, 12)
	otherTenant := uuid.New()

	item := func(tenant uuid.UUID, status models.QueueStatus, retries int, next *time.Time, created time.Time) models.ProcessingQueueItem {
		it := models.ProcessingQueueItem{
			ID:                    uuid.New(),
			ExternalTransactionID: uuid.New(),
			TenantID:              tenant,
			MatchStatus:           status,
			RetryCount:            retries,
			MaxRetries:            3,
			NextRetryAt:           next,
			CreatedAt:             created,
			UpdatedAt:             created,
		}
		require.NoError(t, store.CreateQueueItem(ctx, &it))
		return it
	}
	past, future := at(10, 11), at(10, 13)

	fresh := item(tenantID, models.QueuePending, 0, nil, at(10, 8))
	retry := item(tenantID, models.QueuePartialMatch, 1, &past, at(9, 8))
	item(tenantID, models.QueuePartialMatch, 1, &future, at(9, 8))
	item(tenantID, models.QueueMatched, 0, nil, at(9, 8))
	item(tenantID, models.QueuePending, 3, nil, at(9, 8))
	other := item(otherTenant, models.QueuePending, 0, nil, at(10, 9))

	due, err := store.DueQueueItems(ctx, reconciliation.DueQuery{Now: now, Limit: 10})
	require.NoError(t, err)
	ids := make([]uuid.UUID, len(due))
	for i, d := range due {
		ids[i] = d.ID
	}
	assert.Equal(t, []uuid.UUID{fresh.ID, other.ID, retry.ID}, ids)

	due, err = store.DueQueueItems(ctx, reconciliation.DueQuery{Now: now, Limit: 10, TenantID: &tenantID})
	require.NoError(t, err)
	assert.Len(t, due, 2)

	due, err = store.DueQueueItems(ctx, reconciliation.DueQuery{Now: now, Limit: 1})
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, fresh.ID, due[0].ID)
}

func TestUpdateQueueItem_OptimisticOnRetryCount(t *testing.T) {
	store := NewStore(newTestDB(t))
	ctx := t.Context()
	item := models.ProcessingQueueItem{
		ID:                    uuid.New(),
		ExternalTransactionID: uuid.New(),
		TenantID:              tenantID,
		MatchStatus:           models.QueuePending,
		MaxRetries:            3,
		CreatedAt:             at(1, 9),
	}
	require.NoError(t, store.CreateQueueItem(ctx, &item))

	next := item
	next.RetryCount = 1
	retryAt := at(1, 10)
	next.NextRetryAt = &retryAt
	require.NoError(t, store.UpdateQueueItem(ctx, &next, 0))

	lost := item
	lost.RetryCount = 1
	assert.ErrorIs(t, store.UpdateQueueItem(ctx, &lost, 0), reconciliation.ErrStaleState)

	got, err := store.GetQueueItemByTransaction(ctx, item.ExternalTransactionID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.RetryCount)
	require.NotNil(t, got.NextRetryAt)
	assert.True(t, got.NextRetryAt.Equal(retryAt))

	_, err = store.GetQueueItemByTransaction(ctx, uuid.New())
	assert.ErrorIs(t, err, reconciliation.ErrNotFound)
}

func TestAtomic_RollsBackOnError(t *testing.T) {
	store := NewStore(newTestDB(t))
	ctx := t.Context()
	tx := newTransaction("MP001", 5000)
	boom := errors.New("boom")

	err := store.Atomic(ctx, func(s reconciliation.Store, _ reconciliation.Ledger) error {
		if err := s.CreateExternalTransaction(ctx, tx); err != nil {
			return err
		}
		return s.AppendAudit(ctx, &models.MatchAuditLog{
			ID:            uuid.New(),
			TransactionID: tx.ID,
			TenantID:      tenantID,
			Action:        models.ActionReceived,
			CreatedAt:     at(1, 9),
		})
	})
	require.NoError(t, err)

	other := newTransaction("MP002", 100)
	err = store.Atomic(ctx, func(s reconciliation.Store, _ reconciliation.Ledger) error {
		if err := s.CreateExternalTransaction(ctx, other); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	_, err = store.GetExternalTransaction(ctx, other.ID)
	assert.ErrorIs(t, err, reconciliation.ErrNotFound)

	entries, err := store.ListAudit(ctx, tx.ID)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestImportBatch(t *testing.T) {
	store := NewStore(newTestDB(t))
	ctx := t.Context()
	batch := &models.ImportBatch{
		ID:                uuid.New(),
		TenantID:          tenantID,
		Filename:          "march.csv",
		TotalTransactions: 4,
		Status:            models.BatchProcessing,
		StartedAt:         at(1, 9),
		CreatedAt:         at(1, 9),
	}
	require.NoError(t, store.CreateImportBatch(ctx, batch))

	done := at(1, 10)
	batch.MatchedCount, batch.UnmatchedCount, batch.DuplicateCount = 2, 1, 1
	batch.Status = models.BatchCompleted
	batch.CompletedAt = &done
	require.NoError(t, store.CompleteImportBatch(ctx, batch))

	got, err := store.GetImportBatch(ctx, batch.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BatchCompleted, got.Status)
	assert.Equal(t, 2, got.MatchedCount)
	assert.Equal(t, 1, got.DuplicateCount)
	require.NotNil(t, got.CompletedAt)

	_, err = store.GetImportBatch(ctx, uuid.New())
	assert.ErrorIs(t, err, reconciliation.ErrNotFound)
}

func seedLedger(t *testing.T, ledger *LedgerRepository) {
	t.Helper()
	ctx := t.Context()
	accounts := []models.Account{
		{ID: uuid.New(), TenantID: tenantID, AccountRef: "ADM-001", HolderName: "Jane Otieno", Phone: "0712345678"},
		{ID: uuid.New(), TenantID: tenantID, AccountRef: "ADM-002", HolderName: "Paul Kamau", Phone: "+254 722 000 111"},
		{ID: uuid.New(), TenantID: tenantID, AccountRef: "ADM-003", HolderName: "Mary Wanjiku", Phone: "0712345678"},
	}
	for i := range accounts {
		require.NoError(t, ledger.CreateAccount(ctx, &accounts[i]))
	}
}

func TestLedger_UnclaimedPayments(t *testing.T) {
	db := newTestDB(t)
	ledger := NewLedgerRepository(db)
	store := NewStore(db)
	ctx := t.Context()

	payment := func(amount int64, paidAt time.Time, status string) uuid.UUID {
		p := models.Payment{ID: uuid.New(), TenantID: tenantID, AccountRef: "ADM-001", Amount: amount, PaidAt: paidAt, Status: status, CreatedAt: paidAt}
		require.NoError(t, ledger.RecordPayment(ctx, &p))
		return p.ID
	}
	claimed := payment(1000, at(1, 9), models.PaymentConfirmed)
	early := payment(2000, at(2, 9), models.PaymentConfirmed)
	late := payment(3000, at(5, 9), models.PaymentConfirmed)
	payment(4000, at(3, 9), models.PaymentVoid)

	require.NoError(t, store.ClaimPayment(ctx, &models.PaymentClaim{PaymentID: claimed, ExternalTransactionID: uuid.New(), TenantID: tenantID, ClaimedAt: at(1, 10)}))

	all, err := ledger.ListUnclaimedPayments(ctx, tenantID, reconciliation.PaymentFilter{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, early, all[0].ID)
	assert.Equal(t, late, all[1].ID)

	since := at(3, 0)
	recent, err := ledger.ListUnclaimedPayments(ctx, tenantID, reconciliation.PaymentFilter{Since: &since})
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, late, recent[0].ID)

	got, err := ledger.GetPayment(ctx, tenantID, early)
	require.NoError(t, err)
	assert.Equal(t, int64(2000), got.Amount)

	_, err = ledger.GetPayment(ctx, uuid.New(), early)
	assert.ErrorIs(t, err, reconciliation.ErrNotFound)
}

func TestLedger_CreatePaymentIsIdempotent(t *testing.T) {
	ledger := NewLedgerRepository(newTestDB(t))
	ctx := t.Context()
	seedLedger(t, ledger)

	first, err := ledger.CreatePayment(ctx, tenantID, "ADM-001", 5000, "ext-1")
	require.NoError(t, err)
	second, err := ledger.CreatePayment(ctx, tenantID, "ADM-001", 5000, "ext-1")
	require.NoError(t, err)
	assert.Equal(t, first, second)

	var count int64
	require.NoError(t, ledger.DB().Model(&models.Payment{}).Where("source_ref = ?", "ext-1").Count(&count).Error)
	assert.Equal(t, int64(1), count)

	_, err = ledger.CreatePayment(ctx, tenantID, "ADM-404", 5000, "ext-2")
	assert.ErrorIs(t, err, reconciliation.ErrAccountNotFound)
}

func TestLedger_RecomputeBalance(t *testing.T) {
	ledger := NewLedgerRepository(newTestDB(t))
	ctx := t.Context()
	seedLedger(t, ledger)

	invoices := []models.Invoice{
		{ID: uuid.New(), TenantID: tenantID, AccountRef: "ADM-001", InvoiceNumber: "T1-001", Amount: 20000, Status: "open"},
		{ID: uuid.New(), TenantID: tenantID, AccountRef: "ADM-001", InvoiceNumber: "T1-002", Amount: 999, Status: models.InvoiceVoid},
	}
	for i := range invoices {
		require.NoError(t, ledger.CreateInvoice(ctx, &invoices[i]))
	}
	_, err := ledger.CreatePayment(ctx, tenantID, "ADM-001", 5000, "ext-1")
	require.NoError(t, err)

	require.NoError(t, ledger.RecomputeBalance(ctx, tenantID, "ADM-001"))

	var account models.Account
	require.NoError(t, ledger.DB().First(&account, "account_ref = ?", "ADM-001").Error)
	assert.Equal(t, int64(15000), account.Balance)

	assert.ErrorIs(t, ledger.RecomputeBalance(ctx, tenantID, "ADM-404"), reconciliation.ErrAccountNotFound)
}

func TestLedger_ResolveAccount(t *testing.T) {
	ledger := NewLedgerRepository(newTestDB(t))
	seedLedger(t, ledger)

	tests := []struct {
		name string
		hint reconciliation.AccountHint
		want string
	}{
		{"reference ignores case", reconciliation.AccountHint{Reference: "adm-001"}, "ADM-001"},
		{"unknown reference falls back to phone", reconciliation.AccountHint{Reference: "ADM-999", Phone: "254722000111"}, "ADM-002"},
		{"shared phone resolved by name", reconciliation.AccountHint{Phone: "0712345678", Name: "OTIENO JANE"}, "ADM-001"},
		{"name with punctuation", reconciliation.AccountHint{Name: "Paul Kamau."}, "ADM-002"},
		{"name with a typo", reconciliation.AccountHint{Name: "Mary Wanjikuu"}, "ADM-003"},
		{"shared phone alone", reconciliation.AccountHint{Phone: "0712345678"}, ""},
		{"unknown name", reconciliation.AccountHint{Name: "John Doe"}, ""},
		{"empty hint", reconciliation.AccountHint{}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ledger.ResolveAccount(t.Context(), tenantID, tt.hint)
			if tt.want == "" {
				assert.ErrorIs(t, err, reconciliation.ErrAccountNotFound)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNameSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, nameSimilarity("Jane Otieno", "OTIENO, JANE"), 1e-9)
	assert.Less(t, nameSimilarity("Jane Otieno", "Paul Kamau"), NameMatchThreshold)
	assert.Zero(t, nameSimilarity("", "Paul Kamau"))
}

func TestPhoneKey(t *testing.T) {
	assert.Equal(t, "712345678", phoneKey("+254 712 345 678"))
	assert.Equal(t, "712345678", phoneKey("0712345678"))
	assert.Equal(t, "12345", phoneKey("12-345"))
	assert.Empty(t, phoneKey("n/a"))
}

func TestWrapErr(t *testing.T) {
	assert.NoError(t, wrapErr("op", nil))
	assert.ErrorIs(t, wrapErr("op", gorm.ErrRecordNotFound), reconciliation.ErrNotFound)

	tests := []struct {
		name      string
		err       error
		transient bool
	}{
		{"serialization failure", &pgconn.PgError{Code: "40001"}, true},
		{"deadlock", &pgconn.PgError{Code: "40P01"}, true},
		{"connection failure", &pgconn.PgError{Code: "08006"}, true},
		{"unique violation", &pgconn.PgError{Code: "23505"}, false},
		{"deadline", context.DeadlineExceeded, true},
		{"bad conn", driver.ErrBadConn, true},
		{"plain", errors.New("syntax error"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := wrapErr("op", tt.err)
			assert.Equal(t, tt.transient, reconciliation.IsTransient(err))
			assert.ErrorIs(t, err, tt.err)
		})
	}
}

func TestService_OverSQLite(t *testing.T) {
	db := newTestDB(t)
	store, ledger := NewStore(db), NewLedgerRepository(db)
	ctx := t.Context()
	seedLedger(t, ledger)

	bill := models.Payment{ID: uuid.New(), TenantID: tenantID, AccountRef: "ADM-001", Amount: 150000, PaidAt: at(1, 9), ExternalReference: strPtr("INV-1042"), Status: models.PaymentConfirmed, CreatedAt: at(1, 9)}
	require.NoError(t, ledger.RecordPayment(ctx, &bill))

	cfg := reconciliation.Config{Concurrency: 1}
	svc := reconciliation.NewService(store, ledger, cfg)
	sched := reconciliation.NewScheduler(store, ledger, cfg)

	summary, err := svc.Import(ctx, reconciliation.ImportRequest{
		TenantID: tenantID,
		Filename: "march.csv",
		Lines: []reconciliation.ImportLine{
			{Source: models.SourceBank, ExternalReference: "INV-1042", Amount: 150000},
			{Source: models.SourceBank, ExternalReference: "INV-1042", Amount: 150000},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Matched)
	assert.Equal(t, 1, summary.Duplicates)

	unclaimed, err := ledger.ListUnclaimedPayments(ctx, tenantID, reconciliation.PaymentFilter{})
	require.NoError(t, err)
	assert.Empty(t, unclaimed)

	ack, err := svc.Intake(ctx, reconciliation.Notification{
		TenantID:          tenantID,
		Amount:            7500,
		Currency:          "KES",
		ExternalReference: "SFK2X9",
		SenderPhone:       "254722000111",
		AccountReference:  "adm-002",
	})
	require.NoError(t, err)

	res, err := sched.RunPass(ctx, reconciliation.PassOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Processed)
	assert.Equal(t, 1, res.Matched)

	tx, err := store.GetExternalTransaction(ctx, ack.ExternalTransactionID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusMatched, tx.Status)
	assert.Equal(t, models.MatchTypeAccount, tx.MatchType)

	var credited models.Payment
	require.NoError(t, db.First(&credited, "source_ref = ?", tx.ID.String()).Error)
	assert.Equal(t, "ADM-002", credited.AccountRef)
	assert.Equal(t, *tx.MatchedPaymentID, credited.ID)

	var account models.Account
	require.NoError(t, db.First(&account, "account_ref = ?", "ADM-002").Error)
	assert.Equal(t, int64(-7500), account.Balance)

	item, err := store.GetQueueItemByTransaction(ctx, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, models.QueueMatched, item.MatchStatus)

	// a second pass finds nothing due
	res, err = sched.RunPass(ctx, reconciliation.PassOptions{})
	require.NoError(t, err)
	assert.Zero(t, res.Processed)
}
