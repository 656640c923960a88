package handler

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"fee-reconciliation-backend/internal/models"
	service "fee-reconciliation-backend/internal/services/reconciliation"
	"fee-reconciliation-backend/internal/statement"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const defaultActor = "api:operator"

type ReconciliationHandler struct {
	service   *service.Service
	scheduler *service.Scheduler
}

func NewReconciliationHandler(s *service.Service, sched *service.Scheduler) *ReconciliationHandler {
	return &ReconciliationHandler{service: s, scheduler: sched}
}

type importLinePayload struct {
	Source            models.Source   `json:"source"`
	ExternalReference string          `json:"external_reference"`
	BankTransactionID string          `json:"bank_transaction_id"`
	Amount            decimal.Decimal `json:"amount"`
	ReportedDate      string          `json:"reported_date"`
	Description       string          `json:"description"`
}

// Import stores a statement posted as JSON and runs the matching sweep.
func (h *ReconciliationHandler) Import(c *gin.Context) {
	var payload struct {
		TenantID string              `json:"tenant_id"`
		Filename string              `json:"filename"`
		Lines    []importLinePayload `json:"lines"`
	}
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	tenantID, err := uuid.Parse(payload.TenantID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid tenant ID"})
		return
	}

	lines := make([]service.ImportLine, 0, len(payload.Lines))
	for i, l := range payload.Lines {
		amount, err := models.ToMinorUnits(l.Amount)
		if err != nil {
			respondError(c, &service.ValidationError{Line: i + 1, Field: "amount", Reason: err.Error()})
			return
		}
		line := service.ImportLine{
			Source:            l.Source,
			ExternalReference: strings.TrimSpace(l.ExternalReference),
			BankTransactionID: strings.TrimSpace(l.BankTransactionID),
			Amount:            amount,
			Description:       l.Description,
		}
		if l.ReportedDate != "" {
			date, err := parseDate(l.ReportedDate)
			if err != nil {
				respondError(c, &service.ValidationError{Line: i + 1, Field: "reported_date", Reason: err.Error()})
				return
			}
			line.ReportedDate = &date
		}
		lines = append(lines, line)
	}

	summary, err := h.service.Import(c.Request.Context(), service.ImportRequest{
		TenantID: tenantID,
		Filename: payload.Filename,
		Lines:    lines,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

// Upload parses a CSV or OFX statement file and imports it.
func (h *ReconciliationHandler) Upload(c *gin.Context) {
	tenantID, err := uuid.Parse(c.PostForm("tenant_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid tenant ID"})
		return
	}
	file, header, err := c.Request.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file required"})
		return
	}
	defer file.Close()

	format := statement.Format(strings.ToLower(c.PostForm("format")))
	if format == "" {
		format = statement.DetectFormat(header.Filename)
	}
	source := models.Source(c.DefaultPostForm("source", string(models.SourceBank)))

	slog.Info("statement received",
		"tenant_id", tenantID,
		"file", header.Filename,
		"size", header.Size,
		"format", format)

	lines, err := statement.Parse(file, format, source)
	if err != nil {
		respondError(c, err)
		return
	}

	summary, err := h.service.Import(c.Request.Context(), service.ImportRequest{
		TenantID: tenantID,
		Filename: header.Filename,
		Lines:    lines,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"file": header.Filename, "summary": summary})
}

func (h *ReconciliationHandler) GetImportBatch(c *gin.Context) {
	batchID, err := uuid.Parse(c.Param("batchId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid batch ID"})
		return
	}
	batch, err := h.service.GetImportBatch(c.Request.Context(), batchID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, batch)
}

// Notify accepts a real-time payment notification. Matching happens on a
// later scheduler pass, so the response is 202.
func (h *ReconciliationHandler) Notify(c *gin.Context) {
	var payload struct {
		TenantID          string          `json:"tenant_id"`
		Amount            decimal.Decimal `json:"amount"`
		Currency          string          `json:"currency"`
		ExternalReference string          `json:"external_reference"`
		SenderPhone       string          `json:"sender_phone"`
		SenderName        string          `json:"sender_name"`
		BankReference     string          `json:"bank_reference"`
		AccountReference  string          `json:"account_reference"`
		ReceivedAt        *time.Time      `json:"received_at"`
	}
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	tenantID, err := uuid.Parse(payload.TenantID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid tenant ID"})
		return
	}
	amount, err := models.ToMinorUnits(payload.Amount)
	if err != nil {
		respondError(c, &service.ValidationError{Field: "amount", Reason: err.Error()})
		return
	}

	n := service.Notification{
		TenantID:          tenantID,
		Amount:            amount,
		Currency:          payload.Currency,
		ExternalReference: payload.ExternalReference,
		SenderPhone:       payload.SenderPhone,
		SenderName:        payload.SenderName,
		BankReference:     payload.BankReference,
		AccountReference:  payload.AccountReference,
	}
	if payload.ReceivedAt != nil {
		n.ReceivedAt = payload.ReceivedAt.UTC()
	}

	ack, err := h.service.Intake(c.Request.Context(), n)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, ack)
}

func (h *ReconciliationHandler) ListTransactions(c *gin.Context) {
	tenantID, err := uuid.Parse(c.Query("tenant_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid tenant ID"})
		return
	}

	var statuses []models.TransactionStatus
	for _, raw := range c.QueryArray("status") {
		for _, s := range strings.Split(raw, ",") {
			if s = strings.TrimSpace(s); s != "" {
				statuses = append(statuses, models.TransactionStatus(s))
			}
		}
	}

	limit := 50
	if raw := c.Query("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
	}

	page, err := h.service.ListTransactions(c.Request.Context(), service.ListQuery{
		TenantID: tenantID,
		Statuses: statuses,
		Cursor:   c.Query("cursor"),
		Limit:    limit,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

func (h *ReconciliationHandler) ManualMatchTransaction(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid transaction ID"})
		return
	}

	var payload struct {
		CandidatePaymentID string `json:"candidate_payment_id"`
		PerformedBy        string `json:"performed_by"`
	}
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	paymentID, err := uuid.Parse(payload.CandidatePaymentID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payment ID"})
		return
	}

	tx, err := h.service.ManualMatch(c.Request.Context(), id, paymentID, actorOrDefault(payload.PerformedBy))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "transaction manually matched", "transaction": tx})
}

func (h *ReconciliationHandler) IgnoreTransaction(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid transaction ID"})
		return
	}

	var payload struct {
		PerformedBy string `json:"performed_by"`
		Reason      string `json:"reason"`
	}
	if err := c.ShouldBindJSON(&payload); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}

	tx, err := h.service.Ignore(c.Request.Context(), id, actorOrDefault(payload.PerformedBy), payload.Reason)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "transaction ignored", "transaction": tx})
}

func (h *ReconciliationHandler) Suggestions(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid transaction ID"})
		return
	}
	var limit int
	if raw := c.Query("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
	}

	results, err := h.service.Suggestions(c.Request.Context(), id, limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": results})
}

func (h *ReconciliationHandler) AuditTrail(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid transaction ID"})
		return
	}
	entries, err := h.service.AuditTrail(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": entries})
}

// RunScheduler runs one scheduler pass inline.
func (h *ReconciliationHandler) RunScheduler(c *gin.Context) {
	var payload struct {
		BatchSize int    `json:"batch_size"`
		TenantID  string `json:"tenant_id"`
	}
	if err := c.ShouldBindJSON(&payload); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}

	opts := service.PassOptions{BatchSize: payload.BatchSize}
	if payload.TenantID != "" {
		tenantID, err := uuid.Parse(payload.TenantID)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid tenant ID"})
			return
		}
		opts.TenantID = &tenantID
	}

	res, err := h.scheduler.RunPass(c.Request.Context(), opts)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func respondError(c *gin.Context, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		slog.Error("request failed",
			"path", c.FullPath(),
			"error", err)
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func statusFor(err error) int {
	var verr *service.ValidationError
	switch {
	case errors.As(err, &verr):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrNotFound), errors.Is(err, service.ErrAccountNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrClaimConflict),
		errors.Is(err, service.ErrManualMatchConflict),
		errors.Is(err, service.ErrInvalidTransition),
		errors.Is(err, service.ErrStaleState):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func actorOrDefault(actor string) string {
	if actor = strings.TrimSpace(actor); actor != "" {
		return actor
	}
	return defaultActor
}

func parseDate(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t, nil
	}
	if t, err := time.Parse("02-01-2006", s); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("invalid date %q, expected yyyy-mm-dd", s)
}
