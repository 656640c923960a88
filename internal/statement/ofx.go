package statement

import (
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"strings"

	"fee-reconciliation-backend/internal/models"
	"fee-reconciliation-backend/internal/services/reconciliation"

	"github.com/aclindsa/ofxgo"
	"github.com/shopspring/decimal"
)

var (
	severityRegex = regexp.MustCompile(`(?i)<SEVERITY>(Info|Warn|Error)</SEVERITY>`)
	// opening tags missing their closing bracket in SGML-style files
	tagFixRegex = regexp.MustCompile(`(?m)^(\s*<[A-Z][A-Z0-9._]*[A-Z0-9])$`)
)

// OFXParser reads OFX/QFX bank and card statements.
type OFXParser struct {
	source models.Source
}

func NewOFXParser(source models.Source) *OFXParser {
	return &OFXParser{source: source}
}

func (p *OFXParser) preprocess(content string) string {
	content = strings.TrimLeft(content, " \t\r\n")
	content = severityRegex.ReplaceAllStringFunc(content, strings.ToUpper)
	return tagFixRegex.ReplaceAllString(content, "$1>")
}

func (p *OFXParser) Parse(r io.Reader) ([]reconciliation.ImportLine, error) {
	content, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read OFX file: %w", err)
	}

	resp, err := ofxgo.ParseResponse(strings.NewReader(p.preprocess(string(content))))
	if err != nil {
		return nil, &reconciliation.ValidationError{Field: "file", Reason: fmt.Sprintf("failed to parse OFX file: %v", err)}
	}

	var txns []ofxgo.Transaction
	for _, msg := range resp.Bank {
		if stmt, ok := msg.(*ofxgo.StatementResponse); ok && stmt.BankTranList != nil {
			txns = append(txns, stmt.BankTranList.Transactions...)
		}
	}
	for _, msg := range resp.CreditCard {
		if stmt, ok := msg.(*ofxgo.CCStatementResponse); ok && stmt.BankTranList != nil {
			txns = append(txns, stmt.BankTranList.Transactions...)
		}
	}

	var lines []reconciliation.ImportLine
	for i, t := range txns {
		amount := decimal.NewFromBigRat(&t.TrnAmt.Rat, models.MinorUnitExponent+2)
		if !amount.IsPositive() {
			continue
		}
		minor, err := models.ToMinorUnits(amount)
		if err != nil {
			return nil, &reconciliation.ValidationError{Line: i + 1, Field: "amount", Reason: err.Error()}
		}
		date := t.DtPosted.Time
		lines = append(lines, reconciliation.ImportLine{
			Source:            p.source,
			ExternalReference: ofxReference(t),
			BankTransactionID: strings.TrimSpace(string(t.FiTID)),
			Amount:            minor,
			ReportedDate:      &date,
			Description:       ofxDescription(t),
		})
	}

	slog.Debug("parsed OFX statement",
		"transactions", len(txns),
		"credits", len(lines))
	return lines, nil
}

// ofxReference is the payer-visible reference. FITID is the bank's id and
// is kept apart for duplicate detection.
func ofxReference(t ofxgo.Transaction) string {
	for _, ref := range []ofxgo.String{t.RefNum, t.CheckNum} {
		if s := strings.TrimSpace(string(ref)); s != "" {
			return s
		}
	}
	return ""
}

func ofxDescription(t ofxgo.Transaction) string {
	name := strings.TrimSpace(string(t.Name))
	if t.Payee != nil && t.Payee.Name != "" {
		name = strings.TrimSpace(string(t.Payee.Name))
	}
	if memo := strings.TrimSpace(string(t.Memo)); memo != "" {
		if name == "" {
			return memo
		}
		return name + " " + memo
	}
	return name
}
