package statement

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"fee-reconciliation-backend/internal/models"
	"fee-reconciliation-backend/internal/services/reconciliation"
)

var dateLayouts = []string{
	"2006-01-02",
	"02-01-2006",
	"02/01/2006",
	"2006-01-02 15:04:05",
	"02-01-2006 15:04:05",
	time.RFC3339,
}

var columnAliases = map[string][]string{
	"date":        {"date", "transaction date", "value date", "reported_date", "completion time", "posting date"},
	"amount":      {"amount", "credit", "paid in", "credit amount", "deposit"},
	"debit":       {"debit", "withdrawn", "debit amount", "withdrawal"},
	"reference":   {"reference", "ref", "receipt no.", "receipt no", "external_reference", "transaction id", "bank reference"},
	"description": {"description", "details", "narration", "narrative", "particulars"},
}

// positional layout used when the header names nothing we know:
// index, date, description, amount, reference
var positionalColumns = map[string]int{"date": 1, "description": 2, "amount": 3, "reference": 4}

type CSVParser struct {
	source models.Source
}

func NewCSVParser(source models.Source) *CSVParser {
	return &CSVParser{source: source}
}

func (p *CSVParser) Parse(r io.Reader) ([]reconciliation.ImportLine, error) {
	content, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV file: %w", err)
	}

	reader := csv.NewReader(bytes.NewReader(content))
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true
	reader.Comma = sniffDelimiter(content)

	headerRow, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, &reconciliation.ValidationError{Field: "file", Reason: "empty statement"}
	}
	if err != nil {
		return nil, &reconciliation.ValidationError{Line: 1, Field: "header", Reason: err.Error()}
	}
	columns := mapColumns(headerRow)

	var lines []reconciliation.ImportLine
	skipped := 0
	for row := 2; ; row++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, &reconciliation.ValidationError{Line: row, Field: "row", Reason: err.Error()}
		}
		if strings.TrimSpace(strings.Join(record, "")) == "" {
			continue
		}

		line, ok, err := p.parseRecord(record, columns)
		if err != nil {
			var verr *reconciliation.ValidationError
			if errors.As(err, &verr) {
				verr.Line = row
			}
			return nil, err
		}
		if !ok {
			skipped++
			continue
		}
		lines = append(lines, line)
	}

	slog.Debug("parsed CSV statement", "credits", len(lines), "skipped", skipped)
	return lines, nil
}

// parseRecord reports false for rows that are not money received.
func (p *CSVParser) parseRecord(record []string, columns map[string]int) (reconciliation.ImportLine, bool, error) {
	field := func(name string) string {
		i, ok := columns[name]
		if !ok || i >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[i])
	}

	amountStr := field("amount")
	if amountStr == "" {
		if field("debit") != "" {
			return reconciliation.ImportLine{}, false, nil
		}
		return reconciliation.ImportLine{}, false, &reconciliation.ValidationError{Field: "amount", Reason: "missing"}
	}
	amount, err := models.ParseAmount(amountStr)
	if err != nil {
		return reconciliation.ImportLine{}, false, &reconciliation.ValidationError{Field: "amount", Reason: err.Error()}
	}
	if amount <= 0 {
		return reconciliation.ImportLine{}, false, nil
	}

	line := reconciliation.ImportLine{
		Source:            p.source,
		ExternalReference: field("reference"),
		Amount:            amount,
		Description:       field("description"),
	}
	if dateStr := field("date"); dateStr != "" {
		date, err := parseDate(dateStr)
		if err != nil {
			return reconciliation.ImportLine{}, false, &reconciliation.ValidationError{Field: "date", Reason: err.Error()}
		}
		line.ReportedDate = &date
	}
	return line, true, nil
}

func mapColumns(header []string) map[string]int {
	columns := map[string]int{}
	for i, h := range header {
		name := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
		for column, aliases := range columnAliases {
			if _, taken := columns[column]; taken {
				continue
			}
			for _, alias := range aliases {
				if name == alias {
					columns[column] = i
				}
			}
		}
	}
	if _, ok := columns["amount"]; !ok {
		return positionalColumns
	}
	return columns
}

func sniffDelimiter(content []byte) rune {
	sample := content
	if len(sample) > 1024 {
		sample = sample[:1024]
	}
	firstLine, _, _ := bytes.Cut(sample, []byte("\n"))
	switch {
	case bytes.Contains(firstLine, []byte("\t")):
		return '\t'
	case bytes.Contains(firstLine, []byte(";")) && !bytes.Contains(firstLine, []byte(",")):
		return ';'
	default:
		return ','
	}
}

func parseDate(s string) (time.Time, error) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", s)
}
