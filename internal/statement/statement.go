// Package statement turns uploaded bank and mobile money statements into
// import lines. Only money received is kept; debits are skipped.
package statement

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"fee-reconciliation-backend/internal/models"
	"fee-reconciliation-backend/internal/services/reconciliation"
)

type Format string

const (
	FormatCSV Format = "csv"
	FormatOFX Format = "ofx"
)

// DetectFormat picks the format from the file extension, defaulting to CSV.
func DetectFormat(filename string) Format {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".ofx", ".qfx":
		return FormatOFX
	default:
		return FormatCSV
	}
}

// Parse reads a whole statement. A malformed row rejects the file with a
// *reconciliation.ValidationError naming the row.
func Parse(r io.Reader, format Format, source models.Source) ([]reconciliation.ImportLine, error) {
	if !source.Valid() {
		return nil, &reconciliation.ValidationError{Field: "source", Reason: fmt.Sprintf("unknown source %q", source)}
	}
	switch format {
	case FormatCSV, "":
		return NewCSVParser(source).Parse(r)
	case FormatOFX:
		return NewOFXParser(source).Parse(r)
	default:
		return nil, &reconciliation.ValidationError{Field: "format", Reason: fmt.Sprintf("unsupported format %q", format)}
	}
}
