package main

import (
	"fmt"
	"os"
	"path/filepath"

	"fee-reconciliation-backend/internal/models"
	"fee-reconciliation-backend/internal/repository"
	service "fee-reconciliation-backend/internal/services/reconciliation"
	"fee-reconciliation-backend/internal/statement"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func importCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import FILE",
		Short: "Import a CSV or OFX statement",
		Long: `Import stores every credit line of a statement as an external
transaction and matches it against the tenant's unclaimed payments. Lines
left unmatched are listed for manual review.`,
		Args: cobra.ExactArgs(1),
		RunE: runImport,
	}

	cmd.Flags().String("tenant", "", "tenant ID (required)")
	cmd.Flags().String("source", string(models.SourceBank), "statement source (bank, mobile_money, cash, cheque, other)")
	cmd.Flags().String("format", "", "file format: csv or ofx (default from extension)")
	_ = cmd.MarkFlagRequired("tenant")

	return cmd
}

func runImport(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	path := args[0]

	tenant, _ := cmd.Flags().GetString("tenant")
	tenantID, err := uuid.Parse(tenant)
	if err != nil {
		return fmt.Errorf("invalid tenant ID %q: %w", tenant, err)
	}
	source, _ := cmd.Flags().GetString("source")
	format, _ := cmd.Flags().GetString("format")
	if format == "" {
		format = string(statement.DetectFormat(path))
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open statement: %w", err)
	}
	defer f.Close()

	lines, err := statement.Parse(f, statement.Format(format), models.Source(source))
	if err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}

	db, err := openDB()
	if err != nil {
		return err
	}
	svc := service.NewService(repository.NewStore(db), repository.NewLedgerRepository(db), cfg.Reconciliation())

	summary, err := svc.Import(ctx, service.ImportRequest{
		TenantID: tenantID,
		Filename: filepath.Base(path),
		Lines:    lines,
	})
	if err != nil {
		return fmt.Errorf("import failed: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "batch %s: %d lines, %d matched, %d unmatched, %d duplicates\n",
		summary.BatchID, summary.Total, summary.Matched, summary.Unmatched, summary.Duplicates)
	for _, r := range summary.Results {
		if r.Status == models.StatusMatched {
			continue
		}
		fmt.Fprintf(out, "  line %d  %s  %s\n", r.Line, r.ExternalTransactionID, r.Status)
	}
	return nil
}
