package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/knoguchi/scholarag/internal/ingestion"
	"github.com/knoguchi/scholarag/internal/repository/postgres"
)

var journalsCmd = &cobra.Command{
	Use:   "journals FILE",
	Short: "Upsert journal names and impact factors from a CSV file",
	Long: `Journals reads a CSV export with the columns issn, name and impact_factor
("-" reads stdin) and upserts every row into the registry at DATABASE_URL.
Rows with an invalid ISSN or impact factor are reported and skipped unless
--strict is set.`,
	Args: cobra.ExactArgs(1),
	RunE: runJournals,
}

func init() {
	journalsCmd.Flags().Bool("strict", false, "abort without writing when any row is invalid")

	rootCmd.AddCommand(journalsCmd)
}

func runJournals(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	strict, _ := cmd.Flags().GetBool("strict")

	if cfg.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	in, err := openInput(args[0])
	if err != nil {
		return err
	}
	defer in.Close()

	journals, readErr := ingestion.ReadJournals(in)
	if readErr != nil {
		if strict || len(journals) == 0 {
			return readErr
		}
		slog.Warn("skipping invalid journal rows", "error", readErr)
	}

	db, err := postgres.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()

	if err := db.Migrate(ctx); err != nil {
		return err
	}

	n, err := postgres.NewJournalRepo(db).Upsert(ctx, journals)
	if err != nil {
		return err
	}
	slog.Info("journals upserted", "rows", n)
	return nil
}
