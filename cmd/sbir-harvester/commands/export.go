package commands

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var exportOut *string
var exportLimit *int

func init() {
	exportOut = exportCmd.Flags().String("out", "",
		"Path of the CSV file to write (defaults to the configured export path).")
	exportLimit = exportCmd.Flags().Int("limit", 0,
		"Export at most this many records, 0 exports everything.")
	rootCmd.AddCommand(exportCmd)
}

var exportCmd = &cobra.Command{
	Use:   "export [--out <path/to/awards.csv>] [--limit <n>]",
	Short: "Writes the CSV snapshot and its JSON summary.",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()
		store, db := openStore(cfg)
		defer db.Close()

		out := cfg.Export.Csv
		if *exportOut != "" {
			out = *exportOut
		}

		err := store.ExportCSV(cmd.Context(), out, *exportLimit)
		if err != nil {
			slog.Error("export failed", "err", err)
			os.Exit(1)
		}
		summary, err := store.WriteSummary(cmd.Context(), cfg.Export.Summary, out)
		if err != nil {
			slog.Error("failed to write summary", "err", err)
			os.Exit(1)
		}

		slog.Info("export written",
			"records", summary.TotalRecords,
			"csv", out,
			"summary", cfg.Export.Summary,
		)
	},
}
