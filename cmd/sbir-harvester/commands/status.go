package commands

import (
	"log/slog"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(statusCmd)
}

var statusMetadataKeys = []string{
	"initial_download_completed",
	"download_interrupted",
	"last_download_offset",
	"last_download_time",
	"total_records_downloaded",
	"last_update_check",
	"last_update_new_records",
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Prints the state of the local awards database.",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()
		store, db := openStore(cfg)
		defer db.Close()

		count, err := store.RecordCount(cmd.Context())
		if err != nil {
			slog.Error("failed to count records", "err", err)
			os.Exit(1)
		}
		latest, hasLatest, err := store.LatestProposalDate(cmd.Context())
		if err != nil {
			slog.Error("failed to read latest award date", "err", err)
			os.Exit(1)
		}
		if !hasLatest {
			latest = "(none)"
		}

		t := table.NewWriter()
		t.SetOutputMirror(os.Stdout)
		t.AppendHeader(table.Row{"Key", "Value"})
		t.AppendRow(table.Row{"records", count})
		t.AppendRow(table.Row{"latest_award_date", latest})

		for _, key := range statusMetadataKeys {
			value, ok, err := store.GetMetadata(cmd.Context(), key)
			if err != nil {
				slog.Error("failed to read metadata", "key", key, "err", err)
				os.Exit(1)
			}
			if !ok {
				value = "(unset)"
			}
			t.AppendRow(table.Row{key, value})
		}

		t.SetStyle(table.StyleRounded)
		t.Render()
	},
}
