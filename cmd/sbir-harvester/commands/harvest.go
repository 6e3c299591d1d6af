package commands

import (
	"log/slog"
	"os"
	"time"

	"sbirharvest/services/harvester"

	"github.com/spf13/cobra"
)

var noResume *bool

func init() {
	noResume = harvestCmd.Flags().Bool("no-resume", false,
		"Start over from offset 0 instead of resuming from the stored record count.")
	rootCmd.AddCommand(harvestCmd)
}

var harvestCmd = &cobra.Command{
	Use:   "harvest [--no-resume]",
	Short: "Downloads all awards from the API into the local database.",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()
		service, _, db := openService(cfg)
		defer db.Close()

		result, err := service.Run(cmd.Context(), !*noResume)
		if err != nil {
			slog.Error("harvest failed",
				"status", result.Status, "offset", result.Offset, "err", err)
			os.Exit(1)
		}

		slog.Info("harvest finished",
			"status", result.Status,
			"total_downloaded", result.TotalDownloaded,
			"offset", result.Offset,
			"elapsed", result.Elapsed.Round(time.Second).String(),
		)

		if result.Status != harvester.StatusCompleted {
			slog.Info("harvest can be resumed by running this command again")
			os.Exit(1)
		}

		summary, err := service.RefreshExports(cmd.Context())
		if err != nil {
			slog.Error("failed to write exports", "err", err)
			os.Exit(1)
		}
		slog.Info("exports written",
			"records", summary.TotalRecords,
			"csv", summary.CsvPath,
			"latest_award_date", summary.LatestAwardDate,
		)
	},
}
