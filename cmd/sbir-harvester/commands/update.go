package commands

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

var forceUpdate *bool
var setupCron *bool

func init() {
	forceUpdate = updateCmd.Flags().Bool("force", false,
		"Run the check even if one ran recently.")
	setupCron = updateCmd.Flags().Bool("setup-cron", false,
		"Print instructions for scheduling automatic weekly checks and exit.")
	rootCmd.AddCommand(updateCmd)
}

var updateCmd = &cobra.Command{
	Use:   "update [--force] [--setup-cron]",
	Short: "Checks the API for awards that are not in the local database yet.",
	Run: func(cmd *cobra.Command, args []string) {
		if *setupCron {
			printCronInstructions()
			return
		}

		cfg := loadConfig()
		service, store, db := openService(cfg)
		defer db.Close()

		_, completed, err := store.GetMetadata(cmd.Context(), "initial_download_completed")
		if err != nil {
			slog.Error("failed to read metadata", "err", err)
			os.Exit(1)
		}
		if !completed {
			slog.Error("initial harvest has not completed yet, run `sbir-harvester harvest` first")
			os.Exit(1)
		}

		result, err := service.CheckForUpdates(cmd.Context(), *forceUpdate)
		if err != nil {
			slog.Error("update check failed", "err", err)
			os.Exit(1)
		}

		if !result.Checked {
			slog.Info("update check skipped, not due yet (use --force to override)")
			return
		}
		slog.Info("update check finished",
			"new_records", result.NewRecords,
			"records_scanned", result.Scanned,
		)
	},
}

func printCronInstructions() {
	executable, err := os.Executable()
	if err != nil {
		executable = "sbir-harvester"
	}
	workdir, _ := os.Getwd()

	fmt.Println("To schedule automatic weekly update checks, add this to your crontab:")
	fmt.Printf("  0 2 * * 0 cd %s && %s update\n", workdir, filepath.Clean(executable))
	fmt.Println()
	fmt.Println("This runs the update checker every Sunday at 2 AM.")
	fmt.Println("To edit your crontab: crontab -e")
}
