package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/zulandar/gptreplay/internal/config"
	"github.com/zulandar/gptreplay/internal/db"
	"github.com/zulandar/gptreplay/internal/ingest"
	"github.com/zulandar/gptreplay/internal/models"
	"gorm.io/gorm"
)

func newIngestCmd() *cobra.Command {
	var (
		configPath string
		csvPath    string
		watch      bool
	)

	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Import the session CSV into the store",
		Long: `Reads the session export and stores every participant it contains.

Participants whose operation log does not validate keep their previous
import. With --watch, the file is re-imported whenever it changes.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIngest(cmd, configPath, csvPath, watch)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", config.DefaultPath, "path to gptreplay config file")
	cmd.Flags().StringVar(&csvPath, "csv", "", "session CSV (defaults to data.csv from config)")
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "keep running and re-import on change")
	return cmd
}

func runIngest(cmd *cobra.Command, configPath, csvPath string, watch bool) error {
	out := cmd.OutOrStdout()
	cfg, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}
	if csvPath == "" {
		csvPath = cfg.Data.CSV
	}

	run, err := db.ImportFile(gormDB, csvPath, "manual")
	if run != nil {
		printRun(cmd, run)
	}
	if err != nil && !watch {
		return err
	}
	if !watch {
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case sig := <-sigCh:
			fmt.Fprintf(out, "\nReceived %s, shutting down...\n", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	fmt.Fprintf(out, "Watching %s for changes...\n", csvPath)
	return ingest.Watch(ctx, csvPath, ingest.DefaultWatchDebounce, func() {
		reimport(cmd, gormDB, csvPath)
	})
}

func reimport(cmd *cobra.Command, gormDB *gorm.DB, csvPath string) {
	run, err := db.ImportFile(gormDB, csvPath, "watch")
	if run != nil {
		printRun(cmd, run)
	}
	if err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "Import failed: %v\n", err)
	}
}

func printRun(cmd *cobra.Command, run *models.IngestRun) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Ingest %s: %s\n", run.RunID, run.Status)
	fmt.Fprintf(out, "  Rows:         %d (%d skipped)\n", run.Rows, run.Skipped)
	fmt.Fprintf(out, "  Participants: %d\n", run.Participants)
	if run.ErrorMessage != "" {
		fmt.Fprintf(out, "  Errors:       %s\n", run.ErrorMessage)
	}
}
