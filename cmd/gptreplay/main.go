package main

import (
	"fmt"
	"log"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/zulandar/gptreplay/internal/config"
	"github.com/zulandar/gptreplay/internal/db"
	"gorm.io/gorm"
)

// Version info set via ldflags at build time.
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gptreplay",
		Short: "GPTReplay: replay recorded GPT-assisted essay sessions",
		Long: "GPTReplay imports recorded essay-writing sessions and replays the editor\n" +
			"and the GPT conversation side by side, in the browser or the terminal.",
	}

	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newDBCmd())
	cmd.AddCommand(newIngestCmd())
	cmd.AddCommand(newListCmd())
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newPlayCmd())
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "gptreplay %s (commit: %s, built: %s)\n", Version, Commit, Date)
		},
	}
}

// connectFromConfig loads the config at configPath (defaults when it does
// not exist), opens the session store and migrates it.
func connectFromConfig(configPath string) (*config.Config, *gorm.DB, error) {
	cfg, err := config.LoadOrDefault(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}

	gormDB, err := db.Connect(cfg.Database)
	if err != nil {
		return nil, nil, err
	}
	if err := db.AutoMigrate(gormDB); err != nil {
		return nil, nil, err
	}
	return cfg, gormDB, nil
}

func execute(cmd *cobra.Command) int {
	if err := cmd.Execute(); err != nil {
		return 1
	}
	return 0
}

func main() {
	// GPTREPLAY_* overrides may live in a local .env.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("gptreplay: load .env: %v", err)
	}
	os.Exit(execute(newRootCmd()))
}
