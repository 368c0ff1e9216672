package main

import (
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/audiolift/audiolift/internal/config"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "audiolift",
	Short: "Sync cloud audio project snapshots into local project files",
	Long: `audiolift downloads cloud-hosted project snapshots into local
project files.

A snapshot manifest lists the project metadata blob and the
content-addressed sample blocks of one immutable snapshot. audiolift
reconciles the manifest against the local block cache, downloads only
what is missing, and persists everything transactionally into the
project file.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ~/.audiolift/audiolift.yaml)")
}

// loadConfig loads the configuration honoring the --config flag.
func loadConfig() *config.Config {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

// newLogger builds the process logger backed by the configured log
// destination (rotating file or stderr).
func newLogger(cfg *config.Config, prefix string) *log.Logger {
	return log.New(cfg.LogWriter(), prefix, log.LstdFlags)
}
