package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/audiolift/audiolift/internal/codec"
	"github.com/audiolift/audiolift/internal/netclient"
	"github.com/audiolift/audiolift/internal/projectdb"
	"github.com/audiolift/audiolift/internal/spool"
	"github.com/audiolift/audiolift/internal/ui"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Watch the spool directory and pull snapshots as manifests arrive",
	Long: `Run the pull daemon in the foreground.

The daemon watches the spool directory for snapshot manifest files and
downloads each snapshot as its manifest is dropped in. Existing
manifests are pulled on startup.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()

		if err := os.MkdirAll(cfg.Spool.Dir, 0755); err != nil {
			fmt.Fprintf(os.Stderr, "Error creating spool directory: %v\n", err)
			os.Exit(1)
		}

		db, err := projectdb.Open(cfg.Database.Path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error opening projects database: %v\n", err)
			os.Exit(1)
		}
		defer db.Close()

		if err := db.InitSchema(); err != nil {
			fmt.Fprintf(os.Stderr, "Error initializing schema: %v\n", err)
			os.Exit(1)
		}

		spoolCfg := spool.DefaultConfig()
		spoolCfg.DebounceInterval = time.Duration(cfg.Spool.DebounceMillis) * time.Millisecond
		spoolCfg.Download = cfg.EngineConfig(newLogger(cfg, "[snapshot] "))
		spoolCfg.Logger = newLogger(cfg, "[spool] ")

		d, err := spool.New(db, netclient.New(cfg.Timeout()), codec.BlockCodec{},
			cfg.Spool.Dir, cfg.Spool.ProjectsDir, spoolCfg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error creating daemon: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("%s Watching spool: %s\n", ui.RenderAccent("●"), cfg.Spool.Dir)
		fmt.Printf("   Projects dir: %s\n", cfg.Spool.ProjectsDir)
		fmt.Printf("   Database: %s\n", cfg.Database.Path)
		fmt.Printf("\nPress Ctrl+C to stop\n\n")

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if err := d.Start(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Daemon stopped with error: %v\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(daemonCmd)
}
