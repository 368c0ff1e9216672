package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/audiolift/audiolift/internal/codec"
	"github.com/audiolift/audiolift/internal/manifest"
	"github.com/audiolift/audiolift/internal/netclient"
	"github.com/audiolift/audiolift/internal/projectdb"
	"github.com/audiolift/audiolift/internal/snapshot"
	"github.com/audiolift/audiolift/internal/ui"
)

var pullOutput string

var pullCmd = &cobra.Command{
	Use:   "pull <manifest.json>",
	Short: "Download one snapshot into a local project file",
	Long: `Download the snapshot described by a manifest file.

Blocks already cached locally are skipped; only missing blocks and the
project metadata blob are fetched. Interrupting with Ctrl+C cancels the
sync cleanly, leaving the local database consistent.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()

		m, err := manifest.ReadFile(args[0])
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error reading manifest: %v\n", err)
			os.Exit(1)
		}

		localPath := pullOutput
		if localPath == "" {
			localPath = filepath.Join(cfg.Spool.ProjectsDir, m.Project.ID+".audiolift")
			if err := os.MkdirAll(cfg.Spool.ProjectsDir, 0755); err != nil {
				fmt.Fprintf(os.Stderr, "Error creating projects directory: %v\n", err)
				os.Exit(1)
			}
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

		logger := newLogger(cfg, "[snapshot] ")
		fetcher := netclient.New(cfg.Timeout())

		fmt.Printf("%s Pulling snapshot %s of project %s\n", ui.RenderAccent("→"), m.Snapshot.ID, m.Project.ID)
		start := time.Now()

		term := make(chan snapshot.Progress, 1)
		sync, err := snapshot.Start(db, fetcher, codec.BlockCodec{}, cfg.EngineConfig(logger),
			m.Project, m.Snapshot, localPath, func(p snapshot.Progress) {
				if p.Completed || p.Cancelled || p.Error != "" {
					term <- p
					return
				}
				fmt.Printf("\r%s", ui.RenderProgress(p.BlocksDownloaded, p.BlocksTotal))
			})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error starting sync: %v\n", err)
			os.Exit(1)
		}

		// Ctrl+C cancels the sync; a second Ctrl+C kills the process.
		sigc := make(chan os.Signal, 1)
		signal.Notify(sigc, os.Interrupt, syscall.SIGTERM)
		go func() {
			<-sigc
			signal.Stop(sigc)
			sync.Cancel()
		}()

		result := <-term
		fmt.Print("\r")

		if cerr := sync.Close(); cerr != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to release snapshot handle: %v\n", cerr)
		}

		switch {
		case result.Cancelled:
			fmt.Printf("%s Sync cancelled after %d/%d blocks\n", ui.RenderWarn("⚠"), result.BlocksDownloaded, result.BlocksTotal)
			os.Exit(1)
		case !result.Successful:
			fmt.Fprintf(os.Stderr, "%s Sync failed: %s\n", ui.RenderErr("✗"), result.Error)
			os.Exit(1)
		default:
			elapsed := time.Since(start)
			fmt.Printf("%s Synced %d blocks in %v\n", ui.RenderPass("✓"), result.BlocksDownloaded, elapsed.Round(time.Millisecond))
			fmt.Printf("   Project file: %s\n", localPath)
		}
	},
}

func init() {
	pullCmd.Flags().StringVarP(&pullOutput, "output", "o", "", "local project file path (default: <projects_dir>/<project-id>.audiolift)")
	rootCmd.AddCommand(pullCmd)
}
