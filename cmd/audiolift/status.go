package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/audiolift/audiolift/internal/projectdb"
	"github.com/audiolift/audiolift/internal/ui"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the sync state of local projects",
	Long: `Display every project recorded in the local cloud-projects
database: the snapshot it tracks, its sync status, when it was last
read, and where the local project file lives.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()

		info, err := os.Stat(cfg.Database.Path)
		if err != nil {
			if os.IsNotExist(err) {
				fmt.Printf("\n%s No projects database at %s\n", ui.RenderWarn("⚠"), cfg.Database.Path)
				fmt.Printf("   Run 'audiolift pull' to sync a snapshot\n\n")
				return
			}
			fmt.Fprintf(os.Stderr, "Error reading projects database: %v\n", err)
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

		recs, err := db.ListProjects(context.Background())
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error listing projects: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("\n%s Projects database: %s (%d bytes)\n\n", ui.RenderAccent("●"), cfg.Database.Path, info.Size())

		if len(recs) == 0 {
			fmt.Printf("No projects recorded\n\n")
			return
		}

		for _, rec := range recs {
			marker := ui.RenderPass("✓")
			if rec.SyncStatus != projectdb.StatusSynced {
				marker = ui.RenderWarn("…")
			}
			fmt.Printf("%s %s\n", marker, rec.ProjectID)
			fmt.Printf("   Snapshot: %s (%s)\n", rec.SnapshotID, rec.SyncStatus)
			fmt.Printf("   Last read: %s\n", time.Unix(rec.LastRead, 0).Format("2006-01-02 15:04:05"))
			fmt.Printf("   File: %s\n", ui.RenderDim(rec.LocalPath))
		}
		fmt.Println()
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
