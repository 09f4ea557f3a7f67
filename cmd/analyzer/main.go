package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/gallonr/server-analyzer/app"
	"github.com/gallonr/server-analyzer/dedup"
	"github.com/gallonr/server-analyzer/models"
	"github.com/gallonr/server-analyzer/scan"
	"github.com/gallonr/server-analyzer/store"
	webapp "github.com/gallonr/server-analyzer/web/run"
)

var configPath string

func main() {
	rootCmd := &cobra.Command{
		Use:           "analyzer",
		Short:         "Filesystem inventory scanner",
		Long:          "Scans configured directory trees into a sqlite inventory, finds duplicate files and serves query results over HTTP.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "Path to the yaml configuration file")

	rootCmd.AddCommand(scanCmd(), resumeCmd(), scansCmd(), duplicatesCmd(), serveCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func scanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "scan",
		Short: "Run a full scan of the configured root paths",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := app.LoadConfig(configPath)
			if err != nil {
				return err
			}
			ctx, stop := signalContext()
			defer stop()

			log := app.NewLogger(cfg)
			outcome, err := app.RunScan(ctx, cfg, log)
			if err != nil {
				return err
			}
			printOutcome(outcome)
			return outcome.Err
		},
	}
}

func resumeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resume <scan-id>",
		Short: "Resume an interrupted scan from its checkpoint",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := app.LoadConfig(configPath)
			if err != nil {
				return err
			}
			ctx, stop := signalContext()
			defer stop()

			log := app.NewLogger(cfg)
			outcome, err := app.ResumeScan(ctx, cfg, args[0], log)
			if err != nil {
				return err
			}
			printOutcome(outcome)
			return outcome.Err
		},
	}
}

func scansCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "scans",
		Short: "List recorded scans, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := app.LoadConfig(configPath)
			if err != nil {
				return err
			}
			st, err := store.Open(cfg.Database.Path)
			if err != nil {
				return err
			}
			defer st.Close()

			scans, err := st.ListScans(cmd.Context(), limit)
			if err != nil {
				return err
			}
			for _, s := range scans {
				fmt.Printf("%s  %-12s  %s  files=%d dirs=%d size=%s errors=%d\n",
					s.ID, s.Status, s.StartTime.Format(time.RFC3339),
					s.TotalFiles, s.TotalDirs, humanize.Bytes(uint64(s.TotalSizeBytes)), s.ErrorsCount)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of scans to list")
	return cmd
}

func duplicatesCmd() *cobra.Command {
	var noCache bool
	var minSize int64
	var algorithm string
	cmd := &cobra.Command{
		Use:   "duplicates <scan-id>",
		Short: "Detect duplicate files within a completed scan",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := app.LoadConfig(configPath)
			if err != nil {
				return err
			}
			ctx, stop := signalContext()
			defer stop()

			log := app.NewLogger(cfg)
			opts := dedup.Options{NoCache: noCache, MinSizeBytes: minSize, Algorithm: algorithm}
			report, err := app.RunDuplicates(ctx, cfg, args[0], opts, log)
			if err != nil {
				return err
			}
			printReport(report)
			return nil
		},
	}
	cmd.Flags().BoolVar(&noCache, "no-cache", false, "Recompute even when a cached result matches")
	cmd.Flags().Int64Var(&minSize, "min-size", 0, "Minimum file size in bytes (overrides config)")
	cmd.Flags().StringVar(&algorithm, "algorithm", "", "Hash algorithm: md5, sha1 or sha256 (overrides config)")
	return cmd
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the read-only query API over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := app.LoadConfig(configPath)
			if err != nil {
				return err
			}
			ctx, stop := signalContext()
			defer stop()

			log := app.NewLogger(cfg)
			st, err := store.Open(cfg.Database.Path)
			if err != nil {
				return err
			}
			defer st.Close()

			web := webapp.NewWebApp(st, cfg, log)
			srv := &http.Server{Addr: web.GetListenAddr(), Handler: web.GetRouter()}

			go func() {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(shutdownCtx)
			}()

			log.Info("listening", "addr", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return err
			}
			return nil
		},
	}
}

func printOutcome(o scan.Outcome) {
	fmt.Printf("scan %s finished with status %s\n", o.ScanID, o.Status)
	fmt.Printf("  files persisted: %d\n", o.FilesPersisted)
	fmt.Printf("  dirs completed:  %d\n", o.DirsCompleted)
	fmt.Printf("  duration:        %s\n", o.Duration.Round(time.Millisecond))
	if o.Status == models.ScanInterrupted {
		fmt.Printf("  resume with: analyzer resume %s\n", o.ScanID)
	}
}

func printReport(r *models.DuplicateReport) {
	source := "computed"
	if r.FromCache {
		source = "cached"
	}
	fmt.Printf("duplicate report for scan %s (%s, %s)\n", r.ScanID, source, r.Elapsed.Round(time.Millisecond))
	fmt.Printf("  groups:       %d\n", r.TotalGroups)
	fmt.Printf("  extra copies: %d\n", r.TotalCopies)
	fmt.Printf("  wasted space: %s\n", humanize.Bytes(uint64(r.WastedBytes)))
	for _, g := range r.Groups {
		fmt.Printf("  %s  %s x%d\n", g.Hash[:12], humanize.Bytes(uint64(g.SizeBytes)), g.Count)
		for _, m := range g.Members {
			fmt.Printf("    %s\n", m.Path)
		}
	}
}
