package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"adconverge/internal/config"
	"adconverge/internal/directory"
	"adconverge/internal/dnsclient"
	"adconverge/internal/feature"
	"adconverge/internal/history"
	"adconverge/internal/logger"
	"adconverge/internal/mail"
	"adconverge/internal/metrics"
	"adconverge/internal/report"
	"adconverge/internal/run"
	"adconverge/internal/verify"
)

func main() {
	_ = godotenv.Load()

	var configPath string

	root := &cobra.Command{
		Use:           "adconverge",
		Short:         "Verify directory replication convergence with synthetic fixtures",
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "config.yaml", "Path to config file")

	root.AddCommand(runCmd(&configPath))
	root.AddCommand(historyCmd(&configPath))

	if err := root.Execute(); err != nil {
		slog.Error("Run aborted", "error", err)
		os.Exit(1)
	}
}

func runCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Perform one verification run",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			logger.Configure(cfg.Log.Level, cfg.Log.Env)

			m := metrics.New(true)
			stopMetrics := serveMetrics(cfg.MetricsAddr, m)
			defer stopMetrics()

			ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			dir := directory.New(cfg.Directory.Primary, cfg.Directory.BindUser, cfg.Directory.BindPass, cfg.ProbeTimeout)
			dns := dnsclient.New(cfg.Directory.Primary, cfg.ProbeTimeout)
			features := feature.New()
			checker := verify.NewChecker(dir, dns, features, m, cfg.ProbeTimeout)

			var archive history.Archive
			if cfg.HistoryPath != "" {
				archive, err = history.Open(cfg.HistoryPath)
				if err != nil {
					slog.Warn("Fail open history archive, proceeding without", "path", cfg.HistoryPath, "error", err)
				} else {
					defer archive.Close()
				}
			}

			orch := run.New(cfg, dir, dns, features, checker, mail.New(), archive, m, run.RealClock())

			rep, err := orch.Run(ctx)
			if err != nil {
				return err
			}

			// A completed run exits zero whatever the individual outcomes.
			fmt.Print(report.Render(*rep))
			return nil
		},
	}
}

func historyCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "history",
		Short: "List archived run reports",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			logger.Configure(cfg.Log.Level, cfg.Log.Env)

			if cfg.HistoryPath == "" {
				return fmt.Errorf("historyPath not configured")
			}
			archive, err := history.Open(cfg.HistoryPath)
			if err != nil {
				return err
			}
			defer archive.Close()

			entries, err := archive.Runs(cmd.Context())
			if err != nil {
				return err
			}
			for _, e := range entries {
				pass, fail := tally(e.Report)
				fmt.Printf("%s domain=%s nodes=%d pass=%d fail=%d\n",
					e.Key, e.Report.Domain, len(e.Report.Nodes), pass, fail)
			}
			return nil
		},
	}
}

func tally(r report.RunReport) (pass, fail int) {
	for _, results := range [][]verify.CheckResult{r.Local, r.Remote} {
		for _, res := range results {
			if res.Outcome == verify.Pass {
				pass++
			} else {
				fail++
			}
		}
	}
	return pass, fail
}

func serveMetrics(addr string, m *metrics.Metrics) func() {
	if addr == "" {
		return func() {}
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	server := &http.Server{Addr: addr, Handler: mux}

	go func() {
		slog.Info("Starting metrics server", "address", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("Metrics server failed", "error", err)
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			slog.Error("Metrics server shutdown error", "error", err)
		}
	}
}
