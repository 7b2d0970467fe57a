package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"NewsDigest/internal/app"
	"NewsDigest/internal/config"
	"NewsDigest/internal/domain"
	"NewsDigest/internal/infrastructure/storage"
	"NewsDigest/internal/logging"
	"NewsDigest/internal/usecase"
)

var (
	configPath string
	runDateArg string
)

var rootCmd = &cobra.Command{
	Use:           "newsdigest",
	Short:         "Collect AI news, summarize it and deliver a daily digest",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute the pipeline once",
	RunE: func(cmd *cobra.Command, _ []string) error {
		runDate, err := optionalRunDate()
		if err != nil {
			return err
		}
		return withApp(cmd.Context(), func(ctx context.Context, a *app.Application, logger *slog.Logger) error {
			report, err := a.Run(ctx, runDate)
			return reportResult(logger, report, err)
		})
	},
}

var redeliverCmd = &cobra.Command{
	Use:   "redeliver",
	Short: "Retry delivery of an existing digest",
	RunE: func(cmd *cobra.Command, _ []string) error {
		runDate, err := domain.ParseRunDate(runDateArg)
		if err != nil {
			return err
		}
		return withApp(cmd.Context(), func(ctx context.Context, a *app.Application, logger *slog.Logger) error {
			report, err := a.Redeliver(ctx, runDate)
			return reportResult(logger, report, err)
		})
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run on the cron schedule and serve health, metrics and digests over HTTP",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd.Context(), func(ctx context.Context, a *app.Application, _ *slog.Logger) error {
			return a.Serve(ctx)
		})
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations",
	RunE: func(_ *cobra.Command, _ []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		dialect, err := storage.ParseDialect(cfg.Database.Driver)
		if err != nil {
			return err
		}
		return storage.Migrate(dialect, cfg.Database.DSN)
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print item counts per stage and the digest for --date",
	RunE: func(cmd *cobra.Command, _ []string) error {
		runDate, err := optionalRunDate()
		if err != nil {
			return err
		}
		return withApp(cmd.Context(), func(ctx context.Context, a *app.Application, _ *slog.Logger) error {
			counts, digest, err := a.Status(ctx, runDate)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, stage := range domain.Stages() {
				fmt.Fprintf(out, "%-18s %d\n", stage, counts[stage])
			}
			if digest != nil {
				fmt.Fprintf(out, "\ndigest %s: %s, %d items, %d attempts", digest.RunDate, digest.Status, len(digest.Items), digest.Attempts)
				if digest.LastError != "" {
					fmt.Fprintf(out, ", last error: %s", digest.LastError)
				}
				fmt.Fprintln(out)
			} else if runDate != "" {
				fmt.Fprintf(out, "\nno digest for %s\n", runDate)
			}
			return nil
		})
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML config (defaults to $NEWS_DIGEST_CONFIG)")

	runCmd.Flags().StringVar(&runDateArg, "date", "", "Run date YYYY-MM-DD (defaults to today in the scheduler timezone)")
	statusCmd.Flags().StringVar(&runDateArg, "date", "", "Run date YYYY-MM-DD")
	redeliverCmd.Flags().StringVar(&runDateArg, "date", "", "Run date YYYY-MM-DD")
	_ = redeliverCmd.MarkFlagRequired("date")

	rootCmd.AddCommand(runCmd, redeliverCmd, serveCmd, migrateCmd, statusCmd)
}

func optionalRunDate() (domain.RunDate, error) {
	if runDateArg == "" {
		return "", nil
	}
	return domain.ParseRunDate(runDateArg)
}

func withApp(ctx context.Context, fn func(context.Context, *app.Application, *slog.Logger) error) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger := logging.New(cfg.Logging.Level, cfg.Logging.Format)

	application, err := app.New(ctx, cfg, logger, app.Options{})
	if err != nil {
		return err
	}
	defer application.Close()

	return fn(ctx, application, logger)
}

func reportResult(logger *slog.Logger, report usecase.RunReport, err error) error {
	if err != nil {
		return err
	}
	if report.State == usecase.RunSkipped {
		logger.Info("digest already exists, nothing to do", "run_date", report.RunDate.String())
		return nil
	}
	logger.Info("run finished", "report", report.String())
	return nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		slog.Error("newsdigest failed", "error", err)
		stop()
		os.Exit(1)
	}
}
