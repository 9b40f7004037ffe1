package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/ehr/elisfeed/internal/config"
	"github.com/ehr/elisfeed/internal/platform/admin"
	"github.com/ehr/elisfeed/internal/platform/db"
	"github.com/ehr/elisfeed/internal/platform/feed"
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "elis-feed",
		Short:        "OpenELIS lab result feed client",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(consumeCmd())
	rootCmd.AddCommand(processCmd())
	rootCmd.AddCommand(failedCmd())
	rootCmd.AddCommand(migrateCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Consume the accession feed and serve the admin API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func runServer() error {
	logger := newLogger()
	ctx, stop := signalContext()
	defer stop()

	a, err := newApp(ctx, logger)
	if err != nil {
		logger.Error().Err(err).Msg("failed to start")
		return err
	}
	defer a.Close()

	h := admin.NewHandler(a.failed, a.consumer, a.worker, logger)
	dbHealth := db.HealthHandler(a.pool, db.HealthCheck{
		Name:   "feed",
		Report: feed.MarkerHealth(a.markers, a.consumer.FeedURI()),
	})
	e := admin.NewServer(h, admin.Options{
		JWTSecret: []byte(a.cfg.AdminJWTSecret),
		Dev:       a.cfg.IsDev(),
		DBHealth:  dbHealth,
	}, logger)

	go func() {
		addr := ":" + a.cfg.Port
		logger.Info().Str("addr", addr).Msg("starting admin server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("admin server error")
			stop()
		}
	}()

	runErr := feed.NewRunner(a.consumer, a.cfg.FeedPollInterval, logger).Run(ctx)
	if runErr != nil {
		logger.Error().Err(runErr).Msg("feed consumer stopped")
	}

	logger.Info().Msg("shutting down admin server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("admin server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return runErr
}

func consumeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "consume",
		Short: "Consume the accession feed without the admin API",
		RunE: func(cmd *cobra.Command, args []string) error {
			once, _ := cmd.Flags().GetBool("once")
			logger := newLogger()
			ctx, stop := signalContext()
			defer stop()

			a, err := newApp(ctx, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			if !once {
				return feed.NewRunner(a.consumer, a.cfg.FeedPollInterval, logger).Run(ctx)
			}
			stats, err := a.consumer.ProcessEvents(ctx)
			fmt.Printf("Processed %d event(s), %d failed.\n", stats.Processed, stats.Failed)
			if err != nil {
				return err
			}
			stats, err = a.consumer.ProcessFailedEvents(ctx)
			fmt.Printf("Retried failed events: %d succeeded, %d failed.\n", stats.Processed, stats.Failed)
			return err
		},
	}
	cmd.Flags().Bool("once", false, "Process new and failed events once and exit")
	return cmd
}

func processCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "process <event-content>",
		Short: "Process one accession, given the content of its feed event",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			ctx, stop := signalContext()
			defer stop()

			a, err := newApp(ctx, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			ev := feed.Event{ID: "manual:" + uuid.NewString(), Content: args[0]}
			if err := a.worker.Process(ctx, ev); err != nil {
				return err
			}
			fmt.Printf("Processed %s.\n", args[0])
			return nil
		},
	}
}

func failedCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "failed",
		Short: "Inspect and retry parked feed events",
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List parked events",
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetInt("limit")
			offset, _ := cmd.Flags().GetInt("offset")

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			ctx := context.Background()
			pool, err := connect(ctx, cfg)
			if err != nil {
				return err
			}
			defer pool.Close()

			events, total, err := feed.NewFailedEventStore(pool).List(ctx, limit, offset)
			if err != nil {
				return err
			}
			fmt.Printf("%-36s %-8s %-20s %s\n", "ID", "RETRIES", "FAILED AT", "CONTENT / ERROR")
			for _, fe := range events {
				fmt.Printf("%-36s %-8d %-20s %s\n", fe.ID, fe.Retries, fe.FailedAt.Format("2006-01-02 15:04:05"), fe.Content)
				fmt.Printf("%-66s %s\n", "", fe.ErrorMessage)
			}
			fmt.Printf("Showing %d of %d.\n", len(events), total)
			return nil
		},
	}
	listCmd.Flags().Int("limit", 50, "Maximum number of events to list")
	listCmd.Flags().Int("offset", 0, "Number of events to skip")
	cmd.AddCommand(listCmd)

	cmd.AddCommand(&cobra.Command{
		Use:   "retry <id>",
		Short: "Retry one parked event now, regardless of its retry count",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid id %q: %w", args[0], err)
			}
			logger := newLogger()
			ctx, stop := signalContext()
			defer stop()

			a, err := newApp(ctx, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.consumer.RetryFailedEvent(ctx, id); err != nil {
				if errors.Is(err, feed.ErrNotFound) {
					return fmt.Errorf("failed event %s not found", id)
				}
				return err
			}
			fmt.Printf("Event %s processed and removed.\n", id)
			return nil
		},
	})

	return cmd
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	// migrate up
	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			ctx := context.Background()
			pool, err := connect(ctx, cfg)
			if err != nil {
				return err
			}
			defer pool.Close()

			count, err := db.NewMigrator(pool, dir).Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(upCmd)

	// migrate status
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			ctx := context.Background()
			pool, err := connect(ctx, cfg)
			if err != nil {
				return err
			}
			defer pool.Close()

			statuses, err := db.NewMigrator(pool, dir).Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			fmt.Println("---------- ---------------------------------------- ---------- --------------------")
			for _, s := range statuses {
				status := "pending"
				appliedAt := ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	}
	statusCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(statusCmd)

	return cmd
}
