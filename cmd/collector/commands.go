package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ad-tracker/youtube-stats-collector/internal/config"
	"github.com/ad-tracker/youtube-stats-collector/internal/queue"
	"github.com/ad-tracker/youtube-stats-collector/internal/service/sampler"
	"github.com/ad-tracker/youtube-stats-collector/pkg/logger"
)

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
}

func newPopulateCmd(cfg *config.Config) *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "populate [channel-id|@handle]...",
		Short: "Register channels by id or handle",
		RunE: func(cmd *cobra.Command, args []string) error {
			refs := append([]string(nil), args...)
			if file != "" {
				f, err := os.Open(file)
				if err != nil {
					return fmt.Errorf("failed to open channel list: %w", err)
				}
				defer f.Close()
				fromFile, err := readRefs(f)
				if err != nil {
					return fmt.Errorf("failed to read channel list: %w", err)
				}
				refs = append(refs, fromFile...)
			}
			if len(refs) == 0 {
				return fmt.Errorf("no channels given: pass ids or handles as arguments or use --file")
			}

			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			summary, err := a.discover.PopulateChannels(ctx, refs)
			if summary != nil {
				_ = printJSON(cmd.OutOrStdout(), summary)
			}
			return err
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "file with one channel id or handle per line")
	return cmd
}

func newDiscoverCmd(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "discover",
		Short: "Crawl active channels for new uploads and schedule them for sampling",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			summary, err := a.discover.DiscoverUploads(ctx, time.Now())
			if summary != nil {
				_ = printJSON(cmd.OutOrStdout(), summary)
			}
			return err
		},
	}
}

func newTickCmd(cfg *config.Config) *cobra.Command {
	var (
		force   bool
		at      string
		enqueue bool
	)

	cmd := &cobra.Command{
		Use:   "tick",
		Short: "Sample the bin of the current (or given) UTC hour",
		RunE: func(cmd *cobra.Command, _ []string) error {
			now, err := parseAt(at, time.Now)
			if err != nil {
				return err
			}

			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			if enqueue {
				client, err := queue.NewClient(cfg.Redis.URL, logger.Named("queue"))
				if err != nil {
					return err
				}
				defer client.Close()

				info, err := client.EnqueueTick(ctx, now, force)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), map[string]string{"task_id": info.ID, "queue": info.Queue})
			}

			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			summary, err := a.sampler.RunTickWithOptions(ctx, now, sampler.TickOptions{Force: force})
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), summary)
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "sample even if the bin was already ticked this hour")
	cmd.Flags().StringVar(&at, "at", "", "RFC 3339 time whose UTC hour selects the bin (default now)")
	cmd.Flags().BoolVar(&enqueue, "enqueue", false, "queue the tick for the worker instead of running it here")
	return cmd
}

func newWorkerCmd(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Process queued ticks and discovery runs and schedule the periodic ones",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			handler := queue.NewHandler(a.sampler, a.discover, logger.Named("tasks"))
			server, err := queue.NewServer(cfg.Redis.URL, cfg.Worker.Concurrency, handler, logger.Named("worker"))
			if err != nil {
				return err
			}

			scheduler, err := queue.NewScheduler(cfg.Redis.URL, logger.Named("scheduler"))
			if err != nil {
				return err
			}
			entries, err := queue.RegisterPeriodic(scheduler, cfg.Worker)
			if err != nil {
				return err
			}

			if err := server.Start(); err != nil {
				return fmt.Errorf("failed to start worker: %w", err)
			}
			if err := scheduler.Start(); err != nil {
				server.Stop()
				return fmt.Errorf("failed to start scheduler: %w", err)
			}
			a.log.Info("worker started",
				zap.Int("concurrency", cfg.Worker.Concurrency),
				zap.Strings("periodic_entries", entries),
			)

			<-ctx.Done()
			a.log.Info("shutdown signal received")
			scheduler.Shutdown()
			server.Stop()
			a.log.Info("worker stopped gracefully")
			return nil
		},
	}
}

// readRefs reads one channel reference per line, skipping blanks and # comments.
func readRefs(r io.Reader) ([]string, error) {
	var refs []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		refs = append(refs, line)
	}
	return refs, scanner.Err()
}

// parseAt parses the --at flag, falling back to now.
func parseAt(raw string, now func() time.Time) (time.Time, error) {
	if raw == "" {
		return now().UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --at %q: %w", raw, err)
	}
	return t.UTC(), nil
}
