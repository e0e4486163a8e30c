package cmd

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/solatis/ideafilter/internal/core/config"
	"github.com/solatis/ideafilter/internal/core/server"
	"github.com/solatis/ideafilter/internal/filter"
	"github.com/solatis/ideafilter/internal/rules"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Filter IDEA records read as JSON lines",
	Long: `Reads one JSON IDEA record per line from --input (stdin by default) and
dispatches every record through the rule document. The document is reloaded
when it changes; SIGINT and SIGTERM stop processing between records.`,
	RunE: runFilter,
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().String("rules", "", "rule document path (overrides filter.config)")
	runCmd.Flags().String("input", "-", "input file with one JSON record per line, - for stdin")
	runCmd.Flags().String("module", "", "module name (overrides filter.module)")
}

// runStats summarises a run for the final log line.
type runStats struct {
	Records  int
	Invalid  int
	Matched  int
	Dropped  int
	Failures int
}

func runFilter(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("module") {
		cfg.Filter.Module, _ = cmd.Flags().GetString("module")
	}
	if cfg.Filter.Config == "" {
		return fmt.Errorf("no rule document configured (use --rules or filter.config)")
	}
	logger, err := newLogger(cfg, cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ctrs, err := openCounters(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer ctrs.Close()

	env, closers, err := actionEnv(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeAll(closers)
	env.Stdout = cmd.OutOrStdout()

	opts := filter.Options{
		Name:      cfg.Filter.Module,
		Env:       env,
		NewMailer: mailerFactory(config.SMTPPasswords()),
		Counters:  ctrs,
		Logger:    logger,
	}

	var health *server.HealthServer
	if cfg.Health.Port > 0 {
		health, err = server.NewHealthServer(cfg.Health.Addr(), logger)
		if err != nil {
			return err
		}
		opts.Health = health
		go func() {
			if err := health.Start(ctx); err != nil {
				logger.Error().Err(err).Msg("health endpoint stopped")
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), server.ShutdownTimeout)
			defer cancel()
			if err := health.Shutdown(shutdownCtx); err != nil {
				logger.Error().Err(err).Msg("health shutdown failed")
			}
		}()
	}

	f, err := filter.New(ctx, cfg.Filter.Config, opts)
	if err != nil {
		return fmt.Errorf("failed to load rule document: %w", err)
	}
	defer f.Close()

	if cfg.Filter.WatchInterval > 0 || cfg.Filter.WatchMode == filter.WatchNotify {
		w, err := filter.NewWatcher(f, cfg.Filter.WatchInterval, cfg.Filter.WatchMode, logger)
		if err != nil {
			return err
		}
		go func() {
			if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error().Err(err).Msg("watcher stopped")
			}
		}()
	}

	input, err := openInput(cmd)
	if err != nil {
		return err
	}
	defer input.Close()

	logger.Info().
		Str("version", Version).
		Str("instance", string(f.ID())).
		Time("started", f.ID().Started()).
		Str("module", f.Module()).
		Int("rules", len(f.Rules())).
		Msg("filter started")

	start := time.Now()
	stats, err := processLines(ctx, f, input, logger)
	logger.Info().
		Int("records", stats.Records).
		Int("invalid", stats.Invalid).
		Int("matched", stats.Matched).
		Int("dropped", stats.Dropped).
		Int("failures", stats.Failures).
		Dur("elapsed", time.Since(start)).
		Msg("filter stopped")
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func openInput(cmd *cobra.Command) (io.ReadCloser, error) {
	path, _ := cmd.Flags().GetString("input")
	if path == "" || path == "-" {
		return io.NopCloser(cmd.InOrStdin()), nil
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open input: %w", err)
	}
	return file, nil
}

// processLines feeds every non-blank line of r to f until EOF or ctx ends.
// Reading happens on its own goroutine so cancellation is observed between
// records even while a read blocks. A record already being dispatched runs
// to completion: its actions and counter writes never see the cancellation.
func processLines(ctx context.Context, f *filter.Filter, r io.Reader, logger zerolog.Logger) (runStats, error) {
	type line struct {
		data []byte
		err  error
	}
	lines := make(chan line)
	go func() {
		defer close(lines)
		br := bufio.NewReader(r)
		for {
			data, err := br.ReadBytes('\n')
			if len(data) > 0 || err != nil {
				select {
				case lines <- line{data: data, err: err}:
				case <-ctx.Done():
					return
				}
			}
			if err != nil {
				return
			}
		}
	}()

	dispatchCtx := context.WithoutCancel(ctx)
	var stats runStats
	for {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		var l line
		var ok bool
		select {
		case <-ctx.Done():
			return stats, ctx.Err()
		case l, ok = <-lines:
			if !ok {
				return stats, nil
			}
		}

		if data := bytes.TrimSpace(l.data); len(data) > 0 {
			stats.Records++
			record, err := rules.DecodeRecord(data)
			if err != nil {
				stats.Invalid++
				logger.Warn().Err(err).Int("record", stats.Records).Msg("skipping invalid record")
			} else {
				s := f.Process(dispatchCtx, record)
				stats.Matched += s.Matched
				stats.Failures += s.Failures
				if s.Dropped {
					stats.Dropped++
				}
			}
		}

		if l.err != nil {
			if errors.Is(l.err, io.EOF) {
				return stats, nil
			}
			return stats, fmt.Errorf("failed to read input: %w", l.err)
		}
	}
}
