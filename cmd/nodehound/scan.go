package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nodehound/nodehound/internal/bus"
	"github.com/nodehound/nodehound/internal/config"
	"github.com/nodehound/nodehound/internal/discovery"
	"github.com/nodehound/nodehound/internal/hunt"
	"github.com/nodehound/nodehound/internal/log"
	"github.com/nodehound/nodehound/internal/report"
	"github.com/nodehound/nodehound/internal/store"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// scanConcurrency bounds how many targets are probed at once.
const scanConcurrency = 8

func doRun(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ctx = log.ContextAttrs(ctx,
		slog.Group("nodehound",
			slog.String("cmd", "run"),
			slog.Int("pid", os.Getpid()),
		),
	)

	if len(cfg.Targets) == 0 {
		return fmt.Errorf("no targets configured, use --target or the targets config key")
	}

	if cfg.Schedule == "" {
		return scanOnce(ctx)
	}

	sched, err := config.ParseSchedule(cfg.Schedule)
	if err != nil {
		return err
	}
	for {
		if err := scanOnce(ctx); err != nil {
			slog.ErrorContext(ctx, "scan failed", "error", err)
		}
		next := sched.Next(time.Now())
		slog.InfoContext(ctx, "next scan scheduled", "at", next)
		select {
		case <-ctx.Done():
			slog.InfoContext(ctx, "shutting down")
			return nil
		case <-time.After(time.Until(next)):
		}
	}
}

// scanOnce runs one full pass: discovery fans out per target, probers and
// hunters react through the bus, the drained bus yields the report.
func scanOnce(ctx context.Context) error {
	runID := uuid.New().String()
	ctx = log.ContextAttrs(ctx, slog.String("run", runID))
	slog.InfoContext(ctx, "scan started", "targets", len(cfg.Targets), "active", cfg.Active)

	b := bus.New()

	collector := report.NewCollector()
	collector.Register(b)
	hunt.NewReadOnly(cfg, b).Register(b)
	hunt.NewSecure(cfg, b).Register(b)
	if cfg.Active {
		hunt.NewProof(cfg).Register(b)
	}

	d := discovery.New(cfg)
	var g errgroup.Group
	g.SetLimit(scanConcurrency)
	for _, host := range cfg.Targets {
		g.Go(func() error {
			d.Run(ctx, b, host)
			return nil
		})
	}
	_ = g.Wait()
	b.Wait()

	findings := collector.Findings()
	slog.InfoContext(ctx, "scan finished", "findings", len(findings))

	if cfg.DB != "" {
		if err := persist(ctx, runID, collector); err != nil {
			slog.ErrorContext(ctx, "persisting run failed", "error", err)
		}
	}
	return write(collector)
}

func persist(ctx context.Context, runID string, collector *report.Collector) error {
	db, err := store.InitDB(ctx, cfg.DB)
	if err != nil {
		return err
	}
	defer func() {
		_ = db.Close()
	}()

	if err := store.StartRun(ctx, db, runID, cfg.Targets); err != nil {
		return err
	}
	findings := collector.Findings()
	for _, f := range findings {
		if err := store.InsertFinding(ctx, db, runID, f); err != nil {
			return err
		}
	}
	return store.FinishRun(ctx, db, runID, len(findings))
}

func write(collector *report.Collector) error {
	var w io.Writer = os.Stdout
	if cfg.Report != "" {
		f, err := os.Create(cfg.Report)
		if err != nil {
			return fmt.Errorf("creating report file: %w", err)
		}
		defer func() {
			_ = f.Close()
		}()
		w = f
	}
	return collector.AsJSON(w)
}
