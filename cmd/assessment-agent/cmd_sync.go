package main

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/terra-clan/assessment-engine/internal/connectivity"
	"github.com/terra-clan/assessment-engine/internal/dashboard"
	"github.com/terra-clan/assessment-engine/internal/models"
	"github.com/terra-clan/assessment-engine/internal/syncer"
)

var dashboardRemote bool

func runSync(ctx context.Context, a *app, args []string) error {
	ctx, cancel := withTimeout(ctx, 2*a.cfg.Remote.Timeout)
	defer cancel()

	// One-shot runs probe the remote instead of holding a feed connection
	online := a.probe(ctx)
	if !online {
		slog.Warn("remote unreachable, sync skipped", "url", a.cfg.Remote.BaseURL)
	}

	res, err := a.engine(connectivity.Static(online)).Sync(ctx)
	if err != nil {
		return err
	}
	return printJSON(res)
}

func runWatch(ctx context.Context, a *app, args []string) error {
	if logLevel.Level() > slog.LevelInfo {
		logLevel.Set(slog.LevelInfo)
	}

	watcher := connectivity.NewWatcher(a.cfg.Sync.EventsURL, a.cfg.Remote.APIKey)
	engine := a.engine(watcher)
	worker := syncer.NewWorker(engine, a.cfg.Sync.Interval, watcher.Reconnected(), watcher.Updates())

	slog.Info("watching remote", "events", a.cfg.Sync.EventsURL, "interval", a.cfg.Sync.Interval)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		watcher.Run(ctx)
		return nil
	})
	g.Go(func() error {
		worker.Run(ctx)
		return nil
	})
	return g.Wait()
}

func runConflictsList(ctx context.Context, a *app, args []string) error {
	entries, err := a.conflicts.List(ctx)
	if err != nil {
		return err
	}

	type row struct {
		Key         string `json:"key"`
		OriginalKey string `json:"originalKey"`
		Date        string `json:"date"`
		stateView
	}
	rows := make([]row, 0, len(entries))
	for _, e := range entries {
		r := row{Key: e.Record.Key, OriginalKey: e.Record.OriginalKey, Date: e.Record.Date.Format("2006-01-02 15:04:05")}
		if e.State != nil {
			r.stateView = view(e.State)
		}
		rows = append(rows, r)
	}
	return printJSON(rows)
}

func runConflictsRestore(ctx context.Context, a *app, args []string) error {
	return printState(a.conflicts.Restore(ctx, args[0]))
}

func runConflictsDiscard(ctx context.Context, a *app, args []string) error {
	if err := a.conflicts.Discard(ctx, args[0]); err != nil {
		return err
	}
	return printJSON(map[string]string{"discarded": args[0]})
}

func runDashboard(ctx context.Context, a *app, args []string) error {
	if dashboardRemote {
		m, err := a.remote.Dashboard(ctx)
		if err != nil {
			return err
		}
		return printJSON(m)
	}

	entries, err := a.service.ListAll(ctx, a.identity.CurrentUser())
	if err != nil {
		return err
	}
	states := make([]*models.AssessmentState, 0, len(entries))
	for _, e := range entries {
		states = append(states, e.State)
	}
	return printJSON(dashboard.Compute(states))
}
