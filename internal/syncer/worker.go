package syncer

import (
	"context"
	"log/slog"
	"time"
)

// Syncer is what the worker drives
type Syncer interface {
	Sync(ctx context.Context) (*Result, error)
}

// Worker triggers syncs periodically and on external signals such as a
// reconnect or a remote update notice
type Worker struct {
	syncer   Syncer
	interval time.Duration
	signals  []<-chan struct{}
}

// NewWorker creates a sync worker. Each signal channel triggers an
// immediate sync when it receives.
func NewWorker(s Syncer, interval time.Duration, signals ...<-chan struct{}) *Worker {
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	return &Worker{
		syncer:   s,
		interval: interval,
		signals:  signals,
	}
}

// Start begins the sync worker in a goroutine
func (w *Worker) Start(ctx context.Context) {
	go w.Run(ctx)
}

// Run is the worker loop; it returns when ctx is done
func (w *Worker) Run(ctx context.Context) {
	slog.Info("sync worker started", "interval", w.interval)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	trigger := merge(ctx, w.signals)

	// Run immediately on start
	w.sync(ctx, "start")

	for {
		select {
		case <-ctx.Done():
			slog.Info("sync worker stopped")
			return
		case <-ticker.C:
			w.sync(ctx, "interval")
		case <-trigger:
			w.sync(ctx, "signal")
		}
	}
}

func (w *Worker) sync(ctx context.Context, reason string) {
	slog.Debug("running sync cycle", "reason", reason)

	res, err := w.syncer.Sync(ctx)
	if err != nil {
		slog.Error("sync cycle failed", "reason", reason, "error", err)
		return
	}
	if res.Skipped {
		slog.Debug("sync cycle skipped", "reason", reason)
		return
	}

	slog.Info("sync cycle completed",
		"reason", reason,
		"pushed", res.Pushed,
		"applied", res.Applied,
		"rejected", res.Rejected,
		"pulled", res.Pulled,
		"conflicts", len(res.Conflicts),
	)
}

// merge fans the signal channels into one; bursts collapse into a single pending trigger
func merge(ctx context.Context, signals []<-chan struct{}) <-chan struct{} {
	out := make(chan struct{}, 1)
	for _, sig := range signals {
		go func(sig <-chan struct{}) {
			for {
				select {
				case <-ctx.Done():
					return
				case _, ok := <-sig:
					if !ok {
						return
					}
					select {
					case out <- struct{}{}:
					default:
					}
				}
			}
		}(sig)
	}
	return out
}
