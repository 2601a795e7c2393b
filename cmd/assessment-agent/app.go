package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/terra-clan/assessment-engine/internal/actionplan"
	"github.com/terra-clan/assessment-engine/internal/assessment"
	"github.com/terra-clan/assessment-engine/internal/config"
	"github.com/terra-clan/assessment-engine/internal/conflicts"
	"github.com/terra-clan/assessment-engine/internal/connectivity"
	"github.com/terra-clan/assessment-engine/internal/models"
	"github.com/terra-clan/assessment-engine/internal/questions"
	"github.com/terra-clan/assessment-engine/internal/storage"
	"github.com/terra-clan/assessment-engine/internal/syncer"
	"github.com/terra-clan/assessment-engine/pkg/client"
)

// app holds everything a command needs, built once per invocation
type app struct {
	cfg       *config.Config
	store     storage.Store
	tree      *models.QuestionTree
	identity  models.IdentityProvider
	service   *assessment.Service
	generator *actionplan.Generator
	conflicts *conflicts.Manager
	remote    *client.Client
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	store, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	tree, err := questions.LoadFile(cfg.Questions.Path)
	if err != nil {
		store.Close()
		return nil, err
	}

	gen, err := actionplan.NewGenerator(actionplan.Policy{
		CriticalPercent: cfg.Plan.CriticalPercent,
		HighPercent:     cfg.Plan.HighPercent,
	})
	if err != nil {
		store.Close()
		return nil, err
	}

	identity := models.StaticIdentity{User: identityUser(cfg.Identity)}
	svc := assessment.NewService(store, tree, identity)
	cm := conflicts.NewManager(store, identity)
	cm.OnRestored(svc.Refresh)

	a := &app{
		cfg:       cfg,
		store:     store,
		tree:      tree,
		identity:  identity,
		service:   svc,
		generator: gen,
		conflicts: cm,
		remote:    client.NewClient(cfg.Remote.BaseURL, cfg.Remote.APIKey, client.WithTimeout(cfg.Remote.Timeout)),
	}
	svc.SetSyncTrigger(a.syncNow)
	return a, nil
}

// engine builds the sync engine over conn and installs it as the service's sync hook
func (a *app) engine(conn syncer.Connectivity) *syncer.Engine {
	e := a.newEngine(conn)
	a.service.SetSyncTrigger(e.Trigger)
	return e
}

func (a *app) newEngine(conn syncer.Connectivity) *syncer.Engine {
	e := syncer.NewEngine(a.store, a.remote, conn, a.conflicts, a.identity, a.tree)
	e.OnReplaced(a.service.Refresh)
	return e
}

// probe reports whether the remote answers its health check
func (a *app) probe(ctx context.Context) bool {
	if err := a.remote.Health(ctx); err != nil {
		slog.Debug("remote unreachable", "url", a.cfg.Remote.BaseURL, "error", err)
		return false
	}
	return true
}

// syncNow is the sync hook of one-shot commands: probe the remote once, then sync
func (a *app) syncNow(ctx context.Context) {
	ctx, cancel := withTimeout(ctx, 2*a.cfg.Remote.Timeout)
	defer cancel()
	a.newEngine(connectivity.Static(a.probe(ctx))).Trigger(ctx)
}

// active resumes the last opened assessment
func (a *app) active(ctx context.Context) (*models.AssessmentState, error) {
	st, err := a.service.ResumeLast(ctx)
	if err != nil {
		return nil, err
	}
	if st == nil {
		return nil, fmt.Errorf("%w: run \"open\" first", assessment.ErrNoActiveContext)
	}
	return st, nil
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		slog.Error("store close error", "error", err)
	}
}

func openStore(ctx context.Context, cfg *config.Config) (storage.Store, error) {
	switch cfg.Store.Backend {
	case config.StoreRedis:
		return storage.NewRedisStore(ctx, storage.RedisConfig{
			Address:  cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Prefix:   cfg.Redis.Prefix,
		})
	default:
		return storage.NewBadgerStore(storage.BadgerConfig{
			Path:       cfg.Store.Path,
			InMemory:   cfg.Store.InMemory,
			SyncWrites: cfg.Store.SyncWrites,
			Logger:     slog.Default(),
		})
	}
}

// identityUser returns nil when no user is configured, which stamps
// history as the offline system actor and sees every slot
func identityUser(c config.IdentityConfig) *models.User {
	if c.Name == "" {
		return nil
	}
	u := &models.User{
		Name:              c.Name,
		Role:              models.Role(c.Role),
		AssignedCountries: c.AssignedCountries,
		AssignedBase:      c.AssignedBase,
	}
	if len(c.AssignedCountries) > 0 {
		u.AssignedCountry = c.AssignedCountries[0]
	}
	return u
}

// printJSON writes v as indented JSON to stdout
func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func withTimeout(parent context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(parent)
	}
	return context.WithTimeout(parent, d)
}
