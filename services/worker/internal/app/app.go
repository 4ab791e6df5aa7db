// Package app runs the classification worker: it drains per-user rarity
// backlogs when the broker signals new work, and sweeps the queue table on a
// timer so lost messages only delay classification instead of losing it.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"bioquest/pkg/domain"
	"bioquest/pkg/inat"
	"bioquest/pkg/queue"
	"bioquest/pkg/store"
	syncpkg "bioquest/pkg/sync"
)

// DefaultSweepInterval paces the fallback scan for users with pending work.
const DefaultSweepInterval = 5 * time.Minute

// Config holds runtime configuration for the worker.
type Config struct {
	DatabaseURL string
	// Store overrides the database-backed store, for tests.
	Store *store.Store

	RabbitURL   string
	RabbitQueue string

	INatBaseURL string
	// SourceFor overrides the per-user API client factory, for tests.
	SourceFor func(user domain.User) syncpkg.Source

	SweepInterval time.Duration
}

// Worker consumes queue wake-ups and periodically sweeps for stranded
// backlogs.
type Worker struct {
	store         *store.Store
	notifier      *queue.RabbitNotifier
	sourceFor     func(user domain.User) syncpkg.Source
	sweepInterval time.Duration
	log           *slog.Logger
}

// New constructs the worker. The broker is optional: without it the sweep
// timer is the only trigger.
func New(cfg Config, log *slog.Logger) (*Worker, error) {
	dataStore := cfg.Store
	if dataStore == nil {
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("database URL required")
		}
		var err error
		dataStore, err = store.NewStore(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("init postgres store: %w", err)
		}
	}

	w := &Worker{
		store:         dataStore,
		sourceFor:     cfg.SourceFor,
		sweepInterval: cfg.SweepInterval,
		log:           log,
	}
	if w.sweepInterval <= 0 {
		w.sweepInterval = DefaultSweepInterval
	}
	if w.sourceFor == nil {
		baseURL := cfg.INatBaseURL
		w.sourceFor = func(user domain.User) syncpkg.Source {
			if baseURL != "" {
				return inat.NewClient(user.AccessToken, inat.WithBaseURL(baseURL))
			}
			return inat.NewClient(user.AccessToken)
		}
	}
	if cfg.RabbitURL != "" {
		notifier, err := queue.NewRabbitNotifier(cfg.RabbitURL, cfg.RabbitQueue)
		if err != nil {
			return nil, fmt.Errorf("connect broker: %w", err)
		}
		w.notifier = notifier
	}
	return w, nil
}

// Run blocks until ctx is cancelled, processing wake-ups and sweeps.
func (w *Worker) Run(ctx context.Context) error {
	if w.notifier != nil {
		go func() {
			if err := w.notifier.Consume(ctx, w.ProcessUser); err != nil && ctx.Err() == nil {
				w.log.Error("broker consumer stopped", "error", err)
			}
		}()
		defer w.notifier.Close()
	}

	ticker := time.NewTicker(w.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			w.sweep(ctx)
		}
	}
}

// sweep drains every user holding workable pending items.
func (w *Worker) sweep(ctx context.Context) {
	userIDs, err := w.store.UsersWithPendingWork(queue.MaxAttempts)
	if err != nil {
		w.log.Error("sweep query failed", "error", err)
		return
	}
	for _, userID := range userIDs {
		if ctx.Err() != nil {
			return
		}
		if err := w.ProcessUser(ctx, userID); err != nil {
			w.log.Warn("sweep processing failed", "userId", userID, "error", err)
		}
	}
}

// ProcessUser drains one user's classification backlog.
func (w *Worker) ProcessUser(ctx context.Context, userID string) error {
	user, found, err := w.store.GetUser(userID)
	if err != nil {
		return fmt.Errorf("load user: %w", err)
	}
	if !found {
		w.log.Warn("wake-up for unknown user", "userId", userID)
		return nil
	}

	classifier := syncpkg.NewCountsClassifier(w.sourceFor(user))
	processor := queue.NewProcessor(w.store, classifier, w.log)
	result, err := processor.ProcessUserQueue(ctx, userID)
	if err != nil {
		return err
	}
	if result.Processed > 0 {
		w.log.Info("processed classification backlog",
			"userId", userID,
			"processed", result.Processed,
			"succeeded", result.Succeeded,
			"failed", result.Failed)
	}
	return nil
}
