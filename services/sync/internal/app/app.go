// Package app wires the sync service's core: the observation store, the
// remote API client, the Redis guard and leaderboard, and the queue
// notifier. HTTP concerns stay in the server package.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"bioquest/internal/util"
	"bioquest/pkg/domain"
	"bioquest/pkg/inat"
	"bioquest/pkg/leaderboard"
	"bioquest/pkg/queue"
	"bioquest/pkg/store"
	syncpkg "bioquest/pkg/sync"
)

// Config holds runtime configuration for the core application.
type Config struct {
	DatabaseURL string
	// Store overrides the database-backed store, for tests.
	Store *store.Store

	RedisAddr     string
	RedisPassword string
	// Redis overrides the constructed client, for tests.
	Redis *redis.Client

	RabbitURL   string
	RabbitQueue string

	INatBaseURL string
	// SourceFor overrides the per-user API client factory, for tests.
	SourceFor func(user domain.User) syncpkg.Source

	LeaderboardEnabled bool
}

// App exposes the sync service's operations over the wired collaborators.
type App struct {
	store     *store.Store
	redis     *redis.Client
	guard     *syncpkg.Guard
	board     *leaderboard.Board
	notifier  syncpkg.Notifier
	sourceFor func(user domain.User) syncpkg.Source
	log       *slog.Logger
}

// New constructs the application. The broker is optional: without it syncs
// still run, the worker just relies on its periodic sweep.
func New(cfg Config, log *slog.Logger) (*App, error) {
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

	redisClient := cfg.Redis
	if redisClient == nil {
		if cfg.RedisAddr == "" {
			return nil, fmt.Errorf("redis addr required")
		}
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
	}

	a := &App{
		store:     dataStore,
		redis:     redisClient,
		guard:     syncpkg.NewGuard(redisClient),
		sourceFor: cfg.SourceFor,
		log:       log,
	}
	if cfg.LeaderboardEnabled {
		a.board = leaderboard.New(redisClient)
	}
	if a.sourceFor == nil {
		baseURL := cfg.INatBaseURL
		a.sourceFor = func(user domain.User) syncpkg.Source {
			if baseURL != "" {
				return inat.NewClient(user.AccessToken, inat.WithBaseURL(baseURL))
			}
			return inat.NewClient(user.AccessToken)
		}
	}
	if cfg.RabbitURL != "" {
		notifier, err := queue.NewRabbitNotifier(cfg.RabbitURL, cfg.RabbitQueue)
		if err != nil {
			log.Warn("broker unavailable, worker will rely on its sweep", "error", err)
		} else {
			a.notifier = notifier
		}
	}
	return a, nil
}

// RegisterUser creates or updates the link between a local user and their
// remote observation account.
func (a *App) RegisterUser(user domain.User) (domain.User, error) {
	if user.INatUsername == "" {
		return domain.User{}, ErrUsernameRequired
	}
	if user.ID == "" {
		user.ID = util.NewID()
	}
	if err := a.store.SaveUser(user); err != nil {
		return domain.User{}, fmt.Errorf("save user: %w", err)
	}
	return user, nil
}

// GetUser retrieves a user by ID.
func (a *App) GetUser(id string) (domain.User, bool, error) {
	return a.store.GetUser(id)
}

// UserStats returns the user's aggregate row.
func (a *App) UserStats(userID string) (domain.UserStats, bool, error) {
	return a.store.GetUserStats(userID)
}

// SyncUser runs a sync for the user: one round, or rounds chained until the
// backlog drains when full is set.
func (a *App) SyncUser(ctx context.Context, userID string, full bool) (*domain.SyncResult, error) {
	user, found, err := a.store.GetUser(userID)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, syncpkg.ErrUserNotFound
	}

	source := a.sourceFor(user)

	// Cross-check sync state first so a lost backlog flag or upstream
	// deletions are corrected before this round resumes. Verification
	// failures never block the sync itself.
	verifier := syncpkg.NewVerifier(a.store, source, a.log)
	if _, err := verifier.Verify(ctx, userID); err != nil {
		a.log.Warn("pre-sync verification failed", "userId", userID, "error", err)
	}

	opts := []syncpkg.OrchestratorOption{syncpkg.WithGuard(a.guard)}
	if a.board != nil {
		opts = append(opts, syncpkg.WithLeaderboard(a.board))
	}
	if a.notifier != nil {
		opts = append(opts, syncpkg.WithNotifier(a.notifier))
	}
	orchestrator := syncpkg.NewOrchestrator(a.store, source, a.log, opts...)
	if full {
		return orchestrator.RunFullSync(ctx, userID)
	}
	return orchestrator.RunSync(ctx, userID)
}

// VerifyUser cross-checks local sync state against the remote total.
func (a *App) VerifyUser(ctx context.Context, userID string) (*domain.VerifyResult, error) {
	user, found, err := a.store.GetUser(userID)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, syncpkg.ErrUserNotFound
	}
	verifier := syncpkg.NewVerifier(a.store, a.sourceFor(user), a.log)
	return verifier.Verify(ctx, userID)
}

// QueueStatus summarizes the user's classification backlog.
func (a *App) QueueStatus(userID string) (domain.QueueStatusSummary, error) {
	return a.store.QueueStatus(userID)
}

// ProcessQueue drains the user's classification backlog inline.
func (a *App) ProcessQueue(ctx context.Context, userID string) (domain.ProcessResult, error) {
	user, found, err := a.store.GetUser(userID)
	if err != nil {
		return domain.ProcessResult{}, err
	}
	if !found {
		return domain.ProcessResult{}, syncpkg.ErrUserNotFound
	}
	classifier := syncpkg.NewCountsClassifier(a.sourceFor(user))
	processor := queue.NewProcessor(a.store, classifier, a.log)
	return processor.ProcessUserQueue(ctx, userID)
}

// RetryQueue re-enables the user's failed queue items.
func (a *App) RetryQueue(userID string) (int64, error) {
	return a.store.RetryFailedQueueItems(userID)
}

// ClearQueue removes the user's completed queue rows.
func (a *App) ClearQueue(userID string) (int64, error) {
	return a.store.ClearCompletedQueueItems(userID)
}

// Leaderboard returns the top-ranked users. Empty when the leaderboard is
// disabled.
func (a *App) Leaderboard(ctx context.Context, limit int) ([]leaderboard.Entry, error) {
	if a.board == nil {
		return []leaderboard.Entry{}, nil
	}
	return a.board.Top(ctx, limit)
}

// UserRank returns the user's leaderboard entry.
func (a *App) UserRank(ctx context.Context, userID string) (leaderboard.Entry, error) {
	if a.board == nil {
		return leaderboard.Entry{}, leaderboard.ErrNotRanked
	}
	return a.board.Rank(ctx, userID)
}
