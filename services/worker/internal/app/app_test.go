package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	stdsync "sync"
	"testing"
	"time"

	"gorm.io/driver/sqlite"

	"bioquest/pkg/domain"
	"bioquest/pkg/gamification"
	"bioquest/pkg/inat"
	"bioquest/pkg/store"
	syncpkg "bioquest/pkg/sync"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newWorkerTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.NewStoreWithDialector(sqlite.Open(filepath.Join(t.TempDir(), "worker_test.db")))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	sqlDB, err := st.DB()
	if err != nil {
		t.Fatalf("unwrap db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	return st
}

// stubSource answers taxon counts from a canned table; the list endpoints are
// never hit by the worker.
type stubSource struct {
	counts map[int64]int64

	mu    stdsync.Mutex
	calls int
}

func (s *stubSource) GetUserObservations(ctx context.Context, username string, q inat.ObservationQuery) (*inat.ObservationPage, error) {
	return nil, errors.New("not implemented")
}

func (s *stubSource) GetUserObservationTotal(ctx context.Context, username string) (int64, error) {
	return 0, errors.New("not implemented")
}

func (s *stubSource) GetUserSpeciesCount(ctx context.Context, username string) (int64, error) {
	return 0, errors.New("not implemented")
}

func (s *stubSource) GetTaxonObservationCount(ctx context.Context, taxonID int64, placeID *int64) (int64, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	count, ok := s.counts[taxonID]
	if !ok {
		count = 100000
	}
	return count, nil
}

func newTestWorker(t *testing.T, st *store.Store, source *stubSource, sweep time.Duration) *Worker {
	t.Helper()
	w, err := New(Config{
		Store:         st,
		SourceFor:     func(domain.User) syncpkg.Source { return source },
		SweepInterval: sweep,
	}, discardLogger())
	if err != nil {
		t.Fatalf("init worker: %v", err)
	}
	return w
}

func seedBacklog(t *testing.T, st *store.Store, taxonID int64) {
	t.Helper()
	if err := st.SaveUser(domain.User{ID: "u1", INatUsername: "kiwi_watcher"}); err != nil {
		t.Fatalf("seed user: %v", err)
	}
	err := st.InTx(context.Background(), func(uow *store.UnitOfWork) error {
		if err := uow.CreateObservations([]domain.Observation{{
			ID:            1,
			UserID:        "u1",
			TaxonID:       &taxonID,
			TaxonName:     "Taxon",
			ObservedOn:    time.Date(2026, time.August, 30, 10, 0, 0, 0, time.UTC),
			QualityGrade:  "needs_id",
			Rarity:        domain.RarityCommon,
			RarityStatus:  domain.RarityStatusPending,
			PointsAwarded: 10,
		}}); err != nil {
			return err
		}
		level, toNext := gamification.LevelForPoints(10)
		return uow.UpsertUserStats(domain.UserStats{
			UserID:            "u1",
			TotalPoints:       10,
			Level:             level,
			PointsToNextLevel: toNext,
			UpdatedAt:         time.Now().UTC(),
		})
	})
	if err != nil {
		t.Fatalf("seed backlog: %v", err)
	}
	if err := st.EnqueueTaxa("u1", []domain.TaxonRef{{TaxonID: taxonID, TaxonName: "Taxon", Priority: 1}}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
}

func TestProcessUserDrainsBacklog(t *testing.T) {
	st := newWorkerTestStore(t)
	seedBacklog(t, st, 202)
	source := &stubSource{counts: map[int64]int64{202: 40}}
	w := newTestWorker(t, st, source, time.Minute)

	if err := w.ProcessUser(context.Background(), "u1"); err != nil {
		t.Fatalf("ProcessUser: %v", err)
	}

	summary, err := st.QueueStatus("u1")
	if err != nil {
		t.Fatalf("queue status: %v", err)
	}
	if summary.Completed != 1 || summary.Pending != 0 {
		t.Fatalf("summary = %+v", summary)
	}
	stats, found, err := st.GetUserStats("u1")
	if err != nil || !found {
		t.Fatalf("stats: found=%v err=%v", found, err)
	}
	if stats.TotalPoints != 510 || stats.LegendaryObservations != 1 {
		t.Fatalf("stats = %+v", stats)
	}
}

func TestProcessUserUnknownUserIsNotAnError(t *testing.T) {
	st := newWorkerTestStore(t)
	source := &stubSource{}
	w := newTestWorker(t, st, source, time.Minute)

	if err := w.ProcessUser(context.Background(), "ghost"); err != nil {
		t.Fatalf("ProcessUser: %v", err)
	}
	if source.calls != 0 {
		t.Fatalf("calls = %d, want 0", source.calls)
	}
}

func TestRunSweepDrainsStrandedWork(t *testing.T) {
	st := newWorkerTestStore(t)
	seedBacklog(t, st, 303)
	source := &stubSource{counts: map[int64]int64{303: 5}}
	w := newTestWorker(t, st, source, 20*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	if err := w.Run(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Run returned %v", err)
	}

	summary, err := st.QueueStatus("u1")
	if err != nil {
		t.Fatalf("queue status: %v", err)
	}
	if summary.Completed != 1 {
		t.Fatalf("summary = %+v", summary)
	}
	obs, found, err := st.GetObservation(1)
	if err != nil || !found {
		t.Fatalf("load observation: found=%v err=%v", found, err)
	}
	if obs.Rarity != domain.RarityMythic || obs.RarityStatus != domain.RarityStatusClassified {
		t.Fatalf("observation = %+v", obs)
	}
}
