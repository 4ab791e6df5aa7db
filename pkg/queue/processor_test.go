package queue

import (
	"context"
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
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newQueueTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.NewStoreWithDialector(sqlite.Open(filepath.Join(t.TempDir(), "queue_test.db")))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	sqlDB, err := st.DB()
	if err != nil {
		t.Fatalf("unwrap db: %v", err)
	}
	// serialize access so concurrent-processor tests are deterministic
	sqlDB.SetMaxOpenConns(1)
	return st
}

// stubClassifier resolves taxa from a canned count table.
type stubClassifier struct {
	counts map[int64]int64
	errs   map[int64]error

	mu    stdsync.Mutex
	calls int
}

func (s *stubClassifier) ClassifyTaxon(ctx context.Context, taxonID int64, placeID *int64) (gamification.Classification, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	if err := s.errs[taxonID]; err != nil {
		return gamification.Classification{}, err
	}
	count, ok := s.counts[taxonID]
	if !ok {
		count = 100000
	}
	return gamification.Classify(count, nil), nil
}

func seedQueueUser(t *testing.T, st *store.Store) {
	t.Helper()
	if err := st.SaveUser(domain.User{ID: "u1", INatUsername: "kiwi_watcher"}); err != nil {
		t.Fatalf("seed user: %v", err)
	}
}

// seedPendingObservation stores one unclassified observation holding only its
// base points, the state the sync pipeline leaves overflow taxa in.
func seedPendingObservation(t *testing.T, st *store.Store, obsID, taxonID int64) {
	t.Helper()
	err := st.InTx(context.Background(), func(uow *store.UnitOfWork) error {
		return uow.CreateObservations([]domain.Observation{{
			ID:            obsID,
			UserID:        "u1",
			TaxonID:       &taxonID,
			TaxonName:     "Taxon",
			ObservedOn:    time.Date(2026, time.August, 30, 10, 0, 0, 0, time.UTC),
			QualityGrade:  "needs_id",
			Rarity:        domain.RarityCommon,
			RarityStatus:  domain.RarityStatusPending,
			PointsAwarded: 10,
		}})
	})
	if err != nil {
		t.Fatalf("seed observation: %v", err)
	}
}

func seedStats(t *testing.T, st *store.Store, totalPoints int) {
	t.Helper()
	err := st.InTx(context.Background(), func(uow *store.UnitOfWork) error {
		level, toNext := gamification.LevelForPoints(totalPoints)
		return uow.UpsertUserStats(domain.UserStats{
			UserID:            "u1",
			TotalPoints:       totalPoints,
			Level:             level,
			PointsToNextLevel: toNext,
			UpdatedAt:         time.Now().UTC(),
		})
	})
	if err != nil {
		t.Fatalf("seed stats: %v", err)
	}
}

func TestProcessUserQueueAppliesClassification(t *testing.T) {
	st := newQueueTestStore(t)
	seedQueueUser(t, st)
	seedPendingObservation(t, st, 1, 202)
	seedStats(t, st, 10)

	if err := st.EnqueueTaxa("u1", []domain.TaxonRef{{TaxonID: 202, TaxonName: "Strigops habroptilus", Priority: 1}}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	classifier := &stubClassifier{counts: map[int64]int64{202: 40}}
	p := NewProcessor(st, classifier, discardLogger())

	result, err := p.ProcessUserQueue(context.Background(), "u1")
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if result.Succeeded != 1 || result.Failed != 0 {
		t.Fatalf("result = %+v, want one success", result)
	}

	obs, found, err := st.GetObservation(1)
	if err != nil || !found {
		t.Fatalf("observation missing: %v", err)
	}
	if obs.Rarity != domain.RarityLegendary || obs.RarityStatus != domain.RarityStatusClassified {
		t.Fatalf("observation not classified: %s/%s", obs.Rarity, obs.RarityStatus)
	}
	if obs.PointsAwarded != 510 {
		t.Fatalf("pointsAwarded = %d, want 510", obs.PointsAwarded)
	}

	stats, _, err := st.GetUserStats("u1")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.TotalPoints != 510 {
		t.Fatalf("totalPoints = %d, want 510", stats.TotalPoints)
	}
	if stats.RareObservations != 1 || stats.LegendaryObservations != 1 {
		t.Fatalf("rarity counters = %d/%d", stats.RareObservations, stats.LegendaryObservations)
	}

	summary, err := st.QueueStatus("u1")
	if err != nil {
		t.Fatalf("queue status: %v", err)
	}
	if summary.Completed != 1 || summary.Pending != 0 {
		t.Fatalf("queue summary = %+v", summary)
	}
}

func TestProcessUserQueueConcurrentWorkers(t *testing.T) {
	st := newQueueTestStore(t)
	seedQueueUser(t, st)

	const backlog = 40
	var taxa []domain.TaxonRef
	counts := map[int64]int64{}
	for i := 0; i < backlog; i++ {
		taxonID := int64(1000 + i)
		seedPendingObservation(t, st, int64(i+1), taxonID)
		taxa = append(taxa, domain.TaxonRef{TaxonID: taxonID, Priority: 1})
		counts[taxonID] = 40
	}
	seedStats(t, st, backlog*10)
	if err := st.EnqueueTaxa("u1", taxa); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	classifier := &stubClassifier{counts: counts}
	var wg stdsync.WaitGroup
	results := make([]domain.ProcessResult, 2)
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			p := NewProcessor(st, classifier, discardLogger())
			results[i], errs[i] = p.ProcessUserQueue(context.Background(), "u1")
		}()
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("worker %d: %v", i, err)
		}
	}
	if total := results[0].Succeeded + results[1].Succeeded; total != backlog {
		t.Fatalf("combined successes = %d, want exactly %d", total, backlog)
	}

	// each item applies its +500 correction exactly once
	stats, _, err := st.GetUserStats("u1")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	want := backlog*10 + backlog*500
	if stats.TotalPoints != want {
		t.Fatalf("totalPoints = %d, want %d", stats.TotalPoints, want)
	}
	if stats.LegendaryObservations != backlog {
		t.Fatalf("legendary = %d, want %d", stats.LegendaryObservations, backlog)
	}

	summary, err := st.QueueStatus("u1")
	if err != nil {
		t.Fatalf("queue status: %v", err)
	}
	if summary.Completed != backlog || summary.Pending != 0 {
		t.Fatalf("queue summary = %+v", summary)
	}
}

func TestTransientFailureRetriesThenParks(t *testing.T) {
	st := newQueueTestStore(t)
	seedQueueUser(t, st)
	seedPendingObservation(t, st, 1, 202)
	if err := st.EnqueueTaxa("u1", []domain.TaxonRef{{TaxonID: 202, Priority: 1}}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	classifier := &stubClassifier{errs: map[int64]error{202: &inat.APIError{StatusCode: 503}}}
	p := NewProcessor(st, classifier, discardLogger())

	result, err := p.ProcessUserQueue(context.Background(), "u1")
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if result.Failed != MaxAttempts {
		t.Fatalf("failed = %d, want %d attempts before parking", result.Failed, MaxAttempts)
	}

	// parked: still pending, but no longer offered to workers
	summary, err := st.QueueStatus("u1")
	if err != nil {
		t.Fatalf("queue status: %v", err)
	}
	if summary.Pending != 1 {
		t.Fatalf("summary = %+v, want the item still pending", summary)
	}
	batch, err := st.PendingQueueBatch("u1", 10, MaxAttempts)
	if err != nil {
		t.Fatalf("batch: %v", err)
	}
	if len(batch) != 0 {
		t.Fatalf("exhausted item still offered: %+v", batch)
	}

	obs, _, err := st.GetObservation(1)
	if err != nil {
		t.Fatalf("observation: %v", err)
	}
	if obs.RarityStatus != domain.RarityStatusPending {
		t.Fatal("failed classification must leave the observation pending")
	}
}

func TestReenqueueRevivesParkedItem(t *testing.T) {
	st := newQueueTestStore(t)
	seedQueueUser(t, st)
	seedPendingObservation(t, st, 1, 202)
	seedStats(t, st, 10)
	taxa := []domain.TaxonRef{{TaxonID: 202, TaxonName: "Strigops habroptilus", Priority: 1}}
	if err := st.EnqueueTaxa("u1", taxa); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	// the upstream API is down for the whole attempt budget
	flaky := &stubClassifier{errs: map[int64]error{202: &inat.APIError{StatusCode: 503}}}
	if _, err := NewProcessor(st, flaky, discardLogger()).ProcessUserQueue(context.Background(), "u1"); err != nil {
		t.Fatalf("process: %v", err)
	}
	healthy := &stubClassifier{counts: map[int64]int64{202: 40}}
	p := NewProcessor(st, healthy, discardLogger())
	result, err := p.ProcessUserQueue(context.Background(), "u1")
	if err != nil {
		t.Fatalf("process parked: %v", err)
	}
	if result.Processed != 0 {
		t.Fatalf("parked item was offered: %+v", result)
	}

	// the upstream recovered and the taxon shows up in a later sync
	if err := st.EnqueueTaxa("u1", taxa); err != nil {
		t.Fatalf("re-enqueue: %v", err)
	}
	result, err = p.ProcessUserQueue(context.Background(), "u1")
	if err != nil {
		t.Fatalf("process revived: %v", err)
	}
	if result.Succeeded != 1 {
		t.Fatalf("result = %+v, want the revived item classified", result)
	}

	obs, _, err := st.GetObservation(1)
	if err != nil {
		t.Fatalf("observation: %v", err)
	}
	if obs.RarityStatus != domain.RarityStatusClassified || obs.Rarity != domain.RarityLegendary {
		t.Fatalf("observation = %+v, want classified legendary", obs)
	}
}

func TestAuthErrorStopsRun(t *testing.T) {
	st := newQueueTestStore(t)
	seedQueueUser(t, st)
	seedPendingObservation(t, st, 1, 202)
	seedPendingObservation(t, st, 2, 303)
	if err := st.EnqueueTaxa("u1", []domain.TaxonRef{
		{TaxonID: 202, Priority: 2},
		{TaxonID: 303, Priority: 1},
	}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	classifier := &stubClassifier{errs: map[int64]error{
		202: &inat.APIError{StatusCode: 401},
		303: &inat.APIError{StatusCode: 401},
	}}
	p := NewProcessor(st, classifier, discardLogger())

	_, err := p.ProcessUserQueue(context.Background(), "u1")
	if !inat.IsAuthError(err) {
		t.Fatalf("err = %v, want auth error surfaced", err)
	}
	if classifier.calls != 1 {
		t.Fatalf("made %d lookups after fatal auth failure", classifier.calls)
	}

	summary, err := st.QueueStatus("u1")
	if err != nil {
		t.Fatalf("queue status: %v", err)
	}
	if summary.Failed != 1 {
		t.Fatalf("summary = %+v, want the first item marked failed", summary)
	}
}

func TestRetryFailedReentersQueue(t *testing.T) {
	st := newQueueTestStore(t)
	seedQueueUser(t, st)
	seedPendingObservation(t, st, 1, 202)
	if err := st.EnqueueTaxa("u1", []domain.TaxonRef{{TaxonID: 202, Priority: 1}}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	// terminal failure parks the item as failed
	classifier := &stubClassifier{errs: map[int64]error{202: &inat.APIError{StatusCode: 404}}}
	p := NewProcessor(st, classifier, discardLogger())
	if _, err := p.ProcessUserQueue(context.Background(), "u1"); err != nil {
		t.Fatalf("process: %v", err)
	}
	summary, _ := st.QueueStatus("u1")
	if summary.Failed != 1 {
		t.Fatalf("summary = %+v, want one failed item", summary)
	}

	retried, err := st.RetryFailedQueueItems("u1")
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if retried != 1 {
		t.Fatalf("retried = %d, want 1", retried)
	}

	classifier.errs = nil
	classifier.counts = map[int64]int64{202: 40}
	result, err := p.ProcessUserQueue(context.Background(), "u1")
	if err != nil {
		t.Fatalf("reprocess: %v", err)
	}
	if result.Succeeded != 1 {
		t.Fatalf("result = %+v, want success after retry", result)
	}
}
