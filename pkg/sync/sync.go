package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"bioquest/pkg/domain"
	"bioquest/pkg/gamification"
	"bioquest/pkg/store"
)

// ErrUserNotFound is returned when a sync is requested for an unknown user.
var ErrUserNotFound = errors.New("user not found")

const (
	// RareFindsLimit caps how many rare finds one sync result reports.
	RareFindsLimit = 10
	// questLookback covers the longest quest window plus a day of slack.
	questLookback = 8 * 24 * time.Hour
	// streakLookback bounds how far back streak recomputation reads.
	streakLookback  = 366 * 24 * time.Hour
	streakReadLimit = 2000
	questReadLimit  = 500
)

// regionPlaceIDs maps a user's home region to the API place used for
// regional rarity counts.
var regionPlaceIDs = map[string]int64{
	"new_zealand":    6803,
	"australia":      6744,
	"canada":         6712,
	"united_kingdom": 6857,
	"united_states":  1,
}

// PlaceIDForRegion resolves a user's home region to its API place ID, nil
// when the region is unset or unknown.
func PlaceIDForRegion(region string) *int64 {
	if id, ok := regionPlaceIDs[region]; ok {
		return &id
	}
	return nil
}

// regionNames matches place-guess text to a region key.
var regionNames = map[string]string{
	"new zealand":    "new_zealand",
	"australia":      "australia",
	"canada":         "canada",
	"united kingdom": "united_kingdom",
	"united states":  "united_states",
	"usa":            "united_states",
}

// inferRegion picks the region named most often in the batch's place
// guesses, "" when none match.
func inferRegion(observations []domain.Observation) string {
	tally := map[string]int{}
	for _, o := range observations {
		guess := strings.ToLower(o.PlaceGuess)
		if guess == "" {
			continue
		}
		for name, region := range regionNames {
			if strings.Contains(guess, name) {
				tally[region]++
			}
		}
	}
	best, bestN := "", 0
	for region, n := range tally {
		if n > bestN || (n == bestN && region < best) {
			best, bestN = region, n
		}
	}
	return best
}

// Leaderboard receives point totals after a successful sync. Failures are
// logged and swallowed; the sync result is already committed.
type Leaderboard interface {
	UpdateUser(ctx context.Context, userID string, totalPoints int) error
}

// Notifier wakes the background queue worker after taxa are enqueued.
type Notifier interface {
	NotifyWork(ctx context.Context, userID string) error
}

// Orchestrator runs the full sync pipeline for one user: fetch, enrich,
// persist atomically, derive achievements, hand deferred taxa to the queue.
type Orchestrator struct {
	store    *store.Store
	source   Source
	guard    *Guard
	board    Leaderboard
	notifier Notifier
	log      *slog.Logger
	now      func() time.Time
}

// OrchestratorOption configures optional collaborators.
type OrchestratorOption func(*Orchestrator)

func WithGuard(g *Guard) OrchestratorOption {
	return func(o *Orchestrator) { o.guard = g }
}

func WithLeaderboard(b Leaderboard) OrchestratorOption {
	return func(o *Orchestrator) { o.board = b }
}

func WithNotifier(n Notifier) OrchestratorOption {
	return func(o *Orchestrator) { o.notifier = n }
}

func WithClock(now func() time.Time) OrchestratorOption {
	return func(o *Orchestrator) { o.now = now }
}

func NewOrchestrator(st *store.Store, source Source, log *slog.Logger, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		store:  st,
		source: source,
		log:    log,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// RunSync executes one sync round for userID. Partial fetches leave a resume
// cursor; only a round that drains the remote backlog marks the user fully
// synced. Fetch failures are retried with backoff until the budget is spent.
func (o *Orchestrator) RunSync(ctx context.Context, userID string) (*domain.SyncResult, error) {
	started := o.now()

	user, found, err := o.store.GetUser(userID)
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}
	if !found {
		return nil, ErrUserNotFound
	}

	if o.guard != nil {
		if err := o.guard.Acquire(ctx, userID); err != nil {
			return nil, err
		}
		defer o.guard.Release(context.WithoutCancel(ctx), userID)
	}

	stats, _, err := o.store.GetUserStats(userID)
	if err != nil {
		return nil, fmt.Errorf("load stats: %w", err)
	}
	stats.UserID = userID

	since, limit := resumePoint(stats)

	fetcher := NewFetcher(o.source)
	fr, err := o.fetchWithRetry(ctx, fetcher, user.INatUsername, since, limit)
	if err != nil {
		return nil, err
	}

	now := o.now()
	result := &domain.SyncResult{
		TotalAvailable:  fr.TotalAvailable,
		NewBadges:       []domain.Badge{},
		CompletedQuests: []domain.CompletedQuest{},
		RareFinds:       []domain.RareFind{},
	}

	if len(fr.Observations) == 0 {
		if err := o.finishEmptyRound(ctx, stats, now, result); err != nil {
			return nil, err
		}
		result.DurationMs = o.now().Sub(started).Milliseconds()
		return result, nil
	}

	// A user without a home region gets one from the batch's place guesses
	// so regional rarity counts start applying.
	if user.Region == "" {
		places := make([]domain.Observation, len(fr.Observations))
		for i, r := range fr.Observations {
			places[i] = domain.Observation{PlaceGuess: r.PlaceGuess}
		}
		if region := inferRegion(places); region != "" {
			user.Region = region
			if err := o.store.SaveUser(user); err != nil {
				o.log.Warn("region update failed", "userId", userID, "error", err)
			}
		}
	}

	enricher := NewEnricher(NewCountsClassifier(o.source), PlaceIDForRegion(user.Region), o.log)
	er, err := enricher.Enrich(ctx, userID, fr.Observations)
	if err != nil {
		return nil, Classify("enrich", err)
	}

	// Achievement deltas need the pre-sync state: which badges the user
	// already qualified for and which quests were already complete.
	heldBadges, completedQuests, err := o.achievementBaseline(userID, stats, now)
	if err != nil {
		return nil, fmt.Errorf("achievement baseline: %w", err)
	}

	knownTaxa, err := o.store.KnownTaxonIDs(userID)
	if err != nil {
		return nil, fmt.Errorf("known taxa: %w", err)
	}
	existing, err := o.store.ExistingObservationIDs(userID, observationIDs(er.Observations))
	if err != nil {
		return nil, fmt.Errorf("existing ids: %w", err)
	}

	oldLevel := stats.Level
	if oldLevel == 0 {
		oldLevel = gamification.StartingLevel
	}

	err = o.store.InTx(ctx, func(uow *store.UnitOfWork) error {
		newEnriched, toCreate, toUpdate := splitBatch(er.Observations, existing, knownTaxa, &result.Breakdown)

		if err := uow.CreateObservations(toCreate); err != nil {
			return fmt.Errorf("create observations: %w", err)
		}
		if err := uow.UpsertObservations(toUpdate); err != nil {
			return fmt.Errorf("update observations: %w", err)
		}

		totalObs, _, err := uow.TotalsForUser(userID)
		if err != nil {
			return err
		}
		stats.TotalObservations = int(totalObs)
		stats.TotalSpecies = len(knownTaxa) + countNewTaxa(toCreate, knownTaxa)

		for _, e := range newEnriched {
			if e.Rarity.Tracked() {
				stats.RareObservations++
			}
			if e.Rarity == domain.RarityLegendary || e.Rarity == domain.RarityMythic {
				stats.LegendaryObservations++
			}
		}

		streakDates, err := uow.RecentObservations(userID, now.Add(-streakLookback), streakReadLimit)
		if err != nil {
			return err
		}
		sr := gamification.CalculateStreak(observedDates(streakDates), stats.CurrentStreak, stats.LongestStreak, now)
		stats.CurrentStreak = sr.CurrentStreak
		stats.LongestStreak = sr.LongestStreak
		if !sr.LastObservationDate.IsZero() {
			d := sr.LastObservationDate
			stats.LastObservationDate = &d
		}
		result.StreakData = domain.StreakData{
			CurrentStreak:   sr.CurrentStreak,
			LongestStreak:   sr.LongestStreak,
			StreakAtRisk:    sr.StreakAtRisk,
			HoursUntilBreak: sr.HoursUntilBreak,
		}
		if sr.MilestoneReached != nil {
			result.StreakData.MilestoneDays = sr.MilestoneReached.Days
			result.StreakData.MilestoneTitle = sr.MilestoneReached.Title
			result.StreakData.MilestoneBonus = sr.BonusPoints
		}

		applyRarityStreak(&stats, newEnriched)

		stats.TotalPoints += result.Breakdown.Total
		stats.Level, stats.PointsToNextLevel = gamification.LevelForPoints(stats.TotalPoints)

		if fr.FetchedAll {
			stats.LastSyncedAt = &now
			stats.SyncCursor = nil
			stats.HasMoreToSync = false
		} else {
			cursor := fr.NewestUpdatedAt
			stats.SyncCursor = &cursor
			stats.HasMoreToSync = true
		}
		stats.UpdatedAt = now

		if err := uow.UpsertUserStats(stats); err != nil {
			return fmt.Errorf("upsert stats: %w", err)
		}

		result.NewObservations = len(toCreate)
		result.TotalSynced = len(er.Observations)
		result.RareFinds = rareFinds(newEnriched)
		return nil
	})
	if err != nil {
		return nil, Classify("store", err)
	}

	result.HasMore = stats.HasMoreToSync
	result.OldLevel = oldLevel
	result.NewLevel = stats.Level
	result.LeveledUp = stats.Level > oldLevel
	result.LevelTitle = gamification.LevelTitle(stats.Level)

	o.deriveAchievements(userID, stats, heldBadges, completedQuests, now, result)

	// Side work past this point must not fail the committed sync.
	if len(er.QueuedTaxa) > 0 {
		if err := o.store.EnqueueTaxa(userID, er.QueuedTaxa); err != nil {
			o.log.Warn("failed to enqueue taxa for classification", "userId", userID, "error", err)
		} else if o.notifier != nil {
			if err := o.notifier.NotifyWork(ctx, userID); err != nil {
				o.log.Warn("queue notification failed", "userId", userID, "error", err)
			}
		}
	}
	if o.board != nil {
		if err := o.board.UpdateUser(ctx, userID, stats.TotalPoints); err != nil {
			o.log.Warn("leaderboard refresh failed", "userId", userID, "error", err)
		}
	}

	result.DurationMs = o.now().Sub(started).Milliseconds()
	return result, nil
}

// RunFullSync chains sync rounds until the remote backlog drains, pacing
// rounds with the standard batch delay. The returned result carries the last
// round's level and achievement state with counts and points accumulated
// across all rounds.
func (o *Orchestrator) RunFullSync(ctx context.Context, userID string) (*domain.SyncResult, error) {
	retry := NewRetryController()
	var newObservations, totalSynced int
	var breakdown domain.PointsBreakdown
	var rareFinds []domain.RareFind
	for {
		result, err := o.RunSync(ctx, userID)
		if err != nil {
			return nil, err
		}
		newObservations += result.NewObservations
		totalSynced += result.TotalSynced
		breakdown.Total += result.Breakdown.Total
		breakdown.Base += result.Breakdown.Base
		breakdown.NewSpecies += result.Breakdown.NewSpecies
		breakdown.Rarity += result.Breakdown.Rarity
		breakdown.ResearchGrade += result.Breakdown.ResearchGrade
		breakdown.Photos += result.Breakdown.Photos
		rareFinds = append(rareFinds, result.RareFinds...)

		if !result.HasMore {
			result.NewObservations = newObservations
			result.TotalSynced = totalSynced
			result.Breakdown = breakdown
			if len(rareFinds) > RareFindsLimit {
				rareFinds = rareFinds[:RareFindsLimit]
			}
			if rareFinds != nil {
				result.RareFinds = rareFinds
			}
			return result, nil
		}
		if err := retry.WaitBetweenBatches(ctx); err != nil {
			return nil, err
		}
	}
}

// resumePoint picks the incremental-fetch anchor and the batch limit. A
// partial sync resumes from its cursor; a complete one from its last full
// sync; a never-synced user gets the larger first-sync budget.
func resumePoint(stats domain.UserStats) (*time.Time, int) {
	if stats.HasMoreToSync && stats.SyncCursor != nil {
		return stats.SyncCursor, PerSyncLimit
	}
	if stats.LastSyncedAt != nil {
		return stats.LastSyncedAt, PerSyncLimit
	}
	return nil, FirstSyncLimit
}

func (o *Orchestrator) fetchWithRetry(ctx context.Context, f *Fetcher, username string, since *time.Time, limit int) (*FetchResult, error) {
	retry := NewRetryController()
	for {
		fr, err := f.Fetch(ctx, username, since, limit)
		if err == nil {
			retry.Reset()
			return fr, nil
		}
		ce := Classify("fetch", err)
		if ce.Severity == SeverityFatal || !ce.Retryable || retry.Exhausted() {
			return nil, ce
		}
		delay := retry.NextDelay(ce)
		o.log.Warn("fetch failed, retrying",
			"attempt", retry.Attempts(), "delay", delay.String(), "error", err)
		if err := retry.Wait(ctx, delay); err != nil {
			return nil, err
		}
	}
}

// finishEmptyRound closes out a sync that found nothing new: the remote is
// fully drained, so the cursor clears and the full-sync timestamp moves.
func (o *Orchestrator) finishEmptyRound(ctx context.Context, stats domain.UserStats, now time.Time, result *domain.SyncResult) error {
	stats.LastSyncedAt = &now
	stats.SyncCursor = nil
	stats.HasMoreToSync = false
	stats.UpdatedAt = now
	if stats.Level == 0 {
		stats.Level, stats.PointsToNextLevel = gamification.LevelForPoints(stats.TotalPoints)
	}
	if err := o.store.InTx(ctx, func(uow *store.UnitOfWork) error {
		return uow.UpsertUserStats(stats)
	}); err != nil {
		return fmt.Errorf("close empty round: %w", err)
	}
	result.OldLevel = stats.Level
	result.NewLevel = stats.Level
	result.LevelTitle = gamification.LevelTitle(stats.Level)
	result.StreakData = domain.StreakData{
		CurrentStreak: stats.CurrentStreak,
		LongestStreak: stats.LongestStreak,
	}
	return nil
}

// splitBatch partitions enriched observations into creates and updates,
// computes points for the new ones, and folds them into the breakdown.
// Updates never earn points again. The stored per-observation points exclude
// the new-species bonus, which belongs to the sync round rather than the row:
// the background processor recomputes row points without species history.
func splitBatch(enriched []domain.EnrichedObservation, existing map[int64]bool, knownTaxa map[int64]bool, breakdown *domain.PointsBreakdown) (newEnriched []domain.EnrichedObservation, toCreate, toUpdate []domain.Observation) {
	seenTaxa := make(map[int64]bool)
	for _, e := range enriched {
		obs := e.Observation
		if existing[obs.ID] {
			toUpdate = append(toUpdate, obs)
			continue
		}

		isNewSpecies := false
		if obs.TaxonID != nil && !knownTaxa[*obs.TaxonID] && !seenTaxa[*obs.TaxonID] {
			isNewSpecies = true
			seenTaxa[*obs.TaxonID] = true
		}
		calc := gamification.ObservationPoints(obs.QualityGrade, obs.PhotosCount, isNewSpecies, e.BonusPoints)
		obs.PointsAwarded = calc.Total - calc.NewSpecies

		breakdown.Base += calc.Base
		breakdown.NewSpecies += calc.NewSpecies
		breakdown.Rarity += calc.Rarity
		breakdown.ResearchGrade += calc.ResearchGrade
		breakdown.Photos += calc.Photos
		breakdown.Total += calc.Total

		e.Observation = obs
		e.Points = calc.Total
		newEnriched = append(newEnriched, e)
		toCreate = append(toCreate, obs)
	}
	return newEnriched, toCreate, toUpdate
}

func countNewTaxa(created []domain.Observation, known map[int64]bool) int {
	seen := make(map[int64]bool)
	for _, o := range created {
		if o.TaxonID != nil && !known[*o.TaxonID] {
			seen[*o.TaxonID] = true
		}
	}
	return len(seen)
}

// applyRarityStreak folds the new observations, oldest first, into the
// rarity streak fields.
func applyRarityStreak(stats *domain.UserStats, newEnriched []domain.EnrichedObservation) {
	ordered := make([]domain.EnrichedObservation, len(newEnriched))
	copy(ordered, newEnriched)
	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].Observation.ObservedOn.Before(ordered[j].Observation.ObservedOn)
	})

	state := gamification.RarityStreakState{
		Current:  stats.CurrentRarityStreak,
		Longest:  stats.LongestRarityStreak,
		LastDate: stats.LastRareObservationDate,
	}
	for _, e := range ordered {
		if e.Observation.ObservedOn.IsZero() {
			continue
		}
		state = gamification.UpdateRarityStreak(state, e.Observation.ObservedOn, e.Rarity)
	}
	stats.CurrentRarityStreak = state.Current
	stats.LongestRarityStreak = state.Longest
	stats.LastRareObservationDate = state.LastDate
}

// achievementBaseline captures which badges and quests were already earned
// before this round, so only genuinely new unlocks get reported.
func (o *Orchestrator) achievementBaseline(userID string, stats domain.UserStats, now time.Time) (map[string]bool, map[string]bool, error) {
	agg, err := o.store.AggregateObservations(userID)
	if err != nil {
		return nil, nil, err
	}
	inputs := gamification.BadgeInputs{
		Stats:              stats,
		SpeciesByTaxon:     agg.SpeciesByTaxon,
		RareByTier:         agg.RareByTier,
		HasFirstGlobal:     agg.HasFirstGlobal,
		ResearchGradeCount: agg.ResearchGradeCount,
		UniqueLocations:    agg.UniqueLocations,
	}
	held := make(map[string]bool)
	for _, def := range gamification.BadgeCatalog {
		if gamification.CriterionMet(def.Criterion, inputs) {
			held[def.ID] = true
		}
	}

	recent, err := o.store.RecentObservations(userID, now.Add(-questLookback), questReadLimit)
	if err != nil {
		return nil, nil, err
	}
	_, completed := gamification.EvaluateQuests(recent, nil, now)
	done := make(map[string]bool, len(completed))
	for _, q := range completed {
		done[q.QuestID] = true
	}
	return held, done, nil
}

// deriveAchievements reports newly unlocked badges and newly completed
// quests. Failures are warnings: the sync itself has already committed.
func (o *Orchestrator) deriveAchievements(userID string, stats domain.UserStats, held, completedBefore map[string]bool, now time.Time, result *domain.SyncResult) {
	agg, err := o.store.AggregateObservations(userID)
	if err != nil {
		o.log.Warn("badge aggregation failed", "userId", userID, "error", err)
		return
	}
	inputs := gamification.BadgeInputs{
		Stats:              stats,
		SpeciesByTaxon:     agg.SpeciesByTaxon,
		RareByTier:         agg.RareByTier,
		HasFirstGlobal:     agg.HasFirstGlobal,
		ResearchGradeCount: agg.ResearchGradeCount,
		UniqueLocations:    agg.UniqueLocations,
	}
	result.NewBadges = gamification.NewlyUnlocked(inputs, held, now)
	if result.NewBadges == nil {
		result.NewBadges = []domain.Badge{}
	}

	recent, err := o.store.RecentObservations(userID, now.Add(-questLookback), questReadLimit)
	if err != nil {
		o.log.Warn("quest evaluation failed", "userId", userID, "error", err)
		return
	}
	progress, completed := gamification.EvaluateQuests(recent, completedBefore, now)
	result.QuestProgress = progress
	result.CompletedQuests = completed
	if result.CompletedQuests == nil {
		result.CompletedQuests = []domain.CompletedQuest{}
	}
}

// rareFinds picks the standout observations of the round: tracked tiers
// only, rarest first, capped.
func rareFinds(newEnriched []domain.EnrichedObservation) []domain.RareFind {
	var finds []domain.RareFind
	for _, e := range newEnriched {
		if !e.Rarity.Tracked() {
			continue
		}
		finds = append(finds, domain.RareFind{
			ObservationID:   e.Observation.ID,
			TaxonName:       e.Observation.TaxonName,
			CommonName:      e.Observation.CommonName,
			Rarity:          e.Rarity,
			BonusPoints:     e.BonusPoints,
			IsFirstGlobal:   e.IsFirstGlobal,
			IsFirstRegional: e.IsFirstRegional,
		})
	}
	sort.SliceStable(finds, func(i, j int) bool {
		if finds[i].Rarity.Index() != finds[j].Rarity.Index() {
			return finds[i].Rarity.Index() > finds[j].Rarity.Index()
		}
		return finds[i].BonusPoints > finds[j].BonusPoints
	})
	if len(finds) > RareFindsLimit {
		finds = finds[:RareFindsLimit]
	}
	if finds == nil {
		finds = []domain.RareFind{}
	}
	return finds
}

func observationIDs(enriched []domain.EnrichedObservation) []int64 {
	ids := make([]int64, 0, len(enriched))
	for _, e := range enriched {
		ids = append(ids, e.Observation.ID)
	}
	return ids
}

func observedDates(obs []domain.Observation) []time.Time {
	dates := make([]time.Time, 0, len(obs))
	for _, o := range obs {
		if !o.ObservedOn.IsZero() {
			dates = append(dates, o.ObservedOn)
		}
	}
	return dates
}
