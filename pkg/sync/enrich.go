package sync

import (
	"context"
	"log/slog"
	"sort"

	"golang.org/x/sync/errgroup"

	"bioquest/pkg/domain"
	"bioquest/pkg/gamification"
	"bioquest/pkg/inat"
)

const (
	// FastClassifyLimit is how many distinct taxa each sync classifies
	// inline; the rest go to the background queue.
	FastClassifyLimit = 10
	// classifyConcurrency bounds parallel count lookups.
	classifyConcurrency = 4
)

// Classifier resolves a taxon's rarity. placeID scopes the regional count
// and may be nil.
type Classifier interface {
	ClassifyTaxon(ctx context.Context, taxonID int64, placeID *int64) (gamification.Classification, error)
}

// CountsClassifier classifies by querying live observation counts.
type CountsClassifier struct {
	source Source
}

func NewCountsClassifier(source Source) *CountsClassifier {
	return &CountsClassifier{source: source}
}

func (c *CountsClassifier) ClassifyTaxon(ctx context.Context, taxonID int64, placeID *int64) (gamification.Classification, error) {
	global, err := c.source.GetTaxonObservationCount(ctx, taxonID, nil)
	if err != nil {
		return gamification.Classification{}, err
	}
	var regional *int64
	if placeID != nil {
		n, err := c.source.GetTaxonObservationCount(ctx, taxonID, placeID)
		if err != nil {
			return gamification.Classification{}, err
		}
		regional = &n
	}
	return gamification.Classify(global, regional), nil
}

// EnrichResult is the outcome of enriching one fetched batch: the mapped
// observations with rarity and points filled in where classified inline, and
// the taxa deferred to the background queue.
type EnrichResult struct {
	Observations []domain.EnrichedObservation
	QueuedTaxa   []domain.TaxonRef
}

// Enricher turns raw observations into enriched domain records. The most
// frequently observed taxa of the batch are classified inline so the common
// case shows rarity immediately; everything else is queued.
type Enricher struct {
	classifier Classifier
	fastLimit  int
	placeID    *int64
	log        *slog.Logger
}

func NewEnricher(classifier Classifier, placeID *int64, log *slog.Logger) *Enricher {
	return &Enricher{
		classifier: classifier,
		fastLimit:  FastClassifyLimit,
		placeID:    placeID,
		log:        log,
	}
}

// Enrich maps and enriches a fetched batch for one user. Classifier failures
// degrade the affected taxa to an unclassified default and queue them; they
// never fail the batch.
func (e *Enricher) Enrich(ctx context.Context, userID string, raw []inat.Observation) (*EnrichResult, error) {
	byTaxon := make(map[int64]*taxonGroup)
	var order []int64
	mapped := make([]domain.Observation, 0, len(raw))
	for _, r := range raw {
		obs := mapObservation(userID, r)
		mapped = append(mapped, obs)
		if obs.TaxonID == nil {
			continue
		}
		id := *obs.TaxonID
		g, ok := byTaxon[id]
		if !ok {
			g = &taxonGroup{name: obs.TaxonName}
			byTaxon[id] = g
			order = append(order, id)
		}
		g.count++
	}

	// Most-observed taxa first, so inline classification covers the
	// largest share of the batch.
	sort.SliceStable(order, func(i, j int) bool {
		return byTaxon[order[i]].count > byTaxon[order[j]].count
	})

	fast := order
	if len(fast) > e.fastLimit {
		fast = fast[:e.fastLimit]
	}

	classified := make(map[int64]gamification.Classification, len(fast))
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(classifyConcurrency)
	results := make([]gamification.Classification, len(fast))
	failed := make([]bool, len(fast))
	for i, taxonID := range fast {
		i, taxonID := i, taxonID
		eg.Go(func() error {
			c, err := e.classifier.ClassifyTaxon(egCtx, taxonID, e.placeID)
			if err != nil {
				e.log.Warn("taxon classification failed, deferring to queue",
					"taxonId", taxonID, "error", err)
				failed[i] = true
				return nil
			}
			results[i] = c
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	for i, taxonID := range fast {
		if !failed[i] {
			classified[taxonID] = results[i]
		}
	}

	res := &EnrichResult{}
	for _, taxonID := range order {
		if _, ok := classified[taxonID]; !ok {
			g := byTaxon[taxonID]
			res.QueuedTaxa = append(res.QueuedTaxa, domain.TaxonRef{
				TaxonID:   taxonID,
				TaxonName: g.name,
				Priority:  g.count,
			})
		}
	}

	for _, obs := range mapped {
		enriched := domain.EnrichedObservation{Observation: obs}
		switch {
		case obs.TaxonID == nil:
			// Nothing to classify; there will never be a count
			// for an unidentified observation.
			enriched.Observation.Rarity = domain.RarityCommon
			enriched.Observation.RarityStatus = domain.RarityStatusClassified
			enriched.Rarity = domain.RarityCommon
		default:
			c, ok := classified[*obs.TaxonID]
			if !ok {
				enriched.Observation.Rarity = domain.RarityCommon
				enriched.Observation.RarityStatus = domain.RarityStatusPending
				enriched.Rarity = domain.RarityCommon
				break
			}
			enriched.Observation.Rarity = c.Rarity
			enriched.Observation.RarityStatus = domain.RarityStatusClassified
			enriched.Observation.GlobalCount = &c.GlobalCount
			enriched.Observation.RegionalCount = c.RegionalCount
			enriched.Observation.IsFirstGlobal = c.IsFirstGlobal
			enriched.Observation.IsFirstRegional = c.IsFirstRegional
			enriched.Rarity = c.Rarity
			enriched.BonusPoints = c.BonusPoints
			enriched.IsFirstGlobal = c.IsFirstGlobal
			enriched.IsFirstRegional = c.IsFirstRegional
		}
		res.Observations = append(res.Observations, enriched)
	}
	return res, nil
}

type taxonGroup struct {
	name  string
	count int
}
