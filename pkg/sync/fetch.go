package sync

import (
	"context"
	"fmt"
	"time"

	"bioquest/pkg/domain"
	"bioquest/pkg/inat"
)

const (
	// FirstSyncLimit bounds how many observations the very first sync of a
	// user will pull before handing the rest to a continuation sync.
	FirstSyncLimit = 1000
	// PerSyncLimit bounds every subsequent sync round.
	PerSyncLimit = 400
	// PageSize is the per-request page size.
	PageSize = 200
)

// Source is the slice of the remote API the sync pipeline consumes.
// *inat.Client satisfies it.
type Source interface {
	GetUserObservations(ctx context.Context, username string, q inat.ObservationQuery) (*inat.ObservationPage, error)
	GetUserObservationTotal(ctx context.Context, username string) (int64, error)
	GetUserSpeciesCount(ctx context.Context, username string) (int64, error)
	GetTaxonObservationCount(ctx context.Context, taxonID int64, placeID *int64) (int64, error)
}

// FetchResult is one bounded pull from the remote API.
type FetchResult struct {
	Observations []inat.Observation
	// TotalAvailable is the remote total matching the query, including
	// rows beyond the fetch limit.
	TotalAvailable int64
	// FetchedAll is true when nothing matching the query remains.
	FetchedAll bool
	// NewestUpdatedAt is the latest updated_at among fetched rows. It is
	// the resume cursor for a partial fetch.
	NewestUpdatedAt time.Time
}

// Fetcher pulls bounded, resumable batches of a user's observations.
// Pages are requested in updated_at ascending order so the newest fetched
// timestamp is always a valid resume point.
type Fetcher struct {
	source Source
}

func NewFetcher(source Source) *Fetcher {
	return &Fetcher{source: source}
}

// Fetch pulls up to limit observations updated after since (nil means
// everything). Stops early when the remote runs out of pages.
func (f *Fetcher) Fetch(ctx context.Context, username string, since *time.Time, limit int) (*FetchResult, error) {
	if limit <= 0 {
		limit = PerSyncLimit
	}

	res := &FetchResult{}
	page := 1
	for len(res.Observations) < limit {
		perPage := PageSize
		if remaining := limit - len(res.Observations); remaining < perPage {
			perPage = remaining
		}

		p, err := f.source.GetUserObservations(ctx, username, inat.ObservationQuery{
			Page:         page,
			PerPage:      perPage,
			UpdatedSince: since,
			OrderBy:      "updated_at",
			Order:        "asc",
		})
		if err != nil {
			return nil, fmt.Errorf("fetch page %d: %w", page, err)
		}

		res.TotalAvailable = p.TotalResults
		for _, o := range p.Results {
			res.Observations = append(res.Observations, o)
			if t := o.UpdatedAtTime(); t.After(res.NewestUpdatedAt) {
				res.NewestUpdatedAt = t
			}
		}

		if len(p.Results) < perPage || int64(len(res.Observations)) >= p.TotalResults {
			break
		}
		page++
	}

	res.FetchedAll = int64(len(res.Observations)) >= res.TotalAvailable
	return res, nil
}

// FetchAllIDs walks every page of a user's observations and returns just the
// IDs. Used by reconciliation to find local rows deleted upstream.
func (f *Fetcher) FetchAllIDs(ctx context.Context, username string) ([]int64, error) {
	var ids []int64
	page := 1
	for {
		p, err := f.source.GetUserObservations(ctx, username, inat.ObservationQuery{
			Page:    page,
			PerPage: PageSize,
			OrderBy: "id",
			Order:   "asc",
		})
		if err != nil {
			return nil, fmt.Errorf("fetch ids page %d: %w", page, err)
		}
		for _, o := range p.Results {
			ids = append(ids, o.ID)
		}
		if len(p.Results) < PageSize || int64(len(ids)) >= p.TotalResults {
			return ids, nil
		}
		page++
	}
}

// mapObservation converts a raw API record into the stored domain shape.
// Rarity is left pending until enrichment fills it in.
func mapObservation(userID string, raw inat.Observation) domain.Observation {
	obs := domain.Observation{
		ID:           raw.ID,
		UserID:       userID,
		SpeciesGuess: raw.SpeciesGuess,
		ObservedOn:   raw.ObservedOnTime(),
		QualityGrade: raw.QualityGrade,
		PhotosCount:  len(raw.Photos),
		PlaceGuess:   raw.PlaceGuess,
		Rarity:       domain.RarityCommon,
		RarityStatus: domain.RarityStatusPending,
	}
	for _, p := range raw.Photos {
		if p.URL != "" {
			obs.PhotoURLs = append(obs.PhotoURLs, p.URL)
		}
	}
	if raw.Taxon != nil {
		id := raw.Taxon.ID
		obs.TaxonID = &id
		obs.TaxonName = raw.Taxon.Name
		obs.TaxonRank = raw.Taxon.Rank
		obs.CommonName = raw.Taxon.PreferredCommonName
		obs.IconicTaxon = raw.Taxon.IconicTaxonName
	}
	obs.Latitude, obs.Longitude, obs.Location = ExtractCoordinates(raw)
	return obs
}
