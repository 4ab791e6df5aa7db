// Package sync implements the observation sync pipeline: fetching pages from
// the remote API, enriching them with rarity and points, persisting them
// atomically, verifying cursor state after crashes, and driving retries.
package sync

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"bioquest/pkg/inat"
)

// ExtractCoordinates normalizes the heterogeneous location fields of a raw
// observation into (lat, lon, display). Sources are tried in order: the
// geometry field, whose pair is ordered (longitude, latitude) and must be
// un-swapped; the discrete latitude/longitude fields; the free-text
// "lat,lon" string. The first source yielding two finite numbers wins.
// All-nil when no usable location exists.
func ExtractCoordinates(o inat.Observation) (lat, lon *float64, display string) {
	if o.Geojson != nil && len(o.Geojson.Coordinates) == 2 {
		gLon, gLat := o.Geojson.Coordinates[0], o.Geojson.Coordinates[1]
		if finite(gLat) && finite(gLon) {
			return ptr(gLat), ptr(gLon), formatLatLon(gLat, gLon)
		}
	}

	if o.Latitude != nil && o.Longitude != nil && finite(*o.Latitude) && finite(*o.Longitude) {
		return ptr(*o.Latitude), ptr(*o.Longitude), formatLatLon(*o.Latitude, *o.Longitude)
	}

	if parts := strings.Split(o.Location, ","); len(parts) == 2 {
		sLat, errLat := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
		sLon, errLon := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
		if errLat == nil && errLon == nil && finite(sLat) && finite(sLon) {
			return ptr(sLat), ptr(sLon), formatLatLon(sLat, sLon)
		}
	}

	return nil, nil, ""
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

func ptr(f float64) *float64 { return &f }

func formatLatLon(lat, lon float64) string {
	return fmt.Sprintf("%s,%s",
		strconv.FormatFloat(lat, 'f', -1, 64),
		strconv.FormatFloat(lon, 'f', -1, 64))
}
