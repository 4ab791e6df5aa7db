package inat

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func testClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient("test-token", WithBaseURL(srv.URL), WithRateLimit(1000, 1000))
}

func TestGetUserObservationsParams(t *testing.T) {
	var gotQuery map[string]string
	var gotAuth string
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotQuery = map[string]string{}
		for k := range r.URL.Query() {
			gotQuery[k] = r.URL.Query().Get(k)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"total_results": 2, "page": 1, "per_page": 200, "results": [
			{"id": 1, "quality_grade": "research", "observed_on": "2026-08-01"},
			{"id": 2, "quality_grade": "casual", "observed_on": "2026-08-02"}
		]}`))
	})

	since := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	page, err := c.GetUserObservations(context.Background(), "naturefan", ObservationQuery{
		Page:         3,
		PerPage:      200,
		UpdatedSince: &since,
	})
	if err != nil {
		t.Fatal(err)
	}
	if page.TotalResults != 2 || len(page.Results) != 2 {
		t.Fatalf("page = %+v", page)
	}
	if gotAuth != "Bearer test-token" {
		t.Errorf("auth header = %q", gotAuth)
	}
	if gotQuery["user_login"] != "naturefan" {
		t.Errorf("user_login = %q", gotQuery["user_login"])
	}
	if gotQuery["page"] != "3" || gotQuery["per_page"] != "200" {
		t.Errorf("pagination params = %v", gotQuery)
	}
	if gotQuery["updated_since"] != "2026-08-01T00:00:00Z" {
		t.Errorf("updated_since = %q", gotQuery["updated_since"])
	}
	if gotQuery["order_by"] != "observed_on" || gotQuery["order"] != "desc" {
		t.Errorf("ordering params = %v", gotQuery)
	}
}

func TestGetTaxonObservationCount(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("per_page") != "0" {
			t.Errorf("per_page = %q, count queries must not fetch rows", r.URL.Query().Get("per_page"))
		}
		if r.URL.Query().Get("taxon_id") != "5432" {
			t.Errorf("taxon_id = %q", r.URL.Query().Get("taxon_id"))
		}
		if r.URL.Query().Get("place_id") != "97" {
			t.Errorf("place_id = %q", r.URL.Query().Get("place_id"))
		}
		w.Write([]byte(`{"total_results": 123}`))
	})

	place := int64(97)
	count, err := c.GetTaxonObservationCount(context.Background(), 5432, &place)
	if err != nil {
		t.Fatal(err)
	}
	if count != 123 {
		t.Errorf("count = %d, want 123", count)
	}
}

func TestAPIErrorStatus(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	})

	_, err := c.GetUserObservationTotal(context.Background(), "naturefan")
	if err == nil {
		t.Fatal("expected error")
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error %v is not an APIError", err)
	}
	if apiErr.StatusCode != http.StatusTooManyRequests {
		t.Errorf("status = %d", apiErr.StatusCode)
	}
	if !IsRateLimited(err) {
		t.Error("IsRateLimited should report true")
	}
	if IsAuthError(err) {
		t.Error("IsAuthError should report false")
	}
}

func TestIsAuthError(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad token", http.StatusUnauthorized)
	})
	_, err := c.GetUserSpeciesCount(context.Background(), "naturefan")
	if !IsAuthError(err) {
		t.Errorf("IsAuthError(%v) = false, want true", err)
	}
}

func TestObservedOnFormats(t *testing.T) {
	cases := []struct {
		raw  string
		want time.Time
	}{
		{"2026-08-15", time.Date(2026, 8, 15, 0, 0, 0, 0, time.UTC)},
		{"2026-08-15T10:30:00Z", time.Date(2026, 8, 15, 10, 30, 0, 0, time.UTC)},
		{"garbage", time.Time{}},
	}
	for _, c := range cases {
		o := Observation{ObservedOn: c.raw}
		if got := o.ObservedOnTime(); !got.Equal(c.want) {
			t.Errorf("ObservedOnTime(%q) = %v, want %v", c.raw, got, c.want)
		}
	}
}
