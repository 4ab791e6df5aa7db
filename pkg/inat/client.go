// Package inat is a minimal client for the iNaturalist observations API,
// covering the read endpoints the sync pipeline needs. Requests are paced
// through a token-bucket limiter to stay under the API's 60 req/min budget.
package inat

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"
)

const DefaultBaseURL = "https://api.inaturalist.org/v1"

// Client talks to the observation source API on behalf of one user.
type Client struct {
	baseURL     string
	accessToken string
	httpClient  *http.Client
	limiter     *rate.Limiter
}

// Option configures a Client.
type Option func(*Client)

func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = u }
}

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.httpClient = h }
}

func WithRateLimit(perSecond float64, burst int) Option {
	return func(c *Client) { c.limiter = rate.NewLimiter(rate.Limit(perSecond), burst) }
}

// NewClient builds a client. accessToken may be empty for public reads.
func NewClient(accessToken string, opts ...Option) *Client {
	c := &Client{
		baseURL:     DefaultBaseURL,
		accessToken: accessToken,
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		limiter:     rate.NewLimiter(rate.Every(time.Second), 3),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ObservationQuery narrows a user-observations fetch.
type ObservationQuery struct {
	Page         int
	PerPage      int
	UpdatedSince *time.Time
	OrderBy      string
	Order        string
}

// ObservationPage is one page of results plus pagination metadata.
type ObservationPage struct {
	TotalResults int64         `json:"total_results"`
	Page         int           `json:"page"`
	PerPage      int           `json:"per_page"`
	Results      []Observation `json:"results"`
}

// GetUserObservations fetches one page of a user's observations, newest
// first by default. UpdatedSince makes the fetch incremental.
func (c *Client) GetUserObservations(ctx context.Context, username string, q ObservationQuery) (*ObservationPage, error) {
	params := url.Values{}
	params.Set("user_login", username)
	perPage := q.PerPage
	if perPage <= 0 {
		perPage = 50
	}
	params.Set("per_page", strconv.Itoa(perPage))
	page := q.Page
	if page <= 0 {
		page = 1
	}
	params.Set("page", strconv.Itoa(page))
	orderBy := q.OrderBy
	if orderBy == "" {
		orderBy = "observed_on"
	}
	params.Set("order_by", orderBy)
	order := q.Order
	if order == "" {
		order = "desc"
	}
	params.Set("order", order)
	if q.UpdatedSince != nil {
		params.Set("updated_since", q.UpdatedSince.UTC().Format(time.RFC3339))
	}

	var out ObservationPage
	if err := c.get(ctx, "/observations", params, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetUserObservationTotal returns the remote total observation count for a
// user without fetching any rows.
func (c *Client) GetUserObservationTotal(ctx context.Context, username string) (int64, error) {
	params := url.Values{}
	params.Set("user_login", username)
	params.Set("per_page", "0")

	var out struct {
		TotalResults int64 `json:"total_results"`
	}
	if err := c.get(ctx, "/observations", params, &out); err != nil {
		return 0, err
	}
	return out.TotalResults, nil
}

// GetTaxonObservationCount returns how many observations exist for a taxon,
// optionally scoped to a place.
func (c *Client) GetTaxonObservationCount(ctx context.Context, taxonID int64, placeID *int64) (int64, error) {
	params := url.Values{}
	params.Set("taxon_id", strconv.FormatInt(taxonID, 10))
	params.Set("per_page", "0")
	if placeID != nil {
		params.Set("place_id", strconv.FormatInt(*placeID, 10))
	}

	var out struct {
		TotalResults int64 `json:"total_results"`
	}
	if err := c.get(ctx, "/observations", params, &out); err != nil {
		return 0, err
	}
	return out.TotalResults, nil
}

// GetUserSpeciesCount returns the number of distinct species the user has
// observed, as counted by the remote API.
func (c *Client) GetUserSpeciesCount(ctx context.Context, username string) (int64, error) {
	params := url.Values{}
	params.Set("user_login", username)
	params.Set("per_page", "0")

	var out struct {
		TotalResults int64 `json:"total_results"`
	}
	if err := c.get(ctx, "/observations/species_counts", params, &out); err != nil {
		return 0, err
	}
	return out.TotalResults, nil
}

func (c *Client) get(ctx context.Context, endpoint string, params url.Values, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	u := c.baseURL + endpoint
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if c.accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.accessToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("inat: %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &APIError{StatusCode: resp.StatusCode, Endpoint: endpoint, Body: string(body)}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("inat: decode %s: %w", endpoint, err)
	}
	return nil
}
