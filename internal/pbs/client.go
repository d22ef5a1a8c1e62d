package pbs

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/lukeslade/pbs-lookup-tool/internal/observability/metrics"
	"github.com/lukeslade/pbs-lookup-tool/pkg/circuitbreaker"
)

// API resources queried on the PBS data API.
const (
	resourceSchedules     = "schedules"
	resourceItems         = "items"
	resourceRelationships = "item-restriction-relationships"
	resourceRestrictions  = "restrictions"
)

const scheduleCacheKey = "latest-schedule"

// ClientConfig holds lookup client configuration.
type ClientConfig struct {
	// BaseURL is the PBS data API root.
	BaseURL string
	// SubscriptionKey is sent on every request as Subscription-Key.
	SubscriptionKey string
	// Timeout bounds each HTTP request. One attempt per query, no retries.
	Timeout time.Duration
	// PageLimit is the page size for item listings.
	PageLimit int
	// ScheduleTTL is how long the latest-schedule code is cached.
	// Schedules are published monthly, so an hour is conservative.
	ScheduleTTL time.Duration
}

// DefaultClientConfig returns defaults for the public PBS data API.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		BaseURL:         "https://data-api.health.gov.au/pbs/api/v3",
		SubscriptionKey: "2384af7c667342ceb5a736fe29f1dc6b", // public demo key
		Timeout:         30 * time.Second,
		PageLimit:       500,
		ScheduleTTL:     1 * time.Hour,
	}
}

// Client looks up scheme items on the PBS data API. Each query is a single
// attempt with a bounded timeout; failures surface immediately as
// *LookupError rather than being retried.
type Client struct {
	cfg      ClientConfig
	http     *http.Client
	breakers *circuitbreaker.Registry
	cache    *gocache.Cache
	logger   *zap.Logger
	tracer   trace.Tracer
	metrics  *metrics.Metrics
}

// NewClient creates a lookup client. logger and m may be nil.
func NewClient(cfg ClientConfig, logger *zap.Logger, m *metrics.Metrics) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		cfg:      cfg,
		http:     &http.Client{Timeout: cfg.Timeout},
		breakers: circuitbreaker.NewRegistry(logger),
		cache:    gocache.New(cfg.ScheduleTTL, 10*time.Minute),
		logger:   logger,
		tracer:   otel.Tracer("pbs-client"),
		metrics:  m,
	}
}

// LookupByCode fetches the item with the given PBS code from the latest
// schedule. Returns ErrNotFound when the schedule lists no such code.
// Authority-required items come back with their restriction text populated.
func (c *Client) LookupByCode(ctx context.Context, code string) (*Item, error) {
	code = NormalizeCode(code)
	if code == "" {
		return nil, ErrEmptyQuery
	}

	ctx, span := c.tracer.Start(ctx, "lookup_by_code",
		trace.WithAttributes(attribute.String("pbs_code", code)))
	defer span.End()

	schedule, err := c.latestScheduleCode(ctx)
	if err != nil {
		return nil, err
	}

	params := url.Values{}
	params.Set("schedule_code", fmt.Sprint(schedule))
	params.Set("pbs_code", code)
	params.Set("limit", "2")

	var resp itemsResponse
	if err := c.get(ctx, resourceItems, params, &resp); err != nil {
		return nil, err
	}
	if len(resp.Data) == 0 {
		return nil, ErrNotFound
	}

	item := resp.Data[0]
	item.ScheduleCode = schedule

	if item.RequiresAuthority() {
		text, err := c.fetchRestrictionText(ctx, schedule, code)
		if err != nil {
			return nil, err
		}
		item.RestrictionText = text
	}

	c.logger.Info("item lookup",
		zap.String("pbs_code", item.Code),
		zap.String("drug", item.DrugName),
		zap.String("authority", string(item.AuthorityType())),
	)

	return &item, nil
}

// SearchByName lists items on the latest schedule whose drug name contains
// name, case-insensitively. The remote listing order is preserved; zero
// matches is an empty slice, not an error.
func (c *Client) SearchByName(ctx context.Context, name string) ([]Item, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrEmptyQuery
	}

	ctx, span := c.tracer.Start(ctx, "search_by_name",
		trace.WithAttributes(attribute.String("drug_name", name)))
	defer span.End()

	schedule, err := c.latestScheduleCode(ctx)
	if err != nil {
		return nil, err
	}

	params := url.Values{}
	params.Set("schedule_code", fmt.Sprint(schedule))
	params.Set("limit", fmt.Sprint(c.cfg.PageLimit))

	var resp itemsResponse
	if err := c.get(ctx, resourceItems, params, &resp); err != nil {
		return nil, err
	}

	needle := strings.ToLower(name)
	matches := make([]Item, 0)
	for _, item := range resp.Data {
		if strings.Contains(strings.ToLower(item.DrugName), needle) {
			item.ScheduleCode = schedule
			matches = append(matches, item)
		}
	}

	span.SetAttributes(attribute.Int("matches", len(matches)))
	c.logger.Info("name search",
		zap.String("drug", name),
		zap.Int("matches", len(matches)),
	)

	return matches, nil
}

// BreakerStates reports the state of each upstream breaker, keyed by the
// API resource it guards.
func (c *Client) BreakerStates() map[string]circuitbreaker.State {
	states := make(map[string]circuitbreaker.State)
	for name, b := range c.breakers.All() {
		states[name] = b.CurrentState()
	}
	return states
}

// latestScheduleCode resolves the most recent schedule, caching the result.
func (c *Client) latestScheduleCode(ctx context.Context) (int, error) {
	if v, ok := c.cache.Get(scheduleCacheKey); ok {
		c.metrics.RecordScheduleCache(true)
		return v.(int), nil
	}
	c.metrics.RecordScheduleCache(false)

	var resp schedulesResponse
	if err := c.get(ctx, resourceSchedules, nil, &resp); err != nil {
		return 0, err
	}
	if len(resp.Data) == 0 {
		return 0, &LookupError{Resource: resourceSchedules, Err: fmt.Errorf("no schedules returned")}
	}

	latest := resp.Data[0].Code
	for _, s := range resp.Data[1:] {
		if s.Code > latest {
			latest = s.Code
		}
	}

	c.cache.Set(scheduleCacheKey, latest, gocache.DefaultExpiration)
	c.logger.Info("resolved latest schedule", zap.Int("schedule_code", latest))
	return latest, nil
}

// fetchRestrictionText assembles the restriction criteria for an item from
// its restriction relationships. Items with no linked restrictions yield "".
func (c *Client) fetchRestrictionText(ctx context.Context, schedule int, code string) (string, error) {
	params := url.Values{}
	params.Set("schedule_code", fmt.Sprint(schedule))
	params.Set("pbs_code", code)

	var rels relationshipsResponse
	if err := c.get(ctx, resourceRelationships, params, &rels); err != nil {
		return "", err
	}

	var parts []string
	for _, rel := range rels.Data {
		rp := url.Values{}
		rp.Set("schedule_code", fmt.Sprint(schedule))
		rp.Set("res_code", rel.ResCode)

		var resp restrictionsResponse
		if err := c.get(ctx, resourceRestrictions, rp, &resp); err != nil {
			return "", err
		}
		for _, res := range resp.Data {
			if text := res.text(); text != "" {
				parts = append(parts, text)
			}
		}
	}

	return strings.Join(parts, "\n\n"), nil
}

// get issues one breaker-guarded GET against a data API resource and
// decodes the body into out.
func (c *Client) get(ctx context.Context, resource string, params url.Values, out interface{}) error {
	breaker, err := c.breakers.GetOrCreate(resource, circuitbreaker.DefaultConfig(resource))
	if err != nil {
		return &LookupError{Resource: resource, Err: err}
	}

	u := c.cfg.BaseURL + "/" + resource
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	start := time.Now()
	_, err = breaker.Execute(ctx, func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		req.Header.Set("Subscription-Key", c.cfg.SubscriptionKey)

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return nil, &LookupError{
				Resource: resource,
				Status:   resp.StatusCode,
				Err:      fmt.Errorf("unexpected status %s", resp.Status),
			}
		}

		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return nil, fmt.Errorf("decode response: %w", err)
		}
		return nil, nil
	})
	c.metrics.ObserveUpstream(resource, time.Since(start))

	if err != nil {
		c.logger.Warn("data api request failed",
			zap.String("resource", resource),
			zap.Error(err),
		)
		if le, ok := err.(*LookupError); ok {
			return le
		}
		return &LookupError{Resource: resource, Err: err}
	}

	return nil
}

// Response envelopes for the data API's {"data":[...]} listings.

type schedulesResponse struct {
	Data []Schedule `json:"data"`
}

type itemsResponse struct {
	Data []Item `json:"data"`
}

type relationshipsResponse struct {
	Data []restrictionRelationship `json:"data"`
}

type restrictionRelationship struct {
	PBSCode string `json:"pbs_code"`
	ResCode string `json:"res_code"`
}

type restrictionsResponse struct {
	Data []restriction `json:"data"`
}

type restriction struct {
	ResCode         string `json:"res_code"`
	AuthorityMethod string `json:"authority_method,omitempty"`
	LIText          string `json:"li_html_text,omitempty"`
	ScheduleText    string `json:"schedule_html_text,omitempty"`
}

// text returns the restriction criteria as plain text, preferring the
// legal-instrument wording.
func (r *restriction) text() string {
	if r.LIText != "" {
		return StripHTML(r.LIText)
	}
	return StripHTML(r.ScheduleText)
}
