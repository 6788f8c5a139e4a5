package solar

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/levenlabs/go-lflag"

	"github.com/gridpilot/gridpilot/pkg/common"
	"github.com/gridpilot/gridpilot/pkg/interval"
	"github.com/gridpilot/gridpilot/pkg/log"
	"github.com/gridpilot/gridpilot/pkg/types"
)

// Client defines the interface for fetching solar generation estimates.
type Client interface {
	// GetForecasts returns predicted generation periods for the site.
	GetForecasts(ctx context.Context, siteID string) ([]types.SolarEstimate, error)

	// GetEstimatedActuals returns measured-weather generation periods for
	// the site, covering the recent past.
	GetEstimatedActuals(ctx context.Context, siteID string) ([]types.SolarEstimate, error)
}

// APIError is returned when Solcast responds with a non-2xx status. The
// status code matters to callers: a 429 starts the allowance backoff.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("solcast api returned status %d: %s", e.StatusCode, e.Body)
}

// Solcast implements Client against the Solcast rooftop API.
type Solcast struct {
	apiURL string
	apiKey string
	client *http.Client
}

var _ Client = (*Solcast)(nil)

// Configured sets up the Solcast client from flags.
func Configured() *Solcast {
	s := &Solcast{
		client: common.HTTPClient(30 * time.Second),
	}
	apiURL := lflag.String("solcast-api-url", "https://api.solcast.com.au", "Base URL for the Solcast API")
	apiKey := lflag.String("solcast-api-key", "", "API key for Solcast")

	lflag.Do(func() {
		s.apiURL = *apiURL
		s.apiKey = *apiKey
	})

	return s
}

// Validate ensures the configuration is valid.
func (s *Solcast) Validate() error {
	if s.apiURL == "" {
		return fmt.Errorf("solcast-api-url is required")
	}
	if _, err := url.Parse(s.apiURL); err != nil {
		return fmt.Errorf("failed to parse solcast url (%s): %w", s.apiURL, err)
	}
	if s.apiKey == "" {
		return fmt.Errorf("solcast-api-key is required")
	}
	return nil
}

// solcastPeriod is one entry from either endpoint. Solcast reports the
// period end and an ISO-8601 period length.
type solcastPeriod struct {
	PVEstimate   float64   `json:"pv_estimate"`
	PVEstimate10 float64   `json:"pv_estimate10"`
	PVEstimate90 float64   `json:"pv_estimate90"`
	PeriodEnd    time.Time `json:"period_end"`
	Period       string    `json:"period"`
}

// toEstimate converts a wire period to the stored form, translating the
// period end to a period start.
func (p solcastPeriod) toEstimate(kind types.EstimateKind) (types.SolarEstimate, error) {
	d, err := interval.Parse(p.Period)
	if err != nil {
		return types.SolarEstimate{}, fmt.Errorf("invalid period %q: %w", p.Period, err)
	}
	return types.SolarEstimate{
		Kind:         kind,
		PeriodStart:  p.PeriodEnd.Add(-d),
		Period:       d,
		PVEstimateKW: p.PVEstimate,
		PVEstimate10: p.PVEstimate10,
		PVEstimate90: p.PVEstimate90,
	}, nil
}

// GetForecasts returns predicted generation for the next 48 hours.
func (s *Solcast) GetForecasts(ctx context.Context, siteID string) ([]types.SolarEstimate, error) {
	var resp struct {
		Forecasts []solcastPeriod `json:"forecasts"`
	}
	if err := s.fetch(ctx, siteID, "forecasts", 48, &resp); err != nil {
		return nil, err
	}
	return s.convert(ctx, resp.Forecasts, types.EstimateKindForecast)
}

// GetEstimatedActuals returns measured-weather generation for the recent past.
func (s *Solcast) GetEstimatedActuals(ctx context.Context, siteID string) ([]types.SolarEstimate, error) {
	var resp struct {
		EstimatedActuals []solcastPeriod `json:"estimated_actuals"`
	}
	if err := s.fetch(ctx, siteID, "estimated_actuals", 0, &resp); err != nil {
		return nil, err
	}
	return s.convert(ctx, resp.EstimatedActuals, types.EstimateKindActual)
}

func (s *Solcast) convert(ctx context.Context, periods []solcastPeriod, kind types.EstimateKind) ([]types.SolarEstimate, error) {
	estimates := make([]types.SolarEstimate, 0, len(periods))
	for _, p := range periods {
		e, err := p.toEstimate(kind)
		if err != nil {
			log.Ctx(ctx).WarnContext(ctx, "skipping malformed solcast period",
				slog.Time("periodEnd", p.PeriodEnd), slog.Any("err", err))
			continue
		}
		estimates = append(estimates, e)
	}
	return estimates, nil
}

func (s *Solcast) fetch(ctx context.Context, siteID, endpoint string, hours int, out interface{}) error {
	if siteID == "" {
		return fmt.Errorf("solcast site ID is required")
	}

	u, err := url.Parse(s.apiURL)
	if err != nil {
		return fmt.Errorf("invalid api url: %w", err)
	}
	u = u.JoinPath("rooftop_sites", siteID, endpoint)
	params := url.Values{}
	params.Set("format", "json")
	if hours > 0 {
		params.Set("hours", strconv.Itoa(hours))
	}
	u.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, "GET", u.String(), nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.apiKey)
	log.Ctx(ctx).DebugContext(ctx, "fetching from solcast", slog.String("endpoint", endpoint), slog.String("siteID", siteID))

	resp, err := s.client.Do(req)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to fetch from solcast", "error", err)
		return fmt.Errorf("failed to fetch from solcast: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &APIError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
