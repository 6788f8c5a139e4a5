package tariff

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"time"

	"github.com/levenlabs/go-lflag"

	"github.com/gridpilot/gridpilot/pkg/common"
	"github.com/gridpilot/gridpilot/pkg/log"
	"github.com/gridpilot/gridpilot/pkg/types"
)

// Octopus implements the Provider interface for the Octopus Energy REST
// API. Unit rates are public; an API key is only needed for
// account-scoped endpoints but is sent when configured.
type Octopus struct {
	apiURL string
	apiKey string
	client *http.Client
}

// configuredOctopus sets up flags for Octopus and returns the instance.
func configuredOctopus() *Octopus {
	o := &Octopus{
		client: common.HTTPClient(10 * time.Second),
	}
	apiURL := lflag.String("octopus-api-url", "https://api.octopus.energy", "Base URL for the Octopus Energy API")
	apiKey := lflag.String("octopus-api-key", "", "Octopus Energy API key (optional, only needed for account-scoped endpoints)")

	lflag.Do(func() {
		o.apiURL = *apiURL
		o.apiKey = *apiKey
	})

	return o
}

// Validate ensures the configuration is valid.
func (o *Octopus) Validate() error {
	if o.apiURL == "" {
		return fmt.Errorf("octopus-api-url is required")
	}
	if _, err := url.Parse(o.apiURL); err != nil {
		return fmt.Errorf("failed to parse octopus url (%s): %w", o.apiURL, err)
	}
	return nil
}

// octopusRate is one entry from the standard-unit-rates endpoint.
type octopusRate struct {
	ValueIncVAT float64   `json:"value_inc_vat"`
	ValidFrom   time.Time `json:"valid_from"`
	ValidTo     time.Time `json:"valid_to"`
}

type octopusRatesPage struct {
	Count    int           `json:"count"`
	Next     string        `json:"next"`
	Previous string        `json:"previous"`
	Results  []octopusRate `json:"results"`
}

// GetRates returns half-hourly unit rates for [start, end), following
// pagination until the range is covered.
func (o *Octopus) GetRates(ctx context.Context, product, code string, start, end time.Time) ([]types.Rate, error) {
	if product == "" || code == "" {
		return nil, fmt.Errorf("tariff product and code are required")
	}

	u, err := url.Parse(o.apiURL)
	if err != nil {
		return nil, fmt.Errorf("invalid api url: %w", err)
	}
	u = u.JoinPath("v1", "products", product, "electricity-tariffs", code, "standard-unit-rates")

	params := url.Values{}
	params.Set("period_from", start.UTC().Format(time.RFC3339))
	params.Set("period_to", end.UTC().Format(time.RFC3339))
	params.Set("page_size", "1500")
	u.RawQuery = params.Encode()

	var rates []types.Rate
	next := u.String()
	for next != "" {
		page, err := o.fetchPage(ctx, next)
		if err != nil {
			return nil, err
		}
		for _, r := range page.Results {
			rates = append(rates, types.Rate{
				Tariff:      code,
				TSStart:     r.ValidFrom,
				TSEnd:       r.ValidTo,
				PencePerKWH: r.ValueIncVAT,
			})
		}
		next = page.Next
	}

	// The API returns newest first.
	sort.Slice(rates, func(i, j int) bool { return rates[i].TSStart.Before(rates[j].TSStart) })

	log.Ctx(ctx).DebugContext(
		ctx,
		"fetched octopus rates",
		slog.String("product", product),
		slog.String("code", code),
		slog.Int("count", len(rates)),
	)
	return rates, nil
}

func (o *Octopus) fetchPage(ctx context.Context, pageURL string) (*octopusRatesPage, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if o.apiKey != "" {
		// the Octopus API takes the key as a basic-auth username
		req.SetBasicAuth(o.apiKey, "")
	}
	log.Ctx(ctx).DebugContext(ctx, "fetching rates from octopus", "url", pageURL)

	resp, err := o.client.Do(req)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to fetch rates", "error", err)
		return nil, fmt.Errorf("failed to fetch rates: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("octopus api returned status: %d", resp.StatusCode)
	}

	var page octopusRatesPage
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &page, nil
}
