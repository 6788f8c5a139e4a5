package tariff

import (
	"context"
	"time"

	"github.com/gridpilot/gridpilot/pkg/types"
)

// Provider defines the interface for fetching electricity unit rates.
type Provider interface {
	// GetRates returns half-hourly unit rates for the given product and
	// tariff code covering [start, end). Agile tariffs publish the next
	// day's rates around 16:00 UK time, so the tail of the range may be
	// missing.
	GetRates(ctx context.Context, product, code string, start, end time.Time) ([]types.Rate, error)
}
