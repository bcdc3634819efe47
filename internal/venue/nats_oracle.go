package venue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/holiman/uint256"
)

// NATSOracle caches the most recent exchange rate delivered over the oracle
// rate subject (see ingestion.RateSubscriber). PriceOf never blocks on the
// wire: a rate that is absent, stale, or zero is ErrRateUnavailable, so an
// outage fails ledger operations fast instead of liquidating on old prices.
type NATSOracle struct {
	mu        sync.RWMutex
	rates     map[string]cachedRate
	staleness time.Duration
	now       func() time.Time
}

type cachedRate struct {
	rate       *uint256.Int
	receivedAt time.Time
}

func NewNATSOracle(staleness time.Duration) *NATSOracle {
	return &NATSOracle{
		rates:     make(map[string]cachedRate),
		staleness: staleness,
		now:       time.Now,
	}
}

// Update stores a freshly delivered rate. Zero rates are rejected at the
// edge so a bad publish cannot poison the cache.
func (o *NATSOracle) Update(asset string, rate *uint256.Int) error {
	if rate == nil || rate.IsZero() {
		return fmt.Errorf("oracle update for %s: zero rate rejected", asset)
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	o.rates[asset] = cachedRate{
		rate:       new(uint256.Int).Set(rate),
		receivedAt: o.now(),
	}
	return nil
}

func (o *NATSOracle) PriceOf(_ context.Context, asset string) (*uint256.Int, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()

	cached, ok := o.rates[asset]
	if !ok {
		return nil, fmt.Errorf("no rate for %s: %w", asset, ErrRateUnavailable)
	}
	if o.staleness > 0 && o.now().Sub(cached.receivedAt) > o.staleness {
		return nil, fmt.Errorf("rate for %s stale since %s: %w",
			asset, cached.receivedAt.Format(time.RFC3339), ErrRateUnavailable)
	}

	return new(uint256.Int).Set(cached.rate), nil
}
