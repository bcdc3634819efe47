package ingestion

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/holiman/uint256"
)

// Message kinds carried over the bus.
const (
	KindRateUpdate  = "RateUpdate"
	KindHarvestTick = "HarvestTick"
)

// RateUpdate is a decoded oracle rate publish.
type RateUpdate struct {
	Asset     string
	Rate      *uint256.Int
	Timestamp time.Time
}

// HarvestTick asks the engine to fold the farm's pending payout into the
// reward accumulator. TickID deduplicates redeliveries.
type HarvestTick struct {
	TickID    string
	Timestamp time.Time
}

// --- JSON wire formats ---
// Field names use snake_case to match upstream producers. Rates travel as
// WAD decimal strings.

type rateUpdateJSON struct {
	Asset       string `json:"asset"`
	Rate        string `json:"rate"`
	TimestampUs int64  `json:"timestamp_us"`
}

type harvestTickJSON struct {
	TickID      string `json:"tick_id"`
	TimestampUs int64  `json:"timestamp_us"`
}

// ParseRateUpdate decodes an oracle rate publish. A rate that does not parse
// as an unsigned decimal is rejected here, before it can reach the cache.
func ParseRateUpdate(data []byte) (*RateUpdate, error) {
	var j rateUpdateJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse RateUpdate: %w", err)
	}
	if j.Asset == "" {
		return nil, fmt.Errorf("parse RateUpdate: empty asset")
	}
	rate, err := uint256.FromDecimal(j.Rate)
	if err != nil {
		return nil, fmt.Errorf("parse RateUpdate rate %q: %w", j.Rate, err)
	}
	return &RateUpdate{
		Asset:     j.Asset,
		Rate:      rate,
		Timestamp: time.UnixMicro(j.TimestampUs),
	}, nil
}

// ParseHarvestTick decodes a harvest trigger.
func ParseHarvestTick(data []byte) (*HarvestTick, error) {
	var j harvestTickJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse HarvestTick: %w", err)
	}
	if j.TickID == "" {
		return nil, fmt.Errorf("parse HarvestTick: empty tick_id")
	}
	return &HarvestTick{
		TickID:    j.TickID,
		Timestamp: time.UnixMicro(j.TimestampUs),
	}, nil
}
