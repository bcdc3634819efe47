package ingestion

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/rs/zerolog"

	"StableLend/internal/core"
	"StableLend/internal/event"
	"StableLend/internal/observability"
)

// RateSink receives validated oracle rates (venue.NATSOracle in production).
type RateSink interface {
	Update(asset string, rate *uint256.Int) error
}

// Harvester triggers a reward-accumulator refresh (the core engine in
// production). The tick ID becomes the event's dedup key.
type Harvester interface {
	HarvestTick(ctx context.Context, tickID string) (uuid.UUID, error)
}

// DurableDedup answers whether a key already landed in the event log
// (persistence.PostgresIdempotencyChecker in production). It backs the
// in-memory cache for redeliveries that arrive after an eviction or a
// restart.
type DurableDedup interface {
	IsDuplicate(eventType, idempotencyKey string) (bool, error)
}

// Dispatcher routes bus messages to the rate cache and the engine. Parse or
// validation failures ACK the message anyway: redelivering a malformed or
// rejected payload can never succeed.
type Dispatcher struct {
	inputChan <-chan RawMessage
	rates     RateSink
	harvester Harvester
	dedup     *core.IdempotencyCache
	durable   DurableDedup
	metrics   *observability.Metrics
	log       zerolog.Logger
}

func NewDispatcher(
	inputChan <-chan RawMessage,
	rates RateSink,
	harvester Harvester,
	dedup *core.IdempotencyCache,
	durable DurableDedup,
	metrics *observability.Metrics,
	log zerolog.Logger,
) *Dispatcher {
	return &Dispatcher{
		inputChan: inputChan,
		rates:     rates,
		harvester: harvester,
		dedup:     dedup,
		durable:   durable,
		metrics:   metrics,
		log:       log,
	}
}

// Run drains the message channel until ctx is cancelled or the channel
// closes.
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case msg, ok := <-d.inputChan:
			if !ok {
				return nil
			}
			d.handle(ctx, msg)
		}
	}
}

func (d *Dispatcher) handle(ctx context.Context, msg RawMessage) {
	if d.metrics != nil {
		d.metrics.BusMessages.WithLabelValues(msg.Subject).Inc()
	}

	switch msg.Kind {
	case KindRateUpdate:
		d.handleRate(msg)
	case KindHarvestTick:
		d.handleHarvest(ctx, msg)
	default:
		d.log.Warn().Str("subject", msg.Subject).Str("kind", msg.Kind).Msg("unknown message kind")
		msg.AckFunc()
	}
}

func (d *Dispatcher) handleRate(msg RawMessage) {
	update, err := ParseRateUpdate(msg.Data)
	if err != nil {
		d.log.Warn().Str("subject", msg.Subject).Err(err).Msg("dropping malformed rate update")
		msg.AckFunc()
		return
	}

	if err := d.rates.Update(update.Asset, update.Rate); err != nil {
		d.log.Warn().Str("asset", update.Asset).Err(err).Msg("rate update rejected")
		msg.AckFunc()
		return
	}

	if d.metrics != nil {
		d.metrics.RateUpdates.Inc()
	}
	d.log.Debug().Str("asset", update.Asset).Str("rate", update.Rate.Dec()).Msg("rate updated")
	msg.AckFunc()
}

func (d *Dispatcher) handleHarvest(ctx context.Context, msg RawMessage) {
	tick, err := ParseHarvestTick(msg.Data)
	if err != nil {
		d.log.Warn().Str("subject", msg.Subject).Err(err).Msg("dropping malformed harvest tick")
		msg.AckFunc()
		return
	}

	if d.dedup != nil && d.dedup.Seen(tick.TickID) {
		if d.metrics != nil {
			d.metrics.BusDuplicatesDropped.WithLabelValues(msg.Subject).Inc()
		}
		msg.AckFunc()
		return
	}
	if d.durable != nil {
		dup, err := d.durable.IsDuplicate(event.EventTypeHarvest.String(), tick.TickID)
		if err != nil {
			// Best effort: a dedup lookup failure must not stall harvests.
			d.log.Warn().Str("tick_id", tick.TickID).Err(err).Msg("durable dedup lookup failed")
		} else if dup {
			if d.metrics != nil {
				d.metrics.BusDuplicatesDropped.WithLabelValues(msg.Subject).Inc()
			}
			msg.AckFunc()
			return
		}
	}

	opID, err := d.harvester.HarvestTick(ctx, tick.TickID)
	if err != nil {
		// A busy engine is transient; everything else won't improve on
		// redelivery.
		if errors.Is(err, core.ErrReentrantCall) {
			msg.NakFunc()
			return
		}
		d.log.Error().Str("tick_id", tick.TickID).Err(err).Msg("harvest tick failed")
		msg.AckFunc()
		return
	}

	d.log.Info().Str("tick_id", tick.TickID).Str("op_id", opID.String()).Msg("harvest tick applied")
	msg.AckFunc()
}
