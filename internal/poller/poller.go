// Package poller implements the polling variant: on every cycle it takes a
// full snapshot and appends it, stamped, to a history file.
package poller

import (
	"context"
	"log/slog"
	"time"

	"fleet-feeder/internal/observability"
	"fleet-feeder/internal/record"
)

// Fetcher returns the current row of every vehicle.
type Fetcher interface {
	Fetch(ctx context.Context) ([]record.VehicleRecord, error)
}

// Appender records the rows of one cycle.
type Appender interface {
	Append(ctx context.Context, at time.Time, rows []record.VehicleRecord) error
}

type Poller struct {
	fetcher  Fetcher
	history  Appender
	interval time.Duration
	log      *slog.Logger
	now      func() time.Time
}

func New(f Fetcher, h Appender, interval time.Duration, logger *slog.Logger) *Poller {
	return &Poller{fetcher: f, history: h, interval: interval, log: logger.With("component", "poller"), now: time.Now}
}

// Cycle fetches one snapshot and appends it.
func (p *Poller) Cycle(ctx context.Context) error {
	rows, err := p.fetcher.Fetch(ctx)
	if err != nil {
		return err
	}
	if err := p.history.Append(ctx, p.now(), rows); err != nil {
		return err
	}
	observability.PollCycles.Inc()
	p.log.Info("poll cycle stored", "vehicles", len(rows))
	return nil
}

// Run polls immediately and then every interval until ctx is done. A failed
// cycle is logged and retried on the next tick.
func (p *Poller) Run(ctx context.Context) {
	t := time.NewTimer(0)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := p.Cycle(ctx); err != nil && ctx.Err() == nil {
				observability.PollErrors.Inc()
				p.log.Error("poll cycle failed", "error", err)
			}
			t.Reset(p.interval)
		}
	}
}
