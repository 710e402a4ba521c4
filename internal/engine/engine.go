// Package engine applies single-field updates to the record store.
//
// Every update is a full read, modify and atomic replace of the store. The
// whole cycle runs under one mutex so that two updates arriving from
// different feeds can never lose each other's write.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"fleet-feeder/internal/observability"
	"fleet-feeder/internal/record"
	"fleet-feeder/internal/store"
)

var (
	ErrImmutableField = errors.New("field is immutable")
	ErrInvalidValue   = errors.New("invalid field value")
)

// Result tells the caller what an Update did.
type Result int

const (
	ResultApplied Result = iota
	ResultUnchanged
	ResultNotFound
	ResultSuppressed
)

func (r Result) String() string {
	switch r {
	case ResultApplied:
		return "applied"
	case ResultUnchanged:
		return "unchanged"
	case ResultNotFound:
		return "not_found"
	case ResultSuppressed:
		return "suppressed"
	}
	return "unknown"
}

// Mirror receives rows after they have been committed to the store.
type Mirror interface {
	Publish(ctx context.Context, rec record.VehicleRecord) error
	PublishAll(ctx context.Context, rows []record.VehicleRecord) error
}

type Engine struct {
	store  store.Store
	mirror Mirror
	log    *slog.Logger

	mu sync.Mutex
}

type Option func(*Engine)

// WithMirror publishes every committed row to m.
func WithMirror(m Mirror) Option {
	return func(e *Engine) { e.mirror = m }
}

func New(st store.Store, logger *slog.Logger, opts ...Option) *Engine {
	e := &Engine{store: st, log: logger.With("component", "engine")}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Reset replaces the whole store with rows. It is how the seed snapshot is written.
func (e *Engine) Reset(ctx context.Context, rows []record.VehicleRecord) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	start := time.Now()
	if err := e.store.Save(ctx, rows); err != nil {
		return fmt.Errorf("seed store: %w", err)
	}
	observability.ObserveRewriteLatency(start)
	e.log.Info("store seeded", "vehicles", len(rows))

	if e.mirror != nil {
		if err := e.mirror.PublishAll(ctx, rows); err != nil {
			observability.MirrorErrors.Inc()
			e.log.Warn("mirror publish failed", "error", err)
		}
	}
	return nil
}

// Update sets field of the row keyed by id to value.
//
// An id that is not in the store is dropped, never appended. Odometer values
// that are not strictly positive are suppressed without touching the store.
// Coordinates must be a valid "lat,lon" fix.
func (e *Engine) Update(ctx context.Context, id string, field record.Field, value string) (Result, error) {
	res, err := e.update(ctx, id, field, value)
	if err != nil {
		observability.StoreUpdates.WithLabelValues(string(field), "error").Inc()
		return res, err
	}
	observability.StoreUpdates.WithLabelValues(string(field), res.String()).Inc()
	return res, nil
}

func (e *Engine) update(ctx context.Context, id string, field record.Field, value string) (Result, error) {
	if !field.Valid() {
		return 0, fmt.Errorf("%w: %q", record.ErrInvalidField, string(field))
	}
	if field == record.FieldID {
		return 0, fmt.Errorf("%w: %s", ErrImmutableField, field)
	}
	if field == record.FieldOdometer {
		v, err := record.ParseOdometer(value)
		if err != nil {
			return 0, fmt.Errorf("%w: %v", ErrInvalidValue, err)
		}
		if v <= 0 {
			return ResultSuppressed, nil
		}
	}
	if field == record.FieldCoordinates {
		lat, lon, err := record.ParseCoordinates(value)
		if err != nil {
			return 0, fmt.Errorf("%w: %v", ErrInvalidValue, err)
		}
		if !record.ValidCoordinates(lat, lon) {
			return 0, fmt.Errorf("%w: coordinates %q out of range", ErrInvalidValue, value)
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	rows, err := e.store.Load(ctx)
	if err != nil {
		return 0, fmt.Errorf("load store: %w", err)
	}
	idx := -1
	for i := range rows {
		if rows[i].ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		e.log.Debug("update for unknown vehicle dropped", "vehicle_id", id, "field", string(field))
		return ResultNotFound, nil
	}
	if rows[idx].Get(field) == value {
		return ResultUnchanged, nil
	}
	if err := rows[idx].Set(field, value); err != nil {
		return 0, err
	}

	start := time.Now()
	if err := e.store.Save(ctx, rows); err != nil {
		return 0, fmt.Errorf("save store: %w", err)
	}
	observability.ObserveRewriteLatency(start)

	if e.mirror != nil {
		if err := e.mirror.Publish(ctx, rows[idx]); err != nil {
			observability.MirrorErrors.Inc()
			e.log.Warn("mirror publish failed", "vehicle_id", id, "error", err)
		}
	}
	return ResultApplied, nil
}
