// Package dispatcher turns feed batches into field updates.
package dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"fleet-feeder/internal/engine"
	"fleet-feeder/internal/geotab"
	"fleet-feeder/internal/observability"
	"fleet-feeder/internal/record"
)

// Action tells the feed what to do after an error.
type Action int

const (
	Continue Action = iota
	Stop
)

// Handler consumes the batches of one subscription.
type Handler interface {
	Name() string
	// OnData applies one batch. Records that fail are skipped; their errors
	// are joined and returned once the whole batch has been attempted.
	OnData(ctx context.Context, batch json.RawMessage) error
	OnError(err error) Action
}

// Updater is the write side of the record store.
type Updater interface {
	Update(ctx context.Context, id string, field record.Field, value string) (engine.Result, error)
}

type base struct {
	name    string
	updater Updater
	log     *slog.Logger
}

func newBase(name string, u Updater, logger *slog.Logger) base {
	return base{name: name, updater: u, log: logger.With("component", "dispatcher", "feed", name)}
}

func (b base) Name() string { return b.name }

// OnError reports err and keeps the feed running.
func (b base) OnError(err error) Action {
	observability.FeedErrors.WithLabelValues(b.name).Inc()
	b.log.Error("feed error", "error", err, "retryable", geotab.IsRetryable(err))
	return Continue
}

func (b base) received(n int) {
	if n == 0 {
		return
	}
	observability.FeedBatches.WithLabelValues(b.name).Inc()
	observability.FeedRecords.WithLabelValues(b.name).Add(float64(n))
	b.log.Debug("batch received", "records", n)
}

func (b base) apply(ctx context.Context, id string, field record.Field, value string) error {
	res, err := b.updater.Update(ctx, id, field, value)
	if err != nil {
		return fmt.Errorf("update %s of %s: %w", field, id, err)
	}
	if res == engine.ResultNotFound {
		b.log.Debug("vehicle not in store", "vehicle_id", id)
	}
	return nil
}

func decode[T any](name string, batch json.RawMessage) ([]T, error) {
	var out []T
	if len(batch) == 0 {
		return nil, nil
	}
	if err := json.Unmarshal(batch, &out); err != nil {
		return nil, fmt.Errorf("decode %s batch: %w", name, err)
	}
	return out, nil
}

// Identity refreshes VINs from Device records.
type Identity struct{ base }

func NewIdentity(u Updater, logger *slog.Logger) *Identity {
	return &Identity{newBase(geotab.TypeDevice, u, logger)}
}

func (d *Identity) OnData(ctx context.Context, batch json.RawMessage) error {
	devices, err := decode[geotab.Device](d.name, batch)
	if err != nil {
		return err
	}
	d.received(len(devices))
	var errs []error
	for _, dev := range devices {
		if dev.ID == "" || dev.VehicleIdentificationNumber == "" {
			continue
		}
		if err := d.apply(ctx, dev.ID, record.FieldVIN, dev.VehicleIdentificationNumber); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Position refreshes coordinates from DeviceStatusInfo records.
type Position struct{ base }

func NewPosition(u Updater, logger *slog.Logger) *Position {
	return &Position{newBase(geotab.TypeDeviceStatusInfo, u, logger)}
}

func (d *Position) OnData(ctx context.Context, batch json.RawMessage) error {
	infos, err := decode[geotab.DeviceStatusInfo](d.name, batch)
	if err != nil {
		return err
	}
	d.received(len(infos))
	var errs []error
	for _, info := range infos {
		if info.Device.ID == "" || !record.ValidCoordinates(info.Latitude, info.Longitude) {
			continue
		}
		value := record.FormatCoordinates(info.Latitude, info.Longitude)
		if err := d.apply(ctx, info.Device.ID, record.FieldCoordinates, value); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Odometer refreshes odometer readings from StatusData records. Readings
// that are not strictly positive mean "not known yet" and are skipped.
type Odometer struct {
	base
	diagnostic string
}

func NewOdometer(u Updater, logger *slog.Logger) *Odometer {
	return &Odometer{base: newBase(geotab.TypeStatusData, u, logger), diagnostic: geotab.DiagnosticOdometerAdjustmentID}
}

func (d *Odometer) OnData(ctx context.Context, batch json.RawMessage) error {
	data, err := decode[geotab.StatusData](d.name, batch)
	if err != nil {
		return err
	}
	d.received(len(data))
	var errs []error
	for _, sd := range data {
		if sd.Device.ID == "" || sd.Data <= 0 {
			continue
		}
		if sd.Diagnostic.ID != "" && sd.Diagnostic.ID != d.diagnostic {
			continue
		}
		if err := d.apply(ctx, sd.Device.ID, record.FieldOdometer, record.FormatOdometer(sd.Data)); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
