// Package snapshot fetches the full vehicle roster with the latest position
// and odometer of every vehicle, and seeds the record store from it.
package snapshot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"fleet-feeder/internal/geotab"
	"fleet-feeder/internal/observability"
	"fleet-feeder/internal/record"
)

// API is the part of the vendor client a snapshot needs.
type API interface {
	Get(ctx context.Context, typeName string, search *geotab.Search, out any) error
}

// Seeder writes a full row set. *engine.Engine implements it.
type Seeder interface {
	Reset(ctx context.Context, rows []record.VehicleRecord) error
}

// PlaceholderOdometer is written when a vehicle's odometer lookup fails or
// returns nothing.
const PlaceholderOdometer = "0"

type Fetcher struct {
	api API
	log *slog.Logger
	now func() time.Time
}

func NewFetcher(api API, logger *slog.Logger) *Fetcher {
	return &Fetcher{api: api, log: logger.With("component", "snapshot"), now: time.Now}
}

// Fetch returns one complete row per device id, in order of first appearance
// in the roster.
//
// A failed position or odometer lookup is logged and the row is kept with
// placeholder cells so later feed updates can still find the vehicle. A
// failed roster fetch, an authentication failure or a cancelled context
// abort the whole snapshot.
func (f *Fetcher) Fetch(ctx context.Context) ([]record.VehicleRecord, error) {
	var devices []geotab.Device
	if err := f.api.Get(ctx, geotab.TypeDevice, nil, &devices); err != nil {
		return nil, fmt.Errorf("fetch device roster: %w", err)
	}

	rows := make([]record.VehicleRecord, 0, len(devices))
	seen := make(map[string]struct{}, len(devices))
	for _, d := range devices {
		if d.ID == "" {
			continue
		}
		if _, dup := seen[d.ID]; dup {
			f.log.Debug("duplicate device in roster skipped", "vehicle_id", d.ID)
			continue
		}
		seen[d.ID] = struct{}{}
		rec := record.VehicleRecord{ID: d.ID, VIN: d.VehicleIdentificationNumber, Odometer: PlaceholderOdometer}

		coords, err := f.position(ctx, d.ID)
		if err != nil {
			if fatal(ctx, err) {
				return nil, err
			}
			observability.SeedLookupErrors.WithLabelValues(geotab.TypeDeviceStatusInfo).Inc()
			f.log.Warn("position lookup failed", "vehicle_id", d.ID, "error", err)
		}
		rec.Coordinates = coords

		odo, err := f.odometer(ctx, d.ID)
		if err != nil {
			if fatal(ctx, err) {
				return nil, err
			}
			observability.SeedLookupErrors.WithLabelValues(geotab.TypeStatusData).Inc()
			f.log.Warn("odometer lookup failed", "vehicle_id", d.ID, "error", err)
		} else if odo != "" {
			rec.Odometer = odo
		}

		rows = append(rows, rec)
	}
	observability.SeedVehicles.Set(float64(len(rows)))
	f.log.Info("snapshot fetched", "devices", len(devices), "vehicles", len(rows))
	return rows, nil
}

func fatal(ctx context.Context, err error) bool {
	return ctx.Err() != nil || errors.Is(err, geotab.ErrAuthentication)
}

func (f *Fetcher) position(ctx context.Context, id string) (string, error) {
	var infos []geotab.DeviceStatusInfo
	search := &geotab.Search{DeviceSearch: &geotab.Ref{ID: id}}
	if err := f.api.Get(ctx, geotab.TypeDeviceStatusInfo, search, &infos); err != nil {
		return "", err
	}
	if len(infos) == 0 {
		return "", nil
	}
	p := infos[0]
	if !record.ValidCoordinates(p.Latitude, p.Longitude) {
		return "", nil
	}
	return record.FormatCoordinates(p.Latitude, p.Longitude), nil
}

// odometer asks for the adjustment diagnostic with fromDate == toDate == now,
// which yields the latest value recorded before now.
func (f *Fetcher) odometer(ctx context.Context, id string) (string, error) {
	now := geotab.FormatSearchDate(f.now())
	search := &geotab.Search{
		DeviceSearch:     &geotab.Ref{ID: id},
		DiagnosticSearch: &geotab.Ref{ID: geotab.DiagnosticOdometerAdjustmentID},
		FromDate:         now,
		ToDate:           now,
	}
	var data []geotab.StatusData
	if err := f.api.Get(ctx, geotab.TypeStatusData, search, &data); err != nil {
		return "", err
	}
	if len(data) == 0 || data[0].Data <= 0 {
		return "", nil
	}
	return record.FormatOdometer(data[0].Data), nil
}

// Seed fetches a snapshot and hands it to s.
func Seed(ctx context.Context, f *Fetcher, s Seeder) ([]record.VehicleRecord, error) {
	rows, err := f.Fetch(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.Reset(ctx, rows); err != nil {
		return nil, err
	}
	return rows, nil
}
