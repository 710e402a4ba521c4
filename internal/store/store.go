// Package store persists vehicle records.
package store

import (
	"context"

	"fleet-feeder/internal/record"
)

// Store loads and saves the full ordered row set.
type Store interface {
	// Load returns every row in file order.
	Load(ctx context.Context) ([]record.VehicleRecord, error)

	// Save replaces the stored rows. Either all rows are written or the
	// previous generation stays in place.
	Save(ctx context.Context, rows []record.VehicleRecord) error
}
