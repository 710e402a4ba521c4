// Package record defines the vehicle row kept in the store and the encoding of its cells.
package record

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Field names one column of the store.
type Field string

const (
	FieldID          Field = "Id"
	FieldVIN         Field = "VIN"
	FieldCoordinates Field = "Coordinates"
	FieldOdometer    Field = "Odometer"
)

// Header is the column order of the store file.
var Header = []string{string(FieldID), string(FieldVIN), string(FieldCoordinates), string(FieldOdometer)}

var ErrInvalidField = errors.New("invalid field")

func (f Field) Valid() bool {
	switch f {
	case FieldID, FieldVIN, FieldCoordinates, FieldOdometer:
		return true
	}
	return false
}

// VehicleRecord is one row of the store. Cells are kept as written so that
// rows nobody touched come back out byte-identical.
type VehicleRecord struct {
	ID          string
	VIN         string
	Coordinates string
	Odometer    string
}

// Get returns the cell for f.
func (r VehicleRecord) Get(f Field) string {
	switch f {
	case FieldID:
		return r.ID
	case FieldVIN:
		return r.VIN
	case FieldCoordinates:
		return r.Coordinates
	case FieldOdometer:
		return r.Odometer
	}
	return ""
}

// Set replaces the cell for f.
func (r *VehicleRecord) Set(f Field, value string) error {
	switch f {
	case FieldID:
		r.ID = value
	case FieldVIN:
		r.VIN = value
	case FieldCoordinates:
		r.Coordinates = value
	case FieldOdometer:
		r.Odometer = value
	default:
		return fmt.Errorf("%w: %q", ErrInvalidField, string(f))
	}
	return nil
}

// Row renders the record in Header order.
func (r VehicleRecord) Row() []string {
	return []string{r.ID, r.VIN, r.Coordinates, r.Odometer}
}

// FromRow is the inverse of Row.
func FromRow(row []string) (VehicleRecord, error) {
	if len(row) != len(Header) {
		return VehicleRecord{}, fmt.Errorf("row has %d cells, want %d", len(row), len(Header))
	}
	return VehicleRecord{ID: row[0], VIN: row[1], Coordinates: row[2], Odometer: row[3]}, nil
}

// ValidCoordinates rejects the null island fix and out of range pairs.
func ValidCoordinates(lat, lon float64) bool {
	if lat == 0 && lon == 0 {
		return false
	}
	if lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		return false
	}
	return true
}

// FormatCoordinates renders latitude first, then longitude.
func FormatCoordinates(lat, lon float64) string {
	return strconv.FormatFloat(lat, 'f', -1, 64) + "," + strconv.FormatFloat(lon, 'f', -1, 64)
}

// ParseCoordinates reads a cell written by FormatCoordinates.
func ParseCoordinates(s string) (lat, lon float64, err error) {
	la, lo, ok := strings.Cut(s, ",")
	if !ok {
		return 0, 0, fmt.Errorf("coordinates %q: missing separator", s)
	}
	if lat, err = strconv.ParseFloat(strings.TrimSpace(la), 64); err != nil {
		return 0, 0, fmt.Errorf("coordinates %q: %w", s, err)
	}
	if lon, err = strconv.ParseFloat(strings.TrimSpace(lo), 64); err != nil {
		return 0, 0, fmt.Errorf("coordinates %q: %w", s, err)
	}
	return lat, lon, nil
}

// FormatOdometer renders a reading in its shortest decimal form.
func FormatOdometer(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// ParseOdometer reads an odometer cell. An empty cell reads as zero.
func ParseOdometer(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("odometer %q: %w", s, err)
	}
	return v, nil
}
