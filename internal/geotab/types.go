package geotab

import (
	"encoding/json"
	"time"
)

// Entity type names used with Get and GetFeed.
const (
	TypeDevice           = "Device"
	TypeDeviceStatusInfo = "DeviceStatusInfo"
	TypeStatusData       = "StatusData"
)

// DiagnosticOdometerAdjustmentID is the diagnostic carrying odometer readings.
const DiagnosticOdometerAdjustmentID = "DiagnosticOdometerAdjustmentId"

// SearchDateLayout is how fromDate/toDate are sent.
const SearchDateLayout = "2006-01-02T15:04:05Z"

// Credentials are returned by Authenticate and sent with every later call.
type Credentials struct {
	Database  string `json:"database"`
	UserName  string `json:"userName"`
	SessionID string `json:"sessionId,omitempty"`
	Password  string `json:"password,omitempty"`
}

// Ref points at another entity by id.
type Ref struct {
	ID string `json:"id"`
}

// Search covers the fields of the search objects this program sends.
type Search struct {
	DeviceSearch     *Ref   `json:"deviceSearch,omitempty"`
	DiagnosticSearch *Ref   `json:"diagnosticSearch,omitempty"`
	FromDate         string `json:"fromDate,omitempty"`
	ToDate           string `json:"toDate,omitempty"`
}

// FormatSearchDate renders t for fromDate/toDate.
func FormatSearchDate(t time.Time) string { return t.UTC().Format(SearchDateLayout) }

type Device struct {
	ID                          string `json:"id"`
	Name                        string `json:"name,omitempty"`
	SerialNumber                string `json:"serialNumber,omitempty"`
	VehicleIdentificationNumber string `json:"vehicleIdentificationNumber,omitempty"`
}

type DeviceStatusInfo struct {
	Device    Ref       `json:"device"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Speed     float64   `json:"speed,omitempty"`
	DateTime  time.Time `json:"dateTime,omitzero"`
}

type StatusData struct {
	ID         string    `json:"id,omitempty"`
	Device     Ref       `json:"device"`
	Diagnostic Ref       `json:"diagnostic"`
	Data       float64   `json:"data"`
	DateTime   time.Time `json:"dateTime,omitzero"`
}

// FeedResult is one GetFeed page. Data is left raw so each consumer decodes its own type.
type FeedResult struct {
	Data      json.RawMessage `json:"data"`
	ToVersion string          `json:"toVersion"`
}
