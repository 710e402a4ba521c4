package feed

import (
	"log/slog"
	"time"

	"fleet-feeder/internal/dispatcher"
	"fleet-feeder/internal/geotab"
)

type API interface {
	FeedAPI
	GetAPI
}

// Subscriptions wires the three vehicle feeds to their dispatchers. The
// odometer feed starts at since so history before the seed snapshot is not replayed.
func Subscriptions(api API, u dispatcher.Updater, logger *slog.Logger, since time.Time) []Subscription {
	odometerSearch := &geotab.Search{
		DiagnosticSearch: &geotab.Ref{ID: geotab.DiagnosticOdometerAdjustmentID},
		FromDate:         geotab.FormatSearchDate(since),
	}
	return []Subscription{
		{
			Source:  NewVersionedSource(api, geotab.TypeDevice, nil),
			Handler: dispatcher.NewIdentity(u, logger),
		},
		{
			Source:  NewSnapshotSource(api, geotab.TypeDeviceStatusInfo, nil),
			Handler: dispatcher.NewPosition(u, logger),
		},
		{
			Source:  NewVersionedSource(api, geotab.TypeStatusData, odometerSearch),
			Handler: dispatcher.NewOdometer(u, logger),
		},
	}
}
