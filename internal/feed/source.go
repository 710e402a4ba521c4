// Package feed runs the live subscriptions: each one repeatedly pulls a
// batch from its source and hands it to a dispatcher.
package feed

import (
	"context"
	"encoding/json"
	"sync"

	"fleet-feeder/internal/geotab"
)

// Source yields the next batch of records of one type.
type Source interface {
	Next(ctx context.Context) (json.RawMessage, error)
}

// FeedAPI is the vendor call behind VersionedSource.
type FeedAPI interface {
	GetFeed(ctx context.Context, typeName string, search *geotab.Search, fromVersion string, resultsLimit int) (geotab.FeedResult, error)
}

// GetAPI is the vendor call behind SnapshotSource.
type GetAPI interface {
	Get(ctx context.Context, typeName string, search *geotab.Search, out any) error
}

// DefaultResultsLimit caps the records per GetFeed page.
const DefaultResultsLimit = 5000

// VersionedSource pages through GetFeed, carrying toVersion from one call
// into the next so every record is delivered once.
type VersionedSource struct {
	api      FeedAPI
	typeName string
	search   *geotab.Search
	limit    int

	mu      sync.Mutex
	version string
}

func NewVersionedSource(api FeedAPI, typeName string, search *geotab.Search) *VersionedSource {
	return &VersionedSource{api: api, typeName: typeName, search: search, limit: DefaultResultsLimit}
}

func (s *VersionedSource) Next(ctx context.Context) (json.RawMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.api.GetFeed(ctx, s.typeName, s.search, s.version, s.limit)
	if err != nil {
		return nil, err
	}
	if res.ToVersion != "" {
		s.version = res.ToVersion
	}
	return res.Data, nil
}

// Version is the last toVersion seen.
func (s *VersionedSource) Version() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.version
}

// SnapshotSource re-reads the current state of a snapshot type such as
// DeviceStatusInfo on every call.
type SnapshotSource struct {
	api      GetAPI
	typeName string
	search   *geotab.Search
}

func NewSnapshotSource(api GetAPI, typeName string, search *geotab.Search) *SnapshotSource {
	return &SnapshotSource{api: api, typeName: typeName, search: search}
}

func (s *SnapshotSource) Next(ctx context.Context) (json.RawMessage, error) {
	var raw json.RawMessage
	if err := s.api.Get(ctx, s.typeName, s.search, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}
