package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/spf13/afero"

	"fleet-feeder/internal/record"
	"fleet-feeder/internal/store"
)

const path = "/data/vehicles.csv"

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func newEngine(t *testing.T, rows []record.VehicleRecord, opts ...Option) (afero.Fs, *Engine) {
	t.Helper()
	fs := afero.NewMemMapFs()
	_ = fs.MkdirAll("/data", 0o755)
	e := New(store.NewCSV(fs, path), discard(), opts...)
	if err := e.Reset(context.Background(), rows); err != nil {
		t.Fatalf("reset: %v", err)
	}
	return fs, e
}

func readFile(t *testing.T, fs afero.Fs) string {
	t.Helper()
	b, err := afero.ReadFile(fs, path)
	if err != nil {
		t.Fatal(err)
	}
	return string(b)
}

func load(t *testing.T, fs afero.Fs) []record.VehicleRecord {
	t.Helper()
	rows, err := store.NewCSV(fs, path).Load(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	return rows
}

func TestEndToEndScenario(t *testing.T) {
	fs, e := newEngine(t, []record.VehicleRecord{{ID: "1", VIN: "", Coordinates: "", Odometer: "0"}})
	ctx := context.Background()

	res, err := e.Update(ctx, "1", record.FieldVIN, "ABC123")
	if err != nil || res != ResultApplied {
		t.Fatalf("vin: %v %v", res, err)
	}
	want := record.VehicleRecord{ID: "1", VIN: "ABC123", Coordinates: "", Odometer: "0"}
	if got := load(t, fs)[0]; got != want {
		t.Fatalf("after vin: %+v", got)
	}

	before := readFile(t, fs)
	res, err = e.Update(ctx, "1", record.FieldOdometer, "0")
	if err != nil || res != ResultSuppressed {
		t.Fatalf("odometer 0: %v %v", res, err)
	}
	if readFile(t, fs) != before {
		t.Fatalf("odometer 0 changed the store")
	}

	res, err = e.Update(ctx, "1", record.FieldOdometer, "150")
	if err != nil || res != ResultApplied {
		t.Fatalf("odometer 150: %v %v", res, err)
	}
	if got := load(t, fs)[0].Odometer; got != "150" {
		t.Fatalf("odometer: %q", got)
	}

	before = readFile(t, fs)
	res, err = e.Update(ctx, "2", record.FieldVIN, "X")
	if err != nil || res != ResultNotFound {
		t.Fatalf("unknown id: %v %v", res, err)
	}
	if readFile(t, fs) != before {
		t.Fatalf("unknown id changed the store")
	}
}

func fleet(n int) []record.VehicleRecord {
	rows := make([]record.VehicleRecord, n)
	for i := range rows {
		rows[i] = record.VehicleRecord{
			ID:          fmt.Sprintf("b%d", i),
			VIN:         fmt.Sprintf("VIN%05d", i),
			Coordinates: fmt.Sprintf("%d.25,-%d.5", i%90, i%180),
			Odometer:    fmt.Sprintf("%d", 1000+i),
		}
	}
	return rows
}

func TestUpdateChangesOnlyOneCell(t *testing.T) {
	fs, e := newEngine(t, fleet(5))
	before := load(t, fs)

	if _, err := e.Update(context.Background(), "b3", record.FieldCoordinates, "10.5,20.25"); err != nil {
		t.Fatal(err)
	}
	after := load(t, fs)
	if len(after) != len(before) {
		t.Fatalf("row count %d -> %d", len(before), len(after))
	}
	for i := range before {
		for _, name := range record.Header {
			f := record.Field(name)
			changed := before[i].Get(f) != after[i].Get(f)
			if changed != (i == 3 && f == record.FieldCoordinates) {
				t.Fatalf("row %d field %s: %q -> %q", i, f, before[i].Get(f), after[i].Get(f))
			}
		}
	}
	if after[3].Coordinates != "10.5,20.25" {
		t.Fatalf("unexpected coordinates %q", after[3].Coordinates)
	}
}

func TestRowCountAndOrderStable(t *testing.T) {
	fs, e := newEngine(t, fleet(4))
	ctx := context.Background()
	steps := []struct {
		id    string
		field record.Field
		value string
	}{
		{"b0", record.FieldVIN, "NEWVIN"},
		{"zz", record.FieldVIN, "GHOST"},
		{"b2", record.FieldOdometer, "-5"},
		{"b1", record.FieldOdometer, "99999"},
		{"b3", record.FieldCoordinates, "1,1"},
	}
	for _, s := range steps {
		if _, err := e.Update(ctx, s.id, s.field, s.value); err != nil {
			t.Fatalf("%+v: %v", s, err)
		}
		rows := load(t, fs)
		if len(rows) != 4 {
			t.Fatalf("row count %d after %+v", len(rows), s)
		}
		for i, r := range rows {
			if r.ID != fmt.Sprintf("b%d", i) {
				t.Fatalf("order changed: %v", rows)
			}
		}
	}
}

func TestOdometerPolicy(t *testing.T) {
	fs, e := newEngine(t, fleet(1))
	ctx := context.Background()
	for _, v := range []string{"0", "-1", "-0.5", ""} {
		res, err := e.Update(ctx, "b0", record.FieldOdometer, v)
		if err != nil || res != ResultSuppressed {
			t.Fatalf("%q: %v %v", v, res, err)
		}
		if got := load(t, fs)[0].Odometer; got != "1000" {
			t.Fatalf("%q overwrote odometer: %q", v, got)
		}
	}
	for _, v := range []string{"0.1", "1000", "250000.75"} {
		res, err := e.Update(ctx, "b0", record.FieldOdometer, v)
		if err != nil {
			t.Fatal(err)
		}
		if got := load(t, fs)[0].Odometer; got != v {
			t.Fatalf("%q not written (%v): %q", v, res, got)
		}
	}
	if _, err := e.Update(ctx, "b0", record.FieldOdometer, "lots"); !errors.Is(err, ErrInvalidValue) {
		t.Fatalf("expected ErrInvalidValue, got %v", err)
	}
}

func TestUnchangedValueSkipsRewrite(t *testing.T) {
	fs, e := newEngine(t, fleet(2))
	info, _ := fs.Stat(path)
	res, err := e.Update(context.Background(), "b1", record.FieldVIN, "VIN00001")
	if err != nil || res != ResultUnchanged {
		t.Fatalf("got %v %v", res, err)
	}
	info2, _ := fs.Stat(path)
	if !info.ModTime().Equal(info2.ModTime()) {
		t.Fatalf("store rewritten for identical value")
	}
}

func TestInvalidAndImmutableFields(t *testing.T) {
	fs, e := newEngine(t, fleet(2))
	before := readFile(t, fs)
	ctx := context.Background()
	if _, err := e.Update(ctx, "b0", record.Field("Speed"), "10"); !errors.Is(err, record.ErrInvalidField) {
		t.Fatalf("expected ErrInvalidField, got %v", err)
	}
	if _, err := e.Update(ctx, "b0", record.FieldID, "b9"); !errors.Is(err, ErrImmutableField) {
		t.Fatalf("expected ErrImmutableField, got %v", err)
	}
	for _, bad := range []string{"", "43.6", "north,west", "0,0", "91,10", "10,-181"} {
		if _, err := e.Update(ctx, "b0", record.FieldCoordinates, bad); !errors.Is(err, ErrInvalidValue) {
			t.Fatalf("coordinates %q: expected ErrInvalidValue, got %v", bad, err)
		}
	}
	if readFile(t, fs) != before {
		t.Fatalf("store changed by rejected update")
	}
}

func TestConcurrentUpdatesAreSerialized(t *testing.T) {
	const n = 20
	fs, e := newEngine(t, fleet(n))
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("b%d", i)
		wg.Add(3)
		go func() {
			defer wg.Done()
			_, _ = e.Update(ctx, id, record.FieldVIN, "V-"+id)
		}()
		go func() {
			defer wg.Done()
			_, _ = e.Update(ctx, id, record.FieldCoordinates, record.FormatCoordinates(float64(i)+0.5, -float64(i)-0.5))
		}()
		go func() {
			defer wg.Done()
			_, _ = e.Update(ctx, id, record.FieldOdometer, fmt.Sprintf("%d", 5000+i))
		}()
	}
	wg.Wait()

	rows := load(t, fs)
	if len(rows) != n {
		t.Fatalf("rows %d", len(rows))
	}
	for i, r := range rows {
		id := fmt.Sprintf("b%d", i)
		want := record.VehicleRecord{
			ID:          id,
			VIN:         "V-" + id,
			Coordinates: record.FormatCoordinates(float64(i)+0.5, -float64(i)-0.5),
			Odometer:    fmt.Sprintf("%d", 5000+i),
		}
		if r != want {
			t.Fatalf("lost update on %s: %+v", id, r)
		}
	}
}

// overlapStore fails the test if a Load starts while another cycle is in flight.
type overlapStore struct {
	t        *testing.T
	mu       sync.Mutex
	rows     []record.VehicleRecord
	inFlight atomic.Int32
}

func (s *overlapStore) Load(context.Context) ([]record.VehicleRecord, error) {
	if s.inFlight.Add(1) != 1 {
		s.t.Errorf("load started during another update")
	}
	time.Sleep(time.Millisecond)
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]record.VehicleRecord(nil), s.rows...), nil
}

func (s *overlapStore) Save(_ context.Context, rows []record.VehicleRecord) error {
	s.mu.Lock()
	s.rows = append([]record.VehicleRecord(nil), rows...)
	s.mu.Unlock()
	s.inFlight.Add(-1)
	return nil
}

func TestUpdateHoldsLockAcrossCycle(t *testing.T) {
	st := &overlapStore{t: t, rows: fleet(3)}
	e := New(st, discard())
	var wg sync.WaitGroup
	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = e.Update(context.Background(), fmt.Sprintf("b%d", i%3), record.FieldOdometer, fmt.Sprintf("%d", 2000+i))
		}()
	}
	wg.Wait()
}

type failingStore struct{ rows []record.VehicleRecord }

func (s failingStore) Load(context.Context) ([]record.VehicleRecord, error) { return s.rows, nil }
func (failingStore) Save(context.Context, []record.VehicleRecord) error {
	return errors.New("disk full")
}

func TestSaveErrorIsReturned(t *testing.T) {
	e := New(failingStore{rows: fleet(1)}, discard())
	_, err := e.Update(context.Background(), "b0", record.FieldVIN, "X")
	if err == nil || !strings.Contains(err.Error(), "disk full") {
		t.Fatalf("expected save error, got %v", err)
	}
}

type recordingMirror struct {
	mu        sync.Mutex
	published []record.VehicleRecord
	all       int
	fail      bool
}

func (m *recordingMirror) Publish(_ context.Context, rec record.VehicleRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return errors.New("redis down")
	}
	m.published = append(m.published, rec)
	return nil
}

func (m *recordingMirror) PublishAll(_ context.Context, rows []record.VehicleRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.all = len(rows)
	return nil
}

func TestMirrorReceivesCommittedRows(t *testing.T) {
	m := &recordingMirror{}
	_, e := newEngine(t, fleet(3), WithMirror(m))
	if m.all != 3 {
		t.Fatalf("seed not mirrored: %d", m.all)
	}
	ctx := context.Background()
	_, _ = e.Update(ctx, "b1", record.FieldVIN, "MIRRORED")
	_, _ = e.Update(ctx, "nope", record.FieldVIN, "MIRRORED")
	_, _ = e.Update(ctx, "b1", record.FieldOdometer, "0")
	if len(m.published) != 1 || m.published[0].ID != "b1" || m.published[0].VIN != "MIRRORED" {
		t.Fatalf("unexpected mirror calls: %+v", m.published)
	}

	m.fail = true
	res, err := e.Update(ctx, "b2", record.FieldVIN, "STILL")
	if err != nil || res != ResultApplied {
		t.Fatalf("mirror failure must not fail the update: %v %v", res, err)
	}
}
