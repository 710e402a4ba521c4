package store

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"slices"

	"github.com/spf13/afero"

	"fleet-feeder/internal/record"
)

var ErrBadHeader = errors.New("unexpected store header")

// CSV keeps the rows in a single comma separated file. Saves go to a temp
// file in the same directory which is then renamed over the target, so the
// target is never truncated in place.
type CSV struct {
	fs   afero.Fs
	path string
}

func NewCSV(fs afero.Fs, path string) *CSV {
	return &CSV{fs: fs, path: path}
}

func (s *CSV) Path() string { return s.path }

func (s *CSV) Load(ctx context.Context) ([]record.VehicleRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := s.fs.Open(s.path)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = len(record.Header)
	header, err := r.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("%w: empty file %s", ErrBadHeader, s.path)
	}
	if err != nil {
		return nil, fmt.Errorf("read store header: %w", err)
	}
	if !slices.Equal(header, record.Header) {
		return nil, fmt.Errorf("%w: %v", ErrBadHeader, header)
	}

	var rows []record.VehicleRecord
	for {
		cells, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read store: %w", err)
		}
		rec, err := record.FromRow(cells)
		if err != nil {
			return nil, err
		}
		rows = append(rows, rec)
	}
	return rows, nil
}

func (s *CSV) Save(ctx context.Context, rows []record.VehicleRecord) error {
	dir, base := filepath.Split(s.path)
	if dir == "" {
		dir = "."
	}
	tmp, err := afero.TempFile(s.fs, dir, "."+base+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp store: %w", err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = tmp.Close()
			_ = s.fs.Remove(tmpName)
		}
	}()

	w := csv.NewWriter(tmp)
	if err := w.Write(record.Header); err != nil {
		return fmt.Errorf("write temp store: %w", err)
	}
	for _, rec := range rows {
		if err := w.Write(rec.Row()); err != nil {
			return fmt.Errorf("write temp store: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("flush temp store: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("sync temp store: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp store: %w", err)
	}
	if err := s.fs.Chmod(tmpName, 0o644); err != nil {
		return fmt.Errorf("chmod temp store: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.fs.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("replace store: %w", err)
	}
	committed = true
	return nil
}
