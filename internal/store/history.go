package store

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/afero"

	"fleet-feeder/internal/record"
)

// DateLayout is how history rows are stamped.
const DateLayout = "02/01/2006 15:04:05"

// HistoryHeader is Header with a leading Date column.
var HistoryHeader = append([]string{"Date"}, record.Header...)

// History is an append-only CSV log: one stamped row per vehicle per poll.
type History struct {
	fs   afero.Fs
	path string
}

// NextFreePath returns dir/<prefix>_<n>.csv for the smallest n that does not
// exist yet, so a new run never clobbers an earlier one.
func NextFreePath(fs afero.Fs, dir, prefix string) (string, error) {
	for i := 0; ; i++ {
		p := filepath.Join(dir, fmt.Sprintf("%s_%d.csv", prefix, i))
		ok, err := afero.Exists(fs, p)
		if err != nil {
			return "", fmt.Errorf("stat %s: %w", p, err)
		}
		if !ok {
			return p, nil
		}
	}
}

// CreateHistory makes the output directory, then creates path holding only
// the header. An existing file is never overwritten; the error then matches
// os.ErrExist.
func CreateHistory(fs afero.Fs, path string) (h *History, err error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := fs.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create history dir: %w", err)
		}
	}
	f, err := fs.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("create history: %w", err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			h, err = nil, fmt.Errorf("close history: %w", cerr)
		}
	}()
	w := csv.NewWriter(f)
	if err := w.Write(HistoryHeader); err != nil {
		return nil, fmt.Errorf("write history header: %w", err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("write history header: %w", err)
	}
	return &History{fs: fs, path: path}, nil
}

// CreateNextHistory creates the next free <prefix>_<n>.csv in dir, moving on
// to a later n if another process takes the name first.
func CreateNextHistory(fs afero.Fs, dir, prefix string) (*History, error) {
	for {
		path, err := NextFreePath(fs, dir, prefix)
		if err != nil {
			return nil, err
		}
		h, err := CreateHistory(fs, path)
		if errors.Is(err, os.ErrExist) {
			continue
		}
		return h, err
	}
}

func (h *History) Path() string { return h.path }

// Append writes one row per record stamped with at. The rows are encoded
// up front and written with a single call.
func (h *History) Append(ctx context.Context, at time.Time, rows []record.VehicleRecord) error {
	if len(rows) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	stamp := at.Format(DateLayout)
	for _, rec := range rows {
		if err := w.Write(append([]string{stamp}, rec.Row()...)); err != nil {
			return fmt.Errorf("encode history row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("encode history rows: %w", err)
	}

	f, err := h.fs.OpenFile(h.path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open history: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("append history: %w", err)
	}
	return nil
}
