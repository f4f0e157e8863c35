package journal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/sloppylopez/stablemock/pkg/recording"
	"github.com/sloppylopez/stablemock/pkg/util"
)

// ExportVersion is the format version of exchange export files.
const ExportVersion = 1

type exportFile struct {
	Version   int                   `json:"version"`
	Exchanges []*recording.Exchange `json:"exchanges"`
}

// ExportFile is a chronological exchange log stored as JSON.
type ExportFile struct {
	path string
}

// NewExportFile returns a log backed by the export file at path.
func NewExportFile(path string) *ExportFile {
	return &ExportFile{path: path}
}

// Exchanges reads the file, oldest first.
func (f *ExportFile) Exchanges(_ context.Context) (recording.Snapshot, error) {
	exchanges, err := f.read()
	if err != nil {
		return recording.Snapshot{}, err
	}
	return recording.Snapshot{Exchanges: exchanges, Order: recording.OrderChronological}, nil
}

// Count returns the number of exchanges in the file.
func (f *ExportFile) Count(_ context.Context) (int, error) {
	exchanges, err := f.read()
	if err != nil {
		return 0, err
	}
	return len(exchanges), nil
}

func (f *ExportFile) read() ([]*recording.Exchange, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", recording.ErrNotFound, f.path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read export %s: %w", f.path, err)
	}

	// A bare array is accepted as well as the versioned envelope.
	var exchanges []*recording.Exchange
	if err := json.Unmarshal(data, &exchanges); err != nil {
		var env exportFile
		if err2 := json.Unmarshal(data, &env); err2 != nil {
			return nil, fmt.Errorf("failed to decode export %s: %w", f.path, err2)
		}
		if env.Version > ExportVersion {
			return nil, fmt.Errorf("export %s: unsupported version %d", f.path, env.Version)
		}
		exchanges = env.Exchanges
	}

	out := make([]*recording.Exchange, 0, len(exchanges))
	for i, ex := range exchanges {
		if ex == nil {
			continue
		}
		if ex.ID == "" {
			ex.ID = stableID(f.path, i)
		}
		out = append(out, ex)
	}
	return out, nil
}

// WriteExport stores a log's exchanges, oldest first, as an export file.
func WriteExport(ctx context.Context, path string, log recording.Log) (int, error) {
	snap, err := log.Exchanges(ctx)
	if err != nil {
		return 0, err
	}
	exchanges, _ := recording.Chronological(snap)
	data, err := json.MarshalIndent(exportFile{Version: ExportVersion, Exchanges: exchanges}, "", "  ")
	if err != nil {
		return 0, fmt.Errorf("failed to encode export: %w", err)
	}
	if err := util.WriteFileAtomic(path, append(data, '\n'), 0o644); err != nil {
		return 0, fmt.Errorf("failed to write export %s: %w", path, err)
	}
	return len(exchanges), nil
}
