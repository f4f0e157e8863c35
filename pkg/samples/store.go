package samples

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sloppylopez/stablemock/pkg/util"
)

// Backend selects where sample state is persisted.
type Backend string

const (
	BackendJSON   Backend = "json"
	BackendSQLite Backend = "sqlite"
)

// File names used inside a scope directory.
const (
	JSONFileName   = "request-samples.json"
	SQLiteFileName = "request-samples.db"
)

// Sentinel errors.
var (
	ErrUnknownBackend = errors.New("unknown samples backend")
	ErrCorruptState   = errors.New("corrupt sample state")
)

// IsValid reports whether b names a supported backend.
func (b Backend) IsValid() bool {
	return b == BackendJSON || b == BackendSQLite
}

// Store persists sample state for one scope directory.
type Store interface {
	// Load returns the stored state, or an empty state when nothing was stored yet.
	Load(ctx context.Context) (State, error)
	// Save replaces the stored state.
	Save(ctx context.Context, s State) error
	Close() error
}

// Open returns the store for backend rooted at dir.
func Open(backend Backend, dir string) (Store, error) {
	switch backend {
	case BackendJSON, "":
		return NewFileStore(filepath.Join(dir, JSONFileName)), nil
	case BackendSQLite:
		return OpenSQLite(filepath.Join(dir, SQLiteFileName))
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, backend)
	}
}

const stateVersion = 1

type fileState struct {
	Version   int          `json:"version"`
	Endpoints []*SampleSet `json:"endpoints"`
}

// FileStore keeps state in a single JSON document.
type FileStore struct {
	path string
}

// NewFileStore returns a store backed by the JSON file at path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the backing file path.
func (s *FileStore) Path() string { return s.path }

// Load reads the file. A missing file is an empty state.
func (s *FileStore) Load(_ context.Context) (State, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return State{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", s.path, err)
	}

	var fs fileState
	if err := json.Unmarshal(data, &fs); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrCorruptState, s.path, err)
	}
	out := make(State, len(fs.Endpoints))
	for _, set := range fs.Endpoints {
		if set == nil || set.Key.Method == "" {
			return nil, fmt.Errorf("%w: %s: endpoint without key", ErrCorruptState, s.path)
		}
		if existing, ok := out[set.Key.String()]; ok {
			existing.Entries = append(existing.Entries, set.Entries...)
			continue
		}
		out[set.Key.String()] = set
	}
	return out, nil
}

// Save writes the state atomically, endpoints sorted by key.
func (s *FileStore) Save(_ context.Context, st State) error {
	data, err := json.MarshalIndent(fileState{Version: stateVersion, Endpoints: sortedSets(st)}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode sample state: %w", err)
	}
	return util.WriteFileAtomic(s.path, append(data, '\n'), 0o600)
}

// Close is a no-op.
func (s *FileStore) Close() error { return nil }
