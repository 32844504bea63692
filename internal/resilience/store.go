package resilience

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/gofrs/flock"
)

const (
	// StateFileName is the state file inside the store directory.
	StateFileName = "cooldown.json"

	// DefaultDirName is the subdirectory of the cache dir holding the state.
	DefaultDirName = "resilience"

	// LockTimeout bounds how long a process waits for the state lock.
	// Past it the operation proceeds unlocked so the CLI never hangs.
	LockTimeout = 100 * time.Millisecond
)

// Store reads and writes State under an exclusive file lock.
type Store struct {
	dir string
}

// NewStore creates a store rooted at dir, or at the default cache location
// when dir is empty.
func NewStore(dir string) *Store {
	if dir == "" {
		dir = DefaultDir()
	}
	return &Store{dir: dir}
}

// DefaultDir returns $XDG_CACHE_HOME/taxdesk/resilience or the platform
// equivalent.
func DefaultDir() string {
	if d := os.Getenv("XDG_CACHE_HOME"); d != "" {
		return filepath.Join(d, "taxdesk", DefaultDirName)
	}
	if d, err := os.UserCacheDir(); err == nil && d != "" {
		return filepath.Join(d, "taxdesk", DefaultDirName)
	}
	return filepath.Join(os.TempDir(), "taxdesk", DefaultDirName)
}

// Dir returns the state directory.
func (s *Store) Dir() string { return s.dir }

// Path returns the state file path.
func (s *Store) Path() string { return filepath.Join(s.dir, StateFileName) }

// lock returns a release func. A nil lock with a nil error means the lock
// was busy past LockTimeout and the caller proceeds unlocked.
func (s *Store) lock() (func(), error) {
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return nil, err
	}
	fl := flock.New(filepath.Join(s.dir, ".lock"))

	ctx, cancel := context.WithTimeout(context.Background(), LockTimeout)
	defer cancel()

	locked, err := fl.TryLockContext(ctx, 10*time.Millisecond)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return func() {}, nil
		}
		return nil, err
	}
	if !locked {
		return func() {}, nil
	}
	return func() { _ = fl.Unlock() }, nil
}

// Load reads the state. A missing or corrupt file yields an empty state.
func (s *Store) Load() (*State, error) {
	release, err := s.lock()
	if err != nil {
		return nil, err
	}
	defer release()
	return s.read()
}

// Update runs fn on the current state and persists the result while
// holding the lock for the whole read-modify-write cycle.
func (s *Store) Update(fn func(*State) error) error {
	release, err := s.lock()
	if err != nil {
		return err
	}
	defer release()

	state, err := s.read()
	if err != nil {
		return err
	}
	if err := fn(state); err != nil {
		return err
	}
	return s.write(state)
}

// Clear removes the state file.
func (s *Store) Clear() error {
	release, err := s.lock()
	if err != nil {
		return err
	}
	defer release()

	if err := os.Remove(s.Path()); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

func (s *Store) read() (*State, error) {
	data, err := os.ReadFile(s.Path())
	if errors.Is(err, fs.ErrNotExist) {
		return NewState(), nil
	}
	if err != nil {
		return nil, err
	}
	var state State
	if json.Unmarshal(data, &state) != nil {
		return NewState(), nil
	}
	return &state, nil
}

// write replaces the state file through a uniquely named temp file.
func (s *Store) write(state *State) error {
	state.Version = StateVersion
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return err
	}

	tmp := fmt.Sprintf("%s.%d.%d.tmp", s.Path(), os.Getpid(), time.Now().UnixNano())
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	if runtime.GOOS == "windows" {
		_ = os.Remove(s.Path())
	}
	if err := os.Rename(tmp, s.Path()); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}
