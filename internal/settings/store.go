package settings

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
)

// EnvStorageDir overrides where the settings and cache files live.
const EnvStorageDir = "LMEVE_STORAGE_DIR"

const (
	fileName        = "settings.json"
	lockRetryDelay  = 25 * time.Millisecond
	lockWaitTimeout = 5 * time.Second
)

var (
	// ErrNoWritableDir is returned when none of the storage candidates is usable.
	ErrNoWritableDir = errors.New("settings: no writable storage directory")
	// ErrLocked is returned when the settings lock could not be taken in time.
	ErrLocked = errors.New("settings: store is locked by another writer")
)

// Store persists the settings document. Update runs fn under an exclusive
// lock so concurrent saves cannot interleave their read and write halves.
type Store interface {
	Load(ctx context.Context) (Document, error)
	Update(ctx context.Context, fn func(current Document) (Document, error)) (Document, error)
	Path() string
}

// StorageCandidates lists, in order, the directories tried by ResolveDir:
// the preferred path, the LMEVE_STORAGE_DIR path and the system temp path.
func StorageCandidates(preferred string) []string {
	return []string{
		preferred,
		os.Getenv(EnvStorageDir),
		filepath.Join(os.TempDir(), "lmeve2"),
	}
}

// ResolveDir returns the first candidate that exists or can be created and
// accepts a file write.
func ResolveDir(preferred string) (string, error) {
	for _, dir := range StorageCandidates(preferred) {
		if dir == "" {
			continue
		}
		if Writable(dir) {
			return dir, nil
		}
	}
	return "", ErrNoWritableDir
}

// Writable creates dir if needed and probes it with a throwaway file.
func Writable(dir string) bool {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return false
	}
	f, err := os.CreateTemp(dir, ".probe-*")
	if err != nil {
		return false
	}
	name := f.Name()
	_ = f.Close()
	_ = os.Remove(name)
	return true
}

// FileStore keeps the document in <dir>/settings.json next to a lock file.
type FileStore struct {
	path        string
	lockTimeout time.Duration
}

// NewFileStore returns a store rooted at dir. The directory must already be
// resolved; see ResolveDir.
func NewFileStore(dir string) *FileStore {
	return &FileStore{path: filepath.Join(dir, fileName), lockTimeout: lockWaitTimeout}
}

// Path returns the settings file location.
func (s *FileStore) Path() string { return s.path }

// Load reads the document under a shared lock. A missing file is an empty document.
func (s *FileStore) Load(ctx context.Context) (Document, error) {
	fl := flock.New(s.path + ".lock")
	ctx, cancel := context.WithTimeout(ctx, s.lockTimeout)
	defer cancel()
	locked, err := fl.TryRLockContext(ctx, lockRetryDelay)
	if err != nil || !locked {
		return nil, lockError(err)
	}
	defer func() { _ = fl.Unlock() }()
	return s.read()
}

// Update applies fn to the current document and persists the result
// atomically while holding the exclusive lock.
func (s *FileStore) Update(ctx context.Context, fn func(current Document) (Document, error)) (Document, error) {
	fl := flock.New(s.path + ".lock")
	ctx, cancel := context.WithTimeout(ctx, s.lockTimeout)
	defer cancel()
	locked, err := fl.TryLockContext(ctx, lockRetryDelay)
	if err != nil || !locked {
		return nil, lockError(err)
	}
	defer func() { _ = fl.Unlock() }()

	current, err := s.read()
	if err != nil {
		return nil, err
	}
	next, err := fn(current)
	if err != nil {
		return nil, err
	}
	raw, err := next.Bytes()
	if err != nil {
		return nil, fmt.Errorf("encode settings: %w", err)
	}
	if err := WriteFileAtomic(s.path, raw, 0o600); err != nil {
		return nil, err
	}
	return next, nil
}

func (s *FileStore) read() (Document, error) {
	raw, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return Document{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read settings: %w", err)
	}
	return ParseDocument(raw)
}

func lockError(err error) error {
	if err == nil || errors.Is(err, context.DeadlineExceeded) {
		return ErrLocked
	}
	return fmt.Errorf("lock settings: %w", err)
}

// WriteFileAtomic writes data to a temp file in the target directory and
// renames it over path, so readers never observe a half-written file.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		cleanup()
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}
