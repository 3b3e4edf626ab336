package node

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/sauravfouzdar/quorumfs/pkg/common"
)

// StorageManager applies mutations to the files under a single root directory.
// Every path it is handed is resolved against the root and anything that would
// land outside of it is rejected with common.ErrPathEscape.
type StorageManager struct {
	root    string
	staging string
	mutex   sync.RWMutex // writers take the lock, readers the read lock
	logger  zerolog.Logger
}

// stagingDir is the directory under the root that holds partial uploads. It is
// not part of the namespace clients see.
const stagingDir = ".quorumfs-staging"

// NewStorageManager creates a storage manager, creating root if it doesn't exist
func NewStorageManager(root string) (*StorageManager, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve storage root: %w", err)
	}

	// 0755 - rwxr-xr-x
	if err := os.MkdirAll(abs, 0755); err != nil {
		return nil, fmt.Errorf("create storage root: %w", err)
	}

	// partial uploads left by a crash are never renamed into place
	staging := filepath.Join(abs, stagingDir)
	if err := os.RemoveAll(staging); err != nil {
		return nil, fmt.Errorf("clear staging directory: %w", err)
	}
	if err := os.Mkdir(staging, 0755); err != nil {
		return nil, fmt.Errorf("create staging directory: %w", err)
	}

	return &StorageManager{
		root:    abs,
		staging: staging,
		logger:  zerolog.Nop(),
	}, nil
}

// SetLogger sets the logger used for storage events
func (sm *StorageManager) SetLogger(logger zerolog.Logger) {
	sm.logger = logger
}

// Root returns the absolute storage root
func (sm *StorageManager) Root() string {
	return sm.root
}

// Resolve maps a logical path ("/a/b.txt") to its location on disk.
// Paths must be absolute. The leading separator is stripped, the remainder is
// joined to the root and cleaned. Results outside the root are rejected, never
// clamped, and so is anything inside the staging directory.
func (sm *StorageManager) Resolve(path string) (string, error) {
	if !strings.HasPrefix(path, "/") {
		return "", fmt.Errorf("%w: %q", common.ErrInvalidPath, path)
	}

	rel := strings.TrimPrefix(path, "/")
	full := filepath.Join(sm.root, filepath.FromSlash(rel))

	r, err := filepath.Rel(sm.root, full)
	if err != nil || r == ".." || strings.HasPrefix(r, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q", common.ErrPathEscape, path)
	}
	if first, _, _ := strings.Cut(r, string(filepath.Separator)); first == stagingDir {
		return "", fmt.Errorf("%w: %q", common.ErrReservedPath, path)
	}
	return full, nil
}

// CreateDirectory creates the directory and any missing parents
func (sm *StorageManager) CreateDirectory(path string) error {
	full, err := sm.Resolve(path)
	if err != nil {
		return err
	}

	sm.mutex.Lock()
	defer sm.mutex.Unlock()

	if info, err := os.Stat(full); err == nil && !info.IsDir() {
		return fmt.Errorf("%w: %s", common.ErrNotADirectory, path)
	}

	if err := os.MkdirAll(full, 0755); err != nil {
		if errors.Is(err, syscall.ENOTDIR) {
			return fmt.Errorf("%w: %s", common.ErrNotADirectory, path)
		}
		return fmt.Errorf("create directory %s: %w", path, err)
	}

	sm.logger.Debug().Str("path", path).Msg("directory created")
	return nil
}

// DeleteDirectory removes an empty directory
func (sm *StorageManager) DeleteDirectory(path string) error {
	full, err := sm.Resolve(path)
	if err != nil {
		return err
	}
	if full == sm.root {
		return common.ErrRootMutation
	}

	sm.mutex.Lock()
	defer sm.mutex.Unlock()

	info, err := statEntry(full, path)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: %s", common.ErrNotADirectory, path)
	}

	entries, err := os.ReadDir(full)
	if err != nil {
		return fmt.Errorf("read directory %s: %w", path, err)
	}
	if len(entries) > 0 {
		return fmt.Errorf("%w: %s", common.ErrDirectoryNotEmpty, path)
	}

	if err := os.Remove(full); err != nil {
		return fmt.Errorf("delete directory %s: %w", path, err)
	}

	sm.logger.Debug().Str("path", path).Msg("directory deleted")
	return nil
}

// PutFile stores data at path, replacing an existing file. The parent
// directory must already exist.
func (sm *StorageManager) PutFile(path string, data []byte) error {
	if len(data) == 0 {
		return common.ErrEmptyUpload
	}

	full, err := sm.Resolve(path)
	if errors.Is(err, common.ErrReservedPath) {
		return err
	}
	if errors.Is(err, common.ErrPathEscape) {
		return fmt.Errorf("%w: %q", common.ErrDestinationOutsideRoot, path)
	}
	if err != nil {
		return err
	}

	sm.mutex.Lock()
	defer sm.mutex.Unlock()

	if info, err := os.Stat(full); err == nil && info.IsDir() {
		return fmt.Errorf("%w: %s", common.ErrIsADirectory, path)
	}

	parent := filepath.Dir(full)
	if info, err := os.Stat(parent); err != nil || !info.IsDir() {
		return fmt.Errorf("%w: %s", common.ErrParentMissing, path)
	}

	// write to staging and rename so readers never see a partial file
	tmp, err := os.CreateTemp(sm.staging, "upload-*")
	if err != nil {
		return fmt.Errorf("store %s: %w", path, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("store %s: %w", path, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("store %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("store %s: %w", path, err)
	}
	// 0644 - rw-r--r--
	if err := os.Chmod(tmp.Name(), 0644); err != nil {
		return fmt.Errorf("store %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), full); err != nil {
		return fmt.Errorf("store %s: %w", path, err)
	}

	sm.logger.Debug().Str("path", path).Int("bytes", len(data)).Msg("file stored")
	return nil
}

// DeleteFile removes a regular file
func (sm *StorageManager) DeleteFile(path string) error {
	full, err := sm.Resolve(path)
	if err != nil {
		return err
	}

	sm.mutex.Lock()
	defer sm.mutex.Unlock()

	info, err := statEntry(full, path)
	if err != nil {
		return err
	}
	if info.IsDir() {
		return fmt.Errorf("%w: %s", common.ErrIsADirectory, path)
	}

	if err := os.Remove(full); err != nil {
		return fmt.Errorf("delete file %s: %w", path, err)
	}

	sm.logger.Debug().Str("path", path).Msg("file deleted")
	return nil
}

// ListChildren returns the names of the entries directly inside a directory
func (sm *StorageManager) ListChildren(path string) ([]string, error) {
	full, err := sm.Resolve(path)
	if err != nil {
		return nil, err
	}

	sm.mutex.RLock()
	defer sm.mutex.RUnlock()

	info, err := statEntry(full, path)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", common.ErrNotADirectory, path)
	}

	entries, err := os.ReadDir(full)
	if err != nil {
		return nil, fmt.Errorf("read directory %s: %w", path, err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if full == sm.root && entry.Name() == stagingDir {
			continue
		}
		names = append(names, entry.Name())
	}
	return names, nil
}

// Open opens a file for reading. The caller closes it.
func (sm *StorageManager) Open(path string) (*os.File, os.FileInfo, error) {
	full, err := sm.Resolve(path)
	if err != nil {
		return nil, nil, err
	}

	sm.mutex.RLock()
	defer sm.mutex.RUnlock()

	info, err := statEntry(full, path)
	if err != nil {
		return nil, nil, err
	}
	if info.IsDir() {
		return nil, nil, fmt.Errorf("%w: %s", common.ErrIsADirectory, path)
	}

	file, err := os.Open(full)
	if err != nil {
		return nil, nil, fmt.Errorf("open %s: %w", path, err)
	}
	return file, info, nil
}

// Usage counts the files under the root and their total size
func (sm *StorageManager) Usage() (int, int64, error) {
	sm.mutex.RLock()
	defer sm.mutex.RUnlock()

	var files int
	var size int64
	err := filepath.WalkDir(sm.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path == sm.staging {
				return filepath.SkipDir
			}
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		files++
		size += info.Size()
		return nil
	})
	return files, size, err
}

// statEntry stats full, reporting a missing entry (or a file standing in for
// one of its parents) as common.ErrNotFound
func statEntry(full, path string) (os.FileInfo, error) {
	info, err := os.Stat(full)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) || errors.Is(err, syscall.ENOTDIR) {
			return nil, fmt.Errorf("%w: %s", common.ErrNotFound, path)
		}
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	return info, nil
}
