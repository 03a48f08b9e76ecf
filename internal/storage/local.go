package storage

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// LocalStorage implements the Storage interface for the local filesystem.
type LocalStorage struct {
	basePath string
}

// NewLocalStorage creates a new LocalStorage instance.
func NewLocalStorage(basePath string) (*LocalStorage, error) {
	abs, err := filepath.Abs(basePath)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to resolve storage directory %s", basePath)
	}
	if err := os.MkdirAll(abs, 0755); err != nil {
		return nil, errors.Wrap(err, "failed to create storage directory")
	}
	return &LocalStorage{basePath: abs}, nil
}

// Dir returns the storage directory.
func (s *LocalStorage) Dir() string {
	return s.basePath
}

// Resolve rejects anything but a plain file name. Dot files are reserved for
// uploads still in flight.
func (s *LocalStorage) Resolve(name string) (string, error) {
	if name == "" || strings.HasPrefix(name, ".") || strings.ContainsAny(name, `/\`) || filepath.Base(name) != name {
		return "", errors.Wrapf(ErrInvalidName, "%q", name)
	}

	path := filepath.Join(s.basePath, name)
	if filepath.Dir(path) != s.basePath {
		return "", errors.Wrapf(ErrInvalidName, "%q", name)
	}
	return path, nil
}

// Stat describes the file stored under name.
func (s *LocalStorage) Stat(name string) (FileInfo, error) {
	path, err := s.Resolve(name)
	if err != nil {
		return FileInfo{}, err
	}

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return FileInfo{}, errors.Wrapf(ErrNotFound, "%s", name)
		}
		return FileInfo{}, errors.Wrapf(err, "failed to stat %s", name)
	}
	if !info.Mode().IsRegular() {
		return FileInfo{}, errors.Wrapf(ErrNotRegular, "%s", name)
	}

	return FileInfo{Name: name, Size: info.Size(), ModTime: info.ModTime()}, nil
}

// List returns the regular files in the storage directory.
func (s *LocalStorage) List() ([]FileInfo, error) {
	entries, err := os.ReadDir(s.basePath)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list storage directory")
	}

	files := make([]FileInfo, 0, len(entries))
	for _, entry := range entries {
		if strings.HasPrefix(entry.Name(), ".") || !entry.Type().IsRegular() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			// removed between ReadDir and Info
			continue
		}
		files = append(files, FileInfo{Name: entry.Name(), Size: info.Size(), ModTime: info.ModTime()})
	}

	sort.Slice(files, func(i, j int) bool {
		return files[i].Name < files[j].Name
	})
	return files, nil
}
