package storage

import (
	"time"

	"github.com/pkg/errors"
)

var (
	// ErrInvalidName is returned for names that would escape the storage directory.
	ErrInvalidName = errors.New("storage: invalid file name")
	// ErrNotFound is returned when no file exists under a name.
	ErrNotFound = errors.New("storage: file not found")
	// ErrNotRegular is returned when a name refers to something other than a regular file.
	ErrNotRegular = errors.New("storage: not a regular file")
)

// FileInfo describes a stored file.
type FileInfo struct {
	Name    string    `json:"name"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"mod_time"`
}

// Storage defines the interface for the named files served by the files API.
type Storage interface {
	// Dir returns the directory uploads are staged and committed in.
	Dir() string
	// List returns the stored regular files, sorted by name.
	List() ([]FileInfo, error)
	// Resolve maps a client supplied name to a path inside the storage directory.
	Resolve(name string) (string, error)
	// Stat describes the file stored under name.
	Stat(name string) (FileInfo, error)
}
