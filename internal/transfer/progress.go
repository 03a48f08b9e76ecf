package transfer

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jaywantadh/ChunkStream/internal/metadata"
)

// Session tracks the progress of one transfer while it is open.
type Session struct {
	ID        string
	Kind      Kind
	Remote    string
	StartTime time.Time

	total  atomic.Int64
	bytes  atomic.Int64
	blocks atomic.Int64

	mu     sync.RWMutex
	path   string
	status TransferStatus
}

// Observe records one block of n bytes reaching its destination.
func (s *Session) Observe(n int) {
	s.bytes.Add(int64(n))
	s.blocks.Add(1)

	s.mu.Lock()
	if s.status == StatusPending {
		s.status = StatusInProgress
	}
	s.mu.Unlock()
}

// SetPath records the file the session reads or writes.
func (s *Session) SetPath(path string) {
	s.mu.Lock()
	s.path = path
	s.mu.Unlock()
}

// SetTotal records the expected size of the transfer once it is known.
func (s *Session) SetTotal(total int64) {
	s.total.Store(total)
}

// Total returns the expected size, or zero when unknown.
func (s *Session) Total() int64 {
	return s.total.Load()
}

// Bytes returns the number of bytes moved so far.
func (s *Session) Bytes() int64 {
	return s.bytes.Load()
}

// Blocks returns the number of blocks moved so far.
func (s *Session) Blocks() int64 {
	return s.blocks.Load()
}

// Status returns the session's current status.
func (s *Session) Status() TransferStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// Snapshot reports progress at time now.
func (s *Session) Snapshot(now time.Time) TransferStatusResponse {
	s.mu.RLock()
	path, status := s.path, s.status
	s.mu.RUnlock()

	moved := s.bytes.Load()
	total := s.total.Load()
	resp := TransferStatusResponse{
		TransferID: s.ID,
		Kind:       s.Kind,
		Path:       path,
		Status:     status,
		BytesMoved: moved,
		Blocks:     s.blocks.Load(),
		TotalBytes: total,
		StartedAt:  s.StartTime,
	}

	if total > 0 {
		resp.ProgressPercent = float64(moved) / float64(total) * 100.0
	}

	// Calculate speed
	if elapsed := now.Sub(s.StartTime).Seconds(); elapsed > 0 {
		resp.Speed = int64(float64(moved) / elapsed)
	}

	// Calculate estimated time remaining
	if resp.Speed > 0 && total > moved {
		remaining := time.Duration((total-moved)/resp.Speed) * time.Second
		resp.ETA = FormatDuration(remaining)
	}
	return resp
}

func (s *Session) finish(status TransferStatus) {
	s.mu.Lock()
	s.status = status
	s.mu.Unlock()
}

func (s *Session) record(digest string, err error, finishedAt time.Time) metadata.TransferRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec := metadata.TransferRecord{
		ID:         s.ID,
		Kind:       string(s.Kind),
		Path:       s.path,
		Remote:     s.Remote,
		Status:     string(s.status),
		Bytes:      s.bytes.Load(),
		Blocks:     s.blocks.Load(),
		TotalBytes: s.total.Load(),
		Digest:     digest,
		StartedAt:  s.StartTime,
		FinishedAt: finishedAt,
	}
	if err != nil {
		rec.Error = err.Error()
	}
	return rec
}

// FormatBytes formats bytes into human-readable format
func FormatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}

// FormatDuration formats duration into human-readable format
func FormatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%.0fs", d.Seconds())
	}
	if d < time.Hour {
		return fmt.Sprintf("%.0fm", d.Minutes())
	}
	return fmt.Sprintf("%.0fh", d.Hours())
}
