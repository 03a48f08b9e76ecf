package transfer

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/jaywantadh/ChunkStream/internal/metadata"
	"github.com/jaywantadh/ChunkStream/internal/metrics"
	"github.com/jaywantadh/ChunkStream/pkg/logging"
)

// ErrTooManySessions is returned by Open when the session limit is reached.
var ErrTooManySessions = errors.New("too many concurrent transfers")

// Registry keeps the set of open sessions. Finished sessions are written to
// the ledger and counted in metrics when either is configured.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	max      int

	ledger  *metadata.MetadataStore
	metrics *metrics.Metrics
	log     *logrus.Entry
	now     func() time.Time
}

// NewRegistry creates a registry admitting at most max sessions at once. A
// max below 1 means no limit. ledger and m may be nil.
func NewRegistry(max int, ledger *metadata.MetadataStore, m *metrics.Metrics) *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		max:      max,
		ledger:   ledger,
		metrics:  m,
		log:      logging.Component("registry"),
		now:      time.Now,
	}
}

// Open admits a new session.
func (r *Registry) Open(kind Kind, path, remote string, total int64) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.max > 0 && len(r.sessions) >= r.max {
		return nil, ErrTooManySessions
	}

	s := &Session{
		ID:        uuid.New().String(),
		Kind:      kind,
		Remote:    remote,
		StartTime: r.now(),
		path:      path,
		status:    StatusPending,
	}
	s.SetTotal(total)
	r.sessions[s.ID] = s
	if r.metrics != nil {
		r.metrics.SessionOpened()
	}

	r.log.WithFields(logrus.Fields{
		"transfer_id": s.ID,
		"kind":        kind,
		"remote":      remote,
	}).Debug("session opened")
	return s, nil
}

// Close finishes a session. A nil err marks it completed, a cancelled
// context marks it cancelled and anything else marks it failed.
func (r *Registry) Close(s *Session, digest string, err error) {
	r.mu.Lock()
	_, open := r.sessions[s.ID]
	delete(r.sessions, s.ID)
	r.mu.Unlock()
	if !open {
		return
	}

	status := StatusCompleted
	switch {
	case err == nil:
	case errors.Is(err, context.Canceled):
		status = StatusCancelled
	default:
		status = StatusFailed
	}
	s.finish(status)

	if r.metrics != nil {
		r.metrics.SessionClosed(string(s.Kind), string(status), s.Bytes(), s.Blocks())
	}

	log := r.log.WithFields(logrus.Fields{
		"transfer_id": s.ID,
		"kind":        s.Kind,
		"status":      status,
		"bytes":       s.Bytes(),
		"blocks":      s.Blocks(),
	})
	if err != nil {
		log = log.WithError(err)
	}
	log.Info("session closed")

	if r.ledger != nil {
		if perr := r.ledger.PutTransfer(s.record(digest, err, r.now())); perr != nil {
			log.WithError(perr).Warn("failed to record transfer")
		}
	}
}

// Get returns an open session.
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Len returns the number of open sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Active returns a snapshot of every open session, oldest first.
func (r *Registry) Active() []TransferStatusResponse {
	r.mu.RLock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.RUnlock()

	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].StartTime.Before(sessions[j].StartTime)
	})

	now := r.now()
	out := make([]TransferStatusResponse, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s.Snapshot(now))
	}
	return out
}
