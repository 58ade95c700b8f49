// Package session keeps one reconciler per widget session.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ruslano69/tdtp-explorer/pkg/reconcile"
	"github.com/ruslano69/tdtp-explorer/pkg/resultlog"
)

// Publisher receives one event per pushed payload.
type Publisher interface {
	Publish(ctx context.Context, ev resultlog.CycleEvent) error
}

// Session is one widget connection.
type Session struct {
	ID         string
	Reconciler *reconcile.Reconciler
	Created    time.Time

	mu       sync.Mutex
	lastSeen time.Time
}

// LastSeen returns the time of the last request on this session.
func (s *Session) LastSeen() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeen
}

func (s *Session) touch(now time.Time) {
	s.mu.Lock()
	s.lastSeen = now
	s.mu.Unlock()
}

// Registry owns all live sessions. Sessions idle for longer than the TTL are
// removed by Sweep.
type Registry struct {
	base      reconcile.Config
	ttl       time.Duration
	publisher Publisher
	logger    zerolog.Logger
	now       func() time.Time

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewRegistry returns an empty registry. base carries the shared collaborators
// every reconciler is built from; its Push and Logger are set per session.
// publisher may be nil.
func NewRegistry(base reconcile.Config, ttl time.Duration, publisher Publisher, logger zerolog.Logger) *Registry {
	return &Registry{
		base:      base,
		ttl:       ttl,
		publisher: publisher,
		logger:    logger,
		now:       time.Now,
		sessions:  make(map[string]*Session),
	}
}

// Create registers a new session and runs its initial cycle.
func (r *Registry) Create(ctx context.Context) (*Session, *reconcile.Payload) {
	id := uuid.NewString()
	logger := r.logger.With().Str("session", id).Logger()

	cfg := r.base
	cfg.Logger = logger
	cfg.Push = r.pusher(id, logger)

	now := r.now()
	s := &Session{ID: id, Reconciler: reconcile.New(cfg), Created: now, lastSeen: now}

	r.mu.Lock()
	r.sessions[id] = s
	n := len(r.sessions)
	r.mu.Unlock()
	reconcile.SessionsActive.Inc()

	logger.Info().Int("sessions", n).Msg("session created")
	return s, s.Reconciler.Start(ctx)
}

// Get returns a live session and marks it as seen.
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.RLock()
	s, ok := r.sessions[id]
	r.mu.RUnlock()
	if ok {
		s.touch(r.now())
	}
	return s, ok
}

// Delete removes a session. It reports whether the session existed.
func (r *Registry) Delete(id string) bool {
	r.mu.Lock()
	_, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()
	if ok {
		reconcile.SessionsActive.Dec()
		r.logger.Info().Str("session", id).Msg("session closed")
	}
	return ok
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Sweep removes sessions idle for longer than the TTL and returns how many
// were removed. A TTL <= 0 disables expiry.
func (r *Registry) Sweep() int {
	if r.ttl <= 0 {
		return 0
	}
	cutoff := r.now().Add(-r.ttl)

	r.mu.Lock()
	var expired []string
	for id, s := range r.sessions {
		if s.LastSeen().Before(cutoff) {
			expired = append(expired, id)
			delete(r.sessions, id)
		}
	}
	r.mu.Unlock()

	for _, id := range expired {
		reconcile.SessionsActive.Dec()
		r.logger.Info().Str("session", id).Msg("session expired")
	}
	return len(expired)
}

// Run sweeps every interval until ctx is done.
func (r *Registry) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep()
		}
	}
}

// pusher publishes a CycleEvent for every payload of one session. Publish
// failures are logged and never fail the cycle.
func (r *Registry) pusher(id string, logger zerolog.Logger) reconcile.Pusher {
	if r.publisher == nil {
		return nil
	}
	var pushes int
	return func(ctx context.Context, p *reconcile.Payload) {
		decision := reconcile.DecisionAdopted
		if pushes == 0 {
			decision = reconcile.DecisionInitial
		}
		pushes++

		ev := resultlog.CycleEvent{
			SessionID:  id,
			Decision:   string(decision),
			Page:       p.CurrentPage,
			TotalRows:  p.TotalRows,
			TotalPages: p.TotalPages,
			SortOrder:  p.SortOrder.String(),
			Search:     p.Filters.Search,
			At:         r.now().UTC(),
		}
		if p.Error != "" {
			msg := p.Error
			ev.Error = &msg
		}
		if err := r.publisher.Publish(ctx, ev); err != nil {
			logger.Warn().Err(err).Msg("cycle event not published")
		}
	}
}
