package tenant

import (
	"sync"
	"time"
)

const (
	defaultSessionTTL    = 30 * time.Minute
	defaultSweepInterval = time.Minute
)

type session struct {
	ctx      *Context
	lastSeen time.Time
}

// Registry owns one Context per actor and their init/teardown
// lifecycle. Idle sessions are closed and evicted by a background
// sweeper so stale access decisions do not outlive the session TTL.
type Registry struct {
	deps Deps
	opts []Option
	ttl  time.Duration
	now  func() time.Time

	mu       sync.Mutex
	sessions map[string]*session
	stop     chan struct{}
	stopOnce sync.Once
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithSessionTTL overrides how long an untouched session survives.
func WithSessionTTL(ttl time.Duration) RegistryOption {
	return func(r *Registry) {
		if ttl > 0 {
			r.ttl = ttl
		}
	}
}

// WithRegistryClock overrides the time source (tests).
func WithRegistryClock(fn func() time.Time) RegistryOption {
	return func(r *Registry) {
		if fn != nil {
			r.now = fn
		}
	}
}

// NewRegistry constructs a Registry; ctxOpts are applied to every
// Context it creates.
func NewRegistry(deps Deps, ctxOpts []Option, opts ...RegistryOption) *Registry {
	r := &Registry{
		deps:     deps,
		opts:     ctxOpts,
		ttl:      defaultSessionTTL,
		now:      time.Now,
		sessions: make(map[string]*session),
		stop:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	go r.sweep()
	return r
}

// ContextFor returns the session context for the actor, creating it on
// first use. Touching a session resets its TTL.
func (r *Registry) ContextFor(actorID string) *Context {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[actorID]
	if !ok {
		s = &session{ctx: NewContext(r.deps, r.opts...)}
		r.sessions[actorID] = s
	}
	s.lastSeen = r.now()
	return s.ctx
}

// Evict closes and removes the actor's session, if any.
func (r *Registry) Evict(actorID string) {
	r.mu.Lock()
	s, ok := r.sessions[actorID]
	if ok {
		delete(r.sessions, actorID)
	}
	r.mu.Unlock()
	if ok {
		s.ctx.Close()
	}
}

// Len reports the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Close tears down the sweeper and every session.
func (r *Registry) Close() {
	r.stopOnce.Do(func() { close(r.stop) })
	r.mu.Lock()
	sessions := r.sessions
	r.sessions = make(map[string]*session)
	r.mu.Unlock()
	for _, s := range sessions {
		s.ctx.Close()
	}
}

func (r *Registry) sweep() {
	ticker := time.NewTicker(defaultSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-r.stop:
			return
		case <-ticker.C:
			r.evictExpired()
		}
	}
}

func (r *Registry) evictExpired() {
	now := r.now()
	var expired []*session
	r.mu.Lock()
	for id, s := range r.sessions {
		if now.Sub(s.lastSeen) > r.ttl {
			expired = append(expired, s)
			delete(r.sessions, id)
		}
	}
	r.mu.Unlock()
	for _, s := range expired {
		s.ctx.Close()
	}
}
