// Package reqcontext carries the correlation identifiers of a single run.
//
// Identifiers are never held in process-wide state. Each run opens a scope that derives its own logger with
// the identifiers attached, so runs that overlap cannot see each other's values. The Store only tracks which
// scopes are open.
package reqcontext

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/armadaproject/goldensignals/internal/common/runcontext"
)

const (
	TenantIdKey   = "tenant_id"
	UserIdKey     = "user_id"
	JobIdKey      = "job_id"
	CustomerIdKey = "customer_id"
)

type RequestContext struct {
	TenantId   string
	UserId     string
	JobId      string
	CustomerId string
}

// Fields returns the identifiers as log fields.
func (r RequestContext) Fields() logrus.Fields {
	return logrus.Fields{
		TenantIdKey:   r.TenantId,
		UserIdKey:     r.UserId,
		JobIdKey:      r.JobId,
		CustomerIdKey: r.CustomerId,
	}
}

type contextKey struct{}

// FromContext returns the RequestContext of the scope ctx was opened in.
func FromContext(ctx context.Context) (RequestContext, bool) {
	rc, ok := ctx.Value(contextKey{}).(RequestContext)
	return rc, ok
}

// Store keeps track of open scopes.
type Store struct {
	mu     sync.Mutex
	nextId uint64
	open   map[uint64]RequestContext
}

func NewStore() *Store {
	return &Store{open: map[uint64]RequestContext{}}
}

// Scope is the lifetime of one RequestContext. Close it exactly when the run it belongs to ends.
type Scope struct {
	store *Store
	id    uint64
	once  sync.Once
}

// Open starts a scope for rc. The returned context carries rc both as a value and as fields on its logger.
// parent is left untouched.
func (s *Store) Open(parent *runcontext.Context, rc RequestContext) (*runcontext.Context, *Scope) {
	s.mu.Lock()
	s.nextId++
	id := s.nextId
	s.open[id] = rc
	s.mu.Unlock()

	ctx := runcontext.WithLogFields(
		runcontext.WithGoContext(parent, context.WithValue(parent.Context, contextKey{}, rc)),
		rc.Fields(),
	)
	return ctx, &Scope{store: s, id: id}
}

// Close ends the scope. Calling it more than once has no further effect.
func (sc *Scope) Close() {
	sc.once.Do(func() {
		sc.store.mu.Lock()
		delete(sc.store.open, sc.id)
		sc.store.mu.Unlock()
	})
}

// Len is the number of open scopes.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.open)
}

// Active returns the RequestContexts of all open scopes, in no particular order.
func (s *Store) Active() []RequestContext {
	s.mu.Lock()
	defer s.mu.Unlock()
	active := make([]RequestContext, 0, len(s.open))
	for _, rc := range s.open {
		active = append(active, rc)
	}
	return active
}

// Provider hands out the RequestContext for each run.
type Provider struct {
	static        RequestContext
	generateJobId bool
	newId         func() string
}

// NewProvider returns a provider that always hands out static, except that a fresh job id is generated
// for every run when generateJobId is set.
func NewProvider(static RequestContext, generateJobId bool) *Provider {
	return &Provider{
		static:        static,
		generateJobId: generateJobId,
		newId:         uuid.NewString,
	}
}

func (p *Provider) Next() RequestContext {
	rc := p.static
	if p.generateJobId {
		rc.JobId = "job-" + p.newId()
	}
	return rc
}
