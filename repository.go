package ruleswp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/maypok86/otter"
	"golang.org/x/sync/singleflight"
)

// Loader loads a rule set by name. If there is no rule set with the name,
// Load returns an error wrapping ErrRuleSetNotFound.
type Loader interface {
	Load(ctx context.Context, name string) (*RuleSet, error)
}

// LoaderFunc adapts a function to the Loader interface.
type LoaderFunc func(ctx context.Context, name string) (*RuleSet, error)

func (f LoaderFunc) Load(ctx context.Context, name string) (*RuleSet, error) { return f(ctx, name) }

// StaticLoader serves rule sets built in code.
type StaticLoader map[string]*RuleSet

// NewStaticLoader creates a loader serving the rule sets, keyed by name.
func NewStaticLoader(sets ...*RuleSet) StaticLoader {
	l := make(StaticLoader, len(sets))
	for _, rs := range sets {
		l[rs.Name] = rs
	}
	return l
}

func (l StaticLoader) Load(_ context.Context, name string) (*RuleSet, error) {
	rs, ok := l[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRuleSetNotFound, name)
	}
	return rs, nil
}

// RuleSetProvider is the interface the Executor uses to obtain rule sets.
type RuleSetProvider interface {
	RuleSet(ctx context.Context, name string) (*RuleSet, error)
}

// Repository caches the rule sets produced by a Loader.
//
// A Repository is safe for concurrent use. Reads of cached rule sets do not
// take a lock. When several goroutines ask for a rule set that is not cached,
// only one of them calls the Loader and the others wait for its result, so a
// rule set is loaded at most once per name (for as long as it stays cached).
// Failed loads are not cached.
//
// By default cached rule sets are never evicted. WithExpiry sets a time to
// live for deployments that change rule sets while running.
type Repository struct {
	loader Loader
	cache  ruleSetCache
	group  singleflight.Group
	log    *slog.Logger
	loads  atomic.Int64
}

// RepositoryOption configures a Repository.
type RepositoryOption func(*repositoryOptions)

type repositoryOptions struct {
	capacity int
	ttl      time.Duration
	log      *slog.Logger
}

// WithExpiry caches at most capacity rule sets, each for at most ttl.
// Default: unlimited, never expire
func WithExpiry(capacity int, ttl time.Duration) RepositoryOption {
	return func(o *repositoryOptions) {
		o.capacity = capacity
		o.ttl = ttl
	}
}

// WithRepositoryLogger sets the logger used to report rule set loads.
// Default: slog.Default()
func WithRepositoryLogger(l *slog.Logger) RepositoryOption {
	return func(o *repositoryOptions) {
		if l != nil {
			o.log = l
		}
	}
}

// NewRepository creates a repository caching the rule sets loaded by the loader.
func NewRepository(loader Loader, opts ...RepositoryOption) (*Repository, error) {
	if loader == nil {
		return nil, fmt.Errorf("repository: loader cannot be nil")
	}
	o := repositoryOptions{log: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}

	r := &Repository{
		loader: loader,
		log:    o.log,
	}

	if o.ttl > 0 {
		if o.capacity < 1 {
			return nil, fmt.Errorf("repository: cache capacity must be positive, got %d", o.capacity)
		}
		c, err := newExpiringCache(o.capacity, o.ttl)
		if err != nil {
			return nil, fmt.Errorf("repository: building cache: %w", err)
		}
		r.cache = c
	} else {
		r.cache = newSnapshotCache()
	}
	return r, nil
}

// RuleSet returns the named rule set, loading it if it is not cached.
func (r *Repository) RuleSet(ctx context.Context, name string) (*RuleSet, error) {
	if rs, ok := r.cache.get(name); ok {
		return rs, nil
	}

	ch := r.group.DoChan(name, func() (any, error) {
		// Another caller may have stored the rule set between our cache
		// miss and becoming the leader of this flight.
		if rs, ok := r.cache.get(name); ok {
			return rs, nil
		}

		start := time.Now()
		// Detach the load from the caller that happened to start it, so
		// callers waiting on the same flight are not failed by its
		// cancellation.
		rs, err := r.loader.Load(context.WithoutCancel(ctx), name)
		r.loads.Add(1)
		if err != nil {
			return nil, err
		}
		if rs == nil {
			return nil, fmt.Errorf("%w: %s", ErrRuleSetNotFound, name)
		}
		r.cache.set(name, rs)
		r.log.Info("rule set loaded",
			slog.String("rule_set", name),
			slog.Int("rules", rs.Len()),
			slog.Duration("elapsed", time.Since(start)),
		)
		return rs, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			if !errors.Is(res.Err, ErrRuleSetNotFound) {
				r.log.Warn("rule set load failed", slog.String("rule_set", name), slog.String("error", res.Err.Error()))
			}
			return nil, res.Err
		}
		return res.Val.(*RuleSet), nil
	}
}

// Load implements Loader, so repositories can be stacked.
func (r *Repository) Load(ctx context.Context, name string) (*RuleSet, error) {
	return r.RuleSet(ctx, name)
}

// Loads is the number of times the repository has called its loader.
func (r *Repository) Loads() int64 {
	return r.loads.Load()
}

// Names returns the names of the cached rule sets, sorted.
func (r *Repository) Names() []string {
	return r.cache.names()
}

// Close releases the resources held by the cache.
func (r *Repository) Close() {
	r.cache.close()
}

type ruleSetCache interface {
	get(name string) (*RuleSet, bool)
	set(name string, rs *RuleSet)
	names() []string
	close()
}

// snapshotCache is an immutable map replaced on every insert. Readers load
// the current map without locking; writers copy it under a mutex.
type snapshotCache struct {
	current atomic.Pointer[map[string]*RuleSet]
	mu      sync.Mutex
}

func newSnapshotCache() *snapshotCache {
	c := &snapshotCache{}
	empty := map[string]*RuleSet{}
	c.current.Store(&empty)
	return c
}

func (c *snapshotCache) get(name string) (*RuleSet, bool) {
	rs, ok := (*c.current.Load())[name]
	return rs, ok
}

func (c *snapshotCache) set(name string, rs *RuleSet) {
	c.mu.Lock()
	defer c.mu.Unlock()
	old := *c.current.Load()
	if _, ok := old[name]; ok {
		return
	}
	next := maps.Clone(old)
	next[name] = rs
	c.current.Store(&next)
}

func (c *snapshotCache) names() []string {
	return slices.Sorted(maps.Keys(*c.current.Load()))
}

func (c *snapshotCache) close() {}

// expiringCache holds rule sets for a limited time.
type expiringCache struct {
	store otter.Cache[string, *RuleSet]
}

func newExpiringCache(capacity int, ttl time.Duration) (*expiringCache, error) {
	store, err := otter.MustBuilder[string, *RuleSet](capacity).
		WithTTL(ttl).
		Build()
	if err != nil {
		return nil, err
	}
	return &expiringCache{store: store}, nil
}

func (c *expiringCache) get(name string) (*RuleSet, bool) {
	return c.store.Get(name)
}

func (c *expiringCache) set(name string, rs *RuleSet) {
	c.store.Set(name, rs)
}

func (c *expiringCache) names() []string {
	var names []string
	c.store.Range(func(k string, _ *RuleSet) bool {
		names = append(names, k)
		return true
	})
	slices.Sort(names)
	return names
}

func (c *expiringCache) close() {
	c.store.Close()
}
