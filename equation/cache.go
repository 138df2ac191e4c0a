package equation

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/warp/payroll-engine/generic"
	"golang.org/x/sync/singleflight"
)

// ArtifactName is the identity a cached equation set is compiled under.
func ArtifactName(equationID decimal.Decimal) string {
	return "equation_" + generic.IDString(equationID)
}

// Cache keeps at most one live Evaluator per equation id. Concurrent
// requests for a cold id share a single compilation.
type Cache struct {
	compiler *Compiler
	log      zerolog.Logger
	group    singleflight.Group

	mu          sync.RWMutex
	entries     map[string]*Evaluator
	generations map[string]uint64
}

func NewCache(compiler *Compiler, log zerolog.Logger) *Cache {
	return &Cache{
		compiler:    compiler,
		log:         log.With().Str("component", "equation_cache").Logger(),
		entries:     make(map[string]*Evaluator),
		generations: make(map[string]uint64),
	}
}

// GetOrBuild returns the Ready set for equationID, compiling it from repo
// when absent or released. provider is attached to the returned set
// either way; pass nil to leave the current provider in place.
func (c *Cache) GetOrBuild(ctx context.Context, equationID decimal.Decimal, repo Repository, provider MetricProvider) (*Evaluator, error) {
	key := generic.IDString(equationID)
	if ev := c.ready(key); ev != nil {
		return c.attach(ev, provider)
	}

	c.mu.RLock()
	gen := c.generations[key]
	c.mu.RUnlock()

	// the build outlives any one caller: others may be waiting on it
	build := context.WithoutCancel(ctx)
	v, err, shared := c.group.Do(key, func() (any, error) {
		if ev := c.ready(key); ev != nil {
			return ev, nil
		}
		eqs, vars, err := repo.FetchDefinitions(build, equationID)
		if err != nil {
			return nil, fmt.Errorf("fetch equation %s: %w", key, err)
		}
		ev, err := c.compiler.Compile(build, Batch{Name: ArtifactName(equationID), Equations: eqs, Variables: vars})
		if err != nil {
			return nil, err
		}

		c.mu.Lock()
		if c.generations[key] == gen {
			c.entries[key] = ev
		} else {
			c.log.Debug().Str("equation_id", key).Msg("invalidated during build, not cached")
		}
		c.mu.Unlock()
		return ev, nil
	})
	if err != nil {
		c.log.Warn().Err(err).Str("equation_id", key).Msg("build failed")
		return nil, err
	}
	c.log.Debug().Str("equation_id", key).Bool("shared", shared).Msg("built")
	return c.attach(v.(*Evaluator), provider)
}

func (c *Cache) ready(key string) *Evaluator {
	c.mu.RLock()
	ev := c.entries[key]
	c.mu.RUnlock()
	if ev != nil && ev.State() == Ready {
		return ev
	}
	return nil
}

func (c *Cache) attach(ev *Evaluator, provider MetricProvider) (*Evaluator, error) {
	if provider == nil {
		return ev, nil
	}
	if err := ev.SetMetricProvider(provider); err != nil {
		return nil, err
	}
	return ev, nil
}

// Get returns the cached set for equationID, or nil.
func (c *Cache) Get(equationID decimal.Decimal) *Evaluator {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.entries[generic.IDString(equationID)]
}

// Invalidate releases and forgets the set for equationID. A build already
// in flight still answers its callers but is not cached.
func (c *Cache) Invalidate(equationID decimal.Decimal) {
	key := generic.IDString(equationID)
	c.mu.Lock()
	ev := c.entries[key]
	delete(c.entries, key)
	c.generations[key]++
	c.mu.Unlock()
	if ev != nil {
		ev.Release()
		c.log.Info().Str("equation_id", key).Msg("invalidated")
	}
}

// Len counts cached entries, released ones included until rebuilt.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Close releases every cached set.
func (c *Cache) Close() {
	c.mu.Lock()
	entries := c.entries
	c.entries = make(map[string]*Evaluator)
	for key := range entries {
		c.generations[key]++
	}
	c.mu.Unlock()
	for _, ev := range entries {
		ev.Release()
	}
}
