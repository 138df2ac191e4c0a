package equation

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
	"github.com/warp/payroll-engine/generic"
)

// Compiler builds Evaluators and manages artifact identity: a named batch
// replaces (releases) whatever set previously held that name.
type Compiler struct {
	artifacts ArtifactStore
	log       zerolog.Logger

	mu       sync.Mutex
	loaded   map[string]*Evaluator
	compiles atomic.Int64
}

// CompilerOption configures a Compiler.
type CompilerOption func(*Compiler)

// WithArtifactStore persists named batches so Load can rebuild them after
// a restart.
func WithArtifactStore(s ArtifactStore) CompilerOption {
	return func(c *Compiler) { c.artifacts = s }
}

func WithLogger(log zerolog.Logger) CompilerOption {
	return func(c *Compiler) { c.log = log }
}

func NewCompiler(opts ...CompilerOption) *Compiler {
	c := &Compiler{log: zerolog.Nop(), loaded: make(map[string]*Evaluator)}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.With().Str("component", "compiler").Logger()
	return c
}

// Compiles counts compile attempts, successful or not.
func (c *Compiler) Compiles() int64 { return c.compiles.Load() }

// Compile builds a Ready Evaluator from batch. A named batch first
// releases the previous holder of its name and deletes its artifact; the
// new set is saved under the same name. On failure nothing is published
// and no artifact is left behind.
func (c *Compiler) Compile(ctx context.Context, batch Batch) (*Evaluator, error) {
	if batch.Name != "" {
		c.replace(batch.Name)
	}
	return c.build(ctx, batch, true)
}

// Load rebuilds a previously saved batch. A Ready set already holding the
// name is returned as is.
func (c *Compiler) Load(ctx context.Context, name string) (*Evaluator, error) {
	c.mu.Lock()
	prior := c.loaded[name]
	c.mu.Unlock()
	if prior != nil && prior.State() == Ready {
		return prior, nil
	}
	if c.artifacts == nil || !c.artifacts.Exists(name) {
		return nil, fmt.Errorf("%w: artifact %q", generic.ErrNotFound, name)
	}
	batch, err := c.artifacts.Load(name)
	if err != nil {
		return nil, fmt.Errorf("load artifact %q: %w", name, err)
	}
	batch.Name = name
	return c.build(ctx, batch, false)
}

// Exists reports whether an artifact is stored under name.
func (c *Compiler) Exists(name string) bool {
	return c.artifacts != nil && c.artifacts.Exists(name)
}

func (c *Compiler) build(ctx context.Context, batch Batch, persist bool) (*Evaluator, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.compiles.Add(1)
	log := c.log.With().Str("artifact", batch.Name).Int("equations", len(batch.Equations)).Logger()

	ev := newEvaluator(c, batch.Name)
	if err := ev.build(batch); err != nil {
		log.Warn().Err(err).Msg("compile failed")
		c.discard(batch.Name)
		return nil, err
	}

	if persist && batch.Name != "" && c.artifacts != nil {
		if err := c.artifacts.Save(batch.Name, batch); err != nil {
			ev.mu.Lock()
			ev.state = Failed
			ev.program = nil
			ev.mu.Unlock()
			c.discard(batch.Name)
			log.Error().Err(err).Msg("saving artifact failed")
			return nil, fmt.Errorf("save artifact %q: %w", batch.Name, err)
		}
	}

	if batch.Name != "" {
		c.mu.Lock()
		c.loaded[batch.Name] = ev
		c.mu.Unlock()
	}
	log.Debug().Strs("helpers", ev.Program().Helpers()).Msg("compiled")
	return ev, nil
}

// replace releases the current holder of name and clears any stale
// artifact left by an earlier process.
func (c *Compiler) replace(name string) {
	c.mu.Lock()
	prior := c.loaded[name]
	c.mu.Unlock()
	if prior != nil {
		prior.Release()
	}
	c.discard(name)
}

func (c *Compiler) discard(name string) {
	if name == "" || c.artifacts == nil || !c.artifacts.Exists(name) {
		return
	}
	if err := c.artifacts.Delete(name); err != nil {
		c.log.Warn().Err(err).Str("artifact", name).Msg("deleting artifact failed")
	}
}

// forget is called by Release. Only the current holder of a name removes
// it and its artifact; a set already replaced leaves the new one alone.
func (c *Compiler) forget(e *Evaluator) {
	if e.name == "" {
		return
	}
	c.mu.Lock()
	owner := c.loaded[e.name] == e
	if owner {
		delete(c.loaded, e.name)
	}
	c.mu.Unlock()
	if owner {
		c.discard(e.name)
		c.log.Debug().Str("artifact", e.name).Msg("released")
	}
}
