/*
scheduler.go - Background cache warming

PURPOSE:
  The first evaluation of an equation id pays for fetching and compiling
  its definitions. The warmer walks every stored id on a schedule and
  builds the compiled sets that are missing, so payroll runs start warm.

DESIGN:
  - Runs a background goroutine with a configurable interval
  - Runs once immediately on start
  - Ids that already have a ready compiled set are skipped by the cache
  - Ids that fail to compile are logged and retried next round

USAGE:
  warmer := NewCacheWarmer(store, cache, log)
  warmer.Start()
  // ... later
  warmer.Stop()

SEE ALSO:
  - equation/cache.go: GetOrBuild
*/
package api

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/warp/payroll-engine/equation"
	"github.com/warp/payroll-engine/store"
)

// CacheWarmer periodically pre-builds compiled sets for stored equations.
type CacheWarmer struct {
	Store    store.Store
	Cache    *equation.Cache
	Interval time.Duration
	Enabled  bool

	log    zerolog.Logger
	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

func NewCacheWarmer(s store.Store, cache *equation.Cache, log zerolog.Logger) *CacheWarmer {
	return &CacheWarmer{
		Store:    s,
		Cache:    cache,
		Interval: 15 * time.Minute,
		Enabled:  true,
		log:      log.With().Str("component", "warmer").Logger(),
	}
}

func (cw *CacheWarmer) Start() {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	if !cw.Enabled || cw.Interval <= 0 {
		cw.log.Info().Msg("cache warmer disabled")
		return
	}
	if cw.ticker != nil {
		return
	}

	cw.ticker = time.NewTicker(cw.Interval)
	cw.stop = make(chan struct{})
	cw.wg.Add(1)
	go cw.run()

	cw.log.Info().Dur("interval", cw.Interval).Msg("cache warmer started")
}

// Stop waits for an in-flight round to finish.
func (cw *CacheWarmer) Stop() {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	if cw.ticker == nil {
		return
	}
	cw.ticker.Stop()
	close(cw.stop)
	cw.wg.Wait()
	cw.ticker = nil
	cw.log.Info().Msg("cache warmer stopped")
}

func (cw *CacheWarmer) run() {
	defer cw.wg.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-cw.stop
		cancel()
	}()

	cw.Warm(ctx)
	for {
		select {
		case <-cw.ticker.C:
			cw.Warm(ctx)
		case <-cw.stop:
			return
		}
	}
}

// Warm builds the compiled set of every stored id and returns how many
// are ready afterwards.
func (cw *CacheWarmer) Warm(ctx context.Context) int {
	ids, err := cw.Store.ListEquationIDs(ctx)
	if err != nil {
		cw.log.Error().Err(err).Msg("listing equations failed")
		return 0
	}

	ready := 0
	for _, id := range ids {
		if ctx.Err() != nil {
			break
		}
		if _, err := cw.Cache.GetOrBuild(ctx, id, cw.Store, cw.Store); err != nil {
			cw.log.Warn().Err(err).Str("equation", equation.ArtifactName(id)).Msg("warming failed")
			continue
		}
		ready++
	}
	cw.log.Debug().Int("ready", ready).Int("stored", len(ids)).Msg("cache warmed")
	return ready
}
