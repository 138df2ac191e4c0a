package equation_test

import (
	"context"
	"errors"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/payroll-engine/equation"
	"github.com/warp/payroll-engine/generic"
)

// countingRepo serves one batch for every id and counts fetches. When gate
// is set, fetches block until it is closed.
type countingRepo struct {
	batch   equation.Batch
	fetches atomic.Int64
	gate    chan struct{}

	mu      sync.Mutex
	lastCtx context.Context
}

func (r *countingRepo) FetchDefinitions(ctx context.Context, _ decimal.Decimal) ([]equation.Definition, []equation.Variable, error) {
	r.mu.Lock()
	r.lastCtx = ctx
	r.mu.Unlock()
	r.fetches.Add(1)
	if r.gate != nil {
		select {
		case <-r.gate:
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		}
	}
	return r.batch.Equations, r.batch.Variables, nil
}

func (r *countingRepo) fetchContext() context.Context {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastCtx
}

// callersInBuild counts goroutines inside the cache's shared build call,
// the one running it included.
func callersInBuild() int {
	buf := make([]byte, 1<<20)
	n := runtime.Stack(buf, true)
	return strings.Count(string(buf[:n]), "singleflight.(*Group).Do(")
}

func newTestCache() (*equation.Cache, *equation.Compiler) {
	c := equation.NewCompiler()
	return equation.NewCache(c, zerolog.Nop()), c
}

func TestCache_ConcurrentColdBuildsCompileOnce(t *testing.T) {
	cache, compiler := newTestCache()
	repo := &countingRepo{batch: payBatch(""), gate: make(chan struct{})}
	id := dec("42")

	const callers = 8
	results := make([]*equation.Evaluator, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ev, err := cache.GetOrBuild(context.Background(), id, repo, locationHours)
			assert.NoError(t, err)
			results[i] = ev
		}(i)
	}

	// WHEN every caller is waiting on the one blocked fetch
	require.Eventually(t, func() bool {
		return repo.fetches.Load() == 1 && callersInBuild() == callers
	}, 5*time.Second, time.Millisecond)
	close(repo.gate)
	wg.Wait()

	// THEN they all got the single compilation
	assert.Equal(t, int64(1), repo.fetches.Load())
	assert.Equal(t, int64(1), compiler.Compiles())
	assert.Equal(t, 1, cache.Len())
	for _, ev := range results {
		require.NotNil(t, ev)
		assert.Equal(t, equation.Ready, ev.State())
		assert.Same(t, results[0], ev)
	}
	assert.Equal(t, "equation_42", results[0].Name())
}

func TestCache_CancelledCallerDoesNotFailOthers(t *testing.T) {
	cache, compiler := newTestCache()
	repo := &countingRepo{batch: payBatch(""), gate: make(chan struct{})}
	id := dec("7")

	// GIVEN a first caller whose request goes away mid-build
	first, cancel := context.WithCancel(context.Background())
	defer cancel()

	errs := make([]error, 2)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, errs[0] = cache.GetOrBuild(first, id, repo, locationHours)
	}()
	require.Eventually(t, func() bool { return repo.fetches.Load() == 1 }, 5*time.Second, time.Millisecond)

	// AND a second caller joining the same build
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, errs[1] = cache.GetOrBuild(context.Background(), id, repo, locationHours)
	}()
	require.Eventually(t, func() bool { return callersInBuild() == 2 }, 5*time.Second, time.Millisecond)

	// WHEN the first request is cancelled
	cancel()
	assert.NoError(t, repo.fetchContext().Err())
	close(repo.gate)
	wg.Wait()

	// THEN the build still completes for both
	assert.NoError(t, errs[0])
	assert.NoError(t, errs[1])
	assert.Equal(t, int64(1), compiler.Compiles())
	require.NotNil(t, cache.Get(id))
	assert.Equal(t, equation.Ready, cache.Get(id).State())
}

func TestCache_WarmHitReappliesProvider(t *testing.T) {
	cache, compiler := newTestCache()
	repo := &countingRepo{batch: payBatch("")}
	ctx := context.Background()

	ev, err := cache.GetOrBuild(ctx, dec("1"), repo, locationHours)
	require.NoError(t, err)
	ev.SetParameters(equation.Params{LocationID: dec("2")})
	assert.True(t, dec("20").Equal(evalDecimal(t, ev, "Pay")))

	constant := equation.MetricProviderFunc(func(context.Context, string, equation.Params) (decimal.Decimal, error) {
		return dec("5"), nil
	})
	again, err := cache.GetOrBuild(ctx, dec("1"), repo, constant)
	require.NoError(t, err)

	assert.Same(t, ev, again)
	assert.True(t, dec("50").Equal(evalDecimal(t, again, "Pay")))
	assert.Equal(t, int64(1), compiler.Compiles())
	assert.Equal(t, int64(1), repo.fetches.Load())
}

func TestCache_LookupMissForcesRebuild(t *testing.T) {
	cache, compiler := newTestCache()
	repo := &countingRepo{batch: payBatch("")}
	ctx := context.Background()

	ev, err := cache.GetOrBuild(ctx, dec("7"), repo, locationHours)
	require.NoError(t, err)

	_, err = ev.Evaluate(ctx, "Typo")
	require.True(t, errors.Is(err, generic.ErrNotFound))

	rebuilt, err := cache.GetOrBuild(ctx, dec("7"), repo, locationHours)
	require.NoError(t, err)

	assert.NotSame(t, ev, rebuilt)
	assert.Equal(t, equation.Ready, rebuilt.State())
	assert.Equal(t, int64(2), compiler.Compiles())
	assert.Equal(t, 1, cache.Len())
}

func TestCache_Invalidate(t *testing.T) {
	cache, compiler := newTestCache()
	repo := &countingRepo{batch: payBatch("")}
	ctx := context.Background()

	ev, err := cache.GetOrBuild(ctx, dec("3"), repo, nil)
	require.NoError(t, err)

	cache.Invalidate(dec("3"))
	assert.Equal(t, equation.Released, ev.State())
	assert.Equal(t, 0, cache.Len())
	assert.Nil(t, cache.Get(dec("3")))

	_, err = cache.GetOrBuild(ctx, dec("3"), repo, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(2), compiler.Compiles())
}

func TestCache_InvalidateDuringBuildIsNotCached(t *testing.T) {
	cache, _ := newTestCache()
	repo := &countingRepo{batch: payBatch(""), gate: make(chan struct{})}

	done := make(chan *equation.Evaluator)
	go func() {
		ev, err := cache.GetOrBuild(context.Background(), dec("5"), repo, nil)
		assert.NoError(t, err)
		done <- ev
	}()

	// wait until the build is blocked inside the repository
	for repo.fetches.Load() == 0 {
		runtime.Gosched()
	}
	cache.Invalidate(dec("5"))
	close(repo.gate)

	ev := <-done
	require.NotNil(t, ev)
	assert.Equal(t, equation.Ready, ev.State())
	assert.Equal(t, 0, cache.Len())
}

func TestCache_BuildErrorsAreReturned(t *testing.T) {
	cache, _ := newTestCache()
	bad := payBatch("")
	bad.Equations[0].Expression = "[Hours] [Rate]"
	repo := &countingRepo{batch: bad}

	_, err := cache.GetOrBuild(context.Background(), dec("9"), repo, nil)

	var be *equation.BuildError
	require.True(t, errors.As(err, &be))
	assert.Equal(t, "equation_9", be.Artifact)
	assert.Equal(t, 0, cache.Len())
}

func TestCache_Close(t *testing.T) {
	cache, _ := newTestCache()
	repo := &countingRepo{batch: payBatch("")}

	a, err := cache.GetOrBuild(context.Background(), dec("1"), repo, nil)
	require.NoError(t, err)
	b, err := cache.GetOrBuild(context.Background(), dec("2"), repo, nil)
	require.NoError(t, err)

	cache.Close()

	assert.Equal(t, equation.Released, a.State())
	assert.Equal(t, equation.Released, b.State())
	assert.Equal(t, 0, cache.Len())
}
