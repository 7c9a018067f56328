package cache_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.opentelemetry.io/otel/metric/noop"

	"github.com/MrWong99/hushgate/internal/cache"
	"github.com/MrWong99/hushgate/internal/observe"
)

// ---- helpers ----------------------------------------------------------------

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	m, err := observe.NewMetrics(noop.NewMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}

func newCache(t *testing.T, clk *fakeClock, opts ...cache.Option[string]) *cache.Cache[string] {
	t.Helper()
	all := []cache.Option[string]{cache.WithClock[string](clk.Now), cache.WithMetrics[string](testMetrics(t))}
	c, err := cache.New(append(all, opts...)...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

// counting returns a compute func that counts calls and returns value.
func counting(n *atomic.Int32, value string) func(context.Context) (string, error) {
	return func(context.Context) (string, error) {
		n.Add(1)
		return value, nil
	}
}

// ---- tests ------------------------------------------------------------------

func TestNew_Validation(t *testing.T) {
	if _, err := cache.New(cache.WithTTL[int](0)); err == nil {
		t.Error("expected error for zero ttl")
	}
	if _, err := cache.New(cache.WithMaxEntries[int](-1)); err == nil {
		t.Error("expected error for negative max entries")
	}
}

func TestGetOrCompute_HitAfterMiss(t *testing.T) {
	t.Parallel()
	c := newCache(t, newFakeClock())
	var calls atomic.Int32

	v, cached, err := c.GetOrCompute(context.Background(), "k", counting(&calls, "v1"))
	if err != nil || v != "v1" || cached {
		t.Fatalf("first call = (%q, %v, %v), want (v1, false, nil)", v, cached, err)
	}
	v, cached, err = c.GetOrCompute(context.Background(), "k", counting(&calls, "v2"))
	if err != nil || v != "v1" || !cached {
		t.Fatalf("second call = (%q, %v, %v), want (v1, true, nil)", v, cached, err)
	}
	if calls.Load() != 1 {
		t.Errorf("compute called %d times, want 1", calls.Load())
	}
	st := c.Stats()
	if st.Hits != 1 || st.Misses != 1 || st.Entries != 1 {
		t.Errorf("stats = %+v", st)
	}
}

func TestGetOrCompute_ConcurrentSingleFlight(t *testing.T) {
	t.Parallel()
	c := newCache(t, newFakeClock())

	const n = 64
	var calls atomic.Int32
	release := make(chan struct{})
	compute := func(context.Context) (string, error) {
		calls.Add(1)
		<-release
		return "shared", nil
	}

	var (
		wg      sync.WaitGroup
		started sync.WaitGroup
		results [n]string
	)
	for i := range n {
		wg.Add(1)
		started.Add(1)
		go func() {
			defer wg.Done()
			started.Done()
			v, _, err := c.GetOrCompute(context.Background(), "same", compute)
			if err != nil {
				t.Errorf("caller %d: %v", i, err)
			}
			results[i] = v
		}()
	}
	started.Wait()
	// Give every goroutine time to join the flight before releasing it.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	if calls.Load() != 1 {
		t.Fatalf("compute called %d times, want 1", calls.Load())
	}
	for i, v := range results {
		if v != "shared" {
			t.Errorf("caller %d got %q", i, v)
		}
	}
	st := c.Stats()
	if st.Misses+st.SharedWaits+st.Hits != n {
		t.Errorf("stats do not account for every caller: %+v", st)
	}
}

func TestGetOrCompute_DistinctKeysRunInParallel(t *testing.T) {
	t.Parallel()
	c := newCache(t, newFakeClock())

	// Each compute waits until both have started; with a global lock this
	// would deadlock.
	var barrier sync.WaitGroup
	barrier.Add(2)
	compute := func(v string) func(context.Context) (string, error) {
		return func(context.Context) (string, error) {
			barrier.Done()
			barrier.Wait()
			return v, nil
		}
	}

	done := make(chan struct{})
	go func() {
		var wg sync.WaitGroup
		for _, k := range []string{"a", "b"} {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, _, _ = c.GetOrCompute(context.Background(), k, compute(k))
			}()
		}
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("computations for distinct keys did not overlap")
	}
}

func TestGetOrCompute_ExpiryRecomputes(t *testing.T) {
	t.Parallel()
	clk := newFakeClock()
	c := newCache(t, clk, cache.WithTTL[string](time.Hour))
	var calls atomic.Int32

	_, _, _ = c.GetOrCompute(context.Background(), "k", counting(&calls, "v"))
	clk.Advance(59 * time.Minute)
	if _, cached, _ := c.GetOrCompute(context.Background(), "k", counting(&calls, "v")); !cached {
		t.Error("entry expired before ttl")
	}
	clk.Advance(time.Minute)
	if _, cached, _ := c.GetOrCompute(context.Background(), "k", counting(&calls, "v")); cached {
		t.Error("entry served at exactly ttl")
	}
	if calls.Load() != 2 {
		t.Errorf("compute called %d times, want 2", calls.Load())
	}
	if c.Len() != 1 {
		t.Errorf("recompute should overwrite in place, len = %d", c.Len())
	}
}

func TestGetOrCompute_ErrorNotCached(t *testing.T) {
	t.Parallel()
	c := newCache(t, newFakeClock())
	boom := errors.New("provider down")

	_, _, err := c.GetOrCompute(context.Background(), "k", func(context.Context) (string, error) {
		return "", boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}
	if c.Len() != 0 {
		t.Fatalf("failed computation stored, len = %d", c.Len())
	}

	var calls atomic.Int32
	v, cached, err := c.GetOrCompute(context.Background(), "k", counting(&calls, "ok"))
	if err != nil || v != "ok" || cached || calls.Load() != 1 {
		t.Errorf("retry = (%q, %v, %v) calls=%d", v, cached, err, calls.Load())
	}
}

func TestGetOrCompute_CancelledCallerDetaches(t *testing.T) {
	t.Parallel()
	c := newCache(t, newFakeClock())

	release := make(chan struct{})
	var computeCtxErr atomic.Value
	compute := func(ctx context.Context) (string, error) {
		<-release
		computeCtxErr.Store(fmt.Sprint(ctx.Err()))
		return "done", nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	leaderErr := make(chan error, 1)
	go func() {
		_, _, err := c.GetOrCompute(ctx, "k", compute)
		leaderErr <- err
	}()

	// Wait for the flight to start, then attach a second caller.
	time.Sleep(20 * time.Millisecond)
	follower := make(chan string, 1)
	go func() {
		v, _, _ := c.GetOrCompute(context.Background(), "k", compute)
		follower <- v
	}()
	time.Sleep(20 * time.Millisecond)

	cancel()
	if err := <-leaderErr; !errors.Is(err, context.Canceled) {
		t.Fatalf("cancelled caller err = %v, want context.Canceled", err)
	}

	close(release)
	select {
	case v := <-follower:
		if v != "done" {
			t.Errorf("follower got %q", v)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("follower never received the shared result")
	}
	if got := computeCtxErr.Load(); got != "<nil>" {
		t.Errorf("compute context was cancelled: %v", got)
	}
	if _, ok := c.Get("k"); !ok {
		t.Error("result of detached computation not stored")
	}
}

func TestMaxEntries_EvictsOldest(t *testing.T) {
	t.Parallel()
	clk := newFakeClock()
	c := newCache(t, clk, cache.WithMaxEntries[string](3))

	for _, k := range []string{"a", "b", "c"} {
		c.Set(k, k)
		clk.Advance(time.Second)
	}
	// Refreshing "a" makes it the newest entry.
	c.Set("a", "a2")
	clk.Advance(time.Second)
	c.Set("d", "d")

	if _, ok := c.Get("b"); ok {
		t.Error("oldest entry b not evicted")
	}
	for _, k := range []string{"a", "c", "d"} {
		if _, ok := c.Get(k); !ok {
			t.Errorf("entry %s evicted", k)
		}
	}
	if st := c.Stats(); st.CapacityEvictions != 1 || st.Entries != 3 {
		t.Errorf("stats = %+v", st)
	}
}

func TestMaxEntries_ZeroIsUnbounded(t *testing.T) {
	t.Parallel()
	c := newCache(t, newFakeClock(), cache.WithMaxEntries[string](0))
	for i := range 5000 {
		c.Set(fmt.Sprint(i), "v")
	}
	if c.Len() != 5000 {
		t.Errorf("len = %d, want 5000", c.Len())
	}
}

func TestSweep_RemovesOnlyExpired(t *testing.T) {
	t.Parallel()
	clk := newFakeClock()
	c := newCache(t, clk, cache.WithTTL[string](10*time.Minute), cache.WithMaxEntries[string](0))

	for i := range 600 {
		c.Set(fmt.Sprintf("old-%d", i), "v")
	}
	clk.Advance(5 * time.Minute)
	c.Set("fresh", "v")
	clk.Advance(5 * time.Minute)

	if n := c.Sweep(); n != 600 {
		t.Errorf("swept %d, want 600", n)
	}
	if _, ok := c.Get("fresh"); !ok {
		t.Error("fresh entry swept")
	}
	if c.Len() != 1 {
		t.Errorf("len = %d, want 1", c.Len())
	}
	if n := c.Sweep(); n != 0 {
		t.Errorf("second sweep removed %d", n)
	}
	if st := c.Stats(); st.ExpiredEvictions != 600 {
		t.Errorf("expired evictions = %d", st.ExpiredEvictions)
	}
}

func TestSweep_EmptyCache(t *testing.T) {
	c := newCache(t, newFakeClock())
	if n := c.Sweep(); n != 0 {
		t.Errorf("swept %d from empty cache", n)
	}
}

func TestDeleteAndClear(t *testing.T) {
	t.Parallel()
	c := newCache(t, newFakeClock())
	c.Set("a", "1")
	c.Set("b", "2")
	c.Delete("a")
	if _, ok := c.Get("a"); ok {
		t.Error("deleted entry still present")
	}
	c.Delete("missing")
	c.Clear()
	if c.Len() != 0 {
		t.Errorf("len after clear = %d", c.Len())
	}
	if _, ok := c.Get("b"); ok {
		t.Error("entry survived Clear")
	}
	if err := c.Check(context.Background()); err != nil {
		t.Errorf("Check: %v", err)
	}
}

func TestJanitor_SweepsOnInterval(t *testing.T) {
	t.Parallel()
	clk := newFakeClock()
	c := newCache(t, clk, cache.WithTTL[string](time.Minute))
	c.Set("k", "v")
	clk.Advance(2 * time.Minute)

	j := cache.NewJanitor(c, 10*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- j.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for c.Len() != 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	if err := <-done; err != nil {
		t.Errorf("Run returned %v", err)
	}
	if c.Len() != 0 {
		t.Error("janitor did not remove expired entry")
	}
}

func TestJanitor_DefaultInterval(t *testing.T) {
	j := cache.NewJanitor(nil, 0)
	if j.Interval() != cache.DefaultSweepInterval {
		t.Errorf("interval = %v", j.Interval())
	}
}

func TestSweepers_SweepsEveryTarget(t *testing.T) {
	t.Parallel()
	clk := newFakeClock()
	a := newCache(t, clk, cache.WithTTL[string](time.Minute))
	b := newCache(t, clk, cache.WithTTL[string](time.Minute), cache.WithName[string]("verdicts"))
	a.Set("x", "1")
	b.Set("y", "2")
	b.Set("z", "3")
	clk.Advance(2 * time.Minute)

	if n := (cache.Sweepers{a, b}).Sweep(); n != 3 {
		t.Fatalf("Sweep removed %d, want 3", n)
	}
	if a.Len() != 0 || b.Len() != 0 {
		t.Fatalf("len after sweep = %d/%d", a.Len(), b.Len())
	}
}
