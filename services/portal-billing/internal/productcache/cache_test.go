package productcache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

type countingFetcher struct {
	mu    sync.Mutex
	calls [][]string
	names map[string]string
	err   error
}

func (f *countingFetcher) Fetch(_ context.Context, ids []string) (map[string]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, append([]string(nil), ids...))
	if f.err != nil {
		return nil, f.err
	}
	out := map[string]string{}
	for _, id := range ids {
		if n, ok := f.names[id]; ok {
			out[id] = n
		}
	}
	return out, nil
}

func TestResolveFetchesOncePerTTL(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	fetcher := &countingFetcher{names: map[string]string{"prod_a": "Hosting"}}
	c := New(DefaultTTL, WithClock(clock.Now))
	ctx := context.Background()

	names, err := c.Resolve(ctx, []string{"prod_a"}, fetcher.Fetch)
	require.NoError(t, err)
	assert.Equal(t, "Hosting", names["prod_a"])

	clock.Advance(23 * time.Hour)
	names, err = c.Resolve(ctx, []string{"prod_a"}, fetcher.Fetch)
	require.NoError(t, err)
	assert.Equal(t, "Hosting", names["prod_a"])
	assert.Len(t, fetcher.calls, 1, "second lookup within TTL is served from cache")

	clock.Advance(time.Hour)
	_, err = c.Resolve(ctx, []string{"prod_a"}, fetcher.Fetch)
	require.NoError(t, err)
	assert.Len(t, fetcher.calls, 2, "lookup after TTL refetches")
}

func TestResolveBatchesUncachedIDs(t *testing.T) {
	fetcher := &countingFetcher{names: map[string]string{"prod_a": "A", "prod_b": "B", "prod_c": "C"}}
	c := New(time.Hour)
	c.Put("prod_a", "A (cached)")

	names, err := c.Resolve(context.Background(), []string{"prod_a", "prod_b", "prod_c", "prod_b", ""}, fetcher.Fetch)
	require.NoError(t, err)
	require.Len(t, fetcher.calls, 1)
	assert.ElementsMatch(t, []string{"prod_b", "prod_c"}, fetcher.calls[0])
	assert.Equal(t, map[string]string{"prod_a": "A (cached)", "prod_b": "B", "prod_c": "C"}, names)

	_, err = c.Resolve(context.Background(), []string{"prod_a", "prod_b", "prod_c"}, fetcher.Fetch)
	require.NoError(t, err)
	assert.Len(t, fetcher.calls, 1, "fully warm cache makes no remote call")
}

func TestResolveFailureIsNotCached(t *testing.T) {
	fetcher := &countingFetcher{err: errors.New("gateway down")}
	c := New(time.Hour)
	c.Put("prod_a", "A")

	names, err := c.Resolve(context.Background(), []string{"prod_a", "prod_b"}, fetcher.Fetch)
	require.Error(t, err)
	assert.Equal(t, map[string]string{"prod_a": "A"}, names)

	fetcher.err = nil
	fetcher.names = map[string]string{"prod_b": "B"}
	names, err = c.Resolve(context.Background(), []string{"prod_b"}, fetcher.Fetch)
	require.NoError(t, err)
	assert.Equal(t, "B", names["prod_b"])
	assert.Len(t, fetcher.calls, 2)
}

func TestExpiredEntryIsEvictedOnRead(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	c := New(time.Minute, WithClock(clock.Now))
	c.Put("prod_a", "A")
	require.Equal(t, 1, c.Len())

	clock.Advance(time.Minute)
	_, ok := c.Get("prod_a")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())
}

func TestConcurrentAccess(t *testing.T) {
	c := New(time.Hour)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Put("prod_a", "A")
			_, _ = c.Get("prod_a")
		}()
	}
	wg.Wait()
	name, ok := c.Get("prod_a")
	assert.True(t, ok)
	assert.Equal(t, "A", name)
}
