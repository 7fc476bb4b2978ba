package resource

import (
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ElishaAz/VR-Navigation/pkg/graph"
)

// gatedDecoder counts decodes and blocks each one until gate is closed.
type gatedDecoder struct {
	calls atomic.Int32
	gate  chan struct{}
	fail  map[string]bool
}

func newGatedDecoder(open bool) *gatedDecoder {
	d := &gatedDecoder{gate: make(chan struct{}), fail: map[string]bool{}}
	if open {
		close(d.gate)
	}
	return d
}

func (d *gatedDecoder) Decode(ctx context.Context, root string, loc graph.Location) (*Payload, error) {
	d.calls.Add(1)
	select {
	case <-d.gate:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if d.fail[loc.Path] {
		return nil, errors.New("corrupt")
	}
	return &Payload{Key: loc.Key(), Data: []byte(loc.Path)}, nil
}

func loc(id int) graph.Location {
	return graph.Location{ID: graph.LocationID(id), Path: "img" + string(rune('a'+id)) + ".jpg"}
}

func TestAcquireRelease_RefCount(t *testing.T) {
	c := New("", Options{Decoder: newGatedDecoder(true)})
	defer c.Close()
	ctx := context.Background()
	l := loc(1)

	h1, err := c.Acquire(ctx, l)
	require.NoError(t, err)
	h2, err := c.Acquire(ctx, l)
	require.NoError(t, err)
	assert.Same(t, h1.Payload(), h2.Payload())
	assert.Equal(t, 2, c.RefCount(l.Key()))

	require.NoError(t, h1.Release())
	require.NoError(t, h1.Release()) // idempotent
	assert.True(t, c.Contains(l.Key()))
	assert.Equal(t, 1, c.RefCount(l.Key()))

	require.NoError(t, h2.Release())
	assert.False(t, c.Contains(l.Key()))
	assert.Equal(t, 0, c.Len())
}

func TestResidency_TracksRunningBalance(t *testing.T) {
	c := New("", Options{Decoder: newGatedDecoder(true)})
	defer c.Close()
	ctx := context.Background()
	l := loc(2)
	rng := rand.New(rand.NewSource(7))

	balance := 0
	for i := 0; i < 500; i++ {
		if balance == 0 || rng.Intn(2) == 0 {
			_, err := c.Acquire(ctx, l)
			require.NoError(t, err)
			balance++
		} else {
			require.NoError(t, c.Release(l.Key(), false))
			balance--
		}
		require.Equal(t, balance > 0, c.Contains(l.Key()), "step %d", i)
		require.Equal(t, balance, c.RefCount(l.Key()), "step %d", i)
	}
}

func TestAcquire_ConcurrentSingleDecode(t *testing.T) {
	dec := newGatedDecoder(false)
	c := New("", Options{Decoder: dec})
	defer c.Close()
	l := loc(3)

	const callers = 16
	payloads := make([]*Payload, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			h, err := c.Acquire(context.Background(), l)
			if assert.NoError(t, err) {
				payloads[i] = h.Payload()
			}
		}(i)
	}

	require.Eventually(t, func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		f, ok := c.flights[l.Key()]
		return ok && f.waiters == callers
	}, time.Second, time.Millisecond)

	close(dec.gate)
	wg.Wait()

	assert.Equal(t, int32(1), dec.calls.Load())
	for _, p := range payloads {
		assert.Same(t, payloads[0], p)
	}
	assert.Equal(t, callers, c.RefCount(l.Key()))
}

func TestAcquire_DifferentKeysLoadConcurrently(t *testing.T) {
	dec := newGatedDecoder(false)
	c := New("", Options{Decoder: dec, MaxDecodes: 4})
	defer c.Close()

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := c.Acquire(context.Background(), loc(i))
			assert.NoError(t, err)
		}(i)
	}

	// all three decoders are running at once
	require.Eventually(t, func() bool { return dec.calls.Load() == 3 }, time.Second, time.Millisecond)
	close(dec.gate)
	wg.Wait()
	assert.Equal(t, 3, c.Len())
}

func TestRelease_TolerantMissingIsNoop(t *testing.T) {
	c := New("", Options{Decoder: newGatedDecoder(true)})
	defer c.Close()
	key := loc(4).Key()

	assert.NoError(t, c.Release(key, true))
	assert.False(t, c.Contains(key))
	assert.Equal(t, 0, c.Len())
}

func TestRelease_StrictMissingIsDoubleFree(t *testing.T) {
	c := New("", Options{Decoder: newGatedDecoder(true)})
	defer c.Close()
	l := loc(5)

	err := c.Release(l.Key(), false)
	assert.ErrorIs(t, err, ErrDoubleFree)

	h, err := c.Acquire(context.Background(), l)
	require.NoError(t, err)
	require.NoError(t, h.Release())
	assert.ErrorIs(t, c.Release(l.Key(), false), ErrDoubleFree)
}

func TestAcquire_FailureNotCached(t *testing.T) {
	dec := newGatedDecoder(true)
	l := loc(6)
	dec.fail[l.Path] = true
	c := New("", Options{Decoder: dec})
	defer c.Close()

	_, err := c.Acquire(context.Background(), l)
	assert.ErrorIs(t, err, ErrResourceUnavailable)
	assert.False(t, c.Contains(l.Key()))

	_, err = c.Get(context.Background(), l)
	assert.ErrorIs(t, err, ErrResourceUnavailable)
	assert.Equal(t, int32(2), dec.calls.Load())

	// other keys are unaffected
	_, err = c.Acquire(context.Background(), loc(7))
	assert.NoError(t, err)
}

func TestGet_InsertsOnceWithoutCounting(t *testing.T) {
	dec := newGatedDecoder(true)
	c := New("", Options{Decoder: dec})
	defer c.Close()
	l := loc(8)

	p1, err := c.Get(context.Background(), l)
	require.NoError(t, err)
	p2, err := c.Get(context.Background(), l)
	require.NoError(t, err)

	assert.Same(t, p1, p2)
	assert.Equal(t, 1, c.RefCount(l.Key()))
	assert.Equal(t, int32(1), dec.calls.Load())
}

func TestGet_JoinsInFlightAcquireWithoutReference(t *testing.T) {
	dec := newGatedDecoder(false)
	c := New("", Options{Decoder: dec})
	defer c.Close()
	l := loc(11)
	joined := CacheLookups.WithLabelValues("joined")
	joinedBefore := testutil.ToFloat64(joined)

	hc := make(chan *Handle, 1)
	go func() {
		h, err := c.Acquire(context.Background(), l)
		assert.NoError(t, err)
		hc <- h
	}()
	require.Eventually(t, func() bool { return dec.calls.Load() == 1 }, time.Second, time.Millisecond)

	pc := make(chan *Payload, 1)
	go func() {
		p, err := c.Get(context.Background(), l)
		assert.NoError(t, err)
		pc <- p
	}()
	require.Eventually(t, func() bool { return testutil.ToFloat64(joined) > joinedBefore }, time.Second, time.Millisecond)

	close(dec.gate)
	h := <-hc
	p := <-pc
	require.NotNil(t, h)
	assert.Same(t, h.Payload(), p)
	assert.Equal(t, 1, c.RefCount(l.Key()))
	assert.Equal(t, int32(1), dec.calls.Load())

	require.NoError(t, h.Release())
	assert.False(t, c.Contains(l.Key()))
}

func TestTryAcquire(t *testing.T) {
	c := New("", Options{Decoder: newGatedDecoder(true)})
	defer c.Close()
	l := loc(9)

	_, ok := c.TryAcquire(l.Key())
	assert.False(t, ok)
	assert.False(t, c.Contains(l.Key()))

	h, err := c.Acquire(context.Background(), l)
	require.NoError(t, err)
	h2, ok := c.TryAcquire(l.Key())
	require.True(t, ok)
	assert.Same(t, h.Payload(), h2.Payload())
	assert.Equal(t, 2, c.RefCount(l.Key()))
}

func TestAcquire_CancelledWaiterTakesNoReference(t *testing.T) {
	dec := newGatedDecoder(false)
	c := New("", Options{Decoder: dec})
	defer c.Close()
	l := loc(10)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		_, err := c.Acquire(ctx, l)
		errc <- err
	}()
	require.Eventually(t, func() bool { return dec.calls.Load() == 1 }, time.Second, time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-errc, context.Canceled)

	// tolerant release of the abandoned key is a no-op
	assert.NoError(t, c.Release(l.Key(), true))

	close(dec.gate)
	require.Eventually(t, func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		return len(c.flights) == 0
	}, time.Second, time.Millisecond)
	assert.False(t, c.Contains(l.Key()))
}

func TestClose_RejectsLoads(t *testing.T) {
	c := New("", Options{Decoder: newGatedDecoder(true)})
	h, err := c.Acquire(context.Background(), loc(11))
	require.NoError(t, err)

	c.Close()
	assert.Equal(t, 0, c.Len())
	assert.NoError(t, h.Release())

	_, err = c.Acquire(context.Background(), loc(11))
	assert.ErrorIs(t, err, ErrClosed)
}

func TestFileDecoder(t *testing.T) {
	root := t.TempDir()
	img := image.NewRGBA(image.Rect(0, 0, 4, 2))
	img.Set(1, 1, color.RGBA{R: 255, A: 255})

	f, err := os.Create(filepath.Join(root, "pano.png"))
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, img))
	require.NoError(t, f.Close())
	require.NoError(t, os.WriteFile(filepath.Join(root, "broken.jpg"), []byte("not an image"), 0o644))

	c := New(root, Options{})
	defer c.Close()
	ctx := context.Background()

	p, err := c.Get(ctx, graph.Location{ID: 1, Path: "pano.png"})
	require.NoError(t, err)
	assert.Equal(t, "png", p.Format)
	assert.Equal(t, image.Rect(0, 0, 4, 2), p.Bounds)

	_, err = c.Get(ctx, graph.Location{ID: 2, Path: "missing.png"})
	assert.ErrorIs(t, err, ErrResourceUnavailable)

	_, err = c.Get(ctx, graph.Location{ID: 3, Path: "broken.jpg"})
	assert.ErrorIs(t, err, ErrResourceUnavailable)

	_, err = c.Get(ctx, graph.Location{ID: 4, Path: "../outside.png"})
	assert.ErrorIs(t, err, ErrResourceUnavailable)
}
