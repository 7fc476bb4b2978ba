package throttle

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu    sync.Mutex
	order []int
	at    []time.Time
}

func (r *recorder) action(i int) Action {
	return func(ctx context.Context) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.order = append(r.order, i)
		r.at = append(r.at, time.Now())
	}
}

func (r *recorder) snapshot() ([]int, []time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int(nil), r.order...), append([]time.Time(nil), r.at...)
}

func TestThrottle_FIFOAndSpacing(t *testing.T) {
	th := New(20, nil) // one action every 50ms
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go th.Run(ctx)

	rec := &recorder{}
	for i := 0; i < 4; i++ {
		th.Enqueue(rec.action(i))
	}

	require.Eventually(t, func() bool {
		order, _ := rec.snapshot()
		return len(order) == 4
	}, 2*time.Second, 5*time.Millisecond)

	order, at := rec.snapshot()
	assert.Equal(t, []int{0, 1, 2, 3}, order)
	// three gaps of ~50ms; allow generous scheduling slack
	assert.GreaterOrEqual(t, at[3].Sub(at[0]), 120*time.Millisecond)
	assert.Equal(t, 0, th.Pending())
}

func TestThrottle_Cancel(t *testing.T) {
	th := New(50, nil)
	rec := &recorder{}

	keep := th.Enqueue(rec.action(1))
	drop := th.Enqueue(rec.action(2))
	th.Enqueue(rec.action(3))
	assert.Equal(t, 3, th.Pending())

	assert.True(t, drop.Cancel())
	assert.False(t, drop.Cancel())
	assert.Equal(t, 2, th.Pending())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go th.Run(ctx)

	require.Eventually(t, func() bool { return th.Pending() == 0 }, 2*time.Second, 5*time.Millisecond)
	order, _ := rec.snapshot()
	assert.Equal(t, []int{1, 3}, order)
	assert.False(t, keep.Cancel(), "completed tasks cannot be cancelled")
}

func TestThrottle_PanicDoesNotStopLoop(t *testing.T) {
	th := New(100, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go th.Run(ctx)

	rec := &recorder{}
	th.Enqueue(func(context.Context) { panic("boom") })
	th.Enqueue(rec.action(7))

	require.Eventually(t, func() bool {
		order, _ := rec.snapshot()
		return len(order) == 1
	}, 2*time.Second, 5*time.Millisecond)
}

func TestThrottle_RunStopsOnContext(t *testing.T) {
	th := New(10, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- th.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestThrottle_GapFollowsSlowAction(t *testing.T) {
	th := New(10, nil) // 100ms after each action
	assert.Equal(t, 100*time.Millisecond, th.Interval())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go th.Run(ctx)

	var (
		mu     sync.Mutex
		starts []time.Time
		ends   []time.Time
	)
	slow := func(context.Context) {
		mu.Lock()
		starts = append(starts, time.Now())
		mu.Unlock()
		time.Sleep(150 * time.Millisecond) // longer than the interval
		mu.Lock()
		ends = append(ends, time.Now())
		mu.Unlock()
	}
	th.Enqueue(slow)
	th.Enqueue(slow)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(starts) == 2
	}, 3*time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.GreaterOrEqual(t, starts[1].Sub(ends[0]), 95*time.Millisecond)
}

func TestThrottle_FirstActionRunsImmediately(t *testing.T) {
	th := New(1, nil) // one second between actions
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go th.Run(ctx)

	rec := &recorder{}
	enqueued := time.Now()
	th.Enqueue(rec.action(1))

	require.Eventually(t, func() bool {
		order, _ := rec.snapshot()
		return len(order) == 1
	}, 500*time.Millisecond, 5*time.Millisecond)
	_, at := rec.snapshot()
	assert.Less(t, at[0].Sub(enqueued), 500*time.Millisecond)
}
