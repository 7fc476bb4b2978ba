package throttle

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	QueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "vrnav_throttle_queue_depth",
			Help: "Number of deferred actions waiting across all throttles",
		},
	)

	// Actions counts drained actions by result (ok, panic, cancelled)
	Actions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vrnav_throttle_actions_total",
			Help: "Total number of deferred actions by result",
		},
		[]string{"result"},
	)
)

func init() {
	prometheus.MustRegister(QueueDepth)
	prometheus.MustRegister(Actions)
}

// Action is a deferred unit of work. The context is the one passed to Run.
type Action func(ctx context.Context)

type taskState int

const (
	statePending taskState = iota
	stateRunning
	stateDone
	stateCancelled
)

// Task is a queued action.
type Task struct {
	t      *Throttle
	action Action
	state  taskState
}

// Cancel removes the task from the queue. It reports false if the task has
// already started or was cancelled before.
func (k *Task) Cancel() bool {
	k.t.mu.Lock()
	defer k.t.mu.Unlock()
	if k.state != statePending {
		return false
	}
	k.state = stateCancelled
	k.t.pending--
	QueueDepth.Dec()
	Actions.WithLabelValues("cancelled").Inc()
	return true
}

// Throttle drains queued actions one at a time at a fixed rate. Actions never
// fail from the throttle's point of view: a panicking action is logged and
// the loop moves on.
type Throttle struct {
	interval time.Duration
	logger   *slog.Logger
	notify   chan struct{}

	mu      sync.Mutex
	queue   []*Task
	pending int // queued, not cancelled
	running bool
}

// New creates a throttle that runs at most perSecond actions per second.
func New(perSecond float64, logger *slog.Logger) *Throttle {
	if perSecond <= 0 {
		perSecond = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Throttle{
		interval: time.Duration(float64(time.Second) / perSecond),
		logger:   logger.With("component", "throttle"),
		notify:   make(chan struct{}, 1),
	}
}

// Enqueue appends an action to the queue.
func (t *Throttle) Enqueue(action Action) *Task {
	task := &Task{t: t, action: action}

	t.mu.Lock()
	t.queue = append(t.queue, task)
	t.pending++
	t.mu.Unlock()
	QueueDepth.Inc()

	select {
	case t.notify <- struct{}{}:
	default:
	}
	return task
}

// Pending returns the number of actions that are queued or executing.
func (t *Throttle) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := t.pending
	if t.running {
		n++
	}
	return n
}

// Interval is the pause between the end of one action and the start of the
// next.
func (t *Throttle) Interval() time.Duration {
	return t.interval
}

// Run drains the queue until ctx is done. After each action returns the loop
// sleeps for 1/perSecond, so slow actions never run back to back.
func (t *Throttle) Run(ctx context.Context) error {
	for {
		if !t.hasPending() {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-t.notify:
				continue
			}
		}

		task := t.pop()
		if task == nil {
			// everything queued was cancelled
			continue
		}
		t.execute(ctx, task)

		gap := time.NewTimer(t.interval)
		select {
		case <-ctx.Done():
			gap.Stop()
			return ctx.Err()
		case <-gap.C:
		}
	}
}

func (t *Throttle) hasPending() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pending > 0
}

func (t *Throttle) pop() *Task {
	t.mu.Lock()
	defer t.mu.Unlock()
	for len(t.queue) > 0 {
		task := t.queue[0]
		t.queue[0] = nil
		t.queue = t.queue[1:]
		if task.state != statePending {
			continue
		}
		task.state = stateRunning
		t.pending--
		t.running = true
		QueueDepth.Dec()
		return task
	}
	return nil
}

func (t *Throttle) execute(ctx context.Context, task *Task) {
	result := "ok"
	defer func() {
		if r := recover(); r != nil {
			result = "panic"
			t.logger.Error("deferred action panicked", "panic", fmt.Sprint(r))
		}
		t.mu.Lock()
		task.state = stateDone
		t.running = false
		t.mu.Unlock()
		Actions.WithLabelValues(result).Inc()
	}()
	task.action(ctx)
}
