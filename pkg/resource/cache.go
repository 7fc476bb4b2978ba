package resource

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/ElishaAz/VR-Navigation/pkg/graph"
)

var (
	// ErrResourceUnavailable is returned when a location image is missing or
	// cannot be decoded. Failed loads are never cached.
	ErrResourceUnavailable = errors.New("resource: unavailable")

	// ErrDoubleFree is returned by a strict Release of a key that is not
	// resident. It indicates a caller bug.
	ErrDoubleFree = errors.New("resource: release of a key that is not resident")

	// ErrClosed is returned by loads issued after Close.
	ErrClosed = errors.New("resource: cache closed")
)

// DefaultMaxDecodes bounds concurrent decodes when Options leaves it unset.
const DefaultMaxDecodes = 4

// Options configures a Cache.
type Options struct {
	Decoder    Decoder // defaults to FileDecoder
	MaxDecodes int64   // concurrent decodes across all keys
	Logger     *slog.Logger
}

type entry struct {
	payload *Payload
	refs    int
}

// flight is a decode in progress. Callers that find a flight wait on done
// instead of starting their own decode; each waiter is credited one reference
// when the decode succeeds.
type flight struct {
	done    chan struct{}
	waiters int
	payload *Payload
	err     error
}

// Cache is a reference-counted store of decoded location images for one map.
// An entry is resident exactly while its reference count is at least one.
// Loads for the same key are coalesced; loads for different keys run
// concurrently up to Options.MaxDecodes.
type Cache struct {
	root    string
	decoder Decoder
	sem     *semaphore.Weighted
	logger  *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	entries map[graph.Key]*entry
	flights map[graph.Key]*flight
	closed  bool
}

// New creates a cache that resolves image paths against root.
func New(root string, opts Options) *Cache {
	if opts.Decoder == nil {
		opts.Decoder = FileDecoder{}
	}
	if opts.MaxDecodes <= 0 {
		opts.MaxDecodes = DefaultMaxDecodes
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Cache{
		root:    root,
		decoder: opts.Decoder,
		sem:     semaphore.NewWeighted(opts.MaxDecodes),
		logger:  opts.Logger.With("component", "cache"),
		ctx:     ctx,
		cancel:  cancel,
		entries: make(map[graph.Key]*entry),
		flights: make(map[graph.Key]*flight),
	}
}

// Root returns the directory image paths are resolved against.
func (c *Cache) Root() string {
	return c.root
}

// Acquire takes a reference on loc's image, decoding it if it is not
// resident. The returned handle must be released exactly once.
//
// If ctx ends while the decode is still running the caller gives up its
// claim and no reference is taken; the decode itself continues for any
// other waiters.
func (c *Cache) Acquire(ctx context.Context, loc graph.Location) (*Handle, error) {
	p, err := c.acquire(ctx, loc)
	if err != nil {
		return nil, err
	}
	return newHandle(c, loc.Key(), p), nil
}

// TryAcquire takes a reference only if the key is already resident.
func (c *Cache) TryAcquire(key graph.Key) (*Handle, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok || c.closed {
		return nil, false
	}
	e.refs++
	CacheLookups.WithLabelValues("hit").Inc()
	return newHandle(c, key, e.payload), true
}

// Get returns loc's payload. A resident entry is returned without touching
// its count; otherwise the image is loaded and inserted with count one.
//
// When another caller's Acquire already has the image in flight, Get waits
// for that load and takes no reference of its own; the entry's count is
// owned by the acquirers. If they all give up before the load completes the
// load is discarded and Get starts its own.
func (c *Cache) Get(ctx context.Context, loc graph.Location) (*Payload, error) {
	key := loc.Key()
	for {
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return nil, ErrClosed
		}
		if e, ok := c.entries[key]; ok {
			c.mu.Unlock()
			CacheLookups.WithLabelValues("hit").Inc()
			return e.payload, nil
		}
		f, ok := c.flights[key]
		c.mu.Unlock()
		if !ok {
			return c.acquire(ctx, loc)
		}

		CacheLookups.WithLabelValues("joined").Inc()
		select {
		case <-f.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		if f.err != nil {
			return nil, f.err
		}
		if f.payload != nil {
			return f.payload, nil
		}
	}
}

func (c *Cache) acquire(ctx context.Context, loc graph.Location) (*Payload, error) {
	key := loc.Key()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	if e, ok := c.entries[key]; ok {
		e.refs++
		c.mu.Unlock()
		CacheLookups.WithLabelValues("hit").Inc()
		return e.payload, nil
	}
	f, ok := c.flights[key]
	if ok {
		f.waiters++
		CacheLookups.WithLabelValues("joined").Inc()
	} else {
		f = &flight{done: make(chan struct{}), waiters: 1}
		c.flights[key] = f
		CacheLookups.WithLabelValues("miss").Inc()
		c.wg.Add(1)
		go c.load(loc, f)
	}
	c.mu.Unlock()

	select {
	case <-f.done:
	case <-ctx.Done():
		c.mu.Lock()
		select {
		case <-f.done:
			// completed while we were taking the lock; our reference is
			// already credited
			c.mu.Unlock()
		default:
			f.waiters--
			c.mu.Unlock()
			return nil, ctx.Err()
		}
	}

	if f.err != nil {
		return nil, f.err
	}
	return f.payload, nil
}

// load decodes loc outside the lock and publishes the result. done is closed
// while holding the lock so waiters see a consistent waiter count.
func (c *Cache) load(loc graph.Location, f *flight) {
	defer c.wg.Done()
	key := loc.Key()

	payload, err := c.decode(loc)

	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.flights, key)

	switch {
	case err != nil:
		f.err = err
	case c.closed:
		f.err = ErrClosed
	case f.waiters > 0:
		c.entries[key] = &entry{payload: payload, refs: f.waiters}
		CacheResident.Inc()
		f.payload = payload
	default:
		// every waiter gave up; nothing holds the image
		c.logger.Debug("discarding abandoned load", "key", key.String())
	}
	close(f.done)
}

func (c *Cache) decode(loc graph.Location) (*Payload, error) {
	if err := c.sem.Acquire(c.ctx, 1); err != nil {
		return nil, ErrClosed
	}
	defer c.sem.Release(1)

	start := time.Now()
	payload, err := c.decoder.Decode(c.ctx, c.root, loc)
	CacheDecodeSeconds.Observe(time.Since(start).Seconds())

	if err != nil {
		CacheDecodes.WithLabelValues("error").Inc()
		if !errors.Is(err, ErrResourceUnavailable) {
			err = fmt.Errorf("%w: %s: %v", ErrResourceUnavailable, loc.Path, err)
		}
		c.logger.Warn("image load failed", "location", int(loc.ID), "path", loc.Path, "error", err)
		return nil, err
	}
	CacheDecodes.WithLabelValues("ok").Inc()
	return payload, nil
}

// Release drops one reference on key and evicts the entry when the count
// reaches zero. Releasing an absent key is ErrDoubleFree unless
// tolerateMissing is set, in which case it is a no-op.
func (c *Cache) Release(key graph.Key, tolerateMissing bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}

	e, ok := c.entries[key]
	if !ok {
		if tolerateMissing {
			return nil
		}
		CacheDoubleFrees.Inc()
		c.logger.Error("release of non-resident key", "key", key.String())
		return fmt.Errorf("%w: %s", ErrDoubleFree, key)
	}

	e.refs--
	if e.refs == 0 {
		delete(c.entries, key)
		CacheResident.Dec()
		CacheEvictions.Inc()
		c.logger.Debug("evicted", "key", key.String())
	}
	return nil
}

// Contains reports whether key is resident.
func (c *Cache) Contains(key graph.Key) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[key]
	return ok
}

// RefCount returns key's reference count, or zero if it is not resident.
func (c *Cache) RefCount(key graph.Key) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[key]; ok {
		return e.refs
	}
	return 0
}

// Len returns the number of resident entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// EntryInfo describes a resident entry.
type EntryInfo struct {
	Key  graph.Key `json:"key"`
	Refs int       `json:"refs"`
}

// Snapshot lists resident entries ordered by location id.
func (c *Cache) Snapshot() []EntryInfo {
	c.mu.Lock()
	out := make([]EntryInfo, 0, len(c.entries))
	for k, e := range c.entries {
		out = append(out, EntryInfo{Key: k, Refs: e.refs})
	}
	c.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Key.ID != out[j].Key.ID {
			return out[i].Key.ID < out[j].Key.ID
		}
		return out[i].Key.Path < out[j].Key.Path
	})
	return out
}

// Close drops every entry and waits for in-flight decodes to finish.
// Outstanding handles become inert.
func (c *Cache) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	CacheResident.Sub(float64(len(c.entries)))
	c.entries = make(map[graph.Key]*entry)
	c.mu.Unlock()

	c.cancel()
	c.wg.Wait()
}
