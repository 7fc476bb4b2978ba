package tour

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ElishaAz/VR-Navigation/pkg/graph"
	"github.com/ElishaAz/VR-Navigation/pkg/resource"
	"github.com/ElishaAz/VR-Navigation/pkg/throttle"
)

var (
	// ErrNotInitialized is returned by traversal calls made before Init.
	ErrNotInitialized = errors.New("tour: not initialized")

	// ErrUnknownHotspot is returned when no hotspot of the current location
	// leads to the requested id.
	ErrUnknownHotspot = errors.New("tour: no hotspot leads to that location")
)

// DefaultActionsPerSecond paces the internal throttle.
const DefaultActionsPerSecond = 10

// Event is delivered to observers after every successful Init or GoTo.
type Event struct {
	Map     string           `json:"map"`
	Policy  Policy           `json:"policy"`
	From    graph.LocationID `json:"from"`
	To      graph.Location   `json:"to"`
	Initial bool             `json:"initial"`
	At      time.Time        `json:"at"`
}

// Options configures a Controller.
type Options struct {
	Policy Policy

	// Throttle paces preload and deferred release work. When nil the
	// controller runs its own at ActionsPerSecond.
	Throttle         *throttle.Throttle
	ActionsPerSecond float64

	Cache  resource.Options
	Logger *slog.Logger
	Clock  func() time.Time
}

// Controller is the traversal state machine for one tour. It owns the
// current location, its hotspots and the resource cache of the bound map.
type Controller struct {
	policy   Policy
	throttle *throttle.Throttle
	cacheOpt resource.Options
	logger   *slog.Logger
	clock    func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	loads  sync.WaitGroup

	obsMu     sync.Mutex
	observers []func(Event)

	mu        sync.Mutex
	graph     *graph.Graph
	cache     *resource.Cache
	current   graph.Location
	display   *resource.Handle
	payload   *resource.Payload
	enteredAt time.Time
	hotspots  []*hotspot
}

// New creates an uninitialized controller.
func New(opts Options) (*Controller, error) {
	if _, err := ParsePolicy(string(opts.Policy)); err != nil {
		return nil, err
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Cache.Logger == nil {
		opts.Cache.Logger = opts.Logger
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		policy:   opts.Policy,
		throttle: opts.Throttle,
		cacheOpt: opts.Cache,
		logger:   opts.Logger.With("component", "tour", "policy", string(opts.Policy)),
		clock:    opts.Clock,
		ctx:      ctx,
		cancel:   cancel,
	}

	if c.throttle == nil {
		rate := opts.ActionsPerSecond
		if rate <= 0 {
			rate = DefaultActionsPerSecond
		}
		c.throttle = throttle.New(rate, opts.Logger)
		go c.throttle.Run(ctx)
	}
	return c, nil
}

func (c *Controller) Policy() Policy {
	return c.policy
}

// OnLocationChange registers fn to be called after each successful move.
// Observers run on the caller's goroutine, outside the controller lock.
func (c *Controller) OnLocationChange(fn func(Event)) {
	c.obsMu.Lock()
	defer c.obsMu.Unlock()
	c.observers = append(c.observers, fn)
}

func (c *Controller) notify(ev Event) {
	c.obsMu.Lock()
	observers := slices.Clone(c.observers)
	c.obsMu.Unlock()
	for _, fn := range observers {
		fn(ev)
	}
}

// Init binds g and a fresh cache rooted at resourceRoot, then enters the
// start location. Calling Init again tears the previous map down first.
func (c *Controller) Init(ctx context.Context, g *graph.Graph, resourceRoot string) error {
	ev, err := c.init(ctx, g, resourceRoot)
	if err != nil {
		return err
	}
	c.notify(ev)
	return nil
}

func (c *Controller) init(ctx context.Context, g *graph.Graph, resourceRoot string) (Event, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.graph != nil {
		c.teardown()
	}

	cache := resource.New(resourceRoot, c.cacheOpt)
	if c.policy == EagerAll {
		if err := c.loadAll(ctx, cache, g); err != nil {
			cache.Close()
			return Event{}, err
		}
	}

	c.graph = g
	c.cache = cache

	start := g.Start()
	handle, payload, err := c.obtain(ctx, start)
	if err != nil {
		c.graph = nil
		c.cache = nil
		cache.Close()
		return Event{}, err
	}

	c.enter(start, handle, payload)
	c.logger.Info("tour started", "map", g.Name(), "location_id", int(start.ID), "locations", g.Len())

	return Event{Map: g.Name(), Policy: c.policy, From: start.ID, To: start, Initial: true, At: c.enteredAt}, nil
}

// loadAll decodes every location up front. A missing image is logged and
// left for GoTo to report.
func (c *Controller) loadAll(ctx context.Context, cache *resource.Cache, g *graph.Graph) error {
	limit := int(c.cacheOpt.MaxDecodes)
	if limit <= 0 {
		limit = resource.DefaultMaxDecodes
	}

	eg, gctx := errgroup.WithContext(ctx)
	eg.SetLimit(limit)
	for _, loc := range g.AllLocations() {
		eg.Go(func() error {
			if _, err := cache.Get(gctx, loc); err != nil {
				if ctxErr := gctx.Err(); ctxErr != nil {
					return ctxErr
				}
				c.logger.Warn("eager load failed", "location_id", int(loc.ID), "error", err)
			}
			return nil
		})
	}
	return eg.Wait()
}

// GoTo moves to id. On failure the controller stays where it was.
func (c *Controller) GoTo(ctx context.Context, id graph.LocationID) error {
	ev, err := c.goTo(ctx, id)
	if err != nil {
		return err
	}
	c.notify(ev)
	return nil
}

func (c *Controller) goTo(ctx context.Context, id graph.LocationID) (Event, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.graph == nil {
		return Event{}, ErrNotInitialized
	}
	dest, ok := c.graph.Location(id)
	if !ok {
		return Event{}, fmt.Errorf("%w: %d", graph.ErrUnknownLocation, id)
	}

	handle, payload, err := c.obtain(ctx, dest)
	if err != nil {
		return Event{}, err
	}

	from := c.current
	outgoing := c.display

	// no-cache frees the outgoing location before the new hotspots exist
	if c.policy == NoCache && outgoing != nil {
		outgoing.Drop()
		outgoing = nil
	}

	retired := c.retireHotspots()
	c.enter(dest, handle, payload)

	if outgoing != nil {
		retired = append(retired, outgoing)
	}
	c.releaseRetired(retired)

	c.logger.Debug("moved", "from", int(from.ID), "to", int(dest.ID), "resident", c.cache.Len())
	return Event{Map: c.graph.Name(), Policy: c.policy, From: from.ID, To: dest, At: c.enteredAt}, nil
}

// obtain gets dest's image according to the policy. Counted policies get a
// handle, reusing the one a hotspot already holds for dest.
func (c *Controller) obtain(ctx context.Context, dest graph.Location) (*resource.Handle, *resource.Payload, error) {
	if !c.policy.counted() {
		p, err := c.cache.Get(ctx, dest)
		if err != nil {
			return nil, nil, err
		}
		return nil, p, nil
	}

	if c.policy != NoCache {
		for _, hs := range c.hotspots {
			if hs.dest.Key() != dest.Key() {
				continue
			}
			if h := hs.take(); h != nil {
				return h, h.Payload(), nil
			}
		}
	}

	h, err := c.cache.Acquire(ctx, dest)
	if err != nil {
		return nil, nil, err
	}
	return h, h.Payload(), nil
}

// enter makes loc current and materializes its hotspots.
func (c *Controller) enter(loc graph.Location, handle *resource.Handle, payload *resource.Payload) {
	c.current = loc
	c.display = handle
	c.payload = payload
	c.enteredAt = c.clock()

	transitions := c.graph.TransitionsFrom(loc.ID)
	c.hotspots = make([]*hotspot, 0, len(transitions))
	for _, t := range transitions {
		dest, err := c.graph.Destination(t)
		if err != nil {
			continue
		}
		hs := &hotspot{transition: t, dest: dest, terminal: c.graph.IsTerminal(t.To)}
		if c.policy == PreloadCurrent {
			c.schedulePreload(hs)
		}
		c.hotspots = append(c.hotspots, hs)
	}
}

// schedulePreload takes a reference on an already resident target right
// away; anything else is loaded through the throttle.
func (c *Controller) schedulePreload(hs *hotspot) {
	if h, ok := c.cache.TryAcquire(hs.dest.Key()); ok {
		hs.handle = h
		return
	}

	cache := c.cache
	gen := hs.generation()
	hs.task = c.throttle.Enqueue(func(ctx context.Context) {
		if hs.isRetired() {
			return
		}
		h, err := cache.Acquire(ctx, hs.dest)
		if err != nil {
			c.logger.Warn("preload failed", "location_id", int(hs.dest.ID), "error", err)
			return
		}
		if !hs.attach(h, gen) {
			c.free(h)
		}
	})
}

func (c *Controller) retireHotspots() []*resource.Handle {
	var out []*resource.Handle
	for _, hs := range c.hotspots {
		if h := hs.retire(); h != nil {
			out = append(out, h)
		}
	}
	c.hotspots = nil
	return out
}

// releaseRetired frees handles of the previous location. Preload-current
// defers them through the throttle so the new hotspots take their
// references first; the other policies free at once.
func (c *Controller) releaseRetired(handles []*resource.Handle) {
	if len(handles) == 0 {
		return
	}
	if c.policy == PreloadCurrent {
		for _, h := range handles {
			c.throttle.Enqueue(func(context.Context) { c.free(h) })
		}
		return
	}
	for _, h := range handles {
		c.free(h)
	}
}

// free releases a handle the controller owns outright. A missing entry is a
// bookkeeping error and is logged; load-on-hover tolerates it since a hover
// may race the move that retires it.
func (c *Controller) free(h *resource.Handle) {
	if c.policy == LoadOnHover {
		h.Drop()
		return
	}
	if err := h.Release(); err != nil {
		c.logger.Error("release failed", "key", h.Key().String(), "error", err)
	}
}

// Hover starts loading the target of the hotspot leading to id when the
// policy loads on hover. Other policies accept the call and do nothing.
func (c *Controller) Hover(id graph.LocationID) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	hs, err := c.hotspotTo(id)
	if err != nil {
		return err
	}
	if !c.policy.hoverLoads() {
		return nil
	}

	gen, ok := hs.startLoad()
	if !ok {
		return nil
	}

	cache := c.cache
	keep := c.policy == LoadOnHoverKeep
	c.loads.Add(1)
	go func() {
		defer c.loads.Done()
		defer hs.finishLoad(gen)

		if keep {
			if _, err := cache.Get(c.ctx, hs.dest); err != nil {
				c.logger.Warn("hover load failed", "location_id", int(hs.dest.ID), "error", err)
			}
			return
		}

		h, err := cache.Acquire(c.ctx, hs.dest)
		if err != nil {
			c.logger.Warn("hover load failed", "location_id", int(hs.dest.ID), "error", err)
			return
		}
		if !hs.attach(h, gen) {
			// hover ended or the hotspot was retired while loading
			h.Drop()
		}
	}()
	return nil
}

// Unhover ends a hover. Under load-on-hover the target is freed, or its
// in-flight load is abandoned.
func (c *Controller) Unhover(id graph.LocationID) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	hs, err := c.hotspotTo(id)
	if err != nil {
		return err
	}
	if c.policy != LoadOnHover {
		return nil
	}
	if h := hs.endHover(); h != nil {
		h.Drop()
	}
	return nil
}

func (c *Controller) hotspotTo(id graph.LocationID) (*hotspot, error) {
	if c.graph == nil {
		return nil, ErrNotInitialized
	}
	for _, hs := range c.hotspots {
		if hs.transition.To == id {
			return hs, nil
		}
	}
	return nil, fmt.Errorf("%w: %d", ErrUnknownHotspot, id)
}

// Current returns the current location.
func (c *Controller) Current() (graph.Location, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.graph == nil {
		return graph.Location{}, ErrNotInitialized
	}
	return c.current, nil
}

// CurrentImage returns the image of the current location.
func (c *Controller) CurrentImage() (*resource.Payload, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.graph == nil {
		return nil, ErrNotInitialized
	}
	return c.payload, nil
}

// CurrentTransitions describes the hotspots of the current location in
// manifest order.
func (c *Controller) CurrentTransitions() ([]HotspotView, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.graph == nil {
		return nil, ErrNotInitialized
	}
	return c.views(), nil
}

func (c *Controller) views() []HotspotView {
	out := make([]HotspotView, 0, len(c.hotspots))
	for _, hs := range c.hotspots {
		out = append(out, HotspotView{
			To:       hs.transition.To,
			Path:     hs.dest.Path,
			Azimuth:  hs.transition.Azimuth,
			Terminal: hs.terminal,
			Loaded:   c.cache.Contains(hs.dest.Key()),
		})
	}
	return out
}

// ActiveTexts returns the current location's texts visible right now.
func (c *Controller) ActiveTexts() []graph.TimedText {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.graph == nil {
		return nil
	}
	return graph.ActiveTexts(c.current, c.clock().Sub(c.enteredAt).Seconds())
}

// State is a point-in-time description of the tour.
type State struct {
	Map         string               `json:"map"`
	Policy      Policy               `json:"policy"`
	Current     graph.Location       `json:"current"`
	Terminal    bool                 `json:"terminal"`
	EnteredAt   time.Time            `json:"entered_at"`
	Transitions []HotspotView        `json:"transitions"`
	Cache       []resource.EntryInfo `json:"cache"`
}

func (c *Controller) State() (State, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.graph == nil {
		return State{}, ErrNotInitialized
	}
	return State{
		Map:         c.graph.Name(),
		Policy:      c.policy,
		Current:     c.current,
		Terminal:    c.graph.IsTerminal(c.current.ID),
		EnteredAt:   c.enteredAt,
		Transitions: c.views(),
		Cache:       c.cache.Snapshot(),
	}, nil
}

// Graph returns the bound graph, or nil before Init.
func (c *Controller) Graph() *graph.Graph {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.graph
}

// Cache returns the bound cache, or nil before Init.
func (c *Controller) Cache() *resource.Cache {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cache
}

func (c *Controller) teardown() {
	for _, h := range c.retireHotspots() {
		h.Drop()
	}
	if c.display != nil {
		c.display.Drop()
		c.display = nil
	}
	c.cache.Close()
	c.graph = nil
	c.cache = nil
	c.payload = nil
}

// Close releases everything and stops background work.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.graph != nil {
		c.teardown()
	}
	c.mu.Unlock()

	c.cancel()
	c.loads.Wait()
}
