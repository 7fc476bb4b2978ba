package tour

import (
	"sync"

	"github.com/ElishaAz/VR-Navigation/pkg/graph"
	"github.com/ElishaAz/VR-Navigation/pkg/resource"
	"github.com/ElishaAz/VR-Navigation/pkg/throttle"
)

// hotspot is the affordance for one outgoing transition of the current
// location. Depending on the policy it may hold a reference on its target's
// image, either preloaded through the throttle or loaded on hover.
type hotspot struct {
	transition graph.Transition
	dest       graph.Location
	terminal   bool

	mu      sync.Mutex
	handle  *resource.Handle
	task    *throttle.Task
	loading bool
	gen     int // bumped on retire and on hover end; stale loads compare against it
	retired bool
}

func (h *hotspot) isRetired() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.retired
}

// startLoad marks a hover load as in flight. It reports false when the
// target is already held or being loaded.
func (h *hotspot) startLoad() (int, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.retired || h.loading || h.handle != nil {
		return 0, false
	}
	h.loading = true
	return h.gen, true
}

// finishLoad ends a hover load started at gen.
func (h *hotspot) finishLoad(gen int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.gen == gen {
		h.loading = false
	}
}

// attach stores handle if the hotspot is still live at gen and holds
// nothing. On false the caller owns handle and must release it.
func (h *hotspot) attach(handle *resource.Handle, gen int) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.retired || h.gen != gen || h.handle != nil {
		return false
	}
	h.handle = handle
	h.loading = false
	return true
}

func (h *hotspot) generation() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.gen
}

// take removes the held handle, if any.
func (h *hotspot) take() *resource.Handle {
	h.mu.Lock()
	defer h.mu.Unlock()
	handle := h.handle
	h.handle = nil
	return handle
}

// endHover abandons any in-flight hover load and returns the held handle.
func (h *hotspot) endHover() *resource.Handle {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.gen++
	h.loading = false
	handle := h.handle
	h.handle = nil
	return handle
}

// retire detaches the hotspot: its pending preload is cancelled and late
// loads are released by whoever completes them.
func (h *hotspot) retire() *resource.Handle {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.retired = true
	h.gen++
	if h.task != nil {
		h.task.Cancel()
		h.task = nil
	}
	handle := h.handle
	h.handle = nil
	return handle
}

// HotspotView is what a renderer needs to draw a hotspot.
type HotspotView struct {
	To       graph.LocationID `json:"to"`
	Path     string           `json:"path"`
	Azimuth  float64          `json:"azimuth"`
	Terminal bool             `json:"terminal"`
	Loaded   bool             `json:"loaded"`
}
