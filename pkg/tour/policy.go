package tour

import "fmt"

// Policy selects when location images are loaded and released.
type Policy string

const (
	// EagerAll loads every location when the tour starts and never frees.
	EagerAll Policy = "eager-all"
	// PreloadCurrent loads the destination before the move completes and
	// preloads the targets of the new hotspots through the throttle.
	PreloadCurrent Policy = "preload-current"
	// LoadOnHover loads a hotspot's target while it is hovered.
	LoadOnHover Policy = "load-on-hover"
	// LoadOnHoverKeep loads on hover and never frees.
	LoadOnHoverKeep Policy = "load-on-hover-keep"
	// OnDemandCache loads on first display and never frees.
	OnDemandCache Policy = "on-demand"
	// NoCache keeps only the current location resident.
	NoCache Policy = "no-cache"
)

// Policies lists every policy in declaration order.
var Policies = []Policy{EagerAll, PreloadCurrent, LoadOnHover, LoadOnHoverKeep, OnDemandCache, NoCache}

// ParsePolicy accepts the names above.
func ParsePolicy(s string) (Policy, error) {
	for _, p := range Policies {
		if string(p) == s {
			return p, nil
		}
	}
	return "", fmt.Errorf("unknown cache policy %q", s)
}

func (p Policy) String() string {
	return string(p)
}

// hoverLoads reports whether hovering a hotspot starts a load.
func (p Policy) hoverLoads() bool {
	return p == LoadOnHover || p == LoadOnHoverKeep
}

// counted reports whether the current location is held through a handle
// rather than an uncounted Get.
func (p Policy) counted() bool {
	return p == PreloadCurrent || p == LoadOnHover || p == NoCache
}
