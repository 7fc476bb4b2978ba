package resource

import (
	"sync"

	"github.com/ElishaAz/VR-Navigation/pkg/graph"
)

// Handle is one reference on a cache entry. Release is idempotent, so
// callers can defer it on every exit path.
type Handle struct {
	cache   *Cache
	key     graph.Key
	payload *Payload

	once sync.Once
	err  error
}

func newHandle(c *Cache, key graph.Key, p *Payload) *Handle {
	return &Handle{cache: c, key: key, payload: p}
}

func (h *Handle) Key() graph.Key {
	return h.key
}

func (h *Handle) Payload() *Payload {
	return h.payload
}

// Release drops the handle's reference. Only the first call has an effect.
func (h *Handle) Release() error {
	h.once.Do(func() {
		h.err = h.cache.Release(h.key, false)
	})
	return h.err
}

// Drop is Release with a missing entry treated as already released.
func (h *Handle) Drop() {
	h.once.Do(func() {
		h.err = h.cache.Release(h.key, true)
	})
}
