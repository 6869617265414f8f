package netagent

import (
	"container/list"
	"crypto/sha256"
	"sync"
)

// dedupCapacity bounds how many recent message digests the agent remembers
// per topic before evicting the oldest.
const dedupCapacity = 4096

// digestCache is a bounded LRU set of message digests, used to drop
// duplicate gossip deliveries before they ever reach the session agent.
// This is a defense-in-depth guard alongside GossipSub's own seen-message
// cache, not a replacement for it.
type digestCache struct {
	mu       sync.Mutex
	capacity int
	order    *list.List
	seen     map[[32]byte]*list.Element
}

func newDigestCache(capacity int) *digestCache {
	return &digestCache{
		capacity: capacity,
		order:    list.New(),
		seen:     make(map[[32]byte]*list.Element),
	}
}

// SeenBefore reports whether payload's digest has already been observed,
// and records it if not.
func (c *digestCache) SeenBefore(payload []byte) bool {
	digest := sha256.Sum256(payload)

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.seen[digest]; ok {
		c.order.MoveToFront(elem)
		return true
	}

	elem := c.order.PushFront(digest)
	c.seen[digest] = elem

	for c.order.Len() > c.capacity {
		oldest := c.order.Back()
		if oldest == nil {
			break
		}
		c.order.Remove(oldest)
		delete(c.seen, oldest.Value.([32]byte))
	}
	return false
}
