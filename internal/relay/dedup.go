package relay

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

const (
	dedupSize = 4096
	dedupTTL  = 10 * time.Minute
)

// dedup drops webhook redeliveries of a message id seen recently.
type dedup struct {
	mu   sync.Mutex
	seen *expirable.LRU[string, struct{}]
}

func newDedup(size int, ttl time.Duration) *dedup {
	return &dedup{seen: expirable.NewLRU[string, struct{}](size, nil, ttl)}
}

// Seen records key and reports whether it was already present.
// An empty key is never a duplicate.
func (d *dedup) Seen(key string) bool {
	if key == "" {
		return false
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.seen.Contains(key) {
		return true
	}
	d.seen.Add(key, struct{}{})
	return false
}
