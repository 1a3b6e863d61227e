// Package dedup implements the idempotency fast path: a bounded,
// time-expiring set of processed event identifiers. It is advisory only;
// the ledger's PROCESSED check is the authoritative guard.
package dedup

import (
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

type Cache struct {
	lru *expirable.LRU[string, struct{}]
}

// New creates a cache holding at most size identifiers, each expiring after
// ttl. Eviction under capacity pressure is least-recently-used.
func New(size int, ttl time.Duration) *Cache {
	return &Cache{lru: expirable.NewLRU[string, struct{}](size, nil, ttl)}
}

// AlreadyProcessed reports whether the identifier was marked processed.
// Blank identifiers carry no dedup signal and always return false.
func (c *Cache) AlreadyProcessed(id string) bool {
	if strings.TrimSpace(id) == "" {
		return false
	}
	_, ok := c.lru.Get(id)
	return ok
}

// MarkProcessed records the identifier. Blank identifiers are never cached.
func (c *Cache) MarkProcessed(id string) {
	if strings.TrimSpace(id) == "" {
		return
	}
	c.lru.Add(id, struct{}{})
}

func (c *Cache) Len() int {
	return c.lru.Len()
}
