// Package cache provides key-value storage for FinSentinel sessions.
package cache

import (
	"container/list"
	"context"
	"sync"
	"time"
)

// LRUStore is a thread-safe LRU key-value store with TTL support.
// Used when the service runs as a single process.
type LRUStore struct {
	mu         sync.Mutex
	maxSize    int
	defaultTTL time.Duration
	items      map[string]*list.Element
	order      *list.List
	now        func() time.Time
}

type entry struct {
	key       string
	value     []byte
	expiresAt time.Time
}

// NewLRUStore creates a store holding at most maxSize keys.
// Set with a zero ttl uses defaultTTL; a zero defaultTTL never expires.
func NewLRUStore(maxSize int, defaultTTL time.Duration) *LRUStore {
	if maxSize <= 0 {
		maxSize = 10000
	}
	return &LRUStore{
		maxSize:    maxSize,
		defaultTTL: defaultTTL,
		items:      make(map[string]*list.Element),
		order:      list.New(),
		now:        time.Now,
	}
}

// Get retrieves a value. Expired keys read as absent.
func (c *LRUStore) Get(ctx context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[key]
	if !ok {
		return nil, nil
	}

	e := elem.Value.(*entry)
	if c.expired(e) {
		c.removeElement(elem)
		return nil, nil
	}

	c.order.MoveToFront(elem)
	return append([]byte(nil), e.value...), nil
}

// Set stores a value, evicting the least recently used key when full.
func (c *LRUStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = c.now().Add(ttl)
	}
	value = append([]byte(nil), value...)

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		c.order.MoveToFront(elem)
		e := elem.Value.(*entry)
		e.value = value
		e.expiresAt = expiresAt
		return nil
	}

	elem := c.order.PushFront(&entry{
		key:       key,
		value:     value,
		expiresAt: expiresAt,
	})
	c.items[key] = elem

	for c.order.Len() > c.maxSize {
		c.removeOldest()
	}
	return nil
}

// Delete removes a key.
func (c *LRUStore) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		c.removeElement(elem)
	}
	return nil
}

// Ping checks store health.
func (c *LRUStore) Ping(ctx context.Context) error {
	return nil
}

// Close drops all keys.
func (c *LRUStore) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[string]*list.Element)
	c.order = list.New()
	return nil
}

// Len returns the number of keys held, including expired ones not yet evicted.
func (c *LRUStore) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

func (c *LRUStore) expired(e *entry) bool {
	return !e.expiresAt.IsZero() && c.now().After(e.expiresAt)
}

func (c *LRUStore) removeElement(elem *list.Element) {
	c.order.Remove(elem)
	delete(c.items, elem.Value.(*entry).key)
}

func (c *LRUStore) removeOldest() {
	if elem := c.order.Back(); elem != nil {
		c.removeElement(elem)
	}
}
