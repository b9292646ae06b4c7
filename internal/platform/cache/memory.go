package cache

import (
	"container/list"
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"
)

var _ Store = (*MemoryStore)(nil)

// memoryEntry is either a byte value or a string set
type memoryEntry struct {
	key        string
	value      []byte
	set        map[string]struct{}
	expiration time.Time // zero means no expiry
}

func (e *memoryEntry) expired(now time.Time) bool {
	return !e.expiration.IsZero() && now.After(e.expiration)
}

// MemoryStore is an in-process Store with TTLs and least-recently-used
// eviction, standing in for a networked backend in development and tests.
type MemoryStore struct {
	maxKeys int
	items   map[string]*list.Element
	lru     *list.List
	mu      sync.Mutex
	stopCh  chan struct{}
	once    sync.Once
	now     func() time.Time
}

// NewMemoryStore creates an in-memory store holding at most maxKeys keys
func NewMemoryStore(maxKeys int) *MemoryStore {
	if maxKeys <= 0 {
		maxKeys = 100000
	}

	s := &MemoryStore{
		maxKeys: maxKeys,
		items:   make(map[string]*list.Element),
		lru:     list.New(),
		stopCh:  make(chan struct{}),
		now:     time.Now,
	}

	go s.cleanup()

	return s
}

// lookup returns a live entry and marks it recently used (caller must hold lock)
func (s *MemoryStore) lookup(key string) *memoryEntry {
	element, ok := s.items[key]
	if !ok {
		return nil
	}
	entry := element.Value.(*memoryEntry)
	if entry.expired(s.now()) {
		s.remove(key)
		return nil
	}
	s.lru.MoveToFront(element)
	return entry
}

// put inserts or replaces an entry (caller must hold lock)
func (s *MemoryStore) put(entry *memoryEntry) {
	if element, ok := s.items[entry.key]; ok {
		element.Value = entry
		s.lru.MoveToFront(element)
		return
	}

	s.items[entry.key] = s.lru.PushFront(entry)
	if s.lru.Len() > s.maxKeys {
		s.evictOldest()
	}
}

func (s *MemoryStore) expiry(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return s.now().Add(ttl)
}

// Get retrieves a value
func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry := s.lookup(key)
	if entry == nil || entry.set != nil {
		return nil, ErrNotFound
	}
	return append([]byte(nil), entry.value...), nil
}

// Set stores a value with TTL
func (s *MemoryStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.put(&memoryEntry{
		key:        key,
		value:      append([]byte(nil), value...),
		expiration: s.expiry(ttl),
	})
	return nil
}

// Replace overwrites an existing value, keeping its expiry
func (s *MemoryStore) Replace(_ context.Context, key string, value []byte) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry := s.lookup(key)
	if entry == nil {
		return false, nil
	}
	s.put(&memoryEntry{
		key:        key,
		value:      append([]byte(nil), value...),
		expiration: entry.expiration,
	})
	return true, nil
}

// Refresh overwrites an existing value with a new expiry
func (s *MemoryStore) Refresh(_ context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry := s.lookup(key); entry == nil || entry.set != nil {
		return false, nil
	}
	s.put(&memoryEntry{
		key:        key,
		value:      append([]byte(nil), value...),
		expiration: s.expiry(ttl),
	})
	return true, nil
}

// Delete removes keys
func (s *MemoryStore) Delete(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, key := range keys {
		s.remove(key)
	}
	return nil
}

// Incr increments a decimal counter
func (s *MemoryStore) Incr(_ context.Context, key string, ttl time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry := s.lookup(key)
	if entry == nil {
		s.put(&memoryEntry{key: key, value: []byte("1"), expiration: s.expiry(ttl)})
		return 1, nil
	}
	if entry.set != nil {
		return 0, fmt.Errorf("memory incr %q: key holds a set", key)
	}

	n, err := strconv.ParseInt(string(entry.value), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("memory incr %q: value is not an integer", key)
	}
	n++
	entry.value = []byte(strconv.FormatInt(n, 10))
	return n, nil
}

// SetAdd adds members to a set
func (s *MemoryStore) SetAdd(_ context.Context, setKey string, members ...string) error {
	if len(members) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entry := s.lookup(setKey)
	if entry == nil {
		entry = &memoryEntry{key: setKey, set: make(map[string]struct{}, len(members))}
		s.put(entry)
	}
	if entry.set == nil {
		return fmt.Errorf("memory sadd %q: key holds a value", setKey)
	}
	for _, m := range members {
		entry.set[m] = struct{}{}
	}
	return nil
}

// SetMembers lists a set's members in sorted order
func (s *MemoryStore) SetMembers(_ context.Context, setKey string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry := s.lookup(setKey)
	if entry == nil {
		return []string{}, nil
	}
	if entry.set == nil {
		return nil, fmt.Errorf("memory smembers %q: key holds a value", setKey)
	}
	return sortedMembers(entry.set, nil), nil
}

// SetDiff returns members of setKey missing from all others
func (s *MemoryStore) SetDiff(_ context.Context, setKey string, others ...string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry := s.lookup(setKey)
	if entry == nil {
		return []string{}, nil
	}

	exclude := make(map[string]struct{})
	for _, other := range others {
		if o := s.lookup(other); o != nil {
			for m := range o.set {
				exclude[m] = struct{}{}
			}
		}
	}
	return sortedMembers(entry.set, exclude), nil
}

func sortedMembers(set, exclude map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for m := range set {
		if _, skip := exclude[m]; !skip {
			out = append(out, m)
		}
	}
	sort.Strings(out)
	return out
}

// Ping always succeeds
func (s *MemoryStore) Ping(context.Context) error {
	return nil
}

// Close stops the janitor
func (s *MemoryStore) Close() error {
	s.once.Do(func() { close(s.stopCh) })
	return nil
}

// Len returns the number of stored keys, expired ones included
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

// remove removes an item (caller must hold lock)
func (s *MemoryStore) remove(key string) {
	if element, exists := s.items[key]; exists {
		s.lru.Remove(element)
		delete(s.items, key)
	}
}

// evictOldest removes the least recently used item (caller must hold lock)
func (s *MemoryStore) evictOldest() {
	if element := s.lru.Back(); element != nil {
		s.remove(element.Value.(*memoryEntry).key)
	}
}

// cleanup periodically removes expired items
func (s *MemoryStore) cleanup() {
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.cleanupExpired()
		case <-s.stopCh:
			return
		}
	}
}

func (s *MemoryStore) cleanupExpired() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for key, element := range s.items {
		if element.Value.(*memoryEntry).expired(now) {
			s.remove(key)
		}
	}
}
