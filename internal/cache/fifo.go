// Package cache is the in-process response cache placed in front of
// read-mostly upstream calls.
package cache

import (
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"
)

// entry is one cached response.
type entry struct {
	value      any
	insertedAt time.Time
}

// FIFO is a bounded cache with a fixed time-to-live. When full, the entry
// inserted earliest is evicted regardless of how often it is read.
type FIFO struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration
	entries  map[string]*entry
	// queue keeps keys in insertion order, index 0 is the oldest.
	queue []string
	now   func() time.Time
}

// NewFIFO returns a cache holding at most capacity entries for ttl each.
func NewFIFO(capacity int, ttl time.Duration) *FIFO {
	if capacity < 1 {
		capacity = 1
	}
	return &FIFO{
		capacity: capacity,
		ttl:      ttl,
		entries:  make(map[string]*entry, capacity),
		now:      time.Now,
	}
}

// WithClock replaces the time source. Intended for tests.
func (f *FIFO) WithClock(now func() time.Time) *FIFO {
	f.now = now
	return f
}

// Get returns the value for key. An entry whose age reached the TTL is
// deleted and reported as a miss.
func (f *FIFO) Get(key string) (any, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.entries[key]
	if !ok {
		return nil, false
	}
	if f.now().Sub(e.insertedAt) >= f.ttl {
		f.removeLocked(key)
		return nil, false
	}
	return e.value, true
}

// Set stores value under key. Overwriting an existing key refreshes its
// value and timestamp but keeps its position in the eviction queue.
func (f *FIFO) Set(key string, value any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if e, ok := f.entries[key]; ok {
		e.value = value
		e.insertedAt = f.now()
		return
	}
	for len(f.entries) >= f.capacity && len(f.queue) > 0 {
		oldest := f.queue[0]
		f.queue = f.queue[1:]
		delete(f.entries, oldest)
	}
	f.entries[key] = &entry{value: value, insertedAt: f.now()}
	f.queue = append(f.queue, key)
}

// Delete removes key if present.
func (f *FIFO) Delete(key string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removeLocked(key)
}

// Clear drops every entry.
func (f *FIFO) Clear() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = make(map[string]*entry, f.capacity)
	f.queue = nil
}

// Len reports the number of stored entries, expired ones included.
func (f *FIFO) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.entries)
}

func (f *FIFO) removeLocked(key string) {
	if _, ok := f.entries[key]; !ok {
		return
	}
	delete(f.entries, key)
	for i, k := range f.queue {
		if k == key {
			f.queue = append(f.queue[:i], f.queue[i+1:]...)
			break
		}
	}
}

// Key composes a cache key from the method and a normalized URL: scheme and
// host lower-cased, query parameters sorted. scope separates callers, for
// example a digest of their bearer token.
func Key(method, rawURL, scope string) string {
	norm := rawURL
	if u, err := url.Parse(rawURL); err == nil {
		u.Scheme = strings.ToLower(u.Scheme)
		u.Host = strings.ToLower(u.Host)
		q := u.Query()
		keys := make([]string, 0, len(q))
		for k := range q {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			sort.Strings(q[k])
		}
		u.RawQuery = q.Encode()
		u.Fragment = ""
		norm = u.String()
	}
	key := strings.ToUpper(method) + " " + norm
	if scope != "" {
		key += " #" + scope
	}
	return key
}
