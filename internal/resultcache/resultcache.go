// Package resultcache holds query results behind a UID until every
// chunk has been pulled or its TTL elapses. Grounded on
// original_source/overlay_core/result_cache.py (ChunkedResult /
// ResultCache) and facade.py's get_chunk, which distinguishes a
// completely unknown uid ("not_found") from a valid uid given an
// invalid chunk index ("out_of_range").
package resultcache

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aq-overlay/overlay/internal/model"
)

// Status reports the outcome of a GetChunk lookup.
type Status string

const (
	StatusSuccess    Status = "success"
	StatusNotFound   Status = "not_found"
	StatusOutOfRange Status = "out_of_range"
)

// Chunk is one page of a cached result.
type Chunk struct {
	Rows        []model.Row
	ChunkIndex  int
	TotalChunks int
	IsLast      bool
}

// NewUID mints a fresh, collision-free identifier for a cached result.
func NewUID() string {
	return uuid.NewString()
}

type entry struct {
	rows        []model.Row
	chunkSize   int
	totalChunks int
	expiresAt   time.Time
}

func newEntry(rows []model.Row, chunkSize int, ttl time.Duration) *entry {
	if chunkSize <= 0 {
		chunkSize = 1
	}
	totalChunks := (len(rows) + chunkSize - 1) / chunkSize
	// An empty result has zero chunks: GetChunk(uid, 0) against it
	// reports out_of_range rather than success, and the entry stays
	// cached until its TTL lapses rather than draining on first touch.
	return &entry{
		rows:        rows,
		chunkSize:   chunkSize,
		totalChunks: totalChunks,
		expiresAt:   time.Now().Add(ttl),
	}
}

func (e *entry) chunk(index int) (Chunk, bool) {
	if index < 0 || index >= e.totalChunks {
		return Chunk{}, false
	}
	start := index * e.chunkSize
	end := start + e.chunkSize
	if end > len(e.rows) {
		end = len(e.rows)
	}
	return Chunk{
		Rows:        e.rows[start:end],
		ChunkIndex:  index,
		TotalChunks: e.totalChunks,
		IsLast:      index == e.totalChunks-1,
	}, true
}

// Cache is a concurrency-safe, TTL-evicted store of query results
// keyed by UID. A result is deleted eagerly once its last chunk has
// been pulled, and lazily (plus via a background sweep) once its TTL
// elapses.
type Cache struct {
	ttl time.Duration

	mu      sync.Mutex
	entries map[string]*entry

	stop chan struct{}
	once sync.Once
}

// New builds a Cache whose entries expire after ttl if never fully
// drained. It starts a background goroutine that sweeps expired
// entries every ttl/2 (minimum one second); call Close to stop it.
func New(ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	c := &Cache{
		ttl:     ttl,
		entries: make(map[string]*entry),
		stop:    make(chan struct{}),
	}
	interval := ttl / 2
	if interval < time.Second {
		interval = time.Second
	}
	go c.sweepLoop(interval)
	return c
}

func (c *Cache) sweepLoop(interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			c.sweep()
		case <-c.stop:
			return
		}
	}
}

func (c *Cache) sweep() {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	for uid, e := range c.entries {
		if now.After(e.expiresAt) {
			delete(c.entries, uid)
		}
	}
}

// Close stops the background sweep goroutine. Safe to call more than
// once.
func (c *Cache) Close() {
	c.once.Do(func() { close(c.stop) })
}

// Store registers rows under uid, split into chunks of chunkSize, to
// expire after the cache's configured TTL unless fully drained first.
func (c *Cache) Store(uid string, rows []model.Row, chunkSize int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[uid] = newEntry(rows, chunkSize, c.ttl)
}

// TotalChunks reports how many chunks uid's result was split into, or
// ok=false if uid is unknown or expired.
func (c *Cache) TotalChunks(uid string) (total int, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.lockedGet(uid)
	if !ok {
		return 0, false
	}
	return e.totalChunks, true
}

// GetChunk returns chunk index of uid's cached result. The last chunk
// is removed from the cache as soon as it is returned, matching the
// reference implementation's eager drain-on-completion.
func (c *Cache) GetChunk(uid string, index int) (Chunk, Status) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.lockedGet(uid)
	if !ok {
		return Chunk{}, StatusNotFound
	}
	chunk, ok := e.chunk(index)
	if !ok {
		return Chunk{}, StatusOutOfRange
	}
	if chunk.IsLast {
		delete(c.entries, uid)
	}
	return chunk, StatusSuccess
}

// lockedGet fetches an unexpired entry, evicting it lazily if its TTL
// has already elapsed. Caller must hold c.mu.
func (c *Cache) lockedGet(uid string) (*entry, bool) {
	e, ok := c.entries[uid]
	if !ok {
		return nil, false
	}
	if time.Now().After(e.expiresAt) {
		delete(c.entries, uid)
		return nil, false
	}
	return e, true
}

// Len reports how many results are currently cached, used to surface a
// queue-size gauge in metrics.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Delete removes uid unconditionally.
func (c *Cache) Delete(uid string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, uid)
}
