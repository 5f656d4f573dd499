package resultcache

import (
	"testing"
	"time"

	"github.com/aq-overlay/overlay/internal/model"
)

func rows(n int) []model.Row {
	out := make([]model.Row, n)
	for i := range out {
		out[i] = model.Row{SiteName: string(rune('a' + i))}
	}
	return out
}

func TestStoreAndDrainChunks(t *testing.T) {
	c := New(time.Minute)
	defer c.Close()

	uid := NewUID()
	c.Store(uid, rows(5), 2)

	total, ok := c.TotalChunks(uid)
	if !ok || total != 3 {
		t.Fatalf("expected 3 chunks for 5 rows at size 2, got %d ok=%v", total, ok)
	}

	chunk, status := c.GetChunk(uid, 0)
	if status != StatusSuccess || len(chunk.Rows) != 2 || chunk.IsLast {
		t.Fatalf("unexpected first chunk: %+v status=%v", chunk, status)
	}
	chunk, status = c.GetChunk(uid, 1)
	if status != StatusSuccess || len(chunk.Rows) != 2 || chunk.IsLast {
		t.Fatalf("unexpected second chunk: %+v status=%v", chunk, status)
	}
	chunk, status = c.GetChunk(uid, 2)
	if status != StatusSuccess || len(chunk.Rows) != 1 || !chunk.IsLast {
		t.Fatalf("unexpected last chunk: %+v status=%v", chunk, status)
	}

	if _, status := c.GetChunk(uid, 0); status != StatusNotFound {
		t.Fatalf("expected uid to be evicted after draining its last chunk, got %v", status)
	}
}

func TestGetChunkOutOfRange(t *testing.T) {
	c := New(time.Minute)
	defer c.Close()
	uid := NewUID()
	c.Store(uid, rows(2), 2)

	if _, status := c.GetChunk(uid, 5); status != StatusOutOfRange {
		t.Fatalf("expected out_of_range for an index beyond total_chunks, got %v", status)
	}
	// uid must still be present; a bad index must not evict it.
	if _, status := c.GetChunk(uid, 0); status != StatusSuccess {
		t.Fatalf("expected uid to remain cached after an out-of-range probe, got %v", status)
	}
}

func TestEmptyResultReturnsOutOfRangeNotSuccess(t *testing.T) {
	c := New(time.Minute)
	defer c.Close()
	uid := NewUID()
	c.Store(uid, nil, 50)

	if _, status := c.GetChunk(uid, 0); status != StatusOutOfRange {
		t.Fatalf("expected out_of_range for an empty result's chunk 0, got %v", status)
	}
}

func TestUnknownUIDReturnsNotFound(t *testing.T) {
	c := New(time.Minute)
	defer c.Close()
	if _, status := c.GetChunk("nope", 0); status != StatusNotFound {
		t.Fatalf("expected not_found for an unknown uid, got %v", status)
	}
}

func TestTTLExpiry(t *testing.T) {
	c := New(20 * time.Millisecond)
	defer c.Close()
	uid := NewUID()
	c.Store(uid, rows(3), 1)

	time.Sleep(60 * time.Millisecond)
	if _, status := c.GetChunk(uid, 0); status != StatusNotFound {
		t.Fatalf("expected entry to have expired, got %v", status)
	}
}

func TestDeleteRemovesEntry(t *testing.T) {
	c := New(time.Minute)
	defer c.Close()
	uid := NewUID()
	c.Store(uid, rows(3), 1)
	c.Delete(uid)
	if _, status := c.GetChunk(uid, 0); status != StatusNotFound {
		t.Fatalf("expected deleted entry to be gone, got %v", status)
	}
}

func TestLenReflectsCachedResults(t *testing.T) {
	c := New(time.Minute)
	defer c.Close()
	if c.Len() != 0 {
		t.Fatalf("expected empty cache, got len=%d", c.Len())
	}
	c.Store(NewUID(), rows(1), 1)
	c.Store(NewUID(), rows(1), 1)
	if c.Len() != 2 {
		t.Fatalf("expected len=2, got %d", c.Len())
	}
}
