package metrics

import (
	"testing"
	"time"
)

func TestSnapshotAveragesRecentCompletions(t *testing.T) {
	tr := New()
	tr.RecordCompletion(100 * time.Millisecond)
	tr.RecordCompletion(200 * time.Millisecond)
	snap := tr.Snapshot()
	if snap.AvgProcessingTimeMs != 150 {
		t.Fatalf("expected average of 150ms, got %v", snap.AvgProcessingTimeMs)
	}
	if !snap.IsHealthy {
		t.Fatal("expected healthy with no rejections")
	}
}

func TestSnapshotUnhealthyAfterRejection(t *testing.T) {
	tr := New()
	tr.RecordRejection()
	if snap := tr.Snapshot(); snap.IsHealthy {
		t.Fatal("expected unhealthy once a rejection has been recorded")
	}
}

func TestWindowDropsOldestCompletion(t *testing.T) {
	tr := New()
	for i := 0; i < windowSize; i++ {
		tr.RecordCompletion(10 * time.Millisecond)
	}
	tr.RecordCompletion(1000 * time.Millisecond)
	snap := tr.Snapshot()
	if snap.AvgProcessingTimeMs <= 10 || snap.AvgProcessingTimeMs >= 1000 {
		t.Fatalf("expected average to reflect the window after eviction, got %v", snap.AvgProcessingTimeMs)
	}
}

func TestRecentLogRingBuffer(t *testing.T) {
	tr := New()
	for i := 0; i < logSize+5; i++ {
		tr.Logf("line %d", i)
	}
	lines := tr.RecentLog()
	if len(lines) != logSize {
		t.Fatalf("expected log capped at %d lines, got %d", logSize, len(lines))
	}
	if lines[0] != "line 5" {
		t.Fatalf("expected oldest surviving line to be 'line 5', got %q", lines[0])
	}
	if lines[len(lines)-1] != "line 54" {
		t.Fatalf("expected newest line to be 'line 54', got %q", lines[len(lines)-1])
	}
}
