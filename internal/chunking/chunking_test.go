package chunking

import "testing"

func TestFixedCapsToTotal(t *testing.T) {
	f := Fixed{Size: 200}
	if got := f.ChunkSize(50); got != 50 {
		t.Fatalf("expected fixed chunk size capped to total, got %d", got)
	}
	if got := f.ChunkSize(1000); got != 200 {
		t.Fatalf("expected fixed chunk size of 200, got %d", got)
	}
}

func TestAdaptiveThresholds(t *testing.T) {
	a := NewAdaptive()
	cases := []struct {
		total int
		want  int
	}{
		{10, 10},
		{100, 50},
		{500, 200},
		{2000, 400},
		{5000, 1000},
	}
	for _, c := range cases {
		if got := a.ChunkSize(c.total); got != c.want {
			t.Errorf("ChunkSize(%d) = %d, want %d", c.total, got, c.want)
		}
	}
}

func TestQueryBasedUsesRequestedLimit(t *testing.T) {
	q := QueryBased{RequestedLimit: 10, Fallback: NewAdaptive()}
	if got := q.ChunkSize(1000); got != 10 {
		t.Fatalf("expected requested limit to drive chunk size, got %d", got)
	}
	if got := q.ChunkSize(5); got != 5 {
		t.Fatalf("expected chunk size capped to total records, got %d", got)
	}
}

func TestQueryBasedFallsBackWithoutLimit(t *testing.T) {
	q := QueryBased{Fallback: NewAdaptive()}
	if got := q.ChunkSize(5000); got != 1000 {
		t.Fatalf("expected fallback to adaptive strategy, got %d", got)
	}
}

func TestByNameRejectsUnknown(t *testing.T) {
	if _, err := ByName("bogus", 0, 0); err == nil {
		t.Fatal("expected error for unknown chunking strategy name")
	}
}

func TestByNameFixedUsesConfiguredSize(t *testing.T) {
	strat, err := ByName("fixed", 0, 75)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if got := strat.ChunkSize(1000); got != 75 {
		t.Fatalf("expected configured fixed size of 75, got %d", got)
	}
}

func TestByNameFixedDefaultsWhenUnset(t *testing.T) {
	strat, err := ByName("fixed", 0, 0)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if got := strat.ChunkSize(1000); got != 200 {
		t.Fatalf("expected default fixed size of 200, got %d", got)
	}
}
