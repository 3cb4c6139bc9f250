package scoring

import "testing"

func TestCurrentPointsFullValueForFirstSolver(t *testing.T) {
	e := NewEngine(nil, Params{Alpha: 10, Min: 1})
	if got := e.CurrentPoints(100, 0); got != 100 {
		t.Fatalf("expected full base points for solvedCount=0, got %d", got)
	}
}

func TestCurrentPointsDecaysMonotonically(t *testing.T) {
	e := NewEngine(nil, Params{Alpha: 10, Min: 1})
	prev := e.CurrentPoints(100, 0)
	for k := 1; k <= 50; k++ {
		cur := e.CurrentPoints(100, k)
		if cur > prev {
			t.Fatalf("points increased at solvedCount=%d: prev=%d cur=%d", k, prev, cur)
		}
		prev = cur
	}
}

func TestCurrentPointsNeverBelowMin(t *testing.T) {
	e := NewEngine(nil, Params{Alpha: 10, Min: 5})
	got := e.CurrentPoints(100, 100000)
	if got != 5 {
		t.Fatalf("expected floor of 5, got %d", got)
	}
}

func TestNewEngineDefaultsInvalidParams(t *testing.T) {
	e := NewEngine(nil, Params{Alpha: 0, Min: 0})
	if e.params.Alpha != 10 {
		t.Fatalf("expected default alpha 10, got %v", e.params.Alpha)
	}
	if e.params.Min != 1 {
		t.Fatalf("expected default min 1, got %d", e.params.Min)
	}
}

func TestCurrentPointsHigherAlphaDecaysSlower(t *testing.T) {
	slow := NewEngine(nil, Params{Alpha: 100, Min: 1})
	fast := NewEngine(nil, Params{Alpha: 5, Min: 1})
	if slow.CurrentPoints(100, 10) <= fast.CurrentPoints(100, 10) {
		t.Fatalf("expected higher alpha to retain more points at the same solvedCount")
	}
}
