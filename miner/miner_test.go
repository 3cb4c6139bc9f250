package miner

import (
	"testing"
	"time"
)

func TestCanonicalizeDeterministicOrdering(t *testing.T) {
	txs := []Tx{
		{SubmissionID: 1, UserID: 10, ProblemID: 100, PointsEarned: 50},
		{SubmissionID: 2, UserID: 11, ProblemID: 101, PointsEarned: 40},
	}
	got := canonicalize(txs)
	want := "1|10|100|50\n2|11|101|40"
	if got != want {
		t.Fatalf("canonicalize mismatch:\ngot:  %q\nwant: %q", got, want)
	}
}

func TestCanonicalizeEmpty(t *testing.T) {
	if got := canonicalize(nil); got != "" {
		t.Fatalf("expected empty canonical form for no txs, got %q", got)
	}
}

func TestBlockHashDeterministicForSameInputs(t *testing.T) {
	ts := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	h1 := blockHash(1, genesisParentHash, ts, "1|2|3|4", 5)
	h2 := blockHash(1, genesisParentHash, ts, "1|2|3|4", 5)
	if h1 != h2 {
		t.Fatalf("expected identical hash for identical inputs")
	}
}

func TestBlockHashChangesWithParentHash(t *testing.T) {
	ts := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	h1 := blockHash(1, genesisParentHash, ts, "1|2|3|4", 5)
	h2 := blockHash(1, "somethingelse", ts, "1|2|3|4", 5)
	if h1 == h2 {
		t.Fatalf("expected hash to change when parent hash changes")
	}
}

func TestBlockHashChangesWithHeight(t *testing.T) {
	ts := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	h1 := blockHash(1, genesisParentHash, ts, "1|2|3|4", 5)
	h2 := blockHash(2, genesisParentHash, ts, "1|2|3|4", 5)
	if h1 == h2 {
		t.Fatalf("expected hash to change when height changes")
	}
}

func TestMostSolvedProblemFirstSolverPicksHighestACCount(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	txs := []Tx{
		{SubmissionID: 1, UserID: 10, ProblemID: 100, SubmittedAt: base},
		{SubmissionID: 2, UserID: 11, ProblemID: 200, SubmittedAt: base.Add(time.Minute)},
		{SubmissionID: 3, UserID: 12, ProblemID: 100, SubmittedAt: base.Add(2 * time.Minute)},
	}
	if got := mostSolvedProblemFirstSolver(txs); got != 10 {
		t.Fatalf("expected first solver of problem 100 (2 ACs) to win, got user %d", got)
	}
}

func TestMostSolvedProblemFirstSolverTieBreaksByEarliestSubmittedAt(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	// Problems 100 and 200 are tied at one AC each. Problem 200's first
	// solve happened earlier, even though its problem ID is higher, so its
	// solver must win the tie-break rather than the lowest problem ID.
	txs := []Tx{
		{SubmissionID: 1, UserID: 10, ProblemID: 100, SubmittedAt: base.Add(time.Minute)},
		{SubmissionID: 2, UserID: 20, ProblemID: 200, SubmittedAt: base},
	}
	if got := mostSolvedProblemFirstSolver(txs); got != 20 {
		t.Fatalf("expected earliest-submitted_at tie-break to credit user 20, got user %d", got)
	}
}

func TestMostSolvedProblemFirstSolverEmptyReturnsZero(t *testing.T) {
	if got := mostSolvedProblemFirstSolver(nil); got != 0 {
		t.Fatalf("expected 0 for no txs, got %d", got)
	}
}

func TestNullableUserIDZeroIsNil(t *testing.T) {
	if nullableUserID(0) != nil {
		t.Fatalf("expected nil for zero user id")
	}
}

func TestNullableUserIDNonZeroPassesThrough(t *testing.T) {
	got := nullableUserID(42)
	id, ok := got.(int64)
	if !ok || id != 42 {
		t.Fatalf("expected int64(42), got %#v", got)
	}
}
