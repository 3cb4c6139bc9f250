package judge

import (
	"context"
	"testing"
)

func TestCompareExactIgnoresTrailingWhitespace(t *testing.T) {
	c := &Checker{}
	ok, err := c.Compare(context.Background(), CheckerExact, 0, "", "", "1 2 3\n", "1 2 3  \n\n")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Fatalf("expected outputs to compare equal")
	}
}

func TestCompareExactRejectsContentDiff(t *testing.T) {
	c := &Checker{}
	ok, err := c.Compare(context.Background(), CheckerExact, 0, "", "", "1 2 3\n", "1 2 4\n")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatalf("expected outputs to differ")
	}
}

func TestCompareEpsWithinTolerance(t *testing.T) {
	c := &Checker{}
	ok, err := c.Compare(context.Background(), CheckerEps, 0.01, "", "", "3.14159", "3.14160")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Fatalf("expected values within eps to match")
	}
}

func TestCompareEpsOutsideTolerance(t *testing.T) {
	c := &Checker{}
	ok, err := c.Compare(context.Background(), CheckerEps, 0.0001, "", "", "3.14159", "3.2")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatalf("expected values outside eps to mismatch")
	}
}

func TestCompareEpsFallsBackToExactOnNonNumeric(t *testing.T) {
	c := &Checker{}
	ok, err := c.Compare(context.Background(), CheckerEps, 0.01, "", "", "yes no", "yes no")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Fatalf("expected identical tokens to match")
	}

	ok, err = c.Compare(context.Background(), CheckerEps, 0.01, "", "", "yes", "no")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatalf("expected differing tokens to mismatch")
	}
}

func TestCompareEpsFieldCountMismatch(t *testing.T) {
	c := &Checker{}
	ok, err := c.Compare(context.Background(), CheckerEps, 0.01, "", "", "1 2 3", "1 2")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatalf("expected field count mismatch to fail comparison")
	}
}
