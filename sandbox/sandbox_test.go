package sandbox

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestWrapWithRlimitsNoopWhenNoLimits(t *testing.T) {
	args := []string{"/bin/echo", "hi"}
	got := wrapWithRlimits(args, Limits{})
	if len(got) != 2 || got[0] != "/bin/echo" || got[1] != "hi" {
		t.Fatalf("expected args unchanged, got %v", got)
	}
}

func TestWrapWithRlimitsInstallsUlimits(t *testing.T) {
	args := []string{"/usr/bin/python3", "main.py"}
	limits := Limits{CPUTimeLimit: 2 * time.Second, MemoryLimitKB: 65536, ProcessLimit: 16}
	got := wrapWithRlimits(args, limits)
	if len(got) != 3 || got[0] != "/bin/sh" || got[1] != "-c" {
		t.Fatalf("expected sh -c wrapper, got %v", got)
	}
	script := got[2]
	for _, want := range []string{"ulimit -t 2", "ulimit -v 65536", "ulimit -u 16", "exec"} {
		if !strings.Contains(script, want) {
			t.Fatalf("expected script to contain %q, got %q", want, script)
		}
	}
}

func TestWrapWithRlimitsRoundsSubSecondCPUUpToOne(t *testing.T) {
	limits := Limits{CPUTimeLimit: 200 * time.Millisecond}
	got := wrapWithRlimits([]string{"/bin/true"}, limits)
	if !strings.Contains(got[2], "ulimit -t 1") {
		t.Fatalf("expected sub-second CPU limit to round up to 1s, got %q", got[2])
	}
}

func TestWrapWithRlimitsQuotesArgsWithSpecialChars(t *testing.T) {
	args := []string{"/bin/echo", "it's a test"}
	limits := Limits{MemoryLimitKB: 1024}
	got := wrapWithRlimits(args, limits)
	if !strings.Contains(got[2], `'it'\''s a test'`) {
		t.Fatalf("expected properly escaped single quote, got %q", got[2])
	}
}

func TestShellQuoteEscapesSingleQuotes(t *testing.T) {
	got := shellQuote("a'b")
	if got != `'a'\''b'` {
		t.Fatalf("unexpected shell quoting: %q", got)
	}
}

func TestCapOrDefault(t *testing.T) {
	if got := capOrDefault(0, 42); got != 42 {
		t.Fatalf("expected default for zero, got %d", got)
	}
	if got := capOrDefault(-1, 42); got != 42 {
		t.Fatalf("expected default for negative, got %d", got)
	}
	if got := capOrDefault(7, 42); got != 7 {
		t.Fatalf("expected explicit value to pass through, got %d", got)
	}
}

func TestLimitedBufferTruncatesAtCap(t *testing.T) {
	var b limitedBuffer
	b.cap = 8
	b.Write([]byte("0123456789"))
	if !b.truncated {
		t.Fatalf("expected buffer to be marked truncated")
	}
	if got := b.String(); got != "01234567...[truncated]" {
		t.Fatalf("unexpected truncated content: %q", got)
	}
}

func TestLimitedBufferUnderCapNotTruncated(t *testing.T) {
	var b limitedBuffer
	b.cap = 1024
	b.Write([]byte("hello"))
	if b.truncated {
		t.Fatalf("did not expect truncation under cap")
	}
	if got := b.String(); got != "hello" {
		t.Fatalf("unexpected content: %q", got)
	}
}

func TestLimitedBufferIgnoresWritesAfterTruncation(t *testing.T) {
	var b limitedBuffer
	b.cap = 4
	b.Write([]byte("abcd"))
	b.Write([]byte("more"))
	if got := b.String(); got != "abcd...[truncated]" {
		t.Fatalf("unexpected content after post-truncation write: %q", got)
	}
}

func TestNewPoolRejectsEmptyRoot(t *testing.T) {
	if _, err := NewPool("   ", 4); err != ErrRootNotConfigured {
		t.Fatalf("expected ErrRootNotConfigured, got %v", err)
	}
}

func TestNewPoolDefaultsNonPositiveSizeToOne(t *testing.T) {
	dir := t.TempDir()
	p, err := NewPool(dir, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cap(p.free) != 1 {
		t.Fatalf("expected pool size defaulted to 1, got %d", cap(p.free))
	}
}

func TestPoolAcquireReleaseRoundTrip(t *testing.T) {
	dir := t.TempDir()
	p, err := NewPool(dir, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	box, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if p.ActiveCount() != 1 {
		t.Fatalf("expected 1 active box, got %d", p.ActiveCount())
	}
	box.Release()
	if p.ActiveCount() != 0 {
		t.Fatalf("expected 0 active boxes after release, got %d", p.ActiveCount())
	}
}
