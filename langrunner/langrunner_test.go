package langrunner

import (
	"testing"
	"time"
)

func TestSupportedMatchesIsSupported(t *testing.T) {
	for _, l := range Supported() {
		if !IsSupported(string(l)) {
			t.Fatalf("language %q in Supported() but IsSupported reports false", l)
		}
	}
}

func TestResolveCaseInsensitiveAndTrimmed(t *testing.T) {
	l, err := Resolve("  CPP ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if l != LangCPP {
		t.Fatalf("expected LangCPP, got %q", l)
	}
}

func TestResolveUnsupportedLanguage(t *testing.T) {
	if _, err := Resolve("rust"); err == nil {
		t.Fatalf("expected error for unsupported language")
	}
}

func TestNeedsCompile(t *testing.T) {
	cases := map[Language]bool{
		LangC:      true,
		LangCPP:    true,
		LangJava:   true,
		LangPython: false,
	}
	for l, want := range cases {
		if got := NeedsCompile(l); got != want {
			t.Fatalf("NeedsCompile(%q) = %v, want %v", l, got, want)
		}
	}
}

func TestSourceFileNameMatchesLanguage(t *testing.T) {
	if SourceFileName(LangC) != "main.c" {
		t.Fatalf("unexpected source name for C: %s", SourceFileName(LangC))
	}
	if SourceFileName(LangJava) != "Main.java" {
		t.Fatalf("unexpected source name for Java: %s", SourceFileName(LangJava))
	}
}

func TestCompileSpecGrantsExtraHeadroomForJava(t *testing.T) {
	base := time.Second
	spec := CompileSpec(LangJava, "/tmp/box", base, 65536)
	if spec.Limits.CPUTimeLimit != 3*base {
		t.Fatalf("expected compile CPU headroom 3x base, got %v", spec.Limits.CPUTimeLimit)
	}
	if spec.Limits.MemoryLimitKB != 65536*3 {
		t.Fatalf("expected compile memory headroom 3x base, got %d", spec.Limits.MemoryLimitKB)
	}
}

func TestCompileSpecDefaultsHeadroomToOneForPython(t *testing.T) {
	// Python has no compile recipe, but CompileSpec must not divide by zero
	// multipliers if ever called against it.
	base := time.Second
	spec := CompileSpec(LangPython, "/tmp/box", base, 32768)
	if spec.Limits.CPUTimeLimit != base {
		t.Fatalf("expected unscaled CPU limit, got %v", spec.Limits.CPUTimeLimit)
	}
	if spec.Limits.MemoryLimitKB != 32768 {
		t.Fatalf("expected unscaled memory limit, got %d", spec.Limits.MemoryLimitKB)
	}
}

func TestRunSpecWallTimeExceedsCPUTime(t *testing.T) {
	spec := RunSpec(LangCPP, "/tmp/box", "1 2\n", 2*time.Second, 262144, 1024)
	if spec.Limits.WallTimeLimit <= spec.Limits.CPUTimeLimit {
		t.Fatalf("expected wall time limit to exceed CPU time limit, got wall=%v cpu=%v", spec.Limits.WallTimeLimit, spec.Limits.CPUTimeLimit)
	}
	if spec.Stdin != "1 2\n" {
		t.Fatalf("expected stdin to be threaded through, got %q", spec.Stdin)
	}
}

func TestRunSpecArgsUseCompiledBinaryForNativeLanguages(t *testing.T) {
	spec := RunSpec(LangC, "/tmp/box", "", time.Second, 65536, 1024)
	if len(spec.Args) != 1 || spec.Args[0] != "/tmp/box/main" {
		t.Fatalf("unexpected run args for C: %v", spec.Args)
	}
}

func TestRunSpecArgsInvokeInterpreterForPython(t *testing.T) {
	spec := RunSpec(LangPython, "/tmp/box", "", time.Second, 65536, 1024)
	if len(spec.Args) != 2 || spec.Args[0] != "/usr/bin/python3" {
		t.Fatalf("unexpected run args for Python: %v", spec.Args)
	}
}
