package judge

import (
	"testing"

	"judgecore/sandbox"
)

func TestMapKillReasonCPUAndWallBecomeTLE(t *testing.T) {
	for _, reason := range []sandbox.KillReason{sandbox.KillCPU, sandbox.KillWall} {
		got := mapKillReason(sandbox.RunResult{KillReason: reason})
		if got != "TLE" {
			t.Fatalf("KillReason %q: expected TLE, got %s", reason, got)
		}
	}
}

func TestMapKillReasonMemoryBecomesMLE(t *testing.T) {
	got := mapKillReason(sandbox.RunResult{KillReason: sandbox.KillMemory})
	if got != "MLE" {
		t.Fatalf("expected MLE, got %s", got)
	}
}

func TestMapKillReasonSignalAndProcLimitBecomeRE(t *testing.T) {
	for _, reason := range []sandbox.KillReason{sandbox.KillSignal, sandbox.KillProcLimit} {
		got := mapKillReason(sandbox.RunResult{KillReason: reason})
		if got != "RE" {
			t.Fatalf("KillReason %q: expected RE, got %s", reason, got)
		}
	}
}

func TestMapKillReasonCleanExitIsAC(t *testing.T) {
	got := mapKillReason(sandbox.RunResult{KillReason: sandbox.KillNone, ExitCode: 0})
	if got != "AC" {
		t.Fatalf("expected AC, got %s", got)
	}
}

func TestMapKillReasonNonZeroExitIsRE(t *testing.T) {
	got := mapKillReason(sandbox.RunResult{KillReason: sandbox.KillNone, ExitCode: 1})
	if got != "RE" {
		t.Fatalf("expected RE, got %s", got)
	}
}

func TestMapKillReasonStdoutTruncationIsMLE(t *testing.T) {
	got := mapKillReason(sandbox.RunResult{KillReason: sandbox.KillNone, ExitCode: 0, StdoutTrunc: true})
	if got != "MLE" {
		t.Fatalf("expected MLE for truncated stdout, got %s", got)
	}
}

func TestLanguageAllowedMatchesCaseInsensitively(t *testing.T) {
	if !languageAllowed([]string{"Python", "cpp"}, "PYTHON") {
		t.Fatalf("expected case-insensitive match to succeed")
	}
}

func TestLanguageAllowedRejectsUnlisted(t *testing.T) {
	if languageAllowed([]string{"python"}, "java") {
		t.Fatalf("expected java to be rejected when not in the allowed list")
	}
}

func TestPtrReturnsAddressableCopy(t *testing.T) {
	p := ptr("hello")
	if p == nil || *p != "hello" {
		t.Fatalf("expected pointer to \"hello\", got %v", p)
	}
}
