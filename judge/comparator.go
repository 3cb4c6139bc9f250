package judge

import (
	"context"
	"math"
	"strconv"
	"strings"
	"time"

	"judgecore/sandbox"
)

// CheckerType selects how an actual/expected output pair is compared.
type CheckerType string

const (
	CheckerExact  CheckerType = "exact"
	CheckerEps    CheckerType = "eps"
	CheckerCustom CheckerType = "custom"
)

// Checker spawns an external checker binary under the sandbox when
// CheckerType is "custom". Problems that don't use a custom checker never
// touch this.
type Checker struct {
	Pool *sandbox.Pool
}

// Compare decides whether actual matches expected under the given checker
// configuration. For exact/eps it never touches the sandbox. For custom, it
// spawns checkerPath(input, expected, actual) and treats exit code 0 as AC.
func (c *Checker) Compare(ctx context.Context, checkerType CheckerType, eps float64, checkerPath, input, expected, actual string) (bool, error) {
	switch checkerType {
	case CheckerEps:
		return outputsEqualEps(actual, expected, eps), nil
	case CheckerCustom:
		return c.compareCustom(ctx, checkerPath, input, expected, actual)
	default:
		return outputsEqualExact(actual, expected), nil
	}
}

// outputsEqualExact tolerates trailing whitespace and blank trailing lines,
// per the spec's default byte-compare semantics.
func outputsEqualExact(actual, expected string) bool {
	return normalizeTrailing(actual) == normalizeTrailing(expected)
}

func normalizeTrailing(s string) string {
	lines := strings.Split(s, "\n")
	for i := range lines {
		lines[i] = strings.TrimRight(lines[i], " \t\r")
	}
	for len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return strings.Join(lines, "\n")
}

func outputsEqualEps(actual, expected string, eps float64) bool {
	aa := strings.Fields(actual)
	bb := strings.Fields(expected)
	if len(aa) != len(bb) {
		return false
	}
	for i := range aa {
		x, err1 := strconv.ParseFloat(aa[i], 64)
		y, err2 := strconv.ParseFloat(bb[i], 64)
		if err1 != nil || err2 != nil {
			if aa[i] != bb[i] {
				return false
			}
			continue
		}
		if math.Abs(x-y) > eps {
			return false
		}
	}
	return true
}

func (c *Checker) compareCustom(ctx context.Context, checkerPath, input, expected, actual string) (bool, error) {
	box, err := c.Pool.Acquire(ctx)
	if err != nil {
		return false, err
	}
	defer box.Release()

	workDir, err := box.Workspace()
	if err != nil {
		return false, err
	}

	stdin := input + "\x00" + expected + "\x00" + actual
	res, err := box.Run(ctx, sandbox.Spec{
		Args:  []string{checkerPath},
		Dir:   workDir,
		Stdin: stdin,
		Limits: sandbox.Limits{
			WallTimeLimit: 5 * time.Second,
			CPUTimeLimit:  5 * time.Second,
			MemoryLimitKB: 256 * 1024,
			ProcessLimit:  8,
			StdoutCapKB:   16,
			StderrCapKB:   16,
		},
	})
	if err != nil {
		return false, err
	}
	return res.KillReason == sandbox.KillNone && res.ExitCode == 0, nil
}
