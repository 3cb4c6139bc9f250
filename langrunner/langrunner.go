// Package langrunner holds the closed per-language compile/run recipe table
// and turns it into sandbox.Spec values. Adding a language is a data-only
// change to the table below.
package langrunner

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"judgecore/sandbox"
)

// Language is a tagged variant identifying one of the supported runtimes.
type Language string

const (
	LangC      Language = "c"
	LangCPP    Language = "cpp"
	LangPython Language = "python"
	LangJava   Language = "java"
)

// recipe is the closed data table entry for one language: how to lay the
// source file down, how to compile it (if at all), and how to invoke it.
type recipe struct {
	sourceName    string
	compile       []string // empty => interpreted, no compile step
	compileMemMul float64  // extra memory headroom factor granted to the compiler
	compileCPUMul float64  // extra CPU headroom factor granted to the compiler
	// runCPUExtra/runMemExtraKB are additive run-phase headroom granted on
	// top of the problem's own caps, covering interpreter/VM overhead a
	// compiled native binary doesn't pay (bytecode verification, JIT
	// warm-up, the interpreter's own baseline heap). Zero for languages that
	// run as a bare native binary.
	runCPUExtra   time.Duration
	runMemExtraKB int64
	run           func(workDir string) []string
}

var table = map[Language]recipe{
	LangC: {
		sourceName:    "main.c",
		compile:       []string{"/usr/bin/gcc", "main.c", "-std=gnu17", "-O2", "-pipe", "-static", "-s", "-o", "main"},
		compileMemMul: 2,
		compileCPUMul: 2,
		run:           func(dir string) []string { return []string{filepath.Join(dir, "main")} },
	},
	LangCPP: {
		sourceName:    "main.cpp",
		compile:       []string{"/usr/bin/g++", "main.cpp", "-std=gnu++17", "-O2", "-pipe", "-s", "-o", "main"},
		compileMemMul: 2,
		compileCPUMul: 2,
		run:           func(dir string) []string { return []string{filepath.Join(dir, "main")} },
	},
	LangPython: {
		sourceName: "main.py",
		// CPython needs no ahead-of-time compile; `run` execs the interpreter directly.
		runCPUExtra:   200 * time.Millisecond,
		runMemExtraKB: 32 * 1024,
		run:           func(dir string) []string { return []string{"/usr/bin/python3", filepath.Join(dir, "main.py")} },
	},
	LangJava: {
		sourceName:    "Main.java",
		compile:       []string{"/bin/sh", "-c", "javac Main.java"},
		compileMemMul: 3,
		compileCPUMul: 3,
		// JVM startup/class-loading/JIT warm-up dwarfs CPython's overhead.
		runCPUExtra:   400 * time.Millisecond,
		runMemExtraKB: 64 * 1024,
		run:           func(dir string) []string { return []string{"/usr/bin/java", "-cp", dir, "Main"} },
	},
}

// Supported lists the languages in the reference set, in stable order.
func Supported() []Language {
	return []Language{LangC, LangCPP, LangPython, LangJava}
}

// IsSupported reports whether key names a language in the table.
func IsSupported(key string) bool {
	_, ok := table[Language(strings.ToLower(strings.TrimSpace(key)))]
	return ok
}

// Resolve maps a free-form language key to a Language; it returns an error
// when the key is not in the table.
func Resolve(key string) (Language, error) {
	l := Language(strings.ToLower(strings.TrimSpace(key)))
	if _, ok := table[l]; !ok {
		return "", fmt.Errorf("langrunner: unsupported language %q", key)
	}
	return l, nil
}

// NeedsCompile reports whether the language has a separate compile stage.
func NeedsCompile(l Language) bool {
	return len(table[l].compile) > 0
}

// SourceFileName returns the filename the source must be written as.
func SourceFileName(l Language) string {
	return table[l].sourceName
}

// CompileSpec builds the sandbox.Spec for the compile stage. workDir must
// already contain the source file written as SourceFileName(l).
func CompileSpec(l Language, workDir string, timeLimit time.Duration, memLimitKB int64) sandbox.Spec {
	r := table[l]
	cpuMul := r.compileCPUMul
	if cpuMul <= 0 {
		cpuMul = 1
	}
	memMul := r.compileMemMul
	if memMul <= 0 {
		memMul = 1
	}
	return sandbox.Spec{
		Args: r.compile,
		Env:  []string{"PATH=/usr/bin:/bin"},
		Dir:  workDir,
		Limits: sandbox.Limits{
			WallTimeLimit: time.Duration(float64(timeLimit) * cpuMul),
			CPUTimeLimit:  time.Duration(float64(timeLimit) * cpuMul),
			MemoryLimitKB: int64(float64(memLimitKB) * memMul),
			ProcessLimit:  32,
			StdoutCapKB:   64,
			StderrCapKB:   64,
		},
	}
}

// RunSpec builds the sandbox.Spec for executing a compiled/interpreted
// program against one test case's stdin. timeLimit/memLimitKB are the
// problem's own caps; the language's additive run-phase headroom (interpreter
// or VM overhead) is layered on top before the wall/CPU/memory limits are
// computed, per language class.
func RunSpec(l Language, workDir, stdin string, timeLimit time.Duration, memLimitKB int64, stdoutCapKB int64) sandbox.Spec {
	r := table[l]
	cpu := timeLimit + r.runCPUExtra
	mem := memLimitKB + r.runMemExtraKB
	return sandbox.Spec{
		Args:  r.run(workDir),
		Env:   []string{"PATH=/usr/bin:/bin"},
		Dir:   workDir,
		Stdin: stdin,
		Limits: sandbox.Limits{
			WallTimeLimit: cpu + cpu/2,
			CPUTimeLimit:  cpu,
			MemoryLimitKB: mem,
			ProcessLimit:  16,
			StdoutCapKB:   stdoutCapKB,
			StderrCapKB:   64,
		},
	}
}
