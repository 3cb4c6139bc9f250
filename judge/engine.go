// Package judge drives the compile -> run-per-testcase -> compare ->
// aggregate-verdict pipeline for a single submission, short-circuiting on
// the first non-AC test case.
package judge

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"judgecore/core"
	"judgecore/langrunner"
	"judgecore/sandbox"
	"judgecore/scoring"
)

var (
	// ErrProblemNotApproved names the case of a submission targeting a
	// problem that has not cleared admin review. Judge does not return it;
	// it records verdict IE for such a submission itself.
	ErrProblemNotApproved = errors.New("judge: problem is not approved")
)

// Engine wires the sandbox, language table, and repositories into the
// judging pipeline described by the submission/testcase/verdict contract.
type Engine struct {
	Submissions core.SubmissionRepository
	Problems    core.ProblemRepository
	Scores      *scoring.Engine
	Pool        *sandbox.Pool
	Checker     *Checker
	CompileTime time.Duration
}

// NewEngine wires an Engine from its collaborators.
func NewEngine(subs core.SubmissionRepository, problems core.ProblemRepository, scores *scoring.Engine, pool *sandbox.Pool, compileTime time.Duration) *Engine {
	if compileTime <= 0 {
		compileTime = 5 * time.Second
	}
	return &Engine{
		Submissions: subs,
		Problems:    problems,
		Scores:      scores,
		Pool:        pool,
		Checker:     &Checker{Pool: pool},
		CompileTime: compileTime,
	}
}

// Judge runs the full pipeline for submissionID, persists the result, and
// returns the final verdict. A non-nil error indicates a system-level
// failure the caller (the dispatcher) should retry, distinct from a judged
// verdict which is always returned with a nil error.
func (e *Engine) Judge(ctx context.Context, submissionID int64) (string, error) {
	sub, err := e.Submissions.AcquirePending(ctx, submissionID)
	if err != nil {
		return "", err
	}

	problem, err := e.Problems.FindDetailAdmin(ctx, sub.ProblemID)
	if err != nil {
		return "", err
	}
	if problem.Status != core.ProblemStatusApproved {
		return e.finish(ctx, sub.ID, "IE", nil, ptr("problem is not approved"), nil)
	}

	lang, err := langrunner.Resolve(sub.Language)
	if err != nil {
		return e.finish(ctx, sub.ID, "IE", nil, ptr(err.Error()), nil)
	}
	if len(problem.LanguagesAllowed) > 0 && !languageAllowed(problem.LanguagesAllowed, sub.Language) {
		return e.finish(ctx, sub.ID, "IE", nil, ptr("language not allowed for this problem"), nil)
	}

	sourceBytes, err := os.ReadFile(sub.SourcePath)
	if err != nil {
		return "", err
	}

	timeLimit := time.Duration(problem.TimeLimitMS) * time.Millisecond
	if timeLimit <= 0 {
		timeLimit = 2 * time.Second
	}
	memLimitKB := int64(problem.MemoryLimitKB)
	if memLimitKB <= 0 {
		memLimitKB = 256 * 1024
	}

	box, err := e.Pool.Acquire(ctx)
	if err != nil {
		return "", err
	}
	defer box.Release()

	workDir, err := box.Workspace()
	if err != nil {
		return "", err
	}

	if err := os.WriteFile(filepath.Join(workDir, langrunner.SourceFileName(lang)), sourceBytes, 0o644); err != nil {
		return "", err
	}

	if langrunner.NeedsCompile(lang) {
		compileRes, err := box.Run(ctx, langrunner.CompileSpec(lang, workDir, e.CompileTime, memLimitKB))
		if err != nil {
			return "", err
		}
		if compileRes.KillReason != sandbox.KillNone || compileRes.ExitCode != 0 {
			errMsg := compileRes.Stderr
			return e.finish(ctx, sub.ID, "CE", nil, ptr(errMsg), nil)
		}
	}

	cases, err := e.Problems.ListTestcases(ctx, sub.ProblemID)
	if err != nil {
		return "", err
	}
	if len(cases) == 0 {
		return e.finish(ctx, sub.ID, "IE", nil, ptr("no testcases defined for problem"), nil)
	}

	checkerType := CheckerType(problem.CheckerType)
	if checkerType == "" {
		checkerType = CheckerExact
	}

	stdoutCapKB := int64(problem.StdoutCapBytes) / 1024
	if stdoutCapKB <= 0 {
		stdoutCapKB = 10
	}

	var details []core.SubmissionJudgeDetail
	finalVerdict := "AC"
	var maxTimeMS, maxMemKB *int32

	for i, tc := range cases {
		name := fmt.Sprintf("%d", i+1)
		res, err := box.Run(ctx, langrunner.RunSpec(lang, workDir, tc.InputText, timeLimit, memLimitKB, stdoutCapKB))
		if err != nil {
			return "", err
		}

		verdict := mapKillReason(res)
		if verdict == "AC" {
			ok, cmpErr := e.Checker.Compare(ctx, checkerType, problem.CheckerEps, "", tc.InputText, tc.OutputText, res.Stdout)
			if cmpErr != nil {
				return "", cmpErr
			}
			if !ok {
				verdict = "WA"
			}
		}

		t := int32(res.CPUTimeMS)
		m := int32(res.MaxRSSKB)
		details = append(details, core.SubmissionJudgeDetail{Testcase: name, Status: verdict, TimeMS: &t, MemoryKB: &m})
		if maxTimeMS == nil || t > *maxTimeMS {
			maxTimeMS = &t
		}
		if maxMemKB == nil || m > *maxMemKB {
			maxMemKB = &m
		}

		if verdict != "AC" {
			finalVerdict = verdict
			break
		}
	}

	return e.finish(ctx, sub.ID, finalVerdict, details, nil, &judgeAggregate{maxTimeMS, maxMemKB})
}

type judgeAggregate struct {
	TimeMS   *int32
	MemoryKB *int32
}

func (e *Engine) finish(ctx context.Context, subID int64, verdict string, details []core.SubmissionJudgeDetail, errMsg *string, agg *judgeAggregate) (string, error) {
	status := "succeeded"
	if verdict != "AC" {
		status = "failed"
	}

	var pointsEarned *int32
	if verdict == "AC" && e.Scores != nil {
		// A terminal verdict is only ever persisted once (submissions.verdict
		// is monotone to a terminal state). A transient failure here must
		// surface as an error so the dispatcher retries Judge instead of
		// SaveResult committing an AC with points_earned left NULL.
		sub, err := e.Submissions.FindByID(ctx, subID)
		if err != nil {
			return "", err
		}
		pts, err := e.Scores.Award(ctx, sub.ProblemID, sub.UserID)
		if err != nil {
			return "", err
		}
		p := int32(pts)
		pointsEarned = &p
	}

	result := core.SubmissionResult{
		SubmissionID: subID,
		Verdict:      verdict,
		ErrorMessage: errMsg,
		Details:      details,
		PointsEarned: pointsEarned,
	}
	if agg != nil {
		result.TimeMS = agg.TimeMS
		result.MemoryKB = agg.MemoryKB
	}

	if err := e.Submissions.SaveResult(ctx, result, status); err != nil {
		return "", err
	}
	return verdict, nil
}

// mapKillReason folds the sandbox's precise kill taxonomy into the judge
// verdict alphabet {AC,WA,TLE,MLE,RE,CE,IE}. Output-limit breaches fold into
// MLE (the submission exceeded a resource ceiling, same bucket as RSS).
func mapKillReason(res sandbox.RunResult) string {
	switch res.KillReason {
	case sandbox.KillCPU, sandbox.KillWall:
		return "TLE"
	case sandbox.KillMemory:
		return "MLE"
	case sandbox.KillProcLimit:
		return "RE"
	case sandbox.KillSignal:
		return "RE"
	case sandbox.KillNone:
		if res.StdoutTrunc {
			return "MLE"
		}
		if res.ExitCode != 0 {
			return "RE"
		}
		return "AC"
	default:
		return "RE"
	}
}

func ptr(s string) *string { return &s }

// languageAllowed reports whether lang (case-insensitively) appears in the
// problem's languages_allowed list.
func languageAllowed(allowed []string, lang string) bool {
	lang = strings.ToLower(strings.TrimSpace(lang))
	for _, a := range allowed {
		if strings.ToLower(strings.TrimSpace(a)) == lang {
			return true
		}
	}
	return false
}
