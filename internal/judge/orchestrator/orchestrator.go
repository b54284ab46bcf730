// Package orchestrator judges one submission against a problem's test cases.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"judgeflow/internal/judge/compare"
	"judgeflow/internal/judge/executor"
	"judgeflow/internal/judge/model"
	"judgeflow/internal/judge/verdict"
	appErr "judgeflow/pkg/errors"
	"judgeflow/pkg/utils/logger"
	"judgeflow/pkg/utils/textutil"

	"go.uber.org/zap"
)

const (
	maxDetailBytes  = 4096
	maxPreviewBytes = 1024
)

// CaseResult is the outcome of one test case. Input and output text is only
// filled for sample cases.
type CaseResult struct {
	Index     int           `json:"index"`
	Sample    bool          `json:"sample"`
	Passed    bool          `json:"passed"`
	Verdict   model.Verdict `json:"verdict"`
	RuntimeMs int64         `json:"runtime_ms"`
	MemoryKB  int64         `json:"memory_kb"`
	Input     string        `json:"input,omitempty"`
	Expected  string        `json:"expected,omitempty"`
	Actual    string        `json:"actual,omitempty"`
	Stderr    string        `json:"stderr,omitempty"`
}

// Outcome is the aggregate judgment of a submission.
type Outcome struct {
	Verdict         model.Verdict
	TestCasesPassed int
	TotalTestCases  int
	ErrorMessage    string
	ErrorDetails    string
	RuntimeMs       *int64
	MemoryKB        *int64
	Cases           []CaseResult
}

// Judgment converts the outcome into the record written onto the submission.
func (o Outcome) Judgment(judgedAt time.Time) model.Judgment {
	return model.Judgment{
		Verdict:         o.Verdict,
		TestCasesPassed: o.TestCasesPassed,
		TotalTestCases:  o.TotalTestCases,
		ErrorMessage:    o.ErrorMessage,
		ErrorDetails:    o.ErrorDetails,
		RuntimeMs:       o.RuntimeMs,
		MemoryKB:        o.MemoryKB,
		JudgedAt:        judgedAt,
	}
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithComparator replaces compare.Default.
func WithComparator(c compare.Comparator) Option {
	return func(o *Orchestrator) { o.cmp = c }
}

// JudgeOption configures a single Judge call.
type JudgeOption func(*judgeConfig)

type judgeConfig struct {
	onCase func(done, passed int)
}

// OnCaseDone is called after each executed case with running counts.
func OnCaseDone(fn func(done, passed int)) JudgeOption {
	return func(c *judgeConfig) { c.onCase = fn }
}

// Orchestrator runs test cases through an Executor and classifies the results.
type Orchestrator struct {
	exec executor.Executor
	cmp  compare.Comparator
}

// New creates an orchestrator.
func New(exec executor.Executor, opts ...Option) *Orchestrator {
	o := &Orchestrator{exec: exec, cmp: compare.Default}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Judge runs the problem's cases in declaration order and stops at the first
// failing case. Executor faults are returned as errors; no verdict is
// produced for them.
func (o *Orchestrator) Judge(ctx context.Context, sub model.Submission, problem model.Problem, opts ...JudgeOption) (Outcome, error) {
	cfg := judgeConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}
	if len(problem.TestCases) == 0 {
		return Outcome{}, appErr.Newf(appErr.TestCaseNotFound, "problem %d has no test cases", problem.ID)
	}
	problem.NormalizeLimits()

	out := Outcome{TotalTestCases: len(problem.TestCases)}
	var maxRuntime, maxMemory int64
	executed := false

	for i, tc := range problem.TestCases {
		cr, res, err := o.runCase(ctx, sub.Language, sub.SourceCode, problem, i, tc)
		if err != nil {
			return Outcome{}, err
		}
		out.Cases = append(out.Cases, cr)
		if !res.CompileFailed {
			executed = true
			maxRuntime = max(maxRuntime, res.RuntimeMs)
			maxMemory = max(maxMemory, res.MemoryKB)
		}
		if cr.Passed {
			out.TestCasesPassed++
		}
		if cfg.onCase != nil {
			cfg.onCase(i+1, out.TestCasesPassed)
		}
		if !cr.Passed {
			out.Verdict = cr.Verdict
			describeFailure(&out, cr, res, tc)
			logger.Debug(ctx, "judge stopped early",
				zap.Int("case", i),
				zap.String("verdict", cr.Verdict.String()))
			break
		}
	}

	if out.Verdict == model.VerdictPending {
		out.Verdict = model.VerdictAccepted
	}
	if executed {
		out.RuntimeMs = &maxRuntime
		out.MemoryKB = &maxMemory
	}
	return out, nil
}

// RunSamples runs every sample case without stopping early. Nothing it
// returns is persisted.
func (o *Orchestrator) RunSamples(ctx context.Context, lang model.Language, source string, problem model.Problem) ([]CaseResult, error) {
	problem.NormalizeLimits()
	var results []CaseResult
	for i, tc := range problem.TestCases {
		if !tc.IsSample {
			continue
		}
		cr, res, err := o.runCase(ctx, lang, source, problem, i, tc)
		if err != nil {
			return nil, err
		}
		results = append(results, cr)
		// A compile failure is identical for every remaining case.
		if res.CompileFailed {
			break
		}
	}
	return results, nil
}

func (o *Orchestrator) runCase(ctx context.Context, lang model.Language, source string, problem model.Problem, index int, tc model.TestCase) (CaseResult, executor.Result, error) {
	res, err := o.exec.Execute(ctx, executor.Request{
		Language:      lang,
		Source:        source,
		Input:         tc.Input,
		TimeLimitMs:   problem.TimeLimitMs,
		MemoryLimitKB: problem.MemoryLimitKB(),
	})
	if err != nil {
		if errors.Is(err, executor.ErrUnsupportedLanguage) {
			return CaseResult{}, res, appErr.Wrap(err, appErr.LanguageNotSupported)
		}
		return CaseResult{}, res, appErr.Wrapf(err, appErr.JudgeSystemError, "execute case %d", index)
	}

	compared := false
	if res.ExitCode == 0 && !res.CompileFailed && !res.TimedOut {
		compared = o.cmp.Compare(tc.Output, res.Stdout)
	}
	v, passed := verdict.Classify(res, compared)

	cr := CaseResult{
		Index:     index,
		Sample:    tc.IsSample,
		Passed:    passed,
		Verdict:   v,
		RuntimeMs: res.RuntimeMs,
		MemoryKB:  res.MemoryKB,
	}
	if passed {
		cr.Verdict = model.VerdictAccepted
	}
	if tc.IsSample {
		cr.Input = compare.Preview(tc.Input, maxPreviewBytes)
		cr.Expected = compare.Preview(tc.Output, maxPreviewBytes)
		cr.Actual = compare.Preview(res.Stdout, maxPreviewBytes)
		cr.Stderr = truncate(res.Stderr, maxPreviewBytes)
	}
	return cr, res, nil
}

func describeFailure(out *Outcome, cr CaseResult, res executor.Result, tc model.TestCase) {
	out.ErrorMessage = cr.Verdict.String()
	switch cr.Verdict {
	case model.VerdictCompilationError:
		out.ErrorDetails = truncate(res.Stderr, maxDetailBytes)
	case model.VerdictRuntimeError:
		out.ErrorMessage = fmt.Sprintf("Runtime Error on test case %d (exit code %d)", cr.Index+1, res.ExitCode)
		out.ErrorDetails = truncate(res.Stderr, maxDetailBytes)
	case model.VerdictTimeLimitExceeded, model.VerdictMemoryLimitExceeded:
		out.ErrorMessage = fmt.Sprintf("%s on test case %d", cr.Verdict, cr.Index+1)
	case model.VerdictWrongAnswer:
		out.ErrorMessage = fmt.Sprintf("Wrong Answer on test case %d", cr.Index+1)
		if tc.IsSample {
			out.ErrorDetails = fmt.Sprintf("expected: %s\nactual: %s", cr.Expected, cr.Actual)
		}
	}
}

func truncate(s string, limit int) string {
	return textutil.Clip(s, limit, "\n...(truncated)")
}
