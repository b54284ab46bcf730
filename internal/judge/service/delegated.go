package service

import (
	"context"
	"crypto/subtle"

	"judgeflow/internal/judge/model"
	appErr "judgeflow/pkg/errors"
	"judgeflow/pkg/utils/logger"
	"judgeflow/pkg/utils/textutil"

	"go.uber.org/zap"
)

const (
	maxDelegatedDetailBytes  = 4096
	maxDelegatedMessageBytes = 512
)

// HandleDelegatedResult commits a whole-submission result produced by an
// external judge. It reports false when the submission was already judged.
func (s *Service) HandleDelegatedResult(ctx context.Context, submissionID string, res model.DelegatedResult) (bool, error) {
	if s.callbackToken == "" || subtle.ConstantTimeCompare([]byte(res.Token), []byte(s.callbackToken)) != 1 {
		return false, appErr.New(appErr.CallbackTokenInvalid)
	}
	ctx = logger.WithSubmission(ctx, submissionID)

	sub, err := s.loadSubmission(ctx, submissionID)
	if err != nil {
		return false, err
	}
	if sub.Verdict.IsTerminal() {
		return false, nil
	}
	problem, err := s.loadProblem(ctx, sub.ProblemID)
	if err != nil {
		return false, err
	}

	j := delegatedJudgment(res, len(problem.TestCases))
	j.JudgedAt = s.now()
	logger.Info(ctx, "delegated result received",
		zap.String("verdict", j.Verdict.String()),
		zap.Int("passed", j.TestCasesPassed),
		zap.Int("total", j.TotalTestCases))
	return s.commit(ctx, sub, problem.Difficulty, j)
}

// delegatedJudgment derives the stored judgment from per-case reports.
// Cases the external judge did not report count as not passed, so Accepted
// needs a passing report for every test case.
func delegatedJudgment(res model.DelegatedResult, problemCases int) model.Judgment {
	j := model.Judgment{
		TotalTestCases: max(len(res.Results), problemCases),
		ErrorMessage:   textutil.Clip(res.ErrorMessage, maxDelegatedMessageBytes, ""),
	}
	var maxRuntime, maxMemory int64
	firstFailure := -1
	for i, report := range res.Results {
		if report.Passed {
			j.TestCasesPassed++
		} else if firstFailure < 0 {
			firstFailure = i
		}
		maxRuntime = max(maxRuntime, report.RuntimeMs)
		maxMemory = max(maxMemory, report.MemoryKB)
	}
	if len(res.Results) > 0 {
		j.RuntimeMs = &maxRuntime
		j.MemoryKB = &maxMemory
	}

	switch {
	case len(res.Results) > 0 && j.TestCasesPassed == j.TotalTestCases:
		j.Verdict = model.VerdictAccepted
	default:
		j.Verdict = model.VerdictWrongAnswer
		if v, err := model.ParseVerdict(res.Verdict); err == nil && v.IsTerminal() && v != model.VerdictAccepted {
			j.Verdict = v
		}
	}
	if j.Verdict != model.VerdictAccepted && firstFailure >= 0 {
		j.ErrorDetails = textutil.Clip(res.Results[firstFailure].Stderr, maxDelegatedDetailBytes, "")
	}
	if j.Verdict != model.VerdictAccepted && j.ErrorMessage == "" {
		j.ErrorMessage = j.Verdict.String()
	}
	return j
}
