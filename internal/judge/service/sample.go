package service

import (
	"context"
	"strings"

	"judgeflow/internal/judge/model"
	"judgeflow/internal/judge/orchestrator"
	appErr "judgeflow/pkg/errors"
	"judgeflow/pkg/utils/logger"

	"go.uber.org/zap"
)

// SampleRequest asks for the visible sample cases of a problem to be run.
type SampleRequest struct {
	ProblemID int64  `json:"problem_id"`
	Language  string `json:"language"`
	Code      string `json:"code"`
}

// SampleResult reports every sample case; nothing is persisted.
type SampleResult struct {
	ProblemID int64                     `json:"problem_id"`
	AllPassed bool                      `json:"all_passed"`
	Cases     []orchestrator.CaseResult `json:"cases"`
}

// RunSample runs the problem's sample cases against code. It shares the
// worker pool with queued judging but never waits for a free slot.
func (s *Service) RunSample(ctx context.Context, req SampleRequest) (SampleResult, error) {
	lang, err := model.ParseLanguage(req.Language)
	if err != nil {
		return SampleResult{}, appErr.Wrap(err, appErr.LanguageNotSupported)
	}
	if strings.TrimSpace(req.Code) == "" {
		return SampleResult{}, appErr.ValidationError("code", "required")
	}
	if len(req.Code) > maxSampleSourceBytes {
		return SampleResult{}, appErr.New(appErr.CodeTooLarge)
	}
	problem, err := s.loadProblem(ctx, req.ProblemID)
	if err != nil {
		return SampleResult{}, err
	}
	if len(problem.SampleCases()) == 0 {
		return SampleResult{}, appErr.New(appErr.TestCaseNotFound).WithMessage("problem has no sample cases")
	}

	if !s.tryAcquireSlot() {
		return SampleResult{}, appErr.New(appErr.JudgeQueueFull)
	}
	defer s.releaseSlot()

	cases, err := s.judger.RunSamples(ctx, lang, req.Code, *problem)
	if err != nil {
		if appErr.Is(err, appErr.LanguageNotSupported) {
			return SampleResult{}, err
		}
		logger.Error(ctx, "sample run failed", zap.Int64("problem_id", req.ProblemID), zap.Error(err))
		return SampleResult{}, appErr.Wrap(err, appErr.SampleRunFailed)
	}
	out := SampleResult{ProblemID: problem.ID, AllPassed: len(cases) > 0, Cases: cases}
	for _, c := range cases {
		if !c.Passed {
			out.AllPassed = false
			break
		}
	}
	return out, nil
}
