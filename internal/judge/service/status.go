package service

import (
	"context"

	"judgeflow/internal/judge/model"
	appErr "judgeflow/pkg/errors"
	"judgeflow/pkg/utils/logger"

	"go.uber.org/zap"
)

// saveStatus writes progress best-effort; the database row stays the
// source of truth so a cache failure never fails a judge run.
func (s *Service) saveStatus(ctx context.Context, status model.JudgeStatus) {
	ctxStatus := ctx
	if s.statusTimeout > 0 {
		var cancel context.CancelFunc
		ctxStatus, cancel = context.WithTimeout(ctx, s.statusTimeout)
		defer cancel()
	}
	if err := s.statusRepo.Save(ctxStatus, status); err != nil {
		logger.Warn(ctx, "update judge status failed", zap.String("stage", string(status.Stage)), zap.Error(err))
	}
}

// GetStatus returns the cached status, falling back to the stored submission
// and refilling the cache on a miss.
func (s *Service) GetStatus(ctx context.Context, submissionID string) (model.JudgeStatus, error) {
	if submissionID == "" {
		return model.JudgeStatus{}, appErr.ValidationError("submission_id", "required")
	}
	status, err := s.statusRepo.Get(ctx, submissionID)
	if err == nil {
		return status, nil
	}
	if !appErr.Is(err, appErr.NotFound) {
		logger.Warn(ctx, "read cached status failed", zap.Error(err))
	}
	sub, err := s.loadSubmission(ctx, submissionID)
	if err != nil {
		return model.JudgeStatus{}, err
	}
	status = model.StatusFromSubmission(sub)
	s.saveStatus(ctx, status)
	return status, nil
}
