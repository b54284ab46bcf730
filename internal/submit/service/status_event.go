package service

import (
	"context"
	"encoding/json"

	"judgeflow/internal/common/mq"
	"judgeflow/internal/judge/model"
	appErr "judgeflow/pkg/errors"
	"judgeflow/pkg/utils/logger"

	"go.uber.org/zap"
)

// HandleFinalStatusMessage consumes final status events from the judge so
// the intake side serves the terminal status and fresh stats without
// waiting for its caches to expire.
func (s *SubmitService) HandleFinalStatusMessage(ctx context.Context, msg *mq.Message) error {
	if msg == nil {
		return appErr.New(appErr.InvalidParams).WithMessage("message is nil")
	}
	var event model.StatusEvent
	if err := json.Unmarshal(msg.Body, &event); err != nil {
		logger.Warn(ctx, "drop undecodable status event", zap.String("message_id", msg.ID), zap.Error(err))
		return nil
	}
	if event.Type != model.StatusEventFinal || event.Status.SubmissionID == "" || !event.Status.Final() {
		logger.Warn(ctx, "drop unexpected status event", zap.String("type", event.Type), zap.String("message_id", msg.ID))
		return nil
	}
	ctx = logger.WithSubmission(ctx, event.Status.SubmissionID)

	if err := s.statusRepo.Save(ctx, event.Status); err != nil {
		return err
	}
	if s.stats == nil {
		return nil
	}
	ctxDB := withTimeout(ctx, s.timeouts.DB)
	defer ctxDB.cancel()
	sub, err := s.submissions.GetByID(ctxDB.ctx, nil, event.Status.SubmissionID)
	if err != nil {
		logger.Warn(ctx, "load submission for final event failed", zap.Error(err))
		return nil
	}
	s.stats.Invalidate(ctx, sub.UserID)
	return nil
}
