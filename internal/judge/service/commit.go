package service

import (
	"context"
	"time"

	"judgeflow/internal/common/db"
	"judgeflow/internal/judge/model"
	appErr "judgeflow/pkg/errors"
	"judgeflow/pkg/utils/logger"

	"go.uber.org/zap"
)

const commitAttempts = 2

// commit writes j onto the Pending submission and folds it into the user's
// stats in one transaction. It reports false when the submission had
// already been judged, in which case neither row changes.
//
// An empty difficulty means the problem is gone; the verdict is still
// recorded but no stats bucket can be charged.
func (s *Service) commit(ctx context.Context, sub *model.Submission, difficulty model.Difficulty, j model.Judgment) (bool, error) {
	if err := j.Validate(); err != nil {
		return false, appErr.Wrapf(err, appErr.JudgeSystemError, "invalid judgment")
	}
	j = j.Cleaned()
	judged := *sub
	j.Apply(&judged)

	var applied bool
	for attempt := 1; ; attempt++ {
		applied = false
		err := s.db.Transaction(ctx, func(tx db.Transaction) error {
			ok, err := s.submissions.CompleteJudgment(ctx, tx, sub.ID, j)
			if err != nil {
				return err
			}
			if !ok {
				return nil
			}
			if difficulty != "" {
				if _, err := s.stats.Record(ctx, tx, judged, difficulty, sub.CreatedAt); err != nil {
					return err
				}
			}
			applied = true
			return nil
		})
		if err == nil {
			break
		}
		// Two first submissions of one user race to insert the stats row.
		if _, dup := db.UniqueViolation(err); dup && attempt < commitAttempts {
			logger.Warn(ctx, "stats row created concurrently, retrying commit", zap.Error(err))
			continue
		}
		return false, appErr.Wrapf(err, appErr.TransactionFailed, "commit judgment failed")
	}

	if !applied {
		logger.Info(ctx, "submission already judged, commit skipped")
		if current, err := s.loadSubmission(ctx, sub.ID); err == nil {
			s.saveStatus(ctx, model.StatusFromSubmission(current))
		}
		return false, nil
	}
	s.afterCommit(ctx, &judged)
	return true, nil
}

// afterCommit refreshes derived state. Every step is best-effort; the
// committed rows are authoritative.
func (s *Service) afterCommit(ctx context.Context, judged *model.Submission) {
	ctx = context.WithoutCancel(ctx)
	s.stats.Invalidate(ctx, judged.UserID)

	final := model.StatusFromSubmission(judged)
	s.saveStatus(ctx, final)

	if s.publisher == nil {
		return
	}
	ctxPub, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := s.publisher.PublishFinalStatus(ctxPub, final); err != nil {
		logger.Warn(ctx, "publish final status failed", zap.Error(err))
	}
}
