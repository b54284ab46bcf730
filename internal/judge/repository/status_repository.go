package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"judgeflow/internal/common/cache"
	"judgeflow/internal/judge/model"
	appErr "judgeflow/pkg/errors"
)

const (
	statusKeyPrefix  = "judge:status:"
	defaultStatusTTL = 24 * time.Hour
)

// StatusRepository keeps the client-facing progress of each submission in cache.
type StatusRepository struct {
	cache cache.Cache
	ttl   time.Duration
}

func NewStatusRepository(cacheClient cache.Cache, ttl time.Duration) *StatusRepository {
	if ttl <= 0 {
		ttl = defaultStatusTTL
	}
	return &StatusRepository{cache: cacheClient, ttl: ttl}
}

// Get returns the cached status; a miss is reported as NotFound.
func (r *StatusRepository) Get(ctx context.Context, submissionID string) (model.JudgeStatus, error) {
	if submissionID == "" {
		return model.JudgeStatus{}, appErr.ValidationError("submission_id", "required")
	}
	if r.cache == nil {
		return model.JudgeStatus{}, appErr.New(appErr.CacheError).WithMessage("cache client is not initialized")
	}
	val, err := r.cache.Get(ctx, statusKeyPrefix+submissionID)
	if err != nil {
		return model.JudgeStatus{}, appErr.Wrapf(err, appErr.CacheError, "read status failed")
	}
	if val == "" {
		return model.JudgeStatus{}, appErr.New(appErr.NotFound).WithMessage("submission status not found")
	}
	var st model.JudgeStatus
	if err := json.Unmarshal([]byte(val), &st); err != nil {
		return model.JudgeStatus{}, appErr.Wrapf(err, appErr.CacheError, "decode status failed")
	}
	return st, nil
}

// Save overwrites the status. A final status is never replaced by a
// non-final one, so a late progress write cannot regress a finished submission.
func (r *StatusRepository) Save(ctx context.Context, st model.JudgeStatus) error {
	if st.SubmissionID == "" {
		return appErr.ValidationError("submission_id", "required")
	}
	if r.cache == nil {
		return appErr.New(appErr.CacheError).WithMessage("cache client is not initialized")
	}
	if !st.Final() {
		if current, err := r.Get(ctx, st.SubmissionID); err == nil && current.Final() {
			return nil
		}
	}
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("marshal status failed: %w", err)
	}
	if err := r.cache.Set(ctx, statusKeyPrefix+st.SubmissionID, string(data), r.ttl); err != nil {
		return appErr.Wrapf(err, appErr.CacheError, "store status failed")
	}
	return nil
}
