package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"judgeflow/internal/common/cache"
	"judgeflow/internal/common/mq"
	"judgeflow/internal/judge/model"
	judgeRepo "judgeflow/internal/judge/repository"
	"judgeflow/internal/stats"
	appErr "judgeflow/pkg/errors"
	pkgrepo "judgeflow/pkg/repository"
	"judgeflow/pkg/utils/logger"

	"github.com/google/uuid"
	"github.com/gosimple/slug"
	"go.uber.org/zap"
)

const (
	idempotencyKeyPrefix  = "submit:idempotency:"
	rateUserKeyPrefix     = "submit:rate:user:"
	rateIPKeyPrefix       = "submit:rate:ip:"
	processingMarker      = "processing"
	defaultMaxCodeBytes   = 64 * 1024
	defaultIdempotencyTTL = 10 * time.Second
	defaultPageSize       = 20
	maxPageSize           = 50
)

// SourceStore stores submission source objects.
type SourceStore interface {
	Put(ctx context.Context, key, source string) error
	Get(ctx context.Context, key, expectedHash string) (string, error)
}

// StatusStore holds client-facing progress.
type StatusStore interface {
	Get(ctx context.Context, submissionID string) (model.JudgeStatus, error)
	Save(ctx context.Context, status model.JudgeStatus) error
}

// StatsReader serves user statistics.
type StatsReader interface {
	Get(ctx context.Context, userID int64) (*stats.UserStats, error)
	Invalidate(ctx context.Context, userID int64)
}

// RateLimitConfig holds throttling configuration.
type RateLimitConfig struct {
	UserMax int           `yaml:"userMax"`
	IPMax   int           `yaml:"ipMax"`
	Window  time.Duration `yaml:"window"`
}

// TimeoutConfig holds timeout settings for external calls.
type TimeoutConfig struct {
	DB      time.Duration `yaml:"db"`
	Cache   time.Duration `yaml:"cache"`
	MQ      time.Duration `yaml:"mq"`
	Storage time.Duration `yaml:"storage"`
}

// Config holds submit service dependencies and settings.
type Config struct {
	Submissions judgeRepo.SubmissionRepository
	Problems    judgeRepo.ProblemRepository
	Sources     SourceStore
	StatusRepo  StatusStore
	Stats       StatsReader
	Queue       mq.Producer
	Cache       cache.BasicOps

	JudgeTopic     string
	MaxCodeBytes   int
	IdempotencyTTL time.Duration
	RateLimit      RateLimitConfig
	Timeouts       TimeoutConfig
	Now            func() time.Time
}

// SubmitService handles submission intake and reads.
type SubmitService struct {
	submissions judgeRepo.SubmissionRepository
	problems    judgeRepo.ProblemRepository
	sources     SourceStore
	statusRepo  StatusStore
	stats       StatsReader
	queue       mq.Producer
	cache       cache.BasicOps

	judgeTopic     string
	maxCodeBytes   int
	idempotencyTTL time.Duration
	rateLimit      RateLimitConfig
	timeouts       TimeoutConfig
	now            func() time.Time
}

// SubmitInput describes a submission request. ProblemID wins over
// ProblemSlug when both are set.
type SubmitInput struct {
	ProblemID      int64
	ProblemSlug    string
	UserID         int64
	Language       string
	SourceCode     string
	IdempotencyKey string
	ClientIP       string
}

// SubmitResult is returned to the caller right after intake.
type SubmitResult struct {
	SubmissionID string           `json:"submission_id"`
	Status       model.JudgeStage `json:"status"`
	ReceivedAt   int64            `json:"received_at"`
}

// NewSubmitService creates a new submit service.
func NewSubmitService(cfg Config) (*SubmitService, error) {
	if cfg.Submissions == nil {
		return nil, fmt.Errorf("submission repository is required")
	}
	if cfg.Problems == nil {
		return nil, fmt.Errorf("problem repository is required")
	}
	if cfg.Sources == nil {
		return nil, fmt.Errorf("source store is required")
	}
	if cfg.StatusRepo == nil {
		return nil, fmt.Errorf("status repository is required")
	}
	if cfg.Queue == nil {
		return nil, fmt.Errorf("message queue is required")
	}
	if cfg.Cache == nil {
		return nil, fmt.Errorf("cache is required")
	}
	if cfg.JudgeTopic == "" {
		return nil, fmt.Errorf("judge topic is required")
	}
	if cfg.MaxCodeBytes <= 0 {
		cfg.MaxCodeBytes = defaultMaxCodeBytes
	}
	if cfg.IdempotencyTTL <= 0 {
		cfg.IdempotencyTTL = defaultIdempotencyTTL
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &SubmitService{
		submissions:    cfg.Submissions,
		problems:       cfg.Problems,
		sources:        cfg.Sources,
		statusRepo:     cfg.StatusRepo,
		stats:          cfg.Stats,
		queue:          cfg.Queue,
		cache:          cfg.Cache,
		judgeTopic:     cfg.JudgeTopic,
		maxCodeBytes:   cfg.MaxCodeBytes,
		idempotencyTTL: cfg.IdempotencyTTL,
		rateLimit:      cfg.RateLimit,
		timeouts:       cfg.Timeouts,
		now:            cfg.Now,
	}, nil
}

// Submit stores a Pending submission and hands it to the judge queue.
// Identical code resubmitted by the same user within the idempotency window
// returns the earlier submission.
func (s *SubmitService) Submit(ctx context.Context, input SubmitInput) (SubmitResult, error) {
	lang, err := s.validateInput(input)
	if err != nil {
		return SubmitResult{}, err
	}
	problemID, err := s.resolveProblem(ctx, input.ProblemID, input.ProblemSlug)
	if err != nil {
		return SubmitResult{}, err
	}
	if err := s.checkRateLimit(ctx, input.UserID, input.ClientIP); err != nil {
		return SubmitResult{}, err
	}

	sourceHash := judgeRepo.HashSource(input.SourceCode)
	idemKey := s.idempotencyKey(input, problemID, sourceHash)
	acquired, existingID, err := s.acquireIdempotency(ctx, idemKey)
	if err != nil {
		return SubmitResult{}, err
	}
	if !acquired {
		logger.Info(ctx, "duplicate submission collapsed", zap.String("submission_id", existingID))
		return s.existingResult(ctx, existingID)
	}

	submissionID := uuid.NewString()
	ctx = logger.WithSubmission(ctx, submissionID)
	createdAt := s.now().UTC()
	sub := &model.Submission{
		ID:         submissionID,
		ProblemID:  problemID,
		UserID:     input.UserID,
		Language:   lang,
		SourceKey:  judgeRepo.SourceKey(submissionID),
		SourceHash: sourceHash,
		Verdict:    model.VerdictPending,
		CreatedAt:  createdAt,
	}

	if err := s.uploadSource(ctx, sub.SourceKey, input.SourceCode); err != nil {
		s.releaseIdempotency(ctx, idemKey)
		return SubmitResult{}, err
	}
	if err := s.createSubmission(ctx, sub); err != nil {
		s.releaseIdempotency(ctx, idemKey)
		return SubmitResult{}, err
	}

	pending := model.StatusFromSubmission(sub)
	if err := s.statusRepo.Save(ctx, pending); err != nil {
		logger.Warn(ctx, "save pending status failed", zap.Error(err))
	}

	if err := s.publishMessage(ctx, sub); err != nil {
		// No judge will ever see this row; a resubmission gets a fresh id.
		s.abandonSubmission(ctx, sub)
		s.releaseIdempotency(ctx, idemKey)
		return SubmitResult{}, err
	}

	s.finalizeIdempotency(ctx, idemKey, submissionID)
	logger.Info(ctx, "submission accepted",
		zap.Int64("problem_id", problemID),
		zap.Int64("user_id", input.UserID),
		zap.String("language", string(lang)))
	return SubmitResult{SubmissionID: submissionID, Status: pending.Stage, ReceivedAt: createdAt.Unix()}, nil
}

// Get returns one submission to its owner or an admin. Only the owner
// sees the source code.
func (s *SubmitService) Get(ctx context.Context, submissionID string, viewerID int64, viewerIsAdmin bool) (*model.Submission, error) {
	if submissionID == "" {
		return nil, appErr.ValidationError("submission_id", "required")
	}
	ctxDB := withTimeout(ctx, s.timeouts.DB)
	defer ctxDB.cancel()
	sub, err := s.submissions.GetByID(ctxDB.ctx, nil, submissionID)
	if err != nil {
		if errors.Is(err, judgeRepo.ErrSubmissionNotFound) {
			return nil, appErr.New(appErr.SubmissionNotFound).WithMessage("submission not found")
		}
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "get submission failed")
	}
	owner := sub.UserID == viewerID
	if !owner && !viewerIsAdmin {
		return nil, appErr.ForbiddenError("submission belongs to another user")
	}
	if owner {
		ctxStorage := withTimeout(ctx, s.timeouts.Storage)
		defer ctxStorage.cancel()
		source, err := s.sources.Get(ctxStorage.ctx, sub.SourceKey, sub.SourceHash)
		if err != nil {
			logger.Warn(ctx, "load submission source failed", zap.String("submission_id", submissionID), zap.Error(err))
		} else {
			sub.SourceCode = source
		}
	}
	return sub, nil
}

// ListByUser pages a user's submissions, newest first.
func (s *SubmitService) ListByUser(ctx context.Context, userID, viewerID int64, viewerIsAdmin bool, opts pkgrepo.ListOptions) ([]model.Submission, int64, pkgrepo.ListOptions, error) {
	if userID <= 0 {
		return nil, 0, opts, appErr.ValidationError("user_id", "must be positive")
	}
	if userID != viewerID && !viewerIsAdmin {
		return nil, 0, opts, appErr.ForbiddenError("cannot list another user's submissions")
	}
	opts = opts.Normalize(defaultPageSize, maxPageSize)
	if v := opts.Filter("problem_id"); v != "" {
		if id, err := strconv.ParseInt(v, 10, 64); err != nil || id <= 0 {
			return nil, 0, opts, appErr.ValidationError("problem_id", "must be a positive integer")
		}
	}
	if v := opts.Filter("verdict"); v != "" {
		if _, err := model.ParseVerdict(v); err != nil {
			return nil, 0, opts, appErr.ValidationError("verdict", "unknown verdict")
		}
	}
	ctxDB := withTimeout(ctx, s.timeouts.DB)
	defer ctxDB.cancel()
	items, total, err := s.submissions.ListByUser(ctxDB.ctx, userID, opts)
	if err != nil {
		return nil, 0, opts, appErr.Wrapf(err, appErr.DatabaseError, "list submissions failed")
	}
	return items, total, opts, nil
}

// GetUserStats returns the user's aggregate statistics.
func (s *SubmitService) GetUserStats(ctx context.Context, userID int64) (*stats.UserStats, error) {
	if s.stats == nil {
		return nil, appErr.New(appErr.ServiceUnavailable).WithMessage("stats are not configured")
	}
	st, err := s.stats.Get(ctx, userID)
	if err != nil {
		if appErr.GetCode(err) != appErr.InternalServerError {
			return nil, err
		}
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "load user stats failed")
	}
	return st, nil
}

func (s *SubmitService) validateInput(input SubmitInput) (model.Language, error) {
	if input.ProblemID <= 0 && strings.TrimSpace(input.ProblemSlug) == "" {
		return "", appErr.ValidationError("problem_id", "required")
	}
	if input.UserID <= 0 {
		return "", appErr.ValidationError("user_id", "required")
	}
	lang, err := model.ParseLanguage(input.Language)
	if err != nil {
		return "", appErr.Wrap(err, appErr.LanguageNotSupported)
	}
	if strings.TrimSpace(input.SourceCode) == "" {
		return "", appErr.ValidationError("code", "required")
	}
	if len(input.SourceCode) > s.maxCodeBytes {
		return "", appErr.New(appErr.CodeTooLarge).WithMessagef("source code exceeds %d bytes", s.maxCodeBytes)
	}
	return lang, nil
}

func (s *SubmitService) resolveProblem(ctx context.Context, problemID int64, rawSlug string) (int64, error) {
	ctxDB := withTimeout(ctx, s.timeouts.DB)
	defer ctxDB.cancel()
	if problemID <= 0 {
		normalized := slug.Make(rawSlug)
		if !slug.IsSlug(normalized) {
			return 0, appErr.ValidationError("problem_slug", "invalid")
		}
		id, err := s.problems.GetIDBySlug(ctxDB.ctx, normalized)
		if err != nil {
			return 0, problemLookupError(err)
		}
		problemID = id
	}
	if _, err := s.problems.GetByID(ctxDB.ctx, problemID); err != nil {
		return 0, problemLookupError(err)
	}
	return problemID, nil
}

func problemLookupError(err error) error {
	if errors.Is(err, judgeRepo.ErrProblemNotFound) {
		return appErr.New(appErr.ProblemNotFound)
	}
	return appErr.Wrapf(err, appErr.DatabaseError, "load problem failed")
}

// idempotencyKey prefers the client's key; otherwise identical code for the
// same problem from the same user collapses.
func (s *SubmitService) idempotencyKey(input SubmitInput, problemID int64, sourceHash string) string {
	if key := strings.TrimSpace(input.IdempotencyKey); key != "" {
		return idempotencyKeyPrefix + strconv.FormatInt(input.UserID, 10) + ":" + key
	}
	return fmt.Sprintf("%s%d:%d:%s", idempotencyKeyPrefix, input.UserID, problemID, sourceHash)
}

func (s *SubmitService) acquireIdempotency(ctx context.Context, key string) (bool, string, error) {
	ctxCache := withTimeout(ctx, s.timeouts.Cache)
	defer ctxCache.cancel()

	ok, err := s.cache.SetNX(ctxCache.ctx, key, processingMarker, s.idempotencyTTL)
	if err != nil {
		return false, "", appErr.Wrapf(err, appErr.CacheError, "reserve idempotency key failed")
	}
	if ok {
		return true, "", nil
	}
	existing, err := s.cache.Get(ctxCache.ctx, key)
	if err != nil {
		return false, "", appErr.Wrapf(err, appErr.CacheError, "read idempotency key failed")
	}
	if existing != "" && existing != processingMarker {
		return false, existing, nil
	}
	return false, "", appErr.New(appErr.DuplicateSubmission).WithMessage("an identical submission is being processed")
}

func (s *SubmitService) finalizeIdempotency(ctx context.Context, key, submissionID string) {
	ctxCache := withTimeout(ctx, s.timeouts.Cache)
	defer ctxCache.cancel()
	if err := s.cache.Set(ctxCache.ctx, key, submissionID, s.idempotencyTTL); err != nil {
		logger.Warn(ctx, "update idempotency key failed", zap.Error(err))
	}
}

func (s *SubmitService) releaseIdempotency(ctx context.Context, key string) {
	ctxCache := withTimeout(context.WithoutCancel(ctx), s.timeouts.Cache)
	defer ctxCache.cancel()
	if err := s.cache.Del(ctxCache.ctx, key); err != nil {
		logger.Warn(ctx, "release idempotency key failed", zap.Error(err))
	}
}

func (s *SubmitService) existingResult(ctx context.Context, submissionID string) (SubmitResult, error) {
	status, err := s.statusRepo.Get(ctx, submissionID)
	if err != nil {
		// The status may have expired; the id alone is still a valid answer.
		return SubmitResult{SubmissionID: submissionID, Status: model.StagePending}, nil
	}
	return SubmitResult{SubmissionID: submissionID, Status: status.Stage, ReceivedAt: status.ReceivedAt}, nil
}

func (s *SubmitService) checkRateLimit(ctx context.Context, userID int64, clientIP string) error {
	if s.rateLimit.Window <= 0 || (s.rateLimit.UserMax <= 0 && s.rateLimit.IPMax <= 0) {
		return nil
	}
	ctxCache := withTimeout(ctx, s.timeouts.Cache)
	defer ctxCache.cancel()

	if s.rateLimit.UserMax > 0 {
		if err := s.checkRateCounter(ctxCache.ctx, rateUserKeyPrefix+strconv.FormatInt(userID, 10), s.rateLimit.UserMax); err != nil {
			return err
		}
	}
	if s.rateLimit.IPMax > 0 && clientIP != "" {
		if err := s.checkRateCounter(ctxCache.ctx, rateIPKeyPrefix+clientIP, s.rateLimit.IPMax); err != nil {
			return err
		}
	}
	return nil
}

func (s *SubmitService) checkRateCounter(ctx context.Context, key string, limit int) error {
	count, err := s.cache.Incr(ctx, key)
	if err != nil {
		return appErr.Wrapf(err, appErr.CacheError, "rate limit check failed")
	}
	if count == 1 {
		_ = s.cache.Expire(ctx, key, s.rateLimit.Window)
	}
	if int(count) > limit {
		return appErr.New(appErr.SubmitTooFrequently)
	}
	return nil
}

func (s *SubmitService) uploadSource(ctx context.Context, key, source string) error {
	ctxStorage := withTimeout(ctx, s.timeouts.Storage)
	defer ctxStorage.cancel()
	if err := s.sources.Put(ctxStorage.ctx, key, source); err != nil {
		return appErr.Wrapf(err, appErr.SubmissionCreateFailed, "upload source failed")
	}
	return nil
}

func (s *SubmitService) createSubmission(ctx context.Context, sub *model.Submission) error {
	ctxDB := withTimeout(ctx, s.timeouts.DB)
	defer ctxDB.cancel()
	if err := s.submissions.Create(ctxDB.ctx, nil, sub); err != nil {
		return appErr.Wrapf(err, appErr.SubmissionCreateFailed, "create submission failed")
	}
	return nil
}

// abandonSubmission closes a row whose judge message was never published.
// Stats are left alone: the user's code was never judged.
func (s *SubmitService) abandonSubmission(ctx context.Context, sub *model.Submission) {
	ctx = context.WithoutCancel(ctx)
	j := model.Judgment{
		Verdict:      model.VerdictSystemError,
		ErrorMessage: model.SystemErrorMessage,
		JudgedAt:     s.now().UTC(),
	}
	ctxDB := withTimeout(ctx, s.timeouts.DB)
	ok, err := s.submissions.CompleteJudgment(ctxDB.ctx, nil, sub.ID, j)
	ctxDB.cancel()
	if err != nil {
		logger.Error(ctx, "close unpublished submission failed", zap.Error(err))
		return
	}
	if !ok {
		return
	}
	closed := *sub
	j.Apply(&closed)
	if err := s.statusRepo.Save(ctx, model.StatusFromSubmission(&closed)); err != nil {
		logger.Warn(ctx, "save final status failed", zap.Error(err))
	}
}

func (s *SubmitService) publishMessage(ctx context.Context, sub *model.Submission) error {
	body, err := json.Marshal(model.JudgeMessage{
		SubmissionID: sub.ID,
		ProblemID:    sub.ProblemID,
		UserID:       sub.UserID,
		Language:     sub.Language,
		SourceKey:    sub.SourceKey,
		SourceHash:   sub.SourceHash,
		CreatedAt:    sub.CreatedAt.Unix(),
	})
	if err != nil {
		return appErr.Wrapf(err, appErr.SubmissionCreateFailed, "encode judge message failed")
	}
	message := mq.NewMessage(body)
	message.ID = sub.ID

	ctxMQ := withTimeout(ctx, s.timeouts.MQ)
	defer ctxMQ.cancel()
	if err := s.queue.Publish(ctxMQ.ctx, s.judgeTopic, message); err != nil {
		return appErr.Wrapf(err, appErr.MessagePublishErr, "publish judge message failed")
	}
	return nil
}

type timeoutCtx struct {
	ctx    context.Context
	cancel context.CancelFunc
}

func withTimeout(ctx context.Context, timeout time.Duration) timeoutCtx {
	if timeout <= 0 {
		return timeoutCtx{ctx: ctx, cancel: func() {}}
	}
	ctxTimeout, cancel := context.WithTimeout(ctx, timeout)
	return timeoutCtx{ctx: ctxTimeout, cancel: cancel}
}
