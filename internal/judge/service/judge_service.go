package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"judgeflow/internal/common/cache"
	"judgeflow/internal/common/db"
	"judgeflow/internal/common/mq"
	"judgeflow/internal/judge/model"
	"judgeflow/internal/judge/orchestrator"
	"judgeflow/internal/judge/repository"
	"judgeflow/internal/stats"
	appErr "judgeflow/pkg/errors"
	"judgeflow/pkg/utils/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	judgeLockPrefix      = "judge:lock:"
	defaultLockTTL       = 5 * time.Minute
	defaultSlotTimeout   = 2 * time.Second
	maxSampleSourceBytes = 64 * 1024
)

// Judger evaluates submissions; *orchestrator.Orchestrator implements it.
type Judger interface {
	Judge(ctx context.Context, sub model.Submission, problem model.Problem, opts ...orchestrator.JudgeOption) (orchestrator.Outcome, error)
	RunSamples(ctx context.Context, lang model.Language, source string, problem model.Problem) ([]orchestrator.CaseResult, error)
}

// SourceReader loads stored submission source.
type SourceReader interface {
	Get(ctx context.Context, key, expectedHash string) (string, error)
}

// StatsRecorder folds a judged submission into the user's aggregate.
type StatsRecorder interface {
	Record(ctx context.Context, tx db.Transaction, sub model.Submission, difficulty model.Difficulty, at time.Time) (*stats.UserStats, error)
	Invalidate(ctx context.Context, userID int64)
}

// StatusStore holds client-facing progress.
type StatusStore interface {
	Get(ctx context.Context, submissionID string) (model.JudgeStatus, error)
	Save(ctx context.Context, status model.JudgeStatus) error
}

// Service consumes judge messages and commits their results.
type Service struct {
	judger      Judger
	db          db.Database
	submissions repository.SubmissionRepository
	problems    repository.ProblemRepository
	sources     SourceReader
	stats       StatsRecorder
	statusRepo  StatusStore
	publisher   repository.StatusEventPublisher
	locks       cache.LockOps

	queue         mq.Producer
	retryTopic    string
	deadLetter    string
	poolRetryMax  int
	poolRetryBase time.Duration
	poolRetryMaxD time.Duration

	callbackToken  string
	judgeTimeout   time.Duration
	storageTimeout time.Duration
	statusTimeout  time.Duration
	slotTimeout    time.Duration
	lockTTL        time.Duration
	slots          *mq.TokenLimiter
	now            func() time.Time
}

// Config holds service dependencies and settings.
type Config struct {
	Judger      Judger
	DB          db.Database
	Submissions repository.SubmissionRepository
	Problems    repository.ProblemRepository
	Sources     SourceReader
	Stats       StatsRecorder
	StatusRepo  StatusStore
	Publisher   repository.StatusEventPublisher
	// Locks guards a submission against concurrent judging; optional.
	Locks cache.LockOps

	Queue              mq.Producer
	RetryTopic         string
	DeadLetterTopic    string
	PoolRetryMax       int
	PoolRetryBaseDelay time.Duration
	PoolRetryMaxDelay  time.Duration

	// CallbackToken authenticates delegated whole-submission results.
	CallbackToken  string
	JudgeTimeout   time.Duration
	StorageTimeout time.Duration
	StatusTimeout  time.Duration
	SlotTimeout    time.Duration
	LockTTL        time.Duration
	WorkerPoolSize int
	Now            func() time.Time
}

// NewService creates a new judge service.
func NewService(cfg Config) (*Service, error) {
	if cfg.Judger == nil {
		return nil, fmt.Errorf("judger is required")
	}
	if cfg.DB == nil {
		return nil, fmt.Errorf("database is required")
	}
	if cfg.Submissions == nil {
		return nil, fmt.Errorf("submission repository is required")
	}
	if cfg.Problems == nil {
		return nil, fmt.Errorf("problem repository is required")
	}
	if cfg.Sources == nil {
		return nil, fmt.Errorf("source repository is required")
	}
	if cfg.Stats == nil {
		return nil, fmt.Errorf("stats recorder is required")
	}
	if cfg.StatusRepo == nil {
		return nil, fmt.Errorf("status repository is required")
	}
	poolSize := cfg.WorkerPoolSize
	if poolSize <= 0 {
		poolSize = 1
	}
	if cfg.SlotTimeout <= 0 {
		cfg.SlotTimeout = defaultSlotTimeout
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = defaultLockTTL
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Service{
		judger:         cfg.Judger,
		db:             cfg.DB,
		submissions:    cfg.Submissions,
		problems:       cfg.Problems,
		sources:        cfg.Sources,
		stats:          cfg.Stats,
		statusRepo:     cfg.StatusRepo,
		publisher:      cfg.Publisher,
		locks:          cfg.Locks,
		queue:          cfg.Queue,
		retryTopic:     cfg.RetryTopic,
		deadLetter:     cfg.DeadLetterTopic,
		poolRetryMax:   cfg.PoolRetryMax,
		poolRetryBase:  cfg.PoolRetryBaseDelay,
		poolRetryMaxD:  cfg.PoolRetryMaxDelay,
		callbackToken:  cfg.CallbackToken,
		judgeTimeout:   cfg.JudgeTimeout,
		storageTimeout: cfg.StorageTimeout,
		statusTimeout:  cfg.StatusTimeout,
		slotTimeout:    cfg.SlotTimeout,
		lockTTL:        cfg.LockTTL,
		slots:          mq.NewTokenLimiter(poolSize),
		now:            cfg.Now,
	}, nil
}

// HandleMessage processes a judge task message. A returned error asks the
// consumer to redeliver; once the retry budget is spent the submission is
// closed as SystemError instead.
func (s *Service) HandleMessage(ctx context.Context, msg *mq.Message) error {
	if msg == nil {
		return appErr.New(appErr.InvalidParams).WithMessage("message is nil")
	}
	var payload model.JudgeMessage
	if err := json.Unmarshal(msg.Body, &payload); err != nil {
		logger.Warn(ctx, "drop undecodable judge message", zap.String("message_id", msg.ID), zap.Error(err))
		return nil
	}
	if payload.SubmissionID == "" {
		logger.Warn(ctx, "drop judge message without submission id", zap.String("message_id", msg.ID))
		return nil
	}
	ctx = logger.WithSubmission(ctx, payload.SubmissionID)

	if !s.tryAcquireSlot() {
		if err := s.acquireSlot(ctx); err != nil {
			if appErr.Is(err, appErr.JudgeQueueFull) {
				return s.requeueForPoolFull(ctx, msg)
			}
			return err
		}
	}
	defer s.releaseSlot()

	release, held, err := s.lockSubmission(ctx, payload.SubmissionID)
	if err != nil {
		return err
	}
	if !held {
		// Another worker owns this submission. Redeliver so a crashed owner
		// does not leave it Pending, but never close it from here.
		if msg.LastAttempt() {
			logger.Warn(ctx, "submission still locked by another worker, giving up")
			return nil
		}
		return appErr.New(appErr.LockFailed).WithMessage("submission is being judged elsewhere")
	}
	defer release()

	err = s.judgeSubmission(ctx, payload)
	if err == nil {
		return nil
	}
	if appErr.Is(err, appErr.SubmissionNotFound) {
		logger.Warn(ctx, "drop judge message for unknown submission", zap.Error(err))
		return nil
	}
	if !msg.LastAttempt() && retryable(err) {
		logger.Warn(ctx, "judge attempt failed, will retry",
			zap.Int("retry_count", msg.RetryCount), zap.Error(err))
		return err
	}
	logger.Error(ctx, "judge failed permanently, recording system error", zap.Error(err))
	return s.failSubmission(ctx, payload.SubmissionID)
}

// retryable separates infrastructure faults from faults another attempt
// cannot fix.
func retryable(err error) bool {
	switch appErr.GetCode(err) {
	case appErr.LanguageNotSupported, appErr.ProblemNotFound, appErr.TestCaseNotFound, appErr.InvalidParams:
		return false
	}
	return true
}

func (s *Service) judgeSubmission(ctx context.Context, payload model.JudgeMessage) error {
	sub, err := s.loadSubmission(ctx, payload.SubmissionID)
	if err != nil {
		return err
	}
	if sub.Verdict.IsTerminal() {
		logger.Info(ctx, "submission already judged, skipping", zap.String("verdict", sub.Verdict.String()))
		s.saveStatus(ctx, model.StatusFromSubmission(sub))
		return nil
	}

	status := model.StatusFromSubmission(sub)
	status.Stage = model.StageRunning
	s.saveStatus(ctx, status)

	problem, err := s.loadProblem(ctx, sub.ProblemID)
	if err != nil {
		return err
	}
	source, err := s.loadSource(ctx, sub)
	if err != nil {
		return err
	}
	sub.SourceCode = source

	status.TotalTestCases = len(problem.TestCases)
	s.saveStatus(ctx, status)

	ctxJudge := ctx
	if s.judgeTimeout > 0 {
		var cancel context.CancelFunc
		ctxJudge, cancel = context.WithTimeout(ctx, s.judgeTimeout)
		defer cancel()
	}
	start := s.now()
	outcome, err := s.judger.Judge(ctxJudge, *sub, *problem, orchestrator.OnCaseDone(func(done, passed int) {
		progress := status
		progress.DoneTestCases = done
		progress.TestCasesPassed = passed
		s.saveStatus(ctx, progress)
	}))
	if err != nil {
		return err
	}
	logger.Info(ctx, "judge finished",
		zap.String("verdict", outcome.Verdict.String()),
		zap.Int("passed", outcome.TestCasesPassed),
		zap.Int("total", outcome.TotalTestCases),
		zap.Duration("elapsed", s.now().Sub(start)))

	_, err = s.commit(ctx, sub, problem.Difficulty, outcome.Judgment(s.now()))
	return err
}

// failSubmission closes a submission as SystemError after its retries ran out.
func (s *Service) failSubmission(ctx context.Context, submissionID string) error {
	sub, err := s.loadSubmission(ctx, submissionID)
	if err != nil {
		if appErr.Is(err, appErr.SubmissionNotFound) {
			return nil
		}
		return err
	}
	if sub.Verdict.IsTerminal() {
		return nil
	}
	var difficulty model.Difficulty
	if problem, perr := s.problems.GetByID(ctx, sub.ProblemID); perr == nil {
		difficulty = problem.Difficulty
	}
	j := model.Judgment{
		Verdict:        model.VerdictSystemError,
		TotalTestCases: 0,
		ErrorMessage:   model.SystemErrorMessage,
		JudgedAt:       s.now(),
	}
	_, err = s.commit(ctx, sub, difficulty, j)
	return err
}

func (s *Service) lockSubmission(ctx context.Context, submissionID string) (func(), bool, error) {
	if s.locks == nil {
		return func() {}, true, nil
	}
	key := judgeLockPrefix + submissionID
	owner := uuid.NewString()
	ok, err := s.locks.TryLock(ctx, key, owner, s.lockTTL)
	if err != nil {
		return nil, false, appErr.Wrapf(err, appErr.LockFailed, "acquire judge lock failed")
	}
	if !ok {
		return nil, false, nil
	}
	return func() {
		ctxUnlock, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
		defer cancel()
		if err := s.locks.Unlock(ctxUnlock, key, owner); err != nil {
			logger.Warn(ctx, "release judge lock failed", zap.Error(err))
		}
	}, true, nil
}

func (s *Service) loadSubmission(ctx context.Context, submissionID string) (*model.Submission, error) {
	sub, err := s.submissions.GetByID(ctx, nil, submissionID)
	if err != nil {
		if errors.Is(err, repository.ErrSubmissionNotFound) {
			return nil, appErr.Wrapf(err, appErr.SubmissionNotFound, "submission %s", submissionID)
		}
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "load submission failed")
	}
	return sub, nil
}

func (s *Service) loadProblem(ctx context.Context, problemID int64) (*model.Problem, error) {
	problem, err := s.problems.GetByID(ctx, problemID)
	if err != nil {
		if errors.Is(err, repository.ErrProblemNotFound) {
			return nil, appErr.Wrapf(err, appErr.ProblemNotFound, "problem %d", problemID)
		}
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "load problem failed")
	}
	return problem, nil
}

func (s *Service) loadSource(ctx context.Context, sub *model.Submission) (string, error) {
	ctxStorage := ctx
	if s.storageTimeout > 0 {
		var cancel context.CancelFunc
		ctxStorage, cancel = context.WithTimeout(ctx, s.storageTimeout)
		defer cancel()
	}
	key := sub.SourceKey
	if key == "" {
		key = repository.SourceKey(sub.ID)
	}
	return s.sources.Get(ctxStorage, key, sub.SourceHash)
}
