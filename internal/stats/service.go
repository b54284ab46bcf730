package stats

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"judgeflow/internal/common/cache"
	"judgeflow/internal/common/db"
	"judgeflow/internal/judge/model"
	appErr "judgeflow/pkg/errors"
	"judgeflow/pkg/utils/logger"

	"go.uber.org/zap"
)

const (
	defaultStatsCacheTTL      = 10 * time.Minute
	defaultStatsCacheEmptyTTL = time.Minute
	statsCacheKeyPrefix       = "stats:user:"
)

// Config controls the stats service.
type Config struct {
	// TimeZone names the IANA zone used to derive calendar days; default UTC.
	TimeZone string        `yaml:"timeZone"`
	CacheTTL time.Duration `yaml:"cacheTTL"`
}

// Service records judged submissions into stats and serves stats reads.
type Service struct {
	repo  Repository
	cache cache.Cache
	loc   *time.Location
	ttl   time.Duration
}

// NewService creates a stats service. cacheClient may be nil.
func NewService(repo Repository, cacheClient cache.Cache, cfg Config) (*Service, error) {
	loc := time.UTC
	if cfg.TimeZone != "" {
		l, err := time.LoadLocation(cfg.TimeZone)
		if err != nil {
			return nil, err
		}
		loc = l
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = defaultStatsCacheTTL
	}
	return &Service{repo: repo, cache: cacheClient, loc: loc, ttl: cfg.CacheTTL}, nil
}

// Record applies sub to the user's stats inside tx, creating the row on the
// user's first judged submission. The caller commits tx.
func (s *Service) Record(ctx context.Context, tx db.Transaction, sub model.Submission, difficulty model.Difficulty, at time.Time) (*UserStats, error) {
	current, err := s.repo.GetForUpdate(ctx, tx, sub.UserID)
	if err != nil {
		return nil, err
	}
	created := current == nil
	if created {
		current = NewUserStats(sub.UserID)
	}
	Apply(current, sub, difficulty, DayOf(at, s.loc))
	if err := s.repo.Save(ctx, tx, current, created); err != nil {
		return nil, err
	}
	return current, nil
}

// Invalidate drops the cached copy after a committed change.
func (s *Service) Invalidate(ctx context.Context, userID int64) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Del(ctx, statsCacheKey(userID)); err != nil {
		logger.Warn(ctx, "invalidate stats cache failed", zap.Int64("user_id", userID), zap.Error(err))
	}
}

// Get returns the user's stats. A user without judged submissions gets the
// empty aggregate rather than an error.
func (s *Service) Get(ctx context.Context, userID int64) (*UserStats, error) {
	if userID <= 0 {
		return nil, appErr.ValidationError("user_id", "must be positive")
	}
	load := func(ctx context.Context) (*UserStats, error) {
		st, err := s.repo.Get(ctx, userID)
		if errors.Is(err, ErrStatsNotFound) {
			return nil, nil
		}
		return st, err
	}

	var (
		st  *UserStats
		err error
	)
	if s.cache != nil {
		st, err = cache.GetWithCached[*UserStats](
			ctx,
			s.cache,
			statsCacheKey(userID),
			cache.JitterTTL(s.ttl),
			cache.JitterTTL(defaultStatsCacheEmptyTTL),
			func(st *UserStats) bool { return st == nil },
			marshalStats,
			unmarshalStats,
			load,
		)
	} else {
		st, err = load(ctx)
	}
	if err != nil {
		return nil, appErr.Wrap(err, appErr.DatabaseError)
	}
	if st == nil {
		return NewUserStats(userID), nil
	}
	return st, nil
}

func statsCacheKey(userID int64) string {
	return statsCacheKeyPrefix + strconv.FormatInt(userID, 10)
}

func marshalStats(st *UserStats) string {
	data, err := json.Marshal(st)
	if err != nil {
		return ""
	}
	return string(data)
}

func unmarshalStats(data string) (*UserStats, error) {
	if data == "" || data == cache.NullCacheValue {
		return nil, nil
	}
	var st UserStats
	if err := json.Unmarshal([]byte(data), &st); err != nil {
		return nil, err
	}
	st.ensureMaps()
	return &st, nil
}
