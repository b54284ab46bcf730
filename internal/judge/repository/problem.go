package repository

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"judgeflow/internal/common/cache"
	"judgeflow/internal/common/db"
	"judgeflow/internal/judge/model"
)

const (
	defaultProblemCacheTTL      = 30 * time.Minute
	defaultProblemCacheEmptyTTL = 5 * time.Minute
	problemCacheKeyPrefix       = "problem:judge:"
)

var (
	ErrProblemNotFound = errors.New("problem not found")
)

// ProblemRepository reads problems and their test cases.
type ProblemRepository interface {
	GetByID(ctx context.Context, problemID int64) (*model.Problem, error)
	GetIDBySlug(ctx context.Context, slug string) (int64, error)
	// Invalidate drops the cached copy after the problem changes.
	Invalidate(ctx context.Context, problemID int64) error
}

// SQLProblemRepository loads problems with their ordered test cases and caches
// the assembled value.
type SQLProblemRepository struct {
	db       db.Database
	cache    cache.Cache
	ttl      time.Duration
	emptyTTL time.Duration
}

func NewProblemRepository(database db.Database, cacheClient cache.Cache) *SQLProblemRepository {
	return NewProblemRepositoryWithTTL(database, cacheClient, defaultProblemCacheTTL, defaultProblemCacheEmptyTTL)
}

func NewProblemRepositoryWithTTL(database db.Database, cacheClient cache.Cache, ttl, emptyTTL time.Duration) *SQLProblemRepository {
	if ttl <= 0 {
		ttl = defaultProblemCacheTTL
	}
	if emptyTTL <= 0 {
		emptyTTL = defaultProblemCacheEmptyTTL
	}
	return &SQLProblemRepository{db: database, cache: cacheClient, ttl: ttl, emptyTTL: emptyTTL}
}

func (r *SQLProblemRepository) GetByID(ctx context.Context, problemID int64) (*model.Problem, error) {
	if problemID <= 0 {
		return nil, ErrProblemNotFound
	}
	if r.cache == nil {
		return r.getFromDB(ctx, problemID)
	}
	problem, err := cache.GetWithCached[*model.Problem](
		ctx,
		r.cache,
		problemCacheKey(problemID),
		cache.JitterTTL(r.ttl),
		cache.JitterTTL(r.emptyTTL),
		func(p *model.Problem) bool { return p == nil },
		marshalProblem,
		unmarshalProblem,
		func(ctx context.Context) (*model.Problem, error) {
			p, err := r.getFromDB(ctx, problemID)
			if errors.Is(err, ErrProblemNotFound) {
				return nil, nil
			}
			return p, err
		},
	)
	if err != nil {
		return nil, err
	}
	if problem == nil {
		return nil, ErrProblemNotFound
	}
	return problem, nil
}

func (r *SQLProblemRepository) GetIDBySlug(ctx context.Context, slug string) (int64, error) {
	var id int64
	err := r.db.QueryRow(ctx, "SELECT id FROM problems WHERE slug = ? LIMIT 1", slug).Scan(&id)
	if err != nil {
		if db.IsNoRows(err) {
			return 0, ErrProblemNotFound
		}
		return 0, err
	}
	return id, nil
}

func (r *SQLProblemRepository) Invalidate(ctx context.Context, problemID int64) error {
	if r.cache == nil {
		return nil
	}
	return r.cache.Del(ctx, problemCacheKey(problemID))
}

func (r *SQLProblemRepository) getFromDB(ctx context.Context, problemID int64) (*model.Problem, error) {
	var (
		p          model.Problem
		difficulty string
	)
	query := "SELECT id, slug, title, difficulty, time_limit_ms, memory_limit_mb FROM problems WHERE id = ?"
	err := r.db.QueryRow(ctx, query, problemID).Scan(&p.ID, &p.Slug, &p.Title, &difficulty, &p.TimeLimitMs, &p.MemoryLimitMB)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, ErrProblemNotFound
		}
		return nil, err
	}
	d, err := model.ParseDifficulty(difficulty)
	if err != nil {
		return nil, err
	}
	p.Difficulty = d

	rows, err := r.db.Query(ctx,
		"SELECT input, output, is_sample, is_hidden FROM test_cases WHERE problem_id = ? ORDER BY ordinal ASC",
		problemID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var tc model.TestCase
		if err := rows.Scan(&tc.Input, &tc.Output, &tc.IsSample, &tc.IsHidden); err != nil {
			return nil, err
		}
		p.TestCases = append(p.TestCases, tc)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	p.NormalizeLimits()
	return &p, nil
}

func problemCacheKey(problemID int64) string {
	return problemCacheKeyPrefix + strconv.FormatInt(problemID, 10)
}

func marshalProblem(p *model.Problem) string {
	data, err := json.Marshal(p)
	if err != nil {
		return ""
	}
	return string(data)
}

func unmarshalProblem(data string) (*model.Problem, error) {
	if data == "" || data == cache.NullCacheValue {
		return nil, nil
	}
	var p model.Problem
	if err := json.Unmarshal([]byte(data), &p); err != nil {
		return nil, err
	}
	return &p, nil
}
