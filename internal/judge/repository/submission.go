package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"judgeflow/internal/common/cache"
	"judgeflow/internal/common/db"
	"judgeflow/internal/judge/model"
	pkgrepo "judgeflow/pkg/repository"
)

const (
	defaultSubmissionCacheTTL = 30 * time.Minute
	submissionCacheKeyPrefix  = "submission:"
)

var (
	ErrSubmissionNotFound = errors.New("submission not found")
)

// SubmissionRepository defines submission persistence.
type SubmissionRepository interface {
	Create(ctx context.Context, tx db.Transaction, sub *model.Submission) error
	GetByID(ctx context.Context, tx db.Transaction, submissionID string) (*model.Submission, error)
	ListByUser(ctx context.Context, userID int64, opts pkgrepo.ListOptions) ([]model.Submission, int64, error)
	// CompleteJudgment writes j onto a Pending submission. It reports false
	// when the submission was already terminal and nothing changed.
	CompleteJudgment(ctx context.Context, tx db.Transaction, submissionID string, j model.Judgment) (bool, error)
}

// SQLSubmissionRepository stores submissions in SQL and caches terminal rows.
type SQLSubmissionRepository struct {
	db    db.Database
	cache cache.Cache
	ttl   time.Duration
}

// NewSubmissionRepository creates a submission repository; cacheClient may be nil.
func NewSubmissionRepository(database db.Database, cacheClient cache.Cache) *SQLSubmissionRepository {
	return &SQLSubmissionRepository{db: database, cache: cacheClient, ttl: defaultSubmissionCacheTTL}
}

const submissionColumns = "id, problem_id, user_id, language, source_key, source_hash, verdict, test_cases_passed, total_test_cases, error_message, error_details, runtime_ms, memory_kb, created_at, judged_at"

// Create inserts a Pending submission.
func (r *SQLSubmissionRepository) Create(ctx context.Context, tx db.Transaction, sub *model.Submission) error {
	if sub == nil {
		return errors.New("submission is nil")
	}
	if sub.ID == "" {
		return errors.New("submission id is required")
	}
	if sub.ProblemID <= 0 || sub.UserID <= 0 {
		return errors.New("problem id and user id are required")
	}
	if sub.SourceKey == "" {
		return errors.New("source key is required")
	}
	if sub.Verdict != model.VerdictPending {
		return fmt.Errorf("new submission must be pending, got %s", sub.Verdict)
	}
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO submissions
		(id, problem_id, user_id, language, source_key, source_hash, verdict, test_cases_passed, total_test_cases, error_message, error_details, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, 0, ?, '', '', ?)`
	_, err := db.GetQuerier(r.db, tx).Exec(ctx, query,
		sub.ID,
		sub.ProblemID,
		sub.UserID,
		string(sub.Language),
		sub.SourceKey,
		sub.SourceHash,
		sub.Verdict.String(),
		sub.TotalTestCases,
		sub.CreatedAt,
	)
	return err
}

// GetByID loads one submission. Terminal submissions are served from cache.
func (r *SQLSubmissionRepository) GetByID(ctx context.Context, tx db.Transaction, submissionID string) (*model.Submission, error) {
	if submissionID == "" {
		return nil, errors.New("submission id is required")
	}
	useCache := r.cache != nil && tx == nil
	if useCache {
		if cached, err := r.cache.Get(ctx, submissionCacheKey(submissionID)); err == nil && cached != "" {
			var sub model.Submission
			if json.Unmarshal([]byte(cached), &sub) == nil {
				return &sub, nil
			}
		}
	}

	query := "SELECT " + submissionColumns + " FROM submissions WHERE id = ? LIMIT 1"
	sub, err := scanSubmission(db.GetQuerier(r.db, tx).QueryRow(ctx, query, submissionID))
	if err != nil {
		if db.IsNoRows(err) {
			return nil, ErrSubmissionNotFound
		}
		return nil, err
	}
	if useCache && sub.Verdict.IsTerminal() {
		if data, err := json.Marshal(sub); err == nil {
			_ = r.cache.Set(ctx, submissionCacheKey(submissionID), string(data), cache.JitterTTL(r.ttl))
		}
	}
	return sub, nil
}

// ListByUser pages a user's submissions, newest first. Supported filters are
// "problem_id" and "verdict".
func (r *SQLSubmissionRepository) ListByUser(ctx context.Context, userID int64, opts pkgrepo.ListOptions) ([]model.Submission, int64, error) {
	where := []string{"user_id = ?"}
	args := []interface{}{userID}
	if v := opts.Filter("problem_id"); v != "" {
		problemID, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, 0, fmt.Errorf("invalid problem_id filter: %w", err)
		}
		where = append(where, "problem_id = ?")
		args = append(args, problemID)
	}
	if v := opts.Filter("verdict"); v != "" {
		where = append(where, "verdict = ?")
		args = append(args, v)
	}
	cond := strings.Join(where, " AND ")

	var total int64
	if err := r.db.QueryRow(ctx, "SELECT COUNT(*) FROM submissions WHERE "+cond, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []model.Submission{}, 0, nil
	}

	query := "SELECT " + submissionColumns + " FROM submissions WHERE " + cond + " ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?"
	rows, err := r.db.Query(ctx, query, append(args, opts.PageSize, opts.Offset())...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	out := make([]model.Submission, 0, opts.PageSize)
	for rows.Next() {
		sub, err := scanSubmission(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, *sub)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

// CompleteJudgment performs the single Pending to terminal transition.
func (r *SQLSubmissionRepository) CompleteJudgment(ctx context.Context, tx db.Transaction, submissionID string, j model.Judgment) (bool, error) {
	if err := j.Validate(); err != nil {
		return false, err
	}
	query := `
		UPDATE submissions
		SET verdict = ?, test_cases_passed = ?, total_test_cases = ?, error_message = ?, error_details = ?,
			runtime_ms = ?, memory_kb = ?, judged_at = ?
		WHERE id = ? AND verdict = ?`
	res, err := db.GetQuerier(r.db, tx).Exec(ctx, query,
		j.Verdict.String(),
		j.TestCasesPassed,
		j.TotalTestCases,
		j.ErrorMessage,
		j.ErrorDetails,
		nullableInt(j.RuntimeMs),
		nullableInt(j.MemoryKB),
		j.JudgedAt,
		submissionID,
		model.VerdictPending.String(),
	)
	if err != nil {
		return false, err
	}
	affected, err := db.RowsAffected(res)
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

func submissionCacheKey(submissionID string) string {
	return submissionCacheKeyPrefix + submissionID
}

func scanSubmission(row db.Row) (*model.Submission, error) {
	var (
		sub                 model.Submission
		language, verdict   string
		runtimeMs, memoryKB sql.NullInt64
		judgedAt            sql.NullTime
	)
	if err := row.Scan(
		&sub.ID,
		&sub.ProblemID,
		&sub.UserID,
		&language,
		&sub.SourceKey,
		&sub.SourceHash,
		&verdict,
		&sub.TestCasesPassed,
		&sub.TotalTestCases,
		&sub.ErrorMessage,
		&sub.ErrorDetails,
		&runtimeMs,
		&memoryKB,
		&sub.CreatedAt,
		&judgedAt,
	); err != nil {
		return nil, err
	}
	sub.Language = model.Language(language)
	v, err := model.ParseVerdict(verdict)
	if err != nil {
		return nil, fmt.Errorf("submission %s: %w", sub.ID, err)
	}
	sub.Verdict = v
	if runtimeMs.Valid {
		sub.RuntimeMs = &runtimeMs.Int64
	}
	if memoryKB.Valid {
		sub.MemoryKB = &memoryKB.Int64
	}
	if judgedAt.Valid {
		t := judgedAt.Time
		sub.JudgedAt = &t
	}
	return &sub, nil
}

func nullableInt(v *int64) interface{} {
	if v == nil {
		return nil
	}
	return *v
}
