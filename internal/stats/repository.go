package stats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"judgeflow/internal/common/db"
)

// ErrStatsNotFound is returned by Get when the user has no judged submissions.
var ErrStatsNotFound = errors.New("user stats not found")

// Repository persists UserStats rows.
type Repository interface {
	// GetForUpdate locks and returns the user's row inside tx, or nil when absent.
	GetForUpdate(ctx context.Context, tx db.Transaction, userID int64) (*UserStats, error)
	// Save inserts the row when created is true, otherwise updates it.
	Save(ctx context.Context, tx db.Transaction, stats *UserStats, created bool) error
	Get(ctx context.Context, userID int64) (*UserStats, error)
}

// SQLRepository stores stats in the user_stats table with JSON columns for
// the solved set, difficulty breakdown and heatmap.
type SQLRepository struct {
	db db.Database
}

func NewRepository(database db.Database) *SQLRepository {
	return &SQLRepository{db: database}
}

const statsColumns = "user_id, total_submissions, total_accepted, current_streak, highest_streak, last_submission_date, solved_problem_ids, difficulty_stats, activity_heatmap, updated_at"

func (r *SQLRepository) GetForUpdate(ctx context.Context, tx db.Transaction, userID int64) (*UserStats, error) {
	if tx == nil {
		return nil, errors.New("GetForUpdate requires a transaction")
	}
	query := "SELECT " + statsColumns + " FROM user_stats WHERE user_id = ? FOR UPDATE"
	s, err := scanStats(tx.QueryRow(ctx, query, userID))
	if err != nil {
		if db.IsNoRows(err) {
			return nil, nil
		}
		return nil, err
	}
	return s, nil
}

func (r *SQLRepository) Get(ctx context.Context, userID int64) (*UserStats, error) {
	query := "SELECT " + statsColumns + " FROM user_stats WHERE user_id = ?"
	s, err := scanStats(r.db.QueryRow(ctx, query, userID))
	if err != nil {
		if db.IsNoRows(err) {
			return nil, ErrStatsNotFound
		}
		return nil, err
	}
	return s, nil
}

func (r *SQLRepository) Save(ctx context.Context, tx db.Transaction, s *UserStats, created bool) error {
	if s == nil || s.UserID <= 0 {
		return errors.New("stats with a user id is required")
	}
	s.ensureMaps()
	solved, err := json.Marshal(s.SolvedProblemIDs)
	if err != nil {
		return fmt.Errorf("encode solved problems: %w", err)
	}
	difficulty, err := json.Marshal(s.DifficultyStats)
	if err != nil {
		return fmt.Errorf("encode difficulty stats: %w", err)
	}
	heatmap, err := json.Marshal(s.ActivityHeatmap)
	if err != nil {
		return fmt.Errorf("encode heatmap: %w", err)
	}
	s.UpdatedAt = time.Now().UTC()

	q := db.GetQuerier(r.db, tx)
	if created {
		query := "INSERT INTO user_stats (" + statsColumns + ") VALUES (" + db.Placeholders(10) + ")"
		_, err = q.Exec(ctx, query,
			s.UserID, s.TotalSubmissions, s.TotalAccepted, s.CurrentStreak, s.HighestStreak,
			s.LastSubmissionDate, string(solved), string(difficulty), string(heatmap), s.UpdatedAt)
		return err
	}

	query := `
		UPDATE user_stats
		SET total_submissions = ?, total_accepted = ?, current_streak = ?, highest_streak = ?,
			last_submission_date = ?, solved_problem_ids = ?, difficulty_stats = ?, activity_heatmap = ?, updated_at = ?
		WHERE user_id = ?`
	res, err := q.Exec(ctx, query,
		s.TotalSubmissions, s.TotalAccepted, s.CurrentStreak, s.HighestStreak,
		s.LastSubmissionDate, string(solved), string(difficulty), string(heatmap), s.UpdatedAt, s.UserID)
	if err != nil {
		return err
	}
	affected, err := db.RowsAffected(res)
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrStatsNotFound
	}
	return nil
}

func scanStats(row db.Row) (*UserStats, error) {
	var (
		s                           UserStats
		solved, difficulty, heatmap []byte
	)
	if err := row.Scan(
		&s.UserID,
		&s.TotalSubmissions,
		&s.TotalAccepted,
		&s.CurrentStreak,
		&s.HighestStreak,
		&s.LastSubmissionDate,
		&solved,
		&difficulty,
		&heatmap,
		&s.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if len(solved) > 0 {
		if err := json.Unmarshal(solved, &s.SolvedProblemIDs); err != nil {
			return nil, fmt.Errorf("decode solved problems: %w", err)
		}
	}
	if len(difficulty) > 0 {
		if err := json.Unmarshal(difficulty, &s.DifficultyStats); err != nil {
			return nil, fmt.Errorf("decode difficulty stats: %w", err)
		}
	}
	if len(heatmap) > 0 {
		if err := json.Unmarshal(heatmap, &s.ActivityHeatmap); err != nil {
			return nil, fmt.Errorf("decode heatmap: %w", err)
		}
	}
	s.ensureMaps()
	return &s, nil
}
