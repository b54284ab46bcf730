// Package stats maintains per-user judging statistics.
package stats

import (
	"sort"
	"time"

	"judgeflow/internal/judge/model"
)

// DateLayout is the calendar date format used for streaks and the heatmap.
const DateLayout = "2006-01-02"

// DifficultyStat counts activity for one difficulty bucket.
type DifficultyStat struct {
	Solved      int `json:"solved"`
	Submissions int `json:"submissions"`
}

// UserStats is the rolling aggregate of one user's judged submissions.
type UserStats struct {
	UserID             int64                               `json:"user_id"`
	TotalSubmissions   int                                 `json:"total_submissions"`
	TotalAccepted      int                                 `json:"total_accepted"`
	CurrentStreak      int                                 `json:"current_streak"`
	HighestStreak      int                                 `json:"highest_streak"`
	LastSubmissionDate string                              `json:"last_submission_date,omitempty"`
	SolvedProblemIDs   []int64                             `json:"solved_problem_ids"`
	DifficultyStats    map[model.Difficulty]DifficultyStat `json:"difficulty_stats"`
	ActivityHeatmap    map[string]int                      `json:"activity_heatmap"`
	UpdatedAt          time.Time                           `json:"updated_at"`
}

// NewUserStats returns the empty aggregate for a user with no judged submissions.
func NewUserStats(userID int64) *UserStats {
	s := &UserStats{UserID: userID}
	s.ensureMaps()
	return s
}

func (s *UserStats) ensureMaps() {
	if s.DifficultyStats == nil {
		s.DifficultyStats = make(map[model.Difficulty]DifficultyStat)
	}
	if s.ActivityHeatmap == nil {
		s.ActivityHeatmap = make(map[string]int)
	}
	if s.SolvedProblemIDs == nil {
		s.SolvedProblemIDs = []int64{}
	}
}

// HasSolved reports whether problemID is already credited.
func (s *UserStats) HasSolved(problemID int64) bool {
	i := sort.Search(len(s.SolvedProblemIDs), func(i int) bool { return s.SolvedProblemIDs[i] >= problemID })
	return i < len(s.SolvedProblemIDs) && s.SolvedProblemIDs[i] == problemID
}

// addSolved inserts problemID keeping the slice sorted and unique.
func (s *UserStats) addSolved(problemID int64) bool {
	i := sort.Search(len(s.SolvedProblemIDs), func(i int) bool { return s.SolvedProblemIDs[i] >= problemID })
	if i < len(s.SolvedProblemIDs) && s.SolvedProblemIDs[i] == problemID {
		return false
	}
	s.SolvedProblemIDs = append(s.SolvedProblemIDs, 0)
	copy(s.SolvedProblemIDs[i+1:], s.SolvedProblemIDs[i:])
	s.SolvedProblemIDs[i] = problemID
	return true
}

// DayOf returns the calendar date of t in loc.
func DayOf(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format(DateLayout)
}

// Apply folds one judged submission into s. day is the submission's
// calendar date in DateLayout.
//
// Solved counts only rise on the first Accepted for a problem; a re-solve
// still counts as an accepted submission.
func Apply(s *UserStats, sub model.Submission, difficulty model.Difficulty, day string) {
	s.ensureMaps()

	s.TotalSubmissions++
	ds := s.DifficultyStats[difficulty]
	ds.Submissions++

	if sub.Verdict == model.VerdictAccepted {
		s.TotalAccepted++
		if s.addSolved(sub.ProblemID) {
			ds.Solved++
		}
	}
	s.DifficultyStats[difficulty] = ds

	s.ActivityHeatmap[day]++

	switch {
	case s.LastSubmissionDate == day:
		return
	case s.LastSubmissionDate > day:
		// Judged out of order; the streak already covers a later day.
		return
	case isNextDay(s.LastSubmissionDate, day):
		s.CurrentStreak++
	default:
		s.CurrentStreak = 1
	}
	if s.CurrentStreak > s.HighestStreak {
		s.HighestStreak = s.CurrentStreak
	}
	s.LastSubmissionDate = day
}

func isNextDay(prev, day string) bool {
	if prev == "" {
		return false
	}
	p, err := time.Parse(DateLayout, prev)
	if err != nil {
		return false
	}
	d, err := time.Parse(DateLayout, day)
	if err != nil {
		return false
	}
	return p.AddDate(0, 0, 1).Equal(d)
}
