package model

// JudgeStage is the lifecycle stage of a submission as seen by pollers.
type JudgeStage string

const (
	StagePending  JudgeStage = "Pending"
	StageRunning  JudgeStage = "Running"
	StageFinished JudgeStage = "Finished"
)

// JudgeStatus is the cached, client-facing progress of one submission.
type JudgeStatus struct {
	SubmissionID    string     `json:"submission_id"`
	UserID          int64      `json:"user_id"`
	Stage           JudgeStage `json:"stage"`
	Verdict         Verdict    `json:"verdict"`
	Language        Language   `json:"language"`
	TestCasesPassed int        `json:"test_cases_passed"`
	TotalTestCases  int        `json:"total_test_cases"`
	DoneTestCases   int        `json:"done_test_cases"`
	ErrorMessage    string     `json:"error_message,omitempty"`
	RuntimeMs       *int64     `json:"runtime_ms,omitempty"`
	MemoryKB        *int64     `json:"memory_kb,omitempty"`
	ReceivedAt      int64      `json:"received_at"`
	FinishedAt      int64      `json:"finished_at,omitempty"`
}

// Final reports whether no further updates will follow.
func (s JudgeStatus) Final() bool {
	return s.Stage == StageFinished
}

// StatusFromSubmission projects a stored submission into a status snapshot.
func StatusFromSubmission(s *Submission) JudgeStatus {
	st := JudgeStatus{
		SubmissionID:    s.ID,
		UserID:          s.UserID,
		Stage:           StagePending,
		Verdict:         s.Verdict,
		Language:        s.Language,
		TestCasesPassed: s.TestCasesPassed,
		TotalTestCases:  s.TotalTestCases,
		ErrorMessage:    s.ErrorMessage,
		RuntimeMs:       s.RuntimeMs,
		MemoryKB:        s.MemoryKB,
		ReceivedAt:      s.CreatedAt.Unix(),
	}
	if s.Verdict.IsTerminal() {
		st.Stage = StageFinished
		st.DoneTestCases = s.TotalTestCases
		if s.JudgedAt != nil {
			st.FinishedAt = s.JudgedAt.Unix()
		}
	}
	return st
}

// StatusEventFinal marks the last status event of a submission.
const StatusEventFinal = "final"

// StatusEvent is published when a submission reaches a terminal verdict.
type StatusEvent struct {
	Type      string      `json:"type"`
	Status    JudgeStatus `json:"status"`
	CreatedAt int64       `json:"created_at"`
}
