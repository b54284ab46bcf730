package model

// JudgeMessage represents the Kafka payload for judge tasks.
type JudgeMessage struct {
	SubmissionID string   `json:"submission_id"`
	ProblemID    int64    `json:"problem_id"`
	UserID       int64    `json:"user_id"`
	Language     Language `json:"language"`
	SourceKey    string   `json:"source_key"`
	SourceHash   string   `json:"source_hash"`
	CreatedAt    int64    `json:"created_at"`
}

// ExecutionJob is posted to a remote execution service for one test case.
type ExecutionJob struct {
	JobID         string   `json:"job_id"`
	Language      Language `json:"language"`
	Source        string   `json:"source"`
	Stdin         string   `json:"stdin"`
	TimeLimitMs   int64    `json:"time_limit_ms"`
	MemoryLimitKB int64    `json:"memory_limit_kb"`
	CallbackURL   string   `json:"callback_url"`
}

// ExecutionCallback is the remote execution service's answer for one job.
type ExecutionCallback struct {
	JobID          string `json:"job_id"`
	Stdout         string `json:"stdout"`
	Stderr         string `json:"stderr"`
	ExitCode       int    `json:"exit_code"`
	TimedOut       bool   `json:"timed_out"`
	MemoryExceeded bool   `json:"memory_exceeded"`
	CompileFailed  bool   `json:"compile_failed"`
	RuntimeMs      int64  `json:"runtime_ms"`
	MemoryKB       int64  `json:"memory_kb"`
}

// CaseReport is one entry of a delegated whole-submission result.
type CaseReport struct {
	Passed    bool   `json:"passed"`
	RuntimeMs int64  `json:"runtime_ms"`
	MemoryKB  int64  `json:"memory_kb"`
	Stderr    string `json:"stderr,omitempty"`
}

// DelegatedResult is posted by an external judge that evaluated a whole submission.
type DelegatedResult struct {
	Token        string       `json:"token"`
	Verdict      string       `json:"verdict,omitempty"`
	Results      []CaseReport `json:"results"`
	ErrorMessage string       `json:"error_message,omitempty"`
}
