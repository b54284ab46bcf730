package model

import (
	"fmt"
	"strings"
	"time"

	"judgeflow/pkg/utils/textutil"
)

// Language is a supported submission language.
type Language string

const (
	LanguageCPP        Language = "cpp"
	LanguageJava       Language = "java"
	LanguagePython     Language = "python"
	LanguageJavaScript Language = "javascript"
)

var languageAliases = map[string]Language{
	"cpp":        LanguageCPP,
	"c++":        LanguageCPP,
	"java":       LanguageJava,
	"python":     LanguagePython,
	"python3":    LanguagePython,
	"py":         LanguagePython,
	"javascript": LanguageJavaScript,
	"js":         LanguageJavaScript,
	"node":       LanguageJavaScript,
}

// ParseLanguage resolves a language name or common alias.
func ParseLanguage(raw string) (Language, error) {
	if lang, ok := languageAliases[strings.ToLower(strings.TrimSpace(raw))]; ok {
		return lang, nil
	}
	return "", fmt.Errorf("unsupported language %q", raw)
}

// Submission is one judging request and, once judged, its result.
type Submission struct {
	ID              string     `json:"id"`
	ProblemID       int64      `json:"problem_id"`
	UserID          int64      `json:"user_id"`
	Language        Language   `json:"language"`
	SourceKey       string     `json:"source_key,omitempty"`
	SourceCode      string     `json:"source_code,omitempty"`
	SourceHash      string     `json:"source_hash,omitempty"`
	Verdict         Verdict    `json:"verdict"`
	TestCasesPassed int        `json:"test_cases_passed"`
	TotalTestCases  int        `json:"total_test_cases"`
	ErrorMessage    string     `json:"error_message,omitempty"`
	ErrorDetails    string     `json:"error_details,omitempty"`
	RuntimeMs       *int64     `json:"runtime_ms,omitempty"`
	MemoryKB        *int64     `json:"memory_kb,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	JudgedAt        *time.Time `json:"judged_at,omitempty"`
}

// SystemErrorMessage is the only text users see for infrastructure failures.
const SystemErrorMessage = "system error, please retry"

// Judgment is the terminal state written onto a Pending submission.
type Judgment struct {
	Verdict         Verdict
	TestCasesPassed int
	TotalTestCases  int
	ErrorMessage    string
	ErrorDetails    string
	RuntimeMs       *int64
	MemoryKB        *int64
	JudgedAt        time.Time
}

// Validate checks the invariants a judgment must satisfy before it is stored.
func (j Judgment) Validate() error {
	if !j.Verdict.IsTerminal() {
		return fmt.Errorf("judgment verdict must be terminal, got %s", j.Verdict)
	}
	if j.TestCasesPassed < 0 || j.TotalTestCases < 0 {
		return fmt.Errorf("negative test case counts")
	}
	if j.TestCasesPassed > j.TotalTestCases {
		return fmt.Errorf("passed %d exceeds total %d", j.TestCasesPassed, j.TotalTestCases)
	}
	if j.Verdict == VerdictAccepted && j.TestCasesPassed != j.TotalTestCases {
		return fmt.Errorf("accepted judgment must pass every case")
	}
	return nil
}

// Cleaned returns j with its free-text fields made safe for TEXT columns.
func (j Judgment) Cleaned() Judgment {
	j.ErrorMessage = textutil.Clean(j.ErrorMessage)
	j.ErrorDetails = textutil.Clean(j.ErrorDetails)
	return j
}

// Apply copies the judgment onto s.
func (j Judgment) Apply(s *Submission) {
	s.Verdict = j.Verdict
	s.TestCasesPassed = j.TestCasesPassed
	s.TotalTestCases = j.TotalTestCases
	s.ErrorMessage = j.ErrorMessage
	s.ErrorDetails = j.ErrorDetails
	s.RuntimeMs = j.RuntimeMs
	s.MemoryKB = j.MemoryKB
	judgedAt := j.JudgedAt
	s.JudgedAt = &judgedAt
}
