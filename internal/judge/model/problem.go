package model

import (
	"fmt"
	"strings"
)

// Difficulty buckets problems for per-user statistics.
type Difficulty string

const (
	DifficultyEasy   Difficulty = "Easy"
	DifficultyMedium Difficulty = "Medium"
	DifficultyHard   Difficulty = "Hard"
)

// ParseDifficulty accepts any casing of the three known difficulties.
func ParseDifficulty(raw string) (Difficulty, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "easy":
		return DifficultyEasy, nil
	case "medium":
		return DifficultyMedium, nil
	case "hard":
		return DifficultyHard, nil
	default:
		return "", fmt.Errorf("unknown difficulty %q", raw)
	}
}

const (
	DefaultTimeLimitMs   = 1000
	MinTimeLimitMs       = 500
	MaxTimeLimitMs       = 10000
	DefaultMemoryLimitMB = 256
	MinMemoryLimitMB     = 16
	MaxMemoryLimitMB     = 1024
)

// TestCase is one input/expected-output pair owned by a problem.
type TestCase struct {
	Input    string `json:"input"`
	Output   string `json:"output"`
	IsSample bool   `json:"is_sample"`
	IsHidden bool   `json:"is_hidden"`
}

// Problem is the read-only view of a problem the judge needs.
type Problem struct {
	ID            int64      `json:"id"`
	Slug          string     `json:"slug"`
	Title         string     `json:"title"`
	Difficulty    Difficulty `json:"difficulty"`
	TimeLimitMs   int64      `json:"time_limit_ms"`
	MemoryLimitMB int64      `json:"memory_limit_mb"`
	TestCases     []TestCase `json:"test_cases"`
}

// NormalizeLimits fills defaults and clamps limits into the supported range.
func (p *Problem) NormalizeLimits() {
	switch {
	case p.TimeLimitMs <= 0:
		p.TimeLimitMs = DefaultTimeLimitMs
	case p.TimeLimitMs < MinTimeLimitMs:
		p.TimeLimitMs = MinTimeLimitMs
	case p.TimeLimitMs > MaxTimeLimitMs:
		p.TimeLimitMs = MaxTimeLimitMs
	}
	switch {
	case p.MemoryLimitMB <= 0:
		p.MemoryLimitMB = DefaultMemoryLimitMB
	case p.MemoryLimitMB < MinMemoryLimitMB:
		p.MemoryLimitMB = MinMemoryLimitMB
	case p.MemoryLimitMB > MaxMemoryLimitMB:
		p.MemoryLimitMB = MaxMemoryLimitMB
	}
}

// MemoryLimitKB converts the problem's memory limit for the executor.
func (p *Problem) MemoryLimitKB() int64 {
	return p.MemoryLimitMB * 1024
}

// SampleCases returns the cases visible before login, in declaration order.
func (p *Problem) SampleCases() []TestCase {
	out := make([]TestCase, 0, len(p.TestCases))
	for _, tc := range p.TestCases {
		if tc.IsSample {
			out = append(out, tc)
		}
	}
	return out
}
