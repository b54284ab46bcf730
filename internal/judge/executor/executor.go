// Package executor runs one program against one input under time and memory limits.
package executor

import (
	"context"
	"errors"

	"judgeflow/internal/judge/model"
)

// ErrUnsupportedLanguage is returned before anything is spawned when no
// language definition exists for the request.
var ErrUnsupportedLanguage = errors.New("unsupported language")

// Executor runs a single (program, input) pair to completion.
//
// Implementations guarantee the program is no longer running when Execute
// returns. A returned error means the outcome is unknown (infrastructure
// fault); every outcome caused by the program itself is reported in Result.
type Executor interface {
	Execute(ctx context.Context, req Request) (Result, error)
}

// Request describes one execution.
type Request struct {
	Language      model.Language
	Source        string
	Input         string
	TimeLimitMs   int64
	MemoryLimitKB int64
}

// Result is the observable outcome of one execution.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int

	// TimedOut is set when the wall timer killed the program; Stdout is then empty.
	TimedOut bool

	// MemoryExceeded is set when the environment killed the program for its memory use.
	MemoryExceeded bool

	// CompileFailed is set when the compile step exited non-zero; Stderr holds the diagnostic.
	CompileFailed bool

	RuntimeMs int64
	MemoryKB  int64
}

// Func adapts a function to Executor.
type Func func(ctx context.Context, req Request) (Result, error)

func (f Func) Execute(ctx context.Context, req Request) (Result, error) { return f(ctx, req) }
