// Package verdict maps one execution outcome to a test case verdict.
package verdict

import (
	"judgeflow/internal/judge/executor"
	"judgeflow/internal/judge/model"
)

// Classify returns the failing verdict for a case, or (VerdictPending, true)
// when the case passes. Checks run in priority order: compilation, time,
// memory, exit status, then output.
func Classify(res executor.Result, comparisonPassed bool) (model.Verdict, bool) {
	switch {
	case res.CompileFailed:
		return model.VerdictCompilationError, false
	case res.TimedOut:
		return model.VerdictTimeLimitExceeded, false
	case res.MemoryExceeded:
		return model.VerdictMemoryLimitExceeded, false
	case res.ExitCode != 0:
		return model.VerdictRuntimeError, false
	case !comparisonPassed:
		return model.VerdictWrongAnswer, false
	default:
		return model.VerdictPending, true
	}
}
