package model

import (
	"encoding/json"
	"fmt"
)

// Verdict is the outcome of judging a submission. The zero value is Pending;
// every other value is terminal.
type Verdict uint8

const (
	VerdictPending Verdict = iota
	VerdictAccepted
	VerdictWrongAnswer
	VerdictTimeLimitExceeded
	VerdictMemoryLimitExceeded
	VerdictRuntimeError
	VerdictCompilationError
	VerdictSystemError

	verdictCount
)

var verdictLabels = [verdictCount]string{
	VerdictPending:             "Pending",
	VerdictAccepted:            "Accepted",
	VerdictWrongAnswer:         "Wrong Answer",
	VerdictTimeLimitExceeded:   "Time Limit Exceeded",
	VerdictMemoryLimitExceeded: "Memory Limit Exceeded",
	VerdictRuntimeError:        "Runtime Error",
	VerdictCompilationError:    "Compilation Error",
	VerdictSystemError:         "System Error",
}

// Verdicts lists every verdict in declaration order.
func Verdicts() []Verdict {
	out := make([]Verdict, 0, verdictCount)
	for v := VerdictPending; v < verdictCount; v++ {
		out = append(out, v)
	}
	return out
}

func (v Verdict) String() string {
	if v < verdictCount {
		return verdictLabels[v]
	}
	return fmt.Sprintf("Verdict(%d)", uint8(v))
}

// Valid reports whether v is one of the declared verdicts.
func (v Verdict) Valid() bool {
	return v < verdictCount
}

// IsTerminal is false only for Pending.
func (v Verdict) IsTerminal() bool {
	return v.Valid() && v != VerdictPending
}

// CodeCaused reports verdicts that judge the submitted program itself.
// SystemError is an infrastructure outcome and excluded.
func (v Verdict) CodeCaused() bool {
	return v.IsTerminal() && v != VerdictSystemError
}

// ParseVerdict maps a stored label back to a Verdict.
func ParseVerdict(label string) (Verdict, error) {
	for v := VerdictPending; v < verdictCount; v++ {
		if verdictLabels[v] == label {
			return v, nil
		}
	}
	return VerdictPending, fmt.Errorf("unknown verdict %q", label)
}

func (v Verdict) MarshalText() ([]byte, error) {
	if !v.Valid() {
		return nil, fmt.Errorf("invalid verdict %d", uint8(v))
	}
	return []byte(v.String()), nil
}

func (v *Verdict) UnmarshalText(text []byte) error {
	parsed, err := ParseVerdict(string(text))
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// MarshalJSON is explicit so the label is used even in map values.
func (v Verdict) MarshalJSON() ([]byte, error) {
	text, err := v.MarshalText()
	if err != nil {
		return nil, err
	}
	return json.Marshal(string(text))
}

func (v *Verdict) UnmarshalJSON(data []byte) error {
	var label string
	if err := json.Unmarshal(data, &label); err != nil {
		return err
	}
	return v.UnmarshalText([]byte(label))
}
