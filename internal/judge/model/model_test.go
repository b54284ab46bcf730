package model

import (
	"encoding/json"
	"testing"
)

func TestVerdictLabelsParseBack(t *testing.T) {
	for _, v := range Verdicts() {
		got, err := ParseVerdict(v.String())
		if err != nil {
			t.Fatalf("parse %q: %v", v.String(), err)
		}
		if got != v {
			t.Fatalf("parse %q = %v, want %v", v.String(), got, v)
		}
	}
	if _, err := ParseVerdict("AC"); err == nil {
		t.Fatal("expected unknown label to fail")
	}
}

func TestVerdictTerminality(t *testing.T) {
	var zero Verdict
	if zero != VerdictPending || zero.IsTerminal() {
		t.Fatal("zero verdict must be Pending and non-terminal")
	}
	if !VerdictSystemError.IsTerminal() || VerdictSystemError.CodeCaused() {
		t.Fatal("system error is terminal but not code-caused")
	}
	if !VerdictWrongAnswer.CodeCaused() {
		t.Fatal("wrong answer is code-caused")
	}
	if Verdict(200).Valid() {
		t.Fatal("out of range verdict must be invalid")
	}
}

func TestVerdictJSONUsesLabel(t *testing.T) {
	data, err := json.Marshal(map[string]Verdict{"v": VerdictTimeLimitExceeded})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(data) != `{"v":"Time Limit Exceeded"}` {
		t.Fatalf("unexpected json %s", data)
	}
	var v Verdict
	if err := json.Unmarshal([]byte(`"Nope"`), &v); err == nil {
		t.Fatal("expected error for unknown label")
	}
}

func TestJudgmentValidate(t *testing.T) {
	cases := []struct {
		name string
		j    Judgment
		ok   bool
	}{
		{"accepted", Judgment{Verdict: VerdictAccepted, TestCasesPassed: 3, TotalTestCases: 3}, true},
		{"wrong answer", Judgment{Verdict: VerdictWrongAnswer, TestCasesPassed: 1, TotalTestCases: 3}, true},
		{"pending", Judgment{Verdict: VerdictPending}, false},
		{"passed over total", Judgment{Verdict: VerdictWrongAnswer, TestCasesPassed: 4, TotalTestCases: 3}, false},
		{"accepted partial", Judgment{Verdict: VerdictAccepted, TestCasesPassed: 2, TotalTestCases: 3}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.j.Validate()
			if (err == nil) != tc.ok {
				t.Fatalf("Validate() err=%v, want ok=%v", err, tc.ok)
			}
		})
	}
}

func TestProblemNormalizeLimits(t *testing.T) {
	p := Problem{}
	p.NormalizeLimits()
	if p.TimeLimitMs != DefaultTimeLimitMs || p.MemoryLimitMB != DefaultMemoryLimitMB {
		t.Fatalf("defaults not applied: %+v", p)
	}
	p = Problem{TimeLimitMs: 20000, MemoryLimitMB: 4}
	p.NormalizeLimits()
	if p.TimeLimitMs != MaxTimeLimitMs || p.MemoryLimitMB != MinMemoryLimitMB {
		t.Fatalf("clamp not applied: %+v", p)
	}
	if p.MemoryLimitKB() != MinMemoryLimitMB*1024 {
		t.Fatalf("MemoryLimitKB = %d", p.MemoryLimitKB())
	}
}

func TestParseLanguageAliases(t *testing.T) {
	cases := map[string]Language{"C++": LanguageCPP, "py": LanguagePython, "node": LanguageJavaScript, "Java": LanguageJava}
	for raw, want := range cases {
		got, err := ParseLanguage(raw)
		if err != nil || got != want {
			t.Fatalf("ParseLanguage(%q) = %v, %v", raw, got, err)
		}
	}
	if _, err := ParseLanguage("rust"); err == nil {
		t.Fatal("expected rust to be rejected")
	}
}
