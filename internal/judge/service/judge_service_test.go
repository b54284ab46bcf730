package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"judgeflow/internal/judge/model"
	"judgeflow/internal/judge/orchestrator"
	appErr "judgeflow/pkg/errors"

	"github.com/go-sql-driver/mysql"
)

func TestHandleMessageCommitsVerdictAndStats(t *testing.T) {
	h := newHarness(t)
	h.seed("s1")
	h.judger.outcome = acceptedOutcome()

	if err := h.svc.HandleMessage(context.Background(), judgeMessage(t, "s1")); err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
	sub := h.st.submission("s1")
	if sub.Verdict != model.VerdictAccepted || sub.TestCasesPassed != 2 || sub.TotalTestCases != 2 {
		t.Fatalf("unexpected submission %+v", sub)
	}
	if sub.RuntimeMs == nil || *sub.RuntimeMs != 12 || sub.JudgedAt == nil {
		t.Fatalf("runtime or judged_at missing: %+v", sub)
	}
	if h.judger.sources[0] != "print(int(input())*2)" {
		t.Fatalf("judger got source %q", h.judger.sources[0])
	}

	st := h.st.userStats(t, 7)
	if st == nil || st.TotalSubmissions != 1 || st.TotalAccepted != 1 || !st.HasSolved(1) {
		t.Fatalf("unexpected stats %+v", st)
	}
	if st.CurrentStreak != 1 || st.LastSubmissionDate != "2026-03-14" {
		t.Fatalf("unexpected streak %+v", st)
	}

	status, err := h.svc.GetStatus(context.Background(), "s1")
	if err != nil || !status.Final() || status.Verdict != model.VerdictAccepted {
		t.Fatalf("status = %+v, %v", status, err)
	}
	if len(h.publisher.events) != 1 || h.publisher.events[0].SubmissionID != "s1" {
		t.Fatalf("expected one final event, got %+v", h.publisher.events)
	}
}

func TestHandleMessageStoresCleanErrorText(t *testing.T) {
	h := newHarness(t)
	h.seed("s1")
	h.judger.outcome = orchestrator.Outcome{
		Verdict:        model.VerdictRuntimeError,
		TotalTestCases: 2,
		ErrorMessage:   "Runtime Error on test case 1 (exit code 1)",
		ErrorDetails:   "boom\x00\xff",
	}

	if err := h.svc.HandleMessage(context.Background(), judgeMessage(t, "s1")); err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
	sub := h.st.submission("s1")
	if sub.Verdict != model.VerdictRuntimeError {
		t.Fatalf("verdict %s, want Runtime Error", sub.Verdict)
	}
	if sub.ErrorDetails != "boom\uFFFD" {
		t.Fatalf("details not cleaned: %q", sub.ErrorDetails)
	}
}

func TestHandleMessageSkipsJudgedSubmission(t *testing.T) {
	h := newHarness(t)
	h.seed("s1")
	h.judger.outcome = acceptedOutcome()
	ctx := context.Background()

	if err := h.svc.HandleMessage(ctx, judgeMessage(t, "s1")); err != nil {
		t.Fatalf("first: %v", err)
	}
	if err := h.svc.HandleMessage(ctx, judgeMessage(t, "s1")); err != nil {
		t.Fatalf("redelivery: %v", err)
	}
	if h.judger.calls != 1 {
		t.Fatalf("judger called %d times", h.judger.calls)
	}
	if st := h.st.userStats(t, 7); st.TotalSubmissions != 1 {
		t.Fatalf("stats applied twice: %+v", st)
	}
}

func TestCommitIsIdempotent(t *testing.T) {
	h := newHarness(t)
	sub := h.seed("s1")
	j := model.Judgment{Verdict: model.VerdictWrongAnswer, TotalTestCases: 2, JudgedAt: testNow}

	applied, err := h.svc.commit(context.Background(), &sub, model.DifficultyEasy, j)
	if err != nil || !applied {
		t.Fatalf("first commit = %v, %v", applied, err)
	}
	applied, err = h.svc.commit(context.Background(), &sub, model.DifficultyEasy, j)
	if err != nil || applied {
		t.Fatalf("second commit = %v, %v", applied, err)
	}
	if st := h.st.userStats(t, 7); st.TotalSubmissions != 1 || st.TotalAccepted != 0 {
		t.Fatalf("unexpected stats %+v", st)
	}
}

func TestCommitRollsBackOnStatsFailure(t *testing.T) {
	h := newHarness(t)
	sub := h.seed("s1")
	h.statsRepo.saveErr = []error{errors.New("disk full")}

	_, err := h.svc.commit(context.Background(), &sub, model.DifficultyEasy,
		model.Judgment{Verdict: model.VerdictAccepted, TestCasesPassed: 2, TotalTestCases: 2, JudgedAt: testNow})
	if !appErr.Is(err, appErr.TransactionFailed) {
		t.Fatalf("expected TransactionFailed, got %v", err)
	}
	if got := h.st.submission("s1"); got.Verdict != model.VerdictPending {
		t.Fatalf("submission left as %s after rollback", got.Verdict)
	}
	if st := h.st.userStats(t, 7); st != nil {
		t.Fatalf("stats written despite rollback: %+v", st)
	}
	if len(h.publisher.events) != 0 {
		t.Fatal("final event published for a rolled back commit")
	}
}

func TestCommitRetriesStatsInsertRace(t *testing.T) {
	h := newHarness(t)
	sub := h.seed("s1")
	h.statsRepo.saveErr = []error{&mysql.MySQLError{Number: 1062, Message: "Duplicate entry '7' for key 'PRIMARY'"}}

	applied, err := h.svc.commit(context.Background(), &sub, model.DifficultyEasy,
		model.Judgment{Verdict: model.VerdictAccepted, TestCasesPassed: 2, TotalTestCases: 2, JudgedAt: testNow})
	if err != nil || !applied {
		t.Fatalf("commit = %v, %v", applied, err)
	}
	if h.db.transactions != 2 {
		t.Fatalf("expected 2 transactions, got %d", h.db.transactions)
	}
	if st := h.st.userStats(t, 7); st.TotalSubmissions != 1 {
		t.Fatalf("unexpected stats %+v", st)
	}
}

func TestCommitRejectsInvalidJudgment(t *testing.T) {
	h := newHarness(t)
	sub := h.seed("s1")
	_, err := h.svc.commit(context.Background(), &sub, model.DifficultyEasy,
		model.Judgment{Verdict: model.VerdictAccepted, TestCasesPassed: 1, TotalTestCases: 2})
	if err == nil {
		t.Fatal("expected error for accepted judgment with a failing case")
	}
	if h.db.transactions != 0 {
		t.Fatal("invalid judgment reached the database")
	}
}

func TestHandleMessageRetriesThenRecordsSystemError(t *testing.T) {
	h := newHarness(t)
	h.seed("s1")
	h.judger.err = appErr.New(appErr.JudgeSystemError).WithMessage("sandbox crashed")
	ctx := context.Background()

	msg := judgeMessage(t, "s1")
	if err := h.svc.HandleMessage(ctx, msg); err == nil {
		t.Fatal("expected error so the consumer retries")
	}
	if got := h.st.submission("s1"); got.Verdict != model.VerdictPending {
		t.Fatalf("submission closed before retries ran out: %s", got.Verdict)
	}

	msg.RetryCount = msg.MaxRetries
	if err := h.svc.HandleMessage(ctx, msg); err != nil {
		t.Fatalf("last attempt: %v", err)
	}
	got := h.st.submission("s1")
	if got.Verdict != model.VerdictSystemError || got.ErrorMessage != model.SystemErrorMessage {
		t.Fatalf("unexpected submission %+v", got)
	}
	if st := h.st.userStats(t, 7); st == nil || st.TotalSubmissions != 1 || st.TotalAccepted != 0 {
		t.Fatalf("unexpected stats %+v", st)
	}
}

func TestHandleMessageMissingProblemIsTerminal(t *testing.T) {
	h := newHarness(t)
	h.seed("s1")
	delete(h.problems, 1)

	if err := h.svc.HandleMessage(context.Background(), judgeMessage(t, "s1")); err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
	if got := h.st.submission("s1"); got.Verdict != model.VerdictSystemError {
		t.Fatalf("expected SystemError, got %s", got.Verdict)
	}
	if h.judger.calls != 0 {
		t.Fatal("judger ran without a problem")
	}
	if st := h.st.userStats(t, 7); st != nil {
		t.Fatalf("stats charged without a difficulty: %+v", st)
	}
}

func TestHandleMessageDropsUnknownSubmission(t *testing.T) {
	h := newHarness(t)
	if err := h.svc.HandleMessage(context.Background(), judgeMessage(t, "ghost")); err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
	if err := h.svc.HandleMessage(context.Background(), nil); err == nil {
		t.Fatal("expected error for nil message")
	}
}

func TestHandleMessageLockedElsewhere(t *testing.T) {
	h := newHarness(t)
	h.seed("s1")
	h.judger.outcome = acceptedOutcome()
	ctx := context.Background()
	if ok, err := h.cache.TryLock(ctx, judgeLockPrefix+"s1", "other-worker", time.Minute); err != nil || !ok {
		t.Fatalf("pre-lock: %v %v", ok, err)
	}

	msg := judgeMessage(t, "s1")
	if err := h.svc.HandleMessage(ctx, msg); !appErr.Is(err, appErr.LockFailed) {
		t.Fatalf("expected LockFailed, got %v", err)
	}
	msg.RetryCount = msg.MaxRetries
	if err := h.svc.HandleMessage(ctx, msg); err != nil {
		t.Fatalf("last attempt: %v", err)
	}
	if got := h.st.submission("s1"); got.Verdict != model.VerdictPending {
		t.Fatalf("locked submission was closed as %s", got.Verdict)
	}
	if h.judger.calls != 0 {
		t.Fatal("judger ran while another worker held the lock")
	}
}

func TestHandleMessageRequeuesWhenPoolFull(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.WorkerPoolSize = 1 })
	h.seed("s1")
	h.svc.slots.TryAcquire()

	if err := h.svc.HandleMessage(context.Background(), judgeMessage(t, "s1")); err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
	if len(h.producer.topics) != 1 || h.producer.topics[0] != "judge.retry" {
		t.Fatalf("expected requeue to judge.retry, got %v", h.producer.topics)
	}
	if got := ParsePoolRetryCount(h.producer.msgs[0].Headers); got != 1 {
		t.Fatalf("pool retry header = %d", got)
	}
	if h.judger.calls != 0 {
		t.Fatal("judged without a slot")
	}
}

func TestGetStatusFallsBackToSubmission(t *testing.T) {
	h := newHarness(t)
	h.seed("s1")

	st, err := h.svc.GetStatus(context.Background(), "s1")
	if err != nil || st.Stage != model.StagePending {
		t.Fatalf("GetStatus = %+v, %v", st, err)
	}
	if _, err := h.svc.GetStatus(context.Background(), "ghost"); !appErr.Is(err, appErr.SubmissionNotFound) {
		t.Fatalf("expected SubmissionNotFound, got %v", err)
	}
}

func TestDelegatedJudgment(t *testing.T) {
	pass := model.CaseReport{Passed: true, RuntimeMs: 5, MemoryKB: 100}
	fail := model.CaseReport{Passed: false, RuntimeMs: 9, MemoryKB: 300, Stderr: "boom"}
	tests := []struct {
		name        string
		res         model.DelegatedResult
		cases       int
		wantVerdict model.Verdict
		wantPassed  int
		wantTotal   int
	}{
		{"all passed", model.DelegatedResult{Results: []model.CaseReport{pass, pass}}, 2, model.VerdictAccepted, 2, 2},
		{"missing reports", model.DelegatedResult{Results: []model.CaseReport{pass}}, 3, model.VerdictWrongAnswer, 1, 3},
		{"more reports than cases", model.DelegatedResult{Results: []model.CaseReport{pass, pass, pass}}, 2, model.VerdictAccepted, 3, 3},
		{"provided verdict", model.DelegatedResult{Verdict: "Time Limit Exceeded", Results: []model.CaseReport{pass, fail}}, 2, model.VerdictTimeLimitExceeded, 1, 2},
		{"provided accepted ignored", model.DelegatedResult{Verdict: "Accepted", Results: []model.CaseReport{fail}}, 1, model.VerdictWrongAnswer, 0, 1},
		{"unknown label", model.DelegatedResult{Verdict: "Weird", Results: []model.CaseReport{fail}}, 1, model.VerdictWrongAnswer, 0, 1},
		{"no results", model.DelegatedResult{}, 2, model.VerdictWrongAnswer, 0, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			j := delegatedJudgment(tt.res, tt.cases)
			if j.Verdict != tt.wantVerdict || j.TestCasesPassed != tt.wantPassed || j.TotalTestCases != tt.wantTotal {
				t.Fatalf("got %s %d/%d, want %s %d/%d", j.Verdict, j.TestCasesPassed, j.TotalTestCases,
					tt.wantVerdict, tt.wantPassed, tt.wantTotal)
			}
			j.JudgedAt = testNow
			if err := j.Validate(); err != nil {
				t.Fatalf("derived judgment invalid: %v", err)
			}
		})
	}

	noisy := model.CaseReport{Stderr: strings.Repeat("a", maxDelegatedDetailBytes-1) + "‘x’\x00"}
	j := delegatedJudgment(model.DelegatedResult{Results: []model.CaseReport{noisy}}, 1)
	if !utf8.ValidString(j.ErrorDetails) || len(j.ErrorDetails) > maxDelegatedDetailBytes {
		t.Fatalf("delegated details not clipped cleanly: %d bytes", len(j.ErrorDetails))
	}

	j = delegatedJudgment(model.DelegatedResult{Results: []model.CaseReport{pass, fail}}, 2)
	if j.ErrorDetails != "boom" || *j.RuntimeMs != 9 || *j.MemoryKB != 300 {
		t.Fatalf("unexpected details %+v", j)
	}
}

func TestHandleDelegatedResult(t *testing.T) {
	h := newHarness(t)
	h.seed("s1")
	ctx := context.Background()
	res := model.DelegatedResult{
		Token:   "secret",
		Results: []model.CaseReport{{Passed: true}, {Passed: true}},
	}

	bad := res
	bad.Token = "guess"
	if _, err := h.svc.HandleDelegatedResult(ctx, "s1", bad); !appErr.Is(err, appErr.CallbackTokenInvalid) {
		t.Fatalf("expected CallbackTokenInvalid, got %v", err)
	}
	applied, err := h.svc.HandleDelegatedResult(ctx, "s1", res)
	if err != nil || !applied {
		t.Fatalf("HandleDelegatedResult = %v, %v", applied, err)
	}
	if got := h.st.submission("s1"); got.Verdict != model.VerdictAccepted {
		t.Fatalf("unexpected verdict %s", got.Verdict)
	}
	applied, err = h.svc.HandleDelegatedResult(ctx, "s1", res)
	if err != nil || applied {
		t.Fatalf("repeat = %v, %v", applied, err)
	}
	if _, err := h.svc.HandleDelegatedResult(ctx, "ghost", res); !appErr.Is(err, appErr.SubmissionNotFound) {
		t.Fatalf("expected SubmissionNotFound, got %v", err)
	}
}

func TestRunSample(t *testing.T) {
	h := newHarness(t)
	h.seed("s1")
	ctx := context.Background()
	h.judger.samples = []orchestrator.CaseResult{{Index: 0, Sample: true, Passed: true, Verdict: model.VerdictAccepted}}

	out, err := h.svc.RunSample(ctx, SampleRequest{ProblemID: 1, Language: "python", Code: "print(2)"})
	if err != nil || !out.AllPassed || len(out.Cases) != 1 {
		t.Fatalf("RunSample = %+v, %v", out, err)
	}
	if h.st.userStats(t, 7) != nil {
		t.Fatal("sample run touched stats")
	}

	tests := []struct {
		name string
		req  SampleRequest
		code appErr.ErrorCode
	}{
		{"language", SampleRequest{ProblemID: 1, Language: "cobol", Code: "x"}, appErr.LanguageNotSupported},
		{"empty code", SampleRequest{ProblemID: 1, Language: "python", Code: "  "}, appErr.ValidationFailed},
		{"problem", SampleRequest{ProblemID: 99, Language: "python", Code: "x"}, appErr.ProblemNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := h.svc.RunSample(ctx, tt.req); !appErr.Is(err, tt.code) {
				t.Fatalf("expected %d, got %v", tt.code, err)
			}
		})
	}
}
