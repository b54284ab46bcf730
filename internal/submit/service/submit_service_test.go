package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"judgeflow/internal/common/cache"
	"judgeflow/internal/common/db"
	"judgeflow/internal/common/mq"
	"judgeflow/internal/judge/model"
	judgeRepo "judgeflow/internal/judge/repository"
	"judgeflow/internal/stats"
	appErr "judgeflow/pkg/errors"
	pkgrepo "judgeflow/pkg/repository"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type memorySubmissions struct {
	mu       sync.Mutex
	rows     map[string]model.Submission
	lastOpts pkgrepo.ListOptions
}

func (m *memorySubmissions) Create(_ context.Context, _ db.Transaction, sub *model.Submission) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[sub.ID] = *sub
	return nil
}

func (m *memorySubmissions) GetByID(_ context.Context, _ db.Transaction, id string) (*model.Submission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub, ok := m.rows[id]
	if !ok {
		return nil, judgeRepo.ErrSubmissionNotFound
	}
	return &sub, nil
}

func (m *memorySubmissions) ListByUser(_ context.Context, userID int64, opts pkgrepo.ListOptions) ([]model.Submission, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastOpts = opts
	var out []model.Submission
	for _, sub := range m.rows {
		if sub.UserID == userID {
			out = append(out, sub)
		}
	}
	return out, int64(len(out)), nil
}

func (m *memorySubmissions) CompleteJudgment(_ context.Context, _ db.Transaction, id string, j model.Judgment) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub, ok := m.rows[id]
	if !ok || sub.Verdict != model.VerdictPending {
		return false, nil
	}
	j.Apply(&sub)
	m.rows[id] = sub
	return true, nil
}

type fakeProblems struct{ slugs map[string]int64 }

func (f fakeProblems) GetByID(_ context.Context, id int64) (*model.Problem, error) {
	if id != 1 && id != 2 {
		return nil, judgeRepo.ErrProblemNotFound
	}
	return &model.Problem{ID: id, Difficulty: model.DifficultyEasy}, nil
}

func (f fakeProblems) GetIDBySlug(_ context.Context, s string) (int64, error) {
	id, ok := f.slugs[s]
	if !ok {
		return 0, judgeRepo.ErrProblemNotFound
	}
	return id, nil
}

func (f fakeProblems) Invalidate(context.Context, int64) error { return nil }

type memorySources struct {
	mu      sync.Mutex
	objects map[string]string
}

func (m *memorySources) Put(_ context.Context, key, source string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = source
	return nil
}

func (m *memorySources) Get(_ context.Context, key, _ string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	src, ok := m.objects[key]
	if !ok {
		return "", appErr.New(appErr.NotFound)
	}
	return src, nil
}

type recordingProducer struct {
	mu     sync.Mutex
	fail   error
	topics []string
	msgs   []*mq.Message
}

func (p *recordingProducer) Publish(_ context.Context, topic string, msg *mq.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail != nil {
		return p.fail
	}
	p.topics = append(p.topics, topic)
	p.msgs = append(p.msgs, msg)
	return nil
}

type fakeStats struct {
	invalidated []int64
}

func (f *fakeStats) Get(_ context.Context, userID int64) (*stats.UserStats, error) {
	return stats.NewUserStats(userID), nil
}

func (f *fakeStats) Invalidate(_ context.Context, userID int64) {
	f.invalidated = append(f.invalidated, userID)
}

type harness struct {
	svc      *SubmitService
	subs     *memorySubmissions
	sources  *memorySources
	producer *recordingProducer
	stats    *fakeStats
	status   *judgeRepo.StatusRepository
}

func newHarness(t *testing.T, mutate ...func(*Config)) *harness {
	t.Helper()
	mr := miniredis.RunT(t)
	c, err := cache.NewRedisCacheWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	if err != nil {
		t.Fatalf("cache: %v", err)
	}
	h := &harness{
		subs:     &memorySubmissions{rows: make(map[string]model.Submission)},
		sources:  &memorySources{objects: make(map[string]string)},
		producer: &recordingProducer{},
		stats:    &fakeStats{},
		status:   judgeRepo.NewStatusRepository(c, time.Hour),
	}
	cfg := Config{
		Submissions:    h.subs,
		Problems:       fakeProblems{slugs: map[string]int64{"two-sum": 2}},
		Sources:        h.sources,
		StatusRepo:     h.status,
		Stats:          h.stats,
		Queue:          h.producer,
		Cache:          c,
		JudgeTopic:     "judge.submit",
		MaxCodeBytes:   128,
		IdempotencyTTL: time.Minute,
	}
	for _, m := range mutate {
		m(&cfg)
	}
	h.svc, err = NewSubmitService(cfg)
	if err != nil {
		t.Fatalf("NewSubmitService: %v", err)
	}
	return h
}

func TestSubmitStoresAndPublishes(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	code := "print(int(input())*2)"

	res, err := h.svc.Submit(ctx, SubmitInput{ProblemID: 1, UserID: 7, Language: "py", SourceCode: code})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if res.SubmissionID == "" || res.Status != model.StagePending {
		t.Fatalf("unexpected result %+v", res)
	}

	sub := h.subs.rows[res.SubmissionID]
	if sub.Verdict != model.VerdictPending || sub.Language != model.LanguagePython || sub.UserID != 7 {
		t.Fatalf("unexpected row %+v", sub)
	}
	if sub.SourceHash != judgeRepo.HashSource(code) || h.sources.objects[sub.SourceKey] != code {
		t.Fatal("source not stored under the row's key")
	}

	if len(h.producer.msgs) != 1 || h.producer.topics[0] != "judge.submit" {
		t.Fatalf("expected one message on judge.submit, got %v", h.producer.topics)
	}
	var msg model.JudgeMessage
	if err := json.Unmarshal(h.producer.msgs[0].Body, &msg); err != nil {
		t.Fatalf("decode message: %v", err)
	}
	if msg.SubmissionID != res.SubmissionID || msg.ProblemID != 1 || msg.SourceKey != sub.SourceKey {
		t.Fatalf("unexpected message %+v", msg)
	}

	st, err := h.status.Get(ctx, res.SubmissionID)
	if err != nil || st.Stage != model.StagePending {
		t.Fatalf("pending status = %+v, %v", st, err)
	}
}

func TestSubmitCollapsesDuplicates(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	in := SubmitInput{ProblemID: 1, UserID: 7, Language: "python", SourceCode: "print(1)"}

	first, err := h.svc.Submit(ctx, in)
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	second, err := h.svc.Submit(ctx, in)
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if first.SubmissionID != second.SubmissionID {
		t.Fatalf("duplicate created a new submission: %s vs %s", first.SubmissionID, second.SubmissionID)
	}
	if len(h.producer.msgs) != 1 {
		t.Fatalf("expected one judge message, got %d", len(h.producer.msgs))
	}

	in.SourceCode = "print(2)"
	third, err := h.svc.Submit(ctx, in)
	if err != nil || third.SubmissionID == first.SubmissionID {
		t.Fatalf("different code should create a new submission: %+v, %v", third, err)
	}
}

func TestSubmitRateLimit(t *testing.T) {
	h := newHarness(t, func(c *Config) {
		c.RateLimit = RateLimitConfig{UserMax: 2, Window: time.Minute}
	})
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if _, err := h.svc.Submit(ctx, SubmitInput{ProblemID: 1, UserID: 7, Language: "cpp", SourceCode: strings.Repeat("x", i+1)}); err != nil {
			t.Fatalf("submit %d: %v", i, err)
		}
	}
	_, err := h.svc.Submit(ctx, SubmitInput{ProblemID: 1, UserID: 7, Language: "cpp", SourceCode: "yyy"})
	if !appErr.Is(err, appErr.SubmitTooFrequently) {
		t.Fatalf("expected SubmitTooFrequently, got %v", err)
	}
	if _, err := h.svc.Submit(ctx, SubmitInput{ProblemID: 1, UserID: 8, Language: "cpp", SourceCode: "yyy"}); err != nil {
		t.Fatalf("other user throttled: %v", err)
	}
}

func TestSubmitValidation(t *testing.T) {
	h := newHarness(t)
	cases := []struct {
		name string
		in   SubmitInput
		code appErr.ErrorCode
	}{
		{"language", SubmitInput{ProblemID: 1, UserID: 7, Language: "cobol", SourceCode: "x"}, appErr.LanguageNotSupported},
		{"empty code", SubmitInput{ProblemID: 1, UserID: 7, Language: "cpp", SourceCode: " \n"}, appErr.ValidationFailed},
		{"too large", SubmitInput{ProblemID: 1, UserID: 7, Language: "cpp", SourceCode: strings.Repeat("a", 129)}, appErr.CodeTooLarge},
		{"no problem", SubmitInput{UserID: 7, Language: "cpp", SourceCode: "x"}, appErr.ValidationFailed},
		{"unknown problem", SubmitInput{ProblemID: 42, UserID: 7, Language: "cpp", SourceCode: "x"}, appErr.ProblemNotFound},
		{"unknown slug", SubmitInput{ProblemSlug: "three-sum", UserID: 7, Language: "cpp", SourceCode: "x"}, appErr.ProblemNotFound},
		{"no user", SubmitInput{ProblemID: 1, Language: "cpp", SourceCode: "x"}, appErr.ValidationFailed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := h.svc.Submit(context.Background(), tc.in); !appErr.Is(err, tc.code) {
				t.Fatalf("expected %d, got %v", tc.code, err)
			}
		})
	}
	if len(h.subs.rows) != 0 || len(h.producer.msgs) != 0 {
		t.Fatal("rejected submissions left side effects")
	}
}

func TestSubmitBySlug(t *testing.T) {
	h := newHarness(t)
	res, err := h.svc.Submit(context.Background(), SubmitInput{ProblemSlug: "Two Sum", UserID: 7, Language: "java", SourceCode: "class Main {}"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if got := h.subs.rows[res.SubmissionID].ProblemID; got != 2 {
		t.Fatalf("slug resolved to problem %d", got)
	}
}

func TestSubmitPublishFailureReleasesIdempotency(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	in := SubmitInput{ProblemID: 1, UserID: 7, Language: "cpp", SourceCode: "int main(){}"}

	h.producer.fail = errors.New("broker down")
	if _, err := h.svc.Submit(ctx, in); !appErr.Is(err, appErr.MessagePublishErr) {
		t.Fatalf("expected MessagePublishErr, got %v", err)
	}
	if len(h.subs.rows) != 1 {
		t.Fatalf("expected one stored row, got %d", len(h.subs.rows))
	}
	var failedID string
	for id, row := range h.subs.rows {
		failedID = id
		if row.Verdict != model.VerdictSystemError || row.ErrorMessage != model.SystemErrorMessage || row.JudgedAt == nil {
			t.Fatalf("unpublished row not closed: %+v", row)
		}
	}
	if status, err := h.status.Get(ctx, failedID); err != nil || !status.Final() {
		t.Fatalf("status for unpublished row = %+v, %v", status, err)
	}
	if len(h.stats.invalidated) != 0 {
		t.Fatal("stats must not change for an unpublished submission")
	}
	h.producer.fail = nil
	if _, err := h.svc.Submit(ctx, in); err != nil {
		t.Fatalf("retry after publish failure: %v", err)
	}
	if len(h.producer.msgs) != 1 {
		t.Fatalf("expected one message after retry, got %d", len(h.producer.msgs))
	}
}

func TestGetVisibility(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	res, err := h.svc.Submit(ctx, SubmitInput{ProblemID: 1, UserID: 7, Language: "js", SourceCode: "console.log(1)"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	owner, err := h.svc.Get(ctx, res.SubmissionID, 7, false)
	if err != nil || owner.SourceCode != "console.log(1)" {
		t.Fatalf("owner view = %+v, %v", owner, err)
	}
	admin, err := h.svc.Get(ctx, res.SubmissionID, 1, true)
	if err != nil || admin.SourceCode != "" {
		t.Fatalf("admin view = %+v, %v", admin, err)
	}
	if _, err := h.svc.Get(ctx, res.SubmissionID, 8, false); !appErr.Is(err, appErr.Forbidden) {
		t.Fatalf("expected Forbidden, got %v", err)
	}
	if _, err := h.svc.Get(ctx, "missing", 7, false); !appErr.Is(err, appErr.SubmissionNotFound) {
		t.Fatalf("expected SubmissionNotFound, got %v", err)
	}
}

func TestListByUser(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, _, opts, err := h.svc.ListByUser(ctx, 7, 7, false, pkgrepo.ListOptions{PageSize: 500})
	if err != nil {
		t.Fatalf("ListByUser: %v", err)
	}
	if opts.PageSize != maxPageSize || h.subs.lastOpts.PageSize != maxPageSize || opts.Page != 1 {
		t.Fatalf("page size not clamped: %+v", opts)
	}
	if _, _, _, err := h.svc.ListByUser(ctx, 7, 8, false, pkgrepo.ListOptions{}); !appErr.Is(err, appErr.Forbidden) {
		t.Fatalf("expected Forbidden, got %v", err)
	}
	if _, _, _, err := h.svc.ListByUser(ctx, 7, 1, true, pkgrepo.ListOptions{}); err != nil {
		t.Fatalf("admin list: %v", err)
	}
	bad := pkgrepo.ListOptions{Filters: map[string]string{"verdict": "Nope"}}
	if _, _, _, err := h.svc.ListByUser(ctx, 7, 7, false, bad); !appErr.Is(err, appErr.ValidationFailed) {
		t.Fatalf("expected ValidationFailed, got %v", err)
	}
}

func TestHandleFinalStatusMessage(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	res, err := h.svc.Submit(ctx, SubmitInput{ProblemID: 1, UserID: 7, Language: "cpp", SourceCode: "x"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	final := model.JudgeStatus{SubmissionID: res.SubmissionID, Stage: model.StageFinished, Verdict: model.VerdictAccepted}
	body, _ := json.Marshal(model.StatusEvent{Type: model.StatusEventFinal, Status: final})
	if err := h.svc.HandleFinalStatusMessage(ctx, mq.NewMessage(body)); err != nil {
		t.Fatalf("HandleFinalStatusMessage: %v", err)
	}
	st, err := h.status.Get(ctx, res.SubmissionID)
	if err != nil || !st.Final() {
		t.Fatalf("status = %+v, %v", st, err)
	}
	if len(h.stats.invalidated) != 1 || h.stats.invalidated[0] != 7 {
		t.Fatalf("stats not invalidated: %v", h.stats.invalidated)
	}

	if err := h.svc.HandleFinalStatusMessage(ctx, mq.NewMessage([]byte("{"))); err != nil {
		t.Fatalf("bad payload should be dropped, got %v", err)
	}
}
