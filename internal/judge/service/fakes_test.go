package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"judgeflow/internal/common/cache"
	"judgeflow/internal/common/db"
	"judgeflow/internal/common/mq"
	"judgeflow/internal/judge/model"
	"judgeflow/internal/judge/orchestrator"
	"judgeflow/internal/judge/repository"
	"judgeflow/internal/stats"
	pkgrepo "judgeflow/pkg/repository"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

// store backs the fake submission and stats repositories so a fake
// transaction can roll both back together.
type store struct {
	mu    sync.Mutex
	subs  map[string]model.Submission
	stats map[int64][]byte
}

type snapshot struct {
	subs  map[string]model.Submission
	stats map[int64][]byte
}

func newStore() *store {
	return &store{subs: make(map[string]model.Submission), stats: make(map[int64][]byte)}
}

func (s *store) snapshot() snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := snapshot{subs: make(map[string]model.Submission), stats: make(map[int64][]byte)}
	for k, v := range s.subs {
		snap.subs[k] = v
	}
	for k, v := range s.stats {
		snap.stats[k] = v
	}
	return snap
}

func (s *store) restore(snap snapshot) {
	s.mu.Lock()
	s.subs, s.stats = snap.subs, snap.stats
	s.mu.Unlock()
}

func (s *store) submission(id string) model.Submission {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.subs[id]
}

func (s *store) userStats(t *testing.T, userID int64) *stats.UserStats {
	t.Helper()
	s.mu.Lock()
	raw, ok := s.stats[userID]
	s.mu.Unlock()
	if !ok {
		return nil
	}
	var st stats.UserStats
	if err := json.Unmarshal(raw, &st); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	return &st
}

type fakeDB struct {
	st           *store
	transactions int
}

func (f *fakeDB) Transaction(_ context.Context, fn func(tx db.Transaction) error) error {
	f.transactions++
	snap := f.st.snapshot()
	if err := fn(nil); err != nil {
		f.st.restore(snap)
		return err
	}
	return nil
}

func (f *fakeDB) Query(context.Context, string, ...interface{}) (db.Rows, error) {
	return nil, errors.New("not supported")
}
func (f *fakeDB) QueryRow(context.Context, string, ...interface{}) db.Row { return nil }
func (f *fakeDB) Exec(context.Context, string, ...interface{}) (db.Result, error) {
	return nil, errors.New("not supported")
}
func (f *fakeDB) BeginTx(context.Context, *db.TxOptions) (db.Transaction, error) {
	return nil, errors.New("not supported")
}
func (f *fakeDB) Ping(context.Context) error { return nil }
func (f *fakeDB) Close() error               { return nil }
func (f *fakeDB) Dialect() db.Dialect        { return db.DialectMySQL }
func (f *fakeDB) Stats() db.Stats            { return db.Stats{} }

type fakeSubmissions struct{ st *store }

func (f fakeSubmissions) Create(_ context.Context, _ db.Transaction, sub *model.Submission) error {
	f.st.mu.Lock()
	defer f.st.mu.Unlock()
	f.st.subs[sub.ID] = *sub
	return nil
}

func (f fakeSubmissions) GetByID(_ context.Context, _ db.Transaction, id string) (*model.Submission, error) {
	f.st.mu.Lock()
	defer f.st.mu.Unlock()
	sub, ok := f.st.subs[id]
	if !ok {
		return nil, repository.ErrSubmissionNotFound
	}
	return &sub, nil
}

func (f fakeSubmissions) ListByUser(context.Context, int64, pkgrepo.ListOptions) ([]model.Submission, int64, error) {
	return nil, 0, nil
}

func (f fakeSubmissions) CompleteJudgment(_ context.Context, _ db.Transaction, id string, j model.Judgment) (bool, error) {
	f.st.mu.Lock()
	defer f.st.mu.Unlock()
	sub, ok := f.st.subs[id]
	if !ok || sub.Verdict != model.VerdictPending {
		return false, nil
	}
	j.Apply(&sub)
	f.st.subs[id] = sub
	return true, nil
}

// statsRepo stores rows as JSON so rollback restores them exactly.
type statsRepo struct {
	st      *store
	saveErr []error
}

func (r *statsRepo) GetForUpdate(_ context.Context, _ db.Transaction, userID int64) (*stats.UserStats, error) {
	r.st.mu.Lock()
	raw, ok := r.st.stats[userID]
	r.st.mu.Unlock()
	if !ok {
		return nil, nil
	}
	var out stats.UserStats
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *statsRepo) Save(_ context.Context, _ db.Transaction, s *stats.UserStats, _ bool) error {
	if len(r.saveErr) > 0 {
		err := r.saveErr[0]
		r.saveErr = r.saveErr[1:]
		if err != nil {
			return err
		}
	}
	raw, err := json.Marshal(s)
	if err != nil {
		return err
	}
	r.st.mu.Lock()
	r.st.stats[s.UserID] = raw
	r.st.mu.Unlock()
	return nil
}

func (r *statsRepo) Get(ctx context.Context, userID int64) (*stats.UserStats, error) {
	return r.GetForUpdate(ctx, nil, userID)
}

type fakeProblems map[int64]*model.Problem

func (f fakeProblems) GetByID(_ context.Context, id int64) (*model.Problem, error) {
	p, ok := f[id]
	if !ok {
		return nil, repository.ErrProblemNotFound
	}
	cp := *p
	return &cp, nil
}

func (f fakeProblems) GetIDBySlug(context.Context, string) (int64, error) {
	return 0, repository.ErrProblemNotFound
}

func (f fakeProblems) Invalidate(context.Context, int64) error { return nil }

type fakeSources map[string]string

func (f fakeSources) Get(_ context.Context, key, _ string) (string, error) {
	src, ok := f[key]
	if !ok {
		return "", errors.New("object missing")
	}
	return src, nil
}

type fakeJudger struct {
	outcome orchestrator.Outcome
	err     error
	samples []orchestrator.CaseResult
	calls   int
	sources []string
}

func (f *fakeJudger) Judge(_ context.Context, sub model.Submission, _ model.Problem, _ ...orchestrator.JudgeOption) (orchestrator.Outcome, error) {
	f.calls++
	f.sources = append(f.sources, sub.SourceCode)
	return f.outcome, f.err
}

func (f *fakeJudger) RunSamples(context.Context, model.Language, string, model.Problem) ([]orchestrator.CaseResult, error) {
	f.calls++
	return f.samples, f.err
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []model.JudgeStatus
}

func (p *recordingPublisher) PublishFinalStatus(_ context.Context, st model.JudgeStatus) error {
	p.mu.Lock()
	p.events = append(p.events, st)
	p.mu.Unlock()
	return nil
}

type recordingProducer struct {
	mu     sync.Mutex
	topics []string
	msgs   []*mq.Message
}

func (p *recordingProducer) Publish(_ context.Context, topic string, msg *mq.Message) error {
	p.mu.Lock()
	p.topics = append(p.topics, topic)
	p.msgs = append(p.msgs, msg)
	p.mu.Unlock()
	return nil
}

type harness struct {
	svc       *Service
	st        *store
	db        *fakeDB
	statsRepo *statsRepo
	judger    *fakeJudger
	problems  fakeProblems
	sources   fakeSources
	cache     cache.Cache
	publisher *recordingPublisher
	producer  *recordingProducer
}

var testNow = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

func newHarness(t *testing.T, mutate ...func(*Config)) *harness {
	t.Helper()
	mr := miniredis.RunT(t)
	c, err := cache.NewRedisCacheWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	if err != nil {
		t.Fatalf("cache: %v", err)
	}
	h := &harness{
		st:        newStore(),
		judger:    &fakeJudger{},
		problems:  fakeProblems{},
		sources:   fakeSources{},
		cache:     c,
		publisher: &recordingPublisher{},
		producer:  &recordingProducer{},
	}
	h.db = &fakeDB{st: h.st}
	h.statsRepo = &statsRepo{st: h.st}
	statsSvc, err := stats.NewService(h.statsRepo, nil, stats.Config{TimeZone: "UTC"})
	if err != nil {
		t.Fatalf("stats service: %v", err)
	}
	cfg := Config{
		Judger:        h.judger,
		DB:            h.db,
		Submissions:   fakeSubmissions{st: h.st},
		Problems:      h.problems,
		Sources:       h.sources,
		Stats:         statsSvc,
		StatusRepo:    repository.NewStatusRepository(c, time.Hour),
		Publisher:     h.publisher,
		Locks:         c,
		Queue:         h.producer,
		RetryTopic:    "judge.retry",
		CallbackToken: "secret",
		SlotTimeout:   10 * time.Millisecond,
		Now:           func() time.Time { return testNow },
	}
	for _, m := range mutate {
		m(&cfg)
	}
	h.svc, err = NewService(cfg)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return h
}

// seed stores a Pending submission for problem 1 with two test cases.
func (h *harness) seed(id string) model.Submission {
	h.problems[1] = &model.Problem{
		ID:         1,
		Difficulty: model.DifficultyEasy,
		TestCases: []model.TestCase{
			{Input: "1", Output: "2", IsSample: true},
			{Input: "2", Output: "4"},
		},
	}
	sub := model.Submission{
		ID:        id,
		ProblemID: 1,
		UserID:    7,
		Language:  model.LanguagePython,
		SourceKey: repository.SourceKey(id),
		Verdict:   model.VerdictPending,
		CreatedAt: testNow,
	}
	h.sources[sub.SourceKey] = "print(int(input())*2)"
	_ = fakeSubmissions{st: h.st}.Create(context.Background(), nil, &sub)
	return sub
}

func judgeMessage(t *testing.T, submissionID string) *mq.Message {
	t.Helper()
	body, err := json.Marshal(model.JudgeMessage{SubmissionID: submissionID, ProblemID: 1, UserID: 7, Language: model.LanguagePython})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	msg := mq.NewMessage(body)
	msg.ID = submissionID
	msg.MaxRetries = 3
	return msg
}

func acceptedOutcome() orchestrator.Outcome {
	runtime, memory := int64(12), int64(2048)
	return orchestrator.Outcome{
		Verdict:         model.VerdictAccepted,
		TestCasesPassed: 2,
		TotalTestCases:  2,
		RuntimeMs:       &runtime,
		MemoryKB:        &memory,
	}
}
