package executor

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"judgeflow/internal/judge/model"
	"judgeflow/pkg/utils/logger"

	"github.com/google/uuid"
	"github.com/zeromicro/go-zero/core/breaker"
	"go.uber.org/zap"
)

const (
	defaultCallbackGrace  = 10 * time.Second
	defaultRequestTimeout = 5 * time.Second
)

var (
	// ErrCallbackTimeout means the remote service never reported the job back.
	ErrCallbackTimeout = errors.New("executor callback timed out")
	// ErrUnknownJob means a callback arrived for a job nobody is waiting on.
	ErrUnknownJob = errors.New("unknown execution job")
	// ErrInvalidCallbackToken means the callback secret did not match.
	ErrInvalidCallbackToken = errors.New("invalid callback token")
)

// RemoteConfig controls the remote execution backend.
type RemoteConfig struct {
	Endpoint       string        `yaml:"endpoint"`
	CallbackURL    string        `yaml:"callbackUrl"`
	CallbackToken  string        `yaml:"callbackToken"`
	CallbackGrace  time.Duration `yaml:"callbackGrace"`
	RequestTimeout time.Duration `yaml:"requestTimeout"`
}

// RemoteExecutor hands each execution to a remote service and waits for the
// service to post the result back.
type RemoteExecutor struct {
	cfg      RemoteConfig
	client   *http.Client
	brk      breaker.Breaker
	registry *CallbackRegistry
}

// NewRemote creates a remote executor. The registry must be the one the
// callback handler resolves into.
func NewRemote(cfg RemoteConfig, registry *CallbackRegistry, client *http.Client) (*RemoteExecutor, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("remote executor endpoint is required")
	}
	if cfg.CallbackURL == "" {
		return nil, fmt.Errorf("remote executor callback url is required")
	}
	if registry == nil {
		return nil, fmt.Errorf("callback registry is required")
	}
	if cfg.CallbackGrace <= 0 {
		cfg.CallbackGrace = defaultCallbackGrace
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	if client == nil {
		client = &http.Client{Timeout: cfg.RequestTimeout}
	}
	return &RemoteExecutor{
		cfg:      cfg,
		client:   client,
		brk:      breaker.NewBreaker(breaker.WithName("remote-executor")),
		registry: registry,
	}, nil
}

func (e *RemoteExecutor) Execute(ctx context.Context, req Request) (Result, error) {
	if _, ok := DefaultLanguages()[req.Language]; !ok {
		return Result{}, ErrUnsupportedLanguage
	}
	job := model.ExecutionJob{
		JobID:         uuid.NewString(),
		Language:      req.Language,
		Source:        req.Source,
		Stdin:         req.Input,
		TimeLimitMs:   req.TimeLimitMs,
		MemoryLimitKB: req.MemoryLimitKB,
		CallbackURL:   e.cfg.CallbackURL,
	}
	wait := e.registry.Register(job.JobID)
	defer e.registry.Forget(job.JobID)

	err := e.brk.DoWithAcceptable(func() error {
		return e.post(ctx, job)
	}, func(err error) bool {
		return err == nil || errors.Is(err, context.Canceled)
	})
	if err != nil {
		return Result{}, fmt.Errorf("submit execution job: %w", err)
	}

	deadline := time.NewTimer(time.Duration(req.TimeLimitMs)*time.Millisecond + e.cfg.CallbackGrace)
	defer deadline.Stop()
	select {
	case cb := <-wait:
		return Result{
			Stdout:         cb.Stdout,
			Stderr:         cb.Stderr,
			ExitCode:       cb.ExitCode,
			TimedOut:       cb.TimedOut,
			MemoryExceeded: cb.MemoryExceeded,
			CompileFailed:  cb.CompileFailed,
			RuntimeMs:      cb.RuntimeMs,
			MemoryKB:       cb.MemoryKB,
		}, nil
	case <-deadline.C:
		logger.Warn(ctx, "execution callback not received", zap.String("job_id", job.JobID))
		return Result{}, ErrCallbackTimeout
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

func (e *RemoteExecutor) post(ctx context.Context, job model.ExecutionJob) error {
	body, err := json.Marshal(job)
	if err != nil {
		return err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if e.cfg.CallbackToken != "" {
		httpReq.Header.Set("X-Callback-Token", e.cfg.CallbackToken)
	}
	resp, err := e.client.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("remote executor returned status %d", resp.StatusCode)
	}
	return nil
}

// CallbackRegistry pairs in-flight jobs with the callbacks that complete them.
type CallbackRegistry struct {
	token   string
	mu      sync.Mutex
	pending map[string]chan model.ExecutionCallback
}

// NewCallbackRegistry creates a registry that accepts callbacks carrying token.
func NewCallbackRegistry(token string) *CallbackRegistry {
	return &CallbackRegistry{
		token:   token,
		pending: make(map[string]chan model.ExecutionCallback),
	}
}

// Register starts waiting for jobID.
func (r *CallbackRegistry) Register(jobID string) <-chan model.ExecutionCallback {
	ch := make(chan model.ExecutionCallback, 1)
	r.mu.Lock()
	r.pending[jobID] = ch
	r.mu.Unlock()
	return ch
}

// Forget stops waiting for jobID; late callbacks are then rejected.
func (r *CallbackRegistry) Forget(jobID string) {
	r.mu.Lock()
	delete(r.pending, jobID)
	r.mu.Unlock()
}

// ValidToken compares the presented secret in constant time.
func (r *CallbackRegistry) ValidToken(token string) bool {
	if r.token == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(r.token), []byte(token)) == 1
}

// Resolve delivers cb to the waiting job. Each job accepts one callback.
func (r *CallbackRegistry) Resolve(token string, cb model.ExecutionCallback) error {
	if !r.ValidToken(token) {
		return ErrInvalidCallbackToken
	}
	r.mu.Lock()
	ch, ok := r.pending[cb.JobID]
	if ok {
		delete(r.pending, cb.JobID)
	}
	r.mu.Unlock()
	if !ok {
		return ErrUnknownJob
	}
	ch <- cb
	return nil
}

// Pending returns the number of jobs still waiting.
func (r *CallbackRegistry) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}
