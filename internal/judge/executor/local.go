package executor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"judgeflow/internal/judge/model"
	"judgeflow/pkg/utils/logger"

	"go.uber.org/zap"
)

const (
	defaultCompileTimeout       = 10 * time.Second
	defaultStdoutMaxBytes int64 = 64 << 20
	defaultStderrMaxBytes int64 = 1 << 20
)

// LocalConfig controls the local subprocess backend.
type LocalConfig struct {
	// WorkRoot is where per-execution directories are created; empty uses os.TempDir.
	WorkRoot       string        `yaml:"workRoot"`
	CompileTimeout time.Duration `yaml:"compileTimeout"`
	StdoutMaxBytes int64         `yaml:"stdoutMaxBytes"`
	StderrMaxBytes int64         `yaml:"stderrMaxBytes"`

	// CgroupRoot enables cgroup v2 memory enforcement when set (Linux only).
	CgroupRoot string `yaml:"cgroupRoot"`
	MaxPIDs    int64  `yaml:"maxPids"`

	// HelperPath points at the sandbox-init binary; empty runs programs directly.
	HelperPath    string   `yaml:"helperPath"`
	EnableSeccomp bool     `yaml:"enableSeccomp"`
	SeccompDeny   []string `yaml:"seccompDeny"`

	Languages map[string]LanguageSpec `yaml:"languages"`
}

// LocalExecutor compiles and runs programs as child processes of this service.
type LocalExecutor struct {
	cfg       LocalConfig
	languages map[model.Language]LanguageSpec
}

// NewLocal creates a local executor.
func NewLocal(cfg LocalConfig) (*LocalExecutor, error) {
	if cfg.CompileTimeout <= 0 {
		cfg.CompileTimeout = defaultCompileTimeout
	}
	if cfg.StdoutMaxBytes <= 0 {
		cfg.StdoutMaxBytes = defaultStdoutMaxBytes
	}
	if cfg.StderrMaxBytes <= 0 {
		cfg.StderrMaxBytes = defaultStderrMaxBytes
	}
	languages, err := MergeLanguages(cfg.Languages)
	if err != nil {
		return nil, fmt.Errorf("load languages: %w", err)
	}
	if cfg.WorkRoot != "" {
		if err := os.MkdirAll(cfg.WorkRoot, 0o755); err != nil {
			return nil, fmt.Errorf("create work root: %w", err)
		}
	}
	return &LocalExecutor{cfg: cfg, languages: languages}, nil
}

// Execute runs req in a fresh work directory that is removed before returning.
func (e *LocalExecutor) Execute(ctx context.Context, req Request) (Result, error) {
	spec, ok := e.languages[req.Language]
	if !ok {
		return Result{}, ErrUnsupportedLanguage
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	dir, err := os.MkdirTemp(e.cfg.WorkRoot, "run-")
	if err != nil {
		return Result{}, fmt.Errorf("create work dir: %w", err)
	}
	defer func() {
		if rmErr := os.RemoveAll(dir); rmErr != nil {
			logger.Warn(ctx, "remove work dir failed", zap.String("dir", dir), zap.Error(rmErr))
		}
	}()

	vars := newTemplateVars(dir, spec, req.MemoryLimitKB)
	if err := os.WriteFile(vars.src, []byte(req.Source), 0o644); err != nil {
		return Result{}, fmt.Errorf("write source: %w", err)
	}

	if spec.Compiled() {
		res, ok, err := e.compile(ctx, spec, vars)
		if err != nil || !ok {
			return res, err
		}
	}

	inputPath := filepath.Join(dir, "input.txt")
	if err := os.WriteFile(inputPath, []byte(req.Input), 0o644); err != nil {
		return Result{}, fmt.Errorf("write input: %w", err)
	}
	stdin, err := os.Open(inputPath)
	if err != nil {
		return Result{}, fmt.Errorf("open input: %w", err)
	}
	defer stdin.Close()

	args, err := expandCommand(spec.RunCmd, vars)
	if err != nil {
		return Result{}, err
	}
	out, err := e.runProcess(ctx, process{
		args:             args,
		dir:              dir,
		stdin:            stdin,
		timeLimit:        time.Duration(req.TimeLimitMs) * time.Millisecond,
		memoryLimitKB:    req.MemoryLimitKB,
		sandboxed:        true,
		skipAddressLimit: spec.SkipAddressLimit,
	})
	if err != nil {
		return Result{}, err
	}

	res := Result{
		Stdout:    out.stdout,
		Stderr:    out.stderr,
		ExitCode:  out.exitCode,
		TimedOut:  out.timedOut,
		RuntimeMs: out.wallMs,
		MemoryKB:  out.memoryKB,
	}
	if res.TimedOut {
		res.Stdout = ""
	} else {
		res.MemoryExceeded = out.oomKilled || (req.MemoryLimitKB > 0 && out.memoryKB > req.MemoryLimitKB)
	}
	return res, nil
}

// compile returns ok=false with a CompileFailed result when the compiler rejects the source.
func (e *LocalExecutor) compile(ctx context.Context, spec LanguageSpec, vars templateVars) (Result, bool, error) {
	args, err := expandCommand(spec.CompileCmd, vars)
	if err != nil {
		return Result{}, false, err
	}
	out, err := e.runProcess(ctx, process{
		args:      args,
		dir:       vars.dir,
		timeLimit: e.cfg.CompileTimeout,
	})
	if err != nil {
		return Result{}, false, err
	}
	if out.exitCode == 0 && !out.timedOut {
		return Result{}, true, nil
	}
	diag := strings.TrimSpace(out.stderr)
	if diag == "" {
		diag = strings.TrimSpace(out.stdout)
	}
	if out.timedOut {
		diag = strings.TrimSpace("compilation timed out\n" + diag)
	}
	code := out.exitCode
	if code == 0 {
		code = 1
	}
	return Result{
		Stderr:        diag,
		ExitCode:      code,
		CompileFailed: true,
		RuntimeMs:     out.wallMs,
	}, false, nil
}

// process is one child process invocation.
type process struct {
	args             []string
	dir              string
	stdin            *os.File
	timeLimit        time.Duration
	memoryLimitKB    int64
	sandboxed        bool
	skipAddressLimit bool
}

type processOutput struct {
	stdout    string
	stderr    string
	exitCode  int
	timedOut  bool
	oomKilled bool
	wallMs    int64
	memoryKB  int64
}

func (e *LocalExecutor) environ(dir string) []string {
	env := []string{"HOME=" + dir, "LANG=C.UTF-8", "PYTHONDONTWRITEBYTECODE=1"}
	if path := os.Getenv("PATH"); path != "" {
		env = append(env, "PATH="+path)
	}
	return env
}
