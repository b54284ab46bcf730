//go:build !linux

package executor

import (
	"context"
	"fmt"
	"os/exec"
	"sync/atomic"
	"time"
)

// runProcess on non-Linux hosts enforces the wall limit only; memory is not
// bounded and peak usage is not reported.
func (e *LocalExecutor) runProcess(ctx context.Context, p process) (processOutput, error) {
	stdout := newCappedBuffer(e.cfg.StdoutMaxBytes)
	stderr := newCappedBuffer(e.cfg.StderrMaxBytes)

	cmd := exec.Command(p.args[0], p.args[1:]...)
	cmd.Dir = p.dir
	cmd.Env = e.environ(p.dir)
	if p.stdin != nil {
		cmd.Stdin = p.stdin
	}
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.WaitDelay = time.Second

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return processOutput{}, fmt.Errorf("start %s: %w", p.args[0], err)
	}

	var timedOut, cancelled atomic.Bool
	done := make(chan struct{})
	go func() {
		var wallTimer <-chan time.Time
		if p.timeLimit > 0 {
			t := time.NewTimer(p.timeLimit)
			defer t.Stop()
			wallTimer = t.C
		}
		select {
		case <-wallTimer:
			timedOut.Store(true)
			_ = cmd.Process.Kill()
		case <-ctx.Done():
			cancelled.Store(true)
			_ = cmd.Process.Kill()
		case <-done:
		}
	}()

	waitErr := cmd.Wait()
	close(done)
	if cancelled.Load() && !timedOut.Load() {
		return processOutput{}, ctx.Err()
	}
	if cmd.ProcessState == nil {
		return processOutput{}, fmt.Errorf("wait %s: %w", p.args[0], waitErr)
	}
	code := cmd.ProcessState.ExitCode()
	if code < 0 {
		code = 137
	}
	return processOutput{
		stdout:   stdout.String(),
		stderr:   stderr.String(),
		exitCode: code,
		timedOut: timedOut.Load(),
		wallMs:   time.Since(start).Milliseconds(),
	}, nil
}
