//go:build linux

package executor

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sync/atomic"
	"syscall"
	"time"
)

// runProcess starts p in its own process group and kills the whole group when
// the wall limit passes or ctx ends. Leftover group members are killed after
// the leader exits.
func (e *LocalExecutor) runProcess(ctx context.Context, p process) (processOutput, error) {
	args := p.args
	var extra []*os.File
	if p.sandboxed && e.cfg.HelperPath != "" {
		reqFile, err := requestPipe(e.sandboxRequest(p))
		if err != nil {
			return processOutput{}, fmt.Errorf("encode sandbox request: %w", err)
		}
		defer reqFile.Close()
		extra = append(extra, reqFile)
		args = []string{e.cfg.HelperPath}
	}

	cgroupPath := ""
	var cgroupDir *os.File
	if p.sandboxed && e.cfg.CgroupRoot != "" {
		path, cleanup, err := createRunCgroup(e.cfg.CgroupRoot)
		if err != nil {
			return processOutput{}, fmt.Errorf("create cgroup: %w", err)
		}
		defer cleanup()
		if err := applyCgroupLimits(path, p.memoryLimitKB, e.cfg.MaxPIDs); err != nil {
			return processOutput{}, fmt.Errorf("apply cgroup limits: %w", err)
		}
		cgroupDir, err = openCgroupDir(path)
		if err != nil {
			return processOutput{}, fmt.Errorf("open cgroup: %w", err)
		}
		defer cgroupDir.Close()
		cgroupPath = path
	}

	stdout := newCappedBuffer(e.cfg.StdoutMaxBytes)
	stderr := newCappedBuffer(e.cfg.StderrMaxBytes)

	cmd := exec.Command(args[0], args[1:]...)
	cmd.Dir = p.dir
	cmd.Env = e.environ(p.dir)
	if p.stdin != nil {
		cmd.Stdin = p.stdin
	}
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.ExtraFiles = extra
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true, Pdeathsig: syscall.SIGKILL}
	if cgroupDir != nil {
		cmd.SysProcAttr.UseCgroupFD = true
		cmd.SysProcAttr.CgroupFD = int(cgroupDir.Fd())
	}
	cmd.WaitDelay = time.Second

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return processOutput{}, fmt.Errorf("start %s: %w", args[0], err)
	}
	pid := cmd.Process.Pid

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
			killProcessGroup(pid)
		case <-ctx.Done():
			cancelled.Store(true)
			killProcessGroup(pid)
		case <-done:
		}
	}()

	waitErr := cmd.Wait()
	close(done)
	wallMs := time.Since(start).Milliseconds()
	killProcessGroup(pid)
	if cgroupPath != "" {
		_ = killCgroup(cgroupPath)
	}

	if cancelled.Load() && !timedOut.Load() {
		return processOutput{}, ctx.Err()
	}
	if cmd.ProcessState == nil {
		return processOutput{}, fmt.Errorf("wait %s: %w", args[0], waitErr)
	}

	out := processOutput{
		stdout:   stdout.String(),
		stderr:   stderr.String(),
		exitCode: exitCode(cmd.ProcessState),
		timedOut: timedOut.Load(),
		wallMs:   wallMs,
		memoryKB: memoryPeakKB(cgroupPath, cmd.ProcessState),
	}
	// A SIGKILL the timer did not send came from the kernel or cgroup OOM killer.
	if ws, ok := cmd.ProcessState.Sys().(syscall.WaitStatus); ok && ws.Signaled() && ws.Signal() == syscall.SIGKILL && !out.timedOut {
		out.oomKilled = true
	}
	if wasOomKilled(cgroupPath) {
		out.oomKilled = true
	}
	return out, nil
}

// exitCode follows shell convention: 128+signal for signaled processes.
func exitCode(state *os.ProcessState) int {
	if ws, ok := state.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return 128 + int(ws.Signal())
	}
	return state.ExitCode()
}

func killProcessGroup(pid int) {
	if pid <= 0 {
		return
	}
	_ = syscall.Kill(-pid, syscall.SIGKILL)
}
