//go:build linux

// sandbox-init applies resource limits and an optional syscall filter to
// itself, then execs the submitted program. The local executor starts it
// with the request on descriptor 3 and the program's stdio already wired.
package main

import (
	"fmt"
	"os"
	"os/exec"

	"judgeflow/internal/judge/executor"

	"github.com/seccomp/libseccomp-golang"
	"golang.org/x/sys/unix"
)

// Exit code reported when the helper itself fails before exec.
const setupFailureExit = 127

func main() {
	if err := run(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, "sandbox-init:", err.Error())
		os.Exit(setupFailureExit)
	}
}

func run() error {
	req, err := executor.ReadSandboxRequest()
	if err != nil {
		return err
	}
	if err := applyRlimits(req); err != nil {
		return err
	}
	cmdPath, err := exec.LookPath(req.Args[0])
	if err != nil {
		return fmt.Errorf("resolve command: %w", err)
	}
	if req.Seccomp && len(req.SeccompDeny) > 0 {
		if err := applySeccomp(req.SeccompDeny); err != nil {
			return err
		}
	}
	return unix.Exec(cmdPath, req.Args, os.Environ())
}

func applyRlimits(req executor.SandboxRequest) error {
	if err := setLimit(unix.RLIMIT_CORE, 0); err != nil {
		return fmt.Errorf("set rlimit core: %w", err)
	}
	if req.AddressLimitBytes > 0 {
		if err := setLimit(unix.RLIMIT_AS, uint64(req.AddressLimitBytes)); err != nil {
			return fmt.Errorf("set rlimit as: %w", err)
		}
	}
	if req.CPUSeconds > 0 {
		// Soft limit delivers SIGXCPU, hard limit one second later SIGKILL.
		lim := &unix.Rlimit{Cur: uint64(req.CPUSeconds), Max: uint64(req.CPUSeconds) + 1}
		if err := unix.Setrlimit(unix.RLIMIT_CPU, lim); err != nil {
			return fmt.Errorf("set rlimit cpu: %w", err)
		}
	}
	if req.FileSizeBytes > 0 {
		if err := setLimit(unix.RLIMIT_FSIZE, uint64(req.FileSizeBytes)); err != nil {
			return fmt.Errorf("set rlimit fsize: %w", err)
		}
	}
	return nil
}

func setLimit(resource int, value uint64) error {
	return unix.Setrlimit(resource, &unix.Rlimit{Cur: value, Max: value})
}

// applySeccomp loads an allow-by-default filter that kills the process on
// any of the denied syscalls. Names unknown to this kernel are skipped.
func applySeccomp(deny []string) error {
	filter, err := seccomp.NewFilter(seccomp.ActAllow)
	if err != nil {
		return fmt.Errorf("create seccomp filter: %w", err)
	}
	defer filter.Release()
	for _, name := range deny {
		call, err := seccomp.GetSyscallFromName(name)
		if err != nil {
			continue
		}
		if err := filter.AddRule(call, seccomp.ActKillProcess); err != nil {
			return fmt.Errorf("add seccomp rule %s: %w", name, err)
		}
	}
	if err := unix.Prctl(unix.PR_SET_NO_NEW_PRIVS, 1, 0, 0, 0); err != nil {
		return fmt.Errorf("set no new privs: %w", err)
	}
	if err := filter.Load(); err != nil {
		return fmt.Errorf("load seccomp filter: %w", err)
	}
	return nil
}
