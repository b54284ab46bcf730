//go:build linux

package executor

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// createRunCgroup makes a fresh child cgroup under root. Each run gets its
// own directory, so concurrent runs never share counters or kill files.
func createRunCgroup(root string) (string, func(), error) {
	path, err := os.MkdirTemp(root, "run-")
	if err != nil {
		return "", func() {}, err
	}
	// rmdir only succeeds once every member has exited.
	cleanup := func() {
		for i := 0; i < 10; i++ {
			if err := os.Remove(path); err == nil || os.IsNotExist(err) {
				return
			}
			time.Sleep(10 * time.Millisecond)
		}
	}
	return path, cleanup, nil
}

func applyCgroupLimits(path string, memoryLimitKB, maxPIDs int64) error {
	if memoryLimitKB > 0 {
		if err := writeCgroupValue(path, "memory.max", strconv.FormatInt(memoryLimitKB*1024, 10)); err != nil {
			return err
		}
		// Best effort: swap would otherwise hide memory overuse.
		_ = writeCgroupValue(path, "memory.swap.max", "0")
	}
	if maxPIDs > 0 {
		if err := writeCgroupValue(path, "pids.max", strconv.FormatInt(maxPIDs, 10)); err != nil {
			return err
		}
	}
	return nil
}

// openCgroupDir returns a directory handle for SysProcAttr.CgroupFD, so the
// child is born inside the cgroup (clone3, Linux 5.7+).
func openCgroupDir(path string) (*os.File, error) {
	return os.Open(path)
}

func killCgroup(path string) error {
	return writeCgroupValue(path, "cgroup.kill", "1")
}

func wasOomKilled(path string) bool {
	if path == "" {
		return false
	}
	data, err := os.ReadFile(filepath.Join(path, "memory.events"))
	if err != nil {
		return false
	}
	for _, line := range strings.Split(string(data), "\n") {
		fields := strings.Fields(line)
		if len(fields) == 2 && fields[0] == "oom_kill" {
			n, _ := strconv.ParseInt(fields[1], 10, 64)
			return n > 0
		}
	}
	return false
}

// memoryPeakKB prefers the cgroup high-water mark and falls back to the
// child's max resident set size.
func memoryPeakKB(path string, state *os.ProcessState) int64 {
	if path != "" {
		if v, err := readCgroupInt(path, "memory.peak"); err == nil && v > 0 {
			return v / 1024
		}
	}
	if state == nil {
		return 0
	}
	if usage, ok := state.SysUsage().(*syscall.Rusage); ok {
		return usage.Maxrss
	}
	return 0
}

func readCgroupInt(path, name string) (int64, error) {
	data, err := os.ReadFile(filepath.Join(path, name))
	if err != nil {
		return 0, err
	}
	return strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
}

func writeCgroupValue(path, name, value string) error {
	return os.WriteFile(filepath.Join(path, name), []byte(value), 0o640)
}
