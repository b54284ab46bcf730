package executor

import (
	"encoding/json"
	"fmt"
	"os"
)

// SandboxRequestFD is the descriptor on which sandbox-init reads its request.
// Stdin stays free for the program's input.
const SandboxRequestFD = 3

// addressLimitSlack is added to RLIMIT_AS because interpreters map shared
// libraries and arenas well beyond their resident size.
const addressLimitSlack int64 = 64 << 20

// SandboxRequest tells sandbox-init which limits to apply before exec'ing the program.
type SandboxRequest struct {
	Args              []string `json:"args"`
	AddressLimitBytes int64    `json:"address_limit_bytes,omitempty"`
	CPUSeconds        int64    `json:"cpu_seconds,omitempty"`
	FileSizeBytes     int64    `json:"file_size_bytes,omitempty"`
	Seccomp           bool     `json:"seccomp,omitempty"`
	SeccompDeny       []string `json:"seccomp_deny,omitempty"`
}

// ReadSandboxRequest decodes the request from SandboxRequestFD.
func ReadSandboxRequest() (SandboxRequest, error) {
	f := os.NewFile(uintptr(SandboxRequestFD), "sandbox-request")
	if f == nil {
		return SandboxRequest{}, fmt.Errorf("sandbox request descriptor missing")
	}
	defer f.Close()
	var req SandboxRequest
	if err := json.NewDecoder(f).Decode(&req); err != nil {
		return SandboxRequest{}, fmt.Errorf("decode sandbox request: %w", err)
	}
	if len(req.Args) == 0 {
		return SandboxRequest{}, fmt.Errorf("sandbox request has no command")
	}
	return req, nil
}

func (e *LocalExecutor) sandboxRequest(p process) SandboxRequest {
	req := SandboxRequest{
		Args:          p.args,
		FileSizeBytes: e.cfg.StdoutMaxBytes,
		Seccomp:       e.cfg.EnableSeccomp,
		SeccompDeny:   e.cfg.SeccompDeny,
	}
	if p.memoryLimitKB > 0 && !p.skipAddressLimit && e.cfg.CgroupRoot == "" {
		req.AddressLimitBytes = p.memoryLimitKB*1024 + addressLimitSlack
	}
	if p.timeLimit > 0 {
		req.CPUSeconds = int64(p.timeLimit.Seconds()) + 1
	}
	return req
}

// requestPipe writes req into a pipe and returns the read end for the child.
func requestPipe(req SandboxRequest) (*os.File, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	r, w, err := os.Pipe()
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(data); err != nil {
		r.Close()
		w.Close()
		return nil, err
	}
	if err := w.Close(); err != nil {
		r.Close()
		return nil, err
	}
	return r, nil
}
