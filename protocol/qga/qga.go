// Package qga wraps libvirt's qemu-agent-command RPC (the blocking
// virDomainQemuAgentCommand call, dispatched through the shared
// transport.workerpool so it never pins a scheduler goroutine) per
// spec.md §4.5/§6.3.
package qga

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	libvirt "github.com/digitalocean/go-libvirt"
	"github.com/wooveep/ocloudview-atp/transport"
)

// DefaultTimeout is the default per-call timeout, per spec.md §4.5.
const DefaultTimeout = 60 * time.Second

// pollInterval is how often exec_and_wait polls exec-status.
const pollInterval = 500 * time.Millisecond

// ErrGuestAgentUnreachable is returned when guest-ping fails.
var ErrGuestAgentUnreachable = errors.New("qga: guest agent unreachable")

// CommandFailedError reports a non-zero guest command exit.
type CommandFailedError struct {
	ExitCode int
}

func (e *CommandFailedError) Error() string {
	return fmt.Sprintf("qga: command failed, exit code %d", e.ExitCode)
}

// Session wraps one domain's QGA access via a transport.Connection.
type Session struct {
	conn   *transport.Connection
	domain libvirt.Domain
}

// NewSession binds a QGA session to dom over conn. dom is resolved by the
// caller (typically via LibvirtCapable.LookupDomainByName).
func NewSession(conn *transport.Connection, dom libvirt.Domain) *Session {
	return &Session{conn: conn, domain: dom}
}

func (s *Session) agentCommand(ctx context.Context, cmd string, args map[string]any, timeout time.Duration) (json.RawMessage, error) {
	req := struct {
		Execute   string         `json:"execute"`
		Arguments map[string]any `json:"arguments,omitempty"`
	}{Execute: cmd, Arguments: args}

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	result, err := transport.WithSession(ctx, s.conn, func(sess transport.Session) (string, error) {
		lc, ok := transport.AsLibvirtCapable(sess)
		if !ok {
			return "", fmt.Errorf("qga: session does not support libvirt RPC")
		}
		return lc.QemuAgentCommand(s.domain, string(payload), int32(timeout/time.Second))
	})
	if err != nil {
		return nil, err
	}

	var resp struct {
		Return json.RawMessage `json:"return"`
	}
	if err := json.Unmarshal([]byte(result), &resp); err != nil {
		return nil, fmt.Errorf("qga: decode response: %w", err)
	}
	return resp.Return, nil
}

// Ping issues guest-ping; a non-nil error means the agent is unreachable.
func (s *Session) Ping(ctx context.Context) error {
	_, err := s.agentCommand(ctx, "guest-ping", nil, DefaultTimeout)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrGuestAgentUnreachable, err)
	}
	return nil
}

// GuestExecCommand describes a guest-exec request.
type GuestExecCommand struct {
	Path             string
	Args             []string
	Env              []string
	CaptureOutput    bool
	InputData        []byte
}

// Exec issues guest-exec and returns the spawned PID.
func (s *Session) Exec(ctx context.Context, cmd GuestExecCommand) (int, error) {
	args := map[string]any{
		"path":           cmd.Path,
		"arg":            cmd.Args,
		"capture-output": cmd.CaptureOutput,
	}
	if len(cmd.Env) > 0 {
		args["env"] = cmd.Env
	}
	if len(cmd.InputData) > 0 {
		args["input-data"] = base64.StdEncoding.EncodeToString(cmd.InputData)
	}

	raw, err := s.agentCommand(ctx, "guest-exec", args, DefaultTimeout)
	if err != nil {
		return 0, err
	}

	var resp struct {
		PID int `json:"pid"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return 0, err
	}
	return resp.PID, nil
}

// ExecStatus is the decoded guest-exec-status result, per spec.md §4.5.
type ExecStatus struct {
	Exited      bool
	ExitCode    int
	Signal      int
	Stdout      []byte
	Stderr      []byte
	OutTruncated bool
	ErrTruncated bool
}

// ExecStatus polls guest-exec-status for pid.
func (s *Session) ExecStatus(ctx context.Context, pid int) (ExecStatus, error) {
	raw, err := s.agentCommand(ctx, "guest-exec-status", map[string]any{"pid": pid}, DefaultTimeout)
	if err != nil {
		return ExecStatus{}, err
	}

	var resp struct {
		Exited       bool   `json:"exited"`
		ExitCode     int    `json:"exitcode"`
		Signal       int    `json:"signal"`
		OutData      string `json:"out-data"`
		ErrData      string `json:"err-data"`
		OutTruncated bool   `json:"out-truncated"`
		ErrTruncated bool   `json:"err-truncated"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return ExecStatus{}, err
	}

	out, _ := base64.StdEncoding.DecodeString(resp.OutData)
	errb, _ := base64.StdEncoding.DecodeString(resp.ErrData)

	return ExecStatus{
		Exited:       resp.Exited,
		ExitCode:     resp.ExitCode,
		Signal:       resp.Signal,
		Stdout:       out,
		Stderr:       errb,
		OutTruncated: resp.OutTruncated,
		ErrTruncated: resp.ErrTruncated,
	}, nil
}

// ExecAndWait spawns cmd and polls ExecStatus every 500ms until exited, or
// ctx is cancelled. Cancellation is observed between polls (≤1 tick of
// latency), per spec.md §8.3.
func (s *Session) ExecAndWait(ctx context.Context, cmd GuestExecCommand) (ExecStatus, error) {
	pid, err := s.Exec(ctx, cmd)
	if err != nil {
		return ExecStatus{}, err
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		status, err := s.ExecStatus(ctx, pid)
		if err != nil {
			return ExecStatus{}, err
		}
		if status.Exited {
			return status, nil
		}

		select {
		case <-ctx.Done():
			return ExecStatus{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

// ExecShell wraps s in the platform shell and runs it with ExecAndWait.
func (s *Session) ExecShell(ctx context.Context, shellCmd string, windows bool) (ExecStatus, error) {
	var cmd GuestExecCommand
	if windows {
		cmd = GuestExecCommand{Path: "cmd", Args: []string{"/C", shellCmd}, CaptureOutput: true}
	} else {
		cmd = GuestExecCommand{Path: "/bin/sh", Args: []string{"-c", shellCmd}, CaptureOutput: true}
	}
	return s.ExecAndWait(ctx, cmd)
}

// FileHandle is an opaque guest-file-open handle.
type FileHandle int64

// FileOpen opens path in mode ("r", "w", "a", ...) per guest-file-open.
func (s *Session) FileOpen(ctx context.Context, path, mode string) (FileHandle, error) {
	raw, err := s.agentCommand(ctx, "guest-file-open", map[string]any{"path": path, "mode": mode}, DefaultTimeout)
	if err != nil {
		return 0, err
	}
	var handle int64
	if err := json.Unmarshal(raw, &handle); err != nil {
		return 0, err
	}
	return FileHandle(handle), nil
}

// FileRead reads up to size bytes (0 means the agent's default chunk).
func (s *Session) FileRead(ctx context.Context, h FileHandle, size int) ([]byte, bool, error) {
	args := map[string]any{"handle": int64(h)}
	if size > 0 {
		args["count"] = size
	}
	raw, err := s.agentCommand(ctx, "guest-file-read", args, DefaultTimeout)
	if err != nil {
		return nil, false, err
	}
	var resp struct {
		Count int    `json:"count"`
		BufB64 string `json:"buf-b64"`
		EOF    bool   `json:"eof"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, false, err
	}
	data, err := base64.StdEncoding.DecodeString(resp.BufB64)
	return data, resp.EOF, err
}

// FileWrite writes data to h.
func (s *Session) FileWrite(ctx context.Context, h FileHandle, data []byte) (int, error) {
	raw, err := s.agentCommand(ctx, "guest-file-write", map[string]any{
		"handle":  int64(h),
		"buf-b64": base64.StdEncoding.EncodeToString(data),
	}, DefaultTimeout)
	if err != nil {
		return 0, err
	}
	var resp struct {
		Count int `json:"count"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return 0, err
	}
	return resp.Count, nil
}

// FileClose closes h.
func (s *Session) FileClose(ctx context.Context, h FileHandle) error {
	_, err := s.agentCommand(ctx, "guest-file-close", map[string]any{"handle": int64(h)}, DefaultTimeout)
	return err
}

// ReadFile is the FileOpen/FileRead/FileClose convenience wrapper.
func (s *Session) ReadFile(ctx context.Context, path string) ([]byte, error) {
	h, err := s.FileOpen(ctx, path, "r")
	if err != nil {
		return nil, err
	}
	defer s.FileClose(ctx, h)

	var out []byte
	for {
		chunk, eof, err := s.FileRead(ctx, h, 65536)
		if err != nil {
			return nil, err
		}
		out = append(out, chunk...)
		if eof || len(chunk) == 0 {
			break
		}
	}
	return out, nil
}

// WriteFile is the FileOpen/FileWrite/FileClose convenience wrapper.
func (s *Session) WriteFile(ctx context.Context, path string, data []byte) error {
	h, err := s.FileOpen(ctx, path, "w")
	if err != nil {
		return err
	}
	defer s.FileClose(ctx, h)

	_, err = s.FileWrite(ctx, h, data)
	return err
}
