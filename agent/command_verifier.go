package agent

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// CommandVerifier spawns the requested command and compares its exit code
// and/or stdout substring against the event data, per spec.md §4.10. This
// is the one verifier implementable with only os/exec — keyboard/mouse
// verification needs platform input-device introspection, specified as a
// contract in keyboard_linux.go / mouse_linux.go (and their _windows.go
// counterparts) rather than implemented here.
type CommandVerifier struct{}

func (CommandVerifier) Verify(ctx context.Context, evt Event) (Result, error) {
	path, _ := evt.Data["command"].(string)
	if path == "" {
		return Result{}, fmt.Errorf("agent: command verifier: missing \"command\" field")
	}

	var args []string
	if rawArgs, ok := evt.Data["args"].([]any); ok {
		for _, a := range rawArgs {
			if s, ok := a.(string); ok {
				args = append(args, s)
			}
		}
	}

	wantExitCode, hasExitCode := evt.Data["expect_exit_code"].(float64)
	wantSubstring, _ := evt.Data["expect_stdout_contains"].(string)

	timeoutCtx, cancel := context.WithTimeout(ctx, matchTimeout(evt))
	defer cancel()

	cmd := exec.CommandContext(timeoutCtx, path, args...)
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	runErr := cmd.Run()

	exitCode := 0
	if runErr != nil {
		if exitErr, ok := runErr.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			return Result{}, fmt.Errorf("agent: command verifier: run %s: %w", path, runErr)
		}
	}

	verified := true
	if hasExitCode && exitCode != int(wantExitCode) {
		verified = false
	}
	if wantSubstring != "" && !strings.Contains(stdout.String(), wantSubstring) {
		verified = false
	}

	return Result{
		Verified: verified,
		Detail: map[string]any{
			"exit_code": exitCode,
			"stdout":    stdout.String(),
		},
	}, nil
}
