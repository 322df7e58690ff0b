//go:build windows

package agent

import (
	"context"
	"fmt"
)

// KeyboardVerifier documents the Windows contract per spec.md §4.10: a
// WH_KEYBOARD_LL low-level hook feeding a lazy-initialized event queue,
// drained from a dedicated message-pump thread (hooks must run on the
// thread that installed them, which this package's goroutine scheduler
// does not guarantee without one). Installing the hook and running the
// message pump is guest-OS input-device introspection, out of this
// module's scope per spec.md §1.
type KeyboardVerifier struct{}

func (v KeyboardVerifier) Verify(ctx context.Context, evt Event) (Result, error) {
	return Result{}, fmt.Errorf("agent: windows WH_KEYBOARD_LL verification not wired in this core (contract only, see spec.md §4.10)")
}
