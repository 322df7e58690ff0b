//go:build windows

package agent

import (
	"context"
	"fmt"
)

// MouseVerifier documents the Windows contract per spec.md §4.10: a
// WH_MOUSE_LL low-level hook on the same dedicated message-pump thread as
// KeyboardVerifier. See that type's doc comment for the scope boundary.
type MouseVerifier struct{}

func (v MouseVerifier) Verify(ctx context.Context, evt Event) (Result, error) {
	return Result{}, fmt.Errorf("agent: windows WH_MOUSE_LL verification not wired in this core (contract only, see spec.md §4.10)")
}
