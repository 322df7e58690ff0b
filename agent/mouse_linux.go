//go:build linux

package agent

import (
	"context"
	"fmt"
)

// MouseVerifier watches Linux evdev for a button press/move matching
// evt.Data["button"] ("left"|"right"|"middle"|"move") and optional
// coordinates, per spec.md §4.10. See KeyboardVerifier's doc comment for
// why the evdev read loop itself is out of this module's scope.
type MouseVerifier struct {
	EventDevicePaths []string
}

func (v MouseVerifier) Verify(ctx context.Context, evt Event) (Result, error) {
	return Result{}, fmt.Errorf("agent: linux evdev mouse verification not wired in this core (contract only, see spec.md §4.10)")
}
