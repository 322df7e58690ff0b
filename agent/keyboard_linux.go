//go:build linux

package agent

import (
	"context"
	"fmt"
)

// KeyboardVerifier watches Linux evdev input-event devices for a key press
// matching evt.Data["key"] (case-insensitive), per spec.md §4.10. Actual
// evdev file-descriptor polling is guest-OS input-device introspection,
// explicitly out of this module's scope per spec.md §1 — this stub
// documents the contract a real implementation fulfills: it MUST watch
// /dev/input/event* for EV_KEY press events and resolve the scancode back
// to a key name using the same logical names protocol/spice's scancode
// table uses, so a single event vocabulary spans both injection and
// verification.
type KeyboardVerifier struct {
	// EventDevicePaths lists the /dev/input/event* nodes to watch. A real
	// implementation discovers these via udev or a glob at startup.
	EventDevicePaths []string
}

func (v KeyboardVerifier) Verify(ctx context.Context, evt Event) (Result, error) {
	return Result{}, fmt.Errorf("agent: linux evdev keyboard verification not wired in this core (contract only, see spec.md §4.10)")
}
