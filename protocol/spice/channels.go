package spice

import (
	"encoding/binary"
	"fmt"
)

// Message type IDs for the channels this package drives, per spec.md §6.5.
// Common message types (every channel) start at 1; per-channel types start
// at 101 (matching the real protocol's SPICE_MSG_MAIN_FIRST etc. convention
// closely enough to keep the numbering self-consistent within this package).
const (
	MsgCommonMigrate    uint16 = 1
	MsgCommonSetAck     uint16 = 2
	MsgCommonPing       uint16 = 3
	MsgCommonNotify     uint16 = 5

	MsgMainInit          uint16 = 101
	MsgMainChannelsList  uint16 = 102
	MsgMainMouseMode     uint16 = 111
	MsgMainAgentConnected uint16 = 105

	MsgInputsKeyDown   uint16 = 101
	MsgInputsKeyUp     uint16 = 102
	MsgInputsMouseMotion uint16 = 111
	MsgInputsMousePress  uint16 = 112
	MsgInputsMouseRelease uint16 = 113
	MsgInputsKeyScancode uint16 = 104

	MsgDisplayMode     uint16 = 101
	MsgDisplayMark     uint16 = 102
	MsgDisplayInvalList uint16 = 105
)

// MouseMode selects server-tracked vs client-tracked cursor motion, per
// spec.md §4.7.
type MouseMode int

const (
	MouseModeServer MouseMode = iota
	MouseModeClient
)

// ChannelState is the lifecycle of one SPICE sub-channel connection.
type ChannelState int

const (
	ChannelStateLinking ChannelState = iota
	ChannelStateAuthenticating
	ChannelStateReady
	ChannelStateClosed
)

func (s ChannelState) String() string {
	switch s {
	case ChannelStateLinking:
		return "linking"
	case ChannelStateAuthenticating:
		return "authenticating"
	case ChannelStateReady:
		return "ready"
	case ChannelStateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// MainChannelInfo decodes SPICE_MSG_MAIN_INIT: the session id and the
// server's declared mouse mode, among other fields real clients track.
type MainChannelInfo struct {
	SessionID          uint32
	DisplayChannelsHint uint32
	CurrentMouseMode   MouseMode
	AgentConnected     bool
}

// DecodeMainInit parses a MsgMainInit payload. Real SPICE_MSG_MAIN_INIT
// carries more fields (ram sizes, multi-media-time); only the ones this
// core consumes are decoded, per spec.md §4.7's "surface, don't replicate"
// framing note.
func DecodeMainInit(payload []byte) (MainChannelInfo, error) {
	if len(payload) < 12 {
		return MainChannelInfo{}, fmt.Errorf("spice: short main-init payload (%d bytes)", len(payload))
	}
	mode := MouseModeServer
	if binary.LittleEndian.Uint32(payload[8:12]) == 1 {
		mode = MouseModeClient
	}
	return MainChannelInfo{
		SessionID:        binary.LittleEndian.Uint32(payload[0:4]),
		CurrentMouseMode: mode,
	}, nil
}

// KeyEvent is one Inputs-channel key message.
type KeyEvent struct {
	Scancode Scancode
	Down     bool
}

// Encode serializes a KeyEvent to MsgInputsKeyScancode's wire payload: a
// sequence of raw scancode bytes (the SPICE inputs channel sends make/break
// codes directly, not a structured key id).
func (e KeyEvent) Encode() []byte {
	if e.Down {
		return e.Scancode.MakeCode()
	}
	return e.Scancode.BreakCode()
}

// MouseButtonCode identifies a single button for a press/release event, per
// spec.md §4.7: Left=1, Middle=2, Right=3, Up=4 (wheel), Down=5, Side=6,
// Extra=7. Distinct from MouseButtonMask, the buttons_state bitmask — a
// right-click sends button code 3, never the mask bit 1<<2.
type MouseButtonCode uint8

const (
	MouseButtonLeft MouseButtonCode = iota + 1
	MouseButtonMiddle
	MouseButtonRight
	MouseButtonUp
	MouseButtonDown
	MouseButtonSide
	MouseButtonExtra
)

// MouseButtonMask is the buttons_state bitmask of currently held buttons,
// maintained by the caller atomically per spec.md §4.7. One bit per
// MouseButtonCode.
type MouseButtonMask uint8

const (
	MouseButtonMaskLeft MouseButtonMask = 1 << iota
	MouseButtonMaskMiddle
	MouseButtonMaskRight
	MouseButtonMaskUp
	MouseButtonMaskDown
	MouseButtonMaskSide
	MouseButtonMaskExtra
)

// MaskFor returns the buttons_state bit for a given button code.
func (c MouseButtonCode) MaskFor() MouseButtonMask {
	if c < MouseButtonLeft || c > MouseButtonExtra {
		return 0
	}
	return 1 << (c - 1)
}

// MouseMotionEvent is a relative (server mode) or absolute (client mode)
// pointer move.
type MouseMotionEvent struct {
	DX, DY       int32  // relative, server mode
	X, Y         uint32 // absolute, client mode
	ButtonsState MouseButtonMask
}

func (e MouseMotionEvent) encodeRelative() []byte {
	buf := make([]byte, 9)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(e.DX))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(e.DY))
	buf[8] = byte(e.ButtonsState)
	return buf
}

func (e MouseMotionEvent) encodeAbsolute() []byte {
	buf := make([]byte, 11)
	binary.LittleEndian.PutUint32(buf[0:4], e.X)
	binary.LittleEndian.PutUint32(buf[4:8], e.Y)
	binary.LittleEndian.PutUint16(buf[8:10], 0) // display id
	buf[10] = byte(e.ButtonsState)
	return buf
}

// Encode serializes per the channel's active MouseMode.
func (e MouseMotionEvent) Encode(mode MouseMode) []byte {
	if mode == MouseModeClient {
		return e.encodeAbsolute()
	}
	return e.encodeRelative()
}

// MouseButtonEvent is a press or release.
type MouseButtonEvent struct {
	Button       MouseButtonCode
	ButtonsState MouseButtonMask
	Press        bool
}

func (e MouseButtonEvent) Encode() []byte {
	return []byte{byte(e.Button), byte(e.ButtonsState)}
}

// DisplayUpdate is a decoded notification that the framebuffer changed; the
// actual pixel codec (QUIC/LZ/GLZ/VP8/H.264) is out of scope per spec.md
// §9 — this surfaces only the invalidated rectangle.
type DisplayUpdate struct {
	X, Y, Width, Height uint32
}

// DecodeDisplayInvalidateList parses MsgDisplayInvalList's single-rect form.
func DecodeDisplayInvalidateList(payload []byte) (DisplayUpdate, error) {
	if len(payload) < 16 {
		return DisplayUpdate{}, fmt.Errorf("spice: short invalidate-list payload")
	}
	return DisplayUpdate{
		X:      binary.LittleEndian.Uint32(payload[0:4]),
		Y:      binary.LittleEndian.Uint32(payload[4:8]),
		Width:  binary.LittleEndian.Uint32(payload[8:12]),
		Height: binary.LittleEndian.Uint32(payload[12:16]),
	}, nil
}
