package spice

import "fmt"

// Scancode is a PC/AT Set-1 make code as sent over the Inputs channel, per
// spec.md §4.7/§6.5. Break codes are the make code with the high bit set
// (0x80), or for extended (0xe0-prefixed) keys, an extended break.
type Scancode struct {
	Extended bool
	Code     byte
}

// MakeCode returns the raw make-code bytes to send (1 or 2 bytes for
// extended keys).
func (s Scancode) MakeCode() []byte {
	if s.Extended {
		return []byte{0xe0, s.Code}
	}
	return []byte{s.Code}
}

// BreakCode returns the raw break-code bytes.
func (s Scancode) BreakCode() []byte {
	if s.Extended {
		return []byte{0xe0, s.Code | 0x80}
	}
	return []byte{s.Code | 0x80}
}

// scancodeTable maps a logical key name to its Set-1 scancode. Populated
// below for letters, digits, function keys, punctuation, and modifiers.
var scancodeTable = map[string]Scancode{
	"esc": {Code: 0x01}, "1": {Code: 0x02}, "2": {Code: 0x03}, "3": {Code: 0x04},
	"4": {Code: 0x05}, "5": {Code: 0x06}, "6": {Code: 0x07}, "7": {Code: 0x08},
	"8": {Code: 0x09}, "9": {Code: 0x0a}, "0": {Code: 0x0b}, "minus": {Code: 0x0c},
	"equal": {Code: 0x0d}, "backspace": {Code: 0x0e}, "tab": {Code: 0x0f},
	"q": {Code: 0x10}, "w": {Code: 0x11}, "e": {Code: 0x12}, "r": {Code: 0x13},
	"t": {Code: 0x14}, "y": {Code: 0x15}, "u": {Code: 0x16}, "i": {Code: 0x17},
	"o": {Code: 0x18}, "p": {Code: 0x19}, "leftbrace": {Code: 0x1a}, "rightbrace": {Code: 0x1b},
	"enter": {Code: 0x1c}, "leftctrl": {Code: 0x1d},
	"a": {Code: 0x1e}, "s": {Code: 0x1f}, "d": {Code: 0x20}, "f": {Code: 0x21},
	"g": {Code: 0x22}, "h": {Code: 0x23}, "j": {Code: 0x24}, "k": {Code: 0x25},
	"l": {Code: 0x26}, "semicolon": {Code: 0x27}, "apostrophe": {Code: 0x28},
	"grave": {Code: 0x29}, "leftshift": {Code: 0x2a}, "backslash": {Code: 0x2b},
	"z": {Code: 0x2c}, "x": {Code: 0x2d}, "c": {Code: 0x2e}, "v": {Code: 0x2f},
	"b": {Code: 0x30}, "n": {Code: 0x31}, "m": {Code: 0x32}, "comma": {Code: 0x33},
	"dot": {Code: 0x34}, "slash": {Code: 0x35}, "rightshift": {Code: 0x36},
	"kpasterisk": {Code: 0x37}, "leftalt": {Code: 0x38}, "space": {Code: 0x39},
	"capslock": {Code: 0x3a},
	"f1": {Code: 0x3b}, "f2": {Code: 0x3c}, "f3": {Code: 0x3d}, "f4": {Code: 0x3e},
	"f5": {Code: 0x3f}, "f6": {Code: 0x40}, "f7": {Code: 0x41}, "f8": {Code: 0x42},
	"f9": {Code: 0x43}, "f10": {Code: 0x44}, "numlock": {Code: 0x45}, "scrolllock": {Code: 0x46},
	"f11": {Code: 0x57}, "f12": {Code: 0x58},

	"rightctrl": {Extended: true, Code: 0x1d}, "rightalt": {Extended: true, Code: 0x38},
	"home": {Extended: true, Code: 0x47}, "up": {Extended: true, Code: 0x48},
	"pageup": {Extended: true, Code: 0x49}, "left": {Extended: true, Code: 0x4b},
	"right": {Extended: true, Code: 0x4d}, "end": {Extended: true, Code: 0x4f},
	"down": {Extended: true, Code: 0x50}, "pagedown": {Extended: true, Code: 0x51},
	"insert": {Extended: true, Code: 0x52}, "delete": {Extended: true, Code: 0x53},
	"leftmeta": {Extended: true, Code: 0x5b}, "rightmeta": {Extended: true, Code: 0x5c},
	"kpenter": {Extended: true, Code: 0x1c}, "kpslash": {Extended: true, Code: 0x35},
}

// shiftedPunctuation maps symbols typed with Shift held to their unshifted
// base key, per the standard US QWERTY layout.
var shiftedPunctuation = map[rune]string{
	'!': "1", '@': "2", '#': "3", '$': "4", '%': "5", '^': "6", '&': "7",
	'*': "8", '(': "9", ')': "0", '_': "minus", '+': "equal",
	'{': "leftbrace", '}': "rightbrace", ':': "semicolon", '"': "apostrophe",
	'~': "grave", '|': "backslash", '<': "comma", '>': "dot", '?': "slash",
}

// unshiftedPunctuation maps symbols typed without Shift to their base key,
// per the standard US QWERTY layout.
var unshiftedPunctuation = map[rune]string{
	'-': "minus", '=': "equal", '[': "leftbrace", ']': "rightbrace",
	';': "semicolon", '\'': "apostrophe", '`': "grave", '\\': "backslash",
	',': "comma", '.': "dot", '/': "slash",
}

// LookupKey resolves a logical key name to its Scancode.
func LookupKey(name string) (Scancode, error) {
	sc, ok := scancodeTable[name]
	if !ok {
		return Scancode{}, fmt.Errorf("spice: unknown key %q", name)
	}
	return sc, nil
}

// KeySequence is one or more scancodes that must be sent together (e.g. a
// shifted character wraps its base key in leftshift make/break).
type KeySequence struct {
	Make  [][]byte
	Break [][]byte
}

// ScancodesForRune resolves a single character typed via SendText to the
// scancode sequence needed to produce it, synthesizing the Shift wrapper
// for uppercase letters and shifted punctuation per spec.md §4.7.
func ScancodesForRune(r rune) (KeySequence, error) {
	var key string
	var needsShift bool

	switch {
	case r >= 'a' && r <= 'z':
		key = string(r)
	case r >= 'A' && r <= 'Z':
		key = string(r + ('a' - 'A'))
		needsShift = true
	case r >= '0' && r <= '9':
		key = string(r)
	case r == ' ':
		key = "space"
	case r == '\n':
		key = "enter"
	case r == '\t':
		key = "tab"
	default:
		if base, ok := unshiftedPunctuation[r]; ok {
			key = base
		} else if base, ok := shiftedPunctuation[r]; ok {
			key = base
			needsShift = true
		} else {
			return KeySequence{}, fmt.Errorf("spice: no scancode mapping for rune %q", r)
		}
	}

	sc, err := LookupKey(key)
	if err != nil {
		return KeySequence{}, err
	}
	shift, _ := LookupKey("leftshift")

	var seq KeySequence
	if needsShift {
		seq.Make = append(seq.Make, shift.MakeCode())
	}
	seq.Make = append(seq.Make, sc.MakeCode())
	seq.Break = append(seq.Break, sc.BreakCode())
	if needsShift {
		seq.Break = append(seq.Break, shift.BreakCode())
	}
	return seq, nil
}
