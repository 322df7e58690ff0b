// Package spice implements the SPICE remote-display wire protocol at the
// framing level per spec.md §4.7/§6.5: per-channel TCP link handshake,
// packed little-endian data headers, keyboard/mouse input messages, and
// USB-redirection framing. Codec-level work (QUIC/LZ/GLZ/VP8/H.264 decode,
// RSA-OAEP password encryption, libusb integration) is explicitly out of
// scope; this package surfaces the channel and message boundaries only.
//
// No third-party SPICE client exists in the Go ecosystem or in the example
// pack, so this package is necessarily standard-library (net,
// encoding/binary) — see DESIGN.md for the explicit justification spec.md
// requires before falling back to stdlib.
package spice

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Magic is the SPICE link header magic, "REDQ" (not "SPIC" — matches the
// real wire protocol's historical magic value).
var Magic = [4]byte{'R', 'E', 'D', 'Q'}

const (
	LinkHeaderSize = 16 // magic(4) + major(4) + minor(4) + size(4)
	majorVersion   = 2
	minorVersion   = 2
)

// LinkHeader is SpiceLinkHeader per spec.md §4.7 step 1. All fields
// little-endian.
type LinkHeader struct {
	Magic   [4]byte
	Major   uint32
	Minor   uint32
	Size    uint32 // sizeof(LinkMess) + capability bytes
}

func NewLinkHeader(bodySize uint32) LinkHeader {
	return LinkHeader{Magic: Magic, Major: majorVersion, Minor: minorVersion, Size: bodySize}
}

// Encode writes the packed little-endian representation. Fields are copied
// into locals before use per spec.md §9 ("avoid taking references into
// packed layouts"); binary.Write already does this since it serializes
// struct fields by value.
func (h LinkHeader) Encode() []byte {
	buf := new(bytes.Buffer)
	buf.Write(h.Magic[:])
	binary.Write(buf, binary.LittleEndian, h.Major)
	binary.Write(buf, binary.LittleEndian, h.Minor)
	binary.Write(buf, binary.LittleEndian, h.Size)
	return buf.Bytes()
}

// DecodeLinkHeader parses wire into a LinkHeader.
func DecodeLinkHeader(wire []byte) (LinkHeader, error) {
	if len(wire) < LinkHeaderSize {
		return LinkHeader{}, fmt.Errorf("spice: short link header (%d bytes)", len(wire))
	}
	var h LinkHeader
	copy(h.Magic[:], wire[0:4])
	h.Major = binary.LittleEndian.Uint32(wire[4:8])
	h.Minor = binary.LittleEndian.Uint32(wire[8:12])
	h.Size = binary.LittleEndian.Uint32(wire[12:16])
	if h.Magic != Magic {
		return LinkHeader{}, fmt.Errorf("spice: bad magic %v", h.Magic)
	}
	return h, nil
}

// ChannelType identifies one of the SPICE sub-channels, per spec.md §4.7.
type ChannelType uint8

const (
	ChannelMain ChannelType = iota + 1
	ChannelDisplay
	ChannelInputs
	ChannelCursor
	ChannelPlayback
	ChannelRecord
	ChannelTunnel
	ChannelSmartCard
	ChannelUSBRedir
	ChannelPort
	ChannelWebDav
)

// LinkMess is SpiceLinkMess per spec.md §4.7 step 2.
type LinkMess struct {
	ConnectionID  uint32
	ChannelType   uint8
	ChannelID     uint8
	NumCommonCaps uint32
	NumChannelCaps uint32
	CapsOffset    uint32
	CommonCaps    []uint32
	ChannelCaps   []uint32
}

func (m LinkMess) Encode() []byte {
	buf := new(bytes.Buffer)
	binary.Write(buf, binary.LittleEndian, m.ConnectionID)
	buf.WriteByte(m.ChannelType)
	buf.WriteByte(m.ChannelID)
	binary.Write(buf, binary.LittleEndian, uint32(len(m.CommonCaps)))
	binary.Write(buf, binary.LittleEndian, uint32(len(m.ChannelCaps)))
	binary.Write(buf, binary.LittleEndian, uint32(18)) // caps start right after this fixed header
	for _, c := range m.CommonCaps {
		binary.Write(buf, binary.LittleEndian, c)
	}
	for _, c := range m.ChannelCaps {
		binary.Write(buf, binary.LittleEndian, c)
	}
	return buf.Bytes()
}

// LinkReply is SpiceLinkReply per spec.md §4.7 step 3.
type LinkReply struct {
	Error          uint32
	PubKey         [162]byte
	NumCommonCaps  uint32
	NumChannelCaps uint32
	CapsOffset     uint32
	CommonCaps     []uint32
	ChannelCaps    []uint32
}

const linkReplyFixedSize = 4 + 162 + 4 + 4 + 4

func DecodeLinkReply(wire []byte) (LinkReply, error) {
	if len(wire) < linkReplyFixedSize {
		return LinkReply{}, fmt.Errorf("spice: short link reply (%d bytes)", len(wire))
	}
	var r LinkReply
	r.Error = binary.LittleEndian.Uint32(wire[0:4])
	copy(r.PubKey[:], wire[4:166])
	r.NumCommonCaps = binary.LittleEndian.Uint32(wire[166:170])
	r.NumChannelCaps = binary.LittleEndian.Uint32(wire[170:174])
	r.CapsOffset = binary.LittleEndian.Uint32(wire[174:178])

	off := linkReplyFixedSize
	for i := uint32(0); i < r.NumCommonCaps && off+4 <= len(wire); i++ {
		r.CommonCaps = append(r.CommonCaps, binary.LittleEndian.Uint32(wire[off:off+4]))
		off += 4
	}
	for i := uint32(0); i < r.NumChannelCaps && off+4 <= len(wire); i++ {
		r.ChannelCaps = append(r.ChannelCaps, binary.LittleEndian.Uint32(wire[off:off+4]))
		off += 4
	}
	return r, nil
}

// AuthTicketSize is the fixed RSA ticket size per spec.md §4.7 step 4.
const AuthTicketSize = 128

// ZeroAuthTicket is sent when no password is configured.
func ZeroAuthTicket() [AuthTicketSize]byte { return [AuthTicketSize]byte{} }

// PasswordEncryptor RSA-OAEP-encrypts a plaintext password against the
// server's public key. Real encryption is external to this core per
// spec.md §4.7/§9 — callers MUST supply one when a password is configured.
type PasswordEncryptor func(pubKey [162]byte, password string) ([AuthTicketSize]byte, error)

// ErrAuthCallbackRequired is returned when a password is configured but no
// PasswordEncryptor was provided, per spec.md §9's open question.
var ErrAuthCallbackRequired = fmt.Errorf("spice: password configured but no PasswordEncryptor provided")

// DataHeaderSize is SpiceDataHeader's packed size per spec.md §6.5.
const DataHeaderSize = 18

// DataHeader frames every post-handshake message.
type DataHeader struct {
	Serial  uint64
	Type    uint16
	Size    uint32
	SubList uint32
}

func (h DataHeader) Encode() []byte {
	buf := make([]byte, DataHeaderSize)
	binary.LittleEndian.PutUint64(buf[0:8], h.Serial)
	binary.LittleEndian.PutUint16(buf[8:10], h.Type)
	binary.LittleEndian.PutUint32(buf[10:14], h.Size)
	binary.LittleEndian.PutUint32(buf[14:18], h.SubList)
	return buf
}

func DecodeDataHeader(wire []byte) (DataHeader, error) {
	if len(wire) < DataHeaderSize {
		return DataHeader{}, fmt.Errorf("spice: short data header (%d bytes)", len(wire))
	}
	return DataHeader{
		Serial:  binary.LittleEndian.Uint64(wire[0:8]),
		Type:    binary.LittleEndian.Uint16(wire[8:10]),
		Size:    binary.LittleEndian.Uint32(wire[10:14]),
		SubList: binary.LittleEndian.Uint32(wire[14:18]),
	}, nil
}
