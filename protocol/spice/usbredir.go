package spice

import (
	"encoding/binary"
	"fmt"
)

// USBDeviceID identifies a physical USB device by its descriptor ids, the
// same key spec.md §4.7's device allow/block-list filters on.
type USBDeviceID struct {
	VendorID  uint16
	ProductID uint16
}

func (id USBDeviceID) String() string {
	return fmt.Sprintf("%04x:%04x", id.VendorID, id.ProductID)
}

// DeviceFilterMode selects allow-list or block-list semantics.
type DeviceFilterMode int

const (
	FilterModeAllowAll DeviceFilterMode = iota
	FilterModeAllowList
	FilterModeBlockList
)

// DeviceFilter decides whether a USB device may be redirected, per
// spec.md §4.7's usbredir filtering requirement.
type DeviceFilter struct {
	Mode DeviceFilterMode
	List map[USBDeviceID]struct{}
}

// NewAllowListFilter permits only the listed devices.
func NewAllowListFilter(ids ...USBDeviceID) *DeviceFilter {
	return newListFilter(FilterModeAllowList, ids)
}

// NewBlockListFilter permits everything except the listed devices.
func NewBlockListFilter(ids ...USBDeviceID) *DeviceFilter {
	return newListFilter(FilterModeBlockList, ids)
}

func newListFilter(mode DeviceFilterMode, ids []USBDeviceID) *DeviceFilter {
	f := &DeviceFilter{Mode: mode, List: make(map[USBDeviceID]struct{}, len(ids))}
	for _, id := range ids {
		f.List[id] = struct{}{}
	}
	return f
}

// Allowed reports whether id may be redirected under this filter.
func (f *DeviceFilter) Allowed(id USBDeviceID) bool {
	if f == nil || f.Mode == FilterModeAllowAll {
		return true
	}
	_, listed := f.List[id]
	switch f.Mode {
	case FilterModeAllowList:
		return listed
	case FilterModeBlockList:
		return !listed
	default:
		return true
	}
}

// usbredir packet types this core surfaces, matching the libusbredirparser
// header shape (a 4-byte type, 4-byte length, 4-byte id, then payload).
const (
	usbredirHello        uint32 = 0
	usbredirDeviceConnect uint32 = 1
	usbredirDeviceDisconnect uint32 = 2
	usbredirInterfaceInfo uint32 = 3
)

const usbredirHeaderSize = 12

// USBRedirHeader frames every usbredir packet.
type USBRedirHeader struct {
	Type   uint32
	Length uint32
	ID     uint32
}

func (h USBRedirHeader) Encode() []byte {
	buf := make([]byte, usbredirHeaderSize)
	binary.LittleEndian.PutUint32(buf[0:4], h.Type)
	binary.LittleEndian.PutUint32(buf[4:8], h.Length)
	binary.LittleEndian.PutUint32(buf[8:12], h.ID)
	return buf
}

func DecodeUSBRedirHeader(wire []byte) (USBRedirHeader, error) {
	if len(wire) < usbredirHeaderSize {
		return USBRedirHeader{}, fmt.Errorf("spice: short usbredir header")
	}
	return USBRedirHeader{
		Type:   binary.LittleEndian.Uint32(wire[0:4]),
		Length: binary.LittleEndian.Uint32(wire[4:8]),
		ID:     binary.LittleEndian.Uint32(wire[8:12]),
	}, nil
}

// DeviceConnectPacket describes a device presented to the guest, decoded
// from a usbredirDeviceConnect payload's leading descriptor fields.
type DeviceConnectPacket struct {
	DeviceID USBDeviceID
	Class    uint8
	Subclass uint8
	Protocol uint8
}

func DecodeDeviceConnect(payload []byte) (DeviceConnectPacket, error) {
	if len(payload) < 8 {
		return DeviceConnectPacket{}, fmt.Errorf("spice: short device-connect payload")
	}
	return DeviceConnectPacket{
		DeviceID: USBDeviceID{
			VendorID:  binary.LittleEndian.Uint16(payload[0:2]),
			ProductID: binary.LittleEndian.Uint16(payload[2:4]),
		},
		Class:    payload[4],
		Subclass: payload[5],
		Protocol: payload[6],
	}, nil
}

// FilterDeviceConnect applies filter to a decoded DeviceConnectPacket,
// reporting whether the redirection should proceed.
func FilterDeviceConnect(filter *DeviceFilter, pkt DeviceConnectPacket) bool {
	return filter.Allowed(pkt.DeviceID)
}
