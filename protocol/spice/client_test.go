package spice

import (
	"context"
	"encoding/binary"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeServerConn accepts one SPICE link handshake on ln and returns the
// accepted connection, leaving it positioned to read DataHeader-framed
// messages the client sends afterward.
func fakeServerConn(t *testing.T, ln net.Listener) net.Conn {
	t.Helper()
	conn, err := ln.Accept()
	require.NoError(t, err)

	hdrWire := make([]byte, LinkHeaderSize)
	_, err = readFullConn(conn, hdrWire)
	require.NoError(t, err)
	hdr, err := DecodeLinkHeader(hdrWire)
	require.NoError(t, err)

	body := make([]byte, hdr.Size)
	_, err = readFullConn(conn, body)
	require.NoError(t, err)

	reply := make([]byte, linkReplyFixedSize)
	// Error = 0, zero pubkey, zero caps counts/offset: an all-zero fixed
	// reply is a valid "no error, no extra caps" LinkReply.
	replyHdr := NewLinkHeader(uint32(len(reply)))
	_, err = conn.Write(replyHdr.Encode())
	require.NoError(t, err)
	_, err = conn.Write(reply)
	require.NoError(t, err)

	ticket := make([]byte, AuthTicketSize)
	_, err = readFullConn(conn, ticket)
	require.NoError(t, err)

	result := make([]byte, 4)
	binary.LittleEndian.PutUint32(result, 0)
	_, err = conn.Write(result)
	require.NoError(t, err)

	return conn
}

func readFullConn(conn net.Conn, buf []byte) (int, error) {
	n := 0
	for n < len(buf) {
		m, err := conn.Read(buf[n:])
		n += m
		if err != nil {
			return n, err
		}
	}
	return n, nil
}

func dialTestChannel(t *testing.T) (*ChannelSession, net.Conn) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	serverConnCh := make(chan net.Conn, 1)
	go func() { serverConnCh <- fakeServerConn(t, ln) }()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	cs, err := DialChannel(ctx, ln.Addr().String(), ChannelInputs, 0, "", nil)
	require.NoError(t, err)

	serverConn := <-serverConnCh
	t.Cleanup(func() { serverConn.Close(); cs.conn.Close() })
	return cs, serverConn
}

func TestDialChannelCompletesHandshake(t *testing.T) {
	cs, _ := dialTestChannel(t)
	require.Equal(t, ChannelStateReady, cs.state)
}

func TestSendMouseButtonEncodesButtonCodeNotBitmask(t *testing.T) {
	cs, serverConn := dialTestChannel(t)

	err := cs.SendMouseButton(MouseButtonEvent{Button: MouseButtonRight, ButtonsState: MouseButtonRight.MaskFor(), Press: true})
	require.NoError(t, err)

	hdrWire := make([]byte, DataHeaderSize)
	_, err = readFullConn(serverConn, hdrWire)
	require.NoError(t, err)
	hdr, err := DecodeDataHeader(hdrWire)
	require.NoError(t, err)
	require.Equal(t, MsgInputsMousePress, hdr.Type)

	payload := make([]byte, hdr.Size)
	_, err = readFullConn(serverConn, payload)
	require.NoError(t, err)
	require.Len(t, payload, 2)
	require.Equal(t, byte(3), payload[0], "button field must be the button code (Right=3), not the buttons_state bitmask")
	require.Equal(t, byte(MouseButtonMaskRight), payload[1])
}

func TestSendMouseMotionPrecedesClickAtRequestedPosition(t *testing.T) {
	cs, serverConn := dialTestChannel(t)

	require.NoError(t, cs.SendMouseMotion(MouseMotionEvent{X: 512, Y: 384}, MouseModeClient))

	hdrWire := make([]byte, DataHeaderSize)
	_, err := readFullConn(serverConn, hdrWire)
	require.NoError(t, err)
	hdr, err := DecodeDataHeader(hdrWire)
	require.NoError(t, err)
	require.Equal(t, MsgInputsMouseMotion, hdr.Type)

	payload := make([]byte, hdr.Size)
	_, err = readFullConn(serverConn, payload)
	require.NoError(t, err)
	require.Equal(t, uint32(512), binary.LittleEndian.Uint32(payload[0:4]))
	require.Equal(t, uint32(384), binary.LittleEndian.Uint32(payload[4:8]))
}
