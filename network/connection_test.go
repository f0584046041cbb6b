package network

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodePacket(t *testing.T) {
	b, err := EncodePacket(MsgTypeIntent, []byte(`{"kind":"ready"}`))
	require.NoError(t, err)
	assert.Len(t, b, HeaderSize+16)

	p, err := DecodePacket(append(b, 0xff))
	require.NoError(t, err)
	assert.Equal(t, uint16(MsgTypeIntent), p.MsgID)
	assert.Equal(t, uint32(16), p.Length)
	assert.Equal(t, `{"kind":"ready"}`, string(p.Data))
}

func TestDecodePacketRejectsTruncated(t *testing.T) {
	_, err := DecodePacket([]byte{0, 1, 0})
	assert.ErrorIs(t, err, ErrShortPacket)

	b, err := EncodePacket(1, []byte("hello"))
	require.NoError(t, err)
	_, err = DecodePacket(b[:len(b)-1])
	assert.ErrorIs(t, err, ErrShortPacket)

	_, err = DecodePacket([]byte{0, 1, 0xff, 0xff, 0xff, 0xff})
	assert.ErrorIs(t, err, ErrPayloadTooLong)
}

func TestLargePayloadFitsFrame(t *testing.T) {
	// Views routinely exceed the 64 KiB a 2-byte length could carry.
	data := []byte(strings.Repeat("x", 70000))
	b, err := EncodePacket(MsgTypeRoomView, data)
	require.NoError(t, err)
	p, err := DecodePacket(b)
	require.NoError(t, err)
	assert.Len(t, p.Data, 70000)

	_, err = EncodePacket(MsgTypeRoomView, make([]byte, MaxPayload+1))
	assert.ErrorIs(t, err, ErrPayloadTooLong)
}

func TestWSConnectionRoundTrip(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		c := NewWSConnection(conn)
		defer c.Close()
		p, err := c.ReadPacket()
		if err != nil {
			return
		}
		_ = c.Send(p.MsgID+1, p.Data)
	}))
	defer srv.Close()

	c, err := Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.Send(MsgTypeIntent, []byte("ping")))
	p, err := c.ReadPacket()
	require.NoError(t, err)
	assert.Equal(t, uint16(MsgTypeIntentResult), p.MsgID)
	assert.Equal(t, "ping", string(p.Data))
}
