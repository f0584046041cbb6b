// network/connection.go
package network

import (
	"encoding/binary"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// HeaderSize is the frame header: 2 bytes message id + 4 bytes payload length.
const HeaderSize = 6

// MaxPayload bounds a single frame. Room views carry whole message and photo
// lists, so the limit is well above a chat line.
const MaxPayload = 4 << 20

var (
	ErrShortPacket    = errors.New("network: packet shorter than its header")
	ErrPayloadTooLong = errors.New("network: payload exceeds limit")
)

type Packet struct {
	MsgID  uint16
	Data   []byte
	Length uint32
}

type Connection interface {
	Send(msgID uint16, data []byte) error
	Close() error
	RemoteAddr() net.Addr
	SetHeartbeat(interval time.Duration)
	ReadPacket() (*Packet, error)
}

// EncodePacket frames data as big-endian msg id, length, payload.
func EncodePacket(msgID uint16, data []byte) ([]byte, error) {
	if len(data) > MaxPayload {
		return nil, ErrPayloadTooLong
	}
	packet := make([]byte, HeaderSize+len(data))
	binary.BigEndian.PutUint16(packet[0:2], msgID)
	binary.BigEndian.PutUint32(packet[2:6], uint32(len(data)))
	copy(packet[HeaderSize:], data)
	return packet, nil
}

// DecodePacket parses one frame. Bytes past the declared length are ignored.
func DecodePacket(b []byte) (*Packet, error) {
	if len(b) < HeaderSize {
		return nil, ErrShortPacket
	}
	msgID := binary.BigEndian.Uint16(b[0:2])
	length := binary.BigEndian.Uint32(b[2:6])
	if length > MaxPayload {
		return nil, ErrPayloadTooLong
	}
	if uint64(len(b)) < uint64(HeaderSize)+uint64(length) {
		return nil, ErrShortPacket
	}
	return &Packet{
		MsgID:  msgID,
		Length: length,
		Data:   b[HeaderSize : HeaderSize+int(length)],
	}, nil
}

type WSConnection struct {
	conn      *websocket.Conn
	sendMutex sync.Mutex
	heartbeat time.Duration
}

func NewWSConnection(conn *websocket.Conn) *WSConnection {
	conn.SetReadLimit(HeaderSize + MaxPayload)
	return &WSConnection{conn: conn}
}

// Dial opens a client connection to a websocket endpoint.
func Dial(url string, header http.Header) (*WSConnection, error) {
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		return nil, err
	}
	return NewWSConnection(conn), nil
}

func (c *WSConnection) Send(msgID uint16, data []byte) error {
	packet, err := EncodePacket(msgID, data)
	if err != nil {
		return err
	}

	c.sendMutex.Lock()
	defer c.sendMutex.Unlock()
	return c.conn.WriteMessage(websocket.BinaryMessage, packet)
}

func (c *WSConnection) ReadPacket() (*Packet, error) {
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	if c.heartbeat > 0 {
		_ = c.conn.SetReadDeadline(time.Now().Add(c.heartbeat * 2))
	}
	return DecodePacket(data)
}

// SetHeartbeat drops the connection when nothing arrives for two intervals.
func (c *WSConnection) SetHeartbeat(interval time.Duration) {
	c.heartbeat = interval
	_ = c.conn.SetReadDeadline(time.Now().Add(interval * 2))
}

func (c *WSConnection) Close() error {
	return c.conn.Close()
}

func (c *WSConnection) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}
