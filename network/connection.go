// network/connection.go
package network

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// frameHeaderSize is the fixed frame prefix: 2 byte message ID + 4 byte
// payload length. Room snapshots carry every snake's segment list plus
// the food field, which outgrows a 16-bit length long before a room is
// full, so the length rides in 32 bits.
const frameHeaderSize = 6

// MaxPayload bounds a single frame. Sized for a full room's snapshot
// with grown snakes; anything bigger is a broken or hostile peer.
const MaxPayload = 4 << 20

var ErrMalformedPacket = errors.New("malformed packet")

// Packet is one decoded frame.
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

// encodeFrame prefixes data with the message ID and payload length.
func encodeFrame(msgID uint16, data []byte) []byte {
	packet := make([]byte, frameHeaderSize+len(data))
	binary.BigEndian.PutUint16(packet[0:2], msgID)
	binary.BigEndian.PutUint32(packet[2:6], uint32(len(data)))
	copy(packet[frameHeaderSize:], data)
	return packet
}

// decodeFrame parses one frame. A frame whose declared length disagrees
// with the received bytes is rejected rather than truncated.
func decodeFrame(data []byte) (*Packet, error) {
	if len(data) < frameHeaderSize {
		return nil, fmt.Errorf("%w: frame of %d bytes", ErrMalformedPacket, len(data))
	}

	msgID := binary.BigEndian.Uint16(data[0:2])
	length := binary.BigEndian.Uint32(data[2:6])
	if length > MaxPayload {
		return nil, fmt.Errorf("%w: declared %d bytes exceeds limit", ErrMalformedPacket, length)
	}
	if int(length) != len(data)-frameHeaderSize {
		return nil, fmt.Errorf("%w: declared %d bytes, got %d", ErrMalformedPacket, length, len(data)-frameHeaderSize)
	}

	return &Packet{
		MsgID:  msgID,
		Length: length,
		Data:   data[frameHeaderSize:],
	}, nil
}

// WSConnection frames packets over websocket binary messages. Send is
// safe for concurrent use; ReadPacket belongs to a single reader
// goroutine.
type WSConnection struct {
	conn      *websocket.Conn
	sendMutex sync.Mutex
	heartbeat time.Duration
}

func NewWSConnection(conn *websocket.Conn) *WSConnection {
	return &WSConnection{conn: conn}
}

func (c *WSConnection) Send(msgID uint16, data []byte) error {
	if len(data) > MaxPayload {
		return fmt.Errorf("%w: payload %d exceeds limit", ErrMalformedPacket, len(data))
	}

	c.sendMutex.Lock()
	defer c.sendMutex.Unlock()

	return c.conn.WriteMessage(websocket.BinaryMessage, encodeFrame(msgID, data))
}

// ReadPacket blocks for the next frame.
func (c *WSConnection) ReadPacket() (*Packet, error) {
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		return nil, err
	}

	packet, err := decodeFrame(data)
	if err != nil {
		return nil, err
	}

	// Any inbound traffic counts as liveness.
	if c.heartbeat > 0 {
		c.conn.SetReadDeadline(time.Now().Add(c.heartbeat * 2))
	}
	return packet, nil
}

// SetHeartbeat arms the read deadline: a connection silent for twice the
// interval is considered dead and the read loop unblocks with an error.
func (c *WSConnection) SetHeartbeat(interval time.Duration) {
	c.heartbeat = interval
	c.conn.SetReadDeadline(time.Now().Add(interval * 2))
}

func (c *WSConnection) Close() error {
	return c.conn.Close()
}

func (c *WSConnection) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}
