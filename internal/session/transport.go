package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
)

// Opcode tags a websocket frame.
type Opcode int

const (
	OpText Opcode = iota
	OpBinary
	OpPing
	OpPong
	OpClose
)

func (o Opcode) String() string {
	switch o {
	case OpText:
		return "text"
	case OpBinary:
		return "binary"
	case OpPing:
		return "ping"
	case OpPong:
		return "pong"
	case OpClose:
		return "close"
	default:
		return "unknown"
	}
}

// Frame is one inbound websocket frame.
type Frame struct {
	Opcode  Opcode
	Payload []byte
}

// Conn is an upgraded websocket session. ReadFrame surfaces control frames
// received since the previous call before blocking for the next data frame;
// a server close is returned as an OpClose frame, not an error.
type Conn interface {
	WriteText(data []byte) error
	ReadFrame() (Frame, error)
	Close() error
}

// Transport opens upgraded websocket sessions. The timeout covers TCP
// connect, TLS and the protocol upgrade together.
type Transport interface {
	Connect(ctx context.Context, url string, timeout time.Duration) (Conn, error)
}

// WebSocketTransport is the production Transport backed by gorilla/websocket.
type WebSocketTransport struct{}

func (WebSocketTransport) Connect(ctx context.Context, url string, timeout time.Duration) (Conn, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: timeout,
	}
	conn, resp, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket upgrade rejected with status %s: %w", resp.Status, err)
		}
		return nil, err
	}

	ws := &wsConn{
		conn:    conn,
		control: make(chan Frame, 8),
	}

	conn.SetPingHandler(func(data string) error {
		ws.pushControl(Frame{Opcode: OpPing, Payload: []byte(data)})
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(time.Second))
	})
	conn.SetPongHandler(func(data string) error {
		ws.pushControl(Frame{Opcode: OpPong, Payload: []byte(data)})
		return nil
	})

	return ws, nil
}

type wsConn struct {
	conn    *websocket.Conn
	control chan Frame
}

func (c *wsConn) pushControl(f Frame) {
	select {
	case c.control <- f:
	default:
	}
}

func (c *wsConn) WriteText(data []byte) error {
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *wsConn) ReadFrame() (Frame, error) {
	select {
	case f := <-c.control:
		return f, nil
	default:
	}

	mt, data, err := c.conn.ReadMessage()
	if err != nil {
		var closeErr *websocket.CloseError
		if errors.As(err, &closeErr) {
			return Frame{Opcode: OpClose, Payload: []byte(closeErr.Text)}, nil
		}
		return Frame{}, err
	}

	switch mt {
	case websocket.BinaryMessage:
		return Frame{Opcode: OpBinary, Payload: data}, nil
	default:
		return Frame{Opcode: OpText, Payload: data}, nil
	}
}

func (c *wsConn) Close() error {
	// Best effort close handshake before dropping the TCP connection.
	_ = c.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	return c.conn.Close()
}
