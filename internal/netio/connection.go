package netio

import (
	"net"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/meshnode/meshnode/internal/buffer"
	"github.com/meshnode/meshnode/internal/codec"
)

// Transport is the minimal surface a session needs from a live connection:
// serialized writes and a way to tear it down. Both TCP and WebSocket
// connections implement it so the rest of the framework is transport
// agnostic above this layer.
type Transport interface {
	// Send writes one already-framed message. Implementations serialize
	// concurrent callers internally (spec §4.5 "writes are serialized on
	// the connection's sink mutex").
	Send(frame []byte) error
	// Close shuts down the write half first, then the read half, per spec
	// §4.5.
	Close() error
	RemoteAddr() string
}

// tcpTransport wraps a *net.TCPConn.
type tcpTransport struct {
	mu   sync.Mutex
	conn *net.TCPConn
}

func newTCPTransport(conn *net.TCPConn) *tcpTransport {
	return &tcpTransport{conn: conn}
}

// Send writes frame in full, retrying partial writes within the same
// logical send, serialized by the sink mutex.
func (t *tcpTransport) Send(frame []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	written := 0
	for written < len(frame) {
		n, err := t.conn.Write(frame[written:])
		if err != nil {
			return err
		}
		written += n
	}
	return nil
}

func (t *tcpTransport) Close() error {
	t.conn.CloseWrite()
	return t.conn.Close()
}

func (t *tcpTransport) RemoteAddr() string {
	return t.conn.RemoteAddr().String()
}

// wsTransport wraps a *websocket.Conn.
type wsTransport struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func newWSTransport(conn *websocket.Conn) *wsTransport {
	return &wsTransport{conn: conn}
}

func (t *wsTransport) Send(frame []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conn.WriteMessage(websocket.BinaryMessage, frame)
}

func (t *wsTransport) Close() error {
	t.mu.Lock()
	_ = t.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	t.mu.Unlock()
	return t.conn.Close()
}

func (t *wsTransport) RemoteAddr() string {
	return t.conn.RemoteAddr().String()
}

// runTCPReader frames bytes read from conn into messages per the loop in
// spec §4.5, pushing KindNewMessage / KindStreamDataNotExpected /
// KindDisconnect events onto q. It runs on an I/O goroutine and returns
// once the connection is closed or a read error occurs.
func runTCPReader(conn *net.TCPConn, origin Origin, sessionID uint64, registry *codec.Registry, q *Queue) {
	remote := conn.RemoteAddr().String()
	buf := buffer.New(buffer.BigEndian)
	chunk := make([]byte, 64*1024)

	for {
		n, err := conn.Read(chunk)
		if n > 0 {
			buf.WriteBytes(chunk[:n])
			if !drainFrames(buf, origin, sessionID, registry, q) {
				return
			}
		}
		if err != nil {
			q.Push(Event{Kind: KindDisconnect, Origin: origin, SessionID: sessionID, RemoteAddr: remote})
			return
		}
	}
}

// runWSReader mirrors runTCPReader for a WebSocket connection. Each
// received binary message is appended to the read buffer and framed by the
// same [msg_id][len] decode step as TCP, so one message may carry part of a
// frame or several frames.
func runWSReader(conn *websocket.Conn, origin Origin, sessionID uint64, registry *codec.Registry, q *Queue) {
	remote := conn.RemoteAddr().String()
	buf := buffer.New(buffer.BigEndian)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			q.Push(Event{Kind: KindDisconnect, Origin: origin, SessionID: sessionID, RemoteAddr: remote})
			return
		}
		buf.WriteBytes(data)
		if !drainFrames(buf, origin, sessionID, registry, q) {
			return
		}
	}
}

// drainFrames extracts every complete frame currently buffered, pushing one
// event per frame. Returns false if a StreamDataNotExpected event was
// pushed, signaling the caller the connection is being torn down (the
// session manager will close it in response to the event).
func drainFrames(buf *buffer.Dynamic, origin Origin, sessionID uint64, registry *codec.Registry, q *Queue) bool {
	for {
		decoded, ok, badID := registry.TryDecodeFrame(buf)
		if badID {
			q.Push(Event{Kind: KindStreamDataNotExpected, Origin: origin, SessionID: sessionID})
			return false
		}
		if !ok {
			return true
		}
		q.Push(Event{Kind: KindNewMessage, Origin: origin, SessionID: sessionID, MsgID: decoded.ID, Message: decoded.Value})
	}
}
