package netio

import (
	"net"

	"github.com/meshnode/meshnode/internal/codec"
)

// TCPListener accepts connections on one TCP address and feeds the
// resulting session lifecycle into a Queue (spec §4.6 "Listeners").
type TCPListener struct {
	origin   Origin
	registry *codec.Registry
	queue    *Queue
	nextSID  func() uint64

	ln net.Listener
}

// ListenTCP binds addr and returns a listener that has not yet started
// accepting. nextSID mints session ids; the loop thread owns the id space
// so callers typically hand in a function backed by an atomic counter
// shared across transports.
func ListenTCP(addr string, origin Origin, registry *codec.Registry, queue *Queue, nextSID func() uint64) (*TCPListener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &TCPListener{origin: origin, registry: registry, queue: queue, nextSID: nextSID, ln: ln}, nil
}

// Addr returns the bound local address, useful when addr was ":0".
func (l *TCPListener) Addr() net.Addr {
	return l.ln.Addr()
}

// Close stops the listener. In-flight connections are unaffected; they
// drain through their own reader goroutines until a disconnect event
// fires.
func (l *TCPListener) Close() error {
	return l.ln.Close()
}

// Serve runs the accept loop until Close is called, pushing
// KindServerOpen once at startup and one KindNewConnection per accepted
// connection. It blocks the calling goroutine and returns the terminal
// accept error (nil is never returned; Node.Run runs it inside an errgroup
// and discards the error once the group's context has been cancelled).
func (l *TCPListener) Serve() error {
	l.queue.Push(Event{Kind: KindServerOpen, Origin: l.origin, RemoteAddr: l.ln.Addr().String()})

	for {
		conn, err := l.ln.Accept()
		if err != nil {
			return err
		}
		tcpConn, ok := conn.(*net.TCPConn)
		if !ok {
			conn.Close()
			continue
		}

		sid := l.nextSID()
		transport := newTCPTransport(tcpConn)
		l.queue.Push(Event{
			Kind:       KindNewConnection,
			Origin:     l.origin,
			SessionID:  sid,
			RemoteAddr: tcpConn.RemoteAddr().String(),
			Transport:  transport,
		})
		go runTCPReader(tcpConn, l.origin, sid, l.registry, l.queue)
	}
}

// DialTCP opens an outbound back-plane connection, used by a node dialing
// a peer during cluster bring-up (spec §4.9). The caller supplies the
// session id since outbound dials are correlated with a pending register
// or connect request rather than minted fresh. The connect itself runs on
// an I/O goroutine so the loop thread calling this never blocks on
// network I/O (spec §5 "suspension points exist only on the I/O side");
// the outcome arrives later as a KindClientConnectSuccess or
// KindClientConnectFailed event.
func DialTCP(addr string, origin Origin, sessionID uint64, registry *codec.Registry, queue *Queue) {
	go func() {
		conn, err := net.Dial("tcp", addr)
		if err != nil {
			queue.Push(Event{
				Kind:       KindClientConnectFailed,
				Origin:     origin,
				SessionID:  sessionID,
				RemoteAddr: addr,
				Err:        err,
			})
			return
		}
		tcpConn := conn.(*net.TCPConn)
		transport := newTCPTransport(tcpConn)
		queue.Push(Event{
			Kind:       KindClientConnectSuccess,
			Origin:     origin,
			SessionID:  sessionID,
			RemoteAddr: tcpConn.RemoteAddr().String(),
			Transport:  transport,
		})
		runTCPReader(tcpConn, origin, sessionID, registry, queue)
	}()
}
