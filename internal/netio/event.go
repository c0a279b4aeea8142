// Package netio implements the I/O runtime side of a node: accept loops for
// TCP and WebSocket listeners, per-connection framing, and the MPMC event
// queue that hands decoded events to the loop thread (spec §4.5-§4.6).
package netio

import "github.com/meshnode/meshnode/internal/codec"

// Origin identifies which plane and transport produced an event.
type Origin int

// Supported origins.
const (
	BackTCP Origin = iota
	FrontTCP
	FrontWS
)

// String renders the origin for logging.
func (o Origin) String() string {
	switch o {
	case BackTCP:
		return "back-tcp"
	case FrontTCP:
		return "front-tcp"
	case FrontWS:
		return "front-ws"
	default:
		return "unknown"
	}
}

// Kind enumerates the event types produced on I/O threads and consumed on
// the loop thread.
type Kind int

// Event kinds, matching spec §3 "Event".
const (
	KindServerOpen Kind = iota
	KindNewConnection
	KindClientConnectSuccess
	KindClientConnectFailed
	KindDisconnect
	KindNewMessage
	KindStreamDataNotExpected
)

// Event is the tagged record flowing through the shared queue. Exactly one
// of the payload fields is meaningful, selected by Kind.
type Event struct {
	Kind       Kind
	Origin     Origin
	SessionID  uint64
	RemoteAddr string

	// Transport is set on KindNewConnection / KindClientConnectSuccess; it
	// is the live connection the session manager should attach to a
	// session.
	Transport Transport

	// MsgID / Message are set on KindNewMessage.
	MsgID   codec.MsgID
	Message interface{}

	// Err is set on KindClientConnectFailed.
	Err error
}
