// Package session implements BackSessionManager and FrontSessionManager
// (spec §4.7): the single writers of back-plane and front-plane session
// state, both driven exclusively from the loop thread.
package session

import (
	"sort"
	"sync"

	"github.com/meshnode/meshnode/internal/netio"
)

// BackSession is one back-plane connection, either listener-accepted or
// client-initiated toward a peer (spec §3 "BackSession").
type BackSession struct {
	SessionID     uint64
	PeerServerID  uint32
	HasPeerID     bool
	PeerType      string
	RemoteAddr    string
	Authenticated bool
	Transport     netio.Transport
}

// Dialer opens an outbound back-plane connection asynchronously: it must
// not block, and must report its outcome later by pushing a
// KindClientConnectSuccess or KindClientConnectFailed event carrying
// sessionID. Production code backs this with netio.DialTCP; tests
// substitute a fake.
type Dialer func(addr string, sessionID uint64)

// BackSessionManager owns the two disjoint back-plane session maps (spec
// §4.7). It is not safe for concurrent use from multiple goroutines; all
// methods are meant to run on the loop thread.
type BackSessionManager struct {
	mu sync.Mutex // guards session id allocation only; map access is loop-thread-only

	unauthorized map[uint64]*BackSession
	authorized   map[uint64]*BackSession

	// pendingAddr remembers the dial target for a session created via
	// CreateClientSession, keyed by session id, until ClientConnectSuccess
	// installs the transport.
	pendingAddr map[uint64]string

	nextID uint64
	dial   Dialer
}

// NewBackSessionManager returns an empty manager. dial is invoked by
// CreateClientSession to actually open the outbound socket.
func NewBackSessionManager(dial Dialer) *BackSessionManager {
	return &BackSessionManager{
		unauthorized: make(map[uint64]*BackSession),
		authorized:   make(map[uint64]*BackSession),
		pendingAddr:  make(map[uint64]string),
		dial:         dial,
	}
}

func (m *BackSessionManager) allocID() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	return m.nextID
}

// HandleEvent implements netio.Handler, reacting to NewConnection,
// ClientConnectSuccess, Disconnect, and StreamDataNotExpected on the back
// plane. Events on other origins are ignored.
func (m *BackSessionManager) HandleEvent(e netio.Event) {
	if e.Origin != netio.BackTCP {
		return
	}
	switch e.Kind {
	case netio.KindNewConnection:
		m.unauthorized[e.SessionID] = &BackSession{
			SessionID:  e.SessionID,
			RemoteAddr: e.RemoteAddr,
			Transport:  e.Transport,
		}
	case netio.KindClientConnectSuccess:
		if s, ok := m.unauthorized[e.SessionID]; ok {
			s.Transport = e.Transport
			s.RemoteAddr = e.RemoteAddr
			delete(m.pendingAddr, e.SessionID)
		}
	case netio.KindClientConnectFailed:
		// spec §7 "Connect" error kind: log at ERROR, drop the
		// pre-allocated unauthorized session. Logging is the caller's
		// responsibility (the cluster manager observes this event too).
		delete(m.unauthorized, e.SessionID)
		delete(m.pendingAddr, e.SessionID)
	case netio.KindDisconnect, netio.KindStreamDataNotExpected:
		m.closeAndDrop(e.SessionID)
	}
}

func (m *BackSessionManager) closeAndDrop(id uint64) {
	if s, ok := m.unauthorized[id]; ok {
		if s.Transport != nil {
			s.Transport.Close()
		}
		delete(m.unauthorized, id)
		return
	}
	if s, ok := m.authorized[id]; ok {
		if s.Transport != nil {
			s.Transport.Close()
		}
		delete(m.authorized, id)
	}
}

// CreateClientSession allocates a session id, records a pending outbound
// session in unauthorized, and asynchronously dials addr. The outcome
// arrives later as a ClientConnectSuccess or ClientConnectFailed event,
// both handled by HandleEvent (spec §4.7).
func (m *BackSessionManager) CreateClientSession(host string, port uint16) uint64 {
	id := m.allocID()
	addr := joinHostPort(host, port)
	m.unauthorized[id] = &BackSession{SessionID: id, RemoteAddr: addr}
	m.pendingAddr[id] = addr

	m.dial(addr, id)
	return id
}

// AuthorizeSession moves id from unauthorized to authorized, recording the
// peer's identity (spec §4.7).
func (m *BackSessionManager) AuthorizeSession(id uint64, peerServerID uint32, peerType string) bool {
	s, ok := m.unauthorized[id]
	if !ok {
		return false
	}
	delete(m.unauthorized, id)
	s.PeerServerID = peerServerID
	s.HasPeerID = true
	s.PeerType = peerType
	s.Authenticated = true
	m.authorized[id] = s
	return true
}

// RemoveBadTokenSession closes and drops id from whichever map holds it
// (spec §4.7, §7 Authentication error kind).
func (m *BackSessionManager) RemoveBadTokenSession(id uint64) {
	m.closeAndDrop(id)
}

// Get returns the session for id if it is authorized and connected.
func (m *BackSessionManager) Get(id uint64) (*BackSession, bool) {
	s, ok := m.authorized[id]
	return s, ok
}

// GetAny returns the session for id whether or not it has been authorized
// yet. Used to send the handshake messages themselves, which necessarily
// go out before authorization completes.
func (m *BackSessionManager) GetAny(id uint64) (*BackSession, bool) {
	if s, ok := m.authorized[id]; ok {
		return s, true
	}
	s, ok := m.unauthorized[id]
	return s, ok
}

// GetActiveSessions returns every authorized session whose peer type
// equals serverType, ordered by session id (spec §4.7, feeds
// RouterManager).
func (m *BackSessionManager) GetActiveSessions(serverType string) []*BackSession {
	var out []*BackSession
	for _, s := range m.authorized {
		if s.PeerType == serverType {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SessionID < out[j].SessionID })
	return out
}

// FindAuthorizedByPeerID returns the authorized session (if any) whose
// peer server id equals serverID (spec §4.9 "if there is an authorized
// session to entry.id").
func (m *BackSessionManager) FindAuthorizedByPeerID(serverID uint32) (*BackSession, bool) {
	for _, s := range m.authorized {
		if s.HasPeerID && s.PeerServerID == serverID {
			return s, true
		}
	}
	return nil, false
}

func joinHostPort(host string, port uint16) string {
	return host + ":" + uitoa(uint64(port))
}

func uitoa(v uint64) string {
	if v == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[i:])
}
