package session

import (
	"github.com/meshnode/meshnode/internal/netio"
)

// FrontSession is one front-plane connection, TCP or WebSocket (spec §3
// "FrontSession"). Metadata is the sticky routing map maintained by
// RouterManager: target server_type -> the back server_id last routed to.
type FrontSession struct {
	SessionID     uint64
	UserID        string
	HasUser       bool
	RemoteAddr    string
	Authenticated bool
	Origin        netio.Origin
	Transport     netio.Transport
	Metadata      map[string]uint32
}

// FrontSessionManager owns a single map of front-plane sessions (spec
// §4.7). Like BackSessionManager, it is meant to be driven from the loop
// thread only.
type FrontSessionManager struct {
	sessions map[uint64]*FrontSession
}

// NewFrontSessionManager returns an empty manager.
func NewFrontSessionManager() *FrontSessionManager {
	return &FrontSessionManager{sessions: make(map[uint64]*FrontSession)}
}

// HandleEvent implements netio.Handler for FrontTCP and FrontWS origins.
func (m *FrontSessionManager) HandleEvent(e netio.Event) {
	if e.Origin != netio.FrontTCP && e.Origin != netio.FrontWS {
		return
	}
	switch e.Kind {
	case netio.KindNewConnection:
		m.sessions[e.SessionID] = &FrontSession{
			SessionID:  e.SessionID,
			RemoteAddr: e.RemoteAddr,
			Origin:     e.Origin,
			Transport:  e.Transport,
			Metadata:   make(map[string]uint32),
		}
	case netio.KindDisconnect, netio.KindStreamDataNotExpected:
		if s, ok := m.sessions[e.SessionID]; ok {
			if s.Transport != nil {
				s.Transport.Close()
			}
			delete(m.sessions, e.SessionID)
		}
	}
}

// Get returns the front session for id, if still connected.
func (m *FrontSessionManager) Get(id uint64) (*FrontSession, bool) {
	s, ok := m.sessions[id]
	return s, ok
}

// Authenticate marks a session authenticated and records its user id, once
// the front-plane login handler has validated credentials. Out of core
// scope per spec.md §1 how credentials are checked; this just records the
// outcome.
func (m *FrontSessionManager) Authenticate(id uint64, userID string) {
	if s, ok := m.sessions[id]; ok {
		s.Authenticated = true
		s.UserID = userID
		s.HasUser = true
	}
}

// RouteHint returns the sticky back server_id previously recorded for
// targetType on session id, if any.
func (m *FrontSessionManager) RouteHint(id uint64, targetType string) (uint32, bool) {
	s, ok := m.sessions[id]
	if !ok {
		return 0, false
	}
	sid, ok := s.Metadata[targetType]
	return sid, ok
}

// SetRouteHint records the sticky routing decision for targetType on
// session id (spec §4.10 step 2, "write meta[target_type] back into the
// front session").
func (m *FrontSessionManager) SetRouteHint(id uint64, targetType string, serverID uint32) {
	if s, ok := m.sessions[id]; ok {
		s.Metadata[targetType] = serverID
	}
}
