package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meshnode/meshnode/internal/netio"
)

func TestFrontNewConnectionAddsSession(t *testing.T) {
	m := NewFrontSessionManager()
	m.HandleEvent(netio.Event{Kind: netio.KindNewConnection, Origin: netio.FrontTCP, SessionID: 1, RemoteAddr: "1.2.3.4:5"})

	s, ok := m.Get(1)
	require.True(t, ok)
	assert.Equal(t, netio.FrontTCP, s.Origin)
	assert.False(t, s.Authenticated)
}

func TestFrontManagerIgnoresBackOriginEvents(t *testing.T) {
	m := NewFrontSessionManager()
	m.HandleEvent(netio.Event{Kind: netio.KindNewConnection, Origin: netio.BackTCP, SessionID: 1})

	_, ok := m.Get(1)
	assert.False(t, ok)
}

func TestFrontDisconnectRemovesAndCloses(t *testing.T) {
	m := NewFrontSessionManager()
	transport := &fakeTransport{}
	m.HandleEvent(netio.Event{Kind: netio.KindNewConnection, Origin: netio.FrontWS, SessionID: 2, Transport: transport})

	m.HandleEvent(netio.Event{Kind: netio.KindDisconnect, Origin: netio.FrontWS, SessionID: 2})

	_, ok := m.Get(2)
	assert.False(t, ok)
	assert.True(t, transport.closed)
}

func TestAuthenticateRecordsUserID(t *testing.T) {
	m := NewFrontSessionManager()
	m.HandleEvent(netio.Event{Kind: netio.KindNewConnection, Origin: netio.FrontTCP, SessionID: 1})

	m.Authenticate(1, "alice")

	s, _ := m.Get(1)
	assert.True(t, s.Authenticated)
	assert.Equal(t, "alice", s.UserID)
}

func TestRouteHintRoundTrip(t *testing.T) {
	m := NewFrontSessionManager()
	m.HandleEvent(netio.Event{Kind: netio.KindNewConnection, Origin: netio.FrontTCP, SessionID: 1})

	_, ok := m.RouteHint(1, "chat")
	assert.False(t, ok)

	m.SetRouteHint(1, "chat", 42)
	sid, ok := m.RouteHint(1, "chat")
	require.True(t, ok)
	assert.Equal(t, uint32(42), sid)
}
