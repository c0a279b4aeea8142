package clusterproto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/meshnode/meshnode/internal/auth"
	"github.com/meshnode/meshnode/internal/codec"
	"github.com/meshnode/meshnode/internal/netio"
	"github.com/meshnode/meshnode/internal/session"
	"github.com/meshnode/meshnode/internal/timer"
)

const testAuthorKey = "shared-secret"

type capturingTransport struct {
	frames [][]byte
}

func (c *capturingTransport) Send(frame []byte) error {
	c.frames = append(c.frames, frame)
	return nil
}
func (c *capturingTransport) Close() error       { return nil }
func (c *capturingTransport) RemoteAddr() string { return "fake:0" }

func newTestRegistry() *codec.Registry {
	r := codec.NewRegistry()
	codec.RegisterCatalog(r)
	return r
}

func decodeLast(t *testing.T, r *codec.Registry, ct *capturingTransport) interface{} {
	t.Helper()
	require.NotEmpty(t, ct.frames)
	last := ct.frames[len(ct.frames)-1]
	id := codec.MsgID(last[0])<<8 | codec.MsgID(last[1])
	val, ok := r.DecodePayload(id, last[4:])
	require.True(t, ok)
	return val
}

func TestCatalogAddReplacesAndIndexesByType(t *testing.T) {
	c := NewCatalog()
	replaced := c.Add(ServerInfo{ServerID: 1, ServerType: "chat"})
	assert.False(t, replaced)

	replaced = c.Add(ServerInfo{ServerID: 1, ServerType: "session"})
	assert.True(t, replaced)

	info, ok := c.Get(1)
	require.True(t, ok)
	assert.Equal(t, "session", info.ServerType)

	assert.Empty(t, c.ByType("chat"))
	assert.Len(t, c.ByType("session"), 1)
}

func TestNonMasterDialsMasterOnServerOpen(t *testing.T) {
	var dialedAddr string
	back := session.NewBackSessionManager(func(addr string, sessionID uint64) { dialedAddr = addr })
	cfg := Config{
		Self:       ServerInfo{ServerID: 2, ServerType: "chat"},
		IsMaster:   false,
		MasterID:   1,
		MasterHost: "10.0.0.1",
		MasterPort: 9000,
		AuthorKey:  testAuthorKey,
	}
	m := NewManager(cfg, NewCatalog(), back, newTestRegistry(), zap.NewNop(), func() uint32 { return 42 }, nil)

	m.HandleEvent(netio.Event{Kind: netio.KindServerOpen, Origin: netio.BackTCP})
	assert.Equal(t, "10.0.0.1:9000", dialedAddr)
}

func TestMasterNeverDialsOnServerOpen(t *testing.T) {
	var dialed bool
	back := session.NewBackSessionManager(func(addr string, sessionID uint64) { dialed = true })
	cfg := Config{Self: ServerInfo{ServerID: 1, ServerType: "master"}, IsMaster: true}
	m := NewManager(cfg, NewCatalog(), back, newTestRegistry(), zap.NewNop(), func() uint32 { return 1 }, nil)

	m.HandleEvent(netio.Event{Kind: netio.KindServerOpen, Origin: netio.BackTCP})
	assert.False(t, dialed, "master never dials per spec")
}

func TestClientConnectSuccessToMasterSendsRegisterRequestAndAuthorizesOptimistically(t *testing.T) {
	registry := newTestRegistry()
	var sid uint64
	back := session.NewBackSessionManager(func(addr string, sessionID uint64) { sid = sessionID })
	cfg := Config{
		Self:       ServerInfo{ServerID: 2, ServerType: "chat"},
		MasterID:   1,
		MasterHost: "10.0.0.1",
		MasterPort: 9000,
		AuthorKey:  testAuthorKey,
	}
	m := NewManager(cfg, NewCatalog(), back, registry, zap.NewNop(), func() uint32 { return 999 }, nil)

	m.HandleEvent(netio.Event{Kind: netio.KindServerOpen, Origin: netio.BackTCP})
	require.NotZero(t, sid)

	transport := &capturingTransport{}
	back.HandleEvent(netio.Event{Kind: netio.KindClientConnectSuccess, Origin: netio.BackTCP, SessionID: sid, Transport: transport})
	m.HandleEvent(netio.Event{Kind: netio.KindClientConnectSuccess, Origin: netio.BackTCP, SessionID: sid, Transport: transport})

	sent := decodeLast(t, registry, transport)
	req, ok := sent.(codec.NodeRegisterBRequest)
	require.True(t, ok)
	assert.Equal(t, auth.GenerateToken(testAuthorKey), req.ClientToken)
	assert.Equal(t, cfg.Self, req.Self)

	s, found := back.Get(sid)
	require.True(t, found, "optimistic authorization should have moved the session")
	assert.Equal(t, uint32(1), s.PeerServerID)
	assert.Equal(t, "master", s.PeerType)
}

func TestMasterHandlesRegisterRequestBadToken(t *testing.T) {
	registry := newTestRegistry()
	back := session.NewBackSessionManager(func(addr string, sessionID uint64) {})
	cfg := Config{Self: ServerInfo{ServerID: 1, ServerType: "master"}, IsMaster: true, MasterID: 1, AuthorKey: testAuthorKey}
	m := NewManager(cfg, NewCatalog(), back, registry, zap.NewNop(), func() uint32 { return 1 }, nil)

	transport := &capturingTransport{}
	back.HandleEvent(netio.Event{Kind: netio.KindNewConnection, Origin: netio.BackTCP, SessionID: 10, Transport: transport})

	md := netio.NewMessageDispatcher(netio.BackTCP)
	m.RegisterHandlers(md)
	md.HandleEvent(netio.Event{
		Kind: netio.KindNewMessage, Origin: netio.BackTCP, SessionID: 10, MsgID: codec.MsgNodeRegisterBRequest,
		Message: codec.NodeRegisterBRequest{ReqID: 1, ClientToken: "wrong", Self: ServerInfo{ServerID: 2, ServerType: "chat"}},
	})

	_, found := back.Get(10)
	assert.False(t, found, "bad token session must be removed")
	assert.Empty(t, transport.frames, "no reply should be sent to a bad-token session")
}

func TestMasterHandlesRegisterRequestSeedsLowerIDsAndNotifiesHigherIDs(t *testing.T) {
	registry := newTestRegistry()
	back := session.NewBackSessionManager(func(addr string, sessionID uint64) {})
	catalog := NewCatalog()
	cfg := Config{Self: ServerInfo{ServerID: 1, ServerType: "master"}, IsMaster: true, MasterID: 1, AuthorKey: testAuthorKey}
	m := NewManager(cfg, catalog, back, registry, zap.NewNop(), func() uint32 { return 1 }, nil)

	// Node 2 (lower id than the registrant below) already registered and authorized.
	lowerTransport := &capturingTransport{}
	back.HandleEvent(netio.Event{Kind: netio.KindNewConnection, Origin: netio.BackTCP, SessionID: 2, Transport: lowerTransport})
	back.AuthorizeSession(2, 2, "chat")
	catalog.Add(ServerInfo{ServerID: 2, ServerType: "chat", BackHost: "10.0.0.2", BackPort: 9100})

	// Node 5 (higher id) already registered and authorized.
	higherTransport := &capturingTransport{}
	back.HandleEvent(netio.Event{Kind: netio.KindNewConnection, Origin: netio.BackTCP, SessionID: 5, Transport: higherTransport})
	back.AuthorizeSession(5, 5, "session")
	catalog.Add(ServerInfo{ServerID: 5, ServerType: "session", BackHost: "10.0.0.5", BackPort: 9100})

	// Node 3 now registers.
	newTransport := &capturingTransport{}
	back.HandleEvent(netio.Event{Kind: netio.KindNewConnection, Origin: netio.BackTCP, SessionID: 30, Transport: newTransport})

	md := netio.NewMessageDispatcher(netio.BackTCP)
	m.RegisterHandlers(md)
	md.HandleEvent(netio.Event{
		Kind: netio.KindNewMessage, Origin: netio.BackTCP, SessionID: 30, MsgID: codec.MsgNodeRegisterBRequest,
		Message: codec.NodeRegisterBRequest{
			ReqID: 7, ClientToken: auth.GenerateToken(testAuthorKey),
			Self: ServerInfo{ServerID: 3, ServerType: "chat", BackHost: "10.0.0.3", BackPort: 9100},
		},
	})

	resp := decodeLast(t, registry, newTransport).(codec.NodeRegisterBResponse)
	require.Len(t, resp.Servers, 1)
	assert.Equal(t, uint32(2), resp.Servers[0].ServerID, "id 2 < id 3, so it is seeded into the new node")

	assert.Empty(t, lowerTransport.frames, "a lower-id peer is seeded into the new node, not notified")

	notify := decodeLast(t, registry, higherTransport).(codec.NodeRegisterBNotify)
	assert.Equal(t, uint32(3), notify.New.ServerID, "id 3 < id 5, so the higher-id peer is notified instead")
}

func TestNodeConnectRequestVerifiesTokenAndReplies(t *testing.T) {
	registry := newTestRegistry()
	back := session.NewBackSessionManager(func(addr string, sessionID uint64) {})
	cfg := Config{Self: ServerInfo{ServerID: 2, ServerType: "chat"}, MasterID: 1, AuthorKey: testAuthorKey}
	m := NewManager(cfg, NewCatalog(), back, registry, zap.NewNop(), func() uint32 { return 1 }, nil)

	transport := &capturingTransport{}
	back.HandleEvent(netio.Event{Kind: netio.KindNewConnection, Origin: netio.BackTCP, SessionID: 5, Transport: transport})

	md := netio.NewMessageDispatcher(netio.BackTCP)
	m.RegisterHandlers(md)
	md.HandleEvent(netio.Event{
		Kind: netio.KindNewMessage, Origin: netio.BackTCP, SessionID: 5, MsgID: codec.MsgNodeConnectBRequest,
		Message: codec.NodeConnectBRequest{ReqID: 3, ClientToken: auth.GenerateToken(testAuthorKey), Self: ServerInfo{ServerID: 3, ServerType: "session"}},
	})

	s, found := back.Get(5)
	require.True(t, found)
	assert.Equal(t, uint32(3), s.PeerServerID)

	resp := decodeLast(t, registry, transport).(codec.NodeConnectBResponse)
	assert.Equal(t, cfg.Self, resp.Self)
}

func TestNodeRegisterBNotifyDialsNewPeer(t *testing.T) {
	var dialedAddr string
	back := session.NewBackSessionManager(func(addr string, sessionID uint64) { dialedAddr = addr })
	catalog := NewCatalog()
	cfg := Config{Self: ServerInfo{ServerID: 2, ServerType: "chat"}, MasterID: 1, AuthorKey: testAuthorKey}
	m := NewManager(cfg, catalog, back, newTestRegistry(), zap.NewNop(), func() uint32 { return 1 }, nil)

	md := netio.NewMessageDispatcher(netio.BackTCP)
	m.RegisterHandlers(md)
	md.HandleEvent(netio.Event{
		Kind: netio.KindNewMessage, Origin: netio.BackTCP, SessionID: 1, MsgID: codec.MsgNodeRegisterBNotify,
		Message: codec.NodeRegisterBNotify{New: ServerInfo{ServerID: 5, ServerType: "session", BackHost: "10.0.0.5", BackPort: 9200}},
	})

	assert.Equal(t, "10.0.0.5:9200", dialedAddr)
	info, ok := catalog.Get(5)
	require.True(t, ok)
	assert.Equal(t, "session", info.ServerType)
}

func TestConnectFailedToMasterSchedulesBackedOffRedial(t *testing.T) {
	var dialCount int
	back := session.NewBackSessionManager(func(addr string, sessionID uint64) { dialCount++ })
	cfg := Config{
		Self:       ServerInfo{ServerID: 2, ServerType: "chat"},
		MasterID:   1,
		MasterHost: "10.0.0.1",
		MasterPort: 9000,
		AuthorKey:  testAuthorKey,
	}
	var nowMs int64
	tm := timer.NewManager(func() int64 { nowMs += 100000; return nowMs })
	m := NewManager(cfg, NewCatalog(), back, newTestRegistry(), zap.NewNop(), func() uint32 { return 1 }, tm)

	m.HandleEvent(netio.Event{Kind: netio.KindServerOpen, Origin: netio.BackTCP})
	require.Equal(t, 1, dialCount)

	sid := uint64(1)
	m.HandleEvent(netio.Event{Kind: netio.KindClientConnectFailed, Origin: netio.BackTCP, SessionID: sid, Err: assert.AnError})

	tm.Tick()
	assert.Equal(t, 2, dialCount, "a redial timer should have fired and dialed again")
}

func TestConnectFailedGivesUpAfterMaxAttempts(t *testing.T) {
	var dialCount int
	back := session.NewBackSessionManager(func(addr string, sessionID uint64) { dialCount++ })
	cfg := Config{
		Self:       ServerInfo{ServerID: 2, ServerType: "chat"},
		MasterID:   1,
		MasterHost: "10.0.0.1",
		MasterPort: 9000,
		AuthorKey:  testAuthorKey,
	}
	var nowMs int64
	tm := timer.NewManager(func() int64 { nowMs += 100000; return nowMs })
	m := NewManager(cfg, NewCatalog(), back, newTestRegistry(), zap.NewNop(), func() uint32 { return 1 }, tm)

	m.HandleEvent(netio.Event{Kind: netio.KindServerOpen, Origin: netio.BackTCP})
	for i := 0; i < maxConnectAttempts+2; i++ {
		m.HandleEvent(netio.Event{Kind: netio.KindClientConnectFailed, Origin: netio.BackTCP, SessionID: uint64(i + 1), Err: assert.AnError})
		tm.Tick()
	}

	assert.LessOrEqual(t, dialCount, maxConnectAttempts, "redialing stops once the attempt cap is hit")
}
