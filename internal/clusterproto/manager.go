package clusterproto

import (
	"errors"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/meshnode/meshnode/internal/auth"
	"github.com/meshnode/meshnode/internal/codec"
	"github.com/meshnode/meshnode/internal/netio"
	"github.com/meshnode/meshnode/internal/session"
	"github.com/meshnode/meshnode/internal/timer"
)

// maxConnectAttempts bounds the total number of connect attempts (the first
// dial plus every redial) the cluster manager makes toward a peer that keeps
// failing to connect, before it gives up and only waits for the peer to dial
// back in (or for the master to notify again).
const maxConnectAttempts = 6

var errSessionNotFound = errors.New("clusterproto: session not found")

// Config is the static, read-once-at-startup identity of this node within
// the cluster (spec §6 configuration schema, narrowed to what the cluster
// protocol itself needs).
type Config struct {
	Self       ServerInfo
	IsMaster   bool
	MasterID   uint32
	MasterHost string
	MasterPort uint16
	AuthorKey  string
}

// dialPurpose records why an outbound back-plane session was created, so
// the eventual ClientConnectSuccess/ClientConnectFailed event knows what
// to do next.
type dialPurpose struct {
	toMaster bool
	peer     ServerInfo
}

// dialTarget is the redial key: either "the master" or a specific peer
// server id, used to keep one backoff sequence alive across attempts that
// each mint a fresh session id.
type dialTarget struct {
	toMaster bool
	peerID   uint32
}

func targetFor(p dialPurpose) dialTarget {
	if p.toMaster {
		return dialTarget{toMaster: true}
	}
	return dialTarget{peerID: p.peer.ServerID}
}

// Manager drives the non-master node state machine and the master-side
// handlers of spec §4.9. It registers itself on the event dispatcher for
// lifecycle events (ServerOpen, ClientConnect*) and on the back-plane
// message dispatcher for the cluster message catalog.
type Manager struct {
	cfg      Config
	catalog  *Catalog
	back     *session.BackSessionManager
	registry *codec.Registry
	log      *zap.Logger
	nowMs32  func() uint32
	timers   *timer.Manager

	pending         map[uint64]dialPurpose
	retry           map[dialTarget]*backoff.ExponentialBackOff
	attempts        map[dialTarget]int
	masterSessionID uint64
	hasMasterDial   bool
}

// NewManager wires a cluster Manager. nowMs32 supplies the truncated
// millisecond clock used to mint req_id values (spec §4.9 "req_id =
// now_ms_u32"); tests inject a deterministic one. timers schedules redials
// after a failed connect attempt, spaced by the backoff library's default
// exponential intervals, up to maxConnectAttempts in all;
// cluster.connect_timeout_ms is not consulted. A nil timers disables
// redialing (tests that don't exercise it can omit it).
func NewManager(cfg Config, catalog *Catalog, back *session.BackSessionManager, registry *codec.Registry, log *zap.Logger, nowMs32 func() uint32, timers *timer.Manager) *Manager {
	return &Manager{
		cfg:      cfg,
		catalog:  catalog,
		back:     back,
		registry: registry,
		log:      log,
		nowMs32:  nowMs32,
		timers:   timers,
		pending:  make(map[uint64]dialPurpose),
		retry:    make(map[dialTarget]*backoff.ExponentialBackOff),
		attempts: make(map[dialTarget]int),
	}
}

// HandleEvent implements netio.Handler for back-plane lifecycle events.
func (m *Manager) HandleEvent(e netio.Event) {
	if e.Origin != netio.BackTCP {
		return
	}
	switch e.Kind {
	case netio.KindServerOpen:
		m.onServerOpen()
	case netio.KindClientConnectSuccess:
		m.onClientConnectSuccess(e.SessionID)
	case netio.KindClientConnectFailed:
		m.onClientConnectFailed(e.SessionID, e.Err)
	}
}

// onServerOpen kicks off the non-master bring-up: dial the master (spec
// §4.9 "on loop ServerOpen(BackTcp, master is configured and self !=
// master)"). Masters never dial.
func (m *Manager) onServerOpen() {
	if m.cfg.IsMaster {
		return
	}
	sid := m.back.CreateClientSession(m.cfg.MasterHost, m.cfg.MasterPort)
	m.pending[sid] = dialPurpose{toMaster: true}
	m.masterSessionID = sid
	m.hasMasterDial = true
	m.log.Info("dialing master", zap.Uint64("session_id", sid),
		zap.String("addr", m.cfg.MasterHost), zap.Uint16("port", m.cfg.MasterPort))
}

func (m *Manager) onClientConnectSuccess(sid uint64) {
	purpose, ok := m.pending[sid]
	if !ok {
		return
	}
	delete(m.pending, sid)
	target := targetFor(purpose)
	delete(m.retry, target)
	delete(m.attempts, target)

	token := auth.GenerateToken(m.cfg.AuthorKey)
	if purpose.toMaster {
		req := codec.NodeRegisterBRequest{ReqID: m.nowMs32(), ClientToken: token, Self: m.cfg.Self}
		if err := m.sendTo(sid, req); err != nil {
			m.log.Error("send NodeRegisterBRequest failed", zap.Error(err))
			return
		}
		// optimistic; master kills us on bad token (spec §4.9)
		m.back.AuthorizeSession(sid, m.cfg.MasterID, "master")
		return
	}

	req := codec.NodeConnectBRequest{ReqID: m.nowMs32(), ClientToken: token, Self: m.cfg.Self}
	if err := m.sendTo(sid, req); err != nil {
		m.log.Error("send NodeConnectBRequest failed", zap.Error(err))
		return
	}
	// outbound leg is trusted to have opened the socket correctly (spec
	// §4.9); full authorization with the peer's identity lands when the
	// NodeConnectBResponse arrives.
}

func (m *Manager) onClientConnectFailed(sid uint64, err error) {
	purpose, ok := m.pending[sid]
	if !ok {
		return
	}
	delete(m.pending, sid)

	if purpose.toMaster {
		m.log.Error("connect to master failed", zap.Error(err))
	} else {
		m.log.Error("connect to peer failed", zap.Uint32("peer_id", purpose.peer.ServerID), zap.Error(err))
	}
	m.scheduleRedial(purpose)
}

// scheduleRedial arranges a retry of purpose's connect attempt after an
// exponentially growing delay, up to maxConnectAttempts. Redials run
// through the timer wheel so the retry fires back onto the loop thread
// like everything else (spec §4.11); no goroutine here ever blocks.
func (m *Manager) scheduleRedial(purpose dialPurpose) {
	if m.timers == nil {
		return
	}
	target := targetFor(purpose)

	m.attempts[target]++
	if m.attempts[target] >= maxConnectAttempts {
		m.log.Error("giving up reconnecting", zap.Bool("to_master", purpose.toMaster), zap.Uint32("peer_id", purpose.peer.ServerID))
		delete(m.attempts, target)
		delete(m.retry, target)
		return
	}

	bo, ok := m.retry[target]
	if !ok {
		bo = backoff.NewExponentialBackOff()
		m.retry[target] = bo
	}
	delay := bo.NextBackOff()

	m.timers.Schedule(delay.Milliseconds(), 1, func() {
		if purpose.toMaster {
			sid := m.back.CreateClientSession(m.cfg.MasterHost, m.cfg.MasterPort)
			m.pending[sid] = dialPurpose{toMaster: true}
			m.masterSessionID = sid
		} else {
			sid := m.back.CreateClientSession(purpose.peer.BackHost, purpose.peer.BackPort)
			m.pending[sid] = dialPurpose{peer: purpose.peer}
		}
	})
}

// RegisterHandlers installs the cluster message catalog onto the
// back-plane message dispatcher (spec §4.8/§4.9).
func (m *Manager) RegisterHandlers(md *netio.MessageDispatcher) {
	md.On(codec.MsgNodeRegisterBResponse, m.onNodeRegisterBResponse)
	md.On(codec.MsgNodeConnectBResponse, m.onNodeConnectBResponse)
	md.On(codec.MsgNodeRegisterBNotify, m.onNodeRegisterBNotify)
	md.On(codec.MsgNodeRegisterBRequest, m.onNodeRegisterBRequest)
	md.On(codec.MsgNodeConnectBRequest, m.onNodeConnectBRequest)
}

// onNodeRegisterBResponse: client side, received after registering with
// the master. Seeds a client session toward every lower-id peer (spec
// §4.9).
func (m *Manager) onNodeRegisterBResponse(sessionID uint64, raw interface{}) {
	resp, ok := raw.(codec.NodeRegisterBResponse)
	if !ok {
		return
	}
	for _, peer := range resp.Servers {
		if peer.ServerID == m.cfg.Self.ServerID {
			continue
		}
		sid := m.back.CreateClientSession(peer.BackHost, peer.BackPort)
		m.pending[sid] = dialPurpose{peer: peer}
	}
}

// onNodeConnectBResponse: client side, a dialed peer acknowledged our
// NodeConnectBRequest (spec §4.9).
func (m *Manager) onNodeConnectBResponse(sessionID uint64, raw interface{}) {
	resp, ok := raw.(codec.NodeConnectBResponse)
	if !ok {
		return
	}
	m.catalog.Add(resp.Self)
	m.back.AuthorizeSession(sessionID, resp.Self.ServerID, resp.Self.ServerType)
}

// onNodeRegisterBNotify: the master informed us (a higher-id, already
// registered node) of a newly registered lower-id peer. Dial it (spec
// §4.9 "server_catalog.add(new); create_client_session(new.id,
// new.addr)").
func (m *Manager) onNodeRegisterBNotify(sessionID uint64, raw interface{}) {
	notify, ok := raw.(codec.NodeRegisterBNotify)
	if !ok {
		return
	}
	m.catalog.Add(notify.New)
	sid := m.back.CreateClientSession(notify.New.BackHost, notify.New.BackPort)
	m.pending[sid] = dialPurpose{peer: notify.New}
}

// onNodeRegisterBRequest: master side. Verifies the token, authorizes the
// caller, replies with every lower-id peer, and notifies every connected
// higher-id peer of the new arrival (spec §4.9).
func (m *Manager) onNodeRegisterBRequest(sessionID uint64, raw interface{}) {
	req, ok := raw.(codec.NodeRegisterBRequest)
	if !ok {
		return
	}
	if !auth.VerifyToken(req.ClientToken, m.cfg.AuthorKey) {
		m.log.Error("bad token on NodeRegisterBRequest", zap.Uint32("claimed_id", req.Self.ServerID))
		m.back.RemoveBadTokenSession(sessionID)
		return
	}

	m.back.AuthorizeSession(sessionID, req.Self.ServerID, req.Self.ServerType)
	if replaced := m.catalog.Add(req.Self); replaced {
		m.log.Warn("server_catalog replaced an existing entry", zap.Uint32("server_id", req.Self.ServerID))
	}

	var lower []ServerInfo
	for _, entry := range m.catalog.All() {
		if entry.ServerID < req.Self.ServerID && entry.ServerID != m.cfg.MasterID {
			lower = append(lower, entry)
		}
	}
	resp := codec.NodeRegisterBResponse{ReqID: req.ReqID, Servers: lower}
	if err := m.sendTo(sessionID, resp); err != nil {
		m.log.Error("send NodeRegisterBResponse failed", zap.Error(err))
		return
	}

	for _, entry := range m.catalog.All() {
		if entry.ServerID <= req.Self.ServerID || entry.ServerID == m.cfg.MasterID {
			continue
		}
		if peerSession, ok := m.back.FindAuthorizedByPeerID(entry.ServerID); ok {
			notify := codec.NodeRegisterBNotify{New: req.Self}
			if err := m.sendTo(peerSession.SessionID, notify); err != nil {
				m.log.Error("send NodeRegisterBNotify failed", zap.Error(err))
			}
		}
	}
}

// onNodeConnectBRequest: non-master side, an unsolicited connect from a
// higher-id peer (spec §4.9).
func (m *Manager) onNodeConnectBRequest(sessionID uint64, raw interface{}) {
	req, ok := raw.(codec.NodeConnectBRequest)
	if !ok {
		return
	}
	if !auth.VerifyToken(req.ClientToken, m.cfg.AuthorKey) {
		m.log.Error("bad token on NodeConnectBRequest", zap.Uint32("claimed_id", req.Self.ServerID))
		m.back.RemoveBadTokenSession(sessionID)
		return
	}

	m.back.AuthorizeSession(sessionID, req.Self.ServerID, req.Self.ServerType)
	m.catalog.Add(req.Self)

	resp := codec.NodeConnectBResponse{ReqID: req.ReqID, Self: m.cfg.Self}
	if err := m.sendTo(sessionID, resp); err != nil {
		m.log.Error("send NodeConnectBResponse failed", zap.Error(err))
	}
}

func (m *Manager) sendTo(sessionID uint64, msg interface{}) error {
	s, ok := m.back.GetAny(sessionID)
	if !ok {
		return errSessionNotFound
	}
	frame, err := m.registry.Encode(msg)
	if err != nil {
		return err
	}
	return s.Transport.Send(frame)
}
