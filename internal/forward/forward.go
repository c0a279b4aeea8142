// Package forward implements the RPC forwarding pipeline (spec §4.10):
// wrapping front-plane requests in back-plane envelopes, routing them to a
// chosen back session, delivering the inner message to a registered
// handler, and correlating the response back to the originating front
// session.
package forward

import (
	"go.uber.org/zap"

	"github.com/meshnode/meshnode/internal/codec"
	"github.com/meshnode/meshnode/internal/netio"
	"github.com/meshnode/meshnode/internal/router"
	"github.com/meshnode/meshnode/internal/session"
)

// Manager wires the front request/notify intake to the router and back
// session transport, and the back response intake back to the originating
// front session.
type Manager struct {
	registry *codec.Registry
	router   *router.Manager
	back     *session.BackSessionManager
	front    *session.FrontSessionManager
	log      *zap.Logger
}

// NewManager builds a forwarding Manager.
func NewManager(registry *codec.Registry, router *router.Manager, back *session.BackSessionManager, front *session.FrontSessionManager, log *zap.Logger) *Manager {
	return &Manager{registry: registry, router: router, back: back, front: front, log: log}
}

// RegisterHandlers installs the forwarding message catalog onto the front
// and back message dispatchers.
func (m *Manager) RegisterHandlers(frontMD, backMD *netio.MessageDispatcher) {
	frontMD.On(codec.MsgRpcMessageFRequest, m.onFrontRequest)
	frontMD.On(codec.MsgRpcMessageFNotify, m.onFrontNotify)
	backMD.On(codec.MsgRpcForwardMessageBResponse, m.onBackForwardResponse)
}

func (m *Manager) onFrontRequest(frontSessionID uint64, raw interface{}) {
	req, ok := raw.(codec.RpcMessageFRequest)
	if !ok {
		return
	}
	routedSessionID, ok := m.router.Route(req.ServerType, frontSessionID)
	if !ok {
		m.log.Warn("no back candidate for request, dropping", zap.String("server_type", req.ServerType))
		return
	}
	fwd := codec.RpcForwardMessageBRequest{
		ReqID:          req.ReqID,
		FrontSessionID: frontSessionID,
		Meta:           map[string]string{},
		MsgID:          req.MsgID,
		Message:        req.Message,
	}
	m.sendToBack(routedSessionID, fwd)
}

func (m *Manager) onFrontNotify(frontSessionID uint64, raw interface{}) {
	notify, ok := raw.(codec.RpcMessageFNotify)
	if !ok {
		return
	}
	routedSessionID, ok := m.router.Route(notify.ServerType, frontSessionID)
	if !ok {
		m.log.Warn("no back candidate for notify, dropping", zap.String("server_type", notify.ServerType))
		return
	}
	fwd := codec.RpcForwardMessageBNotify{
		FrontSessionID: frontSessionID,
		Meta:           map[string]string{},
		MsgID:          notify.MsgID,
		Message:        notify.Message,
	}
	m.sendToBack(routedSessionID, fwd)
}

func (m *Manager) onBackForwardResponse(backSessionID uint64, raw interface{}) {
	env, ok := raw.(codec.RpcForwardMessageBResponse)
	if !ok {
		return
	}
	front, found := m.front.Get(env.FrontSessionID)
	if !found {
		return
	}
	resp := codec.RpcMessageFResponse{ReqID: env.ReqID, MsgID: env.MsgID, Message: env.Message}
	frame, err := m.registry.Encode(resp)
	if err != nil {
		m.log.Error("encode RpcMessageFResponse failed", zap.Error(err))
		return
	}
	if err := front.Transport.Send(frame); err != nil {
		m.log.Error("send RpcMessageFResponse failed", zap.Error(err))
	}
}

func (m *Manager) sendToBack(sessionID uint64, msg interface{}) {
	s, found := m.back.Get(sessionID)
	if !found {
		return
	}
	frame, err := m.registry.Encode(msg)
	if err != nil {
		m.log.Error("encode forward envelope failed", zap.Error(err))
		return
	}
	if err := s.Transport.Send(frame); err != nil {
		m.log.Error("send forward envelope failed", zap.Error(err))
	}
}
