package forward

import (
	"errors"

	"go.uber.org/zap"

	"github.com/meshnode/meshnode/internal/codec"
	"github.com/meshnode/meshnode/internal/netio"
	"github.com/meshnode/meshnode/internal/session"
)

var (
	errUnregisteredResponseType = errors.New("forward: response type is not registered with the codec")
	errBackSessionGone          = errors.New("forward: back session no longer connected")
)

// RequestContext carries everything a business handler needs to answer one
// forwarded request: the decoded inner message, correlation ids, and which
// back session to reply on (spec §4.10 "the back session used for the
// response sends env on its return leg").
type RequestContext struct {
	ReqID          uint32
	FrontSessionID uint64
	BackSessionID  uint64
	Message        interface{}
}

// RequestHandler answers a forwarded request. It calls MessageDispatcher's
// SendResponse to reply.
type RequestHandler func(ctx RequestContext)

// NotifyHandler processes a forwarded fire-and-forget message.
type NotifyHandler func(frontSessionID uint64, msg interface{})

// MessageDispatcher is the worker-side registry of inner-message handlers
// that run after a forwarding envelope has been unwrapped (spec §4.10
// "RpcMessageDispatcher").
type MessageDispatcher struct {
	registry *codec.Registry
	back     *session.BackSessionManager
	log      *zap.Logger

	requestHandlers map[codec.MsgID]RequestHandler
	notifyHandlers  map[codec.MsgID]NotifyHandler
}

// NewMessageDispatcher wires a worker-side dispatcher.
func NewMessageDispatcher(registry *codec.Registry, back *session.BackSessionManager, log *zap.Logger) *MessageDispatcher {
	return &MessageDispatcher{
		registry:        registry,
		back:            back,
		log:             log,
		requestHandlers: make(map[codec.MsgID]RequestHandler),
		notifyHandlers:  make(map[codec.MsgID]NotifyHandler),
	}
}

// OnRequest registers h for inner messages of msgID arriving as a request.
func (d *MessageDispatcher) OnRequest(msgID codec.MsgID, h RequestHandler) {
	d.requestHandlers[msgID] = h
}

// OnNotify registers h for inner messages of msgID arriving as a notify.
func (d *MessageDispatcher) OnNotify(msgID codec.MsgID, h NotifyHandler) {
	d.notifyHandlers[msgID] = h
}

// RegisterOn installs this dispatcher's back-plane entry points onto md
// (spec §4.10 back request/notify pipelines).
func (d *MessageDispatcher) RegisterOn(md *netio.MessageDispatcher) {
	md.On(codec.MsgRpcForwardMessageBRequest, d.onForwardRequest)
	md.On(codec.MsgRpcForwardMessageBNotify, d.onForwardNotify)
}

func (d *MessageDispatcher) onForwardRequest(backSessionID uint64, raw interface{}) {
	fwd, ok := raw.(codec.RpcForwardMessageBRequest)
	if !ok {
		return
	}
	inner, ok := d.registry.DecodePayload(fwd.MsgID, fwd.Message)
	if !ok {
		d.log.Warn("forwarded request carries an undecodable msg_id", zap.Uint16("msg_id", uint16(fwd.MsgID)))
		return
	}
	h, ok := d.requestHandlers[fwd.MsgID]
	if !ok {
		d.log.Warn("no request handler registered for msg_id", zap.Uint16("msg_id", uint16(fwd.MsgID)))
		return
	}
	h(RequestContext{ReqID: fwd.ReqID, FrontSessionID: fwd.FrontSessionID, BackSessionID: backSessionID, Message: inner})
}

func (d *MessageDispatcher) onForwardNotify(backSessionID uint64, raw interface{}) {
	notify, ok := raw.(codec.RpcForwardMessageBNotify)
	if !ok {
		return
	}
	inner, ok := d.registry.DecodePayload(notify.MsgID, notify.Message)
	if !ok {
		d.log.Warn("forwarded notify carries an undecodable msg_id", zap.Uint16("msg_id", uint16(notify.MsgID)))
		return
	}
	h, ok := d.notifyHandlers[notify.MsgID]
	if !ok {
		d.log.Warn("no notify handler registered for msg_id", zap.Uint16("msg_id", uint16(notify.MsgID)))
		return
	}
	h(notify.FrontSessionID, inner)
}

// SendResponse encodes response, wraps it in a forwarding envelope
// addressed back to ctx.FrontSessionID, and sends it on the back session
// the request arrived on (spec §4.10 response pipeline).
func (d *MessageDispatcher) SendResponse(ctx RequestContext, response interface{}) error {
	msgID, ok := d.registry.IDFor(response)
	if !ok {
		return errUnregisteredResponseType
	}
	body, err := d.registry.EncodePayload(response)
	if err != nil {
		return err
	}
	env := codec.RpcForwardMessageBResponse{
		ReqID:          ctx.ReqID,
		FrontSessionID: ctx.FrontSessionID,
		Meta:           map[string]string{},
		MsgID:          msgID,
		Message:        body,
	}
	s, found := d.back.Get(ctx.BackSessionID)
	if !found {
		return errBackSessionGone
	}
	frame, err := d.registry.Encode(env)
	if err != nil {
		return err
	}
	return s.Transport.Send(frame)
}
