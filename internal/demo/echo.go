// Package demo provides the sample "chat" server-type echo handler used to
// exercise the RPC forwarding pipeline end to end. It is explicitly out of
// the core's scope (spec.md §1 "Business-level message handlers"); the
// core only exposes the registration surface this plugs into.
package demo

import (
	"github.com/meshnode/meshnode/internal/codec"
	"github.com/meshnode/meshnode/internal/forward"
)

// RegisterEchoHandler wires ChatTestRequest to a handler that replies with
// a ChatTestResponse echoing the request content, prefixed so tests can
// tell the round trip actually crossed the forwarding pipeline.
func RegisterEchoHandler(d *forward.MessageDispatcher) {
	d.OnRequest(codec.MsgChatTestRequest, func(ctx forward.RequestContext) {
		req, ok := ctx.Message.(codec.ChatTestRequest)
		if !ok {
			return
		}
		resp := codec.ChatTestResponse{Content: "Echo from chat server: " + req.Content}
		_ = d.SendResponse(ctx, resp)
	})
}
