package codec

// Message id space. Values below 100 are reserved for the cluster
// membership protocol (spec §4.9), 100-199 for RPC forwarding (spec
// §4.10), and 1000+ for demonstration business messages used by the
// sample "chat" handler exercised in the test suite (spec §8 S4).
const (
	MsgNodeRegisterBRequest  MsgID = 1
	MsgNodeRegisterBResponse MsgID = 2
	MsgNodeConnectBRequest   MsgID = 3
	MsgNodeConnectBResponse  MsgID = 4
	MsgNodeRegisterBNotify   MsgID = 5

	MsgRpcMessageFRequest  MsgID = 101
	MsgRpcMessageFNotify   MsgID = 102
	MsgRpcMessageFResponse MsgID = 103

	MsgRpcForwardMessageBRequest  MsgID = 111
	MsgRpcForwardMessageBNotify   MsgID = 112
	MsgRpcForwardMessageBResponse MsgID = 113

	MsgChatTestRequest  MsgID = 1001
	MsgChatTestResponse MsgID = 1002
)

// ServerInfo is the immutable catalog record for one cluster node (spec
// §3).
type ServerInfo struct {
	ServerID   uint32
	ServerType string
	BackHost   string
	BackPort   uint16
}

// NodeRegisterBRequest is sent by a non-master node dialing the master.
type NodeRegisterBRequest struct {
	ReqID       uint32
	ClientToken string
	Self        ServerInfo
}

// NodeRegisterBResponse is the master's reply, seeding lower-id peers.
type NodeRegisterBResponse struct {
	ReqID   uint32
	Servers []ServerInfo
}

// NodeConnectBRequest is sent peer-to-peer by the higher-id node of a pair.
type NodeConnectBRequest struct {
	ReqID       uint32
	ClientToken string
	Self        ServerInfo
}

// NodeConnectBResponse answers a NodeConnectBRequest.
type NodeConnectBResponse struct {
	ReqID uint32
	Self  ServerInfo
}

// NodeRegisterBNotify is fanned out by the master to higher-id peers when a
// new node registers.
type NodeRegisterBNotify struct {
	New ServerInfo
}

// RpcMessageFRequest is a front-plane client request routed by server type.
type RpcMessageFRequest struct {
	ReqID      uint32
	ServerType string
	MsgID      MsgID
	Message    []byte
}

// RpcMessageFNotify is the fire-and-forget counterpart of
// RpcMessageFRequest.
type RpcMessageFNotify struct {
	ServerType string
	MsgID      MsgID
	Message    []byte
}

// RpcMessageFResponse carries a back-plane handler's reply to the
// originating front client.
type RpcMessageFResponse struct {
	ReqID   uint32
	MsgID   MsgID
	Message []byte
}

// RpcForwardMessageBRequest wraps a front request for delivery to a back
// session (spec §4.10).
type RpcForwardMessageBRequest struct {
	ReqID           uint32
	FrontSessionID  uint64
	Meta            map[string]string
	MsgID           MsgID
	Message         []byte
}

// RpcForwardMessageBNotify is the notify counterpart with no ReqID.
type RpcForwardMessageBNotify struct {
	FrontSessionID uint64
	Meta           map[string]string
	MsgID          MsgID
	Message        []byte
}

// RpcForwardMessageBResponse carries a business handler's reply back
// through the forwarding back session to the originating front session.
type RpcForwardMessageBResponse struct {
	ReqID          uint32
	FrontSessionID uint64
	Meta           map[string]string
	MsgID          MsgID
	Message        []byte
}

// ChatTestRequest is the demonstration echo business message used by the
// sample "chat" server type handler and by the S4 acceptance scenario.
type ChatTestRequest struct {
	Content string
}

// ChatTestResponse is the reply to ChatTestRequest.
type ChatTestResponse struct {
	Content string
}

// RegisterCatalog populates r with every message type defined by this
// package. Must run before any listener using r accepts connections (spec
// §4.4).
func RegisterCatalog(r *Registry) {
	r.Register(MsgNodeRegisterBRequest, NodeRegisterBRequest{})
	r.Register(MsgNodeRegisterBResponse, NodeRegisterBResponse{})
	r.Register(MsgNodeConnectBRequest, NodeConnectBRequest{})
	r.Register(MsgNodeConnectBResponse, NodeConnectBResponse{})
	r.Register(MsgNodeRegisterBNotify, NodeRegisterBNotify{})

	r.Register(MsgRpcMessageFRequest, RpcMessageFRequest{})
	r.Register(MsgRpcMessageFNotify, RpcMessageFNotify{})
	r.Register(MsgRpcMessageFResponse, RpcMessageFResponse{})

	r.Register(MsgRpcForwardMessageBRequest, RpcForwardMessageBRequest{})
	r.Register(MsgRpcForwardMessageBNotify, RpcForwardMessageBNotify{})
	r.Register(MsgRpcForwardMessageBResponse, RpcForwardMessageBResponse{})

	r.Register(MsgChatTestRequest, ChatTestRequest{})
	r.Register(MsgChatTestResponse, ChatTestResponse{})
}
