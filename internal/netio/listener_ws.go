package netio

import (
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/meshnode/meshnode/internal/codec"
)

// WSListener serves one front-plane WebSocket endpoint over an
// http.Server, upgrading every accepted request to a binary WebSocket
// connection framed the same way as the TCP front plane (spec §4.6).
type WSListener struct {
	origin   Origin
	registry *codec.Registry
	queue    *Queue
	nextSID  func() uint64

	upgrader websocket.Upgrader
	server   *http.Server
}

// ListenWS builds a WSListener bound to addr at path, accepting from any
// origin (the cluster is assumed to sit behind a trusted edge; spec §6
// does not specify browser-origin policy).
func ListenWS(addr, path string, registry *codec.Registry, queue *Queue, nextSID func() uint64) *WSListener {
	l := &WSListener{
		origin:   FrontWS,
		registry: registry,
		queue:    queue,
		nextSID:  nextSID,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc(path, l.handleUpgrade)
	l.server = &http.Server{Addr: addr, Handler: mux}
	return l
}

func (l *WSListener) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := l.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	sid := l.nextSID()
	transport := newWSTransport(conn)
	l.queue.Push(Event{
		Kind:       KindNewConnection,
		Origin:     l.origin,
		SessionID:  sid,
		RemoteAddr: conn.RemoteAddr().String(),
		Transport:  transport,
	})
	go runWSReader(conn, l.origin, sid, l.registry, l.queue)
}

// Serve runs the HTTP server until Close is called. Like TCPListener.Serve,
// it pushes KindServerOpen before blocking.
func (l *WSListener) Serve() error {
	l.queue.Push(Event{Kind: KindServerOpen, Origin: l.origin, RemoteAddr: l.server.Addr})
	return l.server.ListenAndServe()
}

// Close shuts down the underlying HTTP server.
func (l *WSListener) Close() error {
	return l.server.Close()
}
