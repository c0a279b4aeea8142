package netio

// Handler receives every event popped off the queue. Returning is all a
// handler does; side effects happen through whatever session/cluster state
// the handler closes over. Order of registration is the order of delivery
// (spec §4.8).
type Handler interface {
	HandleEvent(e Event)
}

// HandlerFunc adapts a plain function to Handler.
type HandlerFunc func(e Event)

// HandleEvent implements Handler.
func (f HandlerFunc) HandleEvent(e Event) {
	f(e)
}

// Dispatcher fans every event out to an ordered list of registered
// handlers (spec §4.8: "the two session managers, the cluster manager, and
// the two message dispatchers").
type Dispatcher struct {
	handlers []Handler
}

// NewDispatcher returns an empty Dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{}
}

// Register appends h to the delivery order.
func (d *Dispatcher) Register(h Handler) {
	d.handlers = append(d.handlers, h)
}

// Dispatch delivers e to every registered handler in registration order.
func (d *Dispatcher) Dispatch(e Event) {
	for _, h := range d.handlers {
		h.HandleEvent(e)
	}
}

// MessageHandlerFunc processes one decoded message for a session.
type MessageHandlerFunc func(sessionID uint64, msg interface{})

// MessageDispatcher routes KindNewMessage events by msg_id to a
// msg_id-keyed handler table, filtered to a fixed set of origins (spec
// §4.8: back dispatcher filters to BackTCP, front dispatcher filters to
// FrontTCP|FrontWS). Lookup is O(1); an unknown id is passed to the
// OnUnknown callback, if one is set, and the message is then dropped.
type MessageDispatcher struct {
	origins  map[Origin]bool
	handlers map[interface{}]MessageHandlerFunc
	onUnknown func(e Event)
}

// NewMessageDispatcher returns a dispatcher that only reacts to events
// whose Origin is in origins.
func NewMessageDispatcher(origins ...Origin) *MessageDispatcher {
	set := make(map[Origin]bool, len(origins))
	for _, o := range origins {
		set[o] = true
	}
	return &MessageDispatcher{
		origins:  set,
		handlers: make(map[interface{}]MessageHandlerFunc),
	}
}

// OnUnknown sets the callback invoked when a NewMessage event's msg_id has
// no registered handler, e.g. to log-and-drop.
func (d *MessageDispatcher) OnUnknown(fn func(e Event)) {
	d.onUnknown = fn
}

// On registers fn for msgID. msgID is typically a codec.MsgID, kept as
// interface{} here so this package does not need to import codec beyond
// what Event already carries.
func (d *MessageDispatcher) On(msgID interface{}, fn MessageHandlerFunc) {
	d.handlers[msgID] = fn
}

// HandleEvent implements Handler. Non-NewMessage events and events outside
// the configured origin set are ignored.
func (d *MessageDispatcher) HandleEvent(e Event) {
	if e.Kind != KindNewMessage {
		return
	}
	if !d.origins[e.Origin] {
		return
	}
	fn, ok := d.handlers[e.MsgID]
	if !ok {
		if d.onUnknown != nil {
			d.onUnknown(e)
		}
		return
	}
	fn(e.SessionID, e.Message)
}
