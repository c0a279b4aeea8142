// Package codec implements the wire format shared by every plane:
// [msg_id:u16 BE][len:u16 BE][payload:len bytes], with payload encoding
// delegated to a msg_id-keyed registry (spec §4.4). Per-message encoding
// uses encoding/gob, the same codec the teacher repository already reaches
// for to move its own cluster envelopes across the wire (cluster.go calls
// gob.Register for exactly this purpose).
package codec

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"reflect"
	"sync"

	"github.com/meshnode/meshnode/internal/buffer"
)

// MsgID identifies a registered message type on the wire.
type MsgID uint16

// HeaderLen is the size in bytes of the [msg_id][len] frame header.
const HeaderLen = 4

// MaxPayloadLen is the largest payload a single frame may carry (spec §6).
const MaxPayloadLen = 65535

// Registry is a bijective map between MsgID and a decoder/encoder for the
// Go type registered under it. It must be fully populated before any
// transport using it accepts connections (spec §4.4); registration is not
// safe to race with decode calls, so callers populate it once at init and
// treat it as read-only afterward.
type Registry struct {
	mu       sync.RWMutex
	byID     map[MsgID]reflect.Type
	byType   map[reflect.Type]MsgID
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		byID:   make(map[MsgID]reflect.Type),
		byType: make(map[reflect.Type]MsgID),
	}
}

// Register associates id with the concrete type of sample (a zero value or
// pointer used only for its type). Panics on a duplicate id or type, which
// is a programming error caught at startup, not a runtime condition.
func (r *Registry) Register(id MsgID, sample interface{}) {
	t := reflect.TypeOf(sample)
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byID[id]; exists {
		panic(fmt.Sprintf("codec: msg_id %d already registered", id))
	}
	if _, exists := r.byType[t]; exists {
		panic(fmt.Sprintf("codec: type %s already registered", t))
	}
	r.byID[id] = t
	r.byType[t] = id
	gob.Register(reflect.New(t).Elem().Interface())
}

// IDFor returns the msg_id registered for the concrete type of v.
func (r *Registry) IDFor(v interface{}) (MsgID, bool) {
	t := reflect.TypeOf(v)
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byType[t]
	return id, ok
}

// EncodePayload gob-encodes v's value without the frame header — used when
// a forwarding envelope carries the inner message as an opaque byte slice
// (spec §4.10).
func (r *Registry) EncodePayload(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Encode serializes v as a complete wire frame: header plus payload.
func (r *Registry) Encode(v interface{}) ([]byte, error) {
	id, ok := r.IDFor(v)
	if !ok {
		return nil, fmt.Errorf("codec: type %T is not registered", v)
	}
	payload, err := r.EncodePayload(v)
	if err != nil {
		return nil, err
	}
	if len(payload) > MaxPayloadLen {
		return nil, fmt.Errorf("codec: payload of %d bytes exceeds max %d", len(payload), MaxPayloadLen)
	}

	out := make([]byte, HeaderLen+len(payload))
	binary.BigEndian.PutUint16(out[0:2], uint16(id))
	binary.BigEndian.PutUint16(out[2:4], uint16(len(payload)))
	copy(out[HeaderLen:], payload)
	return out, nil
}

// DecodePayload decodes raw gob bytes into the type registered under id.
// Returns (nil, false) if id is unknown — the caller must treat this as
// StreamDataNotExpected per spec §4.4/§7.
func (r *Registry) DecodePayload(id MsgID, raw []byte) (interface{}, bool) {
	r.mu.RLock()
	t, ok := r.byID[id]
	r.mu.RUnlock()
	if !ok {
		return nil, false
	}

	ptr := reflect.New(t)
	if err := gob.NewDecoder(bytes.NewReader(raw)).DecodeValue(ptr.Elem()); err != nil {
		return nil, false
	}
	return ptr.Elem().Interface(), true
}

// Decoded is the result of successfully framing one message off a Dynamic
// buffer.
type Decoded struct {
	ID      MsgID
	Value   interface{}
	RawBody []byte
}

// TryDecodeFrame attempts to extract exactly one frame from buf per the
// framing loop in spec §4.5. It returns (nil, false, false) when fewer than
// a full frame is buffered (caller should await more bytes). It returns
// (nil, false, true) when a full frame was present but the msg_id has no
// registered decoder or the payload does not decode (StreamDataNotExpected
// case); the bad frame has already been consumed from buf, so the caller
// does not skip anything itself. Otherwise it returns the decoded frame
// and true.
func (r *Registry) TryDecodeFrame(buf *buffer.Dynamic) (*Decoded, bool, bool) {
	if buf.Readable() < HeaderLen {
		return nil, false, false
	}
	msgIDRaw, _ := buf.PeekU16(0)
	msgLen, _ := buf.PeekU16(2)

	if buf.Readable() < HeaderLen+int(msgLen) {
		return nil, false, false
	}

	buf.Skip(2)
	buf.Skip(2)
	raw := buf.ReadBytes(int(msgLen))

	id := MsgID(msgIDRaw)
	val, ok := r.DecodePayload(id, raw)
	if !ok {
		return nil, false, true
	}
	return &Decoded{ID: id, Value: val, RawBody: raw}, true, false
}
