package webmonitor

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// broadcaster fans values out to subscribers. Slow subscribers miss values
// instead of stalling the publisher.
type broadcaster[T any] struct {
	mu      sync.Mutex
	clients map[int]chan T
	nextID  int
	closed  bool
	dropped uint64
	buffer  int
}

func newBroadcaster[T any](buffer int) *broadcaster[T] {
	return &broadcaster[T]{
		clients: make(map[int]chan T),
		buffer:  buffer,
	}
}

// Subscribe returns a subscription id and its channel. The channel is
// closed on Unsubscribe or Close.
func (b *broadcaster[T]) Subscribe() (int, <-chan T) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan T, b.buffer)
	if b.closed {
		close(ch)
		return -1, ch
	}
	id := b.nextID
	b.nextID++
	b.clients[id] = ch
	return id, ch
}

func (b *broadcaster[T]) Unsubscribe(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if ch, ok := b.clients[id]; ok {
		close(ch)
		delete(b.clients, id)
	}
}

func (b *broadcaster[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.clients)
}

func (b *broadcaster[T]) broadcast(v T) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, ch := range b.clients {
		select {
		case ch <- v:
		default:
			b.dropped++
		}
	}
}

func (b *broadcaster[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.clients {
		close(ch)
		delete(b.clients, id)
	}
}

// SerializedEvent holds pre-serialized data in both formats.
// This avoids redundant serialization when broadcasting to multiple clients.
type SerializedEvent struct {
	JSONData     []byte // Pre-serialized JSON
	ProtobufData []byte // google.protobuf.Struct, base64 encoded for SSE
}

// Data returns the payload for the negotiated format
func (e *SerializedEvent) Data(useProtobuf bool) []byte {
	if useProtobuf {
		return e.ProtobufData
	}
	return e.JSONData
}

// serialize renders v as JSON and as a base64 protobuf Struct with the same
// field names.
func serialize(v any) (*SerializedEvent, error) {
	jsonData, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal json: %w", err)
	}
	return serializeJSON(jsonData)
}

func serializeJSON(jsonData []byte) (*SerializedEvent, error) {
	var fields map[string]any
	if err := json.Unmarshal(jsonData, &fields); err != nil {
		return nil, fmt.Errorf("payload is not an object: %w", err)
	}
	st, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, fmt.Errorf("build struct: %w", err)
	}
	pbData, err := proto.Marshal(st)
	if err != nil {
		return nil, fmt.Errorf("marshal protobuf: %w", err)
	}

	encoded := make([]byte, base64.StdEncoding.EncodedLen(len(pbData)))
	base64.StdEncoding.Encode(encoded, pbData)
	return &SerializedEvent{JSONData: jsonData, ProtobufData: encoded}, nil
}

// eventPayload adds the session id to an entry's flat record
func eventPayload(sessionID string, entryJSON []byte) (*SerializedEvent, error) {
	var fields map[string]any
	if err := json.Unmarshal(entryJSON, &fields); err != nil {
		return nil, err
	}
	if sessionID != "" {
		fields["session_id"] = sessionID
	}
	return serialize(fields)
}
