// Package worker talks to the external landmark / phone detection process over
// a length-prefixed msgpack protocol on its stdin and stdout.
package worker

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/vmihailenco/msgpack/v5"
)

// Request operations
const (
	OpLandmarks = "landmarks"
	OpPhone     = "phone"
)

// MaxMessageSize bounds a single frame on the wire
const MaxMessageSize = 32 << 20

// Request asks the worker to analyse one JPEG-encoded frame
type Request struct {
	Op        string `msgpack:"op"`
	Seq       uint64 `msgpack:"seq"`
	Width     int    `msgpack:"width"`
	Height    int    `msgpack:"height"`
	FrameData []byte `msgpack:"frame_data"`
}

// Response carries the result of one request. Faces holds one [x, y] list
// per detected face, in pixels unless Normalized is set.
type Response struct {
	Seq        uint64         `msgpack:"seq"`
	Faces      [][][2]float64 `msgpack:"faces"`
	Normalized bool           `msgpack:"normalized"`
	Phone      bool           `msgpack:"phone"`
	Error      string         `msgpack:"error"`
}

// WriteMessage writes a 4-byte big-endian length prefix followed by the
// msgpack encoding of v
func WriteMessage(w io.Writer, v any) error {
	data, err := msgpack.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal msgpack: %w", err)
	}
	if len(data) > MaxMessageSize {
		return fmt.Errorf("message too large: %d bytes", len(data))
	}

	buf := make([]byte, 4+len(data))
	binary.BigEndian.PutUint32(buf, uint32(len(data)))
	copy(buf[4:], data)
	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	return nil
}

// ReadMessage reads one length-prefixed msgpack message into v
func ReadMessage(r io.Reader, v any) error {
	var lengthBuf [4]byte
	if _, err := io.ReadFull(r, lengthBuf[:]); err != nil {
		return err
	}
	n := binary.BigEndian.Uint32(lengthBuf[:])
	if n > MaxMessageSize {
		return fmt.Errorf("message too large: %d bytes", n)
	}

	data := make([]byte, n)
	if _, err := io.ReadFull(r, data); err != nil {
		return fmt.Errorf("read message body: %w", err)
	}
	if err := msgpack.Unmarshal(data, v); err != nil {
		return fmt.Errorf("unmarshal msgpack: %w", err)
	}
	return nil
}
