package worker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image/jpeg"
	"io"
	"sync"
	"time"

	"github.com/dj-oyu/driver-monitor/internal/logger"
	"github.com/dj-oyu/driver-monitor/pkg/types"
)

// ErrNotRunning is returned once the worker stream has closed
var ErrNotRunning = errors.New("worker not running")

// DefaultTimeout bounds one request/response round trip
const DefaultTimeout = 2 * time.Second

// DefaultJPEGQuality is used when encoding frames for the worker
const DefaultJPEGQuality = 85

// Client issues synchronous requests over a byte stream. Responses that
// arrive after their request timed out are discarded by sequence number.
type Client struct {
	mu      sync.Mutex // serializes requests
	w       io.Writer
	seq     uint64
	timeout time.Duration
	quality int

	responses chan Response
	done      chan struct{}
	readErr   error
	broken    bool // a write timed out mid-message

	// JPEG of the most recent frame, shared by the landmark and phone calls
	encMu     sync.Mutex
	lastFrame *types.Frame
	lastJPEG  []byte
}

// NewClient starts reading responses from r. timeout <= 0 uses DefaultTimeout.
func NewClient(w io.Writer, r io.Reader, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	c := &Client{
		w:         w,
		timeout:   timeout,
		quality:   DefaultJPEGQuality,
		responses: make(chan Response, 4),
		done:      make(chan struct{}),
	}
	go c.readLoop(r)
	return c
}

func (c *Client) readLoop(r io.Reader) {
	defer close(c.done)
	for {
		var resp Response
		if err := ReadMessage(r, &resp); err != nil {
			if !errors.Is(err, io.EOF) {
				logger.Warn("Worker", "Response stream closed: %v", err)
			}
			c.readErr = err
			return
		}
		c.responses <- resp
	}
}

// Call sends req and waits for the response with the same sequence number
func (c *Client) Call(ctx context.Context, req Request) (Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.broken {
		return Response{}, ErrNotRunning
	}
	select {
	case <-c.done:
		return Response{}, ErrNotRunning
	default:
	}

	c.seq++
	req.Seq = c.seq

	writeErr := make(chan error, 1)
	go func() { writeErr <- WriteMessage(c.w, req) }()

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	select {
	case err := <-writeErr:
		if err != nil {
			return Response{}, err
		}
	case <-timer.C:
		c.broken = true
		return Response{}, fmt.Errorf("%s request %d: write timeout", req.Op, req.Seq)
	case <-ctx.Done():
		c.broken = true
		return Response{}, ctx.Err()
	}

	for {
		select {
		case resp := <-c.responses:
			if resp.Seq < req.Seq {
				logger.Debug("Worker", "Discarding stale response %d", resp.Seq)
				continue
			}
			if resp.Error != "" {
				return resp, fmt.Errorf("%s request %d: %s", req.Op, req.Seq, resp.Error)
			}
			return resp, nil
		case <-c.done:
			return Response{}, ErrNotRunning
		case <-timer.C:
			return Response{}, fmt.Errorf("%s request %d: timeout after %v", req.Op, req.Seq, c.timeout)
		case <-ctx.Done():
			return Response{}, ctx.Err()
		}
	}
}

// Err returns the error that closed the response stream, if any
func (c *Client) Err() error {
	select {
	case <-c.done:
		return c.readErr
	default:
		return nil
	}
}

func (c *Client) encode(frame *types.Frame) ([]byte, error) {
	c.encMu.Lock()
	defer c.encMu.Unlock()
	if frame == c.lastFrame && c.lastJPEG != nil {
		return c.lastJPEG, nil
	}
	if frame.Image == nil {
		return nil, errors.New("frame has no image")
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, frame.Image, &jpeg.Options{Quality: c.quality}); err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	c.lastFrame, c.lastJPEG = frame, buf.Bytes()
	return c.lastJPEG, nil
}

func (c *Client) request(ctx context.Context, op string, frame *types.Frame) (Response, error) {
	data, err := c.encode(frame)
	if err != nil {
		return Response{}, err
	}
	return c.Call(ctx, Request{
		Op:        op,
		Width:     frame.Width,
		Height:    frame.Height,
		FrameData: data,
	})
}

// Landmarks returns the face meshes found in frame, in pixel units
func (c *Client) Landmarks(ctx context.Context, frame *types.Frame) ([]types.LandmarkSet, error) {
	resp, err := c.request(ctx, OpLandmarks, frame)
	if err != nil {
		return nil, err
	}
	return ToLandmarks(resp, frame.Width, frame.Height), nil
}

// PhonePresent reports whether the worker saw a phone in frame
func (c *Client) PhonePresent(ctx context.Context, frame *types.Frame) (bool, error) {
	resp, err := c.request(ctx, OpPhone, frame)
	if err != nil {
		return false, err
	}
	return resp.Phone, nil
}

// ToLandmarks converts response faces to landmark sets, scaling normalized
// coordinates by the frame size
func ToLandmarks(resp Response, width, height int) []types.LandmarkSet {
	if len(resp.Faces) == 0 {
		return nil
	}
	sx, sy := 1.0, 1.0
	if resp.Normalized {
		sx, sy = float64(width), float64(height)
	}
	out := make([]types.LandmarkSet, 0, len(resp.Faces))
	for _, face := range resp.Faces {
		lm := make(types.LandmarkSet, len(face))
		for i, p := range face {
			lm[i] = types.Point{X: p[0] * sx, Y: p[1] * sy}
		}
		out = append(out, lm)
	}
	return out
}
