// Package shm reads camera frames published by the capture daemon into a
// POSIX shared-memory ring buffer.
package shm

/*
#cgo LDFLAGS: -lrt -lpthread

#include <stdlib.h>
#include <stdint.h>
#include <time.h>
#include <sys/mman.h>
#include <fcntl.h>
#include <unistd.h>
#include <string.h>
#include <semaphore.h>
#include <errno.h>

#ifndef EINVAL
#define EINVAL 22
#endif

#define RING_BUFFER_SIZE 8
#define MAX_FRAME_SIZE (1280 * 720 * 3)

typedef struct {
    uint64_t frame_number;
    struct timespec timestamp;
    int width;
    int height;
    int format;
    size_t data_size;
    uint8_t data[MAX_FRAME_SIZE];
} Frame;

typedef struct {
    volatile uint32_t write_index;
    uint8_t new_frame_sem[32];  // sem_t (32 bytes on Linux)
    Frame frames[RING_BUFFER_SIZE];
} FrameRing;

// RDWR is needed for sem_timedwait
FrameRing* open_ring(const char* name) {
    int fd = shm_open(name, O_RDWR, 0666);
    if (fd == -1) {
        return NULL;
    }
    FrameRing* ring = (FrameRing*)mmap(NULL, sizeof(FrameRing),
        PROT_READ | PROT_WRITE, MAP_SHARED, fd, 0);
    close(fd);
    if (ring == MAP_FAILED) {
        return NULL;
    }
    return ring;
}

// Returns 0 on success, negative errno otherwise (-ETIMEDOUT on timeout)
int wait_frame(FrameRing* ring, int timeout_ms) {
    if (ring == NULL) {
        return -EINVAL;
    }
    struct timespec ts;
    if (clock_gettime(CLOCK_REALTIME, &ts) != 0) {
        return -errno;
    }
    ts.tv_sec += timeout_ms / 1000;
    ts.tv_nsec += (timeout_ms % 1000) * 1000000;
    if (ts.tv_nsec >= 1000000000) {
        ts.tv_sec += 1;
        ts.tv_nsec -= 1000000000;
    }
    if (sem_timedwait((sem_t*)&ring->new_frame_sem, &ts) == -1) {
        return -errno;
    }
    return 0;
}

void close_ring(FrameRing* ring) {
    if (ring != NULL) {
        munmap((void*)ring, sizeof(FrameRing));
    }
}

uint32_t write_index(FrameRing* ring) {
    return ring->write_index;
}

int read_frame(FrameRing* ring, uint32_t index, Frame* out) {
    if (index >= RING_BUFFER_SIZE) {
        return -1;
    }
    memcpy(out, &ring->frames[index], sizeof(Frame));
    return 0;
}
*/
import "C"
import (
	"context"
	"errors"
	"fmt"
	"time"
	"unsafe"

	"github.com/dj-oyu/driver-monitor/internal/capture"
	"github.com/dj-oyu/driver-monitor/internal/logger"
	"github.com/dj-oyu/driver-monitor/pkg/types"
)

const (
	// DefaultName is the ring published by the capture daemon
	DefaultName = "/driver_monitor_frames"

	RingBufferSize = 8
	MaxFrameSize   = 1280 * 720 * 3

	waitSlice = 100 * time.Millisecond
	etimedout = 110
	eintr     = 4
)

var errTimeout = errors.New("timeout")

// Reader is a capture.Source backed by the shared-memory ring
type Reader struct {
	ring      *C.FrameRing
	name      string
	lastFrame uint64
	haveFrame bool
}

// Open maps the ring, waiting up to wait for the daemon to create it
func Open(ctx context.Context, name string, wait time.Duration) (*Reader, error) {
	if name == "" {
		name = DefaultName
	}

	cName := C.CString(name)
	defer C.free(unsafe.Pointer(cName))

	deadline := time.Now().Add(wait)
	for attempt := 0; ; attempt++ {
		if ring := C.open_ring(cName); ring != nil {
			logger.Info("Capture", "Opened shared memory %s", name)
			return &Reader{ring: ring, name: name}, nil
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("open shared memory %s: not available after %v", name, wait)
		}
		if attempt%5 == 0 {
			logger.Info("Capture", "Waiting for shared memory %s...", name)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Second):
		}
	}
}

// Close unmaps the ring
func (r *Reader) Close() error {
	if r.ring != nil {
		C.close_ring(r.ring)
		r.ring = nil
	}
	return nil
}

// Next blocks until the daemon publishes a frame newer than the last one
// returned. Frames the loop was too slow to see are skipped.
func (r *Reader) Next(ctx context.Context) (*types.Frame, error) {
	if r.ring == nil {
		return nil, capture.ErrEndOfStream
	}

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		frame, err := r.readLatest()
		if err != nil {
			return nil, err
		}
		if frame != nil {
			return frame, nil
		}

		if err := r.waitFrame(waitSlice); err != nil && !errors.Is(err, errTimeout) {
			return nil, err
		}
	}
}

func (r *Reader) readLatest() (*types.Frame, error) {
	idx := uint32(C.write_index(r.ring))
	if idx == 0 {
		return nil, nil
	}

	var cFrame C.Frame
	slot := (idx - 1) % RingBufferSize
	if C.read_frame(r.ring, C.uint32_t(slot), &cFrame) != 0 {
		return nil, fmt.Errorf("read frame slot %d", slot)
	}

	num := uint64(cFrame.frame_number)
	if r.haveFrame && num == r.lastFrame {
		return nil, nil
	}

	size := int(cFrame.data_size)
	if size <= 0 || size > MaxFrameSize {
		return nil, fmt.Errorf("frame %d has invalid size %d", num, size)
	}
	data := (*[MaxFrameSize]byte)(unsafe.Pointer(&cFrame.data[0]))[:size:size]

	img, err := capture.DecodeRaw(int(cFrame.format), data, int(cFrame.width), int(cFrame.height))
	if err != nil {
		return nil, fmt.Errorf("frame %d: %w", num, err)
	}

	r.lastFrame, r.haveFrame = num, true
	ts := time.Unix(int64(cFrame.timestamp.tv_sec), int64(cFrame.timestamp.tv_nsec))
	return types.NewFrame(img, num, ts), nil
}

func (r *Reader) waitFrame(timeout time.Duration) error {
	result := int(C.wait_frame(r.ring, C.int(timeout.Milliseconds())))
	switch -result {
	case 0:
		return nil
	case etimedout, eintr:
		return errTimeout
	default:
		return fmt.Errorf("semaphore wait failed (errno %d)", -result)
	}
}
