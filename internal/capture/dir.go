package capture

import (
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/dj-oyu/driver-monitor/internal/logger"
	"github.com/dj-oyu/driver-monitor/pkg/types"
)

var imageExts = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true,
	".bmp": true, ".tif": true, ".tiff": true, ".webp": true,
}

// DirSource replays image files from a directory in lexical order
type DirSource struct {
	files    []string
	next     int
	interval time.Duration
	last     time.Time
	start    time.Time
	frameNum uint64
	now      func() time.Time
}

// NewDirSource lists the images in dir. fps > 0 paces frames at that rate
// and stamps them at start + n/fps; otherwise frames are read as fast as
// the loop asks and stamped with the wall clock.
func NewDirSource(dir string, fps float64) (*DirSource, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read frame dir: %w", err)
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() || !imageExts[strings.ToLower(filepath.Ext(e.Name()))] {
			continue
		}
		files = append(files, filepath.Join(dir, e.Name()))
	}
	sort.Strings(files)
	if len(files) == 0 {
		return nil, fmt.Errorf("no images in %s", dir)
	}

	s := &DirSource{files: files, now: time.Now}
	if fps > 0 {
		s.interval = time.Duration(float64(time.Second) / fps)
	}
	logger.Info("Capture", "Replaying %d images from %s", len(files), dir)
	return s, nil
}

// Len returns the number of frames in the directory
func (s *DirSource) Len() int {
	return len(s.files)
}

// Next decodes the next image
func (s *DirSource) Next(ctx context.Context) (*types.Frame, error) {
	if s.next >= len(s.files) {
		return nil, ErrEndOfStream
	}

	if s.interval > 0 && !s.last.IsZero() {
		wait := s.interval - s.now().Sub(s.last)
		if wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, ctx.Err()
			case <-timer.C:
			}
		}
	}

	path := s.files[s.next]
	s.next++

	img, err := decodeFile(path)
	if err != nil {
		return nil, err
	}

	now := s.now()
	if s.start.IsZero() {
		s.start = now
	}
	s.last = now

	ts := now
	if s.interval > 0 {
		ts = s.start.Add(time.Duration(s.frameNum) * s.interval)
	}
	frame := types.NewFrame(ToRGBA(img), s.frameNum, ts)
	s.frameNum++
	return frame, nil
}

func decodeFile(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return img, nil
}
