package overlay

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"testing"
	"time"

	"github.com/dj-oyu/driver-monitor/pkg/types"
)

func blankFrame() *types.Frame {
	img := image.NewRGBA(image.Rect(0, 0, 640, 480))
	for i := range img.Pix {
		img.Pix[i] = 128
	}
	return types.NewFrame(img, 1, time.Now())
}

// countColor counts pixels of exactly c inside r
func countColor(img *image.RGBA, r image.Rectangle, c color.RGBA) int {
	n := 0
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			if img.RGBAAt(x, y) == c {
				n++
			}
		}
	}
	return n
}

func labelBand(l Label) image.Rectangle {
	return image.Rect(0, l.Y-30, 640, l.Y+10)
}

func TestAnnotateDrawsOnlyActiveLabels(t *testing.T) {
	tests := []struct {
		name   string
		status types.FrameStatus
		want   [types.NumKinds]bool
	}{
		{"none", types.FrameStatus{}, [types.NumKinds]bool{}},
		{"drowsy", types.FrameStatus{Drowsy: true}, [types.NumKinds]bool{true, false, false}},
		{"yawn and phone", types.FrameStatus{Yawning: true, Phone: true}, [types.NumKinds]bool{false, true, true}},
		{"all", types.FrameStatus{Drowsy: true, Yawning: true, Phone: true}, [types.NumKinds]bool{true, true, true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frame := blankFrame()
			New().Annotate(frame, tt.status)
			for _, kind := range types.AllKinds {
				l := Labels[kind]
				got := countColor(frame.Image, labelBand(l), l.Color) > 0
				if got != tt.want[kind] {
					t.Errorf("%s label drawn = %v, want %v", kind, got, tt.want[kind])
				}
			}
		})
	}
}

func TestDrawTextBackgroundBox(t *testing.T) {
	frame := blankFrame()
	DrawText(frame.Image, 20, 40, "YAWNING", Blue, 2)

	// just left of the text, inside the padding, the gray is darkened
	px := frame.Image.RGBAAt(18, 30)
	if px.R >= 128 {
		t.Fatalf("background box not drawn: %+v", px)
	}
	// far away pixels untouched
	if frame.Image.RGBAAt(600, 400) != (color.RGBA{128, 128, 128, 128}) {
		t.Fatalf("pixel outside label modified")
	}
}

func TestDrawTextClipsAtEdge(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 50, 20))
	DrawText(img, 40, 10, "MOBILE PHONE DETECTED", Yellow, 3)
	DrawText(img, 0, 0, "", Yellow, 1)
}

func TestAnnotateNilFrame(t *testing.T) {
	New().Annotate(nil, types.FrameStatus{Drowsy: true})
	New().Annotate(&types.Frame{}, types.FrameStatus{Drowsy: true})
}

func TestEncodeJPEG(t *testing.T) {
	frame := blankFrame()
	data, err := EncodeJPEG(frame.Image, 0)
	if err != nil {
		t.Fatal(err)
	}
	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if img.Bounds().Dx() != 640 {
		t.Fatalf("width = %d", img.Bounds().Dx())
	}
	if _, err := EncodeJPEG(nil, 80); err == nil {
		t.Fatalf("expected error for nil image")
	}
}
