package capture

import (
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"golang.org/x/image/bmp"
)

func writeImage(t *testing.T, path string, c color.RGBA) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 4, 2))
	for y := 0; y < 2; y++ {
		for x := 0; x < 4; x++ {
			img.Set(x, y, c)
		}
	}
	img.Set(0, 0, color.RGBA{R: 255, A: 255})

	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer f.Close()
	if filepath.Ext(path) == ".bmp" {
		err = bmp.Encode(f, img)
	} else {
		err = png.Encode(f, img)
	}
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
}

func TestDirSourceOrderAndEnd(t *testing.T) {
	dir := t.TempDir()
	writeImage(t, filepath.Join(dir, "002.bmp"), color.RGBA{G: 200, A: 255})
	writeImage(t, filepath.Join(dir, "001.png"), color.RGBA{B: 200, A: 255})
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	src, err := NewDirSource(dir, 0)
	if err != nil {
		t.Fatalf("NewDirSource: %v", err)
	}
	if src.Len() != 2 {
		t.Fatalf("len = %d, want 2", src.Len())
	}

	ctx := context.Background()
	f1, err := src.Next(ctx)
	if err != nil {
		t.Fatalf("frame 1: %v", err)
	}
	if f1.FrameNum != 0 || f1.Width != 4 || f1.Height != 2 {
		t.Fatalf("frame 1 = %+v", f1)
	}
	if c := f1.Image.RGBAAt(1, 1); c.B != 200 {
		t.Fatalf("first frame should be the png, got %v", c)
	}

	f2, err := src.Next(ctx)
	if err != nil {
		t.Fatalf("frame 2: %v", err)
	}
	if c := f2.Image.RGBAAt(1, 1); c.G != 200 || f2.FrameNum != 1 {
		t.Fatalf("second frame should be the bmp, got %v", c)
	}

	if _, err := src.Next(ctx); !errors.Is(err, ErrEndOfStream) {
		t.Fatalf("err = %v, want ErrEndOfStream", err)
	}
}

func TestDirSourcePacedTimestamps(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"a.png", "b.png", "c.png"} {
		writeImage(t, filepath.Join(dir, name), color.RGBA{A: 255})
	}
	src, err := NewDirSource(dir, 100)
	if err != nil {
		t.Fatal(err)
	}

	var stamps []int64
	for {
		f, err := src.Next(context.Background())
		if errors.Is(err, ErrEndOfStream) {
			break
		}
		if err != nil {
			t.Fatal(err)
		}
		stamps = append(stamps, f.Timestamp.UnixNano())
	}
	if len(stamps) != 3 {
		t.Fatalf("got %d frames", len(stamps))
	}
	for i := 1; i < len(stamps); i++ {
		if d := stamps[i] - stamps[i-1]; d != 10_000_000 {
			t.Fatalf("frame spacing = %dns, want 10ms", d)
		}
	}
}

func TestDirSourceEmpty(t *testing.T) {
	if _, err := NewDirSource(t.TempDir(), 0); err == nil {
		t.Fatalf("expected error for empty dir")
	}
}

func TestFlipHorizontal(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 3, 1))
	img.SetRGBA(0, 0, color.RGBA{R: 1, A: 255})
	img.SetRGBA(2, 0, color.RGBA{R: 3, A: 255})

	FlipHorizontal(img)

	if img.RGBAAt(0, 0).R != 3 || img.RGBAAt(2, 0).R != 1 {
		t.Fatalf("pixels not mirrored: %v", img.Pix)
	}
}

func TestNV12ToRGBA(t *testing.T) {
	w, h := 4, 2
	data := make([]byte, w*h*3/2)
	for i := range data {
		data[i] = 128
	}
	img, err := NV12ToRGBA(data, w, h)
	if err != nil {
		t.Fatalf("NV12ToRGBA: %v", err)
	}
	c := img.RGBAAt(3, 1)
	if c.R != 128 || c.G != 128 || c.B != 128 || c.A != 255 {
		t.Fatalf("neutral chroma should be gray, got %v", c)
	}

	if _, err := NV12ToRGBA(data[:5], w, h); err == nil {
		t.Fatalf("expected short buffer error")
	}
}

func TestRGBToRGBA(t *testing.T) {
	img, err := RGBToRGBA([]byte{10, 20, 30, 40, 50, 60}, 2, 1)
	if err != nil {
		t.Fatal(err)
	}
	if c := img.RGBAAt(1, 0); c != (color.RGBA{40, 50, 60, 255}) {
		t.Fatalf("pixel = %v", c)
	}
}

func TestParseSpec(t *testing.T) {
	cases := []struct {
		in      string
		want    Spec
		wantErr bool
	}{
		{"dir:./frames", Spec{"dir", "./frames"}, false},
		{"shm:/driver_cam", Spec{"shm", "/driver_cam"}, false},
		{"gst:v4l2src device=/dev/video0", Spec{"gst", "v4l2src device=/dev/video0"}, false},
		{"camera", Spec{}, true},
		{"ftp:host", Spec{}, true},
	}
	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			got, err := ParseSpec(tc.in)
			if (err != nil) != tc.wantErr {
				t.Fatalf("err = %v", err)
			}
			if got != tc.want {
				t.Fatalf("got %+v, want %+v", got, tc.want)
			}
		})
	}
}

func TestDecodeRaw(t *testing.T) {
	if _, err := DecodeRaw(FormatRGB, []byte{1, 2, 3}, 1, 1); err != nil {
		t.Fatalf("rgb: %v", err)
	}
	if _, err := DecodeRaw(3, nil, 1, 1); err == nil {
		t.Fatalf("expected unsupported format error")
	}
	if _, err := DecodeRaw(FormatJPEG, []byte("not a jpeg"), 1, 1); err == nil {
		t.Fatalf("expected jpeg decode error")
	}
}
