// Package overlay draws alert labels onto frames before they are displayed.
package overlay

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"

	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/dj-oyu/driver-monitor/pkg/types"
)

// Label colors
var (
	Red    = color.RGBA{R: 255, A: 255}
	Blue   = color.RGBA{B: 255, A: 255}
	Yellow = color.RGBA{R: 255, G: 255, A: 255}
	White  = color.RGBA{R: 255, G: 255, B: 255, A: 255}
	black  = color.RGBA{A: 180}
)

// Label is one alert banner, anchored at its text baseline
type Label struct {
	Text  string
	Color color.RGBA
	X, Y  int
}

// Labels for the three alert kinds, in evaluation order
var Labels = [types.NumKinds]Label{
	types.Drowsiness: {Text: "DROWSINESS ALERT", Color: Red, X: 20, Y: 40},
	types.Yawning:    {Text: "YAWNING", Color: Blue, X: 20, Y: 80},
	types.PhoneUsage: {Text: "MOBILE PHONE DETECTED", Color: Yellow, X: 20, Y: 120},
}

// Annotator draws a label for each alert raised in the frame status
type Annotator struct {
	Scale int  // integer glyph magnification, 0 means 2
	Stats bool // also print frame number and EAR in the bottom-left corner
}

// New returns an annotator with the default scale
func New() *Annotator {
	return &Annotator{Scale: 2}
}

func (a *Annotator) scale() int {
	if a == nil || a.Scale <= 0 {
		return 2
	}
	return a.Scale
}

// Annotate modifies frame.Image in place
func (a *Annotator) Annotate(frame *types.Frame, status types.FrameStatus) {
	if frame == nil || frame.Image == nil {
		return
	}
	s := a.scale()
	for _, kind := range types.AllKinds {
		if !status.Detected(kind) {
			continue
		}
		l := Labels[kind]
		DrawText(frame.Image, l.X, l.Y, l.Text, l.Color, s)
	}

	if a != nil && a.Stats {
		line := fmt.Sprintf("Frame: %d  EAR: %.3f  Mouth: %.1f", status.FrameNum, status.EAR, status.MouthDistance)
		DrawText(frame.Image, 10, frame.Image.Bounds().Dy()-10, line, White, 1)
	}
}

// DrawText renders text with a translucent black box behind it. (x, y) is
// the left end of the baseline, as with OpenCV's putText.
func DrawText(dst *image.RGBA, x, y int, text string, c color.RGBA, scale int) {
	if text == "" {
		return
	}
	if scale < 1 {
		scale = 1
	}
	face := basicfont.Face7x13
	metrics := face.Metrics()
	ascent, descent := metrics.Ascent.Ceil(), metrics.Descent.Ceil()
	width := font.MeasureString(face, text).Ceil()

	// render at native size, then magnify
	glyphs := image.NewRGBA(image.Rect(0, 0, width, ascent+descent))
	d := font.Drawer{
		Dst:  glyphs,
		Src:  image.NewUniform(c),
		Face: face,
		Dot:  fixed.P(0, ascent),
	}
	d.DrawString(text)

	const pad = 4
	w, h := width*scale, (ascent+descent)*scale
	top := y - ascent*scale
	box := image.Rect(x-pad, top-pad, x+w+pad, top+h+pad).Intersect(dst.Bounds())
	xdraw.Draw(dst, box, image.NewUniform(black), image.Point{}, xdraw.Over)

	target := image.Rect(x, top, x+w, top+h)
	xdraw.NearestNeighbor.Scale(dst, target, glyphs, glyphs.Bounds(), xdraw.Over, nil)
}

// EncodeJPEG encodes an annotated frame for MJPEG and snapshots
func EncodeJPEG(img image.Image, quality int) ([]byte, error) {
	if img == nil {
		return nil, fmt.Errorf("nil image")
	}
	if quality <= 0 || quality > 100 {
		quality = 80
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}
