package capture

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
)

// NV12ToRGBA converts a semi-planar YUV 4:2:0 buffer (BT.601, full range)
func NV12ToRGBA(data []byte, width, height int) (*image.RGBA, error) {
	ySize := width * height
	if width <= 0 || height <= 0 || width%2 != 0 || height%2 != 0 {
		return nil, fmt.Errorf("invalid NV12 size %dx%d", width, height)
	}
	if len(data) < ySize+ySize/2 {
		return nil, fmt.Errorf("NV12 buffer too short: %d < %d", len(data), ySize+ySize/2)
	}

	out := image.NewRGBA(image.Rect(0, 0, width, height))
	uv := data[ySize:]
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			Y := int(data[y*width+x])
			ci := (y/2)*width + (x/2)*2
			U := int(uv[ci]) - 128
			V := int(uv[ci+1]) - 128

			r := Y + (91881*V)>>16
			g := Y - (22554*U+46802*V)>>16
			b := Y + (116130*U)>>16

			o := y*out.Stride + x*4
			out.Pix[o] = clamp(r)
			out.Pix[o+1] = clamp(g)
			out.Pix[o+2] = clamp(b)
			out.Pix[o+3] = 0xff
		}
	}
	return out, nil
}

// RGBToRGBA converts packed 24-bit RGB
func RGBToRGBA(data []byte, width, height int) (*image.RGBA, error) {
	if width <= 0 || height <= 0 || len(data) < width*height*3 {
		return nil, fmt.Errorf("invalid RGB buffer for %dx%d (%d bytes)", width, height, len(data))
	}
	out := image.NewRGBA(image.Rect(0, 0, width, height))
	for i, o := 0, 0; i < width*height*3; i, o = i+3, o+4 {
		out.Pix[o] = data[i]
		out.Pix[o+1] = data[i+1]
		out.Pix[o+2] = data[i+2]
		out.Pix[o+3] = 0xff
	}
	return out, nil
}

func clamp(v int) uint8 {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v)
}

// Raw pixel formats written by the camera daemon
const (
	FormatJPEG = 0
	FormatNV12 = 1
	FormatRGB  = 2
)

// DecodeRaw converts a camera buffer of the given format to RGBA
func DecodeRaw(format int, data []byte, width, height int) (*image.RGBA, error) {
	switch format {
	case FormatNV12:
		return NV12ToRGBA(data, width, height)
	case FormatRGB:
		return RGBToRGBA(data, width, height)
	case FormatJPEG:
		img, err := jpeg.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("decode jpeg: %w", err)
		}
		return ToRGBA(img), nil
	}
	return nil, fmt.Errorf("unsupported frame format %d", format)
}
