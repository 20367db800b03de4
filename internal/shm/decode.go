// Package shm reads camera frames published by the capture daemon through a
// POSIX shared-memory ring buffer.
package shm

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
)

// DefaultName is the ring buffer the capture daemon writes to
const DefaultName = "/pet_camera_stream"

// Ring buffer geometry, must match the capture daemon
const (
	RingBufferSize = 30
	MaxFrameSize   = 1920 * 1080 * 3 / 2
)

// Frame payload formats
const (
	FormatJPEG = 0
	FormatNV12 = 1
	FormatRGB  = 2
	FormatH264 = 3
)

// Decode turns a raw ring buffer payload into an image
func Decode(format, width, height int, data []byte) (image.Image, error) {
	switch format {
	case FormatJPEG:
		img, err := jpeg.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("jpeg decode: %w", err)
		}
		return img, nil
	case FormatNV12:
		return decodeNV12(width, height, data)
	case FormatRGB:
		return decodeRGB(width, height, data)
	case FormatH264:
		return nil, fmt.Errorf("h264 frames need a decoder, switch the daemon to jpeg or nv12")
	default:
		return nil, fmt.Errorf("unknown frame format %d", format)
	}
}

// decodeNV12 wraps the Y plane and de-interleaves the CbCr plane into 4:2:0
func decodeNV12(width, height int, data []byte) (image.Image, error) {
	if width <= 0 || height <= 0 || width%2 != 0 || height%2 != 0 {
		return nil, fmt.Errorf("invalid nv12 size %dx%d", width, height)
	}
	ySize := width * height
	if len(data) < ySize+ySize/2 {
		return nil, fmt.Errorf("nv12 payload too short: %d < %d", len(data), ySize+ySize/2)
	}

	img := image.NewYCbCr(image.Rect(0, 0, width, height), image.YCbCrSubsampleRatio420)
	copy(img.Y, data[:ySize])

	uv := data[ySize : ySize+ySize/2]
	for i := 0; i < len(img.Cb); i++ {
		img.Cb[i] = uv[2*i]
		img.Cr[i] = uv[2*i+1]
	}
	return img, nil
}

func decodeRGB(width, height int, data []byte) (image.Image, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid rgb size %dx%d", width, height)
	}
	if len(data) < width*height*3 {
		return nil, fmt.Errorf("rgb payload too short: %d < %d", len(data), width*height*3)
	}

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for i, j := 0, 0; i < width*height; i, j = i+1, j+3 {
		img.Pix[i*4] = data[j]
		img.Pix[i*4+1] = data[j+1]
		img.Pix[i*4+2] = data[j+2]
		img.Pix[i*4+3] = 0xff
	}
	return img, nil
}
