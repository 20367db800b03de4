package camera

import (
	"fmt"
	"image"

	"github.com/disintegration/imaging"
)

// Prepared is a frame after rotation and cropping
type Prepared struct {
	Full   image.Image     // Rotated full frame, origin at (0,0)
	Region image.Image     // Crop handed to the detector, origin at (0,0)
	Offset image.Rectangle // Where Region sits inside Full
}

// Preprocessor rotates a frame and cuts out the detection region
type Preprocessor struct {
	rotation int
	crop     image.Rectangle
}

// NewPreprocessor validates rotation (0, 90, 180 or 270 degrees clockwise).
// An empty crop keeps the whole frame.
func NewPreprocessor(rotation int, crop image.Rectangle) (*Preprocessor, error) {
	switch rotation {
	case 0, 90, 180, 270:
	default:
		return nil, fmt.Errorf("unsupported rotation %d (want 0, 90, 180 or 270)", rotation)
	}
	return &Preprocessor{rotation: rotation, crop: crop.Canon()}, nil
}

// Apply rotates img and crops the configured region
func (p *Preprocessor) Apply(img image.Image) Prepared {
	var full image.Image
	switch p.rotation {
	case 90:
		// imaging rotates counter-clockwise
		full = imaging.Rotate270(img)
	case 180:
		full = imaging.Rotate180(img)
	case 270:
		full = imaging.Rotate90(img)
	default:
		full = img
	}

	bounds := full.Bounds()
	if p.crop.Empty() {
		return Prepared{Full: full, Region: full, Offset: bounds}
	}

	offset := p.crop.Intersect(bounds)
	return Prepared{
		Full:   full,
		Region: imaging.Crop(full, offset),
		Offset: offset,
	}
}
