package types

import (
	"image"
	"time"
)

// Frame is one camera frame as delivered by a frame source
type Frame struct {
	Image     image.Image // Decoded pixels
	Timestamp time.Time   // Frame capture timestamp
	FrameNum  uint64      // Sequential frame number assigned by the source
}

// Width returns the pixel width of the frame
func (f *Frame) Width() int {
	if f == nil || f.Image == nil {
		return 0
	}
	return f.Image.Bounds().Dx()
}

// Height returns the pixel height of the frame
func (f *Frame) Height() int {
	if f == nil || f.Image == nil {
		return 0
	}
	return f.Image.Bounds().Dy()
}

// BoundingBox is an axis-aligned box in integer pixel coordinates.
// Corners are not guaranteed to be ordered.
type BoundingBox struct {
	X1 int `json:"x1"`
	Y1 int `json:"y1"`
	X2 int `json:"x2"`
	Y2 int `json:"y2"`
}

// Width returns |X2-X1|
func (b BoundingBox) Width() int {
	return absInt(b.X2 - b.X1)
}

// Height returns |Y2-Y1|
func (b BoundingBox) Height() int {
	return absInt(b.Y2 - b.Y1)
}

// Area returns Width*Height
func (b BoundingBox) Area() int {
	return b.Width() * b.Height()
}

// Rect returns the box as a normalized image.Rectangle
func (b BoundingBox) Rect() image.Rectangle {
	return image.Rect(b.X1, b.Y1, b.X2, b.Y2)
}

// Detection is one object reported by the detector for a single frame.
// Detections are not tracked across frames.
type Detection struct {
	Box        BoundingBox `json:"box"`
	ClassID    int         `json:"class_id"`
	Confidence float64     `json:"confidence"`
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
