// Package detector wraps the object detection model behind a small interface.
//
// The model itself is an external service; the relay only ships it the
// cropped region of each frame and reads back boxes, class ids and scores.
package detector

import (
	"context"
	"image"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/proximity-relay/pkg/types"
)

// DefaultConfidenceFloor drops weak detections before classification
const DefaultConfidenceFloor = 0.75

// Adapter runs detection on one pixel buffer.
// Returned detections all have Confidence >= confidenceFloor, in model order.
type Adapter interface {
	Detect(ctx context.Context, img image.Image, confidenceFloor float64) ([]types.Detection, error)
}

// FilterConfidence keeps detections at or above floor, preserving order
func FilterConfidence(dets []types.Detection, floor float64) []types.Detection {
	out := dets[:0:0]
	for _, d := range dets {
		if d.Confidence >= floor {
			out = append(out, d)
		}
	}
	return out
}
