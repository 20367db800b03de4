package proximity

import (
	"fmt"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/proximity-relay/pkg/types"
)

// Policy selects the detection of interest when a frame has several
type Policy int

const (
	// SelectLargest picks the detection with the largest box area.
	// Ties go to the earliest in adapter order.
	SelectLargest Policy = iota
	// SelectFirst picks the first detection in adapter order
	SelectFirst
	// SelectLast picks the last detection in adapter order
	SelectLast
)

// ParsePolicy parses a selection policy name
func ParsePolicy(s string) (Policy, error) {
	switch s {
	case "", "largest":
		return SelectLargest, nil
	case "first":
		return SelectFirst, nil
	case "last":
		return SelectLast, nil
	default:
		return SelectLargest, fmt.Errorf("invalid selection policy: %s", s)
	}
}

// String returns the config name of the policy
func (p Policy) String() string {
	switch p {
	case SelectFirst:
		return "first"
	case SelectLast:
		return "last"
	default:
		return "largest"
	}
}

// Classifier turns one frame's detections into a stage.
// The zero value uses SelectLargest, accepts every class and a threshold of 0.
type Classifier struct {
	AreaThreshold int
	Policy        Policy
	// Classes restricts qualifying detections to these class ids; empty accepts all
	Classes []int
}

// Classify derives the stage for this frame.
// Confidence filtering happens in the detector adapter and is not repeated here.
// With no qualifying detection the previous stage is returned unchanged.
func (c Classifier) Classify(detections []types.Detection, previous Stage) Stage {
	det, ok := c.Select(detections)
	if !ok {
		return previous
	}
	return StageForArea(det.Box.Area(), c.AreaThreshold)
}

// Select returns the detection of interest, if any qualifies
func (c Classifier) Select(detections []types.Detection) (types.Detection, bool) {
	var (
		chosen types.Detection
		found  bool
	)

	for _, det := range detections {
		if !c.qualifies(det) {
			continue
		}
		switch c.Policy {
		case SelectFirst:
			return det, true
		case SelectLast:
			chosen, found = det, true
		default:
			if !found || det.Box.Area() > chosen.Box.Area() {
				chosen, found = det, true
			}
		}
	}

	return chosen, found
}

func (c Classifier) qualifies(det types.Detection) bool {
	if len(c.Classes) == 0 {
		return true
	}
	for _, id := range c.Classes {
		if det.ClassID == id {
			return true
		}
	}
	return false
}

// StageForArea applies the near/far threshold. Area equal to the threshold is Far.
func StageForArea(area, threshold int) Stage {
	if area > threshold {
		return Near
	}
	return Far
}

// Classify is the stateless contract used by the control loop:
// largest-area selection over all classes.
func Classify(detections []types.Detection, previous Stage, areaThreshold int) Stage {
	return Classifier{AreaThreshold: areaThreshold}.Classify(detections, previous)
}
