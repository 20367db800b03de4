package proximity

import "fmt"

// Stage is the quantized proximity of the object of interest
type Stage int

const (
	// Unknown is the stage before any qualifying detection was ever seen
	Unknown Stage = iota
	Far
	Near
)

// String returns the string representation of a stage
func (s Stage) String() string {
	switch s {
	case Unknown:
		return "unknown"
	case Far:
		return "far"
	case Near:
		return "near"
	default:
		return fmt.Sprintf("stage(%d)", int(s))
	}
}

// Known reports whether the stage was derived from at least one detection
func (s Stage) Known() bool {
	return s == Far || s == Near
}
