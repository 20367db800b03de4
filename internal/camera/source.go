package camera

import (
	"context"
	"errors"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/proximity-relay/pkg/types"
)

// ErrEndOfStream is returned by finite sources once every frame was delivered
var ErrEndOfStream = errors.New("end of frame stream")

// Source produces camera frames one at a time
type Source interface {
	// Next blocks until a frame is available, ctx is done, or acquisition fails
	Next(ctx context.Context) (*types.Frame, error)
	// Close releases the device or files behind the source
	Close() error
}
