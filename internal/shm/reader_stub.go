//go:build !linux || !cgo

package shm

import (
	"context"
	"errors"
	"time"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/proximity-relay/pkg/types"
)

// ErrUnsupported is returned on builds without cgo or outside linux
var ErrUnsupported = errors.New("shared memory frames need linux with cgo")

// Reader is unavailable on this build
type Reader struct{}

// NewReader always fails on this build
func NewReader(ctx context.Context, shmName string, openTimeout, frameTimeout time.Duration) (*Reader, error) {
	return nil, ErrUnsupported
}

// Next always fails on this build
func (r *Reader) Next(ctx context.Context) (*types.Frame, error) {
	return nil, ErrUnsupported
}

// Close is a no-op
func (r *Reader) Close() error {
	return nil
}
