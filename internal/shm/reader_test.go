//go:build linux && cgo

package shm

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewReaderStopsWaitingOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	start := time.Now()
	r, err := NewReader(ctx, "/proximity_relay_missing_segment", 30*time.Second, time.Second)

	assert.Nil(t, r)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestNewReaderTimesOut(t *testing.T) {
	_, err := NewReader(context.Background(), "/proximity_relay_missing_segment", 0, time.Second)
	assert.ErrorContains(t, err, "timeout")
}
