package camera

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/disintegration/imaging"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/proximity-relay/internal/logger"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/proximity-relay/pkg/types"
)

var imageExts = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
}

// DirSource replays still images from a directory in name order.
// Useful for bench runs without the camera daemon.
type DirSource struct {
	files    []string
	interval time.Duration
	loop     bool

	mu     sync.Mutex
	next   int
	count  uint64
	last   time.Time
	closed bool
}

// NewDirSource lists the images in dir. fps <= 0 replays as fast as frames are read.
func NewDirSource(dir string, fps int, loop bool) (*DirSource, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read frame directory: %w", err)
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if imageExts[strings.ToLower(filepath.Ext(e.Name()))] {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no images found in %s", dir)
	}
	sort.Strings(files)

	var interval time.Duration
	if fps > 0 {
		interval = time.Second / time.Duration(fps)
	}

	logger.Info("Camera", "Replaying %d frames from %s (fps=%d, loop=%v)", len(files), dir, fps, loop)

	return &DirSource{
		files:    files,
		interval: interval,
		loop:     loop,
	}, nil
}

// Next implements Source
func (s *DirSource) Next(ctx context.Context) (*types.Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, fmt.Errorf("frame source closed")
	}

	if s.next >= len(s.files) {
		if !s.loop {
			return nil, ErrEndOfStream
		}
		s.next = 0
	}

	if err := s.paceLocked(ctx); err != nil {
		return nil, err
	}

	path := s.files[s.next]
	s.next++

	img, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}

	frame := &types.Frame{
		Image:     img,
		Timestamp: time.Now(),
		FrameNum:  s.count,
	}
	s.count++
	return frame, nil
}

func (s *DirSource) paceLocked(ctx context.Context) error {
	if s.interval > 0 && !s.last.IsZero() {
		wait := time.Until(s.last.Add(s.interval))
		if wait > 0 {
			timer := time.NewTimer(wait)
			defer timer.Stop()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-timer.C:
			}
		}
	}
	s.last = time.Now()
	return ctx.Err()
}

// Close implements Source
func (s *DirSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
