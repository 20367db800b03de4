package webmonitor

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// RecorderState saves annotated frames as numbered JPEGs in a session
// directory. A recorded session can be replayed with the directory source.
type RecorderState struct {
	mu           sync.Mutex
	basePath     string
	recording    bool
	dir          string
	frameCount   int
	bytesWritten int64
	startedAt    time.Time
}

// NewRecorderState creates a recorder writing sessions under basePath.
func NewRecorderState(basePath string) *RecorderState {
	return &RecorderState{
		basePath: basePath,
	}
}

// Start creates a session directory and returns its path.
func (r *RecorderState) Start(name string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.recording {
		return "", fmt.Errorf("already recording")
	}

	if name == "" {
		name = fmt.Sprintf("recording_%s", time.Now().Format("20060102_150405"))
	}
	if name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return "", fmt.Errorf("invalid recording name %q", name)
	}

	dir := filepath.Join(r.basePath, name)
	if rel, err := filepath.Rel(r.basePath, dir); err != nil || rel != name {
		return "", fmt.Errorf("invalid recording name %q", name)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create recording directory: %w", err)
	}

	r.dir = dir
	r.recording = true
	r.frameCount = 0
	r.bytesWritten = 0
	r.startedAt = time.Now()

	return dir, nil
}

// Stop ends the session and returns its directory.
func (r *RecorderState) Stop() (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.recording {
		return "", fmt.Errorf("not recording")
	}

	r.recording = false
	return r.dir, nil
}

// Active reports whether frames are being saved.
func (r *RecorderState) Active() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.recording
}

// WriteFrame saves one JPEG when recording, and is a no-op otherwise.
func (r *RecorderState) WriteFrame(jpegData []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.recording {
		return nil
	}

	path := filepath.Join(r.dir, fmt.Sprintf("frame_%06d.jpg", r.frameCount))
	if err := os.WriteFile(path, jpegData, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	r.frameCount++
	r.bytesWritten += int64(len(jpegData))
	return nil
}

// Status returns the recorder status payload.
func (r *RecorderState) Status() map[string]any {
	r.mu.Lock()
	defer r.mu.Unlock()

	var dir any
	if r.dir != "" {
		dir = r.dir
	}

	status := map[string]any{
		"recording":     r.recording,
		"frame_count":   r.frameCount,
		"bytes_written": r.bytesWritten,
		"directory":     dir,
	}
	if r.recording {
		status["duration_seconds"] = time.Since(r.startedAt).Seconds()
	}
	return status
}
