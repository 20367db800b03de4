package detector

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/proximity-relay/internal/logger"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/proximity-relay/pkg/types"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// RemoteOptions tunes the inference connection
type RemoteOptions struct {
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	ReadTimeout      time.Duration // Upper bound on one inference round trip
	JPEGQuality      int
}

// DefaultRemoteOptions returns the timeouts used by the relay
func DefaultRemoteOptions() RemoteOptions {
	return RemoteOptions{
		HandshakeTimeout: 5 * time.Second,
		WriteTimeout:     time.Second,
		ReadTimeout:      2 * time.Second,
		JPEGQuality:      85,
	}
}

type wireDetection struct {
	Box        [4]float64 `json:"box"` // x1, y1, x2, y2
	ClassID    int        `json:"class_id"`
	Confidence float64    `json:"confidence"`
}

type wireResponse struct {
	Detections []wireDetection `json:"detections"`
	Error      string          `json:"error,omitempty"`
}

// Remote sends frames to an inference service over a WebSocket and reads back
// one JSON reply per frame. A broken connection is discarded and re-dialed on
// the next call.
type Remote struct {
	url  string
	opts RemoteOptions

	mu        sync.Mutex
	conn      *websocket.Conn
	connFloor float64
}

// NewRemote creates an adapter for the service at rawURL. It does not dial.
func NewRemote(rawURL string, opts RemoteOptions) *Remote {
	def := DefaultRemoteOptions()
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = def.HandshakeTimeout
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = def.WriteTimeout
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = def.ReadTimeout
	}
	if opts.JPEGQuality <= 0 || opts.JPEGQuality > 100 {
		opts.JPEGQuality = def.JPEGQuality
	}
	return &Remote{url: rawURL, opts: opts}
}

// Detect implements Adapter
func (r *Remote) Detect(ctx context.Context, img image.Image, confidenceFloor float64) ([]types.Detection, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: r.opts.JPEGQuality}); err != nil {
		return nil, fmt.Errorf("error encoding frame: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	conn, err := r.connectLocked(ctx, confidenceFloor)
	if err != nil {
		return nil, err
	}

	_ = conn.SetWriteDeadline(time.Now().Add(r.opts.WriteTimeout))
	if err := conn.WriteMessage(websocket.BinaryMessage, buf.Bytes()); err != nil {
		r.resetLocked()
		return nil, fmt.Errorf("error sending frame: %w", err)
	}

	deadline := time.Now().Add(r.opts.ReadTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetReadDeadline(deadline)

	_, message, err := conn.ReadMessage()
	if err != nil {
		r.resetLocked()
		return nil, fmt.Errorf("error reading detections: %w", err)
	}

	_ = conn.SetReadDeadline(time.Time{})
	_ = conn.SetWriteDeadline(time.Time{})

	return decodeResponse(message, confidenceFloor)
}

// Close drops the connection, if any
func (r *Remote) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.conn == nil {
		return nil
	}
	err := r.conn.Close()
	r.conn = nil
	return err
}

func (r *Remote) connectLocked(ctx context.Context, floor float64) (*websocket.Conn, error) {
	if r.conn != nil && r.connFloor == floor {
		return r.conn, nil
	}
	r.resetLocked()

	target, err := withConfidence(r.url, floor)
	if err != nil {
		return nil, err
	}

	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: r.opts.HandshakeTimeout,
	}

	logger.Info("Detector", "Connecting to inference service at %s", target)
	conn, _, err := dialer.DialContext(ctx, target, nil)
	if err != nil {
		return nil, fmt.Errorf("cannot connect to inference service: %w", err)
	}

	r.conn = conn
	r.connFloor = floor
	return conn, nil
}

func (r *Remote) resetLocked() {
	if r.conn != nil {
		_ = r.conn.Close()
		r.conn = nil
	}
}

func withConfidence(rawURL string, floor float64) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("invalid detector url %q: %w", rawURL, err)
	}
	q := u.Query()
	q.Set("conf", strconv.FormatFloat(floor, 'f', -1, 64))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func decodeResponse(message []byte, floor float64) ([]types.Detection, error) {
	var resp wireResponse
	if err := json.Unmarshal(message, &resp); err != nil {
		return nil, fmt.Errorf("error unmarshaling detections: %w", err)
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("inference service error: %s", resp.Error)
	}

	dets := make([]types.Detection, 0, len(resp.Detections))
	for _, wd := range resp.Detections {
		dets = append(dets, types.Detection{
			Box: types.BoundingBox{
				X1: int(wd.Box[0]),
				Y1: int(wd.Box[1]),
				X2: int(wd.Box[2]),
				Y2: int(wd.Box[3]),
			},
			ClassID:    wd.ClassID,
			Confidence: wd.Confidence,
		})
	}
	return FilterConfidence(dets, floor), nil
}
