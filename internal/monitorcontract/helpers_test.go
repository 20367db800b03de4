// Package monitorcontract checks a running relay's monitor API from the
// outside. Tests skip unless RELAY_MONITOR_URL (default http://localhost:8080)
// answers.
package monitorcontract

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"testing"
	"time"
)

const (
	defaultBaseURL        = "http://localhost:8080"
	defaultRequestTimeout = 2 * time.Second
)

type contractClient struct {
	baseURL string
	client  *http.Client
}

func newContractClient(t *testing.T) *contractClient {
	t.Helper()
	baseURL := os.Getenv("RELAY_MONITOR_URL")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	client := &http.Client{Timeout: defaultRequestTimeout}

	if !isReachable(client, baseURL+"/health") {
		t.Skipf("relay monitor not reachable at %s (set RELAY_MONITOR_URL to run)", baseURL)
	}

	return &contractClient{
		baseURL: baseURL,
		client:  client,
	}
}

func isReachable(client *http.Client, url string) bool {
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return false
	}
	resp, err := client.Do(req)
	if err != nil {
		return false
	}
	_ = resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 500
}

func (c *contractClient) get(t *testing.T, path string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	_ = resp.Body.Close()
	return resp, body
}

// getStream returns once headers arrive; the caller closes the body
func (c *contractClient) getStream(t *testing.T, path string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	resp, err := (&http.Client{}).Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	return resp
}

func (c *contractClient) post(t *testing.T, path string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, c.baseURL+path, bytes.NewReader(nil))
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	_ = resp.Body.Close()
	return resp, body
}

// readSSEEvent returns the first event that carries data, skipping keepalives
func readSSEEvent(url string, timeout time.Duration) (string, http.Header, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", nil, fmt.Errorf("build request: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	buf := make([]byte, 0, 4096)
	tmp := make([]byte, 256)
	for {
		n, readErr := resp.Body.Read(tmp)
		if n > 0 {
			buf = append(buf, tmp[:n]...)
			for {
				idx := bytes.Index(buf, []byte("\n\n"))
				if idx < 0 {
					break
				}
				event := string(buf[:idx])
				buf = buf[idx+2:]
				if strings.Contains(event, "data:") {
					return event, resp.Header, nil
				}
			}
		}
		if readErr != nil {
			if readErr == io.EOF {
				return "", nil, fmt.Errorf("sse stream closed before event")
			}
			return "", nil, fmt.Errorf("read sse: %w", readErr)
		}
	}
}

func sseData(t *testing.T, event string) string {
	t.Helper()
	for _, line := range strings.Split(event, "\n") {
		if strings.HasPrefix(line, "data:") {
			payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if payload == "" {
				t.Fatalf("empty sse data line")
			}
			return payload
		}
	}
	t.Fatalf("no data line in sse event: %q", event)
	return ""
}

func decodeJSONMap(t *testing.T, body []byte) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		t.Fatalf("decode json: %v\nbody=%s", err, string(body))
	}
	return payload
}

func requireString(t *testing.T, value any, field string) string {
	t.Helper()
	str, ok := value.(string)
	if !ok {
		t.Fatalf("expected %s to be string, got %T", field, value)
	}
	return str
}

func requireNumber(t *testing.T, value any, field string) float64 {
	t.Helper()
	num, ok := value.(float64)
	if !ok {
		t.Fatalf("expected %s to be number, got %T", field, value)
	}
	return num
}

func requireBool(t *testing.T, value any, field string) bool {
	t.Helper()
	b, ok := value.(bool)
	if !ok {
		t.Fatalf("expected %s to be bool, got %T", field, value)
	}
	return b
}

func requireMap(t *testing.T, value any, field string) map[string]any {
	t.Helper()
	m, ok := value.(map[string]any)
	if !ok {
		t.Fatalf("expected %s to be object, got %T", field, value)
	}
	return m
}

func requireSlice(t *testing.T, value any, field string) []any {
	t.Helper()
	s, ok := value.([]any)
	if !ok {
		t.Fatalf("expected %s to be array, got %T", field, value)
	}
	return s
}

func requireStage(t *testing.T, value any, field string) string {
	t.Helper()
	stage := requireString(t, value, field)
	switch stage {
	case "unknown", "far", "near":
	default:
		t.Fatalf("unexpected %s %q", field, stage)
	}
	return stage
}

func assertStageEvent(t *testing.T, payload map[string]any) {
	t.Helper()
	requireNumber(t, payload["tick"], "tick")
	requireNumber(t, payload["timestamp"], "timestamp")
	stage := requireStage(t, payload["stage"], "stage")
	if p, ok := payload["payload"]; ok {
		sent := requireString(t, p, "payload")
		if (stage == "near" && sent != "100") || (stage == "far" && sent != "50") || stage == "unknown" {
			t.Fatalf("payload %q does not match stage %q", sent, stage)
		}
	}
	detections := requireSlice(t, payload["detections"], "detections")
	for i, raw := range detections {
		det := requireMap(t, raw, fmt.Sprintf("detections[%d]", i))
		requireNumber(t, det["class_id"], "detections.class_id")
		requireNumber(t, det["confidence"], "detections.confidence")
		requireNumber(t, det["area"], "detections.area")
		requireBool(t, det["near"], "detections.near")
		bbox := requireMap(t, det["bbox"], "detections.bbox")
		requireNumber(t, bbox["x1"], "detections.bbox.x1")
		requireNumber(t, bbox["y1"], "detections.bbox.y1")
		requireNumber(t, bbox["x2"], "detections.bbox.x2")
		requireNumber(t, bbox["y2"], "detections.bbox.y2")
	}
}

func assertStatusPayload(t *testing.T, payload map[string]any) {
	t.Helper()
	loop := requireMap(t, payload["loop"], "loop")
	requireNumber(t, loop["ticks"], "loop.ticks")
	requireStage(t, loop["stage"], "loop.stage")
	requireString(t, loop["last_payload"], "loop.last_payload")
	requireNumber(t, loop["current_fps"], "loop.current_fps")
	requireNumber(t, loop["frame_clients"], "loop.frame_clients")
	requireNumber(t, loop["event_clients"], "loop.event_clients")

	counters := requireMap(t, payload["counters"], "counters")
	for _, field := range []string{
		"ticks", "frames_failed", "detection_errors", "detections",
		"dispatch_sent", "dispatch_errors", "stage", "presenter_dropped",
	} {
		requireNumber(t, counters[field], "counters."+field)
	}

	if latest := payload["latest"]; latest != nil {
		assertStageEvent(t, requireMap(t, latest, "latest"))
	}
	for i, raw := range requireSlice(t, payload["history"], "history") {
		assertStageEvent(t, requireMap(t, raw, fmt.Sprintf("history[%d]", i)))
	}
	requireMap(t, payload["recording"], "recording")
	requireNumber(t, payload["timestamp"], "timestamp")
}
