package detector

import (
	"bytes"
	"context"
	"image"
	"image/jpeg"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/proximity-relay/pkg/types"
)

// fakeInference replies to every binary frame with reply
type fakeInference struct {
	server  *httptest.Server
	dials   atomic.Int32
	conf    atomic.Value
	size    atomic.Value
	dropOne atomic.Bool
}

func newFakeInference(t *testing.T, reply string) *fakeInference {
	t.Helper()
	f := &fakeInference{}
	upgrader := websocket.Upgrader{}
	f.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.conf.Store(r.URL.Query().Get("conf"))
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		f.dials.Add(1)
		defer conn.Close()
		for {
			mt, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if mt != websocket.BinaryMessage {
				continue
			}
			if f.dropOne.CompareAndSwap(true, false) {
				return
			}
			img, err := jpeg.Decode(bytes.NewReader(msg))
			if err == nil {
				f.size.Store(img.Bounds().Size())
			}
			if err := conn.WriteMessage(websocket.TextMessage, []byte(reply)); err != nil {
				return
			}
		}
	}))
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeInference) url() string {
	return "ws" + strings.TrimPrefix(f.server.URL, "http") + "/detect"
}

func testImage() image.Image {
	return image.NewRGBA(image.Rect(0, 0, 360, 479))
}

func TestRemoteDetectDecodesAndFilters(t *testing.T) {
	reply := `{"detections":[
		{"box":[10.7,20.2,400.9,300.1],"class_id":0,"confidence":0.91},
		{"box":[0,0,5,5],"class_id":2,"confidence":0.40},
		{"box":[1,2,3,4],"class_id":7,"confidence":0.75}
	]}`
	f := newFakeInference(t, reply)

	r := NewRemote(f.url(), RemoteOptions{ReadTimeout: time.Second})
	defer r.Close()

	dets, err := r.Detect(context.Background(), testImage(), 0.75)
	require.NoError(t, err)

	want := []types.Detection{
		{Box: types.BoundingBox{X1: 10, Y1: 20, X2: 400, Y2: 300}, ClassID: 0, Confidence: 0.91},
		{Box: types.BoundingBox{X1: 1, Y1: 2, X2: 3, Y2: 4}, ClassID: 7, Confidence: 0.75},
	}
	assert.Equal(t, want, dets)
	assert.Equal(t, "0.75", f.conf.Load())
	assert.Equal(t, image.Pt(360, 479), f.size.Load())
}

func TestRemoteReusesConnection(t *testing.T) {
	f := newFakeInference(t, `{"detections":[]}`)
	r := NewRemote(f.url(), RemoteOptions{})
	defer r.Close()

	for i := 0; i < 3; i++ {
		dets, err := r.Detect(context.Background(), testImage(), 0.5)
		require.NoError(t, err)
		assert.Empty(t, dets)
	}
	assert.Equal(t, int32(1), f.dials.Load())
}

func TestRemoteServiceErrorIsReturned(t *testing.T) {
	f := newFakeInference(t, `{"error":"model not loaded"}`)
	r := NewRemote(f.url(), RemoteOptions{})
	defer r.Close()

	_, err := r.Detect(context.Background(), testImage(), 0.75)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model not loaded")
}

func TestRemoteRedialsAfterDrop(t *testing.T) {
	f := newFakeInference(t, `{"detections":[]}`)
	r := NewRemote(f.url(), RemoteOptions{ReadTimeout: time.Second})
	defer r.Close()

	f.dropOne.Store(true)
	_, err := r.Detect(context.Background(), testImage(), 0.75)
	require.Error(t, err)

	_, err = r.Detect(context.Background(), testImage(), 0.75)
	require.NoError(t, err)
	assert.Equal(t, int32(2), f.dials.Load())
}

func TestRemoteUnreachable(t *testing.T) {
	r := NewRemote("ws://127.0.0.1:1/detect", RemoteOptions{HandshakeTimeout: 200 * time.Millisecond})
	_, err := r.Detect(context.Background(), testImage(), 0.75)
	assert.Error(t, err)
}

func TestFilterConfidence(t *testing.T) {
	dets := []types.Detection{{Confidence: 0.9}, {Confidence: 0.1}, {Confidence: 0.75}}
	got := FilterConfidence(dets, 0.75)
	assert.Equal(t, []types.Detection{{Confidence: 0.9}, {Confidence: 0.75}}, got)
	assert.Len(t, dets, 3)
}
