// Package audio speaks stage changes out loud. Speech is synthesized by a
// text-to-speech HTTP API and piped into a local player process.
package audio

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// DefaultTTSBaseURL is the ElevenLabs API root
const DefaultTTSBaseURL = "https://api.elevenlabs.io"

// Synthesizer turns text into playable audio bytes
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

// TTSService calls the ElevenLabs text-to-speech endpoint. Results are cached
// per phrase since the relay only ever says a handful of them.
type TTSService struct {
	apiKey  string
	voiceID string
	baseURL string
	modelID string
	client  *http.Client

	mu    sync.Mutex
	cache map[string][]byte
}

// NewTTSService creates a client. An empty baseURL uses DefaultTTSBaseURL.
func NewTTSService(apiKey, voiceID, baseURL string) *TTSService {
	if baseURL == "" {
		baseURL = DefaultTTSBaseURL
	}
	return &TTSService{
		apiKey:  apiKey,
		voiceID: voiceID,
		baseURL: strings.TrimRight(baseURL, "/"),
		modelID: "eleven_multilingual_v2",
		client:  &http.Client{Timeout: 30 * time.Second},
		cache:   make(map[string][]byte),
	}
}

// Synthesize implements Synthesizer and returns MP3 bytes
func (tts *TTSService) Synthesize(ctx context.Context, text string) ([]byte, error) {
	tts.mu.Lock()
	cached, ok := tts.cache[text]
	tts.mu.Unlock()
	if ok {
		return cached, nil
	}

	requestBody := map[string]interface{}{
		"text":     text,
		"model_id": tts.modelID,
		"voice_settings": map[string]interface{}{
			"stability":         0.5,
			"similarity_boost":  0.8,
			"style":             0.0,
			"use_speaker_boost": true,
		},
	}

	jsonData, err := json.Marshal(requestBody)
	if err != nil {
		return nil, err
	}

	url := tts.baseURL + "/v1/text-to-speech/" + tts.voiceID
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonData))
	if err != nil {
		return nil, err
	}

	req.Header.Set("Accept", "audio/mpeg")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("xi-api-key", tts.apiKey)

	resp, err := tts.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ElevenLabs API error: %s", resp.Status)
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if len(audio) == 0 {
		return nil, fmt.Errorf("ElevenLabs API returned no audio")
	}

	tts.mu.Lock()
	tts.cache[text] = audio
	tts.mu.Unlock()

	return audio, nil
}
