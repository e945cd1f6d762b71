// Package tts streams synthesized speech as 16kHz PCM16LE chunks.
package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/rs/zerolog/log"
)

const (
	// First chunk is 50ms so playback starts fast; the rest are 100ms.
	firstChunkBytes = 1600
	chunkBytes      = 3200
)

// ElevenLabsClient synthesizes via the ElevenLabs HTTP streaming endpoint.
type ElevenLabsClient struct {
	HTTPClient *http.Client
	APIKey     string
	VoiceID    string
	ModelID    string
	Speed      float64
}

// NewElevenLabsClient builds a client. speed is clamped to the API's valid
// range of 0.7 to 1.2.
func NewElevenLabsClient(apiKey, voiceID string, speed float64) *ElevenLabsClient {
	if speed < 0.7 {
		speed = 0.7
	}
	if speed > 1.2 {
		speed = 1.2
	}
	return &ElevenLabsClient{
		HTTPClient: &http.Client{Timeout: 0},
		APIKey:     apiKey,
		VoiceID:    voiceID,
		ModelID:    "eleven_flash_v2_5",
		Speed:      speed,
	}
}

// Stream synthesizes text and delivers PCM chunks on the returned channel.
// Both channels close when the stream ends; cancelling ctx aborts synthesis.
func (e *ElevenLabsClient) Stream(ctx context.Context, text string) (<-chan []byte, <-chan error) {
	pcmCh := make(chan []byte, 64)
	errCh := make(chan error, 1)
	go func() {
		defer close(pcmCh)
		defer close(errCh)
		if e.APIKey == "" || e.VoiceID == "" {
			errCh <- fmt.Errorf("elevenlabs: api key or voice id missing")
			return
		}
		if text == "" {
			return
		}
		if err := e.httpStream(ctx, text, pcmCh); err != nil {
			errCh <- err
		}
	}()
	return pcmCh, errCh
}

func (e *ElevenLabsClient) httpStream(ctx context.Context, text string, pcmCh chan<- []byte) error {
	u := url.URL{
		Scheme: "https",
		Host:   "api.elevenlabs.io",
		Path:   "/v1/text-to-speech/" + e.VoiceID + "/stream",
	}
	q := u.Query()
	q.Set("output_format", "pcm_16000")
	u.RawQuery = q.Encode()

	body := map[string]any{
		"text":     text,
		"model_id": e.ModelID,
		"voice_settings": map[string]any{
			"stability":        0.5,
			"similarity_boost": 0.75,
			"speed":            e.Speed,
		},
	}
	buf, _ := json.Marshal(body)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(buf))
	if err != nil {
		return err
	}
	req.Header.Set("xi-api-key", e.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("elevenlabs stream: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("elevenlabs status=%d body=%s", resp.StatusCode, string(b))
	}

	// Re-chunk the byte stream into fixed playback-sized frames, keeping
	// 2-byte alignment for 16-bit samples.
	var pending []byte
	first := true
	sent := 0
	read := make([]byte, 8192)
	for {
		n, rerr := resp.Body.Read(read)
		if n > 0 {
			pending = append(pending, read[:n]...)
			size := chunkBytes
			if first {
				size = firstChunkBytes
			}
			for len(pending) >= size {
				out := make([]byte, size)
				copy(out, pending[:size])
				pending = pending[size:]
				first = false
				size = chunkBytes
				select {
				case pcmCh <- out:
					sent++
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("elevenlabs stream read: %w", rerr)
		}
	}
	if len(pending)%2 != 0 {
		pending = pending[:len(pending)-1]
	}
	if len(pending) > 0 {
		select {
		case pcmCh <- pending:
			sent++
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if sent == 0 {
		log.Warn().Str("text", truncate(text, 50)).Msg("tts produced no audio")
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
