package tts

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

type rewriteTransport struct{ url string }

func (rt rewriteTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	r.URL.Scheme = "http"
	r.URL.Host = strings.TrimPrefix(rt.url, "http://")
	return http.DefaultTransport.RoundTrip(r)
}

func serve(t *testing.T, audio []byte, check func(t *testing.T, r *http.Request)) *ElevenLabsClient {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if check != nil {
			check(t, r)
		}
		w.Write(audio)
	}))
	t.Cleanup(srv.Close)
	c := NewElevenLabsClient("key", "voice-1", 1.1)
	c.HTTPClient = &http.Client{Transport: rewriteTransport{srv.URL}}
	return c
}

func drain(t *testing.T, c *ElevenLabsClient, text string) ([][]byte, error) {
	t.Helper()
	pcmCh, errCh := c.Stream(context.Background(), text)
	var chunks [][]byte
	for b := range pcmCh {
		chunks = append(chunks, b)
	}
	return chunks, <-errCh
}

func TestStream_Rechunking(t *testing.T) {
	// 1600 + 3200 + 3200 + 900-byte tail, with the odd trailing byte dropped.
	audio := make([]byte, 1600+3200+3200+901)
	for i := range audio {
		audio[i] = byte(i)
	}
	c := serve(t, audio, func(t *testing.T, r *http.Request) {
		if got := r.URL.Query().Get("output_format"); got != "pcm_16000" {
			t.Errorf("output_format = %q", got)
		}
		if got := r.Header.Get("xi-api-key"); got != "key" {
			t.Errorf("xi-api-key = %q", got)
		}
		var body struct {
			Text          string `json:"text"`
			ModelID       string `json:"model_id"`
			VoiceSettings struct {
				Speed float64 `json:"speed"`
			} `json:"voice_settings"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode body: %v", err)
		}
		if body.Text != "Hallo Welt." {
			t.Errorf("text = %q", body.Text)
		}
		if body.VoiceSettings.Speed != 1.1 {
			t.Errorf("speed = %v", body.VoiceSettings.Speed)
		}
	})

	chunks, err := drain(t, c, "Hallo Welt.")
	if err != nil {
		t.Fatal(err)
	}
	want := []int{1600, 3200, 3200, 900}
	if len(chunks) != len(want) {
		t.Fatalf("got %d chunks, want %d", len(chunks), len(want))
	}
	var off int
	for i, chunk := range chunks {
		if len(chunk) != want[i] {
			t.Fatalf("chunk %d size = %d, want %d", i, len(chunk), want[i])
		}
		for j, b := range chunk {
			if b != byte(off+j) {
				t.Fatalf("chunk %d corrupted at offset %d", i, j)
			}
		}
		off += len(chunk)
	}
}

func TestStream_EmptyTextIsNoOp(t *testing.T) {
	c := serve(t, nil, func(t *testing.T, r *http.Request) {
		t.Error("request sent for empty text")
	})
	chunks, err := drain(t, c, "")
	if err != nil {
		t.Fatal(err)
	}
	if chunks != nil {
		t.Fatalf("chunks = %v", chunks)
	}
}

func TestStream_MissingCredentials(t *testing.T) {
	c := NewElevenLabsClient("", "", 1.0)
	_, err := drain(t, c, "hi")
	if err == nil {
		t.Fatal("want error when credentials missing")
	}
}

func TestStream_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusUnauthorized)
	}))
	defer srv.Close()
	c := NewElevenLabsClient("key", "voice-1", 1.0)
	c.HTTPClient = &http.Client{Transport: rewriteTransport{srv.URL}}

	_, err := drain(t, c, "hi")
	if err == nil || !strings.Contains(err.Error(), "status=401") {
		t.Fatalf("err = %v", err)
	}
}

func TestNewElevenLabsClient_ClampsSpeed(t *testing.T) {
	if c := NewElevenLabsClient("k", "v", 2.0); c.Speed != 1.2 {
		t.Fatalf("Speed = %v, want 1.2", c.Speed)
	}
	if c := NewElevenLabsClient("k", "v", 0.1); c.Speed != 0.7 {
		t.Fatalf("Speed = %v, want 0.7", c.Speed)
	}
}
