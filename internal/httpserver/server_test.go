package httpserver

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/chadiek/voice-consult/internal/config"
	"github.com/chadiek/voice-consult/internal/history"
	"github.com/chadiek/voice-consult/internal/llm"
	"github.com/chadiek/voice-consult/internal/metrics"
	"github.com/chadiek/voice-consult/internal/protocol"
	"github.com/chadiek/voice-consult/internal/session"
)

type stubTranscriber struct {
	mu       sync.Mutex
	audio    [][]byte
	commits  int
	partials chan string
	finals   chan string
}

func newStubTranscriber() *stubTranscriber {
	return &stubTranscriber{partials: make(chan string), finals: make(chan string)}
}

func (s *stubTranscriber) Connect() error { return nil }

func (s *stubTranscriber) SendAudio(pcm []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audio = append(s.audio, append([]byte(nil), pcm...))
	return nil
}

func (s *stubTranscriber) Commit() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commits++
	return nil
}

func (s *stubTranscriber) Partials() <-chan string { return s.partials }
func (s *stubTranscriber) Finals() <-chan string   { return s.finals }
func (s *stubTranscriber) Close() error            { return nil }

func (s *stubTranscriber) audioCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.audio)
}

type stubGenerator struct{}

func (stubGenerator) Stream(context.Context, string, []llm.Message) (<-chan string, <-chan error) {
	tokens := make(chan string)
	errs := make(chan error, 1)
	close(tokens)
	return tokens, errs
}

type stubSynthesizer struct{}

func (stubSynthesizer) Stream(context.Context, string) (<-chan []byte, <-chan error) {
	audio := make(chan []byte)
	errs := make(chan error, 1)
	close(audio)
	return audio, errs
}

func newTestServer(t *testing.T) (*Server, *stubTranscriber) {
	t.Helper()
	stt := newStubTranscriber()
	cfg := config.Config{StaticDir: ""}
	s := New(cfg, Deps{
		NewTranscriber: func() session.Transcriber { return stt },
		Generator:      stubGenerator{},
		Synthesizer:    stubSynthesizer{},
		History:        history.NewMemoryStore(),
		Metrics:        metrics.New(prometheus.NewRegistry()),
	})
	return s, stt
}

func TestHealthz(t *testing.T) {
	s, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if rec.Body.String() != "ok" {
		t.Fatalf("body = %q, want %q", rec.Body.String(), "ok")
	}
}

func TestMetricsEndpoint(t *testing.T) {
	s, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if !strings.Contains(rec.Body.String(), "voice_consult_sessions_total") {
		t.Fatal("metrics output missing session counter")
	}
}

func dialWS(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) protocol.Event {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev protocol.Event
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("read event: %v", err)
	}
	return ev
}

func TestWS_SessionStartsListening(t *testing.T) {
	s, _ := newTestServer(t)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	conn := dialWS(t, srv)
	defer conn.Close()

	ev := readEvent(t, conn)
	if ev.Type != protocol.TypeStatus || ev.Data != string(protocol.StatusListening) {
		t.Fatalf("first event = %+v, want listening status", ev)
	}
}

func TestWS_BinaryAudioForwarded(t *testing.T) {
	s, stt := newTestServer(t)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	conn := dialWS(t, srv)
	defer conn.Close()
	readEvent(t, conn) // listening

	pcm := make([]byte, 640)
	if err := conn.WriteMessage(websocket.BinaryMessage, pcm); err != nil {
		t.Fatalf("write: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for stt.audioCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("audio never reached the transcriber")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestWS_CommitForwarded(t *testing.T) {
	s, stt := newTestServer(t)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	conn := dialWS(t, srv)
	defer conn.Close()
	readEvent(t, conn) // listening

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"commit"}`)); err != nil {
		t.Fatalf("write: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for {
		stt.mu.Lock()
		n := stt.commits
		stt.mu.Unlock()
		if n > 0 {
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("commit never reached the transcriber")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestWS_UnknownMessageIgnored(t *testing.T) {
	s, _ := newTestServer(t)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	conn := dialWS(t, srv)
	defer conn.Close()
	readEvent(t, conn) // listening

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"bogus"}`)); err != nil {
		t.Fatalf("write: %v", err)
	}

	// The connection must stay usable after an unknown message.
	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"commit"}`)); err != nil {
		t.Fatalf("write after unknown: %v", err)
	}
}
