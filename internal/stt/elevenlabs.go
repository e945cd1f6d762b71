// Package stt streams microphone audio to the ElevenLabs Scribe realtime API
// and delivers partial and committed transcripts.
package stt

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// ScribeClient is one realtime transcription session. It runs with a manual
// commit strategy: the server-side energy detector decides end-of-utterance
// and calls Commit, which asks Scribe for the committed transcript.
type ScribeClient struct {
	apiKey   string
	language string
	baseURL  string

	mu        sync.RWMutex
	writeMu   sync.Mutex
	conn      *websocket.Conn
	connected bool

	partials  chan string
	finals    chan string
	audioData chan []byte
	stopCh    chan struct{}
	closeOnce sync.Once
}

type inputAudioChunk struct {
	MessageType string `json:"message_type"`
	AudioBase64 string `json:"audio_base_64"`
	Commit      bool   `json:"commit"`
	SampleRate  int    `json:"sample_rate"`
}

type scribeMessage struct {
	MessageType string `json:"message_type"`
	Type        string `json:"type"`
	Text        string `json:"text"`
	Transcript  string `json:"transcript"`
	IsFinal     bool   `json:"is_final"`
	Message     string `json:"message"`
}

// NewScribeClient builds an unconnected client. language is an ISO code such
// as "de".
func NewScribeClient(apiKey, language string) *ScribeClient {
	return &ScribeClient{
		apiKey:    apiKey,
		language:  language,
		baseURL:   "wss://api.elevenlabs.io",
		partials:  make(chan string, 100),
		finals:    make(chan string, 10),
		audioData: make(chan []byte, 1000),
		stopCh:    make(chan struct{}),
	}
}

// Partials delivers interim transcripts for live display.
func (s *ScribeClient) Partials() <-chan string { return s.partials }

// Finals delivers committed transcripts, one per utterance.
func (s *ScribeClient) Finals() <-chan string { return s.finals }

// Connect dials the realtime endpoint and starts the send and receive loops.
func (s *ScribeClient) Connect() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.connected {
		return nil
	}
	if s.apiKey == "" {
		return fmt.Errorf("elevenlabs stt: api key missing")
	}

	q := url.Values{}
	q.Set("model_id", "scribe_v2_realtime")
	q.Set("encoding", "pcm_16000")
	q.Set("sample_rate", "16000")
	q.Set("commit_strategy", "manual")
	q.Set("language_code", s.language)
	wsURL := s.baseURL + "/v1/speech-to-text/realtime?" + q.Encode()

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	headers := map[string][]string{"xi-api-key": {s.apiKey}}
	conn, resp, err := dialer.Dial(wsURL, headers)
	if err != nil {
		if resp != nil {
			log.Error().Int("status", resp.StatusCode).Msg("scribe handshake rejected")
		}
		return fmt.Errorf("elevenlabs stt: connect: %w", err)
	}

	s.conn = conn
	s.connected = true
	go s.handleMessages()
	go s.sendAudioData()
	log.Info().Str("language", s.language).Msg("scribe realtime connected")
	return nil
}

// SendAudio queues one PCM16LE chunk. The send loop encodes and forwards it;
// when the queue is full the chunk is dropped rather than stalling capture.
func (s *ScribeClient) SendAudio(pcm []byte) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.connected {
		return fmt.Errorf("elevenlabs stt: not connected")
	}
	select {
	case s.audioData <- pcm:
	default:
		log.Warn().Msg("scribe audio queue full, dropping chunk")
	}
	return nil
}

// Commit asks Scribe to finalize the current utterance. The committed
// transcript arrives asynchronously on Finals.
func (s *ScribeClient) Commit() error {
	s.mu.RLock()
	conn := s.conn
	connected := s.connected
	s.mu.RUnlock()
	if !connected || conn == nil {
		return fmt.Errorf("elevenlabs stt: not connected")
	}
	return s.writeChunk(conn, inputAudioChunk{
		MessageType: "input_audio_chunk",
		AudioBase64: "",
		Commit:      true,
		SampleRate:  16000,
	})
}

// Close shuts the session down. The transcript channels are closed by the
// receive loop once it drains, never here, so a message being emitted at
// teardown can finish its send.
func (s *ScribeClient) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return nil
	}
	s.closeOnce.Do(func() {
		close(s.stopCh)
		if s.conn != nil {
			_ = s.conn.Close()
		}
		s.connected = false
		s.conn = nil
	})
	return nil
}

// writeMu serializes writes; gorilla connections allow one writer at a time
// and both the audio loop and Commit write.
func (s *ScribeClient) writeChunk(conn *websocket.Conn, chunk inputAudioChunk) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return conn.WriteJSON(chunk)
}

func (s *ScribeClient) sendAudioData() {
	for {
		select {
		case <-s.stopCh:
			return
		case pcm := <-s.audioData:
			s.mu.RLock()
			conn := s.conn
			s.mu.RUnlock()
			if conn == nil {
				return
			}
			err := s.writeChunk(conn, inputAudioChunk{
				MessageType: "input_audio_chunk",
				AudioBase64: base64.StdEncoding.EncodeToString(pcm),
				Commit:      false,
				SampleRate:  16000,
			})
			if err != nil {
				log.Error().Err(err).Msg("scribe audio send failed")
				return
			}
		}
	}
}

// handleMessages is the receive loop. It owns the transcript channels:
// they close only after the last emit has returned.
func (s *ScribeClient) handleMessages() {
	defer close(s.partials)
	defer close(s.finals)
	for {
		s.mu.RLock()
		conn := s.conn
		s.mu.RUnlock()
		if conn == nil {
			return
		}
		_, message, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-s.stopCh:
			default:
				log.Error().Err(err).Msg("scribe read failed")
			}
			return
		}
		s.processMessage(message)
	}
}

func (s *ScribeClient) processMessage(message []byte) {
	var msg scribeMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		log.Debug().Err(err).Msg("scribe sent unparseable message")
		return
	}
	msgType := msg.MessageType
	if msgType == "" {
		msgType = msg.Type
	}

	switch msgType {
	case "partial_transcript":
		s.emitPartial(msg.Text)
	case "transcript":
		text := msg.Text
		if text == "" {
			text = msg.Transcript
		}
		if msg.IsFinal {
			s.emitFinal(text)
		} else {
			s.emitPartial(text)
		}
	case "committed_transcript":
		s.emitFinal(msg.Text)
	case "session_started":
		log.Debug().Msg("scribe session started")
	case "error", "auth_error", "rate_limited":
		log.Error().Str("kind", msgType).Str("message", msg.Message).Msg("scribe error")
	}
}

func (s *ScribeClient) emitPartial(text string) {
	if strings.TrimSpace(text) == "" {
		return
	}
	select {
	case s.partials <- text:
	default:
	}
}

// emitFinal delivers without dropping so no committed words are lost.
func (s *ScribeClient) emitFinal(text string) {
	if strings.TrimSpace(text) == "" {
		return
	}
	select {
	case s.finals <- text:
	case <-s.stopCh:
	}
}
