// Package protocol defines the JSON message envelope exchanged between the
// browser (or a native client) and the relay server over WebSocket.
package protocol

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// Client → server message types.
const (
	TypeAudio        = "audio"
	TypeCommit       = "commit"
	TypeUserSpeaking = "user_speaking"
	TypeAudioStatus  = "audio_status"
	TypeConfig       = "config"
	TypeClearHistory = "clear_history"
)

// Server → client message types.
const (
	TypeStatus            = "status"
	TypePartialTranscript = "partial_transcript"
	TypeUserTranscript    = "user_transcript"
	TypePartialResponse   = "partial_response"
	TypeAgentResponse     = "agent_response"
	TypeAudioDone         = "audio_done"
	TypeClearAudio        = "clear_audio"
	TypeTaskUpdate        = "task_update"
	TypeTasks             = "tasks"
	TypeRAGResults        = "rag_results"
	TypeError             = "error"
)

// Status is a coordinator state reported to the client. It marshals as a
// plain JSON string.
type Status string

// Coordinator status values carried by TypeStatus events.
const (
	StatusListening Status = "listening"
	StatusThinking  Status = "thinking"
	StatusSpeaking  Status = "speaking"
	StatusSearching Status = "searching"
)

// TaskSpec describes one consultation milestone on the wire.
type TaskSpec struct {
	ID          int    `json:"id"`
	Description string `json:"description"`
	Completed   bool   `json:"completed"`
}

// RAGResult is one ranked retrieval hit shown in the debug view.
type RAGResult struct {
	Product string  `json:"product"`
	Score   float64 `json:"score"`
	Snippet string  `json:"snippet"`
}

// RAGResults is the payload of a rag_results event.
type RAGResults struct {
	Query   string      `json:"query"`
	Results []RAGResult `json:"results"`
}

// Event is the server→client envelope. Audio chunks ride in the Audio field
// as base64 PCM; everything else uses Data.
type Event struct {
	Type  string `json:"type"`
	Data  any    `json:"data,omitempty"`
	Audio string `json:"audio,omitempty"`
}

// StatusEvent builds a coordinator status change event.
func StatusEvent(status Status) Event { return Event{Type: TypeStatus, Data: status} }

// AudioEvent wraps a synthesized PCM chunk for delivery.
func AudioEvent(pcm []byte) Event {
	return Event{Type: TypeAudio, Audio: base64.StdEncoding.EncodeToString(pcm)}
}

// ClientMessage is a decoded client→server message.
type ClientMessage interface{ clientMessage() }

// AudioFrame carries one decoded capture frame of PCM 16-bit mono 16 kHz.
type AudioFrame struct{ PCM []byte }

// Commit signals the client VAD's silence timeout fired.
type Commit struct{}

// UserSpeaking reports client-side barge-in detection.
type UserSpeaking struct{ Interrupted bool }

// AudioStatus reports client playback state for the echo guard.
type AudioStatus struct{ Playing bool }

// SessionConfig configures a session; sent once after connect.
type SessionConfig struct {
	SystemPrompt string
	Tasks        []TaskSpec
}

// ClearHistory resets the conversation history.
type ClearHistory struct{}

func (AudioFrame) clientMessage()    {}
func (Commit) clientMessage()        {}
func (UserSpeaking) clientMessage()  {}
func (AudioStatus) clientMessage()   {}
func (SessionConfig) clientMessage() {}
func (ClearHistory) clientMessage()  {}

// ErrUnknownType reports a message type outside the client taxonomy. The
// handler logs and ignores these without touching session state.
type ErrUnknownType struct{ Type string }

func (e ErrUnknownType) Error() string { return fmt.Sprintf("unknown message type %q", e.Type) }

type clientEnvelope struct {
	Type         string     `json:"type"`
	Audio        string     `json:"audio,omitempty"`
	Interrupted  bool       `json:"interrupted"`
	Playing      bool       `json:"playing"`
	SystemPrompt string     `json:"system_prompt,omitempty"`
	Tasks        []TaskSpec `json:"tasks,omitempty"`
}

// DecodeClient parses a client→server frame into its typed message.
func DecodeClient(data []byte) (ClientMessage, error) {
	var env clientEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode client message: %w", err)
	}
	switch env.Type {
	case TypeAudio:
		pcm, err := base64.StdEncoding.DecodeString(env.Audio)
		if err != nil {
			return nil, fmt.Errorf("decode audio payload: %w", err)
		}
		return AudioFrame{PCM: pcm}, nil
	case TypeCommit:
		return Commit{}, nil
	case TypeUserSpeaking:
		return UserSpeaking{Interrupted: env.Interrupted}, nil
	case TypeAudioStatus:
		return AudioStatus{Playing: env.Playing}, nil
	case TypeConfig:
		return SessionConfig{SystemPrompt: env.SystemPrompt, Tasks: env.Tasks}, nil
	case TypeClearHistory:
		return ClearHistory{}, nil
	default:
		return nil, ErrUnknownType{Type: env.Type}
	}
}

// EncodeClient builds the wire form of a client→server message. Used by the
// native client; the browser builds the same JSON by hand.
func EncodeClient(msg ClientMessage) ([]byte, error) {
	var env clientEnvelope
	switch m := msg.(type) {
	case AudioFrame:
		env = clientEnvelope{Type: TypeAudio, Audio: base64.StdEncoding.EncodeToString(m.PCM)}
	case Commit:
		env = clientEnvelope{Type: TypeCommit}
	case UserSpeaking:
		env = clientEnvelope{Type: TypeUserSpeaking, Interrupted: m.Interrupted}
	case AudioStatus:
		env = clientEnvelope{Type: TypeAudioStatus, Playing: m.Playing}
	case SessionConfig:
		env = clientEnvelope{Type: TypeConfig, SystemPrompt: m.SystemPrompt, Tasks: m.Tasks}
	case ClearHistory:
		env = clientEnvelope{Type: TypeClearHistory}
	default:
		return nil, fmt.Errorf("unsupported client message %T", msg)
	}
	return json.Marshal(env)
}
