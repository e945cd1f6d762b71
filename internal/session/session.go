// Package session coordinates one voice conversation: transcripts in, audio
// out, with barge-in handling in between. All turn state is owned by a single
// per-session run loop; collaborator goroutines communicate with it through
// an internal event channel, and everything they report carries the
// generation it belongs to so stale work is dropped rather than raced.
package session

import (
	"context"
	"time"

	"github.com/chadiek/voice-consult/internal/history"
	"github.com/chadiek/voice-consult/internal/llm"
	"github.com/chadiek/voice-consult/internal/protocol"
	"github.com/chadiek/voice-consult/internal/rag"
)

// Transcriber is the realtime speech-to-text collaborator.
type Transcriber interface {
	Connect() error
	SendAudio(pcm []byte) error
	Commit() error
	Partials() <-chan string
	Finals() <-chan string
	Close() error
}

// Generator streams a model response for a conversation.
type Generator interface {
	Stream(ctx context.Context, system string, messages []llm.Message) (<-chan string, <-chan error)
}

// Synthesizer streams PCM audio for one sentence.
type Synthesizer interface {
	Stream(ctx context.Context, text string) (<-chan []byte, <-chan error)
}

// Retriever looks up product documentation for a query.
type Retriever interface {
	Search(query string, topK int) []rag.Result
}

// Publisher emits completed turns to downstream consumers.
type Publisher interface {
	PublishTurn(ctx context.Context, sessionID, role, content string) error
}

// Archiver stores a finished conversation.
type Archiver interface {
	Upload(ctx context.Context, sessionID string, turns []history.Turn) error
}

// Sink delivers events to the connected client.
type Sink interface {
	Send(ev protocol.Event) error
}

// Config carries the per-session tunables.
type Config struct {
	SystemPrompt       string
	ProductSummary     string
	TriggerKeywords    []string
	RetrievalTopK      int
	MaxSentenceLen     int
	ErrorRecoveryDelay time.Duration
	EchoGuardTimeout   time.Duration
}
