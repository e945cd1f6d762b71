// Package history stores per-session conversation turns. The in-memory store
// serves single-process deployments; the Redis store survives restarts and
// lets clients resume a consultation.
package history

import (
	"context"
	"time"
)

// Role values for a turn.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// InterruptedSuffix is appended to an assistant turn that was cut short by a
// barge-in, so the model knows its previous answer was not fully heard.
const InterruptedSuffix = " [interrupted]"

// Turn is one conversation turn.
type Turn struct {
	Role    string    `json:"role"`
	Content string    `json:"content"`
	At      time.Time `json:"at"`
}

// Store persists conversation history for a session.
type Store interface {
	// Append adds a turn to the session's history.
	Append(ctx context.Context, sessionID string, turn Turn) error
	// Turns returns the full history in order.
	Turns(ctx context.Context, sessionID string) ([]Turn, error)
	// MarkInterrupted appends InterruptedSuffix to the most recent
	// assistant turn, if any. No-op on empty history.
	MarkInterrupted(ctx context.Context, sessionID string) error
	// Clear drops the session's history.
	Clear(ctx context.Context, sessionID string) error
	Close() error
}
