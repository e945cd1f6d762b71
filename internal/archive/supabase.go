// Package archive persists finished conversations to Supabase storage as
// JSON transcripts, one object per session.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/supabase-community/supabase-go"

	"github.com/chadiek/voice-consult/internal/history"
)

// Config holds Supabase storage settings.
type Config struct {
	URL            string
	ServiceRoleKey string
	Bucket         string
}

// Store uploads conversation transcripts.
type Store struct {
	client *supabase.Client
	bucket string
}

// transcript is the archived document layout.
type transcript struct {
	SessionID  string         `json:"session_id"`
	ArchivedAt time.Time      `json:"archived_at"`
	Turns      []history.Turn `json:"turns"`
}

// New creates the archive store. Missing settings return (nil, nil) so the
// caller can simply skip archiving.
func New(cfg Config) (*Store, error) {
	if cfg.URL == "" || cfg.ServiceRoleKey == "" || cfg.Bucket == "" {
		log.Info().Msg("supabase not configured, transcript archiving disabled")
		return nil, nil
	}
	client, err := supabase.NewClient(cfg.URL, cfg.ServiceRoleKey, &supabase.ClientOptions{})
	if err != nil {
		return nil, fmt.Errorf("create supabase client: %w", err)
	}
	return &Store{client: client, bucket: cfg.Bucket}, nil
}

// Upload writes the session transcript as transcripts/<id>.json.
func (s *Store) Upload(_ context.Context, sessionID string, turns []history.Turn) error {
	data, err := json.MarshalIndent(transcript{
		SessionID:  sessionID,
		ArchivedAt: time.Now().UTC(),
		Turns:      turns,
	}, "", "  ")
	if err != nil {
		return err
	}
	key := fmt.Sprintf("transcripts/%s.json", sessionID)
	if _, err := s.client.Storage.UploadFile(s.bucket, key, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("upload transcript to supabase: %w", err)
	}
	log.Info().Str("session_id", sessionID).Str("key", key).Int("turns", len(turns)).
		Msg("transcript archived")
	return nil
}
