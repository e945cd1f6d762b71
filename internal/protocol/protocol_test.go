package protocol

import (
	"bytes"
	"encoding/json"
	"testing"
)

func TestDecodeClient_Taxonomy(t *testing.T) {
	cases := []struct {
		in   string
		want ClientMessage
	}{
		{`{"type":"commit"}`, Commit{}},
		{`{"type":"user_speaking","interrupted":true}`, UserSpeaking{Interrupted: true}},
		{`{"type":"audio_status","playing":false}`, AudioStatus{Playing: false}},
		{`{"type":"clear_history"}`, ClearHistory{}},
	}
	for _, tc := range cases {
		got, err := DecodeClient([]byte(tc.in))
		if err != nil {
			t.Fatalf("decode %s: %v", tc.in, err)
		}
		if got != tc.want {
			t.Fatalf("decode %s: got %#v want %#v", tc.in, got, tc.want)
		}
	}
}

func TestDecodeClient_AudioRoundTrip(t *testing.T) {
	pcm := []byte{0x01, 0x00, 0xff, 0x7f}
	raw, err := EncodeClient(AudioFrame{PCM: pcm})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	msg, err := DecodeClient(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	frame, ok := msg.(AudioFrame)
	if !ok {
		t.Fatalf("expected AudioFrame, got %T", msg)
	}
	if !bytes.Equal(frame.PCM, pcm) {
		t.Fatalf("pcm mismatch: got %v want %v", frame.PCM, pcm)
	}
}

func TestDecodeClient_Config(t *testing.T) {
	raw := `{"type":"config","tasks":[{"id":1,"description":"greet the customer"},{"id":2,"description":"collect the name"}]}`
	msg, err := DecodeClient([]byte(raw))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	cfg, ok := msg.(SessionConfig)
	if !ok {
		t.Fatalf("expected SessionConfig, got %T", msg)
	}
	if len(cfg.Tasks) != 2 || cfg.Tasks[0].ID != 1 || cfg.Tasks[1].Description != "collect the name" {
		t.Fatalf("unexpected config: %#v", cfg)
	}
}

func TestDecodeClient_UnknownTypeIsTyped(t *testing.T) {
	_, err := DecodeClient([]byte(`{"type":"telemetry"}`))
	if err == nil {
		t.Fatalf("expected error for unknown type")
	}
	if _, ok := err.(ErrUnknownType); !ok {
		t.Fatalf("expected ErrUnknownType, got %T", err)
	}
}

func TestStatusEvent_Wire(t *testing.T) {
	raw, err := json.Marshal(StatusEvent(StatusThinking))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `{"type":"status","data":"thinking"}`
	if string(raw) != want {
		t.Fatalf("got %s want %s", raw, want)
	}
}
