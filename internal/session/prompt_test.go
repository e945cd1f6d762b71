package session

import (
	"strings"
	"testing"

	"github.com/chadiek/voice-consult/internal/protocol"
)

func TestBuildSystemPrompt(t *testing.T) {
	got := buildSystemPrompt("Du bist ein Versicherungsberater.", "- Premium Duo: Fondspolice", []protocol.TaskSpec{
		{ID: 1, Description: "Begrüßung", Completed: true},
		{ID: 2, Description: "Bedarf klären"},
	})

	if !strings.HasPrefix(got, "Du bist ein Versicherungsberater.") {
		t.Fatalf("persona not first:\n%s", got)
	}
	for _, want := range []string{
		"## Available Products",
		"- Premium Duo: Fondspolice",
		"## Your Tasks",
		"1. [DONE] Begrüßung",
		"2. [TODO] Bedarf klären",
		"[TASK_X_DONE]",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
}

func TestBuildSystemPrompt_BarePersona(t *testing.T) {
	got := buildSystemPrompt("Nur Persona.", "", nil)
	if got != "Nur Persona." {
		t.Fatalf("prompt = %q, want bare persona", got)
	}
}
