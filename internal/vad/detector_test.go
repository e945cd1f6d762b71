package vad

import (
	"encoding/binary"
	"testing"
	"time"
)

// frame builds one PCM16LE frame where every sample has the given amplitude.
func frame(samples int, amp int16) []byte {
	out := make([]byte, samples*2)
	for i := 0; i < samples; i++ {
		binary.LittleEndian.PutUint16(out[i*2:(i+1)*2], uint16(amp))
	}
	return out
}

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time              { return c.t }
func (c *fakeClock) advance(d time.Duration)     { c.t = c.t.Add(d) }

func newTestDetector(ev Events) (*Detector, *fakeClock) {
	d := New(Config{
		BargeRMS:      1000,
		SpeechRMS:     300,
		BargeDebounce: 500 * time.Millisecond,
		SilenceDelay:  800 * time.Millisecond,
	}, ev)
	clk := &fakeClock{t: time.Unix(1000, 0)}
	d.SetClock(clk.now)
	return d, clk
}

func TestBargeIn_Debounce(t *testing.T) {
	var fired int
	d, clk := newTestDetector(Events{OnBargeIn: func() { fired++ }})
	loud := frame(1024, 4000)

	d.SetAgentSpeaking(true)
	d.ProcessFrame(loud)
	clk.advance(64 * time.Millisecond)
	d.SetAgentSpeaking(true) // re-armed by playback status
	d.ProcessFrame(loud)
	if fired != 1 {
		t.Fatalf("two loud frames within debounce window: expected 1 trigger, got %d", fired)
	}

	clk.advance(600 * time.Millisecond)
	d.SetAgentSpeaking(true)
	d.ProcessFrame(loud)
	if fired != 2 {
		t.Fatalf("loud frame past debounce window: expected 2 triggers, got %d", fired)
	}
}

func TestBargeIn_RequiresAgentSpeaking(t *testing.T) {
	var fired int
	d, _ := newTestDetector(Events{OnBargeIn: func() { fired++ }})
	d.ProcessFrame(frame(1024, 4000))
	if fired != 0 {
		t.Fatalf("expected no barge-in while agent silent, got %d", fired)
	}
}

func TestBargeIn_DisarmsAgentSpeaking(t *testing.T) {
	d, _ := newTestDetector(Events{OnBargeIn: func() {}})
	d.SetAgentSpeaking(true)
	d.ProcessFrame(frame(1024, 4000))
	if d.AgentSpeaking() {
		t.Fatalf("expected agent-speaking flag cleared after trigger")
	}
}

func TestCommit_Timing(t *testing.T) {
	var commits int
	d, clk := newTestDetector(Events{OnCommit: func() { commits++ }})
	speech := frame(1024, 1200)
	quiet := frame(1024, 10)

	d.ProcessFrame(speech)

	// Silence shorter than the delay never commits.
	d.ProcessFrame(quiet)
	clk.advance(400 * time.Millisecond)
	d.ProcessFrame(quiet)
	if commits != 0 {
		t.Fatalf("expected no commit before silence delay, got %d", commits)
	}

	// A speech frame during the timer resets it.
	d.ProcessFrame(speech)
	clk.advance(400 * time.Millisecond)
	d.ProcessFrame(quiet)
	clk.advance(400 * time.Millisecond)
	d.ProcessFrame(quiet)
	if commits != 0 {
		t.Fatalf("expected reset timer not to commit yet, got %d", commits)
	}

	// Silence past the delay commits exactly once.
	clk.advance(500 * time.Millisecond)
	d.ProcessFrame(quiet)
	if commits != 1 {
		t.Fatalf("expected exactly one commit, got %d", commits)
	}
	clk.advance(2 * time.Second)
	d.ProcessFrame(quiet)
	if commits != 1 {
		t.Fatalf("silence with no new speech must not re-commit, got %d", commits)
	}
}

func TestCommit_NeverFiresWithoutSpeech(t *testing.T) {
	var commits int
	d, clk := newTestDetector(Events{OnCommit: func() { commits++ }})
	quiet := frame(1024, 5)
	for i := 0; i < 50; i++ {
		d.ProcessFrame(quiet)
		clk.advance(64 * time.Millisecond)
	}
	if commits != 0 {
		t.Fatalf("expected no commit from pure silence, got %d", commits)
	}
}

func TestRMS(t *testing.T) {
	if got := RMS(frame(256, 1000)); got < 999 || got > 1001 {
		t.Fatalf("constant-amplitude RMS: got %f want ~1000", got)
	}
	if got := RMS(nil); got != 0 {
		t.Fatalf("empty buffer RMS: got %f want 0", got)
	}
}
