package playback

import (
	"testing"
	"time"
)

// pcm16 returns a silent PCM16LE chunk with the given duration at 16kHz.
func pcm16(d time.Duration) []byte {
	samples := int(d * 16000 / time.Second)
	return make([]byte, samples*2)
}

func TestEnqueue_GaplessTimeline(t *testing.T) {
	s := New(Config{}, nil, nil)
	base := time.Unix(100, 0)
	s.SetClock(func() time.Time { return base })

	durs := []time.Duration{250 * time.Millisecond, 100 * time.Millisecond, 400 * time.Millisecond}
	var want time.Duration
	for i, d := range durs {
		start := s.Enqueue(pcm16(d))
		if start != want {
			t.Fatalf("chunk %d: start = %v, want %v", i, start, want)
		}
		want += d
	}
	if got := s.NextPlayTime(); got != want {
		t.Fatalf("NextPlayTime = %v, want %v", got, want)
	}
}

func TestEnqueue_LateChunkStartsNow(t *testing.T) {
	s := New(Config{}, nil, nil)
	now := time.Unix(100, 0)
	s.SetClock(func() time.Time { return now })

	s.Enqueue(pcm16(100 * time.Millisecond))

	// Chunk arrives after the previous one already finished: it starts at
	// the current time, not at the stale nextPlayTime.
	now = now.Add(300 * time.Millisecond)
	start := s.Enqueue(pcm16(100 * time.Millisecond))
	if start != 300*time.Millisecond {
		t.Fatalf("late chunk start = %v, want 300ms", start)
	}
	if got := s.NextPlayTime(); got != 400*time.Millisecond {
		t.Fatalf("NextPlayTime = %v, want 400ms", got)
	}
}

func TestDuration(t *testing.T) {
	s := New(Config{SampleRate: 16000}, nil, nil)
	if d := s.Duration(make([]byte, 3200)); d != 100*time.Millisecond {
		t.Fatalf("Duration(3200 bytes) = %v, want 100ms", d)
	}
}

func TestClear_ResetsTimelineAndSources(t *testing.T) {
	s := New(Config{UnmuteDelay: time.Hour}, nil, nil)
	base := time.Unix(100, 0)
	s.SetClock(func() time.Time { return base })

	for i := 0; i < 4; i++ {
		s.Enqueue(pcm16(500 * time.Millisecond))
	}
	if got := s.ActiveSources(); got != 4 {
		t.Fatalf("ActiveSources = %d, want 4", got)
	}

	s.Clear()
	if got := s.ActiveSources(); got != 0 {
		t.Fatalf("ActiveSources after Clear = %d, want 0", got)
	}
	if got := s.NextPlayTime(); got != 0 {
		t.Fatalf("NextPlayTime after Clear = %v, want 0", got)
	}
	if g := s.Gain(); g != 0 {
		t.Fatalf("Gain after Clear = %v, want 0 (muted)", g)
	}

	// Next chunk starts from a fresh timeline.
	if start := s.Enqueue(pcm16(100 * time.Millisecond)); start != 0 {
		t.Fatalf("post-clear chunk start = %v, want 0", start)
	}
}

func TestClear_Idempotent(t *testing.T) {
	s := New(Config{UnmuteDelay: time.Hour}, nil, nil)
	base := time.Unix(100, 0)
	s.SetClock(func() time.Time { return base })

	// Clear on an empty queue is a no-op apart from the mute ramp.
	s.Clear()
	if got, want := s.ActiveSources(), 0; got != want {
		t.Fatalf("ActiveSources = %d, want %d", got, want)
	}
	if got := s.NextPlayTime(); got != 0 {
		t.Fatalf("NextPlayTime = %v, want 0", got)
	}

	s.Enqueue(pcm16(500 * time.Millisecond))
	s.Clear()
	s.Clear()
	if got := s.ActiveSources(); got != 0 {
		t.Fatalf("ActiveSources after double Clear = %d, want 0", got)
	}
	if got := s.NextPlayTime(); got != 0 {
		t.Fatalf("NextPlayTime after double Clear = %v, want 0", got)
	}
}

func TestMutedChunkPlaysAsSilence(t *testing.T) {
	writes := make(chan []byte, 4)
	s := New(Config{UnmuteDelay: time.Hour}, nil, func(pcm []byte) { writes <- pcm })

	s.Clear() // mute window is now open indefinitely

	pcm := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	s.Enqueue(pcm)

	select {
	case got := <-writes:
		if len(got) != len(pcm) {
			t.Fatalf("muted write length = %d, want %d", len(got), len(pcm))
		}
		for i, b := range got {
			if b != 0 {
				t.Fatalf("muted write byte %d = %d, want silence", i, b)
			}
		}
	case <-time.After(2 * time.Second):
		t.Fatal("chunk starting inside the mute window was dropped, not muted")
	}
}

func TestClear_RestoresGain(t *testing.T) {
	s := New(Config{UnmuteDelay: 10 * time.Millisecond}, nil, nil)
	s.Clear()
	if g := s.Gain(); g != 0 {
		t.Fatalf("Gain right after Clear = %v, want 0", g)
	}
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if s.Gain() == 1 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("gain never restored after Clear")
}
