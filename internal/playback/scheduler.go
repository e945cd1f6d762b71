// Package playback schedules synthesized audio chunks for gapless playback
// on a virtual timeline and supports the hard-stop clear used by barge-in.
package playback

import (
	"sync"
	"time"
)

// Config holds scheduler parameters.
type Config struct {
	SampleRate  int           // 16000
	UnmuteDelay time.Duration // gain restore delay after Clear
}

// DefaultConfig matches the 16kHz mono PCM the synthesis collaborators emit.
func DefaultConfig() Config {
	return Config{SampleRate: 16000, UnmuteDelay: 120 * time.Millisecond}
}

type source struct {
	start    *time.Timer
	end      *time.Timer
	started  bool
	finished bool
}

// Scheduler queues PCM16LE chunks on a virtual timeline: each chunk starts at
// max(currentTime, nextPlayTime) regardless of arrival jitter, so playback is
// gapless and strictly ordered. Clear mutes via the gain control, stops every
// source and resets the timeline.
type Scheduler struct {
	cfg Config
	now func() time.Time

	mu       sync.Mutex
	epoch    time.Time
	nextPlay time.Duration
	sources  map[int]*source
	nextID   int
	active   int
	gain     float64

	// onPlaying observes playing-state transitions: true when the first
	// source starts, false when the last finishes. Drives audio_status.
	onPlaying func(bool)
	// write receives each chunk when its scheduled start arrives, gated by
	// the gain control.
	write func(pcm []byte)

	unmute *time.Timer
}

// New constructs a Scheduler. onPlaying and write may be nil.
func New(cfg Config, onPlaying func(bool), write func(pcm []byte)) *Scheduler {
	def := DefaultConfig()
	if cfg.SampleRate == 0 {
		cfg.SampleRate = def.SampleRate
	}
	if cfg.UnmuteDelay == 0 {
		cfg.UnmuteDelay = def.UnmuteDelay
	}
	s := &Scheduler{
		cfg:       cfg,
		now:       time.Now,
		sources:   map[int]*source{},
		gain:      1,
		onPlaying: onPlaying,
		write:     write,
	}
	s.epoch = s.now()
	return s
}

// SetClock overrides the time source; used by tests. Must be called before
// the first Enqueue.
func (s *Scheduler) SetClock(now func() time.Time) {
	s.mu.Lock()
	s.now = now
	s.epoch = now()
	s.mu.Unlock()
}

// Duration returns the playback duration of a PCM16LE mono chunk.
func (s *Scheduler) Duration(pcm []byte) time.Duration {
	samples := len(pcm) / 2
	return time.Duration(samples) * time.Second / time.Duration(s.cfg.SampleRate)
}

// NextPlayTime reports the virtual-timeline offset at which the next chunk
// would start if it arrived while playback is caught up.
func (s *Scheduler) NextPlayTime() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextPlay
}

// ActiveSources reports how many chunks are scheduled or playing.
func (s *Scheduler) ActiveSources() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sources)
}

// Gain reports the current output gain (0 while muted by Clear).
func (s *Scheduler) Gain() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gain
}

// Enqueue schedules one chunk and returns its start offset on the virtual
// timeline. Scheduling is based on the timeline, not arrival time, so network
// jitter between chunks never produces gaps or reordering.
func (s *Scheduler) Enqueue(pcm []byte) time.Duration {
	dur := s.Duration(pcm)

	s.mu.Lock()
	current := s.now().Sub(s.epoch)
	start := s.nextPlay
	if current > start {
		start = current
	}
	s.nextPlay = start + dur

	id := s.nextID
	s.nextID++
	src := &source{}
	s.sources[id] = src

	chunk := pcm
	src.start = time.AfterFunc(start-current, func() { s.sourceStarted(id, chunk) })
	src.end = time.AfterFunc(start-current+dur, func() { s.sourceEnded(id) })
	s.mu.Unlock()

	return start
}

func (s *Scheduler) sourceStarted(id int, pcm []byte) {
	s.mu.Lock()
	src, ok := s.sources[id]
	if !ok || src.started {
		s.mu.Unlock()
		return
	}
	src.started = true
	s.active++
	first := s.active == 1
	muted := s.gain == 0
	s.mu.Unlock()

	if first && s.onPlaying != nil {
		s.onPlaying(true)
	}
	if s.write != nil {
		if muted {
			// A start that races the post-Clear mute window plays as
			// silence of the same length, keeping the output byte flow
			// aligned with the timeline.
			pcm = make([]byte, len(pcm))
		}
		s.write(pcm)
	}
}

func (s *Scheduler) sourceEnded(id int) {
	s.mu.Lock()
	src, ok := s.sources[id]
	if !ok || src.finished {
		s.mu.Unlock()
		return
	}
	src.finished = true
	delete(s.sources, id)
	if src.started {
		s.active--
	}
	last := s.active == 0
	s.mu.Unlock()

	if last && s.onPlaying != nil {
		s.onPlaying(false)
	}
}

// Clear hard-stops playback for barge-in: mute output via the gain control
// first (sample-accurate and click-free, unlike waiting on per-source stops),
// then stop and detach every source, reset the virtual timeline, and restore
// gain after a short delay so the next response is audible.
//
// Calling Clear with no active sources is a safe no-op for the stop/reset
// steps but still performs the mute/unmute ramp, guarding against a chunk
// scheduled immediately after.
func (s *Scheduler) Clear() {
	s.mu.Lock()
	s.gain = 0
	wasPlaying := s.active > 0
	for id, src := range s.sources {
		src.start.Stop()
		src.end.Stop()
		delete(s.sources, id)
	}
	s.active = 0
	s.nextPlay = 0
	s.epoch = s.now()
	if s.unmute != nil {
		s.unmute.Stop()
	}
	s.unmute = time.AfterFunc(s.cfg.UnmuteDelay, func() {
		s.mu.Lock()
		s.gain = 1
		s.mu.Unlock()
	})
	s.mu.Unlock()

	if wasPlaying && s.onPlaying != nil {
		s.onPlaying(false)
	}
}
