// Package vad implements the energy-based voice activity detector that drives
// barge-in and end-of-utterance decisions on the capture side.
package vad

import (
	"encoding/binary"
	"math"
	"sync/atomic"
	"time"
)

// Config holds detector thresholds and timings.
//
// Two thresholds are deliberate: interrupting loud agent playback needs more
// energy than detecting the start of speech in silence.
type Config struct {
	SampleRate    int           // 16000
	FrameSamples  int           // 1024 (~64ms at 16kHz)
	BargeRMS      float64       // RMS needed to interrupt agent speech
	SpeechRMS     float64       // RMS treated as user speech
	BargeDebounce time.Duration // minimum gap between barge-in triggers
	SilenceDelay  time.Duration // sustained silence before commit
}

// DefaultConfig returns thresholds tuned for 16kHz mono browser capture.
func DefaultConfig() Config {
	return Config{
		SampleRate:    16000,
		FrameSamples:  1024,
		BargeRMS:      1500,
		SpeechRMS:     500,
		BargeDebounce: 750 * time.Millisecond,
		SilenceDelay:  900 * time.Millisecond,
	}
}

// Events allows the host to react to detector decisions. The detector itself
// never fails; it only fails to detect.
type Events struct {
	// OnBargeIn fires when the user starts talking over agent playback.
	// The host should clear local playback and notify the server.
	OnBargeIn func()
	// OnCommit fires when the user has been silent long enough after speech
	// to finalize the utterance.
	OnCommit func()
}

// Detector consumes fixed-size PCM16LE frames and emits barge-in and commit
// decisions. It is driven synchronously from the capture callback and must
// stay well under one frame period per call; ProcessFrame does a single pass
// over the samples and no allocation.
type Detector struct {
	cfg Config
	ev  Events
	now func() time.Time

	agentSpeaking atomic.Bool
	speaking      bool
	lastBarge     time.Time
	silenceSince  time.Time
}

// New constructs a Detector. A zero-value field in cfg falls back to the
// default for that field.
func New(cfg Config, ev Events) *Detector {
	def := DefaultConfig()
	if cfg.SampleRate == 0 {
		cfg.SampleRate = def.SampleRate
	}
	if cfg.FrameSamples == 0 {
		cfg.FrameSamples = def.FrameSamples
	}
	if cfg.BargeRMS == 0 {
		cfg.BargeRMS = def.BargeRMS
	}
	if cfg.SpeechRMS == 0 {
		cfg.SpeechRMS = def.SpeechRMS
	}
	if cfg.BargeDebounce == 0 {
		cfg.BargeDebounce = def.BargeDebounce
	}
	if cfg.SilenceDelay == 0 {
		cfg.SilenceDelay = def.SilenceDelay
	}
	return &Detector{cfg: cfg, ev: ev, now: time.Now}
}

// SetClock overrides the time source; used by tests.
func (d *Detector) SetClock(now func() time.Time) { d.now = now }

// SetAgentSpeaking arms or disarms the barge-in decision. Mirrored from
// playback status, which arrives on a different goroutine than the capture
// frames; everything else on the detector is capture-goroutine only.
func (d *Detector) SetAgentSpeaking(on bool) { d.agentSpeaking.Store(on) }

// AgentSpeaking reports the current armed state.
func (d *Detector) AgentSpeaking() bool { return d.agentSpeaking.Load() }

// Reset clears speaking/silence state without touching the debounce clock.
func (d *Detector) Reset() {
	d.speaking = false
	d.silenceSince = time.Time{}
}

// ProcessFrame runs both per-frame decisions on one PCM16LE frame.
func (d *Detector) ProcessFrame(pcm []byte) {
	if len(pcm) < 2 {
		return
	}
	rms := RMS(pcm)
	now := d.now()

	// Barge-in: higher bar, debounced so one loud frame cannot re-trigger
	// while the playback queue is being torn down.
	if d.agentSpeaking.Load() && rms >= d.cfg.BargeRMS && now.Sub(d.lastBarge) >= d.cfg.BargeDebounce {
		d.lastBarge = now
		d.agentSpeaking.Store(false)
		if d.ev.OnBargeIn != nil {
			d.ev.OnBargeIn()
		}
	}

	// End-of-utterance: lower bar with a silence timer.
	if rms >= d.cfg.SpeechRMS {
		d.speaking = true
		d.silenceSince = time.Time{}
		return
	}
	if !d.speaking {
		return
	}
	if d.silenceSince.IsZero() {
		d.silenceSince = now
		return
	}
	if now.Sub(d.silenceSince) >= d.cfg.SilenceDelay {
		d.speaking = false
		d.silenceSince = time.Time{}
		if d.ev.OnCommit != nil {
			d.ev.OnCommit()
		}
	}
}

// RMS computes root-mean-square energy of a PCM16LE buffer on the int16
// sample scale.
func RMS(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		v := float64(int16(binary.LittleEndian.Uint16(pcm[i*2 : i*2+2])))
		sum += v * v
	}
	return math.Sqrt(sum / float64(n))
}
