package session

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/chadiek/voice-consult/internal/history"
	"github.com/chadiek/voice-consult/internal/llm"
	"github.com/chadiek/voice-consult/internal/metrics"
	"github.com/chadiek/voice-consult/internal/protocol"
	"github.com/chadiek/voice-consult/internal/tasks"
)

// Internal events delivered to the run loop. Everything produced by a turn
// pipeline carries the generation it belongs to; the loop drops events whose
// generation is no longer current.
type (
	evPartial   struct{ text string }
	evFinal     struct{ text string }
	evClient    struct{ msg protocol.ClientMessage }
	evSearching struct{ gen uint64 }
	evRAG       struct {
		gen     uint64
		results protocol.RAGResults
	}
	evToken struct {
		gen     uint64
		display string
	}
	evSentence struct {
		gen  uint64
		text string
	}
	evTaskDone struct {
		gen uint64
		id  int
	}
	evAudio struct {
		gen uint64
		pcm []byte
	}
	evGenDone struct {
		gen      uint64
		response string
		err      error
	}
	evEchoTimeout struct{ gen uint64 }
	evRecovered   struct{ gen uint64 }
)

// Coordinator runs one conversation. Public methods may be called from any
// goroutine; they forward into the run loop, which owns all mutable state.
type Coordinator struct {
	id  string
	cfg Config
	log zerolog.Logger
	met *metrics.Metrics

	sink      Sink
	stt       Transcriber
	llm       Generator
	tts       Synthesizer
	retriever Retriever
	hist      history.Store
	pub       Publisher
	archiver  Archiver

	events chan any
	runCtx context.Context

	// Run-loop state. Only the run loop touches these.
	gen          uint64
	genCancel    context.CancelFunc
	speaking     bool // server believes agent audio is in flight
	audioPlaying bool // client-reported playback state
	announced    bool // "speaking" status sent for the current generation
	pendingUser  string
	recentSpeech []string
	tracker      *tasks.Tracker
	echoGuard    *time.Timer
}

// New builds a coordinator for one connection. retriever, pub and archiver
// may be nil.
func New(id string, cfg Config, logger zerolog.Logger, met *metrics.Metrics,
	sink Sink, stt Transcriber, gen Generator, tts Synthesizer,
	retriever Retriever, hist history.Store, pub Publisher, archiver Archiver) *Coordinator {
	if cfg.RetrievalTopK <= 0 {
		cfg.RetrievalTopK = 5
	}
	if cfg.ErrorRecoveryDelay <= 0 {
		cfg.ErrorRecoveryDelay = 800 * time.Millisecond
	}
	if cfg.EchoGuardTimeout <= 0 {
		cfg.EchoGuardTimeout = 8 * time.Second
	}
	return &Coordinator{
		id:        id,
		cfg:       cfg,
		log:       logger,
		met:       met,
		sink:      sink,
		stt:       stt,
		llm:       gen,
		tts:       tts,
		retriever: retriever,
		hist:      hist,
		pub:       pub,
		archiver:  archiver,
		events:    make(chan any, 256),
		tracker:   tasks.New(nil),
	}
}

// HandleAudio forwards one microphone chunk to the transcriber. Audio is
// always forwarded, even while the agent speaks, so barge-in speech is never
// lost.
func (c *Coordinator) HandleAudio(pcm []byte) {
	if err := c.stt.SendAudio(pcm); err != nil {
		c.log.Debug().Err(err).Msg("audio forward failed")
	}
}

// HandleMessage routes a decoded client control message into the run loop.
func (c *Coordinator) HandleMessage(msg protocol.ClientMessage) {
	c.post(evClient{msg: msg})
}

// Run connects the transcriber and processes events until ctx is cancelled.
// It owns the whole session lifecycle, including the final archive upload.
func (c *Coordinator) Run(ctx context.Context) error {
	c.runCtx = ctx
	if err := c.stt.Connect(); err != nil {
		c.sendEvent(protocol.Event{Type: protocol.TypeError, Data: "speech recognition unavailable"})
		return fmt.Errorf("session %s: %w", c.id, err)
	}
	defer c.shutdown()

	go c.forwardTranscripts(ctx)
	c.sendStatus(protocol.StatusListening)
	c.log.Info().Msg("session started")

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-c.events:
			c.handle(ev)
		}
	}
}

func (c *Coordinator) shutdown() {
	if c.genCancel != nil {
		c.genCancel()
		c.genCancel = nil
	}
	c.stopEchoGuard()
	_ = c.stt.Close()

	// The run context is already cancelled at this point; archiving gets its
	// own deadline.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	turns, err := c.hist.Turns(ctx, c.id)
	if err != nil {
		c.log.Warn().Err(err).Msg("history read failed during shutdown")
		return
	}
	if c.archiver != nil && len(turns) > 0 {
		if err := c.archiver.Upload(ctx, c.id, turns); err != nil {
			c.log.Warn().Err(err).Msg("conversation archive failed")
		}
	}
	c.log.Info().Int("turns", len(turns)).Msg("session closed")
}

func (c *Coordinator) forwardTranscripts(ctx context.Context) {
	partials, finals := c.stt.Partials(), c.stt.Finals()
	for partials != nil || finals != nil {
		select {
		case <-ctx.Done():
			return
		case text, ok := <-partials:
			if !ok {
				partials = nil
				continue
			}
			c.post(evPartial{text: text})
		case text, ok := <-finals:
			if !ok {
				finals = nil
				continue
			}
			c.post(evFinal{text: text})
		}
	}
}

func (c *Coordinator) post(ev any) {
	if c.runCtx == nil {
		return
	}
	select {
	case c.events <- ev:
	case <-c.runCtx.Done():
	}
}

func (c *Coordinator) handle(ev any) {
	switch ev := ev.(type) {
	case evPartial:
		c.onPartial(ev.text)
	case evFinal:
		c.onFinal(ev.text)
	case evClient:
		c.onClient(ev.msg)
	case evSearching:
		if c.current(ev.gen) {
			c.sendStatus(protocol.StatusSearching)
		}
	case evRAG:
		if c.current(ev.gen) {
			c.sendEvent(protocol.Event{Type: protocol.TypeRAGResults, Data: ev.results})
			c.met.RetrievalsTotal.Inc()
		}
	case evToken:
		if c.current(ev.gen) {
			c.sendEvent(protocol.Event{Type: protocol.TypePartialResponse, Data: ev.display})
		} else {
			c.met.StaleEventsDropped.Inc()
		}
	case evSentence:
		c.onSentence(ev)
	case evTaskDone:
		c.onTaskDone(ev)
	case evAudio:
		c.onAudio(ev)
	case evGenDone:
		c.onGenDone(ev)
	case evEchoTimeout:
		if ev.gen == c.gen && c.speaking {
			c.log.Warn().Msg("echo guard timed out, releasing agent-speaking flag")
			c.speaking = false
			c.audioPlaying = false
		}
	case evRecovered:
		if ev.gen == c.gen && c.genCancel == nil {
			c.finishTurn()
		}
	}
}

func (c *Coordinator) onPartial(text string) {
	if strings.TrimSpace(text) == "" {
		return
	}
	if c.isEcho(text) {
		c.met.EchoDropped.Inc()
		c.log.Debug().Str("text", text).Msg("dropping echoed partial")
		return
	}
	c.met.TranscriptsPartial.Inc()
	if c.speaking || c.audioPlaying {
		c.log.Info().Str("text", text).Msg("barge-in from transcript")
		c.bargeIn()
	}
	c.sendEvent(protocol.Event{Type: protocol.TypePartialTranscript, Data: text})
}

func (c *Coordinator) onFinal(text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	if c.isEcho(text) {
		c.met.EchoDropped.Inc()
		c.log.Debug().Str("text", text).Msg("dropping echoed final")
		return
	}
	c.met.TranscriptsFinal.Inc()

	if c.speaking || c.audioPlaying {
		c.log.Info().Str("text", text).Msg("barge-in with final transcript")
		c.bargeIn()
	}

	// Agent still composing but not yet audible: the user is continuing
	// their thought, so append to the queued input instead of interrupting.
	if c.genCancel != nil {
		if c.pendingUser != "" {
			c.pendingUser += " " + text
		} else {
			c.pendingUser = text
		}
		c.sendEvent(protocol.Event{Type: protocol.TypeUserTranscript, Data: text})
		c.log.Debug().Str("text", text).Msg("queued user input during generation")
		return
	}

	c.sendEvent(protocol.Event{Type: protocol.TypeUserTranscript, Data: text})
	c.startTurn(text)
}

func (c *Coordinator) onClient(msg protocol.ClientMessage) {
	switch msg := msg.(type) {
	case protocol.AudioFrame:
		// Normally short-circuited by the transport; handle anyway.
		c.HandleAudio(msg.PCM)
	case protocol.Commit:
		if err := c.stt.Commit(); err != nil {
			c.log.Warn().Err(err).Msg("stt commit failed")
		}
	case protocol.UserSpeaking:
		if msg.Interrupted && (c.speaking || c.audioPlaying) {
			c.log.Info().Msg("barge-in from client energy detector")
			c.bargeIn()
		}
	case protocol.AudioStatus:
		c.audioPlaying = msg.Playing
		if !msg.Playing && c.genCancel == nil {
			// Playback drained after the turn finished.
			c.speaking = false
			c.stopEchoGuard()
		}
	case protocol.SessionConfig:
		if msg.SystemPrompt != "" {
			c.cfg.SystemPrompt = msg.SystemPrompt
		}
		c.tracker = tasks.New(msg.Tasks)
		c.sendEvent(protocol.Event{Type: protocol.TypeTasks, Data: c.tracker.Snapshot()})
		c.log.Info().Int("tasks", len(msg.Tasks)).Msg("session configured")
	case protocol.ClearHistory:
		if err := c.hist.Clear(c.runCtx, c.id); err != nil {
			c.log.Warn().Err(err).Msg("history clear failed")
		}
		c.sendStatus(protocol.StatusListening)
		c.log.Info().Msg("conversation history cleared")
	}
}

func (c *Coordinator) onSentence(ev evSentence) {
	if !c.current(ev.gen) {
		c.met.StaleEventsDropped.Inc()
		return
	}
	if !c.announced {
		c.announced = true
		c.speaking = true
		c.recentSpeech = nil
		c.sendStatus(protocol.StatusSpeaking)
	}
	c.recentSpeech = append(c.recentSpeech, ev.text)
	if len(c.recentSpeech) > 3 {
		c.recentSpeech = c.recentSpeech[1:]
	}
}

func (c *Coordinator) onTaskDone(ev evTaskDone) {
	if !c.current(ev.gen) {
		c.met.StaleEventsDropped.Inc()
		return
	}
	if !c.tracker.MarkComplete(ev.id) {
		return
	}
	c.met.TasksCompleted.Inc()
	for _, t := range c.tracker.Snapshot() {
		if t.ID == ev.id {
			c.sendEvent(protocol.Event{Type: protocol.TypeTaskUpdate, Data: t})
			c.log.Info().Int("task", t.ID).Str("description", t.Description).Msg("task completed")
			break
		}
	}
}

func (c *Coordinator) onAudio(ev evAudio) {
	if !c.current(ev.gen) {
		c.met.StaleEventsDropped.Inc()
		return
	}
	c.speaking = true
	c.armEchoGuard(ev.gen)
	c.sendEvent(protocol.Event{
		Type:  protocol.TypeAudio,
		Audio: base64.StdEncoding.EncodeToString(ev.pcm),
	})
	c.met.AudioChunksSent.Inc()
	c.met.AudioBytesSent.Add(float64(len(ev.pcm)))
}

func (c *Coordinator) onGenDone(ev evGenDone) {
	if !c.current(ev.gen) {
		c.met.StaleEventsDropped.Inc()
		return
	}
	cancel := c.genCancel
	c.genCancel = nil
	cancel()

	if ev.err != nil {
		c.log.Error().Err(ev.err).Msg("turn failed")
		c.met.CollaboratorErrors.WithLabelValues("llm").Inc()
		c.sendEvent(protocol.Event{Type: protocol.TypeError, Data: "Entschuldigung, da ist etwas schiefgelaufen."})
		gen := c.gen
		time.AfterFunc(c.cfg.ErrorRecoveryDelay, func() { c.post(evRecovered{gen: gen}) })
		return
	}

	clean, _ := tasks.ExtractMarkers(ev.response)
	clean = strings.TrimSpace(clean)
	if clean != "" {
		if err := c.hist.Append(c.runCtx, c.id, history.Turn{
			Role: history.RoleAssistant, Content: clean, At: time.Now(),
		}); err != nil {
			c.log.Warn().Err(err).Msg("history append failed")
		}
		c.sendEvent(protocol.Event{Type: protocol.TypeAgentResponse, Data: clean})
		c.publishTurn(history.RoleAssistant, clean)
	}
	c.sendEvent(protocol.Event{Type: protocol.TypeAudioDone, Data: true})
	c.met.TurnsTotal.Inc()
	c.finishTurn()
}

// finishTurn returns the session to listening, or starts the queued turn if
// the user kept talking while the agent was composing.
func (c *Coordinator) finishTurn() {
	c.speaking = false
	c.audioPlaying = false
	c.announced = false
	c.recentSpeech = nil
	c.stopEchoGuard()
	if pending := c.pendingUser; pending != "" {
		c.pendingUser = ""
		c.startTurn(pending)
		return
	}
	c.sendStatus(protocol.StatusListening)
}

// bargeIn interrupts the current generation: cancel the pipeline, advance the
// generation so in-flight events go stale, tell the client to flush its audio
// queue and mark the cut-short reply in history. Calling it when nothing is
// audible is harmless.
func (c *Coordinator) bargeIn() {
	hadGen := c.genCancel != nil
	if hadGen {
		c.genCancel()
		c.genCancel = nil
	}
	c.gen++
	c.pendingUser = ""
	wasAudible := c.speaking || c.audioPlaying
	c.speaking = false
	c.audioPlaying = false
	c.announced = false
	c.stopEchoGuard()
	if !wasAudible {
		return
	}
	c.met.BargeInsTotal.Inc()
	c.sendEvent(protocol.Event{Type: protocol.TypeClearAudio, Data: true})
	if !hadGen {
		// Generation already finished; the interruption hit client-side
		// playback, so tag the recorded reply instead. Mid-generation
		// cancels record their partial reply in the pipeline's epilogue.
		if err := c.hist.MarkInterrupted(c.runCtx, c.id); err != nil {
			c.log.Warn().Err(err).Msg("history interrupt mark failed")
		}
	}
	c.sendStatus(protocol.StatusListening)
}

func (c *Coordinator) startTurn(userText string) {
	c.gen++
	gen := c.gen
	ctx, cancel := context.WithCancel(c.runCtx)
	c.genCancel = cancel
	c.announced = false
	c.sendStatus(protocol.StatusThinking)
	// The prompt is assembled here, on the run loop, so the pipeline never
	// reads fields a concurrent config message may rewrite.
	system := buildSystemPrompt(c.cfg.SystemPrompt, c.cfg.ProductSummary, c.tracker.Snapshot())
	go c.runTurn(ctx, gen, userText, system)
}

// runTurn is the per-turn pipeline goroutine: retrieval, generation and
// sentence-by-sentence synthesis. It never touches coordinator state; all
// results travel through the event channel tagged with gen.
func (c *Coordinator) runTurn(ctx context.Context, gen uint64, userText, system string) {
	userMsg := userText
	if ctxText := c.retrieve(ctx, gen, userText); ctxText != "" {
		userMsg = userText + "\n\n[System context - relevant product information:]\n" + ctxText
	}

	if err := c.hist.Append(ctx, c.id, history.Turn{
		Role: history.RoleUser, Content: userMsg, At: time.Now(),
	}); err != nil {
		c.log.Warn().Err(err).Msg("history append failed")
	}
	c.publishTurn(history.RoleUser, userText)

	turns, err := c.hist.Turns(ctx, c.id)
	if err != nil {
		c.post(evGenDone{gen: gen, err: err})
		return
	}
	messages := make([]llm.Message, 0, len(turns))
	for _, t := range turns {
		messages = append(messages, llm.Message{Role: t.Role, Content: t.Content})
	}

	tokens, errs := c.llm.Stream(ctx, system, messages)

	sp := newSplitter(c.cfg.MaxSentenceLen)
	var full strings.Builder
	for tok := range tokens {
		full.WriteString(tok)
		c.post(evToken{gen: gen, display: tasks.StripPartialMarker(full.String())})
		for _, sentence := range sp.feed(tok) {
			if !c.speak(ctx, gen, sentence) {
				break
			}
		}
		if ctx.Err() != nil {
			break
		}
	}
	streamErr := <-errs
	if ctx.Err() != nil {
		// Interrupted: record what was said so far so the model knows its
		// reply was cut short. The loop has already moved past this
		// generation, so the history write happens here.
		clean, _ := tasks.ExtractMarkers(full.String())
		if clean = strings.TrimSpace(clean); clean != "" {
			hctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := c.hist.Append(hctx, c.id, history.Turn{
				Role: history.RoleAssistant, Content: clean + history.InterruptedSuffix, At: time.Now(),
			}); err != nil {
				c.log.Warn().Err(err).Msg("history append failed")
			}
		}
		c.post(evGenDone{gen: gen})
		return
	}
	if streamErr == nil {
		if rest := sp.flush(); rest != "" {
			c.speak(ctx, gen, rest)
		}
	}
	c.post(evGenDone{gen: gen, response: full.String(), err: streamErr})
}

// retrieve runs the keyword-gated product lookup and returns context text for
// the model, or "" when retrieval does not apply.
func (c *Coordinator) retrieve(ctx context.Context, gen uint64, userText string) string {
	if c.retriever == nil {
		return ""
	}
	if len(c.cfg.TriggerKeywords) > 0 {
		lower := strings.ToLower(userText)
		hit := false
		for _, kw := range c.cfg.TriggerKeywords {
			if kw != "" && strings.Contains(lower, strings.ToLower(kw)) {
				hit = true
				break
			}
		}
		if !hit {
			return ""
		}
	}
	if ctx.Err() != nil {
		return ""
	}

	c.post(evSearching{gen: gen})
	results := c.retriever.Search(userText, c.cfg.RetrievalTopK)
	if len(results) == 0 {
		return ""
	}

	display := protocol.RAGResults{Query: userText}
	var parts []string
	for _, r := range results {
		snippet := r.Content
		if len(snippet) > 400 {
			snippet = snippet[:400] + "..."
		}
		display.Results = append(display.Results, protocol.RAGResult{
			Product: r.Product, Score: r.Score, Snippet: snippet,
		})
		parts = append(parts, "### "+r.Product+"\n"+r.Content)
	}
	c.post(evRAG{gen: gen, results: display})
	return strings.Join(parts, "\n\n")
}

// speak extracts task markers from one sentence, synthesizes the cleaned text
// and forwards the audio. Returns false once the turn is cancelled.
func (c *Coordinator) speak(ctx context.Context, gen uint64, sentence string) bool {
	clean, ids := tasks.ExtractMarkers(sentence)
	for _, id := range ids {
		c.post(evTaskDone{gen: gen, id: id})
	}
	clean = strings.TrimSpace(clean)
	if clean == "" {
		return ctx.Err() == nil
	}

	c.post(evSentence{gen: gen, text: clean})
	pcmCh, errCh := c.tts.Stream(ctx, clean)
	for pcm := range pcmCh {
		if ctx.Err() != nil {
			return false
		}
		c.post(evAudio{gen: gen, pcm: pcm})
	}
	if err := <-errCh; err != nil && ctx.Err() == nil {
		c.log.Error().Err(err).Str("sentence", clean).Msg("synthesis failed")
		c.met.CollaboratorErrors.WithLabelValues("tts").Inc()
	}
	return ctx.Err() == nil
}

func (c *Coordinator) publishTurn(role, content string) {
	if c.pub == nil {
		return
	}
	if err := c.pub.PublishTurn(c.runCtx, c.id, role, content); err != nil {
		c.log.Warn().Err(err).Msg("turn publish failed")
	}
}

// isEcho reports whether a transcript is likely the agent's own voice picked
// up by the microphone: it matches, or is a prefix of, a recently spoken
// sentence.
func (c *Coordinator) isEcho(text string) bool {
	lower := strings.ToLower(strings.TrimSpace(text))
	if lower == "" {
		return false
	}
	for _, spoken := range c.recentSpeech {
		spokenLower := strings.ToLower(spoken)
		if strings.Contains(spokenLower, lower) || strings.HasPrefix(lower, spokenLower) {
			return true
		}
	}
	return false
}

func (c *Coordinator) current(gen uint64) bool {
	return c.genCancel != nil && gen == c.gen
}

func (c *Coordinator) armEchoGuard(gen uint64) {
	c.stopEchoGuard()
	c.echoGuard = time.AfterFunc(c.cfg.EchoGuardTimeout, func() {
		c.post(evEchoTimeout{gen: gen})
	})
}

func (c *Coordinator) stopEchoGuard() {
	if c.echoGuard != nil {
		c.echoGuard.Stop()
		c.echoGuard = nil
	}
}

func (c *Coordinator) sendStatus(status protocol.Status) {
	c.sendEvent(protocol.StatusEvent(status))
}

func (c *Coordinator) sendEvent(ev protocol.Event) {
	if err := c.sink.Send(ev); err != nil {
		c.log.Debug().Err(err).Str("type", ev.Type).Msg("client send failed")
	}
}
