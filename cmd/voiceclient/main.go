// voiceclient is a native terminal client for the voice relay. It streams
// raw PCM16LE 16kHz mono audio from a file or stdin, runs the same VAD the
// browser client runs, and plays synthesized audio by appending it to an
// output file on the playback scheduler's timeline. Useful for exercising a
// server without a browser:
//
//	voiceclient -server ws://localhost:8080/ws -in capture.raw -out reply.raw
package main

import (
	"encoding/base64"
	"flag"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/chadiek/voice-consult/internal/logging"
	"github.com/chadiek/voice-consult/internal/playback"
	"github.com/chadiek/voice-consult/internal/protocol"
	"github.com/chadiek/voice-consult/internal/vad"
)

const frameBytes = 2 * 1024 // 1024 samples of PCM16LE, ~64ms at 16kHz

func main() {
	var (
		server   = flag.String("server", "ws://localhost:8080/ws", "relay WebSocket URL")
		inPath   = flag.String("in", "-", "input raw PCM16LE 16kHz mono file, - for stdin")
		outPath  = flag.String("out", "", "output file for synthesized PCM, empty to discard")
		realtime = flag.Bool("realtime", true, "pace input at capture speed")
		level    = flag.String("log-level", "info", "log level")
	)
	flag.Parse()
	logging.Init(*level, "console")

	in := os.Stdin
	if *inPath != "-" {
		f, err := os.Open(*inPath)
		if err != nil {
			log.Fatal().Err(err).Str("path", *inPath).Msg("open input")
		}
		defer f.Close()
		in = f
	}

	var out io.Writer = io.Discard
	if *outPath != "" {
		f, err := os.Create(*outPath)
		if err != nil {
			log.Fatal().Err(err).Str("path", *outPath).Msg("open output")
		}
		defer f.Close()
		out = f
	}

	conn, _, err := websocket.DefaultDialer.Dial(*server, nil)
	if err != nil {
		log.Fatal().Err(err).Str("server", *server).Msg("dial")
	}
	defer conn.Close()
	log.Info().Str("server", *server).Msg("connected")

	c := &client{conn: conn, out: out, done: make(chan struct{})}

	c.sched = playback.New(playback.DefaultConfig(), c.onPlaying, c.writeAudio)
	c.det = vad.New(vad.DefaultConfig(), vad.Events{
		OnBargeIn: c.onBargeIn,
		OnCommit:  c.onCommit,
	})

	go c.receive()
	go c.capture(in, *realtime)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	select {
	case <-sigChan:
	case <-c.done:
	}
	log.Info().Msg("disconnecting")
}

type client struct {
	conn  *websocket.Conn
	out   io.Writer
	sched *playback.Scheduler
	det   *vad.Detector

	writeMu sync.Mutex
	outMu   sync.Mutex

	doneOnce sync.Once
	done     chan struct{}
}

func (c *client) finish() {
	c.doneOnce.Do(func() { close(c.done) })
}

// send serializes all writes; gorilla allows one concurrent writer and the
// VAD, the scheduler and the capture loop all send.
func (c *client) send(msg protocol.ClientMessage) {
	data, err := protocol.EncodeClient(msg)
	if err != nil {
		log.Error().Err(err).Msg("encode message")
		return
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		log.Debug().Err(err).Msg("send failed")
		c.finish()
	}
}

func (c *client) sendAudio(pcm []byte) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.WriteMessage(websocket.BinaryMessage, pcm); err != nil {
		log.Debug().Err(err).Msg("audio send failed")
		c.finish()
	}
}

func (c *client) onPlaying(playing bool) {
	c.det.SetAgentSpeaking(playing)
	c.send(protocol.AudioStatus{Playing: playing})
}

func (c *client) onBargeIn() {
	log.Info().Msg("barge-in detected")
	c.sched.Clear()
	c.send(protocol.UserSpeaking{Interrupted: true})
}

func (c *client) onCommit() {
	log.Debug().Msg("utterance committed")
	c.send(protocol.Commit{})
}

func (c *client) writeAudio(pcm []byte) {
	c.outMu.Lock()
	defer c.outMu.Unlock()
	if _, err := c.out.Write(pcm); err != nil {
		log.Warn().Err(err).Msg("playback write failed")
	}
}

// capture reads fixed frames, feeds the VAD and relays them to the server.
func (c *client) capture(in io.Reader, realtime bool) {
	defer c.finish()

	framePeriod := time.Duration(frameBytes/2) * time.Second / 16000
	buf := make([]byte, frameBytes)
	for {
		if _, err := io.ReadFull(in, buf); err != nil {
			if err != io.EOF && err != io.ErrUnexpectedEOF {
				log.Warn().Err(err).Msg("capture read failed")
			}
			// Let the silence timer fire so the last utterance commits.
			time.Sleep(2 * time.Second)
			return
		}
		c.det.ProcessFrame(buf)
		c.sendAudio(buf)
		if realtime {
			time.Sleep(framePeriod)
		}
	}
}

func (c *client) receive() {
	defer c.finish()

	for {
		var ev protocol.Event
		if err := c.conn.ReadJSON(&ev); err != nil {
			log.Debug().Err(err).Msg("receive loop ended")
			return
		}
		switch ev.Type {
		case protocol.TypeAudio:
			pcm, err := base64.StdEncoding.DecodeString(ev.Audio)
			if err != nil {
				log.Warn().Err(err).Msg("bad audio payload")
				continue
			}
			c.sched.Enqueue(pcm)
		case protocol.TypeClearAudio:
			c.sched.Clear()
		case protocol.TypeStatus:
			log.Info().Any("status", ev.Data).Msg("status")
		case protocol.TypePartialTranscript:
			log.Debug().Any("text", ev.Data).Msg("partial")
		case protocol.TypeUserTranscript:
			log.Info().Any("text", ev.Data).Msg("you")
		case protocol.TypeAgentResponse:
			log.Info().Any("text", ev.Data).Msg("agent")
		case protocol.TypeTaskUpdate, protocol.TypeTasks:
			log.Info().Any("tasks", ev.Data).Msg("tasks")
		case protocol.TypeError:
			log.Warn().Any("error", ev.Data).Msg("server error")
		}
	}
}
