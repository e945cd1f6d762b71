package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/chadiek/voice-consult/internal/logging"
	"github.com/chadiek/voice-consult/internal/protocol"
	"github.com/chadiek/voice-consult/internal/session"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// The relay is served from the same origin as the client page; local
	// development uses file:// and localhost, so origin checks stay open.
	CheckOrigin: func(*http.Request) bool { return true },
}

// wsSink serializes coordinator events onto one WebSocket connection.
// gorilla allows a single concurrent writer, so sends are mutex-guarded.
type wsSink struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (s *wsSink) Send(ev protocol.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteMessage(websocket.TextMessage, payload)
}

// handleWS upgrades the connection and runs one voice session on it. The
// handler goroutine becomes the connection's read loop; the coordinator runs
// beside it and is cancelled when the client disconnects.
func (s *Server) handleWS(c echo.Context) error {
	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	id := uuid.NewString()
	logger := logging.Session(id)
	logger.Info().Str("remote", conn.RemoteAddr().String()).Msg("session connected")

	s.deps.Metrics.SessionsTotal.Inc()
	s.deps.Metrics.SessionsActive.Inc()
	defer s.deps.Metrics.SessionsActive.Dec()

	coord := session.New(id, s.sessionConfig(), logger, s.deps.Metrics,
		&wsSink{conn: conn}, s.deps.NewTranscriber(),
		s.deps.Generator, s.deps.Synthesizer,
		s.deps.Retriever, s.deps.History, s.deps.Publisher, s.deps.Archiver)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := coord.Run(ctx); err != nil {
			logger.Error().Err(err).Msg("session ended with error")
		}
	}()

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Debug().Err(err).Msg("read loop ended")
			}
			break
		}
		switch msgType {
		case websocket.BinaryMessage:
			coord.HandleAudio(data)
		case websocket.TextMessage:
			msg, err := protocol.DecodeClient(data)
			if err != nil {
				var unknown protocol.ErrUnknownType
				if errors.As(err, &unknown) {
					logger.Debug().Str("type", unknown.Type).Msg("ignoring unknown message")
				} else {
					logger.Warn().Err(err).Msg("bad client message")
				}
				continue
			}
			// Base64 audio frames skip the run loop like binary ones do.
			if frame, ok := msg.(protocol.AudioFrame); ok {
				coord.HandleAudio(frame.PCM)
				continue
			}
			coord.HandleMessage(msg)
		}
	}

	cancel()
	<-done
	logger.Info().Msg("session closed")
	return nil
}
