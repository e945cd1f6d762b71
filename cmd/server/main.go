package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/chadiek/voice-consult/internal/archive"
	"github.com/chadiek/voice-consult/internal/config"
	"github.com/chadiek/voice-consult/internal/events"
	"github.com/chadiek/voice-consult/internal/history"
	"github.com/chadiek/voice-consult/internal/httpserver"
	"github.com/chadiek/voice-consult/internal/llm"
	"github.com/chadiek/voice-consult/internal/logging"
	"github.com/chadiek/voice-consult/internal/rag"
	"github.com/chadiek/voice-consult/internal/session"
	"github.com/chadiek/voice-consult/internal/stt"
	"github.com/chadiek/voice-consult/internal/tts"
)

func main() {
	cfg := config.Load()
	logging.Init(cfg.LogLevel, cfg.LogFormat)

	index, err := rag.Load(cfg.ProductDocsPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.ProductDocsPath).Msg("product index build failed")
	}
	log.Info().Int("products", index.Len()).Msg("product index ready")

	var hist history.Store = history.NewMemoryStore()
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		if err := client.Ping(context.Background()).Err(); err != nil {
			log.Fatal().Err(err).Str("addr", cfg.RedisAddr).Msg("redis unreachable")
		}
		hist = history.NewRedisStore(client, cfg.HistoryTTL)
		log.Info().Str("addr", cfg.RedisAddr).Msg("using redis conversation history")
	}
	defer hist.Close()

	publisher := events.New(events.Config{Brokers: cfg.KafkaBrokers, Topic: cfg.KafkaTopicTurns})
	defer publisher.Close()

	deps := httpserver.Deps{
		NewTranscriber: func() session.Transcriber {
			return stt.NewScribeClient(cfg.ElevenLabsKey, cfg.STTLanguage)
		},
		Generator:      llm.NewAnthropicClient(cfg.AnthropicKey, cfg.AnthropicModel),
		History:        hist,
		Publisher:      publisher,
		ProductSummary: index.Summary(),
	}
	if index.Len() > 0 {
		deps.Retriever = index
	}

	switch cfg.TTSProvider {
	case "deepgram":
		deps.Synthesizer = tts.NewDeepgramClient(cfg.DeepgramKey, cfg.DeepgramModel)
	default:
		deps.Synthesizer = tts.NewElevenLabsClient(cfg.ElevenLabsKey, cfg.ElevenLabsVoiceID, cfg.TTSSpeed)
	}

	store, err := archive.New(archive.Config{
		URL:            cfg.SupabaseURL,
		ServiceRoleKey: cfg.SupabaseKey,
		Bucket:         cfg.SupabaseBucket,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("archive setup failed")
	}
	if store != nil {
		deps.Archiver = store
	}

	srv := httpserver.New(cfg, deps)

	server := &http.Server{
		Addr:              cfg.HTTPAddress,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.HTTPAddress).Msg("server listening")
		serverErrors <- server.ListenAndServe()
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	case sig := <-sigChan:
		log.Info().Str("signal", sig.String()).Msg("shutdown signal received")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("graceful shutdown failed")
		_ = server.Close()
	}
}
