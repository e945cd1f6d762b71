package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// Config holds application configuration.
type Config struct {
	HTTPAddress string
	StaticDir   string

	LogLevel  string
	LogFormat string

	// Collaborator credentials and model selection.
	ElevenLabsKey     string
	ElevenLabsVoiceID string
	AnthropicKey      string
	AnthropicModel    string
	DeepgramKey       string
	DeepgramModel     string
	TTSProvider       string // "elevenlabs" or "deepgram"
	STTLanguage       string
	TTSSpeed          float64

	// Conversation script.
	SystemPrompt    string
	TriggerKeywords string
	ProductDocsPath string
	RetrievalTopK   int

	// Turn coordination tuning.
	MaxSentenceLen     int
	ErrorRecoveryDelay time.Duration
	EchoGuardTimeout   time.Duration

	// Client VAD defaults, exposed so cmd/voiceclient and the server agree.
	VADBargeRMS      float64
	VADSpeechRMS     float64
	VADBargeDebounce time.Duration
	VADSilenceDelay  time.Duration

	// Optional infrastructure.
	RedisAddr       string
	RedisPassword   string
	HistoryTTL      time.Duration
	KafkaBrokers    []string
	KafkaTopicTurns string
	SupabaseURL     string
	SupabaseKey     string
	SupabaseBucket  string
}

// defaultSystemPrompt is the consultation persona used when SYSTEM_PROMPT is unset.
const defaultSystemPrompt = `Du bist Lisa, eine freundliche Versicherungsberaterin bei Squarelife. ` +
	`Du führst ein Beratungsgespräch per Telefon. Antworte kurz und natürlich, in gesprochener Sprache, ` +
	`ohne Aufzählungen oder Formatierung. Stelle immer nur eine Frage auf einmal und gehe auf die ` +
	`Antworten des Kunden ein.`

// KeywordList splits TriggerKeywords into trimmed, non-empty entries.
func (c Config) KeywordList() []string {
	var out []string
	for _, k := range strings.Split(c.TriggerKeywords, ",") {
		if k = strings.TrimSpace(k); k != "" {
			out = append(out, k)
		}
	}
	return out
}

// Load reads environment variables and returns Config with sane defaults.
func Load() Config {
	if err := godotenv.Load(); err != nil {
		log.Debug().Msg("no .env file loaded")
	}

	cfg := Config{
		HTTPAddress: envOr("HTTP_ADDRESS", ":8080"),
		StaticDir:   envOr("STATIC_DIR", "static"),
		LogLevel:    envOr("LOG_LEVEL", "info"),
		LogFormat:   envOr("LOG_FORMAT", "console"),

		ElevenLabsKey:     os.Getenv("ELEVENLABS_API_KEY"),
		ElevenLabsVoiceID: envOr("ELEVENLABS_VOICE_ID", "j08ENmQlEinPmKqg3LUg"),
		AnthropicKey:      os.Getenv("ANTHROPIC_API_KEY"),
		AnthropicModel:    envOr("ANTHROPIC_MODEL", "claude-haiku-4-5-20251001"),
		DeepgramKey:       os.Getenv("DEEPGRAM_API_KEY"),
		DeepgramModel:     envOr("DEEPGRAM_TTS_MODEL", "aura-2-thalia-en"),
		TTSProvider:       envOr("TTS_PROVIDER", "elevenlabs"),
		STTLanguage:       envOr("STT_LANGUAGE", "de"),
		TTSSpeed:          envFloat("TTS_SPEED", 1.1),

		SystemPrompt:    envOr("SYSTEM_PROMPT", defaultSystemPrompt),
		TriggerKeywords: os.Getenv("RAG_TRIGGER_KEYWORDS"),
		ProductDocsPath: envOr("PRODUCT_DOCS_PATH", "sl_products.md"),
		RetrievalTopK:   envInt("RETRIEVAL_TOP_K", 5),

		MaxSentenceLen:     envInt("MAX_SENTENCE_LEN", 240),
		ErrorRecoveryDelay: envDuration("ERROR_RECOVERY_DELAY_MS", 800*time.Millisecond),
		EchoGuardTimeout:   envDuration("ECHO_GUARD_TIMEOUT_MS", 8*time.Second),

		VADBargeRMS:      envFloat("VAD_BARGE_RMS", 1500),
		VADSpeechRMS:     envFloat("VAD_SPEECH_RMS", 500),
		VADBargeDebounce: envDuration("VAD_BARGE_DEBOUNCE_MS", 750*time.Millisecond),
		VADSilenceDelay:  envDuration("VAD_SILENCE_DELAY_MS", 900*time.Millisecond),

		RedisAddr:       os.Getenv("REDIS_ADDR"),
		RedisPassword:   os.Getenv("REDIS_PASSWORD"),
		HistoryTTL:      envDuration("HISTORY_TTL_MS", 24*time.Hour),
		KafkaTopicTurns: envOr("KAFKA_TOPIC_TURNS", "voice-consult.turns"),
		SupabaseURL:     os.Getenv("SUPABASE_URL"),
		SupabaseKey:     os.Getenv("SUPABASE_SERVICE_ROLE_KEY"),
		SupabaseBucket:  envOr("SUPABASE_BUCKET", "conversations"),
	}

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		for _, b := range strings.Split(brokers, ",") {
			if b = strings.TrimSpace(b); b != "" {
				cfg.KafkaBrokers = append(cfg.KafkaBrokers, b)
			}
		}
	}

	if cfg.ElevenLabsKey == "" {
		log.Warn().Msg("ELEVENLABS_API_KEY not set - transcription and synthesis will not work")
	}
	if cfg.AnthropicKey == "" {
		log.Warn().Msg("ANTHROPIC_API_KEY not set - generation will not work")
	}
	if cfg.TTSProvider == "deepgram" && cfg.DeepgramKey == "" {
		log.Warn().Msg("DEEPGRAM_API_KEY not set - deepgram synthesis will not work")
	}

	log.Info().Str("http_address", cfg.HTTPAddress).Str("tts_provider", cfg.TTSProvider).Msg("config loaded")
	return cfg
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
		log.Warn().Str("key", key).Str("value", v).Msg("invalid integer, using default")
	}
	return def
}

func envFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
		log.Warn().Str("key", key).Str("value", v).Msg("invalid float, using default")
	}
	return def
}

// envDuration reads an integer number of milliseconds.
func envDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return time.Duration(n) * time.Millisecond
		}
		log.Warn().Str("key", key).Str("value", v).Msg("invalid duration, using default")
	}
	return def
}
