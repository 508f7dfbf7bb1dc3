package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const defaultCatalog = "1.1=practice,1.2=marathon,2.1=advanced"

// Config stores runtime configuration for the call simulator.
type Config struct {
	LogLevel slog.Level
	Service  ServiceConfig
	Roleplay RoleplayConfig
	Deepgram DeepgramConfig
	Audio    AudioConfig
	Rules    RulesConfig
	Session  SessionConfig
}

type ServiceConfig struct {
	BaseURL        string
	Token          string
	LoginURL       string
	RequestTimeout time.Duration
}

type RoleplayConfig struct {
	ID      string
	Catalog string
}

type DeepgramConfig struct {
	APIKey         string
	APIBaseURL     string
	Model          string
	Language       string
	SmartFormat    bool
	EndpointingMS  int
	UtteranceEndMS int
	VADEvents      bool
}

type AudioConfig struct {
	RecorderCommand string
	PlayerCommand   string
	InputFormat     string
	InputDevice     string
	SampleRate      int
	Channels        int
}

type RulesConfig struct {
	Path           string
	IterationLimit int
	Watch          bool
}

type SessionConfig struct {
	ChunkSize      int
	StreamingGrace time.Duration
	BargeIn        bool
	WordsPerMinute int
}

// Load reads an optional env file, then resolves configuration from
// environment variables and defaults. Variables already set in the process
// take precedence over the file.
func Load() (Config, error) {
	envFile := envOrDefault("CALLCOACH_ENV_FILE", ".env")
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load env file %q: %w", envFile, err)
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return Config{}, errors.New("could not determine home directory")
	}

	level, err := parseLevel(os.Getenv("CALLCOACH_LOG_LEVEL"))
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		LogLevel: level,
		Service: ServiceConfig{
			BaseURL:        envOrDefault("CALLCOACH_API_BASE", "http://localhost:3000/api"),
			Token:          strings.TrimSpace(os.Getenv("CALLCOACH_API_TOKEN")),
			LoginURL:       envOrDefault("CALLCOACH_LOGIN_URL", "http://localhost:3000/login"),
			RequestTimeout: time.Duration(envOrDefaultInt("CALLCOACH_REQUEST_TIMEOUT_MS", 20000)) * time.Millisecond,
		},
		Roleplay: RoleplayConfig{
			ID:      envOrDefault("CALLCOACH_ROLEPLAY", "1.1"),
			Catalog: envOrDefault("CALLCOACH_CATALOG", defaultCatalog),
		},
		Deepgram: DeepgramConfig{
			APIKey:         strings.TrimSpace(os.Getenv("DEEPGRAM_API_KEY")),
			APIBaseURL:     envOrDefault("DEEPGRAM_API_BASE", "https://api.deepgram.com/v1"),
			Model:          envOrDefault("DEEPGRAM_MODEL", "nova-2"),
			Language:       strings.TrimSpace(os.Getenv("DEEPGRAM_LANGUAGE")),
			SmartFormat:    envOrDefaultBool("DEEPGRAM_SMART_FORMAT", true),
			EndpointingMS:  envOrDefaultInt("DEEPGRAM_ENDPOINTING_MS", 300),
			UtteranceEndMS: envOrDefaultInt("DEEPGRAM_UTTERANCE_END_MS", 1000),
			VADEvents:      envOrDefaultBool("DEEPGRAM_VAD_EVENTS", true),
		},
		Audio: AudioConfig{
			RecorderCommand: envOrDefault("CALLCOACH_FFMPEG_COMMAND", "ffmpeg"),
			PlayerCommand:   envOrDefault("CALLCOACH_FFPLAY_COMMAND", "ffplay"),
			InputFormat:     envOrDefault("CALLCOACH_AUDIO_INPUT_FORMAT", "pulse"),
			InputDevice: firstNonEmpty(
				os.Getenv("CALLCOACH_AUDIO_INPUT_DEVICE"),
				os.Getenv("DEEPGRAM_PULSE_SOURCE"),
				"default",
			),
			SampleRate: envOrDefaultInt("CALLCOACH_SAMPLE_RATE", 16000),
			Channels:   envOrDefaultInt("CALLCOACH_CHANNELS", 1),
		},
		Rules: RulesConfig{
			Path:           envOrDefault("CALLCOACH_RULES_FILE", filepath.Join(home, ".config", "callcoach", "transcript.rules")),
			IterationLimit: envOrDefaultInt("CALLCOACH_RULE_ITERATION_LIMIT", 30),
			Watch:          envOrDefaultBool("CALLCOACH_RULES_WATCH", true),
		},
		Session: SessionConfig{
			ChunkSize:      envOrDefaultInt("CALLCOACH_AUDIO_CHUNK_SIZE", 4096),
			StreamingGrace: time.Duration(envOrDefaultNonNegativeInt("CALLCOACH_STREAMING_GRACE_MS", 1000)) * time.Millisecond,
			BargeIn:        envOrDefaultBool("CALLCOACH_BARGE_IN", true),
			WordsPerMinute: envOrDefaultInt("CALLCOACH_WORDS_PER_MINUTE", 150),
		},
	}

	if cfg.Service.RequestTimeout <= 0 {
		cfg.Service.RequestTimeout = 20 * time.Second
	}
	if cfg.Audio.SampleRate <= 0 {
		cfg.Audio.SampleRate = 16000
	}
	if cfg.Audio.Channels <= 0 {
		cfg.Audio.Channels = 1
	}
	if cfg.Rules.IterationLimit <= 0 {
		cfg.Rules.IterationLimit = 30
	}
	if cfg.Session.ChunkSize < 256 {
		cfg.Session.ChunkSize = 4096
	}
	if cfg.Session.WordsPerMinute <= 0 {
		cfg.Session.WordsPerMinute = 150
	}

	return cfg, nil
}

// VoiceEnabled reports whether streaming transcription is configured.
func (c Config) VoiceEnabled() bool {
	return c.Deepgram.APIKey != ""
}

func parseLevel(value string) (slog.Level, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return slog.LevelInfo, nil
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(value)); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid CALLCOACH_LOG_LEVEL %q: %w", value, err)
	}
	return level, nil
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func envOrDefault(key string, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func envOrDefaultInt(key string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func envOrDefaultNonNegativeInt(key string, fallback int) int {
	parsed := envOrDefaultInt(key, fallback)
	if parsed < 0 {
		return fallback
	}
	return parsed
}

func envOrDefaultBool(key string, fallback bool) bool {
	value := strings.TrimSpace(strings.ToLower(os.Getenv(key)))
	switch value {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}
