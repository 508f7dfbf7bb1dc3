package bootstrap

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"callcoach/internal/audio"
	"callcoach/internal/config"
	"callcoach/internal/gateway"
	"callcoach/internal/ports"
	"callcoach/internal/providers/deepgram"
	"callcoach/internal/roleplay"
	"callcoach/internal/rules"
	"callcoach/internal/usecase"
	"callcoach/internal/voice"
)

// Services is the assembled runtime graph.
type Services struct {
	Config       config.Config
	Logger       *slog.Logger
	Host         *roleplay.Host
	Stats        ports.StatsReader
	VoiceEnabled bool

	loop    *usecase.LoopScheduler
	watcher *rules.Watcher
}

type buildOptions struct {
	logOutput io.Writer
}

// Option adjusts Build.
type Option func(*buildOptions)

// WithLogOutput sends logs to w instead of stderr.
func WithLogOutput(w io.Writer) Option {
	return func(o *buildOptions) { o.logOutput = w }
}

// Build wires all backend dependencies and starts the engine loop. The loop
// stops when ctx is cancelled or Close is called.
func Build(ctx context.Context, eventSink ports.EventSink, opts ...Option) (*Services, error) {
	options := buildOptions{logOutput: os.Stderr}
	for _, opt := range opts {
		opt(&options)
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logger := NewLogger(options.logOutput, cfg.LogLevel)

	catalog, err := roleplay.ParseCatalog(cfg.Roleplay.Catalog)
	if err != nil {
		return nil, err
	}

	normalizer, err := rules.NewNormalizer(cfg.Rules.Path, cfg.Rules.IterationLimit)
	if err != nil {
		return nil, err
	}

	client, err := gateway.New(gateway.Config{
		BaseURL: cfg.Service.BaseURL,
		Token:   cfg.Service.Token,
		Timeout: cfg.Service.RequestTimeout,
	}, logger.With("component", "gateway"))
	if err != nil {
		return nil, err
	}

	var capture ports.VoiceCapture = voice.Disabled{}
	if cfg.VoiceEnabled() {
		capture = voice.NewDevice(
			audio.NewFFMPEGCapture(cfg.Audio.RecorderCommand),
			deepgram.NewProvider(deepgram.Config{
				APIKey:         cfg.Deepgram.APIKey,
				APIBaseURL:     cfg.Deepgram.APIBaseURL,
				Model:          cfg.Deepgram.Model,
				Language:       cfg.Deepgram.Language,
				SmartFormat:    cfg.Deepgram.SmartFormat,
				EndpointingMS:  cfg.Deepgram.EndpointingMS,
				UtteranceEndMS: cfg.Deepgram.UtteranceEndMS,
				VADEvents:      cfg.Deepgram.VADEvents,
			}),
			logger.With("component", "voice"),
			voice.Config{
				Audio: ports.AudioConfig{
					SampleRate:  cfg.Audio.SampleRate,
					Channels:    cfg.Audio.Channels,
					InputFormat: cfg.Audio.InputFormat,
					InputDevice: cfg.Audio.InputDevice,
				},
				Streaming: ports.StreamingConfig{
					SampleRate: cfg.Audio.SampleRate,
					Channels:   cfg.Audio.Channels,
					Encoding:   "linear16",
				},
				ChunkSize:   cfg.Session.ChunkSize,
				StopTimeout: cfg.Session.StreamingGrace,
			},
		)
	} else {
		logger.Warn("DEEPGRAM_API_KEY is not set, voice input disabled; typed input still works")
	}

	loop := usecase.NewLoopScheduler(256, logger)
	engineCfg := usecase.DefaultConfig()
	engineCfg.RequestTimeout = cfg.Service.RequestTimeout
	engineCfg.BargeIn = cfg.Session.BargeIn
	engineCfg.Pacing.WordsPerMinute = cfg.Session.WordsPerMinute

	factory := roleplay.NewFactory(catalog, usecase.Dependencies{
		Scheduler:  loop,
		Gateway:    client,
		Player:     audio.NewFFPlayPlayer(cfg.Audio.PlayerCommand, logger.With("component", "player")),
		Capture:    capture,
		Normalizer: normalizer,
		Events:     eventSink,
		Logger:     logger,
		Config:     engineCfg,
	})

	services := &Services{
		Config:       cfg,
		Logger:       logger,
		Host:         roleplay.NewHost(ctx, loop, factory),
		Stats:        client,
		VoiceEnabled: cfg.VoiceEnabled(),
		loop:         loop,
	}

	if cfg.Rules.Watch && normalizer.Path() != "" {
		watcher, err := rules.Watch(normalizer, logger.With("component", "rules"), nil)
		if err != nil {
			logger.Warn("transcript rules will not hot-reload", "path", normalizer.Path(), "error", err)
		} else {
			services.watcher = watcher
		}
	}

	go loop.Run(ctx)
	logger.Info("callcoach ready", "api", cfg.Service.BaseURL, "voice", services.VoiceEnabled, "rules", normalizer.Len())
	return services, nil
}

// Close stops the engine loop and the rules watcher.
func (s *Services) Close() error {
	if err := s.Host.Close(); err != nil {
		s.Logger.Debug("host close", "error", err)
	}
	s.loop.Close()
	if s.watcher != nil {
		if err := s.watcher.Close(); err != nil {
			return fmt.Errorf("close rules watcher: %w", err)
		}
	}
	return nil
}

// NewLogger returns the text logger used by every component.
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}
