package voice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"callcoach/internal/domain"
	"callcoach/internal/ports"
)

var errStreamEnded = errors.New("transcription stream ended unexpectedly")

// Config controls microphone capture and streaming transcription.
type Config struct {
	Audio       ports.AudioConfig
	Streaming   ports.StreamingConfig
	ChunkSize   int
	StopTimeout time.Duration
}

// Device is a VoiceCapture that streams microphone audio to a transcription
// provider and reports one FinalTranscript per utterance.
type Device struct {
	audio    ports.AudioCapture
	provider ports.TranscriptionProvider
	logger   *slog.Logger
	cfg      Config

	mu      sync.Mutex
	current *listenSession
}

func NewDevice(audio ports.AudioCapture, provider ports.TranscriptionProvider, logger *slog.Logger, cfg Config) *Device {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ChunkSize < 256 {
		cfg.ChunkSize = 4096
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = 4 * time.Second
	}
	cfg.Streaming.InterimResults = true
	return &Device{audio: audio, provider: provider, logger: logger, cfg: cfg}
}

// StartListening opens a new capture session, replacing any previous one.
func (d *Device) StartListening(ctx context.Context, interruptible bool, listener ports.VoiceListener) error {
	if listener == nil {
		return errors.New("voice listener is required")
	}
	d.StopListening()

	sessionCtx, cancel := context.WithCancel(ctx)
	stream, err := d.provider.StartStreaming(sessionCtx, d.cfg.Streaming)
	if err != nil {
		cancel()
		return fmt.Errorf("start transcription: %w", err)
	}

	audio, err := d.audio.Start(sessionCtx, d.cfg.Audio)
	if err != nil {
		_ = stream.Close()
		cancel()
		return fmt.Errorf("start microphone: %w", err)
	}

	session := &listenSession{
		cancel:        cancel,
		audio:         audio,
		stream:        stream,
		listener:      listener,
		interruptible: interruptible,
		chunkSize:     d.cfg.ChunkSize,
		stopTimeout:   d.cfg.StopTimeout,
		logger:        d.logger,
		aggregator:    newUtteranceAggregator(),
		pumpErr:       make(chan error, 1),
		done:          make(chan struct{}),
	}

	d.mu.Lock()
	d.current = session
	d.mu.Unlock()

	go session.consume()
	go session.pump()
	d.logger.Debug("listening started", "interruptible", interruptible)
	return nil
}

// StopListening ends the current session. No listener calls are made for it
// afterwards. Device teardown finishes in the background.
func (d *Device) StopListening() {
	d.mu.Lock()
	session := d.current
	d.current = nil
	d.mu.Unlock()

	if session != nil {
		session.stop()
	}
}

type listenSession struct {
	cancel        context.CancelFunc
	audio         ports.AudioSession
	stream        ports.StreamingSession
	listener      ports.VoiceListener
	interruptible bool
	chunkSize     int
	stopTimeout   time.Duration
	logger        *slog.Logger
	aggregator    *utteranceAggregator

	stopped atomic.Bool
	// speaking is only touched by the consume goroutine.
	speaking bool
	pumpErr  chan error
	done     chan struct{}
}

func (s *listenSession) pump() {
	err := pumpAudioChunks(s.audio, s.stream, s.chunkSize)
	_ = s.stream.CloseSend()
	s.pumpErr <- err
}

func (s *listenSession) consume() {
	defer close(s.done)

	for event := range s.stream.Events() {
		if s.stopped.Load() {
			continue
		}
		s.handle(event)
	}
	if s.stopped.Load() {
		return
	}

	s.flush()
	err := waitForStream(s.stream, s.stopTimeout)
	if err == nil {
		select {
		case err = <-s.pumpErr:
		default:
		}
	}
	if err == nil {
		err = errStreamEnded
	}
	if s.stopped.Load() {
		return
	}
	s.logger.Warn("listening stopped", "error", err)
	s.listener.ListeningStopped(err)
}

func (s *listenSession) handle(event domain.TranscriptEvent) {
	text := strings.TrimSpace(event.Text)
	switch event.Kind {
	case domain.TranscriptKindSpeechStarted:
		s.speechStarted()
	case domain.TranscriptKindPartial:
		if text == "" {
			return
		}
		s.speechStarted()
		s.listener.PartialTranscript(s.aggregator.Preview(text))
	case domain.TranscriptKindFinal:
		if text != "" {
			s.speechStarted()
			s.aggregator.Add(event)
			s.listener.PartialTranscript(s.aggregator.Preview(""))
		}
		if event.IsSpeechFinal {
			s.flush()
		}
	case domain.TranscriptKindUtteranceEnd:
		s.flush()
	}
}

func (s *listenSession) speechStarted() {
	if s.speaking {
		return
	}
	s.speaking = true
	if s.interruptible {
		s.listener.SpeechStarted()
	}
}

func (s *listenSession) flush() {
	s.speaking = false
	if text := s.aggregator.Take(); text != "" {
		s.listener.FinalTranscript(text)
	}
}

func (s *listenSession) stop() {
	s.stopped.Store(true)
	s.cancel()
	go func() {
		if err := s.audio.Stop(); err != nil {
			s.logger.Debug("microphone stop", "error", err)
		}
		_ = s.stream.Close()
		<-s.done
	}()
}

// Disabled is the VoiceCapture used when no transcription provider is
// configured. Typed input keeps working.
type Disabled struct{}

func (Disabled) StartListening(context.Context, bool, ports.VoiceListener) error { return nil }

func (Disabled) StopListening() {}
