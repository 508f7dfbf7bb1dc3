package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/gorilla/websocket"

	"callcoach/internal/domain"
	"callcoach/internal/ports"
)

const defaultBaseURL = "https://api.deepgram.com/v1"

var errStreamClosed = errors.New("audio stream is already closed")

// Config controls Deepgram websocket settings.
type Config struct {
	APIKey      string
	APIBaseURL  string
	Model       string
	Language    string
	SmartFormat bool
	// EndpointingMS is the silence that ends an utterance with speech_final.
	EndpointingMS int
	// UtteranceEndMS enables UtteranceEnd messages after a word gap.
	UtteranceEndMS int
	VADEvents      bool
}

// Provider implements ports.TranscriptionProvider for Deepgram.
type Provider struct {
	cfg    Config
	dialer *websocket.Dialer
}

func NewProvider(cfg Config) *Provider {
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = defaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = "nova-2"
	}
	if cfg.EndpointingMS <= 0 {
		cfg.EndpointingMS = 300
	}
	if cfg.UtteranceEndMS <= 0 {
		cfg.UtteranceEndMS = 1000
	}
	return &Provider{cfg: cfg, dialer: websocket.DefaultDialer}
}

func (p *Provider) StartStreaming(ctx context.Context, cfg ports.StreamingConfig) (ports.StreamingSession, error) {
	if strings.TrimSpace(p.cfg.APIKey) == "" {
		return nil, errors.New("DEEPGRAM_API_KEY is not configured")
	}

	target, err := buildListenURL(p.cfg, cfg)
	if err != nil {
		return nil, err
	}

	header := http.Header{"Authorization": []string{"Token " + p.cfg.APIKey}}
	conn, resp, err := p.dialer.DialContext(ctx, target, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("deepgram handshake (status %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("deepgram dial: %w", err)
	}

	s := newStreamingSession(conn)
	go func() {
		select {
		case <-ctx.Done():
			_ = s.Close()
		case <-s.done:
		}
	}()
	return s, nil
}

// streamingSession owns one listen socket. writeLoop is the only writer and
// readLoop the only reader; events and done close once both have returned.
type streamingSession struct {
	conn *websocket.Conn

	events   chan domain.TranscriptEvent
	audio    chan []byte
	finished chan struct{}
	done     chan struct{}

	finishOnce sync.Once
	closeOnce  sync.Once

	errMu sync.Mutex
	err   error
}

func newStreamingSession(conn *websocket.Conn) *streamingSession {
	s := &streamingSession{
		conn:     conn,
		events:   make(chan domain.TranscriptEvent, 64),
		audio:    make(chan []byte, 32),
		finished: make(chan struct{}),
		done:     make(chan struct{}),
	}

	var loops sync.WaitGroup
	loops.Add(2)
	go func() {
		defer loops.Done()
		s.readLoop()
	}()
	go func() {
		defer loops.Done()
		s.writeLoop()
	}()
	go func() {
		loops.Wait()
		close(s.events)
		close(s.done)
		_ = conn.Close()
	}()
	return s
}

func (s *streamingSession) SendAudio(chunk []byte) error {
	if len(chunk) == 0 {
		return nil
	}
	if s.sendFinished() {
		if err := s.waitErr(); err != nil {
			return err
		}
		return errStreamClosed
	}

	select {
	case s.audio <- append([]byte(nil), chunk...):
		return nil
	case <-s.finished:
		return errStreamClosed
	case <-s.done:
		if err := s.waitErr(); err != nil {
			return err
		}
		return errors.New("session closed")
	}
}

// CloseSend flushes queued audio and asks Deepgram to finalize the stream.
func (s *streamingSession) CloseSend() error {
	s.finishOnce.Do(func() { close(s.finished) })
	return nil
}

func (s *streamingSession) sendFinished() bool {
	select {
	case <-s.finished:
		return true
	default:
		return false
	}
}

func (s *streamingSession) Events() <-chan domain.TranscriptEvent {
	return s.events
}

func (s *streamingSession) Wait() error {
	<-s.done
	return s.waitErr()
}

func (s *streamingSession) Close() error {
	s.closeOnce.Do(func() {
		_ = s.CloseSend()
		_ = s.conn.Close()
	})
	<-s.done
	return s.waitErr()
}

func (s *streamingSession) waitErr() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

// setErr keeps the first failure. Normal websocket closes are not failures.
func (s *streamingSession) setErr(err error) {
	if err == nil || isNormalClose(err) {
		return
	}

	s.errMu.Lock()
	defer s.errMu.Unlock()
	if s.err == nil {
		s.err = err
	}
}

func isNormalClose(err error) bool {
	var closeErr *websocket.CloseError
	if !errors.As(err, &closeErr) {
		return false
	}
	switch closeErr.Code {
	case websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived:
		return true
	default:
		return false
	}
}

func (s *streamingSession) writeLoop() {
	for {
		select {
		case chunk := <-s.audio:
			if err := s.write(websocket.BinaryMessage, chunk); err != nil {
				return
			}
		case <-s.finished:
			for {
				select {
				case chunk := <-s.audio:
					if err := s.write(websocket.BinaryMessage, chunk); err != nil {
						return
					}
				default:
					_ = s.write(websocket.TextMessage, []byte(`{"type":"CloseStream"}`))
					return
				}
			}
		}
	}
}

func (s *streamingSession) write(kind int, payload []byte) error {
	if err := s.conn.WriteMessage(kind, payload); err != nil {
		s.setErr(fmt.Errorf("deepgram write: %w", err))
		return err
	}
	return nil
}

func (s *streamingSession) readLoop() {
	defer s.CloseSend()
	for {
		_, payload, err := s.conn.ReadMessage()
		if err != nil {
			s.setErr(fmt.Errorf("deepgram read: %w", err))
			return
		}

		event, ok, err := decodeEvent(payload)
		if err != nil {
			s.setErr(err)
			return
		}
		if !ok {
			continue
		}
		// A slow consumer loses interim events rather than stalling the socket.
		select {
		case s.events <- event:
		default:
		}
	}
}

type alternative struct {
	Transcript string `json:"transcript"`
}

type listenMessage struct {
	Type        string `json:"type"`
	Message     string `json:"message"`
	Description string `json:"description"`
	IsFinal     bool   `json:"is_final"`
	SpeechFinal bool   `json:"speech_final"`
	Channel     struct {
		Alternatives []alternative `json:"alternatives"`
	} `json:"channel"`
	Results struct {
		Channels []struct {
			Alternatives []alternative `json:"alternatives"`
		} `json:"channels"`
	} `json:"results"`
}

func (m listenMessage) transcript() string {
	if alts := m.Channel.Alternatives; len(alts) > 0 {
		if text := strings.TrimSpace(alts[0].Transcript); text != "" {
			return text
		}
	}
	if channels := m.Results.Channels; len(channels) > 0 && len(channels[0].Alternatives) > 0 {
		return strings.TrimSpace(channels[0].Alternatives[0].Transcript)
	}
	return ""
}

// decodeEvent maps one provider message to a transcript event. ok is false for
// messages that carry nothing for the caller.
func decodeEvent(payload []byte) (domain.TranscriptEvent, bool, error) {
	var msg listenMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return domain.TranscriptEvent{}, false, nil
	}

	switch strings.ToLower(msg.Type) {
	case "error":
		for _, text := range []string{msg.Message, msg.Description} {
			if text = strings.TrimSpace(text); text != "" {
				return domain.TranscriptEvent{}, false, errors.New(text)
			}
		}
		return domain.TranscriptEvent{}, false, errors.New("deepgram returned an unknown error")
	case "speechstarted":
		return domain.TranscriptEvent{Kind: domain.TranscriptKindSpeechStarted}, true, nil
	case "utteranceend":
		return domain.TranscriptEvent{Kind: domain.TranscriptKindUtteranceEnd}, true, nil
	}

	text := msg.transcript()
	if text == "" && !msg.SpeechFinal {
		return domain.TranscriptEvent{}, false, nil
	}
	kind := domain.TranscriptKindPartial
	if msg.IsFinal || msg.SpeechFinal {
		kind = domain.TranscriptKindFinal
	}
	return domain.TranscriptEvent{Kind: kind, Text: text, IsSpeechFinal: msg.SpeechFinal}, true, nil
}

func buildListenURL(providerCfg Config, streamCfg ports.StreamingConfig) (string, error) {
	base := strings.TrimRight(strings.TrimSpace(providerCfg.APIBaseURL), "/")
	if base == "" {
		base = defaultBaseURL
	}
	target, err := url.Parse(base + "/listen")
	if err != nil {
		return "", fmt.Errorf("invalid Deepgram API base URL: %w", err)
	}
	switch target.Scheme {
	case "https":
		target.Scheme = "wss"
	case "http":
		target.Scheme = "ws"
	}

	if streamCfg.Encoding == "" {
		streamCfg.Encoding = "linear16"
	}
	if streamCfg.SampleRate <= 0 {
		streamCfg.SampleRate = 16000
	}
	if streamCfg.Channels <= 0 {
		streamCfg.Channels = 1
	}

	q := url.Values{}
	q.Set("model", providerCfg.Model)
	q.Set("encoding", streamCfg.Encoding)
	q.Set("sample_rate", strconv.Itoa(streamCfg.SampleRate))
	q.Set("channels", strconv.Itoa(streamCfg.Channels))
	q.Set("interim_results", strconv.FormatBool(streamCfg.InterimResults))
	q.Set("smart_format", strconv.FormatBool(providerCfg.SmartFormat))
	if providerCfg.Language != "" {
		q.Set("language", providerCfg.Language)
	}
	if providerCfg.EndpointingMS > 0 {
		q.Set("endpointing", strconv.Itoa(providerCfg.EndpointingMS))
	}
	// Deepgram only accepts utterance_end_ms together with interim results.
	if providerCfg.UtteranceEndMS > 0 && streamCfg.InterimResults {
		q.Set("utterance_end_ms", strconv.Itoa(providerCfg.UtteranceEndMS))
	}
	if providerCfg.VADEvents {
		q.Set("vad_events", "true")
	}
	target.RawQuery = q.Encode()
	return target.String(), nil
}
