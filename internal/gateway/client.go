package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"callcoach/internal/domain"
)

// ErrRejected is returned for 4xx responses other than auth and missing
// session errors.
var ErrRejected = errors.New("request rejected")

const maxErrorBody = 4 << 10

// Config controls the coaching service client.
type Config struct {
	BaseURL string
	Token   string
	Timeout time.Duration
	HTTP    *http.Client
}

// Client implements ports.NetworkGateway and ports.StatsReader over HTTP.
type Client struct {
	baseURL    string
	http       *http.Client
	credential Credential
	logger     *slog.Logger
}

func New(cfg Config, logger *slog.Logger) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, errors.New("missing coaching service base url")
	}
	if logger == nil {
		logger = slog.Default()
	}
	httpClient := cfg.HTTP
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	return &Client{
		baseURL:    base,
		http:       httpClient,
		credential: NewCredential(cfg.Token),
		logger:     logger,
	}, nil
}

func (c *Client) Start(ctx context.Context, roleplayID string, mode string) (domain.StartResult, error) {
	var out domain.StartResult
	if err := c.doJSON(ctx, "start", http.MethodPost, "/roleplay/start", startRequest{RoleplayID: roleplayID, Mode: mode}, &out); err != nil {
		return domain.StartResult{}, err
	}
	if strings.TrimSpace(out.SessionID) == "" {
		out.SessionID = uuid.NewString()
		c.logger.Warn("start response had no session id, using local id", "session_id", out.SessionID)
	}
	return out, nil
}

func (c *Client) Respond(ctx context.Context, sessionID string, userInput string) (domain.RespondResult, error) {
	var wire respondWire
	if err := c.doJSON(ctx, "respond", http.MethodPost, "/roleplay/respond", respondRequest{SessionID: sessionID, UserInput: userInput}, &wire); err != nil {
		return domain.RespondResult{}, err
	}
	if wire.Error == noActiveSession {
		return domain.RespondResult{}, fmt.Errorf("respond: %w", domain.ErrSessionLost)
	}
	return wire.result(), nil
}

func (c *Client) End(ctx context.Context, sessionID string, forced bool) (domain.EndResult, error) {
	var wire endWire
	if err := c.doJSON(ctx, "end", http.MethodPost, "/roleplay/end", endRequest{SessionID: sessionID, ForcedEnd: forced}, &wire); err != nil {
		return domain.EndResult{}, err
	}
	return wire.result(), nil
}

func (c *Client) SynthesizeSpeech(ctx context.Context, text string) ([]byte, error) {
	res, err := c.do(ctx, "tts", http.MethodPost, "/roleplay/tts", ttsRequest{Text: text})
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	audio, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, &domain.NetworkError{Op: "tts", Err: err}
	}
	return audio, nil
}

// ActiveSession queries the debug endpoint. A 404 means nothing is active.
func (c *Client) ActiveSession(ctx context.Context) (domain.ActiveSessionInfo, error) {
	var out domain.ActiveSessionInfo
	err := c.doJSON(ctx, "session debug", http.MethodGet, "/roleplay/session/debug", nil, &out)
	if errors.Is(err, domain.ErrSessionLost) {
		return domain.ActiveSessionInfo{}, nil
	}
	return out, err
}

func (c *Client) Stats(ctx context.Context) (domain.Stats, error) {
	var out domain.Stats
	if err := c.doJSON(ctx, "stats", http.MethodGet, "/dashboard/stats", nil, &out); err != nil {
		return domain.Stats{}, err
	}
	return out, nil
}

func (c *Client) doJSON(ctx context.Context, op, method, path string, body any, out any) error {
	res, err := c.do(ctx, op, method, path, body)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	payload, err := io.ReadAll(res.Body)
	if err != nil {
		return &domain.NetworkError{Op: op, Err: err}
	}
	if len(bytes.TrimSpace(payload)) == 0 {
		return nil
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return &domain.NetworkError{Op: op, Status: res.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

// do sends one request and maps failure statuses to domain errors. The
// caller closes the body of a successful response.
func (c *Client) do(ctx context.Context, op, method, path string, body any) (*http.Response, error) {
	auth, err := c.credential.Header()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("%s: encode request: %w", op, err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	requestID := uuid.NewString()
	req.Header.Set("X-Request-ID", requestID)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}

	started := time.Now()
	res, err := c.http.Do(req)
	if err != nil {
		return nil, &domain.NetworkError{Op: op, Err: err}
	}
	c.logger.Debug("gateway request", "op", op, "status", res.StatusCode, "request_id", requestID, "elapsed", time.Since(started))

	if res.StatusCode >= 200 && res.StatusCode < 300 {
		return res, nil
	}
	defer res.Body.Close()
	payload, _ := io.ReadAll(io.LimitReader(res.Body, maxErrorBody))
	return nil, statusError(op, res.StatusCode, payload)
}

func statusError(op string, status int, payload []byte) error {
	var body errorBody
	_ = json.Unmarshal(payload, &body)
	message := body.text()
	if message == "" {
		message = http.StatusText(status)
	}

	switch {
	case status == http.StatusUnauthorized:
		return fmt.Errorf("%s: %w", op, domain.ErrAuthRequired)
	case status == http.StatusNotFound, status == http.StatusGone, body.Error == noActiveSession:
		return fmt.Errorf("%s: %w", op, domain.ErrSessionLost)
	case status >= 500:
		return &domain.NetworkError{Op: op, Status: status, Err: errors.New(message)}
	default:
		return fmt.Errorf("%s: %w (status %d): %s", op, ErrRejected, status, message)
	}
}
