package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/wailsapp/wails/v2/pkg/runtime"

	"callcoach/internal/bootstrap"
	"callcoach/internal/config"
	"callcoach/internal/domain"
	"callcoach/internal/ports"
	"callcoach/internal/roleplay"
	"callcoach/internal/usecase"
)

const (
	eventModes      = "callcoach:modes"
	eventCallState  = "callcoach:call-state"
	eventTurn       = "callcoach:turn"
	eventTranscript = "callcoach:transcript"
	eventLive       = "callcoach:live"
	eventDuration   = "callcoach:duration"
	eventMarathon   = "callcoach:marathon"
	eventStage      = "callcoach:stage"
	eventEvaluation = "callcoach:evaluation"
	eventFeedback   = "callcoach:feedback"
	eventError      = "callcoach:error"
	eventAuth       = "callcoach:auth-required"
)

// App is the Wails application root and the render layer of the engine.
type App struct {
	ctx context.Context

	services *bootstrap.Services
	cfg      config.Config
	logger   *slog.Logger
	bootErr  error

	emit      func(event string, data any)
	openURL   func(url string)
	clipboard ports.Clipboard

	mu           sync.Mutex
	lastFeedback *domain.Feedback
}

func NewApp() *App {
	return &App{logger: slog.Default()}
}

func (a *App) startup(ctx context.Context) {
	a.ctx = ctx
	a.emit = func(event string, data any) { runtime.EventsEmit(ctx, event, data) }
	a.openURL = func(url string) { runtime.BrowserOpenURL(ctx, url) }
	a.clipboard = &wailsClipboard{}

	services, err := bootstrap.Build(ctx, a)
	if err != nil {
		a.bootErr = err
		a.SessionError(domain.ErrorCodeStartup, err.Error())
		return
	}

	a.services = services
	a.cfg = services.Config
	a.logger = services.Logger
	if err := a.OpenRoleplay(services.Config.Roleplay.ID); err != nil {
		a.SessionError(domain.ErrorCodeStartup, err.Error())
	}
}

func (a *App) shutdown(_ context.Context) {
	if a.services == nil {
		return
	}
	if err := a.services.Close(); err != nil {
		a.logger.Warn("shutdown", "error", err)
	}
}

// OpenRoleplay switches to a roleplay and shows its modes.
func (a *App) OpenRoleplay(roleplayID string) error {
	return a.hostCall(domain.ErrorCodeStart, func(h *roleplay.Host) error { return h.Open(roleplayID) })
}

// StartCall dials a new call in mode.
func (a *App) StartCall(mode string) error {
	return a.hostCall(domain.ErrorCodeStart, func(h *roleplay.Host) error { return h.StartCall(mode) })
}

// SubmitText sends typed input for the current turn.
func (a *App) SubmitText(text string) error {
	return a.hostCall(domain.ErrorCodeRespond, func(h *roleplay.Host) error { return h.Submit(text) })
}

// Interrupt stops the prospect mid-sentence.
func (a *App) Interrupt() error {
	return a.hostCall(domain.ErrorCodeRespond, func(h *roleplay.Host) error { return h.Interrupt() })
}

// EndCall hangs up and requests feedback.
func (a *App) EndCall() error {
	return a.hostCall(domain.ErrorCodeEnd, func(h *roleplay.Host) error { return h.EndCall() })
}

// BackToModes drops the current call and returns to mode selection.
func (a *App) BackToModes() error {
	return a.hostCall(domain.ErrorCodeStart, func(h *roleplay.Host) error { return h.BackToModes() })
}

// GetSnapshot returns the current engine view.
func (a *App) GetSnapshot() domain.Snapshot {
	if a.services == nil {
		return domain.Snapshot{}
	}
	snap, err := a.services.Host.Refresh()
	if err != nil {
		a.logger.Debug("snapshot refresh", "error", err)
	}
	return snap
}

// CopyCoaching puts the last feedback on the clipboard.
func (a *App) CopyCoaching() error {
	a.mu.Lock()
	feedback := a.lastFeedback
	a.mu.Unlock()
	if feedback == nil {
		return errors.New("no feedback to copy yet")
	}
	if a.clipboard == nil {
		return errors.New("clipboard is not available")
	}
	if err := a.clipboard.SetText(a.ctx, roleplay.CoachingText(*feedback)); err != nil {
		a.SessionError(domain.ErrorCodeClipboard, err.Error())
		return err
	}
	return nil
}

// RefreshStats loads dashboard stats. Failures only log; the UI keeps its
// last numbers.
func (a *App) RefreshStats() domain.Stats {
	if a.services == nil {
		return domain.Stats{}
	}
	ctx, cancel := context.WithTimeout(a.ctx, 10*time.Second)
	defer cancel()
	stats, err := a.services.Stats.Stats(ctx)
	if err != nil {
		if errors.Is(err, domain.ErrAuthRequired) {
			a.AuthRequired()
		}
		a.logger.Warn("stats unavailable", "error", err)
		return domain.Stats{}
	}
	return stats
}

// GetRuntimeInfo returns non-sensitive config for the UI.
func (a *App) GetRuntimeInfo() map[string]string {
	if a.bootErr != nil {
		return map[string]string{"error": a.bootErr.Error()}
	}

	voice := "disabled"
	if a.cfg.VoiceEnabled() {
		voice = "Deepgram " + a.cfg.Deepgram.Model
	}
	return map[string]string{
		"api":        a.cfg.Service.BaseURL,
		"roleplay":   a.cfg.Roleplay.ID,
		"voice":      voice,
		"language":   a.cfg.Deepgram.Language,
		"rulesFile":  a.cfg.Rules.Path,
		"audioInput": a.cfg.Audio.InputDevice,
	}
}

func (a *App) hostCall(code domain.ErrorCode, fn func(*roleplay.Host) error) error {
	if err := a.requireReady(); err != nil {
		return err
	}
	err := fn(a.services.Host)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, usecase.ErrBusy):
		a.SessionError(domain.ErrorCodeBusy, err.Error())
	case errors.Is(err, usecase.ErrNotYourTurn):
	default:
		a.SessionError(code, err.Error())
	}
	return err
}

func (a *App) requireReady() error {
	if a.bootErr != nil {
		return a.bootErr
	}
	if a.services == nil {
		return fmt.Errorf("application is not initialized")
	}
	return nil
}

func (a *App) send(event string, data any) {
	if a.emit == nil {
		return
	}
	a.emit(event, data)
}

func (a *App) ModeSelection(roleplayID string, options []domain.ModeOption) {
	a.mu.Lock()
	a.lastFeedback = nil
	a.mu.Unlock()
	a.send(eventModes, map[string]any{"roleplayId": roleplayID, "options": options})
}

func (a *App) CallStateChanged(state domain.CallState, status string) {
	a.send(eventCallState, map[string]string{"state": string(state), "status": status})
}

func (a *App) TurnChanged(turn domain.TurnState) {
	a.send(eventTurn, turn)
}

func (a *App) TranscriptAppended(entry domain.TranscriptEntry) {
	a.send(eventTranscript, entry)
}

func (a *App) LiveTranscript(text string) {
	a.send(eventLive, map[string]string{"text": text})
}

func (a *App) CallDuration(elapsed time.Duration) {
	a.send(eventDuration, map[string]any{"seconds": int(elapsed.Seconds()), "label": formatDuration(elapsed)})
}

func (a *App) MarathonProgress(state domain.MarathonState) {
	a.send(eventMarathon, state)
}

func (a *App) StageChanged(info domain.StageInfo) {
	a.send(eventStage, info)
}

func (a *App) TurnEvaluated(eval domain.Evaluation) {
	a.send(eventEvaluation, eval)
}

func (a *App) FeedbackReady(feedback domain.Feedback) {
	a.mu.Lock()
	a.lastFeedback = &feedback
	a.mu.Unlock()
	a.send(eventFeedback, feedback)
}

// SessionError emits backend errors to the UI.
func (a *App) SessionError(code domain.ErrorCode, detail string) {
	a.send(eventError, map[string]string{
		"code":    string(code),
		"message": errorMessage(code, detail),
		"detail":  detail,
	})
}

// AuthRequired sends the user to the login page.
func (a *App) AuthRequired() {
	a.send(eventAuth, map[string]string{"loginUrl": a.cfg.Service.LoginURL})
	if a.openURL != nil && a.cfg.Service.LoginURL != "" {
		a.openURL(a.cfg.Service.LoginURL)
	}
}

func formatDuration(d time.Duration) string {
	seconds := int(d.Round(time.Second).Seconds())
	return fmt.Sprintf("%02d:%02d", seconds/60, seconds%60)
}

func errorMessage(code domain.ErrorCode, detail string) string {
	switch code {
	case domain.ErrorCodeStartup:
		return "Startup failed"
	case domain.ErrorCodeStart:
		return "Could not start the call"
	case domain.ErrorCodeRespond:
		return "The prospect did not answer"
	case domain.ErrorCodeEnd:
		return "Feedback unavailable"
	case domain.ErrorCodeRecovery:
		return "Call lost"
	case domain.ErrorCodeVoice:
		return "Microphone issue"
	case domain.ErrorCodeAudio:
		return "Audio playback issue"
	case domain.ErrorCodeBusy:
		return "Still waiting on the last reply"
	case domain.ErrorCodeClipboard:
		return "Clipboard write failed"
	default:
		if detail == "" {
			return "Unknown error"
		}
		return detail
	}
}

type wailsClipboard struct{}

func (c *wailsClipboard) SetText(ctx context.Context, text string) error {
	return runtime.ClipboardSetText(ctx, text)
}
