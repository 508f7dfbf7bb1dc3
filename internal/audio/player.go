package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
)

// FFPlayPlayer plays synthesized speech by piping it into ffplay.
type FFPlayPlayer struct {
	command string
	logger  *slog.Logger
}

func NewFFPlayPlayer(command string, logger *slog.Logger) *FFPlayPlayer {
	if command == "" {
		command = "ffplay"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &FFPlayPlayer{command: command, logger: logger}
}

// Play starts playback and returns at once. onEnded runs on a background
// goroutine when ffplay exits by itself.
func (p *FFPlayPlayer) Play(ctx context.Context, audio []byte, onEnded func()) (func(), error) {
	if len(audio) == 0 {
		return nil, errors.New("no audio to play")
	}

	proc := newProcess(ctx, p.command, "-nodisp", "-autoexit", "-loglevel", "error", "-i", "pipe:0")
	proc.cmd.Stdin = bytes.NewReader(audio)
	if err := proc.start(); err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", p.command, err)
	}

	var stopped atomic.Bool
	go func() {
		<-proc.exited
		if stopped.Load() {
			return
		}
		if proc.err != nil {
			p.logger.Warn("audio playback failed", "error", proc.err, "stderr", proc.stderrText())
		}
		if onEnded != nil {
			onEnded()
		}
	}()

	return func() {
		if stopped.CompareAndSwap(false, true) {
			proc.kill()
		}
	}, nil
}
