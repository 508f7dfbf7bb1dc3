package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"
)

// process wraps an external audio tool such as ffmpeg or ffplay.
type process struct {
	cmd    *exec.Cmd
	stderr *lockedBuffer
	exited chan struct{}
	err    error
}

func newProcess(ctx context.Context, command string, args ...string) *process {
	cmd := exec.CommandContext(ctx, command, args...)
	p := &process{cmd: cmd, stderr: &lockedBuffer{}, exited: make(chan struct{})}
	cmd.Stderr = p.stderr
	cmd.WaitDelay = time.Second
	return p
}

func (p *process) start() error {
	if err := p.cmd.Start(); err != nil {
		return err
	}
	go func() {
		p.err = p.cmd.Wait()
		close(p.exited)
	}()
	return nil
}

// waitStartup fails if the process exits within grace.
func (p *process) waitStartup(grace time.Duration) error {
	select {
	case <-p.exited:
		if p.err != nil {
			return fmt.Errorf("%w: %s", p.err, p.stderrText())
		}
		return errors.New("process exited immediately")
	case <-time.After(grace):
		return nil
	}
}

// stop interrupts the process and kills it when it ignores the interrupt.
func (p *process) stop(grace time.Duration) error {
	if p.cmd.Process == nil {
		return nil
	}
	_ = p.cmd.Process.Signal(os.Interrupt)
	select {
	case <-p.exited:
	case <-time.After(grace):
		_ = p.cmd.Process.Kill()
		<-p.exited
	}
	return p.exitErr()
}

func (p *process) kill() {
	if p.cmd.Process != nil {
		_ = p.cmd.Process.Kill()
	}
}

// exitErr is only valid once exited is closed.
func (p *process) exitErr() error {
	err := normalizeStopErr(p.err)
	if err != nil {
		if text := p.stderrText(); text != "" {
			err = fmt.Errorf("%w: %s", err, text)
		}
	}
	return err
}

func (p *process) stderrText() string {
	return strings.TrimSpace(p.stderr.String())
}

func normalizeStopErr(err error) error {
	if err == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return nil
	}
	return err
}

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
