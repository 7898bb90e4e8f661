package mcp

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
)

// stdioTransport frames JSON-RPC messages over the stdin/stdout pipes of a
// spawned tool-server process. Closing the transport kills the process; the
// exit watcher reaps it exactly once.
type stdioTransport struct {
	reader *bufio.Reader
	writer io.Writer

	stdin  io.Closer
	stdout io.Closer
	cmd    *exec.Cmd

	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

// dialStdio spawns the configured command and binds its pipes to a framed
// transport. The returned transport owns the child process.
func dialStdio(cfg ServerConfig) (Transport, error) {
	if strings.TrimSpace(cfg.Command) == "" {
		return nil, errors.New("mcp: stdio command is required")
	}

	cmd := exec.Command(cfg.Command, cfg.Args...)
	cmd.Dir = cfg.Dir
	if len(cfg.Env) > 0 {
		cmd.Env = append(os.Environ(), cfg.Env...)
	}
	cmd.Stderr = os.Stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("mcp: stdout pipe: %w", err)
	}
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("mcp: stdin pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("mcp: start command: %w", err)
	}

	t := &stdioTransport{
		reader: bufio.NewReader(stdout),
		writer: stdin,
		stdin:  stdin,
		stdout: stdout,
		cmd:    cmd,
	}

	// Reap the process when it exits on its own so a dying server unblocks
	// any pending read instead of leaving a zombie behind.
	go func() {
		_ = cmd.Wait()
		_ = t.closePipes()
	}()

	return t, nil
}

func (t *stdioTransport) Send(ctx context.Context, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	return writeFrame(t.writer, payload)
}

func (t *stdioTransport) Receive(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return readFrame(t.reader)
}

// Close shuts the pipes and signals the process. Safe to call multiple
// times and safe to race with the exit watcher.
func (t *stdioTransport) Close() error {
	err := t.closePipes()
	if t.cmd != nil && t.cmd.Process != nil {
		// Kill after process exit returns ErrProcessDone; harmless.
		_ = t.cmd.Process.Kill()
	}
	return err
}

func (t *stdioTransport) closePipes() error {
	t.closeOnce.Do(func() {
		if t.stdin != nil {
			t.closeErr = t.stdin.Close()
		}
		if t.stdout != nil {
			if e := t.stdout.Close(); e != nil && t.closeErr == nil {
				t.closeErr = e
			}
		}
	})
	return t.closeErr
}
