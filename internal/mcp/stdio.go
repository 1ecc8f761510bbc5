package mcp

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"aegis/internal/async"
	"aegis/internal/logging"
)

// stopTimeout bounds graceful child-process shutdown before a kill.
const stopTimeout = 5 * time.Second

// StdioConfig configures a child-process transport.
type StdioConfig struct {
	Command string
	Args    []string
	Env     map[string]string
}

// StdioTransport spawns the tool server as a child process and exchanges
// frames over its stdin/stdout.
type StdioTransport struct {
	config StdioConfig
	logger logging.Logger

	mu       sync.Mutex
	cmd      *exec.Cmd
	stdin    io.WriteCloser
	running  bool
	messages chan []byte
	waitDone chan error
}

// NewStdioTransport builds a stdio transport for the given command.
func NewStdioTransport(config StdioConfig, logger logging.Logger) *StdioTransport {
	return &StdioTransport{
		config:   config,
		logger:   logging.OrNop(logger),
		messages: make(chan []byte, 16),
	}
}

// Start spawns the server process and begins scanning its stdout for frames.
func (t *StdioTransport) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.running {
		return fmt.Errorf("transport already started")
	}

	command := strings.TrimSpace(t.config.Command)
	if command == "" {
		return fmt.Errorf("command is required")
	}
	resolved, err := exec.LookPath(command)
	if err != nil {
		return fmt.Errorf("command not found: %w", err)
	}

	cmd := exec.CommandContext(ctx, resolved, t.config.Args...)
	cmd.Env = os.Environ()
	for k, v := range t.config.Env {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("create stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("create stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start process: %w", err)
	}

	t.cmd = cmd
	t.stdin = stdin
	t.running = true
	t.waitDone = make(chan error, 1)
	t.logger.Info("tool server started: %s (pid %d)", command, cmd.Process.Pid)

	async.Go(t.logger, "mcp.stdio.readLoop", func() {
		t.readLoop(stdout)
	})
	async.Go(t.logger, "mcp.stdio.stderr", func() {
		t.drainStderr(stderr)
	})
	async.Go(t.logger, "mcp.stdio.wait", func() {
		t.waitDone <- cmd.Wait()
	})

	return nil
}

// Send writes one frame, newline-terminated, to the child's stdin.
func (t *StdioTransport) Send(data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.running || t.stdin == nil {
		return fmt.Errorf("transport not running")
	}

	framed := append(append([]byte(nil), data...), '\n')
	n, err := t.stdin.Write(framed)
	if err != nil {
		return fmt.Errorf("write to stdin: %w", err)
	}
	if n != len(framed) {
		return fmt.Errorf("incomplete write: %d/%d bytes", n, len(framed))
	}
	return nil
}

// Messages delivers stdout frames, one per line.
func (t *StdioTransport) Messages() <-chan []byte {
	return t.messages
}

// Close shuts the process down: stdin close first for a graceful exit, then
// a kill after stopTimeout.
func (t *StdioTransport) Close() error {
	t.mu.Lock()
	if !t.running {
		t.mu.Unlock()
		return nil
	}
	t.running = false
	stdin := t.stdin
	cmd := t.cmd
	waitDone := t.waitDone
	t.mu.Unlock()

	if stdin != nil {
		_ = stdin.Close()
	}

	select {
	case err := <-waitDone:
		t.logger.Debug("tool server exited: %v", err)
		return nil
	case <-time.After(stopTimeout):
		t.logger.Warn("graceful shutdown timed out, killing process")
		if cmd != nil && cmd.Process != nil {
			if err := cmd.Process.Kill(); err != nil {
				return fmt.Errorf("kill process: %w", err)
			}
		}
		return nil
	}
}

func (t *StdioTransport) readLoop(stdout io.Reader) {
	defer close(t.messages)

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := append([]byte(nil), scanner.Bytes()...)
		if len(line) == 0 {
			continue
		}
		t.messages <- line
	}
	if err := scanner.Err(); err != nil && err != io.EOF {
		t.logger.Error("stdout read loop error: %v", err)
	}
}

func (t *StdioTransport) drainStderr(stderr io.Reader) {
	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		t.logger.Debug("[server stderr] %s", scanner.Text())
	}
}
