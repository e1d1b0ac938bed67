package worker

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/dj-oyu/driver-monitor/internal/logger"
)

// ProcessConfig describes how to launch the detection worker
type ProcessConfig struct {
	Command []string      // argv, e.g. ["python3", "workers/face_mesh.py"]
	Timeout time.Duration // per request
	Dir     string        // working directory
}

// Process is a worker subprocess with a Client bound to its pipes
type Process struct {
	*Client

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	cancel context.CancelFunc
	wg     sync.WaitGroup
	exited chan struct{}
}

// Start launches the worker process
func Start(ctx context.Context, cfg ProcessConfig) (*Process, error) {
	if len(cfg.Command) == 0 {
		return nil, errors.New("worker command is empty")
	}

	ctx, cancel := context.WithCancel(ctx)
	cmd := exec.CommandContext(ctx, cfg.Command[0], cfg.Command[1:]...)
	cmd.Dir = cfg.Dir

	stdin, err := cmd.StdinPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("create stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("create stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("start worker: %w", err)
	}
	logger.Info("Worker", "Worker process started (pid=%d): %s", cmd.Process.Pid, strings.Join(cfg.Command, " "))

	p := &Process{
		Client: NewClient(stdin, stdout, cfg.Timeout),
		cmd:    cmd,
		stdin:  stdin,
		cancel: cancel,
		exited: make(chan struct{}),
	}

	p.wg.Add(2)
	go p.relayStderr(stderr)
	go p.wait(ctx)

	return p, nil
}

// relayStderr maps the worker's "[LEVEL] message" lines onto our logger
func (p *Process) relayStderr(r io.Reader) {
	defer p.wg.Done()

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case containsAny(line, "[ERROR]", "[CRITICAL]", "Traceback"):
			logger.Error("Worker", "%s", line)
		case containsAny(line, "[WARNING]", "[WARN]"):
			logger.Warn("Worker", "%s", line)
		default:
			logger.Debug("Worker", "%s", line)
		}
	}
}

func (p *Process) wait(ctx context.Context) {
	defer p.wg.Done()
	defer close(p.exited)

	err := p.cmd.Wait()
	switch {
	case ctx.Err() != nil:
		logger.Debug("Worker", "Worker process exited (shutdown)")
	case err != nil:
		logger.Error("Worker", "Worker process exited unexpectedly: %v", err)
	default:
		logger.Info("Worker", "Worker process exited cleanly")
	}
}

// Close asks the worker to exit by closing stdin, killing it after grace
func (p *Process) Close(grace time.Duration) error {
	p.stdin.Close()

	select {
	case <-p.exited:
	case <-time.After(grace):
		logger.Warn("Worker", "Worker did not exit within %v, killing", grace)
		p.cancel()
	}
	p.cancel()
	p.wg.Wait()
	return nil
}

func containsAny(s string, substrs ...string) bool {
	for _, sub := range substrs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
