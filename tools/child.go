package tools

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/c360studio/modernizer/migration"
)

// maxLineSize bounds a single protocol line from a tool server.
const maxLineSize = 16 * 1024 * 1024

// child is one tool server process. All calls on a child are
// serialized under mu; the process is owned exclusively by the Host.
type child struct {
	name   string
	logger *slog.Logger

	mu      sync.Mutex
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	stdout  *bufio.Scanner
	nextID  int64
	healthy bool

	reapOnce sync.Once
	waited   chan struct{}
}

func startChild(name string, cfg ServerConfig, logger *slog.Logger) (*child, error) {
	cmd := exec.Command(cfg.Command, cfg.Args...)
	cmd.Env = append(os.Environ(), cfg.Env...)
	cmd.Stderr = os.Stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", name, err)
	}

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)

	return &child{
		name:    name,
		logger:  logger,
		cmd:     cmd,
		stdin:   stdin,
		stdout:  scanner,
		healthy: true,
		waited:  make(chan struct{}),
	}, nil
}

// reap starts the single Wait goroutine that collects the process
// exit status; c.waited closes once the process is gone.
func (c *child) reap() {
	c.reapOnce.Do(func() {
		go func() {
			_ = c.cmd.Wait()
			close(c.waited)
		}()
	})
}

// call sends one request and waits for the matching response line,
// bounded by the timeout. A timed-out or context-cancelled call kills
// the process: the pending response would otherwise desynchronize the
// line protocol for the next caller.
func (c *child) call(ctx context.Context, tool string, params map[string]any, timeout time.Duration) (json.RawMessage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.healthy {
		return nil, migration.Errorf(migration.KindToolUnavailable, "tool server %s is down", c.name)
	}

	c.nextID++
	req := request{ID: c.nextID, Tool: tool, Params: params}
	line, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	if _, err := c.stdin.Write(append(line, '\n')); err != nil {
		c.markDownLocked()
		return nil, migration.Errorf(migration.KindToolUnavailable, "write to %s: %v", c.name, err)
	}

	type readResult struct {
		resp response
		err  error
	}
	done := make(chan readResult, 1)
	go func() {
		var r readResult
		for {
			if !c.stdout.Scan() {
				r.err = fmt.Errorf("tool server %s closed stdout", c.name)
				if scanErr := c.stdout.Err(); scanErr != nil {
					r.err = scanErr
				}
				break
			}
			if err := json.Unmarshal(c.stdout.Bytes(), &r.resp); err != nil {
				r.err = fmt.Errorf("decode response from %s: %w", c.name, err)
				break
			}
			// Skip stale responses from a prior request.
			if r.resp.ID == req.ID {
				break
			}
		}
		done <- r
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case r := <-done:
		if r.err != nil {
			c.markDownLocked()
			return nil, migration.Errorf(migration.KindToolUnavailable, "%v", r.err)
		}
		if r.resp.Error != "" {
			return nil, fmt.Errorf("tool %s/%s: %s", c.name, tool, r.resp.Error)
		}
		return r.resp.Result, nil
	case <-timer.C:
		c.markDownLocked()
		return nil, migration.Errorf(migration.KindToolTimeout, "tool %s/%s timed out after %s", c.name, tool, timeout)
	case <-ctx.Done():
		c.markDownLocked()
		return nil, migration.NewError(migration.KindCancelled, ctx.Err())
	}
}

// markDownLocked kills the process, reaps it, and marks the child
// unusable. Caller holds mu.
func (c *child) markDownLocked() {
	c.healthy = false
	if c.cmd.Process != nil {
		_ = c.cmd.Process.Kill()
		c.reap()
	}
}

// stop terminates the child, escalating from SIGTERM to SIGKILL, and
// reaps the process.
func (c *child) stop(grace time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cmd.Process == nil {
		return
	}
	_ = c.stdin.Close()
	_ = c.cmd.Process.Signal(syscall.SIGTERM)
	c.reap()

	select {
	case <-c.waited:
	case <-time.After(grace):
		_ = c.cmd.Process.Kill()
		<-c.waited
	}
	c.healthy = false
	c.logger.Debug("tool server stopped", "server", c.name)
}
