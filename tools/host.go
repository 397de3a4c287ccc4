// Package tools hosts external tool servers as child processes and
// exposes a typed API for filesystem and code-host operations. When a
// named server is unconfigured or down, an in-process fallback serves
// the call instead; results carry a flag so callers can tell.
package tools

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/c360studio/modernizer/tools/codehost"
	"github.com/c360studio/modernizer/tools/file"
)

// Well-known server names in the child table.
const (
	ServerFilesystem = "filesystem"
	ServerCodeHost   = "codehost"
)

const (
	defaultCallTimeout = 30 * time.Second
	shutdownGrace      = 5 * time.Second
)

// ServerConfig describes how to launch one tool server.
type ServerConfig struct {
	Command string   `yaml:"command"`
	Args    []string `yaml:"args"`
	Env     []string `yaml:"env"`
}

// Host owns the tool server child processes and the in-process
// fallbacks. The child table is built at startup and only read after;
// per-child call serialization lives in the child itself.
type Host struct {
	logger      *slog.Logger
	callTimeout time.Duration

	mu       sync.RWMutex
	children map[string]*child

	fs       *file.Executor
	mockHost *codehost.Mock

	// codeHostToken gates real code-host dispatch; empty means every
	// code-host call goes to the mock.
	codeHostToken string
}

// HostOption configures a Host.
type HostOption func(*Host)

// WithCallTimeout sets the per-call deadline for tool invocations.
func WithCallTimeout(d time.Duration) HostOption {
	return func(h *Host) { h.callTimeout = d }
}

// WithHostLogger sets the logger.
func WithHostLogger(l *slog.Logger) HostOption {
	return func(h *Host) { h.logger = l }
}

// WithCodeHostToken sets the service-level token that enables real
// code-host dispatch when a server is configured. The token travels in
// call params to the server, never in logs. Jobs carrying their own
// token override it via ForJob.
func WithCodeHostToken(token string) HostOption {
	return func(h *Host) { h.codeHostToken = token }
}

// NewHost creates a Host and launches the configured tool servers.
// Launch failures are logged and degrade to fallbacks rather than
// failing startup.
func NewHost(servers map[string]ServerConfig, opts ...HostOption) *Host {
	h := &Host{
		logger:      slog.Default(),
		callTimeout: defaultCallTimeout,
		children:    make(map[string]*child),
		fs:          file.NewExecutor(""),
		mockHost:    codehost.NewMock(),
	}
	for _, opt := range opts {
		opt(h)
	}

	for name, cfg := range servers {
		c, err := startChild(name, cfg, h.logger)
		if err != nil {
			h.logger.Warn("tool server failed to start, using fallback", "server", name, "error", err)
			continue
		}
		h.children[name] = c
		h.logger.Info("tool server started", "server", name, "command", cfg.Command)
	}
	return h
}

// Shutdown stops and reaps every child process.
func (h *Host) Shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, c := range h.children {
		c.stop(shutdownGrace)
	}
	h.children = make(map[string]*child)
}

// lookup returns the named child when it is present and healthy.
func (h *Host) lookup(name string) (*child, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.children[name]
	if !ok {
		return nil, false
	}
	c.mu.Lock()
	healthy := c.healthy
	c.mu.Unlock()
	return c, healthy
}

// FileResult is file content plus the fallback marker.
type FileResult struct {
	Data     []byte
	Fallback bool
}

// CommitResult is a commit id plus the mock marker.
type CommitResult struct {
	CommitID string
	Mock     bool
}

// PRResult is a pull-request URL plus the mock marker.
type PRResult struct {
	URL  string
	Mock bool
}

// ReadFile reads a local file through the filesystem server, falling
// back to direct local access.
func (h *Host) ReadFile(ctx context.Context, path string) (FileResult, error) {
	if c, ok := h.lookup(ServerFilesystem); ok {
		raw, err := c.call(ctx, "read_file", map[string]any{"path": path}, h.callTimeout)
		if err == nil {
			data, derr := decodeFilePayload(raw)
			if derr == nil {
				return FileResult{Data: data}, nil
			}
			err = derr
		}
		h.logger.Warn("filesystem server call failed, using local fallback", "tool", "read_file", "error", err)
	}

	data, err := h.fs.ReadFile(path)
	if err != nil {
		return FileResult{}, err
	}
	return FileResult{Data: data, Fallback: true}, nil
}

// WriteFile writes a local file through the filesystem server, falling
// back to direct local access. Returns whether the fallback served it.
func (h *Host) WriteFile(ctx context.Context, path string, data []byte) (bool, error) {
	if c, ok := h.lookup(ServerFilesystem); ok {
		params := map[string]any{"path": path, "content_b64": base64.StdEncoding.EncodeToString(data)}
		_, err := c.call(ctx, "write_file", params, h.callTimeout)
		if err == nil {
			return false, nil
		}
		h.logger.Warn("filesystem server call failed, using local fallback", "tool", "write_file", "error", err)
	}
	return true, h.fs.WriteFile(path, data)
}

// GetFile fetches a file from the code host at a ref.
func (h *Host) GetFile(ctx context.Context, repo, path, ref string) (FileResult, error) {
	return h.getFile(ctx, h.codeHostToken, repo, path, ref)
}

func (h *Host) getFile(ctx context.Context, token, repo, path, ref string) (FileResult, error) {
	if c, ok := h.codeHostChild(token); ok {
		raw, err := c.call(ctx, "get_file", map[string]any{"token": token, "repo": repo, "path": path, "ref": ref}, h.callTimeout)
		if err == nil {
			data, derr := decodeFilePayload(raw)
			if derr == nil {
				return FileResult{Data: data}, nil
			}
			err = derr
		}
		h.logger.Warn("code host call failed, using mock", "tool", "get_file", "error", err)
	}

	data, err := h.mockHost.GetFile(repo, path, ref)
	if err != nil {
		return FileResult{}, err
	}
	return FileResult{Data: data, Fallback: true}, nil
}

// CreateBranch creates a branch from a ref. Returns whether the mock
// served the call.
func (h *Host) CreateBranch(ctx context.Context, repo, fromRef, name string) (bool, error) {
	return h.createBranch(ctx, h.codeHostToken, repo, fromRef, name)
}

func (h *Host) createBranch(ctx context.Context, token, repo, fromRef, name string) (bool, error) {
	if c, ok := h.codeHostChild(token); ok {
		params := map[string]any{"token": token, "repo": repo, "from_ref": fromRef, "name": name}
		_, err := c.call(ctx, "create_branch", params, h.callTimeout)
		if err == nil {
			return false, nil
		}
		h.logger.Warn("code host call failed, using mock", "tool", "create_branch", "error", err)
	}
	return true, h.mockHost.CreateBranch(repo, fromRef, name)
}

// Commit commits files onto a branch and returns the commit id.
func (h *Host) Commit(ctx context.Context, repo, branch string, files map[string][]byte, message string) (CommitResult, error) {
	return h.commit(ctx, h.codeHostToken, repo, branch, files, message)
}

func (h *Host) commit(ctx context.Context, token, repo, branch string, files map[string][]byte, message string) (CommitResult, error) {
	if c, ok := h.codeHostChild(token); ok {
		encoded := make(map[string]string, len(files))
		for path, data := range files {
			encoded[path] = base64.StdEncoding.EncodeToString(data)
		}
		params := map[string]any{"token": token, "repo": repo, "branch": branch, "files_b64": encoded, "message": message}
		raw, err := c.call(ctx, "commit", params, h.callTimeout)
		if err == nil {
			var out struct {
				CommitID string `json:"commit_id"`
			}
			if derr := json.Unmarshal(raw, &out); derr == nil && out.CommitID != "" {
				return CommitResult{CommitID: out.CommitID}, nil
			}
			err = fmt.Errorf("commit response missing commit_id")
		}
		h.logger.Warn("code host call failed, using mock", "tool", "commit", "error", err)
	}

	id, err := h.mockHost.Commit(repo, branch, files, message)
	if err != nil {
		return CommitResult{}, err
	}
	return CommitResult{CommitID: id, Mock: true}, nil
}

// OpenPR opens a pull request and returns its URL.
func (h *Host) OpenPR(ctx context.Context, repo, head, base, title, body string) (PRResult, error) {
	return h.openPR(ctx, h.codeHostToken, repo, head, base, title, body)
}

func (h *Host) openPR(ctx context.Context, token, repo, head, base, title, body string) (PRResult, error) {
	if c, ok := h.codeHostChild(token); ok {
		params := map[string]any{"token": token, "repo": repo, "head": head, "base": base, "title": title, "body": body}
		raw, err := c.call(ctx, "open_pr", params, h.callTimeout)
		if err == nil {
			var out struct {
				URL string `json:"url"`
			}
			if derr := json.Unmarshal(raw, &out); derr == nil && out.URL != "" {
				return PRResult{URL: out.URL}, nil
			}
			err = fmt.Errorf("open_pr response missing url")
		}
		h.logger.Warn("code host call failed, using mock", "tool", "open_pr", "error", err)
	}

	url, err := h.mockHost.OpenPR(repo, head, base, title, body)
	if err != nil {
		return PRResult{}, err
	}
	return PRResult{URL: url, Mock: true}, nil
}

// MockHost exposes the recorded mock operations, mainly for tests and
// the health endpoint.
func (h *Host) MockHost() *codehost.Mock {
	return h.mockHost
}

// HasCodeHostToken reports whether a real code-host token is
// configured.
func (h *Host) HasCodeHostToken() bool {
	return h.codeHostToken != ""
}

// codeHostChild returns the code-host server only when the call
// carries a token; without one the call belongs to the mock.
func (h *Host) codeHostChild(token string) (*child, bool) {
	if token == "" {
		return nil, false
	}
	return h.lookup(ServerCodeHost)
}

// JobView is a per-job view of the Host that carries the job's
// code-host token. Filesystem calls pass straight through; code-host
// calls dispatch with the job token, so a request-supplied token
// selects the real code host even when the service has none.
type JobView struct {
	h     *Host
	token string
}

// ForJob returns a view bound to the given token. An empty token falls
// back to the service-level one.
func (h *Host) ForJob(token string) *JobView {
	if token == "" {
		token = h.codeHostToken
	}
	return &JobView{h: h, token: token}
}

// HasCodeHostToken reports whether this job's calls carry a token.
func (v *JobView) HasCodeHostToken() bool { return v.token != "" }

func (v *JobView) ReadFile(ctx context.Context, path string) (FileResult, error) {
	return v.h.ReadFile(ctx, path)
}

func (v *JobView) WriteFile(ctx context.Context, path string, data []byte) (bool, error) {
	return v.h.WriteFile(ctx, path, data)
}

func (v *JobView) GetFile(ctx context.Context, repo, path, ref string) (FileResult, error) {
	return v.h.getFile(ctx, v.token, repo, path, ref)
}

func (v *JobView) CreateBranch(ctx context.Context, repo, fromRef, name string) (bool, error) {
	return v.h.createBranch(ctx, v.token, repo, fromRef, name)
}

func (v *JobView) Commit(ctx context.Context, repo, branch string, files map[string][]byte, message string) (CommitResult, error) {
	return v.h.commit(ctx, v.token, repo, branch, files, message)
}

func (v *JobView) OpenPR(ctx context.Context, repo, head, base, title, body string) (PRResult, error) {
	return v.h.openPR(ctx, v.token, repo, head, base, title, body)
}

// decodeFilePayload accepts {"content_b64": "..."} or a bare base64
// string as the file-content result shape.
func decodeFilePayload(raw json.RawMessage) ([]byte, error) {
	var wrapped struct {
		ContentB64 string `json:"content_b64"`
	}
	if err := json.Unmarshal(raw, &wrapped); err == nil && wrapped.ContentB64 != "" {
		return base64.StdEncoding.DecodeString(wrapped.ContentB64)
	}
	var bare string
	if err := json.Unmarshal(raw, &bare); err == nil {
		return base64.StdEncoding.DecodeString(bare)
	}
	return nil, fmt.Errorf("unrecognized file payload")
}
