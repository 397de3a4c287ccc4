// Package registry looks up latest published versions of packages on
// the public npm and PyPI registries. Lookups are best-effort: a
// package that cannot be resolved reports the Unknown sentinel rather
// than failing the batch.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/c360studio/modernizer/migration"
)

// Unknown is reported as the latest version when a lookup fails.
const Unknown = "unknown"

const (
	defaultNPMBase  = "https://registry.npmjs.org"
	defaultPyPIBase = "https://pypi.org"

	// maxConcurrent bounds parallel registry requests per batch.
	maxConcurrent = 8

	maxBodySize = 4 * 1024 * 1024
)

// Probe resolves latest versions against the public registries.
type Probe struct {
	httpClient *http.Client
	logger     *slog.Logger
	npmBase    string
	pypiBase   string
}

// Option configures a Probe.
type Option func(*Probe)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Probe) { p.httpClient = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Probe) { p.logger = l }
}

// WithNPMBase overrides the npm registry base URL.
func WithNPMBase(base string) Option {
	return func(p *Probe) { p.npmBase = base }
}

// WithPyPIBase overrides the PyPI base URL.
func WithPyPIBase(base string) Option {
	return func(p *Probe) { p.pypiBase = base }
}

// NewProbe creates a Probe with sane defaults.
func NewProbe(opts ...Option) *Probe {
	p := &Probe{
		httpClient: &http.Client{Timeout: 15 * time.Second},
		logger:     slog.Default(),
		npmBase:    defaultNPMBase,
		pypiBase:   defaultPyPIBase,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// LatestVersions resolves the latest version for each named package,
// fanning out with bounded concurrency. Every name gets an entry in
// the result; failed lookups map to Unknown.
func (p *Probe) LatestVersions(ctx context.Context, kind migration.ProjectKind, names []string) map[string]string {
	results := make(map[string]string, len(names))
	var mu sync.Mutex

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrent)

	for _, name := range names {
		g.Go(func() error {
			version, err := p.Latest(ctx, kind, name)
			if err != nil {
				p.logger.Debug("registry lookup failed", "package", name, "error", err)
				version = Unknown
			}
			mu.Lock()
			results[name] = version
			mu.Unlock()
			return nil
		})
	}

	// Workers never return errors; Wait only orders the joins.
	_ = g.Wait()
	return results
}

// Latest resolves the latest version of a single package.
func (p *Probe) Latest(ctx context.Context, kind migration.ProjectKind, name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("empty package name")
	}
	if kind == migration.KindPython {
		return p.latestPyPI(ctx, name)
	}
	return p.latestNPM(ctx, name)
}

func (p *Probe) latestNPM(ctx context.Context, name string) (string, error) {
	// Scoped names keep the slash but escape everything else.
	endpoint := fmt.Sprintf("%s/%s", p.npmBase, url.PathEscape(name))

	body, err := p.get(ctx, endpoint)
	if err != nil {
		return "", err
	}

	var doc struct {
		DistTags map[string]string `json:"dist-tags"`
	}
	if err := json.Unmarshal(body, &doc); err != nil {
		return "", fmt.Errorf("decode npm response for %s: %w", name, err)
	}
	latest := doc.DistTags["latest"]
	if latest == "" {
		return "", fmt.Errorf("npm: no latest tag for %s", name)
	}
	return latest, nil
}

func (p *Probe) latestPyPI(ctx context.Context, name string) (string, error) {
	endpoint := fmt.Sprintf("%s/pypi/%s/json", p.pypiBase, url.PathEscape(name))

	body, err := p.get(ctx, endpoint)
	if err != nil {
		return "", err
	}

	var doc struct {
		Info struct {
			Version string `json:"version"`
		} `json:"info"`
	}
	if err := json.Unmarshal(body, &doc); err != nil {
		return "", fmt.Errorf("decode pypi response for %s: %w", name, err)
	}
	if doc.Info.Version == "" {
		return "", fmt.Errorf("pypi: no version for %s", name)
	}
	return doc.Info.Version, nil
}

func (p *Probe) get(ctx context.Context, endpoint string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("registry request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("registry returned %d for %s", resp.StatusCode, endpoint)
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
}
