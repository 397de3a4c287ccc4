// Package llm provides the provider-agnostic model gateway: a uniform
// completion interface over pluggable providers with per-call token
// and cost accounting. The gateway itself never retries a provider —
// failed calls surface as typed errors and retry policy belongs to the
// workflow engine — but it does walk the capability's fallback chain,
// skipping endpoints whose circuit is open.
package llm

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/c360studio/modernizer/model"
)

// maxResponseSize limits the response body to prevent memory
// exhaustion.
const maxResponseSize = 10 * 1024 * 1024 // 10MB

// Client is the provider-agnostic model gateway.
type Client struct {
	registry   *model.Registry
	httpClient *http.Client
	logger     *slog.Logger
	accounting *Accounting
}

// Message represents a chat message.
type Message struct {
	Role    string `json:"role"`    // "system", "user", or "assistant"
	Content string `json:"content"` // Message content
}

// Request defines a completion request.
type Request struct {
	// Capability specifies the semantic capability ("reasoning",
	// "fast", "mock"). The registry resolves it to endpoints.
	Capability string

	// CallerTag attributes cost to a caller (agent name).
	CallerTag string

	// Messages is the chat history to send to the model.
	Messages []Message

	// Temperature controls randomness. nil uses the endpoint default.
	Temperature *float64

	// MaxTokens limits response length. 0 uses the endpoint default.
	MaxTokens int
}

// TokenUsage represents token consumption for one call.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response contains the completion result.
type Response struct {
	// Content is the generated text.
	Content string

	// Model is the actual model that was used.
	Model string

	// Provider is the provider that served the call.
	Provider string

	// Usage contains token consumption metrics.
	Usage TokenUsage

	// CostUSD is the dollar cost computed from the pricing table.
	CostUSD float64

	// FinishReason indicates why generation stopped.
	FinishReason string
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(client *Client) {
		client.httpClient = c
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(client *Client) {
		client.logger = logger
	}
}

// WithAccounting sets the cost accumulator. When set, every successful
// call is recorded under its caller tag.
func WithAccounting(a *Accounting) ClientOption {
	return func(client *Client) {
		client.accounting = a
	}
}

// NewClient creates a gateway client over the given model registry.
func NewClient(registry *model.Registry, opts ...ClientOption) *Client {
	c := &Client{
		registry: registry,
		httpClient: &http.Client{
			Timeout: 180 * time.Second, // Allow time for model responses
		},
		logger: slog.Default(),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Complete sends a completion request. Each endpoint in the fallback
// chain gets exactly one attempt; a fatal error stops the iteration.
func (c *Client) Complete(ctx context.Context, req Request) (*Response, error) {
	if req.Capability == "" {
		return nil, fmt.Errorf("capability is required")
	}
	if len(req.Messages) == 0 {
		return nil, fmt.Errorf("at least one message is required")
	}

	capVal := model.ParseCapability(req.Capability)
	if capVal == "" {
		capVal = model.CapabilityFast
	}
	chain := c.registry.GetAvailableFallbackChain(capVal)
	if len(chain) == 0 {
		return nil, fmt.Errorf("no models configured for capability %s", req.Capability)
	}

	var lastErr error
	for _, name := range chain {
		endpoint := c.registry.GetEndpoint(name)
		if endpoint == nil {
			c.logger.Debug("no endpoint for model, skipping", "model", name)
			continue
		}
		if !c.registry.IsEndpointAvailable(name) {
			c.logger.Debug("endpoint circuit open, skipping", "model", name)
			continue
		}

		resp, err := c.doRequest(ctx, endpoint, req)
		if err == nil {
			c.registry.MarkEndpointSuccess(name)
			resp.Provider = endpoint.Provider
			resp.CostUSD = CostUSD(resp.Model, resp.Usage.PromptTokens, resp.Usage.CompletionTokens)
			if c.accounting != nil {
				tag := req.CallerTag
				if tag == "" {
					tag = "untagged"
				}
				c.accounting.Record(tag, resp.Usage.PromptTokens, resp.Usage.CompletionTokens, resp.CostUSD)
			}
			return resp, nil
		}

		lastErr = err
		c.registry.MarkEndpointFailure(name)
		c.logger.Warn("endpoint failed",
			"model", name,
			"provider", endpoint.Provider,
			"error", err)

		if IsFatal(err) {
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}

	return nil, NewTransientError(fmt.Errorf("all endpoints failed for capability %s: %w", req.Capability, lastErr))
}

// doRequest executes a single HTTP request to a model endpoint.
func (c *Client) doRequest(ctx context.Context, ep *model.EndpointConfig, req Request) (*Response, error) {
	provider := GetProvider(ep.Provider)
	if provider == nil {
		return nil, NewFatalError(fmt.Errorf("unknown provider: %s", ep.Provider))
	}

	url := provider.BuildURL(ep.URL)

	body, err := provider.BuildRequestBody(ep.Model, req.Messages, req.Temperature, req.MaxTokens)
	if err != nil {
		return nil, NewFatalError(fmt.Errorf("build request body: %w", err))
	}

	c.logger.Debug("sending model request",
		"provider", ep.Provider,
		"model", ep.Model,
		"url", url,
		"messages", len(req.Messages))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, NewFatalError(fmt.Errorf("create HTTP request: %w", err))
	}

	httpReq.Header.Set("Content-Type", "application/json")
	provider.SetHeaders(httpReq)

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		// Network errors are transient
		return nil, NewTransientError(fmt.Errorf("HTTP request failed: %w", err))
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseSize))
	if err != nil {
		return nil, NewTransientError(fmt.Errorf("read response body: %w", err))
	}

	if httpResp.StatusCode != http.StatusOK {
		return nil, classifyHTTPError(httpResp.StatusCode, respBody)
	}

	return provider.ParseResponse(respBody, ep.Model)
}

// classifyHTTPError determines if an HTTP error is transient or fatal.
func classifyHTTPError(statusCode int, body []byte) error {
	bodyStr := string(body)
	if len(bodyStr) > 200 {
		bodyStr = bodyStr[:200] + "..."
	}

	err := fmt.Errorf("model API error (status %d): %s", statusCode, bodyStr)

	switch {
	case statusCode == http.StatusTooManyRequests:
		return NewTransientError(err)
	case statusCode >= 500:
		return NewTransientError(err)
	case statusCode == http.StatusUnauthorized,
		statusCode == http.StatusForbidden:
		return NewFatalError(err)
	case statusCode == http.StatusBadRequest:
		return NewFatalError(err)
	default:
		return NewFatalError(err)
	}
}
