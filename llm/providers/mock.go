package providers

import (
	"net/http"
	"os"
	"strings"

	"github.com/c360studio/modernizer/llm"
)

// MockProvider talks the OpenAI-compatible format to the local
// mock-llm server (cmd/mock-llm), giving a fully offline provider
// family for tests and credential-free runs.
type MockProvider struct {
	OllamaProvider
}

func init() {
	llm.RegisterProvider(&MockProvider{})
}

// Name returns the provider identifier.
func (m *MockProvider) Name() string {
	return "mock"
}

// BuildURL constructs the mock server endpoint. MOCK_LLM_URL overrides
// the default local address.
func (m *MockProvider) BuildURL(baseURL string) string {
	if baseURL == "" {
		baseURL = os.Getenv("MOCK_LLM_URL")
	}
	if baseURL == "" {
		baseURL = "http://localhost:8089/v1"
	}
	baseURL = strings.TrimSuffix(baseURL, "/")

	if strings.HasSuffix(baseURL, "/chat/completions") {
		return baseURL
	}
	return baseURL + "/chat/completions"
}

// SetHeaders adds no headers; the mock server needs no auth.
func (m *MockProvider) SetHeaders(_ *http.Request) {}
