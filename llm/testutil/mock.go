// Package testutil provides test doubles for the llm package.
package testutil

import (
	"context"
	"sync"

	"github.com/c360studio/modernizer/llm"
)

// MockClient is a thread-safe mock completer for testing agents.
// It returns configured responses in sequence and records every
// request for assertion.
//
// Usage:
//
//	mock := &testutil.MockClient{
//	    Responses: []*llm.Response{
//	        {Content: `{"result": "success"}`, Model: "test-model"},
//	    },
//	}
type MockClient struct {
	mu sync.Mutex

	// Responses is the ordered list of responses to return.
	Responses []*llm.Response

	// Errs parallels Responses — a non-nil entry is returned instead.
	Errs []error

	// Err, when set, is returned on every call (takes precedence).
	Err error

	calls []llm.Request
	idx   int
}

// Complete returns the next configured response or error.
func (m *MockClient) Complete(_ context.Context, req llm.Request) (*llm.Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls = append(m.calls, req)
	i := m.idx
	m.idx++

	if m.Err != nil {
		return nil, m.Err
	}
	if i < len(m.Errs) && m.Errs[i] != nil {
		return nil, m.Errs[i]
	}
	if i < len(m.Responses) {
		return m.Responses[i], nil
	}
	return &llm.Response{Content: "", Model: "test-model"}, nil
}

// Calls returns a copy of the recorded requests.
func (m *MockClient) Calls() []llm.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]llm.Request(nil), m.calls...)
}

// CallCount returns the number of Complete invocations.
func (m *MockClient) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// Reset clears recorded calls and rewinds the response sequence.
func (m *MockClient) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
	m.idx = 0
}
