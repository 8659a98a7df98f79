package ai

import (
	"context"
	"fmt"
	"sync"
)

// MockBackend replays scripted responses, for tests and dry runs without API calls.
type MockBackend struct {
	name      string
	mu        sync.Mutex
	responses []MockResponse
	calls     []Request
}

// MockResponse is one scripted completion or failure.
type MockResponse struct {
	Content string
	Err     error
}

// NewMockBackend creates a mock that returns responses in order and repeats
// the last one once exhausted.
func NewMockBackend(name string, responses ...MockResponse) *MockBackend {
	return &MockBackend{name: name, responses: responses}
}

// Name returns the mock's name.
func (m *MockBackend) Name() string {
	return m.name
}

// Complete returns the next scripted response.
func (m *MockBackend) Complete(ctx context.Context, req Request) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls = append(m.calls, req)
	if len(m.responses) == 0 {
		return "", fmt.Errorf("mock %s: no scripted response", m.name)
	}
	idx := len(m.calls) - 1
	if idx >= len(m.responses) {
		idx = len(m.responses) - 1
	}
	r := m.responses[idx]
	return r.Content, r.Err
}

// Calls returns the requests received so far.
func (m *MockBackend) Calls() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Request(nil), m.calls...)
}
