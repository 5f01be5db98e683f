package llm

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
)

// MockResponse is one scripted reply.
type MockResponse struct {
	Content json.RawMessage
	Usage   Usage
	Err     error
}

// MockProvider replays scripted replies in order and records every
// request. Responder, when set, answers instead of the script, so callers
// running concurrently get replies keyed on their own request. With
// nothing scripted every call fails as unavailable, which makes the
// "mock" provider setting exercise the grader fallback paths.
type MockProvider struct {
	Responder func(ctx context.Context, req Request) MockResponse
	Calls     []Request

	mu     sync.Mutex
	script []MockResponse
}

// NewMockProvider returns a provider that replays script.
func NewMockProvider(script ...MockResponse) *MockProvider {
	return &MockProvider{script: script}
}

func (m *MockProvider) Generate(ctx context.Context, req Request) (*Response, error) {
	reply, ok := m.next(req)
	if !ok {
		if m.Responder == nil {
			return nil, &ErrProviderUnavailable{Err: errors.New("mock: script exhausted")}
		}
		reply = m.Responder(ctx, req)
	}
	if reply.Err != nil {
		return nil, reply.Err
	}
	return &Response{Content: reply.Content, Usage: reply.Usage, Model: "mock", StopReason: StopEnd}, nil
}

// next records req and pops the next scripted reply unless a Responder
// is installed.
func (m *MockProvider) next(req Request) (MockResponse, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, req)
	if m.Responder != nil || len(m.script) == 0 {
		return MockResponse{}, false
	}
	reply := m.script[0]
	m.script = m.script[1:]
	return reply, true
}

func (m *MockProvider) ModelID() string { return "mock" }

// AddResponse appends to the script.
func (m *MockProvider) AddResponse(r MockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.script = append(m.script, r)
}

// CallCount reports how many requests were made.
func (m *MockProvider) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}
