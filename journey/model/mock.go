package model

import (
	"context"
	"sync"
)

// Mock is a scriptable ChatModel for tests. Responses are returned in
// order; after the script is exhausted the last response repeats. Every
// request is recorded for assertion.
type Mock struct {
	// Responses is the reply script. Empty means every call returns an
	// empty ChatOut.
	Responses []string

	// Err, if set, is returned by every call instead of a response.
	Err error

	// TokensPerCall fills the usage fields of each reply.
	TokensPerCall int

	mu       sync.Mutex
	requests []Request
	calls    int
}

// Name implements ChatModel.
func (m *Mock) Name() string { return "mock" }

// Chat implements ChatModel.
func (m *Mock) Chat(ctx context.Context, req Request) (ChatOut, error) {
	if err := ctx.Err(); err != nil {
		return ChatOut{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, req)
	idx := m.calls
	m.calls++

	if m.Err != nil {
		return ChatOut{}, m.Err
	}

	var text string
	if len(m.Responses) > 0 {
		if idx >= len(m.Responses) {
			idx = len(m.Responses) - 1
		}
		text = m.Responses[idx]
	}
	return ChatOut{
		Text:         text,
		Model:        "mock",
		InputTokens:  m.TokensPerCall,
		OutputTokens: m.TokensPerCall,
	}, nil
}

// Requests returns a copy of the recorded requests.
func (m *Mock) Requests() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Request, len(m.requests))
	copy(out, m.requests)
	return out
}

// Calls returns how many times Chat was invoked.
func (m *Mock) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}
