package provider

import (
	"context"
	"sync"
)

// Compile-time check that MockProvider satisfies Provider.
var _ Provider = (*MockProvider)(nil)

// MockProvider is a scripted Provider for tests. It replays queued responses
// in order (repeating the last one when the queue runs dry) and records every
// prompt it sees.
type MockProvider struct {
	mu        sync.Mutex
	name      string
	model     string
	responses []*Response
	jsons     []map[string]any
	err       error
	prompts   []string
}

// NewMockProvider creates a MockProvider with the given backend name.
func NewMockProvider(name string) *MockProvider {
	return &MockProvider{name: name, model: name + "-mock"}
}

// QueueResponse appends a canned Generate result.
func (m *MockProvider) QueueResponse(content string, tokens int) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.responses = append(m.responses, &Response{
		Content:    content,
		Model:      m.model,
		Provider:   m.name,
		TokensUsed: tokens,
	})
	return m
}

// QueueJSON appends a canned GenerateJSON result.
func (m *MockProvider) QueueJSON(doc map[string]any) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.jsons = append(m.jsons, doc)
	return m
}

// Fail makes every call return the given error.
func (m *MockProvider) Fail(err error) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.err = err
	return m
}

// Prompts returns the prompts seen so far.
func (m *MockProvider) Prompts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	return append([]string(nil), m.prompts...)
}

// Generate returns the next queued response.
func (m *MockProvider) Generate(_ context.Context, prompt string, _ ...func(o *GenerateOptions)) (*Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.prompts = append(m.prompts, prompt)
	if m.err != nil {
		return nil, m.err
	}
	if len(m.responses) == 0 {
		return &Response{Model: m.model, Provider: m.name}, nil
	}
	resp := m.responses[0]
	if len(m.responses) > 1 {
		m.responses = m.responses[1:]
	}
	out := *resp
	return &out, nil
}

// GenerateJSON returns the next queued document.
func (m *MockProvider) GenerateJSON(_ context.Context, prompt string, _ ...func(o *GenerateOptions)) (map[string]any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.prompts = append(m.prompts, prompt)
	if m.err != nil {
		return nil, m.err
	}
	if len(m.jsons) == 0 {
		return map[string]any{}, nil
	}
	doc := m.jsons[0]
	if len(m.jsons) > 1 {
		m.jsons = m.jsons[1:]
	}
	return doc, nil
}

// Name returns the backend name.
func (m *MockProvider) Name() string { return m.name }

// Model returns the mock model id.
func (m *MockProvider) Model() string { return m.model }
