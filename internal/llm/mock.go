package llm

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

const providerMock = "mock"

// MockGenerator answers without calling any backend. It is used for local runs
// and tests. Err, when set, is returned from every call; FailIf fails the
// calls it matches.
type MockGenerator struct {
	mu      sync.Mutex
	Err     error
	FailIf  func(p Prompt) bool
	Reply   func(p Prompt) string
	prompts []Prompt
}

func NewMockGenerator() *MockGenerator {
	return &MockGenerator{}
}

func (m *MockGenerator) Generate(ctx context.Context, p Prompt) (*Generation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.prompts = append(m.prompts, p)
	err, failIf, reply := m.Err, m.FailIf, m.Reply
	m.mu.Unlock()

	if err != nil {
		return nil, err
	}
	if failIf != nil && failIf(p) {
		return nil, errors.New("mock generation failed")
	}
	text := fmt.Sprintf("mock response (%d chars of input)", len(p.User))
	if reply != nil {
		text = reply(p)
	}
	return &Generation{Text: text, Model: p.Model, Provider: providerMock}, nil
}

// Prompts returns every prompt received so far.
func (m *MockGenerator) Prompts() []Prompt {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Prompt(nil), m.prompts...)
}
