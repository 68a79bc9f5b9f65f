package mock

import (
	"context"

	"github.com/poiesic/docstream/services"
)

// MockParser is a test double for services.Parser.
// It allows custom behavior injection via function fields.
type MockParser struct {
	// ParseFunc is called by Parse if set.
	// If nil, the raw bytes pass through as extracted text.
	ParseFunc func(ctx context.Context, raw []byte, mimeType string) (*services.ParseResult, error)

	callCount int
}

// NewMockParser creates a mock parser with pass-through behavior.
func NewMockParser() *MockParser {
	return &MockParser{}
}

// Parse returns the raw bytes as text, or delegates to ParseFunc.
func (m *MockParser) Parse(ctx context.Context, raw []byte, mimeType string) (*services.ParseResult, error) {
	m.callCount++

	if m.ParseFunc != nil {
		return m.ParseFunc(ctx, raw, mimeType)
	}

	return &services.ParseResult{Text: string(raw)}, nil
}

// CallCount returns the number of times Parse was called.
func (m *MockParser) CallCount() int {
	return m.callCount
}

// Reset clears the call count and injected behavior.
func (m *MockParser) Reset() {
	m.callCount = 0
	m.ParseFunc = nil
}
