// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package mock

import "github.com/poiesic/docstream/services"

// MockProvider is a test double for services.Provider.
// It aggregates mock embedder, parser, and object store instances.
type MockProvider struct {
	embedder *MockEmbedder
	parser   *MockParser
	store    *MockObjectStore
}

// NewMockProvider creates a new mock provider with default mock services.
//
// Returns services.Provider interface for consistency with production
// constructors. Use GetMockEmbedder()/GetMockParser()/GetMockObjectStore()
// to access concrete types for test assertions.
func NewMockProvider() services.Provider {
	return &MockProvider{
		embedder: NewMockEmbedder(),
		parser:   NewMockParser(),
		store:    NewMockObjectStore(),
	}
}

// Embedder returns the mock embedder.
func (p *MockProvider) Embedder() services.Embedder {
	return p.embedder
}

// Parser returns the mock parser.
func (p *MockProvider) Parser() services.Parser {
	return p.parser
}

// ObjectStore returns the mock object store.
func (p *MockProvider) ObjectStore() services.ObjectStore {
	return p.store
}

// Close is a no-op for mock provider.
func (p *MockProvider) Close() error {
	return nil
}

// GetMockEmbedder returns the underlying mock embedder for test assertions.
func (p *MockProvider) GetMockEmbedder() *MockEmbedder {
	return p.embedder
}

// GetMockParser returns the underlying mock parser for test assertions.
func (p *MockProvider) GetMockParser() *MockParser {
	return p.parser
}

// GetMockObjectStore returns the underlying mock object store for test
// assertions.
func (p *MockProvider) GetMockObjectStore() *MockObjectStore {
	return p.store
}
