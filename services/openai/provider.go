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

package openai

import (
	"log/slog"

	"github.com/poiesic/docstream/services"
	"github.com/poiesic/docstream/services/llamaparse"
)

// Provider implements services.Provider using an OpenAI-compatible embedding
// service, the llamaparse parse client, and a filesystem object store.
type Provider struct {
	config   *services.Config
	embedder *Embedder
	parser   services.Parser
	store    services.ObjectStore
	logger   *slog.Logger
}

// NewProvider creates a provider with OpenAI-compatible services.
// The config is validated and normalized before use. objectDir is the root
// directory for stored raw and parsed bytes.
//
// Returns services.Provider interface (not *Provider) to enforce abstraction
// and prevent coupling to vendor-specific implementation details.
func NewProvider(config *services.Config, objectDir string) (services.Provider, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	embedder, err := newEmbedder(config)
	if err != nil {
		return nil, err
	}

	parser, err := llamaparse.NewParser(config)
	if err != nil {
		return nil, err
	}

	store, err := services.NewFSObjectStore(objectDir)
	if err != nil {
		return nil, err
	}

	return &Provider{
		config:   config,
		embedder: embedder,
		parser:   parser,
		store:    store,
		logger:   slog.Default().With("component", "openai-provider"),
	}, nil
}

// Embedder returns the text embedding service.
func (p *Provider) Embedder() services.Embedder {
	return p.embedder
}

// Parser returns the document parse service.
func (p *Provider) Parser() services.Parser {
	return p.parser
}

// ObjectStore returns the byte store.
func (p *Provider) ObjectStore() services.ObjectStore {
	return p.store
}

// Close releases resources held by the provider.
// Currently a no-op as the underlying clients don't require explicit cleanup.
func (p *Provider) Close() error {
	p.logger.Debug("closing provider")
	return nil
}
