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

// Package llamaparse is an HTTP client for a LlamaParse-style document parse
// service. Plain text passes through without a network call.
package llamaparse

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/poiesic/docstream/services"
)

// Parser implements services.Parser against a parse service exposing
// POST /parse.
type Parser struct {
	host   string
	client *http.Client
	logger *slog.Logger
}

var _ services.Parser = (*Parser)(nil)

type parseResponse struct {
	Text     string            `json:"text"`
	Metadata map[string]string `json:"metadata,omitempty"`
	Error    string            `json:"error,omitempty"`
}

// NewParser creates a parse client from the service configuration.
func NewParser(config *services.Config) (*Parser, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &Parser{
		host:   config.ParserHost,
		client: &http.Client{Timeout: config.RequestTimeout},
		logger: slog.Default().With("component", "llamaparse"),
	}, nil
}

// Parse extracts text from raw document bytes.
func (p *Parser) Parse(ctx context.Context, raw []byte, mimeType string) (*services.ParseResult, error) {
	if len(raw) == 0 {
		return nil, services.NewPermanent("parse", fmt.Errorf("%w: empty document", services.ErrMalformedInput))
	}

	// Plain text needs no parse service.
	if strings.HasPrefix(mimeType, "text/") {
		return &services.ParseResult{Text: string(raw)}, nil
	}

	p.logger.Debug("sending document to parse service", "mime_type", mimeType, "bytes", len(raw))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.host+"/parse", bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mimeType)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, services.NewRetryable("parse", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		err := fmt.Errorf("parse service returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
		if resp.StatusCode == http.StatusUnsupportedMediaType {
			return nil, services.NewPermanent("parse", fmt.Errorf("%w: %s", services.ErrUnsupportedFormat, mimeType))
		}
		if services.RetryableStatus(resp.StatusCode) {
			return nil, services.NewRetryable("parse", err)
		}
		return nil, services.NewPermanent("parse", err)
	}

	var parsed parseResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, services.NewRetryable("parse", fmt.Errorf("decoding parse response: %w", err))
	}
	if parsed.Error != "" {
		return nil, services.NewPermanent("parse", fmt.Errorf("%w: %s", services.ErrMalformedInput, parsed.Error))
	}

	return &services.ParseResult{
		Text:     parsed.Text,
		Metadata: parsed.Metadata,
	}, nil
}
