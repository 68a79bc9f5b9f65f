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

// Package services defines the interfaces to the external services the
// pipeline depends on: the document parser, the embedding service, and the
// object store holding raw and parsed bytes.
//
// The package follows the provider pattern: implementations live in
// subpackages (openai, llamaparse, mock) and are aggregated behind the
// Provider interface, so pipeline code never couples to a concrete vendor.
//
// External failures are classified through ServiceError: the Retryable flag
// drives the job ledger's retry-versus-deadletter decision. Timeouts and
// server-side errors are retryable; malformed-input rejections are not.
//
// Example:
//
//	cfg := services.NewConfig(
//	    services.WithEmbeddingHost("http://localhost:11434/v1"),
//	    services.WithEmbeddingModel("embeddinggemma"),
//	)
//	provider, err := openai.NewProvider(cfg, "objects")
package services
