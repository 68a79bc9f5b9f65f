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

package badger

import "github.com/poiesic/docstream/storage"

// Repositories bundles the four repositories sharing one backend.
// Caller must close the repositories and the backend when done.
type Repositories struct {
	Documents storage.DocumentRepository
	Jobs      storage.JobRepository
	Chunks    storage.ChunkRepository
	Events    storage.EventRepository
	Backend   *Backend
}

// NewRepositories opens a backend at filePath and wires all repositories.
func NewRepositories(filePath string, inMemory bool) (*Repositories, error) {
	backend, err := OpenBackend(filePath, inMemory)
	if err != nil {
		return nil, err
	}

	jobs, err := NewJobRepository(backend)
	if err != nil {
		backend.Close()
		return nil, err
	}

	return &Repositories{
		Documents: NewDocumentRepository(backend),
		Jobs:      jobs,
		Chunks:    NewChunkRepository(backend),
		Events:    NewEventRepository(backend),
		Backend:   backend,
	}, nil
}

// NewMemoryRepositories creates in-memory repositories for testing.
func NewMemoryRepositories() (*Repositories, error) {
	return NewRepositories("", true)
}

// Close closes every repository and the backend.
func (r *Repositories) Close() error {
	r.Documents.Close()
	r.Jobs.Close()
	r.Chunks.Close()
	r.Events.Close()
	return r.Backend.Close()
}
