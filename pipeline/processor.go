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

package pipeline

import (
	"context"

	"github.com/poiesic/docstream/core"
)

// Processor executes one pipeline stage against a document. Implementations
// must be idempotent: a job whose lease expired mid-run will be executed
// again, so partial effects must either be invisible or safely repeatable.
//
// Returned errors are classified with services.IsRetryable to decide between
// requeue and deadletter.
type Processor interface {
	// Stage identifies which pipeline stage this processor handles.
	Stage() core.Stage

	// Process runs the stage for the job's document.
	Process(ctx context.Context, doc *core.Document, job *core.Job) error
}

// processorSet dispatches jobs to their stage's processor.
type processorSet map[core.Stage]Processor

func newProcessorSet(procs ...Processor) processorSet {
	set := make(processorSet, len(procs))
	for _, proc := range procs {
		set[proc.Stage()] = proc
	}
	return set
}

func (s processorSet) get(stage core.Stage) (Processor, bool) {
	proc, ok := s[stage]
	return proc, ok
}
