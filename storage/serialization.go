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


package storage

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	com "github.com/mus-format/common-go"
	"github.com/mus-format/mus-go/ord"
	"github.com/mus-format/mus-go/varint"
	"github.com/poiesic/docstream/core"
)

// MarshalID serializes an ID to bytes.
func MarshalID(id core.ID) []byte {
	buf := make([]byte, core.IDMUS.Size(id))
	core.IDMUS.Marshal(id, buf)
	return buf
}

// UnmarshalID deserializes an ID from bytes.
func UnmarshalID(data []byte) (core.ID, error) {
	id, _, err := core.IDMUS.Unmarshal(data)
	return id, err
}

// MarshalDocument serializes a Document to bytes.
func MarshalDocument(doc *core.Document) []byte {
	buf := make([]byte, core.DocumentMUS.Size(*doc))
	core.DocumentMUS.Marshal(*doc, buf)
	return buf
}

// UnmarshalDocument deserializes a Document from bytes.
func UnmarshalDocument(data []byte) (*core.Document, error) {
	doc, _, err := core.DocumentMUS.Unmarshal(data)
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

// MarshalChunk serializes a Chunk to bytes.
func MarshalChunk(chunk *core.Chunk) []byte {
	buf := make([]byte, core.ChunkMUS.Size(*chunk))
	core.ChunkMUS.Marshal(*chunk, buf)
	return buf
}

// UnmarshalChunk deserializes a Chunk from bytes.
func UnmarshalChunk(data []byte) (*core.Chunk, error) {
	chunk, _, err := core.ChunkMUS.Unmarshal(data)
	if err != nil {
		return nil, err
	}
	return &chunk, nil
}

// MarshalJob serializes a Job to bytes.
func MarshalJob(job *core.Job) []byte {
	buf := make([]byte, JobMUS.Size(*job))
	JobMUS.Marshal(*job, buf)
	return buf
}

// UnmarshalJob deserializes a Job from bytes.
func UnmarshalJob(data []byte) (*core.Job, error) {
	job, _, err := JobMUS.Unmarshal(data)
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// MarshalEvent serializes an Event to bytes.
func MarshalEvent(event *core.Event) []byte {
	buf := make([]byte, EventMUS.Size(*event))
	EventMUS.Marshal(*event, buf)
	return buf
}

// UnmarshalEvent deserializes an Event from bytes.
func UnmarshalEvent(data []byte) (*core.Event, error) {
	event, _, err := EventMUS.Unmarshal(data)
	if err != nil {
		return nil, err
	}
	return &event, nil
}

// Job and Event carry uuid.UUID fields that musgen-go cannot derive, so their
// serializers are written by hand against the same mus-go primitives the
// generated code uses.
var (
	JobMUS   = jobMUS{}
	EventMUS = eventMUS{}
)

type uuidMUS struct{}

func (s uuidMUS) Marshal(v uuid.UUID, bs []byte) (n int) {
	return ord.String.Marshal(string(v[:]), bs)
}

func (s uuidMUS) Unmarshal(bs []byte) (v uuid.UUID, n int, err error) {
	raw, n, err := ord.String.Unmarshal(bs)
	if err != nil {
		return
	}
	if len(raw) != 16 {
		err = fmt.Errorf("%w: uuid length %d", ErrSerializationFailed, len(raw))
		return
	}
	copy(v[:], raw)
	return
}

func (s uuidMUS) Size(v uuid.UUID) (size int) {
	return ord.String.Size(string(v[:]))
}

// Optional timestamps (lease fields) are encoded with a presence flag so the
// zero time round-trips as a zero time.
type optTimeMUS struct{}

func (s optTimeMUS) Marshal(v time.Time, bs []byte) (n int) {
	n = ord.Bool.Marshal(!v.IsZero(), bs)
	if !v.IsZero() {
		n += varint.Int64.Marshal(v.UnixMicro(), bs[n:])
	}
	return
}

func (s optTimeMUS) Unmarshal(bs []byte) (v time.Time, n int, err error) {
	present, n, err := ord.Bool.Unmarshal(bs)
	if err != nil || !present {
		return
	}
	var usec int64
	var n1 int
	usec, n1, err = varint.Int64.Unmarshal(bs[n:])
	n += n1
	if err != nil {
		return
	}
	v = time.UnixMicro(usec).UTC()
	return
}

func (s optTimeMUS) Size(v time.Time) (size int) {
	size = ord.Bool.Size(!v.IsZero())
	if !v.IsZero() {
		size += varint.Int64.Size(v.UnixMicro())
	}
	return
}

type jobMUS struct{}

func (s jobMUS) Marshal(v core.Job, bs []byte) (n int) {
	n = uuidMUS{}.Marshal(v.Id, bs)
	n += core.IDMUS.Marshal(v.DocumentId, bs[n:])
	n += ord.String.Marshal(v.OwnerId, bs[n:])
	n += varint.Int.Marshal(int(v.Stage), bs[n:])
	n += varint.Int.Marshal(int(v.State), bs[n:])
	n += varint.Uint64.Marshal(v.Seq, bs[n:])
	n += varint.Int.Marshal(v.RetryCount, bs[n:])
	n += varint.Int.Marshal(v.MaxRetries, bs[n:])
	n += ord.String.Marshal(v.IdempotencyKey, bs[n:])
	n += ord.String.Marshal(v.ClaimedBy, bs[n:])
	n += optTimeMUS{}.Marshal(v.ClaimedAt, bs[n:])
	n += optTimeMUS{}.Marshal(v.LeaseUntil, bs[n:])
	n += optTimeMUS{}.Marshal(v.NotBefore, bs[n:])
	n += ord.String.Marshal(v.LastError, bs[n:])
	n += optTimeMUS{}.Marshal(v.CreatedAt, bs[n:])
	n += optTimeMUS{}.Marshal(v.UpdatedAt, bs[n:])
	return
}

func (s jobMUS) Unmarshal(bs []byte) (v core.Job, n int, err error) {
	var n1 int
	v.Id, n, err = uuidMUS{}.Unmarshal(bs)
	if err != nil {
		return
	}
	v.DocumentId, n1, err = core.IDMUS.Unmarshal(bs[n:])
	n += n1
	if err != nil {
		return
	}
	v.OwnerId, n1, err = ord.String.Unmarshal(bs[n:])
	n += n1
	if err != nil {
		return
	}
	var stage int
	stage, n1, err = varint.Int.Unmarshal(bs[n:])
	n += n1
	if err != nil {
		return
	}
	v.Stage = core.Stage(stage)
	var state int
	state, n1, err = varint.Int.Unmarshal(bs[n:])
	n += n1
	if err != nil {
		return
	}
	v.State = core.State(state)
	v.Seq, n1, err = varint.Uint64.Unmarshal(bs[n:])
	n += n1
	if err != nil {
		return
	}
	v.RetryCount, n1, err = varint.Int.Unmarshal(bs[n:])
	n += n1
	if err != nil {
		return
	}
	v.MaxRetries, n1, err = varint.Int.Unmarshal(bs[n:])
	n += n1
	if err != nil {
		return
	}
	v.IdempotencyKey, n1, err = ord.String.Unmarshal(bs[n:])
	n += n1
	if err != nil {
		return
	}
	v.ClaimedBy, n1, err = ord.String.Unmarshal(bs[n:])
	n += n1
	if err != nil {
		return
	}
	v.ClaimedAt, n1, err = optTimeMUS{}.Unmarshal(bs[n:])
	n += n1
	if err != nil {
		return
	}
	v.LeaseUntil, n1, err = optTimeMUS{}.Unmarshal(bs[n:])
	n += n1
	if err != nil {
		return
	}
	v.NotBefore, n1, err = optTimeMUS{}.Unmarshal(bs[n:])
	n += n1
	if err != nil {
		return
	}
	v.LastError, n1, err = ord.String.Unmarshal(bs[n:])
	n += n1
	if err != nil {
		return
	}
	v.CreatedAt, n1, err = optTimeMUS{}.Unmarshal(bs[n:])
	n += n1
	if err != nil {
		return
	}
	v.UpdatedAt, n1, err = optTimeMUS{}.Unmarshal(bs[n:])
	n += n1
	return
}

func (s jobMUS) Size(v core.Job) (size int) {
	size = uuidMUS{}.Size(v.Id)
	size += core.IDMUS.Size(v.DocumentId)
	size += ord.String.Size(v.OwnerId)
	size += varint.Int.Size(int(v.Stage))
	size += varint.Int.Size(int(v.State))
	size += varint.Uint64.Size(v.Seq)
	size += varint.Int.Size(v.RetryCount)
	size += varint.Int.Size(v.MaxRetries)
	size += ord.String.Size(v.IdempotencyKey)
	size += ord.String.Size(v.ClaimedBy)
	size += optTimeMUS{}.Size(v.ClaimedAt)
	size += optTimeMUS{}.Size(v.LeaseUntil)
	size += optTimeMUS{}.Size(v.NotBefore)
	size += ord.String.Size(v.LastError)
	size += optTimeMUS{}.Size(v.CreatedAt)
	size += optTimeMUS{}.Size(v.UpdatedAt)
	return
}

type eventMUS struct{}

func (s eventMUS) Marshal(v core.Event, bs []byte) (n int) {
	n = uuidMUS{}.Marshal(v.Id, bs)
	n += uuidMUS{}.Marshal(v.JobId, bs[n:])
	n += core.IDMUS.Marshal(v.DocumentId, bs[n:])
	n += varint.Int64.Marshal(v.Timestamp.UnixMicro(), bs[n:])
	n += varint.Int.Marshal(int(v.Type), bs[n:])
	n += varint.Int.Marshal(len(v.Payload), bs[n:])
	for k, val := range v.Payload {
		n += ord.String.Marshal(k, bs[n:])
		n += ord.String.Marshal(val, bs[n:])
	}
	return
}

func (s eventMUS) Unmarshal(bs []byte) (v core.Event, n int, err error) {
	var n1 int
	v.Id, n, err = uuidMUS{}.Unmarshal(bs)
	if err != nil {
		return
	}
	v.JobId, n1, err = uuidMUS{}.Unmarshal(bs[n:])
	n += n1
	if err != nil {
		return
	}
	v.DocumentId, n1, err = core.IDMUS.Unmarshal(bs[n:])
	n += n1
	if err != nil {
		return
	}
	var usec int64
	usec, n1, err = varint.Int64.Unmarshal(bs[n:])
	n += n1
	if err != nil {
		return
	}
	v.Timestamp = time.UnixMicro(usec).UTC()
	var typ int
	typ, n1, err = varint.Int.Unmarshal(bs[n:])
	n += n1
	if err != nil {
		return
	}
	v.Type = core.EventType(typ)
	var length int
	length, n1, err = varint.Int.Unmarshal(bs[n:])
	n += n1
	if err != nil {
		return
	}
	if length < 0 {
		err = com.ErrNegativeLength
		return
	}
	if length > 0 {
		v.Payload = make(map[string]string, length)
		for i := 0; i < length; i++ {
			var k, val string
			k, n1, err = ord.String.Unmarshal(bs[n:])
			n += n1
			if err != nil {
				return
			}
			val, n1, err = ord.String.Unmarshal(bs[n:])
			n += n1
			if err != nil {
				return
			}
			v.Payload[k] = val
		}
	}
	return
}

func (s eventMUS) Size(v core.Event) (size int) {
	size = uuidMUS{}.Size(v.Id)
	size += uuidMUS{}.Size(v.JobId)
	size += core.IDMUS.Size(v.DocumentId)
	size += varint.Int64.Size(v.Timestamp.UnixMicro())
	size += varint.Int.Size(int(v.Type))
	size += varint.Int.Size(len(v.Payload))
	for k, val := range v.Payload {
		size += ord.String.Size(k)
		size += ord.String.Size(val)
	}
	return
}
