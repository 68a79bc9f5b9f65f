package badger

import (
	"encoding/binary"
	"time"

	"github.com/google/uuid"
	"github.com/poiesic/docstream/core"
)

// Key prefixes for different data types. Record keys embed IDs in BigEndian
// so lexicographic iteration matches numeric order.
const (
	docRecordPrefix   = "docrec"
	jobRecordPrefix   = "jobrec"
	jobQueuePrefix    = "jobque"
	jobActivePrefix   = "jobact"
	jobIdemPrefix     = "jobidem"
	jobDocPrefix      = "jobdoc"
	jobSeqName        = "jobseq"
	chunkRecordPrefix = "chkrec"
	chunkDocPrefix    = "chkdoc"
	eventRecordPrefix = "evtrec"
	eventDocPrefix    = "evtdoc"
	eventJobPrefix    = "evtjob"
)

func appendUint64(buf []byte, v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return append(buf, b[:]...)
}

// makeDocumentKey generates a key for a document by ID.
// Format: prefix:id(8B BE)
func makeDocumentKey(id core.ID) []byte {
	buf := []byte(docRecordPrefix + ":")
	return appendUint64(buf, uint64(id))
}

// makeJobKey generates a key for a job by its random ID.
// Format: prefix:uuid(16B)
func makeJobKey(id uuid.UUID) []byte {
	buf := []byte(jobRecordPrefix + ":")
	return append(buf, id[:]...)
}

// makeJobQueueKey generates a key for the FIFO queue index.
// Format: prefix:seq(8B BE). Lexicographic order is enqueue order.
func makeJobQueueKey(seq uint64) []byte {
	buf := []byte(jobQueuePrefix + ":")
	return appendUint64(buf, seq)
}

// makeJobActiveKey generates the key holding a document's single active job.
// Format: prefix:docID(8B BE)
func makeJobActiveKey(docID core.ID) []byte {
	buf := []byte(jobActivePrefix + ":")
	return appendUint64(buf, uint64(docID))
}

// makeJobIdemKey generates a key for the idempotency-key index.
// Format: prefix:key
func makeJobIdemKey(key string) []byte {
	return []byte(jobIdemPrefix + ":" + key)
}

// makeJobDocKey generates a composite key for the per-document job index.
// Format: prefix:docID(8B BE):seq(8B BE)
func makeJobDocKey(docID core.ID, seq uint64) []byte {
	buf := []byte(jobDocPrefix + ":")
	buf = appendUint64(buf, uint64(docID))
	return appendUint64(buf, seq)
}

// makePartialJobDocKey generates a prefix for per-document job queries.
func makePartialJobDocKey(docID core.ID) []byte {
	buf := []byte(jobDocPrefix + ":")
	return appendUint64(buf, uint64(docID))
}

// makeChunkKey generates a key for a chunk by ID.
// Format: prefix:id(8B BE)
func makeChunkKey(id core.ID) []byte {
	buf := []byte(chunkRecordPrefix + ":")
	return appendUint64(buf, uint64(id))
}

// makeChunkDocKey generates a composite key for the per-document chunk index.
// Format: prefix:docID(8B BE):ordinal(8B BE). Iteration yields ordinal order.
func makeChunkDocKey(docID core.ID, ordinal int) []byte {
	buf := []byte(chunkDocPrefix + ":")
	buf = appendUint64(buf, uint64(docID))
	return appendUint64(buf, uint64(ordinal))
}

// makePartialChunkDocKey generates a prefix for per-document chunk queries.
func makePartialChunkDocKey(docID core.ID) []byte {
	buf := []byte(chunkDocPrefix + ":")
	return appendUint64(buf, uint64(docID))
}

// makeEventKey generates a key for an event by its random ID.
func makeEventKey(id uuid.UUID) []byte {
	buf := []byte(eventRecordPrefix + ":")
	return append(buf, id[:]...)
}

// makeEventDocKey generates a composite key for the per-document event index.
// Format: prefix:docID(8B BE):timestamp(8B BE):uuid(16B)
func makeEventDocKey(docID core.ID, ts time.Time, id uuid.UUID) []byte {
	buf := []byte(eventDocPrefix + ":")
	buf = appendUint64(buf, uint64(docID))
	buf = appendUint64(buf, uint64(ts.UnixMicro()))
	return append(buf, id[:]...)
}

// makePartialEventDocKey generates a prefix for per-document event queries.
func makePartialEventDocKey(docID core.ID) []byte {
	buf := []byte(eventDocPrefix + ":")
	return appendUint64(buf, uint64(docID))
}

// makeEventJobKey generates a composite key for the per-job event index.
// Format: prefix:jobID(16B):timestamp(8B BE):uuid(16B)
func makeEventJobKey(jobID uuid.UUID, ts time.Time, id uuid.UUID) []byte {
	buf := []byte(eventJobPrefix + ":")
	buf = append(buf, jobID[:]...)
	buf = appendUint64(buf, uint64(ts.UnixMicro()))
	return append(buf, id[:]...)
}

// makePartialEventJobKey generates a prefix for per-job event queries.
func makePartialEventJobKey(jobID uuid.UUID) []byte {
	buf := []byte(eventJobPrefix + ":")
	return append(buf, jobID[:]...)
}
