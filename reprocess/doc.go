// Package reprocess provides batch re-chunking and re-embedding of already
// ingested documents, for rolling out a new chunker generation or embedding
// model without re-uploading anything.
//
// This package supports batch processing of documents, progress tracking,
// retry logic with exponential backoff, and supersession of chunks from
// older chunker generations.
package reprocess
