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

package services

import (
	"context"
	"errors"
	"fmt"
	"net"
)

var (
	// ErrUnsupportedFormat indicates the parser cannot handle the input's
	// MIME type. Never retryable.
	ErrUnsupportedFormat = errors.New("unsupported document format")

	// ErrMalformedInput indicates the service rejected the input itself.
	// Never retryable.
	ErrMalformedInput = errors.New("malformed input")

	// ErrServiceUnavailable indicates a transient outage of the external
	// service. Retryable.
	ErrServiceUnavailable = errors.New("service unavailable")
)

// ServiceError wraps a failure from an external service with a retryability
// classification the job ledger acts on.
type ServiceError struct {
	// Op names the failing operation, e.g. "parse", "embed".
	Op string

	// Retryable indicates whether a later attempt could succeed.
	Retryable bool

	// Err is the underlying cause.
	Err error
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

// NewRetryable wraps err as a retryable service failure.
func NewRetryable(op string, err error) *ServiceError {
	return &ServiceError{Op: op, Retryable: true, Err: err}
}

// NewPermanent wraps err as a non-retryable service failure.
func NewPermanent(op string, err error) *ServiceError {
	return &ServiceError{Op: op, Retryable: false, Err: err}
}

// IsRetryable classifies err for the retry decision. Explicit ServiceError
// classifications win; otherwise timeouts and network errors count as
// retryable and everything else does not.
func IsRetryable(err error) bool {
	var se *ServiceError
	if errors.As(err, &se) {
		return se.Retryable
	}
	if errors.Is(err, ErrUnsupportedFormat) || errors.Is(err, ErrMalformedInput) {
		return false
	}
	if errors.Is(err, ErrServiceUnavailable) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return false
}

// RetryableStatus reports whether an HTTP status from an external service
// warrants a retry: server errors and throttling do, client errors don't.
func RetryableStatus(status int) bool {
	return status >= 500 || status == 429 || status == 408
}
