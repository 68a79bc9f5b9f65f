package llamaparse

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/poiesic/docstream/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestParser(t *testing.T, handler http.HandlerFunc) *Parser {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	parser, err := NewParser(services.NewConfig(services.WithParserHost(server.URL)))
	require.NoError(t, err)
	return parser
}

func TestParse_PlainTextPassthrough(t *testing.T) {
	// The handler fails the test if the parser calls out for plain text.
	parser := newTestParser(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("plain text must not reach the parse service")
	})

	result, err := parser.Parse(context.Background(), []byte("hello world"), "text/plain")
	require.NoError(t, err)
	assert.Equal(t, "hello world", result.Text)
}

func TestParse_EmptyDocument(t *testing.T) {
	parser := newTestParser(t, func(w http.ResponseWriter, r *http.Request) {})

	_, err := parser.Parse(context.Background(), nil, "application/pdf")
	require.Error(t, err)
	assert.ErrorIs(t, err, services.ErrMalformedInput)
	assert.False(t, services.IsRetryable(err))
}

func TestParse_Success(t *testing.T) {
	parser := newTestParser(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/parse", r.URL.Path)
		assert.Equal(t, "application/pdf", r.Header.Get("Content-Type"))
		json.NewEncoder(w).Encode(map[string]any{
			"text":     "extracted text",
			"metadata": map[string]string{"pages": "3"},
		})
	})

	result, err := parser.Parse(context.Background(), []byte("%PDF-1.7"), "application/pdf")
	require.NoError(t, err)
	assert.Equal(t, "extracted text", result.Text)
	assert.Equal(t, "3", result.Metadata["pages"])
}

func TestParse_UnsupportedFormat(t *testing.T) {
	parser := newTestParser(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnsupportedMediaType)
	})

	_, err := parser.Parse(context.Background(), []byte("binary"), "application/x-unknown")
	require.Error(t, err)
	assert.ErrorIs(t, err, services.ErrUnsupportedFormat)
	assert.False(t, services.IsRetryable(err))
}

func TestParse_ServerErrorIsRetryable(t *testing.T) {
	parser := newTestParser(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	_, err := parser.Parse(context.Background(), []byte("%PDF-1.7"), "application/pdf")
	require.Error(t, err)
	assert.True(t, services.IsRetryable(err))
}

func TestParse_ClientErrorIsPermanent(t *testing.T) {
	parser := newTestParser(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	})

	_, err := parser.Parse(context.Background(), []byte("%PDF-1.7"), "application/pdf")
	require.Error(t, err)
	assert.False(t, services.IsRetryable(err))
}

func TestParse_ServiceReportedError(t *testing.T) {
	parser := newTestParser(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"error": "corrupt document"})
	})

	_, err := parser.Parse(context.Background(), []byte("%PDF-1.7"), "application/pdf")
	require.Error(t, err)
	assert.ErrorIs(t, err, services.ErrMalformedInput)
	assert.ErrorContains(t, err, "corrupt document")
}

func TestParse_ConnectionRefusedIsRetryable(t *testing.T) {
	parser, err := NewParser(services.NewConfig(
		services.WithParserHost("http://127.0.0.1:1")))
	require.NoError(t, err)

	_, err = parser.Parse(context.Background(), []byte("%PDF-1.7"), "application/pdf")
	require.Error(t, err)
	assert.True(t, services.IsRetryable(err))
}
