// Package upload implements the chunked file upload engine for the
// CrashPusher admin API: session creation, strictly sequential 5 MiB chunks,
// server-side completion polling, and local session records so interrupted
// uploads can be canceled later.
package upload

import (
	"errors"
	"fmt"
)

// ErrSessionNotReady is returned when the server creates an upload session
// with a status other than READY.
var ErrSessionNotReady = errors.New("upload: session not ready")

// ErrCompletionTimeout is returned when the server never reports a finished
// file within the polling budget. The upload itself succeeded; only the
// server-side processing outcome is unknown.
var ErrCompletionTimeout = errors.New("upload: timed out waiting for server processing")

// ErrServerRejected is returned when the server reports ERROR either for a
// chunk or during completion polling.
var ErrServerRejected = errors.New("upload: rejected by server")

// ChunkError reports a chunk the server rejected. Chunk is 1-based for
// display; the wire index is 0-based.
type ChunkError struct {
	Chunk   int
	Total   int
	Message string
}

func (e *ChunkError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("upload: chunk %d/%d rejected: %s", e.Chunk, e.Total, e.Message)
	}

	return fmt.Sprintf("upload: chunk %d/%d rejected", e.Chunk, e.Total)
}

func (e *ChunkError) Unwrap() error {
	return ErrServerRejected
}
