package upload

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/crashpusher/crashctl/internal/api"
)

// DefaultChunkSize is the fixed chunk size for multipart uploads (5 MiB).
const DefaultChunkSize = 5 * 1024 * 1024

// Server-reported session and chunk statuses.
const (
	StatusReady         = "READY"
	StatusError         = "ERROR"
	StatusChunkReceived = "CHUNK_RECEIVED"
	StatusCompleted     = "COMPLETED"
)

// Completion polling defaults. The server assembles and verifies the file
// after the last chunk; polling covers that window.
const (
	defaultMaxPollAttempts = 60
	defaultPollInterval    = 1500 * time.Millisecond
	defaultPollErrInterval = 2 * time.Second
	defaultChunkTimeout    = 2 * time.Minute
)

// StartResponse is the JSON shape of POST /upload/start.
type StartResponse struct {
	SessionID string `json:"sessionId"`
	ChunkSize int64  `json:"chunkSize"`
	MaxChunks int    `json:"maxChunks"`
	Status    string `json:"status"`
	Message   string `json:"message"`
}

// ChunkResponse is the JSON shape of POST /upload/chunk/{id}.
type ChunkResponse struct {
	Status   string  `json:"status"`
	Message  string  `json:"message"`
	FileInfo string  `json:"fileInfo"`
	Progress float64 `json:"progress"`
}

// ProgressResponse is the JSON shape of GET /upload/progress/{id}.
type ProgressResponse struct {
	SessionID      string  `json:"sessionId"`
	Filename       string  `json:"filename"`
	UploadedBytes  int64   `json:"uploadedBytes"`
	TotalBytes     int64   `json:"totalBytes"`
	ChunksReceived int     `json:"chunksReceived"`
	TotalChunks    int     `json:"totalChunks"`
	Progress       float64 `json:"progress"`
	Status         string  `json:"status"`
	FileInfo       string  `json:"fileInfo"`
	Message        string  `json:"message"`
}

// Options tunes the engine. Zero values select the defaults above.
type Options struct {
	ChunkSize       int64
	ChunkTimeout    time.Duration
	MaxPollAttempts int
	PollInterval    time.Duration
	PollErrInterval time.Duration
}

// Engine drives chunked uploads through the guarded API client, so chunk
// requests participate in the same 401-refresh pipeline as every other call.
type Engine struct {
	client   *api.Client
	sessions *SessionStore
	logger   *slog.Logger

	chunkSize       int64
	chunkTimeout    time.Duration
	maxPollAttempts int
	pollInterval    time.Duration
	pollErrInterval time.Duration

	// sleepFunc waits between completion polls. Tests override this.
	sleepFunc func(ctx context.Context, d time.Duration) error
}

// NewEngine creates an upload engine. The session store may be nil, in which
// case no local records are kept.
func NewEngine(client *api.Client, sessions *SessionStore, logger *slog.Logger, opts Options) *Engine {
	if logger == nil {
		logger = slog.Default()
	}

	e := &Engine{
		client:          client,
		sessions:        sessions,
		logger:          logger,
		chunkSize:       opts.ChunkSize,
		chunkTimeout:    opts.ChunkTimeout,
		maxPollAttempts: opts.MaxPollAttempts,
		pollInterval:    opts.PollInterval,
		pollErrInterval: opts.PollErrInterval,
		sleepFunc:       sleepContext,
	}

	if e.chunkSize <= 0 {
		e.chunkSize = DefaultChunkSize
	}

	if e.chunkTimeout <= 0 {
		e.chunkTimeout = defaultChunkTimeout
	}

	if e.maxPollAttempts <= 0 {
		e.maxPollAttempts = defaultMaxPollAttempts
	}

	if e.pollInterval <= 0 {
		e.pollInterval = defaultPollInterval
	}

	if e.pollErrInterval <= 0 {
		e.pollErrInterval = defaultPollErrInterval
	}

	return e
}

// StartSession asks the server to open an upload session for the file.
// A session with any status other than READY is an error.
func (e *Engine) StartSession(ctx context.Context, filename, fileType string, totalSize int64) (*StartResponse, error) {
	e.logger.Info("starting upload session",
		slog.String("filename", filename),
		slog.String("file_type", fileType),
		slog.Int64("total_size", totalSize),
	)

	q := url.Values{}
	q.Set("filename", filename)
	q.Set("fileType", fileType)
	q.Set("totalSize", strconv.FormatInt(totalSize, 10))

	resp, err := e.client.Do(ctx, http.MethodPost, "/upload/start?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var sr StartResponse
	if decErr := json.NewDecoder(resp.Body).Decode(&sr); decErr != nil {
		return nil, fmt.Errorf("upload: decoding start response: %w", decErr)
	}

	if sr.Status != StatusReady {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotReady, sr.Message)
	}

	if sr.SessionID == "" {
		return nil, fmt.Errorf("%w: no session id in response", ErrSessionNotReady)
	}

	e.logger.Debug("upload session ready",
		slog.String("session_id", sr.SessionID),
		slog.Int("max_chunks", sr.MaxChunks),
	)

	return &sr, nil
}

// UploadChunk sends one chunk as a multipart form. chunkIndex is 0-based on
// the wire. A server-side ERROR status becomes a *ChunkError. Each chunk gets
// its own timeout, longer than ordinary API calls.
func (e *Engine) UploadChunk(
	ctx context.Context, sessionID string, chunkIndex, totalChunks int, data []byte,
) (*ChunkResponse, error) {
	body, contentType, err := chunkForm(chunkIndex, totalChunks, data)
	if err != nil {
		return nil, err
	}

	chunkCtx, cancel := context.WithTimeout(ctx, e.chunkTimeout)
	defer cancel()

	resp, err := e.client.DoForm(
		chunkCtx, http.MethodPost, "/upload/chunk/"+url.PathEscape(sessionID), contentType, body,
	)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var cr ChunkResponse
	if decErr := json.NewDecoder(resp.Body).Decode(&cr); decErr != nil {
		return nil, fmt.Errorf("upload: decoding chunk response: %w", decErr)
	}

	if cr.Status == StatusError {
		return nil, &ChunkError{Chunk: chunkIndex + 1, Total: totalChunks, Message: cr.Message}
	}

	e.logger.Debug("chunk accepted",
		slog.String("session_id", sessionID),
		slog.Int("chunk", chunkIndex+1),
		slog.Int("total_chunks", totalChunks),
		slog.String("status", cr.Status),
	)

	return &cr, nil
}

// Progress queries the server-side state of an upload session.
func (e *Engine) Progress(ctx context.Context, sessionID string) (*ProgressResponse, error) {
	resp, err := e.client.Do(ctx, http.MethodGet, "/upload/progress/"+url.PathEscape(sessionID), nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var pr ProgressResponse
	if decErr := json.NewDecoder(resp.Body).Decode(&pr); decErr != nil {
		return nil, fmt.Errorf("upload: decoding progress response: %w", decErr)
	}

	return &pr, nil
}

// Cancel tells the server to discard an upload session and removes the local
// session record. A session the server no longer knows about counts as
// canceled.
func (e *Engine) Cancel(ctx context.Context, sessionID string) error {
	e.logger.Info("canceling upload session", slog.String("session_id", sessionID))

	resp, err := e.client.Do(ctx, http.MethodDelete, "/upload/"+url.PathEscape(sessionID), nil)
	if err != nil {
		var apiErr *api.APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
			e.forgetSession(sessionID)
			return nil
		}

		return err
	}
	resp.Body.Close()

	e.forgetSession(sessionID)

	return nil
}

func (e *Engine) forgetSession(sessionID string) {
	if e.sessions == nil {
		return
	}

	if err := e.sessions.Delete(sessionID); err != nil {
		e.logger.Warn("failed to remove upload session record",
			slog.String("session_id", sessionID),
			slog.String("error", err.Error()),
		)
	}
}

// chunkForm builds the multipart body for one chunk: chunkIndex, totalChunks,
// then the chunk bytes as the file part. Returns the body as a rewindable
// reader so a 401-replay can resend it.
func chunkForm(chunkIndex, totalChunks int, data []byte) (*bytes.Reader, string, error) {
	var buf bytes.Buffer

	w := multipart.NewWriter(&buf)

	if err := w.WriteField("chunkIndex", strconv.Itoa(chunkIndex)); err != nil {
		return nil, "", fmt.Errorf("upload: building chunk form: %w", err)
	}

	if err := w.WriteField("totalChunks", strconv.Itoa(totalChunks)); err != nil {
		return nil, "", fmt.Errorf("upload: building chunk form: %w", err)
	}

	part, err := w.CreateFormFile("file", "chunk")
	if err != nil {
		return nil, "", fmt.Errorf("upload: building chunk form: %w", err)
	}

	if _, err := part.Write(data); err != nil {
		return nil, "", fmt.Errorf("upload: writing chunk data: %w", err)
	}

	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("upload: finalizing chunk form: %w", err)
	}

	return bytes.NewReader(buf.Bytes()), w.FormDataContentType(), nil
}

// sleepContext waits for d or until the context is canceled.
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
