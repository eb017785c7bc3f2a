package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// Stage labels the coarse phase of an upload, derived from overall progress.
type Stage string

const (
	StageUploading  Stage = "uploading"
	StageVerifying  Stage = "verifying"
	StagePreparing  Stage = "preparing"
	StageProcessing Stage = "processing"
)

// stageFor maps a progress percentage to its display stage.
func stageFor(percent int) Stage {
	switch {
	case percent < 30:
		return StageUploading
	case percent < 60:
		return StageVerifying
	case percent < 90:
		return StagePreparing
	default:
		return StageProcessing
	}
}

// Result describes a finished upload.
type Result struct {
	SessionID string
	Filename  string
	Size      int64
	Chunks    int
	FileInfo  string
}

// ProgressFunc receives the overall progress percentage (0 to 100).
// StageFunc receives the stage whenever it changes. Both are called
// synchronously from the upload goroutine; keep them fast.
type (
	ProgressFunc func(percent int)
	StageFunc    func(stage Stage)
)

// UploadFile uploads the file at path in sequential chunks and waits for the
// server to finish processing it. Progress and stage callbacks may be nil.
//
// The file is read one chunk at a time; memory use is bounded by the chunk
// size. On a chunk failure or cancellation the server-side session is
// canceled best-effort before returning.
func (e *Engine) UploadFile(
	ctx context.Context, path, fileType string, onProgress ProgressFunc, onStage StageFunc,
) (*Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("upload: opening file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("upload: stat file: %w", err)
	}

	size := info.Size()
	if size == 0 {
		return nil, fmt.Errorf("upload: %s is empty", path)
	}

	filename := filepath.Base(path)
	totalChunks := int((size + e.chunkSize - 1) / e.chunkSize)

	start, err := e.StartSession(ctx, filename, fileType, size)
	if err != nil {
		return nil, err
	}

	e.rememberSession(start.SessionID, path, fileType, size)

	e.logger.Info("upload started",
		slog.String("session_id", start.SessionID),
		slog.String("filename", filename),
		slog.Int64("size", size),
		slog.Int("total_chunks", totalChunks),
	)

	final, err := e.sendChunks(ctx, start.SessionID, f, size, totalChunks, onProgress, onStage)
	if err != nil {
		e.cancelBestEffort(start.SessionID)
		return nil, err
	}

	result := &Result{
		SessionID: start.SessionID,
		Filename:  filename,
		Size:      size,
		Chunks:    totalChunks,
	}

	// The final chunk response may already carry the finished file.
	if final != nil && final.Status == StatusCompleted && final.FileInfo != "" {
		result.FileInfo = final.FileInfo
	} else {
		fileInfo, waitErr := e.waitForCompletion(ctx, start.SessionID, onProgress, onStage)
		if waitErr != nil {
			if errors.Is(waitErr, context.Canceled) || errors.Is(waitErr, context.DeadlineExceeded) {
				e.cancelBestEffort(start.SessionID)
			}

			return nil, waitErr
		}

		result.FileInfo = fileInfo
	}

	if onProgress != nil {
		onProgress(100)
	}

	e.forgetSession(start.SessionID)

	e.logger.Info("upload complete",
		slog.String("session_id", start.SessionID),
		slog.String("file_info", result.FileInfo),
	)

	return result, nil
}

// sendChunks streams the file to the server one chunk at a time, strictly in
// order. Returns the response of the last chunk.
func (e *Engine) sendChunks(
	ctx context.Context, sessionID string, f *os.File, size int64, totalChunks int,
	onProgress ProgressFunc, onStage StageFunc,
) (*ChunkResponse, error) {
	buf := make([]byte, e.chunkSize)

	var (
		uploaded  int64
		lastStage Stage
		final     *ChunkResponse
	)

	for i := 0; i < totalChunks; i++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("upload: canceled before chunk %d: %w", i+1, err)
		}

		chunkLen := e.chunkSize
		if remaining := size - uploaded; remaining < chunkLen {
			chunkLen = remaining
		}

		if _, err := io.ReadFull(f, buf[:chunkLen]); err != nil {
			return nil, fmt.Errorf("upload: reading chunk %d: %w", i+1, err)
		}

		resp, err := e.UploadChunk(ctx, sessionID, i, totalChunks, buf[:chunkLen])
		if err != nil {
			return nil, err
		}

		uploaded += chunkLen
		final = resp

		percent := int((uploaded*100 + size/2) / size)
		if onProgress != nil {
			onProgress(percent)
		}

		if stage := stageFor(percent); stage != lastStage {
			lastStage = stage

			if onStage != nil {
				onStage(stage)
			}
		}
	}

	return final, nil
}

// waitForCompletion polls the server until it reports the finished file.
// COMPLETED without file info means assembly is still running; keep waiting.
// Progress during this phase creeps from 90 toward 95 so the bar keeps
// moving without ever claiming completion.
func (e *Engine) waitForCompletion(
	ctx context.Context, sessionID string, onProgress ProgressFunc, onStage StageFunc,
) (string, error) {
	if onStage != nil {
		onStage(StageProcessing)
	}

	for attempt := 1; attempt <= e.maxPollAttempts; attempt++ {
		if onProgress != nil {
			percent := 90 + attempt*10/e.maxPollAttempts
			if percent > 95 {
				percent = 95
			}

			onProgress(percent)
		}

		pr, err := e.Progress(ctx, sessionID)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return "", ctxErr
			}

			e.logger.Warn("progress poll failed",
				slog.String("session_id", sessionID),
				slog.Int("attempt", attempt),
				slog.String("error", err.Error()),
			)

			if sleepErr := e.sleepFunc(ctx, e.pollErrInterval); sleepErr != nil {
				return "", sleepErr
			}

			continue
		}

		switch {
		case pr.Status == StatusCompleted && pr.FileInfo != "":
			return pr.FileInfo, nil
		case pr.Status == StatusError:
			return "", fmt.Errorf("%w: %s", ErrServerRejected, serverMessage(pr))
		}

		if sleepErr := e.sleepFunc(ctx, e.pollInterval); sleepErr != nil {
			return "", sleepErr
		}
	}

	return "", fmt.Errorf("%w after %d polls", ErrCompletionTimeout, e.maxPollAttempts)
}

func serverMessage(pr *ProgressResponse) string {
	if pr.Message != "" {
		return pr.Message
	}

	return "processing failed"
}

func (e *Engine) rememberSession(sessionID, path, fileType string, size int64) {
	if e.sessions == nil {
		return
	}

	rec := &SessionRecord{
		SessionID: sessionID,
		LocalPath: path,
		FileType:  fileType,
		FileSize:  size,
	}

	if err := e.sessions.Save(rec); err != nil {
		e.logger.Warn("failed to record upload session",
			slog.String("session_id", sessionID),
			slog.String("error", err.Error()),
		)
	}
}

// cancelBestEffort notifies the server that the session is dead, on a fresh
// short-lived context because the caller's context may already be canceled.
func (e *Engine) cancelBestEffort(sessionID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := e.Cancel(ctx, sessionID); err != nil {
		e.logger.Warn("failed to cancel upload session",
			slog.String("session_id", sessionID),
			slog.String("error", err.Error()),
		)
	}
}
