// SPDX-License-Identifier: MIT
package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/netpulse-io/netpulse/internal/log"
	"github.com/netpulse-io/netpulse/internal/metrics"
)

const (
	// maxDocumentBytes rejects a serialized document outright.
	maxDocumentBytes = 50 << 20

	// warnDocumentBytes persists but warns.
	warnDocumentBytes = 10 << 20
)

var (
	// ErrCorrupt marks a file that failed structural validation.
	ErrCorrupt = errors.New("store: corrupt document")

	// ErrEmptyDocument marks a zero-byte serialization or file.
	ErrEmptyDocument = errors.New("store: empty document")

	// ErrTooLarge marks a serialization beyond the hard size cap.
	ErrTooLarge = errors.New("store: document exceeds size cap")
)

// retryDelays backs off between write or read attempts.
var retryDelays = []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 400 * time.Millisecond}

// WriteFileAtomic persists data to path with the crash-safe discipline every
// durable file here uses: unique temp sibling, fsync, read-back validation,
// atomic rename with a copy-then-delete fallback, three retries with backoff.
// The target is left untouched when all attempts fail.
func WriteFileAtomic(ctx context.Context, path string, data []byte) error {
	if len(data) == 0 {
		return ErrEmptyDocument
	}
	if len(data) > maxDocumentBytes {
		return fmt.Errorf("%w: %d bytes", ErrTooLarge, len(data))
	}
	logger := log.WithComponentFromContext(ctx, "store")
	if len(data) >= warnDocumentBytes {
		logger.Warn().
			Str(log.FieldEvent, "store.document_large").
			Str(log.FieldPath, path).
			Int(log.FieldBytes, len(data)).
			Msg("document unusually large, persisting anyway")
	}

	var lastErr error
	for attempt := 0; ; attempt++ {
		lastErr = writeOnce(path, data)
		if lastErr == nil {
			return nil
		}
		if attempt >= len(retryDelays) {
			break
		}
		metrics.IncStoreWriteRetry()
		logger.Debug().
			Str(log.FieldEvent, "store.write_retry").
			Str(log.FieldPath, path).
			Int(log.FieldAttempt, attempt+1).
			Err(lastErr).
			Msg("write failed, retrying")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retryDelays[attempt]):
		}
	}
	metrics.IncStoreWriteFailure()
	logger.Error().
		Str(log.FieldEvent, "store.write_failed").
		Str(log.FieldPath, path).
		Err(lastErr).
		Msg("write failed after all retries")
	return fmt.Errorf("write %s: %w", path, lastErr)
}

// writeOnce performs a single temp-write-validate-rename cycle. The temp file
// is removed on every failure path.
func writeOnce(path string, data []byte) (err error) {
	tmp := tempName(path)
	defer func() {
		if err != nil {
			_ = os.Remove(tmp)
		}
	}()

	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	if _, err = f.Write(data); err != nil {
		_ = f.Close()
		return fmt.Errorf("write temp: %w", err)
	}
	if err = f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("sync temp: %w", err)
	}
	if err = f.Close(); err != nil {
		return fmt.Errorf("close temp: %w", err)
	}

	// Read back end-to-end before the rename makes it visible.
	back, err := os.ReadFile(tmp)
	if err != nil {
		return fmt.Errorf("read back temp: %w", err)
	}
	if !bytes.Equal(back, data) {
		return fmt.Errorf("read back temp: %d bytes on disk, %d written", len(back), len(data))
	}
	if !json.Valid(back) {
		return fmt.Errorf("read back temp: %w", ErrCorrupt)
	}

	if err = os.Rename(tmp, path); err != nil {
		// Rename over an existing file can fail transiently on some
		// platforms; pause once, then fall back to copy-then-delete.
		time.Sleep(30 * time.Millisecond)
		if err = os.Rename(tmp, path); err != nil {
			if err = copyReplace(path, data); err != nil {
				return err
			}
			_ = os.Remove(tmp)
		}
	}
	syncDir(path)
	return nil
}

func copyReplace(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("fallback open target: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return fmt.Errorf("fallback write target: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("fallback sync target: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("fallback close target: %w", err)
	}
	return nil
}

// syncDir flushes the directory entry after a rename. Best effort; not every
// platform supports it.
func syncDir(path string) {
	d, err := os.Open(filepath.Dir(path))
	if err != nil {
		return
	}
	_ = d.Sync()
	_ = d.Close()
}

func tempName(path string) string {
	return fmt.Sprintf("%s.tmp.%d.%s", path, time.Now().UnixMilli(), uuid.New().String()[:8])
}

// ReadFileValidated reads path and runs the truncation heuristics: empty
// files, NUL bytes, Unicode replacement characters, and an illegal trailing
// byte all count as corruption. Transient I/O errors are retried with
// backoff. Absence is reported as os.ErrNotExist.
func ReadFileValidated(ctx context.Context, path string) ([]byte, error) {
	var (
		data    []byte
		lastErr error
	)
	for attempt := 0; ; attempt++ {
		data, lastErr = os.ReadFile(path)
		if lastErr == nil || errors.Is(lastErr, os.ErrNotExist) {
			break
		}
		if attempt >= len(retryDelays) {
			return nil, fmt.Errorf("read %s: %w", path, lastErr)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(retryDelays[attempt]):
		}
	}
	if lastErr != nil {
		return nil, lastErr
	}

	trimmed := bytes.TrimRight(data, " \t\r\n")
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("%s: %w", path, ErrEmptyDocument)
	}
	if bytes.IndexByte(data, 0) >= 0 {
		return nil, fmt.Errorf("%s: NUL byte: %w", path, ErrCorrupt)
	}
	if bytes.ContainsRune(data, '�') {
		return nil, fmt.Errorf("%s: replacement character: %w", path, ErrCorrupt)
	}
	if !legalTerminator(trimmed[len(trimmed)-1]) {
		return nil, fmt.Errorf("%s: truncated document: %w", path, ErrCorrupt)
	}
	return data, nil
}

// legalTerminator reports whether b can legally end a JSON document:
// closing braces and brackets, a string quote, a digit, or the final byte of
// true/false/null.
func legalTerminator(b byte) bool {
	switch b {
	case '}', ']', '"', 'e', 'l':
		return true
	}
	return b >= '0' && b <= '9'
}

// Quarantine copies a corrupt file aside for forensics and returns the
// quarantine path. The original is left for the next write to replace.
func Quarantine(ctx context.Context, path string) string {
	dst := fmt.Sprintf("%s.corrupt.%d", path, time.Now().UnixMilli())
	logger := log.WithComponentFromContext(ctx, "store")

	src, err := os.Open(path)
	if err != nil {
		logger.Warn().Str(log.FieldEvent, "store.quarantine_failed").Str(log.FieldPath, path).Err(err).Msg("cannot open corrupt file")
		return ""
	}
	defer func() { _ = src.Close() }()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		logger.Warn().Str(log.FieldEvent, "store.quarantine_failed").Str(log.FieldPath, dst).Err(err).Msg("cannot create quarantine file")
		return ""
	}
	_, cErr := io.Copy(out, src)
	if err := out.Close(); cErr == nil {
		cErr = err
	}
	if cErr != nil {
		logger.Warn().Str(log.FieldEvent, "store.quarantine_failed").Str(log.FieldPath, dst).Err(cErr).Msg("quarantine copy failed")
		return ""
	}

	metrics.IncStoreCorrupt()
	logger.Warn().
		Str(log.FieldEvent, "store.corrupt_quarantined").
		Str(log.FieldPath, path).
		Str("quarantine", dst).
		Msg("corrupt file quarantined, using default")
	return dst
}
