// SPDX-License-Identifier: MIT

package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteFileAtomic(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	t.Run("writes and replaces", func(t *testing.T) {
		path := filepath.Join(dir, "doc.json")
		require.NoError(t, WriteFileAtomic(ctx, path, []byte(`{"v":1}`)))

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Equal(t, `{"v":1}`, string(data))

		require.NoError(t, WriteFileAtomic(ctx, path, []byte(`{"v":2}`)))
		data, err = os.ReadFile(path)
		require.NoError(t, err)
		assert.Equal(t, `{"v":2}`, string(data))
	})

	t.Run("rejects empty", func(t *testing.T) {
		err := WriteFileAtomic(ctx, filepath.Join(dir, "empty.json"), nil)
		assert.ErrorIs(t, err, ErrEmptyDocument)
	})

	t.Run("leaves no temp files behind", func(t *testing.T) {
		path := filepath.Join(dir, "clean.json")
		require.NoError(t, WriteFileAtomic(ctx, path, []byte(`[1,2,3]`)))

		entries, err := os.ReadDir(dir)
		require.NoError(t, err)
		for _, e := range entries {
			assert.NotContains(t, e.Name(), ".tmp.", "temp file %s survived a successful write", e.Name())
		}
	})
}

func TestReadFileValidated(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	write := func(name, content string) string {
		t.Helper()
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
		return path
	}

	t.Run("absent reports not exist", func(t *testing.T) {
		_, err := ReadFileValidated(ctx, filepath.Join(dir, "missing.json"))
		assert.ErrorIs(t, err, os.ErrNotExist)
	})

	t.Run("valid document passes", func(t *testing.T) {
		path := write("ok.json", `{"a":1}`+"\n")
		data, err := ReadFileValidated(ctx, path)
		require.NoError(t, err)
		assert.Contains(t, string(data), `"a":1`)
	})

	tests := []struct {
		name    string
		content string
	}{
		{"empty file", ""},
		{"whitespace only", "  \n\t"},
		{"NUL byte", "{\"a\":\x001}"},
		{"replacement character", `{"a":"b` + "�" + `"}`},
		{"truncated object", `{"a": `},
		{"truncated after comma", `[1,2,`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := write(strings.ReplaceAll(tt.name, " ", "_")+".json", tt.content)
			_, err := ReadFileValidated(ctx, path)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrCorrupt) || errors.Is(err, ErrEmptyDocument), "got %v", err)
		})
	}

	t.Run("scalar terminators pass", func(t *testing.T) {
		for _, content := range []string{`true`, `false`, `null`, `42`, `"text"`} {
			path := write("scalar.json", content)
			_, err := ReadFileValidated(ctx, path)
			assert.NoError(t, err, "content %q", content)
		}
	})
}

func TestQuarantine(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	path := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"broken": `), 0o600))

	got := Quarantine(ctx, path)
	require.NotEmpty(t, got)
	assert.Contains(t, got, ".corrupt.")

	data, err := os.ReadFile(got)
	require.NoError(t, err)
	assert.Equal(t, `{"broken": `, string(data))

	// Original stays in place for the next write to replace.
	_, err = os.Stat(path)
	assert.NoError(t, err)
}

func TestLegalTerminator(t *testing.T) {
	for _, b := range []byte{'}', ']', '"', 'e', 'l', '0', '9'} {
		assert.True(t, legalTerminator(b), "byte %q", b)
	}
	for _, b := range []byte{'{', '[', ',', ':', ' ', 'x'} {
		assert.False(t, legalTerminator(b), "byte %q", b)
	}
}
