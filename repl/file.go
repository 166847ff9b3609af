package main

import (
	"context"
	"errors"
	"io/fs"
	"os"

	"github.com/google/renameio"
)

// fileEditor treats a file on disk as the editor buffer.
type fileEditor struct {
	path string
}

// Source returns the file content. A missing file reads as empty so a
// console can start from scratch.
func (f *fileEditor) Source(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	data, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Commit atomically replaces the file content, keeping its permissions.
func (f *fileEditor) Commit(ctx context.Context, code string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	perm := fs.FileMode(0644)
	if info, err := os.Stat(f.path); err == nil {
		perm = info.Mode().Perm()
	}
	return renameio.WriteFile(f.path, []byte(code), perm)
}
