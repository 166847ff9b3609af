package history

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/google/renameio"
	"github.com/pmezard/go-difflib/difflib"

	"github.com/Paranoid-AF/promptbar"
)

var errNoSaver = errors.New("no interaction saver configured")

const (
	recordFile = "interaction.toml"
	diffFile   = "change.diff"
)

// DirSaver writes each saved interaction to its own folder under Root.
type DirSaver struct {
	Root string
}

// NewDirSaver returns a saver rooted at dir.
func NewDirSaver(dir string) *DirSaver {
	return &DirSaver{Root: dir}
}

// Save writes interaction.toml and change.diff into a new folder and
// returns the folder path.
func (d *DirSaver) Save(ctx context.Context, in promptbar.Interaction) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	created := in.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	id := in.ID
	if len(id) > 8 {
		id = id[:8]
	}
	dir := filepath.Join(d.Root, created.Format("20060102-150405")+"-"+id)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(in); err != nil {
		return "", fmt.Errorf("encode interaction: %w", err)
	}
	if err := renameio.WriteFile(filepath.Join(dir, recordFile), buf.Bytes(), 0644); err != nil {
		return "", err
	}

	diff, err := UnifiedDiff(in.BeforeCode, in.AfterCode)
	if err != nil {
		return "", fmt.Errorf("diff interaction: %w", err)
	}
	if err := renameio.WriteFile(filepath.Join(dir, diffFile), []byte(diff), 0644); err != nil {
		return "", err
	}

	return dir, nil
}

// Saved is an interaction read back from a DirSaver folder.
type Saved struct {
	Dir         string
	Interaction promptbar.Interaction
}

// ListSaved returns every interaction saved under root, oldest first.
// Folders without a readable record are skipped.
func ListSaved(root string) ([]Saved, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var out []Saved
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		dir := filepath.Join(root, e.Name())
		var in promptbar.Interaction
		if _, err := toml.DecodeFile(filepath.Join(dir, recordFile), &in); err != nil {
			continue
		}
		out = append(out, Saved{Dir: dir, Interaction: in})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Interaction.CreatedAt.Before(out[j].Interaction.CreatedAt)
	})
	return out, nil
}

// UnifiedDiff renders a unified diff from before to after.
func UnifiedDiff(before, after string) (string, error) {
	return difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(before),
		B:        difflib.SplitLines(after),
		FromFile: "before",
		ToFile:   "after",
		Context:  3,
	})
}
