package generate

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var (
	// ErrNoDiffs means the model output contained no edit blocks.
	ErrNoDiffs = errors.New("no edit blocks found in model output")
	// ErrPatchNotApplied means an edit block's original text was not found.
	ErrPatchNotApplied = errors.New("edit block does not match the current code")
)

// editHereMarker is a hint some models echo back inside edit blocks.
const editHereMarker = " # <--- EDIT HERE"

var editBlockRe = regexp.MustCompile(`(?s)<<<<<<< ORIGINAL(.*?)=======\n(.*?)>>>>>>> UPDATED`)

// ApplyPatch applies the edit blocks in output to code in order. Each
// block replaces the first occurrence of its trimmed original text; a
// block that leaves the code unchanged fails with ErrPatchNotApplied.
func ApplyPatch(code, output string) (string, error) {
	blocks := editBlockRe.FindAllStringSubmatch(output, -1)
	if len(blocks) == 0 {
		return "", ErrNoDiffs
	}

	patched := code
	for i, b := range blocks {
		original := strings.ReplaceAll(strings.TrimSpace(b[1]), editHereMarker, "")
		updated := strings.ReplaceAll(strings.TrimSpace(b[2]), editHereMarker, "")

		next := strings.Replace(patched, original, updated, 1)
		if next == patched {
			return "", fmt.Errorf("block %d: %w", i+1, ErrPatchNotApplied)
		}
		patched = next
	}
	return patched, nil
}
