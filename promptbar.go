// Package promptbar defines the data model shared by the prompt console
// components: interactions, suggestion options, toolbar geometry and the
// request/result types exchanged with the generation backend.
package promptbar

import (
	"time"

	"github.com/google/uuid"
)

// Interaction is one completed request/response cycle.
// It is never mutated after it has been appended to history.
type Interaction struct {
	// ID is a random identifier assigned at creation.
	ID string `toml:"id" json:"id"`
	// Prompt is the instruction the user submitted.
	Prompt string `toml:"prompt" json:"prompt"`
	// BeforeCode is the editor content captured before the request was sent.
	BeforeCode string `toml:"before_code" json:"before_code"`
	// AfterCode is the replacement content returned by the backend.
	AfterCode string `toml:"after_code" json:"after_code"`
	// CreatedAt is when the interaction was accepted.
	CreatedAt time.Time `toml:"created_at" json:"created_at"`
}

// NewInteraction builds an interaction with a fresh ID and timestamp.
func NewInteraction(prompt, before, after string) Interaction {
	return Interaction{
		ID:         uuid.New().String(),
		Prompt:     prompt,
		BeforeCode: before,
		AfterCode:  after,
		CreatedAt:  time.Now(),
	}
}

// Icon identifies how a suggestion is decorated.
type Icon string

const (
	// IconBuiltin marks suggestions from the fixed built-in list.
	IconBuiltin Icon = "lightbulb"
	// IconHistory marks suggestions derived from previously submitted prompts.
	IconHistory Icon = "history"
)

// Option is a candidate prompt suggestion.
type Option struct {
	Prompt string `json:"prompt"`
	Icon   Icon   `json:"icon"`
}

// Position is the persisted top-left corner of the toolbar.
// nil coordinates mean "use the default placement".
type Position struct {
	X *float64 `json:"x"`
	Y *float64 `json:"y"`
}

// IsSet reports whether both coordinates are present.
func (p Position) IsSet() bool {
	return p.X != nil && p.Y != nil
}

// Rect is an element's bounding box in viewport coordinates.
type Rect struct {
	Left, Top, Width, Height float64
}

// Progress is one live update from the generation backend.
type Progress struct {
	Text string
}

// Request is what the dispatch controller hands to the backend.
type Request struct {
	// Prompt is the user's instruction, passed through unvalidated.
	Prompt string
	// Code is the editor snapshot taken when the request was submitted.
	Code string
}

// Result is a successful backend response.
type Result struct {
	// AfterCode is the proposed replacement for the editor content.
	AfterCode string
	// Raw is the unparsed model output, kept for error details.
	Raw string
}
