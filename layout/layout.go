// Package layout tracks the toolbar's expanded state and free-drag position,
// clamps the position into the viewport, and persists both through a
// key-value Store.
package layout

import (
	"encoding/json"
	"log/slog"
	"strconv"
	"sync"

	"github.com/Paranoid-AF/promptbar"
)

// Keys used in the Store.
const (
	KeyExpanded = "isToolbarExpanded"
	KeyPosition = "editorToolbarPosition"
)

// DefaultMinWidth is the narrowest the toolbar renders, in viewport units.
const DefaultMinWidth = 600

// Store is a durable string key-value association.
type Store interface {
	Get(key string) (string, bool)
	Set(key, value string) error
}

// Viewport describes the visible area and the toolbar's rendered height.
type Viewport struct {
	Width         float64
	Height        float64
	ToolbarHeight float64
}

// Placement is a clamped top-left corner applied to the rendered toolbar.
type Placement struct {
	Left float64
	Top  float64
}

// Layout holds the toolbar layout state.
type Layout struct {
	store    Store
	minWidth float64

	mu        sync.Mutex
	expanded  bool
	position  promptbar.Position
	placement *Placement
}

// New creates a Layout backed by store. The expanded flag is read
// immediately; a missing or unrecognised value means collapsed.
func New(store Store, minWidth float64) *Layout {
	if minWidth <= 0 {
		minWidth = DefaultMinWidth
	}
	v, _ := store.Get(KeyExpanded)
	return &Layout{
		store:    store,
		minWidth: minWidth,
		expanded: v == "true",
	}
}

// Expanded reports whether the toolbar is expanded.
func (l *Layout) Expanded() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.expanded
}

// Position returns the current in-memory position.
func (l *Layout) Position() promptbar.Position {
	l.mu.Lock()
	defer l.mu.Unlock()
	return copyPosition(l.position)
}

// Placement returns the last clamped placement, or false when the toolbar
// uses its default placement.
func (l *Layout) Placement() (Placement, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.placement == nil {
		return Placement{}, false
	}
	return *l.placement, true
}

// ToggleExpanded flips the expanded flag and persists it. Collapsing resets
// the position to the default sentinel; expanding reloads and re-clamps the
// saved position.
func (l *Layout) ToggleExpanded(v Viewport) error {
	l.mu.Lock()
	l.expanded = !l.expanded
	expanded := l.expanded
	if !expanded {
		l.position = promptbar.Position{}
		l.placement = nil
	}
	l.mu.Unlock()

	if err := l.store.Set(KeyExpanded, strconv.FormatBool(expanded)); err != nil {
		return err
	}
	if expanded {
		l.LoadSavedPosition(v)
	}
	return nil
}

// OnDragEnd records the dragged element's top-left corner as the new
// position and persists it.
func (l *Layout) OnDragEnd(r promptbar.Rect) error {
	x, y := r.Left, r.Top
	pos := promptbar.Position{X: &x, Y: &y}

	l.mu.Lock()
	l.position = pos
	l.placement = &Placement{Left: x, Top: y}
	l.mu.Unlock()

	data, err := json.Marshal(pos)
	if err != nil {
		return err
	}
	return l.store.Set(KeyPosition, string(data))
}

// LoadSavedPosition reads the persisted position and clamps it into v.
// It returns false when nothing usable was saved, in which case the
// toolbar keeps its default placement.
func (l *Layout) LoadSavedPosition(v Viewport) (Placement, bool) {
	raw, ok := l.store.Get(KeyPosition)
	if !ok || raw == "" {
		return Placement{}, false
	}

	var pos promptbar.Position
	if err := json.Unmarshal([]byte(raw), &pos); err != nil {
		slog.Warn("ignoring malformed saved toolbar position", "value", raw, "error", err)
		return Placement{}, false
	}
	if !pos.IsSet() {
		return Placement{}, false
	}

	p := Clamp(pos, v, l.minWidth)

	l.mu.Lock()
	l.position = pos
	l.placement = &p
	l.mu.Unlock()

	return p, true
}

// Clamp constrains pos so the toolbar stays inside the viewport:
// x into [0, Width-minWidth] and y into [0, Height-ToolbarHeight].
// pos must be set.
func Clamp(pos promptbar.Position, v Viewport, minWidth float64) Placement {
	return Placement{
		Left: clamp(*pos.X, v.Width-minWidth),
		Top:  clamp(*pos.Y, v.Height-v.ToolbarHeight),
	}
}

func clamp(val, upper float64) float64 {
	return max(0, min(val, upper))
}

func copyPosition(p promptbar.Position) promptbar.Position {
	var out promptbar.Position
	if p.X != nil {
		x := *p.X
		out.X = &x
	}
	if p.Y != nil {
		y := *p.Y
		out.Y = &y
	}
	return out
}
