// Package suggest maintains the prompt suggestions shown while the user types:
// a fixed built-in list followed by prompts taken from history.
package suggest

import (
	"strings"
	"sync"

	"github.com/Paranoid-AF/promptbar"
)

// Filter produces the substring-matched suggestion list.
type Filter struct {
	builtins  []promptbar.Option
	isBuiltin map[string]bool

	mu       sync.RWMutex
	history  []promptbar.Option
	filtered []promptbar.Option
}

// New creates a filter from the built-in prompts and previously submitted
// prompts (oldest first). History prompts equal to a built-in are skipped.
// The initial filtered list contains every option.
func New(builtins []string, history []string) *Filter {
	f := &Filter{
		builtins:  make([]promptbar.Option, 0, len(builtins)),
		isBuiltin: make(map[string]bool, len(builtins)),
	}
	for _, p := range builtins {
		f.builtins = append(f.builtins, promptbar.Option{Prompt: p, Icon: promptbar.IconBuiltin})
		f.isBuiltin[p] = true
	}
	for _, p := range history {
		f.addHistory(p)
	}
	f.filtered = f.match("")
	return f
}

// AddHistoryOption makes prompt eligible as a future suggestion.
// Repeated prompts are kept; prompts equal to a built-in are not added.
// The filtered list is not recomputed until the next UpdateFilteredOptions.
func (f *Filter) AddHistoryOption(prompt string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.addHistory(prompt)
}

func (f *Filter) addHistory(prompt string) {
	if f.isBuiltin[prompt] {
		return
	}
	f.history = append(f.history, promptbar.Option{Prompt: prompt, Icon: promptbar.IconHistory})
}

// UpdateFilteredOptions recomputes the visible list for input: matching
// built-ins in their fixed order, then matching history options in the
// order they were added. Matching is a case-insensitive substring test and
// empty input matches everything.
func (f *Filter) UpdateFilteredOptions(input string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.filtered = f.match(input)
}

// FilteredOptions returns the last computed list.
func (f *Filter) FilteredOptions() []promptbar.Option {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]promptbar.Option, len(f.filtered))
	copy(out, f.filtered)
	return out
}

// HistoryOptions returns every history-derived option in insertion order.
func (f *Filter) HistoryOptions() []promptbar.Option {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]promptbar.Option, len(f.history))
	copy(out, f.history)
	return out
}

func (f *Filter) match(input string) []promptbar.Option {
	needle := strings.ToLower(input)
	out := make([]promptbar.Option, 0, len(f.builtins)+len(f.history))
	for _, group := range [][]promptbar.Option{f.builtins, f.history} {
		for _, opt := range group {
			if strings.Contains(strings.ToLower(opt.Prompt), needle) {
				out = append(out, opt)
			}
		}
	}
	return out
}
