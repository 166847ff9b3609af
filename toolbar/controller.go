// Package toolbar orchestrates a prompt console interaction: it sends the
// user's instruction to the backend while tracking elapsed time and showing
// progress, presents the result for review, commits accepted changes and
// records them in history.
package toolbar

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"golang.org/x/sync/errgroup"

	"github.com/Paranoid-AF/promptbar"
	"github.com/Paranoid-AF/promptbar/history"
	"github.com/Paranoid-AF/promptbar/suggest"
)

// DefaultTickInterval is the elapsed-time refresh period.
const DefaultTickInterval = 100 * time.Millisecond

const (
	failureMessage = "An error occurred while processing your request"
	progressBuffer = 16
)

// ErrBusy is returned when a prompt is submitted while another is being sent.
var ErrBusy = errors.New("a prompt is already being sent")

// State is the dispatch state.
type State int

const (
	Idle State = iota
	Sending
)

func (s State) String() string {
	if s == Sending {
		return "sending"
	}
	return "idle"
}

// Options configures a Controller. Backend, Editor and Presenter are required.
type Options struct {
	Backend   Backend
	Editor    Editor
	Presenter Presenter
	Notifier  Notifier
	Errors    ErrorReporter
	History   *history.Store
	Filter    *suggest.Filter
	Index     Index

	Clock        clock.Clock
	TickInterval time.Duration
	// OnTick is called with the elapsed seconds on every tick while sending.
	OnTick func(elapsed float64)
	// MaxRelated bounds Related results.
	MaxRelated int
}

// Outcome describes how a submission ended.
type Outcome struct {
	Prompt   string
	Result   *promptbar.Result
	Elapsed  float64
	Accepted bool
	// Err is the request failure, already reported through the notifier.
	Err error
}

// Controller runs the submit, progress, review, accept cycle.
type Controller struct {
	backend   Backend
	editor    Editor
	presenter Presenter
	notifier  Notifier
	errors    ErrorReporter
	history   *history.Store
	filter    *suggest.Filter
	index     Index

	clock      clock.Clock
	tick       time.Duration
	onTick     func(float64)
	maxRelated int

	mu      sync.Mutex
	state   State
	input   string
	elapsed float64
}

// New creates a controller. Missing optional collaborators get defaults:
// log-backed notifier and error reporter, an empty history, a filter with
// no built-ins, the wall clock and DefaultTickInterval.
func New(opts Options) (*Controller, error) {
	switch {
	case opts.Backend == nil:
		return nil, errors.New("toolbar: backend is required")
	case opts.Editor == nil:
		return nil, errors.New("toolbar: editor is required")
	case opts.Presenter == nil:
		return nil, errors.New("toolbar: presenter is required")
	}

	c := &Controller{
		backend:    opts.Backend,
		editor:     opts.Editor,
		presenter:  opts.Presenter,
		notifier:   opts.Notifier,
		errors:     opts.Errors,
		history:    opts.History,
		filter:     opts.Filter,
		index:      opts.Index,
		clock:      opts.Clock,
		tick:       opts.TickInterval,
		onTick:     opts.OnTick,
		maxRelated: opts.MaxRelated,
	}
	if c.notifier == nil {
		c.notifier = logNotifier{}
	}
	if c.errors == nil {
		c.errors = logErrorReporter{}
	}
	if c.history == nil {
		c.history = history.NewStore(nil)
	}
	if c.filter == nil {
		c.filter = suggest.New(nil, c.history.Prompts())
	}
	if c.clock == nil {
		c.clock = clock.New()
	}
	if c.tick <= 0 {
		c.tick = DefaultTickInterval
	}
	if c.maxRelated <= 0 {
		c.maxRelated = 5
	}
	return c, nil
}

// History returns the interaction log.
func (c *Controller) History() *history.Store { return c.history }

// State returns the current dispatch state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// IsLoading reports whether a request is in flight.
func (c *Controller) IsLoading() bool {
	return c.State() == Sending
}

// Elapsed returns the elapsed seconds of the current or last request.
func (c *Controller) Elapsed() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.elapsed
}

// Input returns the current input text.
func (c *Controller) Input() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.input
}

// SetInput replaces the input text and refilters suggestions.
func (c *Controller) SetInput(text string) {
	c.mu.Lock()
	c.input = text
	c.mu.Unlock()
	c.filter.UpdateFilteredOptions(text)
}

// Options returns the suggestions for the current input.
func (c *Controller) Options() []promptbar.Option {
	return c.filter.FilteredOptions()
}

// SubmitInput submits the current input text.
func (c *Controller) SubmitInput(ctx context.Context) (*Outcome, error) {
	return c.Submit(ctx, c.Input())
}

// Submit sends prompt to the backend and blocks until the interaction is
// settled: rejected by the user, accepted and committed, or failed. A
// backend failure is reported through the notifier and returned in
// Outcome.Err with a nil error. The returned error is reserved for ErrBusy
// and failures of the review or commit step.
func (c *Controller) Submit(ctx context.Context, prompt string) (*Outcome, error) {
	c.mu.Lock()
	if c.state == Sending {
		c.mu.Unlock()
		return nil, ErrBusy
	}
	c.filter.AddHistoryOption(prompt)
	c.input = ""
	c.state = Sending
	c.elapsed = 0
	start := c.clock.Now()
	c.mu.Unlock()

	slog.Debug("sending prompt", "prompt", prompt)

	before, res, err := c.dispatch(ctx, prompt, start)
	out := &Outcome{Prompt: prompt, Result: res, Elapsed: c.Elapsed()}

	if err != nil {
		slog.Warn("prompt failed", "elapsed", out.Elapsed, "error", err)
		out.Err = err
		c.notifier.Notify(failureMessage, "Details", func() {
			c.errors.ShowError(err)
		})
		return out, nil
	}

	slog.Debug("prompt succeeded", "elapsed", out.Elapsed)

	accepted, err := c.presenter.Review(ctx, Review{
		Prompt:     prompt,
		BeforeCode: before,
		AfterCode:  res.AfterCode,
		Elapsed:    out.Elapsed,
	})
	if err != nil {
		return out, fmt.Errorf("review: %w", err)
	}
	if !accepted {
		return out, nil
	}

	if err := c.editor.Commit(ctx, res.AfterCode); err != nil {
		return out, fmt.Errorf("commit: %w", err)
	}
	c.history.Append(promptbar.NewInteraction(prompt, before, res.AfterCode))
	out.Accepted = true

	if c.index != nil {
		if err := c.index.Add(ctx, prompt); err != nil {
			slog.Warn("failed to index prompt", "error", err)
		}
	}
	return out, nil
}

// dispatch snapshots the editor and runs the backend request alongside the
// elapsed ticker and the progress overlay. Every goroutine it starts has
// exited and the state is Idle by the time it returns, panics included.
func (c *Controller) dispatch(ctx context.Context, prompt string, start time.Time) (string, *promptbar.Result, error) {
	defer c.settle(start)

	before, err := c.editor.Source(ctx)
	if err != nil {
		return "", nil, fmt.Errorf("read editor: %w", err)
	}

	ticker := c.clock.Ticker(c.tick)
	tickCtx, stopTicker := context.WithCancel(context.Background())
	overlayCtx, closeOverlay := context.WithCancel(ctx)

	progress := make(chan promptbar.Progress, progressBuffer)
	updates := make(chan promptbar.Progress)
	overlayDone := make(chan struct{})
	forwarded := make(chan struct{})

	var g errgroup.Group
	g.Go(func() error {
		defer ticker.Stop()
		c.runTicker(tickCtx, ticker, start)
		return nil
	})
	g.Go(func() error {
		defer close(overlayDone)
		defer func() {
			if r := recover(); r != nil {
				slog.Error("progress overlay panicked", "panic", r)
				c.errors.ShowError(fmt.Errorf("progress overlay panicked: %v", r))
			}
		}()
		c.presenter.Progress(overlayCtx, updates)
		return nil
	})
	g.Go(func() error {
		defer close(forwarded)
		forward(progress, updates, overlayDone, overlayCtx.Done())
		return nil
	})
	defer func() {
		// The overlay closes before the forwarder is awaited so a presenter
		// that never reads updates cannot hold the request open.
		closeOverlay()
		close(progress)
		<-forwarded
		stopTicker()
		_ = g.Wait()
	}()

	res, err := c.backend.Send(ctx, promptbar.Request{Prompt: prompt, Code: before}, progress)
	if err == nil && res == nil {
		err = errors.New("backend returned no result")
	}
	return before, res, err
}

// settle records the final elapsed time and returns to Idle.
func (c *Controller) settle(start time.Time) {
	elapsed := roundSeconds(c.clock.Since(start))
	c.mu.Lock()
	c.elapsed = elapsed
	c.state = Idle
	c.mu.Unlock()
}

func (c *Controller) runTicker(ctx context.Context, ticker *clock.Ticker, start time.Time) {
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			elapsed := roundSeconds(now.Sub(start))
			c.mu.Lock()
			c.elapsed = elapsed
			c.mu.Unlock()
			if c.onTick != nil {
				c.onTick(elapsed)
			}
		}
	}
}

// forward passes backend progress to the overlay until the backend is done.
// Once the overlay is dismissed or closed, remaining updates are drained
// and dropped.
func forward(progress <-chan promptbar.Progress, updates chan<- promptbar.Progress, overlayDone, closed <-chan struct{}) {
	defer close(updates)
	for p := range progress {
		select {
		case updates <- p:
		case <-overlayDone:
		case <-closed:
		}
	}
}

// Revert commits the BeforeCode of history entry i. It returns false
// without touching the editor when i is out of range.
func (c *Controller) Revert(ctx context.Context, i int) (bool, error) {
	code, ok := c.history.Revert(i)
	if !ok {
		return false, nil
	}
	if err := c.editor.Commit(ctx, code); err != nil {
		return true, fmt.Errorf("commit: %w", err)
	}
	return true, nil
}

// Save persists history entry i and confirms the location through the
// notifier. It returns false when i is out of range.
func (c *Controller) Save(ctx context.Context, i int) (string, bool, error) {
	location, ok, err := c.history.Persist(ctx, i)
	if !ok {
		return "", false, nil
	}
	if err != nil {
		c.notifier.Notify("Failed to save interaction", "Details", func() {
			c.errors.ShowError(err)
		})
		return "", true, err
	}
	c.notifier.Notify("Saved interaction to "+location, "Close", nil)
	return location, true, nil
}

// Related returns accepted prompts similar to query. It returns nil when
// no index is configured.
func (c *Controller) Related(ctx context.Context, query string) ([]string, error) {
	if c.index == nil {
		return nil, nil
	}
	return c.index.SearchRelevant(ctx, query, c.maxRelated)
}

// roundSeconds converts d to seconds rounded to one decimal place.
func roundSeconds(d time.Duration) float64 {
	return math.Round(d.Seconds()*10) / 10
}
