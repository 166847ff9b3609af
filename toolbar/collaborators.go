package toolbar

import (
	"context"
	"log/slog"

	"github.com/Paranoid-AF/promptbar"
)

// Backend generates a revised version of the editor content.
// Send may write live updates to progress while it runs and must not
// write to it after returning. Dropping updates is allowed.
type Backend interface {
	Send(ctx context.Context, req promptbar.Request, progress chan<- promptbar.Progress) (*promptbar.Result, error)
}

// Editor is the host editor's content model.
type Editor interface {
	Source(ctx context.Context) (string, error)
	Commit(ctx context.Context, code string) error
}

// Review is what the response overlay shows.
type Review struct {
	Prompt     string
	BeforeCode string
	AfterCode  string
	// Elapsed is the request duration in seconds, rounded to one decimal.
	Elapsed float64
}

// Presenter shows the progress and response overlays.
type Presenter interface {
	// Progress shows updates until ctx is done or updates is closed.
	// ctx is cancelled as soon as the request settles, and updates still
	// buffered at that point may be dropped. It may return earlier when the user dismisses the overlay; that
	// never cancels the request.
	Progress(ctx context.Context, updates <-chan promptbar.Progress)
	// Review shows the diff and reports whether the user accepted it.
	Review(ctx context.Context, r Review) (bool, error)
}

// Notifier shows a transient message with an optional action.
type Notifier interface {
	Notify(message, action string, onAction func())
}

// ErrorReporter shows the full details of an error.
type ErrorReporter interface {
	ShowError(err error)
}

// Index finds previously accepted prompts similar to a query.
type Index interface {
	Add(ctx context.Context, prompts ...string) error
	SearchRelevant(ctx context.Context, query string, topK int) ([]string, error)
}

type logNotifier struct{}

func (logNotifier) Notify(message, action string, _ func()) {
	slog.Info(message, "action", action)
}

type logErrorReporter struct{}

func (logErrorReporter) ShowError(err error) {
	slog.Error("request failed", "error", err)
}
