package toolbar

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/Paranoid-AF/promptbar"
	"github.com/Paranoid-AF/promptbar/history"
	"github.com/Paranoid-AF/promptbar/suggest"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type backendFunc func(ctx context.Context, req promptbar.Request, progress chan<- promptbar.Progress) (*promptbar.Result, error)

func (f backendFunc) Send(ctx context.Context, req promptbar.Request, progress chan<- promptbar.Progress) (*promptbar.Result, error) {
	return f(ctx, req, progress)
}

func replyWith(after string) backendFunc {
	return func(context.Context, promptbar.Request, chan<- promptbar.Progress) (*promptbar.Result, error) {
		return &promptbar.Result{AfterCode: after}, nil
	}
}

type fakeEditor struct {
	mu        sync.Mutex
	code      string
	sourceErr error
	commitErr error
	commits   []string
}

func (e *fakeEditor) Source(context.Context) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.code, e.sourceErr
}

func (e *fakeEditor) Commit(_ context.Context, code string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.commitErr != nil {
		return e.commitErr
	}
	e.code = code
	e.commits = append(e.commits, code)
	return nil
}

type fakePresenter struct {
	accept    bool
	reviewErr error
	dismiss   bool

	mu      sync.Mutex
	updates []string
	reviews []Review
}

func (p *fakePresenter) Progress(ctx context.Context, updates <-chan promptbar.Progress) {
	if p.dismiss {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case u, ok := <-updates:
			if !ok {
				return
			}
			p.mu.Lock()
			p.updates = append(p.updates, u.Text)
			p.mu.Unlock()
		}
	}
}

func (p *fakePresenter) seen() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.updates)
}

// spinnerPresenter shows a spinner until the request settles and never
// reads the updates.
type spinnerPresenter struct{ *fakePresenter }

func (spinnerPresenter) Progress(ctx context.Context, _ <-chan promptbar.Progress) { <-ctx.Done() }

type panickingPresenter struct{ *fakePresenter }

func (panickingPresenter) Progress(context.Context, <-chan promptbar.Progress) {
	panic("overlay exploded")
}

func (p *fakePresenter) Review(_ context.Context, r Review) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reviews = append(p.reviews, r)
	return p.accept, p.reviewErr
}

type notification struct {
	message  string
	action   string
	onAction func()
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []notification
}

func (n *fakeNotifier) Notify(message, action string, onAction func()) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, notification{message, action, onAction})
}

type fakeReporter struct {
	shown []error
}

func (r *fakeReporter) ShowError(err error) { r.shown = append(r.shown, err) }

type fakeIndex struct {
	added []string
	topK  int
}

func (x *fakeIndex) Add(_ context.Context, prompts ...string) error {
	x.added = append(x.added, prompts...)
	return nil
}

func (x *fakeIndex) SearchRelevant(_ context.Context, query string, topK int) ([]string, error) {
	x.topK = topK
	var out []string
	for _, p := range x.added {
		if strings.Contains(p, query) {
			out = append(out, p)
		}
	}
	return out, nil
}

type fixture struct {
	ctrl      *Controller
	editor    *fakeEditor
	presenter *fakePresenter
	notifier  *fakeNotifier
	reporter  *fakeReporter
}

func newFixture(t *testing.T, backend Backend, opts Options) *fixture {
	t.Helper()
	f := &fixture{
		editor:    &fakeEditor{code: "print('hi')"},
		presenter: &fakePresenter{accept: true},
		notifier:  &fakeNotifier{},
		reporter:  &fakeReporter{},
	}
	opts.Backend = backend
	opts.Editor = f.editor
	opts.Presenter = f.presenter
	opts.Notifier = f.notifier
	opts.Errors = f.reporter
	if opts.TickInterval == 0 {
		opts.TickInterval = 5 * time.Millisecond
	}
	ctrl, err := New(opts)
	require.NoError(t, err)
	f.ctrl = ctrl
	return f
}

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := New(Options{})
	assert.Error(t, err)
	_, err = New(Options{Backend: replyWith("")})
	assert.Error(t, err)
	_, err = New(Options{Backend: replyWith(""), Editor: &fakeEditor{}})
	assert.Error(t, err)
}

func TestSubmitAccepted(t *testing.T) {
	var loadingDuringSend bool
	var seen promptbar.Request
	f := newFixture(t, replyWith(""), Options{})
	f.ctrl.backend = backendFunc(func(_ context.Context, req promptbar.Request, _ chan<- promptbar.Progress) (*promptbar.Result, error) {
		loadingDuringSend = f.ctrl.IsLoading()
		seen = req
		return &promptbar.Result{AfterCode: "print('hello')"}, nil
	})

	f.ctrl.SetInput("Fix typo")
	out, err := f.ctrl.SubmitInput(context.Background())
	require.NoError(t, err)

	assert.True(t, loadingDuringSend)
	assert.False(t, f.ctrl.IsLoading())
	assert.Equal(t, Idle, f.ctrl.State())
	assert.Equal(t, "", f.ctrl.Input())
	assert.Equal(t, promptbar.Request{Prompt: "Fix typo", Code: "print('hi')"}, seen)

	assert.True(t, out.Accepted)
	assert.NoError(t, out.Err)
	assert.Equal(t, []string{"print('hello')"}, f.editor.commits)

	require.Equal(t, 1, f.ctrl.History().Len())
	in, _ := f.ctrl.History().Get(0)
	assert.Equal(t, "Fix typo", in.Prompt)
	assert.Equal(t, "print('hi')", in.BeforeCode)
	assert.Equal(t, "print('hello')", in.AfterCode)

	require.Len(t, f.presenter.reviews, 1)
	assert.Equal(t, "print('hi')", f.presenter.reviews[0].BeforeCode)
	assert.Equal(t, "print('hello')", f.presenter.reviews[0].AfterCode)
}

func TestSubmitRejected(t *testing.T) {
	f := newFixture(t, replyWith("x = 2"), Options{})
	f.presenter.accept = false

	out, err := f.ctrl.Submit(context.Background(), "change x")
	require.NoError(t, err)
	assert.False(t, out.Accepted)
	assert.Empty(t, f.editor.commits)
	assert.Equal(t, 0, f.ctrl.History().Len())
}

func TestSubmitFailureNotifies(t *testing.T) {
	boom := errors.New("model overloaded")
	filter := suggest.New(nil, nil)
	f := newFixture(t, backendFunc(func(context.Context, promptbar.Request, chan<- promptbar.Progress) (*promptbar.Result, error) {
		return nil, boom
	}), Options{Filter: filter})

	out, err := f.ctrl.Submit(context.Background(), "fix bug")
	require.NoError(t, err)
	assert.ErrorIs(t, out.Err, boom)
	assert.False(t, f.ctrl.IsLoading())
	assert.Equal(t, 0, f.ctrl.History().Len())
	assert.Empty(t, f.presenter.reviews)

	// The prompt stays available as a suggestion even though it failed.
	filter.UpdateFilteredOptions("")
	assert.Equal(t, []promptbar.Option{{Prompt: "fix bug", Icon: promptbar.IconHistory}}, filter.FilteredOptions())

	require.Len(t, f.notifier.sent, 1)
	n := f.notifier.sent[0]
	assert.Equal(t, "An error occurred while processing your request", n.message)
	assert.Equal(t, "Details", n.action)
	require.NotNil(t, n.onAction)
	n.onAction()
	require.Len(t, f.reporter.shown, 1)
	assert.ErrorIs(t, f.reporter.shown[0], boom)
}

func TestSubmitSourceFailure(t *testing.T) {
	called := false
	f := newFixture(t, backendFunc(func(context.Context, promptbar.Request, chan<- promptbar.Progress) (*promptbar.Result, error) {
		called = true
		return &promptbar.Result{}, nil
	}), Options{})
	f.editor.sourceErr = errors.New("no document")

	out, err := f.ctrl.Submit(context.Background(), "p")
	require.NoError(t, err)
	assert.Error(t, out.Err)
	assert.False(t, called)
	assert.False(t, f.ctrl.IsLoading())
	assert.Len(t, f.notifier.sent, 1)
}

func TestSubmitNilResultIsFailure(t *testing.T) {
	f := newFixture(t, backendFunc(func(context.Context, promptbar.Request, chan<- promptbar.Progress) (*promptbar.Result, error) {
		return nil, nil
	}), Options{})

	out, err := f.ctrl.Submit(context.Background(), "p")
	require.NoError(t, err)
	assert.Error(t, out.Err)
}

func TestSubmitPanicReturnsToIdle(t *testing.T) {
	f := newFixture(t, backendFunc(func(context.Context, promptbar.Request, chan<- promptbar.Progress) (*promptbar.Result, error) {
		panic("backend exploded")
	}), Options{})

	assert.Panics(t, func() {
		_, _ = f.ctrl.Submit(context.Background(), "p")
	})
	assert.False(t, f.ctrl.IsLoading())

	// A later submission is not rejected as busy.
	f.ctrl.backend = replyWith("ok")
	_, err := f.ctrl.Submit(context.Background(), "p")
	assert.NoError(t, err)
}

func TestSubmitWhileSendingIsBusy(t *testing.T) {
	release := make(chan struct{})
	f := newFixture(t, backendFunc(func(context.Context, promptbar.Request, chan<- promptbar.Progress) (*promptbar.Result, error) {
		<-release
		return &promptbar.Result{AfterCode: "done"}, nil
	}), Options{})

	done := make(chan error, 1)
	go func() {
		_, err := f.ctrl.Submit(context.Background(), "first")
		done <- err
	}()
	assert.Eventually(t, f.ctrl.IsLoading, time.Second, time.Millisecond)

	_, err := f.ctrl.Submit(context.Background(), "second")
	assert.ErrorIs(t, err, ErrBusy)

	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, 1, f.ctrl.History().Len())
}

func TestProgressReachesOverlay(t *testing.T) {
	var f *fixture
	f = newFixture(t, backendFunc(func(_ context.Context, _ promptbar.Request, progress chan<- promptbar.Progress) (*promptbar.Result, error) {
		progress <- promptbar.Progress{Text: "thinking"}
		progress <- promptbar.Progress{Text: "writing"}
		// The overlay closes when the request settles, so wait for it to
		// catch up first.
		assert.Eventually(t, func() bool { return f.presenter.seen() == 2 }, time.Second, time.Millisecond)
		return &promptbar.Result{AfterCode: "x"}, nil
	}), Options{})

	_, err := f.ctrl.Submit(context.Background(), "p")
	require.NoError(t, err)
	assert.Equal(t, []string{"thinking", "writing"}, f.presenter.updates)
}

func TestSpinnerOverlaySettles(t *testing.T) {
	f := newFixture(t, backendFunc(func(_ context.Context, _ promptbar.Request, progress chan<- promptbar.Progress) (*promptbar.Result, error) {
		progress <- promptbar.Progress{Text: "thinking"}
		return &promptbar.Result{AfterCode: "x"}, nil
	}), Options{})
	f.ctrl.presenter = spinnerPresenter{f.presenter}

	type result struct {
		out *Outcome
		err error
	}
	done := make(chan result, 1)
	go func() {
		out, err := f.ctrl.Submit(context.Background(), "p")
		done <- result{out, err}
	}()

	select {
	case r := <-done:
		require.NoError(t, r.err)
		assert.NoError(t, r.out.Err)
		assert.True(t, r.out.Accepted)
	case <-time.After(2 * time.Second):
		t.Fatalf("Submit still blocked; IsLoading=%v", f.ctrl.IsLoading())
	}
	assert.False(t, f.ctrl.IsLoading())
	assert.Equal(t, []string{"x"}, f.editor.commits)
}

func TestPanickingOverlayIsReported(t *testing.T) {
	f := newFixture(t, backendFunc(func(_ context.Context, _ promptbar.Request, progress chan<- promptbar.Progress) (*promptbar.Result, error) {
		progress <- promptbar.Progress{Text: "thinking"}
		return &promptbar.Result{AfterCode: "x"}, nil
	}), Options{})
	f.ctrl.presenter = panickingPresenter{f.presenter}

	out, err := f.ctrl.Submit(context.Background(), "p")
	require.NoError(t, err)
	assert.True(t, out.Accepted)
	assert.False(t, f.ctrl.IsLoading())
	require.Len(t, f.reporter.shown, 1)
	assert.ErrorContains(t, f.reporter.shown[0], "overlay exploded")
}

func TestDismissedOverlayDoesNotCancel(t *testing.T) {
	f := newFixture(t, backendFunc(func(ctx context.Context, _ promptbar.Request, progress chan<- promptbar.Progress) (*promptbar.Result, error) {
		for i := 0; i < 4*progressBuffer; i++ {
			progress <- promptbar.Progress{Text: "chunk"}
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return &promptbar.Result{AfterCode: "x"}, nil
	}), Options{})
	f.presenter.dismiss = true

	out, err := f.ctrl.Submit(context.Background(), "p")
	require.NoError(t, err)
	assert.NoError(t, out.Err)
	assert.True(t, out.Accepted)
	assert.Len(t, f.presenter.reviews, 1)
}

func TestElapsedTracksClock(t *testing.T) {
	mock := clock.NewMock()
	var mu sync.Mutex
	var ticks []float64

	f := newFixture(t, backendFunc(func(context.Context, promptbar.Request, chan<- promptbar.Progress) (*promptbar.Result, error) {
		mock.Add(1500 * time.Millisecond)
		return &promptbar.Result{AfterCode: "x"}, nil
	}), Options{
		Clock:        mock,
		TickInterval: 100 * time.Millisecond,
		OnTick: func(elapsed float64) {
			mu.Lock()
			ticks = append(ticks, elapsed)
			mu.Unlock()
		},
	})

	out, err := f.ctrl.Submit(context.Background(), "p")
	require.NoError(t, err)
	assert.Equal(t, 1.5, out.Elapsed)
	assert.Equal(t, 1.5, f.ctrl.Elapsed())
	require.Len(t, f.presenter.reviews, 1)
	assert.Equal(t, 1.5, f.presenter.reviews[0].Elapsed)

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, ticks)
	for _, v := range ticks {
		assert.Greater(t, v, 0.0)
		assert.LessOrEqual(t, v, 1.5)
	}
}

func TestElapsedResetsOnSubmit(t *testing.T) {
	mock := clock.NewMock()
	step := 2 * time.Second
	f := newFixture(t, backendFunc(func(context.Context, promptbar.Request, chan<- promptbar.Progress) (*promptbar.Result, error) {
		mock.Add(step)
		return &promptbar.Result{AfterCode: "x"}, nil
	}), Options{Clock: mock, TickInterval: time.Hour})

	_, err := f.ctrl.Submit(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, 2.0, f.ctrl.Elapsed())

	step = 250 * time.Millisecond
	_, err = f.ctrl.Submit(context.Background(), "b")
	require.NoError(t, err)
	assert.Equal(t, 0.3, f.ctrl.Elapsed())
}

func TestCommitFailureSkipsHistory(t *testing.T) {
	f := newFixture(t, replyWith("x"), Options{})
	f.editor.commitErr = errors.New("read-only")

	out, err := f.ctrl.Submit(context.Background(), "p")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "commit")
	assert.False(t, out.Accepted)
	assert.Equal(t, 0, f.ctrl.History().Len())
}

func TestReviewFailure(t *testing.T) {
	f := newFixture(t, replyWith("x"), Options{})
	f.presenter.reviewErr = errors.New("closed")

	_, err := f.ctrl.Submit(context.Background(), "p")
	require.Error(t, err)
	assert.Empty(t, f.editor.commits)
	assert.Equal(t, 0, f.ctrl.History().Len())
}

func TestRevert(t *testing.T) {
	f := newFixture(t, replyWith("v2"), Options{})
	f.editor.code = "v1"
	_, err := f.ctrl.Submit(context.Background(), "bump")
	require.NoError(t, err)
	require.Equal(t, "v2", f.editor.code)

	ok, err := f.ctrl.Revert(context.Background(), 0)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v1", f.editor.code)

	ok, err = f.ctrl.Revert(context.Background(), 5)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, []string{"v2", "v1"}, f.editor.commits)
}

func TestSave(t *testing.T) {
	root := t.TempDir()
	store := history.NewStore(history.NewDirSaver(root))
	f := newFixture(t, replyWith("after"), Options{History: store})

	_, err := f.ctrl.Submit(context.Background(), "p")
	require.NoError(t, err)

	location, ok, err := f.ctrl.Save(context.Background(), 0)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, strings.HasPrefix(location, root))

	require.Len(t, f.notifier.sent, 1)
	assert.Equal(t, "Saved interaction to "+location, f.notifier.sent[0].message)
	assert.Equal(t, "Close", f.notifier.sent[0].action)

	_, ok, err = f.ctrl.Save(context.Background(), 3)
	assert.NoError(t, err)
	assert.False(t, ok)
}

func TestSaveWithoutSaverNotifiesFailure(t *testing.T) {
	f := newFixture(t, replyWith("after"), Options{})
	_, err := f.ctrl.Submit(context.Background(), "p")
	require.NoError(t, err)

	_, ok, err := f.ctrl.Save(context.Background(), 0)
	assert.True(t, ok)
	assert.Error(t, err)
	require.Len(t, f.notifier.sent, 1)
	assert.Equal(t, "Details", f.notifier.sent[0].action)
}

func TestSuggestionsFollowInput(t *testing.T) {
	filter := suggest.New([]string{"Fix typo", "Add a button"}, nil)
	f := newFixture(t, replyWith("x"), Options{Filter: filter})

	f.ctrl.SetInput("fix")
	assert.Equal(t, []promptbar.Option{{Prompt: "Fix typo", Icon: promptbar.IconBuiltin}}, f.ctrl.Options())

	_, err := f.ctrl.Submit(context.Background(), "fix the header")
	require.NoError(t, err)
	f.ctrl.SetInput("FIX")
	assert.Equal(t, []promptbar.Option{
		{Prompt: "Fix typo", Icon: promptbar.IconBuiltin},
		{Prompt: "fix the header", Icon: promptbar.IconHistory},
	}, f.ctrl.Options())
}

func TestAcceptedPromptsAreIndexed(t *testing.T) {
	idx := &fakeIndex{}
	f := newFixture(t, replyWith("x"), Options{Index: idx, MaxRelated: 3})

	_, err := f.ctrl.Submit(context.Background(), "make the title bold")
	require.NoError(t, err)
	f.presenter.accept = false
	_, err = f.ctrl.Submit(context.Background(), "make it red")
	require.NoError(t, err)

	related, err := f.ctrl.Related(context.Background(), "make")
	require.NoError(t, err)
	assert.Equal(t, []string{"make the title bold"}, related)
	assert.Equal(t, 3, idx.topK)
}

func TestRelatedWithoutIndex(t *testing.T) {
	f := newFixture(t, replyWith("x"), Options{})
	related, err := f.ctrl.Related(context.Background(), "q")
	assert.NoError(t, err)
	assert.Nil(t, related)
}

func TestRoundSeconds(t *testing.T) {
	assert.Equal(t, 0.0, roundSeconds(0))
	assert.Equal(t, 0.1, roundSeconds(149*time.Millisecond))
	assert.Equal(t, 0.2, roundSeconds(160*time.Millisecond))
	assert.Equal(t, 12.3, roundSeconds(12340*time.Millisecond))
}
