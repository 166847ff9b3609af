package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"github.com/Paranoid-AF/promptbar"
	"github.com/Paranoid-AF/promptbar/history"
	"github.com/Paranoid-AF/promptbar/notify"
	"github.com/Paranoid-AF/promptbar/toolbar"
)

var (
	hintStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#666666"))
	statusStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#5FAFFF"))
	addStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#5FD75F"))
	delStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF5F5F"))
	hunkStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#00AFAF"))
	headerStyle  = lipgloss.NewStyle().Bold(true)
	toastStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFD75F"))
	errorBoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#FF5F5F")).
			Padding(0, 1)
)

// termWriter wraps a file and converts \n to \r\n when the file is a terminal
// (needed because raw mode disables the kernel's NL→CRNL translation).
// When the file is redirected, \n passes through unchanged.
func termWriter(f *os.File) io.Writer {
	if term.IsTerminal(int(f.Fd())) {
		return &crlfWriter{w: f}
	}
	return f
}

type crlfWriter struct {
	w io.Writer
}

func (c *crlfWriter) Write(p []byte) (int, error) {
	replaced := bytes.ReplaceAll(p, []byte("\n"), []byte("\r\n"))
	_, err := c.w.Write(replaced)
	return len(p), err // report original length to caller
}

// screen serializes writes from the console loop and the status goroutines.
type screen struct {
	mu  sync.Mutex
	out io.Writer

	// status line state while a request is in flight
	elapsed float64
	last    string
	active  bool
}

func newScreen(out io.Writer) *screen {
	return &screen{out: out}
}

func (s *screen) Printf(format string, args ...any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintf(s.out, format, args...)
}

// startStatus begins drawing the in-flight status line.
func (s *screen) startStatus() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = true
	s.elapsed = 0
	s.last = ""
	s.drawStatus()
}

// stopStatus erases the status line.
func (s *screen) stopStatus() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active {
		fmt.Fprint(s.out, "\r\x1b[K")
	}
	s.active = false
}

func (s *screen) setElapsed(elapsed float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.elapsed = elapsed
	s.drawStatus()
}

func (s *screen) setProgress(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last = lastLine(text)
	s.drawStatus()
}

func (s *screen) drawStatus() {
	if !s.active {
		return
	}
	line := fmt.Sprintf("sending… %.1fs", s.elapsed)
	if s.last != "" {
		line += "  " + truncate(s.last, 60)
	}
	fmt.Fprint(s.out, "\r\x1b[K", statusStyle.Render(line))
}

// presenter shows progress on the status line and asks for review on the tty.
type presenter struct {
	screen *screen
	editor *Editor
}

func (p *presenter) Progress(ctx context.Context, updates <-chan promptbar.Progress) {
	p.screen.startStatus()
	defer p.screen.stopStatus()
	for {
		select {
		case <-ctx.Done():
			return
		case u, ok := <-updates:
			if !ok {
				return
			}
			p.screen.setProgress(u.Text)
		}
	}
}

func (p *presenter) Review(_ context.Context, r toolbar.Review) (bool, error) {
	diff, err := history.UnifiedDiff(r.BeforeCode, r.AfterCode)
	if err != nil {
		return false, err
	}
	p.screen.Printf("%s\n", headerStyle.Render(fmt.Sprintf("%s (%.1fs)", r.Prompt, r.Elapsed)))
	if diff == "" {
		p.screen.Printf("%s\n", hintStyle.Render("(no changes)"))
	} else {
		p.screen.Printf("%s", renderDiff(diff))
	}
	return p.editor.Confirm("accept? [y/N] ")
}

// renderDiff colours a unified diff line by line.
func renderDiff(diff string) string {
	var sb strings.Builder
	for _, line := range strings.SplitAfter(diff, "\n") {
		if line == "" {
			continue
		}
		body := strings.TrimSuffix(line, "\n")
		switch {
		case strings.HasPrefix(body, "+++"), strings.HasPrefix(body, "---"):
			sb.WriteString(headerStyle.Render(body))
		case strings.HasPrefix(body, "@@"):
			sb.WriteString(hunkStyle.Render(body))
		case strings.HasPrefix(body, "+"):
			sb.WriteString(addStyle.Render(body))
		case strings.HasPrefix(body, "-"):
			sb.WriteString(delStyle.Render(body))
		default:
			sb.WriteString(body)
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

// trayNotifier shows toasts from a notify.Tray on the screen.
type trayNotifier struct {
	tray   *notify.Tray
	screen *screen
}

func (n *trayNotifier) Notify(message, action string, onAction func()) {
	n.tray.Show(message, action, onAction)
	line := "● " + message
	if action != "" {
		line += "  " + hintStyle.Render("[:details → "+action+"]")
	}
	n.screen.Printf("%s\n", toastStyle.Render(line))
}

// invokeLatest runs the action of the newest live toast.
func (n *trayNotifier) invokeLatest() bool {
	t, ok := n.tray.Latest()
	if !ok {
		return false
	}
	return n.tray.Invoke(t.ID)
}

// errorReporter shows full error details in a box.
type errorReporter struct {
	screen *screen
}

func (r *errorReporter) ShowError(err error) {
	r.screen.Printf("%s\n", errorBoxStyle.Render("Error\n\n"+err.Error()))
}

func lastLine(s string) string {
	s = strings.TrimRight(s, "\n")
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
