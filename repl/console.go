package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/Paranoid-AF/promptbar"
	"github.com/Paranoid-AF/promptbar/generate"
	"github.com/Paranoid-AF/promptbar/history"
	"github.com/Paranoid-AF/promptbar/index"
	"github.com/Paranoid-AF/promptbar/layout"
	"github.com/Paranoid-AF/promptbar/notify"
	"github.com/Paranoid-AF/promptbar/suggest"
	"github.com/Paranoid-AF/promptbar/toolbar"
)

// Terminal cells are mapped to nominal pixels so the toolbar geometry
// keeps the same units as the persisted position.
const (
	cellWidth     = 8
	cellHeight    = 16
	toolbarHeight = 3 * cellHeight
)

const helpText = `commands:
  :history       list interactions of this session
  :revert N      restore the code from before interaction N
  :save N        save interaction N to disk
  :details       open the latest notification's action
  :related [q]   show accepted prompts similar to q
  :toggle        expand or collapse the toolbar
  :move X Y      move the toolbar to X,Y (pixels)
  :help          show this help
  :quit          exit
`

type console struct {
	file    string
	cfg     *promptbar.Config
	editor  *Editor
	screen  *screen
	ctrl    *toolbar.Controller
	layout  *layout.Layout
	notify  *trayNotifier
	related *index.Indexer
}

// runConsole runs the interactive prompt loop for file until the user quits.
func runConsole(ctx context.Context, cfg *promptbar.Config, file string) error {
	editor, err := NewEditor()
	if err != nil {
		return err
	}
	defer editor.Close()

	store, err := layout.OpenFileStore(promptbar.StatePath())
	if err != nil {
		slog.Warn("layout state unavailable, using memory", "error", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	var lstore layout.Store = layout.NewMemStore()
	if store != nil {
		lstore = store
		g.Go(func() error {
			if err := store.Watch(ctx); err != nil && !errors.Is(err, context.Canceled) {
				slog.Debug("layout watch stopped", "error", err)
			}
			return nil
		})
	}

	idx := index.FromConfig(cfg)
	if idx.Enabled() {
		if err := idx.LoadCache(promptbar.IndexCachePath()); err != nil {
			slog.Debug("no embedding cache loaded", "error", err)
		}
		g.Go(func() error {
			warmIndex(ctx, idx)
			return nil
		})
		defer func() {
			if err := idx.SaveCache(promptbar.IndexCachePath()); err != nil {
				slog.Warn("failed to save embedding cache", "error", err)
			}
		}()
	}

	scr := newScreen(termWriter(editor.tty))
	tray := notify.NewTray(cfg.NotifyDuration())
	defer tray.Close()

	c := &console{
		file:    file,
		cfg:     cfg,
		editor:  editor,
		screen:  scr,
		layout:  layout.New(lstore, cfg.Toolbar.MinWidth),
		notify:  &trayNotifier{tray: tray, screen: scr},
		related: idx,
	}

	opts := toolbar.Options{
		Backend:      generate.FromConfig(cfg),
		Editor:       &fileEditor{path: file},
		Presenter:    &presenter{screen: scr, editor: editor},
		Notifier:     c.notify,
		Errors:       &errorReporter{screen: scr},
		History:      history.NewStore(history.NewDirSaver(promptbar.InteractionsDir())),
		Filter:       suggest.New(cfg.Suggestions.Builtins, nil),
		TickInterval: cfg.TickInterval(),
		OnTick:       scr.setElapsed,
		MaxRelated:   cfg.Embedding.MaxRelated,
	}
	if idx.Enabled() {
		opts.Index = idx
	}
	c.ctrl, err = toolbar.New(opts)
	if err != nil {
		return err
	}

	err = c.loop(ctx)
	cancel()
	if werr := g.Wait(); werr != nil {
		slog.Debug("background task failed", "error", werr)
	}
	return err
}

// warmIndex indexes the prompts of previously saved interactions.
func warmIndex(ctx context.Context, idx *index.Indexer) {
	saved, err := history.ListSaved(promptbar.InteractionsDir())
	if err != nil {
		slog.Debug("cannot list saved interactions", "error", err)
		return
	}
	prompts := make([]string, 0, len(saved))
	for _, s := range saved {
		prompts = append(prompts, s.Interaction.Prompt)
	}
	if err := idx.Add(ctx, prompts...); err != nil {
		slog.Debug("indexing saved prompts failed", "error", err)
	}
}

func (c *console) loop(ctx context.Context) error {
	c.screen.Printf("\x1b[2J\x1b[H")
	c.screen.Printf("promptbar: editing %s\n", c.file)
	c.screen.Printf("%s\n", hintStyle.Render("type an instruction, Tab for suggestions, :help for commands"))
	c.restoreLayout()

	for {
		line, err := c.editor.ReadLine(c.prompt(), c.complete)
		if err == io.EOF || errors.Is(err, ErrInterrupt) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read input: %w", err)
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, ":") {
			name, args := parseCommand(line)
			if name == "quit" || name == "q" {
				return nil
			}
			c.run(ctx, name, args)
			continue
		}

		c.ctrl.SetInput(line)
		if _, err := c.ctrl.SubmitInput(ctx); err != nil {
			c.screen.Printf("%s\n", delStyle.Render("error: "+err.Error()))
		}
	}
}

func (c *console) complete(text string) []string {
	if strings.HasPrefix(text, ":") {
		return nil
	}
	c.ctrl.SetInput(text)
	opts := c.ctrl.Options()
	out := make([]string, len(opts))
	for i, o := range opts {
		out[i] = o.Prompt
	}
	return out
}

func (c *console) prompt() string {
	if !c.layout.Expanded() {
		return "› "
	}
	indent := ""
	if p, ok := c.layout.Placement(); ok {
		indent = strings.Repeat(" ", int(p.Left/cellWidth))
	}
	return indent + headerStyle.Render("promptbar") + " › "
}

func (c *console) viewport() layout.Viewport {
	cols, rows, err := c.editor.Size()
	if err != nil {
		cols, rows = 80, 24
	}
	return layout.Viewport{
		Width:         float64(cols * cellWidth),
		Height:        float64(rows * cellHeight),
		ToolbarHeight: toolbarHeight,
	}
}

func (c *console) restoreLayout() {
	if !c.layout.Expanded() {
		return
	}
	if p, ok := c.layout.LoadSavedPosition(c.viewport()); ok {
		slog.Debug("restored toolbar position", "left", p.Left, "top", p.Top)
	}
}

func (c *console) run(ctx context.Context, name string, args []string) {
	switch name {
	case "help", "h":
		c.screen.Printf("%s", helpText)

	case "history":
		list := c.ctrl.History().List()
		if len(list) == 0 {
			c.screen.Printf("%s\n", hintStyle.Render("(no interactions yet)"))
			return
		}
		for i, in := range list {
			c.screen.Printf("%3d  %s  %s\n", i, in.CreatedAt.Format("15:04:05"), in.Prompt)
		}

	case "revert":
		i, ok := c.indexArg(args)
		if !ok {
			return
		}
		reverted, err := c.ctrl.Revert(ctx, i)
		switch {
		case err != nil:
			c.screen.Printf("%s\n", delStyle.Render("revert failed: "+err.Error()))
		case !reverted:
			c.screen.Printf("no interaction %d\n", i)
		default:
			c.screen.Printf("reverted interaction %d\n", i)
		}

	case "save":
		i, ok := c.indexArg(args)
		if !ok {
			return
		}
		if _, saved, _ := c.ctrl.Save(ctx, i); !saved {
			c.screen.Printf("no interaction %d\n", i)
		}

	case "details":
		if !c.notify.invokeLatest() {
			c.screen.Printf("%s\n", hintStyle.Render("(no active notification)"))
		}

	case "related":
		query := strings.Join(args, " ")
		if !c.related.Enabled() {
			c.screen.Printf("%s\n", hintStyle.Render("(embedding not configured)"))
			return
		}
		prompts, err := c.ctrl.Related(ctx, query)
		if err != nil {
			c.screen.Printf("%s\n", delStyle.Render("related failed: "+err.Error()))
			return
		}
		for _, p := range prompts {
			c.screen.Printf("  %s\n", p)
		}

	case "toggle":
		if err := c.layout.ToggleExpanded(c.viewport()); err != nil {
			c.screen.Printf("%s\n", delStyle.Render("cannot persist layout: "+err.Error()))
		}

	case "move":
		if len(args) != 2 {
			c.screen.Printf("usage: :move X Y\n")
			return
		}
		x, errX := strconv.ParseFloat(args[0], 64)
		y, errY := strconv.ParseFloat(args[1], 64)
		if errX != nil || errY != nil {
			c.screen.Printf("usage: :move X Y\n")
			return
		}
		if err := c.layout.OnDragEnd(promptbar.Rect{Left: x, Top: y, Width: c.cfg.Toolbar.MinWidth, Height: toolbarHeight}); err != nil {
			c.screen.Printf("%s\n", delStyle.Render("cannot persist layout: "+err.Error()))
			return
		}
		if p, ok := c.layout.LoadSavedPosition(c.viewport()); ok {
			c.screen.Printf("toolbar at %.0f,%.0f\n", p.Left, p.Top)
		}

	default:
		c.screen.Printf("unknown command :%s (try :help)\n", name)
	}
}

func (c *console) indexArg(args []string) (int, bool) {
	if len(args) != 1 {
		c.screen.Printf("expected one interaction number\n")
		return 0, false
	}
	i, err := strconv.Atoi(args[0])
	if err != nil {
		c.screen.Printf("not a number: %s\n", args[0])
		return 0, false
	}
	return i, true
}

// parseCommand splits ":name arg1 arg2" into its name and arguments.
func parseCommand(line string) (string, []string) {
	fields := strings.Fields(strings.TrimPrefix(line, ":"))
	if len(fields) == 0 {
		return "", nil
	}
	return strings.ToLower(fields[0]), fields[1:]
}
