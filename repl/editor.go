package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"unicode/utf8"

	"golang.org/x/term"
)

// ErrInterrupt is returned when the user presses Ctrl-C.
var ErrInterrupt = errors.New("interrupted")

// Completer returns the suggestions for the current input.
type Completer func(text string) []string

// Editor is a minimal raw-mode line editor. It reads from /dev/tty so it
// works even when stdout is redirected.
type Editor struct {
	in  io.Reader
	out io.Writer

	tty      *os.File
	oldState *term.State

	buf []byte
	pos int // cursor byte offset into buf

	// Tab cycling state; cycle is -1 when not cycling.
	options []string
	cycle   int
}

// NewEditor opens /dev/tty and switches it to raw mode.
func NewEditor() (*Editor, error) {
	tty, err := os.OpenFile("/dev/tty", os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("open /dev/tty: %w", err)
	}

	old, err := term.MakeRaw(int(tty.Fd()))
	if err != nil {
		tty.Close()
		return nil, fmt.Errorf("raw mode: %w", err)
	}

	e := newEditor(tty, tty)
	e.tty = tty
	e.oldState = old
	return e, nil
}

func newEditor(in io.Reader, out io.Writer) *Editor {
	return &Editor{in: in, out: out, cycle: -1}
}

// Close restores terminal state and closes the tty.
func (e *Editor) Close() {
	if e.tty == nil {
		return
	}
	term.Restore(int(e.tty.Fd()), e.oldState)
	e.tty.Close()
}

// Size returns the terminal size in cells.
func (e *Editor) Size() (cols, rows int, err error) {
	if e.tty == nil {
		return 0, 0, errors.New("not a terminal")
	}
	return term.GetSize(int(e.tty.Fd()))
}

func (e *Editor) readByte() (byte, error) {
	var b [1]byte
	for {
		n, err := e.in.Read(b[:])
		if n == 1 {
			return b[0], nil
		}
		if err != nil {
			return 0, err
		}
	}
}

// ReadLine shows prompt and reads one line. complete, if non-nil, is
// consulted after every edit; Tab replaces the line with the next
// suggestion. It returns io.EOF on Ctrl-D with an empty line and
// ErrInterrupt on Ctrl-C.
func (e *Editor) ReadLine(prompt string, complete Completer) (string, error) {
	e.buf = e.buf[:0]
	e.pos = 0
	e.resetCycle()
	e.refresh(complete)
	e.redraw(prompt)

	for {
		b, err := e.readByte()
		if err != nil {
			return "", err
		}

		switch b {
		case 3: // Ctrl-C
			fmt.Fprint(e.out, "\r\n")
			return "", ErrInterrupt

		case 4: // Ctrl-D
			if len(e.buf) == 0 {
				fmt.Fprint(e.out, "\r\n")
				return "", io.EOF
			}
			continue

		case 13, 10: // Enter
			fmt.Fprint(e.out, "\r\x1b[K", prompt, string(e.buf), "\r\n")
			return string(e.buf), nil

		case 9: // Tab
			if len(e.options) == 0 {
				continue
			}
			e.cycle = (e.cycle + 1) % len(e.options)
			e.set(e.options[e.cycle])
			e.redraw(prompt)
			continue

		case 127, 8: // Backspace / Ctrl-H
			if e.pos > 0 {
				size := prevRuneSize(e.buf, e.pos)
				e.buf = append(e.buf[:e.pos-size], e.buf[e.pos:]...)
				e.pos -= size
			}

		case 1: // Ctrl-A
			e.pos = 0

		case 5: // Ctrl-E
			e.pos = len(e.buf)

		case 21: // Ctrl-U
			e.buf = e.buf[:0]
			e.pos = 0

		case 27:
			e.readEscape()

		default:
			if b < 32 {
				continue
			}
			ch := []byte{b}
			if b >= 0xC0 {
				for i := 1; i < utf8RuneLen(b); i++ {
					next, err := e.readByte()
					if err != nil {
						return "", err
					}
					ch = append(ch, next)
				}
			}
			e.insert(ch)
		}

		e.resetCycle()
		e.refresh(complete)
		e.redraw(prompt)
	}
}

// readEscape handles the cursor keys of a CSI sequence.
func (e *Editor) readEscape() {
	b, err := e.readByte()
	if err != nil || b != '[' {
		return
	}
	b, err = e.readByte()
	if err != nil {
		return
	}
	switch b {
	case 'D': // Left
		e.pos -= prevRuneSize(e.buf, e.pos)
	case 'C': // Right
		if e.pos < len(e.buf) {
			_, size := utf8.DecodeRune(e.buf[e.pos:])
			e.pos += size
		}
	case 'H':
		e.pos = 0
	case 'F':
		e.pos = len(e.buf)
	case '3': // Delete: \x1b[3~
		e.readByte()
		if e.pos < len(e.buf) {
			_, size := utf8.DecodeRune(e.buf[e.pos:])
			e.buf = append(e.buf[:e.pos], e.buf[e.pos+size:]...)
		}
	case '1': // \x1b[1~
		e.readByte()
		e.pos = 0
	case '4': // \x1b[4~
		e.readByte()
		e.pos = len(e.buf)
	}
}

func (e *Editor) insert(ch []byte) {
	e.buf = append(e.buf, ch...)
	copy(e.buf[e.pos+len(ch):], e.buf[e.pos:len(e.buf)-len(ch)])
	copy(e.buf[e.pos:], ch)
	e.pos += len(ch)
}

func (e *Editor) set(text string) {
	e.buf = append(e.buf[:0], text...)
	e.pos = len(e.buf)
}

func (e *Editor) resetCycle() {
	e.cycle = -1
}

func (e *Editor) refresh(complete Completer) {
	if complete == nil {
		e.options = nil
		return
	}
	e.options = complete(string(e.buf))
}

// redraw clears the line and draws prompt, buffer and a suggestion hint.
func (e *Editor) redraw(prompt string) {
	fmt.Fprintf(e.out, "\r\x1b[K%s%s", prompt, string(e.buf))

	hint := e.hint()
	if hint != "" {
		fmt.Fprint(e.out, hintStyle.Render(hint))
	}

	back := utf8.RuneCount(e.buf[e.pos:]) + utf8.RuneCountInString(hint)
	if back > 0 {
		fmt.Fprintf(e.out, "\x1b[%dD", back)
	}
}

func (e *Editor) hint() string {
	if len(e.options) == 0 || e.cycle >= 0 {
		return ""
	}
	first := e.options[0]
	if len(e.options) == 1 {
		if first == string(e.buf) {
			return ""
		}
		return "  ⇥ " + first
	}
	return fmt.Sprintf("  ⇥ %s (+%d)", first, len(e.options)-1)
}

// Confirm asks a yes/no question and reads a single key. Anything other
// than y or Y means no.
func (e *Editor) Confirm(question string) (bool, error) {
	fmt.Fprint(e.out, question)
	b, err := e.readByte()
	if err != nil {
		return false, err
	}
	if b == 3 {
		fmt.Fprint(e.out, "\r\n")
		return false, ErrInterrupt
	}
	yes := b == 'y' || b == 'Y'
	if yes {
		fmt.Fprint(e.out, "y\r\n")
	} else {
		fmt.Fprint(e.out, "n\r\n")
	}
	return yes, nil
}

// prevRuneSize returns the byte size of the rune before pos.
func prevRuneSize(buf []byte, pos int) int {
	if pos <= 0 {
		return 0
	}
	_, size := utf8.DecodeLastRune(buf[:pos])
	return size
}

// utf8RuneLen returns the expected byte length of a UTF-8 sequence
// from its leading byte.
func utf8RuneLen(lead byte) int {
	switch {
	case lead < 0xC0:
		return 1
	case lead < 0xE0:
		return 2
	case lead < 0xF0:
		return 3
	}
	return 4
}
