// Package prompt reads operator input from the controlling terminal:
// command lines, usernames, and secrets typed with masked echo.
package prompt

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"

	"golang.org/x/term"

	lferr "localforward/internal/errors"
)

const (
	keyCtrlC     = 0x03
	keyCtrlD     = 0x04
	keyBackspace = 0x08
	keyEscape    = 0x1b
	keyDelete    = 0x7f
)

// Terminal serialises all reads from one input stream.  A single pump
// goroutine owns the reader so a read abandoned on context
// cancellation never races a later one.
type Terminal struct {
	out   io.Writer
	fd    int
	isTTY bool

	br    *bufio.Reader
	once  sync.Once
	runes chan rune
	err   error // set by pump before runes is closed

	outMu sync.Mutex
}

// NewTerminal wraps in and out.  Raw mode is used for masked input only
// when in is an *os.File attached to a terminal.
func NewTerminal(in io.Reader, out io.Writer) *Terminal {
	t := &Terminal{
		out:   out,
		fd:    -1,
		br:    bufio.NewReader(in),
		runes: make(chan rune),
	}
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		t.fd = int(f.Fd())
		t.isTTY = true
	}
	return t
}

// IsTerminal reports whether input comes from an interactive terminal.
func (t *Terminal) IsTerminal() bool { return t.isTTY }

func (t *Terminal) pump() {
	for {
		r, _, err := t.br.ReadRune()
		if err != nil {
			t.err = err
			close(t.runes)
			return
		}
		t.runes <- r
	}
}

// next returns the next rune, io.EOF style errors as ErrInputClosed, or
// the context error.
func (t *Terminal) next(ctx context.Context) (rune, error) {
	t.once.Do(func() { go t.pump() })
	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	case r, ok := <-t.runes:
		if !ok {
			if t.err == io.EOF {
				return 0, lferr.ErrInputClosed
			}
			return 0, fmt.Errorf("%w: %v", lferr.ErrInputClosed, t.err)
		}
		return r, nil
	}
}

func (t *Terminal) print(s string) {
	t.outMu.Lock()
	defer t.outMu.Unlock()
	io.WriteString(t.out, s) //nolint:errcheck
}

// ReadLine prints prompt (if any) and returns one line without its
// line terminator.  EOF with nothing typed yields ErrInputClosed; a
// final unterminated line is returned as is.
func (t *Terminal) ReadLine(ctx context.Context, prompt string) (string, error) {
	if prompt != "" {
		t.print(prompt)
	}
	var sb strings.Builder
	for {
		r, err := t.next(ctx)
		if err != nil {
			if lferr.Is(err, lferr.ErrInputClosed) && sb.Len() > 0 {
				return sb.String(), nil
			}
			return "", err
		}
		if r == '\n' {
			return strings.TrimSuffix(sb.String(), "\r"), nil
		}
		sb.WriteRune(r)
	}
}

// ReadMasked prints prompt and reads a secret, echoing '*' for every
// printable rune.  Backspace erases one rune, Enter finishes, Ctrl-C
// returns ErrInterrupted, EOF (or Ctrl-D on empty input) returns
// ErrInputClosed, and every other control key or escape sequence is
// ignored.
func (t *Terminal) ReadMasked(ctx context.Context, prompt string) (string, error) {
	newline := "\n"
	if t.isTTY {
		old, err := term.MakeRaw(t.fd)
		if err != nil {
			return "", fmt.Errorf("raw mode: %w", err)
		}
		defer term.Restore(t.fd, old) //nolint:errcheck
		newline = "\r\n"
	}
	if prompt != "" {
		t.print(prompt)
	}

	var secret []rune
	for {
		r, err := t.next(ctx)
		if err != nil {
			t.print(newline)
			return "", err
		}
		switch {
		case r == '\r' || r == '\n':
			t.print(newline)
			return string(secret), nil
		case r == keyBackspace || r == keyDelete:
			if len(secret) > 0 {
				secret = secret[:len(secret)-1]
				t.print("\b \b")
			}
		case r == keyCtrlC:
			t.print(newline)
			return "", lferr.ErrInterrupted
		case r == keyCtrlD && len(secret) == 0:
			t.print(newline)
			return "", lferr.ErrInputClosed
		case r == keyEscape:
			if err := t.skipEscape(ctx); err != nil {
				t.print(newline)
				return "", err
			}
		case r == utf8.RuneError || !unicode.IsPrint(r):
			// other control keys and undecodable bytes
		default:
			secret = append(secret, r)
			t.print("*")
		}
	}
}

// skipEscape consumes the rest of an ANSI escape sequence (arrow keys,
// Home, F-keys) after ESC has been read.
func (t *Terminal) skipEscape(ctx context.Context) error {
	r, err := t.next(ctx)
	if err != nil {
		return err
	}
	if r != '[' && r != 'O' {
		return nil
	}
	for {
		r, err = t.next(ctx)
		if err != nil {
			return err
		}
		if r >= 0x40 && r <= 0x7e {
			return nil
		}
	}
}
