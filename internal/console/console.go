// Package console prints progress events as the operator-facing text
// lines, colouring endpoints with lipgloss when the output supports it.
package console

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"

	"localforward/internal/events"
)

// Printer implements events.Observer.  Progress goes to out, failures
// to errOut.
type Printer struct {
	mu     sync.Mutex
	out    io.Writer
	errOut io.Writer

	host   lipgloss.Style
	local  lipgloss.Style
	remote lipgloss.Style
	fail   lipgloss.Style
}

// NewPrinter returns a Printer.  With color false no escape sequences
// are written; with color true they are written only when the writer
// is a terminal that supports them.
func NewPrinter(out, errOut io.Writer, color bool) *Printer {
	outR := lipgloss.NewRenderer(out)
	errR := lipgloss.NewRenderer(errOut)
	if !color {
		outR.SetColorProfile(termenv.Ascii)
		errR.SetColorProfile(termenv.Ascii)
	}
	return newPrinter(out, errOut, outR, errR)
}

func newPrinter(out, errOut io.Writer, outR, errR *lipgloss.Renderer) *Printer {
	return &Printer{
		out:    out,
		errOut: errOut,
		host:   outR.NewStyle().Foreground(lipgloss.Color("2")),
		local:  outR.NewStyle().Foreground(lipgloss.Color("6")),
		remote: outR.NewStyle().Foreground(lipgloss.Color("3")),
		fail:   errR.NewStyle().Foreground(lipgloss.Color("5")),
	}
}

// Notify implements events.Observer.
func (p *Printer) Notify(e events.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch e.Kind {
	case events.Connecting:
		fmt.Fprintf(p.out, "Try to connect to %s... ; %s\n", p.host.Render(e.Host), e.Description)
	case events.Connected:
		fmt.Fprintf(p.out, "Try to connect to %s... Done; %s\n", p.host.Render(e.Host), e.Description)
	case events.ForwardStarted:
		fmt.Fprintf(p.out, "  Local forward started: %s --> %s (via %s); %s\n",
			p.local.Render(e.Local), p.remote.Render(e.Remote), p.host.Render(e.Host), e.Description)
	case events.ConnectFailed, events.ForwardFailed:
		msg := fmt.Sprintf("%v", e.Err)
		if e.Description != "" {
			msg += "; " + e.Description
		}
		p.Error(msg)
	case events.TornDown:
		fmt.Fprintf(p.out, "Closed %d session(s) and %d forward(s)\n", e.Sessions, e.Forwards)
	}
}

// Error writes msg to errOut as [ERR] lines in the failure colour.
func (p *Printer) Error(msg string) {
	for _, line := range strings.Split(msg, "\n") {
		fmt.Fprintln(p.errOut, p.fail.Render("[ERR] "+line))
	}
}
