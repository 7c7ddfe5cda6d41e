package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/pterm/pterm"
	"golang.org/x/term"
)

// stdoutIsTerminal decides between animated and plain output. Tests replace it.
var stdoutIsTerminal = func() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

// Printer writes user-facing output. A quiet printer only reports errors.
type Printer struct {
	Quiet bool
	// Out receives everything the printer writes; nil means stdout.
	Out io.Writer
}

// DefaultPrinter is the printer every command writes through.
var DefaultPrinter = &Printer{}

func (p *Printer) out() io.Writer {
	if p.Out != nil {
		return p.Out
	}
	return os.Stdout
}

// Table renders data with the first row as header.
func (p *Printer) Table(data [][]string) {
	p.renderTable(data, false)
}

// TableBoxed renders data with a border.
func (p *Printer) TableBoxed(data [][]string) {
	p.renderTable(data, true)
}

func (p *Printer) renderTable(data [][]string, boxed bool) {
	if p.Quiet || len(data) == 0 {
		return
	}
	table := pterm.DefaultTable.WithHasHeader().WithData(pterm.TableData(data)).WithWriter(p.out())
	if boxed {
		table = table.WithBoxed()
	}
	if err := table.Render(); err != nil {
		p.Error(err.Error())
	}
}

func Green(s string) string  { return pterm.Green(s) }
func Yellow(s string) string { return pterm.Yellow(s) }
func Red(s string) string    { return pterm.Red(s) }
func Cyan(s string) string   { return pterm.Cyan(s) }

// Section prints a heading.
func (p *Printer) Section(title string) {
	if p.Quiet {
		return
	}
	pterm.DefaultSection.WithWriter(p.out()).Println(title)
}

// Step prints one progress step.
func (p *Printer) Step(msg string) {
	p.Println(Cyan("→ ") + msg)
}

// Println prints msg unadorned.
func (p *Printer) Println(msg string) {
	if p.Quiet {
		return
	}
	pterm.Fprintln(p.out(), msg)
}

func (p *Printer) Info(msg string) {
	if p.Quiet {
		return
	}
	pterm.Info.WithWriter(p.out()).Println(msg)
}

func (p *Printer) Success(msg string) {
	if p.Quiet {
		return
	}
	pterm.Success.WithWriter(p.out()).Println(msg)
}

func (p *Printer) Warn(msg string) {
	if p.Quiet {
		return
	}
	pterm.Warning.WithWriter(p.out()).Println(msg)
}

// Error is printed even in quiet mode.
func (p *Printer) Error(msg string) {
	pterm.Error.WithWriter(p.out()).Println(msg)
}

func (p *Printer) Printf(format string, args ...any) {
	if p.Quiet {
		return
	}
	fmt.Fprintf(p.out(), format, args...)
}

// Spinner is a status line kept on screen while work runs.
type Spinner struct {
	p  *Printer
	sp *pterm.SpinnerPrinter
}

// SpinnerStart shows msg while work is in progress. Without a terminal the
// spinner degrades to a plain step line.
func (p *Printer) SpinnerStart(msg string) *Spinner {
	s := &Spinner{p: p}
	if !p.Quiet && stdoutIsTerminal() {
		sp, err := pterm.DefaultSpinner.WithRemoveWhenDone(false).WithWriter(p.out()).Start(msg)
		if err == nil {
			s.sp = sp
			return s
		}
	}
	p.Step(msg)
	return s
}

// Animated reports whether Update rewrites the line in place.
func (s *Spinner) Animated() bool { return s.sp != nil }

// Update replaces the spinner text. It does nothing on plain output.
func (s *Spinner) Update(text string) {
	if s.sp != nil {
		s.sp.UpdateText(text)
	}
}

// Stop ends the spinner with a success or failure line.
func (s *Spinner) Stop(ok bool, msg string) {
	if s.sp == nil {
		s.p.finish(ok, msg)
		return
	}
	if ok {
		s.sp.Success(msg)
	} else {
		s.sp.Fail(msg)
	}
	s.sp = nil
}

func (p *Printer) finish(ok bool, msg string) {
	if ok {
		p.Success(msg)
		return
	}
	p.Error(msg)
}
