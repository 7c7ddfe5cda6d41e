package cli

import (
	"fmt"
	"time"

	"github.com/pterm/pterm"

	"atomic-image-manager/internal/progress"
)

// progressView renders tracker events. On a terminal the latest line and
// percentage replace each other in a spinner; otherwise every line is
// printed.
type progressView struct {
	printer *Printer
	spinner *Spinner

	operation   string
	percent     int
	description string
}

func newProgressView(p *Printer) *progressView {
	return &progressView{printer: p, percent: -1}
}

func (v *progressView) handle(ev progress.Event) {
	switch ev.Type {
	case progress.EventInit:
		v.start(ev.Operation)
	case progress.EventLine:
		v.line(ev.Line)
	case progress.EventComplete:
		v.complete(ev)
	}
}

func (v *progressView) start(operation string) {
	v.operation, v.percent, v.description = operation, -1, ""
	v.spinner = v.printer.SpinnerStart(operation)
}

func (v *progressView) line(line string) {
	text := line
	if st, ok := progress.ParseStatus(line); ok {
		if st.Percent >= 0 {
			v.percent = st.Percent
		}
		if st.Description != "" {
			v.description = st.Description
		}
		text = st.Message
	}
	if v.spinner != nil && v.spinner.Animated() {
		v.spinner.Update(v.status(text))
		return
	}
	if text != "" {
		v.printer.Println(text)
	}
}

// status builds the spinner text from the operation, the last known
// percentage and stage, and the latest output.
func (v *progressView) status(latest string) string {
	s := v.operation
	if v.percent >= 0 {
		s += fmt.Sprintf(" [%3d%%]", v.percent)
	}
	if v.description != "" {
		s += " " + v.description
	}
	if latest != "" {
		s += Cyan(" · ") + pterm.Gray(truncate(latest, 80))
	}
	return s
}

func (v *progressView) complete(ev progress.Event) {
	msg := fmt.Sprintf("%s (%s)", ev.Message, ev.Elapsed.Round(time.Second))
	if v.spinner == nil {
		v.printer.finish(ev.Success, msg)
		return
	}
	v.spinner.Stop(ev.Success, msg)
	v.spinner = nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
