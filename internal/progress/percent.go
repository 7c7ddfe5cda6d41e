package progress

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
)

var (
	chunkRegex         = regexp.MustCompile(`\[(\d+)/(\d+)\]\s*Fetching ostree chunk`)
	ratioPercentRegex  = regexp.MustCompile(`(\d+)%\s*\((\d+)/(\d+)\)`)
	simplePercentRegex = regexp.MustCompile(`(\d+)\s*%`)
	overallRegex       = regexp.MustCompile(`overall:\s*(\d+)`)
	stepProgressRegex  = regexp.MustCompile(`step_progress:\s*(\d+(?:\.\d+)?)`)
)

// Status is what a single output line says about overall progress.
type Status struct {
	// Percent is 0-100, or -1 when the line carries no percentage.
	Percent int
	// Description is a human-readable stage name when the tool reports one.
	Description string
	// Message is the text to show in the log for structured lines; empty
	// means the line carried only progress data.
	Message string
}

type uupdLine struct {
	Overall      *float64 `json:"overall"`
	StepProgress *float64 `json:"step_progress"`
	Description  string   `json:"description"`
	Msg          string   `json:"msg"`
}

// ParseStatus extracts progress from one cleaned output line. It understands
// uupd's JSON progress objects, rpm-ostree chunk fetching, and the plain
// "N%" forms printed by the other update tools. ok is false when the line
// says nothing about progress.
func ParseStatus(line string) (Status, bool) {
	if s, ok := parseUUPD(line); ok {
		return s, true
	}
	st := Status{Percent: -1, Message: line}
	if m := chunkRegex.FindStringSubmatch(line); m != nil {
		cur, _ := strconv.Atoi(m[1])
		total, _ := strconv.Atoi(m[2])
		if total > 0 {
			st.Percent = clampPercent(cur * 100 / total)
			st.Description = "Fetching chunks"
			return st, true
		}
	}
	if m := ratioPercentRegex.FindStringSubmatch(line); m != nil {
		st.Percent = atoiPercent(m[1])
		return st, true
	}
	if m := simplePercentRegex.FindStringSubmatch(line); m != nil {
		st.Percent = atoiPercent(m[1])
		return st, true
	}
	if m := overallRegex.FindStringSubmatch(line); m != nil {
		st.Percent = atoiPercent(m[1])
		return st, true
	}
	if m := stepProgressRegex.FindStringSubmatch(line); m != nil {
		f, _ := strconv.ParseFloat(m[1], 64)
		st.Percent = clampPercent(int(f * 100))
		return st, true
	}
	if _, desc, found := strings.Cut(line, "description:"); found {
		st.Description = strings.TrimSpace(desc)
		return st, st.Description != ""
	}
	return Status{}, false
}

func parseUUPD(line string) (Status, bool) {
	if !strings.HasPrefix(strings.TrimSpace(line), "{") {
		return Status{}, false
	}
	var l uupdLine
	if err := json.Unmarshal([]byte(line), &l); err != nil {
		return Status{}, false
	}
	st := Status{Percent: -1, Description: l.Description, Message: l.Msg}
	switch {
	case l.Overall != nil:
		st.Percent = clampPercent(int(*l.Overall))
	case l.StepProgress != nil && *l.StepProgress > 0:
		st.Percent = clampPercent(int(*l.StepProgress * 100))
	}
	return st, true
}

func atoiPercent(s string) int {
	n, _ := strconv.Atoi(s)
	return clampPercent(n)
}

func clampPercent(n int) int {
	return max(0, min(n, 100))
}
