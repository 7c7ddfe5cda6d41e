package executor

import (
	"strings"
	"time"
)

// Kind classifies the outcome of an execution. A successful run has an
// empty Kind.
type Kind string

const (
	KindNone       Kind = ""
	KindValidation Kind = "validation_error"
	KindBusy       Kind = "busy"
	KindNetwork    Kind = "network"
	KindAuth       Kind = "auth"
	KindNotFound   Kind = "not_found"
	KindTimeout    Kind = "timeout"
	KindCancelled  Kind = "cancelled"
	KindGeneral    Kind = "general"
	// KindDenied means elevation was refused on every attempt. No process
	// was started.
	KindDenied Kind = "denied"
)

func (k Kind) String() string { return string(k) }

// State is the executor session state.
type State int32

const (
	StateIdle State = iota
	StateValidating
	StateRunning
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateValidating:
		return "validating"
	case StateRunning:
		return "running"
	default:
		return "unknown"
	}
}

// Result is the outcome of one ExecuteWithProgress call.
type Result struct {
	Success  bool
	Output   string
	Kind     Kind
	ExitCode int
	Duration time.Duration
	// Err carries the structured reason for a failed run; nil on success.
	Err error
}

// Phrases are matched case-insensitively against the combined output. The
// groups are checked in order and the first match wins.
var errorPhrases = []struct {
	kind    Kind
	phrases []string
}{
	{KindNetwork, []string{
		"unable to connect",
		"could not resolve host",
		"no such host",
		"network is unreachable",
		"connection refused",
		"connection reset",
		"i/o timeout",
		"temporary failure in name resolution",
		"tls handshake timeout",
		"dial tcp",
		"network timeout",
	}},
	{KindAuth, []string{
		"permission denied",
		"authentication failed",
		"authorization failed",
		"not authorized",
		"unauthorized",
		"access denied",
	}},
	{KindBusy, []string{
		"transaction already in use",
		"another transaction",
		"busy",
	}},
	{KindNotFound, []string{
		"no such deployment",
		"no such image",
		"manifest unknown",
		"not found",
	}},
}

// AnalyzeErrorType maps the output of a failed command to a Kind. The
// match is a heuristic over known phrases; anything unrecognised is
// KindGeneral. A zero exit code is never an error.
func AnalyzeErrorType(output string, exitCode int) Kind {
	if exitCode == 0 {
		return KindNone
	}
	lower := strings.ToLower(output)
	for _, group := range errorPhrases {
		for _, phrase := range group.phrases {
			if strings.Contains(lower, phrase) {
				return group.kind
			}
		}
	}
	return KindGeneral
}
