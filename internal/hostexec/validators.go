package hostexec

import (
	"strings"

	"atomic-image-manager/pkg/errx"
)

// ShellMetaChars are rejected in every argument: none of the managed tools
// needs them and each one changes meaning if an argument ever reaches a shell.
const ShellMetaChars = "&|;<>()$`\\"

// ControlChars are rejected in every argument.
const ControlChars = "\r\n\t"

var sentinels = errx.NewSentinels(errx.CodeValidation, errx.DescValidation)

var (
	ErrEmptyCommand     = sentinels.New("empty command")
	ErrBinaryNotAllowed = sentinels.New("exec: binary not allowed")
	ErrShellMeta        = sentinels.New("exec: shell metacharacters not allowed")
	ErrControlChars     = sentinels.New("exec: control characters not allowed")
	ErrNotStarted       = sentinels.NewWithCode("exec: process not started", errx.CodeExecution, errx.DescExecution)
)

// ExecSpec is the logical command a validator inspects: the tool name and
// its arguments, before any sandbox escape prefix is added.
type ExecSpec struct {
	Name string
	Args []string
}

// Argv returns the spec as a single argument vector.
func (s ExecSpec) Argv() []string {
	return append([]string{s.Name}, s.Args...)
}

// SpecFromArgv splits argv into name and arguments.
func SpecFromArgv(argv []string) (ExecSpec, error) {
	if len(argv) == 0 || argv[0] == "" {
		return ExecSpec{}, sentinels.Wrap(ErrEmptyCommand, nil, "Empty command", nil)
	}
	return ExecSpec{Name: argv[0], Args: append([]string(nil), argv[1:]...)}, nil
}

type ExecValidator func(ExecSpec) error

// Validate runs validators in order and returns the first rejection.
func Validate(spec ExecSpec, validators ...ExecValidator) error {
	for _, validate := range validators {
		if validate == nil {
			continue
		}
		if err := validate(spec); err != nil {
			return err
		}
	}
	return nil
}

func AllowlistBins(allowed ...string) ExecValidator {
	set := make(map[string]struct{}, len(allowed))
	for _, name := range allowed {
		set[name] = struct{}{}
	}
	return func(spec ExecSpec) error {
		if _, ok := set[spec.Name]; !ok {
			return sentinels.Wrap(ErrBinaryNotAllowed, nil, ErrBinaryNotAllowed.Error(), map[string]any{"binary": spec.Name})
		}
		return nil
	}
}

func NoShellMeta() ExecValidator {
	return func(spec ExecSpec) error {
		for i, arg := range spec.Args {
			if strings.ContainsAny(arg, ShellMetaChars) {
				return sentinels.Wrap(ErrShellMeta, nil, ErrShellMeta.Error(), map[string]any{"arg_index": i + 1})
			}
		}
		return nil
	}
}

func NoControlChars() ExecValidator {
	return func(spec ExecSpec) error {
		for i, arg := range spec.Args {
			if strings.ContainsAny(arg, ControlChars) {
				return sentinels.Wrap(ErrControlChars, nil, ErrControlChars.Error(), map[string]any{"arg_index": i + 1})
			}
		}
		return nil
	}
}
