package validate

import (
	"fmt"
	"regexp"
	"strings"

	"atomic-image-manager/internal/hostexec"
)

// DangerousChars may not appear in any argument of a validated command.
const DangerousChars = hostexec.ShellMetaChars + hostexec.ControlChars + `'"`

var (
	revisionRegex = regexp.MustCompile(`^[A-Za-z0-9._:=-]+$`)
	indexRegex    = regexp.MustCompile(`^[0-9]{1,4}$`)
)

// ArgKind describes what the positional arguments of a subcommand must be.
type ArgKind int

const (
	// ArgNone accepts no positional arguments.
	ArgNone ArgKind = iota
	// ArgImage requires exactly one image reference.
	ArgImage
	// ArgRevision requires exactly one deployment revision or checksum.
	ArgRevision
	// ArgIndex requires exactly one deployment index.
	ArgIndex
)

// Subcommand is the policy for one subcommand of a trusted tool.
type Subcommand struct {
	// Actions, when set, is the whitelist for the token after the subcommand.
	Actions []string
	Args    ArgKind
	Flags   []string
}

// Tool maps each allowed subcommand of a tool to its policy.
type Tool map[string]Subcommand

// DefaultTools is the built-in command policy.
func DefaultTools() map[string]Tool {
	reboot := []string{"--reboot", "-r"}
	return map[string]Tool{
		"rpm-ostree": {
			"status":   {Flags: []string{"--json", "-v", "--verbose", "-b", "--booted"}},
			"rebase":   {Args: ArgImage, Flags: append([]string{"--bypass-driver"}, reboot...)},
			"rollback": {Flags: reboot},
			"deploy":   {Args: ArgRevision, Flags: reboot},
			"cleanup":  {Flags: []string{"-p", "--pending", "-r", "--rollback", "-b", "--base", "-m", "--repomd"}},
			"upgrade":  {Flags: append([]string{"--check", "--preview"}, reboot...)},
			"cancel":   {},
		},
		"bootc": {
			"status":   {Flags: []string{"--json", "--format=json", "--booted"}},
			"switch":   {Args: ArgImage, Flags: []string{"--apply", "--enforce-container-sigpolicy"}},
			"rollback": {Flags: []string{"--apply"}},
			"upgrade":  {Flags: []string{"--apply", "--check"}},
		},
		"ostree": {
			"admin": {Actions: []string{"pin", "status"}, Args: ArgIndex, Flags: []string{"--unpin", "-u"}},
		},
		"uupd": {
			"--json":    {},
			"--dry-run": {Flags: []string{"--json"}},
		},
	}
}

// CommandValidator whitelists tools, subcommands, flags and arguments.
type CommandValidator struct {
	tools  map[string]Tool
	images *ImageValidator
}

// NewCommandValidator creates a validator. A nil tools map selects
// DefaultTools.
func NewCommandValidator(images *ImageValidator, tools map[string]Tool) *CommandValidator {
	if tools == nil {
		tools = DefaultTools()
	}
	return &CommandValidator{tools: tools, images: images}
}

var defaultCommandValidator = NewCommandValidator(defaultImageValidator, nil)

// Default returns the validator built from the embedded catalog.
func Default() *CommandValidator { return defaultCommandValidator }

// ValidateCommand validates argv against the built-in policy and catalog.
func ValidateCommand(argv []string) error {
	return defaultCommandValidator.ValidateCommand(argv)
}

// Images returns the image validator used for image arguments.
func (v *CommandValidator) Images() *ImageValidator { return v.images }

// ValidateCommand returns nil when argv may be executed. It never executes
// anything. Image arguments are checked by the image validator and its
// rejection is returned unchanged.
func (v *CommandValidator) ValidateCommand(argv []string) error {
	if len(argv) == 0 {
		return reject(ErrEmptyCommand, "Empty command", nil)
	}
	tool, ok := v.tools[argv[0]]
	if !ok {
		return reject(ErrToolNotAllowed, fmt.Sprintf("Command not allowed: %q is not a trusted tool", argv[0]), map[string]any{"tool": argv[0]})
	}
	for i, arg := range argv[1:] {
		if idx := strings.IndexAny(arg, DangerousChars); idx >= 0 {
			return reject(ErrDangerousCharacter, fmt.Sprintf("Command contains dangerous character %q in argument %d", arg[idx], i+1), map[string]any{"arg_index": i + 1})
		}
	}

	name := "(none)"
	if len(argv) > 1 {
		name = argv[1]
	}
	sub, ok := tool[name]
	if !ok {
		return reject(ErrUnsupportedSubcommand, fmt.Sprintf("Unsupported %s subcommand: %s", argv[0], name), map[string]any{"tool": argv[0], "subcommand": name})
	}

	rest := argv[2:]
	if len(sub.Actions) > 0 {
		action := "(none)"
		if len(rest) > 0 {
			action = rest[0]
			rest = rest[1:]
		}
		if !contains(sub.Actions, action) {
			return reject(ErrUnsupportedSubcommand, fmt.Sprintf("Unsupported %s %s action: %s", argv[0], name, action), map[string]any{"tool": argv[0], "subcommand": name})
		}
		if action == "status" {
			sub.Args = ArgNone
		}
	}

	var positional []string
	for _, arg := range rest {
		if strings.HasPrefix(arg, "-") {
			if !contains(sub.Flags, arg) {
				return reject(ErrUnsupportedFlag, fmt.Sprintf("Unsupported flag for %s %s: %s", argv[0], name, arg), map[string]any{"flag": arg})
			}
			continue
		}
		positional = append(positional, arg)
	}
	return v.checkPositional(argv[0], name, sub.Args, positional)
}

func (v *CommandValidator) checkPositional(tool, sub string, kind ArgKind, args []string) error {
	if kind == ArgNone {
		if len(args) > 0 {
			return reject(ErrUnexpectedArgument, fmt.Sprintf("Unexpected argument for %s %s: %s", tool, sub, args[0]), nil)
		}
		return nil
	}
	if len(args) == 0 {
		if kind == ArgImage {
			return reject(ErrMissingImage, fmt.Sprintf("Missing image reference for %s %s", tool, sub), nil)
		}
		return reject(ErrUnexpectedArgument, fmt.Sprintf("Missing argument for %s %s", tool, sub), nil)
	}
	if len(args) > 1 {
		return reject(ErrUnexpectedArgument, fmt.Sprintf("Unexpected argument for %s %s: %s", tool, sub, args[1]), nil)
	}
	switch kind {
	case ArgImage:
		if v.images == nil {
			return reject(ErrRegistryNotAllowed, "Image registry not allowed: no allowed registry configured", nil)
		}
		return v.images.ValidateImageURL(args[0])
	case ArgRevision:
		if !revisionRegex.MatchString(args[0]) {
			return reject(ErrInvalidRevision, fmt.Sprintf("Invalid deployment revision: %q", args[0]), nil)
		}
	case ArgIndex:
		if !indexRegex.MatchString(args[0]) {
			return reject(ErrInvalidRevision, fmt.Sprintf("Invalid deployment index: %q", args[0]), nil)
		}
	}
	return nil
}

// ExecValidator adapts the validator to the hostexec validator chain.
func (v *CommandValidator) ExecValidator() hostexec.ExecValidator {
	return func(spec hostexec.ExecSpec) error {
		return v.ValidateCommand(spec.Argv())
	}
}

func contains(values []string, value string) bool {
	for _, candidate := range values {
		if candidate == value {
			return true
		}
	}
	return false
}
