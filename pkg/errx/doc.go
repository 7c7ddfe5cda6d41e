// Package errx provides structured, code-based errors for the image manager
// core and its CLI.
//
// Every error carries:
//   - A stable 5-digit error code (e.g., "72000" for registry query errors)
//   - A category description (e.g., "Registry query error")
//   - A user-facing message
//   - Optional structured context (key-value pairs)
//   - Optional cause and base sentinel errors
//
// The first two digits of a code select the domain:
//   - 70xxx: command and image reference validation
//   - 71xxx: command execution
//   - 72xxx: registry queries
//   - 73xxx: deployment queries
//   - 74xxx: history and audit store
//   - 75xxx: authorization and privilege elevation
//   - 76xxx: image catalog
//   - 78xxx: CLI/argument validation
//   - 79xxx: configuration
//
// The last three digits are reserved for subcodes.
//
// Packages declare their sentinels through a Sentinels set so the code of a
// sentinel is declared once, next to the sentinel itself:
//
//	var sentinels = errx.NewSentinels(errx.CodeValidation, errx.DescValidation)
//
//	var ErrEmptyCommand = sentinels.New("empty command")
//
//	err := sentinels.Wrap(ErrEmptyCommand, nil, "Empty command", map[string]any{"argc": 0})
//	errors.Is(err, ErrEmptyCommand) // true
//
//	fmt.Println(errx.UserString(err))  // Empty command
//	fmt.Println(errx.DebugString(err)) // 1: *errx.Error: Empty command | code=70000 | ...
package errx
