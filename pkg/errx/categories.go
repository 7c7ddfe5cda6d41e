package errx

import (
	"errors"
	"fmt"
)

// CreateByCode creates an Error using the provided code, description, and message.
func CreateByCode(code, description, message string, cause error) *Error {
	if cause != nil {
		return Wrap(code, description, message, cause)
	}
	return New(code, description, message)
}

// FromSentinel creates an Error for sentinel, asking lookup for the code the
// sentinel is reported under. Unknown sentinels fall back to the CLI code.
func FromSentinel(sentinel error, lookup func(error) (code, description string), message string, cause error) *Error {
	code, desc := lookup(sentinel)
	if code == "" {
		code = CodeCLI
		desc = DescCLI
	}
	return CreateByCode(code, desc, message, cause).WithBase(sentinel)
}

// Sentinels is a set of sentinel errors belonging to one package, each mapped
// to the code it is reported under. Sentinels are registered during package
// initialisation and only read afterwards.
type Sentinels struct {
	fallback RegistryEntry
	specs    map[error]RegistryEntry
}

// NewSentinels returns a set whose sentinels default to code/description.
// It panics if code is not registered.
func NewSentinels(code, description string) *Sentinels {
	mustBeRegistered(code)
	return &Sentinels{
		fallback: RegistryEntry{Code: code, Description: description},
		specs:    make(map[error]RegistryEntry),
	}
}

// New creates a sentinel reported under the set's default code.
func (s *Sentinels) New(msg string) error {
	return s.NewWithCode(msg, s.fallback.Code, s.fallback.Description)
}

// NewWithCode creates a sentinel reported under an explicit code.
func (s *Sentinels) NewWithCode(msg, code, description string) error {
	mustBeRegistered(code)
	err := errors.New(msg)
	s.specs[err] = RegistryEntry{Code: code, Description: description}
	return err
}

// Lookup returns the code registered for sentinel, or the set's default.
func (s *Sentinels) Lookup(sentinel error) (code, description string) {
	if spec, ok := s.specs[sentinel]; ok {
		return spec.Code, spec.Description
	}
	return s.fallback.Code, s.fallback.Description
}

func mustBeRegistered(code string) {
	if !IsValidCode(code) {
		panic(fmt.Sprintf("errx: error code %q is not registered", code))
	}
}

// Wrap builds an Error based on sentinel with the given message, cause and
// context. A nil sentinel yields an Error under the set's default code.
func (s *Sentinels) Wrap(sentinel, cause error, msg string, ctx map[string]any) *Error {
	var err *Error
	if sentinel == nil {
		err = CreateByCode(s.fallback.Code, s.fallback.Description, msg, cause)
	} else {
		err = FromSentinel(sentinel, s.Lookup, msg, cause)
	}
	if len(ctx) > 0 {
		err = err.WithContextMap(ctx)
	}
	return err
}

// WrapCLI wraps a cause with a CLI/argument validation error.
func WrapCLI(message string, cause error) *Error {
	return Wrap(CodeCLI, DescCLI, message, cause)
}
