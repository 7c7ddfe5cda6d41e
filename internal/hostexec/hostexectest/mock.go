// Package hostexectest provides a recording hostexec.Executor for tests.
package hostexectest

import (
	"context"
	"fmt"
	"io"
	"sync"

	"atomic-image-manager/internal/hostexec"
)

// ExitError mimics *exec.ExitError for mocked commands.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string { return fmt.Sprintf("exit status %d", e.Code) }
func (e *ExitError) ExitCode() int { return e.Code }

// MockCommand is a scripted hostexec.Command. Start runs the script
// synchronously and Wait returns its result.
type MockCommand struct {
	Args       []string
	OutputData []byte
	OutputErr  error
	RunErr     error
	RunFunc    func() error
	OutputFunc func() ([]byte, error)

	StdoutW io.Writer
	StderrW io.Writer
	StdinR  io.Reader

	ProcessGroup bool
	Terminated   bool
	Killed       bool

	waitErr error
}

func (c *MockCommand) Output() ([]byte, error) {
	if c.OutputFunc != nil {
		return c.OutputFunc()
	}
	return c.OutputData, c.OutputErr
}

func (c *MockCommand) CombinedOutput() ([]byte, error) { return c.Output() }
func (c *MockCommand) SetStdout(w io.Writer)           { c.StdoutW = w }
func (c *MockCommand) SetStderr(w io.Writer)           { c.StderrW = w }
func (c *MockCommand) SetStdin(r io.Reader)            { c.StdinR = r }
func (c *MockCommand) SetProcessGroup()                { c.ProcessGroup = true }
func (c *MockCommand) Pid() int                        { return 4242 }

func (c *MockCommand) Terminate() error {
	c.Terminated = true
	return nil
}

func (c *MockCommand) Kill() error {
	c.Killed = true
	return nil
}

func (c *MockCommand) Run() error {
	if c.StdoutW != nil && len(c.OutputData) > 0 {
		_, _ = c.StdoutW.Write(c.OutputData)
	}
	if c.RunFunc != nil {
		return c.RunFunc()
	}
	return c.RunErr
}

func (c *MockCommand) Start() error {
	c.waitErr = c.Run()
	return nil
}

func (c *MockCommand) Wait() error { return c.waitErr }

// NotFound returns a command that fails on every path the way a binary
// missing from PATH does under a shell.
func NotFound(args []string) *MockCommand {
	err := &ExitError{Code: 127}
	return &MockCommand{Args: args, OutputErr: err, RunErr: err}
}

// MockExecutor records every command it builds.
type MockExecutor struct {
	mu       sync.Mutex
	Commands []hostexec.ExecSpec

	DefaultOutput []byte
	DefaultErr    error
	DefaultRunErr error
	CommandFunc   func(spec hostexec.ExecSpec) *MockCommand
}

func (m *MockExecutor) Command(_ context.Context, name string, args []string, validators ...hostexec.ExecValidator) (hostexec.Command, error) {
	spec := hostexec.ExecSpec{Name: name, Args: append([]string(nil), args...)}
	if err := hostexec.Validate(spec, validators...); err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.Commands = append(m.Commands, spec)
	fn := m.CommandFunc
	m.mu.Unlock()
	if fn != nil {
		if cmd := fn(spec); cmd != nil {
			return cmd, nil
		}
	}
	return &MockCommand{
		Args:       spec.Args,
		OutputData: m.DefaultOutput,
		OutputErr:  m.DefaultErr,
		RunErr:     m.DefaultRunErr,
	}, nil
}

// HasCommand reports whether a command named name was built.
func (m *MockExecutor) HasCommand(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, spec := range m.Commands {
		if spec.Name == name {
			return true
		}
	}
	return false
}

// LastCommand returns the most recently built command.
func (m *MockExecutor) LastCommand() hostexec.ExecSpec {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Commands) == 0 {
		return hostexec.ExecSpec{}
	}
	return m.Commands[len(m.Commands)-1]
}
