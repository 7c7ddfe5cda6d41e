// Package hostexec builds host commands for the image manager. Every command
// is created from a discrete argument vector and run without a shell; callers
// attach validators that inspect the vector before anything is spawned.
package hostexec

import (
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

// execCommand is a test seam for stubbing command creation in tests.
var execCommand = exec.CommandContext

// Command represents a command that can be executed.
type Command interface {
	Output() ([]byte, error)
	CombinedOutput() ([]byte, error)
	Run() error
	Start() error
	Wait() error
	SetStdout(w io.Writer)
	SetStderr(w io.Writer)
	SetStdin(r io.Reader)
	// SetProcessGroup places the command in its own process group so that
	// Terminate and Kill reach every process it forks.
	SetProcessGroup()
	// Terminate sends SIGTERM; Kill sends SIGKILL. Both are no-ops once the
	// process has exited.
	Terminate() error
	Kill() error
	Pid() int
}

// Executor creates commands for execution.
type Executor interface {
	Command(ctx context.Context, name string, args []string, validators ...ExecValidator) (Command, error)
}

// execCmd wraps exec.Cmd to implement Command interface.
type execCmd struct {
	cmd   *exec.Cmd
	group bool
}

func (c *execCmd) Output() ([]byte, error)         { return c.cmd.Output() }
func (c *execCmd) CombinedOutput() ([]byte, error) { return c.cmd.CombinedOutput() }
func (c *execCmd) Run() error                      { return c.cmd.Run() }
func (c *execCmd) Start() error                    { return c.cmd.Start() }
func (c *execCmd) Wait() error                     { return c.cmd.Wait() }
func (c *execCmd) SetStdout(w io.Writer)           { c.cmd.Stdout = w }
func (c *execCmd) SetStderr(w io.Writer)           { c.cmd.Stderr = w }
func (c *execCmd) SetStdin(r io.Reader)            { c.cmd.Stdin = r }
func (c *execCmd) Terminate() error                { return c.signal(unix.SIGTERM) }
func (c *execCmd) Kill() error                     { return c.signal(unix.SIGKILL) }

func (c *execCmd) SetProcessGroup() {
	if c.cmd.SysProcAttr == nil {
		c.cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	c.cmd.SysProcAttr.Setpgid = true
	c.group = true
}

func (c *execCmd) Pid() int {
	if c.cmd.Process == nil {
		return 0
	}
	return c.cmd.Process.Pid
}

func (c *execCmd) signal(sig unix.Signal) error {
	if c.cmd.Process == nil {
		return ErrNotStarted
	}
	var err error
	if c.group {
		err = unix.Kill(-c.cmd.Process.Pid, sig)
	} else {
		err = c.cmd.Process.Signal(sig)
	}
	if errors.Is(err, unix.ESRCH) || errors.Is(err, os.ErrProcessDone) {
		return nil
	}
	return err
}

// OSExecutor is the production implementation using os/exec.
type OSExecutor struct{}

func (OSExecutor) Command(ctx context.Context, name string, args []string, validators ...ExecValidator) (Command, error) {
	if err := Validate(ExecSpec{Name: name, Args: args}, validators...); err != nil {
		return nil, err
	}
	return &execCmd{cmd: execCommand(ctx, name, args...)}, nil
}

// DefaultExecutor runs commands on the local system.
var DefaultExecutor Executor = OSExecutor{}
