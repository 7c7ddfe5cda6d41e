package hostexec

import (
	"context"
	"io"
	"os"
	"os/exec"
)

// FlatpakEnv is set by the Flatpak runtime inside a sandbox. When present,
// host tools are reached through flatpak-spawn.
const FlatpakEnv = "FLATPAK_ID"

var lookPath = exec.LookPath

// Client wraps host command execution with validation and the sandbox escape.
type Client struct {
	exec       Executor
	validators []ExecValidator
	hostSpawn  bool
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithValidators replaces the default validators.
func WithValidators(validators ...ExecValidator) ClientOption {
	return func(c *Client) { c.validators = validators }
}

// WithHostSpawn forces the flatpak-spawn prefix on or off.
func WithHostSpawn(enabled bool) ClientOption {
	return func(c *Client) { c.hostSpawn = enabled }
}

// NewClient creates a Client with default validators. The flatpak-spawn
// prefix is enabled when running inside a Flatpak sandbox.
func NewClient(exec Executor, opts ...ClientOption) *Client {
	c := &Client{
		exec: exec,
		validators: []ExecValidator{
			NoControlChars(),
			NoShellMeta(),
		},
		hostSpawn: os.Getenv(FlatpakEnv) != "",
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// HostSpawn reports whether commands are routed through flatpak-spawn.
func (c *Client) HostSpawn() bool { return c.hostSpawn }

// Command validates argv against the client validators plus extra, then
// builds the command, adding the sandbox escape prefix when needed.
func (c *Client) Command(ctx context.Context, argv []string, extra ...ExecValidator) (Command, error) {
	spec, err := SpecFromArgv(argv)
	if err != nil {
		return nil, err
	}
	if err := Validate(spec, c.validators...); err != nil {
		return nil, err
	}
	if err := Validate(spec, extra...); err != nil {
		return nil, err
	}
	name, args := c.physical(spec)
	return c.exec.Command(ctx, name, args)
}

func (c *Client) physical(spec ExecSpec) (string, []string) {
	if !c.hostSpawn {
		return spec.Name, spec.Args
	}
	return "flatpak-spawn", append([]string{"--host", spec.Name}, spec.Args...)
}

// Output runs argv and returns stdout.
func (c *Client) Output(ctx context.Context, argv []string) ([]byte, error) {
	cmd, err := c.Command(ctx, argv)
	if err != nil {
		return nil, err
	}
	return cmd.Output()
}

// CombinedOutput runs argv and returns combined stdout/stderr.
func (c *Client) CombinedOutput(ctx context.Context, argv []string) ([]byte, error) {
	cmd, err := c.Command(ctx, argv)
	if err != nil {
		return nil, err
	}
	return cmd.CombinedOutput()
}

// Run runs argv.
func (c *Client) Run(ctx context.Context, argv []string) error {
	cmd, err := c.Command(ctx, argv)
	if err != nil {
		return err
	}
	return cmd.Run()
}

// RunWithOutput runs argv, piping to the provided writers.
func (c *Client) RunWithOutput(ctx context.Context, argv []string, stdout, stderr io.Writer) error {
	cmd, err := c.Command(ctx, argv)
	if err != nil {
		return err
	}
	cmd.SetStdout(stdout)
	cmd.SetStderr(stderr)
	return cmd.Run()
}

// Available reports whether tool can be found on the host.
func (c *Client) Available(ctx context.Context, tool string) bool {
	if !c.hostSpawn {
		_, err := lookPath(tool)
		return err == nil
	}
	cmd, err := c.exec.Command(ctx, "flatpak-spawn", []string{"--host", "which", tool})
	if err != nil {
		return false
	}
	return cmd.Run() == nil
}
