// Package executor runs validated host commands one at a time, streaming
// their combined output line by line and classifying how they ended.
package executor

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/juju/clock"
	"go.uber.org/zap"

	"atomic-image-manager/internal/hostexec"
	"atomic-image-manager/internal/metrics"
	"atomic-image-manager/internal/validate"
)

// Defaults for the execution limits.
const (
	DefaultIdleTimeout = 2 * time.Minute
	DefaultMaxDuration = time.Hour
	DefaultKillGrace   = 5 * time.Second
	DefaultRetries     = 3
)

// ElevationCommand prefixes argv for privileged runs.
const ElevationCommand = "pkexec"

const (
	busyMessage      = "Command already executing"
	cancelledMarker  = "[Operation cancelled]"
	lineBufferLength = 64
)

// Sink receives each output line in the order the process produced it.
// It is called on the executing goroutine and must return quickly.
type Sink func(line string)

// Executor owns the single-subprocess session state.
type Executor struct {
	client    *hostexec.Client
	validator hostexec.ExecValidator
	elevator  *Elevator
	retries   int

	idleTimeout time.Duration
	maxDuration time.Duration
	killGrace   time.Duration

	clock   clock.Clock
	logger  *zap.Logger
	metrics *metrics.Metrics

	state atomic.Int32

	mu              sync.Mutex
	cancel          context.CancelFunc
	cancelRequested bool
	current         hostexec.Command
}

// Option configures an Executor.
type Option func(*Executor)

// WithLogger sets the diagnostic logger.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Executor) { e.logger = logger }
}

// WithMetrics records execution metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Executor) { e.metrics = m }
}

// WithValidator replaces the command policy. nil disables it, leaving only
// the client's own validators.
func WithValidator(v hostexec.ExecValidator) Option {
	return func(e *Executor) { e.validator = v }
}

// WithIdleTimeout sets how long a command may go without producing output.
func WithIdleTimeout(d time.Duration) Option {
	return func(e *Executor) { e.idleTimeout = d }
}

// WithMaxDuration caps the total run time of a command.
func WithMaxDuration(d time.Duration) Option {
	return func(e *Executor) { e.maxDuration = d }
}

// WithKillGrace sets the wait between SIGTERM and SIGKILL on cancellation.
func WithKillGrace(d time.Duration) Option {
	return func(e *Executor) { e.killGrace = d }
}

// WithElevator enables WithElevation runs, asking up to retries times.
func WithElevator(el *Elevator, retries int) Option {
	return func(e *Executor) {
		e.elevator = el
		e.retries = retries
	}
}

// WithClock sets the clock used for timers.
func WithClock(c clock.Clock) Option {
	return func(e *Executor) { e.clock = c }
}

// New creates an Executor running commands through client.
func New(client *hostexec.Client, opts ...Option) *Executor {
	e := &Executor{
		client:      client,
		validator:   validate.Default().ExecValidator(),
		retries:     DefaultRetries,
		idleTimeout: DefaultIdleTimeout,
		maxDuration: DefaultMaxDuration,
		killGrace:   DefaultKillGrace,
		clock:       clock.WallClock,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// State reports the current session state.
func (e *Executor) State() State { return State(e.state.Load()) }

// IsExecuting reports whether a command is being validated or run.
func (e *Executor) IsExecuting() bool { return e.State() != StateIdle }

type execOptions struct {
	elevate  bool
	accepted func()
}

// ExecOption configures a single execution.
type ExecOption func(*execOptions)

// WithElevation requests administrator rights before running and prefixes
// the command with pkexec.
func WithElevation() ExecOption {
	return func(o *execOptions) { o.elevate = true }
}

// OnAccepted registers fn to run once the call has passed the busy guard,
// before validation. It is not called for a busy rejection.
func OnAccepted(fn func()) ExecOption {
	return func(o *execOptions) { o.accepted = fn }
}

// ExecuteWithProgress validates and runs argv, delivering each output line
// to sink. Only one command runs at a time; a concurrent call returns
// immediately with KindBusy. Once accepted the call can be cancelled, also
// while it waits for authorization. It never panics and never returns an
// error separately from the Result.
func (e *Executor) ExecuteWithProgress(parent context.Context, argv []string, sink Sink, opts ...ExecOption) (res Result) {
	if !e.state.CompareAndSwap(int32(StateIdle), int32(StateValidating)) {
		e.metrics.BusyRejected()
		return Result{
			Output:   busyMessage,
			Kind:     KindBusy,
			ExitCode: -1,
			Err:      sentinels.Wrap(ErrBusy, nil, busyMessage, nil),
		}
	}
	start := e.clock.Now()
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("execution panicked", zap.Any("panic", r), zap.Strings("argv", argv))
			e.killCurrent()
			msg := fmt.Sprintf("Unexpected error: %v", r)
			res = Result{
				Output:   appendLine(res.Output, msg),
				Kind:     KindGeneral,
				ExitCode: -1,
				Err:      sentinels.Wrap(ErrUnexpected, nil, msg, nil),
			}
		}
		res.Duration = e.clock.Now().Sub(start)
		e.metrics.ObserveExecution(string(res.Kind), res.Duration)
		e.clearCurrent()
		e.state.Store(int32(StateIdle))
	}()

	ctx, cancel := context.WithCancel(parent)
	defer cancel()
	e.setCancel(cancel)

	var o execOptions
	for _, opt := range opts {
		opt(&o)
	}
	if o.accepted != nil {
		o.accepted()
	}

	spec, err := hostexec.SpecFromArgv(argv)
	if err == nil {
		err = hostexec.Validate(spec, e.validator)
	}
	if err != nil {
		e.logger.Debug("command rejected", zap.Strings("argv", argv), zap.Error(err))
		return Result{Output: err.Error(), Kind: KindValidation, ExitCode: -1, Err: err}
	}

	physical := argv
	if o.elevate {
		if denied, ok := e.elevate(ctx); !ok {
			return denied
		}
		physical = append([]string{ElevationCommand}, argv...)
	}

	return e.run(ctx, parent, physical, sink)
}

func (e *Executor) elevate(ctx context.Context) (Result, bool) {
	if e.elevator == nil {
		err := sentinels.Wrap(ErrElevationUnavailable, nil, "No authorization service configured", nil)
		return Result{Output: err.Error(), Kind: KindAuth, ExitCode: -1, Err: err}, false
	}
	err := e.elevator.RequestElevatedPrivileges(ctx, e.retries)
	if err == nil {
		return Result{}, true
	}
	kind := KindAuth
	switch {
	case errors.Is(err, ErrElevationDenied):
		kind = KindDenied
	case errors.Is(err, ErrCancelled):
		kind = KindCancelled
	}
	return Result{Output: err.Error(), Kind: kind, ExitCode: -1, Err: err}, false
}

// RequestElevatedPrivileges runs the configured elevator on its own.
func (e *Executor) RequestElevatedPrivileges(ctx context.Context, maxRetries int) error {
	if e.elevator == nil {
		return sentinels.Wrap(ErrElevationUnavailable, nil, "No authorization service configured", nil)
	}
	return e.elevator.RequestElevatedPrivileges(ctx, maxRetries)
}

type ending int

const (
	endExited ending = iota
	endTimeout
	endCancelled
)

// run starts argv under ctx, which CancelCurrentExecution cancels. parent
// tells a caller deadline apart from a cancellation.
func (e *Executor) run(ctx, parent context.Context, argv []string, sink Sink) Result {
	if errors.Is(ctx.Err(), context.Canceled) {
		return cancelledResult(cancelledMarker, -1)
	}

	// The command itself is not bound to ctx: cancellation goes through
	// Terminate/Kill on the process group so the grace window applies.
	cmd, err := e.client.Command(context.WithoutCancel(ctx), argv)
	if err != nil {
		return Result{Output: err.Error(), Kind: KindValidation, ExitCode: -1, Err: err}
	}

	r, w, err := os.Pipe()
	if err != nil {
		return e.startFailure(argv, err)
	}
	defer r.Close()
	cmd.SetStdout(w)
	cmd.SetStderr(w)
	cmd.SetProcessGroup()

	if err := cmd.Start(); err != nil {
		w.Close()
		return e.startFailure(argv, err)
	}
	w.Close()
	e.setCurrent(cmd)
	e.state.Store(int32(StateRunning))
	e.logger.Debug("command started", zap.Strings("argv", argv), zap.Int("pid", cmd.Pid()))

	var out strings.Builder
	end, timeoutMsg := e.stream(ctx, parent, cmd, r, sink, &out)
	waitErr := cmd.Wait()

	output := strings.TrimRight(out.String(), "\n")
	exitCode := exitCodeOf(waitErr)

	switch end {
	case endCancelled:
		return cancelledResult(appendLine(output, cancelledMarker), exitCode)
	case endTimeout:
		return Result{
			Output:   appendLine(output, timeoutMsg),
			Kind:     KindTimeout,
			ExitCode: exitCode,
			Err:      sentinels.Wrap(ErrTimeout, nil, timeoutMsg, nil),
		}
	}

	if waitErr == nil {
		return Result{Success: true, Output: output}
	}
	kind := AnalyzeErrorType(output, exitCode)
	if kind == KindNone {
		kind = KindGeneral
	}
	msg := fmt.Sprintf("Command failed with exit code %d", exitCode)
	e.logger.Debug("command failed",
		zap.Strings("argv", argv),
		zap.Int("exit_code", exitCode),
		zap.String("kind", string(kind)))
	return Result{
		Output:   appendLine(output, msg),
		Kind:     kind,
		ExitCode: exitCode,
		Err: sentinels.Wrap(ErrCommandFailed, waitErr, msg, map[string]any{
			"exit_code": exitCode,
			"kind":      string(kind),
		}),
	}
}

// stream reads the merged output until the pipe closes, enforcing the idle
// and overall limits and reacting to cancellation.
func (e *Executor) stream(ctx, parent context.Context, cmd hostexec.Command, r io.ReadCloser, sink Sink, out *strings.Builder) (ending, string) {
	lines := make(chan string, lineBufferLength)
	go readLines(r, lines)

	idle := e.clock.NewTimer(e.idleTimeout)
	defer idle.Stop()
	overall := e.clock.NewTimer(e.maxDuration)
	defer overall.Stop()

	idleC, overallC := idle.Chan(), overall.Chan()
	done := ctx.Done()
	var escalateC, giveUpC <-chan time.Time

	end := endExited
	var timeoutMsg string
	timedOut := func(msg string) {
		end, timeoutMsg = endTimeout, msg
		idleC, overallC, done = nil, nil, nil
		e.logger.Debug("command timed out", zap.String("reason", msg))
		if err := cmd.Kill(); err != nil {
			e.logger.Debug("kill failed", zap.Error(err))
		}
		giveUpC = e.clock.After(e.killGrace)
	}

	for lines != nil {
		select {
		case line, ok := <-lines:
			if !ok {
				lines = nil
				continue
			}
			out.WriteString(line)
			out.WriteByte('\n')
			e.deliver(sink, line)
			if idleC != nil {
				idle.Reset(e.idleTimeout)
			}
		case <-idleC:
			timedOut(fmt.Sprintf("Command timed out after %s without output", e.idleTimeout))
		case <-overallC:
			timedOut(fmt.Sprintf("Command timed out after %s", e.maxDuration))
		case <-done:
			if errors.Is(parent.Err(), context.DeadlineExceeded) {
				timedOut("Command timed out: deadline exceeded")
				continue
			}
			end = endCancelled
			idleC, overallC, done = nil, nil, nil
			if err := cmd.Terminate(); err != nil {
				e.logger.Debug("terminate failed", zap.Error(err))
			}
			escalateC = e.clock.After(e.killGrace)
		case <-escalateC:
			escalateC = nil
			if err := cmd.Kill(); err != nil {
				e.logger.Debug("kill failed", zap.Error(err))
			}
			giveUpC = e.clock.After(e.killGrace)
		case <-giveUpC:
			// Something outside the process group still holds the pipe.
			giveUpC = nil
			r.Close()
		}
	}
	return end, timeoutMsg
}

func (e *Executor) deliver(sink Sink, line string) {
	if sink == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			e.logger.Warn("output sink panicked", zap.Any("panic", r))
		}
	}()
	sink(line)
}

func cancelledResult(output string, exitCode int) Result {
	return Result{
		Output:   output,
		Kind:     KindCancelled,
		ExitCode: exitCode,
		Err:      sentinels.Wrap(ErrCancelled, nil, "Operation cancelled", nil),
	}
}

func (e *Executor) startFailure(argv []string, err error) Result {
	msg := fmt.Sprintf("Failed to start %s: %v", argv[0], err)
	e.logger.Debug("command start failed", zap.Strings("argv", argv), zap.Error(err))
	return Result{
		Output:   msg,
		Kind:     KindGeneral,
		ExitCode: -1,
		Err:      sentinels.Wrap(ErrStart, err, msg, map[string]any{"command": argv[0]}),
	}
}

// CancelCurrentExecution asks the accepted command to stop, whether it is
// still waiting for authorization or already running. It returns false when
// nothing is in flight or a cancel was already requested.
func (e *Executor) CancelCurrentExecution() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cancel == nil || e.cancelRequested {
		return false
	}
	e.cancelRequested = true
	e.cancel()
	return true
}

func (e *Executor) setCancel(cancel context.CancelFunc) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cancel = cancel
	e.cancelRequested = false
}

func (e *Executor) setCurrent(cmd hostexec.Command) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.current = cmd
}

func (e *Executor) clearCurrent() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.current = nil
	e.cancel = nil
	e.cancelRequested = false
}

func (e *Executor) killCurrent() {
	e.mu.Lock()
	cmd := e.current
	e.mu.Unlock()
	if cmd != nil {
		_ = cmd.Kill()
	}
}

// readLines sends each line read from r without its terminator, including
// a final unterminated one, then closes lines.
func readLines(r io.Reader, lines chan<- string) {
	defer close(lines)
	br := bufio.NewReader(r)
	for {
		line, err := br.ReadString('\n')
		if line != "" {
			lines <- strings.TrimRight(line, "\r\n")
		}
		if err != nil {
			return
		}
	}
}

func exitCodeOf(err error) int {
	if err == nil {
		return 0
	}
	var coder interface{ ExitCode() int }
	if errors.As(err, &coder) {
		return coder.ExitCode()
	}
	return -1
}

func appendLine(output, line string) string {
	if output == "" {
		return line
	}
	return output + "\n" + line
}
