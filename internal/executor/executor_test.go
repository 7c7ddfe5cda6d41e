package executor

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"atomic-image-manager/internal/hostexec"
	"atomic-image-manager/internal/hostexec/hostexectest"
	"atomic-image-manager/internal/metrics"
	"atomic-image-manager/internal/validate"
)

// shellExecutor runs real sh scripts. The command policy and the client's
// metacharacter checks are disabled so test scripts can use redirections.
func shellExecutor(opts ...Option) *Executor {
	client := hostexec.NewClient(hostexec.DefaultExecutor,
		hostexec.WithValidators(),
		hostexec.WithHostSpawn(false))
	return New(client, append([]Option{WithValidator(nil)}, opts...)...)
}

func sh(script string) []string {
	return []string{"sh", "-c", script}
}

type lineRecorder struct {
	mu    sync.Mutex
	lines []string
}

func (r *lineRecorder) sink(line string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines = append(r.lines, line)
}

func (r *lineRecorder) get() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.lines...)
}

func TestExecuteWithProgressStreamsLines(t *testing.T) {
	e := shellExecutor()
	var rec lineRecorder

	res := e.ExecuteWithProgress(context.Background(), sh("printf 'one\\ntwo\\r\\nthree'"), rec.sink)

	require.True(t, res.Success, res.Output)
	assert.Equal(t, KindNone, res.Kind)
	assert.Equal(t, 0, res.ExitCode)
	assert.NoError(t, res.Err)
	assert.Equal(t, []string{"one", "two", "three"}, rec.get())
	assert.Equal(t, "one\ntwo\nthree", res.Output)
	assert.Equal(t, StateIdle, e.State())
}

func TestExecuteWithProgressMergesStderr(t *testing.T) {
	e := shellExecutor()
	var rec lineRecorder

	res := e.ExecuteWithProgress(context.Background(), sh("echo out; echo err >&2; echo out2"), rec.sink)

	require.True(t, res.Success)
	assert.Equal(t, []string{"out", "err", "out2"}, rec.get())
}

func TestExecuteWithProgressFailure(t *testing.T) {
	e := shellExecutor()

	res := e.ExecuteWithProgress(context.Background(), sh("echo boom >&2; exit 3"), nil)

	assert.False(t, res.Success)
	assert.Equal(t, KindGeneral, res.Kind)
	assert.Equal(t, 3, res.ExitCode)
	assert.True(t, strings.HasPrefix(res.Output, "boom"))
	assert.True(t, strings.HasSuffix(res.Output, "Command failed with exit code 3"))
	assert.ErrorIs(t, res.Err, ErrCommandFailed)
}

func TestExecuteWithProgressClassifiesNetworkFailure(t *testing.T) {
	e := shellExecutor()

	res := e.ExecuteWithProgress(context.Background(),
		sh("echo 'error: Could not resolve host: ghcr.io' >&2; exit 1"), nil)

	assert.False(t, res.Success)
	assert.Equal(t, KindNetwork, res.Kind)
	assert.Equal(t, 1, res.ExitCode)
}

func TestExecuteWithProgressRejectsConcurrentRun(t *testing.T) {
	m := metrics.New()
	e := shellExecutor(WithMetrics(m), WithKillGrace(time.Second))

	first := make(chan Result, 1)
	go func() {
		first <- e.ExecuteWithProgress(context.Background(), sh("echo started; sleep 10"), nil)
	}()
	require.Eventually(t, func() bool { return e.State() == StateRunning }, 5*time.Second, 10*time.Millisecond)

	begin := time.Now()
	second := e.ExecuteWithProgress(context.Background(), sh("echo second"), nil)
	assert.Less(t, time.Since(begin), time.Second)
	assert.False(t, second.Success)
	assert.Equal(t, KindBusy, second.Kind)
	assert.Equal(t, "Command already executing", second.Output)
	assert.ErrorIs(t, second.Err, ErrBusy)

	require.True(t, e.CancelCurrentExecution())
	res := <-first
	assert.Equal(t, KindCancelled, res.Kind)
	assert.True(t, strings.HasSuffix(res.Output, "[Operation cancelled]"))
	assert.Contains(t, res.Output, "started")
	assert.Equal(t, StateIdle, e.State())

	expected := `
# HELP atomic_image_manager_busy_rejections_total Executions rejected because another command was running
# TYPE atomic_image_manager_busy_rejections_total counter
atomic_image_manager_busy_rejections_total 1
`
	assert.NoError(t, testutil.GatherAndCompare(m.Registry(), strings.NewReader(expected),
		"atomic_image_manager_busy_rejections_total"))
}

func TestCancelEscalatesToKill(t *testing.T) {
	e := shellExecutor(WithKillGrace(200 * time.Millisecond))

	done := make(chan Result, 1)
	go func() {
		done <- e.ExecuteWithProgress(context.Background(), sh("trap '' TERM; echo ready; sleep 30"), nil)
	}()
	require.Eventually(t, func() bool { return e.State() == StateRunning }, 5*time.Second, 10*time.Millisecond)
	require.True(t, e.CancelCurrentExecution())
	assert.False(t, e.CancelCurrentExecution(), "second cancel is a no-op")

	select {
	case res := <-done:
		assert.Equal(t, KindCancelled, res.Kind)
		assert.ErrorIs(t, res.Err, ErrCancelled)
	case <-time.After(10 * time.Second):
		t.Fatal("cancelled command did not stop")
	}
}

func TestCancelWhenIdle(t *testing.T) {
	e := shellExecutor()
	assert.False(t, e.CancelCurrentExecution())
}

func TestContextCancellation(t *testing.T) {
	e := shellExecutor(WithKillGrace(time.Second))
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan Result, 1)
	go func() { done <- e.ExecuteWithProgress(ctx, sh("sleep 30"), nil) }()
	require.Eventually(t, func() bool { return e.State() == StateRunning }, 5*time.Second, 10*time.Millisecond)
	cancel()

	res := <-done
	assert.Equal(t, KindCancelled, res.Kind)
	assert.Equal(t, "[Operation cancelled]", res.Output)
}

func TestIdleTimeout(t *testing.T) {
	e := shellExecutor(WithIdleTimeout(200 * time.Millisecond))

	res := e.ExecuteWithProgress(context.Background(), sh("echo waiting; sleep 30"), nil)

	assert.False(t, res.Success)
	assert.Equal(t, KindTimeout, res.Kind)
	assert.Less(t, res.Duration, 10*time.Second)
	assert.Contains(t, res.Output, "waiting")
	assert.Contains(t, res.Output, "Command timed out after 200ms without output")
	assert.ErrorIs(t, res.Err, ErrTimeout)
}

func TestMaxDuration(t *testing.T) {
	e := shellExecutor(WithIdleTimeout(time.Minute), WithMaxDuration(300*time.Millisecond))

	res := e.ExecuteWithProgress(context.Background(),
		sh("while true; do echo tick; sleep 0.05; done"), nil)

	assert.Equal(t, KindTimeout, res.Kind)
	assert.Contains(t, res.Output, "tick")
	assert.True(t, strings.HasSuffix(res.Output, "Command timed out after 300ms"))
}

func TestContextDeadlineIsTimeout(t *testing.T) {
	e := shellExecutor()
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	res := e.ExecuteWithProgress(ctx, sh("sleep 30"), nil)

	assert.Equal(t, KindTimeout, res.Kind)
}

func TestSinkPanicDoesNotStopStream(t *testing.T) {
	e := shellExecutor()
	calls := 0
	sink := func(line string) {
		calls++
		if calls == 1 {
			panic("render failed")
		}
	}

	res := e.ExecuteWithProgress(context.Background(), sh("echo a; echo b; echo c"), sink)

	assert.True(t, res.Success)
	assert.Equal(t, 3, calls)
	assert.Equal(t, "a\nb\nc", res.Output)
}

func TestStartFailure(t *testing.T) {
	e := shellExecutor()

	res := e.ExecuteWithProgress(context.Background(), []string{"/nonexistent/aim-binary"}, nil)

	assert.False(t, res.Success)
	assert.Equal(t, KindGeneral, res.Kind)
	assert.ErrorIs(t, res.Err, ErrStart)
	assert.Equal(t, StateIdle, e.State())
}

func TestValidationRejectsBeforeSpawn(t *testing.T) {
	mock := &hostexectest.MockExecutor{}
	e := New(hostexec.NewClient(mock, hostexec.WithHostSpawn(false)))

	tests := []struct {
		name string
		argv []string
		base error
	}{
		{"empty", nil, hostexec.ErrEmptyCommand},
		{"untrusted tool", []string{"rm", "-rf", "/"}, validate.ErrToolNotAllowed},
		{"bad registry", []string{"rpm-ostree", "rebase", "docker.io/malicious/image:latest"}, validate.ErrRegistryNotAllowed},
		{"metacharacter", []string{"rpm-ostree", "status;reboot"}, validate.ErrDangerousCharacter},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := e.ExecuteWithProgress(context.Background(), tt.argv, nil)
			assert.False(t, res.Success)
			assert.Equal(t, KindValidation, res.Kind)
			assert.ErrorIs(t, res.Err, tt.base)
			assert.Equal(t, res.Err.Error(), res.Output)
		})
	}
	assert.Empty(t, mock.Commands)
}

func TestDefaultPolicyAcceptsRebase(t *testing.T) {
	mock := &hostexectest.MockExecutor{DefaultOutput: []byte("Staging deployment...done\n")}
	e := New(hostexec.NewClient(mock, hostexec.WithHostSpawn(false)))

	res := e.ExecuteWithProgress(context.Background(),
		[]string{"rpm-ostree", "rebase", "ghcr.io/ublue-os/bluefin:latest"}, nil)

	require.True(t, res.Success, res.Output)
	assert.Equal(t, "Staging deployment...done", res.Output)
	assert.Equal(t, "rpm-ostree", mock.LastCommand().Name)
}

func TestMockedExitCode(t *testing.T) {
	mock := &hostexectest.MockExecutor{
		DefaultOutput: []byte("error: Transaction already in use\n"),
		DefaultRunErr: &hostexectest.ExitError{Code: 1},
	}
	e := New(hostexec.NewClient(mock, hostexec.WithHostSpawn(false)), WithValidator(nil))

	res := e.ExecuteWithProgress(context.Background(), []string{"rpm-ostree", "upgrade"}, nil)

	assert.Equal(t, KindBusy, res.Kind)
	assert.Equal(t, 1, res.ExitCode)
}

func TestOnAcceptedSkippedWhenBusy(t *testing.T) {
	e := shellExecutor(WithKillGrace(time.Second))

	var accepted []string
	first := make(chan Result, 1)
	go func() {
		first <- e.ExecuteWithProgress(context.Background(), sh("sleep 10"), nil,
			OnAccepted(func() { accepted = append(accepted, "first") }))
	}()
	require.Eventually(t, func() bool { return e.State() == StateRunning }, 5*time.Second, 10*time.Millisecond)

	res := e.ExecuteWithProgress(context.Background(), sh("true"), nil,
		OnAccepted(func() { t.Error("busy call must not be accepted") }))
	assert.Equal(t, KindBusy, res.Kind)

	require.True(t, e.CancelCurrentExecution())
	<-first
	assert.Equal(t, []string{"first"}, accepted)
}

type fakeAuthorizer struct {
	mu        sync.Mutex
	responses []bool
	err       error
	calls     int
}

func (f *fakeAuthorizer) CheckAuthorization(_ context.Context, _ string, _ bool) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return false, f.err
	}
	if len(f.responses) == 0 {
		return false, nil
	}
	ok := f.responses[0]
	f.responses = f.responses[1:]
	return ok, nil
}

func (f *fakeAuthorizer) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func TestCancelWhileAuthorizing(t *testing.T) {
	auth := &fakeAuthorizer{}
	mock := &hostexectest.MockExecutor{}
	el := NewElevator(ElevatorConfig{Authorizer: auth, Delay: time.Hour})
	e := New(hostexec.NewClient(mock, hostexec.WithHostSpawn(false)), WithElevator(el, 5))

	done := make(chan Result, 1)
	go func() {
		done <- e.ExecuteWithProgress(context.Background(), []string{"rpm-ostree", "rollback"}, nil, WithElevation())
	}()
	// The first prompt was dismissed; the next one is an hour away.
	require.Eventually(t, func() bool { return auth.callCount() == 1 }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, StateValidating, e.State())

	require.True(t, e.CancelCurrentExecution())
	assert.False(t, e.CancelCurrentExecution(), "second cancel is a no-op")

	select {
	case res := <-done:
		assert.Equal(t, KindCancelled, res.Kind)
		assert.ErrorIs(t, res.Err, ErrCancelled)
	case <-time.After(5 * time.Second):
		t.Fatal("cancel during authorization was ignored")
	}
	assert.Empty(t, mock.Commands, "nothing runs after a cancelled prompt")
	assert.Equal(t, 1, auth.callCount())
	assert.Equal(t, StateIdle, e.State())
}

func TestCancelledContextDoesNotSpawn(t *testing.T) {
	mock := &hostexectest.MockExecutor{}
	e := New(hostexec.NewClient(mock, hostexec.WithHostSpawn(false)))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := e.ExecuteWithProgress(ctx, []string{"rpm-ostree", "rollback"}, nil)

	assert.Equal(t, KindCancelled, res.Kind)
	assert.Equal(t, "[Operation cancelled]", res.Output)
	assert.Empty(t, mock.Commands)
}

func TestElevatedExecution(t *testing.T) {
	auth := &fakeAuthorizer{responses: []bool{false, true}}
	mock := &hostexectest.MockExecutor{DefaultOutput: []byte("ok\n")}
	el := NewElevator(ElevatorConfig{Authorizer: auth, Delay: time.Millisecond})
	e := New(hostexec.NewClient(mock, hostexec.WithHostSpawn(false)), WithElevator(el, 3))

	res := e.ExecuteWithProgress(context.Background(), []string{"rpm-ostree", "rollback"}, nil, WithElevation())

	require.True(t, res.Success, res.Output)
	assert.Equal(t, 2, auth.calls)
	last := mock.LastCommand()
	assert.Equal(t, "pkexec", last.Name)
	assert.Equal(t, []string{"rpm-ostree", "rollback"}, last.Args)
}

func TestElevationDenied(t *testing.T) {
	auth := &fakeAuthorizer{}
	mock := &hostexectest.MockExecutor{}
	el := NewElevator(ElevatorConfig{Authorizer: auth, Delay: time.Millisecond})
	e := New(hostexec.NewClient(mock, hostexec.WithHostSpawn(false)), WithElevator(el, 3))

	res := e.ExecuteWithProgress(context.Background(), []string{"rpm-ostree", "rollback"}, nil, WithElevation())

	assert.False(t, res.Success)
	assert.Equal(t, KindDenied, res.Kind)
	assert.ErrorIs(t, res.Err, ErrElevationDenied)
	assert.Equal(t, 3, auth.calls)
	assert.Empty(t, mock.Commands)
}

func TestElevationWithoutElevator(t *testing.T) {
	mock := &hostexectest.MockExecutor{}
	e := New(hostexec.NewClient(mock, hostexec.WithHostSpawn(false)))

	res := e.ExecuteWithProgress(context.Background(), []string{"rpm-ostree", "rollback"}, nil, WithElevation())

	assert.Equal(t, KindAuth, res.Kind)
	assert.ErrorIs(t, res.Err, ErrElevationUnavailable)
	assert.Empty(t, mock.Commands)
}

func TestExitCodeOf(t *testing.T) {
	assert.Equal(t, 0, exitCodeOf(nil))
	assert.Equal(t, 7, exitCodeOf(&hostexectest.ExitError{Code: 7}))
	assert.Equal(t, -1, exitCodeOf(errors.New("signal: killed")))
}
