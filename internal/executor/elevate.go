package executor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/juju/clock"
	"github.com/juju/retry"
	"go.uber.org/zap"
)

// DefaultPolkitAction is the rpm-ostree action checked before privileged
// image operations.
const DefaultPolkitAction = "org.projectatomic.rpmostree1.rebase"

const (
	polkitName   = "org.freedesktop.PolicyKit1"
	polkitPath   = dbus.ObjectPath("/org/freedesktop/PolicyKit1/Authority")
	polkitMethod = "org.freedesktop.PolicyKit1.Authority.CheckAuthorization"

	polkitAllowUserInteraction uint32 = 1
)

// errNotAuthorized is returned by an attempt that the user dismissed or
// refused. It is the only retryable outcome.
var errNotAuthorized = errors.New("not authorized")

// Authorizer asks an authorization service whether the current process may
// perform actionID.
type Authorizer interface {
	CheckAuthorization(ctx context.Context, actionID string, allowInteraction bool) (bool, error)
}

// PolkitAuthorizer checks actions against polkit over the system bus.
type PolkitAuthorizer struct{}

type polkitSubject struct {
	Kind    string
	Details map[string]dbus.Variant
}

type polkitResult struct {
	IsAuthorized bool
	IsChallenge  bool
	Details      map[string]string
}

// CheckAuthorization implements Authorizer.
func (PolkitAuthorizer) CheckAuthorization(ctx context.Context, actionID string, allowInteraction bool) (bool, error) {
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return false, err
	}
	defer conn.Close()

	pid := os.Getpid()
	subject := polkitSubject{
		Kind: "unix-process",
		Details: map[string]dbus.Variant{
			"pid":        dbus.MakeVariant(uint32(pid)),
			"start-time": dbus.MakeVariant(processStartTime(pid)),
		},
	}
	var flags uint32
	if allowInteraction {
		flags = polkitAllowUserInteraction
	}

	var result polkitResult
	call := conn.Object(polkitName, polkitPath).CallWithContext(ctx, polkitMethod, 0,
		subject, map[string]string{}, flags, "")
	if err := call.Store(&result); err != nil {
		return false, err
	}
	return result.IsAuthorized, nil
}

// processStartTime reads the start time in clock ticks from /proc. Polkit
// accepts zero when it is unknown.
func processStartTime(pid int) uint64 {
	data, err := os.ReadFile(fmt.Sprintf("/proc/%d/stat", pid))
	if err != nil {
		return 0
	}
	stat := string(data)
	end := strings.LastIndexByte(stat, ')')
	if end < 0 {
		return 0
	}
	// Fields after the command name start at field 3; starttime is field 22.
	fields := strings.Fields(stat[end+1:])
	if len(fields) < 20 {
		return 0
	}
	v, err := strconv.ParseUint(fields[19], 10, 64)
	if err != nil {
		return 0
	}
	return v
}

// ElevatorConfig configures an Elevator.
type ElevatorConfig struct {
	Authorizer Authorizer
	// Action defaults to DefaultPolkitAction.
	Action string
	// Delay between attempts, default one second.
	Delay  time.Duration
	Clock  clock.Clock
	Logger *zap.Logger
}

// Elevator obtains administrator rights before a privileged command runs.
type Elevator struct {
	auth   Authorizer
	action string
	delay  time.Duration
	clock  clock.Clock
	logger *zap.Logger
}

// NewElevator creates an Elevator. A nil Authorizer uses polkit.
func NewElevator(cfg ElevatorConfig) *Elevator {
	e := &Elevator{
		auth:   cfg.Authorizer,
		action: cfg.Action,
		delay:  cfg.Delay,
		clock:  cfg.Clock,
		logger: cfg.Logger,
	}
	if e.auth == nil {
		e.auth = PolkitAuthorizer{}
	}
	if e.action == "" {
		e.action = DefaultPolkitAction
	}
	if e.delay <= 0 {
		e.delay = time.Second
	}
	if e.clock == nil {
		e.clock = clock.WallClock
	}
	if e.logger == nil {
		e.logger = zap.NewNop()
	}
	return e
}

// Action returns the polkit action id being checked.
func (e *Elevator) Action() string { return e.action }

// RequestElevatedPrivileges asks for authorization up to maxRetries times.
// A dismissed or refused prompt is retried; running out of attempts yields
// ErrElevationDenied. Failures to reach the authorization service are not
// retried and yield ErrElevationUnavailable.
func (e *Elevator) RequestElevatedPrivileges(ctx context.Context, maxRetries int) error {
	attempts := max(maxRetries, 1)
	err := retry.Call(retry.CallArgs{
		Func: func() error {
			ok, err := e.auth.CheckAuthorization(ctx, e.action, true)
			if err != nil {
				return err
			}
			if !ok {
				return errNotAuthorized
			}
			return nil
		},
		IsFatalError: func(err error) bool {
			return !errors.Is(err, errNotAuthorized)
		},
		NotifyFunc: func(err error, attempt int) {
			e.logger.Debug("authorization attempt failed",
				zap.String("action", e.action),
				zap.Int("attempt", attempt),
				zap.Error(err))
		},
		Attempts: attempts,
		Delay:    e.delay,
		Clock:    e.clock,
		Stop:     ctx.Done(),
	})
	ctxFields := map[string]any{"action": e.action, "attempts": attempts}
	switch {
	case err == nil:
		return nil
	case retry.IsAttemptsExceeded(err):
		return sentinels.Wrap(ErrElevationDenied, nil,
			fmt.Sprintf("Authorization denied after %d attempts", attempts), ctxFields)
	case retry.IsRetryStopped(err) || ctx.Err() != nil:
		return sentinels.Wrap(ErrCancelled, ctx.Err(), "Authorization cancelled", ctxFields)
	default:
		return sentinels.Wrap(ErrElevationUnavailable, err,
			"Authorization service unavailable: "+err.Error(), ctxFields)
	}
}
