// Package ops is the caller-facing surface of the image manager. Every
// privileged operation goes through the same path: the command is built,
// tracked, executed by the single-flight executor and recorded in history.
package ops

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"atomic-image-manager/internal/catalog"
	"atomic-image-manager/internal/deployment"
	"atomic-image-manager/internal/executor"
	"atomic-image-manager/internal/history"
	"atomic-image-manager/internal/hostexec"
	"atomic-image-manager/internal/progress"
	"atomic-image-manager/internal/registry"
	"atomic-image-manager/internal/validate"
)

// Outcome is the result of one operation.
type Outcome struct {
	executor.Result
	// OperationID correlates log lines, progress and the history write.
	OperationID string
	// Command is the logical argv that was run or rejected.
	Command []string
	// RebootRequired is set when a successful update reported that a
	// reboot is needed to apply it.
	RebootRequired bool
	// HistoryErr is set when the outcome could not be recorded.
	HistoryErr error
}

// FailureMessage is the most specific reason the operation failed, or ""
// on success.
func (o Outcome) FailureMessage() string {
	if o.Success {
		return ""
	}
	return failureMessage(o.Result)
}

// Manager wires the core components together.
type Manager struct {
	client      *hostexec.Client
	exec        *executor.Executor
	history     *history.Store
	tracker     *progress.Tracker
	deployments *deployment.Manager
	registry    *registry.Querier
	catalog     *catalog.Catalog
	validator   *validate.CommandValidator
	available   func(ctx context.Context, tool string) bool
	logger      *zap.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithPublisher sends progress events for every operation to pub.
func WithPublisher(pub progress.Publisher) Option {
	return func(m *Manager) { m.tracker = progress.NewTracker(pub) }
}

// WithTracker replaces the progress tracker.
func WithTracker(t *progress.Tracker) Option {
	return func(m *Manager) { m.tracker = t }
}

// WithDeployments replaces the deployment query manager.
func WithDeployments(d *deployment.Manager) Option {
	return func(m *Manager) { m.deployments = d }
}

// WithRegistry replaces the registry querier.
func WithRegistry(q *registry.Querier) Option {
	return func(m *Manager) { m.registry = q }
}

// WithCatalog sets the image catalog used to resolve families.
func WithCatalog(c *catalog.Catalog) Option {
	return func(m *Manager) { m.catalog = c }
}

// WithValidator sets the command policy used by ValidateCommand.
func WithValidator(v *validate.CommandValidator) Option {
	return func(m *Manager) { m.validator = v }
}

// WithToolCheck overrides how tool availability is checked.
func WithToolCheck(fn func(ctx context.Context, tool string) bool) Option {
	return func(m *Manager) { m.available = fn }
}

// WithLogger sets the diagnostic logger.
func WithLogger(logger *zap.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

// New creates a Manager. Components not supplied through options are
// built from client with their defaults.
func New(client *hostexec.Client, exec *executor.Executor, store *history.Store, opts ...Option) *Manager {
	m := &Manager{
		client:    client,
		exec:      exec,
		history:   store,
		catalog:   catalog.MustDefault(),
		validator: validate.Default(),
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.tracker == nil {
		m.tracker = progress.NewTracker(nil)
	}
	if m.deployments == nil {
		m.deployments = deployment.NewManager(client, deployment.WithCatalog(m.catalog), deployment.WithLogger(m.logger))
	}
	if m.registry == nil {
		m.registry = registry.NewQuerier(client, registry.WithCatalog(m.catalog), registry.WithLogger(m.logger))
	}
	if m.available == nil {
		m.available = client.Available
	}
	return m
}

// Tracker returns the progress tracker shared by all operations.
func (m *Manager) Tracker() *progress.Tracker { return m.tracker }

// History returns the history store.
func (m *Manager) History() *history.Store { return m.history }

// Catalog returns the image catalog.
func (m *Manager) Catalog() *catalog.Catalog { return m.catalog }

// ValidateCommand checks argv against the command policy without running
// anything.
func (m *Manager) ValidateCommand(argv []string) error {
	return m.validator.ValidateCommand(argv)
}

// Cancel stops the running operation. It reports false when nothing was
// running or a cancel was already requested.
func (m *Manager) Cancel() bool {
	return m.exec.CancelCurrentExecution()
}

// Busy reports whether an operation is in progress.
func (m *Manager) Busy() bool { return m.exec.IsExecuting() }

// Deployments returns the current deployment snapshot.
func (m *Manager) Deployments(ctx context.Context) deployment.Snapshot {
	return m.deployments.GetAllDeployments(ctx)
}

// DeploymentInfo formats d for display.
func (m *Manager) DeploymentInfo(d deployment.Deployment) deployment.Info {
	return m.deployments.FormatDeploymentInfo(d)
}

// RecentImages lists tags of registry/image from the last days. Failures
// yield an empty list.
func (m *Manager) RecentImages(ctx context.Context, registryName, image string, days int, branch string) []registry.Image {
	return m.registry.GetRecentImages(ctx, registryName, image, days, branch)
}

// FamilyImages lists recent tags for a catalog family and variant. An
// empty branch lists every branch.
func (m *Manager) FamilyImages(ctx context.Context, familyID, variant, branch string, days int) ([]registry.Image, error) {
	ref, err := m.catalog.Resolve(familyID, variant, "")
	if err != nil {
		return nil, err
	}
	if branch == "" {
		branch = registry.BranchAll
	}
	return m.registry.GetRecentImages(ctx, ref.Repository(), ref.Image, days, branch), nil
}

// SkopeoAvailable reports whether registry listings can be queried.
func (m *Manager) SkopeoAvailable(ctx context.Context) bool {
	return m.registry.CheckSkopeoAvailable(ctx)
}

type request struct {
	name    string
	op      history.OperationType
	argv    []string
	image   string
	elevate bool
}

// run executes one request and records it. Busy rejections are not
// recorded: nothing ran and the running operation records itself.
func (m *Manager) run(ctx context.Context, req request) Outcome {
	id := uuid.NewString()
	logger := m.logger.With(zap.String("operation_id", id), zap.String("operation", req.name))

	opts := []executor.ExecOption{
		executor.OnAccepted(func() { m.tracker.StartTracking(req.name) }),
	}
	if req.elevate {
		opts = append(opts, executor.WithElevation())
	}

	logger.Info("starting operation", zap.Strings("argv", req.argv))
	res := m.exec.ExecuteWithProgress(ctx, req.argv, m.tracker.Sink(), opts...)
	out := Outcome{Result: res, OperationID: id, Command: req.argv}
	if res.Kind == executor.KindBusy {
		logger.Warn("operation rejected, another operation is running")
		return out
	}

	m.tracker.Complete(res.Success, completionMessage(req.name, res))
	var errMsg string
	if !res.Success {
		errMsg = failureMessage(res)
	}
	if _, err := m.history.AddEntry(strings.Join(req.argv, " "), res.Success, req.image, req.op, errMsg); err != nil {
		logger.Error("failed to record history", zap.Error(err))
		out.HistoryErr = err
	}
	if res.Success {
		logger.Info("operation completed", zap.Duration("duration", res.Duration))
	} else {
		logger.Warn("operation failed", zap.String("kind", string(res.Kind)),
			zap.Int("exit_code", res.ExitCode), zap.Error(res.Err))
	}
	return out
}

// rejected builds the outcome for a request refused before it reached the
// executor.
func rejected(argv []string, err error) Outcome {
	return Outcome{
		OperationID: uuid.NewString(),
		Command:     argv,
		Result: executor.Result{
			Output:   err.Error(),
			Kind:     executor.KindValidation,
			ExitCode: -1,
			Err:      err,
		},
	}
}

func completionMessage(name string, res executor.Result) string {
	if res.Success {
		return name + " completed successfully"
	}
	return name + " failed: " + failureMessage(res)
}

func failureMessage(res executor.Result) string {
	if res.Err != nil && !errors.Is(res.Err, executor.ErrCommandFailed) {
		return res.Err.Error()
	}
	// Failed commands usually name the problem on their last line.
	lines := strings.Split(strings.TrimSpace(res.Output), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if line != "" && !strings.HasPrefix(line, "Command failed with exit code") {
			return line
		}
	}
	if res.Err != nil {
		return res.Err.Error()
	}
	return string(res.Kind)
}
