package cli

import (
	"context"
	"os"
	"os/signal"
	"sync"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"atomic-image-manager/internal/catalog"
	"atomic-image-manager/internal/executor"
	"atomic-image-manager/internal/history"
	"atomic-image-manager/internal/hostexec"
	"atomic-image-manager/internal/metrics"
	"atomic-image-manager/internal/ops"
	"atomic-image-manager/internal/progress"
	"atomic-image-manager/internal/registry"
	"atomic-image-manager/internal/validate"
	"atomic-image-manager/pkg/errx"
)

// hostExecutor is a test seam for stubbing host commands.
var hostExecutor hostexec.Executor = hostexec.DefaultExecutor

// auditSink is a test seam for the history audit mirror.
var auditSink = history.SystemAuditSink

// extraOpsOptions is a test seam appended to the manager options.
var extraOpsOptions []ops.Option

var (
	configFlags CLIConfig
	configFile  string
)

// AddConfigFlags registers the configuration flags on root. They override
// the environment and the config file.
func AddConfigFlags(root *cobra.Command) {
	fs := root.PersistentFlags()
	fs.StringVar(&configFile, "config", "", "Config file (default $XDG_CONFIG_HOME/atomic-image-manager/config.yaml)")
	fs.StringVar(&configFlags.HistoryFile, "history-file", "", "History file path")
	fs.StringVar(&configFlags.CatalogFile, "catalog-file", "", "Image catalog YAML replacing the built-in catalog")
	fs.DurationVar(&configFlags.IdleTimeout, "idle-timeout", 0, "Abort a command that prints nothing for this long")
	fs.DurationVar(&configFlags.MaxDuration, "max-duration", 0, "Abort a command that runs longer than this")
	fs.DurationVar(&configFlags.KillGrace, "kill-grace", 0, "Wait between SIGTERM and SIGKILL when cancelling")
	fs.StringVar(&configFlags.PolkitAction, "polkit-action", "", "Polkit action checked before privileged commands")
	fs.IntVar(&configFlags.ElevationRetries, "elevation-retries", 0, "Authorization prompts before giving up")
	fs.StringVar(&configFlags.MetricsTextfile, "metrics-textfile", "", "Write metrics to this node-exporter textfile at exit")
}

// app is the set of components one CLI invocation works with.
type app struct {
	cfg     CLIConfig
	logger  *zap.Logger
	printer *Printer
	metrics *metrics.Metrics
	events  *progress.ChannelDispatcher
	manager *ops.Manager
}

// newApp resolves the configuration and wires the components.
func newApp(logger *zap.Logger) (*app, error) {
	cfg, err := resolveCLIConfig(&configFlags, configFile)
	if err != nil {
		return nil, err
	}

	cat := catalog.MustDefault()
	if cfg.CatalogFile != "" {
		if cat, err = catalog.Load(cfg.CatalogFile); err != nil {
			return nil, wrapWithSentinelAndContext(ErrLoadCatalogFailed, err, errx.UserString(err),
				map[string]any{"path": cfg.CatalogFile})
		}
	}
	policy := validate.NewCommandValidator(validate.NewImageValidatorFromCatalog(cat), nil)

	m := metrics.New()
	client := hostexec.NewClient(hostExecutor)
	elevator := executor.NewElevator(executor.ElevatorConfig{
		Action: cfg.PolkitAction,
		Logger: logger,
	})
	exec := executor.New(client,
		executor.WithLogger(logger),
		executor.WithMetrics(m),
		executor.WithValidator(policy.ExecValidator()),
		executor.WithIdleTimeout(cfg.IdleTimeout),
		executor.WithMaxDuration(cfg.MaxDuration),
		executor.WithKillGrace(cfg.KillGrace),
		executor.WithElevator(elevator, cfg.ElevationRetries),
	)
	store := history.NewStore(cfg.HistoryFile,
		history.WithLogger(logger),
		history.WithMetrics(m),
		history.WithAuditSink(auditSink()),
	)
	events := progress.NewChannelDispatcher(progress.DefaultCapacity, m)

	opts := []ops.Option{
		ops.WithPublisher(events),
		ops.WithCatalog(cat),
		ops.WithValidator(policy),
		ops.WithLogger(logger),
		ops.WithRegistry(registry.NewQuerier(client,
			registry.WithCatalog(cat),
			registry.WithLogger(logger),
			registry.WithMetrics(m),
		)),
	}
	opts = append(opts, extraOpsOptions...)

	return &app{
		cfg:     cfg,
		logger:  logger,
		printer: DefaultPrinter,
		metrics: m,
		events:  events,
		manager: ops.New(client, exec, store, opts...),
	}, nil
}

// close flushes the metrics textfile when one is configured.
func (a *app) close() {
	if err := a.metrics.WriteTextfile(a.cfg.MetricsTextfile); err != nil {
		a.logger.Warn("failed to write metrics textfile",
			zap.String("path", a.cfg.MetricsTextfile), zap.Error(err))
	}
}

// runOperation runs fn while rendering its progress. An interrupt cancels
// the running command instead of killing the CLI.
func (a *app) runOperation(ctx context.Context, fn func(context.Context) ops.Outcome) ops.Outcome {
	view := newProgressView(a.printer)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		a.events.Drain(context.Background(), view.handle)
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, unix.SIGTERM)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-sigs:
				if a.manager.Cancel() {
					a.logger.Debug("cancel requested by signal")
				}
			case <-done:
				return
			}
		}
	}()

	out := fn(ctx)

	signal.Stop(sigs)
	close(done)
	a.events.Close()
	wg.Wait()
	return out
}

// report turns an outcome into the command's error.
func (a *app) report(out ops.Outcome) error {
	if out.HistoryErr != nil {
		a.printer.Warn("The operation could not be recorded in history: " + errx.UserString(out.HistoryErr))
	}
	if out.Success {
		return nil
	}
	msg := out.FailureMessage()
	if out.Kind == executor.KindBusy {
		msg = "Another operation is already running"
	}
	err := wrapWithSentinelAndContext(ErrOperationFailed, out.Err, msg, map[string]any{
		"kind":         string(out.Kind),
		"exit_code":    out.ExitCode,
		"operation_id": out.OperationID,
	})
	logStructuredError(a.logger, err, "Operation failed")
	return err
}
