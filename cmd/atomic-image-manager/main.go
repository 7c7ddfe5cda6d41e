package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"atomic-image-manager/internal/cli"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
	debug   = false
)

func main() {
	// --debug has to be known before the logger is built.
	debug = hasDebugFlag(os.Args[1:])
	logger, err := newConsoleLogger(debug)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	initCommands(logger)

	if err := rootCmd.Execute(); err != nil {
		msg, code := cli.Failure(err)
		fmt.Fprintf(os.Stderr, "Error: %s\n", msg)
		os.Exit(code)
	}
}

var rootCmd = &cobra.Command{
	Use:   "atomic-image-manager",
	Short: "Manage the bootable image of an atomic Fedora system",
	Long: `atomic-image-manager drives rpm-ostree, bootc and ostree to:
- rebase to another image or image family
- roll back to an earlier deployment
- pin and unpin deployments
- run the system update
and keeps an audited history of every operation.`,
	Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		// Set debug mode globally so logStructuredError can check it
		cli.SetDebugMode(debug)
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug mode with structured error logging")
	cli.AddConfigFlags(rootCmd)
}

func initCommands(logger *zap.Logger) {
	rootCmd.AddCommand(cli.NewStatusCmd(logger))
	rootCmd.AddCommand(cli.NewCatalogCmd(logger))
	rootCmd.AddCommand(cli.NewImagesCmd(logger))
	rootCmd.AddCommand(cli.NewRebaseCmd(logger))
	rootCmd.AddCommand(cli.NewRollbackCmd(logger))
	rootCmd.AddCommand(cli.NewPinCmd(logger))
	rootCmd.AddCommand(cli.NewUnpinCmd(logger))
	rootCmd.AddCommand(cli.NewUpdateCmd(logger))
	rootCmd.AddCommand(cli.NewHistoryCmd(logger))
	rootCmd.AddCommand(cli.NewValidateCmd(logger))
}

func hasDebugFlag(args []string) bool {
	for _, arg := range args {
		switch arg {
		case "--":
			return false
		case "--debug", "--debug=true":
			return true
		}
	}
	return false
}

// newConsoleLogger returns a human-friendly console logger with timestamps.
// If debug is true, sets log level to Debug to enable all debug logs.
// Otherwise, sets to ErrorLevel so structured error logs (when debug flag is enabled) will show.
func newConsoleLogger(debug bool) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "console"
	level := zap.ErrorLevel // Error level allows Error logs to show
	if debug {
		level = zap.DebugLevel // Debug level shows all logs
	}
	cfg.Level = zap.NewAtomicLevelAt(level)
	cfg.EncoderConfig = zapcore.EncoderConfig{
		TimeKey:        "ts",
		LevelKey:       "level",
		NameKey:        "",
		CallerKey:      "",
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.CapitalColorLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
	}
	// Progress goes to stdout; diagnostics stay out of its way.
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}
	cfg.DisableCaller = true
	cfg.DisableStacktrace = true
	return cfg.Build()
}
