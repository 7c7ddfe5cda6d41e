package cli

// This file defines error handling utilities for the CLI: sentinel errors
// registered with their errx codes, wrapping helpers, structured error
// logging and the debug mode switch.

import (
	"errors"
	"sync"

	"go.uber.org/zap"

	"atomic-image-manager/pkg/errx"
)

var (
	debugMode   bool
	debugModeMu sync.RWMutex
)

// SetDebugMode switches structured error logging on or off.
func SetDebugMode(enabled bool) {
	debugModeMu.Lock()
	defer debugModeMu.Unlock()
	debugMode = enabled
}

// IsDebugMode returns whether debug mode is enabled.
func IsDebugMode() bool {
	debugModeMu.RLock()
	defer debugModeMu.RUnlock()
	return debugMode
}

// sentinels registers the CLI sentinels; unregistered bases are reported
// as CLI errors.
var sentinels = errx.NewSentinels(errx.CodeCLI, errx.DescCLI)

// newWithSentinel builds an error reported under base's code.
func newWithSentinel(base error, msg string) error {
	return sentinels.Wrap(base, nil, msg, nil)
}

// wrapWithSentinel is newWithSentinel with a cause.
func wrapWithSentinel(base, cause error, msg string) error {
	return sentinels.Wrap(base, cause, msg, nil)
}

// wrapWithSentinelAndContext also attaches structured context such as the
// offending value or path, shown by logStructuredError.
func wrapWithSentinelAndContext(base, cause error, msg string, context map[string]any) error {
	return sentinels.Wrap(base, cause, msg, context)
}

// Argument errors, reported under the CLI code.
var (
	ErrImageRequired        = sentinels.New("image reference or --family is required")
	ErrImageAndFamily       = sentinels.New("image reference and --family are mutually exclusive")
	ErrInvalidIndex         = sentinels.New("deployment index must be a non-negative integer")
	ErrCommandRequired      = sentinels.New("command to validate is required")
	ErrExportPathRequired   = sentinels.New("export path is required")
	ErrConfirmationRequired = sentinels.New("refusing to clear history without --yes")
)

// Errors of the operation itself rather than of how it was invoked.
var (
	ErrNoPreviousDeployment = sentinels.NewWithCode("no previous deployment to roll back to", errx.CodeDeployment, errx.DescDeployment)
	ErrOperationFailed      = sentinels.NewWithCode("operation failed", errx.CodeExecution, errx.DescExecution)
)

// Configuration errors.
var (
	ErrReadConfigFailed      = sentinels.NewWithCode("failed to read config", errx.CodeConfig, errx.DescConfig)
	ErrUnmarshalConfigFailed = sentinels.NewWithCode("failed to unmarshal config", errx.CodeConfig, errx.DescConfig)
	ErrInvalidConfigValue    = sentinels.NewWithCode("invalid config value", errx.CodeConfig, errx.DescConfig)
	ErrLoadCatalogFailed     = sentinels.NewWithCode("failed to load image catalog", errx.CodeConfig, errx.DescConfig)
)

// logStructuredError logs err with its errx fields expanded, and only in
// debug mode (--debug). For example:
// - error.code: "75000"
// - error.category: "Authorization"
// - error.context.attempts: 3
// - error.context.action: "org.projectatomic.rpmostree1.rebase"
func logStructuredError(logger *zap.Logger, err error, msg string) {
	if logger == nil || err == nil || !IsDebugMode() {
		return
	}

	var errxErr *errx.Error
	if errors.As(err, &errxErr) {
		fields := []zap.Field{
			zap.String("error.code", errxErr.Code()),
			zap.String("error.category", errxErr.Description()),
			zap.String("error.message", errxErr.Message()),
			zap.Error(err),
		}

		if ctx := errxErr.Context(); ctx != nil {
			for key, value := range ctx {
				fields = append(fields, zap.Any("error.context."+key, value))
			}
		}

		// "error" is taken by zap.Error above.
		if cause := errxErr.Cause(); cause != nil {
			fields = append(fields, zap.NamedError("error.cause", cause))
		}

		logger.Error(msg, fields...)
	} else {
		logger.Error(msg, zap.Error(err))
	}
}

// Process exit codes.
const (
	ExitFailure = 1
	// ExitUsage is returned for bad arguments, flags or configuration.
	ExitUsage = 2
)

// Failure renders err for the terminal and picks the exit code. Errors that
// carry no errx code, such as cobra's flag and argument errors, are reported
// as CLI errors.
func Failure(err error) (string, int) {
	if !errx.IsError(err) {
		err = errx.WrapCLI(err.Error(), err)
	}
	msg := errx.UserString(err)
	if IsDebugMode() {
		msg = errx.DebugString(err)
	}
	switch errx.CodeOf(err) {
	case errx.CodeCLI, errx.CodeConfig:
		return msg, ExitUsage
	}
	return msg, ExitFailure
}
