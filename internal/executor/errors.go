package executor

import "atomic-image-manager/pkg/errx"

var sentinels = errx.NewSentinels(errx.CodeExecution, errx.DescExecution)

// Execution outcomes carried in Result.Err.
var (
	ErrBusy          = sentinels.New("command already executing")
	ErrStart         = sentinels.New("failed to start command")
	ErrCommandFailed = sentinels.New("command failed")
	ErrTimeout       = sentinels.New("command timed out")
	ErrCancelled     = sentinels.New("operation cancelled")
	ErrUnexpected    = sentinels.New("unexpected execution failure")
)

// Elevation outcomes.
var (
	ErrElevationDenied      = sentinels.NewWithCode("authorization denied", errx.CodeAuthorization, errx.DescAuthorization)
	ErrElevationUnavailable = sentinels.NewWithCode("authorization service unavailable", errx.CodeAuthorization, errx.DescAuthorization)
)
