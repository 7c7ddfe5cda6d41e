package ops

import "atomic-image-manager/pkg/errx"

var sentinels = errx.NewSentinels(errx.CodeExecution, errx.DescExecution)

var (
	ErrNoUpdateTool  = sentinels.New("no update tool available")
	ErrNoRollback    = sentinels.New("no rollback command for deployment")
	ErrDemoSnapshot  = sentinels.New("deployment status unavailable")
	ErrIndexNotFound = sentinels.New("deployment index not found")
)
