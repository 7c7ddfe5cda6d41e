package deployment

import "atomic-image-manager/pkg/errx"

var sentinels = errx.NewSentinels(errx.CodeDeployment, errx.DescDeployment)

var (
	ErrStatusUnavailable = sentinels.New("deployment status unavailable")
	ErrParseStatus       = sentinels.New("failed to parse deployment status")
	ErrNotFound          = sentinels.New("deployment not found")
	ErrBootedSelected    = sentinels.New("deployment is currently booted")
	ErrInvalidIndex      = sentinels.New("invalid deployment index")
)
