package registry

import "atomic-image-manager/pkg/errx"

var sentinels = errx.NewSentinels(errx.CodeRegistry, errx.DescRegistry)

var (
	ErrListTags  = sentinels.New("failed to list image tags")
	ErrParseTags = sentinels.New("failed to parse image tag listing")
	ErrBadOrigin = sentinels.New("origin is not a registry image reference")
)
