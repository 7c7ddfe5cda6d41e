package catalog

import "atomic-image-manager/pkg/errx"

var sentinels = errx.NewSentinels(errx.CodeCatalog, errx.DescCatalog)

var (
	ErrReadCatalog    = sentinels.New("failed to read image catalog")
	ErrParseCatalog   = sentinels.New("failed to parse image catalog")
	ErrInvalidCatalog = sentinels.New("invalid image catalog")
	ErrUnknownFamily  = sentinels.New("unknown image family")
	ErrUnknownVariant = sentinels.New("unknown image variant")
	ErrUnknownBranch  = sentinels.New("unknown image branch")
)
