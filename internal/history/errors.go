package history

import "atomic-image-manager/pkg/errx"

var sentinels = errx.NewSentinels(errx.CodeHistory, errx.DescHistory)

var (
	ErrMalformedEntry = sentinels.New("malformed history entry")
	ErrWriteHistory   = sentinels.New("failed to write history")
	ErrExportHistory  = sentinels.New("failed to export history")
)
