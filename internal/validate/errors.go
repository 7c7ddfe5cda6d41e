package validate

import "atomic-image-manager/pkg/errx"

var sentinels = errx.NewSentinels(errx.CodeValidation, errx.DescValidation)

// Image reference rejections.
var (
	ErrImageURLTooLong    = sentinels.New("image URL too long")
	ErrSuspiciousPattern  = sentinels.New("image URL contains suspicious pattern")
	ErrInvalidTag         = sentinels.New("invalid tag format")
	ErrInvalidReference   = sentinels.New("invalid image reference")
	ErrRegistryNotAllowed = sentinels.New("image registry not allowed")
	ErrImageNotAllowed    = sentinels.New("image not allowed")
)

// Command rejections.
var (
	ErrEmptyCommand          = sentinels.New("empty command")
	ErrToolNotAllowed        = sentinels.New("command not allowed")
	ErrDangerousCharacter    = sentinels.New("command contains dangerous character")
	ErrUnsupportedSubcommand = sentinels.New("unsupported subcommand")
	ErrUnsupportedFlag       = sentinels.New("unsupported flag")
	ErrMissingImage          = sentinels.New("missing image reference")
	ErrUnexpectedArgument    = sentinels.New("unexpected argument")
	ErrInvalidRevision       = sentinels.New("invalid deployment revision")
)

func reject(base error, msg string, ctx map[string]any) error {
	return sentinels.Wrap(base, nil, msg, ctx)
}
