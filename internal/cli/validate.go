package cli

import (
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// NewValidateCmd returns the command that checks a command line against the
// command policy without running it.
func NewValidateCmd(logger *zap.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "validate -- <command> [args...]",
		Short: "Check whether a command would be allowed to run",
		Example: `  atomic-image-manager validate -- rpm-ostree rebase ostree-image-signed:docker://ghcr.io/ublue-os/bluefin:stable
  atomic-image-manager validate -- ostree admin pin 1`,
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return newWithSentinel(ErrCommandRequired, "command to validate is required")
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(logger)
			if err != nil {
				return err
			}
			defer a.close()
			if err := a.manager.ValidateCommand(args); err != nil {
				logStructuredError(a.logger, err, "Command rejected")
				return err
			}
			a.printer.Success("Allowed: " + strings.Join(args, " "))
			return nil
		},
	}
}
