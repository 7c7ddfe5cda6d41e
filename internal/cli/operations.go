package cli

import (
	"context"
	"strconv"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"atomic-image-manager/internal/ops"
)

// NewRebaseCmd returns the command that switches the next boot to another
// image.
func NewRebaseCmd(logger *zap.Logger) *cobra.Command {
	var family, variant, branch string
	cmd := &cobra.Command{
		Use:   "rebase [image-ref]",
		Short: "Rebase to another image on the next boot",
		Long: `Rebase stages another bootable image. Give either a full image reference,
for example ostree-image-signed:docker://ghcr.io/ublue-os/bazzite:stable,
or a catalog family with --family and optionally --variant and --branch.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var ref string
			if len(args) == 1 {
				ref = args[0]
			}
			switch {
			case ref != "" && family != "":
				return newWithSentinel(ErrImageAndFamily, "give an image reference or --family, not both")
			case ref == "" && family == "":
				return newWithSentinel(ErrImageRequired, "an image reference or --family is required")
			}

			a, err := newApp(logger)
			if err != nil {
				return err
			}
			defer a.close()
			out := a.runOperation(cmd.Context(), func(ctx context.Context) ops.Outcome {
				if family != "" {
					return a.manager.RebaseFamily(ctx, family, variant, branch)
				}
				return a.manager.Rebase(ctx, ref)
			})
			if out.Success {
				a.printer.Info("Reboot to start the new deployment")
			}
			return a.report(out)
		},
	}
	cmd.Flags().StringVar(&family, "family", "", "Catalog image family (see the catalog command)")
	cmd.Flags().StringVar(&variant, "variant", "", "Family variant")
	cmd.Flags().StringVar(&branch, "branch", "", "Family branch (default: the family default)")
	return cmd
}

// NewRollbackCmd returns the command that boots an earlier deployment.
func NewRollbackCmd(logger *zap.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "rollback [deployment-id]",
		Short: "Boot an earlier deployment next time",
		Long: `Rollback makes another deployment the next boot. Without an id the
deployment right behind the booted one is selected.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(logger)
			if err != nil {
				return err
			}
			defer a.close()

			var id string
			if len(args) == 1 {
				id = args[0]
			} else if id, err = previousDeployment(cmd.Context(), a); err != nil {
				return err
			}
			out := a.runOperation(cmd.Context(), func(ctx context.Context) ops.Outcome {
				return a.manager.Rollback(ctx, id)
			})
			if out.Success {
				a.printer.Info("Reboot to start deployment " + id)
			}
			return a.report(out)
		},
	}
}

func previousDeployment(ctx context.Context, a *app) (string, error) {
	snap := a.manager.Deployments(ctx)
	booted, ok := snap.Booted()
	if ok {
		for _, d := range snap.Deployments {
			if d.Index == booted.Index+1 {
				return d.ID, nil
			}
		}
	}
	return "", newWithSentinel(ErrNoPreviousDeployment, "no deployment behind the booted one to roll back to")
}

// NewPinCmd returns the command that protects a deployment from cleanup.
func NewPinCmd(logger *zap.Logger) *cobra.Command {
	return newPinCmd(logger, false)
}

// NewUnpinCmd returns the command that removes a deployment pin.
func NewUnpinCmd(logger *zap.Logger) *cobra.Command {
	return newPinCmd(logger, true)
}

func newPinCmd(logger *zap.Logger, unpin bool) *cobra.Command {
	use, short := "pin <index>", "Pin the deployment at index so it is never cleaned up"
	if unpin {
		use, short = "unpin <index>", "Remove the pin from the deployment at index"
	}
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			index, err := parseIndex(args[0])
			if err != nil {
				return err
			}
			a, err := newApp(logger)
			if err != nil {
				return err
			}
			defer a.close()
			out := a.runOperation(cmd.Context(), func(ctx context.Context) ops.Outcome {
				if unpin {
					return a.manager.Unpin(ctx, index)
				}
				return a.manager.Pin(ctx, index)
			})
			return a.report(out)
		},
	}
}

func parseIndex(s string) (int, error) {
	index, err := strconv.Atoi(s)
	if err != nil || index < 0 {
		return 0, wrapWithSentinelAndContext(ErrInvalidIndex, err,
			"deployment index must be a non-negative integer", map[string]any{"index": s})
	}
	return index, nil
}

// NewUpdateCmd returns the command that runs the system update.
func NewUpdateCmd(logger *zap.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "update",
		Short: "Update the system with uupd, bootc or rpm-ostree",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(logger)
			if err != nil {
				return err
			}
			defer a.close()
			out := a.runOperation(cmd.Context(), a.manager.Update)
			if out.RebootRequired {
				a.printer.Warn("Reboot required to finish the update")
			}
			return a.report(out)
		},
	}
}
