package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"atomic-image-manager/internal/deployment"
)

// NewStatusCmd returns the command that lists deployments.
func NewStatusCmd(logger *zap.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the deployments on this system",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(logger)
			if err != nil {
				return err
			}
			defer a.close()
			return showDeploymentStatus(cmd.Context(), a)
		},
	}
}

func showDeploymentStatus(ctx context.Context, a *app) error {
	snap := a.manager.Deployments(ctx)
	a.printer.Section("Deployments")
	if snap.Demo {
		a.printer.Warn("rpm-ostree and bootc are unavailable; showing demonstration data")
	} else {
		a.printer.Info(fmt.Sprintf("Source: %s", snap.Source))
	}

	rows := [][]string{{"Index", "Deployment", "ID", "Image", "Version", "Timestamp", "Status"}}
	for _, d := range snap.Deployments {
		info := a.manager.DeploymentInfo(d)
		rows = append(rows, []string{
			fmt.Sprint(d.Index),
			info.Title,
			info.ID,
			info.ImageName,
			info.Version,
			info.Timestamp,
			colorStatus(d, info.Status),
		})
	}
	a.printer.Table(rows)

	if booted, ok := snap.Booted(); ok {
		a.printer.Printf("\nBooted image: %s\n", booted.Origin)
	}
	if pinned := snap.Pinned(); len(pinned) > 0 {
		ids := make([]string, len(pinned))
		for i, d := range pinned {
			ids[i] = d.ID
		}
		a.printer.Printf("Pinned: %s\n", strings.Join(ids, ", "))
	}
	return nil
}

func colorStatus(d deployment.Deployment, status string) string {
	switch {
	case d.Booted:
		return Green(status)
	case d.Staged():
		return Yellow(status)
	default:
		return status
	}
}

// NewCatalogCmd returns the command that lists the known image families.
func NewCatalogCmd(logger *zap.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "catalog",
		Short: "List the image families that can be rebased to",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(logger)
			if err != nil {
				return err
			}
			defer a.close()
			showCatalog(a)
			return nil
		},
	}
}

func showCatalog(a *app) {
	rows := [][]string{{"Family", "Name", "Repository", "Default", "Branches", "Variants"}}
	for _, f := range a.manager.Catalog().Families {
		variants := make([]string, 0, len(f.Variants))
		for _, v := range f.Variants {
			variants = append(variants, v.Name)
		}
		rows = append(rows, []string{
			f.ID,
			f.Name,
			f.Repository() + "/" + f.Image,
			f.DefaultBranch,
			strings.Join(f.Branches, ", "),
			strings.Join(variants, ", "),
		})
	}
	a.printer.Section("Image catalog")
	a.printer.TableBoxed(rows)
}
