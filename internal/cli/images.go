package cli

import (
	"context"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"atomic-image-manager/internal/registry"
)

const defaultImageDays = 30

// NewImagesCmd returns the command that lists recent registry tags of a
// catalog family.
func NewImagesCmd(logger *zap.Logger) *cobra.Command {
	var variant, branch string
	var days int
	cmd := &cobra.Command{
		Use:   "images <family>",
		Short: "List recent images of an image family",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(logger)
			if err != nil {
				return err
			}
			defer a.close()
			return listFamilyImages(cmd.Context(), a, args[0], variant, branch, days)
		},
	}
	cmd.Flags().StringVar(&variant, "variant", "", "Family variant (default: the base image)")
	cmd.Flags().StringVar(&branch, "branch", "", "Only list tags of this branch (default: all)")
	cmd.Flags().IntVar(&days, "days", defaultImageDays, "Only list images built in the last N days")
	return cmd
}

func listFamilyImages(ctx context.Context, a *app, family, variant, branch string, days int) error {
	if !a.manager.SkopeoAvailable(ctx) {
		a.printer.Warn("skopeo is not installed; registry images cannot be listed")
		return nil
	}
	images, err := a.manager.FamilyImages(ctx, family, variant, branch, days)
	if err != nil {
		logStructuredError(a.logger, err, "Failed to resolve image family")
		return err
	}
	if len(images) == 0 {
		a.printer.Info(fmt.Sprintf("No images of %s found in the last %d days", family, days))
		return nil
	}

	a.printer.Section(fmt.Sprintf("Images of %s", family))
	rows := [][]string{{"Tag", "Built", "Age", "Reference"}}
	for _, img := range images {
		built, age := "-", "-"
		if img.HasDate() {
			built = img.Date.Format("2006-01-02")
			age = humanize.Time(img.Date)
		}
		rows = append(rows, []string{img.Tag, built, age, img.FullRef()})
	}
	a.printer.Table(rows)
	a.printer.Printf("\n%s images, cached for %s\n", humanize.Comma(int64(len(images))), registry.CacheTTL)
	return nil
}
