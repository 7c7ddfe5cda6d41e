package ops

import (
	"context"
	"fmt"
	"strings"

	"atomic-image-manager/internal/deployment"
	"atomic-image-manager/internal/history"
	"atomic-image-manager/internal/validate"
)

// RebaseCommand returns the command that stages imageRef for the next
// boot: rpm-ostree rebase when rpm-ostree is installed, otherwise bootc
// switch with the ostree transport prefix removed. The second result
// reports whether the command needs elevation.
func (m *Manager) RebaseCommand(ctx context.Context, imageRef string) ([]string, bool) {
	if !m.available(ctx, "rpm-ostree") && m.available(ctx, "bootc") {
		rest, _ := validate.StripTransport(imageRef)
		return []string{"bootc", "switch", rest}, true
	}
	return []string{"rpm-ostree", "rebase", imageRef}, false
}

// Rebase switches the next boot to imageRef.
func (m *Manager) Rebase(ctx context.Context, imageRef string) Outcome {
	argv, elevate := m.RebaseCommand(ctx, imageRef)
	return m.run(ctx, request{
		name:    "Rebase to " + imageRef,
		op:      history.OpRebase,
		argv:    argv,
		image:   imageRef,
		elevate: elevate,
	})
}

// RebaseFamily resolves a catalog family, variant and branch and rebases
// to the result. Empty variant and branch select the defaults.
func (m *Manager) RebaseFamily(ctx context.Context, familyID, variant, branch string) Outcome {
	ref, err := m.catalog.Resolve(familyID, variant, branch)
	if err != nil {
		return rejected(nil, err)
	}
	return m.Rebase(ctx, ref.String())
}

// Rollback makes the deployment with id the next boot.
func (m *Manager) Rollback(ctx context.Context, id string) Outcome {
	snap := m.deployments.GetAllDeployments(ctx)
	if snap.Demo {
		return rejected(nil, demoSnapshot())
	}
	if err := deployment.ValidateDeploymentSelection(snap, id); err != nil {
		return rejected(nil, err)
	}
	argv := deployment.GenerateRollbackCommand(snap, id)
	if argv == nil {
		err := sentinels.Wrap(ErrNoRollback, nil,
			fmt.Sprintf("Deployment %s cannot be selected with %s", id, snap.Source),
			map[string]any{"id": id, "source": string(snap.Source)})
		return rejected(nil, err)
	}
	target, _ := snap.Find(id)
	return m.run(ctx, request{
		name:    "Rollback to " + id,
		op:      history.OpRollback,
		argv:    argv,
		image:   target.Origin,
		elevate: argv[0] == "bootc",
	})
}

// Pin protects the deployment at index from cleanup.
func (m *Manager) Pin(ctx context.Context, index int) Outcome {
	return m.pin(ctx, index, false)
}

// Unpin removes the protection from the deployment at index.
func (m *Manager) Unpin(ctx context.Context, index int) Outcome {
	return m.pin(ctx, index, true)
}

func (m *Manager) pin(ctx context.Context, index int, unpin bool) Outcome {
	build, op, verb := deployment.PinCommand, history.OpPin, "Pin"
	if unpin {
		build, op, verb = deployment.UnpinCommand, history.OpUnpin, "Unpin"
	}
	argv, err := build(index)
	if err != nil {
		return rejected(nil, err)
	}
	snap := m.deployments.GetAllDeployments(ctx)
	if snap.Demo {
		return rejected(argv, demoSnapshot())
	}
	if index >= len(snap.Deployments) {
		return rejected(argv, sentinels.Wrap(ErrIndexNotFound, nil,
			fmt.Sprintf("No deployment at index %d", index), map[string]any{"index": index}))
	}
	return m.run(ctx, request{
		name:    fmt.Sprintf("%s deployment %d", verb, index),
		op:      op,
		argv:    argv,
		image:   snap.Deployments[index].Origin,
		elevate: true,
	})
}

func demoSnapshot() error {
	return sentinels.Wrap(ErrDemoSnapshot, nil,
		"Deployment status is unavailable; only demo data is shown", nil)
}

// UpdateTool is one system update command, tried in priority order.
type UpdateTool struct {
	Name    string
	Command []string
	Elevate bool
	// RebootIndicators are output phrases meaning a reboot is needed.
	RebootIndicators []string
}

// UpdateTools lists the supported update commands, most capable first.
func UpdateTools() []UpdateTool {
	return []UpdateTool{
		{
			Name:             "uupd",
			Command:          []string{"uupd", "--json"},
			Elevate:          true,
			RebootIndicators: []string{"(R)eboot", "(r)eboot", "restart required", "Reboot required", "System restart required"},
		},
		{
			Name:             "bootc",
			Command:          []string{"bootc", "upgrade"},
			Elevate:          true,
			RebootIndicators: []string{"(R)eboot", "(r)eboot", "restart required", "Reboot required"},
		},
		{
			Name:             "rpm-ostree",
			Command:          []string{"rpm-ostree", "upgrade"},
			RebootIndicators: []string{"(R)eboot", "(r)eboot"},
		},
	}
}

// SelectUpdateTool returns the first installed update tool.
func (m *Manager) SelectUpdateTool(ctx context.Context) (UpdateTool, bool) {
	for _, tool := range UpdateTools() {
		if m.available(ctx, tool.Name) {
			return tool, true
		}
	}
	return UpdateTool{}, false
}

// Update runs the system update with the first installed tool and reports
// whether a reboot is required.
func (m *Manager) Update(ctx context.Context) Outcome {
	tool, ok := m.SelectUpdateTool(ctx)
	if !ok {
		return rejected(nil, sentinels.Wrap(ErrNoUpdateTool, nil,
			"No update tool found (uupd, bootc or rpm-ostree)", nil))
	}
	out := m.run(ctx, request{
		name:    "System update (" + tool.Name + ")",
		op:      history.OpUpdate,
		argv:    tool.Command,
		elevate: tool.Elevate,
	})
	out.RebootRequired = out.Success && RebootRequired(out.Output, tool.RebootIndicators)
	return out
}

// RebootRequired reports whether output contains any indicator.
func RebootRequired(output string, indicators []string) bool {
	for _, indicator := range indicators {
		if strings.Contains(output, indicator) {
			return true
		}
	}
	return false
}
