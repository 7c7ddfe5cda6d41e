// Package deployment reads the system's bootable image slots from
// rpm-ostree or bootc and derives the commands that act on them.
package deployment

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"atomic-image-manager/internal/catalog"
	"atomic-image-manager/internal/hostexec"
	"atomic-image-manager/internal/validate"
)

// DefaultTimeout bounds a status query.
const DefaultTimeout = 5 * time.Second

// Source names where a snapshot came from.
type Source string

const (
	SourceRPMOstree Source = "rpm-ostree"
	SourceBootc     Source = "bootc"
	SourceDemo      Source = "demo"
)

// Deployment is one bootable image slot. It is rebuilt on every query.
type Deployment struct {
	ID        string
	Checksum  string
	Origin    string
	Version   string
	Timestamp string
	Booted    bool
	Pinned    bool
	Index     int
}

// Staged reports whether the deployment is queued for the next boot.
func (d Deployment) Staged() bool { return d.Index == 0 && !d.Booted }

// Snapshot is the result of one status query.
type Snapshot struct {
	Deployments []Deployment
	Source      Source
	// Demo is set when the tools were unavailable and the fixed
	// demonstration data was returned instead.
	Demo bool
}

// Booted returns the booted deployment.
func (s Snapshot) Booted() (Deployment, bool) {
	for _, d := range s.Deployments {
		if d.Booted {
			return d, true
		}
	}
	return Deployment{}, false
}

// Find returns the deployment with id.
func (s Snapshot) Find(id string) (Deployment, bool) {
	for _, d := range s.Deployments {
		if d.ID == id {
			return d, true
		}
	}
	return Deployment{}, false
}

// Pinned returns the pinned deployments.
func (s Snapshot) Pinned() []Deployment {
	var out []Deployment
	for _, d := range s.Deployments {
		if d.Pinned {
			out = append(out, d)
		}
	}
	return out
}

// DemoDeployments is returned when no status tool can be queried.
func DemoDeployments() []Deployment {
	return []Deployment{
		{
			ID: "demo12345678", Checksum: "demo12345678",
			Origin: "ostree-unverified-registry:ghcr.io/ublue-os/bluefin:stable", Version: "41.20241020.0",
			Timestamp: "2024-10-20 10:00:00", Booted: true, Index: 0,
		},
		{
			ID: "demo87654321", Checksum: "demo87654321",
			Origin: "ostree-unverified-registry:ghcr.io/ublue-os/bluefin:stable", Version: "41.20241013.0",
			Timestamp: "2024-10-13 10:00:00", Index: 1,
		},
		{
			ID: "demoabcdef12", Checksum: "demoabcdef12",
			Origin: "ostree-unverified-registry:ghcr.io/ublue-os/aurora:stable", Version: "40.20240901.0",
			Timestamp: "2024-09-01 10:00:00", Pinned: true, Index: 2,
		},
	}
}

// Manager queries deployments through a host client.
type Manager struct {
	client  *hostexec.Client
	catalog *catalog.Catalog
	timeout time.Duration
	logger  *zap.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithCatalog sets the catalog used for display names.
func WithCatalog(c *catalog.Catalog) Option {
	return func(m *Manager) { m.catalog = c }
}

// WithTimeout bounds each status query.
func WithTimeout(d time.Duration) Option {
	return func(m *Manager) { m.timeout = d }
}

// WithLogger sets the diagnostic logger.
func WithLogger(logger *zap.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

// NewManager creates a Manager.
func NewManager(client *hostexec.Client, opts ...Option) *Manager {
	m := &Manager{
		client:  client,
		catalog: catalog.MustDefault(),
		timeout: DefaultTimeout,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// GetAllDeployments queries rpm-ostree, then bootc. If neither answers
// with a usable status the demo data is returned with Demo set. It never
// fails.
func (m *Manager) GetAllDeployments(ctx context.Context) Snapshot {
	sources := []struct {
		source Source
		argv   []string
		parse  func([]byte) ([]Deployment, error)
	}{
		{SourceRPMOstree, []string{"rpm-ostree", "status", "--json"}, parseRPMOstreeStatus},
		{SourceBootc, []string{"bootc", "status", "--json"}, parseBootcStatus},
	}
	for _, src := range sources {
		deployments, err := m.query(ctx, src.argv, src.parse)
		if err != nil {
			m.logger.Debug("deployment status unavailable",
				zap.String("source", string(src.source)), zap.Error(err))
			continue
		}
		return Snapshot{Deployments: deployments, Source: src.source}
	}
	return Snapshot{Deployments: DemoDeployments(), Source: SourceDemo, Demo: true}
}

func (m *Manager) query(ctx context.Context, argv []string, parse func([]byte) ([]Deployment, error)) ([]Deployment, error) {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	out, err := m.client.Output(ctx, argv)
	if err != nil {
		return nil, sentinels.Wrap(ErrStatusUnavailable, err,
			fmt.Sprintf("%s status failed: %v", argv[0], err),
			map[string]any{"command": argv[0]})
	}
	deployments, err := parse(out)
	if err != nil {
		return nil, err
	}
	if err := checkBooted(deployments); err != nil {
		return nil, err
	}
	return deployments, nil
}

// GetCurrentDeployment returns the booted deployment.
func (m *Manager) GetCurrentDeployment(ctx context.Context) (Deployment, bool) {
	return m.GetAllDeployments(ctx).Booted()
}

// GenerateRollbackCommand returns the command that makes id the next boot,
// or nil when id is unknown or already booted.
func (m *Manager) GenerateRollbackCommand(ctx context.Context, id string) []string {
	return GenerateRollbackCommand(m.GetAllDeployments(ctx), id)
}

// GenerateRollbackCommand returns the two-token rollback for the deployment
// right behind the booted one and a deploy-by-revision command for any other
// non-booted deployment. It returns nil for the booted deployment, for an
// unknown id, and for bootc snapshots where only the adjacent rollback
// exists.
func GenerateRollbackCommand(snap Snapshot, id string) []string {
	target, ok := snap.Find(id)
	if !ok || target.Booted {
		return nil
	}
	booted, ok := snap.Booted()
	if !ok {
		return nil
	}
	tool := "rpm-ostree"
	if snap.Source == SourceBootc {
		tool = "bootc"
	}
	if target.Index == booted.Index+1 {
		return []string{tool, "rollback"}
	}
	if snap.Source == SourceBootc {
		return nil
	}
	revision := target.Checksum
	if revision == "" {
		revision = target.ID
	}
	return []string{"rpm-ostree", "deploy", "revision=" + revision}
}

// ValidateDeploymentSelection reports why id cannot be selected as a
// rollback target, or nil if it can.
func (m *Manager) ValidateDeploymentSelection(ctx context.Context, id string) error {
	return ValidateDeploymentSelection(m.GetAllDeployments(ctx), id)
}

// ValidateDeploymentSelection checks id against snap.
func ValidateDeploymentSelection(snap Snapshot, id string) error {
	d, ok := snap.Find(id)
	if !ok {
		return sentinels.Wrap(ErrNotFound, nil, fmt.Sprintf("Deployment %s not found", id), map[string]any{"id": id})
	}
	if d.Booted {
		return sentinels.Wrap(ErrBootedSelected, nil,
			fmt.Sprintf("Deployment %s is currently booted", id), map[string]any{"id": id})
	}
	return nil
}

// PinCommand pins the deployment at index.
func PinCommand(index int) ([]string, error) {
	if index < 0 {
		return nil, invalidIndex(index)
	}
	return []string{"ostree", "admin", "pin", strconv.Itoa(index)}, nil
}

// UnpinCommand unpins the deployment at index.
func UnpinCommand(index int) ([]string, error) {
	if index < 0 {
		return nil, invalidIndex(index)
	}
	return []string{"ostree", "admin", "pin", "--unpin", strconv.Itoa(index)}, nil
}

func invalidIndex(index int) error {
	return sentinels.Wrap(ErrInvalidIndex, nil, fmt.Sprintf("Invalid deployment index %d", index), nil)
}

// Info is a deployment prepared for display.
type Info struct {
	Title     string
	ID        string
	Status    string
	ImageName string
	Version   string
	Timestamp string
}

// FormatDeploymentInfo describes d for display.
func (m *Manager) FormatDeploymentInfo(d Deployment) Info {
	var status []string
	switch {
	case d.Booted:
		status = append(status, "Currently Booted")
	case d.Staged():
		status = append(status, "Pending Reboot")
	default:
		status = append(status, "Available")
	}
	if d.Pinned {
		status = append(status, "Pinned")
	}
	return Info{
		Title:     fmt.Sprintf("Deployment %d", d.Index+1),
		ID:        d.ID,
		Status:    strings.Join(status, ", "),
		ImageName: m.DisplayName(d.Origin),
		Version:   d.Version,
		Timestamp: d.Timestamp,
	}
}

// DisplayName returns a friendly name for an origin: the catalog family
// name, followed by the variant when it is not the base image. Origins not
// in the catalog are returned unchanged.
func (m *Manager) DisplayName(origin string) string {
	rest, _ := validate.StripTransport(origin)
	if i := strings.LastIndexByte(rest, ':'); i > strings.LastIndexByte(rest, '/') {
		rest = rest[:i]
	}
	slash := strings.LastIndexByte(rest, '/')
	if slash < 0 {
		return origin
	}
	repo, image := rest[:slash], rest[slash+1:]
	family, ok := m.catalog.FamilyFor(repo, image)
	if !ok {
		return origin
	}
	for _, v := range family.Variants {
		if v.Suffix != "" && family.Image+v.Suffix == image {
			return fmt.Sprintf("%s (%s)", family.Name, v.Name)
		}
	}
	if image == family.Image {
		return family.Name
	}
	return fmt.Sprintf("%s (%s)", family.Name, image)
}
