package catalog

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultCatalogIsValid(t *testing.T) {
	c, err := Default()
	require.NoError(t, err)
	assert.NotEmpty(t, c.Families)

	for _, id := range []string{"silverblue", "kinoite", "bazzite", "bluefin", "aurora"} {
		_, err := c.Family(id)
		assert.NoError(t, err, "family %s", id)
	}
}

func TestAllowList(t *testing.T) {
	allow := MustDefault().AllowList()

	assert.Contains(t, allow["ghcr.io/ublue-os"], "bluefin")
	assert.Contains(t, allow["ghcr.io/ublue-os"], "bluefin-dx-nvidia")
	assert.Contains(t, allow["ghcr.io/ublue-os"], "bazzite-deck-gnome")
	assert.Contains(t, allow["quay.io/fedora-ostree-desktop"], "silverblue")
	assert.Contains(t, allow["registry.fedoraproject.org/fedora"], "fedora-silverblue")
	assert.NotContains(t, allow["ghcr.io/ublue-os"], "malicious")
	_, ok := allow["docker.io/library"]
	assert.False(t, ok)
}

func TestResolve(t *testing.T) {
	c := MustDefault()
	tests := []struct {
		name    string
		family  string
		variant string
		branch  string
		want    string
		wantErr error
	}{
		{name: "base default branch", family: "bluefin", want: "ostree-image-signed:docker://ghcr.io/ublue-os/bluefin:stable"},
		{name: "variant suffix", family: "bluefin", variant: "dx-nvidia", branch: "latest", want: "ostree-image-signed:docker://ghcr.io/ublue-os/bluefin-dx-nvidia:latest"},
		{name: "bazzite deck", family: "bazzite", variant: "deck", branch: "testing", want: "ostree-image-signed:docker://ghcr.io/ublue-os/bazzite-deck:testing"},
		{name: "fedora release tag", family: "silverblue", branch: "41", want: "ostree-unverified-registry:quay.io/fedora/fedora-silverblue:41"},
		{name: "unknown family", family: "windows", wantErr: ErrUnknownFamily},
		{name: "unknown variant", family: "aurora", variant: "deck", wantErr: ErrUnknownVariant},
		{name: "unknown branch", family: "aurora", branch: "gts", wantErr: ErrUnknownBranch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ref, err := c.Resolve(tt.family, tt.variant, tt.branch)
			if tt.wantErr != nil {
				assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, ref.String())
		})
	}
}

func TestFamilyFor(t *testing.T) {
	c := MustDefault()
	family, ok := c.FamilyFor("ghcr.io/ublue-os", "aurora-dx")
	require.True(t, ok)
	assert.Equal(t, "aurora", family.ID)
	assert.True(t, family.HasFeature(FeatureVariantSelection))

	_, ok = c.FamilyFor("ghcr.io/ublue-os", "malicious")
	assert.False(t, ok)
}

func TestParseRejectsInvalidCatalogs(t *testing.T) {
	base := `
families:
  - id: test
    name: Test
    registry: ghcr.io
    org: example
    image: test
    default_branch: stable
    branches: [stable]
`
	tests := []struct {
		name    string
		yaml    string
		wantErr error
	}{
		{name: "valid", yaml: base},
		{name: "unknown key", yaml: base + "    colour: blue\n", wantErr: ErrParseCatalog},
		{name: "empty", yaml: "families: []\n", wantErr: ErrInvalidCatalog},
		{name: "bad registry", yaml: strings.Replace(base, "ghcr.io", "ghcr.io/evil;x", 1), wantErr: ErrInvalidCatalog},
		{name: "default branch missing", yaml: strings.Replace(base, "default_branch: stable", "default_branch: testing", 1), wantErr: ErrInvalidCatalog},
		{name: "bad suffix", yaml: base + "    variants:\n      - {name: dx, suffix: dx}\n", wantErr: ErrInvalidCatalog},
		{name: "bad feature", yaml: base + "    features: [teleport]\n", wantErr: ErrInvalidCatalog},
		{name: "bad transport", yaml: base + "    transport: \"file://\"\n", wantErr: ErrInvalidCatalog},
		{name: "duplicate family", yaml: base + strings.TrimPrefix(base, "\nfamilies:\n"), wantErr: ErrInvalidCatalog},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(strings.NewReader(tt.yaml))
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
		})
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "catalog.yaml")
	require.NoError(t, os.WriteFile(path, defaultYAML, 0o600))

	c, err := Load(path)
	require.NoError(t, err)
	assert.Len(t, c.Families, len(MustDefault().Families))

	_, err = Load(filepath.Join(dir, "missing.yaml"))
	assert.True(t, errors.Is(err, ErrReadCatalog))
}
