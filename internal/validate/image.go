// Package validate is the gatekeeper in front of every host command: it
// decides which image references and which tool invocations may run. All
// checks are pure string validation and safe to call from any goroutine.
package validate

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/docker/distribution/reference"

	"atomic-image-manager/internal/catalog"
)

// MaxImageURLLength caps accepted image references.
const MaxImageURLLength = 512

// TransportPrefixes are the ostree container transports accepted in front of
// an image reference, longest first.
var TransportPrefixes = []string{
	"ostree-image-signed:docker://",
	"ostree-unverified-image:docker://",
	"ostree-unverified-registry:",
	"docker://",
}

var suspiciousPatterns = []string{
	";", "|", "&", "`", "$(", "${", "\\", "<", ">",
	"\n", "\r", "\t", "//", "..",
}

var (
	spaceWordRegex = regexp.MustCompile(` +\S`)
	tagRegex       = regexp.MustCompile(`^[A-Za-z0-9_][A-Za-z0-9._-]{0,127}$`)
)

// ImageRef is a validated image reference split into its parts.
type ImageRef struct {
	Transport string
	Registry  string
	Org       string
	Image     string
	// Tag is empty when the reference carried none.
	Tag string
}

// Repository returns registry/org.
func (r ImageRef) Repository() string { return r.Registry + "/" + r.Org }

// Name returns registry/org/image.
func (r ImageRef) Name() string { return r.Repository() + "/" + r.Image }

// String returns the reference as given, transport included.
func (r ImageRef) String() string {
	if r.Tag == "" {
		return r.Transport + r.Name()
	}
	return r.Transport + r.Name() + ":" + r.Tag
}

// ImageValidator checks image references against an allow-list of
// registry/org pairs and the image names permitted under each.
type ImageValidator struct {
	allowed map[string]map[string]struct{}
}

// NewImageValidator builds a validator from registry/org -> image names.
func NewImageValidator(allow map[string][]string) *ImageValidator {
	v := &ImageValidator{allowed: make(map[string]map[string]struct{}, len(allow))}
	for repo, images := range allow {
		set := make(map[string]struct{}, len(images))
		for _, image := range images {
			set[image] = struct{}{}
		}
		v.allowed[repo] = set
	}
	return v
}

// NewImageValidatorFromCatalog derives the allow-list from an image catalog.
func NewImageValidatorFromCatalog(c *catalog.Catalog) *ImageValidator {
	return NewImageValidator(c.AllowList())
}

var defaultImageValidator = NewImageValidatorFromCatalog(catalog.MustDefault())

// ValidateImageURL validates url against the built-in catalog.
func ValidateImageURL(url string) error {
	return defaultImageValidator.ValidateImageURL(url)
}

// ValidateImageURL returns nil when url is an allowed image reference.
func (v *ImageValidator) ValidateImageURL(url string) error {
	_, err := v.Parse(url)
	return err
}

// StripTransport removes a leading ostree transport, returning the bare
// reference and the transport that was removed.
func StripTransport(url string) (rest, transport string) {
	for _, prefix := range TransportPrefixes {
		if strings.HasPrefix(url, prefix) {
			return strings.TrimPrefix(url, prefix), prefix
		}
	}
	return url, ""
}

// Parse validates url and splits it into its parts. A missing tag is
// accepted; a colon with nothing after it is not.
func (v *ImageValidator) Parse(url string) (ImageRef, error) {
	rest, transport := StripTransport(url)
	for _, pattern := range suspiciousPatterns {
		if strings.Contains(rest, pattern) {
			return ImageRef{}, reject(ErrSuspiciousPattern, fmt.Sprintf("Image URL contains suspicious pattern %q", pattern), map[string]any{"pattern": pattern})
		}
	}
	if spaceWordRegex.MatchString(rest) {
		return ImageRef{}, reject(ErrSuspiciousPattern, "Image URL contains suspicious pattern \" \"", map[string]any{"pattern": " "})
	}
	if len(url) > MaxImageURLLength {
		return ImageRef{}, reject(ErrImageURLTooLong, fmt.Sprintf("Image URL too long (%d characters, maximum %d)", len(url), MaxImageURLLength), map[string]any{"length": len(url)})
	}

	name, tag, hasTag := splitTag(rest)
	if hasTag && !tagRegex.MatchString(tag) {
		return ImageRef{}, reject(ErrInvalidTag, fmt.Sprintf("Invalid tag format: %q", tag), map[string]any{"tag": tag})
	}

	named, err := reference.ParseNormalizedNamed(name)
	if err != nil {
		return ImageRef{}, reject(ErrInvalidReference, fmt.Sprintf("Invalid image reference %q: %v", name, err), nil)
	}
	registry := reference.Domain(named)
	org, image, _ := strings.Cut(reference.Path(named), "/")
	repo := registry + "/" + org

	images, ok := v.allowed[repo]
	if !ok {
		return ImageRef{}, reject(ErrRegistryNotAllowed, fmt.Sprintf("Image registry not allowed: %s is not an allowed registry", repo), map[string]any{"repository": repo})
	}
	if _, ok := images[image]; !ok {
		return ImageRef{}, reject(ErrImageNotAllowed, fmt.Sprintf("Image not allowed: %q is not an allowed image for %s", image, repo), map[string]any{"repository": repo, "image": image})
	}
	return ImageRef{Transport: transport, Registry: registry, Org: org, Image: image, Tag: tag}, nil
}

// splitTag separates a trailing :tag from the last path segment, so a
// registry port is never mistaken for a tag.
func splitTag(ref string) (name, tag string, ok bool) {
	lastSlash := strings.LastIndex(ref, "/")
	colon := strings.LastIndex(ref[lastSlash+1:], ":")
	if colon < 0 {
		return ref, "", false
	}
	colon += lastSlash + 1
	return ref[:colon], ref[colon+1:], true
}
