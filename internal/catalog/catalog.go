// Package catalog describes the image families the manager can switch
// between. Each family is an explicit, validated record: where the image is
// published, which variants exist and which branches (tags) it follows.
//
// Variant resolution is uniform across families: the variant suffix is
// appended to the base image name and the branch becomes the tag, so
// bluefin + dx + stable resolves to ghcr.io/ublue-os/bluefin-dx:stable.
package catalog

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"sort"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"atomic-image-manager/pkg/errx"
)

//go:embed default.yaml
var defaultYAML []byte

// Feature toggles optional UI affordances for a family.
type Feature string

const (
	FeatureBranchSelection  Feature = "branch_selection"
	FeatureVariantSelection Feature = "variant_selection"
	FeatureHistoricalImages Feature = "historical_images"
)

// Variant is a flavour of a family, published as a separate image whose
// name is the base image plus Suffix.
type Variant struct {
	Name        string `yaml:"name" validate:"required,slug"`
	Suffix      string `yaml:"suffix" validate:"omitempty,variantsuffix"`
	Description string `yaml:"description"`
}

// ImageFamily is one selectable base image.
type ImageFamily struct {
	ID            string    `yaml:"id" validate:"required,slug"`
	Name          string    `yaml:"name" validate:"required"`
	Description   string    `yaml:"description"`
	Registry      string    `yaml:"registry" validate:"required,hostname_rfc1123"`
	Org           string    `yaml:"org" validate:"required,slug"`
	Image         string    `yaml:"image" validate:"required,slug"`
	Transport     string    `yaml:"transport" validate:"omitempty,oneof=ostree-image-signed:docker:// ostree-unverified-registry: docker://"`
	DefaultBranch string    `yaml:"default_branch" validate:"required,imagetag"`
	Branches      []string  `yaml:"branches" validate:"required,min=1,dive,imagetag"`
	Variants      []Variant `yaml:"variants" validate:"omitempty,dive"`
	ExtraImages   []string  `yaml:"extra_images" validate:"omitempty,dive,slug"`
	Features      []Feature `yaml:"features" validate:"omitempty,dive,oneof=branch_selection variant_selection historical_images"`
}

// Repository returns registry/org, the unit the allow-list is keyed by.
func (f ImageFamily) Repository() string {
	return f.Registry + "/" + f.Org
}

// HasFeature reports whether feature is enabled for f.
func (f ImageFamily) HasFeature(feature Feature) bool {
	for _, candidate := range f.Features {
		if candidate == feature {
			return true
		}
	}
	return false
}

// ImageNames returns every image name the family publishes: the base image
// with each variant suffix, plus any extra images.
func (f ImageFamily) ImageNames() []string {
	names := []string{f.Image}
	for _, variant := range f.Variants {
		if variant.Suffix != "" {
			names = append(names, f.Image+variant.Suffix)
		}
	}
	return append(names, f.ExtraImages...)
}

// Variant looks up a variant by name. The empty name and "default" select
// the base image.
func (f ImageFamily) Variant(name string) (Variant, bool) {
	for _, variant := range f.Variants {
		if variant.Name == name {
			return variant, true
		}
	}
	if name == "" || name == "default" {
		return Variant{Name: "default"}, true
	}
	return Variant{}, false
}

func (f ImageFamily) hasBranch(branch string) bool {
	for _, candidate := range f.Branches {
		if candidate == branch {
			return true
		}
	}
	return false
}

// Catalog is a validated set of image families.
type Catalog struct {
	Families []ImageFamily `yaml:"families" validate:"required,min=1,dive"`
}

var (
	validate    = validator.New()
	slugRegex   = regexp.MustCompile(`^[a-z0-9][a-z0-9._-]*$`)
	tagRegex    = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)
	suffixRegex = regexp.MustCompile(`^(-[a-z0-9]+)+$`)
)

func init() {
	_ = validate.RegisterValidation("slug", func(fl validator.FieldLevel) bool {
		return slugRegex.MatchString(fl.Field().String())
	})
	_ = validate.RegisterValidation("imagetag", func(fl validator.FieldLevel) bool {
		return tagRegex.MatchString(fl.Field().String())
	})
	_ = validate.RegisterValidation("variantsuffix", func(fl validator.FieldLevel) bool {
		return suffixRegex.MatchString(fl.Field().String())
	})
}

// Default returns the catalog embedded in the binary.
func Default() (*Catalog, error) {
	return Parse(bytes.NewReader(defaultYAML))
}

// MustDefault is Default for package initialisation; the embedded catalog is
// covered by tests.
func MustDefault() *Catalog {
	c, err := Default()
	if err != nil {
		panic(err)
	}
	return c
}

// Load reads and validates a catalog file.
func Load(path string) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, sentinels.Wrap(ErrReadCatalog, err, fmt.Sprintf("failed to read image catalog %s", path), map[string]any{"path": path})
	}
	defer f.Close()
	c, err := Parse(f)
	if err != nil {
		var e *errx.Error
		if errors.As(err, &e) {
			return nil, e.WithContext("path", path)
		}
		return nil, err
	}
	return c, nil
}

// Parse decodes a catalog and validates it. Unknown keys are rejected.
func Parse(r io.Reader) (*Catalog, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var c Catalog
	if err := dec.Decode(&c); err != nil {
		return nil, sentinels.Wrap(ErrParseCatalog, err, "failed to parse image catalog", nil)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate checks field constraints plus the cross-field rules the struct
// tags cannot express.
func (c *Catalog) Validate() error {
	if err := validate.Struct(c); err != nil {
		return sentinels.Wrap(ErrInvalidCatalog, err, fmt.Sprintf("invalid image catalog: %v", err), nil)
	}
	seen := make(map[string]struct{}, len(c.Families))
	for _, family := range c.Families {
		if _, dup := seen[family.ID]; dup {
			return sentinels.Wrap(ErrInvalidCatalog, nil, fmt.Sprintf("invalid image catalog: duplicate family %q", family.ID), map[string]any{"family": family.ID})
		}
		seen[family.ID] = struct{}{}
		if !family.hasBranch(family.DefaultBranch) {
			return sentinels.Wrap(ErrInvalidCatalog, nil, fmt.Sprintf("invalid image catalog: family %q default branch %q is not one of its branches", family.ID, family.DefaultBranch), map[string]any{"family": family.ID})
		}
		variants := make(map[string]struct{}, len(family.Variants))
		for _, variant := range family.Variants {
			if _, dup := variants[variant.Name]; dup {
				return sentinels.Wrap(ErrInvalidCatalog, nil, fmt.Sprintf("invalid image catalog: family %q repeats variant %q", family.ID, variant.Name), map[string]any{"family": family.ID})
			}
			variants[variant.Name] = struct{}{}
		}
	}
	return nil
}

// Family returns the family with the given id.
func (c *Catalog) Family(id string) (ImageFamily, error) {
	for _, family := range c.Families {
		if family.ID == id {
			return family, nil
		}
	}
	return ImageFamily{}, sentinels.Wrap(ErrUnknownFamily, nil, fmt.Sprintf("unknown image family %q", id), map[string]any{"family": id})
}

// FamilyFor returns the family publishing image under registry/org, if any.
func (c *Catalog) FamilyFor(repository, image string) (ImageFamily, bool) {
	for _, family := range c.Families {
		if family.Repository() != repository {
			continue
		}
		for _, name := range family.ImageNames() {
			if name == image {
				return family, true
			}
		}
	}
	return ImageFamily{}, false
}

// AllowList maps each registry/org to the sorted image names published
// under it across all families.
func (c *Catalog) AllowList() map[string][]string {
	sets := make(map[string]map[string]struct{})
	for _, family := range c.Families {
		repo := family.Repository()
		if sets[repo] == nil {
			sets[repo] = make(map[string]struct{})
		}
		for _, name := range family.ImageNames() {
			sets[repo][name] = struct{}{}
		}
	}
	out := make(map[string][]string, len(sets))
	for repo, set := range sets {
		names := make([]string, 0, len(set))
		for name := range set {
			names = append(names, name)
		}
		sort.Strings(names)
		out[repo] = names
	}
	return out
}

// Ref is a fully resolved image reference.
type Ref struct {
	Family    string
	Transport string
	Registry  string
	Org       string
	Image     string
	Tag       string
}

// Name returns registry/org/image.
func (r Ref) Name() string {
	return r.Registry + "/" + r.Org + "/" + r.Image
}

// Repository returns registry/org.
func (r Ref) Repository() string {
	return r.Registry + "/" + r.Org
}

// String returns the transport-qualified reference passed to rpm-ostree.
func (r Ref) String() string {
	return r.Transport + r.Name() + ":" + r.Tag
}

// Resolve builds the reference for a family, variant and branch. Empty
// variant and branch select the base image and the default branch.
func (c *Catalog) Resolve(familyID, variantName, branch string) (Ref, error) {
	family, err := c.Family(familyID)
	if err != nil {
		return Ref{}, err
	}
	variant, ok := family.Variant(variantName)
	if !ok {
		return Ref{}, sentinels.Wrap(ErrUnknownVariant, nil, fmt.Sprintf("image family %q has no variant %q", familyID, variantName), map[string]any{"family": familyID, "variant": variantName})
	}
	if branch == "" {
		branch = family.DefaultBranch
	}
	if !family.hasBranch(branch) {
		return Ref{}, sentinels.Wrap(ErrUnknownBranch, nil, fmt.Sprintf("image family %q has no branch %q", familyID, branch), map[string]any{"family": familyID, "branch": branch})
	}
	return Ref{
		Family:    family.ID,
		Transport: family.Transport,
		Registry:  family.Registry,
		Org:       family.Org,
		Image:     family.Image + variant.Suffix,
		Tag:       branch,
	}, nil
}
