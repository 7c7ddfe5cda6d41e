// Package registry lists historical image tags from remote registries
// through skopeo and keeps the listings in a short-lived memory cache.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/juju/clock"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"atomic-image-manager/internal/catalog"
	"atomic-image-manager/internal/hostexec"
	"atomic-image-manager/internal/metrics"
	"atomic-image-manager/internal/validate"
)

const (
	// CacheTTL is how long a tag listing is served without refreshing.
	CacheTTL = 5 * time.Minute
	// ListTimeout bounds one skopeo list-tags call.
	ListTimeout = 30 * time.Second
	// VersionTimeout bounds the skopeo availability check.
	VersionTimeout = 5 * time.Second
	// MaxUndated caps how many undated tags GetRecentImages backfills.
	MaxUndated = 20
	// BranchAll disables branch filtering.
	BranchAll = "all"
	// DateLayout is the tag-embedded date format.
	DateLayout = "20060102"
)

var tagDateRegex = regexp.MustCompile(`\d{8}`)

// Image is one tag found in a registry.
type Image struct {
	Name     string
	Tag      string
	Registry string
	// Date is parsed from a YYYYMMDD run in the tag; zero when absent.
	Date time.Time
}

// FullRef returns registry/name:tag.
func (i Image) FullRef() string {
	return fmt.Sprintf("%s/%s:%s", i.Registry, i.Name, i.Tag)
}

// HasDate reports whether a date was found in the tag.
func (i Image) HasDate() bool { return !i.Date.IsZero() }

// AgeDays returns whole days between the tag date and now.
func (i Image) AgeDays(now time.Time) (int, bool) {
	if !i.HasDate() {
		return 0, false
	}
	return int(now.Sub(i.Date) / (24 * time.Hour)), true
}

type cacheEntry struct {
	fetched time.Time
	images  []Image
}

// Querier lists registry tags with a TTL cache. It is safe for concurrent
// use; concurrent misses for the same key share one skopeo call.
type Querier struct {
	client  *hostexec.Client
	catalog *catalog.Catalog
	clock   clock.Clock
	ttl     time.Duration
	logger  *zap.Logger
	metrics *metrics.Metrics

	mu     sync.Mutex
	cache  map[string]cacheEntry
	flight singleflight.Group
}

// Option configures a Querier.
type Option func(*Querier)

// WithClock sets the clock used for cache expiry and tag ages.
func WithClock(c clock.Clock) Option {
	return func(q *Querier) { q.clock = c }
}

// WithTTL overrides CacheTTL.
func WithTTL(d time.Duration) Option {
	return func(q *Querier) { q.ttl = d }
}

// WithCatalog sets the catalog used to pick default branches.
func WithCatalog(c *catalog.Catalog) Option {
	return func(q *Querier) { q.catalog = c }
}

// WithLogger sets the diagnostic logger.
func WithLogger(logger *zap.Logger) Option {
	return func(q *Querier) { q.logger = logger }
}

// WithMetrics records cache lookups.
func WithMetrics(m *metrics.Metrics) Option {
	return func(q *Querier) { q.metrics = m }
}

// NewQuerier creates a Querier.
func NewQuerier(client *hostexec.Client, opts ...Option) *Querier {
	q := &Querier{
		client:  client,
		catalog: catalog.MustDefault(),
		clock:   clock.WallClock,
		ttl:     CacheTTL,
		logger:  zap.NewNop(),
		cache:   make(map[string]cacheEntry),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

func cacheKey(registry, image, branch string) string {
	return registry + "/" + image + ":" + branch
}

// ListImageTags returns the tags of registry/image matching branch, newest
// first with undated tags last. A fresh cached listing is returned without
// querying. When a refresh fails and an expired listing exists, the expired
// listing is returned instead of the error.
func (q *Querier) ListImageTags(ctx context.Context, registry, image, branch string) ([]Image, error) {
	key := cacheKey(registry, image, branch)

	q.mu.Lock()
	entry, cached := q.cache[key]
	q.mu.Unlock()
	if cached && q.clock.Now().Sub(entry.fetched) < q.ttl {
		q.metrics.CacheLookup(metrics.CacheHit)
		return slices.Clone(entry.images), nil
	}

	// The shared fetch outlives any one caller; each caller stops waiting
	// when its own ctx ends.
	shared := q.flight.DoChan(key, func() (any, error) {
		images, err := q.fetch(context.WithoutCancel(ctx), registry, image, branch)
		if err != nil {
			return nil, err
		}
		q.mu.Lock()
		q.cache[key] = cacheEntry{fetched: q.clock.Now(), images: images}
		q.mu.Unlock()
		return images, nil
	})
	var v any
	var err error
	select {
	case res := <-shared:
		v, err = res.Val, res.Err
	case <-ctx.Done():
		err = ctx.Err()
	}
	if err != nil {
		if cached {
			q.metrics.CacheLookup(metrics.CacheStale)
			q.logger.Warn("registry refresh failed, serving cached tags",
				zap.String("key", key), zap.Error(err))
			return slices.Clone(entry.images), nil
		}
		q.metrics.CacheLookup(metrics.CacheMiss)
		return nil, err
	}
	q.metrics.CacheLookup(metrics.CacheMiss)
	return slices.Clone(v.([]Image)), nil
}

type tagListing struct {
	Tags []string `json:"Tags"`
}

func (q *Querier) fetch(ctx context.Context, registry, image, branch string) ([]Image, error) {
	ctx, cancel := context.WithTimeout(ctx, ListTimeout)
	defer cancel()

	source := "docker://" + registry + "/" + image
	out, err := q.client.Output(ctx, []string{"skopeo", "list-tags", source})
	if err != nil {
		return nil, sentinels.Wrap(ErrListTags, err,
			fmt.Sprintf("Failed to list tags for %s: %v", source, err),
			map[string]any{"source": source})
	}
	var listing tagListing
	if err := json.Unmarshal(out, &listing); err != nil {
		return nil, sentinels.Wrap(ErrParseTags, err,
			fmt.Sprintf("Failed to parse tags for %s: %v", source, err),
			map[string]any{"source": source})
	}

	images := make([]Image, 0, len(listing.Tags))
	for _, tag := range listing.Tags {
		if !MatchesBranch(tag, branch) {
			continue
		}
		images = append(images, Image{
			Name:     image,
			Tag:      tag,
			Registry: registry,
			Date:     ParseTagDate(tag),
		})
	}
	SortNewestFirst(images)
	q.logger.Debug("listed registry tags",
		zap.String("source", source), zap.Int("tags", len(listing.Tags)), zap.Int("matched", len(images)))
	return images, nil
}

// GetRecentImages returns tags dated within the last days, plus undated
// tags while fewer than MaxUndated results have been collected. Errors are
// logged and produce an empty list.
func (q *Querier) GetRecentImages(ctx context.Context, registry, image string, days int, branch string) []Image {
	images, err := q.ListImageTags(ctx, registry, image, branch)
	if err != nil {
		q.logger.Warn("registry query failed", zap.String("registry", registry),
			zap.String("image", image), zap.Error(err))
		return []Image{}
	}
	cutoff := q.clock.Now().AddDate(0, 0, -days)
	recent := make([]Image, 0, len(images))
	for _, img := range images {
		switch {
		case img.HasDate() && !img.Date.Before(cutoff):
			recent = append(recent, img)
		case !img.HasDate() && len(recent) < MaxUndated:
			recent = append(recent, img)
		}
	}
	return recent
}

// Invalidate drops every cached listing.
func (q *Querier) Invalidate() {
	q.mu.Lock()
	defer q.mu.Unlock()
	clear(q.cache)
}

// MatchesBranch reports whether tag belongs to branch: the tag starts with
// the branch name or is a numbered release of it such as 40-stable.
func MatchesBranch(tag, branch string) bool {
	if branch == "" || branch == BranchAll {
		return true
	}
	if strings.HasPrefix(tag, branch) {
		return true
	}
	digits := strings.TrimLeft(tag, "0123456789")
	return len(digits) < len(tag) && strings.HasPrefix(digits, "-"+branch)
}

// ParseTagDate returns the date in the first eight-digit run of tag, or
// the zero time.
func ParseTagDate(tag string) time.Time {
	m := tagDateRegex.FindString(tag)
	if m == "" {
		return time.Time{}
	}
	t, err := time.ParseInLocation(DateLayout, m, time.Local)
	if err != nil {
		return time.Time{}
	}
	return t
}

// SortNewestFirst orders images by date descending. Undated images keep
// their relative order after every dated one.
func SortNewestFirst(images []Image) {
	slices.SortStableFunc(images, func(a, b Image) int {
		return b.Date.Compare(a.Date)
	})
}

// ImageInfo identifies the registry listing behind a deployment origin.
type ImageInfo struct {
	// Registry is registry host and organisation, e.g. ghcr.io/ublue-os.
	Registry string
	Image    string
	Tag      string
}

// ImageInfoFromOrigin splits a deployment origin into registry, image and
// tag. A missing tag is reported as the catalog family's default branch,
// or latest for images outside the catalog.
func (q *Querier) ImageInfoFromOrigin(origin string) (ImageInfo, error) {
	rest, _ := validate.StripTransport(origin)
	slash := strings.LastIndexByte(rest, '/')
	if slash <= 0 || !strings.Contains(rest[:slash], "/") {
		return ImageInfo{}, sentinels.Wrap(ErrBadOrigin, nil,
			fmt.Sprintf("Cannot determine registry image from origin %q", origin),
			map[string]any{"origin": origin})
	}
	info := ImageInfo{Registry: rest[:slash], Image: rest[slash+1:]}
	if name, tag, ok := strings.Cut(info.Image, ":"); ok {
		info.Image, info.Tag = name, tag
	}
	if info.Tag == "" {
		info.Tag = "latest"
		if family, ok := q.catalog.FamilyFor(info.Registry, info.Image); ok {
			info.Tag = family.DefaultBranch
		}
	}
	return info, nil
}

// CheckSkopeoAvailable reports whether skopeo runs on the host.
func (q *Querier) CheckSkopeoAvailable(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, VersionTimeout)
	defer cancel()
	return q.client.Run(ctx, []string{"skopeo", "--version"}) == nil
}
