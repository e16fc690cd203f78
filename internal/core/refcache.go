package core

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"
	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"fishlog/pkg/domain"
)

// RefDomain names one cached reference list and its fixed TTL.
type RefDomain struct {
	name       string
	collection string
	ttl        time.Duration
}

// Reference data domains.
var (
	SpeciesDomain = RefDomain{name: "fish_species", collection: domain.CollectionFishSpecies, ttl: 7 * 24 * time.Hour}
	SpotsDomain   = RefDomain{name: "fishing_spots", collection: domain.CollectionFishingSpots, ttl: 30 * 24 * time.Hour}
)

// Name returns the domain identifier used in cache keys.
func (d RefDomain) Name() string { return d.name }

// TTL returns how long a cached list stays fresh.
func (d RefDomain) TTL() time.Duration { return d.ttl }

func (d RefDomain) dataKey() string { return d.name + "_cache" }
func (d RefDomain) timeKey() string { return d.name + "_cache_time" }

// ParseRefDomain maps a domain name onto a RefDomain.
func ParseRefDomain(name string) (RefDomain, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case SpeciesDomain.name, "species":
		return SpeciesDomain, nil
	case SpotsDomain.name, "spots":
		return SpotsDomain, nil
	default:
		return RefDomain{}, fmt.Errorf("%w: %q", domain.ErrUnknownDomain, name)
	}
}

// CacheResult is the outcome of a reference data read.
type CacheResult struct {
	Data      json.RawMessage
	FromCache bool
	FetchedAt time.Time
}

// Decode unmarshals the cached payload into v.
func (r CacheResult) Decode(v any) error {
	return json.Unmarshal(r.Data, v)
}

// FetchFunc loads a fresh copy of a reference list.
type FetchFunc func(ctx context.Context) (any, error)

// RefCache serves species and spot lists from the local store while they are
// fresh and refetches them from the remote store otherwise.
type RefCache struct {
	store  domain.LocalStore
	remote domain.DocumentStore
	opts   options
	group  singleflight.Group
}

// NewRefCache constructs a cache over store. remote backs Species and Spots.
func NewRefCache(store domain.LocalStore, remote domain.DocumentStore, opts ...Option) *RefCache {
	return &RefCache{store: store, remote: remote, opts: buildOptions(opts)}
}

// Get returns the cached list for d when fresh, otherwise calls fetch and
// caches its result. A failed fetch is returned even when an expired entry
// exists.
func (c *RefCache) Get(ctx context.Context, d RefDomain, fetch FetchFunc) (CacheResult, error) {
	if d.name == "" {
		return CacheResult{}, domain.ErrUnknownDomain
	}
	if fetch == nil {
		return CacheResult{}, fmt.Errorf("reference %s: nil fetch", d.name)
	}
	now := c.opts.clock.Now()
	if res, ok := c.read(ctx, d, now); ok {
		c.opts.metrics.Observe(ctx, opReferenceHit+"."+d.name, true, 0)
		return res, nil
	}
	return c.load(ctx, d, fetch)
}

// load calls fetch and replaces the cached pair for d in one write. A failed
// fetch leaves the cached pair untouched.
func (c *RefCache) load(ctx context.Context, d RefDomain, fetch FetchFunc) (CacheResult, error) {
	v, err, _ := c.group.Do(d.name, func() (any, error) {
		var res CacheResult
		err := c.opts.observe(ctx, opReferenceFetch+"."+d.name, func(ctx context.Context) error {
			data, err := fetch(ctx)
			if err != nil {
				return err
			}
			raw, err := json.Marshal(data)
			if err != nil {
				return fmt.Errorf("encode %s: %w", d.name, err)
			}
			fetchedAt := c.opts.clock.Now()
			c.write(ctx, d, raw, fetchedAt)
			res = CacheResult{Data: raw, FetchedAt: fetchedAt}
			return nil
		})
		return res, err
	})
	if err != nil {
		c.opts.logger.Error("reference fetch failed", "domain", d.name, "error", err)
		return CacheResult{}, fmt.Errorf("fetch %s: %w", d.name, err)
	}
	return v.(CacheResult), nil
}

// Invalidate drops both halves of the cached pair for d.
func (c *RefCache) Invalidate(ctx context.Context, d RefDomain) error {
	if d.name == "" {
		return domain.ErrUnknownDomain
	}
	return c.opts.observe(ctx, opReferenceRemove+"."+d.name, func(ctx context.Context) error {
		return c.store.Remove(ctx, d.dataKey(), d.timeKey())
	})
}

func (c *RefCache) read(ctx context.Context, d RefDomain, now time.Time) (CacheResult, bool) {
	rawTime, ok, err := c.store.Get(ctx, d.timeKey())
	if err != nil {
		c.opts.logger.Warn("reference cache read failed", "key", d.timeKey(), "error", err)
		return CacheResult{}, false
	}
	if !ok {
		return CacheResult{}, false
	}
	ms, err := strconv.ParseInt(strings.TrimSpace(string(rawTime)), 10, 64)
	if err != nil {
		c.opts.logger.Debug("reference cache timestamp unreadable", "key", d.timeKey(), "error", err)
		return CacheResult{}, false
	}
	data, ok, err := c.store.Get(ctx, d.dataKey())
	if err != nil {
		c.opts.logger.Warn("reference cache read failed", "key", d.dataKey(), "error", err)
		return CacheResult{}, false
	}
	if !ok || !json.Valid(data) {
		return CacheResult{}, false
	}
	fetchedAt := time.UnixMilli(ms).UTC()
	if now.Sub(fetchedAt) >= d.ttl {
		return CacheResult{}, false
	}
	return CacheResult{Data: data, FromCache: true, FetchedAt: fetchedAt}, true
}

func (c *RefCache) write(ctx context.Context, d RefDomain, raw []byte, fetchedAt time.Time) {
	err := c.store.SetMany(ctx, map[string][]byte{
		d.dataKey(): raw,
		d.timeKey(): []byte(strconv.FormatInt(fetchedAt.UnixMilli(), 10)),
	})
	if err != nil {
		c.opts.logger.Warn("reference cache write failed", "domain", d.name, "error", err)
	}
}

// Species returns the species list sorted by Thai name.
func (c *RefCache) Species(ctx context.Context) ([]domain.Species, bool, error) {
	res, err := c.Get(ctx, SpeciesDomain, c.fetchSpecies)
	if err != nil {
		return nil, false, err
	}
	out, err := decodeSpecies(res)
	return out, res.FromCache, err
}

// Spots returns the fishing spot list sorted by spot name.
func (c *RefCache) Spots(ctx context.Context) ([]domain.FishingSpot, bool, error) {
	res, err := c.Get(ctx, SpotsDomain, c.fetchSpots)
	if err != nil {
		return nil, false, err
	}
	out, err := decodeSpots(res)
	return out, res.FromCache, err
}

// Refresh reloads d from the remote store regardless of freshness. The cached
// pair is replaced only when the fetch succeeds, so an offline refresh keeps
// serving the current list.
func (c *RefCache) Refresh(ctx context.Context, d RefDomain) (int, error) {
	switch d {
	case SpeciesDomain:
		res, err := c.load(ctx, d, c.fetchSpecies)
		if err != nil {
			return 0, err
		}
		list, err := decodeSpecies(res)
		return len(list), err
	case SpotsDomain:
		res, err := c.load(ctx, d, c.fetchSpots)
		if err != nil {
			return 0, err
		}
		list, err := decodeSpots(res)
		return len(list), err
	default:
		return 0, domain.ErrUnknownDomain
	}
}

func (c *RefCache) fetchSpecies(ctx context.Context) (any, error) {
	return fetchReference[domain.Species](ctx, c.remote, SpeciesDomain, func(s *domain.Species, id string) {
		if s.ID == "" {
			s.ID = id
		}
	})
}

func (c *RefCache) fetchSpots(ctx context.Context) (any, error) {
	return fetchReference[domain.FishingSpot](ctx, c.remote, SpotsDomain, func(s *domain.FishingSpot, id string) {
		if s.ID == "" {
			s.ID = id
		}
	})
}

func decodeSpecies(res CacheResult) ([]domain.Species, error) {
	var out []domain.Species
	if err := res.Decode(&out); err != nil {
		return nil, fmt.Errorf("decode species: %w", err)
	}
	sortByName(out, func(s domain.Species) string { return s.ThaiName })
	return out, nil
}

func decodeSpots(res CacheResult) ([]domain.FishingSpot, error) {
	var out []domain.FishingSpot
	if err := res.Decode(&out); err != nil {
		return nil, fmt.Errorf("decode spots: %w", err)
	}
	sortByName(out, func(s domain.FishingSpot) string { return s.SpotName })
	return out, nil
}

func fetchReference[T any](ctx context.Context, remote domain.DocumentStore, d RefDomain, withID func(*T, string)) ([]T, error) {
	if remote == nil {
		return nil, fmt.Errorf("reference %s: no remote store", d.name)
	}
	docs, err := remote.FetchAll(ctx, d.collection, nil)
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(docs))
	for _, doc := range docs {
		var item T
		if err := doc.Decode(&item); err != nil {
			return nil, fmt.Errorf("decode %s/%s: %w", d.collection, doc.ID, err)
		}
		withID(&item, doc.ID)
		out = append(out, item)
	}
	return out, nil
}

// sortByName orders items with Thai collation, keeping ties in input order.
func sortByName[T any](items []T, name func(T) string) {
	col := collate.New(language.Thai)
	sort.SliceStable(items, func(i, j int) bool {
		return col.CompareString(name(items[i]), name(items[j])) < 0
	})
}

// SearchSpecies filters species whose Thai, local, scientific or common Thai
// name contains q, ignoring case. An empty query returns the list unchanged.
func SearchSpecies(list []domain.Species, q string) []domain.Species {
	q = strings.ToLower(strings.TrimSpace(q))
	if q == "" {
		return list
	}
	out := make([]domain.Species, 0, len(list))
	for _, s := range list {
		if containsFold(q, s.ThaiName, s.LocalName, s.ScientificName, s.CommonNameThai) {
			out = append(out, s)
		}
	}
	return out
}

func containsFold(lowerQuery string, fields ...string) bool {
	for _, f := range fields {
		if f != "" && strings.Contains(strings.ToLower(f), lowerQuery) {
			return true
		}
	}
	return false
}
