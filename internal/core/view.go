package core

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"fishlog/pkg/domain"
)

// SortKey selects the history ordering. Every key sorts descending.
type SortKey string

// Sort keys.
const (
	SortByDate      SortKey = "date"
	SortByFishCount SortKey = "fishCount"
	SortByWeight    SortKey = "weight"
)

// ParseSortKey maps a name onto a SortKey. Empty selects SortByDate.
func ParseSortKey(s string) (SortKey, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "date":
		return SortByDate, nil
	case "fishcount", "fish_count", "count":
		return SortByFishCount, nil
	case "weight":
		return SortByWeight, nil
	default:
		return "", fmt.Errorf("unknown sort key %q", s)
	}
}

// ViewQuery describes one read of the history.
type ViewQuery struct {
	Identity  *domain.Identity
	Selection *domain.Identity
	Search    string
	Sort      SortKey
	// Zone is the wall clock for date matching; nil uses the default display zone.
	Zone *time.Location
}

// BuildView filters history to the resolved owner, applies the search and
// sorts the result. The input is never modified.
func BuildView(history []domain.CatchRecord, q ViewQuery) []domain.CatchRecord {
	owned := FilterByOwner(history, q.Identity, q.Selection)
	out := owned[:0]
	for _, rec := range owned {
		if MatchesSearch(rec, q.Search, q.Zone) {
			out = append(out, rec)
		}
	}
	SortRecords(out, q.Sort)
	return out
}

// FilterByOwner keeps records owned by the effective owner. A researcher
// without a selection, or no identity, sees nothing.
func FilterByOwner(history []domain.CatchRecord, identity, selection *domain.Identity) []domain.CatchRecord {
	out := []domain.CatchRecord{}
	if !CanRecord(identity, selection) {
		return out
	}
	owner := EffectiveOwnerID(identity, selection)
	for _, rec := range history {
		if rec.OwnerID() == owner {
			out = append(out, rec.Clone())
		}
	}
	return out
}

// MatchesSearch reports whether rec's Thai date or any fish name contains q,
// ignoring case. An empty query matches everything.
func MatchesSearch(rec domain.CatchRecord, q string, zone *time.Location) bool {
	q = strings.ToLower(strings.TrimSpace(q))
	if q == "" {
		return true
	}
	if zone == nil {
		zone = domain.DefaultDisplayZone
	}
	if strings.Contains(strings.ToLower(domain.FormatThaiDate(rec.Date, zone)), q) {
		return true
	}
	for _, fish := range rec.FishList {
		if strings.Contains(strings.ToLower(fish.Name), q) {
			return true
		}
	}
	return false
}

// SortRecords orders records in place, descending by key. Ties keep their
// relative order and unknown dates sort last.
func SortRecords(records []domain.CatchRecord, key SortKey) {
	switch key {
	case SortByFishCount:
		sort.SliceStable(records, func(i, j int) bool {
			return TotalCount(records[i]) > TotalCount(records[j])
		})
	case SortByWeight:
		sort.SliceStable(records, func(i, j int) bool {
			return TotalWeight(records[i]) > TotalWeight(records[j])
		})
	default:
		sort.SliceStable(records, func(i, j int) bool {
			return records[j].Date.Before(records[i].Date)
		})
	}
}
