package core

import (
	"testing"
	"time"

	"fishlog/pkg/domain"
)

func mustDecode(t *testing.T, raw string) domain.CatchRecord {
	t.Helper()
	rec, err := decodeRecord([]byte(raw))
	if err != nil {
		t.Fatalf("decode %s: %v", raw, err)
	}
	return rec
}

func TestOwnerFilterKeepsOnlyOwnerRecords(t *testing.T) {
	day := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	var history []domain.CatchRecord
	for i, owner := range []string{"A", "B", "C", "B", "A", "B"} {
		history = append(history, record(owner+string(rune('0'+i)), owner, day.AddDate(0, 0, i),
			fish("ปลานิล", i+1, float64(6-i))))
	}
	fisherB := &domain.Identity{ID: "B", Role: domain.RoleFisher}
	researcher := &domain.Identity{ID: "R", Role: domain.RoleResearcher}

	for _, q := range []ViewQuery{
		{Identity: fisherB},
		{Identity: fisherB, Sort: SortByWeight},
		{Identity: fisherB, Sort: SortByFishCount, Search: "ปลา"},
		{Identity: researcher, Selection: &domain.Identity{ID: "B"}, Sort: SortByDate},
	} {
		view := BuildView(history, q)
		if len(view) != 3 {
			t.Fatalf("expected three B records for %+v, got %v", q, ids(view))
		}
		for _, rec := range view {
			if rec.OwnerID() != "B" {
				t.Fatalf("record %s leaked into B's view", rec.ID)
			}
		}
	}
	if len(history) != 6 || history[0].ID != "A0" {
		t.Fatalf("BuildView must not modify its input")
	}
}

func TestResearcherWithoutSelectionSeesNothing(t *testing.T) {
	history := []domain.CatchRecord{
		record("1", "R", baseTime),
		record("2", "f1", baseTime),
	}
	researcher := &domain.Identity{ID: "R", Role: domain.RoleResearcher}
	view := BuildView(history, ViewQuery{Identity: researcher})
	if view == nil || len(view) != 0 {
		t.Fatalf("expected an empty view, got %v", ids(view))
	}
	if got := BuildView(history, ViewQuery{}); len(got) != 0 {
		t.Fatalf("anonymous view must be empty, got %v", ids(got))
	}
}

func TestSortByWeightIsStableAndDescending(t *testing.T) {
	records := []domain.CatchRecord{
		record("a", "o", baseTime, fish("x", 1, 2)),
		record("b", "o", baseTime, fish("x", 1, 5)),
		record("c", "o", baseTime, fish("x", 1, 1), fish("y", 1, 1)),
		record("d", "o", baseTime, fish("x", 1, 5)),
		record("e", "o", baseTime),
	}
	SortRecords(records, SortByWeight)
	if got := ids(records); !equalStrings(got, []string{"b", "d", "a", "c", "e"}) {
		t.Fatalf("unexpected order %v", got)
	}
	for i := 0; i+1 < len(records); i++ {
		if TotalWeight(records[i]) < TotalWeight(records[i+1]) {
			t.Fatalf("weights not descending at %d", i)
		}
	}
}

func TestSortByCountAndDate(t *testing.T) {
	records := []domain.CatchRecord{
		record("old", "o", baseTime.AddDate(0, -1, 0), fish("x", 7, 1)),
		{ID: "undated", FishList: []domain.FishEntry{fish("x", 1, 1)}},
		record("new", "o", baseTime, fish("x", 2, 1), fish("y", 3, 1)),
	}
	SortRecords(records, SortByDate)
	if got := ids(records); !equalStrings(got, []string{"new", "old", "undated"}) {
		t.Fatalf("unexpected date order %v", got)
	}
	SortRecords(records, SortByFishCount)
	if got := ids(records); !equalStrings(got, []string{"old", "new", "undated"}) {
		t.Fatalf("unexpected count order %v", got)
	}
}

func TestOwnerViewTotals(t *testing.T) {
	history := []domain.CatchRecord{
		mustDecode(t, `{"id":"1","fisherInfo":{"id":"f1"},"date":"2024-01-05","fishList":[{"count":"3","weight":"1.5"}]}`),
		mustDecode(t, `{"id":"2","fisherInfo":{"id":"f2"},"date":"2024-01-06","fishList":[{"count":"10","weight":"5"}]}`),
	}
	view := BuildView(history, ViewQuery{Identity: &domain.Identity{ID: "f1", Role: domain.RoleFisher}})
	if len(view) != 1 || view[0].ID != "1" {
		t.Fatalf("expected only f1's record, got %v", ids(view))
	}
	if TotalCount(view[0]) != 3 {
		t.Fatalf("expected total count 3, got %d", TotalCount(view[0]))
	}
	if got := domain.FormatAmount(TotalWeight(view[0])); got != "1.50" {
		t.Fatalf("expected total weight 1.50, got %s", got)
	}
}

func TestSearchMatchesThaiMonth(t *testing.T) {
	jan := record("jan", "o", time.Date(2024, 1, 20, 5, 0, 0, 0, time.UTC), fish("ปลานิล", 1, 1))
	feb := record("feb", "o", time.Date(2024, 2, 3, 5, 0, 0, 0, time.UTC), fish("ปลาช่อน", 1, 1))
	view := BuildView([]domain.CatchRecord{jan, feb}, ViewQuery{
		Identity: &domain.Identity{ID: "o"},
		Search:   "มกราคม",
	})
	if got := ids(view); !equalStrings(got, []string{"jan"}) {
		t.Fatalf("expected only the January record, got %v", got)
	}
}

func TestMatchesSearch(t *testing.T) {
	// 31 Jan 20:00 UTC is 1 Feb in the default display zone.
	rec := record("r", "o", time.Date(2024, 1, 31, 20, 0, 0, 0, time.UTC), fish("Tilapia", 1, 1))
	cases := []struct {
		q    string
		zone *time.Location
		want bool
	}{
		{"", nil, true},
		{"  ", nil, true},
		{"tilap", nil, true},
		{"กุมภาพันธ์", nil, true},
		{"มกราคม", nil, false},
		{"มกราคม", time.UTC, true},
		{"2567", nil, true},
		{"ปลาช่อน", nil, false},
	}
	for _, tc := range cases {
		if got := MatchesSearch(rec, tc.q, tc.zone); got != tc.want {
			t.Fatalf("MatchesSearch(%q, %v): want %v, got %v", tc.q, tc.zone, tc.want, got)
		}
	}
	if !MatchesSearch(domain.CatchRecord{}, domain.UnknownDateLabel, nil) {
		t.Fatalf("undated records match the unknown date label")
	}
}

func TestParseSortKey(t *testing.T) {
	for in, want := range map[string]SortKey{
		"":          SortByDate,
		"date":      SortByDate,
		"fishCount": SortByFishCount,
		"count":     SortByFishCount,
		"WEIGHT":    SortByWeight,
	} {
		got, err := ParseSortKey(in)
		if err != nil || got != want {
			t.Fatalf("ParseSortKey(%q): got %q, %v", in, got, err)
		}
	}
	if _, err := ParseSortKey("price"); err == nil {
		t.Fatalf("expected error for unknown key")
	}
}
