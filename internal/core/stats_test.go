package core

import (
	"testing"
	"time"

	"fishlog/pkg/domain"
)

func TestRecordTotals(t *testing.T) {
	rec := record("r", "o", baseTime, fish("a", 2, 1.25), fish("b", 3, 0.5))
	rec.FishList[0].Price = domain.Numeric("100")
	rec.FishList[1].Price = domain.Numeric("50.5 บาท")
	rec.FishList = append(rec.FishList, domain.FishEntry{Name: "c", Count: "abc", Weight: ""})

	if TotalCount(rec) != 5 || FishSpeciesCount(rec) != 3 {
		t.Fatalf("unexpected count %d species %d", TotalCount(rec), FishSpeciesCount(rec))
	}
	sum := Summarize(rec, time.UTC)
	if sum.TotalWeight != "1.75" || sum.TotalValue != "150.50" || sum.Date != "15 มิถุนายน 2567" {
		t.Fatalf("unexpected summary %+v", sum)
	}
}

func TestMonthlyStatsKeepsRecentThree(t *testing.T) {
	at := func(y int, m time.Month, d int) time.Time { return time.Date(y, m, d, 5, 0, 0, 0, time.UTC) }
	noFishing := record("nf", "o", at(2024, 5, 2))
	noFishing.NoFishing = true
	records := []domain.CatchRecord{
		record("jan", "o", at(2024, 1, 10), fish("a", 1, 1)),
		record("feb", "o", at(2024, 2, 10), fish("a", 2, 2)),
		record("apr1", "o", at(2024, 4, 1), fish("a", 3, 1.5), fish("b", 1, 0.25)),
		record("apr2", "o", at(2024, 4, 20), fish("a", 1, 1)),
		noFishing,
		record("may", "o", at(2024, 5, 3), fish("a", 4, 4)),
		{ID: "undated", FishList: []domain.FishEntry{fish("a", 100, 100)}},
		record("dec", "o", at(2023, 12, 31), fish("a", 9, 9)),
	}

	stats := MonthlyStats(records, domain.DefaultDisplayZone)
	if len(stats) != 3 {
		t.Fatalf("expected three months, got %d", len(stats))
	}
	want := []time.Month{time.May, time.April, time.February}
	for i, m := range want {
		if stats[i].Month != m || stats[i].Year != 2024 {
			t.Fatalf("month %d: want %v 2024, got %v %d", i, m, stats[i].Month, stats[i].Year)
		}
	}

	may := stats[0]
	if may.Entries != 2 || may.NoFishingDays != 1 || may.TotalFish != 4 || may.WeightLabel() != "4.00" {
		t.Fatalf("unexpected May stats %+v", may)
	}
	apr := stats[1]
	if apr.Entries != 2 || apr.Species != 3 || apr.TotalFish != 5 || apr.WeightLabel() != "2.75" {
		t.Fatalf("unexpected April stats %+v", apr)
	}
	if apr.Label() != "เมษายน 2567" {
		t.Fatalf("unexpected label %q", apr.Label())
	}
}

func TestMonthlyStatsUsesDisplayZone(t *testing.T) {
	// 31 Jan 20:00 UTC falls in February at UTC+7.
	rec := record("edge", "o", time.Date(2024, 1, 31, 20, 0, 0, 0, time.UTC), fish("a", 1, 1))
	if got := MonthlyStats([]domain.CatchRecord{rec}, nil); got[0].Month != time.February {
		t.Fatalf("expected February in the default zone, got %v", got[0].Month)
	}
	if got := MonthlyStats([]domain.CatchRecord{rec}, time.UTC); got[0].Month != time.January {
		t.Fatalf("expected January in UTC, got %v", got[0].Month)
	}
	if got := MonthlyStats(nil, nil); len(got) != 0 {
		t.Fatalf("expected no stats for no records")
	}
}
