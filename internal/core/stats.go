package core

import (
	"fmt"
	"sort"
	"time"

	"fishlog/pkg/domain"
)

// monthsShown is how many recent months MonthlyStats returns.
const monthsShown = 3

// TotalCount sums the fish counts of rec.
func TotalCount(rec domain.CatchRecord) int {
	total := 0
	for _, f := range rec.FishList {
		total += f.Count.Int()
	}
	return total
}

// TotalWeight sums the fish weights of rec, unrounded.
func TotalWeight(rec domain.CatchRecord) float64 {
	total := 0.0
	for _, f := range rec.FishList {
		total += f.Weight.Float()
	}
	return total
}

// TotalValue sums the fish prices of rec, unrounded.
func TotalValue(rec domain.CatchRecord) float64 {
	total := 0.0
	for _, f := range rec.FishList {
		total += f.Price.Float()
	}
	return total
}

// FishSpeciesCount is the number of fish entries in rec.
func FishSpeciesCount(rec domain.CatchRecord) int {
	return len(rec.FishList)
}

// RecordSummary holds display-ready totals for one record.
type RecordSummary struct {
	Date        string
	FishCount   int
	Species     int
	TotalWeight string
	TotalValue  string
}

// Summarize renders rec's totals with two-decimal amounts.
func Summarize(rec domain.CatchRecord, zone *time.Location) RecordSummary {
	return RecordSummary{
		Date:        domain.FormatThaiDate(rec.Date, zone),
		FishCount:   TotalCount(rec),
		Species:     FishSpeciesCount(rec),
		TotalWeight: domain.FormatAmount(TotalWeight(rec)),
		TotalValue:  domain.FormatAmount(TotalValue(rec)),
	}
}

// MonthStats aggregates one calendar month of records.
type MonthStats struct {
	Year          int
	Month         time.Month
	Entries       int
	Species       int
	TotalFish     int
	TotalWeight   float64
	TotalValue    float64
	NoFishingDays int
}

// Label renders the month as "<Thai month> <BE year>".
func (m MonthStats) Label() string {
	return domain.ThaiMonthLabel(m.Year, m.Month)
}

// WeightLabel renders TotalWeight with two decimals.
func (m MonthStats) WeightLabel() string { return domain.FormatAmount(m.TotalWeight) }

// ValueLabel renders TotalValue with two decimals.
func (m MonthStats) ValueLabel() string { return domain.FormatAmount(m.TotalValue) }

func (m MonthStats) String() string {
	return fmt.Sprintf("%s: %d entries, %d fish, %s kg", m.Label(), m.Entries, m.TotalFish, m.WeightLabel())
}

// MonthlyStats groups records by calendar month in zone and returns the three
// most recent months, newest first. Records without a readable date are
// skipped. No-fishing days are counted but add nothing to the catch sums.
func MonthlyStats(records []domain.CatchRecord, zone *time.Location) []MonthStats {
	if zone == nil {
		zone = domain.DefaultDisplayZone
	}
	type monthKey struct {
		year  int
		month time.Month
	}
	groups := make(map[monthKey]*MonthStats)
	for _, rec := range records {
		t, ok := rec.Date.Time()
		if !ok {
			continue
		}
		t = t.In(zone)
		key := monthKey{year: t.Year(), month: t.Month()}
		m, ok := groups[key]
		if !ok {
			m = &MonthStats{Year: key.year, Month: key.month}
			groups[key] = m
		}
		m.Entries++
		if rec.NoFishing {
			m.NoFishingDays++
			continue
		}
		m.Species += FishSpeciesCount(rec)
		m.TotalFish += TotalCount(rec)
		m.TotalWeight += TotalWeight(rec)
		m.TotalValue += TotalValue(rec)
	}

	out := make([]MonthStats, 0, len(groups))
	for _, m := range groups {
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Year != out[j].Year {
			return out[i].Year > out[j].Year
		}
		return out[i].Month > out[j].Month
	})
	if len(out) > monthsShown {
		out = out[:monthsShown]
	}
	return out
}
