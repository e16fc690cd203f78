package domain

import (
	"fmt"
	"time"
)

// UnknownDateLabel is displayed for records whose date cannot be read.
const UnknownDateLabel = "ไม่ระบุวันที่"

// buddhistEraOffset converts a Gregorian year to the Thai Buddhist era.
const buddhistEraOffset = 543

// ThaiMonthNames holds the full Thai month names, January first.
var ThaiMonthNames = [12]string{
	"มกราคม", "กุมภาพันธ์", "มีนาคม", "เมษายน",
	"พฤษภาคม", "มิถุนายน", "กรกฎาคม", "สิงหาคม",
	"กันยายน", "ตุลาคม", "พฤศจิกายน", "ธันวาคม",
}

// DefaultDisplayZone is the wall clock used for display and month grouping
// when no zone is configured (Indochina Time, UTC+7).
var DefaultDisplayZone = time.FixedZone("ICT", 7*60*60)

// FormatThaiDate renders "<day> <month> <BE year>" in loc, or UnknownDateLabel.
func FormatThaiDate(i Instant, loc *time.Location) string {
	t, ok := i.Time()
	if !ok {
		return UnknownDateLabel
	}
	if loc == nil {
		loc = DefaultDisplayZone
	}
	t = t.In(loc)
	return fmt.Sprintf("%d %s %d", t.Day(), ThaiMonthNames[t.Month()-1], t.Year()+buddhistEraOffset)
}

// ThaiMonthLabel renders "<month> <BE year>".
func ThaiMonthLabel(year int, month time.Month) string {
	if month < time.January || month > time.December {
		return UnknownDateLabel
	}
	return fmt.Sprintf("%s %d", ThaiMonthNames[month-1], year+buddhistEraOffset)
}
