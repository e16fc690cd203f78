package domain

// AdjustedPoint is a user-moved marker position for the selected spot.
type AdjustedPoint struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Draft is an in-progress catch record built across several form screens.
// All methods return modified copies; the receiver is never mutated.
type Draft struct {
	Date        Instant        `json:"date"`
	NoFishing   bool           `json:"noFishing"`
	WaterSource string         `json:"waterSource,omitempty"`
	WaterLevel  string         `json:"waterLevel,omitempty"`
	Weather     StringList     `json:"weather,omitempty"`
	FishingGear FishingGear    `json:"fishingGear,omitzero"`
	StartTime   TimeOfDay      `json:"startTime,omitempty"`
	EndTime     TimeOfDay      `json:"endTime,omitempty"`
	TotalWeight Numeric        `json:"totalWeight,omitempty"`
	Location    *Location      `json:"location,omitempty"`
	FishList    []FishEntry    `json:"fishList"`
	Usage       *Usage         `json:"usage,omitempty"`
	Spot        *FishingSpot   `json:"spot,omitempty"`
	Adjusted    *AdjustedPoint `json:"adjusted,omitempty"`
}

// NewDraft returns an empty draft dated at.
func NewDraft(at Instant) Draft {
	return Draft{Date: at, FishList: []FishEntry{}}
}

// Clone returns a deep copy.
func (d Draft) Clone() Draft {
	rec := d.asRecord().Clone()
	cp := d
	cp.Weather = rec.Weather
	cp.FishingGear = rec.FishingGear
	cp.Location = rec.Location
	cp.FishList = rec.FishList
	cp.Usage = rec.Usage
	if d.Spot != nil {
		s := *d.Spot
		cp.Spot = &s
	}
	if d.Adjusted != nil {
		a := *d.Adjusted
		cp.Adjusted = &a
	}
	return cp
}

// WithFish returns a copy with entry appended to the fish list.
func (d Draft) WithFish(entry FishEntry) Draft {
	cp := d.Clone()
	cp.FishList = append(cp.FishList, entry)
	return cp
}

// WithoutFish returns a copy without the entry at index. Out-of-range indexes
// leave the list unchanged.
func (d Draft) WithoutFish(index int) Draft {
	cp := d.Clone()
	if index < 0 || index >= len(cp.FishList) {
		return cp
	}
	out := make([]FishEntry, 0, len(cp.FishList)-1)
	out = append(out, cp.FishList[:index]...)
	out = append(out, cp.FishList[index+1:]...)
	cp.FishList = out
	return cp
}

// ToRecord copies the draft fields into an unstamped CatchRecord.
func (d Draft) ToRecord() CatchRecord {
	return d.asRecord().Clone()
}

func (d Draft) asRecord() CatchRecord {
	fish := d.FishList
	if fish == nil {
		fish = []FishEntry{}
	}
	return CatchRecord{
		Date:        d.Date,
		NoFishing:   d.NoFishing,
		WaterSource: d.WaterSource,
		WaterLevel:  d.WaterLevel,
		Weather:     d.Weather,
		FishingGear: d.FishingGear,
		StartTime:   d.StartTime,
		EndTime:     d.EndTime,
		TotalWeight: d.TotalWeight,
		Location:    d.Location,
		FishList:    fish,
		Usage:       d.Usage,
	}
}

// DraftPatch names the top-level draft fields to replace. Nil fields are kept.
type DraftPatch struct {
	Date        *Instant
	NoFishing   *bool
	WaterSource *string
	WaterLevel  *string
	Weather     *StringList
	FishingGear *FishingGear
	StartTime   *TimeOfDay
	EndTime     *TimeOfDay
	TotalWeight *Numeric
	Usage       *Usage
}

// Apply returns a copy of d with the patch fields replaced.
func (d Draft) Apply(p DraftPatch) Draft {
	cp := d.Clone()
	if p.Date != nil {
		cp.Date = *p.Date
	}
	if p.NoFishing != nil {
		cp.NoFishing = *p.NoFishing
	}
	if p.WaterSource != nil {
		cp.WaterSource = *p.WaterSource
	}
	if p.WaterLevel != nil {
		cp.WaterLevel = *p.WaterLevel
	}
	if p.Weather != nil {
		cp.Weather = append(StringList(nil), (*p.Weather)...)
	}
	if p.FishingGear != nil {
		cp.FishingGear = p.FishingGear.clone()
	}
	if p.StartTime != nil {
		cp.StartTime = *p.StartTime
	}
	if p.EndTime != nil {
		cp.EndTime = *p.EndTime
	}
	if p.TotalWeight != nil {
		cp.TotalWeight = *p.TotalWeight
	}
	if p.Usage != nil {
		u := *p.Usage
		cp.Usage = &u
	}
	return cp
}
