// Package domain defines the catch-record data model, identity and role types,
// reference data, and the storage ports used by fishlog.
package domain

import (
	"bytes"
	"encoding/json"
	"strings"
)

// Role identifies what an authenticated identity may do.
type Role string

// Supported roles.
const (
	// RoleFisher records catches for themself.
	RoleFisher Role = "fisher"
	// RoleResearcher records catches on behalf of a selected fisher.
	RoleResearcher Role = "researcher"
)

// ParseRole maps a stored role string onto a Role. Matching is case-insensitive.
func ParseRole(s string) (Role, bool) {
	switch Role(strings.ToLower(strings.TrimSpace(s))) {
	case RoleFisher:
		return RoleFisher, true
	case RoleResearcher:
		return RoleResearcher, true
	default:
		return "", false
	}
}

// UnmarshalJSON accepts any casing. Unknown or missing roles decode as RoleFisher,
// which only ever grants access to the identity's own records.
func (r *Role) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		*r = RoleFisher
		return nil
	}
	if parsed, ok := ParseRole(s); ok {
		*r = parsed
		return nil
	}
	*r = RoleFisher
	return nil
}

// FisherProfile carries optional fisher-specific profile details.
type FisherProfile struct {
	Nickname string `json:"nickname,omitempty"`
}

// Identity is an authenticated user as stored in the users collection.
type Identity struct {
	ID            string         `json:"id"`
	Name          string         `json:"name"`
	Phone         string         `json:"phone"`
	Role          Role           `json:"role"`
	Village       string         `json:"village,omitempty"`
	District      string         `json:"district,omitempty"`
	Province      string         `json:"province,omitempty"`
	IsActive      *bool          `json:"isActive,omitempty"`
	Status        string         `json:"status,omitempty"`
	FisherProfile *FisherProfile `json:"fisherProfile,omitempty"`
	LastLoginAt   Instant        `json:"lastLoginAt,omitzero"`
	UpdatedAt     Instant        `json:"updatedAt,omitzero"`
}

// Active reports whether the account may sign in. Accounts are active unless
// explicitly disabled through isActive=false or status=inactive.
func (i Identity) Active() bool {
	if i.IsActive != nil && !*i.IsActive {
		return false
	}
	return !strings.EqualFold(i.Status, "inactive")
}

// Nickname returns the fisher profile nickname, if any.
func (i Identity) Nickname() string {
	if i.FisherProfile == nil {
		return ""
	}
	return i.FisherProfile.Nickname
}

// FisherInfo is the denormalized snapshot of the fisher a catch is attributed to.
// ID is the ownership key for every view filter.
type FisherInfo struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Phone    string `json:"phone"`
	Village  string `json:"village,omitempty"`
	District string `json:"district,omitempty"`
	Province string `json:"province,omitempty"`
}

// FisherInfoFrom snapshots an identity.
func FisherInfoFrom(id Identity) FisherInfo {
	return FisherInfo{
		ID:       id.ID,
		Name:     id.Name,
		Phone:    id.Phone,
		Village:  id.Village,
		District: id.District,
		Province: id.Province,
	}
}

// RecordedBy identifies the researcher who entered a catch for someone else.
type RecordedBy struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Phone string `json:"phone"`
	Role  Role   `json:"role"`
}

// TimeOfDay is the coarse fishing start/end time bucket.
type TimeOfDay string

// Time-of-day buckets.
const (
	Morning TimeOfDay = "morning"
	Midday  TimeOfDay = "midday"
	Evening TimeOfDay = "evening"
)

// Location accuracy tags.
const (
	AccuracySpotDefault  = "spot_default"
	AccuracyUserAdjusted = "user_adjusted"
	AccuracyRandomized   = "randomized_100_500m"
)

// Location is where a catch happened. Latitude/Longitude are the published
// coordinates; the Original* fields hold the unperturbed point.
type Location struct {
	SpotName          string   `json:"spotName"`
	Latitude          float64  `json:"latitude"`
	Longitude         float64  `json:"longitude"`
	OriginalLatitude  *float64 `json:"originalLatitude,omitempty"`
	OriginalLongitude *float64 `json:"originalLongitude,omitempty"`
	Accuracy          string   `json:"accuracy,omitempty"`
}

// FishingGear names the gear used and its free-form details.
type FishingGear struct {
	Name    string         `json:"name,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}

// IsZero reports whether no gear was chosen.
func (g FishingGear) IsZero() bool { return g.Name == "" && len(g.Details) == 0 }

// UnmarshalJSON tolerates the legacy empty-array form and arrays of gear,
// keeping the first entry.
func (g *FishingGear) UnmarshalJSON(b []byte) error {
	type plain FishingGear
	trimmed := bytes.TrimSpace(b)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var list []plain
		if err := json.Unmarshal(trimmed, &list); err != nil {
			*g = FishingGear{}
			return nil
		}
		if len(list) == 0 {
			*g = FishingGear{}
			return nil
		}
		*g = FishingGear(list[0])
		return nil
	}
	if bytes.Equal(trimmed, []byte("null")) {
		*g = FishingGear{}
		return nil
	}
	var p plain
	if err := json.Unmarshal(trimmed, &p); err != nil {
		return err
	}
	*g = FishingGear(p)
	return nil
}

// StringList decodes either a single string or an array of strings.
type StringList []string

// UnmarshalJSON implements json.Unmarshaler.
func (l *StringList) UnmarshalJSON(b []byte) error {
	trimmed := bytes.TrimSpace(b)
	if bytes.Equal(trimmed, []byte("null")) {
		*l = nil
		return nil
	}
	if len(trimmed) > 0 && trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return err
		}
		if s == "" {
			*l = nil
			return nil
		}
		*l = StringList{s}
		return nil
	}
	var out []string
	if err := json.Unmarshal(trimmed, &out); err != nil {
		return err
	}
	*l = out
	return nil
}

// Usage splits a day's catch by what happened to it.
type Usage struct {
	Sold      Numeric `json:"sold,omitempty"`
	Consumed  Numeric `json:"consumed,omitempty"`
	Processed Numeric `json:"processed,omitempty"`
}

// FishEntry is one species line item within a catch.
type FishEntry struct {
	ID        FlexID  `json:"id"`
	Name      string  `json:"name"`
	Count     Numeric `json:"count"`
	Weight    Numeric `json:"weight"`
	MinLength Numeric `json:"minLength,omitempty"`
	MaxLength Numeric `json:"maxLength,omitempty"`
	Price     Numeric `json:"price,omitempty"`
	Photo     string  `json:"photo,omitempty"`
}

// HasLocalPhoto reports whether Photo still points at a device file rather
// than an uploaded object.
func (f FishEntry) HasLocalPhoto() bool {
	return IsLocalPhotoRef(f.Photo)
}

// IsLocalPhotoRef reports whether ref is a device-local file reference.
func IsLocalPhotoRef(ref string) bool {
	return strings.HasPrefix(ref, "file://")
}

// CatchRecord is one day's fishing activity, owned by FisherInfo.ID.
type CatchRecord struct {
	ID          string      `json:"id"`
	Date        Instant     `json:"date"`
	NoFishing   bool        `json:"noFishing"`
	WaterSource string      `json:"waterSource,omitempty"`
	WaterLevel  string      `json:"waterLevel,omitempty"`
	Weather     StringList  `json:"weather,omitempty"`
	FishingGear FishingGear `json:"fishingGear,omitzero"`
	StartTime   TimeOfDay   `json:"startTime,omitempty"`
	EndTime     TimeOfDay   `json:"endTime,omitempty"`
	TotalWeight Numeric     `json:"totalWeight,omitempty"`
	Location    *Location   `json:"location,omitempty"`
	FishList    []FishEntry `json:"fishList"`
	Usage       *Usage      `json:"usage,omitempty"`
	FisherInfo  FisherInfo  `json:"fisherInfo"`
	RecordedBy  *RecordedBy `json:"recordedBy,omitempty"`
	CreatedAt   Instant     `json:"createdAt"`
	UpdatedAt   Instant     `json:"updatedAt,omitzero"`
}

// OwnerID returns the ownership key used by view filters.
func (r CatchRecord) OwnerID() string { return r.FisherInfo.ID }

// Clone returns a deep copy safe to mutate independently.
func (r CatchRecord) Clone() CatchRecord {
	cp := r
	cp.Weather = append(StringList(nil), r.Weather...)
	cp.FishList = cloneFishList(r.FishList)
	cp.FishingGear = r.FishingGear.clone()
	if r.Location != nil {
		loc := r.Location.clone()
		cp.Location = &loc
	}
	if r.Usage != nil {
		u := *r.Usage
		cp.Usage = &u
	}
	if r.RecordedBy != nil {
		rb := *r.RecordedBy
		cp.RecordedBy = &rb
	}
	return cp
}

func (g FishingGear) clone() FishingGear {
	cp := g
	if g.Details != nil {
		cp.Details = make(map[string]any, len(g.Details))
		for k, v := range g.Details {
			cp.Details[k] = v
		}
	}
	return cp
}

func (l Location) clone() Location {
	cp := l
	if l.OriginalLatitude != nil {
		v := *l.OriginalLatitude
		cp.OriginalLatitude = &v
	}
	if l.OriginalLongitude != nil {
		v := *l.OriginalLongitude
		cp.OriginalLongitude = &v
	}
	return cp
}

func cloneFishList(in []FishEntry) []FishEntry {
	if in == nil {
		return nil
	}
	out := make([]FishEntry, len(in))
	copy(out, in)
	return out
}

// Species is a fish species reference entry.
type Species struct {
	ID             string `json:"id"`
	ThaiName       string `json:"thai_name,omitempty"`
	LocalName      string `json:"local_name,omitempty"`
	ScientificName string `json:"scientific_name,omitempty"`
	CommonNameThai string `json:"common_name_thai,omitempty"`
	ImageURL       string `json:"image_url,omitempty"`
}

// DisplayName prefers the Thai name and falls back through the other names.
func (s Species) DisplayName() string {
	for _, n := range []string{s.ThaiName, s.CommonNameThai, s.LocalName, s.ScientificName} {
		if n != "" {
			return n
		}
	}
	return s.ID
}

// FishingSpot is a named fishing location reference entry.
type FishingSpot struct {
	ID        string  `json:"id"`
	SpotName  string  `json:"spotName"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}
