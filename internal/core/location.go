package core

import (
	"errors"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"

	"fishlog/pkg/domain"
)

// Privacy offset bounds in meters.
const (
	minPrivacyOffset = 100.0
	maxPrivacyOffset = 500.0
)

// ErrNoSpotSelected is returned when a location step needs a fishing spot first.
var ErrNoSpotSelected = errors.New("no fishing spot selected")

// SelectSpot sets the draft location to spot and clears any adjusted marker.
func (r *Records) SelectSpot(spot domain.FishingSpot) domain.Draft {
	return r.mutateDraft(func(d domain.Draft) domain.Draft {
		cp := d.Clone()
		s := spot
		cp.Spot = &s
		cp.Adjusted = nil
		cp.Location = &domain.Location{
			SpotName:  spot.SpotName,
			Latitude:  spot.Latitude,
			Longitude: spot.Longitude,
			Accuracy:  domain.AccuracySpotDefault,
		}
		return cp
	})
}

// AdjustLocation records a user-moved marker for the selected spot.
func (r *Records) AdjustLocation(lat, lng float64) (domain.Draft, error) {
	var err error
	d := r.mutateDraft(func(d domain.Draft) domain.Draft {
		if d.Spot == nil {
			err = ErrNoSpotSelected
			return d
		}
		cp := d.Clone()
		cp.Adjusted = &domain.AdjustedPoint{Latitude: lat, Longitude: lng}
		origLat, origLng := d.Spot.Latitude, d.Spot.Longitude
		cp.Location = &domain.Location{
			SpotName:          d.Spot.SpotName,
			Latitude:          lat,
			Longitude:         lng,
			OriginalLatitude:  &origLat,
			OriginalLongitude: &origLng,
			Accuracy:          domain.AccuracyUserAdjusted,
		}
		return cp
	})
	return d, err
}

// FinalizeLocation publishes a point 100-500 m from the adjusted marker (or
// the spot) at a random bearing. The unperturbed point is kept as original.
func (r *Records) FinalizeLocation() (domain.Location, error) {
	var (
		loc domain.Location
		err error
	)
	r.mutateDraft(func(d domain.Draft) domain.Draft {
		if d.Spot == nil {
			err = ErrNoSpotSelected
			return d
		}
		base := orb.Point{d.Spot.Longitude, d.Spot.Latitude}
		if d.Adjusted != nil {
			base = orb.Point{d.Adjusted.Longitude, d.Adjusted.Latitude}
		}
		distance := minPrivacyOffset + r.opts.rand.Float64()*(maxPrivacyOffset-minPrivacyOffset)
		bearing := r.opts.rand.Float64() * 360
		moved := geo.PointAtBearingAndDistance(base, bearing, distance)

		origLat, origLng := base.Lat(), base.Lon()
		loc = domain.Location{
			SpotName:          d.Spot.SpotName,
			Latitude:          moved.Lat(),
			Longitude:         moved.Lon(),
			OriginalLatitude:  &origLat,
			OriginalLongitude: &origLng,
			Accuracy:          domain.AccuracyRandomized,
		}
		cp := d.Clone()
		l := loc
		draftLat, draftLng := origLat, origLng
		l.OriginalLatitude, l.OriginalLongitude = &draftLat, &draftLng
		cp.Location = &l
		return cp
	})
	return loc, err
}

// OffsetMeters returns the distance between the published and original point
// of loc, or 0 when no original point is recorded.
func OffsetMeters(loc domain.Location) float64 {
	if loc.OriginalLatitude == nil || loc.OriginalLongitude == nil {
		return 0
	}
	return geo.Distance(
		orb.Point{*loc.OriginalLongitude, *loc.OriginalLatitude},
		orb.Point{loc.Longitude, loc.Latitude},
	)
}
