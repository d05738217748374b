// Package tide derives curves, extremes and instantaneous state from
// discrete tide predictions.
package tide

import (
	"sort"
	"time"

	"github.com/moderntides/moderntides/internal/models"
)

// samplesPerSegment is the number of interpolated points inserted between
// each pair of predictions when smoothing.
const samplesPerSegment = 5

// SmoothCurve expands predictions into a smooth curve by inserting
// interpolated samples between neighbours. Height follows a smoothstep ramp
// (3r²-2r³), which approximates the sinusoidal shape of a real tide between
// a high and a low; time advances linearly. Input order does not matter.
func SmoothCurve(points []models.TidePoint) []models.TidePoint {
	if len(points) < 2 {
		return points
	}

	sorted := make([]models.TidePoint, len(points))
	copy(sorted, points)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Time.Before(sorted[j].Time) })

	smooth := make([]models.TidePoint, 0, len(sorted)*(samplesPerSegment+1))
	for i := 0; i < len(sorted)-1; i++ {
		p1, p2 := sorted[i], sorted[i+1]
		smooth = append(smooth, p1)

		span := p2.Time.Sub(p1.Time)
		dh := p2.Height - p1.Height
		for j := 1; j <= samplesPerSegment; j++ {
			r := float64(j) / float64(samplesPerSegment+1)
			eased := 3*r*r - 2*r*r*r
			smooth = append(smooth, models.TidePoint{
				Time:   p1.Time.Add(time.Duration(float64(span) * r)),
				Height: p1.Height + dh*eased,
			})
		}
	}
	return append(smooth, sorted[len(sorted)-1])
}

// HeightAt linearly interpolates the tide height at t. The second return is
// false when t falls outside the covered range or there are fewer than two
// points.
func HeightAt(points []models.TidePoint, t time.Time) (float64, bool) {
	if len(points) < 2 {
		return 0, false
	}

	for i := 0; i < len(points)-1; i++ {
		p1, p2 := points[i], points[i+1]
		if t.Before(p1.Time) || t.After(p2.Time) {
			continue
		}
		span := p2.Time.Sub(p1.Time)
		if span == 0 {
			return p1.Height, true
		}
		r := float64(t.Sub(p1.Time)) / float64(span)
		return p1.Height + (p2.Height-p1.Height)*r, true
	}
	return 0, false
}

// Extremes finds local highs and lows. Endpoints are compared against a
// clamped neighbour, so a series that opens falling starts with a high and
// one that opens rising starts with a low. A point on a plateau counts as a
// high (peak test runs first), matching how extreme labels were always
// placed on the plots.
func Extremes(points []models.TidePoint) []models.TideExtreme {
	if len(points) < 3 {
		return nil
	}

	var extremes []models.TideExtreme
	for i := range points {
		prev := points[max(i-1, 0)].Height
		curr := points[i].Height
		next := points[min(i+1, len(points)-1)].Height

		switch {
		case curr >= prev && curr >= next:
			extremes = append(extremes, models.TideExtreme{Time: points[i].Time, Height: curr, Type: models.ExtremeHigh})
		case curr <= prev && curr <= next:
			extremes = append(extremes, models.TideExtreme{Time: points[i].Time, Height: curr, Type: models.ExtremeLow})
		}
	}
	return extremes
}

// NextExtremes returns the first high and first low after now, either of
// which may be nil.
func NextExtremes(extremes []models.TideExtreme, now time.Time) (high, low *models.TideExtreme) {
	for i := range extremes {
		if !extremes[i].Time.After(now) {
			continue
		}
		switch extremes[i].Type {
		case models.ExtremeHigh:
			if high == nil {
				e := extremes[i]
				high = &e
			}
		case models.ExtremeLow:
			if low == nil {
				e := extremes[i]
				low = &e
			}
		}
		if high != nil && low != nil {
			break
		}
	}
	return high, low
}

// Trend reports whether the tide is rising or falling at now.
func Trend(points []models.TidePoint, now time.Time) models.Trend {
	if len(points) < 2 {
		return models.TrendUnknown
	}
	for i := 0; i < len(points)-1; i++ {
		p1, p2 := points[i], points[i+1]
		if now.Before(p1.Time) || now.After(p2.Time) {
			continue
		}
		switch {
		case p2.Height > p1.Height:
			return models.TrendRising
		case p2.Height < p1.Height:
			return models.TrendFalling
		default:
			return models.TrendUnknown
		}
	}
	return models.TrendUnknown
}

// StateAt assembles the full derived state for a station at now.
// todayStart/todayEnd bound the extremes reported as today's.
func StateAt(stationID string, points []models.TidePoint, now, todayStart, todayEnd time.Time) models.TideState {
	state := models.TideState{
		StationID: stationID,
		Time:      now,
		Trend:     Trend(points, now),
	}
	state.Height, state.HeightKnown = HeightAt(points, now)

	extremes := Extremes(points)
	state.NextHigh, state.NextLow = NextExtremes(extremes, now)
	for _, e := range extremes {
		if !e.Time.Before(todayStart) && e.Time.Before(todayEnd) {
			state.TodayExtremes = append(state.TodayExtremes, e)
		}
	}
	return state
}
