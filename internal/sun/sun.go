// Package sun computes sunrise/sunset events for plot day shading.
package sun

import (
	"math"
	"time"

	"github.com/keep94/sunrise"
)

// Event is a single sunrise or sunset.
type Event struct {
	Time time.Time
	Rise bool
}

// Events returns ordered sunrise/sunset pairs covering start through
// start+duration at the given position. The first event is always a
// sunrise.
func Events(lat, lon float64, start time.Time, duration time.Duration) []Event {
	var s sunrise.Sunrise
	s.Around(lat, lon, start)

	// The sunrise package can land on the previous day depending on the
	// time of day it is seeded with. One step forward is all a valid
	// position ever needs; if it still does not line up (polar day or
	// night), skip shading entirely.
	aligned := false
	for i := 0; i < 2; i++ {
		if sameDay(start, s.Sunrise()) {
			aligned = true
			break
		}
		s.AddDays(1)
	}
	if !aligned {
		return nil
	}

	numDays := int(math.Ceil(duration.Hours() / 24))
	if numDays < 1 {
		numDays = 1
	}
	events := make([]Event, 0, numDays*2)
	for i := 0; i < numDays; i++ {
		events = append(events,
			Event{Time: s.Sunrise(), Rise: true},
			Event{Time: s.Sunset(), Rise: false},
		)
		s.AddDays(1)
	}
	return events
}

// DaylightSpans pairs the events into (sunrise, sunset) intervals.
func DaylightSpans(events []Event) [][2]time.Time {
	var spans [][2]time.Time
	for i := 0; i+1 < len(events); i++ {
		if events[i].Rise && !events[i+1].Rise {
			spans = append(spans, [2]time.Time{events[i].Time, events[i+1].Time})
		}
	}
	return spans
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
