package models

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Station is a tide station configured by the user. StationID is the IHM
// station identifier; Slug is the normalized name used in entity IDs and
// plot filenames.
type Station struct {
	StationID string
	Name      string
	Slug      string
	Latitude  float64
	Longitude float64
	IsPrimary bool
	Active    bool
}

// HasCoordinates reports whether the station carries a usable position.
// Stations without coordinates skip sun-event shading on plots.
func (s Station) HasCoordinates() bool {
	return s.Latitude != 0 || s.Longitude != 0
}

// TidePoint is a single predicted tide height.
type TidePoint struct {
	Time   time.Time
	Height float64 // metres
}

type ExtremeType string

const (
	ExtremeHigh ExtremeType = "high"
	ExtremeLow  ExtremeType = "low"
)

// TideExtreme is a local high or low water in a prediction series.
type TideExtreme struct {
	Time   time.Time
	Height float64
	Type   ExtremeType
}

type Trend string

const (
	TrendRising  Trend = "rising"
	TrendFalling Trend = "falling"
	TrendUnknown Trend = "unknown"
)

// TideState is the derived state for a station at a moment in time.
type TideState struct {
	StationID     string       `json:"station_id"`
	Time          time.Time    `json:"time"`
	Height        float64      `json:"height"`
	HeightKnown   bool         `json:"height_known"`
	Trend         Trend        `json:"trend"`
	NextHigh      *TideExtreme `json:"next_high,omitempty"`
	NextLow       *TideExtreme `json:"next_low,omitempty"`
	TodayExtremes []TideExtreme `json:"today_extremes,omitempty"`
}

// PlotVariant identifies one of the 14 plot files per station: a horizon of
// 1..7 days crossed with light or dark mode.
type PlotVariant struct {
	Days int
	Dark bool
}

// PlotVariants lists every variant in the order they are documented:
// 1d..7d light, then 1d..7d dark.
func PlotVariants() []PlotVariant {
	variants := make([]PlotVariant, 0, 14)
	for _, dark := range []bool{false, true} {
		for days := 1; days <= 7; days++ {
			variants = append(variants, PlotVariant{Days: days, Dark: dark})
		}
	}
	return variants
}

func (v PlotVariant) suffix() string {
	var b strings.Builder
	if v.Days > 1 {
		fmt.Fprintf(&b, "_%dd", v.Days)
	}
	if v.Dark {
		b.WriteString("_dark")
	}
	return b.String()
}

// EntityID derives the camera entity identifier for a station slug and
// variant: {station}_tide_plot[_{N}d][_dark], N in 2..7, absent N meaning
// one day.
func EntityID(slug string, v PlotVariant) string {
	return slug + "_tide_plot" + v.suffix()
}

// PlotFilename derives the SVG filename written under the www directory:
// moderntides_{station}_plot[_{N}d][_dark].svg.
func PlotFilename(slug string, v PlotVariant) string {
	return "moderntides_" + slug + "_plot" + v.suffix() + ".svg"
}

// PlotURL is the path the file is served at by Home Assistant and by this
// service: /local/moderntides_{station}_plot[_{N}d][_dark].svg.
func PlotURL(slug string, v PlotVariant) string {
	return "/local/" + PlotFilename(slug, v)
}

var entityIDRe = regexp.MustCompile(`^([a-z0-9_]+)_tide_plot(?:_([2-7])d)?(_dark)?$`)

// ParseEntityID is the inverse of EntityID. It rejects identifiers that do
// not follow the documented convention, including day counts outside 2..7.
func ParseEntityID(id string) (slug string, v PlotVariant, err error) {
	m := entityIDRe.FindStringSubmatch(id)
	if m == nil {
		return "", PlotVariant{}, fmt.Errorf("entity id %q does not match {station}_tide_plot[_{N}d][_dark]", id)
	}
	v.Days = 1
	if m[2] != "" {
		v.Days, _ = strconv.Atoi(m[2])
	}
	v.Dark = m[3] != ""
	return m[1], v, nil
}

var slugStripRe = regexp.MustCompile(`[^a-z0-9_]+`)

// Slugify normalizes a station name for use in entity IDs and filenames:
// lowercase, spaces and punctuation collapsed to underscores.
func Slugify(name string) string {
	s := strings.ToLower(strings.TrimSpace(name))
	s = strings.ReplaceAll(s, " ", "_")
	s = slugStripRe.ReplaceAllString(s, "_")
	s = strings.Trim(s, "_")
	for strings.Contains(s, "__") {
		s = strings.ReplaceAll(s, "__", "_")
	}
	return s
}
