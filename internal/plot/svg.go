// Package plot renders tide prediction curves as SVG, in the layout Home
// Assistant dashboards expect for Modern Tides camera entities.
package plot

import (
	"fmt"
	"io"
	"time"

	"github.com/moderntides/moderntides/internal/models"
	"github.com/moderntides/moderntides/internal/sun"
	"github.com/moderntides/moderntides/internal/tide"
)

const (
	width  = 800
	height = 400
	margin = 60

	plotWidth  = width - 2*margin
	plotHeight = height - 2*margin
)

// Palette is the color scheme for a plot.
type Palette struct {
	Background    string
	Grid          string
	Daylight      string
	TideLine      string
	TideFill      string
	FillOpacity   string
	CurrentMarker string
	CurrentText   string
	HighTide      string
	LowTide       string
	Text          string
	Title         string
	AxisText      string
}

var lightPalette = Palette{
	Background:    "white",
	Grid:          "lightgray",
	Daylight:      "lightyellow",
	TideLine:      "cornflowerblue",
	TideFill:      "lightblue",
	FillOpacity:   "0.3",
	CurrentMarker: "black",
	CurrentText:   "black",
	HighTide:      "red",
	LowTide:       "blue",
	Text:          "black",
	Title:         "black",
	AxisText:      "black",
}

var darkPalette = Palette{
	Background:    "#1e1e1e",
	Grid:          "#404040",
	Daylight:      "#3a3a2a",
	TideLine:      "#4CAF50",
	TideFill:      "#4CAF50",
	FillOpacity:   "0.2",
	CurrentMarker: "#FFF",
	CurrentText:   "#FFF",
	HighTide:      "#FF5722",
	LowTide:       "#2196F3",
	Text:          "#FFF",
	Title:         "#FFF",
	AxisText:      "#CCC",
}

// Plot is a single render request.
type Plot struct {
	StationName string
	Points      []models.TidePoint // raw predictions for the plotted window
	Now         time.Time
	Dark        bool
	Transparent bool
	SunEvents   []sun.Event // optional; enables daylight shading
}

func (p Plot) palette() Palette {
	pal := lightPalette
	if p.Dark {
		pal = darkPalette
	}
	if p.Transparent {
		pal.Background = "none"
	}
	return pal
}

// svgWriter accumulates the first write error so render code stays linear.
type svgWriter struct {
	w   io.Writer
	err error
}

func (s *svgWriter) pf(format string, args ...any) {
	if s.err != nil {
		return
	}
	_, s.err = fmt.Fprintf(s.w, format, args...)
}

// Render writes the SVG for p. A plot with no usable data renders the
// "Could not load tide data" placeholder rather than failing.
func Render(w io.Writer, p Plot) error {
	if len(p.Points) == 0 {
		return renderError(w, p)
	}

	curve := tide.SmoothCurve(p.Points)
	extremes := tide.Extremes(p.Points)

	minTime, maxTime := curve[0].Time, curve[len(curve)-1].Time
	if !maxTime.After(minTime) {
		return renderError(w, p)
	}
	minH, maxH := curve[0].Height, curve[0].Height
	for _, pt := range curve {
		if pt.Height < minH {
			minH = pt.Height
		}
		if pt.Height > maxH {
			maxH = pt.Height
		}
	}
	// Pad the height range so the curve never touches the frame.
	pad := (maxH - minH) * 0.1
	if pad == 0 {
		pad = 0.1
	}
	minH -= pad
	maxH += pad

	timeToX := func(t time.Time) float64 {
		r := float64(t.Sub(minTime)) / float64(maxTime.Sub(minTime))
		return margin + r*plotWidth
	}
	heightToY := func(h float64) float64 {
		r := (h - minH) / (maxH - minH)
		return height - margin - r*plotHeight
	}

	pal := p.palette()
	s := &svgWriter{w: w}

	s.pf(`<svg width="%d" height="%d" xmlns="http://www.w3.org/2000/svg">`+"\n", width, height)
	s.pf(`<rect width="%d" height="%d" fill="%s"/>`+"\n", width, height, pal.Background)

	// Daylight bands behind everything else.
	for _, span := range sun.DaylightSpans(p.SunEvents) {
		rise, set := span[0], span[1]
		if set.Before(minTime) || rise.After(maxTime) {
			continue
		}
		if rise.Before(minTime) {
			rise = minTime
		}
		if set.After(maxTime) {
			set = maxTime
		}
		x1, x2 := timeToX(rise), timeToX(set)
		s.pf(`<rect x="%.1f" y="%d" width="%.1f" height="%d" fill="%s" fill-opacity="0.5"/>`+"\n",
			x1, margin, x2-x1, plotHeight, pal.Daylight)
	}

	renderGrid(s, pal.Grid)

	// Tide curve with filled area underneath.
	path := make([]string, 0, len(curve))
	for _, pt := range curve {
		path = append(path, fmt.Sprintf("%.1f,%.1f", timeToX(pt.Time), heightToY(pt.Height)))
	}
	bottomY := heightToY(minH)
	s.pf(`<path d="M %s`, path[0])
	for _, seg := range path[1:] {
		s.pf(" L %s", seg)
	}
	s.pf(` L %.1f,%.1f L %.1f,%.1f Z" fill="%s" opacity="%s"/>`+"\n",
		timeToX(maxTime), bottomY, timeToX(minTime), bottomY, pal.TideFill, pal.FillOpacity)
	s.pf(`<path d="M %s`, path[0])
	for _, seg := range path[1:] {
		s.pf(" L %s", seg)
	}
	s.pf(`" stroke="%s" stroke-width="2" fill="none"/>`+"\n", pal.TideLine)

	// Current position marker.
	if h, ok := tide.HeightAt(p.Points, p.Now); ok {
		x, y := timeToX(p.Now), heightToY(h)
		s.pf(`<circle cx="%.1f" cy="%.1f" r="4" fill="%s"/>`+"\n", x, y, pal.CurrentMarker)
		s.pf(`<text x="%.1f" y="%.1f" text-anchor="middle" font-family="Arial" font-size="12" fill="%s">%.2fm @ %s</text>`+"\n",
			x, y-15, pal.CurrentText, h, p.Now.Format("15:04"))
	}

	// Extreme markers, label above highs and below lows.
	for _, e := range extremes {
		x, y := timeToX(e.Time), heightToY(e.Height)
		color := pal.HighTide
		labelY := y - 20
		if e.Type == models.ExtremeLow {
			color = pal.LowTide
			labelY = y + 25
		}
		s.pf(`<circle cx="%.1f" cy="%.1f" r="4" fill="%s"/>`+"\n", x, y, color)

		label := fmt.Sprintf("%.2fm @ %s", e.Height, e.Time.Format("15:04"))
		if p.Dark {
			s.pf(`<text x="%.1f" y="%.1f" text-anchor="middle" font-family="Arial" font-size="12" fill="%s" stroke="%s" stroke-width="1" paint-order="stroke">%s</text>`+"\n",
				x, labelY, pal.Text, color, label)
		} else {
			s.pf(`<text x="%.1f" y="%.1f" text-anchor="middle" font-family="Arial" font-size="12" fill="white" stroke="%s" stroke-width="3" paint-order="stroke">%s</text>`+"\n",
				x, labelY, color, label)
		}
	}

	renderAxes(s, pal.AxisText, minTime, maxTime, minH, maxH)

	s.pf(`<text x="%d" y="25" text-anchor="middle" font-family="Arial" font-size="16" font-weight="bold" fill="%s">Tide Prediction - %s</text>`+"\n",
		width/2, pal.Title, p.StationName)
	s.pf(`</svg>` + "\n")

	return s.err
}

func renderGrid(s *svgWriter, color string) {
	for i := 0; i < 5; i++ {
		x := float64(margin) + float64(i)*plotWidth/4
		s.pf(`<line x1="%.1f" y1="%d" x2="%.1f" y2="%d" stroke="%s" stroke-width="0.5"/>`+"\n",
			x, margin, x, height-margin, color)
	}
	for i := 0; i < 5; i++ {
		y := float64(margin) + float64(i)*plotHeight/4
		s.pf(`<line x1="%d" y1="%.1f" x2="%d" y2="%.1f" stroke="%s" stroke-width="0.5"/>`+"\n",
			margin, y, width-margin, y, color)
	}
}

func renderAxes(s *svgWriter, color string, minTime, maxTime time.Time, minH, maxH float64) {
	span := maxTime.Sub(minTime)
	for i := 0; i < 5; i++ {
		x := float64(margin) + float64(i)*plotWidth/4
		tick := minTime.Add(time.Duration(float64(span) * float64(i) / 4))
		s.pf(`<text x="%.1f" y="%d" text-anchor="middle" font-family="Arial" font-size="10" fill="%s">%s</text>`+"\n",
			x, height-margin+15, color, tick.Format("15:04"))
	}
	for i := 0; i < 5; i++ {
		y := float64(height-margin) - float64(i)*plotHeight/4
		h := minH + (maxH-minH)*float64(i)/4
		s.pf(`<text x="%d" y="%.1f" text-anchor="end" font-family="Arial" font-size="10" fill="%s">%.1fm</text>`+"\n",
			margin-10, y+3, color, h)
	}
	s.pf(`<text x="%d" y="%d" text-anchor="middle" font-family="Arial" font-size="12" fill="%s">Time</text>`+"\n",
		width/2, height-10, color)
	s.pf(`<text x="15" y="%d" text-anchor="middle" font-family="Arial" font-size="12" fill="%s" transform="rotate(-90, 15, %d)">Tide Height (m)</text>`+"\n",
		height/2, color, height/2)
}

func renderError(w io.Writer, p Plot) error {
	pal := p.palette()
	textColor := "red"
	if p.Dark {
		textColor = "#FF5722"
	}
	s := &svgWriter{w: w}
	s.pf(`<svg width="%d" height="%d" xmlns="http://www.w3.org/2000/svg">`+"\n", width, height)
	s.pf(`<rect width="%d" height="%d" fill="%s"/>`+"\n", width, height, pal.Background)
	s.pf(`<text x="%d" y="%d" text-anchor="middle" font-family="Arial" font-size="18" fill="%s">Could not load tide data</text>`+"\n",
		width/2, height/2, textColor)
	s.pf(`</svg>` + "\n")
	return s.err
}
