package plot

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/moderntides/moderntides/internal/metrics"
	"github.com/moderntides/moderntides/internal/models"
	"github.com/moderntides/moderntides/internal/sun"
)

// Manager writes the full set of plot files for stations into the www
// directory Home Assistant serves at /local.
type Manager struct {
	dir         string
	transparent bool
}

// NewManager creates a plot manager writing into dir, creating it if needed.
func NewManager(dir string, transparent bool) (*Manager, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create www dir: %w", err)
	}
	return &Manager{dir: dir, transparent: transparent}, nil
}

// Dir returns the directory plots are written into.
func (m *Manager) Dir() string {
	return m.dir
}

// Path returns the on-disk path for one plot variant.
func (m *Manager) Path(slug string, v models.PlotVariant) string {
	return filepath.Join(m.dir, models.PlotFilename(slug, v))
}

// RenderStation renders all 14 plot variants for a station from its
// predictions. Each variant covers start-of-today through N days. Returns
// the number of files written; an error on one variant does not stop the
// others.
func (m *Manager) RenderStation(st models.Station, points []models.TidePoint, now time.Time) (int, error) {
	year, month, day := now.Date()
	dayStart := time.Date(year, month, day, 0, 0, 0, 0, now.Location())

	var sunEvents []sun.Event
	if st.HasCoordinates() {
		sunEvents = sun.Events(st.Latitude, st.Longitude, dayStart, 7*24*time.Hour)
	}

	written := 0
	var firstErr error
	for _, v := range models.PlotVariants() {
		windowEnd := dayStart.AddDate(0, 0, v.Days)
		var window []models.TidePoint
		for _, pt := range points {
			if pt.Time.Before(dayStart) || !pt.Time.Before(windowEnd) {
				continue
			}
			window = append(window, pt)
		}

		p := Plot{
			StationName: st.Name,
			Points:      window,
			Now:         now,
			Dark:        v.Dark,
			Transparent: m.transparent,
			SunEvents:   sunEvents,
		}
		if err := m.writeVariant(st.Slug, v, p); err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("render %s: %w", models.PlotFilename(st.Slug, v), err)
			}
			continue
		}
		metrics.PlotsRendered.WithLabelValues(st.Slug, variantLabel(v)).Inc()
		written++
	}
	return written, firstErr
}

// writeVariant renders to a temp file and renames so readers never see a
// partially written SVG.
func (m *Manager) writeVariant(slug string, v models.PlotVariant, p Plot) error {
	tmp, err := os.CreateTemp(m.dir, ".plot-*.svg")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if err := Render(tmp, p); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), m.Path(slug, v))
}

func variantLabel(v models.PlotVariant) string {
	label := fmt.Sprintf("%dd", v.Days)
	if v.Dark {
		label += "_dark"
	}
	return label
}
