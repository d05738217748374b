package api

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/moderntides/moderntides/internal/models"
	"github.com/moderntides/moderntides/internal/plot"
	"github.com/moderntides/moderntides/internal/store"
	"github.com/moderntides/moderntides/internal/tide"
)

// staleThreshold marks a station degraded when its newest fetch is older
// than a daily refresh plus slack.
const staleThreshold = 26 * time.Hour

type Server struct {
	store *store.Store
	plots *plot.Manager
	port  string
	loc   *time.Location
}

func NewServer(st *store.Store, plots *plot.Manager, port string, loc *time.Location) *Server {
	return &Server{store: st, plots: plots, port: port, loc: loc}
}

func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/local/{file}", s.handleLocalFile).Methods(http.MethodGet)
	r.HandleFunc("/api/stations", s.handleStations).Methods(http.MethodGet)
	r.HandleFunc("/api/tide/{station}", s.handleTideState).Methods(http.MethodGet)
	r.HandleFunc("/api/tide/{station}/predictions", s.handlePredictions).Methods(http.MethodGet)
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	return r
}

func (s *Server) Run(ctx context.Context) error {
	server := &http.Server{
		Addr:    ":" + s.port,
		Handler: s.Handler(),
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

// handleLocalFile serves rendered plot SVGs at the same paths Home Assistant
// serves its www directory, so dashboards can use one URL shape for both.
func (s *Server) handleLocalFile(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["file"]
	if !validPlotFilename(name) {
		http.NotFound(w, r)
		return
	}

	path := filepath.Join(s.plots.Dir(), name)
	f, err := os.Open(path)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", "image/svg+xml")
	w.Header().Set("Cache-Control", "no-cache")
	if _, err := io.Copy(w, f); err != nil {
		log.Printf("api: serve %s: %v", name, err)
	}
}

// validPlotFilename accepts only names this service itself writes:
// moderntides_{station}_plot[_{N}d][_dark].svg. Anything else, including
// path traversal attempts, is rejected.
func validPlotFilename(name string) bool {
	if !strings.HasPrefix(name, "moderntides_") {
		return false
	}
	for _, v := range models.PlotVariants() {
		// The filename tail for this variant: _plot[_{N}d][_dark].svg.
		tail := strings.TrimPrefix(models.PlotFilename("", v), "moderntides_")
		slug := strings.TrimSuffix(strings.TrimPrefix(name, "moderntides_"), tail)
		if slug == "" || !strings.HasSuffix(name, tail) {
			continue
		}
		if slug == models.Slugify(slug) && models.PlotFilename(slug, v) == name {
			return true
		}
	}
	return false
}

// StationInfo is the /api/stations representation of one configured station,
// including the derived camera entity IDs and plot URLs.
type StationInfo struct {
	StationID string      `json:"station_id"`
	Name      string      `json:"name"`
	Slug      string      `json:"slug"`
	Latitude  float64     `json:"latitude,omitempty"`
	Longitude float64     `json:"longitude,omitempty"`
	IsPrimary bool        `json:"is_primary"`
	Entities  []PlotEntry `json:"entities"`
}

type PlotEntry struct {
	EntityID string `json:"entity_id"`
	Days     int    `json:"days"`
	Dark     bool   `json:"dark"`
	URL      string `json:"url"`
}

func (s *Server) handleStations(w http.ResponseWriter, r *http.Request) {
	stations, err := s.store.GetActiveStations()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	infos := make([]StationInfo, 0, len(stations))
	for _, st := range stations {
		info := StationInfo{
			StationID: st.StationID,
			Name:      st.Name,
			Slug:      st.Slug,
			Latitude:  st.Latitude,
			Longitude: st.Longitude,
			IsPrimary: st.IsPrimary,
		}
		for _, v := range models.PlotVariants() {
			info.Entities = append(info.Entities, PlotEntry{
				EntityID: models.EntityID(st.Slug, v),
				Days:     v.Days,
				Dark:     v.Dark,
				URL:      models.PlotURL(st.Slug, v),
			})
		}
		infos = append(infos, info)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(infos)
}

// stationFromRequest resolves the {station} path variable by slug first,
// falling back to the raw IHM station ID.
func (s *Server) stationFromRequest(r *http.Request) (*models.Station, error) {
	key := mux.Vars(r)["station"]
	st, err := s.store.GetStationBySlug(key)
	if err != nil || st != nil {
		return st, err
	}
	stations, err := s.store.GetActiveStations()
	if err != nil {
		return nil, err
	}
	for i := range stations {
		if stations[i].StationID == key {
			return &stations[i], nil
		}
	}
	return nil, nil
}

func (s *Server) handleTideState(w http.ResponseWriter, r *http.Request) {
	st, err := s.stationFromRequest(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if st == nil {
		http.NotFound(w, r)
		return
	}

	now := time.Now().In(s.loc)
	year, month, day := now.Date()
	dayStart := time.Date(year, month, day, 0, 0, 0, 0, s.loc)

	points, err := s.store.GetPredictions(st.StationID, dayStart, dayStart.AddDate(0, 0, 7))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	state := tide.StateAt(st.StationID, points, now, dayStart, dayStart.AddDate(0, 0, 1))
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(state)
}

func (s *Server) handlePredictions(w http.ResponseWriter, r *http.Request) {
	st, err := s.stationFromRequest(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if st == nil {
		http.NotFound(w, r)
		return
	}

	days := 1
	if v := r.URL.Query().Get("days"); v != "" {
		days, err = strconv.Atoi(v)
		if err != nil || days < 1 || days > 7 {
			http.Error(w, "days must be 1..7", http.StatusBadRequest)
			return
		}
	}

	now := time.Now().In(s.loc)
	year, month, day := now.Date()
	dayStart := time.Date(year, month, day, 0, 0, 0, 0, s.loc)

	points, err := s.store.GetPredictions(st.StationID, dayStart, dayStart.AddDate(0, 0, days))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	type prediction struct {
		Time   time.Time `json:"time"`
		Height float64   `json:"height"`
	}
	out := struct {
		StationID   string       `json:"station_id"`
		Days        int          `json:"days"`
		Predictions []prediction `json:"predictions"`
	}{StationID: st.StationID, Days: days, Predictions: make([]prediction, 0, len(points))}
	for _, pt := range points {
		out.Predictions = append(out.Predictions, prediction{Time: pt.Time, Height: pt.Height})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(out)
}

type HealthStatus struct {
	Status   string          `json:"status"`
	Stations []StationHealth `json:"stations"`
	Errors   []string        `json:"errors,omitempty"`
}

type StationHealth struct {
	StationID string    `json:"station_id"`
	LastFetch time.Time `json:"last_fetch"`
	AgeHours  int       `json:"age_hours"`
	Stale     bool      `json:"stale"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	stations, err := s.store.GetActiveStations()
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(map[string]string{"status": "error", "error": err.Error()})
		return
	}

	health := HealthStatus{
		Status:   "ok",
		Stations: make([]StationHealth, 0, len(stations)),
	}

	now := time.Now()
	for _, st := range stations {
		fetched, err := s.store.LatestFetch(st.StationID)
		if err != nil {
			health.Errors = append(health.Errors, st.StationID+": "+err.Error())
			continue
		}

		sh := StationHealth{StationID: st.StationID}
		if !fetched.IsZero() {
			sh.LastFetch = fetched
			sh.AgeHours = int(now.Sub(fetched).Hours())
			sh.Stale = now.Sub(fetched) > staleThreshold
		} else {
			sh.Stale = true
			sh.AgeHours = -1
		}

		if sh.Stale {
			health.Status = "degraded"
		}
		health.Stations = append(health.Stations, sh)
	}

	if len(health.Errors) > 0 {
		health.Status = "error"
	}

	w.Header().Set("Content-Type", "application/json")
	if health.Status != "ok" {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	if err := json.NewEncoder(w).Encode(health); err != nil {
		log.Printf("api: write health response: %v", err)
	}
}
