package api

import (
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/moderntides/moderntides/internal/models"
	"github.com/moderntides/moderntides/internal/plot"
	"github.com/moderntides/moderntides/internal/store"
)

func setupTestServer(t *testing.T) (*Server, *store.Store, *plot.Manager) {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	loc, err := time.LoadLocation("Europe/Madrid")
	if err != nil {
		t.Fatalf("load timezone: %v", err)
	}
	st := store.New(db, loc)
	if err := st.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	plots, err := plot.NewManager(t.TempDir(), false)
	if err != nil {
		t.Fatalf("plot manager: %v", err)
	}

	return NewServer(st, plots, "0", loc), st, plots
}

func seedStation(t *testing.T, st *store.Store) models.Station {
	t.Helper()
	station := models.Station{
		StationID: "57",
		Name:      "Santander",
		Slug:      "santander",
		Latitude:  43.46,
		Longitude: -3.80,
		IsPrimary: true,
		Active:    true,
	}
	if err := st.UpsertStation(station); err != nil {
		t.Fatalf("UpsertStation: %v", err)
	}
	return station
}

func TestLocalFile_ServesPlot(t *testing.T) {
	srv, _, plots := setupTestServer(t)

	name := models.PlotFilename("santander", models.PlotVariant{Days: 3, Dark: true})
	content := `<svg xmlns="http://www.w3.org/2000/svg"></svg>`
	if err := os.WriteFile(filepath.Join(plots.Dir(), name), []byte(content), 0o644); err != nil {
		t.Fatalf("write plot: %v", err)
	}

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/local/"+name, nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "image/svg+xml" {
		t.Errorf("Content-Type = %q, want image/svg+xml", ct)
	}
	if rec.Body.String() != content {
		t.Errorf("body = %q, want file content", rec.Body.String())
	}
}

func TestLocalFile_RejectsUnknownNames(t *testing.T) {
	srv, _, _ := setupTestServer(t)

	bad := []string{
		"/local/notes.txt",
		"/local/moderntides_santander_plot_1d.svg",  // one day carries no suffix
		"/local/moderntides_santander_plot_8d.svg",  // beyond the horizon
		"/local/moderntides_..%2Fsecret_plot.svg",   // traversal
		"/local/moderntides_Santander_plot.svg",     // not a slug
		"/local/moderntides__plot.svg",              // empty station
	}
	for _, path := range bad {
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusNotFound {
			t.Errorf("GET %s = %d, want 404", path, rec.Code)
		}
	}
}

func TestLocalFile_MissingFileIs404(t *testing.T) {
	srv, _, _ := setupTestServer(t)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/local/moderntides_santander_plot.svg", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404 for valid name with no file", rec.Code)
	}
}

func TestStations_ListsEntities(t *testing.T) {
	srv, st, _ := setupTestServer(t)
	seedStation(t, st)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/stations", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var infos []StationInfo
	if err := json.Unmarshal(rec.Body.Bytes(), &infos); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(infos) != 1 {
		t.Fatalf("len(infos) = %d, want 1", len(infos))
	}
	if len(infos[0].Entities) != 14 {
		t.Errorf("entities = %d, want 14", len(infos[0].Entities))
	}

	byID := make(map[string]PlotEntry)
	for _, e := range infos[0].Entities {
		byID[e.EntityID] = e
	}
	if e, ok := byID["santander_tide_plot"]; !ok || e.URL != "/local/moderntides_santander_plot.svg" {
		t.Errorf("base entity = %+v, want /local/moderntides_santander_plot.svg", e)
	}
	if e, ok := byID["santander_tide_plot_7d_dark"]; !ok || e.URL != "/local/moderntides_santander_plot_7d_dark.svg" {
		t.Errorf("7d dark entity = %+v", e)
	}
}

func TestTideState(t *testing.T) {
	srv, st, _ := setupTestServer(t)
	station := seedStation(t, st)

	loc, _ := time.LoadLocation("Europe/Madrid")
	now := time.Now().In(loc)
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)

	var points []models.TidePoint
	for h := 0; h < 24; h++ {
		points = append(points, models.TidePoint{
			Time:   dayStart.Add(time.Duration(h) * time.Hour),
			Height: 2.0 + float64(h%12)*0.2,
		})
	}
	if _, err := st.UpsertPredictions(station.StationID, points, time.Now()); err != nil {
		t.Fatalf("UpsertPredictions: %v", err)
	}

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/tide/santander", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}

	var state models.TideState
	if err := json.Unmarshal(rec.Body.Bytes(), &state); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if state.StationID != "57" {
		t.Errorf("StationID = %q, want 57", state.StationID)
	}

	// Station ID also resolves.
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/tide/57", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("lookup by station id = %d, want 200", rec.Code)
	}

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/tide/nowhere", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown station = %d, want 404", rec.Code)
	}
}

func TestPredictions_DaysValidation(t *testing.T) {
	srv, st, _ := setupTestServer(t)
	seedStation(t, st)

	for _, bad := range []string{"0", "8", "x", "-1"} {
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/tide/santander/predictions?days="+bad, nil))
		if rec.Code != http.StatusBadRequest {
			t.Errorf("days=%s status = %d, want 400", bad, rec.Code)
		}
	}

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/tide/santander/predictions?days=3", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("days=3 status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"days":3`) {
		t.Errorf("body missing days field: %s", rec.Body.String())
	}
}

func TestHealth(t *testing.T) {
	srv, st, _ := setupTestServer(t)
	station := seedStation(t, st)

	// No fetches yet: degraded.
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503 before first fetch", rec.Code)
	}
	var health HealthStatus
	if err := json.Unmarshal(rec.Body.Bytes(), &health); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if health.Status != "degraded" {
		t.Errorf("Status = %q, want degraded", health.Status)
	}

	// A fresh fetch flips it to ok.
	points := []models.TidePoint{{Time: time.Now(), Height: 2.5}}
	if _, err := st.UpsertPredictions(station.StationID, points, time.Now()); err != nil {
		t.Fatalf("UpsertPredictions: %v", err)
	}

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 after fetch: %s", rec.Code, rec.Body.String())
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &health); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if health.Status != "ok" {
		t.Errorf("Status = %q, want ok", health.Status)
	}
	if len(health.Stations) != 1 || health.Stations[0].Stale {
		t.Errorf("stations = %+v, want one fresh station", health.Stations)
	}
}
