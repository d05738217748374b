package ingest

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/moderntides/moderntides/internal/ihm"
	"github.com/moderntides/moderntides/internal/models"
	"github.com/moderntides/moderntides/internal/plot"
	"github.com/moderntides/moderntides/internal/store"
)

// fakeIHM serves a plausible prediction set for whatever date is asked,
// refusing stations it does not know.
func fakeIHM(t *testing.T, known map[string]bool) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.URL.Query().Get("id")
		if !known[id] {
			http.Error(w, "unknown station", http.StatusInternalServerError)
			return
		}
		date := r.URL.Query().Get("date")
		day := fmt.Sprintf("%s-%s-%s", date[:4], date[4:6], date[6:])
		fmt.Fprintf(w, `{"mareas": {"prediccion": [
			{"fecha": "%[1]s", "hora": "04:10:00", "altura": "4.2"},
			{"fecha": "%[1]s", "hora": "10:20:00", "altura": "0.9"},
			{"fecha": "%[1]s", "hora": "16:30:00", "altura": "4.1"},
			{"fecha": "%[1]s", "hora": "22:40:00", "altura": "1.0"}
		]}}`, day)
	}))
}

func setupScheduler(t *testing.T, baseURL string) (*Scheduler, *store.Store, *plot.Manager) {
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

	return NewScheduler(st, ihm.NewClientWithBaseURL(baseURL, loc), plots, loc), st, plots
}

func TestRunOnce_FetchesAndRenders(t *testing.T) {
	srv := fakeIHM(t, map[string]bool{"57": true})
	defer srv.Close()

	sched, st, plots := setupScheduler(t, srv.URL)
	if err := st.UpsertStation(models.Station{
		StationID: "57", Name: "Santander", Slug: "santander", Active: true,
	}); err != nil {
		t.Fatalf("UpsertStation: %v", err)
	}

	if err := sched.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	loc, _ := time.LoadLocation("Europe/Madrid")
	now := time.Now().In(loc)
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)
	points, err := st.GetPredictions("57", dayStart, dayStart.AddDate(0, 0, 7))
	if err != nil {
		t.Fatalf("GetPredictions: %v", err)
	}
	// 7 days at 4 extremes per day.
	if len(points) != 28 {
		t.Errorf("len(points) = %d, want 28", len(points))
	}

	for _, v := range models.PlotVariants() {
		path := plots.Path("santander", v)
		data, err := os.ReadFile(path)
		if err != nil {
			t.Fatalf("read %s: %v", filepath.Base(path), err)
		}
		if !strings.Contains(string(data), "<svg") {
			t.Errorf("%s is not an SVG", filepath.Base(path))
		}
	}

	runs, err := st.GetRecentIngestErrors(10)
	if err != nil {
		t.Fatalf("GetRecentIngestErrors: %v", err)
	}
	if len(runs) != 0 {
		t.Errorf("ingest errors = %d, want 0: %+v", len(runs), runs)
	}
}

func TestRunOnce_StationFailureIsIsolated(t *testing.T) {
	srv := fakeIHM(t, map[string]bool{"57": true})
	defer srv.Close()

	sched, st, plots := setupScheduler(t, srv.URL)
	for _, station := range []models.Station{
		{StationID: "3", Name: "A Coruña", Slug: "a_coru_a", Active: true},
		{StationID: "57", Name: "Santander", Slug: "santander", Active: true},
	} {
		if err := st.UpsertStation(station); err != nil {
			t.Fatalf("UpsertStation: %v", err)
		}
	}

	err := sched.RunOnce(context.Background())
	if err == nil {
		t.Fatal("RunOnce = nil error, want error from the failing station")
	}

	// The healthy station still got its data and plots.
	loc, _ := time.LoadLocation("Europe/Madrid")
	now := time.Now().In(loc)
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)
	points, err := st.GetPredictions("57", dayStart, dayStart.AddDate(0, 0, 7))
	if err != nil {
		t.Fatalf("GetPredictions: %v", err)
	}
	if len(points) == 0 {
		t.Error("healthy station has no predictions after a sibling failed")
	}
	if _, err := os.Stat(plots.Path("santander", models.PlotVariant{Days: 1})); err != nil {
		t.Errorf("healthy station plot missing: %v", err)
	}

	// The failure is visible in the ingest log.
	runs, err := st.GetRecentIngestErrors(10)
	if err != nil {
		t.Fatalf("GetRecentIngestErrors: %v", err)
	}
	if len(runs) == 0 {
		t.Error("no failed ingest runs recorded")
	}
}
