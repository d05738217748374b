package store

import (
	"database/sql"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/moderntides/moderntides/internal/models"
)

func setupTestStore(t *testing.T) *Store {
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
	store := New(db, loc)
	if err := store.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return store
}

func TestUpsertAndGetStation(t *testing.T) {
	store := setupTestStore(t)

	station := models.Station{
		StationID: "57",
		Name:      "Santander",
		Slug:      "santander",
		Latitude:  43.46,
		Longitude: -3.80,
		IsPrimary: true,
		Active:    true,
	}

	if err := store.UpsertStation(station); err != nil {
		t.Fatalf("UpsertStation: %v", err)
	}

	stations, err := store.GetActiveStations()
	if err != nil {
		t.Fatalf("GetActiveStations: %v", err)
	}
	if len(stations) != 1 {
		t.Fatalf("len(stations) = %d, want 1", len(stations))
	}
	if stations[0].StationID != "57" {
		t.Errorf("StationID = %q, want 57", stations[0].StationID)
	}
	if stations[0].Slug != "santander" {
		t.Errorf("Slug = %q, want santander", stations[0].Slug)
	}

	primary, err := store.GetPrimaryStation()
	if err != nil {
		t.Fatalf("GetPrimaryStation: %v", err)
	}
	if primary == nil || primary.StationID != "57" {
		t.Fatalf("GetPrimaryStation = %+v, want station 57", primary)
	}

	bySlug, err := store.GetStationBySlug("santander")
	if err != nil {
		t.Fatalf("GetStationBySlug: %v", err)
	}
	if bySlug == nil || bySlug.Name != "Santander" {
		t.Fatalf("GetStationBySlug = %+v, want Santander", bySlug)
	}

	missing, err := store.GetStationBySlug("nope")
	if err != nil {
		t.Fatalf("GetStationBySlug(nope): %v", err)
	}
	if missing != nil {
		t.Errorf("GetStationBySlug(nope) = %+v, want nil", missing)
	}
}

func TestUpsertStation_Update(t *testing.T) {
	store := setupTestStore(t)

	station := models.Station{StationID: "57", Name: "Original", Slug: "original", Active: true}
	if err := store.UpsertStation(station); err != nil {
		t.Fatalf("UpsertStation: %v", err)
	}

	station.Name = "Updated"
	station.Slug = "updated"
	if err := store.UpsertStation(station); err != nil {
		t.Fatalf("UpsertStation update: %v", err)
	}

	stations, err := store.GetActiveStations()
	if err != nil {
		t.Fatalf("GetActiveStations: %v", err)
	}
	if len(stations) != 1 {
		t.Fatalf("len(stations) = %d, want 1", len(stations))
	}
	if stations[0].Name != "Updated" {
		t.Errorf("Name = %q, want Updated", stations[0].Name)
	}
}

func TestUpsertAndGetPredictions(t *testing.T) {
	store := setupTestStore(t)

	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	points := []models.TidePoint{
		{Time: base.Add(4 * time.Hour), Height: 4.5},
		{Time: base.Add(10 * time.Hour), Height: 0.8},
		{Time: base.Add(16 * time.Hour), Height: 4.3},
	}

	stored, err := store.UpsertPredictions("57", points, base)
	if err != nil {
		t.Fatalf("UpsertPredictions: %v", err)
	}
	if stored != 3 {
		t.Errorf("stored = %d, want 3", stored)
	}

	got, err := store.GetPredictions("57", base, base.AddDate(0, 0, 1))
	if err != nil {
		t.Fatalf("GetPredictions: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("len(got) = %d, want 3", len(got))
	}
	if got[0].Height != 4.5 {
		t.Errorf("got[0].Height = %v, want 4.5", got[0].Height)
	}
	if !got[0].Time.Equal(base.Add(4 * time.Hour)) {
		t.Errorf("got[0].Time = %v, want %v", got[0].Time, base.Add(4*time.Hour))
	}

	// Re-fetch with a corrected height overwrites.
	refetch := []models.TidePoint{{Time: base.Add(4 * time.Hour), Height: 4.6}}
	if _, err := store.UpsertPredictions("57", refetch, base.Add(time.Hour)); err != nil {
		t.Fatalf("UpsertPredictions refetch: %v", err)
	}
	got, err = store.GetPredictions("57", base, base.AddDate(0, 0, 1))
	if err != nil {
		t.Fatalf("GetPredictions: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("len(got) after refetch = %d, want 3", len(got))
	}
	if got[0].Height != 4.6 {
		t.Errorf("got[0].Height after refetch = %v, want 4.6", got[0].Height)
	}

	// Window bounds are half-open.
	windowed, err := store.GetPredictions("57", base.Add(5*time.Hour), base.Add(16*time.Hour))
	if err != nil {
		t.Fatalf("GetPredictions windowed: %v", err)
	}
	if len(windowed) != 1 {
		t.Errorf("len(windowed) = %d, want 1", len(windowed))
	}
}

func TestLatestFetch(t *testing.T) {
	store := setupTestStore(t)

	got, err := store.LatestFetch("57")
	if err != nil {
		t.Fatalf("LatestFetch: %v", err)
	}
	if !got.IsZero() {
		t.Errorf("LatestFetch with no data = %v, want zero", got)
	}

	fetchedAt := time.Date(2026, 3, 1, 6, 0, 0, 0, time.UTC)
	points := []models.TidePoint{{Time: fetchedAt.Add(time.Hour), Height: 2}}
	if _, err := store.UpsertPredictions("57", points, fetchedAt); err != nil {
		t.Fatalf("UpsertPredictions: %v", err)
	}

	got, err = store.LatestFetch("57")
	if err != nil {
		t.Fatalf("LatestFetch: %v", err)
	}
	if !got.Equal(fetchedAt) {
		t.Errorf("LatestFetch = %v, want %v", got, fetchedAt)
	}

	// A refresh moves the watermark forward.
	later := fetchedAt.Add(24 * time.Hour)
	if _, err := store.UpsertPredictions("57", points, later); err != nil {
		t.Fatalf("UpsertPredictions: %v", err)
	}
	got, err = store.LatestFetch("57")
	if err != nil {
		t.Fatalf("LatestFetch: %v", err)
	}
	if !got.Equal(later) {
		t.Errorf("LatestFetch after refresh = %v, want %v", got, later)
	}
}

func TestPruneOlderThan(t *testing.T) {
	store := setupTestStore(t)

	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	var points []models.TidePoint
	for d := 0; d < 10; d++ {
		points = append(points, models.TidePoint{Time: base.AddDate(0, 0, d), Height: float64(d)})
	}
	if _, err := store.UpsertPredictions("57", points, base); err != nil {
		t.Fatalf("UpsertPredictions: %v", err)
	}

	removed, err := store.PruneOlderThan(base.AddDate(0, 0, 5))
	if err != nil {
		t.Fatalf("PruneOlderThan: %v", err)
	}
	if removed != 5 {
		t.Errorf("removed = %d, want 5", removed)
	}

	left, err := store.GetPredictions("57", base, base.AddDate(0, 0, 20))
	if err != nil {
		t.Fatalf("GetPredictions: %v", err)
	}
	if len(left) != 5 {
		t.Errorf("len(left) = %d, want 5", len(left))
	}
}

func TestIngestRuns(t *testing.T) {
	store := setupTestStore(t)

	stationID := "57"
	run, err := store.StartIngestRun("ihm", "gettide", &stationID)
	if err != nil {
		t.Fatalf("StartIngestRun: %v", err)
	}
	if run.ID == 0 {
		t.Fatal("run.ID = 0, want assigned id")
	}

	run.Success = false
	run.HTTPStatus = sql.NullInt64{Int64: 500, Valid: true}
	run.ErrorMessage = sql.NullString{String: "boom", Valid: true}
	if err := store.CompleteIngestRun(run); err != nil {
		t.Fatalf("CompleteIngestRun: %v", err)
	}

	errors, err := store.GetRecentIngestErrors(10)
	if err != nil {
		t.Fatalf("GetRecentIngestErrors: %v", err)
	}
	if len(errors) != 1 {
		t.Fatalf("len(errors) = %d, want 1", len(errors))
	}
	if errors[0].ErrorMessage.String != "boom" {
		t.Errorf("ErrorMessage = %q, want boom", errors[0].ErrorMessage.String)
	}
	if !errors[0].FinishedAt.Valid {
		t.Error("FinishedAt not set by CompleteIngestRun")
	}
}
