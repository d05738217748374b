package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/moderntides/moderntides/internal/models"
)

type Store struct {
	db  *sql.DB
	loc *time.Location
}

func New(db *sql.DB, loc *time.Location) *Store {
	return &Store{db: db, loc: loc}
}

func (s *Store) UpsertStation(st models.Station) error {
	_, err := s.db.Exec(`
		INSERT INTO stations (station_id, name, slug, latitude, longitude, is_primary, active)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(station_id) DO UPDATE SET
			name = excluded.name,
			slug = excluded.slug,
			latitude = excluded.latitude,
			longitude = excluded.longitude,
			is_primary = excluded.is_primary,
			active = excluded.active
	`, st.StationID, st.Name, st.Slug, st.Latitude, st.Longitude, st.IsPrimary, st.Active)
	return err
}

func (s *Store) GetActiveStations() ([]models.Station, error) {
	rows, err := s.db.Query(`
		SELECT station_id, name, slug, latitude, longitude, is_primary, active
		FROM stations WHERE active = TRUE ORDER BY station_id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stations []models.Station
	for rows.Next() {
		var st models.Station
		if err := rows.Scan(&st.StationID, &st.Name, &st.Slug, &st.Latitude, &st.Longitude, &st.IsPrimary, &st.Active); err != nil {
			return nil, err
		}
		stations = append(stations, st)
	}
	return stations, rows.Err()
}

func (s *Store) GetStationBySlug(slug string) (*models.Station, error) {
	var st models.Station
	err := s.db.QueryRow(`
		SELECT station_id, name, slug, latitude, longitude, is_primary, active
		FROM stations WHERE slug = ?
	`, slug).Scan(&st.StationID, &st.Name, &st.Slug, &st.Latitude, &st.Longitude, &st.IsPrimary, &st.Active)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &st, nil
}

func (s *Store) GetPrimaryStation() (*models.Station, error) {
	var st models.Station
	err := s.db.QueryRow(`
		SELECT station_id, name, slug, latitude, longitude, is_primary, active
		FROM stations WHERE is_primary = TRUE AND active = TRUE LIMIT 1
	`).Scan(&st.StationID, &st.Name, &st.Slug, &st.Latitude, &st.Longitude, &st.IsPrimary, &st.Active)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &st, nil
}

// UpsertPredictions stores a batch of predictions for a station. Re-fetched
// times overwrite the stored height, so a corrected forecast wins.
func (s *Store) UpsertPredictions(stationID string, points []models.TidePoint, fetchedAt time.Time) (int, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO tide_predictions (station_id, predicted_at, height, fetched_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(station_id, predicted_at) DO UPDATE SET
			height = excluded.height,
			fetched_at = excluded.fetched_at
	`)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	stored := 0
	for _, pt := range points {
		if _, err := stmt.Exec(stationID, pt.Time.UTC(), pt.Height, fetchedAt.UTC()); err != nil {
			return stored, fmt.Errorf("upsert prediction at %s: %w", pt.Time, err)
		}
		stored++
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return stored, nil
}

// GetPredictions returns predictions for a station in [from, to), ordered by
// time, localized to the store's timezone.
func (s *Store) GetPredictions(stationID string, from, to time.Time) ([]models.TidePoint, error) {
	rows, err := s.db.Query(`
		SELECT predicted_at, height FROM tide_predictions
		WHERE station_id = ? AND predicted_at >= ? AND predicted_at < ?
		ORDER BY predicted_at
	`, stationID, from.UTC(), to.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var points []models.TidePoint
	for rows.Next() {
		var pt models.TidePoint
		if err := rows.Scan(&pt.Time, &pt.Height); err != nil {
			return nil, err
		}
		pt.Time = pt.Time.In(s.loc)
		points = append(points, pt)
	}
	return points, rows.Err()
}

// LatestFetch returns the most recent fetched_at for a station, or the zero
// time when nothing has been fetched. The column is selected directly rather
// than through MAX(): the driver only converts TEXT to time.Time when the
// declared column type survives, and expressions lose it.
func (s *Store) LatestFetch(stationID string) (time.Time, error) {
	var fetched time.Time
	err := s.db.QueryRow(`
		SELECT fetched_at FROM tide_predictions
		WHERE station_id = ?
		ORDER BY fetched_at DESC LIMIT 1
	`, stationID).Scan(&fetched)
	if err == sql.ErrNoRows {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	return fetched, nil
}

// PruneOlderThan removes predictions before cutoff. Returns rows removed.
func (s *Store) PruneOlderThan(cutoff time.Time) (int64, error) {
	res, err := s.db.Exec(`DELETE FROM tide_predictions WHERE predicted_at < ?`, cutoff.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
