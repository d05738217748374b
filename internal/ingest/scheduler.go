package ingest

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/moderntides/moderntides/internal/hass"
	"github.com/moderntides/moderntides/internal/ihm"
	"github.com/moderntides/moderntides/internal/metrics"
	"github.com/moderntides/moderntides/internal/models"
	"github.com/moderntides/moderntides/internal/plot"
	"github.com/moderntides/moderntides/internal/publish"
	"github.com/moderntides/moderntides/internal/store"
	"github.com/moderntides/moderntides/internal/tide"
)

// DefaultFetchSpec refreshes predictions daily at midnight, the same
// cadence the integration's validation pipeline runs at.
const DefaultFetchSpec = "0 0 * * *"

const horizonDays = 7

type Scheduler struct {
	store     *store.Store
	client    *ihm.Client
	plots     *plot.Manager
	publisher *hass.Publisher
	uploader  *publish.Uploader
	loc       *time.Location
	fetchSpec string
	retention time.Duration
}

func NewScheduler(st *store.Store, client *ihm.Client, plots *plot.Manager, loc *time.Location) *Scheduler {
	return &Scheduler{
		store:     st,
		client:    client,
		plots:     plots,
		loc:       loc,
		fetchSpec: DefaultFetchSpec,
		retention: 30 * 24 * time.Hour,
	}
}

// SetFetchSpec overrides the fetch cron expression.
func (s *Scheduler) SetFetchSpec(spec string) {
	if spec != "" {
		s.fetchSpec = spec
	}
}

// SetRetention overrides how long old predictions are kept.
func (s *Scheduler) SetRetention(d time.Duration) {
	if d > 0 {
		s.retention = d
	}
}

// SetPublisher configures MQTT state publishing after each render.
func (s *Scheduler) SetPublisher(p *hass.Publisher) {
	s.publisher = p
}

// SetUploader configures FTP upload of rendered plots.
func (s *Scheduler) SetUploader(u *publish.Uploader) {
	s.uploader = u
}

// Run refreshes immediately, then drives the periodic jobs until ctx is
// cancelled: fetch on the configured cron spec, re-render hourly so the
// current-position marker stays honest, prune daily.
func (s *Scheduler) Run(ctx context.Context) error {
	if err := s.refreshAll(ctx); err != nil {
		log.Printf("scheduler: initial refresh: %v", err)
	}

	c := cron.New()
	if _, err := c.AddFunc(s.fetchSpec, func() {
		if err := s.refreshAll(context.Background()); err != nil {
			log.Printf("scheduler: refresh: %v", err)
		}
	}); err != nil {
		return fmt.Errorf("cron spec %q: %w", s.fetchSpec, err)
	}
	c.AddFunc("@hourly", func() {
		if err := s.renderAll(); err != nil {
			log.Printf("scheduler: render: %v", err)
		}
	})
	c.AddFunc("@daily", s.prune)

	c.Start()
	<-ctx.Done()
	log.Println("scheduler: shutting down")
	<-c.Stop().Done()
	return nil
}

// RunOnce performs a single fetch-and-render cycle for every station.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	return s.refreshAll(ctx)
}

// RenderOnce regenerates all plots from stored predictions without
// fetching.
func (s *Scheduler) RenderOnce() error {
	return s.renderAll()
}

// refreshAll fetches and renders per station. One station failing does not
// stop the rest; the first error is returned.
func (s *Scheduler) refreshAll(ctx context.Context) error {
	stations, err := s.store.GetActiveStations()
	if err != nil {
		return fmt.Errorf("get stations: %w", err)
	}

	var firstErr error
	for _, st := range stations {
		if err := s.refreshStation(ctx, st); err != nil {
			log.Printf("scheduler: refresh %s: %v", st.StationID, err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if err := s.renderStation(st); err != nil {
			log.Printf("scheduler: render %s: %v", st.StationID, err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (s *Scheduler) refreshStation(ctx context.Context, st models.Station) error {
	log.Printf("scheduler: fetching tides for %s (%s)", st.Name, st.StationID)
	run, _ := s.store.StartIngestRun("ihm", "gettide", &st.StationID)

	now := time.Now().In(s.loc)
	year, month, day := now.Date()
	dayStart := time.Date(year, month, day, 0, 0, 0, 0, s.loc)

	points, fetchResult, err := s.client.FetchTides(ctx, st.StationID, dayStart, horizonDays)

	if run != nil {
		run.Success = err == nil
		if fetchResult != nil {
			run.HTTPStatus = sql.NullInt64{Int64: int64(fetchResult.HTTPStatus), Valid: fetchResult.HTTPStatus > 0}
			run.ResponseSizeBytes = sql.NullInt64{Int64: int64(fetchResult.ResponseSize), Valid: fetchResult.ResponseSize > 0}
			run.RecordsParsed = sql.NullInt64{Int64: int64(fetchResult.RecordCount), Valid: true}
			if fetchResult.ParseErrors > 0 {
				run.ParseErrors = sql.NullInt64{Int64: int64(fetchResult.ParseErrors), Valid: true}
				run.ErrorMessage = sql.NullString{String: fetchResult.ParseError, Valid: true}
				log.Printf("scheduler: %s parse errors: %s", st.StationID, fetchResult.ParseError)
			}
		}
		if err != nil {
			run.ErrorMessage = sql.NullString{String: err.Error(), Valid: true}
		}
	}

	if err != nil {
		s.store.CompleteIngestRun(run)
		return fmt.Errorf("fetch: %w", err)
	}

	stored, err := s.store.UpsertPredictions(st.StationID, points, time.Now())
	if err != nil {
		if run != nil {
			run.Success = false
			run.ErrorMessage = sql.NullString{String: fmt.Sprintf("store: %v", err), Valid: true}
			s.store.CompleteIngestRun(run)
		}
		return fmt.Errorf("store: %w", err)
	}
	metrics.PredictionsStored.WithLabelValues(st.StationID).Add(float64(stored))

	if run != nil {
		run.RecordsStored = sql.NullInt64{Int64: int64(stored), Valid: true}
		s.store.CompleteIngestRun(run)
	}

	log.Printf("scheduler: stored %d predictions for %s", stored, st.StationID)
	return nil
}

func (s *Scheduler) renderAll() error {
	stations, err := s.store.GetActiveStations()
	if err != nil {
		return fmt.Errorf("get stations: %w", err)
	}
	var firstErr error
	for _, st := range stations {
		if err := s.renderStation(st); err != nil {
			log.Printf("scheduler: render %s: %v", st.StationID, err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (s *Scheduler) renderStation(st models.Station) error {
	now := time.Now().In(s.loc)
	year, month, day := now.Date()
	dayStart := time.Date(year, month, day, 0, 0, 0, 0, s.loc)

	points, err := s.store.GetPredictions(st.StationID, dayStart, dayStart.AddDate(0, 0, horizonDays))
	if err != nil {
		return fmt.Errorf("load predictions: %w", err)
	}

	written, err := s.plots.RenderStation(st, points, now)
	if err != nil {
		return fmt.Errorf("render plots: %w", err)
	}
	log.Printf("scheduler: wrote %d plots for %s", written, st.Slug)

	if s.publisher != nil {
		if err := s.publisher.PublishDiscovery(st); err != nil {
			log.Printf("scheduler: mqtt discovery %s: %v", st.Slug, err)
		}
		state := tide.StateAt(st.StationID, points, now, dayStart, dayStart.AddDate(0, 0, 1))
		if err := s.publisher.PublishState(st, state); err != nil {
			log.Printf("scheduler: mqtt state %s: %v", st.Slug, err)
		}
	}

	if s.uploader != nil {
		paths := make([]string, 0, 14)
		for _, v := range models.PlotVariants() {
			paths = append(paths, s.plots.Path(st.Slug, v))
		}
		if err := s.uploader.UploadFiles(paths); err != nil {
			log.Printf("scheduler: ftp upload %s: %v", st.Slug, err)
		}
	}

	return nil
}

func (s *Scheduler) prune() {
	cutoff := time.Now().Add(-s.retention)
	removed, err := s.store.PruneOlderThan(cutoff)
	if err != nil {
		log.Printf("scheduler: prune: %v", err)
		return
	}
	if removed > 0 {
		log.Printf("scheduler: pruned %d old predictions", removed)
	}
}
