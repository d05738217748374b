package ihm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/moderntides/moderntides/internal/httputil"
	"github.com/moderntides/moderntides/internal/metrics"
	"github.com/moderntides/moderntides/internal/models"
)

const defaultBaseURL = "https://ideihm.covam.es/api-ihm/getmarea"

// Client fetches tide predictions from the IHM (Instituto Hidrográfico de
// la Marina) open API.
type Client struct {
	baseURL string
	client  *http.Client
	loc     *time.Location
}

// NewClient creates an IHM API client. Prediction timestamps are returned in
// loc, which should be the timezone the API reports times in (Europe/Madrid
// for IHM stations).
func NewClient(loc *time.Location) *Client {
	return &Client{
		baseURL: defaultBaseURL,
		client:  httputil.NewClient(),
		loc:     loc,
	}
}

// NewClientWithBaseURL is used by tests to point the client at a fake server.
func NewClientWithBaseURL(baseURL string, loc *time.Location) *Client {
	c := NewClient(loc)
	c.baseURL = baseURL
	return c
}

// FetchResult carries telemetry about a fetch for ingest-run records.
type FetchResult struct {
	HTTPStatus   int
	ResponseSize int
	RecordCount  int
	ParseErrors  int
	ParseError   string
}

type tideResponse struct {
	Mareas struct {
		Prediccion []tideEntry `json:"prediccion"`
	} `json:"mareas"`
}

type tideEntry struct {
	Fecha  string      `json:"fecha"`
	Hora   string      `json:"hora"`
	Altura json.Number `json:"altura"`
}

// FetchTides fetches tide predictions for a station covering days calendar
// days starting at date. The API serves one day per request; results are
// merged and sorted. Partial failures on later days return what was
// gathered so far along with the error.
func (c *Client) FetchTides(ctx context.Context, stationID string, date time.Time, days int) ([]models.TidePoint, *FetchResult, error) {
	result := &FetchResult{}
	var points []models.TidePoint

	for d := 0; d < days; d++ {
		day := date.AddDate(0, 0, d)
		dayPoints, err := c.fetchDay(ctx, stationID, day, result)
		if err != nil {
			return points, result, fmt.Errorf("fetch tides %s day %d: %w", stationID, d, err)
		}
		points = append(points, dayPoints...)
	}

	sort.Slice(points, func(i, j int) bool { return points[i].Time.Before(points[j].Time) })
	result.RecordCount = len(points)
	return points, result, nil
}

func (c *Client) fetchDay(ctx context.Context, stationID string, day time.Time, result *FetchResult) ([]models.TidePoint, error) {
	q := url.Values{}
	q.Set("request", "gettide")
	q.Set("format", "json")
	q.Set("id", stationID)
	q.Set("date", day.Format("20060102"))

	body, status, err := c.get(ctx, stationID, "gettide", q)
	result.HTTPStatus = status
	result.ResponseSize += len(body)
	if err != nil {
		return nil, err
	}

	var data tideResponse
	if err := json.Unmarshal(body, &data); err != nil {
		return nil, fmt.Errorf("unmarshal: %w", err)
	}

	var points []models.TidePoint
	for _, entry := range data.Mareas.Prediccion {
		pt, err := entry.point(c.loc)
		if err != nil {
			result.ParseErrors++
			result.ParseError = err.Error()
			continue
		}
		points = append(points, pt)
	}
	return points, nil
}

func (e tideEntry) point(loc *time.Location) (models.TidePoint, error) {
	if e.Fecha == "" || e.Hora == "" {
		return models.TidePoint{}, fmt.Errorf("entry missing fecha/hora")
	}
	t, err := time.ParseInLocation("2006-01-02 15:04:05", e.Fecha+" "+e.Hora, loc)
	if err != nil {
		return models.TidePoint{}, fmt.Errorf("parse time: %w", err)
	}
	h, err := e.Altura.Float64()
	if err != nil {
		return models.TidePoint{}, fmt.Errorf("parse altura %q: %w", e.Altura, err)
	}
	return models.TidePoint{Time: t, Height: h}, nil
}

// StationInfo is an entry from the IHM station catalogue. Lat/Lon are kept
// as the API's degree-minute strings.
type StationInfo struct {
	ID     int    `json:"id"`
	Code   string `json:"code"`
	Name   string `json:"puerto"`
	Lat    string `json:"lat"`
	Lon    string `json:"lon"`
}

type stationListResponse struct {
	Estaciones struct {
		Puertos []StationInfo `json:"puertos"`
	} `json:"estaciones"`
}

// FetchStations fetches the IHM station catalogue.
func (c *Client) FetchStations(ctx context.Context) ([]StationInfo, error) {
	q := url.Values{}
	q.Set("request", "getlist")
	q.Set("format", "json")

	body, _, err := c.get(ctx, "", "getlist", q)
	if err != nil {
		return nil, fmt.Errorf("fetch stations: %w", err)
	}

	var data stationListResponse
	if err := json.Unmarshal(body, &data); err != nil {
		return nil, fmt.Errorf("unmarshal: %w", err)
	}
	return data.Estaciones.Puertos, nil
}

// get performs a GET with exponential backoff. Rate-limit style statuses
// retry; other failures are permanent.
func (c *Client) get(ctx context.Context, station, endpoint string, q url.Values) ([]byte, int, error) {
	addr := c.baseURL + "?" + q.Encode()

	var body []byte
	var status int
	start := time.Now()
	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, addr, nil)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("build request: %w", err))
		}
		resp, err := c.client.Do(req)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("fetch: %w", err))
		}
		defer resp.Body.Close()
		status = resp.StatusCode

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusUnauthorized {
			return fmt.Errorf("rate limited: status %d", resp.StatusCode)
		}
		if resp.StatusCode != http.StatusOK {
			b, _ := io.ReadAll(resp.Body)
			return backoff.Permanent(fmt.Errorf("fetch: status %d: %s", resp.StatusCode, string(b)))
		}

		body, err = io.ReadAll(resp.Body)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("read body: %w", err))
		}
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 2 * time.Minute
	err := backoff.Retry(operation, backoff.WithContext(bo, ctx))

	metrics.IHMAPILatency.WithLabelValues(station, endpoint).Observe(time.Since(start).Seconds())
	metrics.IHMAPICallsTotal.WithLabelValues(station, endpoint, strconv.Itoa(status)).Inc()

	if err != nil {
		return nil, status, err
	}
	return body, status, nil
}
