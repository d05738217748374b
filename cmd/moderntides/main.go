package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	kongdotenv "github.com/titusjaka/kong-dotenv-go"
	_ "modernc.org/sqlite"

	"github.com/moderntides/moderntides/internal/api"
	"github.com/moderntides/moderntides/internal/brands"
	"github.com/moderntides/moderntides/internal/hass"
	"github.com/moderntides/moderntides/internal/httputil"
	"github.com/moderntides/moderntides/internal/ihm"
	"github.com/moderntides/moderntides/internal/ingest"
	"github.com/moderntides/moderntides/internal/models"
	"github.com/moderntides/moderntides/internal/plot"
	"github.com/moderntides/moderntides/internal/publish"
	"github.com/moderntides/moderntides/internal/store"
)

type Globals struct {
	DB          string   `env:"MODERNTIDES_DB" default:"data/moderntides.db" help:"Path to the SQLite database."`
	WWWDir      string   `env:"MODERNTIDES_WWW" default:"www" help:"Directory plot SVGs are written into."`
	Timezone    string   `env:"MODERNTIDES_TZ" default:"Europe/Madrid" help:"Timezone tide times are presented in."`
	Stations    []string `env:"MODERNTIDES_STATIONS" help:"Stations as id:name[:lat,lon]; the first is primary."`
	Transparent bool     `env:"MODERNTIDES_TRANSPARENT" help:"Render plots with a transparent background."`
}

type ServeCmd struct {
	Port      string        `env:"MODERNTIDES_PORT" default:"8080" help:"HTTP server port."`
	FetchCron string        `env:"MODERNTIDES_FETCH_CRON" default:"0 0 * * *" help:"Cron spec for prediction refresh."`
	Retention time.Duration `env:"MODERNTIDES_RETENTION" default:"720h" help:"How long to keep old predictions."`

	MQTTHost        string `env:"MODERNTIDES_MQTT_HOST" help:"MQTT broker host; empty disables Home Assistant publishing."`
	MQTTPort        int    `env:"MODERNTIDES_MQTT_PORT" default:"1883" help:"MQTT broker port."`
	MQTTUsername    string `env:"MODERNTIDES_MQTT_USERNAME" help:"MQTT username."`
	MQTTPassword    string `env:"MODERNTIDES_MQTT_PASSWORD" help:"MQTT password."`
	MQTTTLS         bool   `env:"MODERNTIDES_MQTT_TLS" help:"Connect to the broker over TLS."`
	DiscoveryPrefix string `env:"MODERNTIDES_DISCOVERY_PREFIX" default:"homeassistant" help:"Home Assistant MQTT discovery prefix."`
	ExternalURL     string `env:"MODERNTIDES_EXTERNAL_URL" help:"External base URL plots are reachable at, for entity URLs."`

	FTPAddr     string `env:"MODERNTIDES_FTP_ADDR" help:"FTP host:port to upload plots to; empty disables uploads."`
	FTPUsername string `env:"MODERNTIDES_FTP_USERNAME" help:"FTP username, anonymous when empty."`
	FTPPassword string `env:"MODERNTIDES_FTP_PASSWORD" help:"FTP password."`
	FTPDir      string `env:"MODERNTIDES_FTP_DIR" help:"Remote directory for uploads."`
}

type OnceCmd struct{}

type RenderCmd struct{}

type StationsCmd struct{}

type BrandsCheckCmd struct {
	BaseURL string        `help:"Override the brands repository base URL."`
	Files   []string      `help:"Override the files to check."`
	Timeout time.Duration `default:"10s" help:"Per-request timeout for the HEAD checks."`
}

type BrandsGenerateCmd struct {
	Dir string `default:"brands" help:"Directory to write icon.png and icon@2x.png into."`
}

type BrandsCmd struct {
	Check    BrandsCheckCmd    `cmd:"" help:"Verify the brands repository carries our icon assets."`
	Generate BrandsGenerateCmd `cmd:"" help:"Generate the icon assets submitted to the brands repository."`
}

type CLI struct {
	Globals

	Serve    ServeCmd    `cmd:"" default:"withargs" help:"Run the tide service: fetch, render, and serve."`
	Once     OnceCmd     `cmd:"" help:"Fetch predictions and render plots once, then exit."`
	Render   RenderCmd   `cmd:"" help:"Re-render plots from stored predictions, then exit."`
	Stations StationsCmd `cmd:"" help:"List the tide stations the IHM API knows about."`
	Brands   BrandsCmd   `cmd:"" help:"Brand asset tooling."`
}

func main() {
	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("moderntides"),
		kong.Description("Tide prediction plots and sensors for Home Assistant, fed by the Spanish IHM."),
		kong.Configuration(kongdotenv.ENVFileReader, ".env"),
	)
	if err := ctx.Run(&cli.Globals); err != nil {
		log.Fatalf("%v", err)
	}
}

// parseStationSpec parses "id:name[:lat,lon]".
func parseStationSpec(spec string, primary bool) (models.Station, error) {
	parts := strings.SplitN(spec, ":", 3)
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return models.Station{}, fmt.Errorf("station %q: want id:name[:lat,lon]", spec)
	}
	st := models.Station{
		StationID: parts[0],
		Name:      parts[1],
		Slug:      models.Slugify(parts[1]),
		IsPrimary: primary,
		Active:    true,
	}
	if st.Slug == "" {
		return models.Station{}, fmt.Errorf("station %q: name produces an empty slug", spec)
	}
	if len(parts) == 3 {
		coords := strings.SplitN(parts[2], ",", 2)
		if len(coords) != 2 {
			return models.Station{}, fmt.Errorf("station %q: want lat,lon", spec)
		}
		lat, err := strconv.ParseFloat(strings.TrimSpace(coords[0]), 64)
		if err != nil {
			return models.Station{}, fmt.Errorf("station %q: latitude: %w", spec, err)
		}
		lon, err := strconv.ParseFloat(strings.TrimSpace(coords[1]), 64)
		if err != nil {
			return models.Station{}, fmt.Errorf("station %q: longitude: %w", spec, err)
		}
		st.Latitude = lat
		st.Longitude = lon
	}
	return st, nil
}

// openEnvironment wires the shared pieces every data-touching command needs.
func openEnvironment(g *Globals) (*store.Store, *plot.Manager, *time.Location, func(), error) {
	loc, err := time.LoadLocation(g.Timezone)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("load timezone %s: %w", g.Timezone, err)
	}

	if dir := filepath.Dir(g.DB); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, nil, nil, nil, fmt.Errorf("create db dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", g.DB)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("open database: %w", err)
	}
	db.Exec("PRAGMA journal_mode=WAL")
	db.Exec("PRAGMA busy_timeout=5000")

	st := store.New(db, loc)
	if err := st.Migrate(); err != nil {
		db.Close()
		return nil, nil, nil, nil, fmt.Errorf("migrate: %w", err)
	}

	for i, spec := range g.Stations {
		station, err := parseStationSpec(spec, i == 0)
		if err != nil {
			db.Close()
			return nil, nil, nil, nil, err
		}
		if err := st.UpsertStation(station); err != nil {
			db.Close()
			return nil, nil, nil, nil, fmt.Errorf("upsert station %s: %w", station.StationID, err)
		}
	}

	plots, err := plot.NewManager(g.WWWDir, g.Transparent)
	if err != nil {
		db.Close()
		return nil, nil, nil, nil, err
	}

	return st, plots, loc, func() { db.Close() }, nil
}

func (c *ServeCmd) Run(g *Globals) error {
	st, plots, loc, closeDB, err := openEnvironment(g)
	if err != nil {
		return err
	}
	defer closeDB()

	scheduler := ingest.NewScheduler(st, ihm.NewClient(loc), plots, loc)
	scheduler.SetFetchSpec(c.FetchCron)
	scheduler.SetRetention(c.Retention)

	publisher, err := hass.NewPublisher(hass.Config{
		Host:            c.MQTTHost,
		Port:            c.MQTTPort,
		Username:        c.MQTTUsername,
		Password:        c.MQTTPassword,
		TLS:             c.MQTTTLS,
		DiscoveryPrefix: c.DiscoveryPrefix,
		BaseURL:         c.ExternalURL,
	})
	if err != nil {
		return err
	}
	if publisher != nil {
		defer publisher.Close()
		scheduler.SetPublisher(publisher)
		log.Printf("mqtt publishing to %s:%d", c.MQTTHost, c.MQTTPort)
	}

	if uploader := publish.NewUploader(c.FTPAddr, c.FTPUsername, c.FTPPassword, c.FTPDir); uploader != nil {
		scheduler.SetUploader(uploader)
		log.Printf("ftp uploads to %s", c.FTPAddr)
	}

	server := api.NewServer(st, plots, c.Port, loc)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	go scheduler.Run(ctx)

	log.Printf("listening on :%s", c.Port)
	return server.Run(ctx)
}

func (c *OnceCmd) Run(g *Globals) error {
	st, plots, loc, closeDB, err := openEnvironment(g)
	if err != nil {
		return err
	}
	defer closeDB()

	scheduler := ingest.NewScheduler(st, ihm.NewClient(loc), plots, loc)
	if err := scheduler.RunOnce(context.Background()); err != nil {
		return err
	}
	log.Println("done")
	return nil
}

func (c *RenderCmd) Run(g *Globals) error {
	st, plots, loc, closeDB, err := openEnvironment(g)
	if err != nil {
		return err
	}
	defer closeDB()

	scheduler := ingest.NewScheduler(st, ihm.NewClient(loc), plots, loc)
	if err := scheduler.RenderOnce(); err != nil {
		return err
	}
	log.Println("done")
	return nil
}

func (c *StationsCmd) Run(g *Globals) error {
	loc, err := time.LoadLocation(g.Timezone)
	if err != nil {
		return fmt.Errorf("load timezone %s: %w", g.Timezone, err)
	}

	stations, err := ihm.NewClient(loc).FetchStations(context.Background())
	if err != nil {
		return err
	}
	for _, st := range stations {
		fmt.Printf("%-6d %-10s %s (%s, %s)\n", st.ID, st.Code, st.Name, st.Lat, st.Lon)
	}
	return nil
}

func (c *BrandsCheckCmd) Run(g *Globals) error {
	checker := brands.NewChecker(httputil.NewClientWithTimeout(c.Timeout), os.Stdout)
	missing, err := checker.Check(context.Background(), c.BaseURL, c.Files)
	if err != nil {
		return err
	}
	if missing > 0 {
		os.Exit(1)
	}
	return nil
}

func (c *BrandsGenerateCmd) Run(g *Globals) error {
	if err := brands.GenerateIcons(c.Dir); err != nil {
		return err
	}
	log.Printf("wrote icon.png and icon@2x.png to %s", c.Dir)
	return nil
}
