// Package hass announces Modern Tides entities to Home Assistant over MQTT
// discovery and keeps their states current.
package hass

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/moderntides/moderntides/internal/metrics"
	"github.com/moderntides/moderntides/internal/models"
)

// Config holds MQTT broker settings. An empty Host disables publishing.
type Config struct {
	Host            string
	Port            int
	Username        string
	Password        string
	TLS             bool
	DiscoveryPrefix string // Home Assistant discovery prefix, normally "homeassistant"
	BaseURL         string // external URL plots are served at, e.g. http://host:8123
}

// Publisher owns the MQTT connection and the discovery/state topics.
type Publisher struct {
	client mqtt.Client
	cfg    Config
}

// NewPublisher connects to the broker. Returns nil without error when no
// broker is configured.
func NewPublisher(cfg Config) (*Publisher, error) {
	if cfg.Host == "" {
		return nil, nil
	}
	if cfg.Port == 0 {
		cfg.Port = 1883
	}
	if cfg.DiscoveryPrefix == "" {
		cfg.DiscoveryPrefix = "homeassistant"
	}

	opts := mqtt.NewClientOptions()
	scheme := "tcp"
	if cfg.TLS {
		scheme = "ssl"
	}
	opts.AddBroker(fmt.Sprintf("%s://%s:%d", scheme, cfg.Host, cfg.Port))
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetClientID("moderntides")
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectTimeout(10 * time.Second)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("mqtt connect: %w", token.Error())
	}
	return &Publisher{client: client, cfg: cfg}, nil
}

// Close disconnects from the broker.
func (p *Publisher) Close() {
	if p == nil {
		return
	}
	p.client.Disconnect(250)
}

func (p *Publisher) stateTopic(slug string) string {
	return "moderntides/" + slug + "/state"
}

func (p *Publisher) urlTopic(entityID string) string {
	return "moderntides/" + entityID + "/url"
}

type discoveryDevice struct {
	Identifiers  []string `json:"identifiers"`
	Name         string   `json:"name"`
	Manufacturer string   `json:"manufacturer"`
	Model        string   `json:"model"`
}

type sensorDiscovery struct {
	Name              string          `json:"name"`
	UniqueID          string          `json:"unique_id"`
	StateTopic        string          `json:"state_topic"`
	ValueTemplate     string          `json:"value_template"`
	UnitOfMeasurement string          `json:"unit_of_measurement,omitempty"`
	DeviceClass       string          `json:"device_class,omitempty"`
	Icon              string          `json:"icon,omitempty"`
	Device            discoveryDevice `json:"device"`
}

type imageDiscovery struct {
	Name        string          `json:"name"`
	UniqueID    string          `json:"unique_id"`
	URLTopic    string          `json:"url_topic"`
	ContentType string          `json:"content_type"`
	Device      discoveryDevice `json:"device"`
}

// PublishDiscovery publishes retained discovery configs for a station: the
// 14 plot image entities plus tide height and next high/low sensors.
func (p *Publisher) PublishDiscovery(st models.Station) error {
	if p == nil {
		return nil
	}

	device := discoveryDevice{
		Identifiers:  []string{"moderntides_" + st.Slug},
		Name:         "Modern Tides " + st.Name,
		Manufacturer: "Modern Tides",
		Model:        "IHM tide station",
	}

	for _, v := range models.PlotVariants() {
		entityID := models.EntityID(st.Slug, v)
		cfg := imageDiscovery{
			Name:        entityID,
			UniqueID:    "moderntides_" + entityID,
			URLTopic:    p.urlTopic(entityID),
			ContentType: "image/svg+xml",
			Device:      device,
		}
		topic := fmt.Sprintf("%s/image/moderntides_%s/config", p.cfg.DiscoveryPrefix, entityID)
		if err := p.publishJSON(topic, cfg, true); err != nil {
			return err
		}
		// Retained URL so the entity resolves immediately after discovery.
		if err := p.publish(p.urlTopic(entityID), []byte(p.cfg.BaseURL+models.PlotURL(st.Slug, v)), true); err != nil {
			return err
		}
	}

	sensors := []sensorDiscovery{
		{
			Name:              st.Name + " Tide Height",
			UniqueID:          "moderntides_" + st.Slug + "_height",
			StateTopic:        p.stateTopic(st.Slug),
			ValueTemplate:     "{{ value_json.height | round(2) }}",
			UnitOfMeasurement: "m",
			DeviceClass:       "distance",
			Device:            device,
		},
		{
			Name:          st.Name + " Next High Tide",
			UniqueID:      "moderntides_" + st.Slug + "_next_high",
			StateTopic:    p.stateTopic(st.Slug),
			ValueTemplate: "{{ value_json.next_high.time if value_json.next_high else 'unknown' }}",
			DeviceClass:   "timestamp",
			Icon:          "mdi:wave-arrow-up",
			Device:        device,
		},
		{
			Name:          st.Name + " Next Low Tide",
			UniqueID:      "moderntides_" + st.Slug + "_next_low",
			StateTopic:    p.stateTopic(st.Slug),
			ValueTemplate: "{{ value_json.next_low.time if value_json.next_low else 'unknown' }}",
			DeviceClass:   "timestamp",
			Icon:          "mdi:wave-arrow-down",
			Device:        device,
		},
	}
	for _, cfg := range sensors {
		topic := fmt.Sprintf("%s/sensor/%s/config", p.cfg.DiscoveryPrefix, cfg.UniqueID)
		if err := p.publishJSON(topic, cfg, true); err != nil {
			return err
		}
	}
	return nil
}

// PublishState publishes the derived tide state for a station.
func (p *Publisher) PublishState(st models.Station, state models.TideState) error {
	if p == nil {
		return nil
	}
	if err := p.publishJSON(p.stateTopic(st.Slug), state, false); err != nil {
		metrics.PublishFailures.WithLabelValues("mqtt").Inc()
		return err
	}
	return nil
}

func (p *Publisher) publishJSON(topic string, payload any, retain bool) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", topic, err)
	}
	return p.publish(topic, data, retain)
}

func (p *Publisher) publish(topic string, payload []byte, retain bool) error {
	if token := p.client.Publish(topic, 0, retain, payload); token.Wait() && token.Error() != nil {
		log.Printf("hass: publish %s: %v", topic, token.Error())
		return fmt.Errorf("publish %s: %w", topic, token.Error())
	}
	return nil
}
