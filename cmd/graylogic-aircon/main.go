// Gray Logic Aircon - Advantage Air bridge
//
// graylogic-aircon polls Advantage Air (MyAir / e-zone) controllers on the
// local network, publishes their state to the Gray Logic MQTT bus and
// applies changes received over MQTT or the REST API.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/gray-logic-aircon/internal/api"
	"github.com/nerrad567/gray-logic-aircon/internal/audit"
	"github.com/nerrad567/gray-logic-aircon/internal/bridges/advantageair"
	"github.com/nerrad567/gray-logic-aircon/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-aircon/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-aircon/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-aircon/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-aircon/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-aircon/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the application logic, separated from main for testability.
// Resources are released by deferred calls in reverse order of creation.
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting Gray Logic Aircon",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log = logging.New(cfg.Logging, version)
	log.Info("configuration loaded",
		"path", configPath,
		"devices", len(cfg.Devices),
		"level", cfg.Logging.Level,
	)

	db, err := database.Open(ctx, database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
		Migrations:  migrations.FS,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()

	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database ready", "path", cfg.Database.Path)

	commandRepo := audit.NewSQLiteRepository(db.DB)

	will, err := bridgeWill(cfg.Bridge.ID)
	if err != nil {
		return fmt.Errorf("building MQTT will: %w", err)
	}
	mqttClient, err := mqtt.Connect(cfg.MQTT, will)
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
	mqttClient.SetLogger(log.Component("mqtt"))
	mqttClient.SetOnConnect(func() {
		log.Info("MQTT reconnected")
	})
	mqttClient.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)

	var (
		telemetry      advantageair.TelemetryWriter
		telemetryStats api.TelemetryStats
	)
	influxClient, err := influxdb.Connect(ctx, cfg.InfluxDB)
	switch {
	case errors.Is(err, influxdb.ErrDisabled):
		log.Info("InfluxDB disabled")
	case err != nil:
		return fmt.Errorf("connecting to InfluxDB: %w", err)
	default:
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		telemetry, telemetryStats = influxClient, influxClient
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	}

	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}

	devices, err := buildDevices(cfg, log)
	if err != nil {
		return err
	}

	bridge, err := advantageair.NewBridge(advantageair.BridgeOptions{
		BridgeID:       cfg.Bridge.ID,
		Version:        version,
		Devices:        devices,
		MQTTClient:     &mqttBridgeAdapter{client: mqttClient},
		Telemetry:      telemetry,
		CommandLog:     &commandLogAdapter{repo: commandRepo},
		HealthInterval: cfg.GetHealthInterval(),
		Logger:         log.Component("bridge"),
	})
	if err != nil {
		return fmt.Errorf("creating bridge: %w", err)
	}

	server, err := api.New(api.Deps{
		Config:    cfg.API,
		WS:        cfg.WebSocket,
		Logger:    log,
		Bridge:    bridge,
		Commands:  commandRepo,
		MQTT:      mqttClient,
		Telemetry: telemetryStats,
		DB:        db,
		Version:   version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return bridge.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		return server.Close()
	})

	log.Info("initialisation complete, waiting for shutdown signal")

	if err := g.Wait(); err != nil {
		return err
	}

	log.Info("Gray Logic Aircon stopped")
	return nil
}

// getConfigPath returns GRAYLOGIC_CONFIG if set, otherwise the default path.
func getConfigPath() string {
	if path := os.Getenv("GRAYLOGIC_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// bridgeWill is the offline health message the broker publishes for us if
// the process dies without a clean disconnect.
func bridgeWill(bridgeID string) (mqtt.Will, error) {
	payload, err := json.Marshal(advantageair.NewLWTMessage(bridgeID))
	if err != nil {
		return mqtt.Will{}, err
	}
	return mqtt.Will{Topic: advantageair.HealthTopic(), Payload: payload}, nil
}

// buildDevices creates one controller connection per configured device.
func buildDevices(cfg *config.Config, log *logging.Logger) ([]advantageair.Device, error) {
	devices := make([]advantageair.Device, 0, len(cfg.Devices))
	for _, d := range cfg.Devices {
		conn, err := advantageair.NewConnection(advantageair.Options{
			Host:           d.Host,
			Port:           d.Port,
			Retry:          d.Retry,
			RequestTimeout: d.GetRequestTimeout(),
			CoalesceWindow: cfg.GetCoalesceWindow(),
			Logger:         log.Device(d.ID),
		})
		if err != nil {
			return nil, fmt.Errorf("device %s: %w", d.ID, err)
		}
		devices = append(devices, advantageair.Device{
			ID:           d.ID,
			Name:         d.Name,
			Conn:         conn,
			PollInterval: d.GetPollInterval(),
		})
	}
	return devices, nil
}

// healthCheck verifies all infrastructure connections are healthy.
// influxClient may be nil when telemetry is disabled.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if err := mqttClient.HealthCheck(ctx); err != nil {
		return fmt.Errorf("mqtt: %w", err)
	}
	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}
	return nil
}

// mqttPublisher is the part of *mqtt.Client the bridge adapter uses.
type mqttPublisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	IsConnected() bool
}

// mqttBridgeAdapter adapts the infrastructure MQTT client to the bridge's
// MQTTClient interface, whose handlers do not return errors.
type mqttBridgeAdapter struct {
	client mqttPublisher
}

func (a *mqttBridgeAdapter) Publish(topic string, payload []byte, qos byte, retained bool) error {
	return a.client.Publish(topic, payload, qos, retained)
}

func (a *mqttBridgeAdapter) Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error {
	return a.client.Subscribe(topic, qos, func(t string, p []byte) error {
		handler(t, p)
		return nil
	})
}

func (a *mqttBridgeAdapter) IsConnected() bool {
	return a.client.IsConnected()
}

// commandLogAdapter stores bridge command records in the audit repository.
type commandLogAdapter struct {
	repo audit.Repository
}

func (a *commandLogAdapter) RecordCommand(ctx context.Context, rec advantageair.CommandRecord) error {
	return a.repo.Create(ctx, &audit.Entry{
		ID:       rec.ID,
		DeviceID: rec.DeviceID,
		Endpoint: rec.Endpoint,
		Source:   rec.Source,
		Change:   rec.Change,
		Status:   string(rec.Status),
		Error:    rec.Error,
	})
}
