// devsync - offline-first command and telemetry sync core.
//
// This is the main entry point for the devsync daemon. It keeps a durable
// local queue of device commands, delivers them over MQTT gateways when a
// device is reachable, and reconciles devices, telemetry and configuration
// with the remote backend whenever connectivity allows.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	_ "github.com/nerrad567/devsync-core/migrations"

	"github.com/nerrad567/devsync-core/internal/api"
	"github.com/nerrad567/devsync-core/internal/auth"
	"github.com/nerrad567/devsync-core/internal/device"
	"github.com/nerrad567/devsync-core/internal/dispatch"
	"github.com/nerrad567/devsync-core/internal/infrastructure/config"
	"github.com/nerrad567/devsync-core/internal/infrastructure/database"
	"github.com/nerrad567/devsync-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/devsync-core/internal/infrastructure/logging"
	"github.com/nerrad567/devsync-core/internal/infrastructure/metrics"
	"github.com/nerrad567/devsync-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/devsync-core/internal/queue"
	"github.com/nerrad567/devsync-core/internal/remote"
	"github.com/nerrad567/devsync-core/internal/scheduler"
	"github.com/nerrad567/devsync-core/internal/settings"
	"github.com/nerrad567/devsync-core/internal/syncengine"
	"github.com/nerrad567/devsync-core/internal/telemetry"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
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

// run is the actual application logic, separated from main for testability.
// It returns nil on clean shutdown.
func run(ctx context.Context) error { //nolint:gocognit,gocyclo // linear wiring of every component
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting devsync",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
		"node_id", cfg.Node.ID,
	)

	// Database
	db, err := database.Open(database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
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
	log.Info("database connected", "path", cfg.Database.Path)

	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	if cfg.Metrics.Enabled {
		metrics.Init(db.DB, log.Component("metrics"))
	}

	// Device registry
	registry := device.NewRegistry(device.NewSQLiteRepository(db.DB))
	registry.SetLogger(log.Component("device"))
	if refreshErr := registry.RefreshCache(ctx); refreshErr != nil {
		return fmt.Errorf("loading device registry: %w", refreshErr)
	}
	log.Info("device registry initialised", "devices", registry.GetDeviceCount())

	health := map[string]api.HealthChecker{"database": db}

	// MQTT (optional). Without it no device is directly reachable and every
	// command is forwarded through the backend.
	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(cfg.MQTT)
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
		health["mqtt"] = mqttClient
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)
	} else {
		log.Info("MQTT disabled")
	}
	qos := byte(cfg.MQTT.QoS)

	// InfluxDB (optional)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(ctx, cfg.InfluxDB, cfg.Node.ID)
		if err != nil {
			// SQLite remains authoritative; run without the mirror.
			log.Warn("InfluxDB unavailable, telemetry mirror off", "error", err)
		}
	}
	if influxClient != nil {
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		health["influxdb"] = influxClient
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	} else if !cfg.InfluxDB.Enabled {
		log.Info("InfluxDB disabled")
	}

	// Hardware dispatch. Gateways for every protocol sit behind MQTT.
	router := dispatch.NewRouter()
	if mqttClient != nil {
		transport := dispatch.NewMQTTTransport(mqttClient, qos)
		transport.SetLogger(log.Component("dispatch"))
		if startErr := transport.Start(); startErr != nil {
			return fmt.Errorf("starting MQTT transport: %w", startErr)
		}
		for _, p := range device.AllProtocols() {
			router.Register(string(p), transport)
		}
	}

	// Command queue
	manager := queue.NewManager(queue.NewSQLiteRepository(db.DB), registry, router, queue.Policy{
		BaseDelay:         cfg.Queue.BaseDelayDuration(),
		MaxDelay:          cfg.Queue.MaxDelayDuration(),
		DefaultMaxRetries: cfg.Queue.DefaultMaxRetries,
		DispatchTimeout:   cfg.Queue.DispatchTimeoutDuration(),
		SentTimeout:       cfg.Queue.SentTimeoutDuration(),
	})
	manager.SetLogger(log.Component("queue"))
	registry.OnDelete(manager.HandleDeviceDeleted)

	processor := queue.NewProcessor(manager, queue.ProcessorConfig{
		Workers:      cfg.Queue.Workers,
		BatchSize:    cfg.Queue.BatchSize,
		PollInterval: cfg.Queue.PollIntervalDuration(),
	})
	processor.SetLogger(log.Component("processor"))

	// Telemetry and configuration stores
	recorder := telemetry.NewRecorder(telemetry.NewSQLiteRepository(db.DB))
	recorder.SetLogger(log.Component("telemetry"))
	if influxClient != nil {
		recorder.SetMirror(influxClient)
	}

	if mqttClient != nil {
		ingestor := telemetry.NewIngestor(recorder, registry)
		ingestor.SetLogger(log.Component("ingest"))
		if influxClient != nil {
			ingestor.SetStatusMirror(influxClient)
		}
		if subErr := ingestor.Subscribe(mqttClient, qos); subErr != nil {
			return fmt.Errorf("subscribing to device telemetry: %w", subErr)
		}
		log.Info("MQTT subscriptions active", "topics", mqttClient.Subscriptions())
	}

	store := settings.NewStore(settings.NewSQLiteRepository(db.DB))
	store.SetLogger(log.Component("settings"))

	// WebSocket hub receives every command transition; the processor is
	// woken by new and retried commands.
	hub := api.NewHub(cfg.WebSocket, log.Component("websocket"))
	manager.SetEventSink(queue.MultiSink{processor, hub})

	// Sync engine (optional)
	sched := scheduler.New()
	sched.SetLogger(log.Component("scheduler"))

	var engine *syncengine.Engine
	if cfg.Sync.Enabled {
		engine, err = buildSyncEngine(cfg, db, registry, manager, recorder, store, log)
		if err != nil {
			return err
		}
		engine.AddObserver(hub)
		if mqttClient != nil {
			engine.AddObserver(syncEvents{client: mqttClient, log: log})
		}
		defer engine.Wait()

		if addErr := sched.Add(syncJob(cfg, engine, db, mqttClient)); addErr != nil {
			return fmt.Errorf("scheduling sync: %w", addErr)
		}

		if mqttClient != nil {
			mqttClient.SetOnConnect(func() {
				log.Info("MQTT reconnected, triggering sync")
				engine.TriggerAsync(ctx)
			})
		}
		log.Info("sync engine enabled",
			"remote", cfg.Remote.BaseURL,
			"interval", cfg.Sync.IntervalDuration(),
		)
	} else {
		// Without sync the cleanup step never runs, so expiry and the retry
		// sweep are scheduled on their own.
		if addErr := sched.Add(sweepJob(cfg, manager)); addErr != nil {
			return fmt.Errorf("scheduling queue sweep: %w", addErr)
		}
		log.Info("sync engine disabled")
	}

	if mqttClient != nil {
		mqttClient.SetOnDisconnect(func(err error) {
			log.Warn("MQTT disconnected", "error", err)
		})
	}

	// API server
	apiServer, err := api.New(api.Deps{
		Config:      cfg.API,
		WS:          cfg.WebSocket,
		Security:    cfg.Security,
		Metrics:     cfg.Metrics,
		Logger:      log.Component("api"),
		Devices:     registry,
		Commands:    manager,
		Telemetry:   recorder,
		Settings:    store,
		Sync:        engine,
		Health:      health,
		ExternalHub: hub,
		Version:     version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})
	g.Go(func() error { return processor.Run(gctx) })
	g.Go(func() error { return sched.Run(gctx) })

	if startErr := apiServer.Start(gctx); startErr != nil {
		return fmt.Errorf("starting API server: %w", startErr)
	}
	defer func() {
		if closeErr := apiServer.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	if err := healthCheck(ctx, health); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("initialisation complete, waiting for shutdown signal",
		"address", fmt.Sprintf("%s:%d", cfg.API.Host, cfg.API.Port),
	)

	<-gctx.Done()
	log.Info("shutdown signal received, cleaning up")

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	log.Info("devsync stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses DEVSYNC_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("DEVSYNC_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// buildSyncEngine creates the remote client and the engine reconciling
// the local stores against it.
func buildSyncEngine(
	cfg *config.Config,
	db *database.DB,
	registry *device.Registry,
	manager *queue.Manager,
	recorder *telemetry.Recorder,
	store *settings.Store,
	log *logging.Logger,
) (*syncengine.Engine, error) {
	tokens := auth.NewStaticTokenSource(cfg.Remote.Token)
	client, err := remote.NewClient(cfg.Remote, tokens)
	if err != nil {
		return nil, fmt.Errorf("creating remote client: %w", err)
	}
	client.SetLogger(log.Component("remote"))

	engine := syncengine.NewEngine(syncengine.Deps{
		Remote:    client,
		Tokens:    tokens,
		Health:    db,
		Devices:   registry,
		Commands:  manager,
		Telemetry: recorder,
		Config:    store,
	}, syncengine.Config{
		UserID:             cfg.Remote.UserID,
		BatchSize:          cfg.Sync.BatchSize,
		TelemetryRetention: cfg.Sync.TelemetryRetentionDuration(),
		CommandsRetention:  cfg.Sync.CommandsRetentionDuration(),
		ConfigRetention:    cfg.Sync.ConfigRetentionDuration(),
		SentTimeout:        cfg.Queue.SentTimeoutDuration(),
	})
	engine.SetLogger(log.Component("sync"))
	return engine, nil
}

// syncJob runs the engine periodically. Ticks are skipped while the store
// is unhealthy or, when MQTT is enabled, while the broker is unreachable.
func syncJob(cfg *config.Config, engine *syncengine.Engine, db *database.DB, mqttClient *mqtt.Client) scheduler.Job {
	pre := []scheduler.Precondition{
		{Name: "store", Check: db.HealthCheck},
	}
	if mqttClient != nil {
		pre = append(pre, scheduler.Precondition{Name: "network", Check: mqttClient.HealthCheck})
	}

	return scheduler.Job{
		Name:          "sync",
		Interval:      cfg.Sync.IntervalDuration(),
		RunOnStart:    true,
		Preconditions: pre,
		Run: func(ctx context.Context) error {
			_, err := engine.Run(ctx)
			if errors.Is(err, syncengine.ErrAlreadyRunning) {
				return nil
			}
			return err
		},
	}
}

// sweepJob expires stale commands, times out unconfirmed deliveries and
// requeues due retries.
func sweepJob(cfg *config.Config, manager *queue.Manager) scheduler.Job {
	return scheduler.Job{
		Name:     "queue_sweep",
		Interval: cfg.Queue.BaseDelayDuration(),
		Run: func(ctx context.Context) error {
			now := time.Now().UTC()
			if _, err := manager.ExpireStale(ctx, now); err != nil {
				return fmt.Errorf("expiring commands: %w", err)
			}
			if _, err := manager.FailUnconfirmed(ctx, now.Add(-manager.Policy().SentTimeout)); err != nil {
				return fmt.Errorf("timing out commands: %w", err)
			}
			if _, err := manager.RetrySweep(ctx, now); err != nil {
				return fmt.Errorf("retry sweep: %w", err)
			}
			return nil
		},
	}
}

// syncEvents announces finished sync runs to gateways on
// devsync/core/event/sync_finished.
type syncEvents struct {
	client *mqtt.Client
	log    *logging.Logger
}

func (e syncEvents) SyncFinished(result *syncengine.Result) {
	if result == nil || !e.client.IsConnected() {
		return
	}
	if err := e.client.PublishEvent("sync_finished", result); err != nil {
		e.log.Warn("publishing sync event", "error", err)
	}
}

// healthCheck verifies all infrastructure connections are healthy.
// It returns the first failure.
func healthCheck(ctx context.Context, checks map[string]api.HealthChecker) error {
	for name, c := range checks {
		if err := c.HealthCheck(ctx); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}
