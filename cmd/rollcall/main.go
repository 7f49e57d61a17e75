// Rollcall - attendance capture from card readers and manual entry
//
// This is the main entry point for the rollcall service. It reads credential
// frames from an attached RFID reader (serial or network), resolves them
// against a local directory with an optional remote fallback, and records
// check-ins and check-outs in an append-only SQLite ledger.
//
// Manual entry arrives over the HTTP API or from kiosks over MQTT and goes
// through the same pipeline as card taps.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/nerrad567/rollcall/internal/api"
	"github.com/nerrad567/rollcall/internal/attendance"
	"github.com/nerrad567/rollcall/internal/audit"
	"github.com/nerrad567/rollcall/internal/directory"
	"github.com/nerrad567/rollcall/internal/dispatch"
	"github.com/nerrad567/rollcall/internal/infrastructure/config"
	"github.com/nerrad567/rollcall/internal/infrastructure/database"
	"github.com/nerrad567/rollcall/internal/infrastructure/influxdb"
	"github.com/nerrad567/rollcall/internal/infrastructure/logging"
	"github.com/nerrad567/rollcall/internal/infrastructure/mqtt"
	"github.com/nerrad567/rollcall/internal/metrics"
	"github.com/nerrad567/rollcall/internal/notify"
	"github.com/nerrad567/rollcall/internal/reader"
	"github.com/nerrad567/rollcall/internal/scan"
	"github.com/nerrad567/rollcall/migrations"
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
	// Create a context that cancels on interrupt signals (Ctrl+C, SIGTERM)
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// Returning an error allows main to handle exit codes consistently.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context) error { //nolint:gocognit,gocyclo // linear startup sequence
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting rollcall",
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

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Open database
	db, err := database.Open(cfg.Database)
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

	if migrateErr := db.Migrate(ctx, migrations.FS); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	// Prometheus
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	kinds := make([]string, 0, len(dispatch.Kinds))
	for _, k := range dispatch.Kinds {
		kinds = append(kinds, string(k))
	}
	collector := metrics.NewCollector(registry, kinds, readerStateNames())

	normalizer, err := scan.NewNormalizer(cfg.Normalizer)
	if err != nil {
		return fmt.Errorf("creating normalizer: %w", err)
	}

	// Local directory. Enrolled credentials follow the manual-entry rules
	// so a card always resolves to its own enrolment.
	people := directory.NewSQLiteStore(db.DB)
	people.SetCredentialRule(normalizer.Credential)
	cache := directory.NewSnapshotCache()
	cache.SetLogger(log.Component("directory"))
	cache.OnReplace(collector.SetDirectorySize)
	if refreshErr := cache.Refresh(ctx, people); refreshErr != nil {
		return fmt.Errorf("loading directory: %w", refreshErr)
	}
	log.Info("directory loaded", "people", cache.Size())
	if cfg.Directory.RefreshInterval > 0 {
		go cache.RefreshEvery(ctx, people, time.Duration(cfg.Directory.RefreshInterval)*time.Second)
	}

	// Remote directory (optional)
	remote, closeRemote, err := openRemote(cfg.Directory)
	if err != nil {
		return fmt.Errorf("opening remote directory: %w", err)
	}
	defer closeRemote()

	var resolver *directory.Resolver
	var mirror api.DirectoryMirror
	if remote != nil {
		monitor := directory.NewProbeMonitor(remote, time.Duration(cfg.Directory.ProbeInterval)*time.Second)
		monitor.SetLogger(log.Component("directory"))
		monitor.OnChange(collector.SetRemoteOnline)
		monitor.Start(ctx)
		defer monitor.Close()
		resolver = directory.NewResolver(cache, remote, monitor, cfg.Directory.LookupTimeout())
		if m, ok := remote.(api.DirectoryMirror); ok {
			mirror = m
		}
		log.Info("remote directory enabled", "kind", cfg.Directory.Remote, "mirrors_enrolments", mirror != nil)
	} else {
		resolver = directory.NewResolver(cache, nil, nil, cfg.Directory.LookupTimeout())
		log.Info("remote directory disabled, resolving locally only")
	}
	resolver.SetLogger(log.Component("resolver"))
	collector.WatchResolver(resolver.Stats)

	// Scan pipeline
	machine := attendance.NewMachine(attendance.NewSQLiteLedger(db.DB))
	machine.SetLogger(log.Component("attendance"))

	dispatcher := dispatch.New(normalizer, resolver, machine, attendance.Mode(cfg.Attendance.DefaultMode))
	dispatcher.SetLogger(log.Component("dispatch"))

	auditRepo := audit.NewSQLiteRepository(db.DB)
	health := map[string]api.HealthChecker{"database": db}

	// MQTT (optional)
	var publisher notify.Publisher
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
		mqttClient.SetOnConnect(func() {
			log.Info("MQTT reconnected")
		})
		mqttClient.SetOnDisconnect(func(err error) {
			log.Warn("MQTT disconnected", "error", err)
		})
		publisher = mqttClient
		health["mqtt"] = mqttClient
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)
	} else {
		log.Info("MQTT disabled")
	}

	// InfluxDB (optional)
	var series notify.SeriesWriter
	if cfg.InfluxDB.Enabled {
		influxClient, influxErr := influxdb.Connect(cfg.InfluxDB)
		if influxErr != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", influxErr)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		series = influxClient
		health["influxdb"] = influxClient
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	} else {
		log.Info("InfluxDB disabled")
	}

	// Card reader
	transport := reader.NewAutoTransport()
	readers := reader.NewManager(transport, dispatcher.HandleDeviceFrame, reader.LineConfigFrom(cfg.Reader))
	readers.SetLogger(log.Component("reader"))

	// Side channels. The hub is shared with the API server so live
	// outcomes reach WebSocket clients.
	hub := api.NewHub(cfg.WebSocket, log.Component("websocket"))
	notifier := notify.New(notify.Deps{
		Site:        cfg.Site.ID,
		Publisher:   publisher,
		Broadcaster: hub,
		Series:      series,
		Metrics:     collector,
		Audit:       auditRepo,
	}, notify.DefaultBuffer)
	notifier.SetLogger(log.Component("notify"))
	notifierDone := make(chan struct{})
	notifierCtx, stopNotifier := context.WithCancel(context.Background())
	go func() {
		defer close(notifierDone)
		notifier.Run(notifierCtx)
	}()
	defer func() {
		stopNotifier()
		<-notifierDone
	}()

	dispatcher.Subscribe(notifier.Outcome)
	readers.OnStateChange(notifier.ReaderState)

	// API server
	server, err := api.New(api.Deps{
		Config:       cfg.API,
		WS:           cfg.WebSocket,
		Logger:       log.Component("api"),
		Scans:        dispatcher,
		Reader:       readers,
		Ports:        transport.Serial,
		Ledger:       machine.Ledger(),
		People:       people,
		Cache:        cache,
		Mirror:       mirror,
		Audit:        auditRepo,
		Metrics:      metrics.Handler(registry),
		Health:       health,
		OnModeChange: notifier.ModeChanged,
		ExternalHub:  hub,
		Version:      version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}

	if mqttClient != nil {
		if subErr := notify.ListenManualEntries(ctx, mqttClient, dispatcher, log.Component("mqtt")); subErr != nil {
			log.Warn("manual entry over MQTT unavailable", "error", subErr)
		}
	}

	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	defer func() {
		if closeErr := server.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	// Reader last, so the first frame finds every subscriber in place.
	defer func() {
		log.Info("closing reader")
		if closeErr := readers.Close(); closeErr != nil {
			log.Error("error closing reader", "error", closeErr)
		}
	}()
	readers.Detect()
	if cfg.Reader.AutoConnect {
		if connErr := readers.Connect(ctx, cfg.Reader.Device); connErr != nil {
			// Not fatal: an operator can connect from the API once the
			// device is plugged in.
			log.Warn("reader auto-connect failed", "device", cfg.Reader.Device, "error", connErr)
		}
	}

	if err := healthCheck(ctx, health); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal",
		"api", server.Addr(),
		"mode", dispatcher.Mode(),
	)

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred Close() calls run in reverse order: reader, API, notifier,
	// InfluxDB, MQTT, remote directory, database.

	log.Info("rollcall stopped", "scans_handled", dispatcher.Handled())
	return nil
}

// getConfigPath returns the configuration file path.
// Uses ROLLCALL_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("ROLLCALL_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// remoteDirectory is what the resolver and the probe monitor need.
type remoteDirectory interface {
	directory.Remote
	directory.Prober
}

// openRemote builds the configured remote directory. It returns a nil
// remote when none is configured, and always a usable close function.
func openRemote(cfg config.DirectoryConfig) (remoteDirectory, func(), error) {
	noop := func() {}
	switch cfg.Remote {
	case "", "none":
		return nil, noop, nil
	case "http":
		return directory.NewHTTPRemote(cfg.URL, cfg.LookupTimeout()), noop, nil
	case "redis":
		r, err := directory.DialRedisRemote(cfg.RedisURL)
		if err != nil {
			return nil, noop, err
		}
		return r, func() {
			r.Close() //nolint:errcheck,gosec // best effort on shutdown
		}, nil
	default:
		return nil, noop, fmt.Errorf("unknown remote directory %q", cfg.Remote)
	}
}

// readerStateNames lists every reader state for gauge pre-registration.
func readerStateNames() []string {
	states := []reader.ConnectionState{reader.StateOffline, reader.StateReady, reader.StateScanning, reader.StateError}
	names := make([]string, len(states))
	for i, s := range states {
		names[i] = s.String()
	}
	return names
}

// healthCheck verifies every registered component is healthy.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - checks: components by name
//
// Returns:
//   - error: every failure joined, or nil if all healthy
func healthCheck(ctx context.Context, checks map[string]api.HealthChecker) error {
	var errs []error
	for name, c := range checks {
		if err := c.HealthCheck(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}
