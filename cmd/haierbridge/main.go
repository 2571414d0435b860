// Haier bridge - connects a Haier smart-home cloud account to a local MQTT bus.
//
// The bridge lists the account's devices, caches their attribute models in
// SQLite, keeps one gateway WebSocket session open for live pushes and
// relays state and commands over MQTT and a small HTTP API.
//
// Usage:
//
//	haierbridge                         run the bridge
//	haierbridge -check-account          refresh the token, print the account and exit
//	haierbridge -issue-token NAME       print an API bearer token and exit
//
// The configuration path comes from HAIER_CONFIG (default configs/config.yaml).
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/haier-bridge/internal/api"
	"github.com/nerrad567/haier-bridge/internal/auth"
	"github.com/nerrad567/haier-bridge/internal/bridges/haier"
	"github.com/nerrad567/haier-bridge/internal/infrastructure/config"
	"github.com/nerrad567/haier-bridge/internal/infrastructure/database"
	"github.com/nerrad567/haier-bridge/internal/infrastructure/influxdb"
	"github.com/nerrad567/haier-bridge/internal/infrastructure/logging"
	"github.com/nerrad567/haier-bridge/internal/infrastructure/mqtt"
	"github.com/nerrad567/haier-bridge/migrations"
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

// bridgeID identifies this bridge in health messages.
const bridgeID = "haier-bridge"

func main() {
	var (
		issueToken   = flag.String("issue-token", "", "print an API bearer token for `subject` and exit")
		role         = flag.String("role", string(auth.RoleViewer), "role of the issued token (viewer or operator)")
		checkAccount = flag.Bool("check-account", false, "validate the configured account and exit")
	)
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var err error
	switch {
	case *issueToken != "":
		err = runIssueToken(os.Stdout, *issueToken, auth.Role(*role))
	case *checkAccount:
		err = runCheckAccount(ctx, os.Stdout)
	default:
		err = run(ctx)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the bridge daemon, separated from main for testability.
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting Haier bridge",
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

	db, err := database.Open(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()

	applied, err := db.Migrate(ctx, migrations.FS)
	if err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	log.Info("database ready", "path", db.Path(), "migrations_applied", applied)

	client := newCloudClient(cfg, log)
	tokens, err := openTokenStore(ctx, cfg, client, db, log)
	if err != nil {
		return err
	}
	client.SetTokenProvider(tokens)

	bus := haier.NewBus(log.Component("events"))

	state := haier.NewStateTracker()
	defer bus.SubscribeData(state.OnDataChanged)()
	defer bus.SubscribeStatus(state.OnStatusChanged)()

	gateway := haier.NewGateway(haier.GatewayOptions{
		Resolver: client,
		Tokens:   tokens,
		EnsureToken: func(ctx context.Context) error {
			return tokens.EnsureFresh(ctx, haier.DefaultRefreshMargin)
		},
		Publisher:         bus,
		Controls:          bus,
		HeartbeatInterval: cfg.Gateway.HeartbeatIntervalDuration(),
		ReconnectDelay:    cfg.Gateway.ReconnectDelayDuration(),
		HandshakeTimeout:  time.Duration(cfg.Gateway.HandshakeTimeout) * time.Second,
		WriteTimeout:      time.Duration(cfg.Gateway.WriteTimeout) * time.Second,
		Logger:            log.Component("gateway"),
	})

	topics := haier.Topics{Prefix: cfg.MQTT.TopicPrefix}
	healthCfg := haier.HealthReporterConfig{
		BridgeID: bridgeID,
		Version:  version,
		Interval: time.Duration(cfg.Gateway.HealthInterval) * time.Second,
		Gateway:  gateway,
		Topics:   topics,
		Logger:   log.Component("health"),
	}

	var (
		mqttClient   *mqtt.Client
		influxClient *influxdb.Client
	)
	if cfg.MQTT.Enabled {
		var mqttErr error
		mqttClient, mqttErr = mqtt.Connect(cfg.MQTT)
		if mqttErr != nil {
			return fmt.Errorf("connecting to MQTT: %w", mqttErr)
		}
		defer func() {
			stats := mqttClient.Stats()
			log.Info("disconnecting from MQTT",
				"published", stats.Published,
				"received", stats.Received,
				"reconnects", stats.Reconnects,
			)
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		mqttClient.SetLogger(log.Component("mqtt"))
		mqttClient.SetOnConnect(func() { log.Info("MQTT reconnected") })
		mqttClient.SetOnDisconnect(func(err error) { log.Warn("MQTT disconnected", "error", err) })
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)

		mqttBridge := haier.NewMQTTEventBridge(mqttClient, topics, byte(cfg.MQTT.QoS), bus, log.Component("mqtt-bridge"))
		if startErr := mqttBridge.Start(); startErr != nil {
			return fmt.Errorf("starting MQTT event bridge: %w", startErr)
		}
		defer mqttBridge.Stop()
		defer bus.SubscribeData(mqttBridge.OnDataChanged)()
		defer bus.SubscribeStatus(mqttBridge.OnStatusChanged)()

		healthCfg.Publisher = mqttClient
	} else {
		log.Info("MQTT disabled")
	}

	if cfg.InfluxDB.Enabled {
		var influxErr error
		influxClient, influxErr = influxdb.Connect(ctx, cfg.InfluxDB)
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
		defer bus.SubscribeData(haier.NewTelemetryRecorder(influxClient).OnDataChanged)()
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	} else {
		log.Info("InfluxDB disabled")
	}

	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("startup health check: %w", err)
	}
	log.Info("startup health check passed")

	health := haier.NewHealthReporter(healthCfg)
	if pubErr := health.PublishStarting(); pubErr != nil {
		log.Debug("starting health not published", "error", pubErr)
	}

	service := haier.NewService(haier.ServiceOptions{
		API: client,
		Attributes: haier.NewAttributeCache(
			haier.NewSQLiteCacheStore(db.DB), client, log.Component("cache"),
		),
		Listener: gateway,
		Events:   bus,
		Filter: haier.DeviceFilter{
			Mode:    cfg.Devices.FilterType,
			Targets: cfg.Devices.Targets,
		},
		Tokens: tokens,
		Health: health,
		Logger: log.Component("service"),
	})

	var apiServer *api.Server
	if cfg.API.Enabled {
		apiServer, err = api.New(api.Deps{
			Config:   cfg.API,
			Security: cfg.Security,
			Logger:   log.Component("api"),
			Service:  service,
			State:    state,
			Health:   health,
			Version:  version,
		})
		if err != nil {
			return fmt.Errorf("creating API server: %w", err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if startErr := service.Start(gctx); startErr != nil {
			return fmt.Errorf("starting bridge service: %w", startErr)
		}
		health.Start(gctx)
		log.Info("bridge service started", "devices", len(service.Devices()))

		defer func() {
			log.Info("stopping bridge service")
			health.Stop()
			service.Stop()
		}()
		return superviseService(gctx, service, log)
	})

	if apiServer != nil {
		g.Go(func() error {
			if startErr := apiServer.Start(gctx); startErr != nil {
				return fmt.Errorf("starting API server: %w", startErr)
			}
			<-gctx.Done()
			return apiServer.Close()
		})
	}

	log.Info("initialisation complete, waiting for shutdown signal")
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	log.Info("Haier bridge stopped")
	return nil
}

// healthCheck verifies every backing service answers before the bridge
// starts. mqttClient and influxClient are nil when disabled.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if mqttClient != nil {
		if err := mqttClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
	}
	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}
	return nil
}

// superviseService reloads the device list on SIGHUP and returns when
// ctx ends or the gateway listener gives up.
func superviseService(ctx context.Context, service *haier.Service, log *logging.Logger) error {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-hup:
			log.Info("SIGHUP received, reloading devices")
			if err := service.Reload(ctx); err != nil {
				log.Error("reload failed", "error", err)
			}
		case err := <-service.Errors():
			return fmt.Errorf("gateway listener: %w", err)
		}
	}
}

// newCloudClient builds the REST client from the cloud and account sections.
func newCloudClient(cfg *config.Config, log *logging.Logger) *haier.Client {
	ep := cfg.Cloud.Endpoints
	return haier.NewClient(haier.ClientOptions{
		Credentials: haier.Credentials{
			AppID:    cfg.Cloud.AppID,
			AppKey:   cfg.Cloud.AppKey,
			ClientID: cfg.Account.ClientID,
			Timezone: cfg.Cloud.Timezone,
			Language: cfg.Cloud.Language,
		},
		Endpoints: haier.Endpoints{
			RefreshToken:  ep.RefreshToken,
			UserInfo:      ep.UserInfo,
			Devices:       ep.Devices,
			GatewayAssign: ep.GatewayAssign,
			DigitalModel:  ep.DigitalModel,
		},
		HTTPClient: &http.Client{Timeout: time.Duration(cfg.Cloud.HTTPTimeout) * time.Second},
		Logger:     log.Component("client"),
	})
}

// openTokenStore loads the persisted token pair, falling back to the
// configured seed. Without any access token the account is validated
// once, which also fetches and persists a fresh pair.
func openTokenStore(ctx context.Context, cfg *config.Config, client *haier.Client, db *database.DB, log *logging.Logger) (*haier.TokenStore, error) {
	tokens := newTokenStore(cfg, client, db, log)
	if err := tokens.Load(ctx); err != nil {
		return nil, fmt.Errorf("loading stored token: %w", err)
	}

	if tokens.AccessToken() == "" {
		if _, err := validateAccount(ctx, client, tokens, log); err != nil {
			return nil, err
		}
	}

	if err := tokens.EnsureFresh(ctx, haier.DefaultRefreshMargin); err != nil {
		return nil, fmt.Errorf("refreshing access token: %w", err)
	}
	return tokens, nil
}

// validateAccount refreshes the store's pair and checks it against the
// user-info endpoint, then adopts the fresh pair.
func validateAccount(ctx context.Context, client *haier.Client, tokens *haier.TokenStore, log *logging.Logger) (haier.AccountValidation, error) {
	account, err := haier.ValidateAccount(ctx, client, tokens.Current().RefreshToken)
	if err != nil {
		return haier.AccountValidation{}, fmt.Errorf("validating account: %w", err)
	}
	if err := tokens.Adopt(ctx, account.Token); err != nil {
		log.Warn("failed to persist validated token", "error", err)
	}
	log.Info("account validated", "user_id", account.User.UserID)
	return account, nil
}

// newTokenStore seeds a store from the account section, backed by SQLite.
func newTokenStore(cfg *config.Config, client *haier.Client, db *database.DB, log *logging.Logger) *haier.TokenStore {
	return haier.NewTokenStore(haier.TokenStoreOptions{
		ClientID:   cfg.Account.ClientID,
		Refresher:  client,
		Repository: haier.NewSQLiteTokenRepository(db.DB),
		Seed: haier.StoredToken{
			TokenInfo: haier.TokenInfo{
				AccessToken:  cfg.Account.AccessToken,
				RefreshToken: cfg.Account.RefreshToken,
			},
			ExpiresAt: cfg.Account.ExpiresAtTime(),
		},
		Logger: log.Component("tokens"),
	})
}

// runCheckAccount refreshes the configured account's token, persists it
// and prints who it belongs to.
func runCheckAccount(ctx context.Context, out io.Writer) error {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log := logging.New(cfg.Logging, version)

	db, err := database.Open(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close() //nolint:errcheck // Process exits next
	if _, err := db.Migrate(ctx, migrations.FS); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	client := newCloudClient(cfg, log)
	tokens := newTokenStore(cfg, client, db, log)
	if err := tokens.Load(ctx); err != nil {
		return fmt.Errorf("loading stored token: %w", err)
	}

	account, err := validateAccount(ctx, client, tokens, log)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "account %s ok: user %s (%s), token expires %s\n",
		cfg.Account.ClientID, account.User.UserID, account.User.Username,
		account.Token.ExpiresAt.Format(time.RFC3339))
	return nil
}

// runIssueToken mints an API bearer token with the configured secret.
func runIssueToken(out io.Writer, subject string, role auth.Role) error {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if cfg.Security.JWT.Secret == "" {
		return errors.New("security.jwt.secret is not set; the API is unauthenticated")
	}

	ttl := time.Duration(cfg.Security.JWT.AccessTokenTTL) * time.Minute
	token, err := auth.GenerateAccessToken(subject, role, cfg.Security.JWT.Secret, ttl)
	if err != nil {
		return fmt.Errorf("issuing token: %w", err)
	}
	fmt.Fprintln(out, token)
	return nil
}

// getConfigPath returns the configuration file path.
// Uses HAIER_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("HAIER_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}
