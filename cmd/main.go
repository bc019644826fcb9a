package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	log "github.com/sirupsen/logrus"

	"github.com/ukydev/fleet-telemetry/internal/auth"
	"github.com/ukydev/fleet-telemetry/internal/config"
	"github.com/ukydev/fleet-telemetry/internal/cooldown"
	"github.com/ukydev/fleet-telemetry/internal/db"
	"github.com/ukydev/fleet-telemetry/internal/handlers"
	"github.com/ukydev/fleet-telemetry/internal/ingest"
	"github.com/ukydev/fleet-telemetry/internal/middleware"
	"github.com/ukydev/fleet-telemetry/internal/monitor"
	"github.com/ukydev/fleet-telemetry/internal/telemetry"
)

// catalogSource supplies stored rules layered over a base catalog.
type catalogSource interface {
	Catalog(ctx context.Context, base *telemetry.Catalog) (*telemetry.Catalog, error)
}

// buildCatalog applies environment overrides to the defaults, then stored
// rules. A store that cannot be read leaves the environment catalog in place.
func buildCatalog(ctx context.Context, stored catalogSource) (*telemetry.Catalog, error) {
	catalog, err := config.ApplyThresholdOverrides(telemetry.DefaultCatalog())
	if err != nil {
		return nil, err
	}
	if stored == nil {
		return catalog, nil
	}
	withStored, err := stored.Catalog(ctx, catalog)
	if err != nil {
		log.WithError(err).Warn("Stored thresholds unavailable, using defaults and environment")
		return catalog, nil
	}
	return withStored, nil
}

// newSuppressor returns the Redis cooldown when one is configured and
// reachable, and nil otherwise.
func newSuppressor(ctx context.Context, cfg *config.Config) telemetry.Suppressor {
	if cfg.AlertCooldown <= 0 {
		return nil
	}
	client, err := cooldown.NewRedisClient(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		log.WithError(err).WithField("addr", cfg.RedisAddr).Warn("Redis unavailable, alert cooldown disabled")
		return nil
	}
	log.WithFields(log.Fields{"addr": cfg.RedisAddr, "cooldown": cfg.AlertCooldown}).Info("Alert cooldown enabled")
	return cooldown.NewRedisCooldown(client, cfg.AlertCooldown)
}

// routes builds the HTTP API around the engine and collections.
func routes(cfg *config.Config, engine handlers.Engine, store *db.MongoStore, users db.UserCollection, thresholds handlers.ThresholdSaver) http.Handler {
	authService := auth.NewService(cfg.JWTSecret, cfg.JWTExpiry)
	return handlers.NewRouter(handlers.RouterConfig{
		Auth:            handlers.NewAuthHandler(authService, users, store),
		Telemetry:       handlers.NewTelemetryHandler(engine, store, store, thresholds),
		Vehicles:        handlers.NewVehicleHandler(store),
		AuthMiddleware:  middleware.NewAuthMiddleware(authService),
		RateLimiter:     middleware.NewRateLimitMiddleware(),
		RateLimit:       cfg.RateLimit,
		RateLimitWindow: cfg.RateLimitWindow,
	})
}

// startMQTT connects to the broker and subscribes the engine. It returns a
// stop function.
func startMQTT(ctx context.Context, cfg *config.Config, engine ingest.Recorder) (func(), error) {
	client := mqtt.NewClient(ingest.NewClientOptions(cfg.MQTTBroker, cfg.MQTTClientID))
	token := client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return nil, errors.New("mqtt connect timed out")
	}
	if err := token.Error(); err != nil {
		return nil, err
	}

	sub := ingest.NewSubscriber(client, cfg.MQTTTopic, engine, cfg.MQTTWorkers)
	if err := sub.Start(ctx); err != nil {
		client.Disconnect(250)
		return nil, err
	}
	return func() {
		sub.Stop()
		client.Disconnect(250)
	}, nil
}

func main() {
	cfg := config.Load()
	cfg.SetupLogging()

	client, err := db.ConnectMongo(cfg.MongoURI)
	if err != nil {
		log.WithError(err).Fatal("Failed to connect to MongoDB")
	}
	log.Info("Connected to MongoDB successfully")
	defer func() {
		if err := client.Disconnect(context.Background()); err != nil {
			log.WithError(err).Warn("MongoDB disconnect failed")
		}
	}()

	database := client.Database(cfg.MongoDB)
	store := db.NewMongoStore(database)
	thresholds := &db.ThresholdStore{Collection: database.Collection(db.ThresholdsCollection)}
	users := &db.MongoUserCollection{Collection: database.Collection(db.UsersCollection)}

	setupCtx, cancelSetup := context.WithTimeout(context.Background(), 30*time.Second)
	if err := store.EnsureIndexes(setupCtx); err != nil {
		log.WithError(err).Warn("Failed to create indexes")
	}
	if err := users.EnsureIndexes(setupCtx); err != nil {
		log.WithError(err).Warn("Failed to create user indexes")
	}
	catalog, err := buildCatalog(setupCtx, thresholds)
	if err != nil {
		cancelSetup()
		log.WithError(err).Fatal("Invalid threshold configuration")
	}
	suppressor := newSuppressor(setupCtx, cfg)
	cancelSetup()

	var opts []telemetry.Option
	if suppressor != nil {
		opts = append(opts, telemetry.WithSuppressor(suppressor))
	}
	engine := telemetry.NewEngine(store, catalog, cfg.Estimates, opts...)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	offline := monitor.NewOfflineMonitor(store, engine.Alerts(), suppressor)
	if err := offline.Start(cfg.OfflineSweepSchedule); err != nil {
		log.WithError(err).Fatal("Failed to schedule offline sweep")
	}
	defer offline.Stop()

	if cfg.MQTTBroker != "" {
		stopMQTT, err := startMQTT(ctx, cfg, engine)
		if err != nil {
			log.WithError(err).WithField("broker", cfg.MQTTBroker).Error("MQTT ingestion disabled")
		} else {
			defer stopMQTT()
		}
	}

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           routes(cfg, engine, store, users, thresholds),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}

	go func() {
		log.WithField("port", cfg.Port).Info("HTTP server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("HTTP server failed")
		}
	}()

	<-ctx.Done()
	log.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("HTTP shutdown failed")
	}
}
