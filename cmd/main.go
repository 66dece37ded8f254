package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ukydev/fleet-dashboard/internal/auth"
	"github.com/ukydev/fleet-dashboard/internal/config"
	"github.com/ukydev/fleet-dashboard/internal/db"
	"github.com/ukydev/fleet-dashboard/internal/fleet"
	"github.com/ukydev/fleet-dashboard/internal/handlers"
	"github.com/ukydev/fleet-dashboard/internal/notify"
	"github.com/ukydev/fleet-dashboard/internal/session"

	log "github.com/sirupsen/logrus"
)

const shutdownTimeout = 15 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	closeLogs, err := config.ConfigureLogging(cfg)
	if err != nil {
		log.Fatalf("Failed to configure logging: %v", err)
	}
	defer closeLogs()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	client, err := db.ConnectMongo(connectCtx, cfg.MongoURI)
	cancel()
	if err != nil {
		log.Fatalf("Failed to connect to MongoDB: %v", err)
	}
	defer client.Disconnect(context.Background())
	database := client.Database(cfg.MongoDB)
	log.WithField("database", cfg.MongoDB).Info("Connected to MongoDB")

	cache, closeCache := sessionCache(ctx, cfg)
	defer closeCache()
	publisher, closePublisher := analyticsPublisher(cfg)
	defer closePublisher()

	// Sessions outlive the request that signs them in, so the hub gets
	// the process context.
	hub := fleet.NewHub(ctx, &db.LiveSource{Database: database}, cache, publisher, log.StandardLogger())

	authService, err := auth.NewService(cfg.JWTSecret, cfg.JWTExpiry)
	if err != nil {
		log.Fatalf("Failed to create auth service: %v", err)
	}

	users := &db.MongoUserCollection{Collection: database.Collection(db.UsersCollection)}
	indexCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	err = users.EnsureIndexes(indexCtx)
	cancel()
	if err != nil {
		log.Fatalf("Failed to create user indexes: %v", err)
	}

	authHandler := handlers.NewAuthHandler(authService, users, hub, cache, log.StandardLogger())
	fleetHandler := handlers.NewFleetHandler(hub, handlers.Collections{
		Vehicles: &db.MongoCollection{Collection: database.Collection(db.VehiclesCollection)},
		Drivers:  &db.MongoCollection{Collection: database.Collection(db.DriversCollection)},
		Reports:  &db.MongoCollection{Collection: database.Collection(db.ReportsCollection)},
		Tracking: &db.MongoCollection{Collection: database.Collection(db.TrackingCollection)},
	}, log.StandardLogger())

	server := &http.Server{
		Addr:              cfg.ListenAddress(),
		Handler:           newRouter(cfg, authService, cache, authHandler, fleetHandler, log.StandardLogger()),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Infof("HTTP server listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("HTTP server failed: %v", err)
		}
	}()

	<-ctx.Done()
	log.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("HTTP server did not shut down cleanly")
	}
	if err := hub.Close(shutdownCtx); err != nil {
		log.WithError(err).Warn("Failed to close fleet sessions")
	}
}

// sessionCache uses Redis when REDIS_ADDR is set and the in-process cache
// otherwise, or when Redis cannot be reached.
func sessionCache(ctx context.Context, cfg *config.Config) (session.Backend, func()) {
	if cfg.RedisAddr == "" {
		return session.NewMemoryCache(), func() {}
	}
	cache, err := session.NewRedisCache(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.JWTExpiry)
	if err != nil {
		log.WithError(err).WithField("addr", cfg.RedisAddr).Warn("Redis unavailable, caching sessions in memory")
		return session.NewMemoryCache(), func() {}
	}
	log.WithField("addr", cfg.RedisAddr).Info("Caching sessions in Redis")
	return cache, func() {
		if err := cache.Close(); err != nil {
			log.WithError(err).Warn("Failed to close Redis client")
		}
	}
}

// analyticsPublisher returns nil when no MQTT broker is configured.
func analyticsPublisher(cfg *config.Config) (fleet.Publisher, func()) {
	if cfg.MQTTBroker == "" {
		return nil, func() {}
	}
	publisher, client, err := notify.ConnectMQTT(cfg.MQTTBroker, cfg.MQTTClientID, cfg.MQTTTopicPrefix)
	if err != nil {
		log.WithError(err).WithField("broker", cfg.MQTTBroker).Warn("MQTT unavailable, analytics will not be published")
		return nil, func() {}
	}
	log.WithField("broker", cfg.MQTTBroker).Info("Publishing analytics over MQTT")
	return publisher, func() { client.Disconnect(250) }
}
