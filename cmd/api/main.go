package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/safar/go-storefront/internal/cache"
	"github.com/safar/go-storefront/internal/config"
	"github.com/safar/go-storefront/internal/database"
	"github.com/safar/go-storefront/internal/httpapi"
	"github.com/safar/go-storefront/internal/logging"
	"github.com/safar/go-storefront/internal/notify"
	"github.com/safar/go-storefront/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", slog.String("error", err.Error()))
		os.Exit(1)
	}

	log := logging.Init("storefront-api", cfg.Server.LogFile)

	db, err := database.NewConnection(context.Background(), &cfg.Database)
	if err != nil {
		log.Error("connect to database", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer db.Close()
	log.Info("connected to database")

	var statusCache *cache.Cache
	if cfg.Redis.Addr != "" {
		statusCache, err = cache.New(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.CacheTTL, cfg.Redis.IdemTTL)
		if err != nil {
			log.Error("connect to redis", slog.String("error", err.Error()))
			os.Exit(1)
		}
		defer statusCache.Close()
		log.Info("connected to redis", slog.String("addr", cfg.Redis.Addr))
	}

	var notifier notify.Notifier
	if len(cfg.Kafka.Brokers) > 0 {
		n := notify.NewKafkaNotifier(cfg.Kafka.Brokers, cfg.Kafka.AlertTopic, cfg.Kafka.EventTopic, logging.New("notify"))
		defer n.Close()
		notifier = n
		log.Info("kafka notifier enabled", slog.Any("brokers", cfg.Kafka.Brokers))
	} else {
		notifier = notify.NewLogNotifier(logging.New("notify"))
	}

	srv, err := httpapi.NewServer(db, statusCache, notifier, cfg)
	if err != nil {
		log.Error("build server", slog.String("error", err.Error()))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go sweepReservations(ctx, db, log)

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      httpapi.NewRouter(srv, cfg),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		log.Info("server starting", slog.String("port", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", slog.String("error", err.Error()))
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown", slog.String("error", err.Error()))
	}
}

// sweepReservations periodically removes expired stock holds. The sweep only
// deletes rows already past their TTL, so running it alongside live
// reservations is safe.
func sweepReservations(ctx context.Context, db *sql.DB, log *slog.Logger) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := store.SweepExpired(ctx, db)
			if err != nil {
				log.Error("sweep reservations", slog.String("error", err.Error()))
				continue
			}
			if removed > 0 {
				log.Info("swept expired reservations", slog.Int64("removed", removed))
			}
		}
	}
}
