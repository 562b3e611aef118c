/*
main.go - Application entry point

STARTUP SEQUENCE:
  1. Load configuration (file + LEDGER_* environment overrides)
  2. Build the zap logger
  3. Open the SQLite store
  4. Wire the cache (Redis when configured, in-process otherwise)
  5. Build the ledger service, price feed, and router
  6. Start the server with graceful shutdown

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM: stop accepting connections, wait up to 30s for
  in-flight requests, close the store, exit.
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/warp/token-ledger/api"
	"github.com/warp/token-ledger/auth"
	"github.com/warp/token-ledger/cache"
	"github.com/warp/token-ledger/config"
	"github.com/warp/token-ledger/ledger"
	"github.com/warp/token-ledger/logging"
	"github.com/warp/token-ledger/pricefeed"
	"github.com/warp/token-ledger/store/sqlite"
)

func main() {
	configPath := flag.String("config", "", "path to config file (yaml)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logging.New(cfg.LogLevel)
	defer log.Sync()

	store, err := sqlite.New(cfg.DBPath)
	if err != nil {
		log.Fatal("failed to open store", zap.Error(err))
	}
	defer store.Close()

	var c cache.Cache
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := client.Ping(context.Background()).Err(); err != nil {
			// Cache is best-effort; a dead Redis is not fatal.
			log.Warn("redis unreachable, falling back to in-process cache", zap.Error(err))
			c = cache.NewMemory(nil)
		} else {
			c = cache.NewRedis(client)
			log.Info("using redis cache", zap.String("addr", cfg.RedisAddr))
		}
	} else {
		c = cache.NewMemory(nil)
	}

	svc := ledger.NewService(log, store, c, ledger.Config{
		UnitPrice:       cfg.UnitPrice(),
		BalanceTTL:      cfg.BalanceTTL,
		TransactionsTTL: cfg.TransactionsTTL,
	})

	oracle := pricefeed.NewCached(pricefeed.NewStatic(cfg.Rates()), c, cfg.PriceTTL, log)
	verifier := auth.NewVerifier([]byte(cfg.JWTSecret), cfg.JWTIssuer)

	handler := api.NewHandler(svc, oracle, log)
	router := api.NewRouter(handler, verifier, log)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info("server starting", zap.Int("port", cfg.Port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Fatal("forced shutdown", zap.Error(err))
	}
	log.Info("server stopped")
}
