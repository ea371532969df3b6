package main

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/smile-crm/sales-funnel/internal/api"
	"github.com/smile-crm/sales-funnel/internal/config"
	"github.com/smile-crm/sales-funnel/internal/events"
	"github.com/smile-crm/sales-funnel/internal/gmail"
	"github.com/smile-crm/sales-funnel/internal/llm"
	"github.com/smile-crm/sales-funnel/internal/pipeline"
	"github.com/smile-crm/sales-funnel/internal/pkg/distlock"
	"github.com/smile-crm/sales-funnel/internal/pkg/logger"
	"github.com/smile-crm/sales-funnel/internal/poller"
	"github.com/smile-crm/sales-funnel/internal/store"
	"github.com/smile-crm/sales-funnel/internal/tokens"
)

// checkPortAvailable verifies that the target port is not already in use.
// This prevents confusion from stale processes occupying the port.
func checkPortAvailable(host string, port int) error {
	addr := fmt.Sprintf("%s:%d", host, port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("port %d is already in use (addr %s): %v\n"+
			"  Hint: Run 'lsof -i :%d' to find the blocking process", port, addr, err, port)
	}
	ln.Close()
	return nil
}

func main() {
	configPath := "config/config.yaml"
	if p := os.Getenv("CONFIG_PATH"); p != "" {
		configPath = p
	}

	cfg, err := config.LoadFromEnv(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if os.Getenv("LOG_LEVEL") == "debug" {
		logger.SetLevel(logger.DEBUG)
	}

	host := cfg.Server.GetHost()
	if err := checkPortAvailable(host, cfg.Server.Port); err != nil {
		log.Fatalf("Pre-flight check FAILED: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Persistence: one DynamoDB connection shared by the data store and the
	// token store.
	st, err := store.Connect(ctx, cfg.Storage)
	if err != nil {
		log.Fatalf("Failed to connect to DynamoDB: %v", err)
	}
	tokenStore := tokens.NewStore(st.DB(), cfg.Storage.TablePrefix)

	oauth := gmail.NewOAuth(cfg.Gmail)
	mailbox := gmail.NewClient(tokenStore, oauth)
	model := llm.NewClient(cfg.LLM)

	// Events fan out to the structured log always, and to a Redis stream
	// when one is configured. The same Redis connection backs the poll
	// scheduler's distributed lock.
	var sink events.Sink = events.LogSink{}
	var lock distlock.DistLock = distlock.Nop{}
	if cfg.Events.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Events.RedisAddr})
		pingCtx, pingCancel := context.WithTimeout(ctx, 3*time.Second)
		err := rdb.Ping(pingCtx).Err()
		pingCancel()
		if err != nil {
			logger.Warn("Redis unreachable, events go to log only", "addr", cfg.Events.RedisAddr, "error", err.Error())
			rdb.Close()
		} else {
			sink = events.Fanout{events.LogSink{}, events.NewRedisSink(rdb, cfg.Events.Stream)}
			lock = distlock.NewRedisLock(rdb, "sales-funnel:poll-cycle", 2*cfg.Polling.Period())
			defer rdb.Close()
		}
	}

	engine := pipeline.NewEngine(cfg.Pipeline, model, st, sink)
	demo := pipeline.NewEngine(cfg.Pipeline, model, pipeline.NopStorage{}, events.LogSink{})

	sched := poller.New(cfg.Polling, mailbox, tokenStore, engine, lock)
	if cfg.Polling.Enabled {
		sched.Start()
	}

	handlers := api.NewHandlers(oauth, tokenStore, st, mailbox, engine, demo, sched)
	router := api.SetupRoutes(handlers)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second, // LLM calls ride on ingest requests
		IdleTimeout:  120 * time.Second,
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Info("Server starting", "addr", server.Addr, "polling_enabled", cfg.Polling.Enabled)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	<-done
	logger.Info("Shutting down")

	sched.Stop()
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown error", "error", err.Error())
	}
	logger.Info("Server stopped")
}
