package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/fenglin-dev/voicegate/config"
	"github.com/fenglin-dev/voicegate/internal/asrstream"
	"github.com/fenglin-dev/voicegate/internal/gateway"
	"github.com/fenglin-dev/voicegate/internal/logging"
	"github.com/fenglin-dev/voicegate/internal/records"
	"github.com/fenglin-dev/voicegate/internal/rewrite"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := logging.MustNew(cfg.Logging)
	defer logger.Sync()

	sugar := logger.Sugar()

	baseCtx := context.Background()

	store, err := records.OpenPostgresStore(baseCtx, cfg.Postgres)
	if err != nil {
		sugar.Fatalf("open records store: %v", err)
	}
	if store != nil {
		defer store.Close()
		sugar.Info("finalized-transcript persistence enabled")
	} else {
		sugar.Info("finalized-transcript persistence disabled (RECORDS_DB_URL not set)")
	}

	asrClient := asrstream.NewClient(cfg.Volcengine, sugar)
	arkClient := rewrite.NewArkClient(cfg.Ark, sugar)

	var storeArg records.Store
	if store != nil {
		storeArg = store
	}
	handler := gateway.NewHandler(cfg, asrClient, arkClient, storeArg, sugar)

	router := gin.New()
	router.Use(gin.Recovery())
	handler.Register(router)

	server := &http.Server{
		Addr:    cfg.ServerAddr,
		Handler: router,
	}

	go func() {
		sugar.Infof("voicegate listening on %s", cfg.ServerAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			sugar.Fatalf("start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	sugar.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		sugar.Errorf("server shutdown: %v", err)
	}

	sugar.Info("server exited cleanly")
}
