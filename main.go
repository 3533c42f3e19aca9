package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mediguide/server/api"
	"github.com/mediguide/server/chat"
	"github.com/mediguide/server/gemini"
	"github.com/mediguide/server/logger"
	"github.com/mediguide/server/middleware"
	"github.com/mediguide/server/session"
	"github.com/mediguide/server/settings"
	"github.com/mediguide/server/ws"
)

var version = "dev"

func newSessionStore(backend, dataDir string) (session.Store, io.Closer, error) {
	if backend == "sqlite" {
		store, err := session.NewSQLiteStore(dataDir)
		if err != nil {
			return nil, nil, err
		}
		return store, store, nil
	}
	store, err := session.NewFileStore(dataDir)
	return store, nil, err
}

func newHandler(rpcHandler *ws.RPCHandler, store session.Store, token string) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	// WebSocket endpoint authenticates itself via the auth request.
	mux.Handle("GET /ws", rpcHandler)

	api.NewSessionHandler(store).Register(mux)

	return middleware.Auth(token)(mux)
}

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	token := os.Getenv("AUTH_TOKEN")
	if token == "" {
		slog.Error("AUTH_TOKEN environment variable is required")
		os.Exit(1)
	}

	dataDir := os.Getenv("DATA_DIR")
	if dataDir == "" {
		dataDir = "/data"
	}

	devMode := os.Getenv("DEV_MODE") == "true"

	logger.Init(logger.Config{DataDir: dataDir, DevMode: devMode})

	store, storeCloser, err := newSessionStore(os.Getenv("STORAGE_BACKEND"), dataDir)
	if err != nil {
		slog.Error("failed to open session store", "error", err)
		os.Exit(1)
	}

	settingsStore, err := settings.NewStore(dataDir)
	if err != nil {
		slog.Error("failed to open settings store", "error", err)
		os.Exit(1)
	}

	// Model knobs are read once at startup; changing them via settings.update
	// takes effect after a restart.
	cfg := settingsStore.Get()
	gateway := gemini.NewClient(gemini.Config{
		APIKey:          os.Getenv("GEMINI_API_KEY"),
		Model:           cfg.Model,
		Temperature:     cfg.Temperature,
		TopP:            cfg.TopP,
		SearchGrounding: cfg.SearchGrounding,
	})

	orchestrator := chat.NewOrchestrator(store, gateway)

	rpcHandler := ws.NewRPCHandler(token, version, devMode, store, orchestrator, settingsStore)
	defer rpcHandler.Stop()

	server := &http.Server{
		Addr:    ":" + port,
		Handler: newHandler(rpcHandler, store, token),
	}

	go func() {
		slog.Info("server starting", "port", port, "dataDir", dataDir, "version", version)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	slog.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		slog.Error("shutdown failed", "error", err)
	}
	if storeCloser != nil {
		storeCloser.Close()
	}
}
