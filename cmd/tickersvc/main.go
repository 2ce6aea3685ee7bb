package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/finbarsvc/tickersvc/internal/config"
	"github.com/finbarsvc/tickersvc/internal/database"
	"github.com/finbarsvc/tickersvc/internal/marketdata"
	"github.com/finbarsvc/tickersvc/internal/predict"
	"github.com/finbarsvc/tickersvc/internal/server"
	"github.com/finbarsvc/tickersvc/internal/tickers"
	"github.com/finbarsvc/tickersvc/pkg/logger"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: .env file not found, using environment variables")
	}

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Create logger
	zapLogger, err := logger.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer zapLogger.Sync()

	// Connect to the record store
	db, err := database.Open(cfg.Database)
	if err != nil {
		zapLogger.Fatal("Failed to open database", zap.Error(err))
	}

	// Sample DB pool metrics until shutdown
	stopMetrics := make(chan struct{})
	go database.CollectPoolMetrics(db, cfg.Database.Driver, 30*time.Second, stopMetrics)

	// Create the market data source
	source := marketdata.NewChartClient(cfg.MarketData.BaseURL, cfg.MarketData.Timeout, zapLogger)

	// Create services
	tickersSvc, err := tickers.NewService(zapLogger, db, source)
	if err != nil {
		zapLogger.Fatal("Failed to create ticker service", zap.Error(err))
	}

	predictor, err := predict.LoadModel(cfg.Predictor.ModelPath, db, zapLogger)
	if err != nil {
		zapLogger.Fatal("Failed to load prediction model", zap.Error(err))
	}

	// Create API server
	apiServer := server.NewServer(zapLogger, tickersSvc, predictor)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      apiServer.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start server in a goroutine
	go func() {
		zapLogger.Info("Starting API server", zap.String("addr", addr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zapLogger.Fatal("Failed to start API server", zap.Error(err))
		}
	}()

	// Wait for interrupt to shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zapLogger.Info("Shutting down server...")

	close(stopMetrics)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		zapLogger.Error("Server shutdown failed", zap.Error(err))
	}

	zapLogger.Info("Server exited properly")
}
