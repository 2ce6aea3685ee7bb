// Command trainmodel trains the prediction network on the close history
// stored for one ticker and writes the model artifact the service loads
// at startup.
package main

import (
	"encoding/json"
	"flag"
	"log"
	"os"
	"path/filepath"

	"github.com/goml/gobrain"
	"github.com/joho/godotenv"

	"github.com/finbarsvc/tickersvc/internal/config"
	"github.com/finbarsvc/tickersvc/internal/database"
	"github.com/finbarsvc/tickersvc/internal/predict"
	"github.com/finbarsvc/tickersvc/pkg/models"
)

func main() {
	var (
		symbol     = flag.String("ticket", "", "ticker symbol to train on")
		window     = flag.Int("window", 5, "number of closes per training sample")
		hidden     = flag.Int("hidden", 8, "hidden layer width")
		iterations = flag.Int("iterations", 2000, "training iterations")
		rate       = flag.Float64("rate", 0.6, "learning rate")
		momentum   = flag.Float64("momentum", 0.4, "momentum factor")
	)
	flag.Parse()

	if *symbol == "" {
		log.Fatal("-ticket is required")
	}
	if *window <= 0 {
		log.Fatal("-window must be positive")
	}

	if err := godotenv.Load(); err != nil {
		log.Println("Warning: .env file not found, using environment variables")
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	db, err := database.Open(cfg.Database)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}

	var bars []*models.PriceBar
	if err := db.Where("ticket = ?", *symbol).Order("date").Find(&bars).Error; err != nil {
		log.Fatalf("Failed to load history: %v", err)
	}
	if len(bars) <= *window {
		log.Fatalf("Not enough history for %q: have %d bars, need more than %d", *symbol, len(bars), *window)
	}

	priceMin, priceMax := bars[0].Close, bars[0].Close
	for _, bar := range bars {
		if bar.Close < priceMin {
			priceMin = bar.Close
		}
		if bar.Close > priceMax {
			priceMax = bar.Close
		}
	}
	if priceMax == priceMin {
		log.Fatalf("History for %q is flat, nothing to learn", *symbol)
	}
	normalize := func(price float64) float64 {
		return (price - priceMin) / (priceMax - priceMin)
	}

	// Sliding windows over the close series: window closes in, next
	// close out.
	patterns := make([][][]float64, 0, len(bars)-*window)
	for i := 0; i+*window < len(bars); i++ {
		inputs := make([]float64, 0, *window)
		for _, bar := range bars[i : i+*window] {
			inputs = append(inputs, normalize(bar.Close))
		}
		patterns = append(patterns, [][]float64{inputs, {normalize(bars[i+*window].Close)}})
	}

	network := &gobrain.FeedForward{}
	network.Init(*window, *hidden, 1)
	network.Train(patterns, *iterations, *rate, *momentum, false)

	art := predict.Artifact{
		Window:   *window,
		PriceMin: priceMin,
		PriceMax: priceMax,
		Network:  network,
	}
	raw, err := json.MarshalIndent(art, "", "  ")
	if err != nil {
		log.Fatalf("Failed to encode artifact: %v", err)
	}

	if dir := filepath.Dir(cfg.Predictor.ModelPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			log.Fatalf("Failed to create model directory: %v", err)
		}
	}
	if err := os.WriteFile(cfg.Predictor.ModelPath, raw, 0o644); err != nil {
		log.Fatalf("Failed to write artifact: %v", err)
	}

	log.Printf("Trained on %d samples from %q, artifact written to %s", len(patterns), *symbol, cfg.Predictor.ModelPath)
}
