// Package predict serves predictions from a trained model artifact over
// the stored price history.
package predict

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/goml/gobrain"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/finbarsvc/tickersvc/pkg/metrics"
	"github.com/finbarsvc/tickersvc/pkg/models"
)

// Predictor returns a predicted value for a ticker from its stored
// history.
type Predictor interface {
	Predict(ctx context.Context, symbol string) (float64, error)
}

// Artifact is the serialized form of a trained model: the feed-forward
// network plus the normalization bounds used in training.
type Artifact struct {
	Window   int                  `json:"window"`
	PriceMin float64              `json:"price_min"`
	PriceMax float64              `json:"price_max"`
	Network  *gobrain.FeedForward `json:"network"`
}

// ModelPredictor implements Predictor with a gobrain network loaded from
// an artifact file. It reads the most recent Window closes for the
// symbol from the record store as model input.
type ModelPredictor struct {
	logger *zap.Logger
	db     *gorm.DB

	window   int
	priceMin float64
	priceMax float64
	network  *gobrain.FeedForward
}

var _ Predictor = (*ModelPredictor)(nil)

// LoadModel reads and validates a model artifact from path.
func LoadModel(path string, db *gorm.DB, logger *zap.Logger) (*ModelPredictor, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading model artifact %q: %w", path, err)
	}

	var art Artifact
	if err := json.Unmarshal(raw, &art); err != nil {
		return nil, fmt.Errorf("decoding model artifact %q: %w", path, err)
	}
	if art.Window <= 0 {
		return nil, fmt.Errorf("model artifact %q: window must be positive, got %d", path, art.Window)
	}
	if art.Network == nil {
		return nil, fmt.Errorf("model artifact %q: missing network", path)
	}
	if art.Network.NInputs != art.Window+1 {
		// gobrain counts its bias node as an input.
		return nil, fmt.Errorf("model artifact %q: network expects %d inputs, window is %d", path, art.Network.NInputs-1, art.Window)
	}
	if art.PriceMax <= art.PriceMin {
		return nil, fmt.Errorf("model artifact %q: bad normalization bounds [%f, %f]", path, art.PriceMin, art.PriceMax)
	}

	return &ModelPredictor{
		logger:   logger,
		db:       db,
		window:   art.Window,
		priceMin: art.PriceMin,
		priceMax: art.PriceMax,
		network:  art.Network,
	}, nil
}

// Predict implements Predictor. It fails when the symbol has fewer
// stored bars than the model window; it never answers with a default.
func (p *ModelPredictor) Predict(ctx context.Context, symbol string) (float64, error) {
	start := time.Now()

	var bars []*models.PriceBar
	if err := p.db.WithContext(ctx).
		Where("ticket = ?", symbol).
		Order("date DESC").
		Limit(p.window).
		Find(&bars).Error; err != nil {
		return 0, fmt.Errorf("loading history for %q: %w", symbol, err)
	}
	if len(bars) < p.window {
		return 0, fmt.Errorf("not enough history for %q: have %d bars, model needs %d", symbol, len(bars), p.window)
	}

	// Oldest first, normalized the way the model was trained.
	inputs := make([]float64, 0, p.window)
	for i := len(bars) - 1; i >= 0; i-- {
		inputs = append(inputs, p.normalize(bars[i].Close))
	}

	outputs := p.network.Update(inputs)
	if len(outputs) == 0 {
		return 0, fmt.Errorf("model produced no output for %q", symbol)
	}
	predicted := p.denormalize(outputs[0])

	metrics.PredictLatency.Observe(time.Since(start).Seconds())
	p.logger.Debug("Prediction served",
		zap.String("ticket", symbol),
		zap.Float64("predicted", predicted))

	return predicted, nil
}

func (p *ModelPredictor) normalize(price float64) float64 {
	return (price - p.priceMin) / (p.priceMax - p.priceMin)
}

func (p *ModelPredictor) denormalize(v float64) float64 {
	return v*(p.priceMax-p.priceMin) + p.priceMin
}
