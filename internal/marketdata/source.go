// Package marketdata fetches daily OHLCV history from the external
// price vendor.
package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	apperrors "github.com/finbarsvc/tickersvc/pkg/errors"
)

// Bar is one raw vendor bar. The date stays a string in YYYY-MM-DD form
// until the reconciler parses it; a malformed value is the reconciler's
// DataFormat failure, not this package's.
type Bar struct {
	Date   string
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume int64
}

// Source defines the external price history vendor.
type Source interface {
	// DailyBars returns the daily bars for symbol from the given date up
	// to now. An unknown symbol yields an empty slice, not an error.
	DailyBars(ctx context.Context, symbol string, from time.Time) ([]Bar, error)
}

// ChartClient fetches daily bars from a Yahoo-Finance-style chart
// endpoint.
type ChartClient struct {
	baseURL string
	client  *http.Client
	logger  *zap.Logger
}

var _ Source = (*ChartClient)(nil)

// NewChartClient creates a ChartClient with an explicit request timeout.
func NewChartClient(baseURL string, timeout time.Duration, logger *zap.Logger) *ChartClient {
	return &ChartClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

// chartResponse mirrors the vendor's chart payload, reduced to the
// fields we read.
type chartResponse struct {
	Chart struct {
		Result []struct {
			Timestamp  []int64 `json:"timestamp"`
			Indicators struct {
				Quote []struct {
					Open   []float64 `json:"open"`
					High   []float64 `json:"high"`
					Low    []float64 `json:"low"`
					Close  []float64 `json:"close"`
					Volume []int64   `json:"volume"`
				} `json:"quote"`
			} `json:"indicators"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

// DailyBars implements Source.
func (c *ChartClient) DailyBars(ctx context.Context, symbol string, from time.Time) ([]Bar, error) {
	endpoint := fmt.Sprintf("%s/v8/finance/chart/%s?period1=%d&period2=%d&interval=1d",
		c.baseURL, url.PathEscape(symbol), from.Unix(), time.Now().Unix())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("building chart request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, apperrors.Unavailable.Explain("market data source unreachable for %q", symbol).Wrap(err)
	}
	defer resp.Body.Close()

	// The vendor answers 404 for unknown symbols; that is an empty
	// result, not a transport failure.
	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, apperrors.Unavailable.Explain("market data source returned status %d for %q", resp.StatusCode, symbol)
	}

	var payload chartResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, apperrors.DataFormat.Explain("malformed market data response for %q", symbol).Wrap(err)
	}
	if payload.Chart.Error != nil {
		c.logger.Warn("market data source reported error",
			zap.String("symbol", symbol),
			zap.String("code", payload.Chart.Error.Code))
		return nil, nil
	}
	if len(payload.Chart.Result) == 0 {
		return nil, nil
	}

	result := payload.Chart.Result[0]
	if len(result.Indicators.Quote) == 0 {
		return nil, nil
	}
	quote := result.Indicators.Quote[0]

	bars := make([]Bar, 0, len(result.Timestamp))
	for i, ts := range result.Timestamp {
		if i >= len(quote.Close) {
			break
		}
		bar := Bar{
			Date:  time.Unix(ts, 0).UTC().Format("2006-01-02"),
			Close: quote.Close[i],
		}
		if i < len(quote.Open) {
			bar.Open = quote.Open[i]
		}
		if i < len(quote.High) {
			bar.High = quote.High[i]
		}
		if i < len(quote.Low) {
			bar.Low = quote.Low[i]
		}
		if i < len(quote.Volume) {
			bar.Volume = quote.Volume[i]
		}
		bars = append(bars, bar)
	}

	return bars, nil
}
