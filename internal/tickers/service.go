// Package tickers implements the price bar store: CRUD over stored bars
// and the ingestion reconciler that merges vendor history into the store
// without duplication.
package tickers

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/finbarsvc/tickersvc/internal/marketdata"
	apperrors "github.com/finbarsvc/tickersvc/pkg/errors"
	"github.com/finbarsvc/tickersvc/pkg/metrics"
	"github.com/finbarsvc/tickersvc/pkg/models"
)

// Service defines operations over stored price bars.
type Service interface {
	Ingest(ctx context.Context, symbol string, date models.Date) (*models.PriceBar, error)
	Create(ctx context.Context, bar *models.PriceBar) (*models.PriceBar, error)
	List(ctx context.Context, offset, limit int) ([]*models.PriceBar, error)
	Get(ctx context.Context, id uint) (*models.PriceBar, error)
	Update(ctx context.Context, id uint, update *models.TickerUpdate) (*models.PriceBar, error)
	Patch(ctx context.Context, id uint, patch *models.TickerPatch) (*models.PriceBar, error)
	Delete(ctx context.Context, id uint) error
}

// Service implements ticker storage and reconciliation
type service struct {
	logger *zap.Logger
	db     *gorm.DB
	source marketdata.Source

	mu          sync.Mutex
	symbolLocks map[string]*sync.Mutex
}

// NewService creates a new ticker Service
func NewService(logger *zap.Logger, db *gorm.DB, source marketdata.Source) (Service, error) {
	svc := &service{
		logger:      logger,
		db:          db,
		source:      source,
		symbolLocks: make(map[string]*sync.Mutex),
	}

	return svc, nil
}

// symbolLock returns the mutex serializing ingestion for one symbol.
// Two concurrent ingests of the same ticker must not both pass the
// duplicate check before either commits.
func (s *service) symbolLock(symbol string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()

	lock, ok := s.symbolLocks[symbol]
	if !ok {
		lock = &sync.Mutex{}
		s.symbolLocks[symbol] = lock
	}
	return lock
}

// Ingest fetches vendor history for symbol starting at date, persists the
// bars not already stored, and returns a representative bar: the last of
// the freshly inserted batch in insertion order, or the most recent
// stored bar when every fetched date already existed.
func (s *service) Ingest(ctx context.Context, symbol string, date models.Date) (*models.PriceBar, error) {
	lock := s.symbolLock(symbol)
	lock.Lock()
	defer lock.Unlock()

	start := time.Now()

	fetched, err := s.source.DailyBars(ctx, symbol, date.Time)
	if err != nil {
		return nil, err
	}
	if len(fetched) == 0 {
		return nil, apperrors.NotFound.Explain("no market data for ticker %q", symbol)
	}

	// One bulk read of the dates already stored for this symbol.
	var stored []models.Date
	if err := s.db.WithContext(ctx).Model(&models.PriceBar{}).
		Where("ticket = ?", symbol).
		Pluck("date", &stored).Error; err != nil {
		return nil, apperrors.New("loading stored dates").Wrap(err)
	}
	seen := make(map[string]struct{}, len(stored))
	for _, d := range stored {
		seen[d.String()] = struct{}{}
	}

	fresh := make([]*models.PriceBar, 0, len(fetched))
	for _, bar := range fetched {
		day, err := models.ParseDate(bar.Date)
		if err != nil {
			return nil, apperrors.DataFormat.Explain("unparseable date %q from market data for %q", bar.Date, symbol).Wrap(err)
		}
		if _, ok := seen[day.String()]; ok {
			continue
		}
		seen[day.String()] = struct{}{}
		fresh = append(fresh, &models.PriceBar{
			Ticket: symbol,
			Date:   day,
			Open:   bar.Open,
			High:   bar.High,
			Low:    bar.Low,
			Close:  bar.Close,
			Volume: bar.Volume,
		})
	}

	// Every fetched date already stored: ingestion is idempotent, answer
	// with the most recent stored bar instead of failing.
	if len(fresh) == 0 {
		var latest models.PriceBar
		if err := s.db.WithContext(ctx).
			Where("ticket = ?", symbol).
			Order("date DESC").
			First(&latest).Error; err != nil {
			return nil, apperrors.New("loading latest stored bar").Wrap(err)
		}
		return &latest, nil
	}

	// One atomic bulk write. The unique index is the backstop for writers
	// outside the per-symbol lock; a conflicting row is skipped, not an
	// error.
	if err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&fresh).Error; err != nil {
		return nil, apperrors.New("persisting ingested bars").Wrap(err)
	}

	metrics.BarsIngested.WithLabelValues(symbol).Add(float64(len(fresh)))
	metrics.IngestLatency.Observe(time.Since(start).Seconds())
	s.logger.Info("Ingested bars",
		zap.String("ticket", symbol),
		zap.Int("fetched", len(fetched)),
		zap.Int("inserted", len(fresh)))

	// Last inserted in insertion order, which is not necessarily the
	// chronologically latest when the vendor returns rows out of order.
	return fresh[len(fresh)-1], nil
}

// Create registers a bar directly with caller-supplied fields. A row
// already stored for the same (ticket, date) is a Conflict.
func (s *service) Create(ctx context.Context, bar *models.PriceBar) (*models.PriceBar, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&models.PriceBar{}).
		Where("ticket = ? AND date = ?", bar.Ticket, bar.Date).
		Count(&count).Error; err != nil {
		return nil, apperrors.New("checking existing bar").Wrap(err)
	}
	if count > 0 {
		return nil, apperrors.Conflict.Explain("ticker %q already exists for date %q", bar.Ticket, bar.Date)
	}

	if err := s.db.WithContext(ctx).Create(bar).Error; err != nil {
		if apperrors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, apperrors.Conflict.Explain("ticker %q already exists for date %q", bar.Ticket, bar.Date)
		}
		return nil, apperrors.New("creating bar").Wrap(err)
	}

	return bar, nil
}

// List returns a page of bars in insertion order.
func (s *service) List(ctx context.Context, offset, limit int) ([]*models.PriceBar, error) {
	var bars []*models.PriceBar
	if err := s.db.WithContext(ctx).
		Order("id").
		Offset(offset).
		Limit(limit).
		Find(&bars).Error; err != nil {
		return nil, apperrors.New("listing bars").Wrap(err)
	}
	return bars, nil
}

// Get returns the bar with the given id.
func (s *service) Get(ctx context.Context, id uint) (*models.PriceBar, error) {
	return s.find(ctx, id)
}

// Update overwrites every field of the bar with the given id. A missing
// field is a validation failure, not a partial preserve; the handler's
// binding enforces that too, but the service does not rely on it.
func (s *service) Update(ctx context.Context, id uint, update *models.TickerUpdate) (*models.PriceBar, error) {
	if update.Open == nil || update.High == nil || update.Low == nil || update.Close == nil || update.Volume == nil {
		return nil, apperrors.Invalid.Explain("full update requires open, high, low, close and volume")
	}

	bar, err := s.find(ctx, id)
	if err != nil {
		return nil, err
	}

	bar.Ticket = update.Ticket
	bar.Date = update.Date
	bar.Open = *update.Open
	bar.High = *update.High
	bar.Low = *update.Low
	bar.Close = *update.Close
	bar.Volume = *update.Volume

	if err := s.db.WithContext(ctx).Save(bar).Error; err != nil {
		return nil, apperrors.New("updating bar").Wrap(err)
	}
	return bar, nil
}

// Patch overwrites only the fields present in the request.
func (s *service) Patch(ctx context.Context, id uint, patch *models.TickerPatch) (*models.PriceBar, error) {
	bar, err := s.find(ctx, id)
	if err != nil {
		return nil, err
	}

	if patch.Ticket != nil {
		bar.Ticket = *patch.Ticket
	}
	if patch.Date != nil {
		bar.Date = *patch.Date
	}
	if patch.Open != nil {
		bar.Open = *patch.Open
	}
	if patch.High != nil {
		bar.High = *patch.High
	}
	if patch.Low != nil {
		bar.Low = *patch.Low
	}
	if patch.Close != nil {
		bar.Close = *patch.Close
	}
	if patch.Volume != nil {
		bar.Volume = *patch.Volume
	}

	if err := s.db.WithContext(ctx).Save(bar).Error; err != nil {
		return nil, apperrors.New("patching bar").Wrap(err)
	}
	return bar, nil
}

// Delete removes the bar with the given id.
func (s *service) Delete(ctx context.Context, id uint) error {
	bar, err := s.find(ctx, id)
	if err != nil {
		return err
	}

	if err := s.db.WithContext(ctx).Delete(bar).Error; err != nil {
		return apperrors.New("deleting bar").Wrap(err)
	}
	return nil
}

func (s *service) find(ctx context.Context, id uint) (*models.PriceBar, error) {
	var bar models.PriceBar
	if err := s.db.WithContext(ctx).First(&bar, id).Error; err != nil {
		if apperrors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.NotFound.Explain("ticker %d not found", id)
		}
		return nil, apperrors.New("loading bar").Wrap(err)
	}
	return &bar, nil
}
