package tickers_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/finbarsvc/tickersvc/internal/marketdata"
	"github.com/finbarsvc/tickersvc/internal/tickers"
	apperrors "github.com/finbarsvc/tickersvc/pkg/errors"
	"github.com/finbarsvc/tickersvc/pkg/models"
)

type stubSource struct {
	bars  []marketdata.Bar
	err   error
	calls int
}

func (f *stubSource) DailyBars(ctx context.Context, symbol string, from time.Time) ([]marketdata.Bar, error) {
	f.calls++
	return f.bars, f.err
}

func setupTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.PriceBar{}))
	return db
}

func mustDate(t *testing.T, s string) models.Date {
	d, err := models.ParseDate(s)
	require.NoError(t, err)
	return d
}

func vendorBar(date string, close float64) marketdata.Bar {
	return marketdata.Bar{Date: date, Open: close - 1, High: close + 1, Low: close - 2, Close: close, Volume: 1000}
}

func newService(t *testing.T, db *gorm.DB, source marketdata.Source) tickers.Service {
	svc, err := tickers.NewService(zap.NewNop(), db, source)
	require.NoError(t, err)
	return svc
}

func countBars(t *testing.T, db *gorm.DB, symbol string) int64 {
	var n int64
	require.NoError(t, db.Model(&models.PriceBar{}).Where("ticket = ?", symbol).Count(&n).Error)
	return n
}

func TestIngestStoresFetchedBars(t *testing.T) {
	db := setupTestDB(t)
	source := &stubSource{bars: []marketdata.Bar{
		vendorBar("2024-01-01", 10),
		vendorBar("2024-01-02", 11),
		vendorBar("2024-01-03", 12),
	}}
	svc := newService(t, db, source)

	bar, err := svc.Ingest(context.Background(), "PETR4.SA", mustDate(t, "2024-01-01"))
	assert.NoError(t, err)
	assert.Equal(t, "PETR4.SA", bar.Ticket)
	assert.Equal(t, "2024-01-03", bar.Date.String())
	assert.Equal(t, float64(12), bar.Close)
	assert.EqualValues(t, 3, countBars(t, db, "PETR4.SA"))
}

func TestIngestIsIdempotent(t *testing.T) {
	db := setupTestDB(t)
	source := &stubSource{bars: []marketdata.Bar{
		vendorBar("2024-01-01", 10),
		vendorBar("2024-01-02", 11),
		vendorBar("2024-01-03", 12),
	}}
	svc := newService(t, db, source)

	first, err := svc.Ingest(context.Background(), "PETR4.SA", mustDate(t, "2024-01-01"))
	require.NoError(t, err)

	// Same vendor answer again: nothing new to insert, the most recent
	// stored bar is returned instead.
	second, err := svc.Ingest(context.Background(), "PETR4.SA", mustDate(t, "2024-01-01"))
	assert.NoError(t, err)
	assert.Equal(t, first.Date.String(), second.Date.String())
	assert.EqualValues(t, 3, countBars(t, db, "PETR4.SA"))
}

func TestReIngestInsertsOnlyMissingDates(t *testing.T) {
	db := setupTestDB(t)
	source := &stubSource{bars: []marketdata.Bar{
		vendorBar("2024-01-01", 10),
		vendorBar("2024-01-02", 11),
		vendorBar("2024-01-03", 12),
	}}
	svc := newService(t, db, source)

	_, err := svc.Ingest(context.Background(), "PETR4.SA", mustDate(t, "2024-01-01"))
	require.NoError(t, err)

	// Vendor window has grown by two days.
	source.bars = append(source.bars,
		vendorBar("2024-01-04", 13),
		vendorBar("2024-01-05", 14),
	)

	bar, err := svc.Ingest(context.Background(), "PETR4.SA", mustDate(t, "2024-01-01"))
	assert.NoError(t, err)
	assert.Equal(t, "2024-01-05", bar.Date.String())
	assert.EqualValues(t, 5, countBars(t, db, "PETR4.SA"))
}

func TestIngestReturnsLastInsertedNotLatest(t *testing.T) {
	db := setupTestDB(t)
	// Vendor rows out of date order: the representative is the last of
	// the inserted batch in insertion order.
	source := &stubSource{bars: []marketdata.Bar{
		vendorBar("2024-01-03", 12),
		vendorBar("2024-01-01", 10),
		vendorBar("2024-01-02", 11),
	}}
	svc := newService(t, db, source)

	bar, err := svc.Ingest(context.Background(), "PETR4.SA", mustDate(t, "2024-01-01"))
	assert.NoError(t, err)
	assert.Equal(t, "2024-01-02", bar.Date.String())
}

func TestIngestEmptySourceIsNotFound(t *testing.T) {
	db := setupTestDB(t)
	svc := newService(t, db, &stubSource{})

	_, err := svc.Ingest(context.Background(), "NOPE11.SA", mustDate(t, "2024-01-01"))
	assert.ErrorIs(t, err, apperrors.NotFound)
	assert.EqualValues(t, 0, countBars(t, db, "NOPE11.SA"))
}

func TestIngestMalformedDateIsDataFormat(t *testing.T) {
	db := setupTestDB(t)
	source := &stubSource{bars: []marketdata.Bar{
		vendorBar("2024-01-01", 10),
		vendorBar("01/02/2024", 11),
	}}
	svc := newService(t, db, source)

	_, err := svc.Ingest(context.Background(), "PETR4.SA", mustDate(t, "2024-01-01"))
	assert.ErrorIs(t, err, apperrors.DataFormat)
	// The request fails before any write: no partial state.
	assert.EqualValues(t, 0, countBars(t, db, "PETR4.SA"))
}

func TestIngestSkipsDuplicateDatesWithinFetch(t *testing.T) {
	db := setupTestDB(t)
	source := &stubSource{bars: []marketdata.Bar{
		vendorBar("2024-01-01", 10),
		vendorBar("2024-01-01", 99),
	}}
	svc := newService(t, db, source)

	bar, err := svc.Ingest(context.Background(), "PETR4.SA", mustDate(t, "2024-01-01"))
	assert.NoError(t, err)
	assert.Equal(t, float64(10), bar.Close)
	assert.EqualValues(t, 1, countBars(t, db, "PETR4.SA"))
}

// slowSource holds every fetch long enough for concurrent ingests of
// the same symbol to pile up on the duplicate check.
type slowSource struct {
	bars  []marketdata.Bar
	delay time.Duration
}

func (f *slowSource) DailyBars(ctx context.Context, symbol string, from time.Time) ([]marketdata.Bar, error) {
	time.Sleep(f.delay)
	return f.bars, nil
}

func TestConcurrentIngestSameSymbolStoresNoDuplicates(t *testing.T) {
	db := setupTestDB(t)
	source := &slowSource{
		delay: 50 * time.Millisecond,
		bars: []marketdata.Bar{
			vendorBar("2024-01-01", 10),
			vendorBar("2024-01-02", 11),
			vendorBar("2024-01-03", 12),
		},
	}
	svc := newService(t, db, source)
	date := mustDate(t, "2024-01-01")

	const workers = 8
	errs := make(chan error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Ingest(context.Background(), "PETR4.SA", date)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
	// However the calls interleave, the stored dates are exactly the
	// vendor's distinct dates.
	assert.EqualValues(t, 3, countBars(t, db, "PETR4.SA"))
}

func TestCreateDuplicateIsConflict(t *testing.T) {
	db := setupTestDB(t)
	svc := newService(t, db, &stubSource{})

	bar := &models.PriceBar{Ticket: "PETR4.SA", Date: mustDate(t, "2024-01-01"), Open: 9, High: 11, Low: 8, Close: 10, Volume: 1000}
	_, err := svc.Create(context.Background(), bar)
	require.NoError(t, err)
	assert.NotZero(t, bar.ID)

	dup := &models.PriceBar{Ticket: "PETR4.SA", Date: mustDate(t, "2024-01-01"), Open: 1, High: 2, Low: 0, Close: 1, Volume: 1}
	_, err = svc.Create(context.Background(), dup)
	assert.ErrorIs(t, err, apperrors.Conflict)
	assert.EqualValues(t, 1, countBars(t, db, "PETR4.SA"))
}

func TestListPagesInInsertionOrder(t *testing.T) {
	db := setupTestDB(t)
	svc := newService(t, db, &stubSource{})

	for i, day := range []string{"2024-01-03", "2024-01-01", "2024-01-02"} {
		_, err := svc.Create(context.Background(), &models.PriceBar{
			Ticket: "PETR4.SA", Date: mustDate(t, day), Close: float64(i),
		})
		require.NoError(t, err)
	}

	bars, err := svc.List(context.Background(), 0, 100)
	assert.NoError(t, err)
	require.Len(t, bars, 3)
	// Insertion order, not date order.
	assert.Equal(t, "2024-01-03", bars[0].Date.String())
	assert.Equal(t, "2024-01-01", bars[1].Date.String())
	assert.Equal(t, "2024-01-02", bars[2].Date.String())

	page, err := svc.List(context.Background(), 1, 1)
	assert.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "2024-01-01", page[0].Date.String())

	empty, err := svc.List(context.Background(), 10, 100)
	assert.NoError(t, err)
	assert.Empty(t, empty)
}

func TestGetNotFound(t *testing.T) {
	db := setupTestDB(t)
	svc := newService(t, db, &stubSource{})

	_, err := svc.Get(context.Background(), 42)
	assert.ErrorIs(t, err, apperrors.NotFound)
}

func TestUpdateOverwritesEveryField(t *testing.T) {
	db := setupTestDB(t)
	svc := newService(t, db, &stubSource{})

	bar, err := svc.Create(context.Background(), &models.PriceBar{
		Ticket: "PETR4.SA", Date: mustDate(t, "2024-01-01"), Open: 9, High: 11, Low: 8, Close: 10, Volume: 1000,
	})
	require.NoError(t, err)

	open, high, low, closePx := 1.0, 2.0, 0.5, 1.5
	volume := int64(7)
	updated, err := svc.Update(context.Background(), bar.ID, &models.TickerUpdate{
		Ticket: "VALE3.SA",
		Date:   mustDate(t, "2024-02-01"),
		Open:   &open, High: &high, Low: &low, Close: &closePx, Volume: &volume,
	})
	assert.NoError(t, err)
	assert.Equal(t, "VALE3.SA", updated.Ticket)
	assert.Equal(t, "2024-02-01", updated.Date.String())
	assert.Equal(t, 1.5, updated.Close)
	assert.EqualValues(t, 7, updated.Volume)

	_, err = svc.Update(context.Background(), 9999, &models.TickerUpdate{
		Ticket: "X", Date: mustDate(t, "2024-01-01"),
		Open: &open, High: &high, Low: &low, Close: &closePx, Volume: &volume,
	})
	assert.ErrorIs(t, err, apperrors.NotFound)
}

func TestUpdateMissingFieldIsValidationError(t *testing.T) {
	db := setupTestDB(t)
	svc := newService(t, db, &stubSource{})

	bar, err := svc.Create(context.Background(), &models.PriceBar{
		Ticket: "PETR4.SA", Date: mustDate(t, "2024-01-01"), Open: 9, High: 11, Low: 8, Close: 10, Volume: 1000,
	})
	require.NoError(t, err)

	open, high, low, closePx := 1.0, 2.0, 0.5, 1.5
	_, err = svc.Update(context.Background(), bar.ID, &models.TickerUpdate{
		Ticket: "PETR4.SA", Date: mustDate(t, "2024-01-01"),
		Open: &open, High: &high, Low: &low, Close: &closePx, // Volume omitted
	})
	assert.ErrorIs(t, err, apperrors.Invalid)

	// The stored row is untouched.
	stored, err := svc.Get(context.Background(), bar.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1000, stored.Volume)
}

func TestPatchLeavesUnspecifiedFieldsUntouched(t *testing.T) {
	db := setupTestDB(t)
	svc := newService(t, db, &stubSource{})

	bar, err := svc.Create(context.Background(), &models.PriceBar{
		Ticket: "PETR4.SA", Date: mustDate(t, "2024-01-01"), Open: 9, High: 11, Low: 8, Close: 10, Volume: 1000,
	})
	require.NoError(t, err)

	closePx := 42.0
	patched, err := svc.Patch(context.Background(), bar.ID, &models.TickerPatch{Close: &closePx})
	assert.NoError(t, err)
	assert.Equal(t, 42.0, patched.Close)
	assert.Equal(t, 9.0, patched.Open)
	assert.Equal(t, 11.0, patched.High)
	assert.Equal(t, 8.0, patched.Low)
	assert.EqualValues(t, 1000, patched.Volume)
	assert.Equal(t, "PETR4.SA", patched.Ticket)

	_, err = svc.Patch(context.Background(), 9999, &models.TickerPatch{Close: &closePx})
	assert.ErrorIs(t, err, apperrors.NotFound)
}

func TestDelete(t *testing.T) {
	db := setupTestDB(t)
	svc := newService(t, db, &stubSource{})

	bar, err := svc.Create(context.Background(), &models.PriceBar{
		Ticket: "PETR4.SA", Date: mustDate(t, "2024-01-01"), Close: 10,
	})
	require.NoError(t, err)

	assert.NoError(t, svc.Delete(context.Background(), bar.ID))
	assert.EqualValues(t, 0, countBars(t, db, "PETR4.SA"))

	// Deleting a nonexistent id is NotFound, not success.
	assert.ErrorIs(t, svc.Delete(context.Background(), bar.ID), apperrors.NotFound)
}
