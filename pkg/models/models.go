package models

// PriceBar represents one OHLCV record for a ticker on a date.
// The composite unique index backs the reconciler's one-bar-per-day
// invariant at the storage level.
type PriceBar struct {
	ID     uint    `json:"id" gorm:"primaryKey"`
	Ticket string  `json:"ticket" gorm:"not null;uniqueIndex:idx_ticket_date,priority:1" validate:"required"`
	Date   Date    `json:"date" gorm:"not null;uniqueIndex:idx_ticket_date,priority:2" validate:"required"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume int64   `json:"volume"`
}

// TableName keeps the original table name
func (PriceBar) TableName() string {
	return "tickers"
}

// TickerRequest is the POST register/ body. With only ticket and date set
// it asks for ingestion from the market data source; with the full OHLCV
// set it registers the bar directly.
type TickerRequest struct {
	Ticket string   `json:"ticket" binding:"required"`
	Date   Date     `json:"date" binding:"required"`
	Open   *float64 `json:"open"`
	High   *float64 `json:"high"`
	Low    *float64 `json:"low"`
	Close  *float64 `json:"close"`
	Volume *int64   `json:"volume"`
}

// Direct reports whether the request carries the full OHLCV set and is
// therefore a direct registration rather than an ingestion.
func (r *TickerRequest) Direct() bool {
	return r.Open != nil && r.High != nil && r.Low != nil && r.Close != nil && r.Volume != nil
}

// Partial reports whether the request carries some but not all OHLCV
// fields, which is neither a valid ingestion nor a valid registration.
func (r *TickerRequest) Partial() bool {
	any := r.Open != nil || r.High != nil || r.Low != nil || r.Close != nil || r.Volume != nil
	return any && !r.Direct()
}

// TickerUpdate is the PUT body. Every field is mandatory; fields not
// sent are a validation failure, not a partial preserve.
type TickerUpdate struct {
	Ticket string   `json:"ticket" binding:"required"`
	Date   Date     `json:"date" binding:"required"`
	Open   *float64 `json:"open" binding:"required"`
	High   *float64 `json:"high" binding:"required"`
	Low    *float64 `json:"low" binding:"required"`
	Close  *float64 `json:"close" binding:"required"`
	Volume *int64   `json:"volume" binding:"required"`
}

// TickerPatch is the PATCH body. Fields absent from the request stay
// untouched on the stored row.
type TickerPatch struct {
	Ticket *string  `json:"ticket"`
	Date   *Date    `json:"date"`
	Open   *float64 `json:"open"`
	High   *float64 `json:"high"`
	Low    *float64 `json:"low"`
	Close  *float64 `json:"close"`
	Volume *int64   `json:"volume"`
}

// TickerList is the list response envelope
type TickerList struct {
	Tickers []*PriceBar `json:"tickers"`
}

// PredictRequest is the POST predict/ body
type PredictRequest struct {
	Ticket string `json:"ticket" binding:"required"`
}

// PredictResponse wraps the predicted scalar. The wire key is kept from
// the original API contract.
type PredictResponse struct {
	PredictedRent float64 `json:"predicted_rent"`
}
