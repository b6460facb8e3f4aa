package models

import (
	"time"
)

// Market identifies the exchange a security is listed on.
type Market string

const (
	MarketShanghai Market = "sh"
	MarketShenzhen Market = "sz"
)

// Valid reports whether m is one of the supported exchanges.
func (m Market) Valid() bool {
	return m == MarketShanghai || m == MarketShenzhen
}

// Quote is one parsed snapshot of a single security.
type Quote struct {
	Market        Market  `json:"market"`
	Symbol        string  `json:"symbol"`
	Name          string  `json:"name"`
	CurrentPrice  float64 `json:"current_price"`
	PreviousClose float64 `json:"previous_close"`
	OpenPrice     float64 `json:"open_price"`
	DayHigh       float64 `json:"day_high"`
	DayLow        float64 `json:"day_low"`
	Volume        int64   `json:"volume"`
	Amount        int64   `json:"amount"`
	Timestamp     string  `json:"timestamp"`
	Change        float64 `json:"change"`
	ChangePercent float64 `json:"change_percent"`
	Status        string  `json:"status,omitempty"`
	Layout        string  `json:"layout"`
}

// Code returns the prefixed code used by the quote endpoint, e.g. sh600519.
func (q Quote) Code() string {
	return string(q.Market) + q.Symbol
}

// RawQuoteMessage carries a decoded quote endpoint response through the pipeline.
type RawQuoteMessage struct {
	Source    string
	Symbols   []string
	Data      string
	Timestamp time.Time
}

// QuoteBatch groups parsed quotes of one market for the writer.
type QuoteBatch struct {
	BatchID     string    `json:"batch_id"`
	Source      string    `json:"source"`
	Market      Market    `json:"market"`
	Quotes      []Quote   `json:"quotes"`
	RecordCount int       `json:"record_count"`
	Timestamp   time.Time `json:"timestamp"`
	ProcessedAt time.Time `json:"processed_at"`
}
