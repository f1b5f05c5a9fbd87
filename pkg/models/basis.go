package models

import (
	"time"
)

// SpreadSnapshot is the instantaneous spot/future basis of one symbol.
// USDTSpread and CoinSpread are fractions, MaxPercent is in percent.
type SpreadSnapshot struct {
	Symbol        string    `json:"symbol"`
	SpotPrice     float64   `json:"spotPrice"`
	USDTMarkPrice float64   `json:"usdtMarkPrice"`
	CoinMarkPrice float64   `json:"coinMarkPrice"`
	USDTSpread    float64   `json:"usdtSpread"`
	CoinSpread    float64   `json:"coinSpread"`
	HasUSDT       bool      `json:"hasUsdt"`
	HasCoin       bool      `json:"hasCoin"`
	MaxPercent    float64   `json:"maxPercent"`
	Timestamp     time.Time `json:"timestamp"`
}

// HasFuture reports whether at least one future leg was available.
func (s SpreadSnapshot) HasFuture() bool {
	return s.HasUSDT || s.HasCoin
}
