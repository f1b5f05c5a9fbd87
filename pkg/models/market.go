package models

import (
	"time"
)

type MarketPrice struct {
	Price       float64   `json:"price"`
	LastUpdated time.Time `json:"lastUpdated"`
}

type FutureMarketData struct {
	MarketPrice
	MarkPrice       float64   `json:"markPrice"`
	FundingRate     float64   `json:"fundingRate"`
	NextFundingTime time.Time `json:"nextFundingTime"`
}

type BorrowData struct {
	DailyInterestRate  float64 `json:"dailyInterestRate"`
	YearlyInterestRate float64 `json:"yearlyInterestRate"`
	BorrowLimit        float64 `json:"borrowLimit"`
	IsBorrowable       bool    `json:"isBorrowable"`
}

// CoinState is the reconciled view of one tracked symbol. Pointer fields are
// nil until the owning feed has delivered its first message. Values behind
// the pointers are never mutated once assigned, so copies of a CoinState are
// safe to hand to other goroutines.
type CoinState struct {
	Symbol       string            `json:"symbol"`
	Spot         *MarketPrice      `json:"spot"`
	UMargined    *FutureMarketData `json:"uMargined"`
	CoinMargined *FutureMarketData `json:"coinMargined"`
	Borrow       *BorrowData       `json:"borrow,omitempty"`
}

// CoinUpdate is a partial update produced by a single feed handler.
type CoinUpdate struct {
	Spot         *MarketPrice
	UMargined    *FutureMarketData
	CoinMargined *FutureMarketData
	Borrow       *BorrowData
}

// Merge applies the fields present in u and leaves every other field as is.
func (s *CoinState) Merge(u CoinUpdate) {
	if u.Spot != nil {
		v := *u.Spot
		s.Spot = &v
	}
	if u.UMargined != nil {
		v := *u.UMargined
		s.UMargined = &v
	}
	if u.CoinMargined != nil {
		v := *u.CoinMargined
		s.CoinMargined = &v
	}
	if u.Borrow != nil {
		v := *u.Borrow
		s.Borrow = &v
	}
}

func (u CoinUpdate) IsEmpty() bool {
	return u.Spot == nil && u.UMargined == nil && u.CoinMargined == nil && u.Borrow == nil
}

// Ticker is an abbreviated 24h ticker from the multiplexed watch-list feed.
type Ticker struct {
	Symbol    string    `json:"symbol"`
	LastPrice float64   `json:"lastPrice"`
	OpenPrice float64   `json:"openPrice"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// ChangePercent is the 24h change relative to the open price.
func (t Ticker) ChangePercent() float64 {
	if t.OpenPrice == 0 {
		return 0
	}
	return (t.LastPrice - t.OpenPrice) / t.OpenPrice * 100
}

type PricePoint struct {
	Price float64   `json:"price"`
	Time  time.Time `json:"time"`
}
