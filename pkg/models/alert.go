package models

import (
	"time"
)

type AlertKind string

const (
	AlertVolatility AlertKind = "volatility"
	AlertSpread     AlertKind = "spread"
)

// AlertState tracks the last time an alert of a given kind fired for a symbol.
type AlertState struct {
	Symbol      string    `json:"symbol"`
	Kind        AlertKind `json:"kind"`
	LastFiredAt time.Time `json:"lastFiredAt"`
}

// AlertRecord is a fired alert as kept in the journal.
type AlertRecord struct {
	ID        string    `json:"id"`
	Symbol    string    `json:"symbol"`
	Kind      AlertKind `json:"kind"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	Value     float64   `json:"value"`
	Threshold float64   `json:"threshold"`
	FiredAt   time.Time `json:"firedAt"`
}
