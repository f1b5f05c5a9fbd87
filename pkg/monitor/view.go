package monitor

import (
	"fmt"
	"time"

	"github.com/SUIXIN531/Monitor/pkg/detector"
	"github.com/SUIXIN531/Monitor/pkg/models"
)

type EventType string

const (
	EventStatus EventType = "status"
	EventCoin   EventType = "coin"
	EventTicker EventType = "ticker"
	EventAlert  EventType = "alert"
)

// Event is pushed to live subscribers such as the websocket hub.
type Event struct {
	Type EventType `json:"type"`
	Data any       `json:"data"`
	Time time.Time `json:"time"`
}

// StatusEvent reports a status change of a supervisor (Symbol set) or of the
// watch-list feed (Feed set).
type StatusEvent struct {
	Symbol  string `json:"symbol,omitempty"`
	Feed    string `json:"feed,omitempty"`
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

type CoinView struct {
	Symbol          string                   `json:"symbol"`
	State           models.CoinState         `json:"state"`
	Status          models.ConnectionStatus  `json:"status"`
	Message         string                   `json:"message,omitempty"`
	Spread          models.SpreadSnapshot    `json:"spread"`
	Feeds           map[models.FeedType]bool `json:"feeds"`
	Alerting        bool                     `json:"alerting"`
	LastSpreadAlert *models.AlertState       `json:"lastSpreadAlert,omitempty"`
}

type TickerEntry struct {
	models.Ticker
	ChangePercent float64 `json:"changePercent"`
}

type TickerView struct {
	Symbols  []string          `json:"symbols"`
	Status   models.FeedStatus `json:"status"`
	Tickers  []TickerEntry     `json:"tickers"`
	Alerting map[string]bool   `json:"alerting"`
}

// Settings are the user-adjustable alert parameters.
type Settings struct {
	AlertsEnabled       bool    `json:"alertsEnabled"`
	SpreadThreshold     float64 `json:"spreadThreshold"`
	VolatilityThreshold float64 `json:"volatilityThreshold"`
	VolatilityWindow    int     `json:"volatilityWindow"`
}

func (s Settings) Validate() error {
	if s.SpreadThreshold <= 0 {
		return fmt.Errorf("%w: spread threshold must be positive", ErrInvalidSettings)
	}
	if s.VolatilityThreshold <= 0 {
		return fmt.Errorf("%w: volatility threshold must be positive", ErrInvalidSettings)
	}
	for _, w := range detector.ValidWindows {
		if s.VolatilityWindow == w {
			return nil
		}
	}
	return fmt.Errorf("%w: volatility window must be one of %v minutes", ErrInvalidSettings, detector.ValidWindows)
}
