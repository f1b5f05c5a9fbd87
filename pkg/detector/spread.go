package detector

import (
	"math"
	"time"

	"github.com/SUIXIN531/Monitor/pkg/clock"
	"github.com/SUIXIN531/Monitor/pkg/models"
)

// SpreadCooldown is the minimum interval between spread alerts for a symbol.
// It is fixed and does not follow the volatility window.
const SpreadCooldown = 5 * time.Minute

type SpreadSignal struct {
	Snapshot  models.SpreadSnapshot
	Percent   float64
	Threshold float64
}

type Spread struct {
	clock     clock.Clock
	threshold float64
	alerts    map[string]*models.AlertState
}

func NewSpread(clk clock.Clock, threshold float64) *Spread {
	return &Spread{
		clock:     clk,
		threshold: threshold,
		alerts:    make(map[string]*models.AlertState),
	}
}

func (s *Spread) SetThreshold(threshold float64) {
	s.threshold = threshold
}

func (s *Spread) Threshold() float64 {
	return s.threshold
}

// Evaluate fires when the larger absolute spread of the two futures reaches
// the threshold and the symbol has not fired within the cooldown.
func (s *Spread) Evaluate(state models.CoinState) (SpreadSignal, bool) {
	now := s.clock.Now()
	snap := ComputeSpread(state, now)
	if snap.SpotPrice == 0 || !snap.HasFuture() {
		return SpreadSignal{}, false
	}
	if snap.MaxPercent < s.threshold {
		return SpreadSignal{}, false
	}

	alert, ok := s.alerts[state.Symbol]
	if ok && now.Sub(alert.LastFiredAt) <= SpreadCooldown {
		return SpreadSignal{}, false
	}
	if !ok {
		alert = &models.AlertState{Symbol: state.Symbol, Kind: models.AlertSpread}
		s.alerts[state.Symbol] = alert
	}
	alert.LastFiredAt = now

	return SpreadSignal{Snapshot: snap, Percent: snap.MaxPercent, Threshold: s.threshold}, true
}

func (s *Spread) AlertState(symbol string) (models.AlertState, bool) {
	a, ok := s.alerts[symbol]
	if !ok {
		return models.AlertState{}, false
	}
	return *a, true
}

// ComputeSpread derives (mark - spot) / spot for both futures. A missing
// spot or future leg contributes a spread of zero.
func ComputeSpread(state models.CoinState, now time.Time) models.SpreadSnapshot {
	snap := models.SpreadSnapshot{Symbol: state.Symbol, Timestamp: now}
	if state.Spot == nil || state.Spot.Price == 0 {
		return snap
	}
	spot := state.Spot.Price
	snap.SpotPrice = spot

	if f := state.UMargined; f != nil && f.MarkPrice != 0 {
		snap.HasUSDT = true
		snap.USDTMarkPrice = f.MarkPrice
		snap.USDTSpread = (f.MarkPrice - spot) / spot
	}
	if f := state.CoinMargined; f != nil && f.MarkPrice != 0 {
		snap.HasCoin = true
		snap.CoinMarkPrice = f.MarkPrice
		snap.CoinSpread = (f.MarkPrice - spot) / spot
	}
	snap.MaxPercent = math.Max(math.Abs(snap.USDTSpread), math.Abs(snap.CoinSpread)) * 100
	return snap
}
