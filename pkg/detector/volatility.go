// Package detector evaluates price data against alert thresholds. Detectors
// keep per-symbol state and are not safe for concurrent use; they are driven
// from the event loop.
package detector

import (
	"math"
	"time"

	"github.com/SUIXIN531/Monitor/pkg/clock"
	"github.com/SUIXIN531/Monitor/pkg/models"
)

// PruneMargin is kept beyond the window so a reference point survives
// irregular update cadence.
const PruneMargin = 60 * time.Second

// ValidWindows are the supported volatility windows, in minutes.
var ValidWindows = []int{1, 5, 15, 60}

type VolatilitySignal struct {
	Symbol        string
	ChangePercent float64
	Reference     models.PricePoint
	Current       models.PricePoint
	Threshold     float64
	Window        time.Duration
}

// Volatility tracks a bounded price history per symbol and reports when the
// move over the trailing window reaches the threshold.
type Volatility struct {
	clock     clock.Clock
	threshold float64
	window    time.Duration
	history   map[string][]models.PricePoint
	alerts    map[string]*models.AlertState
}

func NewVolatility(clk clock.Clock, threshold float64, window time.Duration) *Volatility {
	return &Volatility{
		clock:     clk,
		threshold: threshold,
		window:    window,
		history:   make(map[string][]models.PricePoint),
		alerts:    make(map[string]*models.AlertState),
	}
}

// SetParams changes threshold and window. Existing history is kept and
// pruned against the new window on the next observation.
func (v *Volatility) SetParams(threshold float64, window time.Duration) {
	v.threshold = threshold
	v.window = window
}

func (v *Volatility) Params() (float64, time.Duration) {
	return v.threshold, v.window
}

// Observe records price for symbol at the current time and evaluates it.
func (v *Volatility) Observe(symbol string, price float64) (VolatilitySignal, bool) {
	if math.IsNaN(price) || math.IsInf(price, 0) {
		return VolatilitySignal{}, false
	}
	now := v.clock.Now()

	h := v.history[symbol]
	if n := len(h); n > 0 && now.Before(h[n-1].Time) {
		now = h[n-1].Time
	}
	current := models.PricePoint{Price: price, Time: now}
	h = pruneBefore(append(h, current), v.cutoff(now))
	v.history[symbol] = h

	target := now.Add(-v.window)
	if h[0].Time.After(target) {
		return VolatilitySignal{}, false
	}

	var ref models.PricePoint
	for _, p := range h {
		if !p.Time.Before(target) {
			ref = p
			break
		}
	}
	if ref.Price == 0 {
		return VolatilitySignal{}, false
	}

	change := math.Abs((price-ref.Price)/ref.Price) * 100
	if change < v.threshold {
		return VolatilitySignal{}, false
	}

	state, ok := v.alerts[symbol]
	if ok && now.Sub(state.LastFiredAt) <= v.window {
		return VolatilitySignal{}, false
	}
	if !ok {
		state = &models.AlertState{Symbol: symbol, Kind: models.AlertVolatility}
		v.alerts[symbol] = state
	}
	state.LastFiredAt = now

	return VolatilitySignal{
		Symbol:        symbol,
		ChangePercent: change,
		Reference:     ref,
		Current:       current,
		Threshold:     v.threshold,
		Window:        v.window,
	}, true
}

// Prune drops history entries of symbol older than now - window - PruneMargin.
func (v *Volatility) Prune(symbol string, now time.Time) {
	h, ok := v.history[symbol]
	if !ok {
		return
	}
	v.history[symbol] = pruneBefore(h, v.cutoff(now))
}

// History returns a copy of the retained price points for symbol.
func (v *Volatility) History(symbol string) []models.PricePoint {
	return append([]models.PricePoint(nil), v.history[symbol]...)
}

func (v *Volatility) AlertState(symbol string) (models.AlertState, bool) {
	s, ok := v.alerts[symbol]
	if !ok {
		return models.AlertState{}, false
	}
	return *s, true
}

// Forget drops the history of symbol, keeping its alert state.
func (v *Volatility) Forget(symbol string) {
	delete(v.history, symbol)
}

func (v *Volatility) cutoff(now time.Time) time.Time {
	return now.Add(-v.window - PruneMargin)
}

func pruneBefore(h []models.PricePoint, cutoff time.Time) []models.PricePoint {
	i := 0
	for i < len(h) && h[i].Time.Before(cutoff) {
		i++
	}
	if i == 0 {
		return h
	}
	return h[i:]
}
