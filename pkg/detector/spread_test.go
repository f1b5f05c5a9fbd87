package detector

import (
	"math"
	"testing"
	"time"

	"github.com/SUIXIN531/Monitor/pkg/clock"
	"github.com/SUIXIN531/Monitor/pkg/models"
)

func coinState(spot, usdm, coinm float64) models.CoinState {
	st := models.CoinState{Symbol: "BTC"}
	if spot != 0 {
		st.Spot = &models.MarketPrice{Price: spot}
	}
	if usdm != 0 {
		st.UMargined = &models.FutureMarketData{MarketPrice: models.MarketPrice{Price: usdm}, MarkPrice: usdm}
	}
	if coinm != 0 {
		st.CoinMargined = &models.FutureMarketData{MarketPrice: models.MarketPrice{Price: coinm}, MarkPrice: coinm}
	}
	return st
}

func TestComputeSpread(t *testing.T) {
	snap := ComputeSpread(coinState(100, 101.5, 99), epoch)
	if math.Abs(snap.USDTSpread-0.015) > 1e-12 {
		t.Errorf("USDTSpread = %v, want 0.015", snap.USDTSpread)
	}
	if math.Abs(snap.CoinSpread+0.01) > 1e-12 {
		t.Errorf("CoinSpread = %v, want -0.01", snap.CoinSpread)
	}
	if math.Abs(snap.MaxPercent-1.5) > 1e-9 {
		t.Errorf("MaxPercent = %v, want 1.5", snap.MaxPercent)
	}
	if !snap.HasUSDT || !snap.HasCoin {
		t.Errorf("legs = %v/%v, want both", snap.HasUSDT, snap.HasCoin)
	}
}

func TestSpreadThreshold(t *testing.T) {
	tests := []struct {
		name      string
		threshold float64
		want      bool
	}{
		{"below spread", 1.0, true},
		{"above spread", 2.0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewSpread(clock.NewFake(epoch), tt.threshold)
			sig, ok := s.Evaluate(coinState(100, 101.5, 0))
			if ok != tt.want {
				t.Fatalf("Evaluate() fired = %v, want %v", ok, tt.want)
			}
			if ok && math.Abs(sig.Percent-1.5) > 1e-9 {
				t.Errorf("Percent = %v, want 1.5", sig.Percent)
			}
		})
	}
}

func TestSpreadCooldown(t *testing.T) {
	clk := clock.NewFake(epoch)
	s := NewSpread(clk, 1.0)
	state := coinState(100, 102, 0)

	if _, ok := s.Evaluate(state); !ok {
		t.Fatal("first evaluation did not fire")
	}
	clk.Advance(4 * time.Minute)
	if _, ok := s.Evaluate(state); ok {
		t.Fatal("fired within the cooldown")
	}
	clk.Advance(time.Minute)
	if _, ok := s.Evaluate(state); ok {
		t.Fatal("fired exactly at the cooldown boundary")
	}
	clk.Advance(time.Second)
	if _, ok := s.Evaluate(state); !ok {
		t.Error("did not fire after the cooldown")
	}
}

func TestSpreadRequiresSpotAndFuture(t *testing.T) {
	tests := []struct {
		name  string
		state models.CoinState
		want  bool
	}{
		{"no spot", coinState(0, 105, 105), false},
		{"no futures", coinState(100, 0, 0), false},
		{"coin only", coinState(100, 0, 97), true},
		{"negative usdt", coinState(100, 98, 0), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewSpread(clock.NewFake(epoch), 1.0)
			if _, ok := s.Evaluate(tt.state); ok != tt.want {
				t.Errorf("Evaluate() fired = %v, want %v", ok, tt.want)
			}
		})
	}
}

func TestSpreadCooldownIsPerSymbol(t *testing.T) {
	s := NewSpread(clock.NewFake(epoch), 1.0)
	btc := coinState(100, 102, 0)
	eth := coinState(100, 102, 0)
	eth.Symbol = "ETH"

	if _, ok := s.Evaluate(btc); !ok {
		t.Fatal("BTC did not fire")
	}
	if _, ok := s.Evaluate(eth); !ok {
		t.Error("ETH suppressed by BTC cooldown")
	}
}
