package binance

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	gobinance "github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/futures"

	"github.com/SUIXIN531/Monitor/pkg/models"
)

const (
	DefaultQuote        = "USDT"
	DefaultSpotWsURL    = "wss://stream.binance.com:9443/ws"
	DefaultCoinMWsURL   = "wss://dstream.binance.com/ws"
	DefaultMarginAPIURL = "https://www.binance.com"
)

// DefaultUSDMWsURL is the USDT-margined futures raw stream endpoint.
var DefaultUSDMWsURL = futures.BaseWsMainUrl

var ErrEmptySymbols = errors.New("symbols empty")

// NormalizeSymbols upper-cases, trims and de-duplicates symbols, keeping the
// first occurrence order.
func NormalizeSymbols(in []string) []string {
	out := make([]string, 0, len(in))
	seen := map[string]struct{}{}
	for _, s := range in {
		u := strings.ToUpper(strings.TrimSpace(s))
		if u == "" {
			continue
		}
		if _, ok := seen[u]; ok {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	return out
}

func SpotTickerURL(base, symbol, quote string) string {
	return fmt.Sprintf("%s/%s@ticker", strings.TrimRight(base, "/"), strings.ToLower(symbol+quote))
}

func MarkPriceURL(base, symbol, quote string) string {
	return fmt.Sprintf("%s/%s@markPrice", strings.TrimRight(base, "/"), strings.ToLower(symbol+quote))
}

// CoinMarkPriceURL addresses the coin-margined perpetual, e.g. btcusd_perp.
func CoinMarkPriceURL(base, symbol string) string {
	return fmt.Sprintf("%s/%susd_perp@markPrice", strings.TrimRight(base, "/"), strings.ToLower(symbol))
}

// CombinedMiniTickerURL builds a combined stream URL carrying the mini ticker
// of every symbol. base may be either the host root or a raw /ws endpoint.
func CombinedMiniTickerURL(base string, symbols []string, quote string) (string, error) {
	if base == "" {
		return "", errors.New("binance ws base empty")
	}
	streams := make([]string, 0, len(symbols))
	for _, s := range symbols {
		s = strings.ToLower(strings.TrimSpace(s))
		if s == "" {
			continue
		}
		streams = append(streams, fmt.Sprintf("%s%s@miniTicker", s, strings.ToLower(quote)))
	}
	if len(streams) == 0 {
		return "", ErrEmptySymbols
	}

	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("failed to parse ws base: %w", err)
	}
	u.Path = "/stream"
	u.RawQuery = "streams=" + strings.Join(streams, "/")
	return u.String(), nil
}

// DecodeSpotTicker turns a spot @ticker payload into a spot price.
func DecodeSpotTicker(data []byte, now time.Time) (*models.MarketPrice, error) {
	var ev gobinance.WsMarketStatEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, fmt.Errorf("failed to decode spot ticker: %w", err)
	}
	price, err := parsePrice(ev.LastPrice)
	if err != nil {
		return nil, fmt.Errorf("spot ticker last price: %w", err)
	}
	return &models.MarketPrice{Price: price, LastUpdated: now}, nil
}

// DecodeMarkPrice turns a futures @markPrice payload into future market data.
// The price slot carries the mark price as well.
func DecodeMarkPrice(data []byte, now time.Time) (*models.FutureMarketData, error) {
	var ev futures.WsMarkPriceEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, fmt.Errorf("failed to decode mark price: %w", err)
	}
	mark, err := parsePrice(ev.MarkPrice)
	if err != nil {
		return nil, fmt.Errorf("mark price: %w", err)
	}
	funding, err := strconv.ParseFloat(ev.FundingRate, 64)
	if err != nil {
		return nil, fmt.Errorf("funding rate: %w", err)
	}
	return &models.FutureMarketData{
		MarketPrice:     models.MarketPrice{Price: mark, LastUpdated: now},
		MarkPrice:       mark,
		FundingRate:     funding,
		NextFundingTime: time.UnixMilli(ev.NextFundingTime),
	}, nil
}

type combinedEnvelope struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

// DecodeCombinedMiniTicker unwraps a combined-stream envelope carrying a mini
// ticker. The returned ticker is keyed by the base asset (quote stripped).
func DecodeCombinedMiniTicker(data []byte, quote string, now time.Time) (*models.Ticker, error) {
	var env combinedEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("failed to decode combined envelope: %w", err)
	}
	if len(env.Data) == 0 {
		return nil, errors.New("combined envelope without data")
	}

	var ev gobinance.WsMiniMarketsStatEvent
	if err := json.Unmarshal(env.Data, &ev); err != nil {
		return nil, fmt.Errorf("failed to decode mini ticker: %w", err)
	}
	if ev.Symbol == "" {
		return nil, errors.New("mini ticker without symbol")
	}
	last, err := parsePrice(ev.LastPrice)
	if err != nil {
		return nil, fmt.Errorf("mini ticker last price: %w", err)
	}
	open, err := strconv.ParseFloat(ev.OpenPrice, 64)
	if err != nil {
		return nil, fmt.Errorf("mini ticker open price: %w", err)
	}

	return &models.Ticker{
		Symbol:    strings.TrimSuffix(strings.ToUpper(ev.Symbol), strings.ToUpper(quote)),
		LastPrice: last,
		OpenPrice: open,
		UpdatedAt: now,
	}, nil
}

func parsePrice(s string) (float64, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	if v < 0 {
		return 0, fmt.Errorf("negative price %q", s)
	}
	return v, nil
}
