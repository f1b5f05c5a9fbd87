package stream

import (
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/SUIXIN531/Monitor/pkg/binance"
	"github.com/SUIXIN531/Monitor/pkg/clock"
	"github.com/SUIXIN531/Monitor/pkg/models"
)

type TickerFeedConfig struct {
	BaseURL        string
	Quote          string
	ReconnectDelay time.Duration
}

type TickerFeedCallbacks struct {
	OnTicker func(ticker models.Ticker)
	OnStatus func(status models.FeedStatus)
}

// TickerFeed carries the mini tickers of a whole watch list over a single
// combined stream.
type TickerFeed struct {
	cfg       TickerFeedConfig
	loop      Poster
	connector binance.Connector
	clock     clock.Clock
	logger    *logrus.Entry
	callbacks TickerFeedCallbacks

	key     string
	symbols []string
	tickers map[string]models.Ticker
	status  models.FeedStatus

	active bool
	seq    uint64
	connID uint64
	stream binance.Stream
	timer  clock.Timer
}

func NewTickerFeed(cfg TickerFeedConfig, loop Poster, connector binance.Connector, clk clock.Clock, logger *logrus.Logger, callbacks TickerFeedCallbacks) *TickerFeed {
	if cfg.Quote == "" {
		cfg.Quote = binance.DefaultQuote
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 3 * time.Second
	}
	return &TickerFeed{
		cfg:       cfg,
		loop:      loop,
		connector: connector,
		clock:     clk,
		logger:    logger.WithField("component", "ticker_feed"),
		callbacks: callbacks,
		tickers:   make(map[string]models.Ticker),
		status:    models.FeedConnecting,
	}
}

// CanonicalSymbols normalises a watch list into a sorted, de-duplicated set.
func CanonicalSymbols(symbols []string) []string {
	out := binance.NormalizeSymbols(symbols)
	sort.Strings(out)
	return out
}

// Subscribe points the feed at a new watch list. The stream is only replaced
// when set membership changes; a reordered list is a no-op. It reports
// whether the stream was replaced.
func (f *TickerFeed) Subscribe(symbols []string) bool {
	canon := CanonicalSymbols(symbols)
	key := strings.Join(canon, ",")
	if key == f.key && (f.active || key == "") {
		return false
	}

	f.teardown()
	f.key = key
	f.symbols = canon
	f.pruneTickers()

	if len(canon) == 0 {
		f.active = false
		f.logger.Info("Watch list empty, ticker feed idle")
		return true
	}

	f.active = true
	f.logger.WithField("symbols", canon).Info("Subscribing ticker feed")
	f.connect()
	return true
}

// Close stops the stream and any pending reconnect.
func (f *TickerFeed) Close() {
	f.active = false
	f.teardown()
}

func (f *TickerFeed) Symbols() []string {
	return append([]string(nil), f.symbols...)
}

func (f *TickerFeed) Status() models.FeedStatus {
	return f.status
}

// Tickers returns a copy of the per-symbol ticker map.
func (f *TickerFeed) Tickers() map[string]models.Ticker {
	out := make(map[string]models.Ticker, len(f.tickers))
	for k, v := range f.tickers {
		out[k] = v
	}
	return out
}

func (f *TickerFeed) connect() {
	f.setStatus(models.FeedConnecting)

	url, err := binance.CombinedMiniTickerURL(f.cfg.BaseURL, f.symbols, f.cfg.Quote)
	if err != nil {
		f.logger.WithError(err).Error("Failed to build combined stream URL")
		f.setStatus(models.FeedError)
		return
	}

	f.seq++
	id := f.seq
	f.connID = id
	quote := f.cfg.Quote

	f.stream = f.connector.Connect(url, binance.Handler{
		OnOpen: func() {
			f.loop.Post(func() {
				if f.isCurrent(id) {
					f.setStatus(models.FeedConnected)
				}
			})
		},
		OnMessage: func(data []byte) {
			ticker, err := binance.DecodeCombinedMiniTicker(data, quote, f.clock.Now())
			if err != nil {
				f.logger.WithError(err).Warn("Dropping malformed ticker")
				return
			}
			f.loop.Post(func() { f.handleTicker(id, *ticker) })
		},
		OnError: func(err error) {
			f.loop.Post(func() {
				if f.isCurrent(id) {
					f.logger.WithError(err).Error("Ticker feed error")
					f.setStatus(models.FeedError)
				}
			})
		},
		OnClose: func(bool) {
			f.loop.Post(func() { f.handleClose(id) })
		},
	})
}

func (f *TickerFeed) isCurrent(id uint64) bool {
	return f.active && f.connID == id
}

func (f *TickerFeed) handleTicker(id uint64, t models.Ticker) {
	if !f.isCurrent(id) {
		return
	}
	f.tickers[t.Symbol] = t
	if f.callbacks.OnTicker != nil {
		f.callbacks.OnTicker(t)
	}
}

func (f *TickerFeed) handleClose(id uint64) {
	if !f.isCurrent(id) {
		return
	}
	f.stream = nil
	f.setStatus(models.FeedConnecting)
	f.logger.WithField("delay", f.cfg.ReconnectDelay.String()).Warn("Ticker feed closed, scheduling reconnect")

	f.timer = f.clock.AfterFunc(f.cfg.ReconnectDelay, func() {
		f.loop.Post(func() {
			if !f.isCurrent(id) || f.stream != nil {
				return
			}
			f.timer = nil
			f.connect()
		})
	})
}

func (f *TickerFeed) teardown() {
	if f.timer != nil {
		f.timer.Stop()
		f.timer = nil
	}
	if f.stream != nil {
		f.stream.Close()
		f.stream = nil
	}
	f.connID = 0
}

func (f *TickerFeed) pruneTickers() {
	keep := make(map[string]struct{}, len(f.symbols))
	for _, s := range f.symbols {
		keep[s] = struct{}{}
	}
	for s := range f.tickers {
		if _, ok := keep[s]; !ok {
			delete(f.tickers, s)
		}
	}
}

func (f *TickerFeed) setStatus(status models.FeedStatus) {
	f.status = status
	if f.callbacks.OnStatus != nil {
		f.callbacks.OnStatus(status)
	}
}
