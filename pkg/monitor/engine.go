// Package monitor wires the feeds, detectors and alert dispatcher together on
// a single event loop and exposes goroutine-safe accessors for the API.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/SUIXIN531/Monitor/pkg/analysis"
	"github.com/SUIXIN531/Monitor/pkg/binance"
	"github.com/SUIXIN531/Monitor/pkg/clock"
	"github.com/SUIXIN531/Monitor/pkg/detector"
	"github.com/SUIXIN531/Monitor/pkg/eventloop"
	"github.com/SUIXIN531/Monitor/pkg/models"
	"github.com/SUIXIN531/Monitor/pkg/notify"
	"github.com/SUIXIN531/Monitor/pkg/stream"
)

var (
	ErrUnknownSymbol    = errors.New("symbol not tracked")
	ErrAnalysisDisabled = errors.New("analysis disabled")
	ErrInvalidSettings  = errors.New("invalid settings")
	ErrAlreadyTracked   = errors.New("symbol already tracked")
	ErrEmptySymbol      = errors.New("symbol empty")
)

type Config struct {
	Tracked             []string
	Watchlist           []string
	AlertsEnabled       bool
	SpreadThreshold     float64
	VolatilityThreshold float64
	VolatilityWindow    int
	FlagDuration        time.Duration
	AppTitle            string
	BorrowTimeout       time.Duration
	Supervisor          stream.SupervisorConfig
	TickerFeed          stream.TickerFeedConfig
}

// Journal persists fired alerts and the watch list.
type Journal interface {
	notify.Recorder
	RecentAlerts(ctx context.Context, symbol string, limit int) ([]models.AlertRecord, error)
	SaveWatchlist(ctx context.Context, symbols []string) error
}

// Deps are the collaborators of an Engine. Borrow, Analyzer, Notifier and
// Journal may be nil.
type Deps struct {
	Loop      *eventloop.Loop
	Connector binance.Connector
	Clock     clock.Clock
	Prober    stream.Prober
	Borrow    binance.BorrowFetcher
	Analyzer  analysis.Analyzer
	Notifier  notify.Notifier
	Journal   Journal
	Logger    *logrus.Logger
}

// Engine owns every supervisor, the ticker feed, both detectors and the
// dispatcher. Fields below the loop are only touched from the loop.
type Engine struct {
	cfg      Config
	loop     *eventloop.Loop
	deps     Deps
	clock    clock.Clock
	logger   *logrus.Entry
	bg       sync.WaitGroup
	onEvent  func(Event)
	settings Settings

	supervisors map[string]*stream.Supervisor
	order       []string
	feed        *stream.TickerFeed
	volatility  *detector.Volatility
	spread      *detector.Spread
	dispatcher  *notify.Dispatcher
}

func NewEngine(cfg Config, deps Deps) *Engine {
	if deps.Clock == nil {
		deps.Clock = clock.Real()
	}
	if cfg.AppTitle == "" {
		cfg.AppTitle = "Spread Monitor"
	}
	if cfg.BorrowTimeout <= 0 {
		cfg.BorrowTimeout = 10 * time.Second
	}
	if cfg.VolatilityWindow <= 0 {
		cfg.VolatilityWindow = 5
	}

	e := &Engine{
		cfg:    cfg,
		loop:   deps.Loop,
		deps:   deps,
		clock:  deps.Clock,
		logger: deps.Logger.WithField("component", "engine"),
		settings: Settings{
			AlertsEnabled:       cfg.AlertsEnabled,
			SpreadThreshold:     cfg.SpreadThreshold,
			VolatilityThreshold: cfg.VolatilityThreshold,
			VolatilityWindow:    cfg.VolatilityWindow,
		},
		supervisors: make(map[string]*stream.Supervisor),
	}

	e.volatility = detector.NewVolatility(deps.Clock, cfg.VolatilityThreshold, minutes(cfg.VolatilityWindow))
	e.spread = detector.NewSpread(deps.Clock, cfg.SpreadThreshold)

	var recorder notify.Recorder
	if deps.Journal != nil {
		recorder = deps.Journal
	}
	e.dispatcher = notify.NewDispatcher(notify.DispatcherConfig{FlagDuration: cfg.FlagDuration},
		deps.Notifier, deps.Loop, deps.Clock, recorder, deps.Logger)
	e.dispatcher.OnAlert(func(rec models.AlertRecord) {
		e.emit(EventAlert, rec)
	})

	e.feed = stream.NewTickerFeed(cfg.TickerFeed, deps.Loop, deps.Connector, deps.Clock, deps.Logger,
		stream.TickerFeedCallbacks{
			OnTicker: e.handleTicker,
			OnStatus: func(status models.FeedStatus) {
				e.emit(EventStatus, StatusEvent{Feed: "watchlist", Status: string(status)})
			},
		})
	return e
}

// OnEvent registers a hook that receives every event on the loop. It must be
// set before Run and must not block.
func (e *Engine) OnEvent(fn func(Event)) {
	e.onEvent = fn
}

// Run opens every feed and processes events until ctx is cancelled. Feeds
// are opened before any queued task runs, so callers that reach the loop
// early already see the configured symbols. Feeds are closed before it
// returns.
func (e *Engine) Run(ctx context.Context) {
	e.logger.WithFields(logrus.Fields{
		"tracked":   e.cfg.Tracked,
		"watchlist": e.cfg.Watchlist,
	}).Info("Starting monitor engine")

	// The loop is not consuming yet, so this goroutine owns loop state.
	e.start()
	e.loop.Run(ctx)

	e.shutdown()
	e.bg.Wait()
	e.logger.Info("Monitor engine stopped")
}

func (e *Engine) start() {
	for _, sym := range binance.NormalizeSymbols(e.cfg.Tracked) {
		if err := e.track(sym); err != nil {
			e.logger.WithError(err).WithField("symbol", sym).Warn("Skipping tracked symbol")
		}
	}
	e.feed.Subscribe(e.cfg.Watchlist)
}

// shutdown runs after the loop has exited, so it still owns loop state.
func (e *Engine) shutdown() {
	for _, sup := range e.supervisors {
		sup.Close()
	}
	e.feed.Close()
}

func (e *Engine) track(symbol string) error {
	if symbol == "" {
		return ErrEmptySymbol
	}
	if _, ok := e.supervisors[symbol]; ok {
		return ErrAlreadyTracked
	}
	sup := stream.NewSupervisor(e.cfg.Supervisor, e.loop, e.deps.Connector, e.clock, e.deps.Prober, e.deps.Logger,
		stream.SupervisorCallbacks{
			OnUpdate: e.handleUpdate,
			OnStatus: func(sym string, status models.ConnectionStatus, message string) {
				e.emit(EventStatus, StatusEvent{Symbol: sym, Status: string(status), Message: message})
			},
		})
	e.supervisors[symbol] = sup
	e.order = append(e.order, symbol)
	sup.Open(symbol)
	e.refreshBorrow(symbol)
	return nil
}

func (e *Engine) untrack(symbol string) error {
	sup, ok := e.supervisors[symbol]
	if !ok {
		return ErrUnknownSymbol
	}
	sup.Close()
	delete(e.supervisors, symbol)
	for i, s := range e.order {
		if s == symbol {
			e.order = append(e.order[:i], e.order[i+1:]...)
			break
		}
	}
	return nil
}

func (e *Engine) handleUpdate(state models.CoinState) {
	e.emit(EventCoin, state)
	if !e.settings.AlertsEnabled {
		return
	}
	sig, fired := e.spread.Evaluate(state)
	if !fired {
		return
	}
	e.dispatcher.Notify(notify.SpreadAlert(e.cfg.AppTitle, state.Symbol, sig.Percent, sig.Threshold))
}

func (e *Engine) handleTicker(t models.Ticker) {
	e.emit(EventTicker, t)
	if !e.settings.AlertsEnabled {
		return
	}
	sig, fired := e.volatility.Observe(t.Symbol, t.LastPrice)
	if !fired {
		return
	}
	e.dispatcher.Notify(notify.VolatilityAlert(e.cfg.AppTitle, t.Symbol, sig.ChangePercent, sig.Threshold,
		int(sig.Window/time.Minute)))
}

// refreshBorrow fetches borrow data off the loop and merges it into the
// supervisor if it still tracks symbol.
func (e *Engine) refreshBorrow(symbol string) {
	if e.deps.Borrow == nil {
		return
	}
	log := e.logger.WithField("symbol", symbol)
	e.bg.Add(1)
	go func() {
		defer e.bg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), e.cfg.BorrowTimeout)
		defer cancel()

		data, err := e.deps.Borrow.FetchBorrowData(ctx, symbol)
		if errors.Is(err, binance.ErrNoBorrowData) {
			log.Warn("No borrow data for symbol")
			return
		}
		if err != nil {
			log.WithError(err).Error("Failed to fetch borrow data")
			return
		}
		e.loop.Post(func() {
			sup, ok := e.supervisors[symbol]
			if !ok || !sup.Active() {
				return
			}
			sup.Apply(models.CoinUpdate{Borrow: data})
		})
	}()
}

func (e *Engine) emit(typ EventType, data any) {
	if e.onEvent == nil {
		return
	}
	e.onEvent(Event{Type: typ, Data: data, Time: e.clock.Now()})
}

// Coins returns a view of every tracked symbol in tracking order.
func (e *Engine) Coins(ctx context.Context) ([]CoinView, error) {
	var out []CoinView
	err := e.loop.Do(ctx, func() {
		out = make([]CoinView, 0, len(e.order))
		for _, sym := range e.order {
			out = append(out, e.coinView(sym))
		}
	})
	return out, err
}

func (e *Engine) Coin(ctx context.Context, symbol string) (CoinView, error) {
	symbol = canonical(symbol)
	var (
		out   CoinView
		found bool
	)
	err := e.loop.Do(ctx, func() {
		if _, found = e.supervisors[symbol]; found {
			out = e.coinView(symbol)
		}
	})
	if err != nil {
		return CoinView{}, err
	}
	if !found {
		return CoinView{}, ErrUnknownSymbol
	}
	return out, nil
}

func (e *Engine) coinView(symbol string) CoinView {
	sup := e.supervisors[symbol]
	status, message := sup.Status()
	v := CoinView{
		Symbol:   symbol,
		State:    sup.State(),
		Status:   status,
		Message:  message,
		Spread:   detector.ComputeSpread(sup.State(), e.clock.Now()),
		Feeds:    sup.FeedsOpen(),
		Alerting: e.dispatcher.IsAlerting(symbol),
	}
	if a, ok := e.spread.AlertState(symbol); ok {
		v.LastSpreadAlert = &a
	}
	return v
}

// Track starts supervising symbol.
func (e *Engine) Track(ctx context.Context, symbol string) error {
	symbol = canonical(symbol)
	var terr error
	if err := e.loop.Do(ctx, func() { terr = e.track(symbol) }); err != nil {
		return err
	}
	return terr
}

// Untrack closes the supervisor of symbol.
func (e *Engine) Untrack(ctx context.Context, symbol string) error {
	symbol = canonical(symbol)
	var uerr error
	if err := e.loop.Do(ctx, func() { uerr = e.untrack(symbol) }); err != nil {
		return err
	}
	return uerr
}

// Reconnect tears down and reopens the feeds of symbol and refreshes its
// borrow data.
func (e *Engine) Reconnect(ctx context.Context, symbol string) error {
	symbol = canonical(symbol)
	found := false
	err := e.loop.Do(ctx, func() {
		sup, ok := e.supervisors[symbol]
		if !ok {
			return
		}
		found = true
		sup.Reconnect()
		e.refreshBorrow(symbol)
	})
	if err != nil {
		return err
	}
	if !found {
		return ErrUnknownSymbol
	}
	return nil
}

// Analyze asks the analysis service for a strategy on the current state of
// symbol. Service failures are folded into the returned Analysis.
func (e *Engine) Analyze(ctx context.Context, symbol string, lang models.Language) (models.Analysis, error) {
	if e.deps.Analyzer == nil {
		return models.Analysis{}, ErrAnalysisDisabled
	}
	view, err := e.Coin(ctx, symbol)
	if err != nil {
		return models.Analysis{}, err
	}
	return e.deps.Analyzer.Analyze(ctx, view.State, lang), nil
}

// Tickers returns the watch-list tickers sorted by symbol.
func (e *Engine) Tickers(ctx context.Context) (TickerView, error) {
	var out TickerView
	err := e.loop.Do(ctx, func() {
		out.Symbols = e.feed.Symbols()
		out.Status = e.feed.Status()
		out.Alerting = e.dispatcher.Active()
		for _, t := range e.feed.Tickers() {
			out.Tickers = append(out.Tickers, TickerEntry{Ticker: t, ChangePercent: t.ChangePercent()})
		}
	})
	sort.Slice(out.Tickers, func(i, j int) bool { return out.Tickers[i].Symbol < out.Tickers[j].Symbol })
	return out, err
}

// SetWatchlist replaces the watch list and persists it. The returned slice is
// the canonical set.
func (e *Engine) SetWatchlist(ctx context.Context, symbols []string) ([]string, error) {
	canon := stream.CanonicalSymbols(symbols)
	err := e.loop.Do(ctx, func() {
		for _, old := range e.feed.Symbols() {
			if !contains(canon, old) {
				e.volatility.Forget(old)
			}
		}
		e.cfg.Watchlist = canon
		e.feed.Subscribe(canon)
	})
	if err != nil {
		return nil, err
	}
	if e.deps.Journal != nil {
		if err := e.deps.Journal.SaveWatchlist(ctx, canon); err != nil {
			return canon, fmt.Errorf("failed to persist watch list: %w", err)
		}
	}
	return canon, nil
}

func (e *Engine) Settings(ctx context.Context) (Settings, error) {
	var out Settings
	err := e.loop.Do(ctx, func() { out = e.settings })
	return out, err
}

// UpdateSettings applies new thresholds. Detector history and alert state are
// kept.
func (e *Engine) UpdateSettings(ctx context.Context, s Settings) error {
	if err := s.Validate(); err != nil {
		return err
	}
	return e.loop.Do(ctx, func() {
		e.settings = s
		e.spread.SetThreshold(s.SpreadThreshold)
		e.volatility.SetParams(s.VolatilityThreshold, minutes(s.VolatilityWindow))
		e.logger.WithFields(logrus.Fields{
			"alerts_enabled":       s.AlertsEnabled,
			"spread_threshold":     s.SpreadThreshold,
			"volatility_threshold": s.VolatilityThreshold,
			"volatility_window":    s.VolatilityWindow,
		}).Info("Settings updated")
	})
}

// Alerts returns journaled alerts, newest first.
func (e *Engine) Alerts(ctx context.Context, symbol string, limit int) ([]models.AlertRecord, error) {
	if e.deps.Journal == nil {
		return []models.AlertRecord{}, nil
	}
	return e.deps.Journal.RecentAlerts(ctx, canonical(symbol), limit)
}

// StatusText is a plain-text summary for chat commands.
func (e *Engine) StatusText() string {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	coins, err := e.Coins(ctx)
	if err != nil {
		return "Monitor unavailable: " + err.Error()
	}
	tickers, err := e.Tickers(ctx)
	if err != nil {
		return "Monitor unavailable: " + err.Error()
	}

	var b strings.Builder
	b.WriteString("Tracked coins:\n")
	if len(coins) == 0 {
		b.WriteString("  none\n")
	}
	for _, c := range coins {
		fmt.Fprintf(&b, "  %s %s spread %.3f%%", c.Symbol, c.Status, c.Spread.MaxPercent)
		if c.Message != "" {
			fmt.Fprintf(&b, " (%s)", c.Message)
		}
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "Watch list: %s, %d/%d tickers", tickers.Status, len(tickers.Tickers), len(tickers.Symbols))
	return b.String()
}

func canonical(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

func minutes(n int) time.Duration {
	return time.Duration(n) * time.Minute
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
