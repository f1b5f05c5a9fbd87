package stream

import (
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/SUIXIN531/Monitor/pkg/binance"
	"github.com/SUIXIN531/Monitor/pkg/clock"
	"github.com/SUIXIN531/Monitor/pkg/models"
)

const offlineMessage = "Network offline"

type SupervisorConfig struct {
	SpotURL        string
	USDMURL        string
	CoinMURL       string
	Quote          string
	ReconnectDelay time.Duration
	ReleaseDelay   time.Duration
}

type SupervisorCallbacks struct {
	OnUpdate func(state models.CoinState)
	OnStatus func(symbol string, status models.ConnectionStatus, message string)
}

type feed struct {
	id     uint64
	stream binance.Stream
	open   bool
	timer  clock.Timer
}

// Supervisor holds the spot, USDT-M and COIN-M feeds of one symbol and
// merges their messages into a single CoinState.
type Supervisor struct {
	cfg       SupervisorConfig
	loop      Poster
	connector binance.Connector
	clock     clock.Clock
	prober    Prober
	logger    *logrus.Entry
	callbacks SupervisorCallbacks

	symbol  string
	state   models.CoinState
	status  models.ConnectionStatus
	message string

	active    bool
	seq       uint64
	feeds     map[models.FeedType]*feed
	release   clock.Timer
	releaseID uint64
}

func NewSupervisor(cfg SupervisorConfig, loop Poster, connector binance.Connector, clk clock.Clock, prober Prober, logger *logrus.Logger, callbacks SupervisorCallbacks) *Supervisor {
	if cfg.Quote == "" {
		cfg.Quote = binance.DefaultQuote
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 3 * time.Second
	}
	if cfg.ReleaseDelay <= 0 {
		cfg.ReleaseDelay = 200 * time.Millisecond
	}
	return &Supervisor{
		cfg:       cfg,
		loop:      loop,
		connector: connector,
		clock:     clk,
		prober:    prober,
		logger:    logger.WithField("component", "supervisor"),
		callbacks: callbacks,
		status:    models.StatusDisconnected,
		feeds:     make(map[models.FeedType]*feed),
	}
}

// Open starts the three feeds for symbol. Opening a different symbol than
// the current one discards the accumulated state.
func (s *Supervisor) Open(symbol string) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	s.teardown()
	if symbol != s.symbol {
		s.symbol = symbol
		s.state = models.CoinState{Symbol: symbol}
	}
	s.active = true
	s.connect()
}

// Reconnect drops every feed and opens them again after the release delay.
func (s *Supervisor) Reconnect() {
	if s.symbol == "" {
		return
	}
	s.teardown()
	s.setStatus(models.StatusDisconnected, "")
	s.active = true

	s.seq++
	id := s.seq
	s.releaseID = id
	s.release = s.clock.AfterFunc(s.cfg.ReleaseDelay, func() {
		s.loop.Post(func() {
			if !s.active || s.releaseID != id {
				return
			}
			s.release = nil
			s.releaseID = 0
			s.connect()
		})
	})
}

// Close stops every feed and pending timer. Late events from the closed
// sockets are ignored.
func (s *Supervisor) Close() {
	s.active = false
	s.teardown()
	s.setStatus(models.StatusDisconnected, "")
}

// Apply merges an update produced outside the feeds, such as borrow data.
func (s *Supervisor) Apply(update models.CoinUpdate) {
	if update.IsEmpty() {
		return
	}
	s.state.Merge(update)
	s.emitUpdate()
}

func (s *Supervisor) Symbol() string {
	return s.symbol
}

func (s *Supervisor) Active() bool {
	return s.active
}

// State returns a copy of the current CoinState.
func (s *Supervisor) State() models.CoinState {
	return s.state
}

func (s *Supervisor) Status() (models.ConnectionStatus, string) {
	return s.status, s.message
}

// FeedsOpen reports which feeds currently have an open socket.
func (s *Supervisor) FeedsOpen() map[models.FeedType]bool {
	out := make(map[models.FeedType]bool, len(models.FeedTypes))
	for _, ft := range models.FeedTypes {
		f := s.feeds[ft]
		out[ft] = f != nil && f.open
	}
	return out
}

func (s *Supervisor) connect() {
	s.setStatus(models.StatusConnecting, "")
	for _, ft := range models.FeedTypes {
		s.openFeed(ft)
	}
}

func (s *Supervisor) teardown() {
	if s.release != nil {
		s.release.Stop()
		s.release = nil
	}
	s.releaseID = 0
	for ft, f := range s.feeds {
		if f.timer != nil {
			f.timer.Stop()
		}
		if f.stream != nil {
			f.stream.Close()
		}
		delete(s.feeds, ft)
	}
}

func (s *Supervisor) openFeed(ft models.FeedType) {
	s.seq++
	id := s.seq
	f := &feed{id: id}
	s.feeds[ft] = f

	decode := s.decoder(ft)
	log := s.logger.WithFields(logrus.Fields{"symbol": s.symbol, "feed": ft})

	f.stream = s.connector.Connect(s.feedURL(ft), binance.Handler{
		OnOpen: func() {
			s.loop.Post(func() { s.handleOpen(ft, id) })
		},
		OnMessage: func(data []byte) {
			update, err := decode(data, s.clock.Now())
			if err != nil {
				log.WithError(err).Warn("Dropping malformed message")
				return
			}
			s.loop.Post(func() { s.handleUpdate(ft, id, update) })
		},
		OnError: func(err error) {
			online := s.prober == nil || s.prober.Online()
			s.loop.Post(func() { s.handleError(ft, id, err, online) })
		},
		OnClose: func(clean bool) {
			s.loop.Post(func() { s.handleClose(ft, id, clean) })
		},
	})
}

func (s *Supervisor) current(ft models.FeedType, id uint64) *feed {
	if !s.active {
		return nil
	}
	f := s.feeds[ft]
	if f == nil || f.id != id {
		return nil
	}
	return f
}

func (s *Supervisor) handleOpen(ft models.FeedType, id uint64) {
	f := s.current(ft, id)
	if f == nil {
		return
	}
	f.open = true
	s.logger.WithFields(logrus.Fields{"symbol": s.symbol, "feed": ft}).Info("Feed connected")
	if s.status != models.StatusConnected {
		s.setStatus(models.StatusConnected, "")
	}
}

func (s *Supervisor) handleUpdate(ft models.FeedType, id uint64, update models.CoinUpdate) {
	if s.current(ft, id) == nil {
		return
	}
	s.state.Merge(update)
	s.emitUpdate()
}

func (s *Supervisor) handleError(ft models.FeedType, id uint64, err error, online bool) {
	if s.current(ft, id) == nil {
		return
	}
	s.logger.WithError(err).WithFields(logrus.Fields{"symbol": s.symbol, "feed": ft}).Error("Feed error")
	if !online {
		s.setStatus(models.StatusError, offlineMessage)
		return
	}
	s.setStatus(models.StatusError, fmt.Sprintf("%s Stream Error", ft))
}

// handleClose reopens a feed after any close the supervisor did not ask
// for, including a clean close started by the server. Once no feed is left
// open the status falls back to CONNECTING until one reopens.
func (s *Supervisor) handleClose(ft models.FeedType, id uint64, clean bool) {
	f := s.current(ft, id)
	if f == nil {
		return
	}
	f.open = false
	f.stream = nil

	log := s.logger.WithFields(logrus.Fields{
		"symbol": s.symbol,
		"feed":   ft,
		"delay":  s.cfg.ReconnectDelay.String(),
	})
	if clean {
		log.Info("Feed closed by server, scheduling reconnect")
	} else {
		log.Warn("Feed closed unexpectedly, scheduling reconnect")
	}

	if s.status == models.StatusConnected && !s.anyOpen() {
		s.setStatus(models.StatusConnecting, "")
	}

	f.timer = s.clock.AfterFunc(s.cfg.ReconnectDelay, func() {
		s.loop.Post(func() {
			if s.current(ft, id) == nil {
				return
			}
			s.openFeed(ft)
		})
	})
}

func (s *Supervisor) anyOpen() bool {
	for _, f := range s.feeds {
		if f.open {
			return true
		}
	}
	return false
}

func (s *Supervisor) setStatus(status models.ConnectionStatus, message string) {
	s.status = status
	s.message = message
	if s.callbacks.OnStatus != nil {
		s.callbacks.OnStatus(s.symbol, status, message)
	}
}

func (s *Supervisor) emitUpdate() {
	if s.callbacks.OnUpdate != nil {
		s.callbacks.OnUpdate(s.state)
	}
}

func (s *Supervisor) feedURL(ft models.FeedType) string {
	switch ft {
	case models.FeedSpot:
		return binance.SpotTickerURL(s.cfg.SpotURL, s.symbol, s.cfg.Quote)
	case models.FeedUMargined:
		return binance.MarkPriceURL(s.cfg.USDMURL, s.symbol, s.cfg.Quote)
	default:
		return binance.CoinMarkPriceURL(s.cfg.CoinMURL, s.symbol)
	}
}

type decodeFunc func(data []byte, now time.Time) (models.CoinUpdate, error)

func (s *Supervisor) decoder(ft models.FeedType) decodeFunc {
	switch ft {
	case models.FeedSpot:
		return func(data []byte, now time.Time) (models.CoinUpdate, error) {
			p, err := binance.DecodeSpotTicker(data, now)
			if err != nil {
				return models.CoinUpdate{}, err
			}
			return models.CoinUpdate{Spot: p}, nil
		}
	case models.FeedUMargined:
		return func(data []byte, now time.Time) (models.CoinUpdate, error) {
			d, err := binance.DecodeMarkPrice(data, now)
			if err != nil {
				return models.CoinUpdate{}, err
			}
			return models.CoinUpdate{UMargined: d}, nil
		}
	default:
		return func(data []byte, now time.Time) (models.CoinUpdate, error) {
			d, err := binance.DecodeMarkPrice(data, now)
			if err != nil {
				return models.CoinUpdate{}, err
			}
			return models.CoinUpdate{CoinMargined: d}, nil
		}
	}
}
