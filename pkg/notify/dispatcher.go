package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/SUIXIN531/Monitor/pkg/clock"
	"github.com/SUIXIN531/Monitor/pkg/models"
)

const DefaultFlagDuration = 5 * time.Second

type Poster interface {
	Post(fn func()) bool
}

// Recorder keeps fired alerts. Submit must not block.
type Recorder interface {
	Submit(rec models.AlertRecord)
}

// Alert is what a detector hands to the dispatcher.
type Alert struct {
	Symbol    string
	Kind      models.AlertKind
	Title     string
	Body      string
	Tag       string
	Value     float64
	Threshold float64
}

type DispatcherConfig struct {
	FlagDuration    time.Duration
	DeliveryTimeout time.Duration
}

// Dispatcher turns alerts into notifications. It raises a per-symbol
// alerting flag that clears itself after FlagDuration whether or not
// delivery succeeded. Notify, Active and IsAlerting run on the event loop;
// delivery happens on its own goroutine.
type Dispatcher struct {
	cfg      DispatcherConfig
	notifier Notifier
	loop     Poster
	clock    clock.Clock
	recorder Recorder
	onAlert  func(models.AlertRecord)
	logger   *logrus.Entry

	active map[string]uint64
	seq    uint64
}

func NewDispatcher(cfg DispatcherConfig, notifier Notifier, loop Poster, clk clock.Clock, recorder Recorder, logger *logrus.Logger) *Dispatcher {
	if cfg.FlagDuration <= 0 {
		cfg.FlagDuration = DefaultFlagDuration
	}
	if cfg.DeliveryTimeout <= 0 {
		cfg.DeliveryTimeout = 30 * time.Second
	}
	return &Dispatcher{
		cfg:      cfg,
		notifier: notifier,
		loop:     loop,
		clock:    clk,
		recorder: recorder,
		logger:   logger.WithField("component", "dispatcher"),
		active:   make(map[string]uint64),
	}
}

// OnAlert registers a callback invoked on the loop for every fired alert.
func (d *Dispatcher) OnAlert(fn func(models.AlertRecord)) {
	d.onAlert = fn
}

func (d *Dispatcher) Notify(a Alert) models.AlertRecord {
	now := d.clock.Now()
	d.raiseFlag(a.Symbol)

	rec := models.AlertRecord{
		ID:        uuid.NewString(),
		Symbol:    a.Symbol,
		Kind:      a.Kind,
		Title:     a.Title,
		Body:      a.Body,
		Value:     a.Value,
		Threshold: a.Threshold,
		FiredAt:   now,
	}
	if d.recorder != nil {
		d.recorder.Submit(rec)
	}
	if d.onAlert != nil {
		d.onAlert(rec)
	}

	d.logger.WithFields(logrus.Fields{
		"symbol": a.Symbol,
		"kind":   a.Kind,
		"value":  fmt.Sprintf("%.2f", a.Value),
	}).Info("Alert fired")

	if d.notifier == nil {
		return rec
	}
	n := Notification{Title: a.Title, Body: a.Body, Tag: a.Tag}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), d.cfg.DeliveryTimeout)
		defer cancel()
		if err := d.notifier.Notify(ctx, n); err != nil {
			d.logger.WithError(err).WithField("symbol", a.Symbol).Warn("Notification delivery failed")
		}
	}()
	return rec
}

func (d *Dispatcher) IsAlerting(symbol string) bool {
	_, ok := d.active[symbol]
	return ok
}

// Active returns the symbols whose alerting flag is currently raised.
func (d *Dispatcher) Active() map[string]bool {
	out := make(map[string]bool, len(d.active))
	for s := range d.active {
		out[s] = true
	}
	return out
}

func (d *Dispatcher) raiseFlag(symbol string) {
	d.seq++
	gen := d.seq
	d.active[symbol] = gen
	d.clock.AfterFunc(d.cfg.FlagDuration, func() {
		d.loop.Post(func() {
			if d.active[symbol] == gen {
				delete(d.active, symbol)
			}
		})
	})
}
