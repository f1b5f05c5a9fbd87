package stream

import (
	"io"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/SUIXIN531/Monitor/pkg/binance"
	"github.com/SUIXIN531/Monitor/pkg/clock"
	"github.com/SUIXIN531/Monitor/pkg/eventloop"
)

type fakeStream struct {
	url    string
	h      binance.Handler
	closed bool
}

func (s *fakeStream) Close() {
	s.closed = true
}

type fakeConnector struct {
	streams []*fakeStream
}

func (c *fakeConnector) Connect(url string, h binance.Handler) binance.Stream {
	s := &fakeStream{url: url, h: h}
	c.streams = append(c.streams, s)
	return s
}

// latest returns the most recent stream whose URL contains substr.
func (c *fakeConnector) latest(t *testing.T, substr string) *fakeStream {
	t.Helper()
	for i := len(c.streams) - 1; i >= 0; i-- {
		if strings.Contains(c.streams[i].url, substr) {
			return c.streams[i]
		}
	}
	t.Fatalf("no stream matching %q", substr)
	return nil
}

func (c *fakeConnector) count(substr string) int {
	n := 0
	for _, s := range c.streams {
		if strings.Contains(s.url, substr) {
			n++
		}
	}
	return n
}

type staticProber bool

func (p staticProber) Online() bool {
	return bool(p)
}

func newTestLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func newTestLoop() *eventloop.Loop {
	return eventloop.New(256, newTestLogger())
}

func newTestClock() *clock.Fake {
	return clock.NewFake(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
}
