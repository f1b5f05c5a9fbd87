package notify

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

func newTestLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

type fakeSender struct {
	mu      sync.Mutex
	sent    []Notification
	deleted []int
	nextID  int
	err     error
	ch      chan Notification
}

func newFakeSender() *fakeSender {
	return &fakeSender{ch: make(chan Notification, 16)}
}

func (s *fakeSender) Send(_ context.Context, n Notification) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return 0, s.err
	}
	s.nextID++
	s.sent = append(s.sent, n)
	s.ch <- n
	return s.nextID, nil
}

func (s *fakeSender) Delete(_ context.Context, id int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleted = append(s.deleted, id)
	return nil
}

func (s *fakeSender) snapshot() ([]Notification, []int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Notification(nil), s.sent...), append([]int(nil), s.deleted...)
}

func TestParseBackend(t *testing.T) {
	tests := []struct {
		in      string
		want    Backend
		wantErr bool
	}{
		{"", BackendImmediate, false},
		{"Immediate", BackendImmediate, false},
		{" scheduled ", BackendScheduled, false},
		{"carrier-pigeon", "", true},
	}
	for _, tt := range tests {
		got, err := ParseBackend(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseBackend(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("ParseBackend(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestMessages(t *testing.T) {
	vol := VolatilityAlert("Monitor", "btc", 3.456, 2, 5)
	if vol.Title != "Monitor: BTC Volatility!" {
		t.Errorf("volatility title = %q", vol.Title)
	}
	if vol.Body != "BTC moved 3.46% within 5 minutes" {
		t.Errorf("volatility body = %q", vol.Body)
	}
	if vol.Tag != "vol-alert-BTC" {
		t.Errorf("volatility tag = %q", vol.Tag)
	}

	spread := SpreadAlert("Monitor", "ETH", 1.5, 1)
	if spread.Title != "Monitor: ETH Alert" || spread.Body != "ETH spread reached 1.50%" || spread.Tag != "arb-alert-ETH" {
		t.Errorf("spread alert = %+v", spread)
	}
}

func TestImmediateReplacesSameTag(t *testing.T) {
	sender := newFakeSender()
	im := NewImmediate(sender, "https://icon.test/a.png", newTestLogger())
	ctx := context.Background()

	if err := im.Notify(ctx, Notification{Title: "a", Tag: "vol-alert-BTC"}); err != nil {
		t.Fatalf("Notify() error = %v", err)
	}
	if err := im.Notify(ctx, Notification{Title: "b", Tag: "arb-alert-BTC"}); err != nil {
		t.Fatalf("Notify() error = %v", err)
	}
	if err := im.Notify(ctx, Notification{Title: "c", Tag: "vol-alert-BTC"}); err != nil {
		t.Fatalf("Notify() error = %v", err)
	}

	sent, deleted := sender.snapshot()
	if len(sent) != 3 {
		t.Fatalf("sent = %d, want 3", len(sent))
	}
	if len(deleted) != 1 || deleted[0] != 1 {
		t.Errorf("deleted = %v, want [1]", deleted)
	}
	if sent[0].Icon != "https://icon.test/a.png" {
		t.Errorf("icon = %q, want default icon", sent[0].Icon)
	}
}

func TestImmediateSendError(t *testing.T) {
	sender := newFakeSender()
	sender.err = errors.New("unreachable")
	im := NewImmediate(sender, "", newTestLogger())

	err := im.Notify(context.Background(), Notification{Title: "x", Tag: "t"})
	if !errors.Is(err, sender.err) {
		t.Errorf("Notify() error = %v, want wrapped %v", err, sender.err)
	}
}

func TestLogSenderAssignsIDs(t *testing.T) {
	s := NewLogSender(newTestLogger())
	first, _ := s.Send(context.Background(), Notification{Title: "a"})
	second, _ := s.Send(context.Background(), Notification{Title: "b"})
	if first != 1 || second != 2 {
		t.Errorf("ids = %d, %d, want 1, 2", first, second)
	}
	if err := s.Delete(context.Background(), first); err != nil {
		t.Errorf("Delete() error = %v", err)
	}
}

func TestScheduledDelivers(t *testing.T) {
	sender := newFakeSender()
	s := NewScheduled(sender, 100*time.Millisecond, time.Second, newTestLogger())
	defer s.Close()

	if err := s.Notify(context.Background(), Notification{Title: "t", Body: "b", Tag: "vol-alert-BTC"}); err != nil {
		t.Fatalf("Notify() error = %v", err)
	}

	select {
	case n := <-sender.ch:
		if n.ID == 0 {
			t.Error("scheduled notification has no id")
		}
		if n.At.IsZero() {
			t.Error("scheduled notification has no fire time")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("scheduled notification not delivered")
	}
}

func TestScheduledReplacesPendingTag(t *testing.T) {
	sender := newFakeSender()
	s := NewScheduled(sender, time.Second, time.Second, newTestLogger())
	defer s.Close()

	ctx := context.Background()
	s.Notify(ctx, Notification{Title: "first", Tag: "arb-alert-BTC"})
	s.Notify(ctx, Notification{Title: "second", Tag: "arb-alert-BTC"})

	select {
	case n := <-sender.ch:
		if n.Title != "second" {
			t.Errorf("delivered %q, want second", n.Title)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("scheduled notification not delivered")
	}

	select {
	case n := <-sender.ch:
		t.Errorf("replaced notification %q still delivered", n.Title)
	case <-time.After(1500 * time.Millisecond):
	}
}
