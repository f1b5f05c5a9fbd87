package store

import (
	"context"
	"fmt"
	"io"
	"reflect"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/SUIXIN531/Monitor/pkg/models"
)

func newTestJournal(t *testing.T, maxAlerts int) *Journal {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	j, err := New(":memory:", 8, maxAlerts, logger)
	if err != nil {
		t.Fatalf("failed to create test journal: %v", err)
	}
	t.Cleanup(func() { _ = j.Close() })
	return j
}

func testAlert(id, symbol string, kind models.AlertKind, at time.Time) models.AlertRecord {
	return models.AlertRecord{
		ID:        id,
		Symbol:    symbol,
		Kind:      kind,
		Title:     "Monitor: " + symbol + " Alert",
		Body:      symbol + " spread reached 1.50%",
		Value:     1.5,
		Threshold: 1.0,
		FiredAt:   at,
	}
}

func TestJournal_AddAndRecent(t *testing.T) {
	j := newTestJournal(t, 100)
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		symbol := "BTC"
		if i%2 == 1 {
			symbol = "ETH"
		}
		rec := testAlert(fmt.Sprintf("a-%d", i), symbol, models.AlertSpread, base.Add(time.Duration(i)*time.Minute))
		if err := j.AddAlert(ctx, rec); err != nil {
			t.Fatalf("AddAlert: %v", err)
		}
	}

	got, err := j.RecentAlerts(ctx, "", 3)
	if err != nil {
		t.Fatalf("RecentAlerts: %v", err)
	}
	if len(got) != 3 || got[0].ID != "a-4" || got[2].ID != "a-2" {
		t.Errorf("RecentAlerts order = %+v", got)
	}
	if !got[0].FiredAt.Equal(base.Add(4 * time.Minute)) {
		t.Errorf("FiredAt = %v", got[0].FiredAt)
	}

	eth, err := j.RecentAlerts(ctx, "ETH", 10)
	if err != nil {
		t.Fatalf("RecentAlerts(ETH): %v", err)
	}
	if len(eth) != 2 {
		t.Errorf("ETH alerts = %d, want 2", len(eth))
	}
}

func TestJournal_TrimsToMax(t *testing.T) {
	j := newTestJournal(t, 3)
	ctx := context.Background()
	base := time.Now()

	for i := 0; i < 6; i++ {
		if err := j.AddAlert(ctx, testAlert(fmt.Sprintf("a-%d", i), "BTC", models.AlertVolatility, base.Add(time.Duration(i)*time.Second))); err != nil {
			t.Fatalf("AddAlert: %v", err)
		}
	}
	got, err := j.RecentAlerts(ctx, "", 10)
	if err != nil {
		t.Fatalf("RecentAlerts: %v", err)
	}
	if len(got) != 3 || got[2].ID != "a-3" {
		t.Errorf("kept alerts = %+v", got)
	}
}

func TestJournal_SubmitAndRun(t *testing.T) {
	j := newTestJournal(t, 100)
	ctx, cancel := context.WithCancel(context.Background())

	j.Submit(testAlert("queued-1", "SOL", models.AlertVolatility, time.Now()))
	j.Submit(testAlert("queued-2", "SOL", models.AlertVolatility, time.Now().Add(time.Second)))

	done := make(chan struct{})
	go func() {
		j.Run(ctx)
		close(done)
	}()
	cancel()
	<-done

	got, err := j.RecentAlerts(context.Background(), "SOL", 10)
	if err != nil {
		t.Fatalf("RecentAlerts: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("stored = %d, want 2", len(got))
	}
}

func TestJournal_SubmitDropsWhenFull(t *testing.T) {
	j := newTestJournal(t, 100)
	for i := 0; i < 20; i++ {
		j.Submit(testAlert(fmt.Sprintf("a-%d", i), "BTC", models.AlertSpread, time.Now()))
	}
	if got := len(j.queue); got != cap(j.queue) {
		t.Errorf("queue length = %d, want %d", got, cap(j.queue))
	}
}

func TestJournal_Watchlist(t *testing.T) {
	j := newTestJournal(t, 100)
	ctx := context.Background()

	if _, ok, err := j.LoadWatchlist(ctx); err != nil || ok {
		t.Fatalf("LoadWatchlist on empty db = ok %v, err %v", ok, err)
	}

	if err := j.SaveWatchlist(ctx, []string{"BTC", "ETH"}); err != nil {
		t.Fatalf("SaveWatchlist: %v", err)
	}
	if err := j.SaveWatchlist(ctx, []string{"SOL", "BTC"}); err != nil {
		t.Fatalf("SaveWatchlist: %v", err)
	}
	got, ok, err := j.LoadWatchlist(ctx)
	if err != nil || !ok {
		t.Fatalf("LoadWatchlist = ok %v, err %v", ok, err)
	}
	if want := []string{"SOL", "BTC"}; !reflect.DeepEqual(got, want) {
		t.Errorf("LoadWatchlist = %v, want %v", got, want)
	}
}
