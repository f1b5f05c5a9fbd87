package api

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/SUIXIN531/Monitor/pkg/models"
	"github.com/SUIXIN531/Monitor/pkg/monitor"
)

func TestHubBroadcastsEvents(t *testing.T) {
	hub := NewHub(newTestLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	m := &fakeMonitor{}
	srv := httptest.NewServer(NewServer(m, hub, Options{}, newTestLogger()).Handler())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for hub.Clients() != 1 {
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(10 * time.Millisecond)
	}

	hub.Broadcast(monitor.Event{
		Type: monitor.EventStatus,
		Data: monitor.StatusEvent{Symbol: "BTC", Status: string(models.StatusConnected)},
		Time: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
	})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var got struct {
		Type string `json:"type"`
		Data struct {
			Symbol string `json:"symbol"`
			Status string `json:"status"`
		} `json:"data"`
	}
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("decode %s: %v", data, err)
	}
	if got.Type != "status" || got.Data.Symbol != "BTC" || got.Data.Status != "CONNECTED" {
		t.Errorf("event = %s", data)
	}
}

func TestHubBroadcastDoesNotBlock(t *testing.T) {
	hub := NewHub(newTestLogger())
	done := make(chan struct{})
	go func() {
		for i := 0; i < cap(hub.broadcast)+10; i++ {
			hub.Broadcast(monitor.Event{Type: monitor.EventTicker})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Broadcast blocked without a running hub")
	}
}

func TestHubRejectsClientsAtCapacity(t *testing.T) {
	hub := NewHub(newTestLogger())
	hub.maxClients = 1
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	first := newHubClient(nil)
	if !hub.join(first) {
		t.Fatal("first client rejected")
	}
	second := newHubClient(nil)
	if hub.join(second) {
		t.Fatal("second client admitted beyond capacity")
	}
	if got := hub.Clients(); got != 1 {
		t.Errorf("clients = %d, want 1", got)
	}

	hub.Broadcast(monitor.Event{Type: monitor.EventTicker})
	select {
	case <-first.send:
	case <-time.After(2 * time.Second):
		t.Fatal("admitted client got no event")
	}
	select {
	case msg := <-second.send:
		t.Errorf("rejected client received %s", msg)
	default:
	}
}

func TestHubJoinAfterStop(t *testing.T) {
	hub := NewHub(newTestLogger())
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(stopped)
	}()
	cancel()
	<-stopped

	if hub.join(newHubClient(nil)) {
		t.Error("join succeeded on a stopped hub")
	}
}
