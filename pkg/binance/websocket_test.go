package binance

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

func newTestLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

type recorder struct {
	opened   chan struct{}
	messages chan string
	errors   chan error
	closed   chan bool
}

func newRecorder() *recorder {
	return &recorder{
		opened:   make(chan struct{}, 1),
		messages: make(chan string, 10),
		errors:   make(chan error, 1),
		closed:   make(chan bool, 1),
	}
}

func (r *recorder) handler() Handler {
	return Handler{
		OnOpen:    func() { r.opened <- struct{}{} },
		OnMessage: func(data []byte) { r.messages <- string(data) },
		OnError:   func(err error) { r.errors <- err },
		OnClose:   func(clean bool) { r.closed <- clean },
	}
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func TestWSConnectorDeliversMessagesAndCleanClose(t *testing.T) {
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		conn.WriteMessage(websocket.TextMessage, []byte(`{"c":"1"}`))
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"))
		conn.ReadMessage()
	}))
	defer server.Close()

	rec := newRecorder()
	stream := NewWSConnector(WSOptions{}, newTestLogger()).Connect(wsURL(server), rec.handler())
	defer stream.Close()

	select {
	case <-rec.opened:
	case <-time.After(5 * time.Second):
		t.Fatal("stream did not open")
	}
	select {
	case msg := <-rec.messages:
		if msg != `{"c":"1"}` {
			t.Errorf("message = %q", msg)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no message received")
	}
	select {
	case clean := <-rec.closed:
		if !clean {
			t.Error("close reported unclean, want clean")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("close not reported")
	}
}

func TestWSConnectorUncleanClose(t *testing.T) {
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conn.Close()
	}))
	defer server.Close()

	rec := newRecorder()
	stream := NewWSConnector(WSOptions{}, newTestLogger()).Connect(wsURL(server), rec.handler())
	defer stream.Close()

	select {
	case clean := <-rec.closed:
		if clean {
			t.Error("close reported clean, want unclean")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("close not reported")
	}
}

func TestWSConnectorDialFailure(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	defer server.Close()

	rec := newRecorder()
	stream := NewWSConnector(WSOptions{HandshakeTimeout: time.Second}, newTestLogger()).Connect(wsURL(server), rec.handler())
	defer stream.Close()

	select {
	case <-rec.errors:
	case <-time.After(5 * time.Second):
		t.Fatal("dial error not reported")
	}
	select {
	case clean := <-rec.closed:
		if clean {
			t.Error("dial failure reported as clean close")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("close not reported after dial failure")
	}
}

func TestWSConnectorCloseSilencesCallbacks(t *testing.T) {
	upgrader := websocket.Upgrader{}
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		<-release
	}))
	defer server.Close()
	defer close(release)

	rec := newRecorder()
	stream := NewWSConnector(WSOptions{}, newTestLogger()).Connect(wsURL(server), rec.handler())

	select {
	case <-rec.opened:
	case <-time.After(5 * time.Second):
		t.Fatal("stream did not open")
	}
	stream.Close()

	select {
	case clean := <-rec.closed:
		t.Errorf("OnClose(%v) called after Close", clean)
	case <-time.After(200 * time.Millisecond):
	}
}
