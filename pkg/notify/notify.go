// Package notify delivers alerts through a single notification capability
// chosen at startup.
package notify

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

type Backend string

const (
	BackendImmediate Backend = "immediate"
	BackendScheduled Backend = "scheduled"
)

func ParseBackend(s string) (Backend, error) {
	switch Backend(strings.ToLower(strings.TrimSpace(s))) {
	case BackendImmediate, "":
		return BackendImmediate, nil
	case BackendScheduled:
		return BackendScheduled, nil
	}
	return "", fmt.Errorf("unknown notification backend %q", s)
}

// Notification carries the fields of both delivery shapes. Immediate
// delivery uses Icon and Tag, scheduled delivery uses ID and At.
type Notification struct {
	Title string
	Body  string
	Icon  string
	Tag   string
	ID    int
	At    time.Time
}

type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// Sender is the transport a Notifier delivers through.
type Sender interface {
	Send(ctx context.Context, n Notification) (int, error)
	Delete(ctx context.Context, messageID int) error
}

// LogSender writes notifications to the log instead of a device.
type LogSender struct {
	logger *logrus.Entry

	mu     sync.Mutex
	nextID int
}

func NewLogSender(logger *logrus.Logger) *LogSender {
	return &LogSender{logger: logger.WithField("component", "notify")}
}

func (s *LogSender) Send(_ context.Context, n Notification) (int, error) {
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.mu.Unlock()

	s.logger.WithFields(logrus.Fields{
		"message_id": id,
		"tag":        n.Tag,
		"title":      n.Title,
	}).Info(n.Body)
	return id, nil
}

func (s *LogSender) Delete(_ context.Context, messageID int) error {
	s.logger.WithField("message_id", messageID).Debug("Notification replaced")
	return nil
}
