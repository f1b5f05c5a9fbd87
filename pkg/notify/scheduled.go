package notify

import (
	"context"
	"math/rand"
	"strconv"
	"sync"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/sirupsen/logrus"
)

// Scheduled hands notifications to a scheduler that fires them at their At
// time. A pending notification with the same tag is replaced.
type Scheduled struct {
	sender  Sender
	cron    *gocron.Scheduler
	lead    time.Duration
	timeout time.Duration
	logger  *logrus.Entry

	mu sync.Mutex
}

func NewScheduled(sender Sender, lead, timeout time.Duration, logger *logrus.Logger) *Scheduled {
	if lead <= 0 {
		lead = 100 * time.Millisecond
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	cron := gocron.NewScheduler(time.UTC)
	cron.StartAsync()
	return &Scheduled{
		sender:  sender,
		cron:    cron,
		lead:    lead,
		timeout: timeout,
		logger:  logger.WithField("component", "notify_scheduled"),
	}
}

func (s *Scheduled) Notify(_ context.Context, n Notification) error {
	if n.ID == 0 {
		n.ID = rand.Intn(1000000) + 1
	}
	if n.At.IsZero() {
		n.At = time.Now().Add(s.lead)
	}
	tag := n.Tag
	if tag == "" {
		tag = strconv.Itoa(n.ID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Not finding a job with this tag is the common case.
	_ = s.cron.RemoveByTag(tag)

	_, err := s.cron.Every(1).Day().StartAt(n.At).LimitRunsTo(1).Tag(tag).Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()
		if _, err := s.sender.Send(ctx, n); err != nil {
			s.logger.WithError(err).WithFields(logrus.Fields{
				"id":  n.ID,
				"tag": tag,
			}).Error("Scheduled notification failed")
		}
	})
	return err
}

func (s *Scheduled) Close() {
	s.cron.Stop()
}
