package notify

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
)

// Immediate delivers right away. A notification whose tag matches an earlier
// one replaces it: the earlier message is withdrawn before the new one is sent.
type Immediate struct {
	sender Sender
	icon   string
	logger *logrus.Entry

	mu    sync.Mutex
	byTag map[string]int
}

func NewImmediate(sender Sender, icon string, logger *logrus.Logger) *Immediate {
	return &Immediate{
		sender: sender,
		icon:   icon,
		logger: logger.WithField("component", "notify_immediate"),
		byTag:  make(map[string]int),
	}
}

func (i *Immediate) Notify(ctx context.Context, n Notification) error {
	if n.Icon == "" {
		n.Icon = i.icon
	}

	if n.Tag != "" {
		i.mu.Lock()
		prev, ok := i.byTag[n.Tag]
		delete(i.byTag, n.Tag)
		i.mu.Unlock()
		if ok {
			if err := i.sender.Delete(ctx, prev); err != nil {
				i.logger.WithError(err).WithField("tag", n.Tag).Debug("Failed to withdraw previous notification")
			}
		}
	}

	id, err := i.sender.Send(ctx, n)
	if err != nil {
		return fmt.Errorf("failed to deliver notification: %w", err)
	}

	if n.Tag != "" {
		i.mu.Lock()
		i.byTag[n.Tag] = id
		i.mu.Unlock()
	}
	return nil
}
