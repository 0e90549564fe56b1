package providers

import (
	"context"
	"errors"
	"time"

	"github.com/lib/pq"

	"infinite-experiment/tourdesk/internal/constants"
	"infinite-experiment/tourdesk/internal/logging"
	"infinite-experiment/tourdesk/internal/models/entities"
)

// ErrEventsMissed ends a subscription after the listener reconnected, since
// notifications sent while disconnected are lost
var ErrEventsMissed = errors.New("change notifications may have been missed")

// PgNotifyStream receives change events from the trigger installed by
// db.Migrate through LISTEN on the change channel. Each subscription owns
// its own listener connection.
type PgNotifyStream struct {
	dsn          string
	channel      string
	minReconnect time.Duration
	maxReconnect time.Duration
	pingInterval time.Duration
}

func NewPgNotifyStream(dsn string) *PgNotifyStream {
	return &PgNotifyStream{
		dsn:          dsn,
		channel:      constants.ChangeChannel,
		minReconnect: 10 * time.Second,
		maxReconnect: time.Minute,
		pingInterval: 90 * time.Second,
	}
}

var _ ChangeStream = (*PgNotifyStream)(nil)

func (p *PgNotifyStream) Subscribe(ctx context.Context, table string, filter Filter) (Subscription, error) {
	listener := pq.NewListener(p.dsn, p.minReconnect, p.maxReconnect, func(ev pq.ListenerEventType, err error) {
		switch ev {
		case pq.ListenerEventConnectionAttemptFailed:
			logging.Warn("Change listener connection attempt failed", "table", table, "error", errString(err))
		case pq.ListenerEventDisconnected:
			logging.Warn("Change listener disconnected", "table", table, "error", errString(err))
		case pq.ListenerEventReconnected:
			logging.Info("Change listener reconnected", "table", table)
		}
	})

	if err := listener.Listen(p.channel); err != nil {
		listener.Close()
		return nil, SubscribeFailed(err)
	}

	sub := newSubscription(ctx)
	sub.release = func() {
		if err := listener.Close(); err != nil {
			logging.Debug("Change listener close failed", "table", table, "error", err.Error())
		}
	}
	go p.relay(sub, listener.Notify, listener.Ping, table, filter)
	return sub, nil
}

// relay forwards notifications for table into sub until the feed ends. ping
// checks the connection between notifications.
func (p *PgNotifyStream) relay(sub *subscription, notify <-chan *pq.Notification, ping func() error, table string, filter Filter) {
	ticker := time.NewTicker(p.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-sub.ctx.Done():
			sub.finish(nil)
			return

		case n, ok := <-notify:
			if !ok {
				sub.finish(SubscribeFailed(errors.New("listener closed")))
				return
			}
			// A nil notification means the connection was re-established
			if n == nil {
				sub.finish(SubscribeFailed(ErrEventsMissed))
				return
			}

			ev, err := entities.DecodeChangeEvent([]byte(n.Extra))
			if err != nil {
				logging.Warn("Failed to decode change notification", "channel", n.Channel, "error", err.Error())
				continue
			}
			if ev.Table != table || !filter.Matches(ev) {
				continue
			}
			if !sub.deliver(ev) {
				sub.finish(nil)
				return
			}

		case <-ticker.C:
			if err := ping(); err != nil {
				sub.finish(SubscribeFailed(err))
				return
			}
		}
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
