package blockchain

import (
	"context"

	"github.com/bsv-blockchain/powledger/model"
)

type subscriber struct {
	source string
	ch     chan *model.Notification
}

// Subscribe returns a channel receiving a notification for every tip change and every transaction
// entering the mempool. The channel is closed when ctx is done or the service stops. Notifications for
// a subscriber that does not keep up are dropped.
func (b *Blockchain) Subscribe(ctx context.Context, source string) <-chan *model.Notification {
	s := &subscriber{
		source: source,
		ch:     make(chan *model.Notification, b.settings.BlockChain.SubscriberBufferSize),
	}

	b.subscribersMu.Lock()
	b.subscribers[s] = struct{}{}
	b.subscribersMu.Unlock()

	b.logger.Debugf("[Blockchain][Subscribe] new subscription from %s", source)

	go func() {
		<-ctx.Done()
		b.unsubscribe(s)
	}()

	return s.ch
}

func (b *Blockchain) unsubscribe(s *subscriber) {
	b.subscribersMu.Lock()
	defer b.subscribersMu.Unlock()

	if _, ok := b.subscribers[s]; ok {
		delete(b.subscribers, s)
		close(s.ch)
	}
}

func (b *Blockchain) notify(notification *model.Notification) {
	b.subscribersMu.Lock()
	defer b.subscribersMu.Unlock()

	for s := range b.subscribers {
		select {
		case s.ch <- notification:
		default:
			prometheusBlockchainNotificationsDropped.Inc()
			b.logger.Warnf("[Blockchain][notify] subscriber %s is full, dropping %s notification for %s", s.source, notification.Type, notification.Hash)
		}
	}
}

func (b *Blockchain) closeSubscriptions() {
	b.subscribersMu.Lock()
	defer b.subscribersMu.Unlock()

	for s := range b.subscribers {
		delete(b.subscribers, s)
		close(s.ch)
	}
}
