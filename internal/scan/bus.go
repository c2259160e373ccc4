package scan

import (
	"sync"
	"time"

	"github.com/drivesentry/drivesentry/internal/types"
)

// subscriberBuffer is the per-subscriber channel depth. Progress ticks that
// would overflow a slow subscriber's buffer are dropped; completion events
// are not.
const subscriberBuffer = 16

// finalSendTimeout bounds how long a completion publish waits on one
// subscriber before giving up on it.
const finalSendTimeout = time.Second

// Subscription is one observer's delivery channel for a drive's events.
// The channel is closed after the session's completion event; a closed
// channel means no further events for that session will ever arrive.
type Subscription struct {
	drive     string
	ch        chan types.Event
	closeOnce sync.Once
}

// Events is the subscriber's receive channel.
func (sub *Subscription) Events() <-chan types.Event { return sub.ch }

// Drive is the drive this subscription watches.
func (sub *Subscription) Drive() string { return sub.drive }

func (sub *Subscription) close() {
	sub.closeOnce.Do(func() { close(sub.ch) })
}

// Bus fans scan events out to the subscribers of each drive. It holds no
// ownership over observers: a subscription is just a lookup key plus a
// buffered channel.
type Bus struct {
	mu   sync.RWMutex
	subs map[string][]*Subscription
}

// NewBus creates an empty event bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[string][]*Subscription)}
}

// Subscribe registers a new subscriber for a drive's events.
func (b *Bus) Subscribe(drive string) *Subscription {
	sub := &Subscription{
		drive: drive,
		ch:    make(chan types.Event, subscriberBuffer),
	}
	b.mu.Lock()
	b.subs[drive] = append(b.subs[drive], sub)
	b.mu.Unlock()
	return sub
}

// Unsubscribe removes a subscription; no further events are delivered to
// it. The channel is deliberately left open: only the publishing side
// closes channels, so a send can never race a close. Subscribers that
// stop via Unsubscribe select on their own exit signal instead of waiting
// for channel close.
func (b *Bus) Unsubscribe(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subs[sub.drive]
	for i, s := range subs {
		if s == sub {
			b.subs[sub.drive] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	if len(b.subs[sub.drive]) == 0 {
		delete(b.subs, sub.drive)
	}
}

// SubscriberCount returns the number of current subscribers for a drive.
func (b *Bus) SubscriberCount(drive string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[drive])
}

// Publish fans an event out to every current subscriber of the drive.
// Publishing with zero subscribers is a no-op. A full subscriber buffer
// drops the event for that subscriber only; nothing blocks.
func (b *Bus) Publish(drive string, ev types.Event) {
	for _, sub := range b.snapshot(drive) {
		select {
		case sub.ch <- ev:
		default:
			// Slow subscriber, drop this tick.
		}
	}
}

// PublishFinal delivers a session's completion event and then closes the
// drive's subscriptions, guaranteeing the completion event is the last
// thing any subscriber receives for the session. Each send waits at most
// finalSendTimeout so one dead observer cannot stall the rest.
func (b *Bus) PublishFinal(drive string, ev types.Event) {
	subs := b.snapshot(drive)

	timer := time.NewTimer(finalSendTimeout)
	defer timer.Stop()
	for _, sub := range subs {
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(finalSendTimeout)
		select {
		case sub.ch <- ev:
		case <-timer.C:
		}
	}

	b.mu.Lock()
	for _, sub := range b.subs[drive] {
		sub.close()
	}
	delete(b.subs, drive)
	b.mu.Unlock()
}

// snapshot copies the subscriber slice so sends happen outside the lock.
func (b *Bus) snapshot(drive string) []*Subscription {
	b.mu.RLock()
	defer b.mu.RUnlock()
	subs := make([]*Subscription, len(b.subs[drive]))
	copy(subs, b.subs[drive])
	return subs
}
