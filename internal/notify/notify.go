// Package notify fans the recorder's change stamp out to live-update clients.
package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"git.home.luguber.info/inful/streamrec/internal/logfields"
	"git.home.luguber.info/inful/streamrec/internal/retry"
)

// ChangeEvent is published on every recorder state transition.
type ChangeEvent struct {
	Change int64     `json:"change"`
	Reason string    `json:"reason"`
	Time   time.Time `json:"time"`
}

// Publisher delivers change events to one transport.
type Publisher interface {
	Publish(ctx context.Context, ev ChangeEvent) error
}

// Notifier delivers events to every publisher and to in-process subscribers.
// Delivery is best effort: failures are logged, never returned.
type Notifier struct {
	publishers []Publisher
	policy     retry.Policy

	mu     sync.Mutex
	subs   map[int]chan ChangeEvent
	nextID int
	last   ChangeEvent
}

// New creates a notifier.
func New(publishers ...Publisher) *Notifier {
	return &Notifier{
		publishers: publishers,
		policy:     retry.NewPolicy(retry.ModeExponential, 100*time.Millisecond, time.Second, 2),
		subs:       make(map[int]chan ChangeEvent),
	}
}

// Changed broadcasts a change.
func (n *Notifier) Changed(ctx context.Context, change int64, reason string) {
	ev := ChangeEvent{Change: change, Reason: reason, Time: time.Now()}

	n.mu.Lock()
	// Changes are published after the recorder releases its lock, so an older
	// stamp can arrive late.
	if change >= n.last.Change {
		n.last = ev
	}
	for _, ch := range n.subs {
		select {
		case ch <- ev:
		default:
			// slow subscriber; it will read Last()
		}
	}
	n.mu.Unlock()

	for _, p := range n.publishers {
		err := n.policy.Do(ctx, func(int) (bool, error) {
			return p.Publish(ctx, ev) == nil, nil
		})
		if err != nil {
			slog.WarnContext(ctx, "Failed to publish change event",
				slog.Int64("change", change),
				slog.String("reason", reason),
				logfields.Error(err))
		}
	}
}

// Last returns the most recent event.
func (n *Notifier) Last() ChangeEvent {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.last
}

// Subscribe returns a channel of events and a cancel func.
func (n *Notifier) Subscribe() (<-chan ChangeEvent, func()) {
	n.mu.Lock()
	defer n.mu.Unlock()
	id := n.nextID
	n.nextID++
	ch := make(chan ChangeEvent, 8)
	n.subs[id] = ch
	return ch, func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		if c, ok := n.subs[id]; ok {
			delete(n.subs, id)
			close(c)
		}
	}
}
