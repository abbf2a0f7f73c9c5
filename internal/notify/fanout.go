package notify

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"voicebridge/internal/metrics"
)

// Sender delivers one notification over one channel.
type Sender interface {
	Name() string
	Send(ctx context.Context, target Target, n Notification) error
}

// Fanout scatters a notification across every registered target of a party.
// Channels fail independently: one provider being down never blocks the
// others, and a dead credential is flagged stale rather than retried.
type Fanout struct {
	store   TargetStore
	senders map[string]Sender
	metrics *metrics.Metrics
	log     *slog.Logger
}

func NewFanout(store TargetStore, m *metrics.Metrics, log *slog.Logger, senders ...Sender) *Fanout {
	byName := make(map[string]Sender, len(senders))
	for _, s := range senders {
		byName[s.Name()] = s
	}
	return &Fanout{store: store, senders: byName, metrics: m, log: log}
}

// Reachable reports whether the party has at least one live push target.
func (f *Fanout) Reachable(ctx context.Context, tenantID, partyID string) bool {
	targets, err := f.store.ListByParty(ctx, tenantID, partyID)
	if err != nil {
		f.log.Error("list push targets", "error", err, "party_id", partyID)
		return false
	}
	for _, t := range targets {
		if _, ok := f.senders[t.Channel]; ok {
			return true
		}
	}
	return false
}

// Notify pushes the notification to every target of the party and returns
// how many deliveries succeeded.
func (f *Fanout) Notify(ctx context.Context, tenantID, partyID string, n Notification) int {
	targets, err := f.store.ListByParty(ctx, tenantID, partyID)
	if err != nil {
		f.log.Error("list push targets", "error", err, "party_id", partyID)
		return 0
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		delivered int
	)
	for _, target := range targets {
		sender, ok := f.senders[target.Channel]
		if !ok {
			continue
		}
		wg.Add(1)
		go func(target Target, sender Sender) {
			defer wg.Done()
			err := sender.Send(ctx, target, n)
			switch {
			case err == nil:
				f.metrics.NotificationSends.WithLabelValues(sender.Name(), "ok").Inc()
				mu.Lock()
				delivered++
				mu.Unlock()
			case errors.Is(err, ErrTargetGone):
				f.metrics.NotificationSends.WithLabelValues(sender.Name(), "gone").Inc()
				f.log.Info("push target gone, flagging stale",
					"channel", sender.Name(), "target_id", target.ID, "party_id", partyID)
				if err := f.store.MarkStale(ctx, target.ID); err != nil {
					f.log.Error("mark target stale", "error", err, "target_id", target.ID)
				}
			default:
				f.metrics.NotificationSends.WithLabelValues(sender.Name(), "error").Inc()
				f.log.Error("push delivery failed",
					"error", err, "channel", sender.Name(), "party_id", partyID)
			}
		}(target, sender)
	}
	wg.Wait()
	return delivered
}

// IncomingCall notifies the callee that a call is ringing.
func (f *Fanout) IncomingCall(ctx context.Context, tenantID, calleeID string, n Notification) int {
	n.Type = TypeIncomingCall
	return f.Notify(ctx, tenantID, calleeID, n)
}

// MissedCall notifies the callee after ringing timed out unanswered.
func (f *Fanout) MissedCall(ctx context.Context, tenantID, calleeID string, n Notification) int {
	n.Type = TypeMissedCall
	n.AttemptID = ""
	n.RoomName = ""
	return f.Notify(ctx, tenantID, calleeID, n)
}
