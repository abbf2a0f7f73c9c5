package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"google.golang.org/api/option"
)

// incoming-call pushes are useless once ringing stops
var incomingCallTTL = 30 * time.Second

// FCMSender delivers notifications to mobile devices through Firebase Cloud
// Messaging. Incoming calls go out as high-priority data messages so the
// device wakes even when the app is backgrounded.
type FCMSender struct {
	client *messaging.Client
	log    *slog.Logger
}

func NewFCMSender(ctx context.Context, credentialsJSON string, log *slog.Logger) (*FCMSender, error) {
	app, err := firebase.NewApp(ctx, nil, option.WithCredentialsJSON([]byte(credentialsJSON)))
	if err != nil {
		return nil, fmt.Errorf("notify: init firebase app: %w", err)
	}
	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("notify: init fcm client: %w", err)
	}
	return &FCMSender{client: client, log: log}, nil
}

func (s *FCMSender) Name() string { return ChannelFCM }

func (s *FCMSender) Send(ctx context.Context, target Target, n Notification) error {
	msg := &messaging.Message{
		Token: target.Credential,
		Data:  n.dataMap(),
	}
	switch n.Type {
	case TypeIncomingCall:
		ttl := incomingCallTTL
		msg.Android = &messaging.AndroidConfig{Priority: "high", TTL: &ttl}
	case TypeMissedCall:
		msg.Android = &messaging.AndroidConfig{Priority: "normal"}
		msg.Notification = &messaging.Notification{
			Title: "Missed Call",
			Body:  fmt.Sprintf("%s called at %s", n.CallerName, n.CallTime),
		}
	}

	id, err := s.client.Send(ctx, msg)
	if err != nil {
		if messaging.IsUnregistered(err) {
			return ErrTargetGone
		}
		return fmt.Errorf("notify: fcm send: %w", err)
	}
	s.log.Debug("fcm message sent", "message_id", id, "type", n.Type, "party_id", target.PartyID)
	return nil
}
