package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	webpush "github.com/SherClockHolmes/webpush-go"

	"voicebridge/internal/config"
)

// WebPushSender delivers notifications to browser subscriptions via the Web
// Push protocol with VAPID authentication.
type WebPushSender struct {
	opts webpush.Options
	log  *slog.Logger
}

func NewWebPushSender(cfg config.PushConfig, log *slog.Logger) *WebPushSender {
	return &WebPushSender{
		opts: webpush.Options{
			Subscriber:      cfg.VAPIDSubscriber,
			VAPIDPublicKey:  cfg.VAPIDPublicKey,
			VAPIDPrivateKey: cfg.VAPIDPrivateKey,
			TTL:             int(incomingCallTTL.Seconds()),
		},
		log: log,
	}
}

func (s *WebPushSender) Name() string { return ChannelWebPush }

func (s *WebPushSender) Send(ctx context.Context, target Target, n Notification) error {
	var sub webpush.Subscription
	if err := json.Unmarshal([]byte(target.Credential), &sub); err != nil {
		// malformed subscription can never succeed
		return ErrTargetGone
	}

	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("notify: encode web push payload: %w", err)
	}

	opts := s.opts
	resp, err := webpush.SendNotificationWithContext(ctx, payload, &sub, &opts)
	if err != nil {
		return fmt.Errorf("notify: web push send: %w", err)
	}
	defer func() {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return ErrTargetGone
	case resp.StatusCode >= 400:
		return fmt.Errorf("notify: web push rejected: status %d", resp.StatusCode)
	}
	s.log.Debug("web push sent", "type", n.Type, "party_id", target.PartyID)
	return nil
}
