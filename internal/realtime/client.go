package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"
)

const (
	pongWait   = 60 * time.Second
	pingPeriod = 25 * time.Second
	writeWait  = 10 * time.Second
)

// Client drives the read side of one websocket connection. The write side is
// owned by the hub session writer.
type Client struct {
	ws   *websocket.Conn
	sess *Session
	hub  *Hub

	// OnHeartbeat fires for each inbound heartbeat message.
	OnHeartbeat func(ctx context.Context)

	log *slog.Logger
}

func NewClient(ws *websocket.Conn, hub *Hub, sess *Session, log *slog.Logger) *Client {
	if log == nil {
		log = slog.Default()
	}
	return &Client{ws: ws, sess: sess, hub: hub, log: log}
}

type inbound struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Run pumps inbound messages until the connection drops or ctx is canceled.
// It keeps the connection alive with pings and detaches the session on exit.
func (c *Client) Run(ctx context.Context) {
	defer c.hub.Detach(c.sess)

	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	pinger := time.NewTicker(pingPeriod)
	defer pinger.Stop()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-c.sess.done:
				return
			case <-pinger.C:
				_ = c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			}
		}
	}()

	for {
		var msg inbound
		if err := c.ws.ReadJSON(&msg); err != nil {
			if !errors.Is(err, context.Canceled) && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.log.Debug("live channel read ended", "party_id", c.sess.PartyID(), "err", err)
			}
			return
		}

		switch msg.Event {
		case MessageHeartbeat:
			if c.OnHeartbeat != nil {
				c.OnHeartbeat(ctx)
			}
		default:
			// Unknown inbound events are ignored; the control operations
			// travel over HTTP, not the live channel.
		}
	}
}
