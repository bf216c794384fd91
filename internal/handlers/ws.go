// internal/handlers/ws.go
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
	"github.com/jason-s-yu/teamlobby/internal/broadcast"
	"github.com/jason-s-yu/teamlobby/internal/middleware"
	"github.com/jason-s-yu/teamlobby/internal/session"
	"github.com/sirupsen/logrus"
)

const (
	pingInterval     = 30 * time.Second
	writeTimeout     = 10 * time.Second
	outChanBuffer    = 32
	maxSubscriptions = 16
	maxInvalidFrames = 5
)

// clientFrame is what browsers send over the broadcast socket.
type clientFrame struct {
	Type    string `json:"type"`
	Channel string `json:"channel"`
}

type frameError struct {
	Message string `json:"message"`
	Status  int    `json:"status"`
}

// wsConn is one accepted broadcast socket.
type wsConn struct {
	client        *broadcast.Client
	sess          session.Session
	accountID     string
	subscriptions map[string]bool
}

// BroadcastWS upgrades to a websocket that clients use to subscribe to lobby channels.
// Presence channels go through the same authorization as POST /broadcasting/auth.
func (s *Server) BroadcastWS(w http.ResponseWriter, r *http.Request) {
	rc, err := s.identify(w, r, "")
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	opts := &websocket.AcceptOptions{OriginPatterns: s.origins}
	c, err := websocket.Accept(w, r, opts)
	if err != nil {
		s.logger.Warnf("websocket accept error: %v", err)
		return
	}
	defer c.Close(websocket.StatusInternalError, "handler finished")

	middleware.LogWebSocketConnect(s.logger, r.RemoteAddr, r.URL.Path)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	conn := &wsConn{
		client:        broadcast.NewClient(uuid.NewString(), outChanBuffer, s.logger),
		sess:          rc.sess,
		accountID:     rc.accountID,
		subscriptions: make(map[string]bool),
	}
	defer s.hub.Remove(conn.client)

	go s.writePump(ctx, c, conn, cancel)
	err = s.readPump(ctx, c, conn)

	middleware.LogWebSocketDisconnect(s.logger, r.RemoteAddr, r.URL.Path, err)
	if err == nil {
		c.Close(websocket.StatusNormalClosure, "")
	}
}

// writePump drains the client's out channel onto the socket and keeps it alive with pings.
func (s *Server) writePump(ctx context.Context, c *websocket.Conn, conn *wsConn, cancel context.CancelFunc) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-conn.client.OutChan:
			wctx, wcancel := context.WithTimeout(ctx, writeTimeout)
			err := wsjson.Write(wctx, c, ev)
			wcancel()
			if err != nil {
				s.logger.WithFields(logrus.Fields{"client": conn.client.ID, "error": err}).Debug("websocket write failed")
				return
			}
		case <-conn.client.Lagged():
			c.Close(SlowConsumerError, "missed events, reconnect")
			return
		case <-ticker.C:
			pctx, pcancel := context.WithTimeout(ctx, writeTimeout)
			err := c.Ping(pctx)
			pcancel()
			if err != nil {
				s.logger.WithFields(logrus.Fields{"client": conn.client.ID, "error": err}).Debug("websocket ping failed")
				return
			}
		}
	}
}

// readPump handles client frames until the socket closes. A nil return means the peer
// went away normally.
func (s *Server) readPump(ctx context.Context, c *websocket.Conn, conn *wsConn) error {
	invalid := 0
	for {
		typ, msg, err := c.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway || errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
		if typ != websocket.MessageText {
			continue
		}

		var frame clientFrame
		if err := json.Unmarshal(msg, &frame); err != nil {
			invalid++
			if invalid >= maxInvalidFrames {
				c.Close(InvalidFrameError, "invalid frames")
				return nil
			}
			conn.client.Write(broadcast.Event{Kind: broadcast.KindSubscriptionError, Payload: frameError{Message: "invalid JSON", Status: http.StatusBadRequest}})
			continue
		}

		switch frame.Type {
		case "subscribe":
			if !s.subscribe(ctx, conn, frame.Channel) {
				c.Close(TooManySubscriptionsError, "too many subscriptions")
				return nil
			}
		case "unsubscribe":
			if canonical, _, _, ok := broadcast.ParseChannel(frame.Channel); ok {
				delete(conn.subscriptions, canonical)
				s.hub.Unsubscribe(conn.client, canonical)
			}
		case "ping":
			conn.client.Write(broadcast.Event{Kind: broadcast.KindPong})
		default:
			conn.client.Write(broadcast.Event{Kind: broadcast.KindSubscriptionError, Channel: frame.Channel, Payload: frameError{Message: "unknown frame type", Status: http.StatusBadRequest}})
		}
	}
}

// subscribe authorizes and registers one channel. It returns false once the socket holds
// too many subscriptions.
func (s *Server) subscribe(ctx context.Context, conn *wsConn, channel string) bool {
	canonical, code, _, ok := broadcast.ParseChannel(channel)
	if !ok {
		conn.client.Write(broadcast.Event{Kind: broadcast.KindSubscriptionError, Channel: channel, Payload: frameError{Message: "unknown channel", Status: http.StatusNotFound}})
		return true
	}
	if conn.subscriptions[canonical] {
		return true
	}
	if len(conn.subscriptions) >= maxSubscriptions {
		return false
	}

	caller := s.resolver.Resolve(ctx, conn.accountID, conn.sess, code)
	presence, allowed, err := s.authorizer.Authorize(ctx, caller, conn.sess, channel)
	if err != nil {
		s.logger.WithFields(logrus.Fields{"channel": channel, "error": err}).Error("channel authorization failed")
		conn.client.Write(broadcast.Event{Kind: broadcast.KindSubscriptionError, Channel: channel, Payload: frameError{Message: "authorization failed", Status: http.StatusInternalServerError}})
		return true
	}
	if !allowed {
		conn.client.Write(broadcast.Event{Kind: broadcast.KindSubscriptionError, Channel: channel, Payload: frameError{Message: "forbidden", Status: http.StatusForbidden}})
		return true
	}

	conn.subscriptions[canonical] = true
	s.hub.Subscribe(conn.client, canonical, presence)
	return true
}
