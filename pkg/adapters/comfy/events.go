package comfy

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/aretw0/nodegate/pkg/domain"
	"github.com/aretw0/nodegate/pkg/ports"
	"github.com/gorilla/websocket"
)

// Events dials /ws for clientID. The backend only routes execution events of
// prompts queued with the same client id to this connection.
func (c *Client) Events(ctx context.Context, clientID string) (ports.EventStream, error) {
	u := *c.base
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	u.RawQuery = url.Values{"clientId": {clientID}}.Encode()

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: status %d: %w", u.Redacted(), resp.StatusCode, err)
		}
		return nil, fmt.Errorf("dial %s: %w", u.Redacted(), err)
	}
	c.logger.Debug("Event stream connected", "url", u.Redacted())
	return &stream{conn: conn, logger: c.logger}, nil
}

type stream struct {
	conn      *websocket.Conn
	logger    *slog.Logger
	closeOnce sync.Once
	closeErr  error
}

// Next returns the next JSON event. Binary frames (previews) and undecodable text
// frames are skipped.
func (s *stream) Next(ctx context.Context) (domain.Event, error) {
	// wake a blocked read when ctx ends; the connection is unusable afterwards
	stop := context.AfterFunc(ctx, func() {
		_ = s.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	for {
		typ, data, err := s.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return domain.Event{}, ctx.Err()
			}
			return domain.Event{}, err
		}
		if typ != websocket.TextMessage {
			continue
		}
		var ev domain.Event
		if err := json.Unmarshal(data, &ev); err != nil {
			s.logger.Debug("Skipping undecodable event", "err", err)
			continue
		}
		return ev, nil
	}
}

// Close sends a close frame and releases the connection.
func (s *stream) Close() error {
	s.closeOnce.Do(func() {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		s.closeErr = s.conn.Close()
	})
	return s.closeErr
}
