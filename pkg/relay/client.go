package relay

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"

	"github.com/cenkalti/backoff"
	"github.com/gorilla/websocket"

	"github.com/astromechza/scoresync/pkg/session"
)

// Client keeps one session connected to a relay room. It dials with
// exponential backoff, replays the full local snapshot after every
// (re)connect so peers catch up on anything missed while offline, and
// feeds received frames into the session.
type Client struct {
	endpoint string
	sess     *session.Session
	outbound chan []byte
}

// NewClient prepares a client for the given relay base URL (e.g.
// "ws://localhost:1234") and room name.
func NewClient(baseURL, room string, sess *session.Session) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse relay url: %w", err)
	}
	return &Client{
		endpoint: u.JoinPath(room).String(),
		sess:     sess,
		outbound: make(chan []byte, sendBuffer),
	}, nil
}

// Send queues an encoded delta for transmission. Frames queued while
// disconnected are flushed after the next reconnect; peers that join
// later still converge via the snapshot replay.
func (c *Client) Send(buf []byte) {
	select {
	case c.outbound <- buf:
	default:
		slog.Error("outbound queue full, dropping frame")
	}
}

// Run connects and pumps frames until the context is cancelled,
// reconnecting with backoff after transport failures.
func (c *Client) Run(ctx context.Context) error {
	for {
		var conn *websocket.Conn
		dial := func() error {
			var err error
			conn, _, err = websocket.DefaultDialer.DialContext(ctx, c.endpoint, nil)
			if err != nil {
				slog.Info("dial failed, will retry", "endpoint", c.endpoint, "err", err)
			}
			return err
		}
		if err := backoff.Retry(dial, backoff.WithContext(backoff.NewExponentialBackOff(), ctx)); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("failed to dial relay: %w", err)
		}
		slog.Info("connected", "endpoint", c.endpoint)

		if err := conn.WriteMessage(websocket.BinaryMessage, c.sess.Snapshot()); err != nil {
			slog.Info("snapshot send failed", "err", err)
			_ = conn.Close()
			continue
		}
		c.pump(ctx, conn)
		_ = conn.Close()
		if ctx.Err() != nil {
			return nil
		}
		slog.Info("connection lost, reconnecting")
	}
}

// pump runs the read and write halves until either fails or the
// context ends.
func (c *Client) pump(ctx context.Context, conn *websocket.Conn) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			mt, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if mt != websocket.BinaryMessage {
				continue
			}
			// A malformed frame from one peer is dropped, the
			// connection stays up.
			ahead, err := c.sess.Exchange(msg)
			if err != nil {
				slog.Error("dropping malformed frame", "err", err)
				continue
			}
			// A snapshot that left us ahead means its sender is
			// behind: offer our snapshot back. This is what catches a
			// late joiner (or a reconnecting peer) up after its own
			// connect-time broadcast; routine deltas never set ahead.
			if ahead {
				c.Send(c.sess.Snapshot())
			}
		}
	}()

	for {
		select {
		case msg := <-c.outbound:
			if err := conn.WriteMessage(websocket.BinaryMessage, msg); err != nil {
				slog.Info("write failed", "err", err)
				return
			}
		case <-done:
			return
		case <-ctx.Done():
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}
