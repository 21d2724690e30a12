package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/coder/websocket"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/MrWong99/mouthpiece/internal/session"
)

// errDisconnected ends a connection's group when the socket closes.
var errDisconnected = errors.New("server: client disconnected")

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.cfg.AllowedOrigins,
	})
	if err != nil {
		// Accept has already written the HTTP error.
		s.log.Debug("websocket accept failed", "remote", r.RemoteAddr, "err", err)
		return
	}
	s.conns.Add(1)
	defer s.conns.Done()
	defer conn.CloseNow()
	conn.SetReadLimit(s.cfg.ReadLimit)

	ctx := r.Context()
	sess, err := s.sessions.NewSession(ctx, r.RemoteAddr)
	if err != nil {
		s.log.Error("failed to create session", "remote", r.RemoteAddr, "err", err)
		conn.Close(websocket.StatusInternalError, "session unavailable")
		return
	}

	stop := context.AfterFunc(s.closing, func() {
		conn.Close(websocket.StatusGoingAway, "server shutting down")
	})
	defer stop()

	c := &wsConn{
		conn:    conn,
		sess:    sess,
		limiter: rate.NewLimiter(rate.Limit(s.cfg.ControlRate), s.cfg.ControlBurst),
		log:     s.log.With("session_id", sess.ID(), "remote", r.RemoteAddr),
	}
	c.log.Info("client connected")
	if err := c.serve(ctx); err != nil {
		c.log.Warn("connection ended with error", "err", err)
		return
	}
	c.log.Info("client disconnected")
}

// wsConn pumps one websocket: a read loop feeding the session, a write loop
// draining its events, and the session itself, all in one group.
type wsConn struct {
	conn    *websocket.Conn
	sess    *session.Session
	limiter *rate.Limiter
	log     *slog.Logger
}

func (c *wsConn) serve(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.sess.Run(gctx) })
	g.Go(func() error { return c.readLoop(gctx) })
	g.Go(func() error { return c.writeLoop(gctx) })

	err := g.Wait()
	if errors.Is(err, errDisconnected) {
		return nil
	}
	return err
}

func (c *wsConn) readLoop(ctx context.Context) error {
	for {
		typ, data, err := c.conn.Read(ctx)
		if err != nil {
			if ctx.Err() == nil && websocket.CloseStatus(err) == -1 {
				c.log.Debug("websocket read failed", "err", err)
			}
			return errDisconnected
		}

		if typ == websocket.MessageBinary {
			c.sess.Frame(data)
			continue
		}

		// Listen toggles always pass. Text and unrecognised messages spend
		// the rate budget.
		ctrl, ok := decodeControl(data)
		if (!ok || ctrl.Type == session.ControlText) && !c.limiter.Allow() {
			c.log.Debug("control message rate exceeded, ignoring")
			continue
		}
		if !ok {
			c.log.Debug("ignoring client message", "bytes", len(data))
			continue
		}
		if err := c.sess.Control(ctx, ctrl); err != nil {
			if errors.Is(err, session.ErrClosed) {
				continue
			}
			return errDisconnected
		}
	}
}

// writeLoop sends events in order until the session closes them, then closes
// the socket normally.
func (c *wsConn) writeLoop(ctx context.Context) error {
	for ev := range c.sess.Events() {
		text, bin, err := encodeEvent(ev)
		if err != nil {
			c.log.Warn("dropping unencodable event", "type", ev.Type, "err", err)
			continue
		}
		if err := c.conn.Write(ctx, websocket.MessageText, text); err != nil {
			return c.writeErr(ctx, err)
		}
		if bin != nil {
			if err := c.conn.Write(ctx, websocket.MessageBinary, bin); err != nil {
				return c.writeErr(ctx, err)
			}
		}
	}
	if ctx.Err() != nil {
		return nil
	}
	c.conn.Close(websocket.StatusNormalClosure, "session ended")
	return nil
}

func (c *wsConn) writeErr(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return nil
	}
	c.log.Debug("websocket write failed", "err", err)
	return errDisconnected
}
