package live

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/cory-johannsen/tabletop-hub/internal/config"
)

// WebSocketStream adapts a gorilla websocket connection to Stream and keeps
// it alive with ping/pong.
type WebSocketStream struct {
	conn   *websocket.Conn
	cfg    config.LiveConfig
	logger *zap.Logger

	// gorilla allows one concurrent writer; Write and ping share it.
	writeMu   sync.Mutex
	closeOnce sync.Once
}

// NewWebSocketStream wraps conn.
//
// Precondition: conn must be an upgraded connection; cfg.PingInterval < cfg.PongWait.
func NewWebSocketStream(conn *websocket.Conn, cfg config.LiveConfig, logger *zap.Logger) *WebSocketStream {
	return &WebSocketStream{conn: conn, cfg: cfg, logger: logger}
}

// Write sends msg as one text frame within the write timeout.
func (w *WebSocketStream) Write(_ context.Context, msg []byte) error {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()

	if err := w.conn.SetWriteDeadline(time.Now().Add(w.cfg.WriteTimeout)); err != nil {
		return err
	}
	return w.conn.WriteMessage(websocket.TextMessage, msg)
}

func (w *WebSocketStream) ping() error {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()

	if err := w.conn.SetWriteDeadline(time.Now().Add(w.cfg.WriteTimeout)); err != nil {
		return err
	}
	return w.conn.WriteMessage(websocket.PingMessage, nil)
}

// keepAlive pings until ctx is done or a ping fails.
func (w *WebSocketStream) keepAlive(ctx context.Context) error {
	ticker := time.NewTicker(w.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := w.ping(); err != nil {
				return err
			}
		}
	}
}

// readLoop discards client frames until the peer goes away. The stream is
// server-to-client only; reading is what surfaces disconnects and pongs.
func (w *WebSocketStream) readLoop() error {
	if err := w.conn.SetReadDeadline(time.Now().Add(w.cfg.PongWait)); err != nil {
		return err
	}
	w.conn.SetPongHandler(func(string) error {
		return w.conn.SetReadDeadline(time.Now().Add(w.cfg.PongWait))
	})

	for {
		if _, _, err := w.conn.ReadMessage(); err != nil {
			return err
		}
	}
}

// Close sends a close frame with the given code and closes the connection.
func (w *WebSocketStream) Close(code int, reason string) {
	w.closeOnce.Do(func() {
		w.writeMu.Lock()
		msg := websocket.FormatCloseMessage(code, reason)
		_ = w.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(w.cfg.WriteTimeout))
		w.writeMu.Unlock()

		if err := w.conn.Close(); err != nil && !isExpectedCloseError(err) {
			w.logger.Debug("closing websocket", zap.Error(err))
		}
	})
}

// Serve subscribes ws to gameID and runs it until the client disconnects,
// ctx is done, or the registry drops it.
//
// Postcondition: ws is closed and unsubscribed when Serve returns.
func (r *Registry) Serve(ctx context.Context, gameID string, ws *WebSocketStream) error {
	sub, err := r.Subscribe(ctx, gameID, ws)
	if err != nil {
		ws.Close(websocket.ClosePolicyViolation, "game not available")
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		err := ws.readLoop()
		if !isExpectedCloseError(err) {
			r.logger.Info("live stream read ended",
				zap.String("game", gameID),
				zap.String("subscriber", sub.ID()),
				zap.Error(err),
			)
		}
		cancel()
	}()
	go func() {
		if err := ws.keepAlive(ctx); err != nil {
			cancel()
		}
	}()

	err = sub.Forward(ctx)
	ws.Close(websocket.CloseNormalClosure, "")
	if err == nil || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// isExpectedCloseError reports whether err is a normal end of a connection.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	if websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived,
	) {
		return true
	}
	return errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || errors.Is(err, websocket.ErrCloseSent)
}
