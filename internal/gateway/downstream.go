// Package gateway wires the downstream WebSocket adapter (spec.md
// §4.E) and the session entrypoint (§4.F) around internal/session's
// pipeline, grounded on the teacher's handlers.AudioHandler proxy.
package gateway

import (
	"context"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  32 * 1024,
	WriteBufferSize: 32 * 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// downstreamConn adapts a single client connection to the 4.E
// contract: a lazy PCM byte sequence in, a best-effort JSON sender
// out. Unlike the teacher's audio proxy (which multiplexes control
// and binary frames over one handler), the gateway's wire contract is
// binary-PCM-in/JSON-out only, so recv/send are split into two small
// pieces instead of one dispatch loop.
type downstreamConn struct {
	conn   *websocket.Conn
	logger *zap.SugaredLogger

	writeMu sync.Mutex
	closed  bool
}

func newDownstreamConn(conn *websocket.Conn, logger *zap.SugaredLogger) *downstreamConn {
	return &downstreamConn{conn: conn, logger: logger}
}

// recvPCM starts a goroutine pumping binary frames into a channel and
// returns it; the channel closes on disconnect or transport error,
// with no error propagated to the caller (spec.md §4.E).
func (d *downstreamConn) recvPCM(ctx context.Context) <-chan []byte {
	out := make(chan []byte)
	go func() {
		defer close(out)
		for {
			msgType, payload, err := d.conn.ReadMessage()
			if err != nil {
				return
			}
			if msgType != websocket.BinaryMessage {
				continue
			}
			select {
			case out <- payload:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// Send is best-effort: a failure after the client is gone is logged
// at debug level and swallowed, never returned to the caller. This is
// what lets the pipeline's trailing is_final emission run unconditionally
// even past a disconnect.
func (d *downstreamConn) Send(_ context.Context, payload any) error {
	d.writeMu.Lock()
	defer d.writeMu.Unlock()

	if d.closed {
		return nil
	}
	if err := d.conn.WriteJSON(payload); err != nil {
		d.logger.Debugf("gateway: downstream send after close/error: %v", err)
	}
	return nil
}

// Close marks the connection closed and releases the socket. Safe to
// call more than once.
func (d *downstreamConn) Close() {
	d.writeMu.Lock()
	defer d.writeMu.Unlock()
	if d.closed {
		return
	}
	d.closed = true
	_ = d.conn.Close()
}
