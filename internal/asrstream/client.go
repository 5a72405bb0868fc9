// Package asrstream implements the upstream ASR client: spec.md's
// component 4.B. It opens the provider's streaming WebSocket, paces
// outbound audio, and yields a deduplicated lazy sequence of full-
// transcript snapshots over a channel.
package asrstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/fenglin-dev/voicegate/config"
	"github.com/fenglin-dev/voicegate/internal/protocol"
)

// ErrConfigMissing is returned (via the error channel) when upstream
// credentials are not configured — spec.md §7's ConfigMissing kind.
var ErrConfigMissing = errors.New("asrstream: volcengine credentials are not configured")

// Client opens streaming ASR sessions against the configured upstream.
type Client struct {
	cfg    config.VolcengineConfig
	dialer *websocket.Dialer
	logger *zap.SugaredLogger
}

// NewClient builds a Client bound to cfg.
func NewClient(cfg config.VolcengineConfig, logger *zap.SugaredLogger) *Client {
	return &Client{
		cfg:    cfg,
		dialer: &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		logger: logger,
	}
}

// Stream implements spec.md §4.B's contract: given a lazy byte
// sequence of PCM and an effect flag, it returns a lazy sequence of
// Snapshot strings that terminates when the upstream signals its
// terminal flag or the connection closes. The returned error channel
// carries ConfigMissing, a failure to dial the upstream or to send the
// start-of-session frame, and UpstreamProtocolError; a transport close
// or a failed audio write after the session has started ends the
// sequence silently, matching the "no exhausted-iterator exception
// leaks upward" design note.
func (c *Client) Stream(ctx context.Context, audio <-chan []byte, effect bool) (<-chan string, <-chan error) {
	out := make(chan string)
	errCh := make(chan error, 1)

	if !c.cfg.Valid() {
		close(out)
		errCh <- ErrConfigMissing
		close(errCh)
		return out, errCh
	}

	go c.run(ctx, audio, effect, out, errCh)
	return out, errCh
}

func (c *Client) run(ctx context.Context, audio <-chan []byte, effect bool, out chan<- string, errCh chan<- error) {
	headers := http.Header{}
	headers.Set("X-Api-App-Key", c.cfg.AppKey)
	headers.Set("X-Api-Access-Key", c.cfg.AccessKey)
	headers.Set("X-Api-Resource-Id", c.cfg.ResourceID)
	headers.Set("X-Api-Connect-Id", uuid.NewString())

	conn, resp, err := c.dialer.DialContext(ctx, c.cfg.StreamURL, headers)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		close(out)
		errCh <- fmt.Errorf("asrstream: dial upstream: %w", err)
		close(errCh)
		return
	}

	body, _ := json.Marshal(startOfSessionBody(effect))
	if err := sendFrame(conn, protocol.HeaderFullClientRequest, body); err != nil {
		conn.Close()
		close(out)
		errCh <- fmt.Errorf("asrstream: send start-of-session frame: %w", err)
		close(errCh)
		return
	}

	senderCtx, senderCancel := context.WithCancel(ctx)
	senderDone := make(chan struct{})
	go c.sendAudio(senderCtx, conn, audio, senderDone)
	c.receive(ctx, conn, out, errCh, senderCancel, senderDone)
}

func startOfSessionBody(effect bool) map[string]interface{} {
	return map[string]interface{}{
		"audio": map[string]interface{}{
			"format":  "pcm",
			"codec":   "raw",
			"rate":    16000,
			"bits":    16,
			"channel": 1,
		},
		"request": map[string]interface{}{
			"model_name":  "bigmodel",
			"enable_itn":  true,
			"enable_punc": true,
			"enable_ddc":  effect,
		},
	}
}

func sendFrame(conn *websocket.Conn, header uint32, payload []byte) error {
	return conn.WriteMessage(websocket.BinaryMessage, protocol.EncodeFrame(header, payload))
}

// sendAudio is the sender task from spec.md §4.B: it buffers incoming
// PCM, flushes CHUNK_BYTES-sized AUDIO_ONLY frames paced at >=50ms
// apart, and flushes the residual (even if empty) as AUDIO_LAST when
// the input sequence ends.
func (c *Client) sendAudio(ctx context.Context, conn *websocket.Conn, audio <-chan []byte, done chan<- struct{}) {
	defer close(done)

	buf := make([]byte, 0, protocol.ChunkBytes)

	for {
		select {
		case <-ctx.Done():
			return
		case chunk, ok := <-audio:
			if !ok {
				residual := buf
				if err := sendFrame(conn, protocol.HeaderAudioLast, residual); err != nil {
					c.logger.Warnf("asrstream: send final audio frame: %v", err)
				}
				return
			}

			buf = append(buf, chunk...)
			for len(buf) >= protocol.ChunkBytes {
				next := buf[:protocol.ChunkBytes]
				buf = buf[protocol.ChunkBytes:]

				if err := sendFrame(conn, protocol.HeaderAudioOnly, next); err != nil {
					c.logger.Warnf("asrstream: send audio chunk: %v", err)
					return
				}

				select {
				case <-ctx.Done():
					return
				case <-time.After(50 * time.Millisecond):
				}
			}
		}
	}
}

// receive is the receiver task from spec.md §4.B: it drives the
// output sequence and, on unwind, always waits for the sender before
// returning (after cancelling it), matching the coordination rule in
// §4.B and §9.
func (c *Client) receive(
	ctx context.Context,
	conn *websocket.Conn,
	out chan<- string,
	errCh chan<- error,
	senderCancel context.CancelFunc,
	senderDone <-chan struct{},
) {
	defer func() {
		senderCancel()
		<-senderDone
		close(out)
		close(errCh)
		conn.Close()
	}()

	lastYielded := ""

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			c.logger.Debugf("asrstream: upstream connection closed: %v", err)
			return
		}

		frame, ok, err := protocol.ParseServerFrame(data)
		if err != nil {
			var protoErr *protocol.ProtocolError
			if errors.As(err, &protoErr) {
				errCh <- err
			} else {
				c.logger.Warnf("asrstream: parse upstream frame: %v", err)
			}
			return
		}
		if !ok {
			continue
		}

		if frame.HasText && frame.Text != "" && frame.Text != lastYielded {
			lastYielded = frame.Text
			select {
			case out <- frame.Text:
			case <-ctx.Done():
				return
			}
		}

		if frame.Terminal {
			return
		}
	}
}
