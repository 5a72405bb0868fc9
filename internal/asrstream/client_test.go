package asrstream

import (
	"context"
	"encoding/binary"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/fenglin-dev/voicegate/config"
	"github.com/fenglin-dev/voicegate/internal/protocol"
)

var testUpgrader = websocket.Upgrader{}

// fakeUpstreamServer drains the client's start frame and audio frames,
// then writes the given result bodies (last one terminal) back.
func fakeUpstreamServer(t *testing.T, resultBodies []string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		// drain the start-of-session frame and all audio frames until AUDIO_LAST.
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			header, _, derr := protocol.DecodeFrame(data)
			if derr != nil {
				continue
			}
			if header == protocol.HeaderAudioLast {
				break
			}
		}

		for i, body := range resultBodies {
			flags := byte(0x00)
			if i == len(resultBodies)-1 {
				flags = 0x03
			}
			frameHeader := []byte{0x00, (0x09 << 4) | flags, 0x00, 0x00}
			sequence := make([]byte, 4)
			sizeBytes := make([]byte, 4)
			binary.BigEndian.PutUint32(sizeBytes, uint32(len(body)))
			frame := append(frameHeader, sequence...)
			frame = append(frame, sizeBytes...)
			frame = append(frame, []byte(body)...)
			if err := conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
				return
			}
		}
	}))
}

func wsURL(server *httptest.Server) string {
	return "ws" + server.URL[len("http"):]
}

func TestStreamDedupesAndTerminates(t *testing.T) {
	server := fakeUpstreamServer(t, []string{
		`{"result":{"text":"hi"}}`,
		`{"result":{"text":"hi"}}`,
		`{"result":{"text":"hi there"}}`,
		`{"result":{"text":"hi there"}}`,
	})
	defer server.Close()

	cfg := config.VolcengineConfig{AppKey: "a", AccessKey: "b", ResourceID: "c", StreamURL: wsURL(server)}
	client := NewClient(cfg, zap.NewNop().Sugar())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	audio := make(chan []byte)
	close(audio)

	snapshots, errCh := client.Stream(ctx, audio, false)

	var got []string
	for s := range snapshots {
		got = append(got, s)
	}

	want := []string{"hi", "hi there"}
	if len(got) != len(want) {
		t.Fatalf("snapshots = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("snapshots[%d] = %q, want %q", i, got[i], want[i])
		}
	}

	for err := range errCh {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestStreamConfigMissing(t *testing.T) {
	client := NewClient(config.VolcengineConfig{}, zap.NewNop().Sugar())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	audio := make(chan []byte)
	close(audio)

	snapshots, errCh := client.Stream(ctx, audio, false)

	if _, open := <-snapshots; open {
		t.Fatalf("expected snapshot channel to be closed immediately")
	}

	err, ok := <-errCh
	if !ok || err != ErrConfigMissing {
		t.Fatalf("expected ErrConfigMissing, got %v (ok=%v)", err, ok)
	}
}

func TestStreamProtocolError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			header, _, derr := protocol.DecodeFrame(data)
			if derr != nil {
				continue
			}
			if header == protocol.HeaderAudioLast {
				break
			}
		}

		errFrame := make([]byte, 8)
		errFrame[1] = 0x0F << 4
		binary.BigEndian.PutUint32(errFrame[4:8], 4003)
		conn.WriteMessage(websocket.BinaryMessage, errFrame)
	}))
	defer server.Close()

	cfg := config.VolcengineConfig{AppKey: "a", AccessKey: "b", ResourceID: "c", StreamURL: wsURL(server)}
	client := NewClient(cfg, zap.NewNop().Sugar())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	audio := make(chan []byte)
	close(audio)

	_, errCh := client.Stream(ctx, audio, false)

	err, ok := <-errCh
	if !ok {
		t.Fatalf("expected a protocol error")
	}
	protoErr, isProto := err.(*protocol.ProtocolError)
	if !isProto || protoErr.Code != 4003 {
		t.Fatalf("expected ProtocolError{Code:4003}, got %v", err)
	}
}
