package gateway

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/fenglin-dev/voicegate/config"
	"github.com/fenglin-dev/voicegate/internal/asrstream"
	"github.com/fenglin-dev/voicegate/internal/records"
	"github.com/fenglin-dev/voicegate/internal/rewrite"
	"github.com/fenglin-dev/voicegate/internal/session"
)

// Handler serves the session entrypoint (spec.md §4.F): a single
// WebSocket route that upgrades the connection, builds a fresh
// Session + Pipeline per client, and runs it to completion.
type Handler struct {
	cfg    *config.Settings
	asr    *asrstream.Client
	ark    *rewrite.ArkClient
	store  records.Store
	logger *zap.SugaredLogger
}

// NewHandler builds a Handler. store may be nil (persistence disabled).
func NewHandler(cfg *config.Settings, asr *asrstream.Client, ark *rewrite.ArkClient, store records.Store, logger *zap.SugaredLogger) *Handler {
	return &Handler{cfg: cfg, asr: asr, ark: ark, store: store, logger: logger}
}

// Register mounts the streaming route and a health check on r.
func (h *Handler) Register(r gin.IRouter) {
	r.GET("/transcribe/stream", h.handleStream)
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
}

func (h *Handler) handleStream(c *gin.Context) {
	effect := parseBoolQuery(c, "effect", false)
	useLLM := parseBoolQuery(c, "use_llm", false)
	idleTimeoutSec := config.ClampIdleTimeout(parseIntQuery(c, "idle_timeout_sec"), h.cfg.IdleTimeoutSec)

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warnf("gateway: websocket upgrade failed: %v", err)
		return
	}
	downstream := newDownstreamConn(conn, h.logger)
	defer downstream.Close()

	useCorrection := useLLM && h.cfg.Ark.Valid()
	sess := session.New(effect, useLLM, useCorrection, idleTimeoutSec)

	ctx := c.Request.Context()
	audio := downstream.recvPCM(ctx)

	pipeline := session.NewPipeline(sess, audio, h.asr, h.ark, downstream, h.store, h.logger)
	pipeline.Run(ctx)
}

func parseBoolQuery(c *gin.Context, key string, fallback bool) bool {
	raw := c.Query(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback
	}
	return v
}

func parseIntQuery(c *gin.Context, key string) *int {
	raw := c.Query(key)
	if raw == "" {
		return nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return nil
	}
	return &v
}
