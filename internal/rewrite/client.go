// Package rewrite implements the LLM rewrite client: spec.md's
// component 4.C. It wraps a single blocking streaming chat-completion
// call behind an async boundary and returns the fully rewritten text.
package rewrite

import (
	"context"
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"

	"github.com/volcengine/volcengine-go-sdk/service/arkruntime"
	"github.com/volcengine/volcengine-go-sdk/service/arkruntime/model"
	"github.com/volcengine/volcengine-go-sdk/volcengine"

	"github.com/fenglin-dev/voicegate/config"
)

const systemPrompt = "你是语音助理，请对以下流式 ASR 文本进行实时润色和纠错。" +
	"保持原意，修正错别字和口语冗余。仅输出修正后的文本。"

// Rewriter is the 4.C contract. Per spec.md §1 it is treated as a
// single async function; production callers fall back to the raw
// snapshot whenever err is non-nil, so implementations should also do
// their best to return text == asrText on failure.
type Rewriter interface {
	Rewrite(ctx context.Context, asrText, history string) (string, error)
}

// ArkClient calls Volcengine Ark's streaming chat-completions API.
type ArkClient struct {
	cfg    config.ArkConfig
	client *arkruntime.Client
	logger *zap.SugaredLogger
}

// NewArkClient builds an ArkClient. cfg may be unconfigured — Rewrite
// then degrades to the identity function per spec.md §4.C.
func NewArkClient(cfg config.ArkConfig, logger *zap.SugaredLogger) *ArkClient {
	var client *arkruntime.Client
	if cfg.Valid() {
		client = arkruntime.NewClientWithApiKey(cfg.APIKey)
	}
	return &ArkClient{cfg: cfg, client: client, logger: logger}
}

type correctionOutcome struct {
	text string
	err  error
}

// Rewrite implements spec.md §4.C exactly: unconfigured credentials
// return the text unchanged, blank input returns "", and the blocking
// SDK call is dispatched to its own goroutine so a slow or hung
// upstream never stalls the session pipeline's cooperative loop.
func (c *ArkClient) Rewrite(ctx context.Context, asrText, history string) (string, error) {
	if !c.cfg.Valid() {
		return asrText, nil
	}
	if strings.TrimSpace(asrText) == "" {
		return "", nil
	}

	resultCh := make(chan correctionOutcome, 1)
	go func() {
		text, err := c.correctStream(ctx, asrText, history)
		resultCh <- correctionOutcome{text: text, err: err}
	}()

	select {
	case <-ctx.Done():
		return asrText, ctx.Err()
	case res := <-resultCh:
		if res.err != nil {
			c.logger.Warnf("rewrite: ark correction failed, falling back to raw snapshot: %v", res.err)
			return asrText, res.err
		}
		return res.text, nil
	}
}

func (c *ArkClient) correctStream(ctx context.Context, asrText, history string) (string, error) {
	req := model.CreateChatCompletionRequest{
		Model: c.cfg.ModelID,
		Messages: []*model.ChatCompletionMessage{
			{
				Role:    model.ChatMessageRoleSystem,
				Content: &model.ChatCompletionMessageContent{StringValue: volcengine.String(systemPrompt)},
			},
			{
				Role:    model.ChatMessageRoleUser,
				Content: &model.ChatCompletionMessageContent{StringValue: volcengine.String(userContent(asrText, history))},
			},
		},
		Temperature: volcengine.Float32(0.3),
		Thinking:    &model.Thinking{Type: "disabled"},
	}

	stream, err := c.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return "", fmt.Errorf("rewrite: open ark completion stream: %w", err)
	}
	defer stream.Close()

	var chunks strings.Builder
	for {
		resp, err := stream.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("rewrite: read ark completion stream: %w", err)
		}
		if len(resp.Choices) == 0 {
			continue
		}
		chunks.WriteString(resp.Choices[0].Delta.Content)
	}

	return strings.TrimSpace(chunks.String()), nil
}

func userContent(asrText, history string) string {
	if strings.TrimSpace(history) == "" {
		return fmt.Sprintf("当前待纠错: %s", asrText)
	}
	return fmt.Sprintf("历史文本: %s\n\n当前待纠错: %s", history, asrText)
}
