package rewrite

import (
	"context"
	"testing"

	"go.uber.org/zap"

	"github.com/fenglin-dev/voicegate/config"
)

func TestRewriteUnconfiguredReturnsTextUnchanged(t *testing.T) {
	client := NewArkClient(config.ArkConfig{}, zap.NewNop().Sugar())

	got, err := client.Rewrite(context.Background(), "hi there", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "hi there" {
		t.Fatalf("got %q, want unchanged input", got)
	}
}

func TestRewriteBlankInputReturnsEmpty(t *testing.T) {
	client := NewArkClient(config.ArkConfig{APIKey: "k", ModelID: "m"}, zap.NewNop().Sugar())

	got, err := client.Rewrite(context.Background(), "   ", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "" {
		t.Fatalf("got %q, want empty string for blank input", got)
	}
}

func TestUserContentFormatting(t *testing.T) {
	if got := userContent("asr", ""); got != "当前待纠错: asr" {
		t.Fatalf("got %q", got)
	}
	want := "历史文本: prior\n\n当前待纠错: asr"
	if got := userContent("asr", "prior"); got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}
