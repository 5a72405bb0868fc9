package gateway

import (
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/fenglin-dev/voicegate/config"
)

func newTestContext(target string) *gin.Context {
	gin.SetMode(gin.TestMode)
	req := httptest.NewRequest("GET", target, nil)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = req
	return c
}

func TestParseBoolQuery(t *testing.T) {
	cases := []struct {
		name     string
		target   string
		key      string
		fallback bool
		want     bool
	}{
		{"absent falls back true", "/x", "effect", true, true},
		{"absent falls back false", "/x", "effect", false, false},
		{"explicit true", "/x?effect=true", "effect", false, true},
		{"explicit false", "/x?effect=false", "effect", true, false},
		{"malformed falls back", "/x?effect=maybe", "effect", true, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := newTestContext(tc.target)
			if got := parseBoolQuery(c, tc.key, tc.fallback); got != tc.want {
				t.Fatalf("parseBoolQuery() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestParseIntQuery(t *testing.T) {
	c := newTestContext("/x?idle_timeout_sec=42")
	got := parseIntQuery(c, "idle_timeout_sec")
	if got == nil || *got != 42 {
		t.Fatalf("parseIntQuery() = %v, want 42", got)
	}

	if got := parseIntQuery(newTestContext("/x"), "idle_timeout_sec"); got != nil {
		t.Fatalf("parseIntQuery() on absent param = %v, want nil", got)
	}

	if got := parseIntQuery(newTestContext("/x?idle_timeout_sec=oops"), "idle_timeout_sec"); got != nil {
		t.Fatalf("parseIntQuery() on malformed param = %v, want nil", got)
	}
}

// useCorrection gating (handler.go:handleStream) requires both
// use_llm=true and a fully configured Ark client; neither alone is
// enough to turn correction on.
func TestUseCorrectionGating(t *testing.T) {
	cases := []struct {
		name   string
		useLLM bool
		ark    config.ArkConfig
		want   bool
	}{
		{"llm off, ark configured", false, config.ArkConfig{APIKey: "k", ModelID: "m"}, false},
		{"llm on, ark unconfigured", true, config.ArkConfig{}, false},
		{"llm on, ark configured", true, config.ArkConfig{APIKey: "k", ModelID: "m"}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := &config.Settings{Ark: tc.ark}
			got := tc.useLLM && cfg.Ark.Valid()
			if got != tc.want {
				t.Fatalf("useCorrection = %v, want %v", got, tc.want)
			}
		})
	}
}
