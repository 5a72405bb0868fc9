package config

import "testing"

func TestVolcengineConfigValid(t *testing.T) {
	cases := []struct {
		name string
		cfg  VolcengineConfig
		want bool
	}{
		{"all set", VolcengineConfig{AppKey: "a", AccessKey: "b", ResourceID: "c"}, true},
		{"missing access key", VolcengineConfig{AppKey: "a", ResourceID: "c"}, false},
		{"all blank", VolcengineConfig{}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.cfg.Valid(); got != tc.want {
				t.Fatalf("Valid() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestArkConfigValid(t *testing.T) {
	if (ArkConfig{}).Valid() {
		t.Fatalf("empty ArkConfig should be invalid")
	}
	if !(ArkConfig{APIKey: "k", ModelID: "m"}).Valid() {
		t.Fatalf("fully populated ArkConfig should be valid")
	}
}

func TestClampIdleTimeout(t *testing.T) {
	fallback := 5.0

	if got := ClampIdleTimeout(nil, fallback); got != fallback {
		t.Fatalf("nil request should fall back to default, got %v", got)
	}

	low := 0
	if got := ClampIdleTimeout(&low, fallback); got != 1 {
		t.Fatalf("value below 1 should clamp to 1, got %v", got)
	}

	high := 10000
	if got := ClampIdleTimeout(&high, fallback); got != 600 {
		t.Fatalf("value above 600 should clamp to 600, got %v", got)
	}

	mid := 42
	if got := ClampIdleTimeout(&mid, fallback); got != 42 {
		t.Fatalf("in-range value should pass through, got %v", got)
	}
}
