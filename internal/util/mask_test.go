package util

import (
	"strings"
	"testing"
)

func TestMaskSensitiveQueryMasksOAuthParams(t *testing.T) {
	raw := "code=abcdefghijklmnop&state=0123456789abcdef&foo=bar"
	masked := MaskSensitiveQuery(raw)
	if strings.Contains(masked, "abcdefghijklmnop") {
		t.Fatalf("code leaked: %s", masked)
	}
	if strings.Contains(masked, "0123456789abcdef") {
		t.Fatalf("state leaked: %s", masked)
	}
	if !strings.Contains(masked, "foo=bar") {
		t.Fatalf("unrelated param changed: %s", masked)
	}
}

func TestMaskSensitiveQueryUnchanged(t *testing.T) {
	raw := "window=1h&limit=10"
	if got := MaskSensitiveQuery(raw); got != raw {
		t.Fatalf("expected %q unchanged, got %q", raw, got)
	}
}

func TestHideSecret(t *testing.T) {
	cases := map[string]string{
		"abcdefghij": "abcd...ghij",
		"abcdef":     "ab...ef",
		"abc":        "a...c",
		"ab":         "ab",
	}
	for in, want := range cases {
		if got := HideSecret(in); got != want {
			t.Errorf("HideSecret(%q) = %q, want %q", in, got, want)
		}
	}
}
