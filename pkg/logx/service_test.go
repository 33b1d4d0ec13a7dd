package logx

import (
	"strings"
	"testing"
)

func TestFormatTelegramLine(t *testing.T) {
	t.Parallel()

	got := formatTelegramLine([]byte(`{"level":"warn","message":"dispatch failed","time":"x","group_id":-100,"comp":"escalation"}`))
	want := "[WARN] dispatch failed\n- comp=escalation\n- group_id=-100"
	if got != want {
		t.Fatalf("formatTelegramLine = %q, want %q", got, want)
	}

	raw := formatTelegramLine([]byte("  not json \n"))
	if raw != "not json" {
		t.Fatalf("raw = %q, want %q", raw, "not json")
	}
}

func TestTruncate(t *testing.T) {
	t.Parallel()

	if got := truncate(strings.Repeat("a", 20), 12); got != "aaaaaaaaa..." {
		t.Fatalf("truncate = %q", got)
	}
	if got := truncate("short", 12); got != "short" {
		t.Fatalf("truncate = %q", got)
	}
}

func TestValidLevel(t *testing.T) {
	t.Parallel()

	cases := map[string]bool{"": true, "debug": true, "WARNING": true, "verbose": false}
	for in, want := range cases {
		if got := ValidLevel(in); got != want {
			t.Fatalf("ValidLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestZeroLoggerIsSafe(t *testing.T) {
	t.Parallel()

	var l Logger
	if !l.IsZero() {
		t.Fatalf("zero logger IsZero = false")
	}
	l.With(String("k", "v")).Info("nothing happens")
	Nop().Error("nothing happens either")
}
