package log

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"testing"

	"github.com/keithlinneman/stancemap/internal/xerrors"
)

func newTestLogger(t *testing.T, lvl slog.Level) (Logger, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	l, err := New(Options{
		App:               "stancemap",
		Version:           "test",
		Level:             lvl,
		JsonFormat:        true,
		IncludeErrorLinks: true,
		Writer:            &buf,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return l, &buf
}

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	line := strings.TrimSpace(buf.String())
	if line == "" {
		t.Fatal("no log output")
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(line), &m); err != nil {
		t.Fatalf("decode %q: %v", line, err)
	}
	return m
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
		ok   bool
	}{
		{"debug", slog.LevelDebug, true},
		{" INFO ", slog.LevelInfo, true},
		{"warn", slog.LevelWarn, true},
		{"Warning", slog.LevelWarn, true},
		{"error", slog.LevelError, true},
		{"verbose", 0, false},
		{"", 0, false},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if tt.ok && (err != nil || got != tt.want) {
			t.Errorf("ParseLevel(%q) = %v, %v; want %v", tt.in, got, err, tt.want)
		}
		if !tt.ok && err == nil {
			t.Errorf("ParseLevel(%q) should fail", tt.in)
		}
	}
}

func TestInfo_WritesBaseAndCallAttrs(t *testing.T) {
	l, buf := newTestLogger(t, slog.LevelInfo)
	l.With("component", "api").Info(context.Background(), "vote accepted", "room_id", "default")

	m := decodeLine(t, buf)
	if m["msg"] != "vote accepted" {
		t.Errorf("msg = %v", m["msg"])
	}
	for k, want := range map[string]string{"app": "stancemap", "version": "test", "component": "api", "room_id": "default"} {
		if m[k] != want {
			t.Errorf("%s = %v, want %q", k, m[k], want)
		}
	}
}

func TestLevelFiltering(t *testing.T) {
	l, buf := newTestLogger(t, slog.LevelWarn)
	l.Info(context.Background(), "hidden")
	l.Debug(context.Background(), "hidden")
	if buf.Len() != 0 {
		t.Fatalf("expected no output below warn, got %q", buf.String())
	}
	l.Warn(context.Background(), "shown")
	if !strings.Contains(buf.String(), "shown") {
		t.Fatal("warn should be written")
	}
}

func TestError_AddsErrorFieldsAndStack(t *testing.T) {
	l, buf := newTestLogger(t, slog.LevelInfo)
	err := xerrors.Wrap(xerrors.New("connection refused"), "ping redis")
	l.Error(context.Background(), err, "readiness failed")

	m := decodeLine(t, buf)
	if m["err"] != "ping redis: connection refused" {
		t.Errorf("err = %v", m["err"])
	}
	if _, ok := m["stack"]; !ok {
		t.Error("error records should carry a stack")
	}
	if _, ok := m["error_links"]; !ok {
		t.Error("error_links should be present when enabled")
	}
	chain, ok := m["error_chain"].([]any)
	if !ok || len(chain) < 2 {
		t.Errorf("error_chain = %v", m["error_chain"])
	}
}

func TestWith_DoesNotMutateParent(t *testing.T) {
	l, buf := newTestLogger(t, slog.LevelInfo)
	_ = l.With("child", true)
	l.Info(context.Background(), "parent")

	if strings.Contains(buf.String(), "child") {
		t.Fatal("With must not leak attrs into the parent logger")
	}
}

func TestContext_RoundTripAndFallback(t *testing.T) {
	l, _ := newTestLogger(t, slog.LevelInfo)
	ctx := WithContext(context.Background(), l)
	if FromContext(ctx) != l {
		t.Fatal("FromContext should return the stored logger")
	}

	fallback := FromContext(context.Background())
	fallback.Error(context.Background(), fmt.Errorf("x"), "safe")
	if err := fallback.Sync(); err != nil {
		t.Fatalf("Sync: %v", err)
	}
}

func TestClassifyTypes_SkipsWrappers(t *testing.T) {
	base := &customErr{}
	err := xerrors.Wrap(fmt.Errorf("outer: %w", base), "top")
	surface, root := classifyTypes(err)
	if surface != "*log.customErr" {
		t.Errorf("surface = %q", surface)
	}
	if root != "*log.customErr" {
		t.Errorf("root = %q", root)
	}
}

func TestErrorChain_Join(t *testing.T) {
	err := errors.Join(errors.New("a"), errors.New("b"))
	chain := errorChain(err)
	if len(chain) < 2 {
		t.Fatalf("chain = %v", chain)
	}
}

type customErr struct{}

func (*customErr) Error() string { return "custom" }
