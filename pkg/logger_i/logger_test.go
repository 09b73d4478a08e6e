package logger_i

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/akolanti/kbchat/internal/config"
	"github.com/akolanti/kbchat/internal/domain/commonModels"
)

func captureLogger(settings *config.Settings) (*Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	return &Logger{inner: slog.New(newHandler(&buf, settings))}, &buf
}

func TestWithTrace(t *testing.T) {
	ctx := context.WithValue(context.Background(), config.TRACE_ID_KEY, "trace-1")
	ctx = context.WithValue(ctx, config.CALLER_KEY, commonModels.Caller{UserId: "u-1", Email: "u1@example.com"})

	log, buf := captureLogger(&config.Settings{IsProd: true})
	log.WithTrace(ctx).Info("hello")

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("expected json output, got %q: %v", buf.String(), err)
	}
	if line["traceId"] != "trace-1" || line["userId"] != "u-1" {
		t.Errorf("missing request attributes: %v", line)
	}
	if strings.Contains(buf.String(), "u1@example.com") {
		t.Error("email leaked into logs")
	}
}

func TestWithTrace_EmptyContext(t *testing.T) {
	log, _ := captureLogger(&config.Settings{})
	if log.WithTrace(context.Background()) != log {
		t.Error("expected the same logger when ctx carries nothing")
	}
	if log.WithTrace(context.WithValue(context.Background(), config.CALLER_KEY, commonModels.Caller{})) != log {
		t.Error("anonymous caller should add nothing")
	}
}

func TestLevels(t *testing.T) {
	tests := []struct {
		name      string
		settings  config.Settings
		wantDebug bool
	}{
		{"dev default hides debug", config.Settings{}, false},
		{"dev debug flag", config.Settings{LogDebug: true}, true},
		{"prod ignores debug flag", config.Settings{IsProd: true, LogDebug: true}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			log, buf := captureLogger(&tt.settings)
			log.Debug("verbose detail")
			if got := strings.Contains(buf.String(), "verbose detail"); got != tt.wantDebug {
				t.Errorf("debug logged = %v, want %v", got, tt.wantDebug)
			}
		})
	}
}
