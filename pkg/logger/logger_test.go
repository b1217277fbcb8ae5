package logger

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestInitAcceptsInvalidLevel(t *testing.T) {
	Init(Config{Level: "nonsense", Format: "json", TimeFormat: time.RFC3339})

	if Log.GetLevel() != zerolog.InfoLevel {
		t.Errorf("expected fallback level info, got %s", Log.GetLevel())
	}
}

func TestFromContextCarriesIDs(t *testing.T) {
	var buf bytes.Buffer
	orig := Log
	Log = zerolog.New(&buf)
	defer func() { Log = orig }()

	ctx := WithRequestID(context.Background(), "req-42")
	ctx = WithAuctionID(ctx, "auc-7")
	lg1 := FromContext(ctx)
	lg1.Info().Msg("annotated")

	out := buf.String()
	if !strings.Contains(out, `"request_id":"req-42"`) {
		t.Errorf("request_id missing from output: %s", out)
	}
	if !strings.Contains(out, `"auction_id":"auc-7"`) {
		t.Errorf("auction_id missing from output: %s", out)
	}
}

func TestFromContextWithoutIDs(t *testing.T) {
	var buf bytes.Buffer
	orig := Log
	Log = zerolog.New(&buf)
	defer func() { Log = orig }()

	lg2 := FromContext(context.Background())
	lg2.Info().Msg("bare")

	if strings.Contains(buf.String(), "request_id") {
		t.Errorf("unexpected request_id on bare context: %s", buf.String())
	}
}

func TestComponentLoggers(t *testing.T) {
	var buf bytes.Buffer
	orig := Log
	Log = zerolog.New(&buf)
	defer func() { Log = orig }()

	lg2 := Fraud()
	lg2.Info().Msg("signal")

	if !strings.Contains(buf.String(), `"component":"fraud"`) {
		t.Errorf("component field missing: %s", buf.String())
	}
}
