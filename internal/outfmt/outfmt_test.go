package outfmt

import (
	"bytes"
	"context"
	"strings"
	"testing"
)

func TestFromContextDefaultsToText(t *testing.T) {
	if got := FromContext(context.Background()); got != ModeText {
		t.Errorf("expected %q, got %q", ModeText, got)
	}
}

func TestWithModeRoundTrip(t *testing.T) {
	ctx := WithMode(context.Background(), ModeJSON)
	if !IsJSON(ctx) {
		t.Error("expected IsJSON to be true")
	}
	if got := FromContext(ctx); got != ModeJSON {
		t.Errorf("expected %q, got %q", ModeJSON, got)
	}
}

func TestWriteJSON(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteJSON(&buf, map[string]string{"album": "Family"}); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}
	if !strings.Contains(buf.String(), `"album": "Family"`) {
		t.Errorf("unexpected output: %s", buf.String())
	}
}
