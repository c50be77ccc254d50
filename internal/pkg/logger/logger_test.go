package logger

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestLoggerWritesFieldsInKeyOrder(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, true)

	log.Info("session connected", map[string]interface{}{"session": "abc", "host": "web"})

	out := buf.String()
	if !strings.Contains(out, "session connected") {
		t.Fatalf("expected message in output, got %q", out)
	}
	hostIdx := strings.Index(out, "host=web")
	sessionIdx := strings.Index(out, "session=abc")
	if hostIdx < 0 || sessionIdx < 0 || hostIdx > sessionIdx {
		t.Fatalf("expected sorted key/value pairs, got %q", out)
	}
}

func TestLoggerQuietBelowWarnUnlessVerbose(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, false)

	log.Debug("probe", nil)
	log.Info("connected", nil)
	if buf.Len() != 0 {
		t.Fatalf("expected no output below warn, got %q", buf.String())
	}

	log.Error("teardown failed", errors.New("eof"), nil)
	if !strings.Contains(buf.String(), "eof") {
		t.Fatalf("expected error in output, got %q", buf.String())
	}
}
