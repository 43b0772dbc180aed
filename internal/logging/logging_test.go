// ABOUTME: Tests for logger construction
// ABOUTME: Verifies level parsing and component tagging
package logging

import (
	"bytes"
	"strings"
	"testing"

	"github.com/charmbracelet/log"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		name      string
		want      log.Level
		expectErr bool
	}{
		{name: "", want: log.InfoLevel},
		{name: "debug", want: log.DebugLevel},
		{name: "warn", want: log.WarnLevel},
		{name: "chatty", want: log.InfoLevel, expectErr: true},
	}

	for _, tt := range tests {
		got, err := ParseLevel(tt.name)
		if tt.expectErr != (err != nil) {
			t.Errorf("ParseLevel(%q): unexpected error state: %v", tt.name, err)
		}
		if got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestComponentTagsEntries(t *testing.T) {
	var buf bytes.Buffer
	l := Component(New(&buf, log.InfoLevel), "sampler")
	l.Info("started")

	out := buf.String()
	if !strings.Contains(out, "component=sampler") {
		t.Errorf("expected component tag in %q", out)
	}
	if !strings.Contains(out, "started") {
		t.Errorf("expected message in %q", out)
	}
}

func TestNewRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, log.WarnLevel)
	l.Info("hidden")
	if buf.Len() != 0 {
		t.Errorf("expected info to be filtered, got %q", buf.String())
	}
}
