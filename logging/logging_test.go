package logging

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestHexDump(t *testing.T) {
	tests := []struct {
		name     string
		data     []byte
		expected string
	}{
		{"empty", nil, ""},
		{"single", []byte{0x6F}, "6F"},
		{"short", []byte{0x01, 0xAB, 0xFF}, "01 AB FF"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := HexDump(tc.data); got != tc.expected {
				t.Errorf("HexDump = %q, want %q", got, tc.expected)
			}
		})
	}

	// Groups of sixteen are separated.
	long := HexDump(make([]byte, 17))
	if !strings.Contains(long, " | ") {
		t.Errorf("HexDump(17 bytes) = %q, missing group separator", long)
	}
}

func TestDebugDisabledByDefault(t *testing.T) {
	var buf bytes.Buffer
	SetLogger(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	t.Cleanup(func() {
		SetDebug(false)
		SetLogger(nil)
	})

	Debugf("eip", "should not appear")
	if buf.Len() != 0 {
		t.Errorf("disabled logger produced output: %q", buf.String())
	}

	SetDebug(true)
	Debugf("eip", "hello %d", 7)
	TX("eip", []byte{0x01, 0x02})
	out := buf.String()
	if !strings.Contains(out, "hello 7") {
		t.Errorf("missing debug line: %q", out)
	}
	if !strings.Contains(out, "01 02") {
		t.Errorf("missing TX dump: %q", out)
	}
}
