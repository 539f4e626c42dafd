package cip

import "testing"

func TestStatusName(t *testing.T) {
	tests := []struct {
		code     byte
		expected string
	}{
		{0x00, "Success"},
		{0x01, "Connection failure"},
		{0x04, "Path segment error"},
		{0x05, "Path destination unknown"},
		{0x06, "Partial transfer"},
		{0x07, "Connection lost"},
		{0x08, "Service not supported"},
		{0x09, "Invalid Attribute"},
		{0x11, "Reply data too large"},
		{0x16, "Object does not exist"},
		{0x1E, "Embedded service error"},
		{0x20, "Invalid Parameter"},
		{0x26, "Path size invalid"},
		{0x2C, "Attribute not gettable"},
		{0x2D, "Unknown error 45"},
		{0xFF, "Unknown error 255"},
	}

	for _, tc := range tests {
		if got := StatusName(tc.code); got != tc.expected {
			t.Errorf("StatusName(0x%02X) = %q, want %q", tc.code, got, tc.expected)
		}
	}
}

func TestStatusText(t *testing.T) {
	// Extended status appended when present and nonzero.
	got := StatusText(0xFF, []byte{0x04, 0x21})
	want := "Unknown error 255 (Tag not found)"
	if got != want {
		t.Errorf("StatusText = %q, want %q", got, want)
	}

	// Success never carries extended status text.
	if got := StatusText(0x00, []byte{0x04, 0x21}); got != "Success" {
		t.Errorf("StatusText success = %q", got)
	}

	// Zero extended status word is ignored.
	if got := StatusText(0x05, []byte{0x00, 0x00}); got != "Path destination unknown" {
		t.Errorf("StatusText zero ext = %q", got)
	}
}

func TestExtendedStatusName(t *testing.T) {
	if got := ExtendedStatusName(0x2105); got != "Tag read only" {
		t.Errorf("ExtendedStatusName(0x2105) = %q", got)
	}
	if got := ExtendedStatusName(0xBEEF); got != "Extended status 0xBEEF" {
		t.Errorf("ExtendedStatusName(0xBEEF) = %q", got)
	}
}
