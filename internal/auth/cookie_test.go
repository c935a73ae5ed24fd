package auth

import (
	"strings"
	"testing"
)

func TestCookieSigner_SignAndVerify(t *testing.T) {
	s := NewCookieSigner("secret")

	signed := s.Sign("session-123")
	if !strings.HasPrefix(signed, "session-123.") {
		t.Errorf("signed = %q, want prefix %q", signed, "session-123.")
	}

	value, ok := s.Verify(signed)
	if !ok {
		t.Fatal("expected signature to verify")
	}
	if value != "session-123" {
		t.Errorf("value = %q, want %q", value, "session-123")
	}
}

func TestCookieSigner_Verify_Rejects(t *testing.T) {
	s := NewCookieSigner("secret")
	signed := s.Sign("session-123")

	tests := []struct {
		name  string
		input string
	}{
		{"空文字", ""},
		{"署名なし", "session-123"},
		{"値の改ざん", "session-124" + signed[len("session-123"):]},
		{"署名の改ざん", signed[:len(signed)-2] + "xx"},
		{"別の秘密鍵", NewCookieSigner("other").Sign("session-123")},
		{"base64不正", "session-123.!!!"},
		{"値が空", "." + strings.SplitN(signed, ".", 2)[1]},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, ok := s.Verify(tt.input); ok {
				t.Errorf("Verify(%q) should fail", tt.input)
			}
		})
	}
}

func TestGenerateRandomHex_Unique(t *testing.T) {
	a, err := generateRandomHex(32)
	if err != nil {
		t.Fatal(err)
	}
	b, _ := generateRandomHex(32)

	if len(a) != 64 {
		t.Errorf("len = %d, want 64", len(a))
	}
	if a == b {
		t.Error("expected distinct values")
	}
}
