package internal

import "testing"

func TestNewOTP(t *testing.T) {
	for i := 0; i < 50; i++ {
		code, err := NewOTP(6)
		if err != nil {
			t.Fatalf("NewOTP: %v", err)
		}
		if len(code) != 6 {
			t.Fatalf("expected 6 digits, got %q", code)
		}
		for _, c := range code {
			if c < '0' || c > '9' {
				t.Fatalf("non-digit in %q", code)
			}
		}
	}
	if _, err := NewOTP(4); err == nil {
		t.Fatal("expected short otp to be rejected")
	}
}

func TestEqualCode(t *testing.T) {
	if !EqualCode("123456", "123456") {
		t.Fatal("expected equal codes to match")
	}
	if EqualCode("123456", "123457") || EqualCode("123456", "12345") {
		t.Fatal("expected different codes not to match")
	}
}
