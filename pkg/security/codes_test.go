package security

import "testing"

func TestGenerateVerificationCodeLength(t *testing.T) {
	code, err := GenerateVerificationCode(6)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(code) != 6 {
		t.Fatalf("expected 6 digits, got %q", code)
	}
	for _, r := range code {
		if r < '0' || r > '9' {
			t.Fatalf("expected numeric code, got %q", code)
		}
	}
}

func TestGenerateVerificationCodeDefaultsLength(t *testing.T) {
	code, err := GenerateVerificationCode(0)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(code) != DefaultCodeLength {
		t.Fatalf("expected default length %d, got %d", DefaultCodeLength, len(code))
	}
}

func TestGenerateVerificationCodeRejectsHugeLength(t *testing.T) {
	if _, err := GenerateVerificationCode(64); err == nil {
		t.Fatalf("expected error for oversized code length")
	}
}

func TestVerifyCode(t *testing.T) {
	if !VerifyCode("482913", "482913") {
		t.Fatalf("expected matching codes to verify")
	}
	if VerifyCode("482913", "482914") {
		t.Fatalf("expected mismatched codes to fail")
	}
	if VerifyCode("", "") {
		t.Fatalf("empty minted code must never verify")
	}
	if !VerifyCode("482913", " 482913 ") {
		t.Fatalf("expected surrounding whitespace to be ignored")
	}
}
