package user

import "testing"

func TestPasswordHashAndVerify(t *testing.T) {
	salt, err := GenerateSaltHex()
	if err != nil {
		t.Fatalf("GenerateSaltHex: %v", err)
	}
	hash, err := HashPassword("p@ssw0rd", salt)
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if hash == "" {
		t.Fatalf("expected non-empty hash")
	}

	// 同 salt 同口令必须可复现
	again, err := HashPassword("p@ssw0rd", salt)
	if err != nil || again != hash {
		t.Fatalf("hash not deterministic: %q vs %q (err=%v)", hash, again, err)
	}

	if !VerifyPassword("p@ssw0rd", salt, hash) {
		t.Fatalf("expected verify ok")
	}
	if VerifyPassword("wrong", salt, hash) {
		t.Fatalf("expected verify fail for wrong password")
	}
	if VerifyPassword("p@ssw0rd", salt, hash+"00") {
		t.Fatalf("expected verify fail for tampered hash")
	}
}

func TestGenerateSaltHexUnique(t *testing.T) {
	a, err := GenerateSaltHex()
	if err != nil {
		t.Fatalf("GenerateSaltHex: %v", err)
	}
	b, err := GenerateSaltHex()
	if err != nil {
		t.Fatalf("GenerateSaltHex: %v", err)
	}
	if a == b {
		t.Fatalf("expected distinct salts")
	}
}

func TestHashPasswordRejectsBadInput(t *testing.T) {
	if _, err := HashPassword("", "abcd"); err == nil {
		t.Fatalf("expected error for empty password")
	}
	if _, err := HashPassword("x", "not-hex!"); err == nil {
		t.Fatalf("expected error for invalid salt")
	}
}
