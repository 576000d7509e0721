package auth

import (
	"testing"
	"time"

	"github.com/FleetRentDesk/FleetRentDesk/internal/common/config"
)

func TestGenerateAndParseAccessToken(t *testing.T) {
	cfg := config.AuthConfig{
		Enabled:   true,
		JWTSecret: "test-secret",
		Issuer:    "fleetrentdesk",
		Audience:  "fleetrentdesk",
	}

	token, exp, err := GenerateAccessToken(cfg, "u-1", []string{"renter", "admin"}, time.Hour)
	if err != nil {
		t.Fatalf("GenerateAccessToken: %v", err)
	}
	if token == "" {
		t.Fatalf("expected token")
	}
	if !exp.After(time.Now()) {
		t.Fatalf("expected exp in future, got %v", exp)
	}

	claims, err := ParseAccessToken(cfg, token)
	if err != nil {
		t.Fatalf("ParseAccessToken: %v", err)
	}
	if claims.Subject != "u-1" {
		t.Fatalf("subject mismatch: %s", claims.Subject)
	}
	if len(claims.Roles) != 2 || claims.Roles[0] != "renter" {
		t.Fatalf("roles mismatch: %#v", claims.Roles)
	}
}

func TestParseAccessTokenRejectsBadToken(t *testing.T) {
	cfg := config.AuthConfig{JWTSecret: "test-secret", Issuer: "fleetrentdesk"}

	token, _, err := GenerateAccessToken(cfg, "u-1", nil, time.Hour)
	if err != nil {
		t.Fatalf("GenerateAccessToken: %v", err)
	}

	// 换密钥签名视为无效
	if _, err := ParseAccessToken(config.AuthConfig{JWTSecret: "other", Issuer: "fleetrentdesk"}, token); err == nil {
		t.Fatalf("expected error for wrong secret")
	}
	// issuer 不匹配视为无效
	if _, err := ParseAccessToken(config.AuthConfig{JWTSecret: "test-secret", Issuer: "someone-else"}, token); err == nil {
		t.Fatalf("expected error for wrong issuer")
	}
	if _, err := ParseAccessToken(cfg, "not-a-token"); err == nil {
		t.Fatalf("expected error for garbage token")
	}
}

func TestGenerateAccessTokenValidation(t *testing.T) {
	if _, _, err := GenerateAccessToken(config.AuthConfig{JWTSecret: "s"}, "", nil, time.Hour); err == nil {
		t.Fatalf("expected error for empty subject")
	}
	if _, _, err := GenerateAccessToken(config.AuthConfig{}, "u-1", nil, time.Hour); err == nil {
		t.Fatalf("expected error for empty secret")
	}
}
