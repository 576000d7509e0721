package server

import (
	"context"
	"testing"
	"time"

	"github.com/FleetRentDesk/FleetRentDesk/internal/common/auth"
	"github.com/FleetRentDesk/FleetRentDesk/internal/common/config"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
)

func TestUnaryJWTAuthInterceptorAndRBAC(t *testing.T) {
	authCfg := config.AuthConfig{
		Enabled:   true,
		JWTSecret: "test-secret",
		Issuer:    "fleetrentdesk",
		Audience:  "fleetrentdesk",
		RBAC: map[string][]string{
			"/backoffice.Fleet/DeleteEntity": {"admin"},
		},
	}

	chain := UnaryChain(
		UnaryJWTAuthInterceptor(authCfg, nil),
		UnaryRBACInterceptor(authCfg),
	)
	info := &grpc.UnaryServerInfo{FullMethod: "/backoffice.Fleet/DeleteEntity"}

	ctxWithToken := func(roles []string) context.Context {
		token, _, err := auth.GenerateAccessToken(authCfg, "u-1", roles, time.Hour)
		if err != nil {
			t.Fatalf("GenerateAccessToken: %v", err)
		}
		return metadata.NewIncomingContext(context.Background(),
			metadata.Pairs("authorization", "Bearer "+token))
	}

	// admin 角色放行，且鉴权信息注入 ctx
	_, err := chain(ctxWithToken([]string{"renter", "admin"}), nil, info, func(ctx context.Context, req any) (any, error) {
		ai, ok := AuthFromContext(ctx)
		if !ok {
			t.Fatalf("missing auth info in ctx")
		}
		if ai.Subject != "u-1" {
			t.Fatalf("subject mismatch: %s", ai.Subject)
		}
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("expected allow, got err=%v", err)
	}

	// 只有 renter 角色，应被 RBAC 拒绝
	_, err = chain(ctxWithToken([]string{"renter"}), nil, info, func(ctx context.Context, req any) (any, error) {
		return "ok", nil
	})
	if err == nil {
		t.Fatalf("expected permission denied, got nil")
	}

	// 没有 token，应被鉴权拦截
	_, err = chain(context.Background(), nil, info, func(ctx context.Context, req any) (any, error) {
		return "ok", nil
	})
	if err == nil {
		t.Fatalf("expected unauthenticated, got nil")
	}
}
