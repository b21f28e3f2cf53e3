package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	authdomain "github.com/reelay/reelay/internal/auth/domain"
	"github.com/reelay/reelay/internal/auth/repository"
	"github.com/reelay/reelay/internal/clock"
	"github.com/reelay/reelay/pkg/db"
	"go.uber.org/zap"
)

func newTestService(t *testing.T) (authdomain.Service, *clock.FakeClock) {
	t.Helper()

	dbConn := db.NewTest()
	if err := dbConn.AutoMigrate(&authdomain.User{}, &authdomain.Session{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	repo, sessionRepo := repository.New(dbConn)
	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("failed to create snowflake node: %v", err)
	}

	clk := clock.NewFakeClock(time.Date(2025, time.March, 1, 12, 0, 0, 0, time.UTC))
	return New(zap.NewNop(), repo, sessionRepo, node, clk), clk
}

func TestRegisterAndLogin(t *testing.T) {
	svc, clk := newTestService(t)

	user, err := svc.Register(context.Background(), authdomain.RegisterRequest{
		Email:    "Alice@Example.com",
		Password: "correct-password",
	})
	if err != nil {
		t.Fatalf("failed to register: %v", err)
	}
	if user.Email != "alice@example.com" {
		t.Fatalf("expected normalized email, got %s", user.Email)
	}
	if user.DisplayName != "alice" {
		t.Fatalf("expected derived display name, got %s", user.DisplayName)
	}

	result, err := svc.Login(context.Background(), authdomain.LoginRequest{
		Email:    "alice@example.com",
		Password: "correct-password",
	})
	if err != nil {
		t.Fatalf("failed to login: %v", err)
	}
	if result.RawToken == "" {
		t.Fatal("expected session token")
	}
	wantExpiry := clk.Now().Add(30 * 24 * time.Hour)
	if !result.ExpiresAt.Equal(wantExpiry) {
		t.Fatalf("expected expiry %v, got %v", wantExpiry, result.ExpiresAt)
	}
}

func TestLoginWrongPassword(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.Register(context.Background(), authdomain.RegisterRequest{
		Email:    "alice@example.com",
		Password: "correct-password",
	})
	if err != nil {
		t.Fatalf("failed to register: %v", err)
	}

	_, err = svc.Login(context.Background(), authdomain.LoginRequest{
		Email:    "alice@example.com",
		Password: "wrong-password",
	})
	if !errors.Is(err, authdomain.ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestRegisterDuplicateEmail(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.Register(context.Background(), authdomain.RegisterRequest{
		Email:    "bob@example.com",
		Password: "strong-password",
	})
	if err != nil {
		t.Fatalf("failed to register: %v", err)
	}

	_, err = svc.Register(context.Background(), authdomain.RegisterRequest{
		Email:    "BOB@example.com",
		Password: "another-password",
	})
	if !errors.Is(err, authdomain.ErrUserExists) {
		t.Fatalf("expected ErrUserExists, got %v", err)
	}
}

func TestRegisterRejectsShortPassword(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.Register(context.Background(), authdomain.RegisterRequest{
		Email:    "carol@example.com",
		Password: "short",
	})
	if !errors.Is(err, authdomain.ErrWeakPassword) {
		t.Fatalf("expected ErrWeakPassword, got %v", err)
	}
}

func TestRegisterRejectsBadEmail(t *testing.T) {
	svc, _ := newTestService(t)

	for _, email := range []string{"", "not-an-email", "@example.com"} {
		_, err := svc.Register(context.Background(), authdomain.RegisterRequest{
			Email:    email,
			Password: "strong-password",
		})
		if !errors.Is(err, authdomain.ErrInvalidEmail) {
			t.Fatalf("email %q: expected ErrInvalidEmail, got %v", email, err)
		}
	}
}

func TestAuthenticateLifecycle(t *testing.T) {
	svc, _ := newTestService(t)

	user, err := svc.Register(context.Background(), authdomain.RegisterRequest{
		Email:    "dave@example.com",
		Password: "strong-password",
	})
	if err != nil {
		t.Fatalf("failed to register: %v", err)
	}

	result, err := svc.Login(context.Background(), authdomain.LoginRequest{
		Email:    "dave@example.com",
		Password: "strong-password",
	})
	if err != nil {
		t.Fatalf("failed to login: %v", err)
	}

	session, err := svc.Authenticate(context.Background(), result.RawToken)
	if err != nil {
		t.Fatalf("failed to authenticate: %v", err)
	}
	if session.UserID != user.ID {
		t.Fatalf("expected session for user %v, got %v", user.ID, session.UserID)
	}

	if _, err := svc.Authenticate(context.Background(), "not-a-token"); !errors.Is(err, authdomain.ErrInvalidSession) {
		t.Fatalf("expected ErrInvalidSession, got %v", err)
	}

	if err := svc.Logout(context.Background(), result.RawToken); err != nil {
		t.Fatalf("failed to logout: %v", err)
	}
	if _, err := svc.Authenticate(context.Background(), result.RawToken); !errors.Is(err, authdomain.ErrSessionRevoked) {
		t.Fatalf("expected ErrSessionRevoked, got %v", err)
	}
}

func TestAuthenticateExpiredSession(t *testing.T) {
	svc, clk := newTestService(t)

	_, err := svc.Register(context.Background(), authdomain.RegisterRequest{
		Email:    "erin@example.com",
		Password: "strong-password",
	})
	if err != nil {
		t.Fatalf("failed to register: %v", err)
	}

	result, err := svc.Login(context.Background(), authdomain.LoginRequest{
		Email:    "erin@example.com",
		Password: "strong-password",
	})
	if err != nil {
		t.Fatalf("failed to login: %v", err)
	}

	clk.Advance(31 * 24 * time.Hour)

	_, err = svc.Authenticate(context.Background(), result.RawToken)
	if !errors.Is(err, authdomain.ErrSessionExpired) {
		t.Fatalf("expected ErrSessionExpired, got %v", err)
	}
}
