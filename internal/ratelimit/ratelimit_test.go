package ratelimit

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/opsboard/opsboard/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	conn, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := conn.AutoMigrate(&models.User{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return conn
}

func seedUser(t *testing.T, conn *gorm.DB) models.User {
	t.Helper()
	user := models.User{Email: "u@example.com", Name: "U", Password: "x", Active: true}
	if err := conn.Create(&user).Error; err != nil {
		t.Fatalf("seed user: %v", err)
	}
	return user
}

func TestCheck_UnknownUser(t *testing.T) {
	limiter := NewLimiter(openTestDB(t))
	if _, err := limiter.Check(context.Background(), 999, TwoFactorRateLimit); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}

func TestCheck_FreshUser(t *testing.T) {
	conn := openTestDB(t)
	user := seedUser(t, conn)
	limiter := NewLimiter(conn)

	result, err := limiter.Check(context.Background(), user.ID, TwoFactorRateLimit)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !result.Allowed || result.Remaining != TwoFactorRateLimit.MaxAttempts || result.IsLocked {
		t.Fatalf("expected full budget, got %+v", result)
	}
}

func TestLockoutTransition(t *testing.T) {
	conn := openTestDB(t)
	user := seedUser(t, conn)
	limiter := NewLimiter(conn)
	ctx := context.Background()

	// Four failures leave the user allowed with a shrinking budget.
	for i := 1; i <= 4; i++ {
		result, err := limiter.RecordFailure(ctx, user.ID, TwoFactorRateLimit)
		if err != nil {
			t.Fatalf("failure %d: %v", i, err)
		}
		if !result.Allowed || result.IsLocked {
			t.Fatalf("expected failure %d allowed, got %+v", i, result)
		}
		if result.Remaining != TwoFactorRateLimit.MaxAttempts-i {
			t.Fatalf("expected remaining %d after failure %d, got %d", TwoFactorRateLimit.MaxAttempts-i, i, result.Remaining)
		}
	}

	// The fifth failure locks, exactly.
	before := time.Now().UTC()
	result, err := limiter.RecordFailure(ctx, user.ID, TwoFactorRateLimit)
	if err != nil {
		t.Fatalf("fifth failure: %v", err)
	}
	if result.Allowed || !result.IsLocked || result.LockedUntil == nil {
		t.Fatalf("expected lock on fifth failure, got %+v", result)
	}
	wantUntil := before.Add(TwoFactorRateLimit.LockoutDuration)
	if result.LockedUntil.Before(wantUntil.Add(-2*time.Second)) || result.LockedUntil.After(wantUntil.Add(2*time.Second)) {
		t.Fatalf("expected lockedUntil near %s, got %s", wantUntil, result.LockedUntil)
	}
	firstLockedUntil := *result.LockedUntil

	// A check while locked is denied with the same lockedUntil.
	checked, err := limiter.Check(ctx, user.ID, TwoFactorRateLimit)
	if err != nil {
		t.Fatalf("check while locked: %v", err)
	}
	if checked.Allowed || !checked.IsLocked || checked.LockedUntil == nil {
		t.Fatalf("expected locked check, got %+v", checked)
	}
	if !checked.LockedUntil.Equal(firstLockedUntil) {
		t.Fatalf("expected lockedUntil unchanged, got %s != %s", checked.LockedUntil, firstLockedUntil)
	}
}

func TestCheck_ExpiredLockClears(t *testing.T) {
	conn := openTestDB(t)
	user := seedUser(t, conn)
	limiter := NewLimiter(conn)
	ctx := context.Background()

	past := time.Now().UTC().Add(-time.Second)
	lastFailed := time.Now().UTC().Add(-time.Minute)
	if err := conn.Model(&models.User{}).Where("id = ?", user.ID).Updates(map[string]any{
		"login_attempts":      5,
		"last_failed_attempt": &lastFailed,
		"locked_until":        &past,
	}).Error; err != nil {
		t.Fatalf("seed lock: %v", err)
	}

	result, err := limiter.Check(ctx, user.ID, TwoFactorRateLimit)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !result.Allowed || result.Remaining != TwoFactorRateLimit.MaxAttempts {
		t.Fatalf("expected fresh budget after lock expiry, got %+v", result)
	}

	var reloaded models.User
	if err := conn.First(&reloaded, user.ID).Error; err != nil {
		t.Fatalf("reload: %v", err)
	}
	if reloaded.LockedUntil != nil || reloaded.LoginAttempts != 0 || reloaded.LastFailedAttempt != nil {
		t.Fatalf("expected state cleared, got %+v", reloaded)
	}
}

func TestCheck_StaleWindowResets(t *testing.T) {
	conn := openTestDB(t)
	user := seedUser(t, conn)
	limiter := NewLimiter(conn)
	ctx := context.Background()

	stale := time.Now().UTC().Add(-TwoFactorRateLimit.Window - time.Minute)
	if err := conn.Model(&models.User{}).Where("id = ?", user.ID).Updates(map[string]any{
		"login_attempts":      4,
		"last_failed_attempt": &stale,
	}).Error; err != nil {
		t.Fatalf("seed attempts: %v", err)
	}

	result, err := limiter.Check(ctx, user.ID, TwoFactorRateLimit)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !result.Allowed || result.Remaining != TwoFactorRateLimit.MaxAttempts {
		t.Fatalf("expected window reset, got %+v", result)
	}

	// A failure after a stale window starts a new count at one.
	failure, err := limiter.RecordFailure(ctx, user.ID, TwoFactorRateLimit)
	if err != nil {
		t.Fatalf("record failure: %v", err)
	}
	if failure.Remaining != TwoFactorRateLimit.MaxAttempts-1 {
		t.Fatalf("expected remaining %d, got %d", TwoFactorRateLimit.MaxAttempts-1, failure.Remaining)
	}
}

func TestReset(t *testing.T) {
	conn := openTestDB(t)
	user := seedUser(t, conn)
	limiter := NewLimiter(conn)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if _, err := limiter.RecordFailure(ctx, user.ID, TwoFactorRateLimit); err != nil {
			t.Fatalf("failure: %v", err)
		}
	}
	if err := limiter.Reset(ctx, user.ID); err != nil {
		t.Fatalf("reset: %v", err)
	}

	result, err := limiter.Check(ctx, user.ID, TwoFactorRateLimit)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !result.Allowed || result.Remaining != TwoFactorRateLimit.MaxAttempts {
		t.Fatalf("expected full budget after reset, got %+v", result)
	}
}

func TestErrorMessage(t *testing.T) {
	until := time.Now().UTC().Add(10 * time.Minute)
	locked := Result{IsLocked: true, LockedUntil: &until}
	if msg := ErrorMessage(locked); !strings.Contains(msg, "minutes") || !strings.Contains(msg, "locked") {
		t.Fatalf("unexpected locked message: %q", msg)
	}

	oneMinute := time.Now().UTC().Add(30 * time.Second)
	lockedSoon := Result{IsLocked: true, LockedUntil: &oneMinute}
	if msg := ErrorMessage(lockedSoon); !strings.Contains(msg, "1 minute.") {
		t.Fatalf("expected singular minute, got %q", msg)
	}

	if msg := ErrorMessage(Result{Remaining: 0}); !strings.Contains(msg, "try again later") {
		t.Fatalf("unexpected exhausted message: %q", msg)
	}
	if msg := ErrorMessage(Result{Remaining: 1}); !strings.Contains(msg, "1 attempt remaining") {
		t.Fatalf("expected singular attempt, got %q", msg)
	}
	if msg := ErrorMessage(Result{Remaining: 3}); !strings.Contains(msg, "3 attempts remaining") {
		t.Fatalf("expected plural attempts, got %q", msg)
	}
}

func TestMemoryLimiter(t *testing.T) {
	limiter := NewMemoryLimiter()
	now := time.Unix(1700000000, 0)

	for i := 0; i < 3; i++ {
		if !limiter.Allow("10.0.0.1", 3, now) {
			t.Fatalf("expected request %d allowed", i+1)
		}
	}
	if limiter.Allow("10.0.0.1", 3, now) {
		t.Fatal("expected fourth request denied")
	}

	// Other keys have their own budgets.
	if !limiter.Allow("10.0.0.2", 3, now) {
		t.Fatal("expected distinct key allowed")
	}

	// The next second opens a new window.
	if !limiter.Allow("10.0.0.1", 3, now.Add(time.Second)) {
		t.Fatal("expected new window allowed")
	}

	// Zero limit disables throttling.
	if !limiter.Allow("10.0.0.1", 0, now) {
		t.Fatal("expected zero limit to allow")
	}
}
