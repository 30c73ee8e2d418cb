// Package ratelimit bounds repeated authentication failures. Per-user state
// lives on the user row itself: an attempt counter, the last failure
// timestamp, and a lockout clock. Every check re-reads the row; correctness
// under concurrency relies on the store's per-row atomicity.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/opsboard/opsboard/internal/models"
	"gorm.io/gorm"
)

// ErrUserNotFound indicates rate limit state was requested for an unknown user.
var ErrUserNotFound = errors.New("rate limit: user not found")

// Config names one rate limiting policy.
type Config struct {
	MaxAttempts     int
	Window          time.Duration
	LockoutDuration time.Duration
}

// TwoFactorRateLimit bounds 2FA verification attempts.
var TwoFactorRateLimit = Config{
	MaxAttempts:     5,
	Window:          15 * time.Minute,
	LockoutDuration: 15 * time.Minute,
}

// AccountLockoutConfig is the stricter policy reserved for persistent
// login failures. Defined as available policy; not wired to a call site.
var AccountLockoutConfig = Config{
	MaxAttempts:     3,
	Window:          time.Hour,
	LockoutDuration: 15 * time.Minute,
}

// Result describes the outcome of a rate limit decision.
type Result struct {
	Allowed     bool
	Remaining   int
	IsLocked    bool
	LockedUntil *time.Time
	ResetAt     time.Time
}

// Limiter tracks failed-attempt counters and lockout windows per user.
type Limiter struct {
	db *gorm.DB
}

// NewLimiter constructs a Limiter.
func NewLimiter(db *gorm.DB) *Limiter {
	return &Limiter{db: db}
}

// Check decides whether the user may attempt right now. A live lockout
// denies immediately; an expired lockout is lazily cleared; a stale window
// restores the full budget. Check never writes a lockout itself;
// RecordFailure is the only writer of locked_until.
func (l *Limiter) Check(ctx context.Context, userID uint64, cfg Config) (Result, error) {
	user, errLoad := l.loadUser(ctx, userID)
	if errLoad != nil {
		return Result{}, errLoad
	}

	now := time.Now().UTC()

	if user.LockedUntil != nil {
		if user.LockedUntil.After(now) {
			return Result{
				Allowed:     false,
				Remaining:   0,
				IsLocked:    true,
				LockedUntil: user.LockedUntil,
				ResetAt:     *user.LockedUntil,
			}, nil
		}
		// Lockout expired; clear it and start fresh.
		if errClear := l.clearState(ctx, userID); errClear != nil {
			return Result{}, errClear
		}
		return Result{Allowed: true, Remaining: cfg.MaxAttempts, ResetAt: now.Add(cfg.Window)}, nil
	}

	windowStart := now.Add(-cfg.Window)
	if user.LastFailedAttempt == nil || user.LastFailedAttempt.Before(windowStart) {
		if user.LoginAttempts != 0 {
			if errClear := l.clearState(ctx, userID); errClear != nil {
				return Result{}, errClear
			}
		}
		return Result{Allowed: true, Remaining: cfg.MaxAttempts, ResetAt: now.Add(cfg.Window)}, nil
	}

	remaining := cfg.MaxAttempts - user.LoginAttempts
	if remaining <= 0 {
		return Result{
			Allowed:   false,
			Remaining: 0,
			ResetAt:   user.LastFailedAttempt.Add(cfg.Window),
		}, nil
	}

	return Result{
		Allowed:   true,
		Remaining: remaining,
		ResetAt:   user.LastFailedAttempt.Add(cfg.Window),
	}, nil
}

// RecordFailure counts one failed attempt, resetting the counter when the
// previous failure predates the window. Reaching the threshold sets the
// lockout clock and denies.
func (l *Limiter) RecordFailure(ctx context.Context, userID uint64, cfg Config) (Result, error) {
	user, errLoad := l.loadUser(ctx, userID)
	if errLoad != nil {
		return Result{}, errLoad
	}

	now := time.Now().UTC()
	windowStart := now.Add(-cfg.Window)

	newAttempts := user.LoginAttempts + 1
	if user.LastFailedAttempt == nil || user.LastFailedAttempt.Before(windowStart) {
		newAttempts = 1
	}

	if newAttempts >= cfg.MaxAttempts {
		lockedUntil := now.Add(cfg.LockoutDuration)
		if errSave := l.db.WithContext(ctx).Model(&models.User{}).
			Where("id = ?", userID).
			Updates(map[string]any{
				"login_attempts":      newAttempts,
				"last_failed_attempt": &now,
				"locked_until":        &lockedUntil,
				"updated_at":          now,
			}).Error; errSave != nil {
			return Result{}, fmt.Errorf("rate limit: record failure: %w", errSave)
		}
		return Result{
			Allowed:     false,
			Remaining:   0,
			IsLocked:    true,
			LockedUntil: &lockedUntil,
			ResetAt:     lockedUntil,
		}, nil
	}

	if errSave := l.db.WithContext(ctx).Model(&models.User{}).
		Where("id = ?", userID).
		Updates(map[string]any{
			"login_attempts":      newAttempts,
			"last_failed_attempt": &now,
			"updated_at":          now,
		}).Error; errSave != nil {
		return Result{}, fmt.Errorf("rate limit: record failure: %w", errSave)
	}

	return Result{
		Allowed:   true,
		Remaining: cfg.MaxAttempts - newAttempts,
		ResetAt:   now.Add(cfg.Window),
	}, nil
}

// Reset clears the counter, failure timestamp and any lockout. Called on
// every successful verification.
func (l *Limiter) Reset(ctx context.Context, userID uint64) error {
	return l.clearState(ctx, userID)
}

func (l *Limiter) loadUser(ctx context.Context, userID uint64) (*models.User, error) {
	var user models.User
	errFind := l.db.WithContext(ctx).
		Select("id", "login_attempts", "last_failed_attempt", "locked_until").
		First(&user, userID).Error
	if errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("rate limit: load user: %w", errFind)
	}
	return &user, nil
}

func (l *Limiter) clearState(ctx context.Context, userID uint64) error {
	if errSave := l.db.WithContext(ctx).Model(&models.User{}).
		Where("id = ?", userID).
		Updates(map[string]any{
			"login_attempts":      0,
			"last_failed_attempt": nil,
			"locked_until":        nil,
			"updated_at":          time.Now().UTC(),
		}).Error; errSave != nil {
		return fmt.Errorf("rate limit: clear state: %w", errSave)
	}
	return nil
}

// ErrorMessage renders a client-facing description of a denied result. It
// is a derived view, never authoritative state.
func ErrorMessage(result Result) string {
	if result.IsLocked && result.LockedUntil != nil {
		minutes := int(math.Ceil(time.Until(*result.LockedUntil).Minutes()))
		if minutes < 1 {
			minutes = 1
		}
		return fmt.Sprintf("Account locked due to too many failed attempts. Please try again in %d %s.", minutes, pluralMinutes(minutes))
	}
	if result.Remaining == 0 {
		return "Too many failed attempts. Please try again later."
	}
	return fmt.Sprintf("Invalid code. %d %s remaining before account lockout.", result.Remaining, pluralAttempts(result.Remaining))
}

func pluralMinutes(n int) string {
	if n == 1 {
		return "minute"
	}
	return "minutes"
}

func pluralAttempts(n int) string {
	if n == 1 {
		return "attempt"
	}
	return "attempts"
}
