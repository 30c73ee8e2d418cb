package twofactor

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/opsboard/opsboard/internal/models"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	conn, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := conn.AutoMigrate(&models.User{}, &models.TwoFactorAuth{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return conn
}

func codeAt(t *testing.T, secret string, at time.Time) string {
	t.Helper()
	code, err := totp.GenerateCodeCustom(secret, at, totp.ValidateOpts{
		Period:    30,
		Skew:      totpSkew,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	if err != nil {
		t.Fatalf("generate code: %v", err)
	}
	return code
}

func setupEnabled(t *testing.T, engine *Engine, userID uint64) *Setup {
	t.Helper()
	ctx := context.Background()
	setup, err := engine.Setup(ctx, userID, "user@example.com")
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	ok, err := engine.Enable(ctx, userID, codeAt(t, setup.Secret, time.Now().UTC()))
	if err != nil {
		t.Fatalf("enable: %v", err)
	}
	if !ok {
		t.Fatal("expected enable to succeed")
	}
	return setup
}

func TestSetup(t *testing.T) {
	engine := NewEngine(openTestDB(t))
	ctx := context.Background()

	setup, err := engine.Setup(ctx, 1, "user@example.com")
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	if setup.Secret == "" {
		t.Fatal("expected secret")
	}
	if !strings.Contains(setup.ProvisioningURI, "otpauth://totp/") {
		t.Fatalf("expected otpauth URI, got %q", setup.ProvisioningURI)
	}
	if !strings.Contains(setup.ProvisioningURI, Issuer) {
		t.Fatalf("expected issuer in URI, got %q", setup.ProvisioningURI)
	}
	if len(setup.BackupCodes) != 10 {
		t.Fatalf("expected 10 backup codes, got %d", len(setup.BackupCodes))
	}

	status, err := engine.Status(ctx, 1)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.Enabled {
		t.Fatal("expected provisioned record not enabled")
	}
	if status.BackupCodesRemaining != 10 {
		t.Fatalf("expected 10 remaining, got %d", status.BackupCodesRemaining)
	}

	// Re-provisioning before enablement rotates the secret.
	second, err := engine.Setup(ctx, 1, "user@example.com")
	if err != nil {
		t.Fatalf("second setup: %v", err)
	}
	if second.Secret == setup.Secret {
		t.Fatal("expected fresh secret on re-setup")
	}
}

func TestEnable(t *testing.T) {
	engine := NewEngine(openTestDB(t))
	ctx := context.Background()

	// No record yet.
	if _, err := engine.Enable(ctx, 1, "000000"); !errors.Is(err, ErrNotProvisioned) {
		t.Fatalf("expected ErrNotProvisioned, got %v", err)
	}

	setup, err := engine.Setup(ctx, 1, "user@example.com")
	if err != nil {
		t.Fatalf("setup: %v", err)
	}

	ok, err := engine.Enable(ctx, 1, "000000")
	if err != nil {
		t.Fatalf("enable: %v", err)
	}
	if ok {
		t.Fatal("expected wrong code rejected")
	}

	ok, err = engine.Enable(ctx, 1, codeAt(t, setup.Secret, time.Now().UTC()))
	if err != nil {
		t.Fatalf("enable: %v", err)
	}
	if !ok {
		t.Fatal("expected enable to succeed")
	}

	status, err := engine.Status(ctx, 1)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !status.Enabled {
		t.Fatal("expected record enabled")
	}

	// Already-enabled records cannot be re-provisioned in place.
	if _, err := engine.Setup(ctx, 1, "user@example.com"); !errors.Is(err, ErrAlreadyEnabled) {
		t.Fatalf("expected ErrAlreadyEnabled, got %v", err)
	}
}

func TestVerify_TOTPWindow(t *testing.T) {
	engine := NewEngine(openTestDB(t))
	ctx := context.Background()
	setup := setupEnabled(t, engine, 1)

	now := time.Now().UTC()
	for _, offset := range []time.Duration{0, -30 * time.Second, 30 * time.Second} {
		verification, err := engine.Verify(ctx, 1, codeAt(t, setup.Secret, now.Add(offset)))
		if err != nil {
			t.Fatalf("verify at offset %s: %v", offset, err)
		}
		if !verification.Valid {
			t.Fatalf("expected code at offset %s accepted", offset)
		}
		if verification.BackupCodeUsed {
			t.Fatalf("expected TOTP path at offset %s", offset)
		}
	}

	verification, err := engine.Verify(ctx, 1, codeAt(t, setup.Secret, now.Add(180*time.Second)))
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if verification.Valid {
		t.Fatal("expected code 180s ahead rejected")
	}
}

func TestVerify_BackupCodeSingleUse(t *testing.T) {
	engine := NewEngine(openTestDB(t))
	ctx := context.Background()
	setup := setupEnabled(t, engine, 1)

	code := setup.BackupCodes[3]
	verification, err := engine.Verify(ctx, 1, code)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !verification.Valid || !verification.BackupCodeUsed {
		t.Fatalf("expected backup code accepted and flagged, got %+v", verification)
	}

	status, err := engine.Status(ctx, 1)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.BackupCodesRemaining != 9 {
		t.Fatalf("expected 9 codes remaining, got %d", status.BackupCodesRemaining)
	}

	// Replay fails while the record stays enabled.
	verification, err = engine.Verify(ctx, 1, code)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if verification.Valid {
		t.Fatal("expected consumed backup code rejected")
	}
	if !status.Enabled {
		t.Fatal("expected 2fa still enabled")
	}

	// Backup codes are case-normalized on submission.
	lower := strings.ToLower(setup.BackupCodes[4])
	verification, err = engine.Verify(ctx, 1, lower)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !verification.Valid || !verification.BackupCodeUsed {
		t.Fatalf("expected lower-cased backup code accepted, got %+v", verification)
	}
}

func TestVerify_NoRecord(t *testing.T) {
	engine := NewEngine(openTestDB(t))
	verification, err := engine.Verify(context.Background(), 42, "123456")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if verification.Valid {
		t.Fatal("expected verification to fail without a record")
	}
}

func TestDisable(t *testing.T) {
	engine := NewEngine(openTestDB(t))
	ctx := context.Background()
	setupEnabled(t, engine, 1)

	existed, err := engine.Disable(ctx, 1)
	if err != nil {
		t.Fatalf("disable: %v", err)
	}
	if !existed {
		t.Fatal("expected a record to remove")
	}

	status, err := engine.Status(ctx, 1)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.Enabled || status.BackupCodesRemaining != 0 {
		t.Fatalf("expected empty state after disable, got %+v", status)
	}

	existed, err = engine.Disable(ctx, 1)
	if err != nil {
		t.Fatalf("disable: %v", err)
	}
	if existed {
		t.Fatal("expected second disable to find nothing")
	}
}

func TestRegenerateBackupCodes(t *testing.T) {
	engine := NewEngine(openTestDB(t))
	ctx := context.Background()
	setup := setupEnabled(t, engine, 1)

	codes, err := engine.RegenerateBackupCodes(ctx, 1)
	if err != nil {
		t.Fatalf("regenerate: %v", err)
	}
	if len(codes) != 10 {
		t.Fatalf("expected 10 codes, got %d", len(codes))
	}

	// Old codes are gone.
	verification, err := engine.Verify(ctx, 1, setup.BackupCodes[0])
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if verification.Valid {
		t.Fatal("expected old backup code rejected after regeneration")
	}

	if _, err := engine.RegenerateBackupCodes(ctx, 99); !errors.Is(err, ErrNotEnabled) {
		t.Fatalf("expected ErrNotEnabled, got %v", err)
	}
}
