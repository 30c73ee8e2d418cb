// Package security holds the credential primitives shared by the auth
// surfaces: password hashing, API key generation and hashing, session token
// signing, and random token generation.
package security

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// APIKeyPrefix tags API key plaintexts so they are recognizable at a glance
// and never confused with session tokens.
const APIKeyPrefix = "sk_"

// apiKeySecretBytes is the entropy of a generated API key secret.
const apiKeySecretBytes = 32

// inviteTokenBytes is the entropy of an organization invite token.
const inviteTokenBytes = 32

// backupCodeLength is the length of a single backup code.
const backupCodeLength = 8

// backupCodeAlphabet excludes ambiguous characters (0/O, 1/I/L).
const backupCodeAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

// HashPassword hashes a plaintext password with bcrypt.
func HashPassword(password string) (string, error) {
	hash, errHash := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if errHash != nil {
		return "", fmt.Errorf("hash password: %w", errHash)
	}
	return string(hash), nil
}

// CheckPassword reports whether the plaintext matches the stored hash.
func CheckPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// GenerateAPIKey produces a new API key plaintext: the fixed prefix plus
// 256 bits of hex-encoded entropy.
func GenerateAPIKey() (string, error) {
	buf := make([]byte, apiKeySecretBytes)
	if _, errRead := rand.Read(buf); errRead != nil {
		return "", fmt.Errorf("generate api key: %w", errRead)
	}
	return APIKeyPrefix + hex.EncodeToString(buf), nil
}

// HashAPIKey digests an API key plaintext for storage and lookup. Keys are
// located by hash equality, never by plaintext comparison.
func HashAPIKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// HasAPIKeyPrefix reports whether the value looks like an API key plaintext.
func HasAPIKeyPrefix(key string) bool {
	return strings.HasPrefix(key, APIKeyPrefix)
}

// GenerateInviteToken produces a single-use organization invite token.
func GenerateInviteToken() (string, error) {
	buf := make([]byte, inviteTokenBytes)
	if _, errRead := rand.Read(buf); errRead != nil {
		return "", fmt.Errorf("generate invite token: %w", errRead)
	}
	return hex.EncodeToString(buf), nil
}

// GenerateBackupCodes produces n fixed-length upper-case backup codes.
func GenerateBackupCodes(n int) ([]string, error) {
	codes := make([]string, 0, n)
	for i := 0; i < n; i++ {
		code, errCode := generateBackupCode()
		if errCode != nil {
			return nil, errCode
		}
		codes = append(codes, code)
	}
	return codes, nil
}

func generateBackupCode() (string, error) {
	buf := make([]byte, backupCodeLength)
	if _, errRead := rand.Read(buf); errRead != nil {
		return "", fmt.Errorf("generate backup code: %w", errRead)
	}
	out := make([]byte, backupCodeLength)
	for i, b := range buf {
		out[i] = backupCodeAlphabet[int(b)%len(backupCodeAlphabet)]
	}
	return string(out), nil
}

// NormalizeBackupCode upper-cases and trims a submitted backup code so
// comparison is exact string equality against stored codes.
func NormalizeBackupCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
