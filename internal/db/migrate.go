package db

import (
	"errors"
	"fmt"
	"strings"

	"github.com/opsboard/opsboard/internal/models"
	"github.com/opsboard/opsboard/internal/rbac"
	"gorm.io/gorm"
)

// Migrate runs schema migrations for all persisted entities.
func Migrate(conn *gorm.DB) error {
	if conn == nil {
		return fmt.Errorf("db: nil connection")
	}
	if errAutoMigrate := conn.AutoMigrate(
		&models.User{},
		&models.Organization{},
		&models.OrganizationMember{},
		&models.OrganizationInvite{},
		&models.APIKey{},
		&models.TwoFactorAuth{},
		&models.AuditLog{},
		&models.Subscription{},
	); errAutoMigrate != nil {
		return fmt.Errorf("db: migrate: %w", errAutoMigrate)
	}
	return nil
}

// SeedSuperAdmin creates the bootstrap super_admin account unless a user
// with the email already exists. The password must arrive pre-hashed.
// Returns the created user, or nil when the account already existed.
func SeedSuperAdmin(conn *gorm.DB, email, passwordHash string) (*models.User, error) {
	if conn == nil {
		return nil, fmt.Errorf("db: nil connection")
	}
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || passwordHash == "" {
		return nil, fmt.Errorf("db: seed super admin: missing email or password hash")
	}

	var existing models.User
	errFind := conn.Where("email = ?", email).First(&existing).Error
	if errFind == nil {
		return nil, nil
	}
	if !errors.Is(errFind, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("db: seed super admin lookup: %w", errFind)
	}

	user := models.User{
		Email:    email,
		Name:     "Administrator",
		Password: passwordHash,
		Role:     rbac.RoleSuperAdmin,
		Active:   true,
	}
	if errCreate := conn.Create(&user).Error; errCreate != nil {
		return nil, fmt.Errorf("db: seed super admin: %w", errCreate)
	}
	return &user, nil
}
