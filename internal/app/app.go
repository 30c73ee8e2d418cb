// Package app boots the administration server: configuration, database,
// and the HTTP surface.
package app

import (
	"context"
	"errors"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/opsboard/opsboard/internal/audit"
	"github.com/opsboard/opsboard/internal/config"
	"github.com/opsboard/opsboard/internal/db"
	"github.com/opsboard/opsboard/internal/http/api"
	"github.com/opsboard/opsboard/internal/http/api/handlers"
	"github.com/opsboard/opsboard/internal/mail"
	"github.com/opsboard/opsboard/internal/security"
)

// Environment variables for the bootstrap super admin account. Both must
// be set for seeding to run.
const (
	EnvAdminEmail    = "ADMIN_EMAIL"
	EnvAdminPassword = "ADMIN_PASSWORD"
)

// shutdownTimeout bounds in-flight request draining on exit.
const shutdownTimeout = 5 * time.Second

// Migrate opens the database and runs migrations.
func Migrate(ctx context.Context, cfg config.AppConfig) error {
	conn, errOpen := openDatabase(cfg)
	if errOpen != nil {
		return errOpen
	}
	return db.Migrate(conn)
}

// RunServer boots the administration server and blocks until the context
// is canceled or the listener fails.
func RunServer(ctx context.Context, cfg config.AppConfig) error {
	configPath := config.ResolveConfigPath(cfg.ConfigPath)

	conn, errOpen := openDatabase(cfg)
	if errOpen != nil {
		return errOpen
	}
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		return errMigrate
	}

	if errSeed := seedSuperAdmin(ctx, conn); errSeed != nil {
		return errSeed
	}

	jwtCfg, errJWT := config.LoadJWTConfig(configPath)
	if errJWT != nil {
		return errJWT
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(accessLogMiddleware())
	api.RegisterRoutes(engine, conn, jwtCfg, mail.NewLogSender())

	log.Infof("starting server on %s", cfg.ListenAddr)

	srv := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: engine,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if errShutdown := srv.Shutdown(shutdownCtx); errShutdown != nil {
			log.Errorf("server shutdown error: %v", errShutdown)
		}
	}()

	if errListen := srv.ListenAndServe(); errListen != nil && !errors.Is(errListen, http.ErrServerClosed) {
		return errListen
	}
	return nil
}

func openDatabase(cfg config.AppConfig) (*gorm.DB, error) {
	configPath := config.ResolveConfigPath(cfg.ConfigPath)
	dsn, errDSN := config.LoadDatabaseDSN(configPath)
	if errDSN != nil {
		return nil, errDSN
	}
	return db.Open(dsn)
}

// seedSuperAdmin creates the bootstrap account when the admin env vars
// are set. Idempotent across restarts; only a fresh create is audited.
func seedSuperAdmin(ctx context.Context, conn *gorm.DB) error {
	email := strings.TrimSpace(os.Getenv(EnvAdminEmail))
	password := os.Getenv(EnvAdminPassword)
	if email == "" || password == "" {
		return nil
	}
	hash, errHash := security.HashPassword(password)
	if errHash != nil {
		return errHash
	}
	user, errSeed := db.SeedSuperAdmin(conn, email, hash)
	if errSeed != nil {
		return errSeed
	}
	if user != nil {
		audit.NewRecorder(conn).RecordSystem(ctx, audit.ActionUserCreate, audit.ResourceUser,
			strconv.FormatUint(user.ID, 10), map[string]any{"email": user.Email, "role": string(user.Role)})
	}
	log.WithField("email", email).Info("super admin account ensured")
	return nil
}

// accessLogMiddleware emits one structured log line per request,
// correlated by the request id.
func accessLogMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.WithFields(log.Fields{
			"method":     c.Request.Method,
			"path":       c.Request.URL.Path,
			"status":     c.Writer.Status(),
			"duration":   time.Since(start).String(),
			"request_id": c.GetString(handlers.CtxRequestID),
		}).Info("request")
	}
}
