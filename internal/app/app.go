package app

import (
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lumenapp/lumen/internal/config"
	"github.com/lumenapp/lumen/internal/db"
	"github.com/lumenapp/lumen/internal/repository"
	"github.com/lumenapp/lumen/internal/service"
)

type App struct {
	Cfg          *config.Config
	DB           *sqlx.DB
	AuthService  *service.AuthService
	UserService  *service.UserService
	EmailService *service.EmailService
}

func New(cfg *config.Config) (*App, error) {
	// Initialize database
	database, err := db.Init(cfg.DBDriver, cfg.DBConnection)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %v", err)
	}

	// Run database migrations
	err = db.RunMigrations(database.DB, cfg.DBDriver)
	if err != nil {
		return nil, fmt.Errorf("failed to run migrations: %v", err)
	}

	// Repositories
	userRepository := repository.NewUserRepository(database)
	tokenRepository := repository.NewTokenRepository(database)

	// Services
	emailService := service.NewEmailService(
		cfg.ResendAPIKey,
		cfg.EmailFrom,
		cfg.AppURL,
		cfg.AppName,
		cfg.IsDevelopment(),
	)
	authService := service.NewAuthService(
		userRepository,
		tokenRepository,
		emailService,
		cfg.JWTSecret,
		cfg.IsProduction(),
		cfg.BcryptCost,
		cfg.JWTExpiry,
		cfg.TokenEmailVerifyExpiry,
		cfg.TokenPasswordResetExpiry,
		cfg.AutoLoginExpiry,
	)
	userService := service.NewUserService(userRepository, cfg.BcryptCost)

	return &App{
		Cfg:          cfg,
		DB:           database,
		AuthService:  authService,
		UserService:  userService,
		EmailService: emailService,
	}, nil
}

func (a *App) Close() error {
	if a.DB != nil {
		return a.DB.Close()
	}
	return nil
}
