// Command seed creates the default roles, the admin user and the first
// warehouse of the default tenant. Running it twice is harmless.
package main

import (
	"context"
	"os"
	"time"

	"stockledger/internal/auth"
	"stockledger/internal/config"
	"stockledger/internal/database"
	"stockledger/internal/repository"
	"stockledger/internal/service"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	tenantID, err := uuid.Parse(cfg.DefaultTenantID)
	if err != nil {
		log.Fatal().Err(err).Str("value", cfg.DefaultTenantID).Msg("DEFAULT_TENANT_ID is not a uuid")
	}

	db, err := database.NewConnection(cfg.DSN(), false)
	if err != nil {
		log.Fatal().Err(err).Msg("database connection failed")
	}
	if err := database.Migrate(db); err != nil {
		log.Fatal().Err(err).Msg("migration failed")
	}

	ctx := context.Background()
	txManager := repository.NewTransactionManager(db)
	roleService := service.NewRoleService(repository.NewRoleRepository(db), txManager)
	authService := service.NewAuthService(repository.NewUserRepository(db), roleService, auth.NewTokenIssuer(cfg.JWTSecret, cfg.TokenTTL()))
	warehouseService := service.NewWarehouseService(repository.NewWarehouseRepository(db), repository.NewStockRepository(db), txManager, nil)

	if err := roleService.SeedDefaults(ctx); err != nil {
		log.Fatal().Err(err).Msg("seed roles")
	}
	log.Info().Msg("roles seeded")

	if cfg.SeedAdminPassword == "" {
		log.Warn().Msg("SEED_ADMIN_PASSWORD empty, skipping admin user")
	} else {
		user, err := authService.CreateUser(ctx, service.CreateUserRequest{
			TenantID: tenantID,
			Username: "admin",
			Email:    cfg.SeedAdminEmail,
			Password: cfg.SeedAdminPassword,
			Role:     "admin",
		})
		if err != nil {
			log.Warn().Err(err).Msg("admin user not created")
		} else {
			log.Info().Str("email", user.Email).Msg("admin user created")
		}
	}

	system := auth.System(tenantID)
	existing, err := warehouseService.List(ctx, system)
	if err != nil {
		log.Fatal().Err(err).Msg("list warehouses")
	}
	if len(existing) == 0 {
		wh, err := warehouseService.Create(ctx, system, service.CreateWarehouseRequest{
			Code:      "MAIN",
			Name:      "Main warehouse",
			IsDefault: true,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("create default warehouse")
		}
		log.Info().Str("code", wh.Code).Msg("default warehouse created")
	}
}
