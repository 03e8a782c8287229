package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "stockledger/api/swagger" // swagger docs
	"stockledger/internal/auth"
	"stockledger/internal/config"
	"stockledger/internal/database"
	"stockledger/internal/handler"
	"stockledger/internal/middleware"
	"stockledger/internal/repository"
	"stockledger/internal/service"
	"stockledger/internal/websocket"
	"stockledger/internal/worker"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

// @title           Stock Ledger API
// @version         1.0
// @description     Multi-warehouse stock ledger, transfers and stocktake reconciliation.
// @host            localhost:8080
// @BasePath        /
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	if cfg.IsProduction() {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
		gin.SetMode(gin.ReleaseMode)
	} else {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}

	db, err := database.NewConnection(cfg.DSN(), !cfg.IsProduction())
	if err != nil {
		log.Fatal().Err(err).Msg("database connection failed")
	}
	if err := database.Migrate(db); err != nil {
		log.Fatal().Err(err).Msg("migration failed")
	}
	log.Info().Msg("connected to PostgreSQL")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Repositories
	txManager := repository.NewTransactionManager(db)
	stockRepo := repository.NewStockRepository(db)
	movementRepo := repository.NewInventoryTxRepository(db)
	productRepo := repository.NewProductRepository(db)
	warehouseRepo := repository.NewWarehouseRepository(db)
	serialRepo := repository.NewSerialRepository(db)
	stockTxRepo := repository.NewStockTransactionRepository(db)
	transferRepo := repository.NewTransferRepository(db)
	stocktakeRepo := repository.NewStocktakeRepository(db)
	auditRepo := repository.NewAuditRepository(db)
	userRepo := repository.NewUserRepository(db)
	roleRepo := repository.NewRoleRepository(db)

	// Collaborators. Without redis, audit goes straight to the database and
	// committed quantities read as zero.
	dbAudit := service.NewDBAuditRecorder(auditRepo)
	collab := service.Collaborators{Audit: dbAudit}
	var pool *worker.Pool
	if cfg.RedisURL != "" {
		rdb, err := database.NewRedis(cfg.RedisURL)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to redis")
		}
		defer closeRedis(rdb)

		dispatcher := worker.NewDispatcher(rdb)
		collab = service.Collaborators{
			Audit:       worker.NewAuditRecorder(dispatcher, dbAudit),
			Commitments: worker.NewCommitmentFeed(rdb),
			Settlement:  worker.NewSettlementRequester(dispatcher),
		}
		pool = worker.NewPool(rdb, auditRepo, cfg.WorkerPoolSize)
		pool.Start(ctx)
	}

	wsHub := websocket.NewHub()
	go wsHub.Run()

	issuer := auth.NewTokenIssuer(cfg.JWTSecret, cfg.TokenTTL())
	buffers := service.NewCountBuffers(stocktakeRepo, cfg.AutosaveInterval)
	buffers.Start(ctx)

	// Services
	ledgerService := service.NewLedgerService(stockRepo, movementRepo, txManager, wsHub)
	comboService := service.NewComboService(productRepo, stockRepo)
	transactionService := service.NewTransactionService(stockTxRepo, productRepo, warehouseRepo, serialRepo, txManager, ledgerService, comboService, collab, cfg.AutoApproveLevel)
	transferService := service.NewTransferService(transferRepo, productRepo, warehouseRepo, serialRepo, txManager, ledgerService, collab, cfg.AutoApproveLevel)
	stocktakeService := service.NewStocktakeService(stocktakeRepo, productRepo, warehouseRepo, txManager, ledgerService, buffers, collab, cfg.AutoApproveLevel)
	warehouseService := service.NewWarehouseService(warehouseRepo, stockRepo, txManager, collab.Audit)
	productService := service.NewProductService(productRepo, txManager, collab.Audit)
	inventoryService := service.NewInventoryService(productRepo, warehouseRepo, movementRepo, serialRepo, ledgerService, comboService, collab)
	roleService := service.NewRoleService(roleRepo, txManager)
	authService := service.NewAuthService(userRepo, roleService, issuer)
	auditService := service.NewAuditService(auditRepo)

	if err := roleService.SeedDefaults(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to seed roles")
	}

	router := gin.New()
	router.Use(middleware.RequestID(), middleware.Logger(), middleware.Recovery(), middleware.ErrorHandler())

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = cfg.AllowedOrigins()
	corsConfig.AllowCredentials = true
	corsConfig.AllowHeaders = []string{"Origin", "Content-Length", "Content-Type", "Authorization", "Accept", middleware.RequestIDHeader}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	router.Use(cors.New(corsConfig))

	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "OK"})
	})
	router.GET("/ws", func(c *gin.Context) {
		websocket.ServeWs(wsHub, c, issuer)
	})

	authHandler := handler.NewAuthHandler(authService)
	authHandler.RegisterPublicRoutes(router.Group(""))

	api := router.Group("/api")
	api.Use(middleware.JWTAuth(issuer))
	authHandler.RegisterRoutes(api)
	handler.NewWarehouseHandler(warehouseService).RegisterRoutes(api)
	handler.NewProductHandler(productService).RegisterRoutes(api)
	handler.NewInventoryHandler(inventoryService).RegisterRoutes(api)
	handler.NewStockTransactionHandler(transactionService).RegisterRoutes(api)
	handler.NewTransferHandler(transferService).RegisterRoutes(api)
	handler.NewStocktakeHandler(stocktakeService).RegisterRoutes(api)
	handler.NewAuditHandler(auditService).RegisterRoutes(api)
	handler.NewRoleHandler(roleService).RegisterRoutes(api)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Msgf("server listening on :%d", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("forced shutdown")
	}

	// Buffers flush before the context they autosave under is cancelled.
	buffers.Stop()
	cancel()
	if pool != nil {
		pool.Wait()
	}
	wsHub.Close()
	log.Info().Msg("server exited")
}

func closeRedis(rdb *redis.Client) {
	if err := rdb.Close(); err != nil {
		log.Warn().Err(err).Msg("redis close failed")
	}
}
