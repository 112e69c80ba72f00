package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/ignatzorin/marketplace-backend/internal/config"
	"github.com/ignatzorin/marketplace-backend/internal/db"
	httpHandlers "github.com/ignatzorin/marketplace-backend/internal/http/handlers"
	httpRouter "github.com/ignatzorin/marketplace-backend/internal/http/router"
	"github.com/ignatzorin/marketplace-backend/internal/logger"
	"github.com/ignatzorin/marketplace-backend/internal/repository"
	"github.com/ignatzorin/marketplace-backend/internal/service"
	"github.com/ignatzorin/marketplace-backend/internal/storage"
	"github.com/ignatzorin/marketplace-backend/internal/ws"
)

func main() {
	// Готовим контекст для graceful shutdown.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("main: ошибка загрузки конфигурации: %v", err)
	}

	// Инициализация логгера
	if cfg.Env == "development" {
		logger.Init("debug")
		logger.SetTextFormatter()
	} else {
		logger.Init("info")
	}

	// Подключение к базе и миграции.
	dbConn, err := db.NewPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("main: ошибка подключения к базе: %v", err)
	}
	defer safeClose(dbConn)

	if err := db.RunMigrations(ctx, dbConn, cfg.MigrationsPath); err != nil {
		log.Fatalf("main: ошибка миграций: %v", err)
	}

	// Вспомогательные сервисы.
	tokenManager := service.NewTokenManager(cfg.JWTSecret, cfg.RefreshSecret, cfg.AccessTokenTTL, cfg.RefreshTokenTTL)

	fileStorage, err := storage.NewFileStorage(cfg.StoragePath, cfg.MaxUploadSizeMB)
	if err != nil {
		log.Fatalf("main: не удалось подготовить файловое хранилище: %v", err)
	}

	// Репозитории.
	userRepo := repository.NewUserRepository(dbConn)
	projectRepo := repository.NewProjectRepository(dbConn)
	proposalRepo := repository.NewProposalRepository(dbConn)
	paymentRepo := repository.NewPaymentRepository(dbConn)
	notificationRepo := repository.NewNotificationRepository(dbConn)
	reviewRepo := repository.NewReviewRepository(dbConn)

	// Вебсокеты.
	hub := ws.NewHub()
	go hub.Run()
	defer hub.Stop()

	// Сервисы.
	authService := service.NewAuthService(userRepo, tokenManager)
	projectService := service.NewProjectService(projectRepo)
	proposalService := service.NewProposalService(proposalRepo, projectRepo, nil)
	paymentService := service.NewPaymentService(paymentRepo, projectRepo, userRepo, service.FeePolicy{
		PlatformRate:    cfg.PlatformFeeRate,
		ProcessingRate:  cfg.ProcessingFeeRate,
		ProcessingFixed: cfg.ProcessingFeeFixed,
	}, nil)
	notificationService := service.NewNotificationService(notificationRepo, hub)
	reviewService := service.NewReviewService(reviewRepo, projectRepo)

	eventRouter := ws.NewEventRouter(notificationService)
	engagementService := service.NewEngagementService(
		proposalService, paymentService, projectRepo, paymentRepo, eventRouter, true,
	)

	// HTTP хэндлеры и роутер.
	engine := httpRouter.SetupRouter(cfg, httpRouter.Handlers{
		Auth:         httpHandlers.NewAuthHandler(authService),
		Project:      httpHandlers.NewProjectHandler(projectService, fileStorage),
		Proposal:     httpHandlers.NewProposalHandler(proposalService, engagementService),
		Payment:      httpHandlers.NewPaymentHandler(paymentService, engagementService),
		Engagement:   httpHandlers.NewEngagementHandler(engagementService),
		Notification: httpHandlers.NewNotificationHandler(notificationService),
		Review:       httpHandlers.NewReviewHandler(reviewService),
		Health:       httpHandlers.NewHealthHandler(dbConn),
		WS:           httpHandlers.NewWSHandler(hub, tokenManager),
	}, tokenManager)

	server := &http.Server{
		Addr:    ":" + cfg.HTTPPort,
		Handler: engine,
	}

	// Завершаем сервер при получении сигнала.
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("main: ошибка остановки http сервера: %v", err)
		}
	}()

	log.Printf("main: HTTP сервер запущен на порту %s", cfg.HTTPPort)

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("main: сервер завершился с ошибкой: %v", err)
	}
}

// safeClose закрывает соединение с базой.
func safeClose(db *sqlx.DB) {
	if err := db.Close(); err != nil {
		log.Printf("main: ошибка закрытия базы: %v", err)
	}
}
