// Точка входа LexStore — библиотеки юридических документов
// с подписочным доступом и онлайн-оплатой.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/jackc/pgx/v5/stdlib"

	"github.com/bigkaa/golexstore/internal/api/handlers"
	"github.com/bigkaa/golexstore/internal/api/middleware"
	"github.com/bigkaa/golexstore/internal/config"
	"github.com/bigkaa/golexstore/internal/database"
	"github.com/bigkaa/golexstore/internal/domain/model"
	"github.com/bigkaa/golexstore/internal/payclient"
	"github.com/bigkaa/golexstore/internal/repository"
	"github.com/bigkaa/golexstore/internal/server"
	"github.com/bigkaa/golexstore/internal/service"
	"github.com/bigkaa/golexstore/internal/storage/bucketstore"
)

// readinessTimeout — таймаут проверок внешних зависимостей
// в /health/ready.
const readinessTimeout = 5 * time.Second

func main() {
	// 1. Загрузка конфигурации из переменных окружения
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Ошибка конфигурации: %v\n", err)
		os.Exit(1)
	}

	// 2. Настройка логгера
	logger := config.SetupLogger(cfg)
	logger.Info("LexStore запускается",
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
		slog.String("data_dir", cfg.DataDir),
	)

	// 3. Применение миграций БД
	logger.Info("Применение миграций БД...")
	if err := database.Migrate(cfg, logger); err != nil {
		logger.Error("Ошибка миграций БД", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 4. Подключение к PostgreSQL (pgxpool)
	ctx := context.Background()
	pool, err := database.Connect(ctx, cfg, logger)
	if err != nil {
		logger.Error("Ошибка подключения к PostgreSQL", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer pool.Close()

	// 4.1 Адаптер pgxpool → *sql.DB для topologymetrics.
	// Проверка здоровья PostgreSQL идёт через существующий пул
	// соединений и обнаруживает его исчерпание.
	pgDB := stdlib.OpenDBFromPool(pool)
	defer pgDB.Close()

	// 5. Bucket-хранилище документов
	store, err := bucketstore.New(cfg.DataDir, model.Buckets())
	if err != nil {
		logger.Error("Ошибка инициализации хранилища", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 6. Репозитории
	userRepo := repository.NewUserRepository(pool)
	docRepo := repository.NewDocumentRepository(pool)
	subRepo := repository.NewSubscriptionRepository(pool)
	payRepo := repository.NewPaymentRepository(pool)
	runner := repository.NewTxRunner(pool)

	// 7. Клиент платёжного шлюза
	gateway := payclient.New(cfg.PaymentGatewayURL, cfg.PaymentGatewayTimeout, logger)

	// 8. Сервисы
	cache := service.NewCacheService(cfg.CacheSize, cfg.CacheTTL)
	docSvc := service.NewDocumentService(docRepo, userRepo, store, cache, cfg.PublicBaseURL, logger)
	downloadSvc := service.NewDownloadService(docSvc, store, logger)
	paySvc := service.NewPaymentService(payRepo, subRepo, userRepo, runner, gateway, logger)
	subSvc := service.NewSubscriptionService(subRepo, userRepo, runner, logger)

	// 8.1 Фоновый перевод просроченных подписок в expired
	subSvc.StartSweeper(ctx, cfg.SubscriptionSweepInterval)
	defer subSvc.StopSweeper()

	// 8.2 topologymetrics — мониторинг зависимостей (PostgreSQL + шлюз)
	dephealthSvc, dephealthErr := service.NewDephealthService(
		"lexstore",
		cfg.DephealthGroup,
		pgDB,
		cfg.DatabaseURL(),
		cfg.PaymentGatewayURL,
		cfg.DephealthCheckInterval,
		logger,
	)
	if dephealthErr != nil {
		logger.Warn("topologymetrics недоступен, запуск без мониторинга зависимостей",
			slog.String("error", dephealthErr.Error()),
		)
	} else {
		if startErr := dephealthSvc.Start(ctx); startErr != nil {
			logger.Warn("Ошибка запуска topologymetrics",
				slog.String("error", startErr.Error()),
			)
		} else {
			logger.Info("topologymetrics запущен",
				slog.String("group", cfg.DephealthGroup),
				slog.String("check_interval", cfg.DephealthCheckInterval.String()),
			)
			defer dephealthSvc.Stop()
		}
	}

	// 9. JWT middleware
	jwtAuth, err := middleware.NewJWTAuth(cfg.JWTJWKSURL, cfg.JWTIssuer, cfg.JWTLeeway, logger)
	if err != nil {
		logger.Error("Ошибка инициализации JWT middleware",
			slog.String("jwks_url", cfg.JWTJWKSURL),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}
	defer jwtAuth.Close()
	logger.Info("JWT аутентификация настроена", slog.String("jwks_url", cfg.JWTJWKSURL))

	// 10. Handlers
	healthHandler := handlers.NewHealthHandler(
		database.NewReadinessChecker(pool),
		middleware.NewAuthReadinessChecker(cfg.JWTJWKSURL, readinessTimeout),
		payclient.NewReadinessChecker(cfg.PaymentGatewayURL, readinessTimeout),
	)
	apiHandler := handlers.NewAPIHandler(
		docSvc,
		downloadSvc,
		paySvc,
		subSvc,
		healthHandler,
		jwtAuth,
		cfg.MaxUploadBytes,
		store.DataDir(),
		logger,
	)

	// 11. HTTP-сервер: metrics и request logging — глобальные middleware
	srv := server.New(cfg, logger, apiHandler,
		middleware.MetricsMiddleware(),
		middleware.RequestLogger(logger),
	)

	if err := srv.Run(); err != nil {
		logger.Error("Ошибка сервера", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("LexStore остановлен")
}
