// main.go — точка входа Lifecycle Module.
// Инициализирует хранилища, сервисы, фоновые задачи и HTTP-сервер.
package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/bigkaa/goartstore/lifecycle-module/internal/bootstrap"
	"github.com/bigkaa/goartstore/lifecycle-module/internal/config"
	"github.com/bigkaa/goartstore/lifecycle-module/internal/server"
)

func main() {
	// 1. Загрузка конфигурации из переменных окружения
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Ошибка загрузки конфигурации: %v", err)
	}

	// 2. Настройка логгера
	logger := config.SetupLogger(cfg)
	logger.Info("Lifecycle Module запускается",
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
		slog.String("store_backend", cfg.StoreBackend),
		slog.String("object_backend", cfg.ObjectBackend),
	)

	// Контекст приложения отменяется по SIGINT/SIGTERM
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 3. Хранилища, сервисы, аутентификация, middleware
	app, err := bootstrap.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("Ошибка инициализации", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer app.Close()

	// 4. Фоновые задачи
	if cfg.PurgeEnabled {
		app.Purge.Start(ctx)
	} else {
		logger.Info("Фоновая очистка отключена (LM_PURGE_ENABLED=false)")
	}
	app.Reconcile.Start(ctx)

	// 5. Мониторинг зависимостей
	if app.Dephealth != nil {
		if err := app.Dephealth.Start(ctx); err != nil {
			logger.Warn("Не удалось запустить dephealth",
				slog.String("error", err.Error()),
			)
		}
	}

	// 6. HTTP-сервер (блокирующий вызов с graceful shutdown)
	srv := server.New(cfg, logger, app.Handler, app.Middlewares...)
	runErr := srv.Run(ctx)

	// 7. Остановка фоновых задач
	stop()
	if app.Dephealth != nil {
		app.Dephealth.Stop()
	}
	app.Reconcile.Stop()
	if cfg.PurgeEnabled {
		app.Purge.Stop()
	}

	if runErr != nil {
		logger.Error("Сервер завершился с ошибкой", slog.String("error", runErr.Error()))
		app.Close()
		os.Exit(1)
	}

	logger.Info("Lifecycle Module остановлен")
}
