// main.go — serverless-точки входа Lifecycle Module (Cloud Functions).
// Функции регистрируются в init, инициализация приложения ленивая:
// выполняется один раз при первом вызове любой функции.
package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"sync"

	"github.com/GoogleCloudPlatform/functions-framework-go/funcframework"
	"github.com/GoogleCloudPlatform/functions-framework-go/functions"
	cloudevents "github.com/cloudevents/sdk-go/v2"

	apierrors "github.com/bigkaa/goartstore/lifecycle-module/internal/api/errors"
	"github.com/bigkaa/goartstore/lifecycle-module/internal/bootstrap"
	"github.com/bigkaa/goartstore/lifecycle-module/internal/config"
	"github.com/bigkaa/goartstore/lifecycle-module/internal/serverless"
)

var (
	fns     *serverless.Functions
	once    sync.Once
	initErr error
)

func init() {
	functions.HTTP("CreateUploadSession", createUploadSession)
	functions.HTTP("FinalizeUpload", finalizeUpload)
	functions.CloudEvent("SweepExpired", sweepExpired)
}

// setup собирает приложение при первом вызове.
func setup() (*serverless.Functions, error) {
	once.Do(func() {
		cfg, err := config.Load()
		if err != nil {
			initErr = fmt.Errorf("ошибка загрузки конфигурации: %w", err)
			return
		}
		logger := config.SetupLogger(cfg)

		app, err := bootstrap.New(context.Background(), cfg, logger)
		if err != nil {
			initErr = err
			return
		}
		fns = serverless.New(cfg, app, logger)
		logger.Info("Lifecycle functions инициализированы",
			slog.String("version", config.Version),
			slog.String("store_backend", cfg.StoreBackend),
			slog.String("object_backend", cfg.ObjectBackend),
		)
	})
	if initErr != nil {
		slog.Error("Ошибка инициализации функций", slog.String("error", initErr.Error()))
	}
	return fns, initErr
}

func createUploadSession(w http.ResponseWriter, r *http.Request) {
	f, err := setup()
	if err != nil {
		apierrors.InternalError(w, "Сервис не инициализирован")
		return
	}
	f.CreateUploadSession(w, r)
}

func finalizeUpload(w http.ResponseWriter, r *http.Request) {
	f, err := setup()
	if err != nil {
		apierrors.InternalError(w, "Сервис не инициализирован")
		return
	}
	f.FinalizeUpload(w, r)
}

func sweepExpired(ctx context.Context, e cloudevents.Event) error {
	f, err := setup()
	if err != nil {
		return err
	}
	return f.SweepExpired(ctx, e)
}

// main запускает локальный сервер функций (PORT, по умолчанию 8080).
func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	if err := funcframework.Start(port); err != nil {
		log.Fatalf("funcframework.Start: %v", err)
	}
}
