// Пакет bootstrap — сборка Lifecycle Module из конфигурации:
// хранилища записей и объектов, сервисы, health-проверки и middleware.
// Используется HTTP-сервером и serverless-функциями.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/jackc/pgx/v5/stdlib"

	"github.com/bigkaa/goartstore/lifecycle-module/internal/api/handlers"
	"github.com/bigkaa/goartstore/lifecycle-module/internal/api/middleware"
	"github.com/bigkaa/goartstore/lifecycle-module/internal/api/openapi"
	"github.com/bigkaa/goartstore/lifecycle-module/internal/config"
	"github.com/bigkaa/goartstore/lifecycle-module/internal/database"
	"github.com/bigkaa/goartstore/lifecycle-module/internal/repository"
	"github.com/bigkaa/goartstore/lifecycle-module/internal/server"
	"github.com/bigkaa/goartstore/lifecycle-module/internal/service"
	"github.com/bigkaa/goartstore/lifecycle-module/internal/storage/filestore"
	"github.com/bigkaa/goartstore/lifecycle-module/internal/storage/firestorestore"
	"github.com/bigkaa/goartstore/lifecycle-module/internal/storage/gcsstore"
	"github.com/bigkaa/goartstore/lifecycle-module/internal/storage/memstore"
	"github.com/bigkaa/goartstore/lifecycle-module/internal/storage/object"
)

// ServiceID — имя вершины графа зависимостей.
const ServiceID = "lifecycle-module"

// Пути без аутентификации. Локальная загрузка объектов защищена грантом.
var publicPrefixes = []string{
	"/health/",
	"/metrics",
	"/api/v1/openapi.yaml",
	filestore.UploadPath,
}

// App — собранное приложение.
type App struct {
	Matters   *service.MatterService
	Uploads   *service.UploadService
	Files     *service.FileService
	Drafts    *service.DraftService
	Exports   *service.ExportService
	OCR       *service.OCRService
	Ledger    *service.JobLedger
	Purge     *service.PurgeService
	Reconcile *service.ReconcileService
	// Dephealth — nil, если мониторить нечего
	Dephealth *service.DephealthService

	Handler     *handlers.APIHandler
	Middlewares []func(http.Handler) http.Handler

	closers []func()
	logger  *slog.Logger
}

// New собирает приложение. При ошибке уже открытые ресурсы закрываются.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	app := &App{logger: logger}
	built := false
	defer func() {
		if !built {
			app.Close()
		}
	}()

	health := handlers.NewHealthHandler()

	// 1. Хранилище записей
	repos, dephealthCfg, err := app.openRecords(ctx, cfg, health)
	if err != nil {
		return nil, err
	}

	// 2. Хранилище объектов
	objects, local, err := app.openObjects(ctx, cfg, health)
	if err != nil {
		return nil, err
	}

	// 3. Сервисы
	app.buildServices(cfg, repos, objects)

	// 4. Аутентификация
	authMW, err := app.authMiddleware(cfg, health, &dephealthCfg)
	if err != nil {
		return nil, err
	}

	// 5. Валидация запросов по OpenAPI
	doc, err := openapi.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("ошибка загрузки OpenAPI: %w", err)
	}
	validator, err := middleware.NewRequestValidator(doc, logger, filestore.UploadPath)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания валидатора запросов: %w", err)
	}

	app.Middlewares = []func(http.Handler) http.Handler{
		middleware.RequestLogger(logger),
		middleware.MetricsMiddleware(),
		server.AuthWithExclusions(authMW, publicPrefixes...),
		validator.Middleware(),
	}

	app.Handler = handlers.NewAPIHandler(handlers.Deps{
		Health:        health,
		Matters:       app.Matters,
		Uploads:       app.Uploads,
		Files:         app.Files,
		Drafts:        app.Drafts,
		Exports:       app.Exports,
		OCR:           app.OCR,
		Ledger:        app.Ledger,
		Purge:         app.Purge,
		Reconcile:     app.Reconcile,
		Objects:       local,
		MaxObjectSize: cfg.MaxFileSize,
	}, logger)

	// 6. Мониторинг зависимостей (topologymetrics)
	dephealthCfg.ServiceID = ServiceID
	dephealthCfg.Group = cfg.DephealthGroup
	dephealthCfg.CheckInterval = cfg.DephealthCheckInterval
	dh, dhErr := service.NewDephealthService(dephealthCfg, logger)
	switch {
	case errors.Is(dhErr, service.ErrNoDependencies):
		logger.Info("Мониторинг зависимостей отключён: нет внешних зависимостей")
	case dhErr != nil:
		logger.Warn("Не удалось создать dephealth сервис, мониторинг отключён",
			slog.String("error", dhErr.Error()),
		)
	default:
		app.Dephealth = dh
	}

	built = true
	return app, nil
}

// openRecords открывает хранилище записей по LM_STORE_BACKEND.
func (app *App) openRecords(ctx context.Context, cfg *config.Config, health *handlers.HealthHandler) (*repository.Repositories, service.DephealthConfig, error) {
	var dhCfg service.DephealthConfig

	switch cfg.StoreBackend {
	case config.StoreBackendPostgres:
		if err := database.Migrate(cfg, app.logger); err != nil {
			return nil, dhCfg, fmt.Errorf("ошибка миграций: %w", err)
		}
		pool, err := database.Connect(ctx, cfg, app.logger)
		if err != nil {
			return nil, dhCfg, err
		}
		app.closers = append(app.closers, pool.Close)

		pgDB := stdlib.OpenDBFromPool(pool)
		app.closers = append(app.closers, func() { _ = pgDB.Close() })
		dhCfg.DB = pgDB
		dhCfg.PostgresURL = cfg.DatabaseURL()

		health.AddCheck("metadata", database.NewReadinessChecker(pool))
		return repository.NewPostgres(pool), dhCfg, nil

	case config.StoreBackendFirestore:
		store, err := firestorestore.New(ctx, cfg.FirestoreProjectID, cfg.FirestoreCollectionPrefix, app.logger)
		if err != nil {
			return nil, dhCfg, err
		}
		app.closers = append(app.closers, func() { _ = store.Close() })
		health.AddCheck("metadata", store)
		return store.Repositories(), dhCfg, nil

	case config.StoreBackendMemory:
		app.logger.Warn("Хранилище записей в памяти: данные не сохраняются между перезапусками")
		store := memstore.New(app.logger)
		health.AddCheck("metadata", store)
		return store.Repositories(), dhCfg, nil
	}

	return nil, dhCfg, fmt.Errorf("неизвестный бэкенд записей: %s", cfg.StoreBackend)
}

// openObjects открывает хранилище объектов по LM_OBJECT_BACKEND.
// Для локального бэкенда дополнительно возвращает FileStore для приёма загрузок.
func (app *App) openObjects(ctx context.Context, cfg *config.Config, health *handlers.HealthHandler) (object.Store, *filestore.FileStore, error) {
	switch cfg.ObjectBackend {
	case config.ObjectBackendLocal:
		fs, err := filestore.New(cfg.DataDir, cfg.GrantSecret, cfg.PublicBaseURL)
		if err != nil {
			return nil, nil, err
		}
		health.AddCheck("objects", fs)
		app.logger.Info("Локальное хранилище объектов", slog.String("data_dir", fs.DataDir()))
		return fs, fs, nil

	case config.ObjectBackendGCS:
		gcs, err := gcsstore.New(ctx, cfg.GCSBucket, app.logger)
		if err != nil {
			return nil, nil, err
		}
		app.closers = append(app.closers, func() { _ = gcs.Close() })
		health.AddCheck("objects", gcs)
		return gcs, nil, nil
	}

	return nil, nil, fmt.Errorf("неизвестный бэкенд объектов: %s", cfg.ObjectBackend)
}

func (app *App) buildServices(cfg *config.Config, repos *repository.Repositories, objects object.Store) {
	logger := app.logger

	app.Matters = service.NewMatterService(repos.Matters,
		service.NewMembershipCache(cfg.MembershipCacheSize, cfg.MembershipCacheTTL), logger)
	app.Ledger = service.NewJobLedger(repos.Jobs, logger)
	app.OCR = service.NewOCRService(repos.Files, app.Ledger,
		service.NewPDFInspector(objects, 0), logger)
	app.Uploads = service.NewUploadService(app.Matters, repos.Sessions, repos.Files, objects, app.OCR,
		service.UploadConfig{
			GrantTTL:      cfg.UploadGrantTTL,
			FinalizeGrace: cfg.FinalizeGrace,
			Retention:     cfg.FileRetention,
			MaxFileSize:   cfg.MaxFileSize,
		}, logger)
	app.Files = service.NewFileService(repos.Files, app.Matters, app.OCR, logger)
	app.Drafts = service.NewDraftService(repos.Drafts, repos.Comments, app.Matters)
	app.Exports = service.NewExportService(repos.Drafts, app.Matters, repos.Exports, app.Ledger, objects,
		service.ExportConfig{
			Retention: cfg.ExportRetention,
			GrantTTL:  cfg.UploadGrantTTL,
		}, logger)
	app.Purge = service.NewPurgeService(repos, objects, service.PurgeConfig{
		Interval:      cfg.PurgeInterval,
		BatchSize:     cfg.PurgeBatchSize,
		Concurrency:   cfg.PurgeConcurrency,
		DeleteRetries: cfg.PurgeDeleteRetries,
		FinalizeGrace: cfg.FinalizeGrace,
	}, logger)
	app.Reconcile = service.NewReconcileService(repos.Files, app.OCR, service.ReconcileConfig{
		Interval:     cfg.OCRReconcileInterval,
		StuckTimeout: cfg.OCRStuckTimeout,
		BatchSize:    cfg.PurgeBatchSize,
	}, logger)
}

// authMiddleware возвращает JWT middleware или DevAuth при LM_AUTH_DISABLED=true.
func (app *App) authMiddleware(cfg *config.Config, health *handlers.HealthHandler, dhCfg *service.DephealthConfig) (func(http.Handler) http.Handler, error) {
	if cfg.AuthDisabled {
		app.logger.Warn("Аутентификация отключена, субъект берётся из заголовка",
			slog.String("header", middleware.HeaderDebugSubject),
		)
		return middleware.DevAuth(app.logger), nil
	}

	jwtAuth, err := middleware.NewJWTAuth(
		cfg.JWKSUrl,
		cfg.JWKSCACert,
		cfg.TLSSkipVerify,
		cfg.JWKSClientTimeout,
		cfg.JWKSRefreshInterval,
		cfg.JWTLeeway,
		app.logger,
	)
	if err != nil {
		return nil, fmt.Errorf("ошибка инициализации JWT: %w", err)
	}

	jwksChecker, err := middleware.NewJWKSReadinessChecker(cfg.JWKSUrl, cfg.JWKSCACert, cfg.TLSSkipVerify, cfg.JWKSClientTimeout)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания JWKS readiness checker: %w", err)
	}
	health.AddCheck("jwks", jwksChecker)

	dhCfg.JWKSURL = cfg.JWKSUrl
	dhCfg.TLSSkipVerify = cfg.TLSSkipVerify

	app.logger.Info("JWT аутентификация настроена", slog.String("jwks_url", cfg.JWKSUrl))
	return jwtAuth.Middleware(), nil
}

// Close освобождает ресурсы в обратном порядке открытия.
func (app *App) Close() {
	for i := len(app.closers) - 1; i >= 0; i-- {
		app.closers[i]()
	}
	app.closers = nil
}
