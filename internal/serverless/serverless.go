// Пакет serverless — точки входа Cloud Functions поверх того же
// HTTP-конвейера, что и сервер: аутентификация, валидация и обработчики.
package serverless

import (
	"context"
	"log/slog"
	"net/http"

	cloudevents "github.com/cloudevents/sdk-go/v2"

	apierrors "github.com/bigkaa/goartstore/lifecycle-module/internal/api/errors"
	"github.com/bigkaa/goartstore/lifecycle-module/internal/bootstrap"
	"github.com/bigkaa/goartstore/lifecycle-module/internal/config"
	"github.com/bigkaa/goartstore/lifecycle-module/internal/server"
	"github.com/bigkaa/goartstore/lifecycle-module/internal/service"
)

// Маршруты API, на которые отображаются HTTP-функции.
const (
	createUploadPath   = "/api/v1/uploads"
	finalizeUploadPath = "/api/v1/uploads/finalize"
)

// Functions — обработчики serverless-функций.
type Functions struct {
	api    http.Handler
	purge  *service.PurgeService
	logger *slog.Logger
}

// New создаёт функции поверх собранного приложения.
func New(cfg *config.Config, app *bootstrap.App, logger *slog.Logger) *Functions {
	return &Functions{
		api:    server.New(cfg, logger, app.Handler, app.Middlewares...).Handler(),
		purge:  app.Purge,
		logger: logger.With(slog.String("component", "serverless")),
	}
}

// CreateUploadSession — HTTP-функция создания сессии загрузки.
func (f *Functions) CreateUploadSession(w http.ResponseWriter, r *http.Request) {
	f.forward(w, r, createUploadPath)
}

// FinalizeUpload — HTTP-функция завершения загрузки.
func (f *Functions) FinalizeUpload(w http.ResponseWriter, r *http.Request) {
	f.forward(w, r, finalizeUploadPath)
}

// forward передаёт POST-запрос функции в маршрут API path.
func (f *Functions) forward(w http.ResponseWriter, r *http.Request, path string) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		apierrors.WriteError(w, http.StatusMethodNotAllowed, apierrors.CodeValidationError,
			"Метод не поддерживается: "+r.Method)
		return
	}
	req := r.Clone(r.Context())
	req.URL.Path = path
	req.URL.RawPath = ""
	req.RequestURI = path
	f.api.ServeHTTP(w, req)
}

// SweepExpired — CloudEvent-функция прохода очистки (Cloud Scheduler → Pub/Sub).
// Параллельный проход не считается ошибкой: событие подтверждается.
func (f *Functions) SweepExpired(ctx context.Context, e cloudevents.Event) error {
	f.logger.Info("Получено событие очистки",
		slog.String("event_id", e.ID()),
		slog.String("event_type", e.Type()),
		slog.String("source", e.Source()),
	)

	report, skipped := f.purge.RunOnce(ctx)
	if skipped {
		f.logger.Info("Проход очистки уже выполняется, событие пропущено",
			slog.String("event_id", e.ID()),
		)
		return nil
	}

	f.logger.Info("Проход очистки по событию завершён",
		slog.String("event_id", e.ID()),
		slog.Int("purged_files", report.PurgedFiles),
		slog.Int("purged_exports", report.PurgedExports),
		slog.Int("abandoned_sessions", report.AbandonedSessions),
		slog.Int("overlapped", report.Overlapped),
		slog.Int("failed", len(report.Failed)),
	)
	return ctx.Err()
}
