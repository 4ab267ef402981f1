// reconcile.go — сверка зависших OCR.
//
// Pdf-файл может остаться в pending/processing без активного задания:
// постановка после finalize не удалась или воркер пропал после старта.
// Сверка находит такие файлы старше LM_OCR_STUCK_TIMEOUT, возвращает
// processing в pending и ставит OCR-задание заново.
//
// Запускается как горутина с периодическим тикером (LM_OCR_RECONCILE_INTERVAL)
// и вручную через API.
package service

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/goartstore/lifecycle-module/internal/domain/model"
	"github.com/bigkaa/goartstore/lifecycle-module/internal/repository"
)

// Prometheus метрики сверки
var (
	reconcileRunsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lm_ocr_reconcile_runs_total",
		Help: "Общее количество запусков сверки OCR",
	})

	reconcileRequeuedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lm_ocr_reconcile_requeued_total",
		Help: "Количество OCR-заданий, поставленных сверкой заново",
	})
)

// ReconcileSubject — инициатор заданий, поставленных сверкой.
const ReconcileSubject = "system:ocr-reconcile"

// ReconcileResult — результат одного запуска сверки.
type ReconcileResult struct {
	Checked  int           `json:"checked"`
	Requeued int           `json:"requeued"`
	Reset    int           `json:"reset"`
	Errors   int           `json:"errors"`
	Duration time.Duration `json:"duration_ns"`
}

// ReconcileConfig — параметры сверки.
type ReconcileConfig struct {
	Interval     time.Duration
	StuckTimeout time.Duration
	BatchSize    int
}

// ReconcileService — сверка зависших OCR.
type ReconcileService struct {
	files  repository.FileRepository
	ocr    *OCRService
	cfg    ReconcileConfig
	logger *slog.Logger
	now    func() time.Time

	mu        sync.Mutex // защита от параллельного запуска
	inProcess bool
	cancel    context.CancelFunc
}

// NewReconcileService создаёт сервис сверки.
func NewReconcileService(
	files repository.FileRepository,
	ocr *OCRService,
	cfg ReconcileConfig,
	logger *slog.Logger,
) *ReconcileService {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	return &ReconcileService{
		files:  files,
		ocr:    ocr,
		cfg:    cfg,
		logger: logger.With(slog.String("component", "ocr_reconcile")),
		now:    time.Now,
	}
}

// Start запускает фоновую горутину сверки с периодическим тикером.
func (rs *ReconcileService) Start(ctx context.Context) {
	rsCtx, cancel := context.WithCancel(ctx)
	rs.cancel = cancel

	go rs.run(rsCtx)

	rs.logger.Info("Сверка OCR запущена",
		slog.String("interval", rs.cfg.Interval.String()),
		slog.String("stuck_timeout", rs.cfg.StuckTimeout.String()),
	)
}

// Stop останавливает фоновую сверку.
func (rs *ReconcileService) Stop() {
	if rs.cancel != nil {
		rs.cancel()
	}
	rs.logger.Info("Сверка OCR остановлена")
}

func (rs *ReconcileService) run(ctx context.Context) {
	ticker := time.NewTicker(rs.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rs.RunOnce(ctx)
		}
	}
}

// RunOnce выполняет один цикл сверки.
// Если сверка уже выполняется, возвращает nil, true.
func (rs *ReconcileService) RunOnce(ctx context.Context) (*ReconcileResult, bool) {
	rs.mu.Lock()
	if rs.inProcess {
		rs.mu.Unlock()
		return nil, true
	}
	rs.inProcess = true
	rs.mu.Unlock()

	defer func() {
		rs.mu.Lock()
		rs.inProcess = false
		rs.mu.Unlock()
	}()

	start := time.Now()
	result := &ReconcileResult{}
	now := rs.now().UTC()

	// Файлы с живым заданием пропускаются, курсор (uploaded_at, id)
	// проходит мимо них до неполной страницы.
	var after repository.Cursor
	for ctx.Err() == nil {
		files, err := rs.files.ListStuckOCR(ctx, now.Add(-rs.cfg.StuckTimeout), after, rs.cfg.BatchSize)
		if err != nil {
			rs.logger.Error("Сверка OCR: ошибка получения файлов", slog.String("error", err.Error()))
			result.Errors++
			break
		}

		for _, f := range files {
			result.Checked++
			rs.reconcileFile(ctx, f, now, result)
		}

		if len(files) < rs.cfg.BatchSize {
			break
		}
		last := files[len(files)-1]
		after = repository.Cursor{At: last.UploadedAt, ID: last.ID}
	}

	result.Duration = time.Since(start)
	reconcileRunsTotal.Inc()
	reconcileRequeuedTotal.Add(float64(result.Requeued))

	rs.logger.Info("Сверка OCR завершена",
		slog.Int("checked", result.Checked),
		slog.Int("requeued", result.Requeued),
		slog.Int("reset", result.Reset),
		slog.Int("errors", result.Errors),
		slog.Duration("duration", result.Duration),
	)
	return result, false
}

func (rs *ReconcileService) reconcileFile(ctx context.Context, f *model.File, now time.Time, result *ReconcileResult) {
	if f.IsPurged || f.IsExpired(now) {
		return
	}
	job, err := rs.ocr.activeOCRJob(ctx, model.FileTarget(f.ID))
	if err != nil {
		rs.logger.Error("Сверка OCR: ошибка проверки заданий",
			slog.String("file_id", f.ID),
			slog.String("error", err.Error()),
		)
		result.Errors++
		return
	}
	if job != nil {
		return
	}

	if f.OCRStatus == model.OCRStatusProcessing {
		updated, err := rs.files.UpdateOCR(ctx, f.ID, model.OCRStatusProcessing, model.OCRState{Status: model.OCRStatusPending})
		if errors.Is(err, repository.ErrStateConflict) {
			return
		}
		if err != nil {
			rs.logger.Error("Сверка OCR: ошибка сброса статуса",
				slog.String("file_id", f.ID),
				slog.String("error", err.Error()),
			)
			result.Errors++
			return
		}
		f = updated
		result.Reset++
	}

	job, err = rs.ocr.EnqueueOCR(ctx, f, ReconcileSubject)
	if err != nil {
		rs.logger.Error("Сверка OCR: ошибка постановки задания",
			slog.String("file_id", f.ID),
			slog.String("error", err.Error()),
		)
		result.Errors++
		return
	}
	result.Requeued++
	rs.logger.Info("OCR-задание поставлено сверкой",
		slog.String("file_id", f.ID),
		slog.String("job_id", job.ID),
	)
}
