// purge.go — планировщик очистки (Lifecycle/Purge Scheduler).
//
// Один проход очистки:
//  1. Файлы и экспорты с purge_at <= now и is_purged = false, страницами:
//     при активном задании на цель запись откладывается до следующего прохода,
//     иначе удаляется объект, затем is_purged переводится false → true (CAS)
//  2. Брошенные сессии загрузки (не завершены, срок finalize истёк):
//     сессия удаляется CAS-ом, затем удаляется объект
//
// Сбой одной записи попадает в отчёт и не прерывает проход.
// Запускается тикером (LM_PURGE_INTERVAL), вручную через API
// и CloudEvent-функцией SweepExpired.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/errgroup"

	"github.com/bigkaa/goartstore/lifecycle-module/internal/domain/model"
	"github.com/bigkaa/goartstore/lifecycle-module/internal/repository"
	"github.com/bigkaa/goartstore/lifecycle-module/internal/storage/object"
)

// Prometheus метрики очистки
var (
	purgeRunsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lm_purge_runs_total",
		Help: "Общее количество проходов очистки",
	})

	// purgeItemsTotal — исходы обработки записей по виду.
	purgeItemsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lm_purge_items_total",
		Help: "Количество обработанных очисткой записей по виду и исходу",
	}, []string{"kind", "outcome"})

	purgeDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "lm_purge_duration_seconds",
		Help:    "Длительность прохода очистки в секундах",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 300},
	})
)

// Виды записей в отчёте очистки.
const (
	PurgeKindFile    = "file"
	PurgeKindExport  = "export"
	PurgeKindSession = "session"
)

type purgeOutcome string

const (
	outcomePurged   purgeOutcome = "purged"
	outcomeDeferred purgeOutcome = "deferred"
	outcomeSkipped  purgeOutcome = "skipped"
	outcomeFailed   purgeOutcome = "failed"
	// outcomeOverlapped — запись очищена, но после отметки обнаружено
	// активное задание, созданное во время удаления объекта.
	outcomeOverlapped purgeOutcome = "overlapped"
)

// recordFunc учитывает исход обработки записи в отчёте прохода.
type recordFunc func(kind, id string, outcome purgeOutcome, err error)

// PurgeConfig — параметры очистки.
type PurgeConfig struct {
	Interval      time.Duration
	BatchSize     int
	Concurrency   int
	DeleteRetries int
	// FinalizeGrace — сессия считается брошенной после expires_at + FinalizeGrace
	FinalizeGrace time.Duration
	// RetryDelay — начальная пауза между попытками удаления объекта
	RetryDelay time.Duration
}

// PurgeFailure — сбой обработки одной записи.
type PurgeFailure struct {
	Kind  string `json:"kind"`
	ID    string `json:"id,omitempty"`
	Error string `json:"error"`
}

// PurgeReport — результат одного прохода очистки.
type PurgeReport struct {
	PurgedFiles       int            `json:"purged_files"`
	PurgedExports     int            `json:"purged_exports"`
	Deferred          int            `json:"deferred"`
	Skipped           int            `json:"skipped"`
	Overlapped        int            `json:"overlapped"`
	AbandonedSessions int            `json:"abandoned_sessions"`
	Failed            []PurgeFailure `json:"failed"`
	StartedAt         time.Time      `json:"started_at"`
	Duration          time.Duration  `json:"duration_ns"`
}

// purgeItem — кандидат на очистку.
type purgeItem struct {
	kind   string
	id     string
	path   string
	target model.Target
	at     time.Time // purge_at, позиция курсора
}

// purgePage читает очередную страницу кандидатов после курсора.
type purgePage func(ctx context.Context, now time.Time, after repository.Cursor, limit int) ([]purgeItem, error)

// PurgeService — планировщик очистки.
type PurgeService struct {
	files    repository.FileRepository
	exports  repository.ExportRepository
	sessions repository.SessionRepository
	jobs     repository.JobRepository
	objects  object.Store
	cfg      PurgeConfig
	logger   *slog.Logger
	now      func() time.Time

	mu        sync.Mutex // защита от параллельного запуска
	inProcess bool
	cancel    context.CancelFunc
}

// NewPurgeService создаёт планировщик очистки.
func NewPurgeService(
	repos *repository.Repositories,
	objects object.Store,
	cfg PurgeConfig,
	logger *slog.Logger,
) *PurgeService {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 500
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.DeleteRetries <= 0 {
		cfg.DeleteRetries = 1
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 500 * time.Millisecond
	}
	return &PurgeService{
		files:    repos.Files,
		exports:  repos.Exports,
		sessions: repos.Sessions,
		jobs:     repos.Jobs,
		objects:  objects,
		cfg:      cfg,
		logger:   logger.With(slog.String("component", "purge")),
		now:      time.Now,
	}
}

// Start запускает фоновую горутину очистки с периодическим тикером.
func (p *PurgeService) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	go p.run(runCtx)

	p.logger.Info("Очистка запущена",
		slog.String("interval", p.cfg.Interval.String()),
	)
}

// Stop останавливает фоновую очистку.
func (p *PurgeService) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.logger.Info("Очистка остановлена")
}

func (p *PurgeService) run(ctx context.Context) {
	// Первый проход — сразу после старта
	p.RunOnce(ctx)

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.RunOnce(ctx)
		}
	}
}

// RunOnce выполняет проход очистки на текущий момент.
func (p *PurgeService) RunOnce(ctx context.Context) (*PurgeReport, bool) {
	return p.Sweep(ctx, p.now().UTC())
}

// Sweep выполняет проход очистки на момент now.
// Если проход уже выполняется, возвращает nil, true.
func (p *PurgeService) Sweep(ctx context.Context, now time.Time) (*PurgeReport, bool) {
	p.mu.Lock()
	if p.inProcess {
		p.mu.Unlock()
		p.logger.Info("Очистка уже выполняется, проход пропущен")
		return nil, true
	}
	p.inProcess = true
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		p.inProcess = false
		p.mu.Unlock()
	}()

	start := time.Now()
	report := &PurgeReport{StartedAt: now, Failed: []PurgeFailure{}}
	var rmu sync.Mutex

	record := func(kind, id string, outcome purgeOutcome, err error) {
		purgeItemsTotal.WithLabelValues(kind, string(outcome)).Inc()
		rmu.Lock()
		defer rmu.Unlock()
		switch outcome {
		case outcomePurged, outcomeOverlapped:
			if outcome == outcomeOverlapped {
				report.Overlapped++
			}
			switch kind {
			case PurgeKindFile:
				report.PurgedFiles++
			case PurgeKindExport:
				report.PurgedExports++
			case PurgeKindSession:
				report.AbandonedSessions++
			}
		case outcomeDeferred:
			report.Deferred++
		case outcomeSkipped:
			report.Skipped++
		case outcomeFailed:
			report.Failed = append(report.Failed, PurgeFailure{Kind: kind, ID: id, Error: err.Error()})
			p.logger.Error("Очистка: сбой обработки записи",
				slog.String("kind", kind),
				slog.String("id", id),
				slog.String("error", err.Error()),
			)
		}
	}

	p.sweepKind(ctx, now, PurgeKindFile, p.filePage, record)
	p.sweepKind(ctx, now, PurgeKindExport, p.exportPage, record)

	sessions, err := p.sessions.ListAbandoned(ctx, now.Add(-p.cfg.FinalizeGrace), p.cfg.BatchSize)
	if err != nil {
		record(PurgeKindSession, "", outcomeFailed, fmt.Errorf("список брошенных сессий: %w", err))
	}
	sg := new(errgroup.Group)
	sg.SetLimit(p.cfg.Concurrency)
	for _, s := range sessions {
		sg.Go(func() error {
			outcome, err := p.purgeSession(ctx, s)
			record(PurgeKindSession, s.FileID, outcome, err)
			return nil
		})
	}
	_ = sg.Wait()

	report.Duration = time.Since(start)

	purgeRunsTotal.Inc()
	purgeDurationSeconds.Observe(report.Duration.Seconds())

	p.logger.Info("Очистка завершена",
		slog.Int("purged_files", report.PurgedFiles),
		slog.Int("purged_exports", report.PurgedExports),
		slog.Int("deferred", report.Deferred),
		slog.Int("skipped", report.Skipped),
		slog.Int("overlapped", report.Overlapped),
		slog.Int("abandoned_sessions", report.AbandonedSessions),
		slog.Int("failed", len(report.Failed)),
		slog.Duration("duration", report.Duration),
	)
	return report, false
}

// sweepKind обходит кандидатов одного вида страницами по BatchSize.
// Курсор (purge_at, id) сдвигается за каждую прочитанную запись, поэтому
// отложенные записи не заслоняют следующие. Обход заканчивается на неполной
// странице.
func (p *PurgeService) sweepKind(ctx context.Context, now time.Time, kind string, next purgePage, record recordFunc) {
	var after repository.Cursor
	for ctx.Err() == nil {
		items, err := next(ctx, now, after, p.cfg.BatchSize)
		if err != nil {
			record(kind, "", outcomeFailed, fmt.Errorf("список на очистку (%s): %w", kind, err))
			return
		}

		g := new(errgroup.Group)
		g.SetLimit(p.cfg.Concurrency)
		for _, it := range items {
			g.Go(func() error {
				outcome, err := p.purgeItem(ctx, it, now)
				record(it.kind, it.id, outcome, err)
				return nil
			})
		}
		_ = g.Wait()

		if len(items) < p.cfg.BatchSize {
			return
		}
		last := items[len(items)-1]
		after = repository.Cursor{At: last.at, ID: last.id}
	}
}

func (p *PurgeService) filePage(ctx context.Context, now time.Time, after repository.Cursor, limit int) ([]purgeItem, error) {
	files, err := p.files.ListPurgeCandidates(ctx, now, after, limit)
	if err != nil {
		return nil, err
	}
	items := make([]purgeItem, 0, len(files))
	for _, f := range files {
		items = append(items, purgeItem{kind: PurgeKindFile, id: f.ID, path: f.StoragePath, target: model.FileTarget(f.ID), at: f.PurgeAt})
	}
	return items, nil
}

func (p *PurgeService) exportPage(ctx context.Context, now time.Time, after repository.Cursor, limit int) ([]purgeItem, error) {
	exports, err := p.exports.ListPurgeCandidates(ctx, now, after, limit)
	if err != nil {
		return nil, err
	}
	items := make([]purgeItem, 0, len(exports))
	for _, e := range exports {
		items = append(items, purgeItem{kind: PurgeKindExport, id: e.ID, path: e.StoragePath, target: model.ExportTarget(e.ID), at: e.PurgeAt})
	}
	return items, nil
}

// purgeItem очищает один файл или экспорт.
//
// Проверка активных заданий и удаление объекта не атомарны: задание,
// созданное между ними, увидит уже удалённый объект. Исполнитель такого
// задания завершит его ошибкой. Сравнение с purge_at идёт по часам
// экземпляра, выполняющего проход; расхождение часов между экземплярами
// сдвигает момент очистки, но не меняет её исход. После отметки is_purged
// задания проверяются повторно, пересечение попадает в отчёт.
func (p *PurgeService) purgeItem(ctx context.Context, it purgeItem, now time.Time) (purgeOutcome, error) {
	active, err := p.jobs.ListActiveForTarget(ctx, it.target)
	if err != nil {
		return outcomeFailed, fmt.Errorf("проверка активных заданий: %w", err)
	}
	if len(active) > 0 {
		p.logger.Debug("Очистка отложена: есть активное задание",
			slog.String("kind", it.kind),
			slog.String("id", it.id),
			slog.String("job_id", active[0].ID),
		)
		return outcomeDeferred, nil
	}

	if err := p.deleteObject(ctx, it.path); err != nil {
		return outcomeFailed, err
	}

	switch it.kind {
	case PurgeKindFile:
		err = p.files.MarkPurged(ctx, it.id, now)
	case PurgeKindExport:
		err = p.exports.MarkPurged(ctx, it.id, now)
	}
	if errors.Is(err, repository.ErrStateConflict) {
		// Запись уже очищена параллельным проходом.
		return outcomeSkipped, nil
	}
	if err != nil {
		return outcomeFailed, fmt.Errorf("отметка очистки: %w", err)
	}

	if active, err := p.jobs.ListActiveForTarget(ctx, it.target); err == nil && len(active) > 0 {
		p.logger.Warn("Очистка пересеклась с активным заданием",
			slog.String("kind", it.kind),
			slog.String("id", it.id),
			slog.String("job_id", active[0].ID),
			slog.String("job_type", string(active[0].Type)),
		)
		return outcomeOverlapped, nil
	}

	p.logger.Debug("Запись очищена",
		slog.String("kind", it.kind),
		slog.String("id", it.id),
		slog.String("storage_path", it.path),
	)
	return outcomePurged, nil
}

// purgeSession удаляет брошенную сессию загрузки и её объект.
func (p *PurgeService) purgeSession(ctx context.Context, s *model.UploadSession) (purgeOutcome, error) {
	err := p.sessions.DeleteUnfinalized(ctx, s.FileID)
	if errors.Is(err, repository.ErrStateConflict) || errors.Is(err, repository.ErrNotFound) {
		return outcomeSkipped, nil
	}
	if err != nil {
		return outcomeFailed, fmt.Errorf("удаление сессии: %w", err)
	}
	if err := p.deleteObject(ctx, s.StoragePath); err != nil {
		return outcomeFailed, err
	}
	return outcomePurged, nil
}

// deleteObject удаляет объект с повторами при недоступности хранилища.
// Пауза между попытками удваивается.
func (p *PurgeService) deleteObject(ctx context.Context, path string) error {
	delay := p.cfg.RetryDelay
	var lastErr error

	for attempt := 1; attempt <= p.cfg.DeleteRetries; attempt++ {
		err := p.objects.Delete(ctx, path)
		if err == nil {
			return nil
		}
		lastErr = err
		if !errors.Is(err, object.ErrUnavailable) || attempt == p.cfg.DeleteRetries {
			break
		}

		p.logger.Warn("Удаление объекта не удалось, повтор",
			slog.String("storage_path", path),
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", p.cfg.DeleteRetries),
			slog.String("backoff", delay.String()),
			slog.String("error", err.Error()),
		)
		select {
		case <-time.After(delay):
			delay *= 2
		case <-ctx.Done():
			return fmt.Errorf("удаление объекта %s прервано: %w", path, ctx.Err())
		}
	}
	return fmt.Errorf("удаление объекта %s: %w", path, lastErr)
}
