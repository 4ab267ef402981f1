// jobs.go — журнал заданий (Job Ledger).
//
// Постановка идемпотентна по (type, target): пока для цели есть активное
// задание того же типа, Enqueue возвращает его. Переходы статусов —
// compare-and-swap по исходному статусу:
//
//	pending → processing → completed | failed
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/goartstore/lifecycle-module/internal/domain/lifecycle"
	"github.com/bigkaa/goartstore/lifecycle-module/internal/domain/model"
	"github.com/bigkaa/goartstore/lifecycle-module/internal/repository"
)

// Prometheus метрики журнала заданий
var (
	jobsEnqueuedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lm_jobs_enqueued_total",
		Help: "Количество вызовов постановки заданий (created=false — возвращено активное)",
	}, []string{"type", "created"})

	jobTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lm_job_transitions_total",
		Help: "Количество выполненных переходов статусов заданий",
	}, []string{"type", "to"})

	jobTransitionsRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lm_job_transitions_rejected_total",
		Help: "Количество отклонённых переходов статусов заданий",
	}, []string{"type", "to"})
)

// Лимит списков заданий по умолчанию и максимальный.
const (
	DefaultJobListLimit = 100
	MaxJobListLimit     = 1000
)

// JobLedger — журнал заданий.
type JobLedger struct {
	jobs   repository.JobRepository
	logger *slog.Logger
	now    func() time.Time
}

// NewJobLedger создаёт журнал заданий.
func NewJobLedger(jobs repository.JobRepository, logger *slog.Logger) *JobLedger {
	return &JobLedger{
		jobs:   jobs,
		logger: logger.With(slog.String("component", "job_ledger")),
		now:    time.Now,
	}
}

// Enqueue создаёт задание pending или возвращает существующее активное
// задание того же типа для той же цели (без изменений).
func (l *JobLedger) Enqueue(ctx context.Context, jt model.JobType, target model.Target, creator string, metadata map[string]any) (*model.Job, error) {
	if err := jt.ValidateTarget(target); err != nil {
		return nil, invalidArgf("%v", err)
	}
	if creator == "" {
		return nil, invalidArgf("создатель задания обязателен")
	}

	job := &model.Job{
		ID:        uuid.NewString(),
		Type:      jt,
		Status:    model.JobStatusPending,
		Target:    target,
		CreatedBy: creator,
		CreatedAt: l.now().UTC(),
		Metadata:  model.MergeMetadata(nil, metadata),
	}

	result, created, err := l.jobs.CreateActive(ctx, job)
	if err != nil {
		return nil, fmt.Errorf("постановка задания %s для %s: %w", jt, target, err)
	}
	jobsEnqueuedTotal.WithLabelValues(string(jt), fmt.Sprint(created)).Inc()

	if created {
		l.logger.Info("Задание поставлено",
			slog.String("job_id", result.ID),
			slog.String("type", string(jt)),
			slog.String("target", target.String()),
			slog.String("created_by", creator),
		)
	} else {
		l.logger.Debug("Активное задание уже существует",
			slog.String("job_id", result.ID),
			slog.String("type", string(jt)),
			slog.String("target", target.String()),
		)
	}
	return result, nil
}

// MarkStarted переводит задание pending → processing.
func (l *JobLedger) MarkStarted(ctx context.Context, id string) (*model.Job, error) {
	now := l.now().UTC()
	return l.transition(ctx, id, model.JobStatusProcessing, model.JobPatch{StartedAt: &now})
}

// MarkCompleted переводит задание processing → completed и сливает
// результат в metadata.
func (l *JobLedger) MarkCompleted(ctx context.Context, id string, result map[string]any) (*model.Job, error) {
	now := l.now().UTC()
	return l.transition(ctx, id, model.JobStatusCompleted, model.JobPatch{CompletedAt: &now, Metadata: result})
}

// MarkFailed переводит задание processing → failed с текстом ошибки.
func (l *JobLedger) MarkFailed(ctx context.Context, id, message string) (*model.Job, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return nil, invalidArgf("текст ошибки задания обязателен")
	}
	now := l.now().UTC()
	return l.transition(ctx, id, model.JobStatusFailed, model.JobPatch{CompletedAt: &now, Error: &message})
}

// transition выполняет CAS по текущему статусу задания.
func (l *JobLedger) transition(ctx context.Context, id string, to model.JobStatus, patch model.JobPatch) (*model.Job, error) {
	job, err := l.jobs.GetByID(ctx, id)
	if err != nil {
		return nil, notFound(err, "задание %s", id)
	}
	if err := lifecycle.CheckJob(id, job.Status, to); err != nil {
		return nil, l.reject(job.Type, to, err)
	}

	updated, err := l.jobs.Transition(ctx, id, job.Status, to, patch)
	if errors.Is(err, repository.ErrStateConflict) {
		// Проигран CAS: ошибка строится по свежему статусу.
		fresh, getErr := l.jobs.GetByID(ctx, id)
		if getErr != nil {
			return nil, fmt.Errorf("перечитывание задания %s: %w", id, getErr)
		}
		return nil, l.reject(job.Type, to, lifecycle.NewTransitionError(lifecycle.EntityJob, id, fresh.Status, to))
	}
	if err != nil {
		return nil, notFound(err, "задание %s", id)
	}

	jobTransitionsTotal.WithLabelValues(string(job.Type), string(to)).Inc()
	l.logger.Info("Статус задания изменён",
		slog.String("job_id", id),
		slog.String("type", string(job.Type)),
		slog.String("from", string(job.Status)),
		slog.String("to", string(to)),
	)
	return updated, nil
}

func (l *JobLedger) reject(jt model.JobType, to model.JobStatus, err error) error {
	jobTransitionsRejectedTotal.WithLabelValues(string(jt), string(to)).Inc()
	l.logger.Warn("Переход задания отклонён", slog.String("error", err.Error()))
	return err
}

// Get возвращает задание по ID.
func (l *JobLedger) Get(ctx context.Context, id string) (*model.Job, error) {
	job, err := l.jobs.GetByID(ctx, id)
	if err != nil {
		return nil, notFound(err, "задание %s", id)
	}
	return job, nil
}

// ListActiveJobsFor возвращает активные задания цели любого типа.
func (l *JobLedger) ListActiveJobsFor(ctx context.Context, target model.Target) ([]*model.Job, error) {
	if err := target.Validate(); err != nil {
		return nil, invalidArgf("%v", err)
	}
	jobs, err := l.jobs.ListActiveForTarget(ctx, target)
	if err != nil {
		return nil, fmt.Errorf("активные задания %s: %w", target, err)
	}
	return jobs, nil
}

// ListPending возвращает задания pending указанного типа в порядке создания.
func (l *JobLedger) ListPending(ctx context.Context, jt model.JobType, limit int) ([]*model.Job, error) {
	status := model.JobStatusPending
	return l.List(ctx, repository.JobFilter{Type: &jt, Status: &status}, limit)
}

// List возвращает задания с фильтрацией.
func (l *JobLedger) List(ctx context.Context, filter repository.JobFilter, limit int) ([]*model.Job, error) {
	switch {
	case limit <= 0:
		limit = DefaultJobListLimit
	case limit > MaxJobListLimit:
		limit = MaxJobListLimit
	}
	jobs, err := l.jobs.List(ctx, filter, limit)
	if err != nil {
		return nil, fmt.Errorf("список заданий: %w", err)
	}
	return jobs, nil
}

// requireType проверяет тип задания для типизированных обработчиков.
func requireType(job *model.Job, jt model.JobType) error {
	if job.Type != jt {
		return invalidArgf("задание %s имеет тип %s, ожидался %s", job.ID, job.Type, jt)
	}
	return nil
}
