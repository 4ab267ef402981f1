package service

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/bigkaa/goartstore/lifecycle-module/internal/domain/model"
	"github.com/bigkaa/goartstore/lifecycle-module/internal/repository"
	"github.com/bigkaa/goartstore/lifecycle-module/internal/storage/filestore"
	"github.com/bigkaa/goartstore/lifecycle-module/internal/storage/memstore"
	"github.com/bigkaa/goartstore/lifecycle-module/internal/storage/object"
)

const (
	testRetention = 7 * 24 * time.Hour
	testGrantTTL  = 15 * time.Minute
	testGrace     = time.Hour
)

// testClock — управляемые часы для сервисов.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// testEnv — сервисы поверх memstore и локального хранилища объектов.
type testEnv struct {
	repos     *repository.Repositories
	objects   *filestore.FileStore
	store     object.Store
	clock     *testClock
	matters   *MatterService
	ledger    *JobLedger
	ocr       *OCRService
	uploads   *UploadService
	files     *FileService
	drafts    *DraftService
	exports   *ExportService
	purge     *PurgeService
	reconcile *ReconcileService
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// newTestEnv собирает сервисы. wrap позволяет подменить объектное хранилище.
func newTestEnv(t *testing.T, wrap ...func(object.Store) object.Store) *testEnv {
	t.Helper()
	logger := testLogger()

	fs, err := filestore.New(t.TempDir(), "test-secret-test-secret-test-secret", "http://lm.local")
	if err != nil {
		t.Fatalf("Ошибка создания FileStore: %v", err)
	}
	var store object.Store = fs
	for _, w := range wrap {
		store = w(store)
	}

	repos := memstore.New(logger).Repositories()
	clock := &testClock{now: time.Now().UTC().Truncate(time.Second)}

	env := &testEnv{repos: repos, objects: fs, store: store, clock: clock}
	env.matters = NewMatterService(repos.Matters, NewMembershipCache(100, time.Minute), logger)
	env.matters.now = clock.Now
	env.ledger = NewJobLedger(repos.Jobs, logger)
	env.ledger.now = clock.Now
	env.ocr = NewOCRService(repos.Files, env.ledger, NewPDFInspector(store, 0), logger)
	env.ocr.now = clock.Now
	env.uploads = NewUploadService(env.matters, repos.Sessions, repos.Files, store, env.ocr, UploadConfig{
		GrantTTL:      testGrantTTL,
		FinalizeGrace: testGrace,
		Retention:     testRetention,
		MaxFileSize:   10 << 20,
	}, logger)
	env.uploads.now = clock.Now
	env.files = NewFileService(repos.Files, env.matters, env.ocr, logger)
	env.drafts = NewDraftService(repos.Drafts, repos.Comments, env.matters)
	env.exports = NewExportService(repos.Drafts, env.matters, repos.Exports, env.ledger, store, ExportConfig{
		Retention: testRetention,
		GrantTTL:  testGrantTTL,
	}, logger)
	env.exports.now = clock.Now
	env.purge = NewPurgeService(repos, store, PurgeConfig{
		Interval:      time.Hour,
		BatchSize:     100,
		Concurrency:   4,
		DeleteRetries: 3,
		FinalizeGrace: testGrace,
		RetryDelay:    time.Millisecond,
	}, logger)
	env.purge.now = clock.Now
	env.reconcile = NewReconcileService(repos.Files, env.ocr, ReconcileConfig{
		Interval:     time.Hour,
		StuckTimeout: time.Hour,
	}, logger)
	env.reconcile.now = clock.Now
	return env
}

// newMatter создаёт активное дело с владельцем owner.
func (e *testEnv) newMatter(t *testing.T, owner string, others ...string) *model.Matter {
	t.Helper()
	m, err := e.matters.Create(context.Background(), "Дело", "Клиент", owner, others)
	if err != nil {
		t.Fatalf("Create matter: %v", err)
	}
	return m
}

// upload проходит полный цикл загрузки: сессия, запись объекта, finalize.
func (e *testEnv) upload(t *testing.T, matterID, user, name, fileType string, content []byte) *model.File {
	t.Helper()
	ctx := context.Background()

	sess, err := e.uploads.CreateSession(ctx, matterID, name, fileType, user)
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if _, err := e.objects.Save(sess.StoragePath, bytes.NewReader(content), 0); err != nil {
		t.Fatalf("Save: %v", err)
	}
	f, err := e.uploads.Finalize(ctx, sess.FileID, int64(len(content)), user)
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	return f
}

// activeOCR возвращает активное OCR-задание файла.
func (e *testEnv) activeOCR(t *testing.T, fileID string) *model.Job {
	t.Helper()
	job, err := e.ocr.activeOCRJob(context.Background(), model.FileTarget(fileID))
	if err != nil {
		t.Fatalf("activeOCRJob: %v", err)
	}
	return job
}

func (e *testEnv) file(t *testing.T, id string) *model.File {
	t.Helper()
	f, err := e.repos.Files.GetByID(context.Background(), id)
	if err != nil {
		t.Fatalf("Files.GetByID(%s): %v", id, err)
	}
	return f
}

// assertOCRInvariants проверяет согласованность OCR-полей файла.
func assertOCRInvariants(t *testing.T, f *model.File) {
	t.Helper()
	if err := f.OCR().Validate(f.Type); err != nil {
		t.Errorf("OCR-поля файла %s несогласованы: %v", f.ID, err)
	}
}

// faultyStore — хранилище с управляемыми сбоями.
type faultyStore struct {
	object.Store

	mu             sync.Mutex
	deleteFailures int   // сколько ближайших Delete вернут deleteErr
	deleteErr      error // ошибка Delete
	statErr        error // ошибка Stat, если задана
	deleteCalls    int
}

func (s *faultyStore) Delete(ctx context.Context, path string) error {
	s.mu.Lock()
	s.deleteCalls++
	if s.deleteFailures > 0 {
		s.deleteFailures--
		err := s.deleteErr
		s.mu.Unlock()
		return err
	}
	s.mu.Unlock()
	return s.Store.Delete(ctx, path)
}

func (s *faultyStore) Stat(ctx context.Context, path string) (*object.Info, error) {
	s.mu.Lock()
	err := s.statErr
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return s.Store.Stat(ctx, path)
}

func withFaults(fs *faultyStore) func(object.Store) object.Store {
	return func(inner object.Store) object.Store {
		fs.Store = inner
		return fs
	}
}

var errPermanent = errors.New("доступ запрещён")
