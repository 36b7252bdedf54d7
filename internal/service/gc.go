// gc.go — сервис жизненного цикла объектов (Garbage Collection).
//
// GC выполняет три задачи:
//  1. Помечает active объекты с истёкшим сроком как expired
//  2. Физически удаляет объекты со статусом expired/exhausted/deleted
//     (файл данных + attr.json + запись в индексе)
//  3. Чистит завершённые WAL-записи
//
// Reclaim — единственный путь физического удаления в сервисе: его же
// вызывают Download (после исчерпания лимита) и Delete (по секрету),
// чтобы логика удаления не дублировалась.
//
// Запускается как горутина с периодическим тикером (TR_GC_INTERVAL).
package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/jonte/transfer/internal/domain/model"
	"github.com/jonte/transfer/internal/storage/attr"
	"github.com/jonte/transfer/internal/storage/filestore"
	"github.com/jonte/transfer/internal/storage/index"
	"github.com/jonte/transfer/internal/storage/wal"
)

// Prometheus метрики GC
var (
	// gcRunsTotal — количество запусков GC.
	gcRunsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tr_gc_runs_total",
		Help: "Общее количество запусков GC",
	})

	// gcFilesDeletedTotal — количество физически удалённых объектов.
	gcFilesDeletedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tr_gc_files_deleted_total",
		Help: "Общее количество объектов, удалённых GC",
	})

	// gcFilesExpiredTotal — количество объектов, помеченных как expired.
	gcFilesExpiredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tr_gc_files_expired_total",
		Help: "Общее количество объектов, помеченных как expired",
	})

	// gcDurationSeconds — длительность выполнения GC.
	gcDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tr_gc_duration_seconds",
		Help:    "Длительность выполнения GC в секундах",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
	})
)

// GCResult — результат одного запуска GC.
type GCResult struct {
	// ExpiredCount — количество объектов, помеченных как expired
	ExpiredCount int
	// DeletedCount — количество физически удалённых объектов
	DeletedCount int
	// Errors — количество ошибок при обработке
	Errors int
	// Duration — длительность выполнения
	Duration time.Duration
}

// GCService — сервис фоновой очистки объектов.
type GCService struct {
	store     *filestore.FileStore
	idx       *index.Index
	walEngine *wal.WAL
	interval  time.Duration
	logger    *slog.Logger

	mu      sync.Mutex // защита от параллельного запуска RunOnce
	running bool       // флаг работы фонового процесса
	cancel  context.CancelFunc
}

// NewGCService создаёт сервис GC.
func NewGCService(
	store *filestore.FileStore,
	idx *index.Index,
	walEngine *wal.WAL,
	interval time.Duration,
	logger *slog.Logger,
) *GCService {
	return &GCService{
		store:     store,
		idx:       idx,
		walEngine: walEngine,
		interval:  interval,
		logger:    logger.With(slog.String("component", "gc")),
	}
}

// Start запускает фоновую горутину GC с периодическим тикером.
// Вызывается один раз при старте приложения.
func (gc *GCService) Start(ctx context.Context) {
	gcCtx, cancel := context.WithCancel(ctx)
	gc.cancel = cancel
	gc.running = true

	go gc.run(gcCtx)

	gc.logger.Info("GC запущен",
		slog.String("interval", gc.interval.String()),
	)
}

// Stop останавливает фоновый процесс GC.
func (gc *GCService) Stop() {
	if gc.cancel != nil {
		gc.cancel()
	}
	gc.running = false
	gc.logger.Info("GC остановлен")
}

// run — основной цикл фоновой горутины.
func (gc *GCService) run(ctx context.Context) {
	// Первый запуск — сразу после старта
	gc.RunOnce()

	ticker := time.NewTicker(gc.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			gc.RunOnce()
		}
	}
}

// RunOnce выполняет один цикл GC.
// Потокобезопасен: использует mutex для защиты от параллельного запуска.
//
// Порядок обработки:
//  1. Пометка expired (active объекты с истёкшим сроком)
//  2. Физическое удаление expired/exhausted/deleted объектов
//  3. Очистка завершённых WAL-записей
func (gc *GCService) RunOnce() *GCResult {
	gc.mu.Lock()
	defer gc.mu.Unlock()

	start := time.Now()
	result := &GCResult{}

	gc.logger.Debug("GC запуск начат")

	now := time.Now().UTC()

	// Фаза 1: пометка expired объектов
	result.ExpiredCount = gc.markExpired(now)

	// Фаза 2: физическое удаление неактивных объектов
	for _, status := range []model.FileStatus{model.StatusExpired, model.StatusExhausted, model.StatusDeleted} {
		deleted, errs := gc.reclaimByStatus(status)
		result.DeletedCount += deleted
		result.Errors += errs
	}

	// Фаза 3: очистка WAL
	if gc.walEngine != nil {
		if _, err := gc.walEngine.CleanCompleted(); err != nil {
			gc.logger.Error("GC: ошибка очистки WAL", slog.String("error", err.Error()))
			result.Errors++
		}
	}

	result.Duration = time.Since(start)

	// Обновляем Prometheus метрики
	gcRunsTotal.Inc()
	gcFilesDeletedTotal.Add(float64(result.DeletedCount))
	gcFilesExpiredTotal.Add(float64(result.ExpiredCount))
	gcDurationSeconds.Observe(result.Duration.Seconds())

	gc.logger.Info("GC завершён",
		slog.Int("expired", result.ExpiredCount),
		slog.Int("deleted", result.DeletedCount),
		slog.Int("errors", result.Errors),
		slog.Duration("duration", result.Duration),
	)

	return result
}

// markExpired находит active объекты с истёкшим сроком и помечает их
// как expired. Обновляет и индекс, и attr.json.
func (gc *GCService) markExpired(now time.Time) int {
	files := gc.idx.ListByStatus(model.StatusActive)

	count := 0
	for _, meta := range files {
		if !meta.IsExpired(now) {
			continue
		}

		meta.Status = model.StatusExpired
		gc.idx.SetStatus(meta.Token, model.StatusExpired)

		attrPath := attr.AttrFilePath(gc.store.FullPath(meta.StoragePath))
		if err := attr.Write(attrPath, meta); err != nil {
			gc.logger.Error("GC: ошибка обновления attr.json",
				slog.String("token", meta.Token),
				slog.String("error", err.Error()),
			)
		}

		gc.logger.Debug("GC: объект помечен как expired",
			slog.String("token", meta.Token),
			slog.String("filename", meta.Filename),
		)
		count++
	}

	return count
}

// reclaimByStatus физически удаляет все объекты с указанным статусом.
func (gc *GCService) reclaimByStatus(status model.FileStatus) (deleted, errors int) {
	for _, meta := range gc.idx.ListByStatus(status) {
		if err := gc.Reclaim(meta.Token); err != nil {
			errors++
			continue
		}
		deleted++
	}
	return deleted, errors
}

// Reclaim физически удаляет объект: файл данных, attr.json и запись
// в индексе, под WAL-транзакцией. Идемпотентен: повторный вызов для
// уже удалённого токена — no-op.
func (gc *GCService) Reclaim(tok string) error {
	meta := gc.idx.Get(tok)
	if meta == nil {
		return nil
	}

	walEntry, err := gc.walEngine.StartTransaction(wal.OpFileDelete, tok)
	if err != nil {
		gc.logger.Error("Reclaim: ошибка создания WAL-транзакции",
			slog.String("token", tok),
			slog.String("error", err.Error()),
		)
		return err
	}

	if err := gc.store.DeleteFile(meta.StoragePath); err != nil {
		gc.logger.Error("Reclaim: ошибка удаления файла",
			slog.String("token", tok),
			slog.String("error", err.Error()),
		)
		_ = gc.walEngine.Rollback(walEntry.TransactionID)
		return err
	}

	attrPath := attr.AttrFilePath(gc.store.FullPath(meta.StoragePath))
	if err := attr.Delete(attrPath); err != nil {
		// Файл данных уже удалён — не критично, продолжаем
		gc.logger.Error("Reclaim: ошибка удаления attr.json",
			slog.String("token", tok),
			slog.String("error", err.Error()),
		)
	}

	gc.idx.Remove(tok)

	if err := gc.walEngine.Commit(walEntry.TransactionID); err != nil {
		gc.logger.Error("Reclaim: ошибка коммита WAL (объект удалён)",
			slog.String("tx_id", walEntry.TransactionID),
			slog.String("error", err.Error()),
		)
	}

	gc.logger.Debug("Объект удалён",
		slog.String("token", tok),
		slog.String("filename", meta.Filename),
	)

	return nil
}
