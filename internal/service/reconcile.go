// reconcile.go — сервис фоновой сверки хранилища.
//
// Сверка сравнивает диск с индексом и устраняет расхождения:
//   - orphaned_file: файл данных без attr.json (незавершённая загрузка,
//     пережившая рестарт) — удаляется
//   - orphaned_attr: attr.json без файла данных — удаляется
//   - stale_tmp: брошенный *.tmp файл — удаляется
//   - missing_file: запись в индексе без файла на диске — убирается
//
// Гарантирует, что байты истёкших и брошенных объектов не живут на
// диске бесконечно, даже если их никто никогда не запросит.
//
// Запускается как горутина с периодическим тикером (TR_RECONCILE_INTERVAL).
package service

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/jonte/transfer/internal/storage/attr"
	"github.com/jonte/transfer/internal/storage/filestore"
	"github.com/jonte/transfer/internal/storage/index"
)

// Prometheus метрики Reconciliation
var (
	// reconcileRunsTotal — количество запусков сверки.
	reconcileRunsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tr_reconcile_runs_total",
		Help: "Общее количество запусков сверки хранилища",
	})

	// reconcileIssuesTotal — количество обнаруженных проблем по типу.
	reconcileIssuesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tr_reconcile_issues_total",
		Help: "Общее количество проблем, обнаруженных сверкой",
	}, []string{"type"})

	// reconcileDurationSeconds — длительность выполнения сверки.
	reconcileDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tr_reconcile_duration_seconds",
		Help:    "Длительность выполнения сверки в секундах",
		Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300},
	})
)

// staleTmpAge — возраст, после которого *.tmp файл считается брошенным.
// Должен с запасом превышать время самой долгой загрузки.
const staleTmpAge = time.Hour

// ReconcileResult — результат одного прохода сверки.
type ReconcileResult struct {
	// OrphanedFiles — удалено файлов данных без attr.json
	OrphanedFiles int
	// OrphanedAttrs — удалено attr.json без файла данных
	OrphanedAttrs int
	// StaleTmp — удалено брошенных *.tmp файлов
	StaleTmp int
	// MissingFiles — убрано записей индекса без файла на диске
	MissingFiles int
	// Duration — длительность выполнения
	Duration time.Duration
}

// ReconcileService — сервис фоновой сверки хранилища.
type ReconcileService struct {
	store    *filestore.FileStore
	idx      *index.Index
	dataDir  string
	interval time.Duration
	logger   *slog.Logger

	mu     sync.Mutex // защита от параллельного запуска
	cancel context.CancelFunc
}

// NewReconcileService создаёт сервис сверки.
func NewReconcileService(
	store *filestore.FileStore,
	idx *index.Index,
	dataDir string,
	interval time.Duration,
	logger *slog.Logger,
) *ReconcileService {
	return &ReconcileService{
		store:    store,
		idx:      idx,
		dataDir:  dataDir,
		interval: interval,
		logger:   logger.With(slog.String("component", "reconcile")),
	}
}

// Start запускает фоновую горутину сверки с периодическим тикером.
func (rs *ReconcileService) Start(ctx context.Context) {
	rsCtx, cancel := context.WithCancel(ctx)
	rs.cancel = cancel

	go rs.run(rsCtx)

	rs.logger.Info("Сверка хранилища запущена",
		slog.String("interval", rs.interval.String()),
	)
}

// Stop останавливает фоновый процесс сверки.
func (rs *ReconcileService) Stop() {
	if rs.cancel != nil {
		rs.cancel()
	}
	rs.logger.Info("Сверка хранилища остановлена")
}

// run — основной цикл фоновой горутины.
func (rs *ReconcileService) run(ctx context.Context) {
	ticker := time.NewTicker(rs.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rs.RunOnce()
		}
	}
}

// RunOnce выполняет один проход сверки.
// Потокобезопасен: mutex защищает от параллельного запуска.
func (rs *ReconcileService) RunOnce() *ReconcileResult {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	start := time.Now()
	result := &ReconcileResult{}

	rs.logger.Debug("Сверка начата")

	entries, err := os.ReadDir(rs.dataDir)
	if err != nil {
		rs.logger.Error("Сверка: ошибка чтения директории данных",
			slog.String("error", err.Error()),
		)
		return result
	}

	now := time.Now()

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		fullPath := filepath.Join(rs.dataDir, name)

		switch {
		case strings.HasSuffix(name, ".tmp"):
			// Брошенный temp файл незавершённой записи
			info, err := entry.Info()
			if err != nil || now.Sub(info.ModTime()) < staleTmpAge {
				continue
			}
			if err := os.Remove(fullPath); err == nil {
				result.StaleTmp++
				reconcileIssuesTotal.WithLabelValues("stale_tmp").Inc()
				rs.logger.Warn("Сверка: удалён брошенный temp файл",
					slog.String("path", name),
				)
			}

		case attr.IsAttrFile(name):
			// attr.json без файла данных
			dataPath := attr.DataFilePathFromAttr(name)
			if rs.store.FileExists(dataPath) {
				continue
			}
			// Возрастной порог исключает гонку с Reclaim,
			// удаляющим файл данных раньше attr.json
			if info, err := entry.Info(); err != nil || now.Sub(info.ModTime()) < staleTmpAge {
				continue
			}
			if err := attr.Delete(fullPath); err == nil {
				result.OrphanedAttrs++
				reconcileIssuesTotal.WithLabelValues("orphaned_attr").Inc()
				rs.logger.Warn("Сверка: удалён attr.json без файла данных",
					slog.String("path", name),
				)
			}

		default:
			// Файл данных без attr.json
			if _, err := os.Stat(attr.AttrFilePath(fullPath)); err == nil {
				continue
			}
			// Возрастной порог исключает гонку с загрузкой,
			// публикующей attr.json после файла данных
			if info, err := entry.Info(); err != nil || now.Sub(info.ModTime()) < staleTmpAge {
				continue
			}
			if err := os.Remove(fullPath); err == nil {
				result.OrphanedFiles++
				reconcileIssuesTotal.WithLabelValues("orphaned_file").Inc()
				rs.logger.Warn("Сверка: удалён файл данных без attr.json",
					slog.String("path", name),
				)
			}
		}
	}

	// Записи индекса без файла на диске
	for _, meta := range rs.idx.ListByStatus("") {
		if rs.store.FileExists(meta.StoragePath) {
			continue
		}
		rs.idx.Remove(meta.Token)
		result.MissingFiles++
		reconcileIssuesTotal.WithLabelValues("missing_file").Inc()
		rs.logger.Warn("Сверка: запись индекса без файла на диске",
			slog.String("token", meta.Token),
		)
	}

	result.Duration = time.Since(start)

	reconcileRunsTotal.Inc()
	reconcileDurationSeconds.Observe(result.Duration.Seconds())

	rs.logger.Info("Сверка завершена",
		slog.Int("orphaned_files", result.OrphanedFiles),
		slog.Int("orphaned_attrs", result.OrphanedAttrs),
		slog.Int("stale_tmp", result.StaleTmp),
		slog.Int("missing_files", result.MissingFiles),
		slog.Duration("duration", result.Duration),
	)

	return result
}
