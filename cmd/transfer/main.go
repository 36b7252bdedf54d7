// transfer — сервис временного обмена файлами.
//
// Загруженный объект получает случайный токен и ссылку вида
// /{token}/{filename}; время жизни и число скачиваний ограничиваются
// заголовками Max-Days и Max-Downloads. Истёкшие и исчерпанные объекты
// физически удаляются фоновым GC.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/jonte/transfer/internal/api/handlers"
	"github.com/jonte/transfer/internal/api/middleware"
	"github.com/jonte/transfer/internal/config"
	"github.com/jonte/transfer/internal/domain/model"
	"github.com/jonte/transfer/internal/server"
	"github.com/jonte/transfer/internal/service"
	"github.com/jonte/transfer/internal/storage/filestore"
	"github.com/jonte/transfer/internal/storage/index"
	"github.com/jonte/transfer/internal/storage/wal"
	"github.com/jonte/transfer/internal/token"
)

// metricsUpdateInterval — период обновления gauge-метрик хранилища.
const metricsUpdateInterval = 30 * time.Second

func main() {
	// .env опционален: в контейнере конфигурация приходит из окружения
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Ошибка конфигурации: %v\n", err)
		os.Exit(1)
	}

	logger := config.SetupLogger(cfg)
	logger.Info("Запуск сервиса transfer",
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
		slog.String("data_dir", cfg.DataDir),
		slog.String("wal_dir", cfg.WALDir),
	)

	walEngine, err := wal.New(cfg.WALDir, logger)
	if err != nil {
		logger.Error("Ошибка инициализации WAL", slog.String("error", err.Error()))
		os.Exit(1)
	}

	store, err := filestore.New(cfg.DataDir)
	if err != nil {
		logger.Error("Ошибка инициализации хранилища", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Откат незавершённых транзакций — до построения индекса, чтобы
	// половина загрузки не попала в индекс как живой объект
	if err := recoverWAL(walEngine, store, logger); err != nil {
		logger.Error("Ошибка восстановления WAL", slog.String("error", err.Error()))
		os.Exit(1)
	}

	idx := index.New(logger)
	if err := idx.BuildFromDir(cfg.DataDir); err != nil {
		logger.Error("Ошибка построения индекса", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("Индекс построен", slog.Int("files", idx.Count()))

	gen := token.NewGenerator()

	diskFree := func() (int64, error) {
		_, _, available, err := getDiskUsage(cfg.DataDir)
		return available, err
	}
	diskUsage := func() (int64, int64, int64, error) {
		return getDiskUsage(cfg.DataDir)
	}

	gcSvc := service.NewGCService(store, idx, walEngine, cfg.GCInterval, logger)
	uploadSvc := service.NewUploadService(cfg, walEngine, store, idx, gen, diskFree, logger)
	downloadSvc := service.NewDownloadService(store, idx, gcSvc, logger)
	deleteSvc, err := service.NewDeleteService(idx, gcSvc, gen, logger)
	if err != nil {
		logger.Error("Ошибка инициализации сервиса удаления", slog.String("error", err.Error()))
		os.Exit(1)
	}
	reconcileSvc := service.NewReconcileService(store, idx, cfg.DataDir, cfg.ReconcileInterval, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	gcSvc.Start(ctx)
	reconcileSvc.Start(ctx)
	go runMetricsUpdater(ctx, idx, cfg.DataDir)

	filesHandler := handlers.NewFilesHandler(cfg, uploadSvc, downloadSvc, deleteSvc)
	healthHandler := handlers.NewHealthHandler(cfg.DataDir, cfg.WALDir, idx)
	infoHandler := handlers.NewInfoHandler(cfg, idx, diskUsage)

	srv := server.New(cfg, logger, filesHandler, healthHandler, infoHandler)

	if err := srv.Run(); err != nil {
		logger.Error("Ошибка сервера", slog.String("error", err.Error()))
		gcSvc.Stop()
		reconcileSvc.Stop()
		os.Exit(1)
	}

	gcSvc.Stop()
	reconcileSvc.Stop()
	logger.Info("Сервис остановлен")
}

// recoverWAL откатывает незавершённые транзакции, обнаруженные после
// рестарта. Для pending-загрузки удаляются частично записанные файлы
// токена; pending-удаление доводится до конца тем же способом.
func recoverWAL(walEngine *wal.WAL, store *filestore.FileStore, logger *slog.Logger) error {
	pending, err := walEngine.RecoverPending()
	if err != nil {
		return err
	}

	for _, entry := range pending {
		removeTokenFiles(store, entry.Token, logger)

		if err := walEngine.Rollback(entry.TransactionID); err != nil {
			logger.Warn("Не удалось откатить WAL-транзакцию",
				slog.String("tx_id", entry.TransactionID),
				slog.String("error", err.Error()),
			)
		}
	}

	if len(pending) > 0 {
		logger.Info("Восстановление WAL завершено",
			slog.Int("rolled_back", len(pending)),
		)
	}

	return nil
}

// removeTokenFiles удаляет с диска все файлы токена: файл данных,
// attr.json и возможный *.tmp незавершённой записи.
func removeTokenFiles(store *filestore.FileStore, tok string, logger *slog.Logger) {
	if tok == "" {
		return
	}

	entries, err := os.ReadDir(store.DataDir())
	if err != nil {
		logger.Warn("Не удалось прочитать директорию данных при откате",
			slog.String("error", err.Error()),
		)
		return
	}

	prefix := tok + "_"
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasPrefix(entry.Name(), prefix) {
			continue
		}
		path := filepath.Join(store.DataDir(), entry.Name())
		if err := os.Remove(path); err != nil {
			logger.Warn("Не удалось удалить файл при откате",
				slog.String("path", entry.Name()),
				slog.String("error", err.Error()),
			)
			continue
		}
		logger.Info("Откат: удалён файл незавершённой транзакции",
			slog.String("path", entry.Name()),
		)
	}
}

// runMetricsUpdater периодически обновляет gauge-метрики хранилища:
// количество объектов по статусам и занятое место на томе данных.
func runMetricsUpdater(ctx context.Context, idx *index.Index, dataDir string) {
	update := func() {
		for _, status := range []model.FileStatus{
			model.StatusActive,
			model.StatusExpired,
			model.StatusExhausted,
			model.StatusDeleted,
		} {
			middleware.FilesTotal.WithLabelValues(string(status)).Set(float64(idx.CountByStatus(status)))
		}

		if _, used, _, err := getDiskUsage(dataDir); err == nil {
			middleware.StorageBytes.Set(float64(used))
		}
	}

	update()

	ticker := time.NewTicker(metricsUpdateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			update()
		}
	}
}
