// download.go — диспетчер скачиваний.
//
// Центральное свойство корректности: при MaxDownloads = N из любого
// числа конкурентных запросов байты получат ровно min(N, запросов).
// Достигается атомарным check-and-increment (index.Consume) ДО начала
// отдачи байтов. Обрыв клиента посреди передачи единицу скачивания
// не возвращает: частично отданное скачивание потрачено.
package service

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	apierrors "github.com/jonte/transfer/internal/api/errors"
	"github.com/jonte/transfer/internal/api/middleware"
	"github.com/jonte/transfer/internal/domain/model"
	"github.com/jonte/transfer/internal/storage/attr"
	"github.com/jonte/transfer/internal/storage/filestore"
	"github.com/jonte/transfer/internal/storage/index"
)

// Reclaimer — путь физического удаления объекта (реализуется GC).
type Reclaimer interface {
	Reclaim(tok string) error
}

// DownloadError — ошибка скачивания с HTTP-кодом.
type DownloadError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *DownloadError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// DownloadService — диспетчер скачиваний.
type DownloadService struct {
	store     *filestore.FileStore
	idx       *index.Index
	reclaimer Reclaimer
	logger    *slog.Logger
}

// NewDownloadService создаёт диспетчер скачиваний.
func NewDownloadService(
	store *filestore.FileStore,
	idx *index.Index,
	reclaimer Reclaimer,
	logger *slog.Logger,
) *DownloadService {
	return &DownloadService{
		store:     store,
		idx:       idx,
		reclaimer: reclaimer,
		logger:    logger.With(slog.String("component", "download_service")),
	}
}

// Serve отдаёт объект клиенту.
//
// Порядок жёсткий: сначала атомарное потребление единицы скачивания
// (Consume), и только после успешного инкремента — отдача байтов.
// Неудачный Consume (неизвестный токен, несовпадение имени, истёкший
// срок, исчерпанный лимит) — единый ответ 404 без единого байта.
//
// Range-запросы намеренно не поддерживаются: частичный ответ
// потреблял бы единицу скачивания, не отдавая объект целиком.
//
// Если потреблена последняя единица — после отдачи объект передаётся
// в общий путь удаления (Reclaim), не дожидаясь следующего прохода GC.
func (s *DownloadService) Serve(w http.ResponseWriter, r *http.Request, tok, filename string) *DownloadError {
	filename = filestore.SanitizeFilename(filename)

	meta, last, ok := s.idx.Consume(tok, filename, time.Now().UTC())
	if !ok {
		middleware.OperationsTotal.WithLabelValues("download", "not_found").Inc()
		return &DownloadError{
			StatusCode: http.StatusNotFound,
			Code:       apierrors.CodeNotFound,
			Message:    "Файл не найден",
		}
	}

	// Фиксируем счётчик в attr.json (best effort: авторитетен индекс,
	// attr.json нужен для восстановления после рестарта)
	attrPath := attr.AttrFilePath(s.store.FullPath(meta.StoragePath))
	if err := attr.Write(attrPath, meta); err != nil {
		s.logger.Error("Ошибка обновления attr.json после consume",
			slog.String("token", tok),
			slog.String("error", err.Error()),
		)
	}

	file, err := s.store.ReadFile(meta.StoragePath)
	if err != nil {
		s.logger.Error("Объект из индекса отсутствует на диске",
			slog.String("token", tok),
			slog.String("storage_path", meta.StoragePath),
			slog.String("error", err.Error()),
		)
		middleware.OperationsTotal.WithLabelValues("download", "error").Inc()
		return &DownloadError{
			StatusCode: http.StatusInternalServerError,
			Code:       apierrors.CodeInternalError,
			Message:    "Ошибка чтения объекта",
		}
	}
	defer file.Close()

	w.Header().Set("Content-Type", meta.ContentType)
	w.Header().Set("Content-Length", strconv.FormatInt(meta.Size, 10))
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", meta.Filename))
	w.Header().Set("ETag", fmt.Sprintf("%q", meta.Checksum))
	w.WriteHeader(http.StatusOK)

	if _, err := io.Copy(w, file); err != nil {
		// Обрыв клиента: единица скачивания уже потреблена и не возвращается
		s.logger.Debug("Передача прервана клиентом",
			slog.String("token", tok),
			slog.String("error", err.Error()),
		)
	}

	middleware.OperationsTotal.WithLabelValues("download", "success").Inc()

	s.logger.Info("Объект скачан",
		slog.String("token", tok),
		slog.String("filename", meta.Filename),
		slog.Int64("size", meta.Size),
		slog.Int("download_count", meta.DownloadCount),
	)

	if last {
		s.retire(tok, meta)
	}

	return nil
}

// retire помечает исчерпанный объект и передаёт его в общий путь
// удаления. Удаление после отдачи: уже открытые дескрипторы
// конкурентных скачиваний unlink не ломает.
func (s *DownloadService) retire(tok string, meta *model.FileMetadata) {
	s.idx.SetStatus(tok, model.StatusExhausted)
	middleware.FilesTotal.WithLabelValues(string(model.StatusActive)).Dec()

	if err := s.reclaimer.Reclaim(tok); err != nil {
		// GC подберёт объект на следующем проходе
		s.logger.Warn("Не удалось удалить исчерпанный объект немедленно",
			slog.String("token", tok),
			slog.String("error", err.Error()),
		)
		return
	}

	s.logger.Info("Объект исчерпан и удалён",
		slog.String("token", tok),
		slog.String("filename", meta.Filename),
	)
}
