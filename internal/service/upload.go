// Пакет service — бизнес-логика сервиса transfer.
// upload.go — приём загрузок с WAL-транзакциями.
package service

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"

	apierrors "github.com/jonte/transfer/internal/api/errors"
	"github.com/jonte/transfer/internal/api/middleware"
	"github.com/jonte/transfer/internal/config"
	"github.com/jonte/transfer/internal/domain/model"
	"github.com/jonte/transfer/internal/storage/attr"
	"github.com/jonte/transfer/internal/storage/filestore"
	"github.com/jonte/transfer/internal/storage/index"
	"github.com/jonte/transfer/internal/storage/wal"
	"github.com/jonte/transfer/internal/token"
)

// maxReserveAttempts — число попыток резервирования токена.
// Коллизия в пространстве 62^12 практически невозможна, но
// обрабатывается повторной генерацией.
const maxReserveAttempts = 5

// UploadParams — параметры загрузки объекта.
type UploadParams struct {
	// Reader — поток данных объекта
	Reader io.Reader
	// Filename — имя файла до санитизации
	Filename string
	// MaxDownloads — лимит скачиваний из заголовка Max-Downloads.
	// nil — без ограничения.
	MaxDownloads *int
	// MaxDays — срок хранения в днях из заголовка Max-Days.
	// nil — политика по умолчанию (TR_DEFAULT_MAX_DAYS).
	// 0 — объект истекает немедленно.
	MaxDays *float64
}

// UploadError — ошибка загрузки с HTTP-кодом.
type UploadError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// UploadService — сервис приёма загрузок.
type UploadService struct {
	cfg       *config.Config
	walEngine *wal.WAL
	store     *filestore.FileStore
	idx       *index.Index
	gen       *token.Generator
	// diskFree возвращает свободное место на томе данных в байтах.
	// nil — проверка свободного места отключена.
	diskFree func() (int64, error)
	logger   *slog.Logger
}

// NewUploadService создаёт сервис приёма загрузок.
func NewUploadService(
	cfg *config.Config,
	walEngine *wal.WAL,
	store *filestore.FileStore,
	idx *index.Index,
	gen *token.Generator,
	diskFree func() (int64, error),
	logger *slog.Logger,
) *UploadService {
	return &UploadService{
		cfg:       cfg,
		walEngine: walEngine,
		store:     store,
		idx:       idx,
		gen:       gen,
		diskFree:  diskFree,
		logger:    logger.With(slog.String("component", "upload_service")),
	}
}

// Upload принимает поток данных и создаёт объект.
//
// Поток:
//  1. Санитизация имени файла
//  2. Проверка свободного места
//  3. Резервирование токена (retry при коллизии)
//  4. WAL StartTransaction
//  5. SaveFile (streaming + SHA-256, temp → fsync → rename)
//  6. attr.json
//  7. Атомарная публикация в индексе
//  8. WAL Commit
//
// При любой ошибке — cleanup: частичные данные удаляются, токен
// освобождается, объект не публикуется. Половина загрузки никогда
// не доступна для скачивания.
func (s *UploadService) Upload(params UploadParams) (*model.FileMetadata, *UploadError) {
	filename := filestore.SanitizeFilename(params.Filename)

	// Проверяем свободное место: том должен вмещать ещё один
	// объект максимального размера
	if s.diskFree != nil {
		available, err := s.diskFree()
		if err != nil {
			s.logger.Warn("Не удалось определить свободное место",
				slog.String("error", err.Error()),
			)
		} else if available < s.cfg.MaxFileSize {
			return nil, &UploadError{
				StatusCode: http.StatusInsufficientStorage,
				Code:       apierrors.CodeStorageFull,
				Message:    "Недостаточно места в хранилище",
			}
		}
	}

	// Резервируем токен до первого байта
	tok, reserveErr := s.reserveToken()
	if reserveErr != nil {
		return nil, reserveErr
	}

	deleteToken, err := s.gen.DeleteToken()
	if err != nil {
		s.idx.Release(tok)
		return nil, internalUploadError("Ошибка генерации секрета удаления")
	}

	walEntry, err := s.walEngine.StartTransaction(wal.OpFileCreate, tok)
	if err != nil {
		s.idx.Release(tok)
		s.logger.Error("Ошибка создания WAL-транзакции", slog.String("error", err.Error()))
		return nil, internalUploadError("Внутренняя ошибка при создании транзакции")
	}

	// Cleanup при ошибке
	var savedResult *filestore.SaveResult
	rollback := func() {
		if savedResult != nil {
			_ = s.store.DeleteFile(savedResult.StoragePath)
			_ = attr.Delete(attr.AttrFilePath(savedResult.FullPath))
		}
		s.idx.Release(tok)
		if rbErr := s.walEngine.Rollback(walEntry.TransactionID); rbErr != nil {
			s.logger.Error("Ошибка отката WAL",
				slog.String("tx_id", walEntry.TransactionID),
				slog.String("error", rbErr.Error()),
			)
		}
	}

	// Streaming запись на диск
	savedResult, err = s.store.SaveFile(params.Reader, tok, filename)
	if err != nil {
		rollback()

		// Превышение лимита размера приходит из http.MaxBytesReader
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			return nil, &UploadError{
				StatusCode: http.StatusRequestEntityTooLarge,
				Code:       apierrors.CodeFileTooLarge,
				Message: fmt.Sprintf("Размер объекта превышает максимум %s",
					humanize.IBytes(uint64(s.cfg.MaxFileSize))),
			}
		}

		s.logger.Error("Ошибка сохранения объекта",
			slog.String("token", tok),
			slog.String("error", err.Error()),
		)
		middleware.OperationsTotal.WithLabelValues("upload", "error").Inc()
		return nil, internalUploadError("Ошибка сохранения объекта")
	}

	// Multipart-части не проходят через http.MaxBytesReader,
	// поэтому лимит размера проверяется и по факту записи
	if savedResult.Size > s.cfg.MaxFileSize {
		rollback()
		return nil, &UploadError{
			StatusCode: http.StatusRequestEntityTooLarge,
			Code:       apierrors.CodeFileTooLarge,
			Message: fmt.Sprintf("Размер объекта превышает максимум %s",
				humanize.IBytes(uint64(s.cfg.MaxFileSize))),
		}
	}

	// Формируем метаданные
	now := time.Now().UTC()
	metadata := &model.FileMetadata{
		Token:         tok,
		Filename:      filename,
		StoragePath:   savedResult.StoragePath,
		ContentType:   contentTypeByName(filename),
		Size:          savedResult.Size,
		Checksum:      savedResult.Checksum,
		UploadedAt:    now,
		ExpiresAt:     s.expiresAt(now, params.MaxDays),
		MaxDownloads:  params.MaxDownloads,
		DownloadCount: 0,
		DeleteToken:   deleteToken,
		Status:        model.StatusActive,
	}

	// Записываем attr.json
	if err := attr.Write(attr.AttrFilePath(savedResult.FullPath), metadata); err != nil {
		rollback()
		s.logger.Error("Ошибка записи attr.json",
			slog.String("token", tok),
			slog.String("error", err.Error()),
		)
		return nil, internalUploadError("Ошибка записи метаданных")
	}

	// Атомарная публикация: с этого момента объект доступен для скачивания
	s.idx.Publish(metadata)

	if err := s.walEngine.Commit(walEntry.TransactionID); err != nil {
		// Данные уже записаны, коммит WAL — best effort
		s.logger.Error("Ошибка коммита WAL (объект опубликован)",
			slog.String("tx_id", walEntry.TransactionID),
			slog.String("token", tok),
			slog.String("error", err.Error()),
		)
	}

	middleware.OperationsTotal.WithLabelValues("upload", "success").Inc()
	middleware.FilesTotal.WithLabelValues(string(model.StatusActive)).Inc()

	s.logger.Info("Объект загружен",
		slog.String("token", tok),
		slog.String("filename", filename),
		slog.String("size", humanize.IBytes(uint64(savedResult.Size))),
		slog.String("checksum", savedResult.Checksum),
	)

	return metadata, nil
}

// reserveToken генерирует и резервирует уникальный токен.
// Занятый токен (коллизия с живым объектом или резервированием)
// вызывает повторную генерацию.
func (s *UploadService) reserveToken() (string, *UploadError) {
	for attempt := 0; attempt < maxReserveAttempts; attempt++ {
		tok, err := s.gen.Token()
		if err != nil {
			return "", internalUploadError("Ошибка генерации токена")
		}
		if s.idx.Reserve(tok) {
			return tok, nil
		}
		s.logger.Warn("Коллизия токена, повторная генерация",
			slog.Int("attempt", attempt+1),
		)
	}
	return "", internalUploadError("Не удалось зарезервировать токен")
}

// expiresAt вычисляет срок истечения объекта.
// Заголовок Max-Days имеет приоритет; Max-Days: 0 — немедленное
// истечение. Без заголовка действует TR_DEFAULT_MAX_DAYS
// (0 — без ограничения по времени).
func (s *UploadService) expiresAt(now time.Time, maxDays *float64) *time.Time {
	days := s.cfg.DefaultMaxDays
	if maxDays != nil {
		days = *maxDays
	} else if days <= 0 {
		return nil
	}

	exp := now.Add(time.Duration(days * 24 * float64(time.Hour)))
	return &exp
}

// contentTypeByName определяет MIME-тип по расширению имени файла.
// Неизвестное расширение — application/octet-stream.
func contentTypeByName(filename string) string {
	ct := mime.TypeByExtension(filepath.Ext(filename))
	if ct == "" {
		return "application/octet-stream"
	}
	return ct
}

// internalUploadError — конструктор ошибки 500.
func internalUploadError(message string) *UploadError {
	return &UploadError{
		StatusCode: http.StatusInternalServerError,
		Code:       apierrors.CodeInternalError,
		Message:    message,
	}
}
