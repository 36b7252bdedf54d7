// delete.go — удаление объекта по секрету.
//
// Секрет сравнивается за константное время (crypto/subtle), и любой
// неуспех — несуществующий токен, несовпадение имени, истёкший объект,
// неверный секрет — даёт один и тот же исход 403 с одинаковым профилем
// времени: API не раскрывает, существует ли токен.
package service

import (
	"crypto/subtle"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	apierrors "github.com/jonte/transfer/internal/api/errors"
	"github.com/jonte/transfer/internal/api/middleware"
	"github.com/jonte/transfer/internal/domain/model"
	"github.com/jonte/transfer/internal/storage/filestore"
	"github.com/jonte/transfer/internal/storage/index"
	"github.com/jonte/transfer/internal/token"
)

// DeleteError — ошибка удаления с HTTP-кодом.
type DeleteError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *DeleteError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// DeleteService — удаление объектов по секрету.
type DeleteService struct {
	idx       *index.Index
	reclaimer Reclaimer
	// dummySecret — секрет-пустышка для выравнивания времени ответа,
	// когда объект не найден
	dummySecret string
	logger      *slog.Logger
}

// NewDeleteService создаёт сервис удаления.
func NewDeleteService(idx *index.Index, reclaimer Reclaimer, gen *token.Generator, logger *slog.Logger) (*DeleteService, error) {
	dummy, err := gen.DeleteToken()
	if err != nil {
		return nil, fmt.Errorf("не удалось сгенерировать секрет-пустышку: %w", err)
	}

	return &DeleteService{
		idx:         idx,
		reclaimer:   reclaimer,
		dummySecret: dummy,
		logger:      logger.With(slog.String("component", "delete_service")),
	}, nil
}

// Delete удаляет объект, если supplied совпадает с его секретом удаления.
// Сравнение выполняется всегда, в том числе для несуществующих и
// истёкших объектов (против секрета-пустышки).
func (s *DeleteService) Delete(tok, filename, supplied string) *DeleteError {
	filename = filestore.SanitizeFilename(filename)
	now := time.Now().UTC()

	meta := s.idx.Get(tok)

	// Истёкший или исчерпанный объект неотличим от несуществующего
	eligible := meta != nil && meta.Filename == filename && meta.IsLive(now)

	stored := s.dummySecret
	if eligible {
		stored = meta.DeleteToken
	}

	match := subtle.ConstantTimeCompare([]byte(stored), []byte(supplied)) == 1

	if !eligible || !match {
		middleware.OperationsTotal.WithLabelValues("delete", "forbidden").Inc()
		return &DeleteError{
			StatusCode: http.StatusForbidden,
			Code:       apierrors.CodeForbidden,
			Message:    "Удаление запрещено",
		}
	}

	s.idx.SetStatus(tok, model.StatusDeleted)
	middleware.FilesTotal.WithLabelValues(string(model.StatusActive)).Dec()

	if err := s.reclaimer.Reclaim(tok); err != nil {
		// Объект уже помечен deleted и недоступен; диск освободит GC
		s.logger.Warn("Не удалось удалить объект немедленно",
			slog.String("token", tok),
			slog.String("error", err.Error()),
		)
	}

	middleware.OperationsTotal.WithLabelValues("delete", "success").Inc()

	s.logger.Info("Объект удалён по секрету",
		slog.String("token", tok),
		slog.String("filename", filename),
	)

	return nil
}
