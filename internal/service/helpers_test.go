package service

import (
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/jonte/transfer/internal/domain/model"
	"github.com/jonte/transfer/internal/storage/attr"
	"github.com/jonte/transfer/internal/storage/filestore"
	"github.com/jonte/transfer/internal/storage/index"
	"github.com/jonte/transfer/internal/storage/wal"
)

// testEnv — общее тестовое окружение сервисного слоя.
type testEnv struct {
	dir       string
	store     *filestore.FileStore
	idx       *index.Index
	walEngine *wal.WAL
	logger    *slog.Logger
}

func setupServiceEnv(t *testing.T) *testEnv {
	t.Helper()

	dir := t.TempDir()
	store, err := filestore.New(dir)
	if err != nil {
		t.Fatalf("Ошибка создания FileStore: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	walEngine, err := wal.New(t.TempDir(), logger)
	if err != nil {
		t.Fatalf("Ошибка создания WAL: %v", err)
	}

	return &testEnv{
		dir:       dir,
		store:     store,
		idx:       index.New(logger),
		walEngine: walEngine,
		logger:    logger,
	}
}

// createObject создаёт объект целиком: файл данных, attr.json и запись
// в индексе. Возвращает метаданные.
func (env *testEnv) createObject(t *testing.T, meta *model.FileMetadata, content string) {
	t.Helper()

	result, err := env.store.SaveFile(strings.NewReader(content), meta.Token, meta.Filename)
	if err != nil {
		t.Fatalf("Ошибка сохранения файла: %v", err)
	}
	meta.StoragePath = result.StoragePath
	meta.Size = result.Size
	meta.Checksum = result.Checksum

	if err := attr.Write(attr.AttrFilePath(result.FullPath), meta); err != nil {
		t.Fatalf("Ошибка записи attr.json: %v", err)
	}

	env.idx.Publish(meta)
}

// activeObjectMeta — заготовка метаданных живого объекта.
func activeObjectMeta(tok, filename string) *model.FileMetadata {
	return &model.FileMetadata{
		Token:       tok,
		Filename:    filename,
		ContentType: "text/plain",
		UploadedAt:  time.Now().UTC(),
		DeleteToken: "secret-delete-token-0001",
		Status:      model.StatusActive,
	}
}
