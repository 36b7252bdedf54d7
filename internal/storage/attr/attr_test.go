package attr

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jonte/transfer/internal/domain/model"
)

func testMetadata(tok string) *model.FileMetadata {
	exp := time.Now().UTC().Add(24 * time.Hour)
	maxDl := 5
	return &model.FileMetadata{
		Token:         tok,
		Filename:      "hello.txt",
		StoragePath:   tok + "_hello.txt",
		ContentType:   "text/plain",
		Size:          16,
		Checksum:      "abc123",
		UploadedAt:    time.Now().UTC(),
		ExpiresAt:     &exp,
		MaxDownloads:  &maxDl,
		DownloadCount: 2,
		DeleteToken:   "secret-delete-token-0001",
		Status:        model.StatusActive,
	}
}

func TestWriteRead_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	meta := testMetadata("aBcDeFgH1234")
	path := filepath.Join(dir, meta.StoragePath+AttrSuffix)

	if err := Write(path, meta); err != nil {
		t.Fatalf("Ошибка записи attr.json: %v", err)
	}

	got, err := Read(path)
	if err != nil {
		t.Fatalf("Ошибка чтения attr.json: %v", err)
	}

	if got.Token != meta.Token {
		t.Errorf("Token: хотели %q, получили %q", meta.Token, got.Token)
	}
	if got.DownloadCount != meta.DownloadCount {
		t.Errorf("DownloadCount: хотели %d, получили %d", meta.DownloadCount, got.DownloadCount)
	}
	if got.MaxDownloads == nil || *got.MaxDownloads != *meta.MaxDownloads {
		t.Errorf("MaxDownloads: хотели %v, получили %v", *meta.MaxDownloads, got.MaxDownloads)
	}
	if got.DeleteToken != meta.DeleteToken {
		t.Errorf("DeleteToken: хотели %q, получили %q", meta.DeleteToken, got.DeleteToken)
	}
	if got.Status != model.StatusActive {
		t.Errorf("Status: хотели %s, получили %s", model.StatusActive, got.Status)
	}
}

func TestWrite_NoTempFileLeft(t *testing.T) {
	dir := t.TempDir()
	meta := testMetadata("tok123456789")
	path := filepath.Join(dir, meta.StoragePath+AttrSuffix)

	if err := Write(path, meta); err != nil {
		t.Fatalf("Ошибка записи attr.json: %v", err)
	}

	matches, _ := filepath.Glob(filepath.Join(dir, "*.tmp"))
	if len(matches) != 0 {
		t.Errorf("После записи остались temp файлы: %v", matches)
	}
}

func TestWrite_TooLarge(t *testing.T) {
	dir := t.TempDir()
	meta := testMetadata("tok123456789")
	// Раздуваем метаданные за пределы 4 КБ
	meta.Filename = strings.Repeat("x", 5000)
	path := filepath.Join(dir, "big"+AttrSuffix)

	if err := Write(path, meta); err == nil {
		t.Error("Хотели ошибку превышения размера, получили nil")
	}
}

func TestDelete_Idempotent(t *testing.T) {
	dir := t.TempDir()
	meta := testMetadata("tok123456789")
	path := filepath.Join(dir, meta.StoragePath+AttrSuffix)

	if err := Write(path, meta); err != nil {
		t.Fatalf("Ошибка записи attr.json: %v", err)
	}

	if err := Delete(path); err != nil {
		t.Fatalf("Ошибка удаления attr.json: %v", err)
	}
	if err := Delete(path); err != nil {
		t.Errorf("Повторное удаление вернуло ошибку: %v", err)
	}
}

func TestScanDir(t *testing.T) {
	dir := t.TempDir()

	for _, tok := range []string{"tokA12345678", "tokB12345678"} {
		meta := testMetadata(tok)
		path := filepath.Join(dir, meta.StoragePath+AttrSuffix)
		if err := Write(path, meta); err != nil {
			t.Fatalf("Ошибка записи attr.json: %v", err)
		}
	}

	// Невалидный attr.json должен быть пропущен
	badPath := filepath.Join(dir, "bad_file.txt"+AttrSuffix)
	if err := os.WriteFile(badPath, []byte("не json"), 0o640); err != nil {
		t.Fatalf("Ошибка создания невалидного файла: %v", err)
	}

	// Обычный файл данных не должен попадать в результат
	if err := os.WriteFile(filepath.Join(dir, "tokA12345678_hello.txt"), []byte("data"), 0o640); err != nil {
		t.Fatalf("Ошибка создания файла данных: %v", err)
	}

	metas, err := ScanDir(dir)
	if err != nil {
		t.Fatalf("Ошибка сканирования: %v", err)
	}
	if len(metas) != 2 {
		t.Errorf("Количество метаданных: хотели 2, получили %d", len(metas))
	}
}

func TestPathHelpers(t *testing.T) {
	dataPath := "/data/aBc_hello.txt"
	attrPath := AttrFilePath(dataPath)

	if attrPath != "/data/aBc_hello.txt.attr.json" {
		t.Errorf("AttrFilePath: получили %q", attrPath)
	}
	if got := DataFilePathFromAttr(attrPath); got != dataPath {
		t.Errorf("DataFilePathFromAttr: хотели %q, получили %q", dataPath, got)
	}
	if !IsAttrFile(attrPath) {
		t.Error("IsAttrFile(attr path): хотели true")
	}
	if IsAttrFile(dataPath) {
		t.Error("IsAttrFile(data path): хотели false")
	}
}
