package index

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonte/transfer/internal/domain/model"
	"github.com/jonte/transfer/internal/storage/attr"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func activeMeta(tok, filename string) *model.FileMetadata {
	return &model.FileMetadata{
		Token:       tok,
		Filename:    filename,
		StoragePath: tok + "_" + filename,
		ContentType: "text/plain",
		Size:        4,
		UploadedAt:  time.Now().UTC(),
		DeleteToken: "secret",
		Status:      model.StatusActive,
	}
}

func TestReserve_Release(t *testing.T) {
	idx := New(testLogger())

	if !idx.Reserve("tokA") {
		t.Fatal("Первое резервирование: хотели true")
	}
	if idx.Reserve("tokA") {
		t.Error("Повторное резервирование занятого токена: хотели false")
	}

	// Pending-запись невидима
	if idx.Get("tokA") != nil {
		t.Error("Get для pending-записи: хотели nil")
	}

	idx.Release("tokA")
	if !idx.Reserve("tokA") {
		t.Error("Резервирование после Release: хотели true")
	}
}

func TestRelease_DoesNotRemovePublished(t *testing.T) {
	idx := New(testLogger())

	idx.Reserve("tokA")
	idx.Publish(activeMeta("tokA", "a.txt"))

	// Release снимает только pending
	idx.Release("tokA")

	if idx.Get("tokA") == nil {
		t.Error("Release удалил опубликованный объект")
	}
}

func TestPublish_Get(t *testing.T) {
	idx := New(testLogger())

	idx.Reserve("tokA")
	idx.Publish(activeMeta("tokA", "a.txt"))

	got := idx.Get("tokA")
	if got == nil {
		t.Fatal("Объект не найден после Publish")
	}
	if got.Filename != "a.txt" {
		t.Errorf("Filename: хотели %q, получили %q", "a.txt", got.Filename)
	}

	// Get возвращает копию: мутация не должна влиять на индекс
	got.DownloadCount = 99
	if idx.Get("tokA").DownloadCount != 0 {
		t.Error("Мутация копии изменила состояние индекса")
	}
}

func TestConsume_Success(t *testing.T) {
	idx := New(testLogger())
	idx.Publish(activeMeta("tokA", "a.txt"))

	meta, last, ok := idx.Consume("tokA", "a.txt", time.Now().UTC())
	if !ok {
		t.Fatal("Consume: хотели ok=true")
	}
	if meta.DownloadCount != 1 {
		t.Errorf("DownloadCount: хотели 1, получили %d", meta.DownloadCount)
	}
	if last {
		t.Error("last: хотели false для объекта без лимита")
	}
}

func TestConsume_UnknownToken(t *testing.T) {
	idx := New(testLogger())

	if _, _, ok := idx.Consume("missing", "a.txt", time.Now().UTC()); ok {
		t.Error("Consume неизвестного токена: хотели ok=false")
	}
}

func TestConsume_WrongFilename(t *testing.T) {
	idx := New(testLogger())
	idx.Publish(activeMeta("tokA", "a.txt"))

	if _, _, ok := idx.Consume("tokA", "b.txt", time.Now().UTC()); ok {
		t.Error("Consume с чужим именем файла: хотели ok=false")
	}

	// Неудачная попытка не тратит единицу скачивания
	if got := idx.Get("tokA"); got.DownloadCount != 0 {
		t.Errorf("DownloadCount после неудачи: хотели 0, получили %d", got.DownloadCount)
	}
}

func TestConsume_Expired_LazyMark(t *testing.T) {
	idx := New(testLogger())

	meta := activeMeta("tokA", "a.txt")
	past := time.Now().UTC().Add(-time.Hour)
	meta.ExpiresAt = &past
	idx.Publish(meta)

	if _, _, ok := idx.Consume("tokA", "a.txt", time.Now().UTC()); ok {
		t.Error("Consume истёкшего объекта: хотели ok=false")
	}

	// Lazy expiry: объект попутно помечен expired
	if got := idx.Get("tokA"); got.Status != model.StatusExpired {
		t.Errorf("Status после истечения: хотели %s, получили %s", model.StatusExpired, got.Status)
	}
}

func TestConsume_ExactLimit(t *testing.T) {
	idx := New(testLogger())

	meta := activeMeta("tokA", "a.txt")
	maxDl := 2
	meta.MaxDownloads = &maxDl
	idx.Publish(meta)

	now := time.Now().UTC()

	if _, last, ok := idx.Consume("tokA", "a.txt", now); !ok || last {
		t.Errorf("Первый Consume: хотели ok=true last=false, получили ok=%v last=%v", ok, last)
	}
	if _, last, ok := idx.Consume("tokA", "a.txt", now); !ok || !last {
		t.Errorf("Второй Consume: хотели ok=true last=true, получили ok=%v last=%v", ok, last)
	}
	if _, _, ok := idx.Consume("tokA", "a.txt", now); ok {
		t.Error("Третий Consume: хотели ok=false, лимит исчерпан")
	}
}

// При MaxDownloads = N из M конкурентных запросов успешными должны
// быть ровно min(N, M).
func TestConsume_Concurrent(t *testing.T) {
	idx := New(testLogger())

	meta := activeMeta("tokA", "a.txt")
	maxDl := 10
	meta.MaxDownloads = &maxDl
	idx.Publish(meta)

	const attempts = 100
	var succeeded atomic.Int32
	var wg sync.WaitGroup
	now := time.Now().UTC()

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, _, ok := idx.Consume("tokA", "a.txt", now); ok {
				succeeded.Add(1)
			}
		}()
	}
	wg.Wait()

	if got := succeeded.Load(); got != int32(maxDl) {
		t.Errorf("Успешных Consume: хотели %d, получили %d", maxDl, got)
	}
	if got := idx.Get("tokA"); got.DownloadCount != maxDl {
		t.Errorf("DownloadCount: хотели %d, получили %d", maxDl, got.DownloadCount)
	}
}

func TestSetStatus_Remove(t *testing.T) {
	idx := New(testLogger())
	idx.Publish(activeMeta("tokA", "a.txt"))

	if !idx.SetStatus("tokA", model.StatusExpired) {
		t.Error("SetStatus существующего токена: хотели true")
	}
	if idx.SetStatus("missing", model.StatusExpired) {
		t.Error("SetStatus несуществующего токена: хотели false")
	}

	if !idx.Remove("tokA") {
		t.Error("Remove существующего токена: хотели true")
	}
	if idx.Remove("tokA") {
		t.Error("Повторный Remove: хотели false")
	}
}

func TestListByStatus_CountByStatus(t *testing.T) {
	idx := New(testLogger())

	idx.Publish(activeMeta("tokA", "a.txt"))
	idx.Publish(activeMeta("tokB", "b.txt"))

	expired := activeMeta("tokC", "c.txt")
	expired.Status = model.StatusExpired
	idx.Publish(expired)

	idx.Reserve("tokPending")

	if got := len(idx.ListByStatus(model.StatusActive)); got != 2 {
		t.Errorf("ListByStatus(active): хотели 2, получили %d", got)
	}
	if got := len(idx.ListByStatus("")); got != 3 {
		t.Errorf("ListByStatus(все): хотели 3 (pending исключён), получили %d", got)
	}
	if got := idx.CountByStatus(model.StatusExpired); got != 1 {
		t.Errorf("CountByStatus(expired): хотели 1, получили %d", got)
	}
	if got := idx.Count(); got != 4 {
		t.Errorf("Count: хотели 4 (включая pending), получили %d", got)
	}
}

func TestBuildFromDir(t *testing.T) {
	dir := t.TempDir()

	for i := 0; i < 3; i++ {
		meta := activeMeta(fmt.Sprintf("tok%d23456789", i), "f.txt")
		path := filepath.Join(dir, meta.StoragePath+attr.AttrSuffix)
		if err := attr.Write(path, meta); err != nil {
			t.Fatalf("Ошибка записи attr.json: %v", err)
		}
	}

	idx := New(testLogger())
	if idx.IsReady() {
		t.Error("IsReady до построения: хотели false")
	}

	if err := idx.BuildFromDir(dir); err != nil {
		t.Fatalf("Ошибка построения индекса: %v", err)
	}

	if !idx.IsReady() {
		t.Error("IsReady после построения: хотели true")
	}
	if got := idx.Count(); got != 3 {
		t.Errorf("Count после построения: хотели 3, получили %d", got)
	}
}
