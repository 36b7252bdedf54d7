package service

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jonte/transfer/internal/storage/attr"
)

// writeAgedFile создаёт файл с указанным возрастом модификации.
func writeAgedFile(t *testing.T, path string, age time.Duration) {
	t.Helper()

	if err := os.WriteFile(path, []byte("data"), 0o640); err != nil {
		t.Fatalf("Ошибка создания файла: %v", err)
	}
	mtime := time.Now().Add(-age)
	if err := os.Chtimes(path, mtime, mtime); err != nil {
		t.Fatalf("Ошибка установки mtime: %v", err)
	}
}

func TestReconcile_StaleTmp(t *testing.T) {
	env := setupServiceEnv(t)
	rs := NewReconcileService(env.store, env.idx, env.dir, time.Hour, env.logger)

	// Старый tmp — должен быть удалён
	writeAgedFile(t, filepath.Join(env.dir, "tokA_a.txt.tmp"), 2*time.Hour)
	// Свежий tmp — идёт запись, трогать нельзя
	writeAgedFile(t, filepath.Join(env.dir, "tokB_b.txt.tmp"), time.Minute)

	result := rs.RunOnce()

	if result.StaleTmp != 1 {
		t.Errorf("StaleTmp: хотели 1, получили %d", result.StaleTmp)
	}
	if _, err := os.Stat(filepath.Join(env.dir, "tokA_a.txt.tmp")); err == nil {
		t.Error("Старый tmp файл не удалён")
	}
	if _, err := os.Stat(filepath.Join(env.dir, "tokB_b.txt.tmp")); err != nil {
		t.Error("Свежий tmp файл удалён")
	}
}

func TestReconcile_OrphanedAttr(t *testing.T) {
	env := setupServiceEnv(t)
	rs := NewReconcileService(env.store, env.idx, env.dir, time.Hour, env.logger)

	// Старый attr.json без файла данных
	orphan := filepath.Join(env.dir, "tokA_a.txt"+attr.AttrSuffix)
	writeAgedFile(t, orphan, 2*time.Hour)

	result := rs.RunOnce()

	if result.OrphanedAttrs != 1 {
		t.Errorf("OrphanedAttrs: хотели 1, получили %d", result.OrphanedAttrs)
	}
	if _, err := os.Stat(orphan); err == nil {
		t.Error("Осиротевший attr.json не удалён")
	}
}

func TestReconcile_FreshOrphanedAttr_Kept(t *testing.T) {
	env := setupServiceEnv(t)
	rs := NewReconcileService(env.store, env.idx, env.dir, time.Hour, env.logger)

	// Свежий attr.json: возможно, файл данных вот-вот появится
	fresh := filepath.Join(env.dir, "tokA_a.txt"+attr.AttrSuffix)
	writeAgedFile(t, fresh, time.Minute)

	result := rs.RunOnce()

	if result.OrphanedAttrs != 0 {
		t.Errorf("OrphanedAttrs: хотели 0, получили %d", result.OrphanedAttrs)
	}
	if _, err := os.Stat(fresh); err != nil {
		t.Error("Свежий attr.json удалён")
	}
}

func TestReconcile_OrphanedDataFile(t *testing.T) {
	env := setupServiceEnv(t)
	rs := NewReconcileService(env.store, env.idx, env.dir, time.Hour, env.logger)

	// Старый файл данных без attr.json — пережившая рестарт
	// незавершённая загрузка
	orphan := filepath.Join(env.dir, "tokA_a.txt")
	writeAgedFile(t, orphan, 2*time.Hour)

	result := rs.RunOnce()

	if result.OrphanedFiles != 1 {
		t.Errorf("OrphanedFiles: хотели 1, получили %d", result.OrphanedFiles)
	}
	if _, err := os.Stat(orphan); err == nil {
		t.Error("Осиротевший файл данных не удалён")
	}
}

func TestReconcile_MissingFile_RemovedFromIndex(t *testing.T) {
	env := setupServiceEnv(t)
	rs := NewReconcileService(env.store, env.idx, env.dir, time.Hour, env.logger)

	meta := activeObjectMeta("tokMissing01", "m.txt")
	meta.StoragePath = "tokMissing01_m.txt"
	env.idx.Publish(meta)

	result := rs.RunOnce()

	if result.MissingFiles != 1 {
		t.Errorf("MissingFiles: хотели 1, получили %d", result.MissingFiles)
	}
	if env.idx.Get("tokMissing01") != nil {
		t.Error("Запись без файла осталась в индексе")
	}
}

func TestReconcile_HealthyObject_Untouched(t *testing.T) {
	env := setupServiceEnv(t)
	rs := NewReconcileService(env.store, env.idx, env.dir, time.Hour, env.logger)

	meta := activeObjectMeta("tokHealthy01", "h.txt")
	env.createObject(t, meta, "healthy data")

	result := rs.RunOnce()

	if result.OrphanedFiles+result.OrphanedAttrs+result.StaleTmp+result.MissingFiles != 0 {
		t.Errorf("Сверка тронула здоровый объект: %+v", result)
	}
	if !env.store.FileExists(meta.StoragePath) {
		t.Error("Файл здорового объекта удалён")
	}
	if env.idx.Get("tokHealthy01") == nil {
		t.Error("Здоровый объект пропал из индекса")
	}
}
