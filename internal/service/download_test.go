package service

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newDownloadEnv(t *testing.T) (*testEnv, *DownloadService) {
	t.Helper()

	env := setupServiceEnv(t)
	gc := NewGCService(env.store, env.idx, env.walEngine, time.Hour, env.logger)
	return env, NewDownloadService(env.store, env.idx, gc, env.logger)
}

func doDownload(svc *DownloadService, tok, filename string) (*httptest.ResponseRecorder, *DownloadError) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/"+tok+"/"+filename, nil)
	return w, svc.Serve(w, r, tok, filename)
}

func TestServe_Success(t *testing.T) {
	env, svc := newDownloadEnv(t)

	meta := activeObjectMeta("tokServe0001", "hello.txt")
	env.createObject(t, meta, "Hello, world!")

	w, dlErr := doDownload(svc, "tokServe0001", "hello.txt")
	if dlErr != nil {
		t.Fatalf("Ошибка скачивания: %v", dlErr)
	}

	if w.Code != http.StatusOK {
		t.Errorf("Код ответа: хотели 200, получили %d", w.Code)
	}
	if got := w.Body.String(); got != "Hello, world!" {
		t.Errorf("Тело ответа: хотели %q, получили %q", "Hello, world!", got)
	}
	if got := w.Header().Get("Content-Type"); got != "text/plain" {
		t.Errorf("Content-Type: хотели text/plain, получили %q", got)
	}
	if got := w.Header().Get("Content-Length"); got != "13" {
		t.Errorf("Content-Length: хотели 13, получили %q", got)
	}
	if got := w.Header().Get("Content-Disposition"); got != `attachment; filename="hello.txt"` {
		t.Errorf("Content-Disposition: получили %q", got)
	}
	if got := w.Header().Get("ETag"); got == "" {
		t.Error("ETag не установлен")
	}
}

func TestServe_UnknownToken(t *testing.T) {
	_, svc := newDownloadEnv(t)

	w, dlErr := doDownload(svc, "tokMissing01", "a.txt")
	if dlErr == nil {
		t.Fatal("Хотели ошибку 404, получили nil")
	}
	if dlErr.StatusCode != http.StatusNotFound {
		t.Errorf("StatusCode: хотели 404, получили %d", dlErr.StatusCode)
	}
	// Ни одного байта объекта не отдано
	if w.Body.Len() != 0 {
		t.Errorf("Тело ответа не пустое: %q", w.Body.String())
	}
}

func TestServe_WrongFilename(t *testing.T) {
	env, svc := newDownloadEnv(t)

	meta := activeObjectMeta("tokWrong0001", "real.txt")
	env.createObject(t, meta, "data")

	_, dlErr := doDownload(svc, "tokWrong0001", "other.txt")
	if dlErr == nil || dlErr.StatusCode != http.StatusNotFound {
		t.Error("Скачивание с чужим именем файла: хотели 404")
	}
}

func TestServe_SingleDownloadLimit(t *testing.T) {
	env, svc := newDownloadEnv(t)

	meta := activeObjectMeta("tokOnce00001", "once.txt")
	one := 1
	meta.MaxDownloads = &one
	env.createObject(t, meta, "only once")

	// Первое скачивание — успех
	w, dlErr := doDownload(svc, "tokOnce00001", "once.txt")
	if dlErr != nil {
		t.Fatalf("Первое скачивание: %v", dlErr)
	}
	if w.Body.String() != "only once" {
		t.Errorf("Тело первого скачивания: %q", w.Body.String())
	}

	// Второе — 404, объект исчерпан и удалён
	_, dlErr = doDownload(svc, "tokOnce00001", "once.txt")
	if dlErr == nil || dlErr.StatusCode != http.StatusNotFound {
		t.Error("Второе скачивание: хотели 404")
	}

	// Исчерпанный объект передан в Reclaim: диск чист
	if env.store.FileExists(meta.StoragePath) {
		t.Error("Файл исчерпанного объекта остался на диске")
	}
	if env.idx.Get("tokOnce00001") != nil {
		t.Error("Исчерпанный объект остался в индексе")
	}
}

func TestServe_Expired(t *testing.T) {
	env, svc := newDownloadEnv(t)

	meta := activeObjectMeta("tokExpired01", "old.txt")
	past := time.Now().UTC().Add(-time.Minute)
	meta.ExpiresAt = &past
	env.createObject(t, meta, "expired data")

	_, dlErr := doDownload(svc, "tokExpired01", "old.txt")
	if dlErr == nil || dlErr.StatusCode != http.StatusNotFound {
		t.Error("Скачивание истёкшего объекта: хотели 404")
	}
}
