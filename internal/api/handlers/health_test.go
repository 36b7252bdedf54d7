package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/jonte/transfer/internal/storage/index"
)

func TestHealthLive(t *testing.T) {
	h := NewHealthHandler(t.TempDir(), t.TempDir(), nil)

	w := httptest.NewRecorder()
	h.HealthLive(w, httptest.NewRequest(http.MethodGet, "/health/live", nil))

	if w.Code != http.StatusOK {
		t.Errorf("Код: хотели 200, получили %d", w.Code)
	}

	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Ошибка разбора ответа: %v", err)
	}
	if resp["status"] != "ok" {
		t.Errorf("status: хотели ok, получили %v", resp["status"])
	}
}

func TestHealthReady_OK(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	dataDir := t.TempDir()
	idx := index.New(logger)
	if err := idx.BuildFromDir(dataDir); err != nil {
		t.Fatalf("Ошибка построения индекса: %v", err)
	}

	h := NewHealthHandler(dataDir, t.TempDir(), idx)

	w := httptest.NewRecorder()
	h.HealthReady(w, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

	if w.Code != http.StatusOK {
		t.Errorf("Код: хотели 200, получили %d: %s", w.Code, w.Body.String())
	}
}

func TestHealthReady_IndexNotBuilt(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	// Индекс создан, но BuildFromDir не вызывался
	idx := index.New(logger)
	h := NewHealthHandler(t.TempDir(), t.TempDir(), idx)

	w := httptest.NewRecorder()
	h.HealthReady(w, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("Код: хотели 503, получили %d", w.Code)
	}
}

func TestHealthReady_UnwritableDataDir(t *testing.T) {
	h := NewHealthHandler("/nonexistent/data/dir", t.TempDir(), nil)

	w := httptest.NewRecorder()
	h.HealthReady(w, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("Код: хотели 503, получили %d", w.Code)
	}
}
