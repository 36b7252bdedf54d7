// info.go — обработчик GET /info (информация о сервисе).
// Публичный endpoint для мониторинга: версия, количество объектов,
// занятое и свободное место.
package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/dustin/go-humanize"

	"github.com/jonte/transfer/internal/config"
	"github.com/jonte/transfer/internal/domain/model"
	"github.com/jonte/transfer/internal/storage/index"
)

// DiskUsageFunc возвращает total, used, available байт тома данных.
type DiskUsageFunc func() (total, used, available int64, err error)

// InfoHandler — обработчик GET /info.
type InfoHandler struct {
	cfg       *config.Config
	idx       *index.Index
	diskUsage DiskUsageFunc
}

// NewInfoHandler создаёт обработчик информации о сервисе.
func NewInfoHandler(cfg *config.Config, idx *index.Index, diskUsage DiskUsageFunc) *InfoHandler {
	return &InfoHandler{
		cfg:       cfg,
		idx:       idx,
		diskUsage: diskUsage,
	}
}

// GetInfo обрабатывает GET /info.
func (h *InfoHandler) GetInfo(w http.ResponseWriter, _ *http.Request) {
	resp := map[string]any{
		"service": "transfer",
		"version": config.Version,
		"files": map[string]any{
			"active": h.idx.CountByStatus(model.StatusActive),
			"total":  h.idx.Count(),
		},
		"max_file_size":       h.cfg.MaxFileSize,
		"max_file_size_human": humanize.IBytes(uint64(h.cfg.MaxFileSize)),
	}

	if h.diskUsage != nil {
		total, used, available, err := h.diskUsage()
		if err == nil {
			resp["disk"] = map[string]any{
				"total_bytes":     total,
				"used_bytes":      used,
				"available_bytes": available,
				"total_human":     humanize.IBytes(uint64(total)),
				"used_human":      humanize.IBytes(uint64(used)),
				"available_human": humanize.IBytes(uint64(available)),
			}
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(resp)
}
