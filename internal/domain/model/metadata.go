// Пакет model — доменные модели сервиса transfer.
// FileMetadata — единая структура метаданных объекта, используется
// как in-memory представление и как формат attr.json на диске.
package model

import (
	"time"
)

// FileStatus — статус объекта в хранилище.
type FileStatus string

const (
	// StatusPending — токен зарезервирован, загрузка не завершена.
	// Объект невидим для скачивания и не имеет attr.json.
	StatusPending FileStatus = "pending"
	// StatusActive — объект доступен для скачивания
	StatusActive FileStatus = "active"
	// StatusExpired — срок хранения истёк (ожидает очистки GC)
	StatusExpired FileStatus = "expired"
	// StatusExhausted — лимит скачиваний исчерпан (ожидает очистки GC)
	StatusExhausted FileStatus = "exhausted"
	// StatusDeleted — удалён по секрету удаления (ожидает очистки GC)
	StatusDeleted FileStatus = "deleted"
)

// FileMetadata — метаданные объекта. Соответствует содержимому attr.json.
// Поля StoragePath и DeleteToken никогда не попадают в API-ответы:
// StoragePath привязывает метаданные к физическому файлу на диске,
// DeleteToken нужен серверу для проверки при удалении.
type FileMetadata struct {
	// Token — публичный идентификатор объекта (base62, crypto/rand).
	// Одновременно capability: знание токена даёт право скачивания.
	Token string `json:"token"`

	// Filename — имя файла после санитизации.
	// Скачивание требует точного (case-sensitive) совпадения.
	Filename string `json:"filename"`

	// StoragePath — имя файла на диске (относительно TR_DATA_DIR).
	// Формат: {token}_{filename}.
	StoragePath string `json:"storage_path"`

	// ContentType — MIME-тип, определённый по расширению при загрузке
	ContentType string `json:"content_type"`

	// Size — размер объекта в байтах, фиксируется по завершении загрузки
	Size int64 `json:"size"`

	// Checksum — SHA-256 хэш содержимого
	Checksum string `json:"checksum"`

	// UploadedAt — дата и время загрузки (UTC)
	UploadedAt time.Time `json:"uploaded_at"`

	// ExpiresAt — дата истечения (uploaded_at + Max-Days).
	// nil — без ограничения по времени.
	ExpiresAt *time.Time `json:"expires_at,omitempty"`

	// MaxDownloads — максимальное количество скачиваний.
	// nil — без ограничения.
	MaxDownloads *int `json:"max_downloads,omitempty"`

	// DownloadCount — количество потреблённых единиц скачивания.
	// Монотонно растёт, никогда не превышает MaxDownloads.
	DownloadCount int `json:"download_count"`

	// DeleteToken — секрет удаления. Генерируется независимо от Token,
	// возвращается загрузившему ровно один раз, хранится только на сервере.
	DeleteToken string `json:"delete_token"`

	// Status — текущий статус объекта
	Status FileStatus `json:"status"`
}

// IsExpired проверяет, истёк ли срок хранения объекта.
func (m *FileMetadata) IsExpired(now time.Time) bool {
	if m.ExpiresAt == nil {
		return false
	}
	return !now.Before(*m.ExpiresAt)
}

// IsExhausted проверяет, исчерпан ли лимит скачиваний.
func (m *FileMetadata) IsExhausted() bool {
	if m.MaxDownloads == nil {
		return false
	}
	return m.DownloadCount >= *m.MaxDownloads
}

// IsLive проверяет достижимость объекта для скачивания: статус active,
// срок не истёк, лимит не исчерпан. Единый предикат для всех точек
// входа (download, delete, GC).
func (m *FileMetadata) IsLive(now time.Time) bool {
	return m.Status == StatusActive && !m.IsExpired(now) && !m.IsExhausted()
}
