// files.go — HTTP handlers операций с объектами.
// Upload (raw PUT и multipart POST), Download, Delete.
package handlers

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/go-chi/chi/v5"

	apierrors "github.com/jonte/transfer/internal/api/errors"
	"github.com/jonte/transfer/internal/config"
	"github.com/jonte/transfer/internal/domain/model"
	"github.com/jonte/transfer/internal/service"
)

// FilesHandler — обработчик операций с объектами.
type FilesHandler struct {
	cfg         *config.Config
	uploadSvc   *service.UploadService
	downloadSvc *service.DownloadService
	deleteSvc   *service.DeleteService
}

// NewFilesHandler создаёт обработчик операций с объектами.
func NewFilesHandler(
	cfg *config.Config,
	uploadSvc *service.UploadService,
	downloadSvc *service.DownloadService,
	deleteSvc *service.DeleteService,
) *FilesHandler {
	return &FilesHandler{
		cfg:         cfg,
		uploadSvc:   uploadSvc,
		downloadSvc: downloadSvc,
		deleteSvc:   deleteSvc,
	}
}

// uploadResponse — ответ на успешную загрузку одного объекта.
// DeleteToken возвращается здесь ровно один раз и больше нигде.
type uploadResponse struct {
	Token        string     `json:"token"`
	Filename     string     `json:"filename"`
	ContentType  string     `json:"content_type"`
	Size         int64      `json:"size"`
	SizeHuman    string     `json:"size_human"`
	UploadedAt   time.Time  `json:"uploaded_at"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
	MaxDownloads *int       `json:"max_downloads,omitempty"`
	URL          string     `json:"url"`
	DeleteToken  string     `json:"delete_token"`
	DeleteURL    string     `json:"delete_url"`
}

// multipartResponse — ответ на multipart загрузку нескольких объектов.
type multipartResponse struct {
	Files []uploadResponse `json:"files"`
}

// UploadRaw обрабатывает PUT /{filename}: тело запроса — содержимое
// объекта. Пример: curl --upload-file ./hello.txt https://host/hello.txt
func (h *FilesHandler) UploadRaw(w http.ResponseWriter, r *http.Request) {
	filename := chi.URLParam(r, "filename")

	maxDownloads, maxDays, err := parseLimitHeaders(r)
	if err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}

	// Лимит размера применяется до первого прочитанного байта
	body := http.MaxBytesReader(w, r.Body, h.cfg.MaxFileSize)

	meta, upErr := h.uploadSvc.Upload(service.UploadParams{
		Reader:       body,
		Filename:     filename,
		MaxDownloads: maxDownloads,
		MaxDays:      maxDays,
	})
	if upErr != nil {
		apierrors.WriteError(w, upErr.StatusCode, upErr.Code, upErr.Message)
		return
	}

	resp := h.toUploadResponse(meta)

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Url-Delete", resp.DeleteURL)
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(resp)
}

// UploadMultipart обрабатывает POST /: multipart запрос с одним или
// несколькими файлами, каждый становится независимым объектом со своим
// токеном. Пример: curl -F filedata=@a.txt -F filedata=@b.txt https://host/
//
// Части читаются потоково (MultipartReader), тело в память не
// буферизуется.
func (h *FilesHandler) UploadMultipart(w http.ResponseWriter, r *http.Request) {
	maxDownloads, maxDays, err := parseLimitHeaders(r)
	if err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}

	mr, err := r.MultipartReader()
	if err != nil {
		apierrors.ValidationError(w, "Ожидается multipart/form-data запрос")
		return
	}

	var resp multipartResponse
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			apierrors.ValidationError(w, "Ошибка чтения multipart запроса")
			return
		}
		if part.FileName() == "" {
			// Обычное поле формы, не файл
			continue
		}

		// +1 байт: превышение лимита отличимо от файла ровно в лимит
		meta, upErr := h.uploadSvc.Upload(service.UploadParams{
			Reader:       io.LimitReader(part, h.cfg.MaxFileSize+1),
			Filename:     part.FileName(),
			MaxDownloads: maxDownloads,
			MaxDays:      maxDays,
		})
		part.Close()
		if upErr != nil {
			apierrors.WriteError(w, upErr.StatusCode, upErr.Code, upErr.Message)
			return
		}

		resp.Files = append(resp.Files, h.toUploadResponse(meta))
	}

	if len(resp.Files) == 0 {
		apierrors.ValidationError(w, "Запрос не содержит ни одного файла")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(resp)
}

// Download обрабатывает GET /{token}/{filename}.
// Имя файла должно точно совпадать с сохранённым.
func (h *FilesHandler) Download(w http.ResponseWriter, r *http.Request) {
	tok := chi.URLParam(r, "token")
	filename := chi.URLParam(r, "filename")

	if dlErr := h.downloadSvc.Serve(w, r, tok, filename); dlErr != nil {
		apierrors.WriteError(w, dlErr.StatusCode, dlErr.Code, dlErr.Message)
	}
}

// Delete обрабатывает DELETE /{token}/{filename}.
// Секрет удаления — заголовок X-Delete-Token или query параметр
// delete_token.
func (h *FilesHandler) Delete(w http.ResponseWriter, r *http.Request) {
	tok := chi.URLParam(r, "token")
	filename := chi.URLParam(r, "filename")

	secret := r.Header.Get("X-Delete-Token")
	if secret == "" {
		secret = r.URL.Query().Get("delete_token")
	}

	if delErr := h.deleteSvc.Delete(tok, filename, secret); delErr != nil {
		apierrors.WriteError(w, delErr.StatusCode, delErr.Code, delErr.Message)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// toUploadResponse формирует API-ответ из метаданных объекта.
func (h *FilesHandler) toUploadResponse(meta *model.FileMetadata) uploadResponse {
	downloadURL := fmt.Sprintf("%s/%s/%s", h.cfg.BaseURL, meta.Token, url.PathEscape(meta.Filename))

	return uploadResponse{
		Token:        meta.Token,
		Filename:     meta.Filename,
		ContentType:  meta.ContentType,
		Size:         meta.Size,
		SizeHuman:    humanize.IBytes(uint64(meta.Size)),
		UploadedAt:   meta.UploadedAt,
		ExpiresAt:    meta.ExpiresAt,
		MaxDownloads: meta.MaxDownloads,
		URL:          downloadURL,
		DeleteToken:  meta.DeleteToken,
		DeleteURL:    downloadURL + "?delete_token=" + meta.DeleteToken,
	}
}

// parseLimitHeaders разбирает заголовки Max-Downloads и Max-Days.
// Max-Downloads — целое > 0. Max-Days — число >= 0 (0 — немедленное
// истечение, дробные значения допустимы).
func parseLimitHeaders(r *http.Request) (maxDownloads *int, maxDays *float64, err error) {
	if v := strings.TrimSpace(r.Header.Get("Max-Downloads")); v != "" {
		n, parseErr := strconv.Atoi(v)
		if parseErr != nil || n <= 0 {
			return nil, nil, fmt.Errorf("заголовок Max-Downloads должен быть целым числом > 0, получено %q", v)
		}
		maxDownloads = &n
	}

	if v := strings.TrimSpace(r.Header.Get("Max-Days")); v != "" {
		d, parseErr := strconv.ParseFloat(v, 64)
		if parseErr != nil || d < 0 {
			return nil, nil, fmt.Errorf("заголовок Max-Days должен быть числом >= 0, получено %q", v)
		}
		maxDays = &d
	}

	return maxDownloads, maxDays, nil
}
