// Пакет index — потокобезопасный in-memory индекс метаданных объектов.
//
// Индекс шардирован по токену (FNV-1a → 32 шарда): мутации разных
// объектов не конкурируют за один mutex, операции над одним объектом
// линеаризуются шардовым mutex'ом. Это единственное process-wide
// разделяемое состояние сервиса.
//
// Ключевые операции жизненного цикла:
//   - Reserve/Release/Publish — резервирование токена до первого байта
//     и атомарная публикация объекта после полной загрузки
//     (all-or-nothing видимость);
//   - Consume — атомарный check-and-increment счётчика скачиваний:
//     инкремент проходит только если объект жив и лимит не исчерпан.
//
// Не персистентный: при рестарте пересобирается из attr.json.
package index

import (
	"hash/fnv"
	"log/slog"
	"sync"
	"time"

	"github.com/jonte/transfer/internal/domain/model"
	"github.com/jonte/transfer/internal/storage/attr"
)

// shardCount — количество шардов. Степень двойки для дешёвого остатка.
const shardCount = 32

// shard — один шард индекса со своим mutex'ом.
type shard struct {
	mu    sync.RWMutex
	files map[string]*model.FileMetadata // token → metadata
}

// Index — шардированный индекс метаданных.
type Index struct {
	shards [shardCount]*shard
	ready  bool
	mu     sync.RWMutex // защищает только флаг ready
	logger *slog.Logger
}

// New создаёт пустой индекс. Для заполнения вызовите BuildFromDir.
func New(logger *slog.Logger) *Index {
	idx := &Index{
		logger: logger.With(slog.String("component", "index")),
	}
	for i := range idx.shards {
		idx.shards[i] = &shard{files: make(map[string]*model.FileMetadata)}
	}
	return idx
}

// shardFor возвращает шард для данного токена.
func (idx *Index) shardFor(tok string) *shard {
	h := fnv.New32a()
	h.Write([]byte(tok))
	return idx.shards[h.Sum32()&(shardCount-1)]
}

// BuildFromDir строит индекс из attr.json файлов в указанной директории.
// Вызывается при старте сервера. Заменяет текущее содержимое индекса.
// После успешного построения индекс помечается как ready.
func (idx *Index) BuildFromDir(dataDir string) error {
	metadatas, err := attr.ScanDir(dataDir)
	if err != nil {
		return err
	}

	for _, s := range idx.shards {
		s.mu.Lock()
		s.files = make(map[string]*model.FileMetadata)
		s.mu.Unlock()
	}

	for _, meta := range metadatas {
		s := idx.shardFor(meta.Token)
		s.mu.Lock()
		copied := *meta
		s.files[meta.Token] = &copied
		s.mu.Unlock()
	}

	idx.mu.Lock()
	idx.ready = true
	idx.mu.Unlock()

	idx.logger.Info("Индекс метаданных построен",
		slog.Int("files", len(metadatas)),
		slog.String("data_dir", dataDir),
	)

	return nil
}

// IsReady возвращает true, если индекс построен и готов к использованию.
func (idx *Index) IsReady() bool {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.ready
}

// Reserve резервирует токен до начала записи данных.
// Возвращает false, если токен уже занят (живым объектом или другим
// резервированием) — вызывающий код делает повторную генерацию.
// Pending-запись невидима для Get и Consume.
func (idx *Index) Reserve(tok string) bool {
	s := idx.shardFor(tok)
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.files[tok]; ok {
		return false
	}
	s.files[tok] = &model.FileMetadata{Token: tok, Status: model.StatusPending}
	return true
}

// Release снимает резервирование токена после неудачной загрузки.
// Удаляет запись только в статусе pending: опубликованный объект
// этим путём удалить нельзя.
func (idx *Index) Release(tok string) {
	s := idx.shardFor(tok)
	s.mu.Lock()
	defer s.mu.Unlock()

	if meta, ok := s.files[tok]; ok && meta.Status == model.StatusPending {
		delete(s.files, tok)
	}
}

// Publish атомарно публикует объект: pending-запись заменяется
// полными метаданными. С этого момента объект видим для скачивания.
func (idx *Index) Publish(meta *model.FileMetadata) {
	s := idx.shardFor(meta.Token)
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := *meta
	s.files[meta.Token] = &copied
}

// Get возвращает копию метаданных по токену.
// Возвращает nil для неизвестных токенов и pending-записей.
func (idx *Index) Get(tok string) *model.FileMetadata {
	s := idx.shardFor(tok)
	s.mu.RLock()
	defer s.mu.RUnlock()

	meta, ok := s.files[tok]
	if !ok || meta.Status == model.StatusPending {
		return nil
	}

	copied := *meta
	return &copied
}

// Consume атомарно потребляет одну единицу скачивания.
// Под шардовым mutex'ом выполняется проверка и инкремент как единое
// целое: при MaxDownloads = N из любого числа конкурентных вызовов
// успешными будут ровно min(N, вызовов).
//
// Проверки: токен известен, статус active, имя файла совпадает точно,
// срок не истёк, лимит не исчерпан. Истёкший объект попутно помечается
// expired (lazy expiry); физическое удаление остаётся за GC.
//
// Возвращает копию метаданных (уже с инкрементом), признак того, что
// потреблена последняя единица, и признак успеха.
func (idx *Index) Consume(tok, filename string, now time.Time) (meta *model.FileMetadata, last bool, ok bool) {
	s := idx.shardFor(tok)
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, found := s.files[tok]
	if !found || stored.Status != model.StatusActive {
		return nil, false, false
	}
	// Несовпадение имени — "не найдено", чтобы не раскрывать
	// существование токена по подбору имени.
	if stored.Filename != filename {
		return nil, false, false
	}
	if stored.IsExpired(now) {
		stored.Status = model.StatusExpired
		return nil, false, false
	}
	if stored.IsExhausted() {
		return nil, false, false
	}

	stored.DownloadCount++
	last = stored.IsExhausted()

	copied := *stored
	return &copied, last, true
}

// SetStatus обновляет статус объекта.
// Возвращает false, если токен не найден.
func (idx *Index) SetStatus(tok string, status model.FileStatus) bool {
	s := idx.shardFor(tok)
	s.mu.Lock()
	defer s.mu.Unlock()

	meta, ok := s.files[tok]
	if !ok {
		return false
	}
	meta.Status = status
	return true
}

// Remove удаляет объект из индекса по токену.
// Возвращает true, если объект был найден и удалён.
func (idx *Index) Remove(tok string) bool {
	s := idx.shardFor(tok)
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.files[tok]; !ok {
		return false
	}
	delete(s.files, tok)
	return true
}

// ListByStatus возвращает копии метаданных всех объектов с указанным
// статусом (""  — все, кроме pending). Используется GC и reconciliation.
func (idx *Index) ListByStatus(status model.FileStatus) []*model.FileMetadata {
	var result []*model.FileMetadata
	for _, s := range idx.shards {
		s.mu.RLock()
		for _, meta := range s.files {
			if meta.Status == model.StatusPending {
				continue
			}
			if status != "" && meta.Status != status {
				continue
			}
			copied := *meta
			result = append(result, &copied)
		}
		s.mu.RUnlock()
	}
	return result
}

// Count возвращает общее количество объектов в индексе (включая pending).
func (idx *Index) Count() int {
	count := 0
	for _, s := range idx.shards {
		s.mu.RLock()
		count += len(s.files)
		s.mu.RUnlock()
	}
	return count
}

// CountByStatus возвращает количество объектов с указанным статусом.
func (idx *Index) CountByStatus(status model.FileStatus) int {
	count := 0
	for _, s := range idx.shards {
		s.mu.RLock()
		for _, meta := range s.files {
			if meta.Status == status {
				count++
			}
		}
		s.mu.RUnlock()
	}
	return count
}
