package classroom

import (
	"context"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// REPOSITORY INTERFACES
// Эти интерфейсы определяют контракт для работы с хранилищем данных.
// Реализации находятся в infrastructure/persistence.
// ══════════════════════════════════════════════════════════════════════════════

// Repository определяет операции над записями классов в локальном
// документном хранилище. Списочные операции возвращают полный результат
// без пагинации: количество классов на одном устройстве невелико.
type Repository interface {
	// ─────────────────────────────────────────────────────────────────────────
	// CRUD Operations
	// ─────────────────────────────────────────────────────────────────────────

	// Get возвращает класс по идентификатору записи.
	// Возвращает ErrClassNotFound, если класс не найден.
	Get(ctx context.Context, id string) (*ClassRecord, error)

	// Save сохраняет класс (создание или полная перезапись).
	// Запись выполняется одной транзакцией хранилища.
	Save(ctx context.Context, rec *ClassRecord) error

	// Delete удаляет класс. Вызывается только из явных административных
	// действий - обычные сценарии классы не удаляют.
	// Возвращает ErrClassNotFound, если класс не найден.
	Delete(ctx context.Context, id string) error

	// ─────────────────────────────────────────────────────────────────────────
	// Bulk Operations
	// ─────────────────────────────────────────────────────────────────────────

	// Count возвращает общее количество классов.
	Count(ctx context.Context) (int, error)

	// ListAll возвращает все классы, отсортированные по времени
	// последнего изменения (сначала свежие).
	ListAll(ctx context.Context) ([]*ClassRecord, error)

	// ListByEducator возвращает классы указанного преподавателя.
	ListByEducator(ctx context.Context, educatorID EducatorID) ([]*ClassRecord, error)

	// ListByStudent возвращает классы, в которые записан ученик.
	ListByStudent(ctx context.Context, studentID StudentID) ([]*ClassRecord, error)

	// ─────────────────────────────────────────────────────────────────────────
	// Search
	// ─────────────────────────────────────────────────────────────────────────

	// FindByCode возвращает класс по коду присоединения (точное совпадение).
	// Возвращает ErrClassNotFound, если класс не найден.
	FindByCode(ctx context.Context, code ClassCode) (*ClassRecord, error)

	// ─────────────────────────────────────────────────────────────────────────
	// Existence Checks
	// ─────────────────────────────────────────────────────────────────────────

	// Exists проверяет существование класса по идентификатору.
	Exists(ctx context.Context, id string) (bool, error)

	// CodeInUse проверяет, занят ли код присоединения.
	CodeInUse(ctx context.Context, code ClassCode) (bool, error)
}

// ══════════════════════════════════════════════════════════════════════════════
// SYNC REPOSITORY
// Для работы с синхронизацией локального хранилища с удалённым шлюзом.
// ══════════════════════════════════════════════════════════════════════════════

// SyncRepository определяет операции для синхронизации с удалённым хранилищем.
type SyncRepository interface {
	// GetCheckpoint возвращает курсор ленты изменений шлюза.
	// Пустая строка - синхронизация ещё не выполнялась.
	GetCheckpoint(ctx context.Context) (string, error)

	// SetCheckpoint сохраняет курсор ленты изменений.
	SetCheckpoint(ctx context.Context, cursor string) error

	// GetLastSyncTime возвращает время последнего успешного цикла синхронизации.
	GetLastSyncTime(ctx context.Context) (time.Time, error)

	// SetLastSyncTime устанавливает время последнего цикла синхронизации.
	SetLastSyncTime(ctx context.Context, t time.Time) error

	// ListDirty возвращает классы, изменённые после последней синхронизации
	// (кандидаты на отправку). limit <= 0 - без ограничения.
	ListDirty(ctx context.Context, limit int) ([]*ClassRecord, error)

	// ListStale возвращает классы, не синхронизировавшиеся дольше порога.
	ListStale(ctx context.Context, olderThan time.Duration) ([]*ClassRecord, error)

	// MarkSynced отмечает класс как синхронизированный.
	MarkSynced(ctx context.Context, classID string, syncTime time.Time) error

	// SaveSyncError сохраняет ошибку синхронизации.
	SaveSyncError(ctx context.Context, serr SyncError) error

	// RecentSyncErrors возвращает ошибки синхронизации с указанного момента.
	RecentSyncErrors(ctx context.Context, since time.Time) ([]SyncError, error)
}

// SyncError представляет ошибку синхронизации.
type SyncError struct {
	// ClassID - идентификатор класса (если применимо).
	ClassID string

	// Stage - этап, на котором произошла ошибка: "pull", "push", "checkpoint".
	Stage string

	// Message - сообщение об ошибке.
	Message string

	// OccurredAt - когда произошла ошибка.
	OccurredAt time.Time

	// Retries - количество повторных попыток.
	Retries int
}

// ══════════════════════════════════════════════════════════════════════════════
// CACHE INTERFACE
// Для кеширования часто запрашиваемых классов. Кеш опционален: при
// недоступности все операции идут напрямую в хранилище.
// ══════════════════════════════════════════════════════════════════════════════

// Cache определяет операции кеширования записей классов.
type Cache interface {
	// Get получает класс из кеша по идентификатору.
	Get(ctx context.Context, classID string) (*ClassRecord, error)

	// GetByCode получает класс из кеша по коду присоединения.
	GetByCode(ctx context.Context, code ClassCode) (*ClassRecord, error)

	// Set сохраняет класс в кеш (по идентификатору и по коду).
	Set(ctx context.Context, rec *ClassRecord, ttl time.Duration) error

	// Invalidate инвалидирует все записи класса в кеше.
	Invalidate(ctx context.Context, classID string) error

	// InvalidateAll очищает весь кеш классов.
	InvalidateAll(ctx context.Context) error
}
