// Package query contains read operations (CQRS - Queries).
package query

import (
	"context"
	"errors"
	"time"

	"github.com/klypt-hub/klypt-class-hub/internal/domain/classroom"
	"github.com/klypt-hub/klypt-class-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET CLASS QUERY
// Получает один класс по идентификатору записи или по коду присоединения.
// Отсутствие класса - нормальный результат, а не ошибка: вызывающая
// сторона проверяет поле Found.
// ══════════════════════════════════════════════════════════════════════════════

// classCacheTTL - время жизни записи в кеше после чтения из хранилища.
const classCacheTTL = 10 * time.Minute

// GetClassQuery содержит параметры запроса класса.
type GetClassQuery struct {
	// ClassID - идентификатор записи класса.
	ClassID string

	// ClassCode - код присоединения (альтернатива ClassID).
	ClassCode string

	// SkipCache - читать напрямую из хранилища, минуя кеш.
	SkipCache bool
}

// Validate проверяет корректность параметров запроса.
func (q *GetClassQuery) Validate() error {
	if q.ClassID == "" && q.ClassCode == "" {
		return errors.New("either class_id or class_code must be provided")
	}
	if q.ClassID != "" && q.ClassCode != "" {
		return errors.New("class_id and class_code are mutually exclusive")
	}
	if q.ClassCode != "" {
		q.ClassCode = string(classroom.NormalizeCode(q.ClassCode))
	}
	return nil
}

// ClassDTO - полное представление класса для чтения.
type ClassDTO struct {
	// ─────────────────────────────────────────────────────────────────────────
	// Идентификация
	// ─────────────────────────────────────────────────────────────────────────

	// ClassID - идентификатор записи класса.
	ClassID string `json:"class_id"`

	// ClassCode - код присоединения.
	ClassCode string `json:"class_code"`

	// ─────────────────────────────────────────────────────────────────────────
	// Содержимое
	// ─────────────────────────────────────────────────────────────────────────

	// Title - название класса.
	Title string `json:"title"`

	// EducatorID - преподаватель, владеющий классом.
	EducatorID string `json:"educator_id"`

	// StudentIDs - список записанных учеников.
	StudentIDs []string `json:"student_ids"`

	// RosterSize - количество учеников.
	RosterSize int `json:"roster_size"`

	// ─────────────────────────────────────────────────────────────────────────
	// Жизненный цикл
	// ─────────────────────────────────────────────────────────────────────────

	// CreatedAt - когда класс был создан.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt - когда класс менялся в последний раз.
	UpdatedAt time.Time `json:"updated_at"`

	// ─────────────────────────────────────────────────────────────────────────
	// Синхронизация
	// ─────────────────────────────────────────────────────────────────────────

	// LastSyncedAt - когда класс последний раз синхронизировался.
	LastSyncedAt *time.Time `json:"last_synced_at,omitempty"`

	// PendingSync - есть ли несинхронизированные изменения.
	PendingSync bool `json:"pending_sync"`

	// NeverSynced - класс ещё ни разу не синхронизировался.
	NeverSynced bool `json:"never_synced"`
}

// GetClassResult содержит результат запроса класса.
type GetClassResult struct {
	// Class - найденный класс (nil, если не найден).
	Class *ClassDTO `json:"class,omitempty"`

	// Found - найден ли класс.
	Found bool `json:"found"`

	// FromCache - получен ли результат из кеша.
	FromCache bool `json:"from_cache"`

	// GeneratedAt - время генерации результата.
	GeneratedAt time.Time `json:"generated_at"`
}

// GetClassHandler обрабатывает запросы на получение класса.
type GetClassHandler struct {
	classRepo classroom.Repository
	cache     classroom.Cache // опционален
}

// NewGetClassHandler создаёт новый обработчик.
func NewGetClassHandler(classRepo classroom.Repository, cache classroom.Cache) *GetClassHandler {
	return &GetClassHandler{
		classRepo: classRepo,
		cache:     cache,
	}
}

// Handle выполняет запрос на получение класса.
func (h *GetClassHandler) Handle(ctx context.Context, query GetClassQuery) (*GetClassResult, error) {
	// Валидация
	if err := query.Validate(); err != nil {
		return nil, shared.WrapError("query", "GetClass", shared.ErrValidation, err.Error(), err)
	}

	// Сначала пробуем кеш
	if h.cache != nil && !query.SkipCache {
		if rec := h.fromCache(ctx, query); rec != nil {
			return &GetClassResult{
				Class:       buildClassDTO(rec),
				Found:       true,
				FromCache:   true,
				GeneratedAt: time.Now().UTC(),
			}, nil
		}
	}

	// Читаем из хранилища
	rec, err := h.load(ctx, query)
	if err != nil {
		if errors.Is(err, classroom.ErrClassNotFound) {
			return &GetClassResult{
				Found:       false,
				GeneratedAt: time.Now().UTC(),
			}, nil
		}
		return nil, shared.WrapError("query", "GetClass", shared.ErrNotFound, "failed to load class", err)
	}

	// Прогреваем кеш на будущее
	if h.cache != nil && !query.SkipCache {
		_ = h.cache.Set(ctx, rec, classCacheTTL)
	}

	return &GetClassResult{
		Class:       buildClassDTO(rec),
		Found:       true,
		GeneratedAt: time.Now().UTC(),
	}, nil
}

// fromCache пробует получить класс из кеша. Ошибки кеша игнорируются:
// промах просто уводит чтение в хранилище.
func (h *GetClassHandler) fromCache(ctx context.Context, query GetClassQuery) *classroom.ClassRecord {
	var rec *classroom.ClassRecord
	var err error

	if query.ClassID != "" {
		rec, err = h.cache.Get(ctx, query.ClassID)
	} else {
		rec, err = h.cache.GetByCode(ctx, classroom.ClassCode(query.ClassCode))
	}
	if err != nil {
		return nil
	}
	return rec
}

// load читает класс из хранилища по идентификатору или коду.
func (h *GetClassHandler) load(ctx context.Context, query GetClassQuery) (*classroom.ClassRecord, error) {
	if query.ClassID != "" {
		return h.classRepo.Get(ctx, query.ClassID)
	}
	return h.classRepo.FindByCode(ctx, classroom.ClassCode(query.ClassCode))
}

// buildClassDTO формирует DTO из доменной записи.
func buildClassDTO(rec *classroom.ClassRecord) *ClassDTO {
	dto := &ClassDTO{
		ClassID:     rec.ID,
		ClassCode:   rec.Code.String(),
		Title:       rec.Title,
		EducatorID:  rec.EducatorID.String(),
		StudentIDs:  rec.StudentIDs.Strings(),
		RosterSize:  rec.RosterSize(),
		CreatedAt:   rec.CreatedAt,
		UpdatedAt:   rec.UpdatedAt,
		PendingSync: rec.IsDirty(),
		NeverSynced: rec.NeverSynced(),
	}

	if !rec.LastSyncedAt.IsZero() {
		dto.LastSyncedAt = &rec.LastSyncedAt
	}

	return dto
}
