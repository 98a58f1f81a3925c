package query

import (
	"github.com/klypt-hub/klypt-class-hub/internal/domain/classroom"
	"github.com/klypt-hub/klypt-class-hub/internal/domain/shared"
	"context"
	"errors"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// LIST CLASSES QUERY
// Возвращает список классов: все, по преподавателю или по ученику.
// Пустой список - нормальный результат, а не ошибка.
// ══════════════════════════════════════════════════════════════════════════════

// Фильтры списка классов.
const (
	FilterAll      = "all"
	FilterEducator = "educator"
	FilterStudent  = "student"
)

// ListClassesQuery содержит параметры запроса списка классов.
type ListClassesQuery struct {
	// EducatorID - вернуть только классы этого преподавателя (опционально).
	EducatorID string

	// StudentID - вернуть только классы, в которые записан этот ученик
	// (опционально, несовместимо с EducatorID).
	StudentID string

	// Limit - максимальное число классов в ответе (0 = без ограничения).
	Limit int
}

// Validate проверяет корректность параметров запроса.
func (q *ListClassesQuery) Validate() error {
	if q.EducatorID != "" && q.StudentID != "" {
		return errors.New("educator_id and student_id are mutually exclusive")
	}
	if q.Limit < 0 {
		return errors.New("limit cannot be negative")
	}
	return nil
}

// ClassSummaryDTO - краткое представление класса в списке.
type ClassSummaryDTO struct {
	// ClassID - идентификатор записи класса.
	ClassID string `json:"class_id"`

	// ClassCode - код присоединения.
	ClassCode string `json:"class_code"`

	// Title - название класса.
	Title string `json:"title"`

	// EducatorID - преподаватель класса.
	EducatorID string `json:"educator_id"`

	// RosterSize - количество учеников.
	RosterSize int `json:"roster_size"`

	// UpdatedAt - время последнего изменения.
	UpdatedAt time.Time `json:"updated_at"`

	// PendingSync - есть ли несинхронизированные изменения.
	PendingSync bool `json:"pending_sync"`
}

// ListClassesResult содержит результат запроса списка классов.
type ListClassesResult struct {
	// Classes - найденные классы (сначала свежие).
	Classes []ClassSummaryDTO `json:"classes"`

	// Total - количество классов в ответе.
	Total int `json:"total"`

	// Filter - применённый фильтр: "all", "educator" или "student".
	Filter string `json:"filter"`

	// GeneratedAt - время генерации результата.
	GeneratedAt time.Time `json:"generated_at"`
}

// ListClassesHandler обрабатывает запросы списка классов.
type ListClassesHandler struct {
	classRepo classroom.Repository
}

// NewListClassesHandler создаёт новый обработчик.
func NewListClassesHandler(classRepo classroom.Repository) *ListClassesHandler {
	return &ListClassesHandler{classRepo: classRepo}
}

// Handle выполняет запрос списка классов.
func (h *ListClassesHandler) Handle(ctx context.Context, query ListClassesQuery) (*ListClassesResult, error) {
	// Валидация
	if err := query.Validate(); err != nil {
		return nil, shared.WrapError("query", "ListClasses", shared.ErrValidation, err.Error(), err)
	}

	// Выбираем список по фильтру
	var recs []*classroom.ClassRecord
	var err error

	filter := FilterAll
	switch {
	case query.EducatorID != "":
		filter = FilterEducator
		recs, err = h.classRepo.ListByEducator(ctx, classroom.EducatorID(query.EducatorID))
	case query.StudentID != "":
		filter = FilterStudent
		recs, err = h.classRepo.ListByStudent(ctx, classroom.StudentID(query.StudentID))
	default:
		recs, err = h.classRepo.ListAll(ctx)
	}
	if err != nil {
		return nil, shared.WrapError("query", "ListClasses", shared.ErrNotFound, "failed to list classes", err)
	}

	// Ограничиваем размер ответа
	if query.Limit > 0 && len(recs) > query.Limit {
		recs = recs[:query.Limit]
	}

	// Формируем DTO
	classes := make([]ClassSummaryDTO, len(recs))
	for i, rec := range recs {
		classes[i] = ClassSummaryDTO{
			ClassID:     rec.ID,
			ClassCode:   rec.Code.String(),
			Title:       rec.Title,
			EducatorID:  rec.EducatorID.String(),
			RosterSize:  rec.RosterSize(),
			UpdatedAt:   rec.UpdatedAt,
			PendingSync: rec.IsDirty(),
		}
	}

	return &ListClassesResult{
		Classes:     classes,
		Total:       len(classes),
		Filter:      filter,
		GeneratedAt: time.Now().UTC(),
	}, nil
}
