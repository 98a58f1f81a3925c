package query

import (
	"context"
	"errors"
	"time"

	"github.com/klypt-hub/klypt-class-hub/internal/domain/classroom"
	"github.com/klypt-hub/klypt-class-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// CLASS STATS QUERY
// Собирает сводку по локальному хранилищу классов и состоянию
// синхронизации. Основной потребитель - административные команды.
// ══════════════════════════════════════════════════════════════════════════════

// ClassStatsQuery содержит параметры запроса сводки.
type ClassStatsQuery struct {
	// StaleThreshold - порог устаревания синхронизации (по умолчанию 7 дней).
	StaleThreshold time.Duration

	// ErrorWindow - за какой период считать ошибки синхронизации
	// (по умолчанию 24 часа).
	ErrorWindow time.Duration
}

// Validate проверяет корректность параметров запроса.
func (q *ClassStatsQuery) Validate() error {
	if q.StaleThreshold < 0 {
		return errors.New("stale_threshold cannot be negative")
	}
	if q.ErrorWindow < 0 {
		return errors.New("error_window cannot be negative")
	}
	if q.StaleThreshold == 0 {
		q.StaleThreshold = 7 * 24 * time.Hour
	}
	if q.ErrorWindow == 0 {
		q.ErrorWindow = 24 * time.Hour
	}
	return nil
}

// StoreStatsDTO - сводка по хранилищу классов.
type StoreStatsDTO struct {
	// ─────────────────────────────────────────────────────────────────────────
	// Классы
	// ─────────────────────────────────────────────────────────────────────────

	// TotalClasses - общее количество классов.
	TotalClasses int `json:"total_classes"`

	// TotalEnrollments - суммарное количество записей учеников.
	TotalEnrollments int `json:"total_enrollments"`

	// EmptyClasses - классы без учеников.
	EmptyClasses int `json:"empty_classes"`

	// AverageRosterSize - средний размер класса.
	AverageRosterSize float64 `json:"average_roster_size"`

	// ─────────────────────────────────────────────────────────────────────────
	// Синхронизация
	// ─────────────────────────────────────────────────────────────────────────

	// PendingSync - классы с несинхронизированными изменениями.
	PendingSync int `json:"pending_sync"`

	// NeverSynced - классы, ни разу не синхронизировавшиеся.
	NeverSynced int `json:"never_synced"`

	// StaleClasses - классы, не синхронизировавшиеся дольше порога.
	StaleClasses int `json:"stale_classes"`

	// LastSyncAt - время последнего успешного цикла синхронизации.
	LastSyncAt *time.Time `json:"last_sync_at,omitempty"`

	// RecentErrors - ошибки синхронизации за выбранное окно.
	RecentErrors int `json:"recent_errors"`
}

// ClassStatsResult содержит результат запроса сводки.
type ClassStatsResult struct {
	// Stats - собранная сводка.
	Stats StoreStatsDTO `json:"stats"`

	// GeneratedAt - время генерации результата.
	GeneratedAt time.Time `json:"generated_at"`
}

// ClassStatsHandler обрабатывает запросы сводки по хранилищу.
type ClassStatsHandler struct {
	classRepo classroom.Repository
	syncRepo  classroom.SyncRepository
}

// NewClassStatsHandler создаёт новый обработчик.
func NewClassStatsHandler(classRepo classroom.Repository, syncRepo classroom.SyncRepository) *ClassStatsHandler {
	return &ClassStatsHandler{
		classRepo: classRepo,
		syncRepo:  syncRepo,
	}
}

// Handle выполняет запрос сводки.
func (h *ClassStatsHandler) Handle(ctx context.Context, query ClassStatsQuery) (*ClassStatsResult, error) {
	// Валидация
	if err := query.Validate(); err != nil {
		return nil, shared.WrapError("query", "ClassStats", shared.ErrValidation, err.Error(), err)
	}

	// Основной список - без него сводку не построить
	recs, err := h.classRepo.ListAll(ctx)
	if err != nil {
		return nil, shared.WrapError("query", "ClassStats", shared.ErrNotFound, "failed to list classes", err)
	}

	// Счётчики по классам
	stats := StoreStatsDTO{}
	for _, rec := range recs {
		size := rec.RosterSize()
		stats.TotalEnrollments += size
		if size == 0 {
			stats.EmptyClasses++
		}
		if rec.IsDirty() {
			stats.PendingSync++
		}
		if rec.NeverSynced() {
			stats.NeverSynced++
		}
	}

	// Количество классов запрашиваем у хранилища напрямую
	total, err := h.classRepo.Count(ctx)
	if err != nil {
		total = len(recs)
	}
	stats.TotalClasses = total

	if stats.TotalClasses > 0 {
		stats.AverageRosterSize = float64(stats.TotalEnrollments) / float64(stats.TotalClasses)
	}

	// Устаревшие классы
	stale, err := h.syncRepo.ListStale(ctx, query.StaleThreshold)
	if err != nil {
		stale = nil
	}
	stats.StaleClasses = len(stale)

	// Время последней синхронизации
	lastSync, err := h.syncRepo.GetLastSyncTime(ctx)
	if err == nil && !lastSync.IsZero() {
		stats.LastSyncAt = &lastSync
	}

	// Ошибки синхронизации за окно
	serrs, err := h.syncRepo.RecentSyncErrors(ctx, time.Now().UTC().Add(-query.ErrorWindow))
	if err != nil {
		serrs = nil
	}
	stats.RecentErrors = len(serrs)

	return &ClassStatsResult{
		Stats:       stats,
		GeneratedAt: time.Now().UTC(),
	}, nil
}
