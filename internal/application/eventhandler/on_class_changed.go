// Package eventhandler содержит обработчики доменных событий.
package eventhandler

import (
	"context"
	"log/slog"

	"github.com/klypt-hub/klypt-class-hub/internal/domain/classroom"
	"github.com/klypt-hub/klypt-class-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// ON CLASS CHANGED HANDLER
// Сбрасывает кеш класса при любом изменении его записи.
//
// Командный слой сбрасывает кеш сам, но фоновая синхронизация пишет
// в хранилище напрямую - без этого обработчика пул оставлял бы в кеше
// устаревшие копии до конца TTL.
// ══════════════════════════════════════════════════════════════════════════════

// OnClassChangedHandler сбрасывает кеш изменившегося класса.
type OnClassChangedHandler struct {
	cache  classroom.Cache
	logger *slog.Logger
	config ClassChangedConfig
}

// ClassChangedConfig содержит конфигурацию обработчика.
type ClassChangedConfig struct {
	// InvalidateOnPull - сбрасывать ли кеш при фоновом пуле изменений.
	InvalidateOnPull bool
}

// DefaultClassChangedConfig возвращает конфигурацию по умолчанию.
func DefaultClassChangedConfig() ClassChangedConfig {
	return ClassChangedConfig{
		InvalidateOnPull: true,
	}
}

// NewOnClassChangedHandler создаёт новый обработчик изменения класса.
func NewOnClassChangedHandler(
	cache classroom.Cache,
	logger *slog.Logger,
	config ClassChangedConfig,
) *OnClassChangedHandler {
	if logger == nil {
		logger = slog.Default()
	}

	return &OnClassChangedHandler{
		cache:  cache,
		logger: logger.With("handler", "on_class_changed"),
		config: config,
	}
}

// Handle обрабатывает событие изменения класса.
// Реализует интерфейс shared.EventHandler.
func (h *OnClassChangedHandler) Handle(event shared.Event) error {
	ctx := context.Background()

	if h.cache == nil {
		return nil
	}

	if event.EventType() == shared.EventClassPulled && !h.config.InvalidateOnPull {
		return nil
	}

	classID := event.AggregateID()
	if classID == "" {
		h.logger.Warn("event carries no class id",
			"event_type", event.EventType(),
		)
		return nil
	}

	// Устаревшая запись доживёт до конца TTL, поэтому ошибка сброса
	// не останавливает обработку событий.
	if err := h.cache.Invalidate(ctx, classID); err != nil {
		h.logger.Warn("failed to invalidate class cache",
			"class_id", classID,
			"event_type", event.EventType(),
			"error", err,
		)
		return nil
	}

	h.logger.Debug("class cache invalidated",
		"class_id", classID,
		"event_type", event.EventType(),
	)

	return nil
}

// EventTypes возвращает типы событий, которые обрабатывает этот handler.
func (h *OnClassChangedHandler) EventTypes() []shared.EventType {
	return []shared.EventType{
		shared.EventClassCreated,
		shared.EventClassRenamed,
		shared.EventClassDeleted,
		shared.EventStudentEnrolled,
		shared.EventStudentRemoved,
		shared.EventClassPulled,
	}
}
