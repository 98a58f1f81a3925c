package eventhandler

import (
	"log/slog"
	"sync"
	"time"

	"github.com/klypt-hub/klypt-class-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// ON SYNC COMPLETED HANDLER
// Наблюдает за циклами фоновой синхронизации и ведёт счётчик неудач
// подряд. Один сорвавшийся цикл - обычное дело для устройства без сети,
// серия срывов - повод писать в лог громче.
// ══════════════════════════════════════════════════════════════════════════════

// OnSyncCompletedHandler отслеживает исход циклов синхронизации.
type OnSyncCompletedHandler struct {
	logger *slog.Logger
	config SyncCompletedConfig

	mu                  sync.Mutex
	consecutiveFailures int
	lastSuccessAt       time.Time
}

// SyncCompletedConfig содержит конфигурацию обработчика.
type SyncCompletedConfig struct {
	// FailureAlertThreshold - после скольких неудач подряд сообщать
	// об ошибке уровнем Error вместо Warn.
	FailureAlertThreshold int
}

// DefaultSyncCompletedConfig возвращает конфигурацию по умолчанию.
func DefaultSyncCompletedConfig() SyncCompletedConfig {
	return SyncCompletedConfig{
		FailureAlertThreshold: 3,
	}
}

// NewOnSyncCompletedHandler создаёт новый обработчик исходов синхронизации.
func NewOnSyncCompletedHandler(logger *slog.Logger, config SyncCompletedConfig) *OnSyncCompletedHandler {
	if logger == nil {
		logger = slog.Default()
	}
	if config.FailureAlertThreshold <= 0 {
		config = DefaultSyncCompletedConfig()
	}

	return &OnSyncCompletedHandler{
		logger: logger.With("handler", "on_sync_completed"),
		config: config,
	}
}

// Handle обрабатывает событие завершения или срыва цикла синхронизации.
// Реализует интерфейс shared.EventHandler.
func (h *OnSyncCompletedHandler) Handle(event shared.Event) error {
	switch ev := event.(type) {
	case shared.SyncCompletedEvent:
		h.onCompleted(ev)
	case shared.SyncFailedEvent:
		h.onFailed(ev)
	default:
		h.logger.Warn("received unexpected event",
			"event_type", event.EventType(),
		)
	}
	return nil
}

// onCompleted сбрасывает счётчик неудач и фиксирует итоги цикла.
func (h *OnSyncCompletedHandler) onCompleted(ev shared.SyncCompletedEvent) {
	h.mu.Lock()
	recovered := h.consecutiveFailures
	h.consecutiveFailures = 0
	h.lastSuccessAt = ev.OccurredAt()
	h.mu.Unlock()

	if recovered > 0 {
		h.logger.Info("sync recovered after failures",
			"failed_cycles", recovered,
		)
	}

	h.logger.Info("sync cycle completed",
		"pulled", ev.Pulled,
		"pushed", ev.Pushed,
		"failed", ev.Failed,
		"duration", ev.Duration,
	)
}

// onFailed увеличивает счётчик неудач и решает, насколько громко жаловаться.
func (h *OnSyncCompletedHandler) onFailed(ev shared.SyncFailedEvent) {
	h.mu.Lock()
	h.consecutiveFailures++
	streak := h.consecutiveFailures
	h.mu.Unlock()

	if streak >= h.config.FailureAlertThreshold {
		h.logger.Error("sync keeps failing",
			"consecutive_failures", streak,
			"reason", ev.Reason,
		)
		return
	}

	h.logger.Warn("sync cycle failed",
		"consecutive_failures", streak,
		"reason", ev.Reason,
	)
}

// ConsecutiveFailures возвращает текущую серию неудач подряд.
func (h *OnSyncCompletedHandler) ConsecutiveFailures() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.consecutiveFailures
}

// LastSuccessAt возвращает время последнего успешного цикла
// (нулевое время, если успехов ещё не было).
func (h *OnSyncCompletedHandler) LastSuccessAt() time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lastSuccessAt
}

// EventTypes возвращает типы событий, которые обрабатывает этот handler.
func (h *OnSyncCompletedHandler) EventTypes() []shared.EventType {
	return []shared.EventType{
		shared.EventSyncCompleted,
		shared.EventSyncFailed,
	}
}
