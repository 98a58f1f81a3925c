// Package classroom содержит доменную модель класса платформы Klypt.
//
// Это ядро бизнес-логики системы "Klypt Class Hub". Пакет определяет:
//
//   - Сущности (Entities): ClassRecord
//   - Value Objects: ClassCode, EducatorID, StudentID, Roster
//   - Интерфейсы репозиториев: Repository, SyncRepository, Cache
//
// # Архитектурные принципы
//
// Пакет следует принципам Clean Architecture и DDD:
//
//  1. Нулевые внешние зависимости - только стандартная библиотека Go
//  2. Dependency Inversion - определяет интерфейсы, которые реализуются в infrastructure
//  3. Rich Domain Model - бизнес-логика инкапсулирована в сущностях
//
// # Философия проекта
//
// "Сначала локально" - запись класса живёт во встроенном документном
// хранилище на устройстве и остаётся доступной без сети. Синхронизация
// с удалённым шлюзом выполняется в фоне и никогда не блокирует чтение.
//
// # Основная сущность
//
// ClassRecord - класс, созданный преподавателем:
//
//	code, _ := GenerateCode()
//	rec, err := NewClassRecord(NewClassRecordParams{
//	    ID:         uuid.New().String(),
//	    Code:       code,
//	    Title:      "Алгебра, 7 класс",
//	    EducatorID: EducatorID("e1"),
//	})
//
// Ученики присоединяются по коду:
//
//	if err := rec.Enroll(StudentID("s1")); err != nil {
//	    return err
//	}
//
// # Отслеживание синхронизации
//
// Запись считается "грязной", пока её локальные изменения не отправлены
// в удалённое хранилище:
//
//	if rec.IsDirty() {
//	    // отправить в шлюз, затем:
//	    rec.SyncedWith(time.Now())
//	}
//
// # Репозитории
//
// Пакет определяет интерфейсы репозиториев (реализации в infrastructure):
//
//   - Repository: операции над записями классов
//   - SyncRepository: курсор ленты изменений, грязные и устаревшие записи
//   - Cache: опциональное кеширование записей
package classroom
