// Package classroom содержит доменную модель класса платформы Klypt.
// Это ядро бизнес-логики - здесь нет внешних зависимостей.
package classroom

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// VALUE OBJECTS
// ══════════════════════════════════════════════════════════════════════════════

const (
	// CodeLength - фиксированная длина кода класса.
	CodeLength = 8

	// CodeAlphabet - допустимые символы кода класса.
	// Буквы I и O исключены, чтобы не путать их с цифрами 1 и 0.
	CodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ0123456789"
)

// ClassCode представляет короткий код для присоединения к классу.
// Код неизменяем на протяжении жизни класса и уникален в хранилище.
type ClassCode string

// IsValid проверяет длину и алфавит кода.
func (c ClassCode) IsValid() bool {
	if len(c) != CodeLength {
		return false
	}
	for _, r := range string(c) {
		if !strings.ContainsRune(CodeAlphabet, r) {
			return false
		}
	}
	return true
}

// String возвращает строковое представление кода.
func (c ClassCode) String() string {
	return string(c)
}

// NormalizeCode приводит пользовательский ввод к каноничному виду кода:
// обрезает пробелы и переводит в верхний регистр.
func NormalizeCode(raw string) ClassCode {
	return ClassCode(strings.ToUpper(strings.TrimSpace(raw)))
}

// EducatorID представляет идентификатор преподавателя, владеющего классом.
type EducatorID string

// IsValid проверяет корректность идентификатора преподавателя.
func (e EducatorID) IsValid() bool {
	s := string(e)
	return len(s) >= 1 && len(s) <= 64 && !strings.ContainsAny(s, " \t\n\r")
}

// String возвращает строковое представление идентификатора.
func (e EducatorID) String() string {
	return string(e)
}

// IsEmpty проверяет, что идентификатор пуст.
func (e EducatorID) IsEmpty() bool {
	return e == ""
}

// StudentID представляет идентификатор ученика.
type StudentID string

// IsValid проверяет корректность идентификатора ученика.
func (s StudentID) IsValid() bool {
	v := string(s)
	return len(v) >= 1 && len(v) <= 64 && !strings.ContainsAny(v, " \t\n\r")
}

// String возвращает строковое представление идентификатора.
func (s StudentID) String() string {
	return string(s)
}

// ══════════════════════════════════════════════════════════════════════════════
// ROSTER
// Состав класса - множество идентификаторов учеников. Порядок не несёт
// смысловой нагрузки, при сериализации список сортируется для детерминизма.
// ══════════════════════════════════════════════════════════════════════════════

// Roster представляет список учеников класса с семантикой множества.
type Roster []StudentID

// Contains проверяет, записан ли ученик в класс.
func (r Roster) Contains(id StudentID) bool {
	for _, s := range r {
		if s == id {
			return true
		}
	}
	return false
}

// Add добавляет ученика и возвращает новый состав.
// Повторное добавление не меняет состав.
func (r Roster) Add(id StudentID) Roster {
	if r.Contains(id) {
		return r
	}
	out := make(Roster, 0, len(r)+1)
	out = append(out, r...)
	out = append(out, id)
	return out
}

// Remove убирает ученика и возвращает новый состав.
func (r Roster) Remove(id StudentID) Roster {
	out := make(Roster, 0, len(r))
	for _, s := range r {
		if s != id {
			out = append(out, s)
		}
	}
	return out
}

// Sorted возвращает отсортированную копию состава.
func (r Roster) Sorted() Roster {
	out := make(Roster, len(r))
	copy(out, r)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Strings возвращает состав как срез строк (для сериализации).
// Для пустого состава возвращается пустой срез, никогда nil.
func (r Roster) Strings() []string {
	out := make([]string, 0, len(r))
	for _, s := range r.Sorted() {
		out = append(out, string(s))
	}
	return out
}

// RosterFromStrings восстанавливает состав из среза строк,
// отбрасывая пустые значения и дубликаты.
func RosterFromStrings(ids []string) Roster {
	out := make(Roster, 0, len(ids))
	for _, raw := range ids {
		id := StudentID(strings.TrimSpace(raw))
		if id == "" || out.Contains(id) {
			continue
		}
		out = append(out, id)
	}
	return out
}

// ══════════════════════════════════════════════════════════════════════════════
// MAIN ENTITY: CLASS RECORD
// ══════════════════════════════════════════════════════════════════════════════

// ClassRecord - центральная сущность системы, представляющая класс Klypt.
type ClassRecord struct {
	// ID - внутренний уникальный идентификатор (UUID в строковом формате).
	ID string

	// Code - короткий код присоединения. Неизменяем после создания.
	Code ClassCode

	// Title - отображаемое название класса.
	Title string

	// EducatorID - преподаватель, владеющий классом.
	EducatorID EducatorID

	// StudentIDs - состав записанных учеников.
	StudentIDs Roster

	// CreatedAt - время создания записи (UTC).
	CreatedAt time.Time

	// UpdatedAt - время последнего локального изменения (UTC).
	UpdatedAt time.Time

	// LastSyncedAt - время последнего успешного обмена с удалённым
	// хранилищем (UTC). Нулевое значение - класс ещё не синхронизировался.
	LastSyncedAt time.Time
}

// ══════════════════════════════════════════════════════════════════════════════
// DOMAIN ERRORS
// ══════════════════════════════════════════════════════════════════════════════

var (
	// ErrInvalidClassID - пустой или некорректный идентификатор класса.
	ErrInvalidClassID = errors.New("invalid class id: must not be empty")

	// ErrInvalidClassCode - код класса не соответствует формату.
	ErrInvalidClassCode = errors.New("invalid class code: must be 8 chars from the code alphabet")

	// ErrInvalidTitle - некорректное название класса.
	ErrInvalidTitle = errors.New("invalid class title: must be 1-200 chars")

	// ErrInvalidEducatorID - некорректный идентификатор преподавателя.
	ErrInvalidEducatorID = errors.New("invalid educator id: must be 1-64 chars without whitespace")

	// ErrInvalidStudentID - некорректный идентификатор ученика.
	ErrInvalidStudentID = errors.New("invalid student id: must be 1-64 chars without whitespace")

	// ErrAlreadyEnrolled - ученик уже записан в класс.
	ErrAlreadyEnrolled = errors.New("student already enrolled in class")

	// ErrNotEnrolled - ученик не записан в класс.
	ErrNotEnrolled = errors.New("student is not enrolled in class")

	// ErrClassNotFound - класс не найден. Отсутствие записи - это
	// нормальный исход, а не сбой хранилища.
	ErrClassNotFound = errors.New("class not found")

	// ErrClassAlreadyExists - класс с таким идентификатором уже существует.
	ErrClassAlreadyExists = errors.New("class already exists")

	// ErrCodeTaken - код присоединения уже занят другим классом.
	ErrCodeTaken = errors.New("class code already taken")
)

// ══════════════════════════════════════════════════════════════════════════════
// FACTORY & VALIDATION
// ══════════════════════════════════════════════════════════════════════════════

// NewClassRecordParams содержит параметры для создания нового класса.
type NewClassRecordParams struct {
	ID         string
	Code       ClassCode
	Title      string
	EducatorID EducatorID
	StudentIDs Roster
}

// NewClassRecord создаёт новый класс с валидацией всех полей.
func NewClassRecord(params NewClassRecordParams) (*ClassRecord, error) {
	if strings.TrimSpace(params.ID) == "" {
		return nil, ErrInvalidClassID
	}

	if !params.Code.IsValid() {
		return nil, ErrInvalidClassCode
	}

	title := strings.TrimSpace(params.Title)
	if len(title) == 0 || len(title) > 200 {
		return nil, ErrInvalidTitle
	}

	if !params.EducatorID.IsValid() {
		return nil, ErrInvalidEducatorID
	}

	roster := make(Roster, 0, len(params.StudentIDs))
	for _, sid := range params.StudentIDs {
		if !sid.IsValid() {
			return nil, ErrInvalidStudentID
		}
		roster = roster.Add(sid)
	}

	now := time.Now().UTC()

	return &ClassRecord{
		ID:         params.ID,
		Code:       params.Code,
		Title:      title,
		EducatorID: params.EducatorID,
		StudentIDs: roster,
		CreatedAt:  now,
		UpdatedAt:  now,
	}, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// DOMAIN METHODS (Business Logic)
// ══════════════════════════════════════════════════════════════════════════════

// Enroll записывает ученика в класс.
// Возвращает ErrAlreadyEnrolled при повторной записи.
func (c *ClassRecord) Enroll(id StudentID) error {
	if !id.IsValid() {
		return ErrInvalidStudentID
	}

	if c.StudentIDs.Contains(id) {
		return ErrAlreadyEnrolled
	}

	c.StudentIDs = c.StudentIDs.Add(id)
	c.UpdatedAt = time.Now().UTC()
	return nil
}

// Withdraw отчисляет ученика из класса.
// Возвращает ErrNotEnrolled, если ученик не был записан.
func (c *ClassRecord) Withdraw(id StudentID) error {
	if !c.StudentIDs.Contains(id) {
		return ErrNotEnrolled
	}

	c.StudentIDs = c.StudentIDs.Remove(id)
	c.UpdatedAt = time.Now().UTC()
	return nil
}

// Rename меняет название класса.
func (c *ClassRecord) Rename(title string) error {
	title = strings.TrimSpace(title)
	if len(title) == 0 || len(title) > 200 {
		return ErrInvalidTitle
	}

	c.Title = title
	c.UpdatedAt = time.Now().UTC()
	return nil
}

// RosterSize возвращает количество записанных учеников.
func (c *ClassRecord) RosterSize() int {
	return len(c.StudentIDs)
}

// HasStudent проверяет, записан ли ученик в класс.
func (c *ClassRecord) HasStudent(id StudentID) bool {
	return c.StudentIDs.Contains(id)
}

// SyncedWith обновляет время последней синхронизации.
// Локальное время изменения не трогаем: запись, изменённая после
// синхронизации, должна остаться "грязной".
func (c *ClassRecord) SyncedWith(syncTime time.Time) {
	c.LastSyncedAt = syncTime.UTC()
}

// IsDirty возвращает true, если запись изменялась после последней
// синхронизации и её нужно отправить в удалённое хранилище.
func (c *ClassRecord) IsDirty() bool {
	return c.LastSyncedAt.IsZero() || c.UpdatedAt.After(c.LastSyncedAt)
}

// NeverSynced возвращает true, если запись ещё ни разу не синхронизировалась.
func (c *ClassRecord) NeverSynced() bool {
	return c.LastSyncedAt.IsZero()
}

// StaleFor возвращает длительность с момента последней синхронизации.
func (c *ClassRecord) StaleFor() time.Duration {
	if c.LastSyncedAt.IsZero() {
		return time.Since(c.CreatedAt)
	}
	return time.Since(c.LastSyncedAt)
}

// String возвращает строковое представление класса для логирования.
func (c *ClassRecord) String() string {
	return fmt.Sprintf(
		"ClassRecord{ID: %s, Code: %s, Title: %q, Educator: %s, Students: %d}",
		c.ID, c.Code, c.Title, c.EducatorID, len(c.StudentIDs),
	)
}

// Clone создаёт глубокую копию класса.
func (c *ClassRecord) Clone() *ClassRecord {
	if c == nil {
		return nil
	}

	clone := *c
	clone.StudentIDs = make(Roster, len(c.StudentIDs))
	copy(clone.StudentIDs, c.StudentIDs)
	return &clone
}
