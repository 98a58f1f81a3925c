package classroom

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func newTestRecord(t *testing.T) *ClassRecord {
	t.Helper()

	rec, err := NewClassRecord(NewClassRecordParams{
		ID:         "c1",
		Code:       ClassCode("ABCD1234"),
		Title:      "Algebra 7",
		EducatorID: EducatorID("e1"),
		StudentIDs: Roster{StudentID("s1")},
	})
	assert.NoError(t, err)
	return rec
}

func TestClassCode_IsValid(t *testing.T) {
	assert.True(t, ClassCode("ABCD1234").IsValid())
	assert.True(t, ClassCode("ZZZZ9999").IsValid())

	assert.False(t, ClassCode("").IsValid())
	assert.False(t, ClassCode("ABC").IsValid(), "too short")
	assert.False(t, ClassCode("ABCD12345").IsValid(), "too long")
	assert.False(t, ClassCode("abcd1234").IsValid(), "lowercase is not canonical")
	assert.False(t, ClassCode("ABCO1234").IsValid(), "letter O is excluded")
	assert.False(t, ClassCode("ABCI1234").IsValid(), "letter I is excluded")
	assert.False(t, ClassCode("ABC 1234").IsValid(), "whitespace")
}

func TestNormalizeCode(t *testing.T) {
	assert.Equal(t, ClassCode("ABCD1234"), NormalizeCode("  abcd1234 "))
	assert.True(t, NormalizeCode("abcd1234").IsValid())
}

func TestRoster_SetSemantics(t *testing.T) {
	r := Roster{}
	r = r.Add("s1")
	r = r.Add("s2")
	r = r.Add("s1") // duplicate is a no-op

	assert.Len(t, r, 2)
	assert.True(t, r.Contains("s1"))
	assert.True(t, r.Contains("s2"))
	assert.False(t, r.Contains("s3"))

	r = r.Remove("s1")
	assert.Len(t, r, 1)
	assert.False(t, r.Contains("s1"))
}

func TestRoster_StringsIsSortedAndNeverNil(t *testing.T) {
	assert.NotNil(t, Roster{}.Strings())
	assert.Empty(t, Roster{}.Strings())

	r := Roster{"s3", "s1", "s2"}
	assert.Equal(t, []string{"s1", "s2", "s3"}, r.Strings())
}

func TestRosterFromStrings_DropsEmptyAndDuplicates(t *testing.T) {
	r := RosterFromStrings([]string{"s1", "", "s2", "s1", "  "})
	assert.Len(t, r, 2)
	assert.True(t, r.Contains("s1"))
	assert.True(t, r.Contains("s2"))
}

func TestNewClassRecord_Valid(t *testing.T) {
	rec := newTestRecord(t)

	assert.Equal(t, "c1", rec.ID)
	assert.Equal(t, ClassCode("ABCD1234"), rec.Code)
	assert.Equal(t, EducatorID("e1"), rec.EducatorID)
	assert.True(t, rec.HasStudent("s1"))
	assert.False(t, rec.CreatedAt.IsZero())
	assert.False(t, rec.UpdatedAt.IsZero())
	assert.True(t, rec.LastSyncedAt.IsZero(), "fresh record has never synced")
	assert.True(t, rec.IsDirty())
}

func TestNewClassRecord_Validation(t *testing.T) {
	base := NewClassRecordParams{
		ID:         "c1",
		Code:       ClassCode("ABCD1234"),
		Title:      "Algebra 7",
		EducatorID: EducatorID("e1"),
	}

	p := base
	p.ID = "  "
	_, err := NewClassRecord(p)
	assert.ErrorIs(t, err, ErrInvalidClassID)

	p = base
	p.Code = ClassCode("nope")
	_, err = NewClassRecord(p)
	assert.ErrorIs(t, err, ErrInvalidClassCode)

	p = base
	p.Title = "   "
	_, err = NewClassRecord(p)
	assert.ErrorIs(t, err, ErrInvalidTitle)

	p = base
	p.EducatorID = ""
	_, err = NewClassRecord(p)
	assert.ErrorIs(t, err, ErrInvalidEducatorID)

	p = base
	p.StudentIDs = Roster{StudentID("bad id")}
	_, err = NewClassRecord(p)
	assert.ErrorIs(t, err, ErrInvalidStudentID)
}

func TestClassRecord_EnrollAndWithdraw(t *testing.T) {
	rec := newTestRecord(t)
	before := rec.UpdatedAt

	err := rec.Enroll("s2")
	assert.NoError(t, err)
	assert.True(t, rec.HasStudent("s2"))
	assert.Equal(t, 2, rec.RosterSize())
	assert.False(t, rec.UpdatedAt.Before(before))

	err = rec.Enroll("s2")
	assert.ErrorIs(t, err, ErrAlreadyEnrolled)

	err = rec.Withdraw("s2")
	assert.NoError(t, err)
	assert.False(t, rec.HasStudent("s2"))

	err = rec.Withdraw("s2")
	assert.ErrorIs(t, err, ErrNotEnrolled)
}

func TestClassRecord_Rename(t *testing.T) {
	rec := newTestRecord(t)

	err := rec.Rename("  Geometry 8  ")
	assert.NoError(t, err)
	assert.Equal(t, "Geometry 8", rec.Title)

	err = rec.Rename("")
	assert.ErrorIs(t, err, ErrInvalidTitle)
}

func TestClassRecord_DirtyTracking(t *testing.T) {
	rec := newTestRecord(t)
	assert.True(t, rec.IsDirty(), "never-synced record is dirty")
	assert.True(t, rec.NeverSynced())

	rec.SyncedWith(time.Now().Add(time.Second))
	assert.False(t, rec.IsDirty())
	assert.False(t, rec.NeverSynced())

	// Local mutation after a sync makes the record dirty again.
	err := rec.Enroll("s9")
	assert.NoError(t, err)
	rec.UpdatedAt = rec.LastSyncedAt.Add(time.Second)
	assert.True(t, rec.IsDirty())
}

func TestClassRecord_Clone(t *testing.T) {
	rec := newTestRecord(t)
	clone := rec.Clone()

	assert.Equal(t, rec.ID, clone.ID)
	assert.Equal(t, rec.StudentIDs, clone.StudentIDs)

	// Mutating the clone must not touch the original roster.
	assert.NoError(t, clone.Enroll("s2"))
	assert.False(t, rec.HasStudent("s2"))
}
