package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/klypt-hub/klypt-class-hub/internal/domain/classroom"
	"github.com/klypt-hub/klypt-class-hub/internal/domain/shared"
)

func TestChangesPageDTO_Parsing(t *testing.T) {
	jsonData := `{
    "success": true,
    "data": {
        "changes": [
            {
                "seq": "41",
                "class_id": "c-100",
                "doc": {
                    "id": "c-100",
                    "class_code": "ABCD1234",
                    "title": "Algebra I",
                    "educator_id": "e-1",
                    "student_ids": ["s-1", "s-2"],
                    "created_at": "2026-03-01T10:00:00Z",
                    "updated_at": "2026-03-02T08:30:00Z"
                }
            },
            {
                "seq": "42",
                "class_id": "c-200",
                "deleted": true
            }
        ],
        "next_cursor": "42",
        "more": false
    },
    "meta": {
        "returned": 2,
        "next_cursor": "42"
    }
}`

	var response APIResponse[ChangesPageDTO]
	err := json.Unmarshal([]byte(jsonData), &response)
	require.NoError(t, err)

	assert.True(t, response.Success)
	require.NotNil(t, response.Meta)
	assert.Equal(t, 2, response.Meta.Returned)

	page := response.Data
	assert.True(t, page.HasChanges())
	assert.Equal(t, "42", page.NextCursor)
	require.Len(t, page.Changes, 2)

	first := page.Changes[0]
	assert.Equal(t, "41", first.Seq)
	assert.True(t, first.HasDocument())
	assert.Equal(t, "ABCD1234", first.Doc.ClassCode)
	assert.Equal(t, []string{"s-1", "s-2"}, first.Doc.StudentIDs)
	assert.Equal(t, time.Date(2026, 3, 2, 8, 30, 0, 0, time.UTC), first.Doc.UpdatedAt)

	second := page.Changes[1]
	assert.True(t, second.Deleted)
	assert.False(t, second.HasDocument())
}

func TestClassDocumentDTO_Touched(t *testing.T) {
	created := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	updated := time.Date(2026, 3, 2, 8, 30, 0, 0, time.UTC)

	dto := &ClassDocumentDTO{CreatedAt: created, UpdatedAt: updated}
	assert.Equal(t, updated, dto.Touched())

	dto = &ClassDocumentDTO{CreatedAt: created}
	assert.Equal(t, created, dto.Touched())
}

func TestMapper_RecordFromDTO(t *testing.T) {
	mapper := NewMapper()

	dto := &ClassDocumentDTO{
		ID:         "c-100",
		ClassCode:  " abcd1234 ",
		Title:      "Algebra I",
		EducatorID: "e-1",
		StudentIDs: []string{"s-2", "s-1", "s-2"},
		CreatedAt:  time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
		UpdatedAt:  time.Date(2026, 3, 2, 8, 30, 0, 0, time.UTC),
	}

	rec, err := mapper.RecordFromDTO(dto)
	require.NoError(t, err)

	assert.Equal(t, "c-100", rec.ID)
	assert.Equal(t, classroom.ClassCode("ABCD1234"), rec.Code)
	assert.Equal(t, "Algebra I", rec.Title)
	assert.Equal(t, classroom.EducatorID("e-1"), rec.EducatorID)
	assert.Equal(t, classroom.Roster{"s-2", "s-1"}, rec.StudentIDs)
	assert.Equal(t, dto.CreatedAt, rec.CreatedAt)
	assert.Equal(t, dto.UpdatedAt, rec.UpdatedAt)

	// Sync bookkeeping is local, never taken from the wire
	assert.True(t, rec.LastSyncedAt.IsZero())
}

func TestMapper_RecordFromDTO_Defaults(t *testing.T) {
	mapper := NewMapper()

	rec, err := mapper.RecordFromDTO(&ClassDocumentDTO{ID: "c-bare"})
	require.NoError(t, err)

	assert.Equal(t, "c-bare", rec.ID)
	assert.Equal(t, classroom.ClassCode(""), rec.Code)
	assert.Equal(t, "", rec.Title)
	assert.True(t, rec.EducatorID.IsEmpty())
	assert.NotNil(t, rec.StudentIDs)
	assert.Empty(t, rec.StudentIDs)
}

func TestMapper_RecordFromDTO_RequiresID(t *testing.T) {
	mapper := NewMapper()

	_, err := mapper.RecordFromDTO(nil)
	assert.ErrorIs(t, err, ErrNilDTO)

	_, err = mapper.RecordFromDTO(&ClassDocumentDTO{Title: "No ID"})
	var mapErr *MappingError
	require.ErrorAs(t, err, &mapErr)
	assert.Equal(t, "id", mapErr.Field)
}

func TestMapper_ChangesFromDTO_SkipsInvalidEntries(t *testing.T) {
	mapper := NewMapper()

	dto := &ChangesPageDTO{
		Changes: []ClassChangeDTO{
			{Seq: "1", ClassID: "c-1", Doc: &ClassDocumentDTO{ID: "c-1", ClassCode: "ABCD1234"}},
			{Seq: "2", ClassID: "c-2", Deleted: true},
			{Seq: "3", ClassID: "c-3"},                                  // no document body
			{Seq: "4", ClassID: "c-4", Doc: &ClassDocumentDTO{ID: "x"}}, // id mismatch
		},
		NextCursor: "4",
		More:       true,
	}

	page, errs := mapper.ChangesFromDTO(dto)

	assert.Len(t, errs, 2)
	require.Len(t, page.Changes, 2)
	assert.Equal(t, "4", page.NextCursor)
	assert.True(t, page.More)

	assert.Equal(t, "c-1", page.Changes[0].ClassID)
	require.NotNil(t, page.Changes[0].Record)
	assert.Equal(t, classroom.ClassCode("ABCD1234"), page.Changes[0].Record.Code)

	assert.True(t, page.Changes[1].Deleted)
	assert.Nil(t, page.Changes[1].Record)
}

func TestMapper_RecordToDTO(t *testing.T) {
	mapper := NewMapper()

	rec := &classroom.ClassRecord{
		ID:         "c-100",
		Code:       "ABCD1234",
		Title:      "Algebra I",
		EducatorID: "e-1",
		StudentIDs: classroom.Roster{"s-2", "s-1"},
		CreatedAt:  time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
		UpdatedAt:  time.Date(2026, 3, 2, 8, 30, 0, 0, time.UTC),
	}

	dto := mapper.RecordToDTO(rec)
	require.NotNil(t, dto)

	assert.Equal(t, "c-100", dto.ID)
	assert.Equal(t, "ABCD1234", dto.ClassCode)
	// Roster serializes sorted for deterministic payloads
	assert.Equal(t, []string{"s-1", "s-2"}, dto.StudentIDs)
	assert.Equal(t, rec.UpdatedAt, dto.UpdatedAt)

	assert.Nil(t, mapper.RecordToDTO(nil))
}

func TestAPIErrorDTO_StatusHelpers(t *testing.T) {
	notFound := &APIErrorDTO{Code: "NOT_FOUND", Message: "no such class", HTTPStatus: 404}
	assert.True(t, notFound.IsNotFound())
	assert.False(t, notFound.IsConflict())

	conflict := &APIErrorDTO{Message: "remote is newer", HTTPStatus: 409}
	assert.True(t, conflict.IsConflict())

	assert.ErrorIs(t, notFound, shared.ErrGatewayRejected)
	assert.Equal(t, "NOT_FOUND: no such class", notFound.Error())
}

func TestRateLimiter_BurstThenThrottle(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{
		RequestsPerSecond: 1.0,
		BurstSize:         2,
		MinInterval:       0,
		WaitTimeout:       time.Second,
	})

	assert.True(t, rl.TryAllow())
	assert.True(t, rl.TryAllow())
	assert.False(t, rl.TryAllow())
	assert.Greater(t, rl.WaitTime(), time.Duration(0))
}

func TestRateLimiter_RecordRateLimitHit(t *testing.T) {
	rl := NewRateLimiter(DefaultRateLimiterConfig())
	before := rl.Status()

	rl.RecordRateLimitHit(30 * time.Second)
	after := rl.Status()

	assert.Less(t, after.AvailableTokens, 1.0)
	assert.Less(t, after.RefillRate, before.RefillRate)
	assert.False(t, rl.TryAllow())
}

func TestRateLimitError_MatchesSharedSentinel(t *testing.T) {
	err := &RateLimitError{RetryAfter: time.Minute, Message: "gateway rate limit exceeded"}

	assert.ErrorIs(t, err, shared.ErrGatewayRateLimited)
	assert.True(t, shared.IsExternalService(err))
}

// ─────────────────────────────────────────────────────────────────────────────
// Client tests against a stub gateway
// ─────────────────────────────────────────────────────────────────────────────

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	config := DefaultClientConfig(server.URL)
	config.APIKey = "test-key"
	config.DeviceID = "device-1"
	return NewClient(config)
}

func TestClient_GetChanges(t *testing.T) {
	var gotAuth, gotDevice string

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotDevice = r.Header.Get("X-Device-ID")

		assert.Equal(t, apiPrefix+"/classes/changes", r.URL.Path)
		assert.Equal(t, "41", r.URL.Query().Get("since"))
		assert.Equal(t, "50", r.URL.Query().Get("limit"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
            "success": true,
            "data": {
                "changes": [
                    {"seq": "42", "class_id": "c-1", "doc": {"id": "c-1", "class_code": "ABCD1234", "title": "Algebra I"}},
                    {"seq": "43", "class_id": "c-2", "deleted": true}
                ],
                "next_cursor": "43"
            }
        }`))
	})

	page, err := client.GetChanges(context.Background(), "41", 50)
	require.NoError(t, err)

	assert.Equal(t, "Bearer test-key", gotAuth)
	assert.Equal(t, "device-1", gotDevice)

	assert.Equal(t, "43", page.NextCursor)
	require.Len(t, page.Changes, 2)
	assert.Equal(t, "c-1", page.Changes[0].ClassID)
	assert.True(t, page.Changes[1].Deleted)
}

func TestClient_GetClass_NotFound(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"code": "NOT_FOUND", "message": "no such class"}`))
	})

	_, err := client.GetClass(context.Background(), "c-ghost")
	assert.ErrorIs(t, err, classroom.ErrClassNotFound)
}

func TestClient_PushClass(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, apiPrefix+"/classes/c-1", r.URL.Path)

		var doc ClassDocumentDTO
		require.NoError(t, json.NewDecoder(r.Body).Decode(&doc))
		assert.Equal(t, "ABCD1234", doc.ClassCode)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
            "success": true,
            "data": {"class_id": "c-1", "accepted": true, "seq": "44"}
        }`))
	})

	rec := &classroom.ClassRecord{
		ID:        "c-1",
		Code:      "ABCD1234",
		Title:     "Algebra I",
		UpdatedAt: time.Now().UTC(),
	}

	result, err := client.PushClass(context.Background(), rec)
	require.NoError(t, err)

	assert.True(t, result.Accepted)
	assert.Equal(t, "44", result.Seq)
	assert.Equal(t, "c-1", result.ClassID)
}

func TestClient_PushClass_Conflict(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"code": "CONFLICT", "message": "remote version is newer"}`))
	})

	_, err := client.PushClass(context.Background(), &classroom.ClassRecord{ID: "c-1"})

	assert.ErrorIs(t, err, ErrConflict)
	assert.ErrorIs(t, err, shared.ErrConcurrentModification)
}

func TestClient_IsHealthy(t *testing.T) {
	healthy := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, apiPrefix+"/health", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success": true, "data": {"status": "ok"}}`))
	})
	assert.True(t, healthy.IsHealthy(context.Background()))

	down := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	assert.False(t, down.IsHealthy(context.Background()))
}
