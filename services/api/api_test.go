package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"ledgerd/services/registry"
)

var testDBSeq atomic.Int64

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()

	dsn := fmt.Sprintf("file:api_test_%d?mode=memory&cache=shared", testDBSeq.Add(1))
	orm, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := registry.AutoMigrate(orm); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}

	service, err := New(&Store{ORM: orm}, Config{})
	if err != nil {
		t.Fatalf("new api: %v", err)
	}
	routes, err := service.Routes()
	if err != nil {
		t.Fatalf("routes: %v", err)
	}
	return routes
}

func doJSON(t *testing.T, router http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request body: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, dest any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), dest); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
}

type resourceBody struct {
	Resource struct {
		ID       uuid.UUID      `json:"id"`
		Kind     string         `json:"kind"`
		Name     string         `json:"name"`
		Snapshot int64          `json:"snapshot"`
		Payload  map[string]any `json:"payload"`
		HasDraft bool           `json:"has_draft"`
	} `json:"resource"`
}

func createQueue(t *testing.T, router http.Handler, name string) uuid.UUID {
	t.Helper()
	rec := doJSON(t, router, http.MethodPost, "/v1/resources/queue", map[string]any{
		"group": "g",
		"name":  name,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create queue status = %d: %s", rec.Code, rec.Body.String())
	}
	var body resourceBody
	decodeBody(t, rec, &body)
	return body.Resource.ID
}

func TestCreateAndGetResource(t *testing.T) {
	router := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/v1/resources/queue", map[string]any{
		"group":       "g",
		"name":        "gpu",
		"description": "gpu workers",
		"payload":     map[string]any{"priority": "high"},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d: %s", rec.Code, rec.Body.String())
	}
	var created resourceBody
	decodeBody(t, rec, &created)
	if created.Resource.Snapshot != 1 {
		t.Fatalf("created snapshot = %d, want 1", created.Resource.Snapshot)
	}

	rec = doJSON(t, router, http.MethodGet, "/v1/resources/queue/"+created.Resource.ID.String(), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d: %s", rec.Code, rec.Body.String())
	}
	var fetched resourceBody
	decodeBody(t, rec, &fetched)
	if fetched.Resource.Name != "gpu" {
		t.Fatalf("fetched name = %q", fetched.Resource.Name)
	}
}

func TestErrorMapping(t *testing.T) {
	router := newTestRouter(t)
	queueID := createQueue(t, router, "q")

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		want   int
	}{
		{
			name:   "unknown kind",
			method: http.MethodPost,
			path:   "/v1/resources/widget",
			body:   map[string]any{"group": "g", "name": "x"},
			want:   http.StatusBadRequest,
		},
		{
			name:   "unknown field rejected",
			method: http.MethodPost,
			path:   "/v1/resources/queue",
			body:   map[string]any{"group": "g", "name": "x", "bogus": true},
			want:   http.StatusBadRequest,
		},
		{
			name:   "missing resource",
			method: http.MethodGet,
			path:   "/v1/resources/queue/" + uuid.NewString(),
			want:   http.StatusNotFound,
		},
		{
			name:   "duplicate name",
			method: http.MethodPost,
			path:   "/v1/resources/queue",
			body:   map[string]any{"group": "g", "name": "q"},
			want:   http.StatusConflict,
		},
		{
			name:   "stale expected snapshot",
			method: http.MethodPut,
			path:   "/v1/resources/queue/" + queueID.String(),
			body:   map[string]any{"name": "q", "expected_snapshot": 99},
			want:   http.StatusConflict,
		},
		{
			name:   "invalid resource id",
			method: http.MethodGet,
			path:   "/v1/resources/queue/not-a-uuid",
			want:   http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doJSON(t, router, tt.method, tt.path, tt.body)
			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d: %s", rec.Code, tt.want, rec.Body.String())
			}
		})
	}
}

func TestCommitAndHistory(t *testing.T) {
	router := newTestRouter(t)
	queueID := createQueue(t, router, "q")

	rec := doJSON(t, router, http.MethodPut, "/v1/resources/queue/"+queueID.String(), map[string]any{
		"name":        "q",
		"description": "second version",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("commit status = %d: %s", rec.Code, rec.Body.String())
	}
	var committed resourceBody
	decodeBody(t, rec, &committed)
	if committed.Resource.Snapshot != 2 {
		t.Fatalf("commit snapshot = %d, want 2", committed.Resource.Snapshot)
	}

	rec = doJSON(t, router, http.MethodGet, "/v1/resources/queue/"+queueID.String()+"/snapshots", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("history status = %d: %s", rec.Code, rec.Body.String())
	}
	var history struct {
		Snapshots []struct {
			Snapshot int64 `json:"snapshot"`
			Latest   bool  `json:"latest_snapshot"`
		} `json:"snapshots"`
	}
	decodeBody(t, rec, &history)
	if len(history.Snapshots) != 2 {
		t.Fatalf("history length = %d, want 2", len(history.Snapshots))
	}
	if history.Snapshots[0].Snapshot != 2 || !history.Snapshots[0].Latest {
		t.Fatalf("newest entry = %+v, want snapshot 2 latest", history.Snapshots[0])
	}
	if history.Snapshots[1].Latest {
		t.Fatal("old snapshot still marked latest")
	}

	rec = doJSON(t, router, http.MethodGet, "/v1/resources/queue/"+queueID.String()+"/snapshots/1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get snapshot status = %d: %s", rec.Code, rec.Body.String())
	}
}

func TestDraftEndpoints(t *testing.T) {
	router := newTestRouter(t)
	queueID := createQueue(t, router, "q")
	base := "/v1/resources/queue/" + queueID.String()

	rec := doJSON(t, router, http.MethodPost, base+"/draft?owner=alice", nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("open draft status = %d: %s", rec.Code, rec.Body.String())
	}
	var opened struct {
		Draft struct {
			ID           uuid.UUID `json:"id"`
			BaseSnapshot int64     `json:"base_snapshot"`
		} `json:"draft"`
	}
	decodeBody(t, rec, &opened)
	if opened.Draft.BaseSnapshot != 1 {
		t.Fatalf("draft base snapshot = %d, want 1", opened.Draft.BaseSnapshot)
	}

	rec = doJSON(t, router, http.MethodPut, base+"/draft?owner=alice", map[string]any{
		"name":        "q",
		"description": "draft text",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("update draft status = %d: %s", rec.Code, rec.Body.String())
	}

	// Committed state is untouched while the draft exists.
	rec = doJSON(t, router, http.MethodGet, base, nil)
	var current resourceBody
	decodeBody(t, rec, &current)
	if current.Resource.Snapshot != 1 {
		t.Fatalf("draft edit advanced snapshot to %d", current.Resource.Snapshot)
	}
	if !current.Resource.HasDraft {
		t.Fatal("resource does not report its open draft")
	}

	rec = doJSON(t, router, http.MethodPost, "/v1/drafts/"+opened.Draft.ID.String()+"/publish", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("publish status = %d: %s", rec.Code, rec.Body.String())
	}
	var published resourceBody
	decodeBody(t, rec, &published)
	if published.Resource.Snapshot != 2 {
		t.Fatalf("published snapshot = %d, want 2", published.Resource.Snapshot)
	}

	rec = doJSON(t, router, http.MethodGet, base+"/draft?owner=alice", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("draft lookup after publish status = %d", rec.Code)
	}
}

func TestReferenceSyncEndpointCarriesWarning(t *testing.T) {
	router := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/v1/resources/plugin", map[string]any{
		"group": "g",
		"name":  "attacks",
		"payload": map[string]any{
			"files": []any{
				map[string]any{"filename": "attacks.py", "contents": "tasks:\n  fgsm: {}\n  pgd: {}\n"},
			},
		},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create plugin status = %d: %s", rec.Code, rec.Body.String())
	}
	var plugin resourceBody
	decodeBody(t, rec, &plugin)

	rec = doJSON(t, router, http.MethodPost, "/v1/resources/entrypoint", map[string]any{
		"group": "g",
		"name":  "evaluate",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create entrypoint status = %d: %s", rec.Code, rec.Body.String())
	}
	var entrypoint resourceBody
	decodeBody(t, rec, &entrypoint)

	rec = doJSON(t, router, http.MethodPost, "/v1/references", map[string]any{
		"owner_id":      entrypoint.Resource.ID,
		"target_id":     plugin.Resource.ID,
		"relation":      "plugin",
		"sub_selection": "fgsm",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("bind status = %d: %s", rec.Code, rec.Body.String())
	}
	var bound struct {
		Reference struct {
			ID uuid.UUID `json:"id"`
		} `json:"reference"`
	}
	decodeBody(t, rec, &bound)

	rec = doJSON(t, router, http.MethodPut, "/v1/resources/plugin/"+plugin.Resource.ID.String(), map[string]any{
		"name": "attacks",
		"payload": map[string]any{
			"files": []any{
				map[string]any{"filename": "attacks.py", "contents": "tasks:\n  pgd: {}\n"},
			},
		},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("commit plugin status = %d: %s", rec.Code, rec.Body.String())
	}

	refPath := "/v1/references/" + bound.Reference.ID.String()

	rec = doJSON(t, router, http.MethodGet, refPath, nil)
	var before struct {
		Reference struct {
			Stale bool `json:"stale"`
		} `json:"reference"`
	}
	decodeBody(t, rec, &before)
	if !before.Reference.Stale {
		t.Fatal("reference not stale after target commit")
	}

	rec = doJSON(t, router, http.MethodPost, refPath+"/sync", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("sync status = %d: %s", rec.Code, rec.Body.String())
	}
	var synced struct {
		Reference struct {
			TargetSnapshot int64  `json:"target_snapshot"`
			SubSelection   string `json:"sub_selection"`
		} `json:"reference"`
		Warning *struct {
			ReferenceID    uuid.UUID `json:"reference_id"`
			SubSelection   string    `json:"sub_selection"`
			TargetSnapshot int64     `json:"target_snapshot"`
		} `json:"warning"`
	}
	decodeBody(t, rec, &synced)
	if synced.Warning == nil || synced.Warning.SubSelection != "fgsm" {
		t.Fatalf("sync response warning = %+v, want lost fgsm", synced.Warning)
	}
	if synced.Warning.ReferenceID != bound.Reference.ID || synced.Warning.TargetSnapshot != 2 {
		t.Fatalf("sync response warning = %+v, want reference %s at snapshot 2", synced.Warning, bound.Reference.ID)
	}
	if synced.Reference.TargetSnapshot != 2 {
		t.Fatalf("synced snapshot = %d, want 2", synced.Reference.TargetSnapshot)
	}
	if synced.Reference.SubSelection != "" {
		t.Fatalf("sub-selection survived sync: %q", synced.Reference.SubSelection)
	}
}

func TestResolveDanglingReference(t *testing.T) {
	router := newTestRouter(t)

	queueID := createQueue(t, router, "q")
	ownerID := createQueue(t, router, "owner")

	rec := doJSON(t, router, http.MethodPost, "/v1/references", map[string]any{
		"owner_id":  ownerID,
		"target_id": queueID,
		"relation":  "queue",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("bind status = %d: %s", rec.Code, rec.Body.String())
	}
	var bound struct {
		Reference struct {
			ID uuid.UUID `json:"id"`
		} `json:"reference"`
	}
	decodeBody(t, rec, &bound)

	rec = doJSON(t, router, http.MethodDelete, "/v1/resources/queue/"+queueID.String(), nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d: %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, router, http.MethodGet, "/v1/references/"+bound.Reference.ID.String()+"/resolve", nil)
	if rec.Code != http.StatusGone {
		t.Fatalf("resolve status = %d, want 410: %s", rec.Code, rec.Body.String())
	}
}

func TestTagEndpoints(t *testing.T) {
	router := newTestRouter(t)
	queueID := createQueue(t, router, "q")
	base := "/v1/resources/queue/" + queueID.String()

	rec := doJSON(t, router, http.MethodPost, base+"/tags/baseline", nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("tag status = %d: %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, router, http.MethodGet, base+"/tags", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list tags status = %d: %s", rec.Code, rec.Body.String())
	}
	var tags struct {
		Tags []string `json:"tags"`
	}
	decodeBody(t, rec, &tags)
	if len(tags.Tags) != 1 || tags.Tags[0] != "baseline" {
		t.Fatalf("tags = %v, want [baseline]", tags.Tags)
	}

	rec = doJSON(t, router, http.MethodDelete, base+"/tags/baseline", nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("untag status = %d: %s", rec.Code, rec.Body.String())
	}
}

func TestArtifactEndpointsWithoutObjectStorage(t *testing.T) {
	router := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/v1/resources/artifact", map[string]any{
		"group": "g",
		"name":  "weights",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create artifact status = %d: %s", rec.Code, rec.Body.String())
	}
	var artifact resourceBody
	decodeBody(t, rec, &artifact)

	rec = doJSON(t, router, http.MethodPost, "/v1/resources/artifact/"+artifact.Resource.ID.String()+"/upload", map[string]any{
		"filename": "weights.bin",
	})
	if rec.Code != http.StatusFailedDependency {
		t.Fatalf("upload without S3 status = %d, want 424: %s", rec.Code, rec.Body.String())
	}
}
