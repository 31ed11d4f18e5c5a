package web

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/subsidy-pipeline/constants"
	"github.com/joseph-ayodele/subsidy-pipeline/internal/eligibility"
	"github.com/joseph-ayodele/subsidy-pipeline/internal/entity"
	"github.com/joseph-ayodele/subsidy-pipeline/internal/export"
	"github.com/joseph-ayodele/subsidy-pipeline/internal/jobs"
	"github.com/joseph-ayodele/subsidy-pipeline/internal/normalize"
	"github.com/joseph-ayodele/subsidy-pipeline/internal/qa"
	"github.com/joseph-ayodele/subsidy-pipeline/internal/repository"
)

type fixture struct {
	srv   *httptest.Server
	mgr   *jobs.Manager
	store *repository.MemoryStore
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	store := repository.NewMemoryStore()
	mgr := jobs.NewManager(store, nil, nil)
	scoring := eligibility.NewService(eligibility.NewScorer(eligibility.DefaultConfig(), nil), store, store, nil)
	opts = append([]Option{WithExporter(export.NewService(store, nil))}, opts...)
	s := NewServer(mgr, store, scoring, nil, opts...)
	srv := httptest.NewServer(s.Routes())
	t.Cleanup(srv.Close)
	return &fixture{srv: srv, mgr: mgr, store: store}
}

func (f *fixture) do(t *testing.T, method, path string, body any) (*http.Response, []byte) {
	t.Helper()
	var rd *bytes.Reader
	switch b := body.(type) {
	case nil:
		rd = bytes.NewReader(nil)
	case string:
		rd = bytes.NewReader([]byte(b))
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		rd = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, f.srv.URL+path, rd)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	return resp, buf.Bytes()
}

func (f *fixture) seedRecord(t *testing.T, ref string, fields map[string]any) *entity.NormalizedRecord {
	t.Helper()
	ctx := context.Background()
	rec, err := f.store.UpsertRecord(ctx, normalize.New(nil, normalize.DayFirst, nil).NormalizeMap(ref, fields))
	require.NoError(t, err)
	require.NoError(t, f.store.UpsertQA(ctx, qa.NewValidator(qa.DefaultConfig(), nil).Validate(rec, normalize.DefaultSchema())))
	return rec
}

func TestEnqueueAndGetJob(t *testing.T) {
	f := newFixture(t)

	resp, body := f.do(t, http.MethodPost, "/v1/jobs/", map[string]any{
		"document_ref": "https://example.org/calls/green-farm",
		"priority":     "high",
	})
	require.Equal(t, http.StatusAccepted, resp.StatusCode, string(body))
	var out enqueueResponse
	require.NoError(t, json.Unmarshal(body, &out))
	assert.Equal(t, "/v1/jobs/"+out.ID, resp.Header.Get("Location"))

	resp, body = f.do(t, http.MethodGet, "/v1/jobs/"+out.ID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var j entity.ProcessingJob
	require.NoError(t, json.Unmarshal(body, &j))
	assert.Equal(t, constants.KindHTML, j.Kind)
	assert.Equal(t, constants.PriorityHigh, j.Priority)
	assert.Equal(t, constants.JobStatusQueued, j.Status)

	resp, body = f.do(t, http.MethodGet, "/v1/jobs/?status=queued,failed", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), out.ID)
}

func TestEnqueueRejectsBadInput(t *testing.T) {
	f := newFixture(t)
	cases := []struct {
		name string
		body any
		code string
	}{
		{"empty ref", map[string]any{"document_ref": " "}, "INVALID_INPUT"},
		{"unknown extension", map[string]any{"document_ref": "/inbox/call.exe"}, "INVALID_INPUT"},
		{"unknown kind", map[string]any{"document_ref": "/inbox/call", "kind": "video"}, "UNSUPPORTED_FORMAT"},
		{"unknown field", `{"document_ref":"a.txt","colour":"red"}`, "INVALID_INPUT"},
		{"bad json", `{"document_ref":`, "INVALID_INPUT"},
		{"unknown priority", map[string]any{"document_ref": "/inbox/call.txt", "priority": "urgent"}, "INVALID_INPUT"},
		{"too many attempts", map[string]any{"document_ref": "/inbox/call.txt", "max_attempts": 50}, "INVALID_INPUT"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp, body := f.do(t, http.MethodPost, "/v1/jobs/", tc.body)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			var e errorBody
			require.NoError(t, json.Unmarshal(body, &e))
			assert.Equal(t, tc.code, e.Code)
		})
	}
}

func TestJobErrorsMapToStatus(t *testing.T) {
	f := newFixture(t)

	resp, _ := f.do(t, http.MethodGet, "/v1/jobs/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body := f.do(t, http.MethodGet, "/v1/jobs/7f8c3c52-5a3e-4a8b-9d7e-0a1b2c3d4e5f", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Contains(t, string(body), "NOT_FOUND")
}

func TestCancelJob(t *testing.T) {
	f := newFixture(t)
	id, err := f.mgr.Enqueue(context.Background(), jobs.EnqueueRequest{DocumentRef: "/inbox/a.txt", Kind: constants.KindText})
	require.NoError(t, err)

	resp, body := f.do(t, http.MethodPost, "/v1/jobs/"+id.String()+"/cancel", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"status":"canceled"`)

	resp, body = f.do(t, http.MethodPost, "/v1/jobs/"+id.String()+"/cancel", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Contains(t, string(body), "INVALID_TRANSITION")
}

func TestRecordEndpoints(t *testing.T) {
	f := newFixture(t)
	clean := f.seedRecord(t, "doc://clean", map[string]any{
		"title":      "Green Farm Grant",
		"agency":     "Région Bretagne",
		"region":     "Bretagne",
		"amount_max": "50 000 €",
		"deadline":   "2025-03-15",
	})
	partial := f.seedRecord(t, "doc://partial", map[string]any{"title": "Half a call"})

	resp, body := f.do(t, http.MethodGet, "/v1/records/"+clean.ID.String(), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var rec entity.NormalizedRecord
	require.NoError(t, json.Unmarshal(body, &rec))
	assert.Equal(t, clean.ID, rec.ID)

	resp, body = f.do(t, http.MethodGet, "/v1/records/"+partial.ID.String()+"/qa", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var result entity.QAResult
	require.NoError(t, json.Unmarshal(body, &result))
	assert.True(t, result.AdminRequired)

	resp, body = f.do(t, http.MethodGet, "/v1/records/?admin_required=true", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), partial.ID.String())
	assert.NotContains(t, string(body), clean.ID.String())

	resp, _ = f.do(t, http.MethodGet, "/v1/records/?admin_required=maybe", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body = f.do(t, http.MethodGet, "/v1/records/review.xlsx", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "spreadsheetml")
	assert.True(t, bytes.HasPrefix(body, []byte("PK")), "xlsx is a zip archive")
}

func TestScoreEndpoint(t *testing.T) {
	f := newFixture(t)
	rec := f.seedRecord(t, "doc://score", map[string]any{
		"title":      "Green Farm Grant",
		"agency":     "Région Bretagne",
		"region":     "Bretagne",
		"amount_max": "50 000 €",
		"deadline":   "2999-03-15",
	})

	resp, body := f.do(t, http.MethodPost, "/v1/eligibility/score", map[string]any{
		"record_id": rec.ID.String(),
		"profile":   map[string]any{"id": "p-1", "region": "Bretagne"},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var sc entity.EligibilityScore
	require.NoError(t, json.Unmarshal(body, &sc))
	assert.Equal(t, rec.ID, sc.RecordID)
	assert.NotEqual(t, entity.BandNotEligible, sc.Band)

	resp, _ = f.do(t, http.MethodPost, "/v1/eligibility/score", map[string]any{
		"record_id": "nope",
		"profile":   map[string]any{"region": "Bretagne"},
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body = f.do(t, http.MethodPost, "/v1/eligibility/rank", map[string]any{
		"profile": map[string]any{"id": "p-1", "region": "Bretagne"},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), rec.ID.String())
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	resp, _ := f.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	down := newFixture(t, WithHealth(func(context.Context) error { return errors.New("db down") }))
	resp, body := down.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Contains(t, string(body), "db down")

	resp, _ = f.do(t, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestWatchStreamsUntilTerminal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id, err := f.mgr.Enqueue(ctx, jobs.EnqueueRequest{DocumentRef: "/inbox/a.txt", Kind: constants.KindText})
	require.NoError(t, err)

	url := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/v1/jobs/" + id.String() + "/watch"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))

	read := func() entity.ProcessingJob {
		var j entity.ProcessingJob
		require.NoError(t, conn.ReadJSON(&j))
		return j
	}
	assert.Equal(t, constants.JobStatusQueued, read().Status)

	claimed, err := f.mgr.Claim(ctx, 1)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, constants.JobStatusProcessing, read().Status)

	_, err = f.mgr.Complete(ctx, id, "record:1")
	require.NoError(t, err)
	last := read()
	assert.Equal(t, constants.JobStatusCompleted, last.Status)
	assert.Equal(t, "record:1", last.ResultRef)

	_, _, err = conn.ReadMessage()
	var ce *websocket.CloseError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, websocket.CloseNormalClosure, ce.Code)
}
