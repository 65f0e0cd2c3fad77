package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/campaign-journeys/internal/config"
	"github.com/ignite/campaign-journeys/internal/domain"
	"github.com/ignite/campaign-journeys/internal/repository/memory"
	"github.com/ignite/campaign-journeys/internal/service/analysis"
	"github.com/ignite/campaign-journeys/internal/service/classify"
	"github.com/ignite/campaign-journeys/internal/service/graph"
	"github.com/ignite/campaign-journeys/internal/service/maintenance"
	"github.com/ignite/campaign-journeys/internal/service/paths"
	"github.com/ignite/campaign-journeys/internal/storage"
)

var sentAt = time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)

type testEnv struct {
	handler  http.Handler
	handlers *Handlers
	store    *memory.Store
	queue    *analysis.Queue
}

func setupTestHandlers(t *testing.T, runner analysis.Runner) *testEnv {
	t.Helper()
	store := memory.New()
	tracker := paths.NewService(store)

	archive, err := storage.New(context.Background(), config.ArchiveConfig{
		Type:      "local",
		LocalPath: t.TempDir(),
		Prefix:    "journey-analysis",
	})
	require.NoError(t, err)

	if runner == nil {
		orch := analysis.NewOrchestrator(store, tracker)
		orch.SetArchiver(archive)
		runner = orch
	}
	queue := analysis.NewQueue(runner, 10*time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		queue.Start(ctx)
		close(stopped)
	}()
	t.Cleanup(func() {
		cancel()
		<-stopped
	})

	h := NewHandlers(
		tracker,
		graph.NewService(store, graph.BranchOptions{MinPathLength: 2, MainPathThreshold: 10}),
		classify.NewService(store, classify.DetectionConfig{}),
		maintenance.NewService(store),
		analysis.NewProjectService(store, nil),
		queue,
	)
	h.SetArchive(archive)

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	h.SetHealthChecker(NewHealthChecker(nil, rdb, queue))

	return &testEnv{
		handler:  SetupRoutes(h, nil),
		handlers: h,
		store:    store,
		queue:    queue,
	}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		var buf bytes.Buffer
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
		rdr = &buf
	}
	req := httptest.NewRequest(method, path, rdr)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) track(t *testing.T, subject, recipient string, minute int, worker string) paths.TrackResult {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/api/events", map[string]any{
		"sender":      "Shop <promo@shop.com>",
		"subject":     subject,
		"recipient":   recipient,
		"received_at": sentAt.Add(time.Duration(minute) * time.Minute),
		"worker_name": worker,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var res paths.TrackResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	return res
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v), rec.Body.String())
}

type sseEvent struct {
	Name string
	Data analysis.Event
}

func readSSE(t *testing.T, body string) []sseEvent {
	t.Helper()
	var out []sseEvent
	var name string
	sc := bufio.NewScanner(strings.NewReader(body))
	for sc.Scan() {
		line := sc.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			name = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			var ev analysis.Event
			require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev))
			out = append(out, sseEvent{Name: name, Data: ev})
		}
	}
	return out
}

func TestTrackEventAndRecipientPath(t *testing.T) {
	env := setupTestHandlers(t, nil)

	first := env.track(t, "Welcome!", "Ann@Example.com", 0, "")
	assert.True(t, first.MerchantCreated)
	assert.True(t, first.NewPathEntry)

	second := env.track(t, "Spring sale", "ann@example.com", 5, "")
	assert.Equal(t, first.MerchantID, second.MerchantID)
	assert.Equal(t, 2, second.SequenceOrder)

	dup := env.track(t, "welcome!", "ann@example.com", 9, "")
	assert.False(t, dup.NewPathEntry)

	rec := env.do(t, http.MethodGet, "/api/merchants/"+first.MerchantID+"/paths/ann%40example.com", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Recipient string             `json:"recipient"`
		Entries   []domain.PathEntry `json:"entries"`
	}
	decodeBody(t, rec, &body)
	assert.Equal(t, "ann@example.com", body.Recipient)
	require.Len(t, body.Entries, 2)
	assert.Equal(t, first.CampaignID, body.Entries[0].CampaignID)
	assert.Equal(t, second.CampaignID, body.Entries[1].CampaignID)
}

func TestTrackEventErrors(t *testing.T) {
	env := setupTestHandlers(t, nil)

	tests := []struct {
		name   string
		body   map[string]any
		status int
		code   string
	}{
		{
			name:   "missing recipient",
			body:   map[string]any{"sender": "promo@shop.com", "subject": "Hi", "received_at": sentAt},
			status: http.StatusBadRequest,
			code:   "validation_failed",
		},
		{
			name:   "malformed recipient",
			body:   map[string]any{"sender": "promo@shop.com", "subject": "Hi", "recipient": "nope", "received_at": sentAt},
			status: http.StatusBadRequest,
			code:   "validation_failed",
		},
		{
			name:   "sender without registrable domain",
			body:   map[string]any{"sender": "root@localhost", "subject": "Hi", "recipient": "a@x.com", "received_at": sentAt},
			status: http.StatusUnprocessableEntity,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, "/api/events", tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			if tt.code != "" {
				var resp struct {
					Code string `json:"code"`
				}
				decodeBody(t, rec, &resp)
				assert.Equal(t, tt.code, resp.Code)
			}
		})
	}

	rec := env.do(t, http.MethodPost, "/api/events", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGraphEndpoints(t *testing.T) {
	env := setupTestHandlers(t, nil)
	welcome := env.track(t, "Welcome", "a@x.com", 0, "")
	env.track(t, "Sale", "a@x.com", 1, "")
	env.track(t, "Welcome", "b@x.com", 0, "")
	mid := welcome.MerchantID

	rec := env.do(t, http.MethodGet, "/api/merchants/"+mid+"/levels", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var levels graph.Levels
	decodeBody(t, rec, &levels)
	assert.Equal(t, 2, levels.TotalRecipients)
	require.NotEmpty(t, levels.Levels)
	assert.Equal(t, "Welcome", levels.Levels[0].Campaigns[0].Subject)

	rec = env.do(t, http.MethodGet, "/api/merchants/"+mid+"/flow?start="+welcome.CampaignID+"&max_level=3", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var flow graph.Flow
	decodeBody(t, rec, &flow)
	assert.Equal(t, 2, flow.Baseline)

	rec = env.do(t, http.MethodGet, "/api/merchants/"+mid+"/transitions?start="+welcome.CampaignID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var tr struct {
		Transitions []graph.Transition `json:"transitions"`
	}
	decodeBody(t, rec, &tr)
	require.Len(t, tr.Transitions, 1)
	assert.Equal(t, 1, tr.Transitions[0].RecipientCount)

	rec = env.do(t, http.MethodGet, "/api/merchants/"+mid+"/branches?main_path_threshold=40", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var br graph.BranchAnalysis
	decodeBody(t, rec, &br)
	assert.Equal(t, 40.0, br.Options.MainPathThreshold)
	assert.Equal(t, 2, br.Options.MinPathLength)

	rec = env.do(t, http.MethodGet, "/api/merchants/"+mid+"/branches?main_path_threshold=0&min_path_length=0", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	br = graph.BranchAnalysis{}
	decodeBody(t, rec, &br)
	assert.Equal(t, graph.BranchOptions{}, br.Options)

	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodGet, "/api/merchants/"+mid+"/flow?max_level=-1", nil).Code)
	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodGet, "/api/merchants/"+mid+"/branches?main_path_threshold=150", nil).Code)
	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, "/api/merchants/missing/levels", nil).Code)
	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, "/api/merchants/"+mid+"/transitions?start=missing", nil).Code)
}

func TestRootsAndClassification(t *testing.T) {
	env := setupTestHandlers(t, nil)
	welcome := env.track(t, "Welcome aboard", "a@x.com", 0, "")
	env.track(t, "Sale", "a@x.com", 1, "")
	env.track(t, "Sale", "b@x.com", 0, "")
	mid := welcome.MerchantID

	rec := env.do(t, http.MethodPost, "/api/merchants/"+mid+"/roots/detect", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var det classify.DetectionResult
	decodeBody(t, rec, &det)
	require.Len(t, det.Candidates, 1)
	assert.Equal(t, welcome.CampaignID, det.Candidates[0].CampaignID)

	rec = env.do(t, http.MethodPut, "/api/campaigns/"+welcome.CampaignID+"/root", map[string]any{"is_root": true})
	require.Equal(t, http.StatusOK, rec.Code)
	var c domain.Campaign
	decodeBody(t, rec, &c)
	assert.True(t, c.IsRoot)
	assert.False(t, c.IsRootCandidate)

	rec = env.do(t, http.MethodGet, "/api/merchants/"+mid+"/roots", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var roots struct {
		Roots []domain.Campaign `json:"roots"`
	}
	decodeBody(t, rec, &roots)
	require.Len(t, roots.Roots, 1)

	rec = env.do(t, http.MethodPost, "/api/merchants/"+mid+"/users/recalculate", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/merchants/"+mid+"/users/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var stats domain.UserTypeStats
	decodeBody(t, rec, &stats)
	assert.Equal(t, 2, stats.TotalRecipients)
	assert.Equal(t, 1, stats.NewUsers)
	assert.Equal(t, 1, stats.OldUsers)

	rec = env.do(t, http.MethodGet, "/api/merchants/"+mid+"/users/stats?workers=other", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decodeBody(t, rec, &stats)
	assert.Equal(t, 0, stats.TotalRecipients)

	assert.Equal(t, http.StatusNoContent, env.do(t, http.MethodPut, "/api/campaigns/"+welcome.CampaignID+"/tag", map[string]any{"tag": 3}).Code)
	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodPut, "/api/campaigns/"+welcome.CampaignID+"/tag", map[string]any{"tag": 7}).Code)
	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodPut, "/api/campaigns/"+welcome.CampaignID+"/root", map[string]any{}).Code)
	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodPut, "/api/campaigns/missing/root", map[string]any{"is_root": true}).Code)
	assert.Equal(t, http.StatusNoContent, env.do(t, http.MethodPut, "/api/campaigns/"+welcome.CampaignID+"/valuable", map[string]any{"valuable": true}).Code)

	got, err := env.store.GetCampaign(context.Background(), welcome.CampaignID)
	require.NoError(t, err)
	assert.Equal(t, 3, got.Tag)
	assert.True(t, got.Valuable)
}

func TestRebuildAndDeleteMerchantData(t *testing.T) {
	env := setupTestHandlers(t, nil)
	res := env.track(t, "Welcome", "a@x.com", 0, "worker-a")
	env.track(t, "Sale", "a@x.com", 1, "worker-b")
	mid := res.MerchantID

	rec := env.do(t, http.MethodPost, "/api/merchants/"+mid+"/paths/rebuild", map[string]any{"worker_names": []string{"worker-a"}})
	require.Equal(t, http.StatusOK, rec.Code)
	var rb paths.RebuildResult
	decodeBody(t, rec, &rb)
	assert.Equal(t, 1, rb.EntriesWritten)

	rec = env.do(t, http.MethodPost, "/api/merchants/"+mid+"/paths/rebuild", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decodeBody(t, rec, &rb)
	assert.Equal(t, 2, rb.EntriesWritten)

	rec = env.do(t, http.MethodDelete, "/api/merchants/"+mid+"/data?worker=worker-a", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var del maintenance.DeleteResult
	decodeBody(t, rec, &del)
	assert.Equal(t, int64(1), del.EventsDeleted)
	assert.False(t, del.MerchantDeleted)

	rec = env.do(t, http.MethodDelete, "/api/merchants/"+mid+"/data?worker=worker-b", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decodeBody(t, rec, &del)
	assert.True(t, del.MerchantDeleted)

	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodDelete, "/api/merchants/"+mid+"/data", nil).Code)
}

func TestProjectLifecycleAndAnalysisStream(t *testing.T) {
	env := setupTestHandlers(t, nil)
	welcome := env.track(t, "Welcome", "a@x.com", 0, "worker-a")
	sale := env.track(t, "Sale", "a@x.com", 1, "worker-a")
	env.track(t, "Welcome", "b@x.com", 0, "worker-b")
	mid := welcome.MerchantID

	rec := env.do(t, http.MethodPost, "/api/projects", map[string]any{
		"merchant_id":  mid,
		"name":         "Spring onboarding",
		"worker_names": []string{"worker-a"},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var p domain.AnalysisProject
	decodeBody(t, rec, &p)
	assert.Equal(t, []string{"worker-a"}, p.WorkerNames)
	assert.Equal(t, domain.ProjectActive, p.Status)

	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodPost, "/api/projects", map[string]any{"merchant_id": mid}).Code)
	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodPost, "/api/projects", map[string]any{"merchant_id": "missing", "name": "x"}).Code)

	base := "/api/projects/" + p.ID
	assert.Equal(t, http.StatusNoContent, env.do(t, http.MethodPut, base+"/roots/"+welcome.CampaignID, map[string]any{"is_confirmed": true}).Code)
	assert.Equal(t, http.StatusNoContent, env.do(t, http.MethodPut, base+"/tags/"+sale.CampaignID, map[string]any{"tag": 2}).Code)

	// Project decisions never touch the merchant-global campaign.
	c, err := env.store.GetCampaign(context.Background(), welcome.CampaignID)
	require.NoError(t, err)
	assert.False(t, c.IsRoot)

	rec = env.do(t, http.MethodPost, base+"/analyze", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	events := readSSE(t, rec.Body.String())
	require.NotEmpty(t, events)
	assert.Equal(t, "queued", events[0].Name)
	last := events[len(events)-1]
	assert.Equal(t, "complete", last.Name)
	require.NotNil(t, last.Data.Stats)
	assert.Equal(t, 1, last.Data.Stats.TotalRecipients)
	assert.Equal(t, 1, last.Data.Stats.NewUsers)

	rec = env.do(t, http.MethodGet, base+"/results", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var results analysis.ProjectResults
	decodeBody(t, rec, &results)
	require.Len(t, results.Edges, 1)
	assert.Equal(t, "Sale", results.Edges[0].ToSubject)
	assert.Equal(t, 2, results.Edges[0].ToTag)
	assert.NotNil(t, results.LastAnalysisTime)

	rec = env.do(t, http.MethodGet, base+"/runs", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var runs struct {
		Runs []storage.RunRecord `json:"runs"`
	}
	decodeBody(t, rec, &runs)
	require.Len(t, runs.Runs, 1)

	rec = env.do(t, http.MethodGet, base+"/runs/latest", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var snap domain.AnalysisSnapshot
	decodeBody(t, rec, &snap)
	assert.Equal(t, p.ID, snap.ProjectID)
	assert.Equal(t, []string{welcome.CampaignID}, snap.RootIDs)

	rec = env.do(t, http.MethodPut, base, map[string]any{"status": "completed"})
	require.Equal(t, http.StatusOK, rec.Code)
	decodeBody(t, rec, &p)
	assert.Equal(t, domain.ProjectCompleted, p.Status)
	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodPut, base, map[string]any{"status": "paused"}).Code)

	rec = env.do(t, http.MethodGet, "/api/projects?merchant_id="+mid, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Projects []domain.AnalysisProject `json:"projects"`
	}
	decodeBody(t, rec, &list)
	assert.Len(t, list.Projects, 1)

	assert.Equal(t, http.StatusNoContent, env.do(t, http.MethodDelete, base, nil).Code)
	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, base, nil).Code)
	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodPost, base+"/analyze", nil).Code)
}

// blockingRunner holds every analysis until released.
type blockingRunner struct {
	started chan string
	release chan struct{}
}

func (r *blockingRunner) AnalyzeProject(ctx context.Context, projectID string, _ analysis.ProgressFunc) (*domain.AnalysisStats, error) {
	r.started <- projectID
	select {
	case <-r.release:
		return &domain.AnalysisStats{}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func TestAnalyzeRejectsDuplicateRun(t *testing.T) {
	runner := &blockingRunner{started: make(chan string, 1), release: make(chan struct{})}
	env := setupTestHandlers(t, runner)
	res := env.track(t, "Welcome", "a@x.com", 0, "")

	rec := env.do(t, http.MethodPost, "/api/projects", map[string]any{"merchant_id": res.MerchantID, "name": "p"})
	require.Equal(t, http.StatusCreated, rec.Code)
	var p domain.AnalysisProject
	decodeBody(t, rec, &p)

	done, err := env.queue.Enqueue(p.ID, nil)
	require.NoError(t, err)
	select {
	case <-runner.started:
	case <-time.After(5 * time.Second):
		t.Fatal("analysis did not start")
	}

	rec = env.do(t, http.MethodPost, "/api/projects/"+p.ID+"/analyze", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/analysis/queue", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var st analysis.QueueStatus
	decodeBody(t, rec, &st)
	assert.Equal(t, p.ID, st.Current)

	close(runner.release)
	select {
	case r := <-done:
		assert.NoError(t, r.Err)
	case <-time.After(5 * time.Second):
		t.Fatal("analysis did not finish")
	}
}

func TestHealthAndMetrics(t *testing.T) {
	env := setupTestHandlers(t, nil)

	rec := env.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var hs HealthStatus
	decodeBody(t, rec, &hs)
	assert.Equal(t, "healthy", hs.Status)
	assert.Equal(t, "up", hs.Checks["redis"].Status)
	assert.Equal(t, "disabled", hs.Checks["database"].Status)

	assert.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/health/ready", nil).Code)
	assert.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/health/live", nil).Code)

	env.track(t, "Welcome", "a@x.com", 0, "")
	rec = env.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "journeys_events_tracked_total")
}

func TestDetermineOverallStatus(t *testing.T) {
	tests := []struct {
		name   string
		checks map[string]ComponentCheck
		want   string
	}{
		{"all up", map[string]ComponentCheck{"database": {Status: "up"}, "redis": {Status: "up"}}, "healthy"},
		{"db down", map[string]ComponentCheck{"database": {Status: "down", Message: "ping failed"}, "redis": {Status: "degraded"}}, "unhealthy"},
		{"memory mode", map[string]ComponentCheck{"database": {Status: "disabled"}, "redis": {Status: "disabled"}}, "healthy"},
		{"redis not configured", map[string]ComponentCheck{"database": {Status: "up"}, "redis": {Status: "disabled"}}, "healthy"},
		{"redis down", map[string]ComponentCheck{"database": {Status: "up"}, "redis": {Status: "down", Message: "ping failed"}}, "degraded"},
		{"queue backlog", map[string]ComponentCheck{"analysis_queue": {Status: "degraded"}}, "degraded"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, determineOverallStatus(tt.checks))
		})
	}
}

func TestRespondServiceErrorStatus(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("tag 9 out of range 0-4: %w", domain.ErrInvalidInput), http.StatusBadRequest},
		{fmt.Errorf("campaign c1: %w", domain.ErrNotFound), http.StatusNotFound},
		{domain.ErrInvalidDomain, http.StatusUnprocessableEntity},
		{domain.ErrConflict, http.StatusConflict},
		{errors.New("pq: connection refused"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		rec := httptest.NewRecorder()
		respondServiceError(rec, httptest.NewRequest(http.MethodGet, "/", nil), tc.err)
		assert.Equal(t, tc.want, rec.Code, tc.err.Error())
	}

	rec := httptest.NewRecorder()
	respondServiceError(rec, httptest.NewRequest(http.MethodGet, "/", nil), errors.New("pq: connection refused"))
	assert.NotContains(t, rec.Body.String(), "pq:")
}
