package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"remindd/internal/metrics"
	"remindd/internal/reminder"
	"remindd/internal/services/reminders"
	"remindd/internal/storage"
	logx "remindd/pkg/logx"
)

var apiBase = time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)

func newTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	st := storage.NewMemory()
	t.Cleanup(func() { st.Close() })
	clock := reminder.ClockFunc(func() time.Time { return apiBase })
	svc := reminders.New(st, clock, nil, nil, logx.Nop())

	engine := gin.New()
	registerRoutes(engine, &handlers{svc: svc, log: logx.Nop()}, metrics.Nop())
	return engine
}

func doJSON(t *testing.T, r *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rd *strings.Reader
	if body == "" {
		rd = strings.NewReader("")
	} else {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func createBody(entity string, at time.Time, freq string) string {
	return fmt.Sprintf(`{"entity_id":%q,"scheduled_at":%q,"frequency":%q}`, entity, at.Format(time.RFC3339), freq)
}

func TestCreateAndGet(t *testing.T) {
	r := newTestRouter(t)

	w := doJSON(t, r, http.MethodPost, "/v1/reminders", createBody("e1", apiBase.Add(48*time.Hour), "weekly"))
	if w.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body %s", w.Code, w.Body)
	}
	var rec reminder.Reminder
	if err := json.Unmarshal(w.Body.Bytes(), &rec); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if rec.ID == "" || rec.Status != reminder.StatusPending || rec.SentCount != 0 {
		t.Fatalf("created = %+v", rec)
	}

	w = doJSON(t, r, http.MethodGet, "/v1/reminders/"+rec.ID, "")
	if w.Code != http.StatusOK {
		t.Fatalf("get status = %d, body %s", w.Code, w.Body)
	}
}

func TestCreateRejections(t *testing.T) {
	r := newTestRouter(t)

	tests := []struct {
		name string
		body string
		want int
	}{
		{"malformed json", `{"entity_id":`, http.StatusBadRequest},
		{"past date", createBody("e1", apiBase.Add(-time.Hour), "once"), http.StatusBadRequest},
		{"missing entity", createBody("", apiBase.Add(time.Hour), "once"), http.StatusBadRequest},
		{"bad frequency", createBody("e1", apiBase.Add(time.Hour), "hourly"), http.StatusBadRequest},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if w := doJSON(t, r, http.MethodPost, "/v1/reminders", tc.body); w.Code != tc.want {
				t.Fatalf("status = %d, want %d (body %s)", w.Code, tc.want, w.Body)
			}
		})
	}
}

func TestErrorStatusMapping(t *testing.T) {
	r := newTestRouter(t)

	// Unknown id -> 404.
	if w := doJSON(t, r, http.MethodGet, "/v1/reminders/ghost", ""); w.Code != http.StatusNotFound {
		t.Fatalf("get unknown = %d", w.Code)
	}

	// Completing a pending reminder -> 409 invalid transition.
	w := doJSON(t, r, http.MethodPost, "/v1/reminders", createBody("e1", apiBase.Add(time.Hour), "once"))
	var rec reminder.Reminder
	if err := json.Unmarshal(w.Body.Bytes(), &rec); err != nil {
		t.Fatalf("decode: %v", err)
	}
	w = doJSON(t, r, http.MethodPost, "/v1/reminders/"+rec.ID+"/complete", "")
	if w.Code != http.StatusConflict {
		t.Fatalf("complete pending = %d, want 409 (body %s)", w.Code, w.Body)
	}
	var resp errorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if resp.Code != "invalid_transition" {
		t.Fatalf("error code = %q", resp.Code)
	}
}

func TestLifecycleOverHTTP(t *testing.T) {
	r := newTestRouter(t)

	w := doJSON(t, r, http.MethodPost, "/v1/reminders", createBody("e1", apiBase.Add(time.Hour), "weekly"))
	var rec reminder.Reminder
	if err := json.Unmarshal(w.Body.Bytes(), &rec); err != nil {
		t.Fatalf("decode: %v", err)
	}

	if w = doJSON(t, r, http.MethodPost, "/v1/reminders/"+rec.ID+"/send", ""); w.Code != http.StatusOK {
		t.Fatalf("send = %d, body %s", w.Code, w.Body)
	}
	if w = doJSON(t, r, http.MethodPost, "/v1/reminders/"+rec.ID+"/complete", ""); w.Code != http.StatusOK {
		t.Fatalf("complete = %d, body %s", w.Code, w.Body)
	}

	// Completing a weekly reminder spawns the successor; the list now
	// holds the completed record plus one pending.
	w = doJSON(t, r, http.MethodGet, "/v1/reminders?entity_id=e1", "")
	if w.Code != http.StatusOK {
		t.Fatalf("list = %d", w.Code)
	}
	var page reminders.Page
	if err := json.Unmarshal(w.Body.Bytes(), &page); err != nil {
		t.Fatalf("decode page: %v", err)
	}
	if page.Total != 2 {
		t.Fatalf("total = %d, want completed + successor", page.Total)
	}

	w = doJSON(t, r, http.MethodGet, "/v1/reminders?entity_id=e1&status=pending", "")
	if err := json.Unmarshal(w.Body.Bytes(), &page); err != nil {
		t.Fatalf("decode page: %v", err)
	}
	if page.Total != 1 || page.Items[0].Status != reminder.StatusPending {
		t.Fatalf("pending filter = %+v", page)
	}

	// Transition history for the completed record.
	w = doJSON(t, r, http.MethodGet, "/v1/reminders/"+rec.ID+"/history", "")
	if w.Code != http.StatusOK {
		t.Fatalf("history = %d", w.Code)
	}
	var hist struct {
		Items []transitionEntry `json:"items"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &hist); err != nil {
		t.Fatalf("decode history: %v", err)
	}
	if len(hist.Items) != 2 || hist.Items[0].To != reminder.StatusSent || hist.Items[1].To != reminder.StatusCompleted {
		t.Fatalf("history = %+v", hist.Items)
	}
}

func TestStatsEndpoints(t *testing.T) {
	r := newTestRouter(t)

	w := doJSON(t, r, http.MethodPost, "/v1/reminders", createBody("e1", apiBase.Add(time.Hour), "once"))
	if w.Code != http.StatusCreated {
		t.Fatalf("create = %d", w.Code)
	}

	w = doJSON(t, r, http.MethodGet, "/v1/stats", "")
	if w.Code != http.StatusOK {
		t.Fatalf("stats = %d", w.Code)
	}
	var dash reminders.DashboardStats
	if err := json.Unmarshal(w.Body.Bytes(), &dash); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if dash.Total != 1 || dash.DueSoon != 1 {
		t.Fatalf("dashboard = %+v", dash)
	}

	w = doJSON(t, r, http.MethodGet, "/v1/entities/e1/stats", "")
	if w.Code != http.StatusOK {
		t.Fatalf("entity stats = %d", w.Code)
	}
	var es reminders.EntityStats
	if err := json.Unmarshal(w.Body.Bytes(), &es); err != nil {
		t.Fatalf("decode entity stats: %v", err)
	}
	if es.Upcoming != 1 || es.NextReminder == nil {
		t.Fatalf("entity stats = %+v", es)
	}

	if w = doJSON(t, r, http.MethodGet, "/v1/stats?from=not-a-time", ""); w.Code != http.StatusBadRequest {
		t.Fatalf("bad from param = %d", w.Code)
	}
}

func TestHealthAndMetrics(t *testing.T) {
	r := newTestRouter(t)

	if w := doJSON(t, r, http.MethodGet, "/healthz", ""); w.Code != http.StatusOK {
		t.Fatalf("healthz = %d", w.Code)
	}
	w := doJSON(t, r, http.MethodGet, "/metrics", "")
	if w.Code != http.StatusOK {
		t.Fatalf("metrics = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "remindd_") {
		t.Fatalf("metrics body missing namespace: %.200s", w.Body)
	}
}
