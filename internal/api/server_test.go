package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"alertcore/internal/alerts"
	"alertcore/internal/config"
	"alertcore/internal/metrics"
	"alertcore/internal/model"
	"alertcore/internal/query"
	"alertcore/internal/storage"
)

type fakeEngine struct {
	data []model.Data
}

func (f *fakeEngine) SendData(_ context.Context, data []model.Data) error {
	f.data = append(f.data, data...)
	return nil
}

func (f *fakeEngine) LoadedCount() int { return 2 }

type harness struct {
	svc    *alerts.Service
	engine *fakeEngine
	router http.Handler
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := "api:\n  enabled: true\n  addr: \":0\"\nstorage:\n  driver: memory\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	cfg, err := config.NewManager(path)
	require.NoError(t, err)

	svc := alerts.NewService(query.NewEngine(storage.NewMemory(), config.RetentionConfig{}, nil), nil, nil)
	eng := &fakeEngine{}
	srv := NewServer(cfg, svc, eng, metrics.NewStore(10), nil, "test")
	return &harness{svc: svc, engine: eng, router: srv.Routes()}
}

func (h *harness) do(t *testing.T, method, target, tenant, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if tenant != "" {
		req.Header.Set(TenantHeader, tenant)
	}
	resp := httptest.NewRecorder()
	h.router.ServeHTTP(resp, req)
	return resp
}

func (h *harness) seed(t *testing.T) {
	t.Helper()
	now := time.Now().UnixMilli()
	high := &model.Trigger{TenantID: "acme", ID: "cpu", Name: "cpu high", Severity: model.SeverityHigh}
	low := &model.Trigger{TenantID: "acme", ID: "disk", Name: "disk low", Severity: model.SeverityLow}
	require.NoError(t, h.svc.AddAlerts(context.Background(), []*model.Alert{
		model.NewAlert("a1", high, nil, now-3000),
		model.NewAlert("a2", high, nil, now-2000),
		model.NewAlert("a3", low, nil, now-1000),
	}))
}

func decodeAlerts(t *testing.T, resp *httptest.ResponseRecorder) []model.Alert {
	t.Helper()
	var out []model.Alert
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestTenantHeaderRequired(t *testing.T) {
	h := newHarness(t)
	resp := h.do(t, http.MethodGet, "/alerts", "", "")
	require.Equal(t, http.StatusBadRequest, resp.Code)

	resp = h.do(t, http.MethodPut, "/alerts/ack?alertIds=a1", "acme,other", "")
	require.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestFindAlertsPaged(t *testing.T) {
	h := newHarness(t)
	h.seed(t)

	resp := h.do(t, http.MethodGet, "/alerts?severities=high&sort=ctime&order=desc&per_page=1", "acme", "")
	require.Equal(t, http.StatusOK, resp.Code)
	require.Equal(t, "2", resp.Header().Get("X-Total-Count"))
	items := decodeAlerts(t, resp)
	require.Len(t, items, 1)
	require.Equal(t, "a2", items[0].ID)

	resp = h.do(t, http.MethodGet, "/alerts?severities=urgent", "acme", "")
	require.Equal(t, http.StatusBadRequest, resp.Code)

	resp = h.do(t, http.MethodGet, "/alerts?"+url.Values{"tagQuery": {"app = "}}.Encode(), "acme", "")
	require.Equal(t, http.StatusBadRequest, resp.Code)

	resp = h.do(t, http.MethodGet, "/alerts", "other", "")
	require.Equal(t, http.StatusOK, resp.Code)
	require.Empty(t, decodeAlerts(t, resp))
}

func TestAckResolveAndNotes(t *testing.T) {
	h := newHarness(t)
	h.seed(t)

	resp := h.do(t, http.MethodPut, "/alerts/ack/a1?ackBy=jdoe&ackNotes=looking", "acme", "")
	require.Equal(t, http.StatusOK, resp.Code)
	resp = h.do(t, http.MethodPut, "/alerts/resolve?alertIds=a2,a3&resolvedBy=ops", "acme", "")
	require.Equal(t, http.StatusOK, resp.Code)
	resp = h.do(t, http.MethodPut, "/alerts/note/a1?user=jdoe&text=rebooted", "acme", "")
	require.Equal(t, http.StatusOK, resp.Code)
	resp = h.do(t, http.MethodPut, "/alerts/note/a1?user=jdoe", "acme", "")
	require.Equal(t, http.StatusBadRequest, resp.Code)

	resp = h.do(t, http.MethodGet, "/alerts/a1", "acme", "")
	require.Equal(t, http.StatusOK, resp.Code)
	var a model.Alert
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&a))
	require.Equal(t, model.StatusAcknowledged, a.Status)
	require.Len(t, a.Notes, 1)
	ack := a.LifeCycle[len(a.LifeCycle)-1]
	require.Equal(t, model.StatusAcknowledged, ack.Status)
	require.Equal(t, "looking", ack.Notes[0].Text)

	resp = h.do(t, http.MethodGet, "/alerts?statuses=resolved", "acme", "")
	require.Equal(t, "2", resp.Header().Get("X-Total-Count"))

	resp = h.do(t, http.MethodGet, "/alerts/missing", "acme", "")
	require.Equal(t, http.StatusNotFound, resp.Code)
}

func TestAlertTagsAndDelete(t *testing.T) {
	h := newHarness(t)
	h.seed(t)

	resp := h.do(t, http.MethodPut, "/alerts/tags?alertIds=a1,a3&tags=env|prod", "acme", "")
	require.Equal(t, http.StatusOK, resp.Code)
	resp = h.do(t, http.MethodPut, "/alerts/tags?alertIds=a1&tags=broken", "acme", "")
	require.Equal(t, http.StatusBadRequest, resp.Code)

	resp = h.do(t, http.MethodGet, "/alerts?"+url.Values{"tagQuery": {"env = 'prod'"}}.Encode(), "acme", "")
	require.Equal(t, "2", resp.Header().Get("X-Total-Count"))

	resp = h.do(t, http.MethodDelete, "/alerts/tags?alertIds=a3&tagNames=env", "acme", "")
	require.Equal(t, http.StatusOK, resp.Code)
	resp = h.do(t, http.MethodGet, "/alerts?tagQuery=env", "acme", "")
	require.Equal(t, "1", resp.Header().Get("X-Total-Count"))

	resp = h.do(t, http.MethodDelete, "/alerts", "acme", "")
	require.Equal(t, http.StatusBadRequest, resp.Code)
	resp = h.do(t, http.MethodDelete, "/alerts?triggerIds=cpu", "acme", "")
	require.Equal(t, http.StatusOK, resp.Code)
	require.JSONEq(t, `{"deleted":2}`, resp.Body.String())

	resp = h.do(t, http.MethodDelete, "/alerts/a3", "acme", "")
	require.Equal(t, http.StatusOK, resp.Code)
	resp = h.do(t, http.MethodDelete, "/alerts/a3", "acme", "")
	require.Equal(t, http.StatusNotFound, resp.Code)
}

func TestEventsAndData(t *testing.T) {
	h := newHarness(t)

	body := `[{"id":"e1","category":"deploy","text":"v2 rolled out","tags":{"app":"web"}},{"category":"deploy"}]`
	resp := h.do(t, http.MethodPost, "/events", "acme", body)
	require.Equal(t, http.StatusOK, resp.Code)
	resp = h.do(t, http.MethodPost, "/events", "acme", "{")
	require.Equal(t, http.StatusBadRequest, resp.Code)

	resp = h.do(t, http.MethodGet, "/events?categories=deploy", "acme", "")
	require.Equal(t, http.StatusOK, resp.Code)
	require.Equal(t, "2", resp.Header().Get("X-Total-Count"))

	resp = h.do(t, http.MethodGet, "/events/e1", "acme", "")
	require.Equal(t, http.StatusOK, resp.Code)
	var ev model.Event
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&ev))
	require.Equal(t, "acme", ev.TenantID)
	require.Equal(t, model.EventTypeEvent, ev.EventType)
	require.NotZero(t, ev.CTime)

	resp = h.do(t, http.MethodPut, "/events/tags?eventIds=e1&tags=owner|ops", "acme", "")
	require.Equal(t, http.StatusOK, resp.Code)
	resp = h.do(t, http.MethodGet, "/events?tagQuery=owner", "acme", "")
	require.Equal(t, "1", resp.Header().Get("X-Total-Count"))

	resp = h.do(t, http.MethodDelete, "/events/e1", "acme", "")
	require.Equal(t, http.StatusOK, resp.Code)

	resp = h.do(t, http.MethodPost, "/data", "acme", `[{"id":"requests","timestamp":1000,"value":3}]`)
	require.Equal(t, http.StatusOK, resp.Code)
	require.Len(t, h.engine.data, 1)
	require.Equal(t, "acme", h.engine.data[0].TenantID)

	resp = h.do(t, http.MethodPost, "/data", "acme", `[{"timestamp":1000,"value":3}]`)
	require.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestStatus(t *testing.T) {
	h := newHarness(t)
	resp := h.do(t, http.MethodGet, "/status", "", "")
	require.Equal(t, http.StatusOK, resp.Code)
	var status statusResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
	require.Equal(t, "ok", status.Status)
	require.Equal(t, 2, status.LoadedTriggers)
	require.Equal(t, "memory", status.Storage)
}
