package enroll

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/civicmesh/enroll/internal/admin"
	"github.com/civicmesh/enroll/internal/conversation"
	"github.com/civicmesh/enroll/internal/platform/metrics"
	"github.com/civicmesh/enroll/internal/positions"
	"github.com/civicmesh/enroll/internal/session"
	"github.com/civicmesh/enroll/internal/sheets/sheetstest"
	"github.com/civicmesh/enroll/internal/tablestore"
)

func newTestHandler(t *testing.T, fake *sheetstest.Fake) http.Handler {
	t.Helper()
	registry := prometheus.NewRegistry()
	m := metrics.New(registry)
	tables := tablestore.New(fake, m)
	allocator := positions.New(tables, m)
	catalog, err := conversation.DefaultCatalog()
	if err != nil {
		t.Fatalf("load catalog: %v", err)
	}
	engine := conversation.NewEngine(session.NewStore(), tables, allocator, catalog, m)
	return newHandler(engine, admin.New(tables, allocator), registry)
}

func postJSON(t *testing.T, handler http.Handler, path string, payload any) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	handler := newTestHandler(t, sheetstest.New())

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("healthz status = %d, want 200", rec.Code)
	}
}

func TestEventIngress(t *testing.T) {
	handler := newTestHandler(t, sheetstest.New())

	rec := postJSON(t, handler, "/v1/events", conversation.Event{
		UserID:  42,
		EventID: "evt-1",
		Payload: "/start",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("event status = %d, body %s", rec.Code, rec.Body)
	}
	var prompt conversation.Prompt
	if err := json.Unmarshal(rec.Body.Bytes(), &prompt); err != nil {
		t.Fatalf("decode prompt: %v", err)
	}
	if prompt.UserID != 42 || prompt.Text == "" {
		t.Fatalf("prompt = %+v", prompt)
	}
	if len(prompt.Choices) != 2 {
		t.Fatalf("role prompt choices = %v", prompt.Choices)
	}
}

func TestEventIngressDuplicate(t *testing.T) {
	handler := newTestHandler(t, sheetstest.New())

	event := conversation.Event{UserID: 42, EventID: "evt-1", Payload: "/start"}
	if rec := postJSON(t, handler, "/v1/events", event); rec.Code != http.StatusOK {
		t.Fatalf("first delivery status = %d", rec.Code)
	}
	rec := postJSON(t, handler, "/v1/events", event)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("redelivery status = %d, want 204", rec.Code)
	}
}

func TestEventIngressRejectsMissingUser(t *testing.T) {
	handler := newTestHandler(t, sheetstest.New())

	rec := postJSON(t, handler, "/v1/events", conversation.Event{Payload: "/start"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestAdminApproveEndpoint(t *testing.T) {
	fake := sheetstest.New()
	created := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	expert := tablestore.ExpertRecord{
		UserID:     41,
		FullName:   "Dana Levi",
		Field:      "Hydrology",
		Experience: "Water authority, 12 years.",
		PositionID: 1,
		Links:      "https://example.org/dana",
		Motivation: "I will map every aquifer in the region.",
		CreatedAt:  created,
		Status:     tablestore.ExpertStatusPending,
	}
	fake.Seed(string(tablestore.TableExperts), [][]string{expert.Row()})
	handler := newTestHandler(t, fake)

	rec := postJSON(t, handler, "/v1/admin/experts/41/approve", map[string]string{
		"group_link": "https://chat.example.org/invite",
	})
	if rec.Code != http.StatusNoContent {
		t.Fatalf("approve status = %d, body %s", rec.Code, rec.Body)
	}

	record, err := tablestore.ParseExpertRecord(fake.Rows(string(tablestore.TableExperts))[0])
	if err != nil {
		t.Fatalf("parse expert row: %v", err)
	}
	if record.Status != tablestore.ExpertStatusApproved {
		t.Fatalf("status = %s, want approved", record.Status)
	}

	// A second approval is a conflict: the application is no longer pending.
	rec = postJSON(t, handler, "/v1/admin/experts/41/approve", map[string]string{
		"group_link": "https://chat.example.org/invite",
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("double approve status = %d, want 409", rec.Code)
	}
}

func TestAdminApproveUnknownUser(t *testing.T) {
	handler := newTestHandler(t, sheetstest.New())

	rec := postJSON(t, handler, "/v1/admin/experts/999/approve", map[string]string{
		"group_link": "https://chat.example.org/invite",
	})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestAdminProvisionEndpoint(t *testing.T) {
	fake := sheetstest.New()
	handler := newTestHandler(t, fake)

	rec := postJSON(t, handler, "/v1/admin/positions/provision", map[string]int{"count": 5})
	if rec.Code != http.StatusNoContent {
		t.Fatalf("provision status = %d, body %s", rec.Code, rec.Body)
	}
	if rows := fake.Rows(string(tablestore.TablePositions)); len(rows) != 5 {
		t.Fatalf("positions rows = %d, want 5", len(rows))
	}

	rec = postJSON(t, handler, "/v1/admin/positions/provision", map[string]int{"count": 0})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("zero count status = %d, want 400", rec.Code)
	}
}
