package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/tbraz/crm-dashboard-bff-go/internal/domain"
	"github.com/tbraz/crm-dashboard-bff-go/internal/handler"
	"github.com/tbraz/crm-dashboard-bff-go/internal/infra/cache"
	"github.com/tbraz/crm-dashboard-bff-go/internal/infra/observability"
	"github.com/tbraz/crm-dashboard-bff-go/internal/selection"
	"github.com/tbraz/crm-dashboard-bff-go/internal/service"
)

type fakeDirectory struct {
	clients      map[string]*domain.Client
	projects     map[string][]domain.Project
	appointments map[string][]domain.Appointment
	invoices     map[string][]domain.Invoice
}

func (d *fakeDirectory) GetClient(_ context.Context, _ domain.Credentials, id string) (*domain.Client, error) {
	c, ok := d.clients[id]
	if !ok {
		return nil, &domain.ErrNotFound{Resource: "client", ID: id}
	}
	return c, nil
}

func (d *fakeDirectory) ListProjectsForClient(_ context.Context, _ domain.Credentials, id string) ([]domain.Project, error) {
	return d.projects[id], nil
}

func (d *fakeDirectory) ListAppointmentsForClient(_ context.Context, _ domain.Credentials, id string) ([]domain.Appointment, error) {
	return d.appointments[id], nil
}

func (d *fakeDirectory) ListInvoicesForProject(_ context.Context, _ domain.Credentials, id string) ([]domain.Invoice, error) {
	return d.invoices[id], nil
}

func (d *fakeDirectory) ListInvoicesForAppointment(_ context.Context, _ domain.Credentials, id string) ([]domain.Invoice, error) {
	return d.invoices[id], nil
}

type testEnv struct {
	router  http.Handler
	svc     *service.Selector
	metrics *observability.Metrics
}

func newTestEnv(t *testing.T, dir *fakeDirectory, opts handler.Options) *testEnv {
	t.Helper()
	metrics := observability.NewMetrics()
	logger := zap.NewNop()
	manager := selection.NewManager(dir, time.Minute, metrics, logger)
	svc := service.NewSelector(
		manager,
		dir,
		cache.New[*domain.Client](time.Minute),
		domain.Credentials{Token: "default-token"},
		metrics,
		logger,
	)
	return &testEnv{
		router:  handler.NewRouter(svc, metrics, logger, opts),
		svc:     svc,
		metrics: metrics,
	}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	e.router.ServeHTTP(rr, req)
	return rr
}

func decodeSnapshot(t *testing.T, rr *httptest.ResponseRecorder) domain.SessionSnapshot {
	t.Helper()
	var snap domain.SessionSnapshot
	if err := json.NewDecoder(rr.Body).Decode(&snap); err != nil {
		t.Fatalf("failed to decode snapshot: %v", err)
	}
	return snap
}

func TestOperationalEndpoints(t *testing.T) {
	env := newTestEnv(t, &fakeDirectory{}, handler.Options{})

	for _, path := range []string{"/healthz", "/readyz", "/ping", "/metrics", "/v1/metrics/selection"} {
		rr := env.do(t, http.MethodGet, path, nil)
		if rr.Code != http.StatusOK {
			t.Errorf("GET %s: expected 200, got %d", path, rr.Code)
		}
	}
}

func TestSessionFlow(t *testing.T) {
	dir := &fakeDirectory{
		clients:  map[string]*domain.Client{"42": {ID: "42", Name: "Ada Lovelace"}},
		projects: map[string][]domain.Project{"42": {{ID: "p1", Title: "Website", ClientID: "42"}}},
		invoices: map[string][]domain.Invoice{"p1": {{ID: "i1", InvoiceNumber: "INV-1"}}},
	}
	env := newTestEnv(t, dir, handler.Options{})

	// Create a session.
	rr := env.do(t, http.MethodPost, "/v1/sessions", nil)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	snap := decodeSnapshot(t, rr)
	if snap.SessionID == "" {
		t.Fatal("expected a session id")
	}
	base := "/v1/sessions/" + snap.SessionID

	// Select the client and wait for the dependent fetch to settle.
	rr = env.do(t, http.MethodPut, base+"/client", map[string]string{"clientId": "42"})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	s, err := env.svc.GetSession(snap.SessionID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	s.Wait()

	rr = env.do(t, http.MethodGet, base, nil)
	snap = decodeSnapshot(t, rr)
	if len(snap.Projects) != 1 || snap.Projects[0].ID != "p1" {
		t.Fatalf("expected project p1 in the snapshot, got %+v", snap.Projects)
	}

	// Select the project; its invoices load.
	env.do(t, http.MethodPut, base+"/project", map[string]string{"projectId": "p1"})
	s.Wait()
	rr = env.do(t, http.MethodGet, base, nil)
	snap = decodeSnapshot(t, rr)
	if len(snap.Invoices) != 1 || snap.Invoices[0].ID != "i1" {
		t.Fatalf("expected invoice i1, got %+v", snap.Invoices)
	}

	// Build the ledger.
	rr = env.do(t, http.MethodPost, base+"/items", nil)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rr.Code)
	}
	for _, upd := range []map[string]string{
		{"field": "description", "value": "Logo design"},
		{"field": "quantity", "value": "2"},
		{"field": "rate", "value": "15000"},
	} {
		rr = env.do(t, http.MethodPatch, base+"/items/0", upd)
		if rr.Code != http.StatusOK {
			t.Fatalf("patch item: expected 200, got %d: %s", rr.Code, rr.Body.String())
		}
	}
	env.do(t, http.MethodPut, base+"/charges", map[string]string{"discountPct": "10", "taxPct": "5"})

	rr = env.do(t, http.MethodGet, base+"/totals", nil)
	var totals domain.Totals
	if err := json.NewDecoder(rr.Body).Decode(&totals); err != nil {
		t.Fatalf("failed to decode totals: %v", err)
	}
	if !totals.Subtotal.Equal(decimal.NewFromInt(30000)) {
		t.Errorf("expected subtotal 30000, got %s", totals.Subtotal)
	}
	if !totals.Total.Equal(decimal.NewFromInt(28350)) {
		t.Errorf("expected total 28350, got %s", totals.Total)
	}

	// Validate without dates: incomplete under the default requirements.
	rr = env.do(t, http.MethodPost, base+"/validate", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("validate: expected 200, got %d", rr.Code)
	}
	var report domain.ValidationReport
	if err := json.NewDecoder(rr.Body).Decode(&report); err != nil {
		t.Fatalf("failed to decode report: %v", err)
	}
	if report.Valid {
		t.Error("expected invalid without dates")
	}

	env.do(t, http.MethodPut, base+"/dates", map[string]string{"issueDate": "2026-09-01", "dueDate": "2026-09-30"})
	rr = env.do(t, http.MethodPost, base+"/validate", nil)
	if err := json.NewDecoder(rr.Body).Decode(&report); err != nil {
		t.Fatalf("failed to decode report: %v", err)
	}
	if !report.Valid {
		t.Errorf("expected valid, got problems %v", report.Problems)
	}

	// Tear down.
	rr = env.do(t, http.MethodDelete, base, nil)
	if rr.Code != http.StatusNoContent {
		t.Errorf("delete: expected 204, got %d", rr.Code)
	}
	rr = env.do(t, http.MethodGet, base, nil)
	if rr.Code != http.StatusNotFound {
		t.Errorf("expected 404 after delete, got %d", rr.Code)
	}
}

func TestUnknownSessionReturns404(t *testing.T) {
	env := newTestEnv(t, &fakeDirectory{}, handler.Options{})

	rr := env.do(t, http.MethodGet, "/v1/sessions/does-not-exist", nil)
	if rr.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rr.Code)
	}
}

func TestInvoiceWithoutTargetReturns400(t *testing.T) {
	env := newTestEnv(t, &fakeDirectory{}, handler.Options{})

	rr := env.do(t, http.MethodPost, "/v1/sessions", nil)
	snap := decodeSnapshot(t, rr)

	rr = env.do(t, http.MethodPut, "/v1/sessions/"+snap.SessionID+"/invoice", map[string]string{"invoiceId": "i1"})
	if rr.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestMalformedBodyReturns400(t *testing.T) {
	env := newTestEnv(t, &fakeDirectory{}, handler.Options{})

	rr := env.do(t, http.MethodPost, "/v1/sessions", nil)
	snap := decodeSnapshot(t, rr)
	base := "/v1/sessions/" + snap.SessionID

	req := httptest.NewRequest(http.MethodPut, base+"/client", bytes.NewBufferString("{broken"))
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}

	rr = env.do(t, http.MethodPatch, base+"/items/notanumber", map[string]string{"field": "rate", "value": "1"})
	if rr.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for non-numeric index, got %d", rr.Code)
	}
}

func TestClientLookupEndpoint(t *testing.T) {
	dir := &fakeDirectory{clients: map[string]*domain.Client{"42": {ID: "42", Name: "Ada Lovelace", Phone: "555-0100"}}}
	env := newTestEnv(t, dir, handler.Options{})

	rr := env.do(t, http.MethodGet, "/v1/clients/42", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var client domain.Client
	if err := json.NewDecoder(rr.Body).Decode(&client); err != nil {
		t.Fatalf("failed to decode client: %v", err)
	}
	if client.Name != "Ada Lovelace" {
		t.Errorf("unexpected client %+v", client)
	}

	rr = env.do(t, http.MethodGet, "/v1/clients/nope", nil)
	if rr.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestJWTAuth(t *testing.T) {
	const secret = "test-secret"
	env := newTestEnv(t, &fakeDirectory{}, handler.Options{JWTSecret: secret})

	// No token.
	rr := env.do(t, http.MethodPost, "/v1/sessions", nil)
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 without a token, got %d", rr.Code)
	}

	// Operational endpoints stay open.
	if rr := env.do(t, http.MethodGet, "/healthz", nil); rr.Code != http.StatusOK {
		t.Errorf("healthz should not require auth, got %d", rr.Code)
	}

	sign := func(secret string) string {
		token := jwt.NewWithClaims(jwt.SigningMethodHS256, handler.AccessClaims{
			Sub:  "user-1",
			Type: "access",
			RegisteredClaims: jwt.RegisteredClaims{
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			},
		})
		signed, err := token.SignedString([]byte(secret))
		if err != nil {
			t.Fatalf("failed to sign token: %v", err)
		}
		return signed
	}

	// Wrong signature.
	req := httptest.NewRequest(http.MethodPost, "/v1/sessions", nil)
	req.Header.Set("Authorization", "Bearer "+sign("other-secret"))
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 for a bad signature, got %d", rec.Code)
	}

	// Valid token: the session carries the authenticated owner.
	req = httptest.NewRequest(http.MethodPost, "/v1/sessions", nil)
	req.Header.Set("Authorization", "Bearer "+sign(secret))
	rec = httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201 with a valid token, got %d: %s", rec.Code, rec.Body.String())
	}
	var snap domain.SessionSnapshot
	if err := json.NewDecoder(rec.Body).Decode(&snap); err != nil {
		t.Fatalf("failed to decode snapshot: %v", err)
	}
	if snap.Owner != "user-1" {
		t.Errorf("expected owner user-1, got %q", snap.Owner)
	}
}
