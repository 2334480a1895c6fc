package service_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/tbraz/crm-dashboard-bff-go/internal/domain"
	"github.com/tbraz/crm-dashboard-bff-go/internal/infra/cache"
	"github.com/tbraz/crm-dashboard-bff-go/internal/infra/observability"
	"github.com/tbraz/crm-dashboard-bff-go/internal/selection"
	"github.com/tbraz/crm-dashboard-bff-go/internal/service"
)

// stubDirectory records GetClient traffic; the list methods are unused
// by the selector itself.
type stubDirectory struct {
	clients   map[string]*domain.Client
	getCalls  int
	lastToken string
	getErr    error
}

func (d *stubDirectory) GetClient(_ context.Context, creds domain.Credentials, id string) (*domain.Client, error) {
	d.getCalls++
	d.lastToken = creds.Token
	if d.getErr != nil {
		return nil, d.getErr
	}
	c, ok := d.clients[id]
	if !ok {
		return nil, &domain.ErrNotFound{Resource: "client", ID: id}
	}
	return c, nil
}

func (d *stubDirectory) ListProjectsForClient(context.Context, domain.Credentials, string) ([]domain.Project, error) {
	return nil, nil
}

func (d *stubDirectory) ListAppointmentsForClient(context.Context, domain.Credentials, string) ([]domain.Appointment, error) {
	return nil, nil
}

func (d *stubDirectory) ListInvoicesForProject(context.Context, domain.Credentials, string) ([]domain.Invoice, error) {
	return nil, nil
}

func (d *stubDirectory) ListInvoicesForAppointment(context.Context, domain.Credentials, string) ([]domain.Invoice, error) {
	return nil, nil
}

func newTestSelector(t *testing.T, dir *stubDirectory) *service.Selector {
	t.Helper()
	metrics := observability.NewMetrics()
	logger := zap.NewNop()
	manager := selection.NewManager(dir, time.Minute, metrics, logger)
	return service.NewSelector(
		manager,
		dir,
		cache.New[*domain.Client](time.Minute),
		domain.Credentials{Token: "service-default"},
		metrics,
		logger,
	)
}

func TestLookupClient_CachesResult(t *testing.T) {
	dir := &stubDirectory{clients: map[string]*domain.Client{
		"42": {ID: "42", Name: "Ada Lovelace"},
	}}
	svc := newTestSelector(t, dir)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		client, err := svc.LookupClient(ctx, domain.Credentials{}, "42")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if client.Name != "Ada Lovelace" {
			t.Errorf("unexpected client: %+v", client)
		}
	}

	if dir.getCalls != 1 {
		t.Errorf("expected 1 backend call, got %d", dir.getCalls)
	}
}

func TestLookupClient_EmptyIDRejected(t *testing.T) {
	svc := newTestSelector(t, &stubDirectory{})

	_, err := svc.LookupClient(context.Background(), domain.Credentials{}, "")
	var verr *domain.ErrValidation
	if !errors.As(err, &verr) {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestLookupClient_DefaultCredentials(t *testing.T) {
	dir := &stubDirectory{clients: map[string]*domain.Client{"42": {ID: "42"}}}
	svc := newTestSelector(t, dir)

	if _, err := svc.LookupClient(context.Background(), domain.Credentials{}, "42"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if dir.lastToken != "service-default" {
		t.Errorf("expected the service-level token, got %q", dir.lastToken)
	}
}

func TestLookupClient_CallerCredentialsWin(t *testing.T) {
	dir := &stubDirectory{clients: map[string]*domain.Client{"42": {ID: "42"}}}
	svc := newTestSelector(t, dir)

	if _, err := svc.LookupClient(context.Background(), domain.Credentials{Token: "per-request"}, "42"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if dir.lastToken != "per-request" {
		t.Errorf("expected the per-request token, got %q", dir.lastToken)
	}
}

func TestLookupClient_ErrorNotCached(t *testing.T) {
	dir := &stubDirectory{getErr: errors.New("crm down")}
	svc := newTestSelector(t, dir)
	ctx := context.Background()

	if _, err := svc.LookupClient(ctx, domain.Credentials{}, "42"); err == nil {
		t.Fatal("expected an error")
	}
	if _, err := svc.LookupClient(ctx, domain.Credentials{}, "42"); err == nil {
		t.Fatal("expected an error")
	}

	if dir.getCalls != 2 {
		t.Errorf("failures must not be cached, expected 2 calls, got %d", dir.getCalls)
	}
}

func TestLookupClient_NotFoundSurfaces(t *testing.T) {
	dir := &stubDirectory{clients: map[string]*domain.Client{}}
	svc := newTestSelector(t, dir)

	_, err := svc.LookupClient(context.Background(), domain.Credentials{}, "nope")
	var notFound *domain.ErrNotFound
	if !errors.As(err, &notFound) {
		t.Errorf("expected ErrNotFound through the wrap, got %v", err)
	}
}

func TestSessionLifecycleThroughSelector(t *testing.T) {
	svc := newTestSelector(t, &stubDirectory{})

	s := svc.CreateSession("tester", domain.Credentials{})
	if s.ID() == "" {
		t.Fatal("expected a session id")
	}

	got, err := svc.GetSession(s.ID())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != s {
		t.Error("GetSession returned a different session")
	}

	svc.DeleteSession(s.ID())
	if _, err := svc.GetSession(s.ID()); err == nil {
		t.Error("expected not-found after delete")
	}
}
