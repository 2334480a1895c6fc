// Package port defines the interfaces (ports) for external dependencies.
// Following hexagonal architecture, these ports decouple the selection
// engine and services from concrete implementations.
package port

import (
	"context"

	"github.com/tbraz/crm-dashboard-bff-go/internal/domain"
)

// Directory retrieves dependent-selection data from the CRM backend.
// Credentials are passed explicitly on every call; implementations
// must not read them from ambient state.
type Directory interface {
	GetClient(ctx context.Context, creds domain.Credentials, clientID string) (*domain.Client, error)
	ListProjectsForClient(ctx context.Context, creds domain.Credentials, clientID string) ([]domain.Project, error)
	ListAppointmentsForClient(ctx context.Context, creds domain.Credentials, clientID string) ([]domain.Appointment, error)
	ListInvoicesForProject(ctx context.Context, creds domain.Credentials, projectID string) ([]domain.Invoice, error)
	ListInvoicesForAppointment(ctx context.Context, creds domain.Credentials, appointmentID string) ([]domain.Invoice, error)
}

// Cache provides generic caching with TTL.
type Cache[T any] interface {
	Get(key string) (T, bool)
	Set(key string, value T)
	Delete(key string)
}
