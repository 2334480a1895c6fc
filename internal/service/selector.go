// Package service wires the selection engine to its collaborators:
// the CRM directory, the client-lookup cache, metrics and logging.
package service

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/tbraz/crm-dashboard-bff-go/internal/domain"
	"github.com/tbraz/crm-dashboard-bff-go/internal/infra/observability"
	"github.com/tbraz/crm-dashboard-bff-go/internal/port"
	"github.com/tbraz/crm-dashboard-bff-go/internal/selection"
)

var tracer = otel.Tracer("service/selector")

// Selector exposes sessions and client lookups to the HTTP layer.
type Selector struct {
	manager      *selection.Manager
	directory    port.Directory
	clientCache  port.Cache[*domain.Client]
	defaultCreds domain.Credentials
	metrics      *observability.Metrics
	logger       *zap.Logger
}

// NewSelector creates the selector service with all dependencies injected.
func NewSelector(
	manager *selection.Manager,
	directory port.Directory,
	clientCache port.Cache[*domain.Client],
	defaultCreds domain.Credentials,
	metrics *observability.Metrics,
	logger *zap.Logger,
) *Selector {
	return &Selector{
		manager:      manager,
		directory:    directory,
		clientCache:  clientCache,
		defaultCreds: defaultCreds,
		metrics:      metrics,
		logger:       logger,
	}
}

// CreateSession starts a session for owner. A non-empty credential
// overrides the service-level CRM credential for every fetch the
// session makes.
func (s *Selector) CreateSession(owner string, creds domain.Credentials) *selection.Session {
	if creds.Token == "" {
		creds = s.defaultCreds
	}
	return s.manager.Create(owner, creds)
}

// GetSession returns a live session by id.
func (s *Selector) GetSession(id string) (*selection.Session, error) {
	return s.manager.Get(id)
}

// DeleteSession removes a session.
func (s *Selector) DeleteSession(id string) {
	s.manager.Delete(id)
}

// LookupClient fetches a client reference (display name, phone),
// caching it so repeated renders of the same form don't re-hit the CRM.
func (s *Selector) LookupClient(ctx context.Context, creds domain.Credentials, clientID string) (*domain.Client, error) {
	ctx, span := tracer.Start(ctx, "Selector.LookupClient")
	defer span.End()
	span.SetAttributes(attribute.String("client.id", clientID))

	if clientID == "" {
		return nil, &domain.ErrValidation{Field: "clientId", Message: "client id is required"}
	}
	if creds.Token == "" {
		creds = s.defaultCreds
	}

	cacheKey := fmt.Sprintf("client:%s", clientID)
	if cached, ok := s.clientCache.Get(cacheKey); ok {
		s.metrics.IncrCacheHit("client")
		return cached, nil
	}
	s.metrics.IncrCacheMiss("client")

	client, err := s.directory.GetClient(ctx, creds, clientID)
	if err != nil {
		s.metrics.IncrExternalError("crm/client")
		s.logger.Warn("client lookup failed",
			zap.String("client_id", clientID),
			zap.Error(err),
		)
		return nil, fmt.Errorf("client lookup: %w", err)
	}

	s.clientCache.Set(cacheKey, client)
	return client, nil
}
