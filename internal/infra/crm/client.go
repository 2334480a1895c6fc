// Package crm provides the HTTP client for the external CRM backend
// that owns clients, projects, appointments and invoices. The BFF only
// reads from it; all writes happen elsewhere.
package crm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/tbraz/crm-dashboard-bff-go/internal/domain"
	"github.com/tbraz/crm-dashboard-bff-go/internal/infra/resilience"
)

var tracer = otel.Tracer("crm")

// Client wraps HTTP calls to the CRM REST API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	cb         *gobreaker.CircuitBreaker
	bulkhead   *resilience.Bulkhead
	cfg        resilience.Config
	logger     *zap.Logger
}

// NewClient creates a CRM client.
func NewClient(httpClient *http.Client, baseURL string, cb *gobreaker.CircuitBreaker, cfg resilience.Config, logger *zap.Logger) *Client {
	return &Client{
		httpClient: httpClient,
		baseURL:    baseURL,
		cb:         cb,
		bulkhead:   resilience.NewBulkhead(cfg.MaxConcurrency),
		cfg:        cfg,
		logger:     logger,
	}
}

// doRequest executes an authenticated GET against the CRM API.
// The credential is an explicit parameter: call sites never reach into
// config or globals for it.
func (c *Client) doRequest(ctx context.Context, creds domain.Credentials, path string) ([]byte, error) {
	if err := c.bulkhead.Acquire(ctx); err != nil {
		return nil, err
	}
	defer c.bulkhead.Release()

	url := fmt.Sprintf("%s/api/v1/%s", c.baseURL, path)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		c.logger.Error("crm: failed to create request",
			zap.String("path", path),
			zap.Error(err),
		)
		return nil, err
	}

	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", creds.Token))
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("crm: request failed",
			zap.String("path", path),
			zap.Error(err),
		)
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		c.logger.Error("crm: failed to read response body",
			zap.String("path", path),
			zap.Error(err),
		)
		return nil, err
	}

	if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusNoContent {
		return nil, nil // no data
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Warn("crm: non-2xx response",
			zap.String("path", path),
			zap.Int("status", resp.StatusCode),
		)
		return nil, fmt.Errorf("crm returned status %d", resp.StatusCode)
	}

	c.logger.Debug("crm: request OK",
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
	)

	return body, nil
}

// --- Wire shapes (CRM column names differ from ours) ---

type crmClient struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Phone       string `json:"phone"`
}

type crmProject struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	ClientID string `json:"client_id"`
}

type crmAppointment struct {
	ID       string `json:"id"`
	Date     string `json:"date"`
	Time     string `json:"time"`
	Status   string `json:"status"`
	ClientID string `json:"client_id"`
}

type crmInvoice struct {
	ID            string  `json:"id"`
	InvoiceNumber string  `json:"invoice_number"`
	Amount        float64 `json:"amount"`
	Balance       float64 `json:"balance_due"`
}

// GetClient fetches a single client reference (name, phone).
func (c *Client) GetClient(ctx context.Context, creds domain.Credentials, clientID string) (*domain.Client, error) {
	ctx, span := tracer.Start(ctx, "CRM.GetClient")
	defer span.End()
	span.SetAttributes(attribute.String("client.id", clientID))

	var client *domain.Client

	_, err := c.cb.Execute(func() (any, error) {
		return nil, resilience.RetryWithBackoff(ctx, c.cfg, func() error {
			body, err := c.doRequest(ctx, creds, fmt.Sprintf("clients/%s", clientID))
			if err != nil {
				return err
			}
			if body == nil {
				return &domain.ErrNotFound{Resource: "client", ID: clientID}
			}

			var row crmClient
			if err := json.Unmarshal(body, &row); err != nil {
				return fmt.Errorf("failed to decode client: %w", err)
			}
			client = &domain.Client{ID: row.ID, Name: row.DisplayName, Phone: row.Phone}
			return nil
		})
	})

	if err != nil {
		return nil, &domain.ErrExternalService{Service: "crm/client", Err: err}
	}

	return client, nil
}

// ListProjectsForClient fetches the projects owned by a client.
func (c *Client) ListProjectsForClient(ctx context.Context, creds domain.Credentials, clientID string) ([]domain.Project, error) {
	ctx, span := tracer.Start(ctx, "CRM.ListProjectsForClient")
	defer span.End()
	span.SetAttributes(attribute.String("client.id", clientID))

	var projects []domain.Project

	_, err := c.cb.Execute(func() (any, error) {
		return nil, resilience.RetryWithBackoff(ctx, c.cfg, func() error {
			body, err := c.doRequest(ctx, creds, fmt.Sprintf("clients/%s/projects", clientID))
			if err != nil {
				return err
			}
			if body == nil {
				projects = []domain.Project{}
				return nil
			}

			var rows []crmProject
			if err := json.Unmarshal(body, &rows); err != nil {
				return fmt.Errorf("failed to decode projects: %w", err)
			}

			projects = make([]domain.Project, 0, len(rows))
			for _, r := range rows {
				projects = append(projects, domain.Project{ID: r.ID, Title: r.Title, ClientID: r.ClientID})
			}
			return nil
		})
	})

	if err != nil {
		return nil, &domain.ErrExternalService{Service: "crm/projects", Err: err}
	}

	return projects, nil
}

// ListAppointmentsForClient fetches the appointments booked by a client.
func (c *Client) ListAppointmentsForClient(ctx context.Context, creds domain.Credentials, clientID string) ([]domain.Appointment, error) {
	ctx, span := tracer.Start(ctx, "CRM.ListAppointmentsForClient")
	defer span.End()
	span.SetAttributes(attribute.String("client.id", clientID))

	var appointments []domain.Appointment

	_, err := c.cb.Execute(func() (any, error) {
		return nil, resilience.RetryWithBackoff(ctx, c.cfg, func() error {
			body, err := c.doRequest(ctx, creds, fmt.Sprintf("clients/%s/appointments", clientID))
			if err != nil {
				return err
			}
			if body == nil {
				appointments = []domain.Appointment{}
				return nil
			}

			var rows []crmAppointment
			if err := json.Unmarshal(body, &rows); err != nil {
				return fmt.Errorf("failed to decode appointments: %w", err)
			}

			appointments = make([]domain.Appointment, 0, len(rows))
			for _, r := range rows {
				appointments = append(appointments, domain.Appointment{
					ID:       r.ID,
					Date:     r.Date,
					Time:     r.Time,
					Status:   r.Status,
					ClientID: r.ClientID,
				})
			}
			return nil
		})
	})

	if err != nil {
		return nil, &domain.ErrExternalService{Service: "crm/appointments", Err: err}
	}

	return appointments, nil
}

// ListInvoicesForProject fetches the invoices attached to a project.
func (c *Client) ListInvoicesForProject(ctx context.Context, creds domain.Credentials, projectID string) ([]domain.Invoice, error) {
	ctx, span := tracer.Start(ctx, "CRM.ListInvoicesForProject")
	defer span.End()
	span.SetAttributes(attribute.String("project.id", projectID))

	return c.listInvoices(ctx, creds, fmt.Sprintf("projects/%s/invoices", projectID))
}

// ListInvoicesForAppointment fetches the invoices attached to an appointment.
func (c *Client) ListInvoicesForAppointment(ctx context.Context, creds domain.Credentials, appointmentID string) ([]domain.Invoice, error) {
	ctx, span := tracer.Start(ctx, "CRM.ListInvoicesForAppointment")
	defer span.End()
	span.SetAttributes(attribute.String("appointment.id", appointmentID))

	return c.listInvoices(ctx, creds, fmt.Sprintf("appointments/%s/invoices", appointmentID))
}

func (c *Client) listInvoices(ctx context.Context, creds domain.Credentials, path string) ([]domain.Invoice, error) {
	var invoices []domain.Invoice

	_, err := c.cb.Execute(func() (any, error) {
		return nil, resilience.RetryWithBackoff(ctx, c.cfg, func() error {
			body, err := c.doRequest(ctx, creds, path)
			if err != nil {
				return err
			}
			if body == nil {
				invoices = []domain.Invoice{}
				return nil
			}

			var rows []crmInvoice
			if err := json.Unmarshal(body, &rows); err != nil {
				return fmt.Errorf("failed to decode invoices: %w", err)
			}

			invoices = make([]domain.Invoice, 0, len(rows))
			for _, r := range rows {
				invoices = append(invoices, domain.Invoice{
					ID:            r.ID,
					InvoiceNumber: r.InvoiceNumber,
					Amount:        decimal.NewFromFloat(r.Amount),
					Balance:       decimal.NewFromFloat(r.Balance),
				})
			}
			return nil
		})
	})

	if err != nil {
		return nil, &domain.ErrExternalService{Service: "crm/invoices", Err: err}
	}

	return invoices, nil
}
