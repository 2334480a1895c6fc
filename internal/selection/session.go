// Package selection implements the cascading-selection engine behind
// the dashboard's document forms: client → project or appointment
// (per purpose) → invoice, with dependent option lists fetched from
// the CRM backend.
//
// Two rules keep the state consistent under slow networks and fast
// users:
//
//   - Downstream clears happen synchronously with the upstream change,
//     before any new fetch is issued, so a snapshot never pairs a stale
//     downstream pick with a new upstream one.
//   - Every fetch is tagged with a per-slot sequence number; a result
//     is applied only if its tag still matches the latest issued for
//     that slot. Superseded results are dropped, not cancelled.
package selection

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/tbraz/crm-dashboard-bff-go/internal/domain"
	"github.com/tbraz/crm-dashboard-bff-go/internal/infra/observability"
	"github.com/tbraz/crm-dashboard-bff-go/internal/ledger"
	"github.com/tbraz/crm-dashboard-bff-go/internal/port"
)

var tracer = otel.Tracer("selection")

const (
	slotOptions  = "options" // projects + appointments for a client
	slotInvoices = "invoices"

	reasonUpstreamChange = "upstream_change"
	reasonReconciliation = "reconciliation"
)

// Session holds one user's form state: the cascading selection, the
// fetched option lists, and the line-item ledger. A session is owned
// by a single UI tab; the mutex only guards against the session's own
// background fetches.
type Session struct {
	id    string
	owner string
	creds domain.Credentials

	directory port.Directory
	metrics   *observability.Metrics
	logger    *zap.Logger

	mu          sync.Mutex
	sel         domain.Selection
	dates       domain.DocumentDates
	loading     domain.LoadingFlags
	lastTouched time.Time

	projects     []domain.Project
	appointments []domain.Appointment
	invoices     []domain.Invoice

	// Sequence numbers implement last-request-wins per slot; the
	// lastXKey fields implement the redundant-fetch guard.
	optionsSeq     uint64
	invoicesSeq    uint64
	lastOptionsKey string
	lastInvoiceKey string

	items   []domain.LineItem
	charges domain.Charges

	warnings []string

	inflight sync.WaitGroup
}

func newSession(id, owner string, creds domain.Credentials, directory port.Directory, metrics *observability.Metrics, logger *zap.Logger) *Session {
	return &Session{
		id:          id,
		owner:       owner,
		creds:       creds,
		directory:   directory,
		metrics:     metrics,
		logger:      logger,
		sel:         domain.Selection{Purpose: domain.PurposeProject},
		lastTouched: time.Now(),
		items:       []domain.LineItem{},
	}
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// Wait blocks until all in-flight dependent fetches have settled.
// Used by tests and by nothing on the request path.
func (s *Session) Wait() { s.inflight.Wait() }

// --- Selection operations ---

// SetClient selects a client and clears every downstream pick before
// kicking off the fetch of that client's projects and appointments.
// An empty id is a no-op reset, not an error. Reselecting the same id
// does not re-fetch unless the previous fetch failed.
func (s *Session) SetClient(ctx context.Context, clientID string) {
	ctx, span := tracer.Start(ctx, "Session.SetClient")
	defer span.End()
	span.SetAttributes(attribute.String("client.id", clientID))

	s.mu.Lock()
	s.lastTouched = time.Now()

	if clientID != "" && clientID == s.lastOptionsKey {
		// Unchanged input id: suppress the redundant fetch.
		s.sel.ClientID = clientID
		s.mu.Unlock()
		return
	}

	s.clearDownstreamOfClientLocked(reasonUpstreamChange)
	s.sel.ClientID = clientID

	if clientID == "" {
		s.lastOptionsKey = ""
		s.projects = nil
		s.appointments = nil
		s.loading.Projects = false
		s.loading.Appointments = false
		s.mu.Unlock()
		return
	}

	s.optionsSeq++
	seq := s.optionsSeq
	s.lastOptionsKey = clientID
	s.loading.Projects = true
	s.loading.Appointments = true
	s.mu.Unlock()

	s.metrics.IncrFetchIssued(slotOptions)
	s.inflight.Add(1)
	go s.fetchOptions(context.WithoutCancel(ctx), clientID, seq)
}

// SetPurpose flips the discriminator between project and appointment.
// Prior picks in both slots survive the flip, but the invoice list is
// re-keyed to the new purpose+target pair.
func (s *Session) SetPurpose(ctx context.Context, p domain.Purpose) error {
	if !p.Valid() {
		return &domain.ErrValidation{Field: "purpose", Message: "purpose must be 'project' or 'appointment'"}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastTouched = time.Now()

	s.sel.Purpose = p
	s.maybeFetchInvoicesLocked(ctx)
	return nil
}

// SetProject selects a project. Setting a non-empty project clears any
// appointment pick (a document attaches to one or the other, never
// both). The id is not checked against the fetched list here; the
// reconciliation pass after the next fetch untrusts it.
func (s *Session) SetProject(ctx context.Context, projectID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastTouched = time.Now()

	if projectID != "" && s.sel.AppointmentID != "" {
		s.sel.AppointmentID = ""
		s.metrics.IncrSelectionClear("appointment", reasonUpstreamChange)
	}
	s.sel.ProjectID = projectID
	s.maybeFetchInvoicesLocked(ctx)
}

// SetAppointment selects an appointment, clearing any project pick.
func (s *Session) SetAppointment(ctx context.Context, appointmentID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastTouched = time.Now()

	if appointmentID != "" && s.sel.ProjectID != "" {
		s.sel.ProjectID = ""
		s.metrics.IncrSelectionClear("project", reasonUpstreamChange)
	}
	s.sel.AppointmentID = appointmentID
	s.maybeFetchInvoicesLocked(ctx)
}

// SetInvoice selects an invoice. Only meaningful while the active
// purpose target is set; selecting one without a target is rejected.
func (s *Session) SetInvoice(_ context.Context, invoiceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastTouched = time.Now()

	if invoiceID != "" && s.sel.ActiveTargetID() == "" {
		return &domain.ErrValidation{
			Field:   "invoiceId",
			Message: "an invoice requires a selected project or appointment",
		}
	}
	s.sel.InvoiceID = invoiceID
	return nil
}

// Refresh re-fetches every dependent list for the current selection,
// bypassing the unchanged-id guard. Stale picks are cleared by the
// reconciliation pass when the fresh lists arrive.
func (s *Session) Refresh(ctx context.Context) {
	ctx, span := tracer.Start(ctx, "Session.Refresh")
	defer span.End()

	s.mu.Lock()
	s.lastTouched = time.Now()

	if s.sel.ClientID == "" {
		s.mu.Unlock()
		return
	}

	s.optionsSeq++
	seq := s.optionsSeq
	clientID := s.sel.ClientID
	s.lastOptionsKey = clientID
	s.loading.Projects = true
	s.loading.Appointments = true

	// Force the invoice list to re-key as well.
	s.lastInvoiceKey = ""
	s.maybeFetchInvoicesLocked(ctx)
	s.mu.Unlock()

	s.metrics.IncrFetchIssued(slotOptions)
	s.inflight.Add(1)
	go s.fetchOptions(context.WithoutCancel(ctx), clientID, seq)
}

// --- Ledger operations ---

// AddItem appends a default line item.
func (s *Session) AddItem() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastTouched = time.Now()
	s.items = ledger.AddItem(s.items)
}

// RemoveItem removes the line item at index; out of range is a no-op.
func (s *Session) RemoveItem(index int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastTouched = time.Now()
	s.items = ledger.RemoveItem(s.items, index)
}

// UpdateItem updates one field of a line item from raw form input.
func (s *Session) UpdateItem(index int, field, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastTouched = time.Now()

	items, err := ledger.UpdateItem(s.items, index, field, value)
	s.items = items
	return err
}

// SetCharges stores the discount and tax percentages.
func (s *Session) SetCharges(c domain.Charges) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastTouched = time.Now()
	s.charges = c
}

// SetDates stores the document date pair.
func (s *Session) SetDates(d domain.DocumentDates) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastTouched = time.Now()
	s.dates = d
}

// Totals derives the money summary from the current items and charges.
func (s *Session) Totals() domain.Totals {
	s.mu.Lock()
	defer s.mu.Unlock()
	return ledger.ComputeTotals(s.items, s.charges.DiscountPct, s.charges.TaxPct)
}

// Validate runs the pre-submit gate with the caller's requirements.
func (s *Session) Validate(req domain.SubmitRequirements) domain.ValidationReport {
	s.mu.Lock()
	defer s.mu.Unlock()
	return ledger.Validate(s.sel, s.dates, s.items, req)
}

// Snapshot returns the full renderable state. Accumulated warnings are
// drained: each is surfaced to the UI exactly once.
func (s *Session) Snapshot() domain.SessionSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastTouched = time.Now()

	snap := domain.SessionSnapshot{
		SessionID:    s.id,
		Owner:        s.owner,
		Selection:    s.sel,
		Loading:      s.loading,
		Dates:        s.dates,
		Projects:     append([]domain.Project(nil), s.projects...),
		Appointments: append([]domain.Appointment(nil), s.appointments...),
		Invoices:     append([]domain.Invoice(nil), s.invoices...),
		Items:        append([]domain.LineItem(nil), s.items...),
		Charges:      s.charges,
		Totals:       ledger.ComputeTotals(s.items, s.charges.DiscountPct, s.charges.TaxPct),
		Warnings:     s.warnings,
	}
	s.warnings = nil
	return snap
}

// --- Fetch orchestration ---

// fetchOptions loads the projects and appointments for clientID
// concurrently and applies them if seq is still current.
func (s *Session) fetchOptions(ctx context.Context, clientID string, seq uint64) {
	defer s.inflight.Done()

	ctx, span := tracer.Start(ctx, "Session.fetchOptions")
	defer span.End()
	span.SetAttributes(attribute.String("client.id", clientID))

	start := time.Now()

	var (
		projects     []domain.Project
		appointments []domain.Appointment
		projErr      error
		apptErr      error
	)

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		projects, projErr = s.directory.ListProjectsForClient(gCtx, s.creds, clientID)
		return nil // failures degrade to empty lists, they don't cancel the sibling
	})
	g.Go(func() error {
		appointments, apptErr = s.directory.ListAppointmentsForClient(gCtx, s.creds, clientID)
		return nil
	})
	_ = g.Wait()

	s.metrics.RecordFetchDuration(slotOptions, time.Since(start))

	s.mu.Lock()
	defer s.mu.Unlock()

	if seq != s.optionsSeq {
		// A newer SetClient superseded this fetch; its result would
		// overwrite the correct lists with stale data.
		s.metrics.IncrStaleDropped(slotOptions)
		s.logger.Debug("dropped stale options fetch",
			zap.String("session_id", s.id),
			zap.String("client_id", clientID),
		)
		return
	}

	if projErr != nil {
		projects = []domain.Project{}
		s.metrics.IncrExternalError("crm/options")
		s.warnings = append(s.warnings, "could not load projects; reselect the client to retry")
		s.lastOptionsKey = ""
		s.logger.Warn("project list fetch failed",
			zap.String("session_id", s.id),
			zap.String("client_id", clientID),
			zap.Error(projErr),
		)
	}
	if apptErr != nil {
		appointments = []domain.Appointment{}
		s.metrics.IncrExternalError("crm/options")
		s.warnings = append(s.warnings, "could not load appointments; reselect the client to retry")
		s.lastOptionsKey = ""
		s.logger.Warn("appointment list fetch failed",
			zap.String("session_id", s.id),
			zap.String("client_id", clientID),
			zap.Error(apptErr),
		)
	}

	s.projects = projects
	s.appointments = appointments
	s.loading.Projects = false
	s.loading.Appointments = false

	s.reconcileOptionsLocked(ctx)
}

// reconcileOptionsLocked clears the project/appointment picks if the
// freshly fetched lists no longer contain them (server-side deletions,
// stale caches between navigations), then re-keys the invoice list.
func (s *Session) reconcileOptionsLocked(ctx context.Context) {
	if s.sel.ProjectID != "" && !containsProject(s.projects, s.sel.ProjectID) {
		s.sel.ProjectID = ""
		s.metrics.IncrSelectionClear("project", reasonReconciliation)
	}
	if s.sel.AppointmentID != "" && !containsAppointment(s.appointments, s.sel.AppointmentID) {
		s.sel.AppointmentID = ""
		s.metrics.IncrSelectionClear("appointment", reasonReconciliation)
	}
	s.maybeFetchInvoicesLocked(ctx)
}

// maybeFetchInvoicesLocked keeps the invoice list keyed to the current
// purpose+target pair. Requires s.mu held.
func (s *Session) maybeFetchInvoicesLocked(ctx context.Context) {
	purpose := s.sel.Purpose
	target := s.sel.ActiveTargetID()

	if target == "" {
		if s.sel.InvoiceID != "" {
			s.sel.InvoiceID = ""
			s.metrics.IncrSelectionClear("invoice", reasonUpstreamChange)
		}
		s.invoices = nil
		s.lastInvoiceKey = ""
		s.loading.Invoices = false
		// Superseding any in-flight invoice fetch so its result is dropped.
		s.invoicesSeq++
		return
	}

	key := string(purpose) + ":" + target
	if key == s.lastInvoiceKey {
		return
	}

	// The pair changed: the old invoice pick is meaningless under it.
	if s.sel.InvoiceID != "" {
		s.sel.InvoiceID = ""
		s.metrics.IncrSelectionClear("invoice", reasonUpstreamChange)
	}
	s.invoices = nil
	s.lastInvoiceKey = key
	s.invoicesSeq++
	seq := s.invoicesSeq
	s.loading.Invoices = true

	s.metrics.IncrFetchIssued(slotInvoices)
	s.inflight.Add(1)
	go s.fetchInvoices(context.WithoutCancel(ctx), purpose, target, seq)
}

// fetchInvoices loads the invoices for the given purpose target and
// applies them if seq is still current.
func (s *Session) fetchInvoices(ctx context.Context, purpose domain.Purpose, target string, seq uint64) {
	defer s.inflight.Done()

	ctx, span := tracer.Start(ctx, "Session.fetchInvoices")
	defer span.End()
	span.SetAttributes(
		attribute.String("purpose", string(purpose)),
		attribute.String("target.id", target),
	)

	start := time.Now()

	var (
		invoices []domain.Invoice
		err      error
	)
	if purpose == domain.PurposeAppointment {
		invoices, err = s.directory.ListInvoicesForAppointment(ctx, s.creds, target)
	} else {
		invoices, err = s.directory.ListInvoicesForProject(ctx, s.creds, target)
	}

	s.metrics.RecordFetchDuration(slotInvoices, time.Since(start))

	s.mu.Lock()
	defer s.mu.Unlock()

	if seq != s.invoicesSeq {
		s.metrics.IncrStaleDropped(slotInvoices)
		s.logger.Debug("dropped stale invoice fetch",
			zap.String("session_id", s.id),
			zap.String("target_id", target),
		)
		return
	}

	if err != nil {
		invoices = []domain.Invoice{}
		s.metrics.IncrExternalError("crm/invoices")
		s.warnings = append(s.warnings, "could not load invoices; reselect to retry")
		s.lastInvoiceKey = ""
		s.logger.Warn("invoice list fetch failed",
			zap.String("session_id", s.id),
			zap.String("target_id", target),
			zap.Error(err),
		)
	}

	s.invoices = invoices
	s.loading.Invoices = false

	if s.sel.InvoiceID != "" && !containsInvoice(s.invoices, s.sel.InvoiceID) {
		s.sel.InvoiceID = ""
		s.metrics.IncrSelectionClear("invoice", reasonReconciliation)
	}
}

// clearDownstreamOfClientLocked clears project, appointment and
// invoice. Requires s.mu held.
func (s *Session) clearDownstreamOfClientLocked(reason string) {
	if s.sel.ProjectID != "" {
		s.sel.ProjectID = ""
		s.metrics.IncrSelectionClear("project", reason)
	}
	if s.sel.AppointmentID != "" {
		s.sel.AppointmentID = ""
		s.metrics.IncrSelectionClear("appointment", reason)
	}
	if s.sel.InvoiceID != "" {
		s.sel.InvoiceID = ""
		s.metrics.IncrSelectionClear("invoice", reason)
	}
	s.invoices = nil
	s.lastInvoiceKey = ""
	s.invoicesSeq++ // supersede any in-flight invoice fetch
	s.loading.Invoices = false
}

func containsProject(list []domain.Project, id string) bool {
	for _, p := range list {
		if p.ID == id {
			return true
		}
	}
	return false
}

func containsAppointment(list []domain.Appointment, id string) bool {
	for _, a := range list {
		if a.ID == id {
			return true
		}
	}
	return false
}

func containsInvoice(list []domain.Invoice, id string) bool {
	for _, inv := range list {
		if inv.ID == id {
			return true
		}
	}
	return false
}
