package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/tbraz/crm-dashboard-bff-go/internal/domain"
	"github.com/tbraz/crm-dashboard-bff-go/internal/selection"
	"github.com/tbraz/crm-dashboard-bff-go/internal/service"
)

var tracer = otel.Tracer("handler")

// withSession resolves the session from the URL and hands it to fn.
func withSession(svc *service.Selector, logger *zap.Logger, fn func(w http.ResponseWriter, r *http.Request, s *selection.Session)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessionID := chi.URLParam(r, "sessionID")
		s, err := svc.GetSession(sessionID)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		fn(w, r, s)
	}
}

// ============================================================
// Session lifecycle
// ============================================================

func createSessionHandler(svc *service.Selector, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_, span := tracer.Start(r.Context(), "POST /v1/sessions")
		defer span.End()

		owner := OwnerFromContext(r.Context())
		s := svc.CreateSession(owner, crmCredentials(r))
		span.SetAttributes(attribute.String("session.id", s.ID()))

		writeJSON(w, http.StatusCreated, s.Snapshot())
	}
}

func getSessionHandler(svc *service.Selector, logger *zap.Logger) http.HandlerFunc {
	return withSession(svc, logger, func(w http.ResponseWriter, r *http.Request, s *selection.Session) {
		writeJSON(w, http.StatusOK, s.Snapshot())
	})
}

func deleteSessionHandler(svc *service.Selector, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		svc.DeleteSession(chi.URLParam(r, "sessionID"))
		w.WriteHeader(http.StatusNoContent)
	}
}

// ============================================================
// Cascading selection
// ============================================================

func setClientHandler(svc *service.Selector, logger *zap.Logger) http.HandlerFunc {
	return withSession(svc, logger, func(w http.ResponseWriter, r *http.Request, s *selection.Session) {
		ctx, span := tracer.Start(r.Context(), "PUT /v1/sessions/{sessionID}/client")
		defer span.End()

		var req struct {
			ClientID string `json:"clientId"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		s.SetClient(ctx, req.ClientID)
		writeJSON(w, http.StatusOK, s.Snapshot())
	})
}

func setPurposeHandler(svc *service.Selector, logger *zap.Logger) http.HandlerFunc {
	return withSession(svc, logger, func(w http.ResponseWriter, r *http.Request, s *selection.Session) {
		ctx, span := tracer.Start(r.Context(), "PUT /v1/sessions/{sessionID}/purpose")
		defer span.End()

		var req struct {
			Purpose domain.Purpose `json:"purpose"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		if err := s.SetPurpose(ctx, req.Purpose); err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, s.Snapshot())
	})
}

func setProjectHandler(svc *service.Selector, logger *zap.Logger) http.HandlerFunc {
	return withSession(svc, logger, func(w http.ResponseWriter, r *http.Request, s *selection.Session) {
		ctx, span := tracer.Start(r.Context(), "PUT /v1/sessions/{sessionID}/project")
		defer span.End()

		var req struct {
			ProjectID string `json:"projectId"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		s.SetProject(ctx, req.ProjectID)
		writeJSON(w, http.StatusOK, s.Snapshot())
	})
}

func setAppointmentHandler(svc *service.Selector, logger *zap.Logger) http.HandlerFunc {
	return withSession(svc, logger, func(w http.ResponseWriter, r *http.Request, s *selection.Session) {
		ctx, span := tracer.Start(r.Context(), "PUT /v1/sessions/{sessionID}/appointment")
		defer span.End()

		var req struct {
			AppointmentID string `json:"appointmentId"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		s.SetAppointment(ctx, req.AppointmentID)
		writeJSON(w, http.StatusOK, s.Snapshot())
	})
}

func setInvoiceHandler(svc *service.Selector, logger *zap.Logger) http.HandlerFunc {
	return withSession(svc, logger, func(w http.ResponseWriter, r *http.Request, s *selection.Session) {
		ctx, span := tracer.Start(r.Context(), "PUT /v1/sessions/{sessionID}/invoice")
		defer span.End()

		var req struct {
			InvoiceID string `json:"invoiceId"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		if err := s.SetInvoice(ctx, req.InvoiceID); err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, s.Snapshot())
	})
}

func refreshSessionHandler(svc *service.Selector, logger *zap.Logger) http.HandlerFunc {
	return withSession(svc, logger, func(w http.ResponseWriter, r *http.Request, s *selection.Session) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/sessions/{sessionID}/refresh")
		defer span.End()

		s.Refresh(ctx)
		writeJSON(w, http.StatusAccepted, s.Snapshot())
	})
}

// ============================================================
// Line items and charges
// ============================================================

func addItemHandler(svc *service.Selector, logger *zap.Logger) http.HandlerFunc {
	return withSession(svc, logger, func(w http.ResponseWriter, r *http.Request, s *selection.Session) {
		s.AddItem()
		writeJSON(w, http.StatusCreated, s.Snapshot())
	})
}

func updateItemHandler(svc *service.Selector, logger *zap.Logger) http.HandlerFunc {
	return withSession(svc, logger, func(w http.ResponseWriter, r *http.Request, s *selection.Session) {
		index, err := strconv.Atoi(chi.URLParam(r, "index"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "item index must be an integer")
			return
		}

		var req struct {
			Field string `json:"field"`
			Value string `json:"value"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		if err := s.UpdateItem(index, req.Field, req.Value); err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, s.Snapshot())
	})
}

func removeItemHandler(svc *service.Selector, logger *zap.Logger) http.HandlerFunc {
	return withSession(svc, logger, func(w http.ResponseWriter, r *http.Request, s *selection.Session) {
		index, err := strconv.Atoi(chi.URLParam(r, "index"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "item index must be an integer")
			return
		}

		s.RemoveItem(index)
		writeJSON(w, http.StatusOK, s.Snapshot())
	})
}

func setChargesHandler(svc *service.Selector, logger *zap.Logger) http.HandlerFunc {
	return withSession(svc, logger, func(w http.ResponseWriter, r *http.Request, s *selection.Session) {
		var req domain.Charges
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		s.SetCharges(req)
		writeJSON(w, http.StatusOK, s.Snapshot())
	})
}

func setDatesHandler(svc *service.Selector, logger *zap.Logger) http.HandlerFunc {
	return withSession(svc, logger, func(w http.ResponseWriter, r *http.Request, s *selection.Session) {
		var req domain.DocumentDates
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		s.SetDates(req)
		writeJSON(w, http.StatusOK, s.Snapshot())
	})
}

// ============================================================
// Derived state
// ============================================================

func getTotalsHandler(svc *service.Selector, logger *zap.Logger) http.HandlerFunc {
	return withSession(svc, logger, func(w http.ResponseWriter, r *http.Request, s *selection.Session) {
		writeJSON(w, http.StatusOK, s.Totals())
	})
}

func validateSessionHandler(svc *service.Selector, logger *zap.Logger) http.HandlerFunc {
	return withSession(svc, logger, func(w http.ResponseWriter, r *http.Request, s *selection.Session) {
		req := domain.DefaultSubmitRequirements()
		if r.ContentLength > 0 {
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				writeError(w, http.StatusBadRequest, "invalid request body")
				return
			}
		}

		// Always 200: an incomplete form is a report, not a failure.
		writeJSON(w, http.StatusOK, s.Validate(req))
	})
}

// ============================================================
// Client lookup
// ============================================================

func getClientHandler(svc *service.Selector, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/clients/{clientID}")
		defer span.End()

		clientID := chi.URLParam(r, "clientID")
		client, err := svc.LookupClient(ctx, crmCredentials(r), clientID)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, client)
	}
}
