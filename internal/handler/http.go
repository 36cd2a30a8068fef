// Package handler exposes the HTTP API: invoice intake, lifecycle
// inspection, budget reads, manual-review resolution, and dead-letter
// operations.
package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/pesio-ai/be-ap-lifecycle/internal/bus"
	"github.com/pesio-ai/be-ap-lifecycle/internal/domain"
	"github.com/pesio-ai/be-ap-lifecycle/internal/ledger"
	"github.com/pesio-ai/be-ap-lifecycle/internal/service"
	"github.com/pesio-ai/be-ap-lifecycle/internal/store"
)

// HTTPHandler handles HTTP requests.
type HTTPHandler struct {
	intake *service.IntakeService
	review *service.ReviewService
	store  store.Store
	ledger *ledger.Ledger
	// inspector is nil when the bus cannot enumerate dead letters
	// in-process; the DLQ endpoints then return 501.
	inspector bus.Inspector
	log       zerolog.Logger
}

// NewHTTPHandler creates a new HTTP handler.
func NewHTTPHandler(
	intake *service.IntakeService,
	review *service.ReviewService,
	s store.Store,
	l *ledger.Ledger,
	inspector bus.Inspector,
	log zerolog.Logger,
) *HTTPHandler {
	return &HTTPHandler{
		intake:    intake,
		review:    review,
		store:     s,
		ledger:    l,
		inspector: inspector,
		log:       log,
	}
}

// Router builds the chi router with the standard middleware chain.
func (h *HTTPHandler) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(h.log))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/healthz", h.Health)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/invoices", h.SubmitInvoice)
		r.Get("/invoices/{invoiceID}", h.GetInvoice)
		r.Get("/invoices/{invoiceID}/audit", h.GetAuditHistory)
		r.Get("/invoices/{invoiceID}/analytics", h.GetAnalytics)
		r.Post("/invoices/{invoiceID}/review", h.ResolveReview)

		r.Put("/vendors", h.PutVendor)
		r.Get("/vendors/{vendorID}", h.GetVendor)

		r.Put("/budgets", h.PutBudget)
		r.Get("/budgets/forecast", h.BudgetForecast)

		r.Get("/dlq", h.ListDeadLetters)
		r.Post("/dlq/{messageID}/requeue", h.RequeueDeadLetter)
	})
	return r
}

// Health reports liveness.
func (h *HTTPHandler) Health(w http.ResponseWriter, _ *http.Request) {
	h.respond(w, http.StatusOK, map[string]string{"status": "ok"})
}

// SubmitInvoice accepts a submission and returns 202: processing is
// asynchronous from here on.
func (h *HTTPHandler) SubmitInvoice(w http.ResponseWriter, r *http.Request) {
	var req service.SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	inv, err := h.intake.Submit(r.Context(), req)
	if err != nil {
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.respond(w, http.StatusAccepted, inv)
}

// GetInvoice returns the current invoice snapshot.
func (h *HTTPHandler) GetInvoice(w http.ResponseWriter, r *http.Request) {
	inv, err := h.store.GetInvoice(r.Context(), chi.URLParam(r, "invoiceID"))
	if err != nil {
		h.storeError(w, err)
		return
	}
	h.respond(w, http.StatusOK, inv)
}

// GetAuditHistory returns the transition records for one invoice.
func (h *HTTPHandler) GetAuditHistory(w http.ResponseWriter, r *http.Request) {
	recs, err := h.store.AuditHistory(r.Context(), chi.URLParam(r, "invoiceID"))
	if err != nil {
		h.storeError(w, err)
		return
	}
	h.respond(w, http.StatusOK, recs)
}

// GetAnalytics returns the reporting row for one invoice.
func (h *HTTPHandler) GetAnalytics(w http.ResponseWriter, r *http.Request) {
	row, err := h.store.GetAnalytics(r.Context(), chi.URLParam(r, "invoiceID"))
	if err != nil {
		h.storeError(w, err)
		return
	}
	h.respond(w, http.StatusOK, row)
}

// ResolveReview applies a manual-review decision.
func (h *HTTPHandler) ResolveReview(w http.ResponseWriter, r *http.Request) {
	var req service.ResolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.InvoiceID = chi.URLParam(r, "invoiceID")
	inv, err := h.review.Resolve(r.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			h.respondError(w, http.StatusNotFound, "invoice not found")
		case errors.Is(err, service.ErrNotReviewable):
			h.respondError(w, http.StatusConflict, err.Error())
		default:
			h.respondError(w, http.StatusBadRequest, err.Error())
		}
		return
	}
	h.respond(w, http.StatusOK, inv)
}

// PutVendor upserts a vendor reference record.
func (h *HTTPHandler) PutVendor(w http.ResponseWriter, r *http.Request) {
	var v domain.Vendor
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if v.VendorID == "" || v.Name == "" {
		h.respondError(w, http.StatusBadRequest, "vendor_id and name are required")
		return
	}
	if err := h.store.PutVendor(r.Context(), &v); err != nil {
		h.storeError(w, err)
		return
	}
	h.respond(w, http.StatusOK, v)
}

// GetVendor returns one vendor.
func (h *HTTPHandler) GetVendor(w http.ResponseWriter, r *http.Request) {
	v, err := h.store.GetVendor(r.Context(), chi.URLParam(r, "vendorID"))
	if err != nil {
		h.storeError(w, err)
		return
	}
	h.respond(w, http.StatusOK, v)
}

// PutBudget upserts a budget allocation.
func (h *HTTPHandler) PutBudget(w http.ResponseWriter, r *http.Request) {
	var b domain.Budget
	if err := json.NewDecoder(r.Body).Decode(&b); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if b.DepartmentID == "" || b.FiscalYear == "" {
		h.respondError(w, http.StatusBadRequest, "department_id and fiscal_year are required")
		return
	}
	if err := h.store.PutBudget(r.Context(), &b); err != nil {
		h.storeError(w, err)
		return
	}
	h.respond(w, http.StatusOK, b)
}

// BudgetForecast returns the burn-rate projection for one bucket.
func (h *HTTPHandler) BudgetForecast(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	year, err := strconv.Atoi(q.Get("year"))
	if err != nil {
		h.respondError(w, http.StatusBadRequest, "year is required")
		return
	}
	month, err := strconv.Atoi(q.Get("month"))
	if err != nil || month < 1 || month > 12 {
		h.respondError(w, http.StatusBadRequest, "month must be 1-12")
		return
	}
	key := domain.NewBucketKey(
		q.Get("department_id"), q.Get("project_id"), q.Get("category"),
		time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC))

	forecast, err := h.ledger.Project(r.Context(), key, time.Now().UTC())
	if err != nil {
		h.storeError(w, err)
		return
	}
	h.respond(w, http.StatusOK, forecast)
}

// ListDeadLetters enumerates quarantined messages.
func (h *HTTPHandler) ListDeadLetters(w http.ResponseWriter, _ *http.Request) {
	if h.inspector == nil {
		h.respondError(w, http.StatusNotImplemented, "dead-letter inspection is not available on this bus")
		return
	}
	letters := h.inspector.DeadLetters()
	out := make([]map[string]any, 0, len(letters))
	for _, dl := range letters {
		out = append(out, map[string]any{
			"message_id": dl.Message.ID,
			"subject":    dl.Message.Subject,
			"reason":     dl.Reason,
			"at":         dl.At,
			"payload":    json.RawMessage(dl.Message.Data),
		})
	}
	h.respond(w, http.StatusOK, out)
}

// RequeueDeadLetter re-publishes one quarantined message. This is the
// operator path back from the dead-letter channel.
func (h *HTTPHandler) RequeueDeadLetter(w http.ResponseWriter, r *http.Request) {
	if h.inspector == nil {
		h.respondError(w, http.StatusNotImplemented, "dead-letter requeue is not available on this bus")
		return
	}
	id := chi.URLParam(r, "messageID")
	if err := h.inspector.Requeue(r.Context(), id); err != nil {
		h.respondError(w, http.StatusNotFound, err.Error())
		return
	}
	h.respond(w, http.StatusOK, map[string]string{"requeued": id})
}

func (h *HTTPHandler) respond(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.log.Error().Err(err).Msg("encode response")
	}
}

func (h *HTTPHandler) respondError(w http.ResponseWriter, status int, msg string) {
	h.respond(w, status, map[string]string{"error": msg})
}

func (h *HTTPHandler) storeError(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrNotFound) {
		h.respondError(w, http.StatusNotFound, "not found")
		return
	}
	h.log.Error().Err(err).Msg("store error")
	h.respondError(w, http.StatusInternalServerError, "internal error")
}
