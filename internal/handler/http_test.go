package handler

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-ap-lifecycle/internal/bus"
	"github.com/pesio-ai/be-ap-lifecycle/internal/domain"
	"github.com/pesio-ai/be-ap-lifecycle/internal/ledger"
	"github.com/pesio-ai/be-ap-lifecycle/internal/service"
	"github.com/pesio-ai/be-ap-lifecycle/internal/store"
)

func newTestServer(t *testing.T) (*httptest.Server, store.Store, *bus.Memory) {
	t.Helper()
	st := store.NewMemory()
	b := bus.NewMemory(0)
	log := zerolog.Nop()
	l := ledger.New(st, log)
	h := NewHTTPHandler(
		service.NewIntakeService(st, b, log),
		service.NewReviewService(st, b, log),
		st, l, b, log,
	)
	srv := httptest.NewServer(h.Router())
	t.Cleanup(srv.Close)
	return srv, st, b
}

func doJSON(t *testing.T, method, url string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestSubmitAndFetchInvoice(t *testing.T) {
	srv, _, _ := newTestServer(t)

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/v1/invoices", service.SubmitRequest{
		DepartmentID: "IT",
		Category:     "Software",
		VendorName:   "Acme Corp",
		Amount:       decimal.NewFromInt(500),
	})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	created := decode[domain.Invoice](t, resp)
	assert.Equal(t, domain.StateCreated, created.State)

	resp = doJSON(t, http.MethodGet, srv.URL+"/api/v1/invoices/"+created.InvoiceID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got := decode[domain.Invoice](t, resp)
	assert.Equal(t, created.InvoiceID, got.InvoiceID)

	resp = doJSON(t, http.MethodGet, srv.URL+"/api/v1/invoices/missing", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()

	resp = doJSON(t, http.MethodPost, srv.URL+"/api/v1/invoices", service.SubmitRequest{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

func TestReviewEndpointGuards(t *testing.T) {
	srv, st, _ := newTestServer(t)
	inv := &domain.Invoice{
		InvoiceID:    "INV-1",
		DepartmentID: "IT",
		Amount:       decimal.NewFromInt(500),
		State:        domain.StateValidated,
		CreatedAt:    time.Now().UTC(),
	}
	require.NoError(t, st.CreateInvoice(t.Context(), inv))

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/v1/invoices/INV-1/review", service.ResolveRequest{
		Action: service.ReviewApprove, Reviewer: "jordan",
	})
	assert.Equal(t, http.StatusConflict, resp.StatusCode, "only MANUAL_REVIEW invoices can be resolved")
	resp.Body.Close()

	resp = doJSON(t, http.MethodPost, srv.URL+"/api/v1/invoices/missing/review", service.ResolveRequest{
		Action: service.ReviewApprove, Reviewer: "jordan",
	})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func TestVendorAndBudgetEndpoints(t *testing.T) {
	srv, _, _ := newTestServer(t)

	resp := doJSON(t, http.MethodPut, srv.URL+"/api/v1/vendors", domain.Vendor{
		VendorID: "V-1", Name: "Acme Corp", Approved: true, Active: true,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = doJSON(t, http.MethodGet, srv.URL+"/api/v1/vendors/V-1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	v := decode[domain.Vendor](t, resp)
	assert.Equal(t, "Acme Corp", v.Name)

	resp = doJSON(t, http.MethodPut, srv.URL+"/api/v1/budgets", domain.Budget{
		BudgetID:     "B-1",
		FiscalYear:   "FY2025",
		DepartmentID: "IT",
		Category:     "Software",
		Allocated:    decimal.NewFromInt(10000),
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = doJSON(t, http.MethodPut, srv.URL+"/api/v1/budgets", domain.Budget{Category: "Software"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

func TestDeadLetterEndpoints(t *testing.T) {
	srv, _, b := newTestServer(t)
	ctx := t.Context()

	sub, err := b.Subscribe(ctx, "w", "invoice.extracted")
	require.NoError(t, err)
	require.NoError(t, b.Publish(ctx, "invoice.extracted", []byte(`{"invoice_id":"INV-1"}`)))
	msg, err := sub.Pull(ctx, time.Second)
	require.NoError(t, err)
	require.NoError(t, sub.Quarantine(ctx, msg, "precondition mismatch"))

	resp := doJSON(t, http.MethodGet, srv.URL+"/api/v1/dlq", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	letters := decode[[]map[string]any](t, resp)
	require.Len(t, letters, 1)
	assert.Equal(t, "precondition mismatch", letters[0]["reason"])

	id := letters[0]["message_id"].(string)
	resp = doJSON(t, http.MethodPost, fmt.Sprintf("%s/api/v1/dlq/%s/requeue", srv.URL, id), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = doJSON(t, http.MethodGet, srv.URL+"/api/v1/dlq", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, decode[[]map[string]any](t, resp))

	redelivered, err := sub.Pull(ctx, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "invoice.extracted", redelivered.Subject)
}

func TestHealth(t *testing.T) {
	srv, _, _ := newTestServer(t)
	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
