package ipn

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	coreconfig "github.com/m3rciful/shopbot/core/config"
	"github.com/m3rciful/shopbot/core/domain"
	"github.com/m3rciful/shopbot/core/reconcile"
)

type stubProcessor struct {
	last *reconcile.PaymentEvent
	err  error
}

func (s *stubProcessor) Process(_ context.Context, ev reconcile.PaymentEvent) error {
	s.last = &ev
	return s.err
}

func postForm(t *testing.T, h http.Handler, form url.Values) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/paypal-ipn", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decimalFromString(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	require.NoError(t, err)
	return d
}

func TestNotificationDecoded(t *testing.T) {
	proc := &stubProcessor{}
	srv := New(coreconfig.IPNConfig{Listen: ":0"}, proc)

	rec := postForm(t, srv.Handler(), url.Values{
		"txn_id":      {"TXN-42"},
		"item_name":   {"1 mes – 11 USD"},
		"mc_gross":    {"11.00"},
		"payer_email": {"payer@example.test"},
		"custom":      {"ord-100-aabbccddeeff"},
	})

	assert.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, proc.last)
	assert.Equal(t, "TXN-42", proc.last.ExternalTxnID)
	assert.Equal(t, "1 mes – 11 USD", proc.last.PlanLabel)
	assert.Equal(t, "ord-100-aabbccddeeff", proc.last.CorrelationToken)
	assert.Equal(t, "payer@example.test", proc.last.PayerExternalRef)
	assert.True(t, proc.last.Amount.Equal(decimalFromString(t, "11.00")))
}

func TestStorageFaultAsksForRetry(t *testing.T) {
	proc := &stubProcessor{err: domain.NewStorageFault("settle", context.DeadlineExceeded)}
	srv := New(coreconfig.IPNConfig{Listen: ":0"}, proc)

	rec := postForm(t, srv.Handler(), url.Values{"txn_id": {"TXN-1"}})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestValidationErrorAcknowledged(t *testing.T) {
	proc := &stubProcessor{err: domain.NewValidationError("no txn id")}
	srv := New(coreconfig.IPNConfig{Listen: ":0"}, proc)

	rec := postForm(t, srv.Handler(), url.Values{"item_name": {"x"}})
	assert.Equal(t, http.StatusOK, rec.Code, "unfixable payloads must not loop the gateway retries")
}

func TestBadAmountAcknowledgedWithoutProcessing(t *testing.T) {
	proc := &stubProcessor{}
	srv := New(coreconfig.IPNConfig{Listen: ":0"}, proc)

	rec := postForm(t, srv.Handler(), url.Values{
		"txn_id":   {"TXN-2"},
		"mc_gross": {"once dólares"},
	})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Nil(t, proc.last)
}

func TestHealthz(t *testing.T) {
	srv := New(coreconfig.IPNConfig{Listen: ":0"}, &stubProcessor{})
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}
