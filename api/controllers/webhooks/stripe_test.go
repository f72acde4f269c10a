package webhooks

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	stripewebhook "github.com/dispatchly/dispatchly-backend/internal/webhooks/stripe"
	pkgerrors "github.com/dispatchly/dispatchly-backend/pkg/errors"
	"github.com/dispatchly/dispatchly-backend/pkg/logger"
	"github.com/dispatchly/dispatchly-backend/pkg/types"
)

type fakeProcessor struct {
	payload   []byte
	signature string
	result    *stripewebhook.Result
	err       error
}

func (f *fakeProcessor) Process(ctx context.Context, payload []byte, signature string) (*stripewebhook.Result, error) {
	f.payload = payload
	f.signature = signature
	return f.result, f.err
}

func serve(t *testing.T, svc StripeEventProcessor, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/stripe", bytes.NewReader(body))
	req.Header.Set("Stripe-Signature", "t=1,v1=abc")
	rec := httptest.NewRecorder()
	StripeWebhook(svc, logger.New(logger.Options{ServiceName: "test", Output: io.Discard}))(rec, req)
	return rec
}

func TestStripeWebhookPassesRawBody(t *testing.T) {
	body := []byte(`{"id":"evt_1","type":"checkout.session.completed"}`)
	svc := &fakeProcessor{result: &stripewebhook.Result{EventID: "evt_1", Outcome: stripewebhook.OutcomeProcessed}}

	rec := serve(t, svc, body)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, body, svc.payload)
	assert.Equal(t, "t=1,v1=abc", svc.signature)

	var env struct {
		Data stripewebhook.Result `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	assert.Equal(t, stripewebhook.OutcomeProcessed, env.Data.Outcome)
}

func TestStripeWebhookDuplicateAndIgnoredAre200(t *testing.T) {
	for _, outcome := range []stripewebhook.Outcome{stripewebhook.OutcomeDuplicate, stripewebhook.OutcomeIgnored} {
		rec := serve(t, &fakeProcessor{result: &stripewebhook.Result{EventID: "evt_2", Outcome: outcome}}, []byte(`{}`))
		assert.Equal(t, http.StatusOK, rec.Code, string(outcome))
	}
}

func TestStripeWebhookStatusMapping(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		code   pkgerrors.Code
	}{
		{"bad signature", pkgerrors.New(pkgerrors.CodeInvalidSignature, "signature mismatch"), http.StatusBadRequest, pkgerrors.CodeInvalidSignature},
		{"missing metadata", pkgerrors.New(pkgerrors.CodeMissingMetadata, "user_id missing"), http.StatusBadRequest, pkgerrors.CodeMissingMetadata},
		{"storage failure", pkgerrors.New(pkgerrors.CodeDependency, "insert billing event"), http.StatusInternalServerError, pkgerrors.CodeInternal},
		{"credits conflict", pkgerrors.New(pkgerrors.CodeConflict, "concurrent update"), http.StatusInternalServerError, pkgerrors.CodeInternal},
		{"untyped", errors.New("boom"), http.StatusInternalServerError, pkgerrors.CodeInternal},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := serve(t, &fakeProcessor{err: tc.err}, []byte(`{}`))
			require.Equal(t, tc.status, rec.Code)
			var env types.ErrorEnvelope
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
			assert.Equal(t, string(tc.code), env.Error.Code)
		})
	}
}
