package checkout

import (
	"testing"

	pkgerrors "github.com/dispatchly/dispatchly-backend/pkg/errors"
)

func TestValidateCallbackURLs_Allowed(t *testing.T) {
	allow := NewHostAllowList([]string{" App.Dispatchly.io ", ""})
	err := ValidateCallbackURLs(allow, CallbackURLs{
		SuccessURL: "https://app.dispatchly.io/billing/success?session={CHECKOUT_SESSION_ID}",
		CancelURL:  "https://APP.dispatchly.io:443/billing",
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
}

func TestValidateCallbackURLs_Violations(t *testing.T) {
	allow := NewHostAllowList([]string{"app.dispatchly.io"})
	cases := []struct {
		name   string
		url    string
		reason string
	}{
		{"empty", "", "required"},
		{"relative", "/billing/success", "malformed"},
		{"plain http", "http://app.dispatchly.io/ok", "https_required"},
		{"userinfo", "https://user:pw@app.dispatchly.io/ok", "credentials_not_allowed"},
		{"foreign host", "https://evil.example.com/ok", "host_not_allowed"},
		{"suffix trick", "https://app.dispatchly.io.evil.example.com/ok", "host_not_allowed"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateCallbackURLs(allow, CallbackURLs{
				SuccessURL: tc.url,
				CancelURL:  "https://app.dispatchly.io/cancel",
			})
			if err == nil {
				t.Fatal("expected error")
			}
			typed := pkgerrors.As(err)
			if typed == nil {
				t.Fatalf("expected pkgerrors.Error, got %T", err)
			}
			if typed.Code() != pkgerrors.CodeValidation {
				t.Fatalf("expected code %s, got %s", pkgerrors.CodeValidation, typed.Code())
			}
			details, ok := typed.Details().(map[string]any)
			if !ok {
				t.Fatalf("expected details map, got %T", typed.Details())
			}
			violations, ok := details["violations"].([]CallbackViolationDetail)
			if !ok || len(violations) != 1 {
				t.Fatalf("expected one violation, got %#v", details["violations"])
			}
			if violations[0].Field != "successUrl" || violations[0].Reason != tc.reason {
				t.Fatalf("unexpected violation %+v", violations[0])
			}
		})
	}
}

func TestValidateCallbackURLs_BothFields(t *testing.T) {
	err := ValidateCallbackURLs(NewHostAllowList(nil), CallbackURLs{
		SuccessURL: "https://app.dispatchly.io/ok",
		CancelURL:  "https://app.dispatchly.io/cancel",
	})
	typed := pkgerrors.As(err)
	if typed == nil {
		t.Fatalf("expected pkgerrors.Error, got %v", err)
	}
	violations := typed.Details().(map[string]any)["violations"].([]CallbackViolationDetail)
	if len(violations) != 2 {
		t.Fatalf("expected 2 violations, got %d", len(violations))
	}
}
