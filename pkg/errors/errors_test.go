package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetadataFor(t *testing.T) {
	tests := []struct {
		code      Code
		status    int
		retryable bool
		detailsOK bool
	}{
		{CodeValidation, http.StatusBadRequest, false, true},
		{CodeUnauthorized, http.StatusUnauthorized, false, false},
		{CodeStateConflict, http.StatusUnprocessableEntity, false, true},
		{CodeRateLimit, http.StatusTooManyRequests, false, false},
		{CodeInternal, http.StatusInternalServerError, true, false},
		{CodeDependency, http.StatusServiceUnavailable, true, true},
		{CodeNotAssigned, http.StatusForbidden, false, false},
		{CodeAlreadyValidated, http.StatusConflict, false, false},
		{CodeInvalidCode, http.StatusBadRequest, false, true},
		{CodeAttemptsExceeded, http.StatusLocked, false, false},
		{CodeInvalidSignature, http.StatusBadRequest, false, false},
		{CodeMissingMetadata, http.StatusBadRequest, false, true},
	}
	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			meta := MetadataFor(tt.code)
			assert.Equal(t, tt.status, meta.HTTPStatus)
			assert.Equal(t, tt.retryable, meta.Retryable)
			assert.Equal(t, tt.detailsOK, meta.DetailsAllowed)
			assert.NotEmpty(t, meta.PublicMessage)
		})
	}

	assert.Equal(t, MetadataFor(CodeInternal), MetadataFor("SOMETHING_UNKNOWN"))
}

func TestErrorAccessors(t *testing.T) {
	base := New(CodeValidation, "missing pickup address")
	assert.Equal(t, CodeValidation, base.Code())
	assert.Equal(t, "missing pickup address", base.Message())
	assert.Nil(t, base.Details())
	assert.Equal(t, "VALIDATION_ERROR: missing pickup address", base.Error())

	base.WithDetails(map[string]any{"field": "pickupAddress"})
	assert.NotNil(t, base.Details())

	cause := stdErrors.New("boom")
	wrapped := Wrap(CodeConflict, cause, "ctx")
	assert.ErrorIs(t, wrapped, cause)
	assert.Equal(t, "CONFLICT: ctx: boom", wrapped.Error())

	var nilErr *Error
	assert.Equal(t, CodeInternal, nilErr.Code())
	assert.Nil(t, nilErr.WithDetails("x"))
}

func TestAsIsCodeAndReason(t *testing.T) {
	err := Wrap(CodeConflict, stdErrors.New("0 rows"), "order no longer available").
		WithDetails(map[string]any{"reason": "order_unavailable"})
	wrapped := fmt.Errorf("accept: %w", err)

	require.NotNil(t, As(wrapped))
	assert.Nil(t, As(nil))
	assert.True(t, IsCode(wrapped, CodeConflict))
	assert.False(t, IsCode(wrapped, CodeNotFound))
	assert.Equal(t, "order_unavailable", Reason(wrapped))
	assert.Empty(t, Reason(stdErrors.New("plain")))
	assert.Empty(t, Reason(New(CodeConflict, "no details")))
}

func TestLogFields(t *testing.T) {
	assert.Empty(t, LogFields(nil))

	pgErr := &pgconn.PgError{Code: "23505", ConstraintName: "uq_credit_grants_event", TableName: "credit_grants"}
	err := Wrap(CodeConflict, fmt.Errorf("insert grant: %w", pgErr), "duplicate grant").
		WithDetails(map[string]any{"reason": "duplicate"})

	fields := LogFields(err)
	assert.Equal(t, "CONFLICT", fields["error_code"])
	assert.Equal(t, "duplicate", fields["reason"])
	assert.Equal(t, "23505", fields["pg_code"])
	assert.Equal(t, "uq_credit_grants_event", fields["pg_constraint"])
	assert.Len(t, fields["error_chain"], 3)
	assert.NotContains(t, fields, "pg_detail")

	fields = LogFields(fmt.Errorf("legacy: %w", &pq.Error{Code: "40001", Table: "orders"}))
	assert.Equal(t, "40001", fields["pg_code"])
	assert.Equal(t, "orders", fields["pg_table"])
	assert.NotContains(t, fields, "error_code")
}
