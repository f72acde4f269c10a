package errors

import (
	stdErrors "errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

// LogFields flattens err into structured log fields: the typed code and
// reason when present, the unwrap chain, and the postgres diagnostics from
// either driver when the chain holds a server error.
func LogFields(err error) map[string]any {
	if err == nil {
		return map[string]any{}
	}
	fields := map[string]any{"error_message": err.Error()}
	if typed := As(err); typed != nil {
		fields["error_code"] = string(typed.code)
		if reason := Reason(err); reason != "" {
			fields["reason"] = reason
		}
	}

	var chain []string
	for e := err; e != nil; e = stdErrors.Unwrap(e) {
		chain = append(chain, fmt.Sprintf("%T", e))
	}
	fields["error_chain"] = chain

	var pgxErr *pgconn.PgError
	var pqErr *pq.Error
	switch {
	case stdErrors.As(err, &pgxErr):
		addPG(fields, pgxErr.Code, pgxErr.ConstraintName, pgxErr.TableName, pgxErr.Detail)
	case stdErrors.As(err, &pqErr):
		addPG(fields, string(pqErr.Code), pqErr.Constraint, pqErr.Table, pqErr.Detail)
	}
	return fields
}

func addPG(fields map[string]any, code, constraint, table, detail string) {
	fields["pg_code"] = code
	for k, v := range map[string]string{"pg_constraint": constraint, "pg_table": table, "pg_detail": detail} {
		if v != "" {
			fields[k] = v
		}
	}
}
