package errors

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

// ErrorDump flattens an error chain for structured logs. The PG fields are
// filled from either driver: pgx when gorm runs on pgx, lib/pq for goose.
type ErrorDump struct {
	TopMessage string   `json:"top_message"`
	Code       Code     `json:"code,omitempty"`
	Chain      []string `json:"chain,omitempty"`

	PGCode       string `json:"pg_code,omitempty"`
	PGConstraint string `json:"pg_constraint,omitempty"`
	PGTable      string `json:"pg_table,omitempty"`
	PGColumn     string `json:"pg_column,omitempty"`
	PGDetail     string `json:"pg_detail,omitempty"`
	PGMessage    string `json:"pg_message,omitempty"`
}

func Dump(err error) ErrorDump {
	if err == nil {
		return ErrorDump{}
	}
	d := ErrorDump{TopMessage: err.Error()}
	if te := As(err); te != nil {
		d.Code = te.Code()
	}
	for e := err; e != nil; e = errors.Unwrap(e) {
		d.Chain = append(d.Chain, fmt.Sprintf("%T: %v", e, e))
	}
	d.fillPG(err)
	return d
}

func (d *ErrorDump) fillPG(err error) {
	var pgxErr *pgconn.PgError
	if errors.As(err, &pgxErr) {
		d.PGCode, d.PGConstraint, d.PGTable = pgxErr.Code, pgxErr.ConstraintName, pgxErr.TableName
		d.PGColumn, d.PGDetail, d.PGMessage = pgxErr.ColumnName, pgxErr.Detail, pgxErr.Message
		return
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		d.PGCode, d.PGConstraint, d.PGTable = string(pqErr.Code), pqErr.Constraint, pqErr.Table
		d.PGColumn, d.PGDetail, d.PGMessage = pqErr.Column, pqErr.Detail, pqErr.Message
	}
}

// Fields returns the non-empty parts of the dump keyed for the logger. The
// chain is included only when withChain is set since it can be long.
func (d ErrorDump) Fields(withChain bool) map[string]any {
	fields := map[string]any{"error": d.TopMessage}
	if d.Code != "" {
		fields["error_code"] = d.Code
	}
	if withChain && len(d.Chain) > 0 {
		fields["error_chain"] = d.Chain
	}
	for key, val := range map[string]string{
		"pg_code":       d.PGCode,
		"pg_constraint": d.PGConstraint,
		"pg_table":      d.PGTable,
		"pg_column":     d.PGColumn,
		"pg_detail":     d.PGDetail,
		"pg_message":    d.PGMessage,
	} {
		if val != "" {
			fields[key] = val
		}
	}
	return fields
}
