package db

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"

	"rmcerp.io/internal/apperr"
)

// SQLSTATE codes the gateway tags.
const (
	codeUniqueViolation     = "23505"
	codeForeignKeyViolation = "23503"
	codeNotNullViolation    = "23502"
	codeCheckViolation      = "23514"
	codeInvalidText         = "22P02"
	codeInvalidDatetime     = "22007"
	codeDatetimeOverflow    = "22008"
	codeNumericOverflow     = "22003"
)

// translate converts driver failures into tagged failures. Errors that are
// already tagged pass through untouched.
func translate(err error) error {
	if err == nil {
		return nil
	}
	var tagged *apperr.Error
	if errors.As(err, &tagged) {
		return err
	}
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return apperr.Unclassified(err)
	}
	switch pgErr.Code {
	case codeUniqueViolation:
		return apperr.UniqueViolation(err)
	case codeForeignKeyViolation:
		return apperr.ReferenceViolation(err)
	case codeNotNullViolation:
		return apperr.Validation(pgErr.Message, apperr.FieldError{Field: pgErr.ColumnName, Message: "is required"})
	case codeCheckViolation:
		return apperr.Validation(pgErr.Message, apperr.FieldError{Field: pgErr.ConstraintName, Message: "violates a check constraint"})
	case codeInvalidText, codeInvalidDatetime, codeDatetimeOverflow, codeNumericOverflow:
		return apperr.Validation(pgErr.Message)
	}
	return apperr.Unclassified(err)
}
