package db

import (
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrNotFound indicates no rows matched the query.
	ErrNotFound = errors.New("not found")
	// ErrConflict indicates a uniqueness or integrity conflict.
	ErrConflict = errors.New("conflict")
	// ErrValidation indicates inputs failed validation.
	ErrValidation = errors.New("validation error")
)

// mapPgErr maps common pg errors to domain errors, keeping the original in the chain.
func mapPgErr(err error) error {
	if err == nil {
		return nil
	}
	var pe *pgconn.PgError
	if errors.As(err, &pe) {
		switch pe.Code {
		case "23505": // unique_violation
			return errors.Join(ErrConflict, err)
		case "23503", "23502", "22001", "22003": // fk, not null, too long, out of range
			return errors.Join(ErrValidation, err)
		}
	}
	return err
}

// mapRowErr translates not found cases to ErrNotFound.
func mapRowErr(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return mapPgErr(err)
}

// lookup turns a QueryRow error into (found, err) for FindByKey-style reads.
func lookup(err error) (bool, error) {
	if err == nil {
		return true, nil
	}
	if err = mapRowErr(err); errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return false, err
}
