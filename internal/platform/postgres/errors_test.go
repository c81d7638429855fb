package postgres

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
)

func TestWrapErrorClassification(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		notFound    bool
		conflict    bool
		unavailable bool
	}{
		{name: "no rows", err: pgx.ErrNoRows, notFound: true},
		{name: "unique violation", err: &pgconn.PgError{Code: codeUniqueViolation}, conflict: true},
		{name: "check violation", err: &pgconn.PgError{Code: codeCheckViolation}, conflict: true},
		{name: "serialization failure", err: &pgconn.PgError{Code: codeSerializationFailure}, conflict: true},
		{name: "deadlock", err: &pgconn.PgError{Code: codeDeadlockDetected}, conflict: true},
		{name: "foreign key", err: &pgconn.PgError{Code: codeForeignKeyViolation}, notFound: true},
		{name: "other", err: errors.New("boom")},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			wrapped := WrapError("op", tc.err)
			var repoErr *Error
			if !errors.As(wrapped, &repoErr) {
				t.Fatalf("expected *Error, got %T", wrapped)
			}
			if repoErr.IsNotFound() != tc.notFound {
				t.Fatalf("IsNotFound = %v, want %v", repoErr.IsNotFound(), tc.notFound)
			}
			if repoErr.IsConflict() != tc.conflict {
				t.Fatalf("IsConflict = %v, want %v", repoErr.IsConflict(), tc.conflict)
			}
			if repoErr.IsUnavailable() != tc.unavailable {
				t.Fatalf("IsUnavailable = %v, want %v", repoErr.IsUnavailable(), tc.unavailable)
			}
			if !errors.Is(wrapped, tc.err) {
				t.Fatalf("expected wrapped error to unwrap to original")
			}
		})
	}
}

func TestWrapErrorPassThrough(t *testing.T) {
	if WrapError("op", nil) != nil {
		t.Fatalf("expected nil for nil error")
	}
	ctxErr := fmt.Errorf("query: %w", context.Canceled)
	if got := WrapError("op", ctxErr); got != ctxErr {
		t.Fatalf("expected context errors to pass through, got %v", got)
	}
	existing := Conflict("inner", "already voided")
	if got := WrapError("outer", existing); got != existing {
		t.Fatalf("expected existing repository error to pass through")
	}
}

func TestInTxWithoutTransaction(t *testing.T) {
	if InTx(context.Background()) {
		t.Fatalf("expected background context to carry no transaction")
	}
}
