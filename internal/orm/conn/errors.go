package conn

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
)

var (
	// ErrNotOpen is returned when a statement runs before Open
	ErrNotOpen = errors.New("connection is not open")

	// ErrNoTransaction is returned by transaction operations outside a transaction
	ErrNoTransaction = errors.New("no active transaction")

	// ErrTransactionActive is returned when a second top-level transaction is begun
	ErrTransactionActive = errors.New("transaction already active")

	// ErrUnboundParameter is returned when a command names a parameter the query lacks
	ErrUnboundParameter = errors.New("unbound parameter")

	// ErrUniqueViolation is returned when a unique constraint is violated
	ErrUniqueViolation = errors.New("unique constraint violation")

	// ErrForeignKeyViolation is returned when a foreign key constraint is violated
	ErrForeignKeyViolation = errors.New("foreign key constraint violation")

	// ErrNotNullViolation is returned when a NOT NULL constraint is violated
	ErrNotNullViolation = errors.New("not null constraint violation")

	// ErrCheckViolation is returned when a check constraint is violated
	ErrCheckViolation = errors.New("check constraint violation")
)

// TranslateError maps driver specific constraint errors onto the sentinels
// above. The driver error stays in the chain for errors.As.
func TranslateError(err error) error {
	if err == nil || errors.Is(err, sql.ErrNoRows) {
		return err
	}

	// PostgreSQL (pgx)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return wrapSQLState(pgErr.Code, err)
	}

	// PostgreSQL (lib/pq)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return wrapSQLState(string(pqErr.Code), err)
	}

	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		switch liteErr.ExtendedCode {
		case sqlite3.ErrConstraintUnique, sqlite3.ErrConstraintPrimaryKey:
			return fmt.Errorf("%w: %w", ErrUniqueViolation, err)
		case sqlite3.ErrConstraintForeignKey:
			return fmt.Errorf("%w: %w", ErrForeignKeyViolation, err)
		case sqlite3.ErrConstraintNotNull:
			return fmt.Errorf("%w: %w", ErrNotNullViolation, err)
		case sqlite3.ErrConstraintCheck:
			return fmt.Errorf("%w: %w", ErrCheckViolation, err)
		}
		return err
	}

	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		switch myErr.Number {
		case 1062: // ER_DUP_ENTRY
			return fmt.Errorf("%w: %w", ErrUniqueViolation, err)
		case 1451, 1452: // ER_ROW_IS_REFERENCED_2, ER_NO_REFERENCED_ROW_2
			return fmt.Errorf("%w: %w", ErrForeignKeyViolation, err)
		case 1048: // ER_BAD_NULL_ERROR
			return fmt.Errorf("%w: %w", ErrNotNullViolation, err)
		case 3819: // ER_CHECK_CONSTRAINT_VIOLATED
			return fmt.Errorf("%w: %w", ErrCheckViolation, err)
		}
	}

	return err
}

func wrapSQLState(code string, err error) error {
	switch code {
	case "23505": // unique_violation
		return fmt.Errorf("%w: %w", ErrUniqueViolation, err)
	case "23503": // foreign_key_violation
		return fmt.Errorf("%w: %w", ErrForeignKeyViolation, err)
	case "23514": // check_violation
		return fmt.Errorf("%w: %w", ErrCheckViolation, err)
	case "23502": // not_null_violation
		return fmt.Errorf("%w: %w", ErrNotNullViolation, err)
	}
	return err
}

// IsUniqueViolation returns true if the error is ErrUniqueViolation
func IsUniqueViolation(err error) bool {
	return errors.Is(err, ErrUniqueViolation)
}

// IsForeignKeyViolation returns true if the error is ErrForeignKeyViolation
func IsForeignKeyViolation(err error) bool {
	return errors.Is(err, ErrForeignKeyViolation)
}
