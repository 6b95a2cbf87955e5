package store

import (
	"errors"
	"fmt"

	"github.com/asharando/rideplan_core/internal/db"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrNotFound is returned when a plan, custom plan or override row does not exist
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a rider already customized the base plan
	ErrConflict = errors.New("already exists")
	// ErrForeignStop is returned when an override targets a stop of another base plan
	ErrForeignStop = errors.New("stop does not belong to the base plan")
)

const uniqueViolation = "23505"

// Store persists base plans, custom plans and their override rows in Postgres
type Store struct {
	db db.Querier
}

// New creates a store over q
func New(q db.Querier) *Store {
	return &Store{db: q}
}

// notFound maps pgx.ErrNoRows to ErrNotFound and wraps everything else
func notFound(err error, what string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return fmt.Errorf("failed to load %s: %w", what, err)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
