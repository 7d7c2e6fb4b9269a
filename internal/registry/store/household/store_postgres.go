package household

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"hokhau/internal/registry/models"
	"hokhau/internal/registry/store"
	txcontext "hokhau/pkg/platform/tx"
)

// PostgresStore persists households. Pure I/O; the head invariant is enforced
// by the household service, not here.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *PostgresStore) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

// Create inserts a household row and returns the assigned identifier.
func (s *PostgresStore) Create(ctx context.Context, h *models.Household) (int64, error) {
	query := `
		INSERT INTO households (head_code, address_line, ward, district, registered_on)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`
	var id int64
	err := s.execer(ctx).QueryRowContext(ctx, query,
		h.HeadCode, h.AddressLine, h.Ward, h.District, h.RegisteredOn,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert household: %w", err)
	}
	return id, nil
}

// Get returns a household by id, or store.ErrNotFound.
func (s *PostgresStore) Get(ctx context.Context, id int64) (*models.Household, error) {
	query := `
		SELECT id, head_code, address_line, ward, district, registered_on
		FROM households
		WHERE id = $1
	`
	var h models.Household
	err := s.execer(ctx).QueryRowContext(ctx, query, id).Scan(
		&h.ID, &h.HeadCode, &h.AddressLine, &h.Ward, &h.District, &h.RegisteredOn,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get household: %w", err)
	}
	return &h, nil
}

// SetHead updates the head reference; nil clears it.
func (s *PostgresStore) SetHead(ctx context.Context, id int64, headCode *string) error {
	res, err := s.execer(ctx).ExecContext(ctx,
		`UPDATE households SET head_code = $2 WHERE id = $1`, id, headCode)
	if err != nil {
		return fmt.Errorf("set household head: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("set household head: %w", err)
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

// Delete removes the household row.
func (s *PostgresStore) Delete(ctx context.Context, id int64) error {
	res, err := s.execer(ctx).ExecContext(ctx, `DELETE FROM households WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete household: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete household: %w", err)
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

// LockForUpdate takes a row lock on the household so concurrent separations
// departing from it serialize. Must run inside a transaction.
func (s *PostgresStore) LockForUpdate(ctx context.Context, id int64) error {
	var locked int64
	err := s.execer(ctx).QueryRowContext(ctx,
		`SELECT id FROM households WHERE id = $1 FOR UPDATE`, id).Scan(&locked)
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("lock household: %w", err)
	}
	return nil
}
