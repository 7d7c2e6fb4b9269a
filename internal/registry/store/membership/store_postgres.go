package membership

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"hokhau/internal/registry/models"
	"hokhau/internal/registry/store"
	txcontext "hokhau/pkg/platform/tx"
)

// PostgresStore persists the resident→household relation. Pure I/O; the
// one-membership-per-resident rule is enforced by the ledger service and
// backstopped by the primary key on resident_code.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (s *PostgresStore) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

func (s *PostgresStore) Insert(ctx context.Context, m models.Membership) error {
	query := `
		INSERT INTO memberships (resident_code, household_id, relationship, joined_on)
		VALUES ($1, $2, $3, $4)
	`
	_, err := s.execer(ctx).ExecContext(ctx, query,
		m.ResidentCode, m.HouseholdID, m.Relationship, m.JoinedOn)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return store.ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("insert membership: %w", err)
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, residentCode string) error {
	res, err := s.execer(ctx).ExecContext(ctx,
		`DELETE FROM memberships WHERE resident_code = $1`, residentCode)
	if err != nil {
		return fmt.Errorf("delete membership: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete membership: %w", err)
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) GetByResident(ctx context.Context, residentCode string) (*models.Membership, error) {
	query := `
		SELECT resident_code, household_id, relationship, joined_on
		FROM memberships
		WHERE resident_code = $1
	`
	var m models.Membership
	err := s.execer(ctx).QueryRowContext(ctx, query, residentCode).Scan(
		&m.ResidentCode, &m.HouseholdID, &m.Relationship, &m.JoinedOn)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get membership: %w", err)
	}
	return &m, nil
}

// ListByHousehold returns memberships ordered by join date then resident
// code, the order the headship resolver depends on.
func (s *PostgresStore) ListByHousehold(ctx context.Context, householdID int64) ([]models.Membership, error) {
	query := `
		SELECT resident_code, household_id, relationship, joined_on
		FROM memberships
		WHERE household_id = $1
		ORDER BY joined_on ASC, resident_code ASC
	`
	rows, err := s.execer(ctx).QueryContext(ctx, query, householdID)
	if err != nil {
		return nil, fmt.Errorf("list memberships: %w", err)
	}
	defer rows.Close()

	var members []models.Membership
	for rows.Next() {
		var m models.Membership
		if err := rows.Scan(&m.ResidentCode, &m.HouseholdID, &m.Relationship, &m.JoinedOn); err != nil {
			return nil, fmt.Errorf("scan membership: %w", err)
		}
		members = append(members, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate memberships: %w", err)
	}
	return members, nil
}

func (s *PostgresStore) CountByHousehold(ctx context.Context, householdID int64) (int, error) {
	var count int
	err := s.execer(ctx).QueryRowContext(ctx,
		`SELECT COUNT(*) FROM memberships WHERE household_id = $1`, householdID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count memberships: %w", err)
	}
	return count, nil
}

// UpdateRelationship relabels a membership. Only the headship promotion path
// uses it; from the domain's point of view this is the remove+add pair of a
// relabel collapsed into one statement.
func (s *PostgresStore) UpdateRelationship(ctx context.Context, residentCode, relationship string) error {
	res, err := s.execer(ctx).ExecContext(ctx,
		`UPDATE memberships SET relationship = $2 WHERE resident_code = $1`,
		residentCode, relationship)
	if err != nil {
		return fmt.Errorf("update membership relationship: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update membership relationship: %w", err)
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}
